package store

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/lib/pq"

	"github.com/crisref/harvest-core/internal/core"
)

// =============================================================================
// DOCUMENT TYPES
// =============================================================================

// GetOrCreateDocumentType resolves a document type by URI.
func (s *Store) GetOrCreateDocumentType(ctx context.Context, uri, label string) (*core.DocumentType, error) {
	existing, err := s.documentTypeByURI(ctx, uri)
	if err != nil || existing != nil {
		return existing, err
	}

	dt := &core.DocumentType{URI: uri, Label: label}
	err = s.db.QueryRowContext(ctx, `
		INSERT INTO document_types (uri, label) VALUES ($1, $2) RETURNING id
	`, uri, label).Scan(&dt.ID)
	if err != nil {
		if isUniqueViolation(err) {
			return s.documentTypeByURI(ctx, uri)
		}
		return nil, fmt.Errorf("failed to insert document type: %w", err)
	}
	return dt, nil
}

func (s *Store) documentTypeByURI(ctx context.Context, uri string) (*core.DocumentType, error) {
	dt := &core.DocumentType{}
	err := s.db.QueryRowContext(ctx, `
		SELECT id, uri, label FROM document_types WHERE uri = $1
	`, uri).Scan(&dt.ID, &dt.URI, &dt.Label)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get document type: %w", err)
	}
	return dt, nil
}

// =============================================================================
// ORGANIZATIONS
// =============================================================================

// GetOrCreateOrganization resolves an organization by
// (source, source_identifier), falling back to a match on any shared
// external identifier. A matched row absorbs the incoming identifiers
// and stays canonical.
func (s *Store) GetOrCreateOrganization(ctx context.Context, org *core.Organization) (*core.Organization, error) {
	existing, err := s.organizationBySourceIdentifier(ctx, org.Source, org.SourceIdentifier)
	if err != nil {
		return nil, err
	}
	if existing == nil {
		existing, err = s.organizationByAnyIdentifier(ctx, org.Identifiers)
		if err != nil {
			return nil, err
		}
	}
	if existing != nil {
		if err := s.extendOrganizationIdentifiers(ctx, existing, org); err != nil {
			return nil, err
		}
		return existing, nil
	}

	if err := s.insertOrganization(ctx, org); err != nil {
		if isUniqueViolation(err) {
			return s.organizationBySourceIdentifier(ctx, org.Source, org.SourceIdentifier)
		}
		return nil, err
	}
	return org, nil
}

func (s *Store) organizationBySourceIdentifier(ctx context.Context, source, sourceIdentifier string) (*core.Organization, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, source, source_identifier, name, type FROM organizations
		WHERE source = $1 AND source_identifier = $2
	`, source, sourceIdentifier)
	return s.scanOrganization(ctx, row)
}

func (s *Store) organizationByAnyIdentifier(ctx context.Context, identifiers []core.OrganizationIdentifier) (*core.Organization, error) {
	for _, id := range identifiers {
		row := s.db.QueryRowContext(ctx, `
			SELECT o.id, o.source, o.source_identifier, o.name, o.type
			FROM organizations o JOIN organization_identifiers oi ON oi.organization_id = o.id
			WHERE oi.type = $1 AND oi.value = $2
			ORDER BY o.id LIMIT 1
		`, id.Type, id.Value)
		org, err := s.scanOrganization(ctx, row)
		if err != nil || org != nil {
			return org, err
		}
	}
	return nil, nil
}

func (s *Store) scanOrganization(ctx context.Context, row *sql.Row) (*core.Organization, error) {
	org := &core.Organization{}
	err := row.Scan(&org.ID, &org.Source, &org.SourceIdentifier, &org.Name, &org.Type)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get organization: %w", err)
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT type, value FROM organization_identifiers WHERE organization_id = $1 ORDER BY id
	`, org.ID)
	if err != nil {
		return nil, fmt.Errorf("failed to get organization identifiers: %w", err)
	}
	defer rows.Close()
	for rows.Next() {
		var id core.OrganizationIdentifier
		if err := rows.Scan(&id.Type, &id.Value); err != nil {
			return nil, fmt.Errorf("failed to scan organization identifier: %w", err)
		}
		org.Identifiers = append(org.Identifiers, id)
	}
	return org, rows.Err()
}

func (s *Store) extendOrganizationIdentifiers(ctx context.Context, existing, incoming *core.Organization) error {
	added := existing.MergeIdentifiers(incoming)
	for _, id := range added {
		_, err := s.db.ExecContext(ctx, `
			INSERT INTO organization_identifiers (organization_id, type, value) VALUES ($1, $2, $3)
			ON CONFLICT (organization_id, type, value) DO NOTHING
		`, existing.ID, id.Type, id.Value)
		if err != nil {
			return fmt.Errorf("failed to extend organization identifiers: %w", err)
		}
	}
	return nil
}

func (s *Store) insertOrganization(ctx context.Context, org *core.Organization) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	err = tx.QueryRowContext(ctx, `
		INSERT INTO organizations (source, source_identifier, name, type) VALUES ($1, $2, $3, $4) RETURNING id
	`, org.Source, org.SourceIdentifier, org.Name, org.Type).Scan(&org.ID)
	if err != nil {
		return err
	}
	for _, id := range org.Identifiers {
		_, err = tx.ExecContext(ctx, `
			INSERT INTO organization_identifiers (organization_id, type, value) VALUES ($1, $2, $3)
		`, org.ID, id.Type, id.Value)
		if err != nil {
			return fmt.Errorf("failed to insert organization identifier: %w", err)
		}
	}
	return tx.Commit()
}

// =============================================================================
// JOURNALS AND ISSUES
// =============================================================================

// GetOrCreateJournal resolves a journal by ISSN overlap within the
// same source, falling back to (source, source_identifier). A matched
// journal absorbs missing titles and a missing publisher.
func (s *Store) GetOrCreateJournal(ctx context.Context, journal *core.Journal) (*core.Journal, error) {
	existing, err := s.journalByISSN(ctx, journal)
	if err != nil {
		return nil, err
	}
	if existing == nil {
		existing, err = s.journalBySourceIdentifier(ctx, journal.Source, journal.SourceIdentifier)
		if err != nil {
			return nil, err
		}
	}
	if existing != nil {
		if err := s.refreshJournal(ctx, existing, journal); err != nil {
			return nil, err
		}
		return existing, nil
	}

	err = s.db.QueryRowContext(ctx, `
		INSERT INTO journals (source, source_identifier, issn, eissn, issn_l, publisher, titles)
		VALUES ($1, $2, $3, $4, $5, $6, $7) RETURNING id
	`, journal.Source, journal.SourceIdentifier, pq.Array(journal.ISSN), pq.Array(journal.EISSN),
		journal.ISSNL, journal.Publisher, pq.Array(journal.Titles)).Scan(&journal.ID)
	if err != nil {
		if isUniqueViolation(err) {
			return s.journalBySourceIdentifier(ctx, journal.Source, journal.SourceIdentifier)
		}
		return nil, fmt.Errorf("failed to insert journal: %w", err)
	}
	return journal, nil
}

func (s *Store) journalByISSN(ctx context.Context, journal *core.Journal) (*core.Journal, error) {
	if len(journal.ISSN) == 0 && len(journal.EISSN) == 0 && journal.ISSNL == "" {
		return nil, nil
	}
	row := s.db.QueryRowContext(ctx, `
		SELECT id, source, source_identifier, issn, eissn, issn_l, publisher, titles
		FROM journals
		WHERE source = $1 AND (issn && $2 OR eissn && $3 OR (issn_l <> '' AND issn_l = $4))
		ORDER BY id LIMIT 1
	`, journal.Source, pq.Array(journal.ISSN), pq.Array(journal.EISSN), journal.ISSNL)
	return scanJournal(row)
}

func (s *Store) journalBySourceIdentifier(ctx context.Context, source, sourceIdentifier string) (*core.Journal, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, source, source_identifier, issn, eissn, issn_l, publisher, titles
		FROM journals WHERE source = $1 AND source_identifier = $2
	`, source, sourceIdentifier)
	return scanJournal(row)
}

func scanJournal(row *sql.Row) (*core.Journal, error) {
	j := &core.Journal{}
	var issn, eissn, titles []string
	err := row.Scan(&j.ID, &j.Source, &j.SourceIdentifier, pq.Array(&issn), pq.Array(&eissn),
		&j.ISSNL, &j.Publisher, pq.Array(&titles))
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get journal: %w", err)
	}
	j.ISSN = issn
	j.EISSN = eissn
	j.Titles = titles
	return j, nil
}

func (s *Store) refreshJournal(ctx context.Context, existing, incoming *core.Journal) error {
	changed := false
	for _, title := range incoming.Titles {
		if title == "" || containsVariant(existing.Titles, title) {
			continue
		}
		existing.Titles = append(existing.Titles, title)
		changed = true
	}
	if existing.Publisher == "" && incoming.Publisher != "" {
		existing.Publisher = incoming.Publisher
		changed = true
	}
	if !changed {
		return nil
	}
	_, err := s.db.ExecContext(ctx, `
		UPDATE journals SET titles = $1, publisher = $2 WHERE id = $3
	`, pq.Array(existing.Titles), existing.Publisher, existing.ID)
	if err != nil {
		return fmt.Errorf("failed to refresh journal: %w", err)
	}
	return nil
}

// GetOrCreateIssue resolves an issue by (source, source_identifier).
// The issue's journal must already be resolved.
func (s *Store) GetOrCreateIssue(ctx context.Context, issue *core.Issue) (*core.Issue, error) {
	if issue.Journal == nil || issue.Journal.ID == 0 {
		return nil, fmt.Errorf("issue %q has no resolved journal", issue.SourceIdentifier)
	}

	existing, err := s.issueBySourceIdentifier(ctx, issue.Source, issue.SourceIdentifier)
	if err != nil {
		return nil, err
	}
	if existing != nil {
		existing.Journal = issue.Journal
		if err := s.refreshIssue(ctx, existing, issue); err != nil {
			return nil, err
		}
		return existing, nil
	}

	err = s.db.QueryRowContext(ctx, `
		INSERT INTO issues (source, source_identifier, volume, number, rights, date, journal_id)
		VALUES ($1, $2, $3, $4, $5, $6, $7) RETURNING id
	`, issue.Source, issue.SourceIdentifier, issue.Volume, pq.Array(issue.Number),
		issue.Rights, issue.Date, issue.Journal.ID).Scan(&issue.ID)
	if err != nil {
		if isUniqueViolation(err) {
			return s.issueBySourceIdentifier(ctx, issue.Source, issue.SourceIdentifier)
		}
		return nil, fmt.Errorf("failed to insert issue: %w", err)
	}
	return issue, nil
}

func (s *Store) issueBySourceIdentifier(ctx context.Context, source, sourceIdentifier string) (*core.Issue, error) {
	i := &core.Issue{}
	var number []string
	var journalID int64
	err := s.db.QueryRowContext(ctx, `
		SELECT id, source, source_identifier, volume, number, rights, date, journal_id
		FROM issues WHERE source = $1 AND source_identifier = $2
	`, source, sourceIdentifier).Scan(&i.ID, &i.Source, &i.SourceIdentifier, &i.Volume,
		pq.Array(&number), &i.Rights, &i.Date, &journalID)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get issue: %w", err)
	}
	i.Number = number
	return i, nil
}

func (s *Store) refreshIssue(ctx context.Context, existing, incoming *core.Issue) error {
	changed := false
	if existing.Rights == "" && incoming.Rights != "" {
		existing.Rights = incoming.Rights
		changed = true
	}
	if existing.Date == "" && incoming.Date != "" {
		existing.Date = incoming.Date
		changed = true
	}
	if !changed {
		return nil
	}
	_, err := s.db.ExecContext(ctx, `
		UPDATE issues SET rights = $1, date = $2 WHERE id = $3
	`, existing.Rights, existing.Date, existing.ID)
	if err != nil {
		return fmt.Errorf("failed to refresh issue: %w", err)
	}
	return nil
}

// =============================================================================
// BOOKS
// =============================================================================

// GetOrCreateBook resolves a book by ISBN within the same source,
// falling back to the title. A book matched by ISBN under a different
// title keeps its stored title and records the incoming one as a
// variant.
func (s *Store) GetOrCreateBook(ctx context.Context, book *core.Book) (*core.Book, error) {
	existing, err := s.bookByISBN(ctx, book)
	if err != nil {
		return nil, err
	}
	if existing == nil && book.Title != "" {
		existing, err = s.bookByTitle(ctx, book.Source, book.Title)
		if err != nil {
			return nil, err
		}
	}
	if existing != nil {
		if err := s.refreshBook(ctx, existing, book); err != nil {
			return nil, err
		}
		return existing, nil
	}

	err = s.db.QueryRowContext(ctx, `
		INSERT INTO books (source, title, title_variants, isbn10, isbn13, publisher)
		VALUES ($1, $2, $3, $4, $5, $6) RETURNING id
	`, book.Source, book.Title, pq.Array(book.TitleVariants), book.ISBN10, book.ISBN13,
		book.Publisher).Scan(&book.ID)
	if err != nil {
		return nil, fmt.Errorf("failed to insert book: %w", err)
	}
	return book, nil
}

func (s *Store) bookByISBN(ctx context.Context, book *core.Book) (*core.Book, error) {
	if book.ISBN10 == "" && book.ISBN13 == "" {
		return nil, nil
	}
	row := s.db.QueryRowContext(ctx, `
		SELECT id, source, title, title_variants, isbn10, isbn13, publisher
		FROM books
		WHERE source = $1 AND ((isbn10 <> '' AND isbn10 = $2) OR (isbn13 <> '' AND isbn13 = $3))
		ORDER BY id LIMIT 1
	`, book.Source, book.ISBN10, book.ISBN13)
	return scanBook(row)
}

func (s *Store) bookByTitle(ctx context.Context, source, title string) (*core.Book, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, source, title, title_variants, isbn10, isbn13, publisher
		FROM books WHERE source = $1 AND title = $2
		ORDER BY id LIMIT 1
	`, source, title)
	return scanBook(row)
}

func scanBook(row *sql.Row) (*core.Book, error) {
	b := &core.Book{}
	var variants []string
	err := row.Scan(&b.ID, &b.Source, &b.Title, pq.Array(&variants), &b.ISBN10, &b.ISBN13, &b.Publisher)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get book: %w", err)
	}
	b.TitleVariants = variants
	return b, nil
}

func (s *Store) refreshBook(ctx context.Context, existing, incoming *core.Book) error {
	changed := false
	if incoming.Title != "" && incoming.Title != existing.Title && !containsVariant(existing.TitleVariants, incoming.Title) {
		existing.TitleVariants = append(existing.TitleVariants, incoming.Title)
		changed = true
	}
	if existing.ISBN10 == "" && incoming.ISBN10 != "" {
		existing.ISBN10 = incoming.ISBN10
		changed = true
	}
	if existing.ISBN13 == "" && incoming.ISBN13 != "" {
		existing.ISBN13 = incoming.ISBN13
		changed = true
	}
	if existing.Publisher == "" && incoming.Publisher != "" {
		existing.Publisher = incoming.Publisher
		changed = true
	}
	if !changed {
		return nil
	}
	_, err := s.db.ExecContext(ctx, `
		UPDATE books SET title_variants = $1, isbn10 = $2, isbn13 = $3, publisher = $4 WHERE id = $5
	`, pq.Array(existing.TitleVariants), existing.ISBN10, existing.ISBN13, existing.Publisher, existing.ID)
	if err != nil {
		return fmt.Errorf("failed to refresh book: %w", err)
	}
	return nil
}
