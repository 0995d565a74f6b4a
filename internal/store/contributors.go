package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"

	"github.com/lib/pq"

	"github.com/crisref/harvest-core/internal/core"
)

// =============================================================================
// CONTRIBUTORS
// =============================================================================

// GetOrCreateContributorByIdentifier resolves a contributor by
// (source, source_identifier), inserting it when absent.
func (s *Store) GetOrCreateContributorByIdentifier(ctx context.Context, source, sourceIdentifier, name, firstName, lastName string) (*core.Contributor, error) {
	existing, err := s.contributorByIdentifier(ctx, source, sourceIdentifier)
	if err != nil || existing != nil {
		return existing, err
	}

	contributor := &core.Contributor{
		Source:                 source,
		SourceIdentifier:       sourceIdentifier,
		Name:                   name,
		FirstName:              firstName,
		LastName:               lastName,
		NameVariants:           []string{},
		StructuredNameVariants: []core.StructuredName{},
		Identifiers:            []core.ExternalPersonIdentifier{},
	}
	if err := s.insertContributor(ctx, contributor); err != nil {
		if isUniqueViolation(err) {
			return s.contributorByIdentifier(ctx, source, sourceIdentifier)
		}
		return nil, err
	}
	return contributor, nil
}

// GetOrCreateContributorByName resolves a contributor carrying no
// source identifier by (source, name), inserting it when absent.
func (s *Store) GetOrCreateContributorByName(ctx context.Context, source, name string) (*core.Contributor, error) {
	existing, err := s.contributorByName(ctx, source, name)
	if err != nil || existing != nil {
		return existing, err
	}

	contributor := &core.Contributor{
		Source:                 source,
		Name:                   name,
		NameVariants:           []string{},
		StructuredNameVariants: []core.StructuredName{},
		Identifiers:            []core.ExternalPersonIdentifier{},
	}
	if err := s.insertContributor(ctx, contributor); err != nil {
		if isUniqueViolation(err) {
			return s.contributorByName(ctx, source, name)
		}
		return nil, err
	}
	return contributor, nil
}

// UpdateContributorNames overwrites the display and structured names
// when the source reports different ones, keeping the previous values
// as variants.
func (s *Store) UpdateContributorNames(ctx context.Context, contributor *core.Contributor, name, firstName, lastName string) error {
	changed := false

	if name != "" && contributor.Name != name {
		if !containsVariant(contributor.NameVariants, contributor.Name) {
			contributor.NameVariants = append(contributor.NameVariants, contributor.Name)
		}
		contributor.Name = name
		changed = true
	}

	if contributor.FirstName != firstName || contributor.LastName != lastName {
		if contributor.FirstName != "" || contributor.LastName != "" {
			old := core.StructuredName{FirstName: contributor.FirstName, LastName: contributor.LastName}
			if !containsStructuredVariant(contributor.StructuredNameVariants, old) {
				contributor.StructuredNameVariants = append(contributor.StructuredNameVariants, old)
			}
		}
		contributor.FirstName = firstName
		contributor.LastName = lastName
		changed = true
	}

	if !changed {
		return nil
	}

	structured, err := json.Marshal(contributor.StructuredNameVariants)
	if err != nil {
		return fmt.Errorf("failed to marshal structured name variants: %w", err)
	}
	_, err = s.db.ExecContext(ctx, `
		UPDATE contributors
		SET name = $1, first_name = $2, last_name = $3, name_variants = $4,
		    structured_name_variants = $5, updated_at = NOW()
		WHERE id = $6
	`, contributor.Name, contributor.FirstName, contributor.LastName,
		pq.Array(contributor.NameVariants), structured, contributor.ID)
	if err != nil {
		return fmt.Errorf("failed to update contributor names: %w", err)
	}
	return nil
}

// UpdateContributorExternalIdentifiers reconciles the stored external
// identifiers with the incoming set: stale ones are removed, new ones
// added, unknown types dropped.
func (s *Store) UpdateContributorExternalIdentifiers(ctx context.Context, contributor *core.Contributor, incoming []core.ExternalPersonIdentifier, validTypes []string) error {
	valid := make([]core.ExternalPersonIdentifier, 0, len(incoming))
	for _, id := range incoming {
		for _, t := range validTypes {
			if id.Type == t {
				valid = append(valid, id)
				break
			}
		}
	}

	type key struct{ Type, Value string }
	existing := make(map[key]core.ExternalPersonIdentifier, len(contributor.Identifiers))
	for _, id := range contributor.Identifiers {
		existing[key{id.Type, id.Value}] = id
	}
	wanted := make(map[key]bool, len(valid))
	for _, id := range valid {
		wanted[key{id.Type, id.Value}] = true
	}

	for k, id := range existing {
		if wanted[k] {
			continue
		}
		_, err := s.db.ExecContext(ctx, `
			DELETE FROM contributor_identifiers WHERE contributor_id = $1 AND type = $2 AND value = $3
		`, contributor.ID, id.Type, id.Value)
		if err != nil {
			return fmt.Errorf("failed to remove external identifier %s: %w", id.Type, err)
		}
	}

	final := make([]core.ExternalPersonIdentifier, 0, len(valid))
	for _, id := range valid {
		final = append(final, id)
		if _, ok := existing[key{id.Type, id.Value}]; ok {
			continue
		}
		_, err := s.db.ExecContext(ctx, `
			INSERT INTO contributor_identifiers (contributor_id, type, value, source)
			VALUES ($1, $2, $3, $4)
			ON CONFLICT (contributor_id, type, value) DO NOTHING
		`, contributor.ID, id.Type, id.Value, contributor.Source)
		if err != nil {
			return fmt.Errorf("failed to add external identifier %s: %w", id.Type, err)
		}
	}
	contributor.Identifiers = final
	return nil
}

func (s *Store) contributorByIdentifier(ctx context.Context, source, sourceIdentifier string) (*core.Contributor, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, source, source_identifier, name, first_name, last_name, name_variants, structured_name_variants
		FROM contributors WHERE source = $1 AND source_identifier = $2
	`, source, sourceIdentifier)
	return s.scanContributor(ctx, row)
}

func (s *Store) contributorByName(ctx context.Context, source, name string) (*core.Contributor, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, source, source_identifier, name, first_name, last_name, name_variants, structured_name_variants
		FROM contributors WHERE source = $1 AND name = $2 AND source_identifier IS NULL
	`, source, name)
	return s.scanContributor(ctx, row)
}

func (s *Store) scanContributor(ctx context.Context, row *sql.Row) (*core.Contributor, error) {
	c := &core.Contributor{}
	var sourceIdentifier sql.NullString
	var structured []byte
	var variants []string
	err := row.Scan(&c.ID, &c.Source, &sourceIdentifier, &c.Name, &c.FirstName, &c.LastName,
		pq.Array(&variants), &structured)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get contributor: %w", err)
	}
	c.SourceIdentifier = sourceIdentifier.String
	c.NameVariants = variants
	if c.NameVariants == nil {
		c.NameVariants = []string{}
	}
	if err := json.Unmarshal(structured, &c.StructuredNameVariants); err != nil {
		return nil, fmt.Errorf("failed to unmarshal structured name variants: %w", err)
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT id, type, value, source FROM contributor_identifiers WHERE contributor_id = $1 ORDER BY id
	`, c.ID)
	if err != nil {
		return nil, fmt.Errorf("failed to get contributor identifiers: %w", err)
	}
	defer rows.Close()
	c.Identifiers = []core.ExternalPersonIdentifier{}
	for rows.Next() {
		var id core.ExternalPersonIdentifier
		if err := rows.Scan(&id.ID, &id.Type, &id.Value, &id.Source); err != nil {
			return nil, fmt.Errorf("failed to scan contributor identifier: %w", err)
		}
		c.Identifiers = append(c.Identifiers, id)
	}
	return c, rows.Err()
}

func containsVariant(variants []string, name string) bool {
	for _, v := range variants {
		if v == name {
			return true
		}
	}
	return false
}

func containsStructuredVariant(variants []core.StructuredName, name core.StructuredName) bool {
	for _, v := range variants {
		if v == name {
			return true
		}
	}
	return false
}

func (s *Store) insertContributor(ctx context.Context, c *core.Contributor) error {
	structured, err := json.Marshal(c.StructuredNameVariants)
	if err != nil {
		return fmt.Errorf("failed to marshal structured name variants: %w", err)
	}
	var sourceIdentifier any
	if c.SourceIdentifier != "" {
		sourceIdentifier = c.SourceIdentifier
	}
	err = s.db.QueryRowContext(ctx, `
		INSERT INTO contributors (source, source_identifier, name, first_name, last_name, name_variants, structured_name_variants)
		VALUES ($1, $2, $3, $4, $5, $6, $7) RETURNING id
	`, c.Source, sourceIdentifier, c.Name, c.FirstName, c.LastName,
		pq.Array(c.NameVariants), structured).Scan(&c.ID)
	if err != nil {
		return err
	}
	return nil
}
