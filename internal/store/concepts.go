package store

import (
	"context"
	"database/sql"
	"fmt"
	"sync"

	"github.com/lib/pq"
	"golang.org/x/sync/errgroup"

	"github.com/crisref/harvest-core/internal/core"
)

// =============================================================================
// CONCEPTS
// =============================================================================

// Dereferencer resolves a concept URI into a concept carrying its
// labels. Implementations live outside the store.
type Dereferencer interface {
	Dereference(ctx context.Context, uri string) (*core.Concept, error)
}

// GetOrCreateConceptByURI resolves a concept by URI. Unknown URIs are
// dereferenced through deref; when dereferencing fails the concept is
// stored as a stub carrying the URI and the fallback label, so a later
// run can complete it.
func (s *Store) GetOrCreateConceptByURI(ctx context.Context, uri string, fallback *core.Label, deref Dereferencer) (*core.Concept, error) {
	existing, err := s.conceptByURI(ctx, uri)
	if err != nil || existing != nil {
		return existing, err
	}

	concept := &core.Concept{URI: uri}
	if deref != nil {
		resolved, derr := deref.Dereference(ctx, uri)
		if derr == nil && resolved != nil {
			concept = resolved
			concept.URI = uri
			concept.Dereferenced = true
		}
	}
	if !concept.Dereferenced && fallback != nil {
		concept.AddLabel(fallback.Value, fallback.Language, fallback.Preferred)
	}

	if err := s.insertConcept(ctx, concept); err != nil {
		if isUniqueViolation(err) {
			return s.conceptByURI(ctx, uri)
		}
		return nil, err
	}
	return concept, nil
}

// maxConceptDereferencing bounds the concurrent dereferencing calls
// issued for one batch of concept URIs.
const maxConceptDereferencing = 5

// GetOrCreateConceptsByURI resolves a batch of concept URIs with a
// single lookup query, dereferencing the misses concurrently. The
// fallbacks map supplies a per-URI label for stubs.
func (s *Store) GetOrCreateConceptsByURI(ctx context.Context, uris []string, fallbacks map[string]*core.Label, deref Dereferencer) (map[string]*core.Concept, error) {
	resolved := make(map[string]*core.Concept, len(uris))
	if len(uris) == 0 {
		return resolved, nil
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT uri FROM concepts WHERE uri = ANY($1)
	`, pq.Array(uris))
	if err != nil {
		return nil, fmt.Errorf("failed to look up concepts: %w", err)
	}
	var known []string
	for rows.Next() {
		var uri string
		if err := rows.Scan(&uri); err != nil {
			rows.Close()
			return nil, fmt.Errorf("failed to scan concept uri: %w", err)
		}
		known = append(known, uri)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, err
	}
	for _, uri := range known {
		full, err := s.conceptByURI(ctx, uri)
		if err != nil {
			return nil, err
		}
		resolved[uri] = full
	}

	var mu sync.Mutex
	group, groupCtx := errgroup.WithContext(ctx)
	group.SetLimit(maxConceptDereferencing)
	for _, uri := range uris {
		if _, ok := resolved[uri]; ok {
			continue
		}
		uri := uri
		group.Go(func() error {
			concept, err := s.GetOrCreateConceptByURI(groupCtx, uri, fallbacks[uri], deref)
			if err != nil {
				return err
			}
			mu.Lock()
			resolved[uri] = concept
			mu.Unlock()
			return nil
		})
	}
	if err := group.Wait(); err != nil {
		return nil, err
	}
	return resolved, nil
}

// GetOrCreateConceptByLabel resolves a URI-less concept by one of its
// labels, inserting a new concept when no label matches.
func (s *Store) GetOrCreateConceptByLabel(ctx context.Context, value, language string) (*core.Concept, error) {
	existing, err := s.conceptByLabel(ctx, value, language)
	if err != nil || existing != nil {
		return existing, err
	}

	concept := &core.Concept{}
	concept.AddLabel(value, language, true)
	if err := s.insertConcept(ctx, concept); err != nil {
		if isUniqueViolation(err) {
			return s.conceptByLabel(ctx, value, language)
		}
		return nil, err
	}
	return concept, nil
}

func (s *Store) conceptByURI(ctx context.Context, uri string) (*core.Concept, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, uri, dereferenced FROM concepts WHERE uri = $1
	`, uri)
	return s.scanConcept(ctx, row)
}

func (s *Store) conceptByLabel(ctx context.Context, value, language string) (*core.Concept, error) {
	var langClause string
	args := []any{value}
	if language == "" {
		langClause = "cl.language IS NULL"
	} else {
		langClause = "cl.language = $2"
		args = append(args, language)
	}
	row := s.db.QueryRowContext(ctx, `
		SELECT c.id, c.uri, c.dereferenced
		FROM concepts c JOIN concept_labels cl ON cl.concept_id = c.id
		WHERE c.uri IS NULL AND cl.value = $1 AND `+langClause+`
		ORDER BY c.id LIMIT 1
	`, args...)
	return s.scanConcept(ctx, row)
}

func (s *Store) scanConcept(ctx context.Context, row *sql.Row) (*core.Concept, error) {
	c := &core.Concept{}
	var uri sql.NullString
	err := row.Scan(&c.ID, &uri, &c.Dereferenced)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get concept: %w", err)
	}
	c.URI = uri.String

	rows, err := s.db.QueryContext(ctx, `
		SELECT value, language, preferred FROM concept_labels WHERE concept_id = $1 ORDER BY id
	`, c.ID)
	if err != nil {
		return nil, fmt.Errorf("failed to get concept labels: %w", err)
	}
	defer rows.Close()
	for rows.Next() {
		var value string
		var language sql.NullString
		var preferred bool
		if err := rows.Scan(&value, &language, &preferred); err != nil {
			return nil, fmt.Errorf("failed to scan concept label: %w", err)
		}
		c.Labels = append(c.Labels, &core.Label{Value: value, Language: language.String, Preferred: preferred})
	}
	return c, rows.Err()
}

func (s *Store) insertConcept(ctx context.Context, c *core.Concept) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	var uri any
	if c.URI != "" {
		uri = c.URI
	}
	err = tx.QueryRowContext(ctx, `
		INSERT INTO concepts (uri, dereferenced) VALUES ($1, $2) RETURNING id
	`, uri, c.Dereferenced).Scan(&c.ID)
	if err != nil {
		return err
	}
	for _, label := range c.Labels {
		var language any
		if label.Language != "" {
			language = label.Language
		}
		_, err = tx.ExecContext(ctx, `
			INSERT INTO concept_labels (concept_id, value, language, preferred) VALUES ($1, $2, $3, $4)
		`, c.ID, label.Value, language, label.Preferred)
		if err != nil {
			return fmt.Errorf("failed to insert concept label: %w", err)
		}
	}
	return tx.Commit()
}
