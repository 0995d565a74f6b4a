// Package store persists retrievals, harvestings, references and
// reference events in PostgreSQL, and reconciles the entities shared
// between references (contributors, concepts, organizations, journals,
// issues, books, document types).
//
// Reconciliation follows a lookup / insert / retry-once contract: on a
// unique constraint violation the insert is abandoned and the lookup
// repeated exactly once, because a concurrent writer must have won the
// race. A second conflict is a programming error.
package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/lib/pq"
)

// Store wraps the database handle.
type Store struct {
	db *sql.DB
}

// New creates a store and ensures the schema exists.
func New(db *sql.DB) (*Store, error) {
	if db == nil {
		return nil, errors.New("db is required")
	}
	s := &Store{db: db}
	if err := s.ensureSchema(); err != nil {
		return nil, fmt.Errorf("failed to ensure schema: %w", err)
	}
	return s, nil
}

// NewWithDB wraps an already bootstrapped database handle without
// touching the schema. Used by tests and by callers that manage the
// schema themselves.
func NewWithDB(db *sql.DB) *Store {
	return &Store{db: db}
}

// ensureSchema creates the required tables if they don't exist.
func (s *Store) ensureSchema() error {
	schema := `
	-- Persons whose references are harvested
	CREATE TABLE IF NOT EXISTS entities (
		id TEXT PRIMARY KEY,
		entity_type TEXT NOT NULL,
		name TEXT NOT NULL DEFAULT '',
		first_name TEXT NOT NULL DEFAULT '',
		last_name TEXT NOT NULL DEFAULT '',
		created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
		updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
	);

	CREATE TABLE IF NOT EXISTS entity_identifiers (
		id BIGSERIAL PRIMARY KEY,
		entity_id TEXT NOT NULL REFERENCES entities(id) ON DELETE CASCADE,
		type TEXT NOT NULL,
		value TEXT NOT NULL,
		UNIQUE (type, value)
	);
	CREATE INDEX IF NOT EXISTS idx_entity_identifiers_entity ON entity_identifiers(entity_id);

	-- One retrieval per orchestration cycle
	CREATE TABLE IF NOT EXISTS retrievals (
		id TEXT PRIMARY KEY,
		entity_id TEXT NOT NULL REFERENCES entities(id),
		event_types TEXT[] NOT NULL DEFAULT '{}',
		created_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
	);

	-- One harvesting per (retrieval, harvester)
	CREATE TABLE IF NOT EXISTS harvestings (
		id TEXT PRIMARY KEY,
		retrieval_id TEXT NOT NULL REFERENCES retrievals(id) ON DELETE CASCADE,
		harvester TEXT NOT NULL,
		state TEXT NOT NULL,
		created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
		updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
	);
	CREATE INDEX IF NOT EXISTS idx_harvestings_retrieval ON harvestings(retrieval_id);

	CREATE TABLE IF NOT EXISTS harvesting_errors (
		id BIGSERIAL PRIMARY KEY,
		harvesting_id TEXT NOT NULL REFERENCES harvestings(id) ON DELETE CASCADE,
		message TEXT NOT NULL,
		occurred_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
	);

	-- References are append-only: a new version is a new row
	CREATE TABLE IF NOT EXISTS "references" (
		id TEXT PRIMARY KEY,
		source_identifier TEXT NOT NULL,
		harvester TEXT NOT NULL,
		harvester_version TEXT NOT NULL,
		hash TEXT NOT NULL,
		version INT NOT NULL,
		data JSONB NOT NULL,
		created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
		UNIQUE (harvester, source_identifier, version)
	);
	CREATE INDEX IF NOT EXISTS idx_references_lookup ON "references"(harvester, source_identifier, version DESC);

	CREATE TABLE IF NOT EXISTS reference_events (
		id TEXT PRIMARY KEY,
		harvesting_id TEXT NOT NULL REFERENCES harvestings(id) ON DELETE CASCADE,
		reference_id TEXT NOT NULL REFERENCES "references"(id),
		source_identifier TEXT NOT NULL,
		type TEXT NOT NULL,
		enhanced BOOLEAN NOT NULL DEFAULT FALSE,
		created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
		UNIQUE (harvesting_id, source_identifier)
	);
	CREATE INDEX IF NOT EXISTS idx_reference_events_reference ON reference_events(reference_id);

	CREATE TABLE IF NOT EXISTS contributors (
		id BIGSERIAL PRIMARY KEY,
		source TEXT NOT NULL,
		source_identifier TEXT,
		name TEXT NOT NULL,
		first_name TEXT NOT NULL DEFAULT '',
		last_name TEXT NOT NULL DEFAULT '',
		name_variants TEXT[] NOT NULL DEFAULT '{}',
		structured_name_variants JSONB NOT NULL DEFAULT '[]',
		created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
		updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
	);
	CREATE UNIQUE INDEX IF NOT EXISTS idx_contributors_source_identifier
		ON contributors(source, source_identifier) WHERE source_identifier IS NOT NULL;
	CREATE UNIQUE INDEX IF NOT EXISTS idx_contributors_source_name
		ON contributors(source, name) WHERE source_identifier IS NULL;

	CREATE TABLE IF NOT EXISTS contributor_identifiers (
		id BIGSERIAL PRIMARY KEY,
		contributor_id BIGINT NOT NULL REFERENCES contributors(id) ON DELETE CASCADE,
		type TEXT NOT NULL,
		value TEXT NOT NULL,
		source TEXT NOT NULL DEFAULT '',
		UNIQUE (contributor_id, type, value)
	);

	CREATE TABLE IF NOT EXISTS concepts (
		id BIGSERIAL PRIMARY KEY,
		uri TEXT UNIQUE,
		dereferenced BOOLEAN NOT NULL DEFAULT FALSE
	);

	CREATE TABLE IF NOT EXISTS concept_labels (
		id BIGSERIAL PRIMARY KEY,
		concept_id BIGINT NOT NULL REFERENCES concepts(id) ON DELETE CASCADE,
		value TEXT NOT NULL,
		language TEXT,
		preferred BOOLEAN NOT NULL DEFAULT FALSE
	);
	CREATE INDEX IF NOT EXISTS idx_concept_labels_value ON concept_labels(value, language);

	CREATE TABLE IF NOT EXISTS document_types (
		id BIGSERIAL PRIMARY KEY,
		uri TEXT NOT NULL UNIQUE,
		label TEXT NOT NULL
	);

	CREATE TABLE IF NOT EXISTS organizations (
		id BIGSERIAL PRIMARY KEY,
		source TEXT NOT NULL,
		source_identifier TEXT NOT NULL,
		name TEXT NOT NULL,
		type TEXT NOT NULL DEFAULT '',
		UNIQUE (source, source_identifier)
	);

	CREATE TABLE IF NOT EXISTS organization_identifiers (
		id BIGSERIAL PRIMARY KEY,
		organization_id BIGINT NOT NULL REFERENCES organizations(id) ON DELETE CASCADE,
		type TEXT NOT NULL,
		value TEXT NOT NULL,
		UNIQUE (organization_id, type, value)
	);
	CREATE INDEX IF NOT EXISTS idx_organization_identifiers_lookup ON organization_identifiers(type, value);

	CREATE TABLE IF NOT EXISTS journals (
		id BIGSERIAL PRIMARY KEY,
		source TEXT NOT NULL,
		source_identifier TEXT NOT NULL,
		issn TEXT[] NOT NULL DEFAULT '{}',
		eissn TEXT[] NOT NULL DEFAULT '{}',
		issn_l TEXT NOT NULL DEFAULT '',
		publisher TEXT NOT NULL DEFAULT '',
		titles TEXT[] NOT NULL DEFAULT '{}',
		UNIQUE (source, source_identifier)
	);

	CREATE TABLE IF NOT EXISTS issues (
		id BIGSERIAL PRIMARY KEY,
		source TEXT NOT NULL,
		source_identifier TEXT NOT NULL,
		volume TEXT NOT NULL DEFAULT '',
		number TEXT[] NOT NULL DEFAULT '{}',
		rights TEXT NOT NULL DEFAULT '',
		date TEXT NOT NULL DEFAULT '',
		journal_id BIGINT NOT NULL REFERENCES journals(id),
		UNIQUE (source, source_identifier)
	);

	CREATE TABLE IF NOT EXISTS books (
		id BIGSERIAL PRIMARY KEY,
		source TEXT NOT NULL,
		title TEXT NOT NULL DEFAULT '',
		title_variants TEXT[] NOT NULL DEFAULT '{}',
		isbn10 TEXT NOT NULL DEFAULT '',
		isbn13 TEXT NOT NULL DEFAULT '',
		publisher TEXT NOT NULL DEFAULT ''
	);
	CREATE INDEX IF NOT EXISTS idx_books_isbn10 ON books(source, isbn10);
	CREATE INDEX IF NOT EXISTS idx_books_isbn13 ON books(source, isbn13);
	`

	_, err := s.db.Exec(schema)
	return err
}

// Close closes the underlying database handle.
func (s *Store) Close() error {
	if s.db != nil {
		return s.db.Close()
	}
	return nil
}

// Ping verifies connectivity.
func (s *Store) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// isUniqueViolation reports whether err is a Postgres unique
// constraint violation (SQLSTATE 23505), whichever driver raised it.
func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code == "23505"
	}
	var pqErr *pq.Error
	if errors.As(err, &pqErr) {
		return pqErr.Code == "23505"
	}
	return false
}
