package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/crisref/harvest-core/internal/core"
)

// =============================================================================
// REFERENCES
// =============================================================================
// Reference rows are append-only: every persisted version is a new row
// keyed by (harvester, source_identifier, version). The row carries
// the bookkeeping columns plus the full normalised reference as JSONB.

// InsertReference persists one version of a reference.
func (s *Store) InsertReference(ctx context.Context, ref *core.Reference) error {
	data, err := json.Marshal(ref)
	if err != nil {
		return fmt.Errorf("failed to marshal reference %s: %w", ref.SourceIdentifier, err)
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO "references" (id, source_identifier, harvester, harvester_version, hash, version, data, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
	`, ref.ID.String(), ref.SourceIdentifier, ref.Harvester, ref.HarvesterVersion,
		ref.Hash, ref.Version, data, time.Now().UTC())
	if err != nil {
		return fmt.Errorf("failed to insert reference %s: %w", ref.SourceIdentifier, err)
	}
	return nil
}

// LastReference returns the highest stored version for (harvester,
// sourceIdentifier), or nil when the reference was never seen.
func (s *Store) LastReference(ctx context.Context, harvester, sourceIdentifier string) (*core.Reference, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, source_identifier, harvester, harvester_version, hash, version, data
		FROM "references"
		WHERE harvester = $1 AND source_identifier = $2
		ORDER BY version DESC LIMIT 1
	`, harvester, sourceIdentifier)
	ref, err := scanReference(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get last reference: %w", err)
	}
	return ref, nil
}

// PreviousReferences returns the latest stored version of every
// reference previously harvested for the entity by this harvester,
// excluding the current harvesting and excluding references whose
// most recent event is already a deletion.
func (s *Store) PreviousReferences(ctx context.Context, entityID, harvester, currentHarvestingID string) ([]*core.Reference, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT DISTINCT ON (r.source_identifier)
			r.id, r.source_identifier, r.harvester, r.harvester_version, r.hash, r.version, r.data
		FROM "references" r
		JOIN reference_events re ON re.reference_id = r.id
		JOIN harvestings h ON h.id = re.harvesting_id
		JOIN retrievals rt ON rt.id = h.retrieval_id
		WHERE rt.entity_id = $1
		  AND h.harvester = $2
		  AND h.id <> $3
		  AND r.source_identifier NOT IN (
			SELECT re2.source_identifier
			FROM reference_events re2
			JOIN harvestings h2 ON h2.id = re2.harvesting_id
			JOIN retrievals rt2 ON rt2.id = h2.retrieval_id
			WHERE rt2.entity_id = $1 AND h2.harvester = $2 AND re2.type = $4
			  AND re2.created_at = (
				SELECT MAX(re3.created_at)
				FROM reference_events re3
				JOIN harvestings h3 ON h3.id = re3.harvesting_id
				JOIN retrievals rt3 ON rt3.id = h3.retrieval_id
				WHERE rt3.entity_id = $1 AND h3.harvester = $2
				  AND re3.source_identifier = re2.source_identifier
			  )
		  )
		ORDER BY r.source_identifier, r.version DESC
	`, entityID, harvester, currentHarvestingID, core.EventDeleted)
	if err != nil {
		return nil, fmt.Errorf("failed to list previous references: %w", err)
	}
	defer rows.Close()

	var refs []*core.Reference
	for rows.Next() {
		ref, err := scanReference(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan previous reference: %w", err)
		}
		refs = append(refs, ref)
	}
	return refs, rows.Err()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanReference(row rowScanner) (*core.Reference, error) {
	var (
		id   string
		data []byte
		meta core.Reference
	)
	err := row.Scan(&id, &meta.SourceIdentifier, &meta.Harvester, &meta.HarvesterVersion,
		&meta.Hash, &meta.Version, &data)
	if err != nil {
		return nil, err
	}

	ref := &core.Reference{}
	if err := json.Unmarshal(data, ref); err != nil {
		return nil, fmt.Errorf("failed to unmarshal reference data: %w", err)
	}
	// Bookkeeping columns are authoritative over the JSONB snapshot.
	if err := ref.ID.UnmarshalText([]byte(id)); err != nil {
		return nil, fmt.Errorf("failed to parse reference id: %w", err)
	}
	ref.SourceIdentifier = meta.SourceIdentifier
	ref.Harvester = meta.Harvester
	ref.HarvesterVersion = meta.HarvesterVersion
	ref.Hash = meta.Hash
	ref.Version = meta.Version
	return ref, nil
}
