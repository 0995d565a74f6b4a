package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/lib/pq"

	"github.com/crisref/harvest-core/internal/core"
)

// =============================================================================
// RETRIEVALS & HARVESTINGS
// =============================================================================

// CreateRetrieval persists a retrieval row for an already resolved
// entity.
func (s *Store) CreateRetrieval(ctx context.Context, retrieval *core.Retrieval) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO retrievals (id, entity_id, event_types, created_at) VALUES ($1, $2, $3, $4)
	`, retrieval.ID.String(), retrieval.Entity.ID.String(), pq.Array(retrieval.EventTypes), retrieval.CreatedAt)
	if err != nil {
		return fmt.Errorf("failed to insert retrieval: %w", err)
	}
	return nil
}

// CreateHarvesting persists a harvesting row.
func (s *Store) CreateHarvesting(ctx context.Context, harvesting *core.Harvesting) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO harvestings (id, retrieval_id, harvester, state, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6)
	`, harvesting.ID.String(), harvesting.RetrievalID.String(), harvesting.Harvester,
		harvesting.State, harvesting.CreatedAt, harvesting.UpdatedAt)
	if err != nil {
		return fmt.Errorf("failed to insert harvesting: %w", err)
	}
	return nil
}

// UpdateHarvestingState transitions a harvesting to the given state.
func (s *Store) UpdateHarvestingState(ctx context.Context, harvestingID, state string) error {
	result, err := s.db.ExecContext(ctx, `
		UPDATE harvestings SET state = $1, updated_at = NOW() WHERE id = $2
	`, state, harvestingID)
	if err != nil {
		return fmt.Errorf("failed to update harvesting state: %w", err)
	}
	rows, _ := result.RowsAffected()
	if rows == 0 {
		return fmt.Errorf("harvesting not found: %s", harvestingID)
	}
	return nil
}

// AddHarvestingError records a failure observed during a harvesting.
func (s *Store) AddHarvestingError(ctx context.Context, harvestingID, message string) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO harvesting_errors (harvesting_id, message, occurred_at) VALUES ($1, $2, $3)
	`, harvestingID, message, time.Now().UTC())
	if err != nil {
		return fmt.Errorf("failed to insert harvesting error: %w", err)
	}
	return nil
}

// GetHarvesting retrieves a harvesting by id.
func (s *Store) GetHarvesting(ctx context.Context, harvestingID string) (*core.Harvesting, error) {
	h := &core.Harvesting{}
	var id, retrievalID string
	err := s.db.QueryRowContext(ctx, `
		SELECT id, retrieval_id, harvester, state, created_at, updated_at FROM harvestings WHERE id = $1
	`, harvestingID).Scan(&id, &retrievalID, &h.Harvester, &h.State, &h.CreatedAt, &h.UpdatedAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get harvesting: %w", err)
	}
	if err := h.ID.UnmarshalText([]byte(id)); err != nil {
		return nil, fmt.Errorf("failed to parse harvesting id: %w", err)
	}
	if err := h.RetrievalID.UnmarshalText([]byte(retrievalID)); err != nil {
		return nil, fmt.Errorf("failed to parse retrieval id: %w", err)
	}
	return h, nil
}

// HarvestingErrors returns the error messages recorded for a
// harvesting, oldest first.
func (s *Store) HarvestingErrors(ctx context.Context, harvestingID string) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT message FROM harvesting_errors WHERE harvesting_id = $1 ORDER BY id
	`, harvestingID)
	if err != nil {
		return nil, fmt.Errorf("failed to list harvesting errors: %w", err)
	}
	defer rows.Close()
	var messages []string
	for rows.Next() {
		var m string
		if err := rows.Scan(&m); err != nil {
			return nil, fmt.Errorf("failed to scan harvesting error: %w", err)
		}
		messages = append(messages, m)
	}
	return messages, rows.Err()
}
