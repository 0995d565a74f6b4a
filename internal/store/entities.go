package store

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/crisref/harvest-core/internal/core"
)

// =============================================================================
// ENTITY RESOLUTION
// =============================================================================

// ResolveOrCreate finds the stored person matching any of the incoming
// identifiers, creates one when nothing matches, and reconciles
// identifiers on a match.
//
// When the incoming identifiers match several stored entities, those
// rows describe the same person and are merged into the oldest row —
// unless safeMode is set, in which case the resolution is rejected.
func (s *Store) ResolveOrCreate(ctx context.Context, person *core.Entity, safeMode bool) (*core.Entity, error) {
	resolved, err := s.resolveOnce(ctx, person, safeMode)
	if err == nil {
		return resolved, nil
	}
	if !isUniqueViolation(err) {
		return nil, err
	}
	// A concurrent writer inserted the same identifier first; the
	// retried lookup must now find it.
	resolved, err = s.resolveOnce(ctx, person, safeMode)
	if err != nil {
		return nil, fmt.Errorf("entity resolution retry failed: %w", err)
	}
	return resolved, nil
}

func (s *Store) resolveOnce(ctx context.Context, person *core.Entity, safeMode bool) (*core.Entity, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	matches, err := matchingEntityIDs(ctx, tx, person.Identifiers)
	if err != nil {
		return nil, err
	}
	if len(person.Identifiers) == 0 {
		// A name-only person resolves by exact name; names never
		// trigger merging.
		matches, err = matchingEntityIDByName(ctx, tx, person)
		if err != nil {
			return nil, err
		}
	}

	var resolved *core.Entity
	switch len(matches) {
	case 0:
		resolved, err = insertEntity(ctx, tx, person)
	case 1:
		resolved, err = reconcileEntity(ctx, tx, matches[0], person, safeMode)
	default:
		if safeMode {
			return nil, &core.Error{
				Code: core.CodeInvalidEntity,
				Err: fmt.Errorf("identifiers match %d distinct entities, merge forbidden in safe mode",
					len(matches)),
			}
		}
		resolved, err = mergeEntities(ctx, tx, matches, person)
	}
	if err != nil {
		return nil, err
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("failed to commit entity resolution: %w", err)
	}
	return resolved, nil
}

// matchingEntityIDs returns the ids of entities carrying any of the
// given identifiers, oldest first.
func matchingEntityIDs(ctx context.Context, tx *sql.Tx, identifiers []core.Identifier) ([]string, error) {
	if len(identifiers) == 0 {
		return nil, nil
	}

	query := strings.Builder{}
	query.WriteString(`SELECT DISTINCT ei.entity_id FROM entity_identifiers ei
		JOIN entities e ON e.id = ei.entity_id WHERE `)
	args := make([]any, 0, len(identifiers)*2)
	for i, id := range identifiers {
		if i > 0 {
			query.WriteString(" OR ")
		}
		query.WriteString(fmt.Sprintf("(ei.type = $%d AND ei.value = $%d)", len(args)+1, len(args)+2))
		args = append(args, id.Type, id.Value)
	}
	query.WriteString(" ORDER BY ei.entity_id")

	rows, err := tx.QueryContext(ctx, query.String(), args...)
	if err != nil {
		return nil, fmt.Errorf("failed to match entity identifiers: %w", err)
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("failed to scan entity id: %w", err)
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

func matchingEntityIDByName(ctx context.Context, tx *sql.Tx, person *core.Entity) ([]string, error) {
	var id string
	err := tx.QueryRowContext(ctx, `
		SELECT id FROM entities WHERE entity_type = $1 AND name = $2 ORDER BY created_at LIMIT 1
	`, person.Type, person.Name).Scan(&id)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to match entity by name: %w", err)
	}
	return []string{id}, nil
}

func insertEntity(ctx context.Context, tx *sql.Tx, person *core.Entity) (*core.Entity, error) {
	now := time.Now().UTC()
	_, err := tx.ExecContext(ctx, `
		INSERT INTO entities (id, entity_type, name, first_name, last_name, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
	`, person.ID.String(), person.Type, person.Name, person.FirstName, person.LastName, now, now)
	if err != nil {
		return nil, fmt.Errorf("failed to insert entity: %w", err)
	}
	for _, id := range person.Identifiers {
		_, err := tx.ExecContext(ctx, `
			INSERT INTO entity_identifiers (entity_id, type, value) VALUES ($1, $2, $3)
		`, person.ID.String(), id.Type, id.Value)
		if err != nil {
			return nil, fmt.Errorf("failed to insert entity identifier %s: %w", id.Type, err)
		}
	}
	return person, nil
}

// reconcileEntity loads the matched row and completes it with the
// incoming identifiers. Conflicting values for an identifier type the
// entity already carries are overwritten, except in safe mode where
// the stored value wins.
func reconcileEntity(ctx context.Context, tx *sql.Tx, entityID string, person *core.Entity, safeMode bool) (*core.Entity, error) {
	stored, err := loadEntityForUpdate(ctx, tx, entityID)
	if err != nil {
		return nil, err
	}
	if stored == nil {
		return nil, fmt.Errorf("matched entity %s vanished during resolution", entityID)
	}

	for _, incoming := range person.Identifiers {
		current := stored.IdentifierValue(incoming.Type)
		switch {
		case current == incoming.Value:
			continue
		case current == "":
			_, err := tx.ExecContext(ctx, `
				INSERT INTO entity_identifiers (entity_id, type, value) VALUES ($1, $2, $3)
			`, entityID, incoming.Type, incoming.Value)
			if err != nil {
				return nil, fmt.Errorf("failed to add identifier %s: %w", incoming.Type, err)
			}
			stored.Identifiers = append(stored.Identifiers, incoming)
		case !safeMode:
			_, err := tx.ExecContext(ctx, `
				UPDATE entity_identifiers SET value = $1 WHERE entity_id = $2 AND type = $3
			`, incoming.Value, entityID, incoming.Type)
			if err != nil {
				return nil, fmt.Errorf("failed to update identifier %s: %w", incoming.Type, err)
			}
			for i := range stored.Identifiers {
				if stored.Identifiers[i].Type == incoming.Type {
					stored.Identifiers[i].Value = incoming.Value
				}
			}
		}
	}

	// An anonymous stored row picks up the incoming name.
	if stored.Name == "" && person.Name != "" {
		_, err := tx.ExecContext(ctx, `
			UPDATE entities SET name = $1, first_name = $2, last_name = $3, updated_at = NOW() WHERE id = $4
		`, person.Name, person.FirstName, person.LastName, entityID)
		if err != nil {
			return nil, fmt.Errorf("failed to update entity name: %w", err)
		}
		stored.Name = person.Name
		stored.FirstName = person.FirstName
		stored.LastName = person.LastName
	}

	return stored, nil
}

// mergeEntities folds all matched rows into the first one, moving
// identifiers and retrieval history onto the survivor.
func mergeEntities(ctx context.Context, tx *sql.Tx, matches []string, person *core.Entity) (*core.Entity, error) {
	survivorID := matches[0]
	for _, mergedID := range matches[1:] {
		_, err := tx.ExecContext(ctx, `
			DELETE FROM entity_identifiers WHERE entity_id = $1
			AND (type, value) IN (SELECT type, value FROM entity_identifiers WHERE entity_id = $2)
		`, mergedID, survivorID)
		if err != nil {
			return nil, fmt.Errorf("failed to deduplicate identifiers: %w", err)
		}
		_, err = tx.ExecContext(ctx, `
			UPDATE entity_identifiers SET entity_id = $1 WHERE entity_id = $2
		`, survivorID, mergedID)
		if err != nil {
			return nil, fmt.Errorf("failed to move identifiers: %w", err)
		}
		_, err = tx.ExecContext(ctx, `
			UPDATE retrievals SET entity_id = $1 WHERE entity_id = $2
		`, survivorID, mergedID)
		if err != nil {
			return nil, fmt.Errorf("failed to move retrievals: %w", err)
		}
		_, err = tx.ExecContext(ctx, `DELETE FROM entities WHERE id = $1`, mergedID)
		if err != nil {
			return nil, fmt.Errorf("failed to delete merged entity: %w", err)
		}
	}
	return reconcileEntity(ctx, tx, survivorID, person, false)
}

// loadEntityForUpdate retrieves an entity with a row lock.
func loadEntityForUpdate(ctx context.Context, tx *sql.Tx, id string) (*core.Entity, error) {
	entity := &core.Entity{}
	var rawID string
	err := tx.QueryRowContext(ctx, `
		SELECT id, entity_type, name, first_name, last_name FROM entities WHERE id = $1 FOR UPDATE
	`, id).Scan(&rawID, &entity.Type, &entity.Name, &entity.FirstName, &entity.LastName)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load entity: %w", err)
	}
	if err := entity.ID.UnmarshalText([]byte(rawID)); err != nil {
		return nil, fmt.Errorf("failed to parse entity id %s: %w", rawID, err)
	}

	rows, err := tx.QueryContext(ctx, `
		SELECT type, value FROM entity_identifiers WHERE entity_id = $1 ORDER BY id
	`, id)
	if err != nil {
		return nil, fmt.Errorf("failed to load entity identifiers: %w", err)
	}
	defer rows.Close()
	for rows.Next() {
		var identifier core.Identifier
		if err := rows.Scan(&identifier.Type, &identifier.Value); err != nil {
			return nil, fmt.Errorf("failed to scan identifier: %w", err)
		}
		entity.Identifiers = append(entity.Identifiers, identifier)
	}
	return entity, rows.Err()
}
