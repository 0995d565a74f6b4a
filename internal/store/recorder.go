package store

import (
	"bytes"
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/crisref/harvest-core/internal/core"
)

// =============================================================================
// REFERENCE RECORDER
// =============================================================================

// Recorder applies the reference versioning policy for one harvesting:
// compare each converted reference against the last stored version,
// persist what changed and translate the outcome into a reference
// event. Redelivery is absorbed by the unique constraint on
// (harvesting_id, source_identifier): the stored event is returned
// instead of a duplicate.
type Recorder struct {
	store      *Store
	harvesting *core.Harvesting
}

// RecorderFor builds a recorder bound to one harvesting.
func (s *Store) RecorderFor(harvesting *core.Harvesting) *Recorder {
	return &Recorder{store: s, harvesting: harvesting}
}

// Record persists newRef according to the versioning policy and
// returns the resulting event with the referenced reference attached.
func (r *Recorder) Record(ctx context.Context, newRef *core.Reference) (*core.ReferenceEvent, error) {
	if existing, err := r.existingEvent(ctx, newRef.SourceIdentifier); err != nil {
		return nil, err
	} else if existing != nil {
		return existing, nil
	}

	oldRef, err := r.store.LastReference(ctx, newRef.Harvester, newRef.SourceIdentifier)
	if err != nil {
		return nil, err
	}

	switch {
	case oldRef == nil:
		newRef.Version = 1
		if err := r.store.InsertReference(ctx, newRef); err != nil {
			return nil, err
		}
		return r.createEvent(ctx, newRef, core.EventCreated, false)

	case oldRef.Hash == newRef.Hash:
		enhanced := !samePayload(oldRef, newRef)
		if !enhanced {
			// Nothing moved: reference the stored row, write no new one.
			return r.createEvent(ctx, oldRef, core.EventUnchanged, false)
		}
		// An external fact changed while the raw payload digest did
		// not (a contributor gained an identifier, a concept got
		// dereferenced). Keep the history.
		newRef.Version = oldRef.Version + 1
		if err := r.store.InsertReference(ctx, newRef); err != nil {
			return nil, err
		}
		return r.createEvent(ctx, newRef, core.EventUnchanged, true)

	default:
		newRef.Version = oldRef.Version + 1
		if err := r.store.InsertReference(ctx, newRef); err != nil {
			return nil, err
		}
		return r.createEvent(ctx, newRef, core.EventUpdated, false)
	}
}

// RecordDeletion emits a deleted event referencing the stored row of a
// reference absent from the current harvest.
func (r *Recorder) RecordDeletion(ctx context.Context, oldRef *core.Reference) (*core.ReferenceEvent, error) {
	if existing, err := r.existingEvent(ctx, oldRef.SourceIdentifier); err != nil {
		return nil, err
	} else if existing != nil {
		return existing, nil
	}
	return r.createEvent(ctx, oldRef, core.EventDeleted, false)
}

// PreviousReferences lists the references recorded for the entity by
// this harvester before the current harvesting, for deletion
// detection.
func (r *Recorder) PreviousReferences(ctx context.Context, entityID string) ([]*core.Reference, error) {
	return r.store.PreviousReferences(ctx, entityID, r.harvesting.Harvester, r.harvesting.ID.String())
}

func (r *Recorder) createEvent(ctx context.Context, ref *core.Reference, eventType string, enhanced bool) (*core.ReferenceEvent, error) {
	event := &core.ReferenceEvent{
		ID:           uuid.New(),
		HarvestingID: r.harvesting.ID,
		ReferenceID:  ref.ID,
		Type:         eventType,
		Enhanced:     enhanced,
		CreatedAt:    time.Now().UTC(),
		Reference:    ref,
	}
	_, err := r.store.db.ExecContext(ctx, `
		INSERT INTO reference_events (id, harvesting_id, reference_id, source_identifier, type, enhanced, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
	`, event.ID.String(), event.HarvestingID.String(), event.ReferenceID.String(),
		ref.SourceIdentifier, event.Type, event.Enhanced, event.CreatedAt)
	if err != nil {
		if isUniqueViolation(err) {
			// Concurrent redelivery won the race; surface its event.
			existing, lookupErr := r.existingEvent(ctx, ref.SourceIdentifier)
			if lookupErr != nil {
				return nil, lookupErr
			}
			if existing != nil {
				return existing, nil
			}
		}
		return nil, fmt.Errorf("failed to insert reference event: %w", err)
	}
	return event, nil
}

func (r *Recorder) existingEvent(ctx context.Context, sourceIdentifier string) (*core.ReferenceEvent, error) {
	event := &core.ReferenceEvent{}
	var id, harvestingID, referenceID string
	err := r.store.db.QueryRowContext(ctx, `
		SELECT id, harvesting_id, reference_id, type, enhanced, created_at
		FROM reference_events WHERE harvesting_id = $1 AND source_identifier = $2
	`, r.harvesting.ID.String(), sourceIdentifier).Scan(
		&id, &harvestingID, &referenceID, &event.Type, &event.Enhanced, &event.CreatedAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to look up reference event: %w", err)
	}
	if err := event.ID.UnmarshalText([]byte(id)); err != nil {
		return nil, fmt.Errorf("failed to parse event id: %w", err)
	}
	if err := event.HarvestingID.UnmarshalText([]byte(harvestingID)); err != nil {
		return nil, fmt.Errorf("failed to parse harvesting id: %w", err)
	}
	if err := event.ReferenceID.UnmarshalText([]byte(referenceID)); err != nil {
		return nil, fmt.Errorf("failed to parse reference id: %w", err)
	}

	row := r.store.db.QueryRowContext(ctx, `
		SELECT id, source_identifier, harvester, harvester_version, hash, version, data
		FROM "references" WHERE id = $1
	`, referenceID)
	ref, err := scanReference(row)
	if err != nil && err != sql.ErrNoRows {
		return nil, fmt.Errorf("failed to load event reference: %w", err)
	}
	event.Reference = ref
	return event, nil
}

// samePayload compares two versions of a reference ignoring the
// bookkeeping fields that legitimately differ between versions.
func samePayload(a, b *core.Reference) bool {
	return bytes.Equal(normalizedPayload(a), normalizedPayload(b))
}

func normalizedPayload(ref *core.Reference) []byte {
	clone := *ref
	clone.ID = uuid.Nil
	clone.Version = 0
	raw, err := json.Marshal(&clone)
	if err != nil {
		return nil
	}
	return raw
}
