package core

import (
	"time"

	"github.com/google/uuid"
)

// =============================================================================
// RETRIEVALS, HARVESTINGS & REFERENCE EVENTS
// =============================================================================

// Harvesting lifecycle states.
const (
	HarvestingStateIdle      = "idle"
	HarvestingStateRunning   = "running"
	HarvestingStateCompleted = "completed"
	HarvestingStateFailed    = "failed"
)

// Reference event types, in emission precedence order.
const (
	EventCreated   = "created"
	EventUpdated   = "updated"
	EventUnchanged = "unchanged"
	EventDeleted   = "deleted"
)

// AllEventTypes lists every reference event type a retrieval may
// subscribe to.
var AllEventTypes = []string{EventCreated, EventUpdated, EventUnchanged, EventDeleted}

// Retrieval is one orchestrated fetch across harvesters for one
// person. EventTypes records which reference events the caller asked
// to be raised.
type Retrieval struct {
	ID         uuid.UUID `json:"id"`
	Entity     *Entity   `json:"entity"`
	EventTypes []string  `json:"event_types"`
	CreatedAt  time.Time `json:"created_at"`
}

// NewRetrieval builds a retrieval for entity with the requested event
// types. An empty eventTypes subscribes to everything.
func NewRetrieval(entity *Entity, eventTypes []string) *Retrieval {
	if len(eventTypes) == 0 {
		eventTypes = append([]string(nil), AllEventTypes...)
	}
	return &Retrieval{
		ID:         uuid.New(),
		Entity:     entity,
		EventTypes: eventTypes,
		CreatedAt:  time.Now().UTC(),
	}
}

// WantsEvent reports whether the retrieval subscribed to eventType.
func (r *Retrieval) WantsEvent(eventType string) bool {
	return containsString(r.EventTypes, eventType)
}

// Harvesting is the per-source slice of a retrieval.
type Harvesting struct {
	ID          uuid.UUID `json:"id"`
	RetrievalID uuid.UUID `json:"retrieval_id"`
	Harvester   string    `json:"harvester"`
	State       string    `json:"state"`
	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`
}

// NewHarvesting builds an idle harvesting attached to retrievalID.
func NewHarvesting(retrievalID uuid.UUID, harvester string) *Harvesting {
	now := time.Now().UTC()
	return &Harvesting{
		ID:          uuid.New(),
		RetrievalID: retrievalID,
		Harvester:   harvester,
		State:       HarvestingStateIdle,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
}

// HarvestingError records one failure observed during a harvesting,
// kept for post-mortem without failing the sibling harvestings.
type HarvestingError struct {
	ID           int64     `json:"-"`
	HarvestingID uuid.UUID `json:"harvesting_id"`
	Message      string    `json:"message"`
	OccurredAt   time.Time `json:"occurred_at"`
}

// ReferenceEvent is the persistent record of what one harvesting
// observed about one reference: created, updated, unchanged or
// deleted. Enhanced marks unchanged events where the stored reference
// gained data without a hash change.
type ReferenceEvent struct {
	ID           uuid.UUID  `json:"id"`
	HarvestingID uuid.UUID  `json:"harvesting_id"`
	ReferenceID  uuid.UUID  `json:"reference_id"`
	Type         string     `json:"type"`
	Enhanced     bool       `json:"enhanced,omitempty"`
	CreatedAt    time.Time  `json:"created_at"`
	Reference    *Reference `json:"reference,omitempty"`
}
