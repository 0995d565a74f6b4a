package broker

import (
	"context"
	"encoding/json"
	"errors"
	"testing"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/crisref/harvest-core/internal/core"
	"github.com/crisref/harvest-core/internal/retrieval"
)

type fakeExchange struct {
	keys   []string
	bodies [][]byte
	err    error
}

func (f *fakeExchange) Publish(_ context.Context, routingKey string, body []byte) error {
	if f.err != nil {
		return f.err
	}
	f.keys = append(f.keys, routingKey)
	f.bodies = append(f.bodies, body)
	return nil
}

func testEntity(t *testing.T) *core.Entity {
	t.Helper()
	entity, err := core.NewPerson("Ada", "Lovelace",
		[]core.Identifier{{Type: "idref", Value: "123456789"}}, []string{"idref"})
	if err != nil {
		t.Fatalf("NewPerson: %v", err)
	}
	return entity
}

func TestPublishRetrievalOK(t *testing.T) {
	exchange := &fakeExchange{}
	publisher := NewPublisher(exchange, nil, zap.NewNop())
	r := core.NewRetrieval(testEntity(t), nil)

	publisher.Publish(context.Background(), retrieval.RetrievalResult(r))

	if len(exchange.keys) != 1 || exchange.keys[0] != "event.references.retrieval.ok" {
		t.Fatalf("unexpected routing keys: %v", exchange.keys)
	}
	var payload map[string]any
	if err := json.Unmarshal(exchange.bodies[0], &payload); err != nil {
		t.Fatalf("unmarshal payload: %v", err)
	}
	if payload["type"] != "Retrieval" || payload["id"] != r.ID.String() {
		t.Fatalf("unexpected payload: %v", payload)
	}
	if _, present := payload["error"]; present {
		t.Fatalf("error flag should be omitted on success: %v", payload)
	}
}

func TestPublishRetrievalError(t *testing.T) {
	exchange := &fakeExchange{}
	publisher := NewPublisher(exchange, nil, zap.NewNop())
	params := json.RawMessage(`{"type":"person"}`)

	publisher.Publish(context.Background(),
		retrieval.RetrievalErrorResult("No identifiers provided, retrieval aborted", "", params))

	if exchange.keys[0] != "event.references.retrieval.error" {
		t.Fatalf("unexpected routing key: %v", exchange.keys)
	}
	var payload map[string]any
	if err := json.Unmarshal(exchange.bodies[0], &payload); err != nil {
		t.Fatalf("unmarshal payload: %v", err)
	}
	if payload["error"] != true {
		t.Fatalf("expected error flag: %v", payload)
	}
	if payload["message"] != "No identifiers provided, retrieval aborted" {
		t.Fatalf("unexpected message: %v", payload)
	}
	if payload["parameters"] == nil {
		t.Fatalf("expected original parameters: %v", payload)
	}
}

func TestPublishHarvestingState(t *testing.T) {
	exchange := &fakeExchange{}
	publisher := NewPublisher(exchange, nil, zap.NewNop())
	h := core.NewHarvesting(uuid.New(), "hal")
	h.State = core.HarvestingStateRunning

	publisher.Publish(context.Background(), retrieval.HarvestingResult(h))

	if exchange.keys[0] != "event.references.harvesting.running" {
		t.Fatalf("unexpected routing key: %v", exchange.keys)
	}
	var payload map[string]any
	if err := json.Unmarshal(exchange.bodies[0], &payload); err != nil {
		t.Fatalf("unmarshal payload: %v", err)
	}
	if payload["harvester"] != "hal" || payload["state"] != "running" {
		t.Fatalf("unexpected payload: %v", payload)
	}
}

func TestPublishReferenceEvent(t *testing.T) {
	exchange := &fakeExchange{}
	publisher := NewPublisher(exchange, nil, zap.NewNop())
	ref := core.NewReference("hal", "1.0.0", "hal-1234", "abc123")
	event := &core.ReferenceEvent{
		ID:           uuid.New(),
		HarvestingID: uuid.New(),
		ReferenceID:  ref.ID,
		Type:         core.EventCreated,
		Reference:    ref,
	}

	publisher.Publish(context.Background(), retrieval.EventResult(event))

	if exchange.keys[0] != "event.references.reference.created" {
		t.Fatalf("unexpected routing key: %v", exchange.keys)
	}
	var payload map[string]any
	if err := json.Unmarshal(exchange.bodies[0], &payload); err != nil {
		t.Fatalf("unmarshal payload: %v", err)
	}
	if payload["event_type"] != "created" {
		t.Fatalf("unexpected payload: %v", payload)
	}
	if payload["reference"] == nil {
		t.Fatalf("expected embedded reference: %v", payload)
	}
}

func TestPublishFailureIsSwallowed(t *testing.T) {
	exchange := &fakeExchange{err: errors.New("channel gone")}
	publisher := NewPublisher(exchange, nil, zap.NewNop())

	// Must not panic or propagate.
	publisher.Publish(context.Background(), retrieval.RetrievalResult(core.NewRetrieval(testEntity(t), nil)))
}
