package broker

import (
	"context"
	"encoding/json"
	"fmt"

	"go.uber.org/zap"

	"github.com/crisref/harvest-core/internal/core"
	"github.com/crisref/harvest-core/internal/metrics"
	"github.com/crisref/harvest-core/internal/retrieval"
)

// Outbound routing key prefixes, completed with the event subtype.
const (
	retrievalKeyPrefix  = "event.references.retrieval."
	harvestingKeyPrefix = "event.references.harvesting."
	referenceKeyPrefix  = "event.references.reference."
)

// Exchange publishes one persistent message to the topic exchange.
// Implemented by the AMQP channel wrapper and by test fakes.
type Exchange interface {
	Publish(ctx context.Context, routingKey string, body []byte) error
}

// ResultPublisher publishes orchestration results. Publish never
// returns an error: broker durability is the delivery contract, a
// failed publish is logged and dropped.
type ResultPublisher interface {
	Publish(ctx context.Context, result *retrieval.Result)
}

// Publisher serialises results and routes them onto the exchange.
type Publisher struct {
	exchange Exchange
	metrics  *metrics.Metrics
	logger   *zap.Logger
}

var _ ResultPublisher = (*Publisher)(nil)

// NewPublisher builds a result publisher over the exchange.
func NewPublisher(exchange Exchange, m *metrics.Metrics, logger *zap.Logger) *Publisher {
	return &Publisher{exchange: exchange, metrics: m, logger: logger}
}

// Publish serialises one result and hands it to the exchange.
func (p *Publisher) Publish(ctx context.Context, result *retrieval.Result) {
	routingKey, payload, err := buildMessage(result)
	if err != nil {
		p.logger.Error("failed to build outbound message",
			zap.String("type", result.Type), zap.Error(err))
		return
	}
	if err := p.exchange.Publish(ctx, routingKey, payload); err != nil {
		if p.metrics != nil {
			p.metrics.PublishFailures.Inc()
		}
		p.logger.Error("failed to publish message",
			zap.String("routing_key", routingKey), zap.Error(err))
		return
	}
	if p.metrics != nil {
		p.metrics.EventsPublished.WithLabelValues(result.Type).Inc()
	}
	p.logger.Debug("message published", zap.String("routing_key", routingKey))
}

// Outbound envelopes, §6 of the interface contract.

type retrievalEnvelope struct {
	Type       string          `json:"type"`
	ID         string          `json:"id,omitempty"`
	Error      bool            `json:"error,omitempty"`
	Message    string          `json:"message,omitempty"`
	Parameters json.RawMessage `json:"parameters,omitempty"`
}

type harvestingEnvelope struct {
	Type        string `json:"type"`
	ID          string `json:"id"`
	RetrievalID string `json:"retrieval_id"`
	Harvester   string `json:"harvester"`
	State       string `json:"state"`
}

type referenceEventEnvelope struct {
	Type         string          `json:"type"`
	ID           string          `json:"id"`
	HarvestingID string          `json:"harvesting_id"`
	Reference    *core.Reference `json:"reference"`
	EventType    string          `json:"event_type"`
	Enhanced     bool            `json:"enhanced,omitempty"`
}

// buildMessage derives the routing key and JSON payload for a result.
func buildMessage(result *retrieval.Result) (string, []byte, error) {
	switch result.Type {
	case retrieval.ResultRetrieval:
		envelope := retrievalEnvelope{
			Type:       result.Type,
			Error:      result.Error,
			Message:    result.Message,
			Parameters: result.Parameters,
		}
		key := retrievalKeyPrefix + "ok"
		if result.Error {
			key = retrievalKeyPrefix + "error"
			envelope.ID = result.RetrievalID
		} else {
			envelope.ID = result.Retrieval.ID.String()
		}
		payload, err := json.Marshal(envelope)
		return key, payload, err

	case retrieval.ResultHarvesting:
		h := result.Harvesting
		payload, err := json.Marshal(harvestingEnvelope{
			Type:        result.Type,
			ID:          h.ID.String(),
			RetrievalID: h.RetrievalID.String(),
			Harvester:   h.Harvester,
			State:       h.State,
		})
		return harvestingKeyPrefix + h.State, payload, err

	case retrieval.ResultReferenceEvent:
		event := result.Event
		payload, err := json.Marshal(referenceEventEnvelope{
			Type:         result.Type,
			ID:           event.ID.String(),
			HarvestingID: event.HarvestingID.String(),
			Reference:    event.Reference,
			EventType:    event.Type,
			Enhanced:     event.Enhanced,
		})
		return referenceKeyPrefix + event.Type, payload, err
	}
	return "", nil, fmt.Errorf("unknown result type %q", result.Type)
}
