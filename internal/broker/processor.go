package broker

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/crisref/harvest-core/internal/core"
	"github.com/crisref/harvest-core/internal/health"
	"github.com/crisref/harvest-core/internal/metrics"
	"github.com/crisref/harvest-core/internal/retrieval"
)

// Service runs one retrieval. Satisfied by *retrieval.Service.
type Service interface {
	Register(ctx context.Context, person *core.Entity) (*core.Retrieval, error)
	Run(ctx context.Context, results chan<- *retrieval.Result) error
}

// ServiceFactory builds a retrieval service per inbound message.
type ServiceFactory interface {
	NewService(opts retrieval.Options) (Service, error)
}

// FactoryFunc adapts a closure to ServiceFactory.
type FactoryFunc func(opts retrieval.Options) (Service, error)

func (f FactoryFunc) NewService(opts retrieval.Options) (Service, error) { return f(opts) }

// Processor turns one inbound task message into a retrieval run,
// publishing results when the message asks for a reply.
type Processor struct {
	factory         ServiceFactory
	publisher       ResultPublisher
	health          *health.State
	metrics         *metrics.Metrics
	logger          *zap.Logger
	identifierTypes []string
	resultTimeout   time.Duration
	maxResults      int
}

// NewProcessor wires a message processor.
func NewProcessor(factory ServiceFactory, publisher ResultPublisher, state *health.State,
	m *metrics.Metrics, logger *zap.Logger, identifierTypes []string,
	resultTimeout time.Duration, maxResults int) *Processor {
	return &Processor{
		factory:         factory,
		publisher:       publisher,
		health:          state,
		metrics:         m,
		logger:          logger,
		identifierTypes: identifierTypes,
		resultTimeout:   resultTimeout,
		maxResults:      maxResults,
	}
}

// Process handles one raw message body. Errors are reported as error
// events to the caller when a reply was requested; the message itself
// is never redelivered.
func (p *Processor) Process(ctx context.Context, body []byte) {
	message, err := DecodeMessage(body)
	if err != nil {
		p.reject(ctx, true, fmt.Sprintf("Entity validation error, retrieval aborted: %v", err), body)
		return
	}
	if !message.HasIdentifiers() {
		p.reject(ctx, message.Reply, "No identifiers provided, retrieval aborted", body)
		return
	}
	person, err := message.Person(p.identifierTypes)
	if err != nil {
		p.reject(ctx, message.Reply, fmt.Sprintf("Entity validation error, retrieval aborted: %v", err), body)
		return
	}

	service, err := p.factory.NewService(message.Options())
	if err != nil {
		p.reject(ctx, message.Reply, fmt.Sprintf("Entity validation error, retrieval aborted: %v", err), body)
		return
	}
	registered, err := service.Register(ctx, person)
	if err != nil {
		if core.CodeOf(err) == core.CodeDBConnection && p.health != nil {
			p.health.SetDatabaseUnavailable(true)
		}
		p.reject(ctx, message.Reply, fmt.Sprintf("Entity validation error, retrieval aborted: %v", err), body)
		return
	}
	if p.health != nil {
		p.health.SetDatabaseUnavailable(false)
	}

	results := make(chan *retrieval.Result, p.maxResults)
	done := make(chan struct{})
	if message.Reply {
		p.publisher.Publish(ctx, retrieval.RetrievalResult(registered))
		go func() {
			defer close(done)
			p.relayResults(ctx, registered.ID.String(), results)
		}()
	} else {
		go func() {
			defer close(done)
			for range results {
			}
		}()
	}

	if err := service.Run(ctx, results); err != nil {
		p.logger.Error("retrieval run failed",
			zap.String("retrieval_id", registered.ID.String()), zap.Error(err))
	}
	close(results)
	<-done

	if p.metrics != nil {
		p.metrics.MessagesConsumed.WithLabelValues("ok").Inc()
	}
}

// relayResults forwards each result to the publisher, bounding the
// wait for the next one. On timeout a single error event is published
// and the remaining results are drained silently.
func (p *Processor) relayResults(ctx context.Context, retrievalID string, results <-chan *retrieval.Result) {
	timer := time.NewTimer(p.resultTimeout)
	defer timer.Stop()
	for {
		if !timer.Stop() {
			select {
			case <-timer.C:
			default:
			}
		}
		timer.Reset(p.resultTimeout)
		select {
		case result, ok := <-results:
			if !ok {
				return
			}
			p.publisher.Publish(ctx, result)
		case <-timer.C:
			p.logger.Error("timed out waiting for retrieval results",
				zap.String("retrieval_id", retrievalID))
			p.publisher.Publish(ctx, retrieval.RetrievalErrorResult(
				fmt.Sprintf("Retrieval %s results timeout", retrievalID), retrievalID, nil))
			for range results {
			}
			return
		}
	}
}

// reject reports a message that could not be turned into a retrieval.
func (p *Processor) reject(ctx context.Context, reply bool, message string, body []byte) {
	p.logger.Warn("message rejected", zap.String("reason", message))
	if p.metrics != nil {
		p.metrics.MessagesConsumed.WithLabelValues("rejected").Inc()
	}
	if !reply {
		return
	}
	p.publisher.Publish(ctx, retrieval.RetrievalErrorResult(message, "", json.RawMessage(body)))
}
