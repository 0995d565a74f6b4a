// Package retrieval orchestrates one harvesting cycle: it registers
// the retrieval for a resolved person, launches every relevant
// harvester in parallel and streams retrieval, harvesting and
// reference events through a result channel.
package retrieval

import (
	"context"
	"encoding/json"
	"errors"
	"net"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/crisref/harvest-core/internal/client"
	"github.com/crisref/harvest-core/internal/core"
	"github.com/crisref/harvest-core/internal/harvester"
	"github.com/crisref/harvest-core/internal/metrics"
	"github.com/crisref/harvest-core/internal/store"
)

// Result types, matching the outbound event envelopes.
const (
	ResultRetrieval      = "Retrieval"
	ResultHarvesting     = "Harvesting"
	ResultReferenceEvent = "ReferenceEvent"
)

// Result is one orchestration outcome streamed to the caller: the
// retrieval acknowledgement, a harvesting state transition, a recorded
// reference event, or a retrieval-level error.
type Result struct {
	Type       string
	Retrieval  *core.Retrieval
	Harvesting *core.Harvesting
	Event      *core.ReferenceEvent

	// Error fields, used for Retrieval error results only.
	Error       bool
	Message     string
	RetrievalID string
	Parameters  json.RawMessage
}

// RetrievalResult acknowledges a registered retrieval.
func RetrievalResult(r *core.Retrieval) *Result {
	return &Result{Type: ResultRetrieval, Retrieval: r}
}

// RetrievalErrorResult reports a retrieval-level failure. Both id and
// parameters may be empty depending on how far the retrieval got.
func RetrievalErrorResult(message, retrievalID string, parameters json.RawMessage) *Result {
	return &Result{
		Type:        ResultRetrieval,
		Error:       true,
		Message:     message,
		RetrievalID: retrievalID,
		Parameters:  parameters,
	}
}

// HarvestingResult reports a harvesting state transition.
func HarvestingResult(h *core.Harvesting) *Result {
	snapshot := *h
	return &Result{Type: ResultHarvesting, Harvesting: &snapshot}
}

// EventResult reports a recorded reference event.
func EventResult(e *core.ReferenceEvent) *Result {
	return &Result{Type: ResultReferenceEvent, Event: e}
}

// Options are the per-message retrieval options.
type Options struct {
	// IdentifiersSafeMode forbids merging stored entities that share
	// an identifier with the incoming person.
	IdentifiersSafeMode bool
	// Nullify lists identifier types treated as absent during entity
	// resolution.
	Nullify []string
	// Harvesters restricts the configured set to these names.
	Harvesters []string
	// Events restricts emitted reference events to these types.
	Events []string
}

// RecordBatch receives the raw records of one harvesting for
// archiving. Append must not fail the pipeline.
type RecordBatch interface {
	Append(record harvester.RawRecord)
	Close(ctx context.Context) error
}

// RecordArchiver opens one archive batch per harvesting. A nil
// archiver disables archiving.
type RecordArchiver interface {
	Open(harvesting *core.Harvesting) RecordBatch
}

// Service drives one retrieval from registration to completion. A
// service is built per inbound message and is not reused.
type Service struct {
	store      *store.Store
	harvesters []harvester.Harvester
	archiver   RecordArchiver
	metrics    *metrics.Metrics
	logger     *zap.Logger
	opts       Options

	entity    *core.Entity
	retrieval *core.Retrieval
}

// NewService builds a retrieval service over the instantiated
// harvesters, already filtered and ordered by the factory.
func NewService(s *store.Store, harvesters []harvester.Harvester, archiver RecordArchiver,
	m *metrics.Metrics, logger *zap.Logger, opts Options) *Service {
	return &Service{
		store:      s,
		harvesters: harvesters,
		archiver:   archiver,
		metrics:    m,
		logger:     logger,
		opts:       opts,
	}
}

// Register resolves or creates the entity and persists the retrieval
// row. The nullify option is applied to the incoming identifiers
// before resolution; the stored entity keeps whatever it already has.
func (s *Service) Register(ctx context.Context, person *core.Entity) (*core.Retrieval, error) {
	incoming := person.WithoutIdentifiers(s.opts.Nullify)
	resolved, err := s.store.ResolveOrCreate(ctx, incoming, s.opts.IdentifiersSafeMode)
	if err != nil {
		return nil, err
	}
	retrieval := core.NewRetrieval(resolved, s.opts.Events)
	if err := s.store.CreateRetrieval(ctx, retrieval); err != nil {
		return nil, err
	}
	s.entity = resolved
	s.retrieval = retrieval
	return retrieval, nil
}

// Retrieval returns the registered retrieval, nil before Register.
func (s *Service) Retrieval() *core.Retrieval { return s.retrieval }

// Run launches one goroutine per relevant harvester and returns when
// all of them have terminated. Events are streamed to results as they
// are recorded; a nil results channel persists events without
// streaming. Cancellation propagates to every harvester.
func (s *Service) Run(ctx context.Context, results chan<- *Result) error {
	if s.retrieval == nil {
		return errors.New("retrieval must be registered before running")
	}

	group, ctx := errgroup.WithContext(ctx)
	for _, h := range s.relevantHarvesters() {
		h := h
		group.Go(func() error {
			s.runHarvester(ctx, h, results)
			// Harvester failures are recorded on the harvesting row,
			// never propagated: one broken source must not cancel its
			// siblings.
			return nil
		})
	}
	return group.Wait()
}

// relevantHarvesters selects the harvesters to launch, preserving
// configuration order.
func (s *Service) relevantHarvesters() []harvester.Harvester {
	selected := make([]harvester.Harvester, 0, len(s.harvesters))
	for _, h := range s.harvesters {
		if len(s.opts.Harvesters) > 0 && !containsString(s.opts.Harvesters, h.Name()) {
			continue
		}
		if !h.IsRelevant(s.entity) {
			s.logger.Debug("harvester not relevant for entity",
				zap.String("harvester", h.Name()), zap.String("entity", s.entity.Name))
			continue
		}
		selected = append(selected, h)
	}
	return selected
}

// runHarvester drives one harvester's fetch, convert and record
// pipeline and transitions its harvesting row to completed or failed.
func (s *Service) runHarvester(ctx context.Context, h harvester.Harvester, results chan<- *Result) {
	logger := s.logger.With(zap.String("harvester", h.Name()),
		zap.String("retrieval_id", s.retrieval.ID.String()))
	start := time.Now()

	harvesting := core.NewHarvesting(s.retrieval.ID, h.Name())
	harvesting.State = core.HarvestingStateRunning
	if err := s.store.CreateHarvesting(ctx, harvesting); err != nil {
		logger.Error("failed to create harvesting", zap.Error(err))
		return
	}
	s.emit(ctx, results, HarvestingResult(harvesting))

	err := s.drainHarvester(ctx, h, harvesting, results)

	state := core.HarvestingStateCompleted
	if err != nil {
		state = core.HarvestingStateFailed
		logger.Error("harvesting failed", zap.Error(err))
		s.recordError(ctx, harvesting, err)
	}
	harvesting.State = state
	if err := s.store.UpdateHarvestingState(ctx, harvesting.ID.String(), state); err != nil {
		logger.Error("failed to update harvesting state", zap.Error(err))
	}
	s.emit(ctx, results, HarvestingResult(harvesting))
	if s.metrics != nil {
		s.metrics.HarvestingDuration.WithLabelValues(h.Name()).Observe(time.Since(start).Seconds())
	}
	logger.Info("harvesting finished", zap.String("state", state),
		zap.Duration("duration", time.Since(start)))
}

// drainHarvester consumes the record stream. Per-record failures are
// recorded as harvesting errors and skipped; anything returned from
// here fails the whole harvesting.
func (s *Service) drainHarvester(ctx context.Context, h harvester.Harvester,
	harvesting *core.Harvesting, results chan<- *Result) error {
	recorder := s.store.RecorderFor(harvesting)
	seen := make(map[string]bool)

	var batch RecordBatch
	if s.archiver != nil {
		batch = s.archiver.Open(harvesting)
		defer func() {
			if err := batch.Close(ctx); err != nil {
				s.logger.Warn("failed to close archive batch",
					zap.String("harvester", h.Name()), zap.Error(err))
			}
		}()
	}

	it := h.Fetch(ctx, s.entity)
	defer it.Close()

	for it.Next() {
		record := it.Value()
		if record.Err != nil {
			// A secondary source failed for this record; keep the
			// harvesting alive.
			s.recordError(ctx, harvesting, record.Err)
			continue
		}
		if batch != nil {
			batch.Append(record)
		}

		event, err := s.processRecord(ctx, h, recorder, record)
		if err != nil {
			if recoverable(err) {
				s.recordError(ctx, harvesting, err)
				continue
			}
			return err
		}
		seen[record.SourceIdentifier] = true
		s.emitEvent(ctx, results, event)
	}
	if err := it.Err(); err != nil {
		return err
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	return s.emitDeletions(ctx, recorder, seen, results)
}

func (s *Service) processRecord(ctx context.Context, h harvester.Harvester,
	recorder *store.Recorder, record harvester.RawRecord) (*core.ReferenceEvent, error) {
	ref, err := h.Convert(ctx, record)
	if err != nil {
		return nil, err
	}
	if err := ref.Validate(); err != nil {
		return nil, err
	}
	return recorder.Record(ctx, ref)
}

// emitDeletions raises deleted events for references recorded in
// earlier retrievals but absent from the current stream.
func (s *Service) emitDeletions(ctx context.Context, recorder *store.Recorder,
	seen map[string]bool, results chan<- *Result) error {
	previous, err := recorder.PreviousReferences(ctx, s.entity.ID.String())
	if err != nil {
		return err
	}
	for _, ref := range previous {
		if seen[ref.SourceIdentifier] {
			continue
		}
		event, err := recorder.RecordDeletion(ctx, ref)
		if err != nil {
			return err
		}
		s.emitEvent(ctx, results, event)
	}
	return nil
}

func (s *Service) emitEvent(ctx context.Context, results chan<- *Result, event *core.ReferenceEvent) {
	if event == nil {
		return
	}
	if s.metrics != nil {
		s.metrics.ReferenceEvents.WithLabelValues(event.Type).Inc()
	}
	if !s.retrieval.WantsEvent(event.Type) {
		return
	}
	s.emit(ctx, results, EventResult(event))
}

// emit sends one result unless the caller is gone. The channel is
// bounded, so a slow listener exerts backpressure on the pipeline.
func (s *Service) emit(ctx context.Context, results chan<- *Result, result *Result) {
	if results == nil {
		return
	}
	select {
	case results <- result:
	case <-ctx.Done():
	}
}

func (s *Service) recordError(ctx context.Context, harvesting *core.Harvesting, cause error) {
	if s.metrics != nil {
		s.metrics.HarvestingErrors.WithLabelValues(harvesting.Harvester).Inc()
	}
	if err := s.store.AddHarvestingError(ctx, harvesting.ID.String(), cause.Error()); err != nil {
		s.logger.Error("failed to record harvesting error",
			zap.String("harvesting_id", harvesting.ID.String()), zap.Error(err))
	}
}

// recoverable reports whether a record failure should skip the record
// instead of failing the harvesting. External and validation failures
// are per-record; cancellation, database and unclassified failures are
// not.
func recoverable(err error) bool {
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return false
	}
	switch core.CodeOf(err) {
	case core.CodeTransientExternal, core.CodePermanentExternal, core.CodeReferenceValidation:
		return true
	}
	// Upstream HTTP failures surface uncoded from adapter clients:
	// rejected requests and exhausted retries alike skip the record.
	var httpErr *client.HTTPError
	if errors.As(err, &httpErr) {
		return true
	}
	var netErr net.Error
	return errors.As(err, &netErr)
}

func containsString(haystack []string, needle string) bool {
	for _, s := range haystack {
		if s == needle {
			return true
		}
	}
	return false
}
