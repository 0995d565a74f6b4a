// Package harvester defines the adapter contract every external
// source implements, the registry the orchestrator selects adapters
// from, and the shared conversion context used to reconcile
// contributors, organizations and concepts during conversion.
package harvester

import (
	"context"

	"github.com/crisref/harvest-core/internal/core"
	"github.com/crisref/harvest-core/internal/hash"
)

// =============================================================================
// ADAPTER CONTRACT
// =============================================================================

// RawRecord is one record fetched from an external source before
// conversion. Fields holds the hashable view of the native payload:
// JSON documents, XML entries and SPARQL rows are all flattened into
// one map so the digest stays payload-shape agnostic.
//
// Err carries a non-fatal per-record failure, such as a secondary
// source that could not be dereferenced. An errored record has no
// usable payload; the consumer records the failure and moves on
// without ending the stream.
type RawRecord struct {
	SourceIdentifier string
	Fields           map[string]any
	Err              error
}

// Harvester is the capability set of one external source adapter.
type Harvester interface {
	// Name identifies the adapter in configuration and storage.
	Name() string

	// Version is the adapter semver. It prefixes every payload hash,
	// so bumping it marks all stored references as update candidates.
	Version() string

	// IsRelevant reports whether the adapter can harvest anything for
	// the entity, based on the identifiers it carries.
	IsRelevant(entity *core.Entity) bool

	// Fetch streams the raw records of the entity. The sequence is
	// finite, lazy and non-restartable; the producer suspends when
	// the consumer does not pull.
	Fetch(ctx context.Context, entity *core.Entity) *RecordIterator

	// Convert normalises one raw record into a reference. It may
	// perform I/O: entity reconciliation and cache lookups.
	Convert(ctx context.Context, record RawRecord) (*core.Reference, error)

	// HashKeys lists the payload fields participating in the digest.
	HashKeys() []hash.Key
}

// Digest hashes a raw record with the adapter's key list and version.
func Digest(h Harvester, record RawRecord) string {
	return hash.Digest(h.Version(), record.Fields, h.HashKeys())
}

// Seed builds a reference carrying the identity fields every adapter
// must set before conversion: source identifier, harvester name and
// version, payload hash.
func Seed(h Harvester, record RawRecord) *core.Reference {
	return core.NewReference(h.Name(), h.Version(), record.SourceIdentifier, Digest(h, record))
}

// =============================================================================
// RECORD ITERATOR
// =============================================================================

// fetchBufferSize bounds the records buffered between an adapter's
// fetch goroutine and its consumer.
const fetchBufferSize = 16

// ProduceFunc feeds records into the iterator channel. Sending must go
// through Emit so cancellation is honoured.
type ProduceFunc func(ctx context.Context, out chan<- RawRecord) error

// RecordIterator streams raw records from a fetch goroutine through a
// bounded channel. The producer blocks when the buffer is full, which
// is how backpressure reaches the external source.
type RecordIterator struct {
	ch      chan RawRecord
	cancel  context.CancelFunc
	current RawRecord
	err     error
}

// NewRecordIterator starts produce in its own goroutine and returns
// the consuming side.
func NewRecordIterator(ctx context.Context, produce ProduceFunc) *RecordIterator {
	ctx, cancel := context.WithCancel(ctx)
	it := &RecordIterator{
		ch:     make(chan RawRecord, fetchBufferSize),
		cancel: cancel,
	}
	go func() {
		err := produce(ctx, it.ch)
		if err != nil && ctx.Err() == nil {
			it.err = err
		}
		close(it.ch)
	}()
	return it
}

// Emit sends one record unless the iterator was cancelled.
func Emit(ctx context.Context, out chan<- RawRecord, record RawRecord) error {
	select {
	case out <- record:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Next advances to the next record. Returns false when the stream is
// exhausted or failed.
func (it *RecordIterator) Next() bool {
	record, ok := <-it.ch
	if !ok {
		return false
	}
	it.current = record
	return true
}

// Value returns the current record. Only valid after Next() returns true.
func (it *RecordIterator) Value() RawRecord {
	return it.current
}

// Err returns the producer failure, if any. Only valid after Next()
// returns false.
func (it *RecordIterator) Err() error {
	return it.err
}

// Close cancels the producer and drains the channel so it can exit.
func (it *RecordIterator) Close() error {
	it.cancel()
	for range it.ch {
	}
	return nil
}
