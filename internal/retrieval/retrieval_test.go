package retrieval

import (
	"context"
	"errors"
	"regexp"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
	"go.uber.org/zap"

	"github.com/crisref/harvest-core/internal/core"
	"github.com/crisref/harvest-core/internal/harvester"
	"github.com/crisref/harvest-core/internal/hash"
	"github.com/crisref/harvest-core/internal/store"
)

// fakeHarvester yields canned records and converts them into minimal
// valid references.
type fakeHarvester struct {
	name     string
	relevant bool
	records  []harvester.RawRecord
	fetchErr error
}

func (f *fakeHarvester) Name() string    { return f.name }
func (f *fakeHarvester) Version() string { return "1.0.0" }
func (f *fakeHarvester) IsRelevant(entity *core.Entity) bool {
	return f.relevant
}
func (f *fakeHarvester) HashKeys() []hash.Key {
	return []hash.Key{{Name: "title"}}
}

func (f *fakeHarvester) Fetch(ctx context.Context, entity *core.Entity) *harvester.RecordIterator {
	return harvester.NewRecordIterator(ctx, func(ctx context.Context, out chan<- harvester.RawRecord) error {
		for _, record := range f.records {
			if err := harvester.Emit(ctx, out, record); err != nil {
				return err
			}
		}
		return f.fetchErr
	})
}

func (f *fakeHarvester) Convert(ctx context.Context, record harvester.RawRecord) (*core.Reference, error) {
	if fail, ok := record.Fields["fail"].(error); ok {
		return nil, fail
	}
	ref := harvester.Seed(f, record)
	ref.Titles = append(ref.Titles, core.Title{Value: "A title"})
	return ref, nil
}

func newMockService(t *testing.T, harvesters ...harvester.Harvester) (*Service, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("failed to open sqlmock: %v", err)
	}
	t.Cleanup(func() { db.Close() })

	st := store.NewWithDB(db)
	svc := NewService(st, harvesters, nil, nil, zap.NewNop(), Options{})

	entity, err := core.NewPerson("Alicia", "Fontaine",
		[]core.Identifier{{Type: "idref", Value: "027231313"}}, []string{"idref"})
	if err != nil {
		t.Fatalf("NewPerson: %v", err)
	}
	svc.entity = entity
	svc.retrieval = core.NewRetrieval(entity, nil)
	return svc, mock
}

func expectHarvestingLifecycle(mock sqlmock.Sqlmock) {
	mock.ExpectExec(regexp.QuoteMeta("INSERT INTO harvestings")).
		WillReturnResult(sqlmock.NewResult(1, 1))
}

func expectHarvestingState(mock sqlmock.Sqlmock) {
	mock.ExpectExec(regexp.QuoteMeta("UPDATE harvestings SET state")).
		WillReturnResult(sqlmock.NewResult(1, 1))
}

func expectCreatedEvent(mock sqlmock.Sqlmock) {
	mock.ExpectQuery(regexp.QuoteMeta("FROM reference_events")).
		WillReturnRows(sqlmock.NewRows([]string{"id", "harvesting_id", "reference_id", "type", "enhanced", "created_at"}))
	mock.ExpectQuery(regexp.QuoteMeta(`FROM "references"`)).
		WillReturnRows(sqlmock.NewRows([]string{"id", "source_identifier", "harvester", "harvester_version", "hash", "version", "data"}))
	mock.ExpectExec(regexp.QuoteMeta(`INSERT INTO "references"`)).
		WillReturnResult(sqlmock.NewResult(1, 1))
	mock.ExpectExec(regexp.QuoteMeta("INSERT INTO reference_events")).
		WillReturnResult(sqlmock.NewResult(1, 1))
}

func expectNoPreviousReferences(mock sqlmock.Sqlmock) {
	mock.ExpectQuery(regexp.QuoteMeta("SELECT DISTINCT ON (r.source_identifier)")).
		WillReturnRows(sqlmock.NewRows([]string{"id", "source_identifier", "harvester", "harvester_version", "hash", "version", "data"}))
}

func collectResults(t *testing.T, svc *Service) []*Result {
	t.Helper()
	results := make(chan *Result, 64)
	if err := svc.Run(context.Background(), results); err != nil {
		t.Fatalf("Run: %v", err)
	}
	close(results)
	var got []*Result
	for r := range results {
		got = append(got, r)
	}
	return got
}

func TestRunStreamsHarvestingAndEvents(t *testing.T) {
	h := &fakeHarvester{name: "fake", relevant: true, records: []harvester.RawRecord{
		{SourceIdentifier: "doc-1", Fields: map[string]any{"title": "A title"}},
	}}
	svc, mock := newMockService(t, h)

	expectHarvestingLifecycle(mock)
	expectCreatedEvent(mock)
	expectNoPreviousReferences(mock)
	expectHarvestingState(mock)

	got := collectResults(t, svc)

	if len(got) != 3 {
		t.Fatalf("got %d results, want 3", len(got))
	}
	if got[0].Type != ResultHarvesting || got[0].Harvesting.State != core.HarvestingStateRunning {
		t.Errorf("first result = %+v, want running harvesting", got[0])
	}
	if got[1].Type != ResultReferenceEvent || got[1].Event.Type != core.EventCreated {
		t.Errorf("second result = %+v, want created event", got[1])
	}
	if got[2].Type != ResultHarvesting || got[2].Harvesting.State != core.HarvestingStateCompleted {
		t.Errorf("third result = %+v, want completed harvesting", got[2])
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Errorf("unmet expectations: %v", err)
	}
}

func TestRunSkipsIrrelevantHarvester(t *testing.T) {
	h := &fakeHarvester{name: "fake", relevant: false}
	svc, mock := newMockService(t, h)

	got := collectResults(t, svc)
	if len(got) != 0 {
		t.Errorf("got %d results for irrelevant harvester, want 0", len(got))
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Errorf("unmet expectations: %v", err)
	}
}

func TestRunRestrictsToRequestedHarvesters(t *testing.T) {
	selected := &fakeHarvester{name: "selected", relevant: true}
	excluded := &fakeHarvester{name: "excluded", relevant: true}
	svc, mock := newMockService(t, selected, excluded)
	svc.opts.Harvesters = []string{"selected"}

	expectHarvestingLifecycle(mock)
	expectNoPreviousReferences(mock)
	expectHarvestingState(mock)

	got := collectResults(t, svc)
	for _, r := range got {
		if r.Harvesting != nil && r.Harvesting.Harvester != "selected" {
			t.Errorf("unexpected harvesting for %s", r.Harvesting.Harvester)
		}
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Errorf("unmet expectations: %v", err)
	}
}

func TestRecordFailureSkipsRecordAndContinues(t *testing.T) {
	transient := core.Errorf(core.CodeTransientExternal, true, "upstream flaked")
	h := &fakeHarvester{name: "fake", relevant: true, records: []harvester.RawRecord{
		{SourceIdentifier: "bad", Fields: map[string]any{"fail": error(transient)}},
		{SourceIdentifier: "good", Fields: map[string]any{"title": "A title"}},
	}}
	svc, mock := newMockService(t, h)

	expectHarvestingLifecycle(mock)
	mock.ExpectExec(regexp.QuoteMeta("INSERT INTO harvesting_errors")).
		WillReturnResult(sqlmock.NewResult(1, 1))
	expectCreatedEvent(mock)
	expectNoPreviousReferences(mock)
	expectHarvestingState(mock)

	got := collectResults(t, svc)

	var events int
	for _, r := range got {
		if r.Type == ResultReferenceEvent {
			events++
		}
	}
	if events != 1 {
		t.Errorf("got %d reference events, want 1 (bad record skipped)", events)
	}
	last := got[len(got)-1]
	if last.Harvesting == nil || last.Harvesting.State != core.HarvestingStateCompleted {
		t.Errorf("harvesting should complete despite the skipped record, got %+v", last)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Errorf("unmet expectations: %v", err)
	}
}

func TestFetchFailureFailsHarvesting(t *testing.T) {
	h := &fakeHarvester{name: "fake", relevant: true, fetchErr: errors.New("endpoint unreachable")}
	svc, mock := newMockService(t, h)

	expectHarvestingLifecycle(mock)
	mock.ExpectExec(regexp.QuoteMeta("INSERT INTO harvesting_errors")).
		WillReturnResult(sqlmock.NewResult(1, 1))
	expectHarvestingState(mock)

	got := collectResults(t, svc)
	last := got[len(got)-1]
	if last.Harvesting == nil || last.Harvesting.State != core.HarvestingStateFailed {
		t.Errorf("harvesting should fail on fetch error, got %+v", last)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Errorf("unmet expectations: %v", err)
	}
}

func TestMissingReferenceRaisesDeletedEvent(t *testing.T) {
	h := &fakeHarvester{name: "fake", relevant: true}
	svc, mock := newMockService(t, h)

	previous := sqlmock.NewRows([]string{"id", "source_identifier", "harvester", "harvester_version", "hash", "version", "data"}).
		AddRow("5ba4f3a2-9f2c-4f4e-8f0a-1d2e3f4a5b6c", "doc-gone", "fake", "1.0.0", "fake-1.0.0:abc", 1,
			`{"source_identifier":"doc-gone","titles":[{"value":"A title"}]}`)

	expectHarvestingLifecycle(mock)
	mock.ExpectQuery(regexp.QuoteMeta("SELECT DISTINCT ON (r.source_identifier)")).
		WillReturnRows(previous)
	mock.ExpectQuery(regexp.QuoteMeta("FROM reference_events")).
		WillReturnRows(sqlmock.NewRows([]string{"id", "harvesting_id", "reference_id", "type", "enhanced", "created_at"}))
	mock.ExpectExec(regexp.QuoteMeta("INSERT INTO reference_events")).
		WillReturnResult(sqlmock.NewResult(1, 1))
	expectHarvestingState(mock)

	got := collectResults(t, svc)

	if len(got) != 3 {
		t.Fatalf("got %d results, want 3", len(got))
	}
	event := got[1]
	if event.Type != ResultReferenceEvent || event.Event.Type != core.EventDeleted {
		t.Fatalf("second result = %+v, want deleted event", event)
	}
	if event.Event.Reference.SourceIdentifier != "doc-gone" {
		t.Errorf("deleted event references %q, want doc-gone", event.Event.Reference.SourceIdentifier)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Errorf("unmet expectations: %v", err)
	}
}

func TestEventFilterSuppressesUnwantedTypes(t *testing.T) {
	h := &fakeHarvester{name: "fake", relevant: true, records: []harvester.RawRecord{
		{SourceIdentifier: "doc-1", Fields: map[string]any{"title": "A title"}},
	}}
	svc, mock := newMockService(t, h)
	svc.retrieval.EventTypes = []string{core.EventDeleted}

	expectHarvestingLifecycle(mock)
	expectCreatedEvent(mock)
	expectNoPreviousReferences(mock)
	expectHarvestingState(mock)

	got := collectResults(t, svc)
	for _, r := range got {
		if r.Type == ResultReferenceEvent {
			t.Errorf("created event should be filtered out, got %+v", r)
		}
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Errorf("unmet expectations: %v", err)
	}
}
