package harvester

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/crisref/harvest-core/internal/core"
	"github.com/crisref/harvest-core/internal/hash"
)

type stubHarvester struct {
	name    string
	version string
}

func (s *stubHarvester) Name() string    { return s.name }
func (s *stubHarvester) Version() string { return s.version }
func (s *stubHarvester) IsRelevant(entity *core.Entity) bool {
	return entity.HasIdentifier("idref")
}
func (s *stubHarvester) Fetch(ctx context.Context, entity *core.Entity) *RecordIterator {
	return NewRecordIterator(ctx, func(ctx context.Context, out chan<- RawRecord) error {
		return Emit(ctx, out, RawRecord{SourceIdentifier: "doc-1", Fields: map[string]any{"title": "t"}})
	})
}
func (s *stubHarvester) Convert(ctx context.Context, record RawRecord) (*core.Reference, error) {
	return Seed(s, record), nil
}
func (s *stubHarvester) HashKeys() []hash.Key {
	return []hash.Key{{Name: "title"}}
}

func TestRecordIteratorStreamsInOrder(t *testing.T) {
	it := NewRecordIterator(context.Background(), func(ctx context.Context, out chan<- RawRecord) error {
		for i := 0; i < 3; i++ {
			if err := Emit(ctx, out, RawRecord{SourceIdentifier: fmt.Sprintf("doc-%d", i)}); err != nil {
				return err
			}
		}
		return nil
	})
	defer it.Close()

	var got []string
	for it.Next() {
		got = append(got, it.Value().SourceIdentifier)
	}
	if it.Err() != nil {
		t.Fatalf("unexpected iterator error: %v", it.Err())
	}
	want := []string{"doc-0", "doc-1", "doc-2"}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("expected records in yield order %v, got %v", want, got)
		}
	}
}

func TestRecordIteratorSurfacesProducerError(t *testing.T) {
	boom := errors.New("source exploded")
	it := NewRecordIterator(context.Background(), func(ctx context.Context, out chan<- RawRecord) error {
		if err := Emit(ctx, out, RawRecord{SourceIdentifier: "doc-0"}); err != nil {
			return err
		}
		return boom
	})
	defer it.Close()

	if !it.Next() {
		t.Fatal("expected the first record before the failure")
	}
	if it.Next() {
		t.Fatal("expected the stream to end after the failure")
	}
	if !errors.Is(it.Err(), boom) {
		t.Errorf("expected producer error, got %v", it.Err())
	}
}

func TestRecordIteratorCloseUnblocksProducer(t *testing.T) {
	produced := make(chan struct{})
	it := NewRecordIterator(context.Background(), func(ctx context.Context, out chan<- RawRecord) error {
		defer close(produced)
		for i := 0; ; i++ {
			if err := Emit(ctx, out, RawRecord{SourceIdentifier: fmt.Sprintf("doc-%d", i)}); err != nil {
				return err
			}
		}
	})

	if !it.Next() {
		t.Fatal("expected at least one record")
	}
	it.Close()

	select {
	case <-produced:
	case <-time.After(2 * time.Second):
		t.Fatal("producer still blocked after Close")
	}
	if it.Err() != nil {
		t.Errorf("cancellation must not surface as an iterator error, got %v", it.Err())
	}
}

func TestRegistryRejectsDuplicateNames(t *testing.T) {
	registry := NewRegistry()
	factory := func(deps Deps, settings map[string]string) (Harvester, error) {
		return &stubHarvester{name: "hal", version: "1.0.0"}, nil
	}
	registry.Register("hal", factory)

	defer func() {
		if recover() == nil {
			t.Error("expected a panic on duplicate registration")
		}
	}()
	registry.Register("hal", factory)
}

func TestRegistryCreateValidatesVersion(t *testing.T) {
	registry := NewRegistry()
	registry.Register("broken", func(deps Deps, settings map[string]string) (Harvester, error) {
		return &stubHarvester{name: "broken", version: "not-a-version"}, nil
	})

	if _, err := registry.Create("broken", Deps{}, nil); err == nil {
		t.Error("expected a semver validation error")
	}
	if _, err := registry.Create("missing", Deps{}, nil); err == nil {
		t.Error("expected an unknown harvester error")
	}
}

func TestSeedCarriesIdentityAndHash(t *testing.T) {
	h := &stubHarvester{name: "hal", version: "1.2.0"}
	record := RawRecord{SourceIdentifier: "doc-1", Fields: map[string]any{"title": "t"}}

	ref := Seed(h, record)
	if ref.Harvester != "hal" || ref.HarvesterVersion != "1.2.0" {
		t.Errorf("seed lost harvester identity: %s %s", ref.Harvester, ref.HarvesterVersion)
	}
	if ref.SourceIdentifier != "doc-1" {
		t.Errorf("seed lost source identifier: %s", ref.SourceIdentifier)
	}
	if ref.Hash != Digest(h, record) {
		t.Error("seed hash must equal the adapter digest")
	}

	other := &stubHarvester{name: "hal", version: "1.3.0"}
	if Seed(other, record).Hash == ref.Hash {
		t.Error("version bump must change the hash")
	}
}
