package archive

import (
	"bufio"
	"bytes"
	"compress/gzip"
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/crisref/harvest-core/internal/core"
	"github.com/crisref/harvest-core/internal/harvester"
)

func TestBatchWritesGzippedJSONLines(t *testing.T) {
	store := NewLocalStore(t.TempDir())
	archiver := NewWithStore(store, "harvest-raw", FormatJSONL, zap.NewNop())
	archiver.now = func() time.Time {
		return time.Date(2026, 3, 14, 10, 0, 0, 0, time.UTC)
	}
	harvesting := core.NewHarvesting(uuid.New(), "hal")

	batch := archiver.Open(harvesting)
	batch.Append(harvester.RawRecord{
		SourceIdentifier: "hal-1234",
		Fields:           map[string]any{"title_s": []any{"On Computable Numbers"}},
	})
	batch.Append(harvester.RawRecord{SourceIdentifier: "hal-9999", Err: context.DeadlineExceeded})
	if err := batch.Close(context.Background()); err != nil {
		t.Fatalf("Close: %v", err)
	}

	key := "harvester/hal/dt=2026-03-14/harvesting-" + harvesting.ID.String() + ".jsonl.gz"
	data, err := store.GetObject(context.Background(), "harvest-raw", key)
	if err != nil {
		t.Fatalf("GetObject(%s): %v", key, err)
	}

	zr, err := gzip.NewReader(bytes.NewReader(data))
	if err != nil {
		t.Fatalf("gzip reader: %v", err)
	}
	scanner := bufio.NewScanner(zr)
	var lines []map[string]any
	for scanner.Scan() {
		var line map[string]any
		if err := json.Unmarshal(scanner.Bytes(), &line); err != nil {
			t.Fatalf("unmarshal line: %v", err)
		}
		lines = append(lines, line)
	}
	if len(lines) != 1 {
		t.Fatalf("expected 1 archived record (failed record skipped), got %d", len(lines))
	}
	if lines[0]["source_identifier"] != "hal-1234" {
		t.Fatalf("unexpected line: %v", lines[0])
	}
}

func TestEmptyBatchWritesNothing(t *testing.T) {
	dir := t.TempDir()
	store := NewLocalStore(dir)
	archiver := NewWithStore(store, "harvest-raw", FormatJSONL, zap.NewNop())
	harvesting := core.NewHarvesting(uuid.New(), "scanr")

	batch := archiver.Open(harvesting)
	if err := batch.Close(context.Background()); err != nil {
		t.Fatalf("Close: %v", err)
	}

	key := "harvester/scanr/dt=" + time.Now().UTC().Format("2006-01-02") +
		"/harvesting-" + harvesting.ID.String() + ".jsonl.gz"
	if _, err := store.GetObject(context.Background(), "harvest-raw", key); err == nil {
		t.Fatal("expected no archive object for an empty batch")
	}
}

func TestBatchWritesParquet(t *testing.T) {
	store := NewLocalStore(t.TempDir())
	archiver := NewWithStore(store, "harvest-raw", FormatParquet, zap.NewNop())
	harvesting := core.NewHarvesting(uuid.New(), "openalex")

	batch := archiver.Open(harvesting)
	batch.Append(harvester.RawRecord{
		SourceIdentifier: "W2741809807",
		Fields:           map[string]any{"doi": "10.1234/example"},
	})
	if err := batch.Close(context.Background()); err != nil {
		t.Fatalf("Close: %v", err)
	}

	key := "harvester/openalex/dt=" + time.Now().UTC().Format("2006-01-02") +
		"/harvesting-" + harvesting.ID.String() + ".parquet"
	data, err := store.GetObject(context.Background(), "harvest-raw", key)
	if err != nil {
		t.Fatalf("GetObject(%s): %v", key, err)
	}
	// PAR1 magic bytes frame a Parquet file.
	if !bytes.HasPrefix(data, []byte("PAR1")) || !bytes.HasSuffix(data, []byte("PAR1")) {
		t.Fatal("object is not a Parquet file")
	}
}
