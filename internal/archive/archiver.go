package archive

import (
	"bytes"
	"compress/gzip"
	"context"
	"encoding/json"
	"fmt"
	"time"

	writerfile "github.com/xitongsys/parquet-go-source/writerfile"
	"github.com/xitongsys/parquet-go/parquet"
	"github.com/xitongsys/parquet-go/writer"
	"go.uber.org/zap"

	"github.com/crisref/harvest-core/internal/config"
	"github.com/crisref/harvest-core/internal/core"
	"github.com/crisref/harvest-core/internal/harvester"
	"github.com/crisref/harvest-core/internal/retrieval"
)

// Archive formats.
const (
	FormatJSONL   = "jsonl"
	FormatParquet = "parquet"
)

// Archiver writes one archive object per harvesting. It satisfies
// retrieval.RecordArchiver.
type Archiver struct {
	store  ObjectStore
	bucket string
	format string
	logger *zap.Logger

	now func() time.Time
}

var _ retrieval.RecordArchiver = (*Archiver)(nil)

// New builds an archiver from the archive configuration, or (nil, nil)
// when archiving is disabled.
func New(cfg config.ArchiveConfig, logger *zap.Logger) (*Archiver, error) {
	if !cfg.Enabled {
		return nil, nil
	}
	if cfg.Format != FormatJSONL && cfg.Format != FormatParquet {
		return nil, fmt.Errorf("unknown archive format %q", cfg.Format)
	}

	var store ObjectStore
	switch cfg.Backend {
	case "local":
		store = NewLocalStore(cfg.LocalDir)
	case "minio":
		s3, err := NewS3Store(cfg)
		if err != nil {
			return nil, err
		}
		store = s3
	default:
		return nil, fmt.Errorf("unknown archive backend %q", cfg.Backend)
	}

	return &Archiver{
		store:  store,
		bucket: cfg.MinioBucket,
		format: cfg.Format,
		logger: logger,
		now:    time.Now,
	}, nil
}

// NewWithStore builds an archiver over an existing object store.
func NewWithStore(store ObjectStore, bucket, format string, logger *zap.Logger) *Archiver {
	return &Archiver{store: store, bucket: bucket, format: format, logger: logger, now: time.Now}
}

// Open starts a batch for one harvesting. The batch buffers records in
// memory and uploads a single object on Close.
func (a *Archiver) Open(harvesting *core.Harvesting) retrieval.RecordBatch {
	return &batch{
		archiver:   a,
		harvesting: harvesting,
	}
}

type row struct {
	SourceIdentifier string         `json:"source_identifier"`
	Fields           map[string]any `json:"fields"`
}

type batch struct {
	archiver   *Archiver
	harvesting *core.Harvesting
	rows       []row
}

// Append buffers one raw record. Failed records carry no payload and
// are skipped.
func (b *batch) Append(record harvester.RawRecord) {
	if record.Err != nil {
		return
	}
	b.rows = append(b.rows, row{
		SourceIdentifier: record.SourceIdentifier,
		Fields:           record.Fields,
	})
}

// Close encodes the buffered rows and uploads the archive object.
// Empty batches produce no object.
func (b *batch) Close(ctx context.Context) error {
	if len(b.rows) == 0 {
		return nil
	}
	a := b.archiver

	var data []byte
	var ext string
	var err error
	switch a.format {
	case FormatParquet:
		data, err = encodeParquet(b.rows)
		ext = "parquet"
	default:
		data, err = encodeJSONL(b.rows)
		ext = "jsonl.gz"
	}
	if err != nil {
		return fmt.Errorf("encoding archive batch: %w", err)
	}

	key := fmt.Sprintf("harvester/%s/dt=%s/harvesting-%s.%s",
		b.harvesting.Harvester,
		a.now().UTC().Format("2006-01-02"),
		b.harvesting.ID,
		ext)
	if err := a.store.PutObject(ctx, a.bucket, key, data); err != nil {
		return fmt.Errorf("uploading archive object %s: %w", key, err)
	}
	a.logger.Info("archived raw records",
		zap.String("harvester", b.harvesting.Harvester),
		zap.String("key", key),
		zap.Int("records", len(b.rows)))
	return nil
}

func encodeJSONL(rows []row) ([]byte, error) {
	buf := &bytes.Buffer{}
	zw := gzip.NewWriter(buf)
	enc := json.NewEncoder(zw)
	for _, r := range rows {
		if err := enc.Encode(r); err != nil {
			return nil, err
		}
	}
	if err := zw.Close(); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// parquetSchema stores the source identifier and the JSON-encoded
// payload as two string columns.
const parquetSchema = `{
	"Tag": "name=parquet_go_root, repetitiontype=REQUIRED",
	"Fields": [
		{"Tag": "name=source_identifier, type=BYTE_ARRAY, convertedtype=UTF8, repetitiontype=REQUIRED"},
		{"Tag": "name=payload, type=BYTE_ARRAY, convertedtype=UTF8, repetitiontype=OPTIONAL"}
	]
}`

func encodeParquet(rows []row) ([]byte, error) {
	buf := &bytes.Buffer{}
	pfw := writerfile.NewWriterFile(buf)
	pw, err := writer.NewJSONWriter(parquetSchema, pfw, 4)
	if err != nil {
		return nil, err
	}
	pw.CompressionType = parquet.CompressionCodec_SNAPPY

	for _, r := range rows {
		payload, err := json.Marshal(r.Fields)
		if err != nil {
			_ = pw.WriteStop()
			return nil, err
		}
		line, err := json.Marshal(map[string]string{
			"source_identifier": r.SourceIdentifier,
			"payload":           string(payload),
		})
		if err != nil {
			_ = pw.WriteStop()
			return nil, err
		}
		if err := pw.Write(string(line)); err != nil {
			_ = pw.WriteStop()
			return nil, err
		}
	}
	if err := pw.WriteStop(); err != nil {
		return nil, err
	}
	_ = pfw.Close()
	return buf.Bytes(), nil
}
