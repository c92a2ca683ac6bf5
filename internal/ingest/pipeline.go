// Package ingest feeds log records into storage and trap evaluation.
package ingest

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/good-yellow-bee/logtrap/internal/metrics"
	"github.com/good-yellow-bee/logtrap/internal/models"
	"github.com/good-yellow-bee/logtrap/internal/storage"
	"github.com/good-yellow-bee/logtrap/internal/traps"
)

// ErrMissingTeam is returned for records without a team.
var ErrMissingTeam = errors.New("record has no team")

// SourceHTTP labels records submitted through the API.
const SourceHTTP = "http"

// RecordWriter persists records.
type RecordWriter interface {
	InsertBatch(ctx context.Context, records []*models.LogRecord) error
}

// RecordEvaluator matches a record against the active traps of its team.
type RecordEvaluator interface {
	EvaluateRecord(ctx context.Context, record *models.LogRecord) []string
}

// BufferWriter adapts a LogBuffer to a RecordWriter. Buffered records are
// not visible to windowed counts until flushed.
func BufferWriter(buf *storage.LogBuffer) RecordWriter {
	return bufferWriter{buf: buf}
}

type bufferWriter struct {
	buf *storage.LogBuffer
}

func (w bufferWriter) InsertBatch(_ context.Context, records []*models.LogRecord) error {
	return w.buf.AddBatch(records)
}

// Result summarises the processing of one batch.
type Result struct {
	Accepted int      `json:"accepted"`
	Matched  []string `json:"matchedTrapIds"`
	Fired    int      `json:"alertsFired"`
}

// Pipeline stores records, evaluates them and fires the alert rules of
// the traps that matched.
type Pipeline struct {
	writer    RecordWriter
	evaluator RecordEvaluator
	firer     traps.AlertFirer
	now       func() time.Time
	logger    *zap.Logger

	processed atomic.Uint64
	matched   atomic.Uint64
}

// NewPipeline creates a pipeline. firer may be nil, in which case matches
// are recorded on the trap only.
func NewPipeline(writer RecordWriter, evaluator RecordEvaluator, firer traps.AlertFirer, logger *zap.Logger) *Pipeline {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Pipeline{
		writer:    writer,
		evaluator: evaluator,
		firer:     firer,
		now:       time.Now,
		logger:    logger.Named("ingest"),
	}
}

// SetClock replaces the time source used to stamp records.
func (p *Pipeline) SetClock(now func() time.Time) {
	p.now = now
}

// Process handles a single record.
func (p *Pipeline) Process(ctx context.Context, source string, record *models.LogRecord) (*Result, error) {
	return p.ProcessBatch(ctx, source, []*models.LogRecord{record})
}

// ProcessBatch normalises and stores the records, then evaluates each one
// in order. Nothing is evaluated when the batch cannot be stored.
func (p *Pipeline) ProcessBatch(ctx context.Context, source string, records []*models.LogRecord) (*Result, error) {
	for i, rec := range records {
		if err := p.normalize(rec); err != nil {
			return nil, fmt.Errorf("record %d: %w", i, err)
		}
	}

	if err := p.writer.InsertBatch(ctx, records); err != nil {
		return nil, fmt.Errorf("store records: %w", err)
	}
	metrics.IngestRecordsTotal.WithLabelValues(source).Add(float64(len(records)))
	p.processed.Add(uint64(len(records)))

	result := &Result{Accepted: len(records), Matched: []string{}}
	for _, rec := range records {
		ids := p.evaluator.EvaluateRecord(ctx, rec)
		if len(ids) == 0 {
			continue
		}
		p.matched.Add(uint64(len(ids)))
		result.Matched = append(result.Matched, ids...)

		if p.firer == nil {
			continue
		}
		message := traps.MatchMessage(rec)
		for _, id := range ids {
			fr := p.firer.FireAlerts(ctx, id, message)
			result.Fired += fr.Fired
		}
	}

	if len(result.Matched) > 0 {
		p.logger.Debug("records matched traps",
			zap.String("source", source),
			zap.Int("records", len(records)),
			zap.Int("matches", len(result.Matched)),
			zap.Int("fired", result.Fired))
	}
	return result, nil
}

func (p *Pipeline) normalize(rec *models.LogRecord) error {
	if rec == nil {
		return errors.New("record is empty")
	}
	rec.TeamID = strings.TrimSpace(rec.TeamID)
	if rec.TeamID == "" {
		return ErrMissingTeam
	}
	if rec.ID == "" {
		rec.ID = uuid.New().String()
	}
	if rec.Timestamp.IsZero() {
		rec.Timestamp = p.now()
	}
	rec.Timestamp = rec.Timestamp.UTC()
	if !rec.Level.Valid() {
		rec.Level = models.LevelInfo
	}
	return nil
}

// Stats holds pipeline counters.
type Stats struct {
	Processed uint64 `json:"processed"`
	Matched   uint64 `json:"matched"`
}

// Stats returns pipeline counters.
func (p *Pipeline) Stats() Stats {
	return Stats{
		Processed: p.processed.Load(),
		Matched:   p.matched.Load(),
	}
}
