package storage

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/good-yellow-bee/logtrap/internal/models"
)

// LogBuffer unit tests

func TestLogBuffer_AddBatch(t *testing.T) {
	// Create a mock repository
	mock := &mockLogRepo{
		insertBatchCalls: 0,
	}

	config := &LogBufferConfig{
		BatchSize:     3,
		FlushInterval: time.Hour, // Long interval so timer doesn't trigger
		MaxSize:       100,
	}

	buffer := NewLogBuffer(mock, config, nil)
	defer buffer.Close()

	// Add entries below batch size
	err := buffer.AddBatch([]*models.LogRecord{
		{ID: "1", Message: "test1"},
		{ID: "2", Message: "test2"},
	})
	if err != nil {
		t.Fatalf("AddBatch failed: %v", err)
	}

	// Should not have flushed yet
	if mock.insertBatchCalls != 0 {
		t.Errorf("expected 0 insertBatch calls, got %d", mock.insertBatchCalls)
	}

	// Add more to trigger batch size
	err = buffer.AddBatch([]*models.LogRecord{
		{ID: "3", Message: "test3"},
	})
	if err != nil {
		t.Fatalf("AddBatch failed: %v", err)
	}

	// Should have flushed
	if mock.insertBatchCalls != 1 {
		t.Errorf("expected 1 insertBatch call, got %d", mock.insertBatchCalls)
	}
	if mock.lastBatchSize != 3 {
		t.Errorf("expected batch size 3, got %d", mock.lastBatchSize)
	}
}

func TestLogBuffer_Flush(t *testing.T) {
	mock := &mockLogRepo{}

	config := &LogBufferConfig{
		BatchSize:     100,
		FlushInterval: time.Hour,
		MaxSize:       100,
	}

	buffer := NewLogBuffer(mock, config, nil)
	defer buffer.Close()

	// Add some entries
	buffer.AddBatch([]*models.LogRecord{
		{ID: "1", Message: "test1"},
	})

	// Manual flush
	err := buffer.Flush()
	if err != nil {
		t.Fatalf("Flush failed: %v", err)
	}

	if mock.insertBatchCalls != 1 {
		t.Errorf("expected 1 insertBatch call, got %d", mock.insertBatchCalls)
	}
}

func TestLogBuffer_Backpressure(t *testing.T) {
	mock := &mockLogRepo{
		insertBatchErr: nil,
	}

	config := &LogBufferConfig{
		BatchSize:     10,
		FlushInterval: time.Hour,
		MaxSize:       5, // Small max size to test backpressure
	}

	buffer := NewLogBuffer(mock, config, nil)
	defer buffer.Close()

	// Add more than max size
	entries := make([]*models.LogRecord, 10)
	for i := 0; i < 10; i++ {
		entries[i] = &models.LogRecord{ID: string(rune('0' + i)), Message: "test"}
	}

	err := buffer.AddBatch(entries)
	if err != nil {
		t.Fatalf("AddBatch failed: %v", err)
	}

	stats := buffer.Stats()
	if stats.Dropped == 0 {
		t.Error("expected some entries to be dropped")
	}
}

func TestLogBuffer_Stats(t *testing.T) {
	mock := &mockLogRepo{}

	config := &LogBufferConfig{
		BatchSize:     2,
		FlushInterval: time.Hour,
		MaxSize:       100,
	}

	buffer := NewLogBuffer(mock, config, nil)
	defer buffer.Close()

	// Add entries to trigger flush
	buffer.AddBatch([]*models.LogRecord{
		{ID: "1", Message: "test1"},
		{ID: "2", Message: "test2"},
	})

	stats := buffer.Stats()
	if stats.Flushed != 1 {
		t.Errorf("expected 1 flush, got %d", stats.Flushed)
	}
	if stats.Inserted != 2 {
		t.Errorf("expected 2 inserted, got %d", stats.Inserted)
	}
}

// Mock repository for testing
type mockLogRepo struct {
	insertBatchCalls int
	lastBatchSize    int
	insertBatchErr   error
}

func (m *mockLogRepo) InsertBatch(ctx context.Context, entries []*models.LogRecord) error {
	m.insertBatchCalls++
	m.lastBatchSize = len(entries)
	return m.insertBatchErr
}

func (m *mockLogRepo) Query(ctx context.Context, filter *LogFilter) (*LogQueryResult, error) {
	return &LogQueryResult{Entries: nil, Total: 0}, nil
}

func (m *mockLogRepo) Count(ctx context.Context, filter *LogFilter) (int64, error) {
	return 0, nil
}

func (m *mockLogRepo) DeleteBefore(ctx context.Context, before time.Time) (int64, error) {
	return 0, nil
}

func TestLogBuffer_FlushErrorRequeues(t *testing.T) {
	mock := &mockLogRepo{insertBatchErr: errors.New("connection refused")}

	buffer := NewLogBuffer(mock, &LogBufferConfig{
		BatchSize:     100,
		FlushInterval: time.Hour,
		MaxSize:       100,
	}, nil)
	defer buffer.Close()

	buffer.Add(&models.LogRecord{ID: "1", Message: "test1"})

	if err := buffer.Flush(); err == nil {
		t.Fatal("expected flush error")
	}
	if stats := buffer.Stats(); stats.Pending != 1 {
		t.Errorf("expected 1 pending after failed flush, got %d", stats.Pending)
	}

	mock.insertBatchErr = nil
	if err := buffer.Flush(); err != nil {
		t.Fatalf("Flush failed: %v", err)
	}
	if stats := buffer.Stats(); stats.Pending != 0 || stats.Inserted != 1 {
		t.Errorf("unexpected stats after retry: %+v", stats)
	}
}

func TestLogBuffer_CloseFlushes(t *testing.T) {
	mock := &mockLogRepo{}

	buffer := NewLogBuffer(mock, &LogBufferConfig{
		BatchSize:     100,
		FlushInterval: time.Hour,
		MaxSize:       100,
	}, nil)

	buffer.Add(&models.LogRecord{ID: "1", Message: "test1"})
	buffer.Close()

	if mock.insertBatchCalls != 1 {
		t.Errorf("expected final flush on close, got %d calls", mock.insertBatchCalls)
	}

	// Adds after close are ignored.
	buffer.Add(&models.LogRecord{ID: "2"})
	if stats := buffer.Stats(); stats.Pending != 0 {
		t.Errorf("expected nothing pending after close, got %d", stats.Pending)
	}
}
