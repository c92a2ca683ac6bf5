package traps

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/good-yellow-bee/logtrap/internal/alerting"
	"github.com/good-yellow-bee/logtrap/internal/models"
	"github.com/good-yellow-bee/logtrap/internal/storage"
)

const (
	// DefaultTestWindow is the replay window when none is given.
	DefaultTestWindow = 24 * time.Hour
	// MaxTestWindow is the longest replay window accepted.
	MaxTestWindow = 7 * 24 * time.Hour
	// MaxTestScan caps the number of records a replay inspects.
	MaxTestScan = 10000
	// MaxTestSamples caps the sample ids a replay reports.
	MaxTestSamples = 100

	testPageSize = 1000
)

// ErrNoLogSource is returned when a replay needs stored records but the
// manager has no log source.
var ErrNoLogSource = errors.New("no log source configured")

// TestOptions controls a replay.
type TestOptions struct {
	// Window is how far back to replay. Zero selects DefaultTestWindow.
	Window time.Duration
}

// TestResult summarises a replay. WindowedOnly is set for frequency and
// absence traps: they fire from window counts, not from a single record,
// so no record is replayed and the counts stay zero.
type TestResult struct {
	MatchCount    int       `json:"matchCount"`
	TotalScanned  int       `json:"totalScanned"`
	SampleIDs     []string  `json:"sampleMatchIds"`
	From          time.Time `json:"from"`
	To            time.Time `json:"to"`
	ScanTruncated bool      `json:"scanTruncated"`
	WindowedOnly  bool      `json:"windowedOnly,omitempty"`
}

// windowedOnly reports whether the trap has nothing a single record can
// match. Live evaluation ignores content conditions on these types too.
func windowedOnly(trap *models.Trap) bool {
	return trap.Type == models.TrapTypeFrequency || trap.Type == models.TrapTypeAbsence
}

// TestTrap replays a saved trap of the team against recent records.
// Only per-record conditions are replayed; see TestResult.WindowedOnly.
// It never changes the trap or creates alerts.
func (m *Manager) TestTrap(ctx context.Context, teamID, trapID string, opts TestOptions) (*TestResult, error) {
	trap, err := m.Get(ctx, teamID, trapID)
	if err != nil {
		return nil, err
	}
	return m.replayStored(ctx, trap, opts)
}

// TestTrapDefinition validates an unsaved definition and replays it.
func (m *Manager) TestTrapDefinition(ctx context.Context, teamID string, def *Definition, opts TestOptions) (*TestResult, error) {
	trap, err := def.Build(teamID, m.limits.MaxConditionsPerTrap)
	if err != nil {
		return nil, err
	}
	return m.replayStored(ctx, trap, opts)
}

func (m *Manager) replayStored(ctx context.Context, trap *models.Trap, opts TestOptions) (*TestResult, error) {
	window, err := replayWindow(opts.Window)
	if err != nil {
		return nil, err
	}
	if m.logs == nil {
		return nil, ErrNoLogSource
	}

	to := m.now()
	result := &TestResult{From: to.Add(-window), To: to, SampleIDs: []string{}}
	if windowedOnly(trap) {
		result.WindowedOnly = true
		return result, nil
	}

	filter := &storage.LogFilter{
		TeamID:    trap.TeamID,
		StartTime: result.From,
		EndTime:   result.To,
		Limit:     testPageSize,
	}
	for result.TotalScanned < MaxTestScan {
		filter.Offset = result.TotalScanned
		page, err := m.logs.Query(ctx, filter)
		if err != nil {
			return nil, fmt.Errorf("query records: %w", err)
		}

		remaining := MaxTestScan - result.TotalScanned
		entries := page.Entries
		if len(entries) > remaining {
			entries = entries[:remaining]
		}
		replay(m.evaluator, trap, entries, result)

		if !page.HasMore || len(page.Entries) < testPageSize {
			return result, nil
		}
	}
	result.ScanTruncated = true
	return result, nil
}

// Replay runs a trap's per-record check over records held in memory.
// Windowed-only traps are flagged and not replayed.
func Replay(evaluator *alerting.Evaluator, trap *models.Trap, records []*models.LogRecord) *TestResult {
	result := &TestResult{SampleIDs: []string{}}
	if windowedOnly(trap) {
		result.WindowedOnly = true
		return result
	}
	if len(records) > MaxTestScan {
		records = records[:MaxTestScan]
		result.ScanTruncated = true
	}
	replay(evaluator, trap, records, result)
	return result
}

func replay(evaluator *alerting.Evaluator, trap *models.Trap, records []*models.LogRecord, result *TestResult) {
	for _, rec := range records {
		result.TotalScanned++
		if !evaluator.MatchPatternConditions(rec, trap.Conditions) {
			continue
		}
		result.MatchCount++
		if len(result.SampleIDs) < MaxTestSamples {
			result.SampleIDs = append(result.SampleIDs, rec.ID)
		}
	}
}

func replayWindow(w time.Duration) (time.Duration, error) {
	switch {
	case w == 0:
		return DefaultTestWindow, nil
	case w < 0:
		return 0, invalid("hours", "must be positive")
	case w > MaxTestWindow:
		return 0, invalid("hours", "must be at most %d", int(MaxTestWindow.Hours()))
	}
	return w, nil
}
