package alerting

import (
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/dlclark/regexp2"
	"go.uber.org/zap"

	"github.com/good-yellow-bee/logtrap/internal/metrics"
)

const (
	// DefaultPatternCacheSize is the default number of compiled patterns kept.
	DefaultPatternCacheSize = 1000

	// DefaultMatchTimeout bounds a single regex match.
	DefaultMatchTimeout = 100 * time.Millisecond
)

// ErrMatchTimeout is returned when a regex match exceeds its time budget.
var ErrMatchTimeout = errors.New("regex match timeout")

// CompilePattern compiles a pattern with the engine used for evaluation.
func CompilePattern(pattern string) (*regexp2.Regexp, error) {
	re, err := regexp2.Compile(pattern, regexp2.None)
	if err != nil {
		return nil, fmt.Errorf("invalid regex pattern %q: %w", pattern, err)
	}
	return re, nil
}

type cachedPattern struct {
	re  *regexp2.Regexp
	err error
}

// PatternCache holds compiled regex patterns keyed by source text.
// It is safe for concurrent use. When the cache reaches its capacity the
// whole map is dropped and rebuilt lazily.
type PatternCache struct {
	mu         sync.RWMutex
	entries    map[string]*cachedPattern
	maxEntries int
	timeout    time.Duration
	logger     *zap.Logger
}

// NewPatternCache creates a pattern cache. Non-positive arguments select the
// defaults.
func NewPatternCache(maxEntries int, timeout time.Duration, logger *zap.Logger) *PatternCache {
	if maxEntries <= 0 {
		maxEntries = DefaultPatternCacheSize
	}
	if timeout <= 0 {
		timeout = DefaultMatchTimeout
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &PatternCache{
		entries:    make(map[string]*cachedPattern),
		maxEntries: maxEntries,
		timeout:    timeout,
		logger:     logger,
	}
}

// get returns the compiled pattern, compiling it on a miss.
// Invalid patterns are cached with their error and logged once.
func (c *PatternCache) get(pattern string) *cachedPattern {
	c.mu.RLock()
	entry, ok := c.entries[pattern]
	c.mu.RUnlock()
	if ok {
		return entry
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if entry, ok := c.entries[pattern]; ok {
		return entry
	}

	if len(c.entries) >= c.maxEntries {
		c.entries = make(map[string]*cachedPattern)
		metrics.PatternCacheResets.Inc()
	}

	re, err := CompilePattern(pattern)
	if err != nil {
		c.logger.Warn("invalid regex pattern, condition will never match",
			zap.String("pattern", pattern), zap.Error(err))
		metrics.EvaluationErrors.WithLabelValues("pattern").Inc()
		entry = &cachedPattern{err: err}
	} else {
		re.MatchTimeout = c.timeout
		entry = &cachedPattern{re: re}
	}
	c.entries[pattern] = entry
	metrics.PatternCacheEntries.Set(float64(len(c.entries)))
	return entry
}

// Match reports whether pattern matches anywhere in input.
// Invalid patterns and timeouts yield false.
func (c *PatternCache) Match(pattern, input string) bool {
	matched, err := c.MatchErr(pattern, input)
	if err != nil {
		if errors.Is(err, ErrMatchTimeout) {
			c.logger.Warn("regex match timed out",
				zap.String("pattern", pattern),
				zap.Duration("timeout", c.timeout),
				zap.Int("input_length", len(input)))
		}
		return false
	}
	return matched
}

// MatchErr is Match with the failure reason exposed.
func (c *PatternCache) MatchErr(pattern, input string) (bool, error) {
	entry := c.get(pattern)
	if entry.err != nil {
		return false, entry.err
	}

	start := time.Now()
	matched, err := entry.re.MatchString(input)
	if err != nil {
		if isMatchTimeout(err, time.Since(start), c.timeout) {
			metrics.RegexTimeouts.Inc()
			return false, ErrMatchTimeout
		}
		return false, fmt.Errorf("regex match: %w", err)
	}
	return matched, nil
}

// regexp2TimeoutPrefix starts the error regexp2 returns once MatchTimeout
// elapses. regexp2 exports no sentinel for it.
const regexp2TimeoutPrefix = "match timeout after "

// isMatchTimeout classifies a regexp2 match error. The elapsed budget is
// the primary signal; the message prefix covers the coarse clock regexp2
// checks deadlines against.
func isMatchTimeout(err error, elapsed, timeout time.Duration) bool {
	if timeout > 0 && elapsed >= timeout {
		return true
	}
	return strings.HasPrefix(err.Error(), regexp2TimeoutPrefix)
}

// Len returns the number of cached patterns.
func (c *PatternCache) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.entries)
}

// Reset drops every cached pattern.
func (c *PatternCache) Reset() {
	c.mu.Lock()
	c.entries = make(map[string]*cachedPattern)
	c.mu.Unlock()
	metrics.PatternCacheEntries.Set(0)
}
