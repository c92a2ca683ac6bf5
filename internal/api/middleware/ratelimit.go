package middleware

import (
	"net"
	"net/http"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/good-yellow-bee/logtrap/internal/api/response"
)

// RateLimiter is a keyed token-bucket limiter.
type RateLimiter struct {
	mu       sync.Mutex
	limiters map[string]*keyedLimiter
	limit    rate.Limit
	burst    int
	idleTTL  time.Duration
	stopCh   chan struct{}
	stopOnce sync.Once
}

type keyedLimiter struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

// NewRateLimiter creates a limiter allowing perMinute requests per key per
// minute, with bursts of up to perMinute. Stop releases its cleanup loop.
func NewRateLimiter(perMinute int) *RateLimiter {
	if perMinute <= 0 {
		perMinute = 600
	}
	rl := &RateLimiter{
		limiters: make(map[string]*keyedLimiter),
		limit:    rate.Every(time.Minute / time.Duration(perMinute)),
		burst:    perMinute,
		idleTTL:  10 * time.Minute,
		stopCh:   make(chan struct{}),
	}

	go rl.cleanupLoop()

	return rl
}

// Allow checks if a request is allowed for the given key.
func (rl *RateLimiter) Allow(key string) bool {
	rl.mu.Lock()
	entry, ok := rl.limiters[key]
	if !ok {
		entry = &keyedLimiter{limiter: rate.NewLimiter(rl.limit, rl.burst)}
		rl.limiters[key] = entry
	}
	entry.lastSeen = time.Now()
	rl.mu.Unlock()

	return entry.limiter.Allow()
}

// Stop ends the cleanup loop.
func (rl *RateLimiter) Stop() {
	rl.stopOnce.Do(func() { close(rl.stopCh) })
}

// cleanupLoop periodically removes idle keys.
func (rl *RateLimiter) cleanupLoop() {
	ticker := time.NewTicker(5 * time.Minute)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			rl.cleanup()
		case <-rl.stopCh:
			return
		}
	}
}

func (rl *RateLimiter) cleanup() {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	cutoff := time.Now().Add(-rl.idleTTL)
	for key, entry := range rl.limiters {
		if entry.lastSeen.Before(cutoff) {
			delete(rl.limiters, key)
		}
	}
}

// RateLimitByTeam returns middleware that rate limits by the caller's team,
// falling back to the client IP for unauthenticated requests.
func RateLimitByTeam(limiter *RateLimiter) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			key := GetTeamID(r.Context())
			if key == "" {
				key = "ip:" + getClientIP(r)
			}

			if !limiter.Allow(key) {
				response.JSONError(w, response.ErrRateLimited)
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}

// getClientIP extracts the client IP from the request.
func getClientIP(r *http.Request) string {
	ip, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return ip
}
