// Package health provides health check endpoints for the API.
package health

import (
	"context"
	"encoding/json"
	"net/http"
	"sort"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"
)

// Checker defines the interface for health checkers.
type Checker interface {
	Name() string
	Check(ctx context.Context) error
}

// Handler manages health check endpoints.
type Handler struct {
	mu       sync.RWMutex
	checkers []Checker
	timeout  time.Duration
}

// NewHandler creates a new health handler.
func NewHandler() *Handler {
	return &Handler{
		checkers: make([]Checker, 0),
		timeout:  5 * time.Second,
	}
}

// RegisterChecker adds a dependency checker.
func (h *Handler) RegisterChecker(c Checker) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.checkers = append(h.checkers, c)
}

// Names returns the registered checker names, sorted.
func (h *Handler) Names() []string {
	h.mu.RLock()
	defer h.mu.RUnlock()
	names := make([]string, 0, len(h.checkers))
	for _, c := range h.checkers {
		names = append(names, c.Name())
	}
	sort.Strings(names)
	return names
}

// HealthResponse represents the health check response.
type HealthResponse struct {
	Status string            `json:"status"`
	Checks map[string]string `json:"checks,omitempty"`
}

// Health returns basic health status.
func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, HealthResponse{Status: "ok"})
}

// Live returns liveness probe status.
// Returns 200 if the process is running.
func (h *Handler) Live(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, HealthResponse{Status: "live"})
}

// Ready checks all registered dependencies concurrently and returns 200
// only if all are healthy.
func (h *Handler) Ready(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), h.timeout)
	defer cancel()

	h.mu.RLock()
	checkers := make([]Checker, len(h.checkers))
	copy(checkers, h.checkers)
	h.mu.RUnlock()

	var mu sync.Mutex
	results := make(map[string]string, len(checkers))
	allHealthy := true

	var g errgroup.Group
	for _, checker := range checkers {
		g.Go(func() error {
			err := checker.Check(ctx)
			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				results[checker.Name()] = err.Error()
				allHealthy = false
			} else {
				results[checker.Name()] = "ok"
			}
			return nil
		})
	}
	_ = g.Wait()

	resp := HealthResponse{
		Status: "ready",
		Checks: results,
	}
	status := http.StatusOK
	if !allHealthy {
		resp.Status = "not_ready"
		status = http.StatusServiceUnavailable
	}
	writeJSON(w, status, resp)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}
