package api

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/good-yellow-bee/logtrap/internal/alerting"
	"github.com/good-yellow-bee/logtrap/internal/alerts"
	"github.com/good-yellow-bee/logtrap/internal/api/auth"
	"github.com/good-yellow-bee/logtrap/internal/ingest"
	"github.com/good-yellow-bee/logtrap/internal/storage"
	"github.com/good-yellow-bee/logtrap/internal/traps"
)

var testSecret = []byte("test-secret-that-is-long-enough!")

type recordingSubmitter struct {
	mu    sync.Mutex
	tasks []alerts.DeliveryTask
}

func (s *recordingSubmitter) Submit(task alerts.DeliveryTask) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.tasks = append(s.tasks, task)
	return true
}

func (s *recordingSubmitter) count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.tasks)
}

type testEnv struct {
	server    *Server
	handler   http.Handler
	jwt       *auth.JWTService
	submitter *recordingSubmitter
}

// testServer wires the API to real SQLite stores in a temp dir.
func testServer(t testing.TB) *testEnv {
	t.Helper()
	return newTestServer(t, &Config{JWTSecret: testSecret})
}

func newTestServer(t testing.TB, cfg *Config) *testEnv {
	t.Helper()
	dir := t.TempDir()

	store := storage.NewSQLiteStorage(filepath.Join(dir, "meta.db"))
	require.NoError(t, store.Open())
	t.Cleanup(func() { store.Close() })
	require.NoError(t, store.Migrate())

	logStore := storage.NewSQLiteLogStorage(filepath.Join(dir, "logs.db"))
	require.NoError(t, logStore.Open())
	t.Cleanup(func() { logStore.Close() })
	require.NoError(t, logStore.Migrate())

	eval := alerting.NewEvaluator(alerting.NewPatternCache(0, 0, nil), logStore.Logs(), nil)
	manager := traps.NewManager(store.Traps(), logStore.Logs(), eval, traps.Limits{}, nil)
	submitter := &recordingSubmitter{}
	coordinator := alerts.NewCoordinator(store.Traps(), store.AlertRules(), store.AlertHistory(), submitter, nil)

	srv, err := New(cfg, Services{
		Traps:     manager,
		Rules:     alerts.NewRules(store.AlertRules(), store.Traps(), nil, nil),
		Lifecycle: alerts.NewLifecycle(store.AlertHistory(), nil),
		Pipeline:  ingest.NewPipeline(logStore.Logs(), manager, coordinator, nil),
	}, nil)
	require.NoError(t, err)
	t.Cleanup(srv.limiter.Stop)

	return &testEnv{
		server:    srv,
		handler:   srv.Handler(),
		jwt:       auth.NewJWTService(testSecret, time.Hour),
		submitter: submitter,
	}
}

func (e *testEnv) token(t *testing.T, user, team string, role auth.Role) string {
	t.Helper()
	tok, err := e.jwt.GenerateToken(user, team, role)
	require.NoError(t, err)
	return tok
}

type apiResponse struct {
	Data  json.RawMessage `json:"data"`
	Error *struct {
		Code    string `json:"code"`
		Message string `json:"message"`
	} `json:"error"`
}

func (e *testEnv) do(t *testing.T, method, path, token string, body any) (int, apiResponse) {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	rec := httptest.NewRecorder()
	e.handler.ServeHTTP(rec, req)

	var resp apiResponse
	if rec.Body.Len() > 0 {
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp), rec.Body.String())
	}
	return rec.Code, resp
}

func decodeData(t *testing.T, resp apiResponse, dst any) {
	t.Helper()
	require.NoError(t, json.Unmarshal(resp.Data, dst))
}

func TestNew_RequiresSecret(t *testing.T) {
	_, err := New(&Config{}, Services{Traps: &traps.Manager{}, Rules: &alerts.Rules{}, Lifecycle: &alerts.Lifecycle{}}, nil)
	assert.ErrorContains(t, err, "JWT secret")

	_, err = New(&Config{JWTSecret: testSecret}, Services{}, nil)
	assert.Error(t, err)
}

func TestAPI_RequiresToken(t *testing.T) {
	env := testServer(t)

	code, resp := env.do(t, "GET", "/api/v1/traps", "", nil)
	assert.Equal(t, http.StatusUnauthorized, code)
	require.NotNil(t, resp.Error)
	assert.Equal(t, "UNAUTHORIZED", resp.Error.Code)

	code, _ = env.do(t, "GET", "/api/v1/traps", "not-a-token", nil)
	assert.Equal(t, http.StatusUnauthorized, code)

	code, _ = env.do(t, "GET", "/health", "", nil)
	assert.Equal(t, http.StatusOK, code)
}

func TestAPI_TrapCRUD(t *testing.T) {
	env := testServer(t)
	tok := env.token(t, "alice", "team-1", auth.RoleMember)

	code, resp := env.do(t, "POST", "/api/v1/traps", tok, map[string]any{
		"name": "db timeouts",
		"type": "PATTERN",
		"conditions": []map[string]any{
			{"type": "KEYWORD", "field": "message", "pattern": "timeout"},
			{"type": "REGEX", "field": "serviceName", "pattern": "^pay", "severityFilter": "WARN"},
		},
	})
	require.Equal(t, http.StatusCreated, code, resp.Error)
	var created struct {
		ID         string `json:"id"`
		Active     bool   `json:"active"`
		Conditions []struct {
			Field          string `json:"field"`
			SeverityFilter string `json:"severityFilter"`
		} `json:"conditions"`
	}
	decodeData(t, resp, &created)
	require.NotEmpty(t, created.ID)
	assert.True(t, created.Active)
	require.Len(t, created.Conditions, 2)
	assert.Equal(t, "service_name", created.Conditions[1].Field)
	assert.Equal(t, "WARN", created.Conditions[1].SeverityFilter)

	code, resp = env.do(t, "GET", "/api/v1/traps", tok, nil)
	require.Equal(t, http.StatusOK, code)
	var list []map[string]any
	decodeData(t, resp, &list)
	assert.Len(t, list, 1)

	// Another team cannot see the trap.
	other := env.token(t, "bob", "team-2", auth.RoleAdmin)
	code, resp = env.do(t, "GET", "/api/v1/traps/"+created.ID, other, nil)
	assert.Equal(t, http.StatusNotFound, code)
	assert.Equal(t, "NOT_FOUND", resp.Error.Code)

	// Update without conditions keeps them.
	code, resp = env.do(t, "PUT", "/api/v1/traps/"+created.ID, tok, map[string]any{
		"name": "db timeouts (renamed)",
		"type": "PATTERN",
	})
	require.Equal(t, http.StatusOK, code, resp.Error)
	decodeData(t, resp, &created)
	assert.Len(t, created.Conditions, 2)

	code, resp = env.do(t, "POST", "/api/v1/traps/"+created.ID+"/toggle", tok, nil)
	require.Equal(t, http.StatusOK, code)
	decodeData(t, resp, &created)
	assert.False(t, created.Active)

	code, _ = env.do(t, "DELETE", "/api/v1/traps/"+created.ID, tok, nil)
	assert.Equal(t, http.StatusNoContent, code)
	code, _ = env.do(t, "GET", "/api/v1/traps/"+created.ID, tok, nil)
	assert.Equal(t, http.StatusNotFound, code)
}

func TestAPI_TrapValidation(t *testing.T) {
	env := testServer(t)
	tok := env.token(t, "alice", "team-1", auth.RoleMember)

	tests := []struct {
		name    string
		body    map[string]any
		message string
	}{
		{"missing name", map[string]any{"type": "PATTERN"}, "name is required"},
		{"bad type", map[string]any{"name": "x", "type": "SOMETIMES"}, "type"},
		{"condition without type", map[string]any{
			"name": "x", "type": "PATTERN",
			"conditions": []map[string]any{{"pattern": "a"}},
		}, "conditions[0].type is required"},
		{"bad regex", map[string]any{
			"name": "x", "type": "PATTERN",
			"conditions": []map[string]any{{"type": "REGEX", "pattern": "("}},
		}, "conditions[0].pattern"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			code, resp := env.do(t, "POST", "/api/v1/traps", tok, tt.body)
			assert.Equal(t, http.StatusBadRequest, code)
			require.NotNil(t, resp.Error)
			assert.Equal(t, "VALIDATION_FAILED", resp.Error.Code)
			assert.Contains(t, resp.Error.Message, tt.message)
		})
	}
}

func TestAPI_ViewerIsReadOnly(t *testing.T) {
	env := testServer(t)
	tok := env.token(t, "vera", "team-1", auth.RoleViewer)

	code, _ := env.do(t, "GET", "/api/v1/traps", tok, nil)
	assert.Equal(t, http.StatusOK, code)

	code, resp := env.do(t, "POST", "/api/v1/traps", tok, map[string]any{"name": "x", "type": "PATTERN"})
	assert.Equal(t, http.StatusForbidden, code)
	assert.Equal(t, "FORBIDDEN", resp.Error.Code)
}

func TestAPI_IngestFiresAndLifecycle(t *testing.T) {
	env := testServer(t)
	tok := env.token(t, "alice", "team-1", auth.RoleMember)

	code, resp := env.do(t, "POST", "/api/v1/traps", tok, map[string]any{
		"name":       "payment errors",
		"type":       "PATTERN",
		"conditions": []map[string]any{{"type": "KEYWORD", "pattern": "declined"}},
	})
	require.Equal(t, http.StatusCreated, code, resp.Error)
	var trap struct {
		ID string `json:"id"`
	}
	decodeData(t, resp, &trap)

	code, resp = env.do(t, "POST", "/api/v1/rules", tok, map[string]any{
		"trapId":    trap.ID,
		"channelId": "ops-slack",
		"severity":  "high",
	})
	require.Equal(t, http.StatusCreated, code, resp.Error)
	var rule struct {
		ID string `json:"id"`
	}
	decodeData(t, resp, &rule)

	code, resp = env.do(t, "POST", "/api/v1/ingest", tok, map[string]any{
		"records": []map[string]any{
			{"teamId": "team-9", "serviceName": "payments", "level": "ERROR", "message": "card declined"},
			{"serviceName": "payments", "level": "INFO", "message": "card accepted"},
		},
	})
	require.Equal(t, http.StatusAccepted, code, resp.Error)
	var result ingest.Result
	decodeData(t, resp, &result)
	assert.Equal(t, 2, result.Accepted)
	assert.Equal(t, []string{trap.ID}, result.Matched)
	assert.Equal(t, 1, result.Fired)
	assert.Equal(t, 1, env.submitter.count())

	code, resp = env.do(t, "GET", "/api/v1/alerts?rule_id="+rule.ID, tok, nil)
	require.Equal(t, http.StatusOK, code)
	var page struct {
		Items []struct {
			ID     string `json:"id"`
			Status string `json:"status"`
		} `json:"items"`
		Total int64 `json:"total"`
	}
	decodeData(t, resp, &page)
	require.Len(t, page.Items, 1)
	assert.Equal(t, "FIRED", page.Items[0].Status)
	alertID := page.Items[0].ID

	code, resp = env.do(t, "POST", "/api/v1/alerts/"+alertID+"/acknowledge", tok, nil)
	require.Equal(t, http.StatusOK, code, resp.Error)
	var alert struct {
		Status         string `json:"status"`
		AcknowledgedBy string `json:"acknowledgedBy"`
		ResolvedBy     string `json:"resolvedBy"`
	}
	decodeData(t, resp, &alert)
	assert.Equal(t, "ACKNOWLEDGED", alert.Status)
	assert.Equal(t, "alice", alert.AcknowledgedBy)

	code, resp = env.do(t, "PUT", "/api/v1/alerts/"+alertID+"/status", tok, map[string]string{"status": "resolved"})
	require.Equal(t, http.StatusOK, code, resp.Error)
	decodeData(t, resp, &alert)
	assert.Equal(t, "RESOLVED", alert.Status)
	assert.Equal(t, "alice", alert.ResolvedBy)

	code, resp = env.do(t, "POST", "/api/v1/alerts/"+alertID+"/acknowledge", tok, nil)
	assert.Equal(t, http.StatusConflict, code)
	assert.Equal(t, "INVALID_TRANSITION", resp.Error.Code)
	assert.Contains(t, resp.Error.Message, "already resolved")

	// The alert belongs to team-1 only.
	other := env.token(t, "bob", "team-2", auth.RoleMember)
	code, _ = env.do(t, "GET", "/api/v1/alerts/"+alertID, other, nil)
	assert.Equal(t, http.StatusNotFound, code)
}

func TestAPI_AlertHistoryFilters(t *testing.T) {
	env := testServer(t)
	tok := env.token(t, "alice", "team-1", auth.RoleMember)

	code, resp := env.do(t, "GET", "/api/v1/alerts?status=SLEEPING", tok, nil)
	assert.Equal(t, http.StatusBadRequest, code)
	assert.Equal(t, "VALIDATION_FAILED", resp.Error.Code)

	code, _ = env.do(t, "GET", "/api/v1/alerts?per_page=abc", tok, nil)
	assert.Equal(t, http.StatusBadRequest, code)

	code, resp = env.do(t, "GET", "/api/v1/alerts?status=fired&severity=HIGH&page=2&per_page=10", tok, nil)
	require.Equal(t, http.StatusOK, code)
	var page struct {
		Page    int `json:"page"`
		PerPage int `json:"per_page"`
	}
	decodeData(t, resp, &page)
	assert.Equal(t, 2, page.Page)
	assert.Equal(t, 10, page.PerPage)
}

func TestAPI_RuleErrors(t *testing.T) {
	env := testServer(t)
	tok := env.token(t, "alice", "team-1", auth.RoleMember)

	code, resp := env.do(t, "POST", "/api/v1/rules", tok, map[string]any{
		"trapId": "missing", "channelId": "ops", "severity": "high",
	})
	assert.Equal(t, http.StatusNotFound, code)
	assert.Equal(t, "NOT_FOUND", resp.Error.Code)

	code, resp = env.do(t, "POST", "/api/v1/rules", tok, map[string]any{
		"trapId": "missing", "channelId": "ops", "severity": "urgent",
	})
	assert.Equal(t, http.StatusBadRequest, code)
	assert.Contains(t, resp.Error.Message, "severity")

	code, _ = env.do(t, "GET", "/api/v1/rules/nope", tok, nil)
	assert.Equal(t, http.StatusNotFound, code)
}

func TestAPI_TestDefinition(t *testing.T) {
	env := testServer(t)
	tok := env.token(t, "alice", "team-1", auth.RoleMember)

	code, resp := env.do(t, "POST", "/api/v1/ingest", tok, map[string]any{
		"records": []map[string]any{
			{"serviceName": "api", "message": "upstream timeout"},
			{"serviceName": "api", "message": "ok"},
		},
	})
	require.Equal(t, http.StatusAccepted, code, resp.Error)

	code, resp = env.do(t, "POST", "/api/v1/traps/test", tok, map[string]any{
		"trap": map[string]any{
			"name":       "timeouts",
			"type":       "PATTERN",
			"conditions": []map[string]any{{"type": "KEYWORD", "pattern": "timeout"}},
		},
		"hours": 1,
	})
	require.Equal(t, http.StatusOK, code, resp.Error)
	var result traps.TestResult
	decodeData(t, resp, &result)
	assert.Equal(t, 1, result.MatchCount)
	assert.Equal(t, 2, result.TotalScanned)

	code, resp = env.do(t, "POST", "/api/v1/traps/test", tok, map[string]any{
		"trap":  map[string]any{"name": "t", "type": "PATTERN"},
		"hours": 1000,
	})
	assert.Equal(t, http.StatusBadRequest, code)
	assert.Contains(t, resp.Error.Message, "hours")
}

func TestServer_RunShutdown(t *testing.T) {
	env := testServer(t)
	env.server.config.Address = "127.0.0.1:0"
	env.server.server.Addr = "127.0.0.1:0"

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- env.server.Run(ctx) }()

	time.Sleep(50 * time.Millisecond)
	cancel()

	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("server did not shut down")
	}
}
