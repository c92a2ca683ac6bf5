// Package alerts serves alert history and lifecycle endpoints.
package alerts

import (
	"errors"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/good-yellow-bee/logtrap/internal/alerts"
	"github.com/good-yellow-bee/logtrap/internal/api/middleware"
	"github.com/good-yellow-bee/logtrap/internal/api/request"
	"github.com/good-yellow-bee/logtrap/internal/api/response"
	"github.com/good-yellow-bee/logtrap/internal/models"
)

// Handler handles alert endpoints.
type Handler struct {
	lifecycle *alerts.Lifecycle
	logger    *zap.Logger
}

// NewHandler creates an alert handler.
func NewHandler(lifecycle *alerts.Lifecycle, logger *zap.Logger) *Handler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Handler{lifecycle: lifecycle, logger: logger.Named("api.alerts")}
}

// Routes mounts the alert endpoints on r.
func (h *Handler) Routes(r chi.Router) {
	r.Get("/", h.History)
	r.Get("/{id}", h.Get)
	r.Post("/{id}/acknowledge", h.Acknowledge)
	r.Post("/{id}/resolve", h.Resolve)
	r.Put("/{id}/status", h.SetStatus)
}

// StatusRequest is the body of a status change.
type StatusRequest struct {
	Status string `json:"status" validate:"required"`
}

// History returns the team's alerts, newest first.
func (h *Handler) History(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	filter := alerts.HistoryFilter{
		TeamID: middleware.GetTeamID(r.Context()),
		RuleID: q.Get("rule_id"),
		TrapID: q.Get("trap_id"),
	}

	if s := q.Get("status"); s != "" {
		status, err := models.ParseAlertStatus(s)
		if err != nil {
			response.JSONError(w, response.NewValidationError("status must be one of FIRED, ACKNOWLEDGED, RESOLVED"))
			return
		}
		filter.Status = status
	}
	if s := q.Get("severity"); s != "" {
		severity, err := models.ParseSeverity(s)
		if err != nil {
			response.JSONError(w, response.NewValidationError("severity must be one of low, medium, high, critical"))
			return
		}
		filter.Severity = severity
	}

	var e *response.Error
	if filter.Page, e = request.IntQuery(r, "page", 1); e != nil {
		response.JSONError(w, e)
		return
	}
	if filter.PerPage, e = request.IntQuery(r, "per_page", 50); e != nil {
		response.JSONError(w, e)
		return
	}

	page, err := h.lifecycle.History(r.Context(), filter)
	if err != nil {
		h.writeError(w, "list alerts", err)
		return
	}
	response.OK(w, response.NewPage(page.Alerts, page.Total, page.Page, page.PerPage))
}

// Get returns one alert.
func (h *Handler) Get(w http.ResponseWriter, r *http.Request) {
	alert, err := h.lifecycle.Get(r.Context(), middleware.GetTeamID(r.Context()), chi.URLParam(r, "id"))
	if err != nil {
		h.writeError(w, "get alert", err)
		return
	}
	response.OK(w, alert)
}

// Acknowledge marks an alert as acknowledged by the caller.
func (h *Handler) Acknowledge(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	alert, err := h.lifecycle.Acknowledge(ctx, middleware.GetTeamID(ctx), chi.URLParam(r, "id"), middleware.GetUserID(ctx))
	if err != nil {
		h.writeError(w, "acknowledge alert", err)
		return
	}
	response.OK(w, alert)
}

// Resolve marks an alert as resolved by the caller.
func (h *Handler) Resolve(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	alert, err := h.lifecycle.Resolve(ctx, middleware.GetTeamID(ctx), chi.URLParam(r, "id"), middleware.GetUserID(ctx))
	if err != nil {
		h.writeError(w, "resolve alert", err)
		return
	}
	response.OK(w, alert)
}

// SetStatus applies a named status.
func (h *Handler) SetStatus(w http.ResponseWriter, r *http.Request) {
	var req StatusRequest
	if e := request.Decode(w, r, &req); e != nil {
		response.JSONError(w, e)
		return
	}
	ctx := r.Context()
	alert, err := h.lifecycle.SetStatus(ctx, middleware.GetTeamID(ctx), chi.URLParam(r, "id"),
		strings.TrimSpace(req.Status), middleware.GetUserID(ctx))
	if err != nil {
		h.writeError(w, "set alert status", err)
		return
	}
	response.OK(w, alert)
}

func (h *Handler) writeError(w http.ResponseWriter, op string, err error) {
	switch {
	case errors.Is(err, alerts.ErrAlertNotFound):
		response.JSONError(w, response.NewNotFound("alert not found"))
	case errors.Is(err, alerts.ErrInvalidTransition):
		response.JSONError(w, response.NewInvalidTransition(err.Error()))
	default:
		h.logger.Error(op+" failed", zap.Error(err))
		response.JSONError(w, response.ErrInternalServer)
	}
}
