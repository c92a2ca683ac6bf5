// Package rules serves the alert rule endpoints.
package rules

import (
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/good-yellow-bee/logtrap/internal/alerts"
	"github.com/good-yellow-bee/logtrap/internal/api/middleware"
	"github.com/good-yellow-bee/logtrap/internal/api/request"
	"github.com/good-yellow-bee/logtrap/internal/api/response"
)

// Handler handles alert rule endpoints.
type Handler struct {
	rules  *alerts.Rules
	logger *zap.Logger
}

// NewHandler creates a rule handler.
func NewHandler(rules *alerts.Rules, logger *zap.Logger) *Handler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Handler{rules: rules, logger: logger.Named("api.rules")}
}

// Routes mounts the rule endpoints on r.
func (h *Handler) Routes(r chi.Router) {
	r.Get("/", h.List)
	r.Post("/", h.Create)
	r.Get("/{id}", h.Get)
	r.Put("/{id}", h.Update)
	r.Delete("/{id}", h.Delete)
}

// RuleRequest is the create and update body. TrapID is required on create
// and must match on update.
type RuleRequest struct {
	TrapID          string `json:"trapId" validate:"max=64"`
	ChannelID       string `json:"channelId" validate:"required,max=100"`
	Severity        string `json:"severity" validate:"required"`
	ThrottleMinutes int    `json:"throttleMinutes" validate:"gte=0"`
	Active          *bool  `json:"active,omitempty"`
}

func (req *RuleRequest) input() *alerts.RuleInput {
	return &alerts.RuleInput{
		TrapID:          req.TrapID,
		ChannelID:       req.ChannelID,
		Severity:        req.Severity,
		ThrottleMinutes: req.ThrottleMinutes,
		Active:          req.Active,
	}
}

// List returns the team's rules, optionally filtered by trap_id.
func (h *Handler) List(w http.ResponseWriter, r *http.Request) {
	list, err := h.rules.List(r.Context(), middleware.GetTeamID(r.Context()), r.URL.Query().Get("trap_id"))
	if err != nil {
		h.writeError(w, "list rules", err)
		return
	}
	response.OK(w, list)
}

// Create adds a rule to a trap of the team.
func (h *Handler) Create(w http.ResponseWriter, r *http.Request) {
	var req RuleRequest
	if e := request.Decode(w, r, &req); e != nil {
		response.JSONError(w, e)
		return
	}
	if req.TrapID == "" {
		response.JSONError(w, response.NewValidationError("trapId is required"))
		return
	}
	rule, err := h.rules.Create(r.Context(), middleware.GetTeamID(r.Context()), req.input())
	if err != nil {
		h.writeError(w, "create rule", err)
		return
	}
	response.Created(w, rule)
}

// Get returns one rule.
func (h *Handler) Get(w http.ResponseWriter, r *http.Request) {
	rule, err := h.rules.Get(r.Context(), middleware.GetTeamID(r.Context()), chi.URLParam(r, "id"))
	if err != nil {
		h.writeError(w, "get rule", err)
		return
	}
	response.OK(w, rule)
}

// Update changes a rule.
func (h *Handler) Update(w http.ResponseWriter, r *http.Request) {
	var req RuleRequest
	if e := request.Decode(w, r, &req); e != nil {
		response.JSONError(w, e)
		return
	}
	rule, err := h.rules.Update(r.Context(), middleware.GetTeamID(r.Context()), chi.URLParam(r, "id"), req.input())
	if err != nil {
		h.writeError(w, "update rule", err)
		return
	}
	response.OK(w, rule)
}

// Delete removes a rule.
func (h *Handler) Delete(w http.ResponseWriter, r *http.Request) {
	if err := h.rules.Delete(r.Context(), middleware.GetTeamID(r.Context()), chi.URLParam(r, "id")); err != nil {
		h.writeError(w, "delete rule", err)
		return
	}
	response.NoContent(w)
}

func (h *Handler) writeError(w http.ResponseWriter, op string, err error) {
	var verr *alerts.ValidationError
	switch {
	case errors.As(err, &verr):
		response.JSONError(w, response.NewValidationError(verr.Error()))
	case errors.Is(err, alerts.ErrRuleNotFound):
		response.JSONError(w, response.NewNotFound("alert rule not found"))
	case errors.Is(err, alerts.ErrTrapNotFound):
		response.JSONError(w, response.NewNotFound("trap not found"))
	default:
		h.logger.Error(op+" failed", zap.Error(err))
		response.JSONError(w, response.ErrInternalServer)
	}
}
