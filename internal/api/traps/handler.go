// Package traps serves the trap CRUD and replay endpoints.
package traps

import (
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/good-yellow-bee/logtrap/internal/api/middleware"
	"github.com/good-yellow-bee/logtrap/internal/api/request"
	"github.com/good-yellow-bee/logtrap/internal/api/response"
	"github.com/good-yellow-bee/logtrap/internal/models"
	"github.com/good-yellow-bee/logtrap/internal/traps"
)

// Handler handles trap endpoints.
type Handler struct {
	manager *traps.Manager
	logger  *zap.Logger
}

// NewHandler creates a trap handler.
func NewHandler(manager *traps.Manager, logger *zap.Logger) *Handler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Handler{manager: manager, logger: logger.Named("api.traps")}
}

// Routes mounts the trap endpoints on r.
func (h *Handler) Routes(r chi.Router) {
	r.Get("/", h.List)
	r.Post("/", h.Create)
	r.Post("/test", h.TestDefinition)
	r.Get("/{id}", h.Get)
	r.Put("/{id}", h.Update)
	r.Delete("/{id}", h.Delete)
	r.Post("/{id}/toggle", h.Toggle)
	r.Post("/{id}/test", h.Test)
}

// Request types
type ConditionRequest struct {
	Type              string `json:"type" validate:"required"`
	Field             string `json:"field"`
	Pattern           string `json:"pattern" validate:"max=1000"`
	Threshold         int    `json:"threshold" validate:"gte=0"`
	WindowSeconds     int    `json:"windowSeconds" validate:"gte=0"`
	ServiceNameFilter string `json:"serviceNameFilter" validate:"max=255"`
	SeverityFilter    string `json:"severityFilter"`
}

type TrapRequest struct {
	Name        string             `json:"name" validate:"required,max=100"`
	Description string             `json:"description" validate:"max=1000"`
	Type        string             `json:"type" validate:"required"`
	Active      *bool              `json:"active,omitempty"`
	Conditions  []ConditionRequest `json:"conditions" validate:"omitempty,dive"`
}

type TestRequest struct {
	Hours int `json:"hours" validate:"gte=0"`
}

type TestDefinitionRequest struct {
	Trap  *TrapRequest `json:"trap" validate:"required"`
	Hours int          `json:"hours" validate:"gte=0"`
}

// definition converts the request, keeping a nil condition list nil so an
// update without conditions leaves them untouched.
func (req *TrapRequest) definition() *traps.Definition {
	def := &traps.Definition{
		Name:        req.Name,
		Description: req.Description,
		Type:        req.Type,
		Active:      req.Active,
	}
	if req.Conditions != nil {
		def.Conditions = make([]traps.ConditionDefinition, len(req.Conditions))
		for i, c := range req.Conditions {
			def.Conditions[i] = traps.ConditionDefinition{
				Type:              c.Type,
				Field:             c.Field,
				Pattern:           c.Pattern,
				Threshold:         c.Threshold,
				WindowSeconds:     c.WindowSeconds,
				ServiceNameFilter: c.ServiceNameFilter,
				SeverityFilter:    c.SeverityFilter,
			}
		}
	}
	return def
}

// Response types
type ConditionResponse struct {
	Position          int    `json:"position"`
	Type              string `json:"type"`
	Field             string `json:"field,omitempty"`
	Pattern           string `json:"pattern,omitempty"`
	Threshold         int    `json:"threshold,omitempty"`
	WindowSeconds     int    `json:"windowSeconds,omitempty"`
	ServiceNameFilter string `json:"serviceNameFilter,omitempty"`
	SeverityFilter    string `json:"severityFilter,omitempty"`
}

type TrapResponse struct {
	ID              string               `json:"id"`
	Name            string               `json:"name"`
	Description     string               `json:"description,omitempty"`
	Type            string               `json:"type"`
	Active          bool                 `json:"active"`
	TriggerCount    int64                `json:"triggerCount"`
	LastTriggeredAt *time.Time           `json:"lastTriggeredAt,omitempty"`
	Conditions      []*ConditionResponse `json:"conditions"`
	CreatedAt       time.Time            `json:"createdAt"`
	UpdatedAt       time.Time            `json:"updatedAt"`
}

func toResponse(t *models.Trap) *TrapResponse {
	resp := &TrapResponse{
		ID:              t.ID,
		Name:            t.Name,
		Description:     t.Description,
		Type:            string(t.Type),
		Active:          t.Active,
		TriggerCount:    t.TriggerCount,
		LastTriggeredAt: t.LastTriggered,
		Conditions:      make([]*ConditionResponse, 0, len(t.Conditions)),
		CreatedAt:       t.CreatedAt,
		UpdatedAt:       t.UpdatedAt,
	}
	for _, c := range t.Conditions {
		cr := &ConditionResponse{
			Position:          c.Position,
			Type:              string(c.Type),
			Field:             string(c.Field),
			Pattern:           c.Pattern,
			Threshold:         c.Threshold,
			WindowSeconds:     c.WindowSeconds,
			ServiceNameFilter: c.ServiceName,
		}
		if c.MinLevel != models.LevelUnknown {
			cr.SeverityFilter = c.MinLevel.String()
		}
		resp.Conditions = append(resp.Conditions, cr)
	}
	return resp
}

// List returns the team's traps.
func (h *Handler) List(w http.ResponseWriter, r *http.Request) {
	list, err := h.manager.List(r.Context(), middleware.GetTeamID(r.Context()))
	if err != nil {
		h.writeError(w, "list traps", err)
		return
	}
	items := make([]*TrapResponse, 0, len(list))
	for _, t := range list {
		items = append(items, toResponse(t))
	}
	response.OK(w, items)
}

// Create adds a trap.
func (h *Handler) Create(w http.ResponseWriter, r *http.Request) {
	var req TrapRequest
	if e := request.Decode(w, r, &req); e != nil {
		response.JSONError(w, e)
		return
	}
	def := req.definition()
	trap, err := h.manager.Create(r.Context(), middleware.GetTeamID(r.Context()), def)
	if err != nil {
		h.writeError(w, "create trap", err)
		return
	}
	response.Created(w, toResponse(trap))
}

// Get returns one trap.
func (h *Handler) Get(w http.ResponseWriter, r *http.Request) {
	trap, err := h.manager.Get(r.Context(), middleware.GetTeamID(r.Context()), chi.URLParam(r, "id"))
	if err != nil {
		h.writeError(w, "get trap", err)
		return
	}
	response.OK(w, toResponse(trap))
}

// Update replaces a trap's fields. Conditions are replaced when given.
func (h *Handler) Update(w http.ResponseWriter, r *http.Request) {
	var req TrapRequest
	if e := request.Decode(w, r, &req); e != nil {
		response.JSONError(w, e)
		return
	}
	trap, err := h.manager.Update(r.Context(), middleware.GetTeamID(r.Context()), chi.URLParam(r, "id"), req.definition())
	if err != nil {
		h.writeError(w, "update trap", err)
		return
	}
	response.OK(w, toResponse(trap))
}

// Delete removes a trap with its conditions and rules.
func (h *Handler) Delete(w http.ResponseWriter, r *http.Request) {
	if err := h.manager.Delete(r.Context(), middleware.GetTeamID(r.Context()), chi.URLParam(r, "id")); err != nil {
		h.writeError(w, "delete trap", err)
		return
	}
	response.NoContent(w)
}

// Toggle flips a trap's active flag.
func (h *Handler) Toggle(w http.ResponseWriter, r *http.Request) {
	trap, err := h.manager.Toggle(r.Context(), middleware.GetTeamID(r.Context()), chi.URLParam(r, "id"))
	if err != nil {
		h.writeError(w, "toggle trap", err)
		return
	}
	response.OK(w, toResponse(trap))
}

// Test replays a saved trap against recent records.
func (h *Handler) Test(w http.ResponseWriter, r *http.Request) {
	var req TestRequest
	if r.ContentLength != 0 {
		if e := request.Decode(w, r, &req); e != nil {
			response.JSONError(w, e)
			return
		}
	}
	result, err := h.manager.TestTrap(r.Context(), middleware.GetTeamID(r.Context()), chi.URLParam(r, "id"),
		traps.TestOptions{Window: time.Duration(req.Hours) * time.Hour})
	if err != nil {
		h.writeError(w, "test trap", err)
		return
	}
	response.OK(w, result)
}

// TestDefinition validates and replays an unsaved trap.
func (h *Handler) TestDefinition(w http.ResponseWriter, r *http.Request) {
	var req TestDefinitionRequest
	if e := request.Decode(w, r, &req); e != nil {
		response.JSONError(w, e)
		return
	}
	result, err := h.manager.TestTrapDefinition(r.Context(), middleware.GetTeamID(r.Context()), req.Trap.definition(),
		traps.TestOptions{Window: time.Duration(req.Hours) * time.Hour})
	if err != nil {
		h.writeError(w, "test trap definition", err)
		return
	}
	response.OK(w, result)
}

func (h *Handler) writeError(w http.ResponseWriter, op string, err error) {
	var verr *traps.ValidationError
	switch {
	case errors.As(err, &verr):
		response.JSONError(w, response.NewValidationError(verr.Error()))
	case errors.Is(err, traps.ErrTrapNotFound):
		response.JSONError(w, response.NewNotFound("trap not found"))
	case errors.Is(err, traps.ErrNoLogSource):
		response.JSONError(w, response.NewUnavailable("no log store configured for replay"))
	default:
		h.logger.Error(op+" failed", zap.Error(err))
		response.JSONError(w, response.ErrInternalServer)
	}
}
