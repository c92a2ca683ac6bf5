// Package ingest serves the record submission endpoint.
package ingest

import (
	"errors"
	"net/http"

	"go.uber.org/zap"

	"github.com/good-yellow-bee/logtrap/internal/api/middleware"
	"github.com/good-yellow-bee/logtrap/internal/api/request"
	"github.com/good-yellow-bee/logtrap/internal/api/response"
	"github.com/good-yellow-bee/logtrap/internal/ingest"
	"github.com/good-yellow-bee/logtrap/internal/models"
)

// MaxRecordsPerRequest caps one submission.
const MaxRecordsPerRequest = 1000

// Handler accepts log records for the caller's team.
type Handler struct {
	pipeline *ingest.Pipeline
	logger   *zap.Logger
}

// NewHandler creates an ingest handler.
func NewHandler(pipeline *ingest.Pipeline, logger *zap.Logger) *Handler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Handler{pipeline: pipeline, logger: logger.Named("api.ingest")}
}

// SubmitRequest is the ingest body.
type SubmitRequest struct {
	Records []*models.LogRecord `json:"records" validate:"required,min=1,max=1000,dive,required"`
}

// Submit stores and evaluates the records. Every record is assigned to the
// token's team regardless of what the body says.
func (h *Handler) Submit(w http.ResponseWriter, r *http.Request) {
	var req SubmitRequest
	if e := request.Decode(w, r, &req); e != nil {
		response.JSONError(w, e)
		return
	}

	teamID := middleware.GetTeamID(r.Context())
	for _, rec := range req.Records {
		rec.TeamID = teamID
	}

	result, err := h.pipeline.ProcessBatch(r.Context(), ingest.SourceHTTP, req.Records)
	if err != nil {
		if errors.Is(err, ingest.ErrMissingTeam) {
			response.JSONError(w, response.ErrForbidden)
			return
		}
		h.logger.Error("ingest failed", zap.String("team_id", teamID), zap.Error(err))
		response.JSONError(w, response.NewUnavailable("records could not be stored"))
		return
	}
	response.JSON(w, http.StatusAccepted, result)
}
