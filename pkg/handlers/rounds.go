package handlers

import (
	"net/http"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/reforge-inc/reforge-engine/pkg/services"
)

// RoundsHandler exposes read-only round history and changelog endpoints for
// operators. Mutating the round lifecycle stays with the embedding
// application; these endpoints exist for audit inspection only.
type RoundsHandler struct {
	rounds services.RoundService
	logger *zap.Logger
}

// NewRoundsHandler creates a RoundsHandler.
func NewRoundsHandler(rounds services.RoundService, logger *zap.Logger) *RoundsHandler {
	return &RoundsHandler{rounds: rounds, logger: logger}
}

// RegisterRoutes registers the rounds handler's routes on the given mux.
func (h *RoundsHandler) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("GET /rounds/history", h.History)
	mux.HandleFunc("GET /rounds/changelog", h.Changelog)
}

// History handles GET /rounds/history?work_item_id=...&include_rolled_back=true.
func (h *RoundsHandler) History(w http.ResponseWriter, r *http.Request) {
	workItemID, err := uuid.Parse(r.URL.Query().Get("work_item_id"))
	if err != nil {
		_ = ErrorResponse(w, http.StatusBadRequest, "invalid_work_item_id", "work_item_id must be a UUID")
		return
	}
	includeRolledBack := r.URL.Query().Get("include_rolled_back") == "true"

	history, err := h.rounds.GetHistory(r.Context(), workItemID, includeRolledBack)
	if err != nil {
		h.logger.Error("Failed to load round history",
			zap.String("work_item_id", workItemID.String()),
			zap.Error(err))
		_ = ErrorResponse(w, http.StatusInternalServerError, "internal", "failed to load round history")
		return
	}
	if history.CurrentRound == 0 && len(history.Rounds) == 0 {
		_ = ErrorResponse(w, http.StatusNotFound, "not_found", "work item has no rounds")
		return
	}

	if err := WriteJSON(w, http.StatusOK, history); err != nil {
		h.logger.Error("Failed to encode round history", zap.Error(err))
	}
}

// Changelog handles GET /rounds/changelog?work_item_id=....
func (h *RoundsHandler) Changelog(w http.ResponseWriter, r *http.Request) {
	workItemID, err := uuid.Parse(r.URL.Query().Get("work_item_id"))
	if err != nil {
		_ = ErrorResponse(w, http.StatusBadRequest, "invalid_work_item_id", "work_item_id must be a UUID")
		return
	}

	entries, err := h.rounds.GetChangelog(r.Context(), workItemID)
	if err != nil {
		h.logger.Error("Failed to load changelog",
			zap.String("work_item_id", workItemID.String()),
			zap.Error(err))
		_ = ErrorResponse(w, http.StatusInternalServerError, "internal", "failed to load changelog")
		return
	}

	if err := WriteJSON(w, http.StatusOK, entries); err != nil {
		h.logger.Error("Failed to encode changelog", zap.Error(err))
	}
}
