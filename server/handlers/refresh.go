package handlers

import (
	"log/slog"
	"net/http"
)

// RefreshHandler triggers an immediate snapshot refresh.
type RefreshHandler struct {
	logger    *slog.Logger
	refresher Refresher
}

// NewRefreshHandler creates a RefreshHandler.
func NewRefreshHandler(logger *slog.Logger, refresher Refresher) *RefreshHandler {
	return &RefreshHandler{
		logger:    logger,
		refresher: refresher,
	}
}

// ServeHTTP implements http.Handler. The refresh runs synchronously; a
// failure maps to 502 since it means the platform could not be reached.
func (h *RefreshHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if err := h.refresher.Refresh(r.Context()); err != nil {
		h.logger.Error("manual refresh failed", "error", err)
		writeJSON(w, http.StatusBadGateway, ErrorResponse{Error: err.Error()})
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
