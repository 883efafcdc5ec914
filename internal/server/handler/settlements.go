package handler

import (
	"errors"
	"log/slog"
	"net/http"
	"strings"

	"github.com/alanyoungcy/updownbot/internal/domain"
)

// SettlementHandler serves the settlement journal.
type SettlementHandler struct {
	store  domain.SettlementStore
	logger *slog.Logger
}

// NewSettlementHandler creates a SettlementHandler over store.
func NewSettlementHandler(store domain.SettlementStore, logger *slog.Logger) *SettlementHandler {
	return &SettlementHandler{store: store, logger: logger.With(slog.String("handler", "settlements"))}
}

type listSettlementsResponse struct {
	Settlements []domain.SettlementRecord `json:"settlements"`
}

// ListSettlements returns journaled settlements newest first.
// GET /api/settlements?symbol=BTC&limit=50&offset=0&since=...&until=...
func (h *SettlementHandler) ListSettlements(w http.ResponseWriter, r *http.Request) {
	symbol := strings.ToUpper(strings.TrimSpace(r.URL.Query().Get("symbol")))

	recs, err := h.store.ListRecent(r.Context(), symbol, parseListOpts(r))
	if err != nil {
		h.logger.ErrorContext(r.Context(), "list settlements failed", slog.String("error", err.Error()))
		writeError(w, http.StatusInternalServerError, "failed to list settlements")
		return
	}
	if recs == nil {
		recs = []domain.SettlementRecord{}
	}
	writeJSON(w, http.StatusOK, listSettlementsResponse{Settlements: recs})
}

// GetSettlement returns the journaled settlement of one round.
// GET /api/settlements/{id}
func (h *SettlementHandler) GetSettlement(w http.ResponseWriter, r *http.Request) {
	rec, err := h.store.GetByRoundID(r.Context(), r.PathValue("id"))
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			writeError(w, http.StatusNotFound, "settlement not found")
			return
		}
		h.logger.ErrorContext(r.Context(), "get settlement failed", slog.String("error", err.Error()))
		writeError(w, http.StatusInternalServerError, "failed to get settlement")
		return
	}
	writeJSON(w, http.StatusOK, rec)
}
