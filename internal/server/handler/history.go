package handler

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/Valrob28/traderbrok/internal/domain"
)

// TradeHistory serves recorded trades from durable storage.
type TradeHistory interface {
	History(ctx context.Context, symbol string, opts domain.ListOpts) ([]domain.Trade, error)
}

// HistoryHandler serves recorded trade history.
type HistoryHandler struct {
	history TradeHistory
	logger  *slog.Logger
}

// NewHistoryHandler creates a HistoryHandler.
func NewHistoryHandler(history TradeHistory, logger *slog.Logger) *HistoryHandler {
	return &HistoryHandler{history: history, logger: logger}
}

// GetHistory returns recorded trades, newest first.
// GET /api/markets/{symbol}/trades/history?limit=50&offset=0&since=...&until=...
func (h *HistoryHandler) GetHistory(w http.ResponseWriter, r *http.Request) {
	opts := parseListOpts(r)
	trades, err := h.history.History(r.Context(), pathParam(r, "symbol"), opts)
	if err != nil {
		writeDomainError(w, r, h.logger, "trade history", err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"trades": trades,
		"limit":  opts.Limit,
		"offset": opts.Offset,
	})
}
