package quote

import (
	"encoding/json"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/aegis-trader/paper-engine/internal/ledger"
)

// Handlers exposes the quote gateway over HTTP.
type Handlers struct {
	source Source
}

// NewHandlers wraps a Source with HTTP handlers.
func NewHandlers(source Source) *Handlers {
	return &Handlers{source: source}
}

// GetQuote handles GET /api/v1/quotes/{symbol}
func (h *Handlers) GetQuote(w http.ResponseWriter, r *http.Request) {
	symbol := ledger.Normalize(chi.URLParam(r, "symbol"))
	if symbol == "" {
		writeError(w, "symbol is required", http.StatusBadRequest)
		return
	}

	q, err := h.source.Quote(r.Context(), symbol)
	if err != nil {
		slog.Error("quote lookup failed", "symbol", symbol, "err", err)
		writeError(w, "quote source unavailable", http.StatusBadGateway)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(q)
}

// GetCandles handles GET /api/v1/quotes/{symbol}/candles?period=30d
func (h *Handlers) GetCandles(w http.ResponseWriter, r *http.Request) {
	symbol := ledger.Normalize(chi.URLParam(r, "symbol"))
	if symbol == "" {
		writeError(w, "symbol is required", http.StatusBadRequest)
		return
	}
	period := r.URL.Query().Get("period")
	if period == "" {
		period = "30d"
	}

	candles, err := h.source.Candles(r.Context(), symbol, period)
	if err != nil {
		slog.Error("candle lookup failed", "symbol", symbol, "period", period, "err", err)
		writeError(w, "quote source unavailable", http.StatusBadGateway)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]any{
		"symbol":  symbol,
		"period":  period,
		"candles": candles,
	})
}

func writeError(w http.ResponseWriter, message string, status int) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(map[string]string{"error": message})
}
