// Package quote implements the quote gateway: current prices and candle
// series for a symbol, served from a market-data API or a simulated
// source. The ledger never calls this package; callers fetch a price
// here and pass it into the trade request.
package quote

import (
	"context"

	"github.com/aegis-trader/paper-engine/internal/model"
)

// Source supplies market data for symbols. Implementations return a
// zeroed quote (not an error) for unknown symbols; callers treat an
// all-zero quote as "unknown", never as a real price of zero.
type Source interface {
	// Quote returns the current snapshot for a symbol.
	Quote(ctx context.Context, symbol string) (*model.Quote, error)

	// Candles returns the price series for a symbol over a period
	// such as "1d", "30d", "90d", "1y".
	Candles(ctx context.Context, symbol string, period string) ([]model.Candle, error)
}

// periodDays maps a timeframe string to the number of daily bars it
// spans. Unknown periods fall back to 30.
var periodDays = map[string]int{
	"1d": 1, "5d": 5, "7d": 7, "30d": 30,
	"90d": 90, "1y": 252, "2y": 504, "5y": 1260,
}

// PeriodDays resolves a period string to a daily bar count.
func PeriodDays(period string) int {
	if n, ok := periodDays[period]; ok {
		return n
	}
	return 30
}
