package quote

import (
	"context"
	"hash/fnv"
	"math"
	"math/rand"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"github.com/aegis-trader/paper-engine/internal/ledger"
	"github.com/aegis-trader/paper-engine/internal/metrics"
	"github.com/aegis-trader/paper-engine/internal/model"
)

// MockSource simulates market data with a per-symbol random walk. The
// base price for a symbol is derived from its name, so the same symbol
// always starts in the same range across restarts. Used when no market
// data API is configured.
type MockSource struct {
	mu     sync.Mutex
	prices map[string]float64
	rng    *rand.Rand
}

// NewMockSource creates a simulated quote source.
func NewMockSource() *MockSource {
	return &MockSource{
		prices: make(map[string]float64),
		rng:    rand.New(rand.NewSource(time.Now().UnixNano())),
	}
}

func (m *MockSource) Quote(_ context.Context, symbol string) (*model.Quote, error) {
	symbol = ledger.Normalize(symbol)
	metrics.QuoteRequests.WithLabelValues("mock").Inc()

	m.mu.Lock()
	defer m.mu.Unlock()

	open := m.currentLocked(symbol)
	// ±2% move per observation.
	current := open * (1 + (m.rng.Float64()-0.5)*0.04)
	m.prices[symbol] = current

	prevClose := open
	change := current - prevClose
	changePct := 0.0
	if prevClose != 0 {
		changePct = change / prevClose * 100
	}
	high := math.Max(open, current) * (1 + m.rng.Float64()*0.01)
	low := math.Min(open, current) * (1 - m.rng.Float64()*0.01)

	return &model.Quote{
		Symbol:        symbol,
		Current:       round2(current),
		Change:        round2(change),
		ChangePercent: round2(changePct),
		High:          round2(high),
		Low:           round2(low),
		Open:          round2(open),
		PrevClose:     round2(prevClose),
	}, nil
}

func (m *MockSource) Candles(_ context.Context, symbol string, period string) ([]model.Candle, error) {
	symbol = ledger.Normalize(symbol)
	metrics.QuoteRequests.WithLabelValues("mock").Inc()

	m.mu.Lock()
	defer m.mu.Unlock()

	days := PeriodDays(period)
	end := m.currentLocked(symbol)

	// Walk backwards from the current price so the series ends where the
	// quote endpoint is.
	closes := make([]float64, days)
	closes[days-1] = end
	for i := days - 2; i >= 0; i-- {
		closes[i] = closes[i+1] / (1 + (m.rng.Float64()-0.5)*0.04)
	}

	now := time.Now().UTC().Truncate(24 * time.Hour)
	candles := make([]model.Candle, 0, days)
	for i, c := range closes {
		open := c * (1 + (m.rng.Float64()-0.5)*0.02)
		high := math.Max(open, c) * (1 + m.rng.Float64()*0.01)
		low := math.Min(open, c) * (1 - m.rng.Float64()*0.01)
		candles = append(candles, model.Candle{
			Timestamp: now.AddDate(0, 0, i-days+1),
			Open:      round2(open),
			High:      round2(high),
			Low:       round2(low),
			Close:     round2(c),
			Volume:    int64(m.rng.Intn(900000) + 100000),
		})
	}
	return candles, nil
}

// currentLocked returns the walked price for a symbol, seeding it
// deterministically from the symbol name on first use.
func (m *MockSource) currentLocked(symbol string) float64 {
	if price, ok := m.prices[symbol]; ok {
		return price
	}
	h := fnv.New32a()
	h.Write([]byte(symbol))
	// 50.00 .. 949.99
	price := 50 + float64(h.Sum32()%90000)/100
	m.prices[symbol] = price
	return price
}

func round2(f float64) decimal.Decimal {
	return decimal.NewFromFloat(f).Round(2)
}
