// Package model defines the core domain types shared across the paper engine.
// All monetary values use shopspring/decimal — never float64 for money.
// Share counts are whole integers.
package model

import (
	"time"

	"github.com/shopspring/decimal"
)

// Trade sides.
const (
	SideBuy  = "buy"
	SideSell = "sell"
)

// Position is one row per symbol currently held. Shares is always > 0
// while the position exists; a position sold down to zero is removed,
// never retained.
type Position struct {
	Symbol      string          `json:"symbol" db:"symbol"`
	Shares      int64           `json:"shares" db:"shares"`
	AverageCost decimal.Decimal `json:"average_cost" db:"average_cost"` // volume-weighted, recomputed on buys
}

// Order is an immutable record of one executed trade.
// Once created, these are never modified or deleted.
type Order struct {
	ID        string          `json:"id" db:"id"`
	Symbol    string          `json:"symbol" db:"symbol"`
	Side      string          `json:"side" db:"side"` // "buy" or "sell"
	Shares    int64           `json:"shares" db:"shares"`
	Price     decimal.Decimal `json:"price" db:"price"` // execution price
	Total     decimal.Decimal `json:"total" db:"total"` // shares * price
	Timestamp time.Time       `json:"timestamp" db:"timestamp"`
}

// Account is one user's paper-trading ledger: cash, open positions, and
// the order history, newest first.
type Account struct {
	CashBalance decimal.Decimal `json:"cash_balance"`
	Positions   []Position      `json:"positions"`
	Orders      []Order         `json:"orders"`
}

// Quote is a point-in-time snapshot for one symbol, as returned by the
// quote gateway. Unknown symbols yield zeroed fields rather than an
// error; callers treat an all-zero quote as "unknown".
type Quote struct {
	Symbol        string          `json:"symbol"`
	Current       decimal.Decimal `json:"current"`
	Change        decimal.Decimal `json:"change"`
	ChangePercent decimal.Decimal `json:"change_percent"`
	High          decimal.Decimal `json:"high"`
	Low           decimal.Decimal `json:"low"`
	Open          decimal.Decimal `json:"open"`
	PrevClose     decimal.Decimal `json:"prev_close"`
}

// Candle is one bar of a price time series.
type Candle struct {
	Timestamp time.Time       `json:"timestamp"`
	Open      decimal.Decimal `json:"open"`
	High      decimal.Decimal `json:"high"`
	Low       decimal.Decimal `json:"low"`
	Close     decimal.Decimal `json:"close"`
	Volume    int64           `json:"volume"`
}

// Analysis run statuses.
const (
	RunPending   = "PENDING"
	RunRunning   = "RUNNING"
	RunCompleted = "COMPLETED"
	RunFailed    = "FAILED"
)

// AgentOpinion is one scripted analyst's contribution to a debate run.
// Scores and confidences are generated, not inferred.
type AgentOpinion struct {
	Name       string  `json:"name"`
	Role       string  `json:"role"`
	Score      float64 `json:"score"`      // -1.0 .. 1.0
	Confidence int     `json:"confidence"` // 0 .. 100
	Reasoning  string  `json:"reasoning"`
	KeyData    string  `json:"key_data"`
	BullCase   string  `json:"bull_case,omitempty"`
	BearCase   string  `json:"bear_case,omitempty"`
}

// Consensus is the chief analyst's final call for a debate run.
type Consensus struct {
	Score       float64  `json:"score"`
	Action      string   `json:"action"` // BUY, SELL, HOLD
	Confidence  int      `json:"confidence"`
	Allocation  int      `json:"allocation"` // suggested % of portfolio
	RiskLevel   string   `json:"risk_level"`
	Reasoning   string   `json:"reasoning"`
	TimeHorizon string   `json:"time_horizon"`
	KeyRisks    []string `json:"key_risks,omitempty"`
}

// AnalysisRun tracks the state and results of one scripted debate run.
type AnalysisRun struct {
	ID            string         `json:"run_id"`
	Ticker        string         `json:"ticker"`
	Timeframe     string         `json:"timeframe"`
	IncludeSocial bool           `json:"include_social"`
	Status        string         `json:"status"`
	Agents        []AgentOpinion `json:"agents,omitempty"`
	Consensus     *Consensus     `json:"consensus,omitempty"`
	CreatedAt     time.Time      `json:"created_at"`
	StartedAt     *time.Time     `json:"started_at,omitempty"`
	CompletedAt   *time.Time     `json:"completed_at,omitempty"`
	ExecutionTime int            `json:"execution_time,omitempty"` // seconds
	Error         string         `json:"error,omitempty"`
}
