// Package account provides the HTTP handlers and business logic for the
// paper-trading ledger: executing trades, reading the portfolio and order
// history, and resetting to defaults.
//
// All monetary values use shopspring/decimal — never float64 for money.
package account

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"sync"

	"github.com/shopspring/decimal"

	"github.com/aegis-trader/paper-engine/internal/auth"
	"github.com/aegis-trader/paper-engine/internal/ledger"
	"github.com/aegis-trader/paper-engine/internal/metrics"
	"github.com/aegis-trader/paper-engine/internal/model"
	"github.com/aegis-trader/paper-engine/internal/store"
)

// Service handles ledger operations for one deployment. A mutex
// serializes the read-validate-apply-persist sequence (single-instance).
// For horizontal scaling, replace with distributed locking or
// database-level optimistic concurrency.
type Service struct {
	store store.Store
	mu    sync.Mutex
	wsHub *WSHub // optional WebSocket hub for real-time broadcasts
}

// NewService creates a new account service.
// Pass nil for hub if WebSocket broadcasting is not needed.
func NewService(st store.Store, hub *WSHub) *Service {
	return &Service{
		store: st,
		wsHub: hub,
	}
}

// --- Request/Response types ---

// TradeRequest is the JSON body for POST /api/v1/trades.
type TradeRequest struct {
	Symbol       string          `json:"symbol"`
	Side         string          `json:"side"`   // "buy" or "sell"
	Shares       int64           `json:"shares"` // positive whole number
	CurrentPrice decimal.Decimal `json:"current_price"`
}

// TradeResponse is the JSON body returned from POST /api/v1/trades.
// Rejections carry Success=false plus a machine-readable Reason.
type TradeResponse struct {
	Success     bool             `json:"success"`
	Message     string           `json:"message"`
	Reason      string           `json:"reason,omitempty"`
	Order       *model.Order     `json:"order,omitempty"`
	CashBalance *decimal.Decimal `json:"cash_balance,omitempty"`
}

// PortfolioResponse is the JSON body for GET /api/v1/portfolio.
type PortfolioResponse struct {
	Username    string           `json:"username,omitempty"`
	CashBalance decimal.Decimal  `json:"cash_balance"`
	Positions   []model.Position `json:"positions"`
	TotalValue  decimal.Decimal  `json:"total_value"` // cash + holdings at average cost
}

// Machine-readable rejection reasons, one per ledger error kind.
const (
	ReasonInvalidQuantity    = "invalid_quantity"
	ReasonInsufficientFunds  = "insufficient_funds"
	ReasonInsufficientShares = "insufficient_shares"
)

// --- HTTP Handlers ---

// ExecuteTrade handles POST /api/v1/trades.
// Applies the trade against the caller's ledger and persists the result.
func (s *Service) ExecuteTrade(w http.ResponseWriter, r *http.Request) {
	var req TradeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		// Fractional share counts fail to decode into the integer field;
		// classify those as a quantity rejection rather than a malformed
		// request.
		var typeErr *json.UnmarshalTypeError
		if errors.As(err, &typeErr) && typeErr.Field == "shares" {
			metrics.TradeRejections.WithLabelValues(ReasonInvalidQuantity).Inc()
			w.Header().Set("Content-Type", "application/json")
			w.WriteHeader(http.StatusUnprocessableEntity)
			json.NewEncoder(w).Encode(TradeResponse{
				Success: false,
				Reason:  ReasonInvalidQuantity,
				Message: ledger.ErrInvalidQuantity.Error(),
			})
			return
		}
		writeError(w, "invalid request body", http.StatusBadRequest)
		return
	}

	// --- Input validation ---
	if ledger.Normalize(req.Symbol) == "" {
		writeError(w, "symbol is required", http.StatusBadRequest)
		return
	}
	if req.Side != model.SideBuy && req.Side != model.SideSell {
		writeError(w, "side must be buy or sell", http.StatusBadRequest)
		return
	}
	if req.CurrentPrice.IsNegative() {
		writeError(w, "current_price must be non-negative", http.StatusBadRequest)
		return
	}

	ctx := r.Context()
	userID := auth.UserFrom(ctx)

	// Serialize the read-validate-apply-persist sequence.
	s.mu.Lock()
	defer s.mu.Unlock()

	acct := s.loadOrDefault(r, userID)

	next, order, err := ledger.Apply(acct, ledger.TradeRequest{
		Symbol: req.Symbol,
		Side:   req.Side,
		Shares: req.Shares,
		Price:  req.CurrentPrice,
	})
	if err != nil {
		reason := rejectionReason(err)
		if reason == "" {
			writeError(w, err.Error(), http.StatusBadRequest)
			return
		}
		metrics.TradeRejections.WithLabelValues(reason).Inc()
		slog.Info("trade rejected",
			"user", userID,
			"symbol", req.Symbol,
			"side", req.Side,
			"reason", reason,
		)
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusUnprocessableEntity)
		json.NewEncoder(w).Encode(TradeResponse{
			Success: false,
			Reason:  reason,
			Message: err.Error(),
		})
		return
	}

	// Best-effort persistence: the in-memory transition is already final
	// and the caller is told the trade succeeded even if the save fails.
	s.persist(r, userID, &next)

	metrics.TradesTotal.WithLabelValues(order.Side).Inc()
	slog.Info("trade executed",
		"order_id", order.ID,
		"user", userID,
		"symbol", order.Symbol,
		"side", order.Side,
		"shares", order.Shares,
		"price", order.Price.String(),
		"total", order.Total.String(),
		"balance", next.CashBalance.String(),
	)

	if s.wsHub != nil {
		s.wsHub.Broadcast(WSMessage{
			Type:   "trade_executed",
			Symbol: order.Symbol,
			Side:   order.Side,
			Shares: order.Shares,
			Price:  order.Price.String(),
		})
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(TradeResponse{
		Success:     true,
		Message:     ledger.Confirmation(order),
		Order:       &order,
		CashBalance: &next.CashBalance,
	})
}

// GetPortfolio handles GET /api/v1/portfolio.
func (s *Service) GetPortfolio(w http.ResponseWriter, r *http.Request) {
	userID := auth.UserFrom(r.Context())

	s.mu.Lock()
	acct := s.loadOrDefault(r, userID)
	s.mu.Unlock()

	positions := acct.Positions
	if positions == nil {
		positions = []model.Position{}
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(PortfolioResponse{
		Username:    userID,
		CashBalance: acct.CashBalance,
		Positions:   positions,
		TotalValue:  ledger.Value(acct),
	})
}

// GetOrders handles GET /api/v1/orders.
// Returns the order history, newest first.
func (s *Service) GetOrders(w http.ResponseWriter, r *http.Request) {
	userID := auth.UserFrom(r.Context())

	s.mu.Lock()
	acct := s.loadOrDefault(r, userID)
	s.mu.Unlock()

	orders := acct.Orders
	if orders == nil {
		orders = []model.Order{}
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(orders)
}

// ResetPortfolio handles POST /api/v1/portfolio/reset.
// Restores the starting balance and clears positions and orders.
func (s *Service) ResetPortfolio(w http.ResponseWriter, r *http.Request) {
	userID := auth.UserFrom(r.Context())

	s.mu.Lock()
	defer s.mu.Unlock()

	fresh := ledger.New()
	s.persist(r, userID, &fresh)

	slog.Info("portfolio reset", "user", userID)

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]any{
		"success":      true,
		"message":      "Portfolio reset to starting balance",
		"cash_balance": fresh.CashBalance,
	})
}

// loadOrDefault returns the user's saved ledger state, or a fresh default
// account when none exists. Anonymous callers always get defaults.
func (s *Service) loadOrDefault(r *http.Request, userID string) model.Account {
	if userID == "" {
		return ledger.New()
	}
	acct, err := s.store.LoadAccount(r.Context(), userID)
	if err != nil {
		if !errors.Is(err, store.ErrNotFound) {
			slog.Warn("ledger load failed, starting from defaults", "user", userID, "err", err)
		}
		return ledger.New()
	}
	return *acct
}

// persist saves the ledger state for known users. Failures are logged
// and counted but never roll back the in-memory transition.
func (s *Service) persist(r *http.Request, userID string, acct *model.Account) {
	if userID == "" {
		return // anonymous sessions are never persisted
	}
	if err := s.store.SaveAccount(r.Context(), userID, acct); err != nil {
		metrics.PersistenceFailures.Inc()
		slog.Warn("ledger save failed, in-memory state already applied", "user", userID, "err", err)
	}
}

// rejectionReason maps a ledger error to its wire-level reason code, or
// "" for errors that are not expected trade rejections.
func rejectionReason(err error) string {
	switch {
	case errors.Is(err, ledger.ErrInvalidQuantity):
		return ReasonInvalidQuantity
	case errors.Is(err, ledger.ErrInsufficientFunds):
		return ReasonInsufficientFunds
	case errors.Is(err, ledger.ErrInsufficientShares):
		return ReasonInsufficientShares
	}
	return ""
}

// writeError writes a JSON error response.
func writeError(w http.ResponseWriter, message string, status int) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(map[string]string{"error": message})
}
