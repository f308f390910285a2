package account_test

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/shopspring/decimal"

	"github.com/aegis-trader/paper-engine/internal/account"
	"github.com/aegis-trader/paper-engine/internal/auth"
	"github.com/aegis-trader/paper-engine/internal/model"
	"github.com/aegis-trader/paper-engine/internal/store"
)

func d(f float64) decimal.Decimal {
	return decimal.NewFromFloat(f)
}

// newTestEnv creates a test Service with in-memory store, auth middleware,
// and chi router.
func newTestEnv(t *testing.T) (*store.MemoryStore, *auth.Sessions, chi.Router) {
	t.Helper()
	ms := store.NewMemoryStore()
	svc := account.NewService(ms, nil)
	sessions := auth.NewSessions()

	r := chi.NewRouter()
	r.Use(sessions.Middleware)
	r.Post("/api/v1/auth/login", sessions.Login)
	r.Post("/api/v1/trades", svc.ExecuteTrade)
	r.Get("/api/v1/portfolio", svc.GetPortfolio)
	r.Get("/api/v1/orders", svc.GetOrders)
	r.Post("/api/v1/portfolio/reset", svc.ResetPortfolio)

	return ms, sessions, r
}

// login authenticates a username and returns its bearer token.
func login(t *testing.T, router chi.Router, username string) string {
	t.Helper()
	body, _ := json.Marshal(map[string]string{"username": username})
	req := httptest.NewRequest("POST", "/api/v1/auth/login", bytes.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)
	if w.Code != http.StatusOK {
		t.Fatalf("login failed: %d %s", w.Code, w.Body.String())
	}
	var resp struct {
		Token string `json:"token"`
	}
	json.Unmarshal(w.Body.Bytes(), &resp)
	return resp.Token
}

func doTrade(t *testing.T, router chi.Router, token string, req account.TradeRequest) *httptest.ResponseRecorder {
	t.Helper()
	body, _ := json.Marshal(req)
	httpReq := httptest.NewRequest("POST", "/api/v1/trades", bytes.NewReader(body))
	httpReq.Header.Set("Content-Type", "application/json")
	if token != "" {
		httpReq.Header.Set("Authorization", "Bearer "+token)
	}
	w := httptest.NewRecorder()
	router.ServeHTTP(w, httpReq)
	return w
}

func get(t *testing.T, router chi.Router, token, path string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest("GET", path, nil)
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)
	return w
}

// --- Trade execution ---

func TestExecuteTrade_Buy(t *testing.T) {
	_, _, router := newTestEnv(t)
	token := login(t, router, "demo")

	w := doTrade(t, router, token, account.TradeRequest{
		Symbol: "AAPL", Side: model.SideBuy, Shares: 10, CurrentPrice: d(150),
	})

	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", w.Code, w.Body.String())
	}

	var resp account.TradeResponse
	json.Unmarshal(w.Body.Bytes(), &resp)

	if !resp.Success {
		t.Fatalf("expected success, got %+v", resp)
	}
	if resp.Order == nil || resp.Order.ID == "" {
		t.Error("expected order with id in response")
	}
	if resp.CashBalance == nil || !resp.CashBalance.Equal(d(8500)) {
		t.Errorf("expected cash balance 8500, got %v", resp.CashBalance)
	}
	if resp.Message != "Bought 10 shares of AAPL at 150.00" {
		t.Errorf("unexpected message %q", resp.Message)
	}
}

func TestExecuteTrade_PersistsAcrossRequests(t *testing.T) {
	_, _, router := newTestEnv(t)
	token := login(t, router, "demo")

	doTrade(t, router, token, account.TradeRequest{
		Symbol: "AAPL", Side: model.SideBuy, Shares: 10, CurrentPrice: d(150),
	})
	doTrade(t, router, token, account.TradeRequest{
		Symbol: "AAPL", Side: model.SideBuy, Shares: 5, CurrentPrice: d(160),
	})

	w := get(t, router, token, "/api/v1/portfolio")
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", w.Code)
	}

	var portfolio account.PortfolioResponse
	json.Unmarshal(w.Body.Bytes(), &portfolio)

	if !portfolio.CashBalance.Equal(d(7700)) {
		t.Errorf("expected balance 7700, got %s", portfolio.CashBalance)
	}
	if len(portfolio.Positions) != 1 {
		t.Fatalf("expected 1 position, got %d", len(portfolio.Positions))
	}
	pos := portfolio.Positions[0]
	if pos.Shares != 15 {
		t.Errorf("expected 15 shares, got %d", pos.Shares)
	}
	want := d(2300).Div(d(15))
	if !pos.AverageCost.Sub(want).Abs().LessThan(d(0.000001)) {
		t.Errorf("expected average cost %s, got %s", want, pos.AverageCost)
	}
}

func TestExecuteTrade_InsufficientFunds(t *testing.T) {
	_, _, router := newTestEnv(t)
	token := login(t, router, "demo")

	w := doTrade(t, router, token, account.TradeRequest{
		Symbol: "BRK.A", Side: model.SideBuy, Shares: 1, CurrentPrice: d(700000),
	})

	if w.Code != http.StatusUnprocessableEntity {
		t.Fatalf("expected 422, got %d: %s", w.Code, w.Body.String())
	}

	var resp account.TradeResponse
	json.Unmarshal(w.Body.Bytes(), &resp)
	if resp.Success || resp.Reason != account.ReasonInsufficientFunds {
		t.Errorf("expected insufficient_funds rejection, got %+v", resp)
	}

	// State must be untouched: full balance, no orders.
	var portfolio account.PortfolioResponse
	json.Unmarshal(get(t, router, token, "/api/v1/portfolio").Body.Bytes(), &portfolio)
	if !portfolio.CashBalance.Equal(d(10000)) {
		t.Errorf("rejection must not change balance, got %s", portfolio.CashBalance)
	}
	var orders []model.Order
	json.Unmarshal(get(t, router, token, "/api/v1/orders").Body.Bytes(), &orders)
	if len(orders) != 0 {
		t.Errorf("rejection must not append orders, got %d", len(orders))
	}
}

func TestExecuteTrade_InsufficientShares(t *testing.T) {
	_, _, router := newTestEnv(t)
	token := login(t, router, "demo")

	w := doTrade(t, router, token, account.TradeRequest{
		Symbol: "TSLA", Side: model.SideSell, Shares: 1, CurrentPrice: d(250),
	})

	if w.Code != http.StatusUnprocessableEntity {
		t.Fatalf("expected 422, got %d", w.Code)
	}
	var resp account.TradeResponse
	json.Unmarshal(w.Body.Bytes(), &resp)
	if resp.Reason != account.ReasonInsufficientShares {
		t.Errorf("expected insufficient_shares, got %q", resp.Reason)
	}
}

func TestExecuteTrade_InvalidQuantity(t *testing.T) {
	_, _, router := newTestEnv(t)
	token := login(t, router, "demo")

	for _, shares := range []int64{0, -3} {
		w := doTrade(t, router, token, account.TradeRequest{
			Symbol: "AAPL", Side: model.SideBuy, Shares: shares, CurrentPrice: d(150),
		})
		if w.Code != http.StatusUnprocessableEntity {
			t.Errorf("shares=%d: expected 422, got %d", shares, w.Code)
		}
		var resp account.TradeResponse
		json.Unmarshal(w.Body.Bytes(), &resp)
		if resp.Reason != account.ReasonInvalidQuantity {
			t.Errorf("shares=%d: expected invalid_quantity, got %q", shares, resp.Reason)
		}
	}
}

func TestExecuteTrade_FractionalShares(t *testing.T) {
	_, _, router := newTestEnv(t)
	token := login(t, router, "demo")

	body := []byte(`{"symbol":"AAPL","side":"buy","shares":2.5,"current_price":"150"}`)
	req := httptest.NewRequest("POST", "/api/v1/trades", bytes.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+token)
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	if w.Code != http.StatusUnprocessableEntity {
		t.Fatalf("expected 422 for fractional shares, got %d: %s", w.Code, w.Body.String())
	}
	var resp account.TradeResponse
	json.Unmarshal(w.Body.Bytes(), &resp)
	if resp.Reason != account.ReasonInvalidQuantity {
		t.Errorf("expected invalid_quantity, got %q", resp.Reason)
	}

	// The account is untouched.
	pw := get(t, router, token, "/api/v1/portfolio")
	var portfolio account.PortfolioResponse
	json.Unmarshal(pw.Body.Bytes(), &portfolio)
	if !portfolio.CashBalance.Equal(d(10000)) {
		t.Errorf("balance changed to %s", portfolio.CashBalance)
	}
}

func TestExecuteTrade_InvalidSide(t *testing.T) {
	_, _, router := newTestEnv(t)
	token := login(t, router, "demo")

	w := doTrade(t, router, token, account.TradeRequest{
		Symbol: "AAPL", Side: "short", Shares: 1, CurrentPrice: d(150),
	})
	if w.Code != http.StatusBadRequest {
		t.Errorf("expected 400 for invalid side, got %d", w.Code)
	}
}

func TestExecuteTrade_MissingSymbol(t *testing.T) {
	_, _, router := newTestEnv(t)
	token := login(t, router, "demo")

	w := doTrade(t, router, token, account.TradeRequest{
		Symbol: "  ", Side: model.SideBuy, Shares: 1, CurrentPrice: d(150),
	})
	if w.Code != http.StatusBadRequest {
		t.Errorf("expected 400 for missing symbol, got %d", w.Code)
	}
}

func TestExecuteTrade_AnonymousNotPersisted(t *testing.T) {
	ms, _, router := newTestEnv(t)

	w := doTrade(t, router, "", account.TradeRequest{
		Symbol: "AAPL", Side: model.SideBuy, Shares: 10, CurrentPrice: d(150),
	})
	if w.Code != http.StatusOK {
		t.Fatalf("anonymous trades execute against a fresh ledger: %d %s", w.Code, w.Body.String())
	}

	// Nothing is saved, and the next anonymous request starts fresh.
	if _, err := ms.LoadAccount(context.Background(), ""); err == nil {
		t.Error("anonymous state must not be persisted")
	}
	var portfolio account.PortfolioResponse
	json.Unmarshal(get(t, router, "", "/api/v1/portfolio").Body.Bytes(), &portfolio)
	if !portfolio.CashBalance.Equal(d(10000)) {
		t.Errorf("anonymous sessions start from defaults, got %s", portfolio.CashBalance)
	}
}

func TestExecuteTrade_UsersIsolated(t *testing.T) {
	_, _, router := newTestEnv(t)
	alice := login(t, router, "alice")
	bob := login(t, router, "bob")

	doTrade(t, router, alice, account.TradeRequest{
		Symbol: "AAPL", Side: model.SideBuy, Shares: 10, CurrentPrice: d(150),
	})

	var portfolio account.PortfolioResponse
	json.Unmarshal(get(t, router, bob, "/api/v1/portfolio").Body.Bytes(), &portfolio)
	if len(portfolio.Positions) != 0 || !portfolio.CashBalance.Equal(d(10000)) {
		t.Errorf("ledgers must be keyed per identity, got %+v", portfolio)
	}
}

// --- Orders ---

func TestGetOrders_NewestFirst(t *testing.T) {
	_, _, router := newTestEnv(t)
	token := login(t, router, "demo")

	doTrade(t, router, token, account.TradeRequest{
		Symbol: "AAPL", Side: model.SideBuy, Shares: 2, CurrentPrice: d(150),
	})
	doTrade(t, router, token, account.TradeRequest{
		Symbol: "MSFT", Side: model.SideBuy, Shares: 3, CurrentPrice: d(400),
	})

	var orders []model.Order
	json.Unmarshal(get(t, router, token, "/api/v1/orders").Body.Bytes(), &orders)

	if len(orders) != 2 {
		t.Fatalf("expected 2 orders, got %d", len(orders))
	}
	if orders[0].Symbol != "MSFT" || orders[1].Symbol != "AAPL" {
		t.Errorf("orders should be newest first: %s, %s", orders[0].Symbol, orders[1].Symbol)
	}
}

// --- Reset ---

func TestResetPortfolio(t *testing.T) {
	_, _, router := newTestEnv(t)
	token := login(t, router, "demo")

	doTrade(t, router, token, account.TradeRequest{
		Symbol: "AAPL", Side: model.SideBuy, Shares: 10, CurrentPrice: d(150),
	})

	req := httptest.NewRequest("POST", "/api/v1/portfolio/reset", nil)
	req.Header.Set("Authorization", "Bearer "+token)
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", w.Code)
	}

	var portfolio account.PortfolioResponse
	json.Unmarshal(get(t, router, token, "/api/v1/portfolio").Body.Bytes(), &portfolio)
	if !portfolio.CashBalance.Equal(d(10000)) || len(portfolio.Positions) != 0 {
		t.Errorf("reset should restore defaults, got %+v", portfolio)
	}
	var orders []model.Order
	json.Unmarshal(get(t, router, token, "/api/v1/orders").Body.Bytes(), &orders)
	if len(orders) != 0 {
		t.Errorf("reset should clear orders, got %d", len(orders))
	}
}

// --- Portfolio value ---

func TestGetPortfolio_TotalValue(t *testing.T) {
	_, _, router := newTestEnv(t)
	token := login(t, router, "demo")

	doTrade(t, router, token, account.TradeRequest{
		Symbol: "AAPL", Side: model.SideBuy, Shares: 10, CurrentPrice: d(150),
	})

	var portfolio account.PortfolioResponse
	json.Unmarshal(get(t, router, token, "/api/v1/portfolio").Body.Bytes(), &portfolio)

	// 8500 cash + 1500 held at cost.
	if !portfolio.TotalValue.Equal(d(10000)) {
		t.Errorf("expected total value 10000, got %s", portfolio.TotalValue)
	}
}

// --- Persistence failure handling ---

// failingStore wraps a Store and fails every save.
type failingStore struct {
	*store.MemoryStore
}

func (f *failingStore) SaveAccount(ctx context.Context, userID string, acct *model.Account) error {
	return context.DeadlineExceeded
}

func TestExecuteTrade_SaveFailureStillSucceeds(t *testing.T) {
	fs := &failingStore{store.NewMemoryStore()}
	svc := account.NewService(fs, nil)
	sessions := auth.NewSessions()

	r := chi.NewRouter()
	r.Use(sessions.Middleware)
	r.Post("/api/v1/auth/login", sessions.Login)
	r.Post("/api/v1/trades", svc.ExecuteTrade)

	token := login(t, r, "demo")
	w := doTrade(t, r, token, account.TradeRequest{
		Symbol: "AAPL", Side: model.SideBuy, Shares: 1, CurrentPrice: d(150),
	})

	// Best-effort persistence: the trade is reported as executed even
	// though the save failed.
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", w.Code, w.Body.String())
	}
	var resp account.TradeResponse
	json.Unmarshal(w.Body.Bytes(), &resp)
	if !resp.Success {
		t.Errorf("expected success despite save failure, got %+v", resp)
	}
}
