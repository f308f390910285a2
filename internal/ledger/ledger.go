// Package ledger implements the paper-trading account state machine:
// a pure transition function over model.Account with strict solvency
// and share-availability checks.
//
// All monetary values use shopspring/decimal — never float64 for money.
package ledger

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/aegis-trader/paper-engine/internal/model"
)

// StartingCash is the cash balance of a fresh account.
var StartingCash = decimal.NewFromInt(10000)

// Expected, user-facing trade rejections. Every rejection leaves the
// account untouched — validation completes before any field changes.
var (
	ErrInvalidQuantity    = errors.New("shares must be a positive whole number")
	ErrInsufficientFunds  = errors.New("insufficient funds")
	ErrInsufficientShares = errors.New("insufficient shares")
)

// TradeRequest describes one buy or sell to apply against an account.
type TradeRequest struct {
	Symbol string
	Side   string // model.SideBuy or model.SideSell
	Shares int64
	Price  decimal.Decimal // execution price, supplied by the caller
}

// New returns a fresh account with the starting cash balance and no
// positions or orders.
func New() model.Account {
	return model.Account{
		CashBalance: StartingCash,
		Positions:   []model.Position{},
		Orders:      []model.Order{},
	}
}

// Apply validates req against acct and, on success, returns the updated
// account plus the order that was appended. The input account is never
// mutated; the returned account is a freshly built value, so a rejected
// trade leaves the caller's state byte-for-byte intact.
func Apply(acct model.Account, req TradeRequest) (model.Account, model.Order, error) {
	symbol := Normalize(req.Symbol)

	if req.Shares <= 0 {
		return acct, model.Order{}, fmt.Errorf("%w: got %d", ErrInvalidQuantity, req.Shares)
	}

	total := decimal.NewFromInt(req.Shares).Mul(req.Price)

	switch req.Side {
	case model.SideBuy:
		if total.GreaterThan(acct.CashBalance) {
			return acct, model.Order{}, fmt.Errorf("%w: cost %s exceeds balance %s",
				ErrInsufficientFunds, total.StringFixed(2), acct.CashBalance.StringFixed(2))
		}
	case model.SideSell:
		held := int64(0)
		if pos, ok := findPosition(acct.Positions, symbol); ok {
			held = pos.Shares
		}
		if held < req.Shares {
			return acct, model.Order{}, fmt.Errorf("%w: have %d, selling %d",
				ErrInsufficientShares, held, req.Shares)
		}
	default:
		return acct, model.Order{}, fmt.Errorf("unknown side %q", req.Side)
	}

	// Validation passed; build the next state.
	next := model.Account{
		CashBalance: acct.CashBalance,
		Positions:   make([]model.Position, 0, len(acct.Positions)+1),
		Orders:      make([]model.Order, 0, len(acct.Orders)+1),
	}

	if req.Side == model.SideBuy {
		next.CashBalance = acct.CashBalance.Sub(total)
		bought := false
		for _, pos := range acct.Positions {
			if pos.Symbol == symbol {
				next.Positions = append(next.Positions, addToPosition(pos, req.Shares, total))
				bought = true
				continue
			}
			next.Positions = append(next.Positions, pos)
		}
		if !bought {
			next.Positions = append(next.Positions, model.Position{
				Symbol:      symbol,
				Shares:      req.Shares,
				AverageCost: req.Price,
			})
		}
	} else {
		next.CashBalance = acct.CashBalance.Add(total)
		for _, pos := range acct.Positions {
			if pos.Symbol == symbol {
				remaining := pos.Shares - req.Shares
				if remaining <= 0 {
					continue // fully closed: drop the row
				}
				// Selling leaves the cost basis of remaining shares unchanged.
				next.Positions = append(next.Positions, model.Position{
					Symbol:      symbol,
					Shares:      remaining,
					AverageCost: pos.AverageCost,
				})
				continue
			}
			next.Positions = append(next.Positions, pos)
		}
	}

	order := model.Order{
		ID:        uuid.New().String(),
		Symbol:    symbol,
		Side:      req.Side,
		Shares:    req.Shares,
		Price:     req.Price,
		Total:     total,
		Timestamp: time.Now().UTC(),
	}

	// Order history is newest first and append-only.
	next.Orders = append(next.Orders, order)
	next.Orders = append(next.Orders, acct.Orders...)

	return next, order, nil
}

// addToPosition folds additional shares into an existing position,
// recomputing the volume-weighted average cost using the trade price for
// the incoming shares:
//
//	newAvg = (oldShares*oldAvg + tradeTotal) / (oldShares + shares)
func addToPosition(pos model.Position, shares int64, total decimal.Decimal) model.Position {
	newShares := pos.Shares + shares
	oldValue := decimal.NewFromInt(pos.Shares).Mul(pos.AverageCost)
	newAvg := oldValue.Add(total).Div(decimal.NewFromInt(newShares))
	return model.Position{
		Symbol:      pos.Symbol,
		Shares:      newShares,
		AverageCost: newAvg,
	}
}

// Value returns the account's total value: cash plus positions marked at
// their average cost.
func Value(acct model.Account) decimal.Decimal {
	total := acct.CashBalance
	for _, pos := range acct.Positions {
		total = total.Add(decimal.NewFromInt(pos.Shares).Mul(pos.AverageCost))
	}
	return total
}

// Confirmation builds the user-facing message for an executed order.
func Confirmation(order model.Order) string {
	verb := "Bought"
	if order.Side == model.SideSell {
		verb = "Sold"
	}
	noun := "shares"
	if order.Shares == 1 {
		noun = "share"
	}
	return fmt.Sprintf("%s %d %s of %s at %s", verb, order.Shares, noun, order.Symbol,
		order.Price.StringFixed(2))
}

// Normalize upper-cases and trims a symbol; applied before every lookup
// and before storage.
func Normalize(symbol string) string {
	return strings.ToUpper(strings.TrimSpace(symbol))
}

func findPosition(positions []model.Position, symbol string) (model.Position, bool) {
	for _, pos := range positions {
		if pos.Symbol == symbol {
			return pos, true
		}
	}
	return model.Position{}, false
}
