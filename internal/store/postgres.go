package store

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"

	"github.com/aegis-trader/paper-engine/internal/model"
)

// PostgresStore implements Store using PostgreSQL as the source of truth.
// All monetary values are stored as NUMERIC for exact decimal precision.
//
// Schema:
//
//	accounts  (user_id TEXT PRIMARY KEY, cash_balance NUMERIC)
//	positions (user_id TEXT, symbol TEXT, shares BIGINT, average_cost NUMERIC,
//	           PRIMARY KEY (user_id, symbol))
//	orders    (id TEXT PRIMARY KEY, user_id TEXT, symbol TEXT, side TEXT,
//	           shares BIGINT, price NUMERIC, total NUMERIC, timestamp TIMESTAMPTZ)
type PostgresStore struct {
	pool *pgxpool.Pool
}

// NewPostgresStore creates a new PostgreSQL-backed store.
func NewPostgresStore(pool *pgxpool.Pool) *PostgresStore {
	return &PostgresStore{pool: pool}
}

func (s *PostgresStore) LoadAccount(ctx context.Context, userID string) (*model.Account, error) {
	var cashS string
	err := s.pool.QueryRow(ctx,
		`SELECT cash_balance::TEXT FROM accounts WHERE user_id = $1`, userID).
		Scan(&cashS)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("load account %s: %w", userID, err)
	}

	acct := model.Account{
		Positions: []model.Position{},
		Orders:    []model.Order{},
	}
	acct.CashBalance, _ = decimal.NewFromString(cashS)

	rows, err := s.pool.Query(ctx,
		`SELECT symbol, shares, average_cost::TEXT
		 FROM positions WHERE user_id = $1 ORDER BY symbol`, userID)
	if err != nil {
		return nil, fmt.Errorf("load positions %s: %w", userID, err)
	}
	defer rows.Close()

	for rows.Next() {
		var p model.Position
		var avgS string
		if err := rows.Scan(&p.Symbol, &p.Shares, &avgS); err != nil {
			return nil, err
		}
		p.AverageCost, _ = decimal.NewFromString(avgS)
		acct.Positions = append(acct.Positions, p)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	rows.Close()

	orderRows, err := s.pool.Query(ctx,
		`SELECT id, symbol, side, shares, price::TEXT, total::TEXT, timestamp
		 FROM orders WHERE user_id = $1 ORDER BY timestamp DESC, id`, userID)
	if err != nil {
		return nil, fmt.Errorf("load orders %s: %w", userID, err)
	}
	defer orderRows.Close()

	for orderRows.Next() {
		var o model.Order
		var priceS, totalS string
		if err := orderRows.Scan(&o.ID, &o.Symbol, &o.Side, &o.Shares,
			&priceS, &totalS, &o.Timestamp); err != nil {
			return nil, err
		}
		o.Price, _ = decimal.NewFromString(priceS)
		o.Total, _ = decimal.NewFromString(totalS)
		acct.Orders = append(acct.Orders, o)
	}
	if err := orderRows.Err(); err != nil {
		return nil, err
	}

	return &acct, nil
}

// SaveAccount replaces the user's state in one transaction: cash is
// upserted, positions are rewritten, and new orders are inserted. Orders
// already present are left untouched (the history is append-only).
func (s *PostgresStore) SaveAccount(ctx context.Context, userID string, acct *model.Account) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("save account %s: %w", userID, err)
	}
	defer tx.Rollback(ctx)

	_, err = tx.Exec(ctx,
		`INSERT INTO accounts (user_id, cash_balance) VALUES ($1, $2::NUMERIC)
		 ON CONFLICT (user_id) DO UPDATE SET cash_balance = EXCLUDED.cash_balance`,
		userID, acct.CashBalance.String())
	if err != nil {
		return fmt.Errorf("save cash %s: %w", userID, err)
	}

	if _, err := tx.Exec(ctx, `DELETE FROM positions WHERE user_id = $1`, userID); err != nil {
		return fmt.Errorf("clear positions %s: %w", userID, err)
	}
	for _, p := range acct.Positions {
		_, err := tx.Exec(ctx,
			`INSERT INTO positions (user_id, symbol, shares, average_cost)
			 VALUES ($1, $2, $3, $4::NUMERIC)`,
			userID, p.Symbol, p.Shares, p.AverageCost.String())
		if err != nil {
			return fmt.Errorf("save position %s/%s: %w", userID, p.Symbol, err)
		}
	}

	for _, o := range acct.Orders {
		_, err := tx.Exec(ctx,
			`INSERT INTO orders (id, user_id, symbol, side, shares, price, total, timestamp)
			 VALUES ($1, $2, $3, $4, $5, $6::NUMERIC, $7::NUMERIC, $8)
			 ON CONFLICT (id) DO NOTHING`,
			o.ID, userID, o.Symbol, o.Side, o.Shares,
			o.Price.String(), o.Total.String(), o.Timestamp)
		if err != nil {
			return fmt.Errorf("save order %s: %w", o.ID, err)
		}
	}

	// Orders removed by a portfolio reset are deleted so a reload matches
	// the in-memory state exactly.
	if len(acct.Orders) == 0 {
		if _, err := tx.Exec(ctx, `DELETE FROM orders WHERE user_id = $1`, userID); err != nil {
			return fmt.Errorf("clear orders %s: %w", userID, err)
		}
	}

	return tx.Commit(ctx)
}
