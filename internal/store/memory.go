package store

import (
	"context"
	"sync"

	"github.com/aegis-trader/paper-engine/internal/model"
)

// MemoryStore implements Store with an in-memory map. Used for testing
// and development. Not suitable for production (no persistence).
type MemoryStore struct {
	mu       sync.RWMutex
	accounts map[string]*model.Account
}

// NewMemoryStore creates a new in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		accounts: make(map[string]*model.Account),
	}
}

func (s *MemoryStore) LoadAccount(_ context.Context, userID string) (*model.Account, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	acct, ok := s.accounts[userID]
	if !ok {
		return nil, ErrNotFound
	}
	return cloneAccount(acct), nil
}

func (s *MemoryStore) SaveAccount(_ context.Context, userID string, acct *model.Account) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	// Store a copy to avoid external mutation.
	s.accounts[userID] = cloneAccount(acct)
	return nil
}

func cloneAccount(acct *model.Account) *model.Account {
	clone := model.Account{
		CashBalance: acct.CashBalance,
		Positions:   make([]model.Position, len(acct.Positions)),
		Orders:      make([]model.Order, len(acct.Orders)),
	}
	copy(clone.Positions, acct.Positions)
	copy(clone.Orders, acct.Orders)
	return &clone
}
