package store

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/aegis-trader/paper-engine/internal/model"
)

// CachedStore wraps a primary Store with a Redis read-through cache.
// Ledger states are cached as JSON blobs under ledger_state_<userID>,
// the same per-user record layout the original browser client kept in
// local storage. Writes go to the primary store and refresh the cache.
type CachedStore struct {
	primary Store
	rdb     *redis.Client
	ttl     time.Duration
}

// NewCachedStore creates a cached wrapper around a primary store.
func NewCachedStore(primary Store, rdb *redis.Client, ttl time.Duration) *CachedStore {
	return &CachedStore{
		primary: primary,
		rdb:     rdb,
		ttl:     ttl,
	}
}

func (s *CachedStore) LoadAccount(ctx context.Context, userID string) (*model.Account, error) {
	// Try cache.
	data, err := s.rdb.Get(ctx, ledgerKey(userID)).Bytes()
	if err == nil {
		var acct model.Account
		if json.Unmarshal(data, &acct) == nil {
			return &acct, nil
		}
	}

	// Cache miss: read from primary.
	acct, err := s.primary.LoadAccount(ctx, userID)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return nil, ErrNotFound
		}
		return nil, err
	}

	s.cacheAccount(ctx, userID, acct)
	return acct, nil
}

func (s *CachedStore) SaveAccount(ctx context.Context, userID string, acct *model.Account) error {
	if err := s.primary.SaveAccount(ctx, userID, acct); err != nil {
		return err
	}
	s.cacheAccount(ctx, userID, acct)
	return nil
}

func (s *CachedStore) cacheAccount(ctx context.Context, userID string, acct *model.Account) {
	if data, err := json.Marshal(acct); err == nil {
		s.rdb.Set(ctx, ledgerKey(userID), data, s.ttl)
	}
}

func ledgerKey(userID string) string { return "ledger_state_" + userID }
