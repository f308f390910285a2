// Package store defines the ledger persistence interface. Implementations
// include PostgreSQL (source of truth), Redis (read-through cache), and
// in-memory (for testing and anonymous sessions).
package store

import (
	"context"
	"errors"

	"github.com/aegis-trader/paper-engine/internal/model"
)

// ErrNotFound is returned when no ledger state exists for a user. Callers
// treat it identically to a fresh account, not as a failure.
var ErrNotFound = errors.New("ledger state not found")

// Store persists one ledger state per user identity. The account service
// serializes writes, so implementations only need to be safe for
// concurrent use, not transactional across callers.
type Store interface {
	// LoadAccount retrieves the saved ledger state for a user.
	// Returns ErrNotFound when the user has never been saved.
	LoadAccount(ctx context.Context, userID string) (*model.Account, error)

	// SaveAccount persists the full ledger state for a user, replacing
	// any previous state.
	SaveAccount(ctx context.Context, userID string, acct *model.Account) error
}
