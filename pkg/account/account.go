package account

import (
	"context"
	"errors"
	"slices"
)

// Account is a persisted balance record owned by exactly one user.
type Account struct {
	ID      string `json:"id"`
	Owner   string `json:"owner"`
	Balance int64  `json:"balance"`
}

var (
	// ErrNotFound is returned when no row matches the lookup. Ownership-scoped
	// lookups also return it when the row exists but belongs to someone else.
	ErrNotFound = errors.New("account: not found")

	// ErrInvalidID is returned for empty account identifiers.
	ErrInvalidID = errors.New("account: invalid id")

	// ErrBalanceOutOfRange is returned by ApplyDelta when the resulting balance
	// does not fit in an int64.
	ErrBalanceOutOfRange = errors.New("account: balance out of range")
)

// IsNotFound reports whether err indicates a missing (or foreign) account.
func IsNotFound(err error) bool {
	return errors.Is(err, ErrNotFound)
}

// Reader is the read surface shared by stores and open transactions.
type Reader interface {
	// GetBalance returns the balance of accountID only if it is owned by owner.
	GetBalance(ctx context.Context, accountID, owner string) (int64, error)

	// ListAccounts returns every account of owner ordered by id ascending.
	ListAccounts(ctx context.Context, owner string) ([]Account, error)

	// AccountExists reports whether accountID exists, irrespective of owner.
	AccountExists(ctx context.Context, accountID string) (bool, error)
}

// Tx is an open store transaction. It is only valid inside the callback passed
// to Store.WithinTx.
type Tx interface {
	Reader

	// LockAccounts takes exclusive row locks on the existing accounts among ids,
	// in ascending id order, and returns the locked rows in that order.
	// Missing ids are skipped.
	LockAccounts(ctx context.Context, ids ...string) ([]Account, error)

	// ApplyDelta adds delta (which may be negative) to the stored balance.
	// Returns ErrNotFound when accountID has no row and ErrBalanceOutOfRange
	// when the new balance would overflow.
	ApplyDelta(ctx context.Context, accountID string, delta int64) error
}

// Store owns the account rows.
type Store interface {
	Reader

	// WithinTx runs fn in a single transaction. The transaction commits when fn
	// returns nil and rolls back on error or panic.
	WithinTx(ctx context.Context, fn func(tx Tx) error) error

	// Ping checks connectivity to the backing store.
	Ping(ctx context.Context) error

	// Close releases pooled resources.
	Close() error
}

// LockOrder returns the distinct non-empty ids sorted ascending, the order in
// which rows must be locked.
func LockOrder(ids ...string) []string {
	out := make([]string, 0, len(ids))
	seen := make(map[string]struct{}, len(ids))
	for _, id := range ids {
		if id == "" {
			continue
		}
		if _, ok := seen[id]; ok {
			continue
		}
		seen[id] = struct{}{}
		out = append(out, id)
	}
	slices.Sort(out)
	return out
}
