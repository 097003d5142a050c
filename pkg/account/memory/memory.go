package memory

import (
	"context"
	"fmt"
	"math"
	"slices"
	"strings"
	"sync"

	"bank-ledger/pkg/account"
)

// Store is an in-process account store with the same transactional contract
// as the postgres store. Transactions are serialized: a transaction holds the
// writer lock from begin to commit/rollback, which is the strongest form of
// the row locking the postgres store performs.
type Store struct {
	// txMu serializes transactions
	txMu sync.Mutex

	// mu protects rows
	mu   sync.RWMutex
	rows map[string]account.Account

	closed bool
}

// New creates an empty store.
func New() *Store {
	return &Store{rows: make(map[string]account.Account)}
}

// Seed creates the given accounts out-of-band, replacing rows with the same id.
func (s *Store) Seed(accounts ...account.Account) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, a := range accounts {
		if strings.TrimSpace(a.ID) == "" {
			return account.ErrInvalidID
		}
		s.rows[a.ID] = a
	}
	return nil
}

// Snapshot returns a copy of a single row, for assertions in tests.
func (s *Store) Snapshot(id string) (account.Account, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	a, ok := s.rows[id]
	return a, ok
}

// Total returns the sum of all balances.
func (s *Store) Total() int64 {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var total int64
	for _, a := range s.rows {
		total += a.Balance
	}
	return total
}

func (s *Store) GetBalance(ctx context.Context, accountID, owner string) (int64, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()

	return getBalance(s.rows, nil, accountID, owner)
}

func (s *Store) ListAccounts(ctx context.Context, owner string) ([]account.Account, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()

	return listAccounts(s.rows, nil, owner), nil
}

func (s *Store) AccountExists(ctx context.Context, accountID string) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()

	_, ok := s.rows[accountID]
	return ok, nil
}

// WithinTx runs fn while holding the transaction lock. Deltas are staged and
// only applied to the rows when fn returns nil.
func (s *Store) WithinTx(ctx context.Context, fn func(tx account.Tx) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	s.txMu.Lock()
	defer s.txMu.Unlock()

	s.mu.RLock()
	closed := s.closed
	s.mu.RUnlock()
	if closed {
		return fmt.Errorf("memory store: closed")
	}

	tx := &memTx{store: s, ctx: ctx, deltas: make(map[string]int64)}
	defer func() {
		tx.done = true
	}()

	if err := fn(tx); err != nil {
		return err
	}
	if err := ctx.Err(); err != nil {
		return fmt.Errorf("memory store: commit: %w", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	for id, delta := range tx.deltas {
		row := s.rows[id]
		row.Balance += delta
		s.rows[id] = row
	}
	return nil
}

func (s *Store) Ping(ctx context.Context) error {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return fmt.Errorf("memory store: closed")
	}
	return ctx.Err()
}

func (s *Store) Close() error {
	s.mu.Lock()
	s.closed = true
	s.mu.Unlock()
	return nil
}

// memTx sees committed rows plus its own staged deltas.
type memTx struct {
	store  *Store
	ctx    context.Context
	deltas map[string]int64
	done   bool
}

func (t *memTx) check(ctx context.Context) error {
	if t.done {
		return fmt.Errorf("memory store: transaction already finished")
	}
	if err := t.ctx.Err(); err != nil {
		return err
	}
	return ctx.Err()
}

func (t *memTx) GetBalance(ctx context.Context, accountID, owner string) (int64, error) {
	if err := t.check(ctx); err != nil {
		return 0, err
	}
	t.store.mu.RLock()
	defer t.store.mu.RUnlock()

	return getBalance(t.store.rows, t.deltas, accountID, owner)
}

func (t *memTx) ListAccounts(ctx context.Context, owner string) ([]account.Account, error) {
	if err := t.check(ctx); err != nil {
		return nil, err
	}
	t.store.mu.RLock()
	defer t.store.mu.RUnlock()

	return listAccounts(t.store.rows, t.deltas, owner), nil
}

func (t *memTx) AccountExists(ctx context.Context, accountID string) (bool, error) {
	if err := t.check(ctx); err != nil {
		return false, err
	}
	t.store.mu.RLock()
	defer t.store.mu.RUnlock()

	_, ok := t.store.rows[accountID]
	return ok, nil
}

// LockAccounts is satisfied by the transaction lock; it only resolves the rows.
func (t *memTx) LockAccounts(ctx context.Context, ids ...string) ([]account.Account, error) {
	if err := t.check(ctx); err != nil {
		return nil, err
	}
	t.store.mu.RLock()
	defer t.store.mu.RUnlock()

	locked := make([]account.Account, 0, len(ids))
	for _, id := range account.LockOrder(ids...) {
		row, ok := t.store.rows[id]
		if !ok {
			continue
		}
		row.Balance += t.deltas[id]
		locked = append(locked, row)
	}
	return locked, nil
}

func (t *memTx) ApplyDelta(ctx context.Context, accountID string, delta int64) error {
	if err := t.check(ctx); err != nil {
		return err
	}
	t.store.mu.RLock()
	row, ok := t.store.rows[accountID]
	t.store.mu.RUnlock()
	if !ok {
		return account.ErrNotFound
	}

	current := row.Balance + t.deltas[accountID]
	if (delta > 0 && current > math.MaxInt64-delta) || (delta < 0 && current < math.MinInt64-delta) {
		return fmt.Errorf("apply delta to %s: %w", accountID, account.ErrBalanceOutOfRange)
	}

	t.deltas[accountID] += delta
	return nil
}

func getBalance(rows map[string]account.Account, deltas map[string]int64, accountID, owner string) (int64, error) {
	row, ok := rows[accountID]
	if !ok || row.Owner != owner {
		return 0, account.ErrNotFound
	}
	return row.Balance + deltas[accountID], nil
}

func listAccounts(rows map[string]account.Account, deltas map[string]int64, owner string) []account.Account {
	out := make([]account.Account, 0)
	for id, row := range rows {
		if row.Owner != owner {
			continue
		}
		row.Balance += deltas[id]
		out = append(out, row)
	}
	slices.SortFunc(out, func(a, b account.Account) int {
		return strings.Compare(a.ID, b.ID)
	})
	return out
}
