package cached

import (
	"context"
	"encoding/json"
	"time"

	"bank-ledger/pkg/account"
	"bank-ledger/pkg/cache"
	"bank-ledger/pkg/chain"
	"bank-ledger/pkg/logging"
	"bank-ledger/pkg/metrics"

	"go.uber.org/zap"
)

const (
	kindBalance  = "balance"
	kindAccounts = "accounts"
)

var (
	balanceKeys  = cache.NewKeyPattern(kindBalance, ":")
	accountsKeys = cache.NewKeyPattern(kindAccounts, ":")
)

// BalanceKey is the cache key of the balance of id as seen by owner. Parts are
// length-prefixed: ids and owners may contain the separator, and two
// different (id, owner) pairs must never share an entry.
func BalanceKey(id, owner string) string {
	return balanceKeys.BuildTuple(id, owner)
}

// AccountsKey is the cache key of the account list of owner.
func AccountsKey(owner string) string {
	return accountsKeys.BuildTuple(owner)
}

// Config configures a Reader.
type Config struct {
	Logger  *logging.Logger
	Metrics metrics.MetricsCollector
}

// Reader serves display reads through a cache chain. It must not be used by
// the transfer path, which reads the store inside its own transaction.
type Reader struct {
	store   account.Reader
	chain   *chain.Chain
	logger  *logging.Logger
	metrics metrics.MetricsCollector
}

var _ account.Reader = (*Reader)(nil)

// New wraps store with c.
func New(store account.Reader, c *chain.Chain, cfg Config) *Reader {
	return &Reader{
		store:   store,
		chain:   c,
		logger:  logging.Or(cfg.Logger, "cached-reader"),
		metrics: metrics.OrNoOp(cfg.Metrics),
	}
}

type balanceEntry struct {
	Balance int64 `json:"balance"`
}

// GetBalance is keyed by id and owner, so a cached balance is only ever
// served to the owner it was loaded for. Lookups that fail, including
// ErrNotFound, are not cached.
func (r *Reader) GetBalance(ctx context.Context, accountID, owner string) (int64, error) {
	start := time.Now()
	key := BalanceKey(accountID, owner)

	raw, hit, err := r.chain.Load(ctx, key, func(ctx context.Context) ([]byte, error) {
		balance, err := r.store.GetBalance(ctx, accountID, owner)
		if err != nil {
			return nil, err
		}
		return json.Marshal(balanceEntry{Balance: balance})
	})
	if err != nil {
		return 0, err
	}

	var entry balanceEntry
	if err := json.Unmarshal(raw, &entry); err != nil {
		r.dropCorrupt(ctx, key, err)
		return r.store.GetBalance(ctx, accountID, owner)
	}

	r.metrics.RecordRead(kindBalance, hit, time.Since(start))
	return entry.Balance, nil
}

// ListAccounts caches the list per owner.
func (r *Reader) ListAccounts(ctx context.Context, owner string) ([]account.Account, error) {
	start := time.Now()
	key := AccountsKey(owner)

	raw, hit, err := r.chain.Load(ctx, key, func(ctx context.Context) ([]byte, error) {
		accounts, err := r.store.ListAccounts(ctx, owner)
		if err != nil {
			return nil, err
		}
		return json.Marshal(accounts)
	})
	if err != nil {
		return nil, err
	}

	var accounts []account.Account
	if err := json.Unmarshal(raw, &accounts); err != nil {
		r.dropCorrupt(ctx, key, err)
		return r.store.ListAccounts(ctx, owner)
	}
	if accounts == nil {
		accounts = []account.Account{}
	}

	r.metrics.RecordRead(kindAccounts, hit, time.Since(start))
	return accounts, nil
}

// AccountExists is not cached.
func (r *Reader) AccountExists(ctx context.Context, accountID string) (bool, error) {
	return r.store.AccountExists(ctx, accountID)
}

// InvalidateAccounts drops the cached balance and list of every given account.
// It is called by the transfer engine with the rows it locked.
func (r *Reader) InvalidateAccounts(ctx context.Context, accounts ...account.Account) error {
	if len(accounts) == 0 {
		return nil
	}

	keys := make([]string, 0, 2*len(accounts))
	seen := make(map[string]struct{}, len(accounts))
	for _, a := range accounts {
		keys = append(keys, BalanceKey(a.ID, a.Owner))
		if _, ok := seen[a.Owner]; ok {
			continue
		}
		seen[a.Owner] = struct{}{}
		keys = append(keys, AccountsKey(a.Owner))
	}

	if err := r.chain.Delete(ctx, keys...); err != nil {
		return err
	}
	r.logger.Debug("cache invalidated", zap.Strings("keys", keys))
	return nil
}

func (r *Reader) dropCorrupt(ctx context.Context, key string, cause error) {
	r.logger.Warn("undecodable cache entry", zap.String("key", key), zap.Error(cause))
	if err := r.chain.Delete(ctx, key); err != nil {
		r.logger.Warn("failed to drop cache entry", zap.String("key", key), zap.Error(err))
	}
}
