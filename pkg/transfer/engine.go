package transfer

import (
	"context"
	"errors"
	"fmt"
	"time"

	"bank-ledger/pkg/account"
	"bank-ledger/pkg/logging"
	"bank-ledger/pkg/metrics"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// DefaultMaxAmount is the per-transfer cap applied when Config.MaxAmount is not set.
const DefaultMaxAmount int64 = 1000

// Invalidator is notified with the locked rows after a transfer commits, so
// read caches can drop stale balances.
type Invalidator interface {
	InvalidateAccounts(ctx context.Context, accounts ...account.Account) error
}

// Config configures an Engine.
type Config struct {
	// MaxAmount caps a single transfer. Non-positive values fall back to DefaultMaxAmount.
	MaxAmount int64

	Logger      *logging.Logger
	Metrics     metrics.MetricsCollector
	Invalidator Invalidator
}

// DefaultConfig returns the engine defaults.
func DefaultConfig() Config {
	return Config{
		MaxAmount: DefaultMaxAmount,
		Metrics:   metrics.NoOpCollector{},
	}
}

// Engine is the only component allowed to mutate balances. Every mutation it
// performs is a debit and a matching credit in the same store transaction.
type Engine struct {
	store       account.Store
	maxAmount   int64
	logger      *logging.Logger
	metrics     metrics.MetricsCollector
	invalidator Invalidator
	newRef      func() string
}

// NewEngine creates an engine over store.
func NewEngine(store account.Store, cfg Config) *Engine {
	if cfg.MaxAmount <= 0 {
		cfg.MaxAmount = DefaultMaxAmount
	}
	return &Engine{
		store:       store,
		maxAmount:   cfg.MaxAmount,
		logger:      logging.Or(cfg.Logger, "transfer"),
		metrics:     metrics.OrNoOp(cfg.Metrics),
		invalidator: cfg.Invalidator,
		newRef:      uuid.NewString,
	}
}

// MaxAmount returns the configured per-transfer cap.
func (e *Engine) MaxAmount() int64 {
	return e.maxAmount
}

// errDeclined aborts the transaction for business refusals. Nothing has been
// mutated at that point, the rollback only releases the row locks.
var errDeclined = errors.New("transfer declined")

// Execute moves req.Amount from req.SourceID to req.TargetID. Preconditions are
// checked in order and the first failing one decides the status:
//
//  1. req.Owner owns the source (else StatusUnauthorized)
//  2. the target exists (else StatusTargetNotFound)
//  3. 0 < amount <= MaxAmount (else StatusInvalidAmount)
//  4. amount <= source balance (else StatusInsufficientFunds)
//
// Ownership is checked once without locks, so a caller who does not own the
// source cannot hold locks on anyone's rows. Both rows are then locked in
// ascending id order and ownership is read again under the lock. The target is
// only looked up once ownership is established, and the balance used in step 4
// cannot change before the debit. The returned error is non-nil only for
// StatusInternal.
func (e *Engine) Execute(ctx context.Context, req Request) (Result, error) {
	start := time.Now()
	res := Result{
		Reference: e.newRef(),
		SourceID:  req.SourceID,
		TargetID:  req.TargetID,
		Amount:    req.Amount,
	}

	var locked []account.Account
	err := e.store.WithinTx(ctx, func(tx account.Tx) error {
		// unlocked read: callers who do not own the source never lock any row
		if _, err := tx.GetBalance(ctx, req.SourceID, req.Owner); account.IsNotFound(err) {
			res.Status = StatusUnauthorized
			return errDeclined
		} else if err != nil {
			return err
		}

		var err error
		locked, err = tx.LockAccounts(ctx, req.SourceID, req.TargetID)
		if err != nil {
			return err
		}

		balance, err := tx.GetBalance(ctx, req.SourceID, req.Owner)
		if account.IsNotFound(err) {
			res.Status = StatusUnauthorized
			return errDeclined
		}
		if err != nil {
			return err
		}

		exists, err := tx.AccountExists(ctx, req.TargetID)
		if err != nil {
			return err
		}
		if !exists {
			res.Status = StatusTargetNotFound
			return errDeclined
		}

		if req.Amount <= 0 || req.Amount > e.maxAmount {
			res.Status = StatusInvalidAmount
			res.MaxAmount = e.maxAmount
			return errDeclined
		}

		if req.Amount > balance {
			res.Status = StatusInsufficientFunds
			res.Available = balance
			return errDeclined
		}

		if err := tx.ApplyDelta(ctx, req.SourceID, -req.Amount); err != nil {
			return fmt.Errorf("debit %s: %w", req.SourceID, err)
		}
		if err := tx.ApplyDelta(ctx, req.TargetID, req.Amount); err != nil {
			return fmt.Errorf("credit %s: %w", req.TargetID, err)
		}
		return nil
	})

	switch {
	case errors.Is(err, errDeclined):
	case err != nil:
		res.Status = StatusInternal
		res.Err = &InternalError{Reference: res.Reference, Cause: err}
	default:
		res.Status = StatusSuccess
		e.invalidate(ctx, res.Reference, locked)
	}

	e.record(req, res, time.Since(start))

	if res.Status == StatusInternal {
		return res, res.Err
	}
	return res, nil
}

func (e *Engine) invalidate(ctx context.Context, ref string, locked []account.Account) {
	if e.invalidator == nil || len(locked) == 0 {
		return
	}
	if err := e.invalidator.InvalidateAccounts(ctx, locked...); err != nil {
		e.logger.Warn("cache invalidation failed",
			zap.String("reference", ref),
			zap.Error(err),
		)
	}
}

func (e *Engine) record(req Request, res Result, duration time.Duration) {
	e.metrics.RecordTransfer(res.Status.String(), duration)

	fields := []zap.Field{
		zap.String("reference", res.Reference),
		zap.String("status", res.Status.String()),
		zap.String("from", req.SourceID),
		zap.String("to", req.TargetID),
		zap.Int64("amount", req.Amount),
		zap.Duration("duration", duration),
	}

	switch {
	case res.Status == StatusInternal:
		e.logger.Error("transfer failed", append(fields, zap.Error(res.Err))...)
	case res.Status.Declined():
		e.logger.Info("transfer declined", fields...)
	default:
		e.logger.Info("transfer completed", fields...)
	}
}
