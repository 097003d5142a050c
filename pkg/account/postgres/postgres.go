package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"bank-ledger/pkg/account"
	"bank-ledger/pkg/logging"

	"github.com/lib/pq"
	"go.uber.org/zap"
)

// Store is the account store backed by PostgreSQL. It expects the schema
//
//	accounts(id TEXT PRIMARY KEY, owner TEXT NOT NULL, balance BIGINT NOT NULL)
//
// to exist already.
type Store struct {
	db     *sql.DB
	logger *logging.Logger
}

// Config holds PostgreSQL connection configuration.
type Config struct {
	Host     string
	Port     int
	User     string
	Password string
	Database string
	SSLMode  string

	// DSN, when set, takes precedence over the individual fields.
	DSN string

	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
	ConnectTimeout  time.Duration

	Logger *logging.Logger
}

// DefaultConfig returns default PostgreSQL configuration.
func DefaultConfig() Config {
	return Config{
		Host:            "localhost",
		Port:            5432,
		User:            "postgres",
		Password:        "postgres",
		Database:        "bank",
		SSLMode:         "disable",
		MaxOpenConns:    25,
		MaxIdleConns:    5,
		ConnMaxLifetime: 5 * time.Minute,
		ConnectTimeout:  5 * time.Second,
	}
}

// ConnString renders the lib/pq connection string.
func (c Config) ConnString() string {
	if c.DSN != "" {
		return c.DSN
	}
	return fmt.Sprintf(
		"host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		c.Host, c.Port, c.User, c.Password, c.Database, c.SSLMode,
	)
}

// New opens a pooled connection and verifies it with a ping.
func New(cfg Config) (*Store, error) {
	db, err := sql.Open("postgres", cfg.ConnString())
	if err != nil {
		return nil, fmt.Errorf("postgres: open: %w", err)
	}

	if cfg.MaxOpenConns > 0 {
		db.SetMaxOpenConns(cfg.MaxOpenConns)
	}
	if cfg.MaxIdleConns > 0 {
		db.SetMaxIdleConns(cfg.MaxIdleConns)
	}
	if cfg.ConnMaxLifetime > 0 {
		db.SetConnMaxLifetime(cfg.ConnMaxLifetime)
	}

	timeout := cfg.ConnectTimeout
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("postgres: ping: %w", err)
	}

	return NewWithDB(db, cfg.Logger), nil
}

// NewWithDB wraps an already configured pool.
func NewWithDB(db *sql.DB, logger *logging.Logger) *Store {
	return &Store{
		db:     db,
		logger: logging.Or(logger, "postgres"),
	}
}

// DB exposes the pool, mainly for tests that need to prepare fixtures.
func (s *Store) DB() *sql.DB {
	return s.db
}

func (s *Store) GetBalance(ctx context.Context, accountID, owner string) (int64, error) {
	return getBalance(ctx, s.db, accountID, owner)
}

func (s *Store) ListAccounts(ctx context.Context, owner string) ([]account.Account, error) {
	return listAccounts(ctx, s.db, owner)
}

func (s *Store) AccountExists(ctx context.Context, accountID string) (bool, error) {
	return accountExists(ctx, s.db, accountID)
}

// WithinTx runs fn in a read-committed transaction. The transaction is rolled
// back on every path except a nil return from fn followed by a successful commit.
func (s *Store) WithinTx(ctx context.Context, fn func(tx account.Tx) error) error {
	sqlTx, err := s.db.BeginTx(ctx, &sql.TxOptions{Isolation: sql.LevelReadCommitted})
	if err != nil {
		return fmt.Errorf("postgres: begin: %w", err)
	}

	committed := false
	defer func() {
		if committed {
			return
		}
		if rbErr := sqlTx.Rollback(); rbErr != nil && !errors.Is(rbErr, sql.ErrTxDone) {
			s.logger.Error("rollback failed", zap.Error(rbErr))
		}
	}()

	if err := fn(&pgTx{tx: sqlTx}); err != nil {
		return err
	}

	if err := sqlTx.Commit(); err != nil {
		return fmt.Errorf("postgres: commit: %w", err)
	}
	committed = true
	return nil
}

func (s *Store) Ping(ctx context.Context) error {
	if err := s.db.PingContext(ctx); err != nil {
		return fmt.Errorf("postgres: ping: %w", err)
	}
	return nil
}

func (s *Store) Close() error {
	return s.db.Close()
}

// numericValueOutOfRange is the SQLSTATE raised when a BIGINT overflows.
const numericValueOutOfRange pq.ErrorCode = "22003"

// pgTx implements account.Tx on top of *sql.Tx.
type pgTx struct {
	tx *sql.Tx
}

func (t *pgTx) GetBalance(ctx context.Context, accountID, owner string) (int64, error) {
	return getBalance(ctx, t.tx, accountID, owner)
}

func (t *pgTx) ListAccounts(ctx context.Context, owner string) ([]account.Account, error) {
	return listAccounts(ctx, t.tx, owner)
}

func (t *pgTx) AccountExists(ctx context.Context, accountID string) (bool, error) {
	return accountExists(ctx, t.tx, accountID)
}

func (t *pgTx) LockAccounts(ctx context.Context, ids ...string) ([]account.Account, error) {
	ordered := account.LockOrder(ids...)
	if len(ordered) == 0 {
		return []account.Account{}, nil
	}

	rows, err := t.tx.QueryContext(ctx, `
		SELECT id, owner, balance
		FROM accounts
		WHERE id = ANY($1)
		ORDER BY id
		FOR UPDATE
	`, pq.Array(ordered))
	if err != nil {
		return nil, fmt.Errorf("lock accounts: %w", err)
	}
	defer rows.Close()

	return scanAccounts(rows)
}

func (t *pgTx) ApplyDelta(ctx context.Context, accountID string, delta int64) error {
	res, err := t.tx.ExecContext(ctx,
		`UPDATE accounts SET balance = balance + $1 WHERE id = $2`,
		delta, accountID,
	)
	var pqErr *pq.Error
	if errors.As(err, &pqErr) && pqErr.Code == numericValueOutOfRange {
		return fmt.Errorf("apply delta to %s: %w", accountID, account.ErrBalanceOutOfRange)
	}
	if err != nil {
		return fmt.Errorf("apply delta to %s: %w", accountID, err)
	}

	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("apply delta to %s: rows affected: %w", accountID, err)
	}
	if n == 0 {
		return account.ErrNotFound
	}
	return nil
}

// querier is the subset shared by *sql.DB and *sql.Tx.
type querier interface {
	QueryContext(ctx context.Context, query string, args ...interface{}) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...interface{}) *sql.Row
}

func getBalance(ctx context.Context, q querier, accountID, owner string) (int64, error) {
	var balance int64
	err := q.QueryRowContext(ctx,
		`SELECT balance FROM accounts WHERE id = $1 AND owner = $2`,
		accountID, owner,
	).Scan(&balance)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, account.ErrNotFound
	}
	if err != nil {
		return 0, fmt.Errorf("query balance: %w", err)
	}
	return balance, nil
}

func listAccounts(ctx context.Context, q querier, owner string) ([]account.Account, error) {
	rows, err := q.QueryContext(ctx,
		`SELECT id, owner, balance FROM accounts WHERE owner = $1 ORDER BY id`,
		owner,
	)
	if err != nil {
		return nil, fmt.Errorf("query accounts: %w", err)
	}
	defer rows.Close()

	return scanAccounts(rows)
}

func accountExists(ctx context.Context, q querier, accountID string) (bool, error) {
	var exists bool
	err := q.QueryRowContext(ctx,
		`SELECT EXISTS (SELECT 1 FROM accounts WHERE id = $1)`,
		accountID,
	).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("query account exists: %w", err)
	}
	return exists, nil
}

func scanAccounts(rows *sql.Rows) ([]account.Account, error) {
	accounts := make([]account.Account, 0)
	for rows.Next() {
		var a account.Account
		if err := rows.Scan(&a.ID, &a.Owner, &a.Balance); err != nil {
			return nil, fmt.Errorf("scan account: %w", err)
		}
		accounts = append(accounts, a)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate accounts: %w", err)
	}
	return accounts, nil
}
