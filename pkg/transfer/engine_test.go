package transfer

import (
	"context"
	"errors"
	"math"
	"sync"
	"sync/atomic"
	"testing"

	"bank-ledger/pkg/account"
	"bank-ledger/pkg/account/memory"
	metricsmem "bank-ledger/pkg/metrics/memory"
)

var errBoom = errors.New("boom")

// spyStore wraps a memory store so tests can observe and break individual
// transaction calls.
type spyStore struct {
	*memory.Store

	existsCalls atomic.Int32
	lockCalls   atomic.Int32
	failCredit  bool
	failLock    bool
}

func (s *spyStore) WithinTx(ctx context.Context, fn func(tx account.Tx) error) error {
	return s.Store.WithinTx(ctx, func(tx account.Tx) error {
		return fn(&spyTx{Tx: tx, store: s})
	})
}

type spyTx struct {
	account.Tx
	store *spyStore
}

func (t *spyTx) AccountExists(ctx context.Context, id string) (bool, error) {
	t.store.existsCalls.Add(1)
	return t.Tx.AccountExists(ctx, id)
}

func (t *spyTx) LockAccounts(ctx context.Context, ids ...string) ([]account.Account, error) {
	t.store.lockCalls.Add(1)
	if t.store.failLock {
		return nil, errBoom
	}
	return t.Tx.LockAccounts(ctx, ids...)
}

func (t *spyTx) ApplyDelta(ctx context.Context, id string, delta int64) error {
	if t.store.failCredit && delta > 0 {
		return errBoom
	}
	return t.Tx.ApplyDelta(ctx, id, delta)
}

type recordingInvalidator struct {
	mu    sync.Mutex
	calls [][]account.Account
	err   error
}

func (r *recordingInvalidator) InvalidateAccounts(_ context.Context, accounts ...account.Account) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.calls = append(r.calls, accounts)
	return r.err
}

func newFixture(t *testing.T) *spyStore {
	t.Helper()
	store := memory.New()
	err := store.Seed(
		account.Account{ID: "A1", Owner: "alice", Balance: 100},
		account.Account{ID: "A2", Owner: "alice", Balance: 0},
		account.Account{ID: "B1", Owner: "bob", Balance: 50},
	)
	if err != nil {
		t.Fatalf("Seed failed: %v", err)
	}
	return &spyStore{Store: store}
}

func balances(s *spyStore) map[string]int64 {
	out := make(map[string]int64)
	for _, id := range []string{"A1", "A2", "B1"} {
		a, _ := s.Snapshot(id)
		out[id] = a.Balance
	}
	return out
}

func TestEngine_Execute(t *testing.T) {
	tests := []struct {
		name      string
		req       Request
		want      Status
		balances  map[string]int64
		available int64
		maxAmount int64
	}{
		{
			name:     "success between own accounts",
			req:      Request{SourceID: "A1", TargetID: "A2", Amount: 30, Owner: "alice"},
			want:     StatusSuccess,
			balances: map[string]int64{"A1": 70, "A2": 30, "B1": 50},
		},
		{
			name:     "success to another owner",
			req:      Request{SourceID: "B1", TargetID: "A1", Amount: 50, Owner: "bob"},
			want:     StatusSuccess,
			balances: map[string]int64{"A1": 150, "A2": 0, "B1": 0},
		},
		{
			name:     "foreign source",
			req:      Request{SourceID: "B1", TargetID: "A1", Amount: 10, Owner: "alice"},
			want:     StatusUnauthorized,
			balances: map[string]int64{"A1": 100, "A2": 0, "B1": 50},
		},
		{
			name:     "missing source",
			req:      Request{SourceID: "ZZ", TargetID: "A1", Amount: 10, Owner: "alice"},
			want:     StatusUnauthorized,
			balances: map[string]int64{"A1": 100, "A2": 0, "B1": 50},
		},
		{
			name:     "missing target",
			req:      Request{SourceID: "A1", TargetID: "ZZ", Amount: 10, Owner: "alice"},
			want:     StatusTargetNotFound,
			balances: map[string]int64{"A1": 100, "A2": 0, "B1": 50},
		},
		{
			name:      "zero amount",
			req:       Request{SourceID: "A1", TargetID: "A2", Amount: 0, Owner: "alice"},
			want:      StatusInvalidAmount,
			balances:  map[string]int64{"A1": 100, "A2": 0, "B1": 50},
			maxAmount: DefaultMaxAmount,
		},
		{
			name:      "negative amount",
			req:       Request{SourceID: "A1", TargetID: "A2", Amount: -5, Owner: "alice"},
			want:      StatusInvalidAmount,
			balances:  map[string]int64{"A1": 100, "A2": 0, "B1": 50},
			maxAmount: DefaultMaxAmount,
		},
		{
			name:      "above cap",
			req:       Request{SourceID: "A1", TargetID: "A2", Amount: 1001, Owner: "alice"},
			want:      StatusInvalidAmount,
			balances:  map[string]int64{"A1": 100, "A2": 0, "B1": 50},
			maxAmount: DefaultMaxAmount,
		},
		{
			name:      "insufficient funds",
			req:       Request{SourceID: "B1", TargetID: "A1", Amount: 51, Owner: "bob"},
			want:      StatusInsufficientFunds,
			balances:  map[string]int64{"A1": 100, "A2": 0, "B1": 50},
			available: 50,
		},
		{
			name:      "invalid amount wins over missing funds",
			req:       Request{SourceID: "A2", TargetID: "A1", Amount: 5000, Owner: "alice"},
			want:      StatusInvalidAmount,
			balances:  map[string]int64{"A1": 100, "A2": 0, "B1": 50},
			maxAmount: DefaultMaxAmount,
		},
		{
			name:     "self transfer is a no-op",
			req:      Request{SourceID: "A1", TargetID: "A1", Amount: 40, Owner: "alice"},
			want:     StatusSuccess,
			balances: map[string]int64{"A1": 100, "A2": 0, "B1": 50},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			store := newFixture(t)
			engine := NewEngine(store, DefaultConfig())

			res, err := engine.Execute(context.Background(), tt.req)
			if err != nil {
				t.Fatalf("Execute returned error: %v", err)
			}
			if res.Status != tt.want {
				t.Fatalf("Expected status %s, got %s", tt.want, res.Status)
			}
			if res.Reference == "" {
				t.Error("Expected a reference on every result")
			}
			if res.Available != tt.available {
				t.Errorf("Expected available %d, got %d", tt.available, res.Available)
			}
			if res.MaxAmount != tt.maxAmount {
				t.Errorf("Expected max amount %d, got %d", tt.maxAmount, res.MaxAmount)
			}

			got := balances(store)
			for id, want := range tt.balances {
				if got[id] != want {
					t.Errorf("Balance of %s: expected %d, got %d", id, want, got[id])
				}
			}
			if total := store.Total(); total != 150 {
				t.Errorf("Expected total 150 to be conserved, got %d", total)
			}
		})
	}
}

func TestEngine_AmountAtCap(t *testing.T) {
	store := newFixture(t)
	if err := store.Seed(account.Account{ID: "R1", Owner: "rich", Balance: 5000}); err != nil {
		t.Fatalf("Seed failed: %v", err)
	}
	engine := NewEngine(store, DefaultConfig())

	res, err := engine.Execute(context.Background(), Request{SourceID: "R1", TargetID: "A1", Amount: 1000, Owner: "rich"})
	if err != nil {
		t.Fatalf("Execute returned error: %v", err)
	}
	if !res.OK() {
		t.Fatalf("Expected 1000 to be accepted, got %s", res.Status)
	}

	res, _ = engine.Execute(context.Background(), Request{SourceID: "R1", TargetID: "A1", Amount: 1001, Owner: "rich"})
	if res.Status != StatusInvalidAmount {
		t.Fatalf("Expected 1001 to be rejected, got %s", res.Status)
	}
}

func TestEngine_ConfigurableCap(t *testing.T) {
	store := newFixture(t)
	engine := NewEngine(store, Config{MaxAmount: 20})

	if engine.MaxAmount() != 20 {
		t.Fatalf("Expected cap 20, got %d", engine.MaxAmount())
	}

	res, _ := engine.Execute(context.Background(), Request{SourceID: "A1", TargetID: "A2", Amount: 21, Owner: "alice"})
	if res.Status != StatusInvalidAmount || res.MaxAmount != 20 {
		t.Fatalf("Expected invalid_amount with cap 20, got %s cap %d", res.Status, res.MaxAmount)
	}

	if NewEngine(store, Config{}).MaxAmount() != DefaultMaxAmount {
		t.Error("Expected zero cap to fall back to the default")
	}
}

func TestEngine_OwnershipCheckedBeforeTarget(t *testing.T) {
	store := newFixture(t)
	engine := NewEngine(store, DefaultConfig())

	// Foreign source and missing target: the target must not be probed.
	res, err := engine.Execute(context.Background(), Request{SourceID: "B1", TargetID: "ZZ", Amount: 10, Owner: "alice"})
	if err != nil {
		t.Fatalf("Execute returned error: %v", err)
	}
	if res.Status != StatusUnauthorized {
		t.Fatalf("Expected unauthorized, got %s", res.Status)
	}
	if n := store.existsCalls.Load(); n != 0 {
		t.Errorf("Expected no target lookup before ownership is established, got %d", n)
	}

	if n := store.lockCalls.Load(); n != 0 {
		t.Errorf("Expected no row locks for a caller who does not own the source, got %d", n)
	}

	// Same for a missing source and a bad amount.
	res, _ = engine.Execute(context.Background(), Request{SourceID: "ZZ", TargetID: "A1", Amount: -1, Owner: "alice"})
	if res.Status != StatusUnauthorized {
		t.Fatalf("Expected unauthorized, got %s", res.Status)
	}
}

func TestEngine_EmptyOwnerIsUnauthorized(t *testing.T) {
	store := newFixture(t)
	engine := NewEngine(store, DefaultConfig())

	res, _ := engine.Execute(context.Background(), Request{SourceID: "A1", TargetID: "A2", Amount: 1, Owner: ""})
	if res.Status != StatusUnauthorized {
		t.Fatalf("Expected unauthorized, got %s", res.Status)
	}
}

func TestEngine_TargetOverflowRollsBack(t *testing.T) {
	store := memory.New()
	if err := store.Seed(
		account.Account{ID: "A1", Owner: "alice", Balance: 100},
		account.Account{ID: "B1", Owner: "bob", Balance: math.MaxInt64 - 10},
	); err != nil {
		t.Fatalf("Seed failed: %v", err)
	}
	engine := NewEngine(store, DefaultConfig())

	res, err := engine.Execute(context.Background(), Request{SourceID: "A1", TargetID: "B1", Amount: 50, Owner: "alice"})
	if res.Status != StatusInternal || !errors.Is(err, account.ErrBalanceOutOfRange) {
		t.Fatalf("Expected internal out-of-range failure, got %s, %v", res.Status, err)
	}
	if a1, _ := store.Snapshot("A1"); a1.Balance != 100 {
		t.Errorf("Expected debit rolled back, got A1=%d", a1.Balance)
	}
}

func TestEngine_CreditFailureRollsBack(t *testing.T) {
	store := newFixture(t)
	store.failCredit = true
	mc := metricsmem.NewMemoryCollector()
	engine := NewEngine(store, Config{Metrics: mc})

	res, err := engine.Execute(context.Background(), Request{SourceID: "A1", TargetID: "A2", Amount: 30, Owner: "alice"})
	if err == nil {
		t.Fatal("Expected an error")
	}
	if res.Status != StatusInternal {
		t.Fatalf("Expected internal, got %s", res.Status)
	}
	if !errors.Is(err, ErrInternal) || !errors.Is(err, errBoom) {
		t.Errorf("Expected error to match ErrInternal and the cause, got %v", err)
	}

	var ierr *InternalError
	if !errors.As(err, &ierr) || ierr.Reference != res.Reference {
		t.Errorf("Expected InternalError carrying reference %s", res.Reference)
	}

	if got := balances(store); got["A1"] != 100 || got["A2"] != 0 {
		t.Errorf("Expected debit to be rolled back, got %v", got)
	}
	if mc.Transfers("internal") != 1 {
		t.Error("Expected the internal outcome to be counted")
	}
}

func TestEngine_StoreFailureIsInternal(t *testing.T) {
	store := newFixture(t)
	store.failLock = true
	engine := NewEngine(store, DefaultConfig())

	res, err := engine.Execute(context.Background(), Request{SourceID: "A1", TargetID: "A2", Amount: 30, Owner: "alice"})
	if !errors.Is(err, ErrInternal) {
		t.Fatalf("Expected ErrInternal, got %v", err)
	}
	if res.Status != StatusInternal || res.Err != err {
		t.Errorf("Expected result to carry the returned error, got %+v", res)
	}
}

func TestEngine_CanceledContext(t *testing.T) {
	store := newFixture(t)
	engine := NewEngine(store, DefaultConfig())

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	res, err := engine.Execute(ctx, Request{SourceID: "A1", TargetID: "A2", Amount: 30, Owner: "alice"})
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("Expected context.Canceled, got %v", err)
	}
	if res.Status != StatusInternal {
		t.Errorf("Expected internal, got %s", res.Status)
	}
	if got := balances(store); got["A1"] != 100 {
		t.Errorf("Expected no mutation, got %v", got)
	}
}

func TestEngine_NoDoubleSpendDistinctTargets(t *testing.T) {
	store := newFixture(t)
	engine := NewEngine(store, DefaultConfig())

	targets := []string{"A2", "B1"}
	results := make([]Result, len(targets))
	var wg sync.WaitGroup
	start := make(chan struct{})

	for i, target := range targets {
		wg.Add(1)
		go func(i int, target string) {
			defer wg.Done()
			<-start
			results[i], _ = engine.Execute(context.Background(), Request{SourceID: "A1", TargetID: target, Amount: 60, Owner: "alice"})
		}(i, target)
	}
	close(start)
	wg.Wait()

	counts := make(map[Status]int)
	for _, r := range results {
		counts[r.Status]++
	}
	if counts[StatusSuccess] != 1 || counts[StatusInsufficientFunds] != 1 {
		t.Fatalf("Expected one success and one insufficient_funds, got %v", counts)
	}

	got := balances(store)
	if got["A1"] != 40 {
		t.Errorf("Expected A1=40, got %d", got["A1"])
	}
	if credited := got["A2"] + got["B1"]; credited != 0+50+60 {
		t.Errorf("Expected exactly one 60 credit across A2 and B1, got A2=%d B1=%d", got["A2"], got["B1"])
	}
}

func TestEngine_NoDoubleSpend(t *testing.T) {
	store := newFixture(t)
	engine := NewEngine(store, DefaultConfig())

	const workers = 2
	results := make([]Result, workers)
	var wg sync.WaitGroup
	start := make(chan struct{})

	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			<-start
			results[i], _ = engine.Execute(context.Background(), Request{SourceID: "A1", TargetID: "B1", Amount: 60, Owner: "alice"})
		}(i)
	}
	close(start)
	wg.Wait()

	counts := make(map[Status]int)
	for _, r := range results {
		counts[r.Status]++
	}
	if counts[StatusSuccess] != 1 || counts[StatusInsufficientFunds] != 1 {
		t.Fatalf("Expected one success and one insufficient_funds, got %v", counts)
	}

	got := balances(store)
	if got["A1"] != 40 || got["B1"] != 110 {
		t.Errorf("Expected A1=40 B1=110, got %v", got)
	}
}

func TestEngine_ConcurrentConservation(t *testing.T) {
	store := newFixture(t)
	engine := NewEngine(store, DefaultConfig())

	var wg sync.WaitGroup
	pairs := []Request{
		{SourceID: "A1", TargetID: "B1", Amount: 7, Owner: "alice"},
		{SourceID: "B1", TargetID: "A2", Amount: 3, Owner: "bob"},
		{SourceID: "A2", TargetID: "A1", Amount: 2, Owner: "alice"},
	}
	for i := 0; i < 60; i++ {
		wg.Add(1)
		go func(req Request) {
			defer wg.Done()
			_, _ = engine.Execute(context.Background(), req)
		}(pairs[i%len(pairs)])
	}
	wg.Wait()

	if total := store.Total(); total != 150 {
		t.Fatalf("Expected total 150, got %d", total)
	}
	for id, b := range balances(store) {
		if b < 0 {
			t.Errorf("Balance of %s went negative: %d", id, b)
		}
	}
}

func TestEngine_InvalidatesOnlyOnSuccess(t *testing.T) {
	store := newFixture(t)
	inv := &recordingInvalidator{}
	engine := NewEngine(store, Config{Invalidator: inv})

	_, _ = engine.Execute(context.Background(), Request{SourceID: "A1", TargetID: "A2", Amount: 500, Owner: "alice"})
	_, _ = engine.Execute(context.Background(), Request{SourceID: "B1", TargetID: "A1", Amount: 1, Owner: "alice"})
	if len(inv.calls) != 0 {
		t.Fatalf("Expected no invalidation for declined transfers, got %d", len(inv.calls))
	}

	res, _ := engine.Execute(context.Background(), Request{SourceID: "A1", TargetID: "B1", Amount: 10, Owner: "alice"})
	if !res.OK() {
		t.Fatalf("Expected success, got %s", res.Status)
	}
	if len(inv.calls) != 1 {
		t.Fatalf("Expected one invalidation, got %d", len(inv.calls))
	}
	call := inv.calls[0]
	if len(call) != 2 || call[0].ID != "A1" || call[1].ID != "B1" {
		t.Errorf("Expected locked rows A1,B1, got %+v", call)
	}
	if call[1].Owner != "bob" {
		t.Errorf("Expected target owner to be carried, got %q", call[1].Owner)
	}
}

func TestEngine_InvalidationErrorDoesNotFailTransfer(t *testing.T) {
	store := newFixture(t)
	engine := NewEngine(store, Config{Invalidator: &recordingInvalidator{err: errBoom}})

	res, err := engine.Execute(context.Background(), Request{SourceID: "A1", TargetID: "A2", Amount: 10, Owner: "alice"})
	if err != nil || !res.OK() {
		t.Fatalf("Expected success despite invalidation error, got %s %v", res.Status, err)
	}
}

func TestEngine_RecordsMetrics(t *testing.T) {
	store := newFixture(t)
	mc := metricsmem.NewMemoryCollector()
	engine := NewEngine(store, Config{Metrics: mc})

	_, _ = engine.Execute(context.Background(), Request{SourceID: "A1", TargetID: "A2", Amount: 10, Owner: "alice"})
	_, _ = engine.Execute(context.Background(), Request{SourceID: "A1", TargetID: "ZZ", Amount: 10, Owner: "alice"})

	if mc.Transfers("success") != 1 || mc.Transfers("target_not_found") != 1 {
		t.Errorf("Unexpected transfer counts: %+v", mc.Snapshot().Transfers)
	}
}

func TestParseAmount(t *testing.T) {
	tests := []struct {
		in      string
		want    int64
		wantErr bool
	}{
		{in: "10", want: 10},
		{in: " 42 ", want: 42},
		{in: "-3", want: -3},
		{in: "", wantErr: true},
		{in: "abc", wantErr: true},
		{in: "1.5", wantErr: true},
	}

	for _, tt := range tests {
		got, err := ParseAmount(tt.in)
		if tt.wantErr {
			if !errors.Is(err, ErrInvalidAmount) {
				t.Errorf("ParseAmount(%q): expected ErrInvalidAmount, got %v", tt.in, err)
			}
			continue
		}
		if err != nil || got != tt.want {
			t.Errorf("ParseAmount(%q) = %d, %v; want %d", tt.in, got, err, tt.want)
		}
	}
}

func TestStatus_String(t *testing.T) {
	if StatusInsufficientFunds.String() != "insufficient_funds" {
		t.Errorf("Unexpected name %q", StatusInsufficientFunds.String())
	}
	if !StatusTargetNotFound.Declined() || StatusSuccess.Declined() || StatusInternal.Declined() {
		t.Error("Unexpected Declined classification")
	}
}
