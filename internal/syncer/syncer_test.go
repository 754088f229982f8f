package syncer

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"github.com/moneta-app/moneta/internal/domain"
	"github.com/moneta-app/moneta/internal/ledger"
	"github.com/moneta-app/moneta/internal/logger"
	"github.com/moneta-app/moneta/internal/metrics"
	"github.com/moneta-app/moneta/internal/store"
)

// fakeRemote records writes and can fail selected records or the ping.
type fakeRemote struct {
	mu       sync.Mutex
	records  map[string]map[string]any
	failKeys map[string]bool // "table/id" -> always fail
	pingErr  error
}

func newFakeRemote() *fakeRemote {
	return &fakeRemote{
		records:  make(map[string]map[string]any),
		failKeys: make(map[string]bool),
	}
}

func (f *fakeRemote) Upsert(_ context.Context, table, recordID string, fields map[string]any) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	key := table + "/" + recordID
	if f.failKeys[key] {
		return errors.New("write rejected")
	}
	f.records[key] = fields
	return nil
}

func (f *fakeRemote) Delete(_ context.Context, table, recordID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	key := table + "/" + recordID
	if f.failKeys[key] {
		return errors.New("write rejected")
	}
	delete(f.records, key)
	return nil
}

func (f *fakeRemote) ListByOwner(_ context.Context, _, _ string) ([]map[string]any, error) {
	return nil, nil
}

func (f *fakeRemote) Ping(_ context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.pingErr
}

func (f *fakeRemote) has(table, recordID string) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	_, ok := f.records[table+"/"+recordID]
	return ok
}

func setup(t *testing.T, rem *fakeRemote, opts ...Option) (*store.Store, *ledger.Service, *Syncer) {
	t.Helper()
	st, err := store.Open(":memory:", logger.Nop())
	if err != nil {
		t.Fatalf("opening store: %v", err)
	}
	t.Cleanup(func() { st.Close() })

	// The ledger is wired offline so every write lands in the queue.
	svc := ledger.New(st, rem, func() bool { return false }, logger.Nop())
	sync := New(st, rem, metrics.New(), logger.Nop(), opts...)
	return st, svc, sync
}

func queueTransaction(t *testing.T, svc *ledger.Service, amount string) *domain.Transaction {
	t.Helper()
	tx := &domain.Transaction{
		OwnerID:   "u1",
		Direction: domain.DirectionExpense,
		Category:  "food",
		Amount:    decimal.RequireFromString(amount),
	}
	if err := svc.AddTransaction(context.Background(), tx); err != nil {
		t.Fatalf("AddTransaction: %v", err)
	}
	return tx
}

func TestDrainSyncsPending(t *testing.T) {
	ctx := context.Background()
	rem := newFakeRemote()
	st, svc, sync := setup(t, rem)

	tx := queueTransaction(t, svc, "42.00")

	res, err := sync.Drain(ctx)
	if err != nil {
		t.Fatalf("Drain: %v", err)
	}
	if res.Synced != 1 || res.Failed != 0 {
		t.Errorf("result = %+v, want 1 synced 0 failed", res)
	}
	if !rem.has(ledger.TableTransactions, tx.ID) {
		t.Error("remote store missing replayed transaction")
	}

	n, _ := st.PendingCount(ctx)
	if n != 0 {
		t.Errorf("pending count after drain = %d, want 0", n)
	}

	got, err := st.GetTransaction(ctx, tx.ID)
	if err != nil {
		t.Fatalf("GetTransaction: %v", err)
	}
	if !got.Synced {
		t.Error("drained transaction should carry the synced flag")
	}
}

func TestDrainContinuesPastFailingItem(t *testing.T) {
	ctx := context.Background()
	rem := newFakeRemote()
	_, svc, sync := setup(t, rem)

	bad := queueTransaction(t, svc, "1.00")
	good := queueTransaction(t, svc, "2.00")
	rem.failKeys[ledger.TableTransactions+"/"+bad.ID] = true

	res, err := sync.Drain(ctx)
	if err != nil {
		t.Fatalf("Drain: %v", err)
	}
	if res.Synced != 1 || res.Failed != 1 {
		t.Errorf("result = %+v, want 1 synced 1 failed", res)
	}
	if !rem.has(ledger.TableTransactions, good.ID) {
		t.Error("item after the failing one should still sync")
	}
	if res.Remaining != 1 {
		t.Errorf("remaining = %d, want 1", res.Remaining)
	}
}

func TestDrainDeadLettersAfterMaxAttempts(t *testing.T) {
	ctx := context.Background()
	rem := newFakeRemote()
	st, svc, sync := setup(t, rem, WithMaxAttempts(2))

	bad := queueTransaction(t, svc, "1.00")
	rem.failKeys[ledger.TableTransactions+"/"+bad.ID] = true

	if res, _ := sync.Drain(ctx); res.Dead != 0 {
		t.Fatalf("first drain dead = %d, want 0", res.Dead)
	}
	res, err := sync.Drain(ctx)
	if err != nil {
		t.Fatalf("Drain: %v", err)
	}
	if res.Dead != 1 {
		t.Errorf("second drain dead = %d, want 1", res.Dead)
	}

	// A dead item no longer participates in drains.
	res, _ = sync.Drain(ctx)
	if res.Failed != 0 {
		t.Errorf("third drain failed = %d, want 0", res.Failed)
	}

	dead, err := st.DeadLetters(ctx)
	if err != nil {
		t.Fatalf("DeadLetters: %v", err)
	}
	if len(dead) != 1 || dead[0].RecordID != bad.ID {
		t.Errorf("dead letters = %+v, want the failing record", dead)
	}
}

func TestDrainSkippedWhileUnreachable(t *testing.T) {
	ctx := context.Background()
	rem := newFakeRemote()
	rem.pingErr = errors.New("no route to host")
	st, svc, sync := setup(t, rem)

	queueTransaction(t, svc, "3.00")

	res, err := sync.Drain(ctx)
	if err != nil {
		t.Fatalf("Drain: %v", err)
	}
	if !res.Offline {
		t.Error("result should report offline")
	}
	n, _ := st.PendingCount(ctx)
	if n != 1 {
		t.Errorf("pending count = %d, want 1 (nothing attempted)", n)
	}
}

func TestNetworkRegainedTriggersDrain(t *testing.T) {
	rem := newFakeRemote()
	_, svc, sync := setup(t, rem, WithInterval(time.Hour))

	tx := queueTransaction(t, svc, "7.00")

	done := make(chan Result, 1)
	sync.OnComplete(func(r Result) {
		select {
		case done <- r:
		default:
		}
	})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go sync.Run(ctx)

	sync.SetOnline(true)

	select {
	case res := <-done:
		if res.Synced != 1 {
			t.Errorf("synced = %d, want 1", res.Synced)
		}
		if !rem.has(ledger.TableTransactions, tx.ID) {
			t.Error("remote store missing transaction after triggered drain")
		}
	case <-time.After(5 * time.Second):
		t.Fatal("drain never ran after SetOnline(true)")
	}
}

func TestDrainGuardsReentrancy(t *testing.T) {
	rem := newFakeRemote()
	_, _, sync := setup(t, rem)

	sync.draining.Store(true)
	if _, err := sync.Drain(context.Background()); !errors.Is(err, ErrAlreadyDraining) {
		t.Errorf("err = %v, want ErrAlreadyDraining", err)
	}
	sync.draining.Store(false)
}
