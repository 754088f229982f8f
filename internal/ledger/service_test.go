package ledger

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"github.com/moneta-app/moneta/internal/domain"
	"github.com/moneta-app/moneta/internal/logger"
	"github.com/moneta-app/moneta/internal/store"
)

// fakeRemote is an in-memory remote store with a failure switch.
type fakeRemote struct {
	mu      sync.Mutex
	records map[string]map[string]any // "table/id" -> fields
	deletes []string
	fail    bool
}

func newFakeRemote() *fakeRemote {
	return &fakeRemote{records: make(map[string]map[string]any)}
}

func (f *fakeRemote) Upsert(_ context.Context, table, recordID string, fields map[string]any) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.fail {
		return errors.New("remote unavailable")
	}
	f.records[table+"/"+recordID] = fields
	return nil
}

func (f *fakeRemote) Delete(_ context.Context, table, recordID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.fail {
		return errors.New("remote unavailable")
	}
	delete(f.records, table+"/"+recordID)
	f.deletes = append(f.deletes, table+"/"+recordID)
	return nil
}

func (f *fakeRemote) ListByOwner(_ context.Context, _, _ string) ([]map[string]any, error) {
	return nil, nil
}

func (f *fakeRemote) Ping(_ context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.fail {
		return errors.New("remote unavailable")
	}
	return nil
}

func (f *fakeRemote) has(table, recordID string) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	_, ok := f.records[table+"/"+recordID]
	return ok
}

func newTestService(t *testing.T, rem *fakeRemote, online bool) *Service {
	t.Helper()
	st, err := store.Open(":memory:", logger.Nop())
	if err != nil {
		t.Fatalf("opening store: %v", err)
	}
	t.Cleanup(func() { st.Close() })
	return New(st, rem, func() bool { return online }, logger.Nop())
}

func TestAddTransactionOnline(t *testing.T) {
	ctx := context.Background()
	rem := newFakeRemote()
	svc := newTestService(t, rem, true)

	tx := &domain.Transaction{
		OwnerID:   "u1",
		Direction: domain.DirectionExpense,
		Category:  "food",
		Amount:    decimal.RequireFromString("12.50"),
	}
	if err := svc.AddTransaction(ctx, tx); err != nil {
		t.Fatalf("AddTransaction: %v", err)
	}

	if !tx.Synced {
		t.Error("transaction should be synced after confirmed remote write")
	}
	if !rem.has(TableTransactions, tx.ID) {
		t.Error("remote store missing the transaction")
	}
	n, err := svc.Store().PendingCount(ctx)
	if err != nil {
		t.Fatalf("PendingCount: %v", err)
	}
	if n != 0 {
		t.Errorf("pending count = %d, want 0", n)
	}

	got, err := svc.Store().GetTransaction(ctx, tx.ID)
	if err != nil {
		t.Fatalf("GetTransaction: %v", err)
	}
	if !got.Synced {
		t.Error("stored transaction should carry the synced flag")
	}
}

func TestAddTransactionOffline(t *testing.T) {
	ctx := context.Background()
	rem := newFakeRemote()
	svc := newTestService(t, rem, false)

	tx := &domain.Transaction{
		OwnerID:   "u1",
		Direction: domain.DirectionExpense,
		Category:  "food",
		Amount:    decimal.RequireFromString("12.50"),
	}
	if err := svc.AddTransaction(ctx, tx); err != nil {
		t.Fatalf("AddTransaction: %v", err)
	}

	if tx.Synced {
		t.Error("offline write must not be marked synced")
	}
	if rem.has(TableTransactions, tx.ID) {
		t.Error("offline write must not reach the remote store")
	}

	pending, err := svc.Store().ListPending(ctx)
	if err != nil {
		t.Fatalf("ListPending: %v", err)
	}
	if len(pending) != 1 {
		t.Fatalf("pending items = %d, want exactly 1", len(pending))
	}
	item := pending[0]
	if item.Table != TableTransactions || item.Operation != domain.OpInsert || item.RecordID != tx.ID {
		t.Errorf("queue item = %s %s %s, want transactions insert %s",
			item.Table, item.Operation, item.RecordID, tx.ID)
	}
	if item.Payload["amount"] != "12.5" && item.Payload["amount"] != "12.50" {
		t.Errorf("queued payload amount = %v", item.Payload["amount"])
	}
}

func TestRemoteFailureFallsBackToQueue(t *testing.T) {
	ctx := context.Background()
	rem := newFakeRemote()
	rem.fail = true
	svc := newTestService(t, rem, true)

	tx := &domain.Transaction{
		OwnerID:   "u1",
		Direction: domain.DirectionIncome,
		Amount:    decimal.RequireFromString("100"),
	}
	if err := svc.AddTransaction(ctx, tx); err != nil {
		t.Fatalf("AddTransaction must not fail on remote errors: %v", err)
	}
	if tx.Synced {
		t.Error("failed remote write must leave the transaction unsynced")
	}
	n, _ := svc.Store().PendingCount(ctx)
	if n != 1 {
		t.Errorf("pending count = %d, want 1", n)
	}
}

func TestDeleteTransactionMirrors(t *testing.T) {
	ctx := context.Background()
	rem := newFakeRemote()
	svc := newTestService(t, rem, true)

	tx := &domain.Transaction{
		OwnerID:   "u1",
		Direction: domain.DirectionExpense,
		Amount:    decimal.RequireFromString("5"),
	}
	if err := svc.AddTransaction(ctx, tx); err != nil {
		t.Fatalf("AddTransaction: %v", err)
	}
	if err := svc.DeleteTransaction(ctx, tx.ID); err != nil {
		t.Fatalf("DeleteTransaction: %v", err)
	}

	if rem.has(TableTransactions, tx.ID) {
		t.Error("remote record should be deleted")
	}
	if _, err := svc.Store().GetTransaction(ctx, tx.ID); !errors.Is(err, domain.ErrNotFound) {
		t.Errorf("GetTransaction after delete: err = %v, want ErrNotFound", err)
	}
}

func TestSaveRecurringTemplateRejectsBadInterval(t *testing.T) {
	ctx := context.Background()
	svc := newTestService(t, newFakeRemote(), true)

	for _, interval := range []int{0, -3} {
		tmpl := &domain.RecurringTemplate{
			OwnerID:        "u1",
			Direction:      domain.DirectionExpense,
			Category:       "utilities",
			Amount:         decimal.RequireFromString("9.99"),
			IntervalDays:   interval,
			NextOccurrence: time.Now(),
			Active:         true,
		}
		err := svc.SaveRecurringTemplate(ctx, tmpl)
		if !errors.Is(err, domain.ErrInvalid) {
			t.Errorf("interval %d: err = %v, want ErrInvalid", interval, err)
		}
	}

	templates, err := svc.Store().RecurringByOwner(ctx, "u1")
	if err != nil {
		t.Fatalf("RecurringByOwner: %v", err)
	}
	if len(templates) != 0 {
		t.Errorf("templates stored = %d, want 0", len(templates))
	}
}

func TestProcessDueRecurringSkipsNonPositiveInterval(t *testing.T) {
	ctx := context.Background()
	svc := newTestService(t, newFakeRemote(), true)

	// Written straight to the store, sidestepping save-time validation,
	// the way a row from an older schema would look.
	bad := &domain.RecurringTemplate{
		ID:             "tmpl-bad",
		OwnerID:        "u1",
		Direction:      domain.DirectionExpense,
		Category:       "utilities",
		Amount:         decimal.RequireFromString("9.99"),
		IntervalDays:   0,
		NextOccurrence: time.Now().AddDate(0, 0, -1),
		Active:         true,
	}
	if err := svc.Store().PutRecurringTemplate(ctx, bad); err != nil {
		t.Fatalf("PutRecurringTemplate: %v", err)
	}

	created, err := svc.ProcessDueRecurring(ctx, time.Now())
	if err != nil {
		t.Fatalf("ProcessDueRecurring: %v", err)
	}
	if created != 0 {
		t.Errorf("created = %d, want 0 (template skipped, not looped on)", created)
	}
	txs, _ := svc.Store().TransactionsByOwner(ctx, "u1")
	if len(txs) != 0 {
		t.Errorf("transactions materialized = %d, want 0", len(txs))
	}
}

func TestDisconnectBankCascades(t *testing.T) {
	ctx := context.Background()
	rem := newFakeRemote()
	svc := newTestService(t, rem, true)

	conn := &domain.BankConnection{
		OwnerID:  "u1",
		Provider: domain.ProviderMono,
		Status:   domain.ConnectionActive,
	}
	if err := svc.SaveConnection(ctx, conn); err != nil {
		t.Fatalf("SaveConnection: %v", err)
	}

	acc := &domain.Account{
		OwnerID:      "u1",
		Name:         "Mono Black",
		Type:         domain.AccountChecking,
		Currency:     "UAH",
		ConnectionID: conn.ID,
	}
	if err := svc.SaveAccount(ctx, acc); err != nil {
		t.Fatalf("SaveAccount: %v", err)
	}

	tx := &domain.Transaction{
		OwnerID:    "u1",
		Direction:  domain.DirectionExpense,
		Amount:     decimal.RequireFromString("20"),
		AccountID:  acc.ID,
		ExternalID: "ext-1",
	}
	if err := svc.AddTransaction(ctx, tx); err != nil {
		t.Fatalf("AddTransaction: %v", err)
	}

	if err := svc.DisconnectBank(ctx, conn.ID); err != nil {
		t.Fatalf("DisconnectBank: %v", err)
	}

	if _, err := svc.Store().GetConnection(ctx, conn.ID); !errors.Is(err, domain.ErrNotFound) {
		t.Errorf("connection should be removed, got err %v", err)
	}
	if _, err := svc.Store().GetAccount(ctx, acc.ID); !errors.Is(err, domain.ErrNotFound) {
		t.Errorf("linked account should be removed, got err %v", err)
	}
	if _, err := svc.Store().GetTransaction(ctx, tx.ID); !errors.Is(err, domain.ErrNotFound) {
		t.Errorf("imported transaction should be removed, got err %v", err)
	}
	if rem.has(TableConnections, conn.ID) || rem.has(TableAccounts, acc.ID) {
		t.Error("remote store should not retain disconnected records")
	}
}

func TestProcessDueRecurringCatchesUp(t *testing.T) {
	ctx := context.Background()
	rem := newFakeRemote()
	svc := newTestService(t, rem, true)

	now := time.Date(2026, 3, 15, 12, 0, 0, 0, time.UTC)
	tmpl := &domain.RecurringTemplate{
		OwnerID:        "u1",
		Direction:      domain.DirectionExpense,
		Category:       "utilities",
		Amount:         decimal.RequireFromString("9.99"),
		Description:    "Streaming",
		IntervalDays:   7,
		NextOccurrence: now.AddDate(0, 0, -10),
		Active:         true,
	}
	if err := svc.SaveRecurringTemplate(ctx, tmpl); err != nil {
		t.Fatalf("SaveRecurringTemplate: %v", err)
	}

	created, err := svc.ProcessDueRecurring(ctx, now)
	if err != nil {
		t.Fatalf("ProcessDueRecurring: %v", err)
	}
	if created != 2 {
		t.Errorf("created = %d, want 2 (occurrences at -10d and -3d)", created)
	}

	got, err := svc.Store().GetRecurringTemplate(ctx, tmpl.ID)
	if err != nil {
		t.Fatalf("GetRecurringTemplate: %v", err)
	}
	if !got.NextOccurrence.After(now) {
		t.Errorf("next occurrence %v should be advanced past %v", got.NextOccurrence, now)
	}

	// Running again immediately must be a no-op.
	created, err = svc.ProcessDueRecurring(ctx, now)
	if err != nil {
		t.Fatalf("ProcessDueRecurring second run: %v", err)
	}
	if created != 0 {
		t.Errorf("second run created = %d, want 0", created)
	}
}
