package store

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/moneta-app/moneta/internal/domain"
	"github.com/moneta-app/moneta/internal/logger"
)

func openTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := Open(":memory:", logger.Nop())
	if err != nil {
		t.Fatalf("Open(:memory:) failed: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func newAccount(ownerID string, accType domain.AccountType, balance int64) *domain.Account {
	return &domain.Account{
		ID:       uuid.NewString(),
		OwnerID:  ownerID,
		Name:     "test account",
		Type:     accType,
		Currency: "UAH",
		Balance:  decimal.NewFromInt(balance),
	}
}

func newExpense(ownerID, accountID string, amount int64) *domain.Transaction {
	return &domain.Transaction{
		ID:        uuid.NewString(),
		OwnerID:   ownerID,
		Direction: domain.DirectionExpense,
		Category:  "food",
		Amount:    decimal.NewFromInt(amount),
		Date:      time.Now(),
		AccountID: accountID,
	}
}

func TestTransactionRoundTrip(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	tx := newExpense("u1", "", 125)
	tx.Description = "Сільпо"
	tx.MCC = 5411
	tx.ExternalID = "ext-1"

	if err := s.PutTransaction(ctx, tx); err != nil {
		t.Fatalf("PutTransaction: %v", err)
	}

	got, err := s.GetTransaction(ctx, tx.ID)
	if err != nil {
		t.Fatalf("GetTransaction: %v", err)
	}
	if got.Description != "Сільпо" || got.MCC != 5411 || got.ExternalID != "ext-1" {
		t.Errorf("round trip mismatch: %+v", got)
	}
	if !got.Amount.Equal(decimal.NewFromInt(125)) {
		t.Errorf("Amount = %s, want 125", got.Amount)
	}
	if got.Synced {
		t.Error("new transaction should not be synced")
	}
}

func TestGetTransactionNotFound(t *testing.T) {
	s := openTestStore(t)

	_, err := s.GetTransaction(context.Background(), "nope")
	if !errors.Is(err, domain.ErrNotFound) {
		t.Errorf("err = %v, want ErrNotFound", err)
	}
}

func TestBalanceConsistency(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	acc := newAccount("u1", domain.AccountChecking, 100)
	if err := s.PutAccount(ctx, acc); err != nil {
		t.Fatalf("PutAccount: %v", err)
	}

	tx := newExpense("u1", acc.ID, 50)
	if err := s.PutTransaction(ctx, tx); err != nil {
		t.Fatalf("PutTransaction: %v", err)
	}

	got, _ := s.GetAccount(ctx, acc.ID)
	if !got.Balance.Equal(decimal.NewFromInt(50)) {
		t.Errorf("balance after expense = %s, want 50", got.Balance)
	}

	if err := s.DeleteTransaction(ctx, tx.ID); err != nil {
		t.Fatalf("DeleteTransaction: %v", err)
	}
	got, _ = s.GetAccount(ctx, acc.ID)
	if !got.Balance.Equal(decimal.NewFromInt(100)) {
		t.Errorf("balance after delete = %s, want 100", got.Balance)
	}
}

func TestBalanceUpdateReplacesContribution(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	acc := newAccount("u1", domain.AccountChecking, 100)
	if err := s.PutAccount(ctx, acc); err != nil {
		t.Fatal(err)
	}

	tx := newExpense("u1", acc.ID, 50)
	if err := s.PutTransaction(ctx, tx); err != nil {
		t.Fatal(err)
	}

	// Re-put with a different amount: old contribution backed out first.
	tx.Amount = decimal.NewFromInt(30)
	if err := s.PutTransaction(ctx, tx); err != nil {
		t.Fatal(err)
	}

	got, _ := s.GetAccount(ctx, acc.ID)
	if !got.Balance.Equal(decimal.NewFromInt(70)) {
		t.Errorf("balance = %s, want 70", got.Balance)
	}
}

func TestCreditAccountInvertsSign(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	acc := newAccount("u1", domain.AccountCredit, 100)
	if err := s.PutAccount(ctx, acc); err != nil {
		t.Fatal(err)
	}

	tx := newExpense("u1", acc.ID, 50)
	if err := s.PutTransaction(ctx, tx); err != nil {
		t.Fatal(err)
	}

	// An expense grows credit debt.
	got, _ := s.GetAccount(ctx, acc.ID)
	if !got.Balance.Equal(decimal.NewFromInt(150)) {
		t.Errorf("credit balance after expense = %s, want 150", got.Balance)
	}

	if err := s.DeleteTransaction(ctx, tx.ID); err != nil {
		t.Fatal(err)
	}
	got, _ = s.GetAccount(ctx, acc.ID)
	if !got.Balance.Equal(decimal.NewFromInt(100)) {
		t.Errorf("credit balance after delete = %s, want 100", got.Balance)
	}
}

func TestExternalIDUniquePerOwner(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	tx1 := newExpense("u1", "", 10)
	tx1.ExternalID = "DUP"
	if err := s.PutTransaction(ctx, tx1); err != nil {
		t.Fatal(err)
	}

	tx2 := newExpense("u1", "", 20)
	tx2.ExternalID = "DUP"
	if err := s.PutTransaction(ctx, tx2); err == nil {
		t.Error("expected unique constraint violation for duplicate external id")
	}

	// Same external id under another owner is fine.
	tx3 := newExpense("u2", "", 20)
	tx3.ExternalID = "DUP"
	if err := s.PutTransaction(ctx, tx3); err != nil {
		t.Errorf("different owner should not conflict: %v", err)
	}
}

func TestKnownExternalIDs(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	withExt := newExpense("u1", "", 10)
	withExt.ExternalID = "A"
	manual := newExpense("u1", "", 15)
	if err := s.PutTransaction(ctx, withExt); err != nil {
		t.Fatal(err)
	}
	if err := s.PutTransaction(ctx, manual); err != nil {
		t.Fatal(err)
	}

	ids, err := s.KnownExternalIDs(ctx, "u1")
	if err != nil {
		t.Fatalf("KnownExternalIDs: %v", err)
	}
	if len(ids) != 1 || !ids["A"] {
		t.Errorf("ids = %v, want {A}", ids)
	}
}

func TestQueueDrainOrder(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	// Enqueued child-first while offline; the drain order puts the
	// parent account ahead of the transaction referencing it.
	if _, err := s.Enqueue(ctx, "u1", "transactions", domain.OpInsert, "t1", nil); err != nil {
		t.Fatal(err)
	}
	if _, err := s.Enqueue(ctx, "u1", "accounts", domain.OpInsert, "a1", nil); err != nil {
		t.Fatal(err)
	}
	if _, err := s.Enqueue(ctx, "u1", "transactions", domain.OpInsert, "t2", nil); err != nil {
		t.Fatal(err)
	}

	pending, err := s.ListPending(ctx)
	if err != nil {
		t.Fatalf("ListPending: %v", err)
	}
	if len(pending) != 3 {
		t.Fatalf("pending = %d, want 3", len(pending))
	}
	if pending[0].Table != "accounts" {
		t.Errorf("first drained table = %s, want accounts", pending[0].Table)
	}
	if pending[1].RecordID != "t1" || pending[2].RecordID != "t2" {
		t.Errorf("creation order not preserved within rank: %s, %s",
			pending[1].RecordID, pending[2].RecordID)
	}
}

func TestQueueMarkSynced(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	id, err := s.Enqueue(ctx, "u1", "transactions", domain.OpInsert, "t1",
		map[string]any{"amount": "50"})
	if err != nil {
		t.Fatal(err)
	}

	if err := s.MarkSynced(ctx, id); err != nil {
		t.Fatalf("MarkSynced: %v", err)
	}

	n, _ := s.PendingCount(ctx)
	if n != 0 {
		t.Errorf("pending count = %d, want 0", n)
	}
}

func TestQueueDeadLetter(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	id, err := s.Enqueue(ctx, "u1", "transactions", domain.OpInsert, "t1", nil)
	if err != nil {
		t.Fatal(err)
	}

	dead, err := s.MarkAttemptFailed(ctx, id, 3)
	if err != nil || dead {
		t.Fatalf("first failure: dead=%v err=%v", dead, err)
	}
	dead, _ = s.MarkAttemptFailed(ctx, id, 3)
	if dead {
		t.Fatal("second failure should not dead-letter yet")
	}
	dead, _ = s.MarkAttemptFailed(ctx, id, 3)
	if !dead {
		t.Fatal("third failure should dead-letter")
	}

	pending, _ := s.ListPending(ctx)
	if len(pending) != 0 {
		t.Errorf("dead-lettered item still pending: %d", len(pending))
	}
	letters, _ := s.DeadLetters(ctx)
	if len(letters) != 1 || letters[0].Attempts != 3 {
		t.Errorf("dead letters = %+v, want one item with 3 attempts", letters)
	}
}

func TestQueuePayloadRoundTrip(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	payload := map[string]any{"monthlyLimit": "150.00", "category": "food"}
	if _, err := s.Enqueue(ctx, "u1", "budgets", domain.OpUpdate, "b1", payload); err != nil {
		t.Fatal(err)
	}

	pending, err := s.ListPending(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if pending[0].Payload["monthlyLimit"] != "150.00" {
		t.Errorf("payload = %v", pending[0].Payload)
	}
}

func TestRecurringDue(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()
	now := time.Now()

	due := &domain.RecurringTemplate{
		ID:             uuid.NewString(),
		OwnerID:        "u1",
		Direction:      domain.DirectionExpense,
		Category:       "utilities",
		Amount:         decimal.NewFromInt(300),
		IntervalDays:   30,
		NextOccurrence: now.Add(-time.Hour),
		Active:         true,
	}
	notDue := &domain.RecurringTemplate{
		ID:             uuid.NewString(),
		OwnerID:        "u1",
		Direction:      domain.DirectionExpense,
		Category:       "utilities",
		Amount:         decimal.NewFromInt(100),
		IntervalDays:   30,
		NextOccurrence: now.Add(24 * time.Hour),
		Active:         true,
	}
	inactive := &domain.RecurringTemplate{
		ID:             uuid.NewString(),
		OwnerID:        "u1",
		Direction:      domain.DirectionExpense,
		Category:       "utilities",
		Amount:         decimal.NewFromInt(100),
		IntervalDays:   30,
		NextOccurrence: now.Add(-time.Hour),
		Active:         false,
	}
	for _, r := range []*domain.RecurringTemplate{due, notDue, inactive} {
		if err := s.PutRecurringTemplate(ctx, r); err != nil {
			t.Fatal(err)
		}
	}

	got, err := s.DueRecurringTemplates(ctx, now)
	if err != nil {
		t.Fatalf("DueRecurringTemplates: %v", err)
	}
	if len(got) != 1 || got[0].ID != due.ID {
		t.Errorf("due templates = %d, want exactly the due one", len(got))
	}
}

func TestConnectionLifecycle(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	conn := &domain.BankConnection{
		ID:       uuid.NewString(),
		OwnerID:  "u1",
		Provider: domain.ProviderMono,
		Status:   domain.ConnectionActive,
	}
	if err := s.PutConnection(ctx, conn); err != nil {
		t.Fatal(err)
	}

	conn.Status = domain.ConnectionFailed
	conn.LastError = "boom"
	conn.LastSyncAt = time.Now()
	if err := s.PutConnection(ctx, conn); err != nil {
		t.Fatalf("PutConnection update: %v", err)
	}

	got, err := s.GetConnection(ctx, conn.ID)
	if err != nil {
		t.Fatal(err)
	}
	if got.Status != domain.ConnectionFailed || got.LastError != "boom" {
		t.Errorf("connection after sync update: %+v", got)
	}
	if got.LastSyncAt.IsZero() {
		t.Error("LastSyncAt should be set")
	}
}
