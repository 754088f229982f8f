package mirror

import (
	"context"
	"fmt"
	"testing"

	"github.com/jomei/notionapi"
	"github.com/shopspring/decimal"

	"github.com/moneta-app/moneta/internal/domain"
	"github.com/moneta-app/moneta/internal/logger"
	"github.com/moneta-app/moneta/internal/store"
)

// fakeNotion keeps pages in memory per database.
type fakeNotion struct {
	pages    map[string][]notionapi.Page // databaseID -> pages
	archived []string
	nextID   int
}

func newFakeNotion() *fakeNotion {
	return &fakeNotion{pages: make(map[string][]notionapi.Page)}
}

func (f *fakeNotion) CreatePage(_ context.Context, databaseID string, props notionapi.Properties) (*notionapi.Page, error) {
	f.nextID++
	// Convert write-side properties to the read-side pointer shapes the
	// query path returns.
	stored := notionapi.Properties{}
	for name, prop := range props {
		if rich, ok := prop.(notionapi.RichTextProperty); ok && len(rich.RichText) > 0 {
			stored[name] = &notionapi.RichTextProperty{
				RichText: []notionapi.RichText{{PlainText: rich.RichText[0].Text.Content}},
			}
		}
	}
	page := notionapi.Page{
		ID:         notionapi.ObjectID(fmt.Sprintf("page-%d", f.nextID)),
		Properties: stored,
	}
	f.pages[databaseID] = append(f.pages[databaseID], page)
	return &page, nil
}

func (f *fakeNotion) UpdatePage(_ context.Context, pageID string, _ notionapi.Properties) (*notionapi.Page, error) {
	return &notionapi.Page{ID: notionapi.ObjectID(pageID)}, nil
}

func (f *fakeNotion) QueryDatabase(_ context.Context, databaseID string, _ *notionapi.DatabaseQueryRequest) (*notionapi.DatabaseQueryResponse, error) {
	return &notionapi.DatabaseQueryResponse{
		Results: f.pages[databaseID],
		HasMore: false,
	}, nil
}

func (f *fakeNotion) DeletePage(_ context.Context, pageID string) error {
	f.archived = append(f.archived, pageID)
	for db, pages := range f.pages {
		kept := pages[:0]
		for _, p := range pages {
			if string(p.ID) != pageID {
				kept = append(kept, p)
			}
		}
		f.pages[db] = kept
	}
	return nil
}

func openStore(t *testing.T) *store.Store {
	t.Helper()
	st, err := store.Open(":memory:", logger.Nop())
	if err != nil {
		t.Fatalf("opening store: %v", err)
	}
	t.Cleanup(func() { st.Close() })
	return st
}

func putTransaction(t *testing.T, st *store.Store, id string) {
	t.Helper()
	err := st.PutTransaction(context.Background(), &domain.Transaction{
		ID:        id,
		OwnerID:   "u1",
		Direction: domain.DirectionExpense,
		Category:  "food",
		Amount:    decimal.RequireFromString("10"),
	})
	if err != nil {
		t.Fatalf("PutTransaction: %v", err)
	}
}

func TestSyncTransactionsCreateSkipArchive(t *testing.T) {
	ctx := context.Background()
	st := openStore(t)
	notion := newFakeNotion()
	svc := New(st, notion, "tx-db", "acc-db", logger.Nop())

	putTransaction(t, st, "t1")
	putTransaction(t, st, "t2")

	stats, err := svc.SyncTransactions(ctx, "u1", false)
	if err != nil {
		t.Fatalf("SyncTransactions: %v", err)
	}
	if stats.Created != 2 || stats.Skipped != 0 || stats.Deleted != 0 {
		t.Errorf("first run stats = %+v, want 2 created", stats)
	}

	// Second run changes nothing.
	stats, err = svc.SyncTransactions(ctx, "u1", false)
	if err != nil {
		t.Fatalf("second SyncTransactions: %v", err)
	}
	if stats.Created != 0 || stats.Skipped != 2 {
		t.Errorf("second run stats = %+v, want 2 skipped", stats)
	}

	// Deleting a transaction locally archives its page on the next run.
	if err := st.DeleteTransaction(ctx, "t1"); err != nil {
		t.Fatalf("DeleteTransaction: %v", err)
	}
	stats, err = svc.SyncTransactions(ctx, "u1", false)
	if err != nil {
		t.Fatalf("third SyncTransactions: %v", err)
	}
	if stats.Deleted != 1 || stats.Skipped != 1 {
		t.Errorf("third run stats = %+v, want 1 deleted 1 skipped", stats)
	}
	if len(notion.archived) != 1 {
		t.Errorf("archived pages = %v, want exactly 1", notion.archived)
	}
}

func TestSyncTransactionsDryRun(t *testing.T) {
	ctx := context.Background()
	st := openStore(t)
	notion := newFakeNotion()
	svc := New(st, notion, "tx-db", "acc-db", logger.Nop())

	putTransaction(t, st, "t1")

	stats, err := svc.SyncTransactions(ctx, "u1", true)
	if err != nil {
		t.Fatalf("SyncTransactions: %v", err)
	}
	if stats.Created != 1 {
		t.Errorf("stats = %+v, want 1 created (reported only)", stats)
	}
	if len(notion.pages["tx-db"]) != 0 {
		t.Error("dry run must not create pages")
	}
}

func TestSyncAccounts(t *testing.T) {
	ctx := context.Background()
	st := openStore(t)
	notion := newFakeNotion()
	svc := New(st, notion, "tx-db", "acc-db", logger.Nop())

	err := st.PutAccount(ctx, &domain.Account{
		ID:       "a1",
		OwnerID:  "u1",
		Name:     "Cash",
		Type:     domain.AccountCash,
		Currency: "UAH",
	})
	if err != nil {
		t.Fatalf("PutAccount: %v", err)
	}

	stats, err := svc.SyncAccounts(ctx, "u1", false)
	if err != nil {
		t.Fatalf("SyncAccounts: %v", err)
	}
	if stats.Created != 1 {
		t.Errorf("stats = %+v, want 1 created", stats)
	}
}
