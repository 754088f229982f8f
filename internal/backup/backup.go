// Package backup exports the local store as a JSON snapshot and ships
// it to an object store bucket. Snapshots are a disaster-recovery net
// under the regular remote sync, not a replacement for it.
package backup

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"github.com/moneta-app/moneta/internal/domain"
	"github.com/moneta-app/moneta/internal/store"
)

// Snapshot is the full export of one owner's data.
type Snapshot struct {
	OwnerID      string                      `json:"ownerId"`
	CreatedAt    time.Time                   `json:"createdAt"`
	Transactions []*domain.Transaction       `json:"transactions"`
	Accounts     []*domain.Account           `json:"accounts"`
	Goals        []*domain.Goal              `json:"goals"`
	Budgets      []*domain.Budget            `json:"budgets"`
	Recurring    []*domain.RecurringTemplate `json:"recurringTemplates"`
	Connections  []*domain.BankConnection    `json:"bankConnections"`
}

// Service builds and uploads snapshots.
type Service struct {
	store   *store.Store
	storage StorageService
	bucket  string
	log     zerolog.Logger
	now     func() time.Time
}

// New creates the backup service targeting one bucket.
func New(st *store.Store, storage StorageService, bucket string, log zerolog.Logger) *Service {
	return &Service{store: st, storage: storage, bucket: bucket, log: log, now: time.Now}
}

// Export collects the owner's full data set from the local store.
// Provider credentials are stripped; a snapshot must be safe to store
// outside the device.
func (s *Service) Export(ctx context.Context, ownerID string) (*Snapshot, error) {
	snap := &Snapshot{OwnerID: ownerID, CreatedAt: s.now()}
	var err error

	if snap.Transactions, err = s.store.TransactionsByOwner(ctx, ownerID); err != nil {
		return nil, fmt.Errorf("Export: %w", err)
	}
	if snap.Accounts, err = s.store.AccountsByOwner(ctx, ownerID); err != nil {
		return nil, fmt.Errorf("Export: %w", err)
	}
	if snap.Goals, err = s.store.GoalsByOwner(ctx, ownerID); err != nil {
		return nil, fmt.Errorf("Export: %w", err)
	}
	if snap.Budgets, err = s.store.BudgetsByOwner(ctx, ownerID); err != nil {
		return nil, fmt.Errorf("Export: %w", err)
	}
	if snap.Recurring, err = s.store.RecurringByOwner(ctx, ownerID); err != nil {
		return nil, fmt.Errorf("Export: %w", err)
	}
	if snap.Connections, err = s.store.ConnectionsByOwner(ctx, ownerID); err != nil {
		return nil, fmt.Errorf("Export: %w", err)
	}

	for _, c := range snap.Connections {
		c.AccessToken = ""
		c.RefreshToken = ""
	}
	return snap, nil
}

// Run exports the owner's data and uploads it under a timestamped
// object name. Returns the gs:// URI of the written snapshot.
func (s *Service) Run(ctx context.Context, ownerID string) (string, error) {
	snap, err := s.Export(ctx, ownerID)
	if err != nil {
		return "", err
	}

	raw, err := json.MarshalIndent(snap, "", "  ")
	if err != nil {
		return "", fmt.Errorf("Run: encoding snapshot: %w", err)
	}

	object := fmt.Sprintf("backups/%s/%s.json", ownerID, snap.CreatedAt.UTC().Format("2006-01-02T15-04-05"))
	if err := s.storage.Upload(ctx, s.bucket, object, raw); err != nil {
		return "", fmt.Errorf("Run: %w", err)
	}

	uri := fmt.Sprintf("gs://%s/%s", s.bucket, object)
	s.log.Info().
		Str("owner_id", ownerID).
		Str("uri", uri).
		Int("transactions", len(snap.Transactions)).
		Int("bytes", len(raw)).
		Msg("Snapshot uploaded")
	return uri, nil
}

// Restore fetches a snapshot by URI and loads it into the local store,
// replacing nothing that is not in the snapshot. Restored transactions
// are written directly; balances recompute through the usual cache
// adjustments.
func (s *Service) Restore(ctx context.Context, uri string) (*Snapshot, error) {
	raw, err := s.storage.Fetch(ctx, uri)
	if err != nil {
		return nil, fmt.Errorf("Restore: %w", err)
	}

	var snap Snapshot
	if err := json.Unmarshal(raw, &snap); err != nil {
		return nil, fmt.Errorf("Restore: decoding snapshot: %w", err)
	}

	for _, c := range snap.Connections {
		if err := s.store.PutConnection(ctx, c); err != nil {
			return nil, fmt.Errorf("Restore: %w", err)
		}
	}
	if err := s.store.BulkPutTransactions(ctx, snap.Transactions); err != nil {
		return nil, fmt.Errorf("Restore: %w", err)
	}
	// Accounts come after transactions so the snapshot's balances
	// override the incremental adjustments the writes above made.
	for _, a := range snap.Accounts {
		if err := s.store.PutAccount(ctx, a); err != nil {
			return nil, fmt.Errorf("Restore: %w", err)
		}
	}
	for _, g := range snap.Goals {
		if err := s.store.PutGoal(ctx, g); err != nil {
			return nil, fmt.Errorf("Restore: %w", err)
		}
	}
	for _, b := range snap.Budgets {
		if err := s.store.PutBudget(ctx, b); err != nil {
			return nil, fmt.Errorf("Restore: %w", err)
		}
	}
	for _, r := range snap.Recurring {
		if err := s.store.PutRecurringTemplate(ctx, r); err != nil {
			return nil, fmt.Errorf("Restore: %w", err)
		}
	}

	s.log.Info().Str("owner_id", snap.OwnerID).Str("uri", uri).Msg("Snapshot restored")
	return &snap, nil
}
