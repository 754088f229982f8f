// Package ledger is the write path of the tracker: every mutation is
// applied to the local durable store first (optimistic, synchronous
// from the caller's perspective), mirrored to the remote store when
// possible, and queued for a later drain when not. It also owns the
// cross-entity flows the stores themselves must not know about, such
// as cascading bank disconnects and recurring materialization.
package ledger

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/moneta-app/moneta/internal/domain"
	"github.com/moneta-app/moneta/internal/remote"
	"github.com/moneta-app/moneta/internal/store"
)

// Table names shared with the remote schema and the sync queue.
const (
	TableTransactions = "transactions"
	TableAccounts     = "accounts"
	TableGoals        = "goals"
	TableBudgets      = "budgets"
	TableRecurring    = "recurring_templates"
	TableConnections  = "bank_connections"
)

// Service coordinates local writes, remote mirroring and the queue.
// Construct one per composition root; there are no package singletons.
type Service struct {
	store  *store.Store
	remote remote.Store
	online func() bool
	log    zerolog.Logger
}

// New creates the ledger service. online reports current connectivity;
// when nil the service always attempts the remote write.
func New(st *store.Store, rs remote.Store, online func() bool, log zerolog.Logger) *Service {
	return &Service{store: st, remote: rs, online: online, log: log}
}

// Store exposes the underlying local store for read paths.
func (s *Service) Store() *store.Store { return s.store }

// ── transactions ────────────────────────────────────────────────────

// AddTransaction persists a transaction locally, then mirrors it to
// the remote store or queues it. The local write is authoritative for
// the caller; remote failure never fails the call.
func (s *Service) AddTransaction(ctx context.Context, t *domain.Transaction) error {
	if t.ID == "" {
		t.ID = uuid.NewString()
	}
	if t.Date.IsZero() {
		t.Date = time.Now()
	}
	t.Synced = false

	if err := s.store.PutTransaction(ctx, t); err != nil {
		return fmt.Errorf("AddTransaction: %w", err)
	}

	if s.mirror(ctx, t.OwnerID, TableTransactions, domain.OpInsert, t.ID, t) {
		t.Synced = true
		if err := s.store.MarkTransactionSynced(ctx, t.ID, true); err != nil {
			return fmt.Errorf("AddTransaction: marking synced: %w", err)
		}
	}
	return nil
}

// UpdateTransaction rewrites an existing transaction with the same
// local-first semantics.
func (s *Service) UpdateTransaction(ctx context.Context, t *domain.Transaction) error {
	t.Synced = false
	if err := s.store.PutTransaction(ctx, t); err != nil {
		return fmt.Errorf("UpdateTransaction: %w", err)
	}

	if s.mirror(ctx, t.OwnerID, TableTransactions, domain.OpUpdate, t.ID, t) {
		t.Synced = true
		if err := s.store.MarkTransactionSynced(ctx, t.ID, true); err != nil {
			return fmt.Errorf("UpdateTransaction: marking synced: %w", err)
		}
	}
	return nil
}

// DeleteTransaction removes a transaction locally and mirrors the
// delete.
func (s *Service) DeleteTransaction(ctx context.Context, id string) error {
	t, err := s.store.GetTransaction(ctx, id)
	if err != nil {
		return fmt.Errorf("DeleteTransaction: %w", err)
	}
	if err := s.store.DeleteTransaction(ctx, id); err != nil {
		return fmt.Errorf("DeleteTransaction: %w", err)
	}
	s.mirror(ctx, t.OwnerID, TableTransactions, domain.OpDelete, id, nil)
	return nil
}

// ── accounts ────────────────────────────────────────────────────────

// SaveAccount persists an account locally and mirrors it.
func (s *Service) SaveAccount(ctx context.Context, a *domain.Account) error {
	if a.ID == "" {
		a.ID = uuid.NewString()
	}
	if err := s.store.PutAccount(ctx, a); err != nil {
		return fmt.Errorf("SaveAccount: %w", err)
	}
	s.mirror(ctx, a.OwnerID, TableAccounts, domain.OpUpdate, a.ID, a)
	return nil
}

// DeleteAccount removes an account and mirrors the delete. Linked
// transactions stay; they lose their balance cache with the account.
func (s *Service) DeleteAccount(ctx context.Context, id string) error {
	a, err := s.store.GetAccount(ctx, id)
	if err != nil {
		return fmt.Errorf("DeleteAccount: %w", err)
	}
	if err := s.store.DeleteAccount(ctx, id); err != nil {
		return fmt.Errorf("DeleteAccount: %w", err)
	}
	s.mirror(ctx, a.OwnerID, TableAccounts, domain.OpDelete, id, nil)
	return nil
}

// ── goals, budgets, recurring templates ─────────────────────────────

// SaveGoal persists a goal locally and mirrors it.
func (s *Service) SaveGoal(ctx context.Context, g *domain.Goal) error {
	if g.ID == "" {
		g.ID = uuid.NewString()
	}
	if err := s.store.PutGoal(ctx, g); err != nil {
		return fmt.Errorf("SaveGoal: %w", err)
	}
	s.mirror(ctx, g.OwnerID, TableGoals, domain.OpUpdate, g.ID, g)
	return nil
}

// DeleteGoal removes a goal and mirrors the delete.
func (s *Service) DeleteGoal(ctx context.Context, id string) error {
	g, err := s.store.GetGoal(ctx, id)
	if err != nil {
		return fmt.Errorf("DeleteGoal: %w", err)
	}
	if err := s.store.DeleteGoal(ctx, id); err != nil {
		return fmt.Errorf("DeleteGoal: %w", err)
	}
	s.mirror(ctx, g.OwnerID, TableGoals, domain.OpDelete, id, nil)
	return nil
}

// SaveBudget persists a budget locally and mirrors it.
func (s *Service) SaveBudget(ctx context.Context, b *domain.Budget) error {
	if b.ID == "" {
		b.ID = uuid.NewString()
	}
	if err := s.store.PutBudget(ctx, b); err != nil {
		return fmt.Errorf("SaveBudget: %w", err)
	}
	s.mirror(ctx, b.OwnerID, TableBudgets, domain.OpUpdate, b.ID, b)
	return nil
}

// DeleteBudget removes a budget and mirrors the delete.
func (s *Service) DeleteBudget(ctx context.Context, id string) error {
	b, err := s.store.GetBudget(ctx, id)
	if err != nil {
		return fmt.Errorf("DeleteBudget: %w", err)
	}
	if err := s.store.DeleteBudget(ctx, id); err != nil {
		return fmt.Errorf("DeleteBudget: %w", err)
	}
	s.mirror(ctx, b.OwnerID, TableBudgets, domain.OpDelete, id, nil)
	return nil
}

// SaveRecurringTemplate persists a template locally and mirrors it.
// The interval must be at least one day; materialization steps the
// next occurrence forward by it.
func (s *Service) SaveRecurringTemplate(ctx context.Context, r *domain.RecurringTemplate) error {
	if r.IntervalDays < 1 {
		return fmt.Errorf("SaveRecurringTemplate: interval %d days: %w", r.IntervalDays, domain.ErrInvalid)
	}
	if r.ID == "" {
		r.ID = uuid.NewString()
	}
	if err := s.store.PutRecurringTemplate(ctx, r); err != nil {
		return fmt.Errorf("SaveRecurringTemplate: %w", err)
	}
	s.mirror(ctx, r.OwnerID, TableRecurring, domain.OpUpdate, r.ID, r)
	return nil
}

// DeleteRecurringTemplate removes a template and mirrors the delete.
// Transactions already materialized from it stay.
func (s *Service) DeleteRecurringTemplate(ctx context.Context, id string) error {
	tmpl, err := s.store.GetRecurringTemplate(ctx, id)
	if err != nil {
		return fmt.Errorf("DeleteRecurringTemplate: %w", err)
	}
	if err := s.store.DeleteRecurringTemplate(ctx, id); err != nil {
		return fmt.Errorf("DeleteRecurringTemplate: %w", err)
	}
	s.mirror(ctx, tmpl.OwnerID, TableRecurring, domain.OpDelete, id, nil)
	return nil
}

// ProcessDueRecurring materializes every active template whose next
// occurrence has passed, writing the generated transactions through
// the usual local-first path, and advances each template. Returns the
// number of transactions created.
func (s *Service) ProcessDueRecurring(ctx context.Context, now time.Time) (int, error) {
	due, err := s.store.DueRecurringTemplates(ctx, now)
	if err != nil {
		return 0, fmt.Errorf("ProcessDueRecurring: %w", err)
	}

	created := 0
	for _, tmpl := range due {
		// A non-positive interval cannot step forward; rows predating
		// the save-time validation are skipped rather than looped on.
		if tmpl.IntervalDays < 1 {
			s.log.Warn().Str("template_id", tmpl.ID).Int("interval_days", tmpl.IntervalDays).
				Msg("Skipping recurring template with non-positive interval")
			continue
		}
		next := tmpl.NextOccurrence
		// Catch up on every missed interval, not just the latest.
		for !next.After(now) {
			t := &domain.Transaction{
				OwnerID:     tmpl.OwnerID,
				Direction:   tmpl.Direction,
				Category:    tmpl.Category,
				Amount:      tmpl.Amount,
				Description: tmpl.Description,
				Date:        next,
				AccountID:   tmpl.AccountID,
			}
			if err := s.AddTransaction(ctx, t); err != nil {
				return created, fmt.Errorf("ProcessDueRecurring: template %s: %w", tmpl.ID, err)
			}
			created++
			next = next.AddDate(0, 0, tmpl.IntervalDays)
		}
		if err := s.store.AdvanceRecurringTemplate(ctx, tmpl.ID, next); err != nil {
			return created, fmt.Errorf("ProcessDueRecurring: advancing %s: %w", tmpl.ID, err)
		}
	}
	return created, nil
}

// ── bank connections ────────────────────────────────────────────────

// SaveConnection persists a bank connection locally and mirrors it.
func (s *Service) SaveConnection(ctx context.Context, c *domain.BankConnection) error {
	if c.ID == "" {
		c.ID = uuid.NewString()
	}
	if err := s.store.PutConnection(ctx, c); err != nil {
		return fmt.Errorf("SaveConnection: %w", err)
	}
	s.mirror(ctx, c.OwnerID, TableConnections, domain.OpUpdate, c.ID, c)
	return nil
}

// DisconnectBank removes a connection with cascading removal of its
// linked accounts and their imported transactions. Every removal flows
// through the mirror-or-queue path so the remote store converges even
// when the disconnect happens offline.
func (s *Service) DisconnectBank(ctx context.Context, connectionID string) error {
	conn, err := s.store.GetConnection(ctx, connectionID)
	if err != nil {
		return fmt.Errorf("DisconnectBank: %w", err)
	}

	accounts, err := s.store.AccountsByConnection(ctx, connectionID)
	if err != nil {
		return fmt.Errorf("DisconnectBank: %w", err)
	}

	for _, acc := range accounts {
		txs, err := s.store.TransactionsByOwner(ctx, conn.OwnerID)
		if err != nil {
			return fmt.Errorf("DisconnectBank: %w", err)
		}
		for _, t := range txs {
			if t.AccountID != acc.ID {
				continue
			}
			if err := s.DeleteTransaction(ctx, t.ID); err != nil {
				return fmt.Errorf("DisconnectBank: %w", err)
			}
		}
		if err := s.DeleteAccount(ctx, acc.ID); err != nil {
			return fmt.Errorf("DisconnectBank: %w", err)
		}
	}

	if err := s.store.DeleteConnection(ctx, connectionID); err != nil {
		return fmt.Errorf("DisconnectBank: %w", err)
	}
	s.mirror(ctx, conn.OwnerID, TableConnections, domain.OpDelete, connectionID, nil)

	s.log.Info().
		Str("connection_id", connectionID).
		Int("accounts_removed", len(accounts)).
		Msg("Bank connection disconnected")
	return nil
}

// ── mirror-or-queue ─────────────────────────────────────────────────

// mirror attempts the remote write and falls back to the sync queue.
// Returns true when the remote write was confirmed. A queue append
// failure is fatal to durability and is logged at error level; the
// local write already succeeded so the caller is not failed.
func (s *Service) mirror(ctx context.Context, ownerID, table string, op domain.QueueOperation, recordID string, entity any) bool {
	payload := toPayload(entity)

	if s.online == nil || s.online() {
		var err error
		if op == domain.OpDelete {
			err = s.remote.Delete(ctx, table, recordID)
		} else {
			err = s.remote.Upsert(ctx, table, recordID, payload)
		}
		if err == nil {
			return true
		}
		s.log.Warn().
			Err(err).
			Str("table", table).
			Str("record_id", recordID).
			Msg("Remote write failed, queueing for drain")
	}

	if _, err := s.store.Enqueue(ctx, ownerID, table, op, recordID, payload); err != nil {
		s.log.Error().
			Err(err).
			Str("table", table).
			Str("record_id", recordID).
			Msg("Failed to enqueue pending mutation")
	}
	return false
}

// toPayload flattens an entity into the camelCase field map the remote
// adapter understands. Delete operations carry no payload.
func toPayload(entity any) map[string]any {
	if entity == nil {
		return nil
	}
	raw, err := json.Marshal(entity)
	if err != nil {
		return nil
	}
	var m map[string]any
	if err := json.Unmarshal(raw, &m); err != nil {
		return nil
	}
	return m
}
