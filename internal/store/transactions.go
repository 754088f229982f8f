package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"github.com/moneta-app/moneta/internal/domain"
)

const txColumns = `id, owner_id, direction, category, amount, description,
	tx_date, account_id, mcc, external_id, synced, created_at, updated_at`

// PutTransaction inserts or replaces a transaction and keeps the cached
// balance of the linked account consistent: the previous contribution
// (if any) is backed out and the new one applied, all in one database
// transaction.
func (s *Store) PutTransaction(ctx context.Context, t *domain.Transaction) error {
	dbTx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("PutTransaction: begin: %w", err)
	}
	defer dbTx.Rollback()

	old, err := getTransactionTx(ctx, dbTx, t.ID)
	if err != nil && !errors.Is(err, domain.ErrNotFound) {
		return fmt.Errorf("PutTransaction: reading previous: %w", err)
	}
	if old != nil && old.AccountID != "" {
		if err := adjustBalance(ctx, dbTx, old.AccountID, old.SignedAmount().Neg()); err != nil {
			return fmt.Errorf("PutTransaction: reverting balance: %w", err)
		}
	}

	now := time.Now()
	if t.CreatedAt.IsZero() {
		t.CreatedAt = now
	}
	t.UpdatedAt = now

	// Upsert keyed on id only, so a clash on the per-owner external-id
	// index surfaces as an error instead of silently replacing the row.
	_, err = dbTx.ExecContext(ctx, `
		INSERT INTO transactions (`+txColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			owner_id    = excluded.owner_id,
			direction   = excluded.direction,
			category    = excluded.category,
			amount      = excluded.amount,
			description = excluded.description,
			tx_date     = excluded.tx_date,
			account_id  = excluded.account_id,
			mcc         = excluded.mcc,
			external_id = excluded.external_id,
			synced      = excluded.synced,
			updated_at  = excluded.updated_at
	`, t.ID, t.OwnerID, string(t.Direction), t.Category, fmtDecimal(t.Amount),
		t.Description, fmtTime(t.Date), t.AccountID, t.MCC, t.ExternalID,
		boolToInt(t.Synced), fmtTime(t.CreatedAt), fmtTime(t.UpdatedAt))
	if err != nil {
		return fmt.Errorf("PutTransaction: %w", err)
	}

	if t.AccountID != "" {
		if err := adjustBalance(ctx, dbTx, t.AccountID, t.SignedAmount()); err != nil {
			return fmt.Errorf("PutTransaction: applying balance: %w", err)
		}
	}

	if err := dbTx.Commit(); err != nil {
		return fmt.Errorf("PutTransaction: commit: %w", err)
	}
	return nil
}

// BulkPutTransactions writes a batch through PutTransaction semantics.
func (s *Store) BulkPutTransactions(ctx context.Context, txs []*domain.Transaction) error {
	for _, t := range txs {
		if err := s.PutTransaction(ctx, t); err != nil {
			return err
		}
	}
	return nil
}

// GetTransaction fetches one transaction by id.
func (s *Store) GetTransaction(ctx context.Context, id string) (*domain.Transaction, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+txColumns+` FROM transactions WHERE id = ?`, id)
	return scanTransaction(row)
}

// TransactionsByOwner lists the owner's transactions, newest first.
func (s *Store) TransactionsByOwner(ctx context.Context, ownerID string) ([]*domain.Transaction, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+txColumns+` FROM transactions
		WHERE owner_id = ? ORDER BY tx_date DESC, created_at DESC
	`, ownerID)
	if err != nil {
		return nil, fmt.Errorf("TransactionsByOwner: %w", err)
	}
	defer rows.Close()

	var out []*domain.Transaction
	for rows.Next() {
		t, err := scanTransaction(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, t)
	}
	return out, rows.Err()
}

// DeleteTransaction removes a transaction and backs its contribution
// out of the linked account's cached balance.
func (s *Store) DeleteTransaction(ctx context.Context, id string) error {
	dbTx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("DeleteTransaction: begin: %w", err)
	}
	defer dbTx.Rollback()

	old, err := getTransactionTx(ctx, dbTx, id)
	if err != nil {
		return fmt.Errorf("DeleteTransaction: %w", err)
	}
	if old.AccountID != "" {
		if err := adjustBalance(ctx, dbTx, old.AccountID, old.SignedAmount().Neg()); err != nil {
			return fmt.Errorf("DeleteTransaction: reverting balance: %w", err)
		}
	}

	if _, err := dbTx.ExecContext(ctx, `DELETE FROM transactions WHERE id = ?`, id); err != nil {
		return fmt.Errorf("DeleteTransaction: %w", err)
	}

	if err := dbTx.Commit(); err != nil {
		return fmt.Errorf("DeleteTransaction: commit: %w", err)
	}
	return nil
}

// MarkTransactionSynced flips the synced flag without touching balances.
func (s *Store) MarkTransactionSynced(ctx context.Context, id string, synced bool) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE transactions SET synced = ?, updated_at = ? WHERE id = ?
	`, boolToInt(synced), fmtTime(time.Now()), id)
	if err != nil {
		return fmt.Errorf("MarkTransactionSynced: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return domain.ErrNotFound
	}
	return nil
}

// KnownExternalIDs returns the set of provider-assigned external ids
// already imported for this owner. The aggregation service dedupes
// repeated bank pulls against this set.
func (s *Store) KnownExternalIDs(ctx context.Context, ownerID string) (map[string]bool, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT external_id FROM transactions
		WHERE owner_id = ? AND external_id != ''
	`, ownerID)
	if err != nil {
		return nil, fmt.Errorf("KnownExternalIDs: %w", err)
	}
	defer rows.Close()

	ids := make(map[string]bool)
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids[id] = true
	}
	return ids, rows.Err()
}

// ── internals ───────────────────────────────────────────────────────

type rowScanner interface {
	Scan(dest ...any) error
}

func scanTransaction(row rowScanner) (*domain.Transaction, error) {
	var t domain.Transaction
	var direction, amount, txDate, createdAt, updatedAt string
	var synced int
	err := row.Scan(&t.ID, &t.OwnerID, &direction, &t.Category, &amount,
		&t.Description, &txDate, &t.AccountID, &t.MCC, &t.ExternalID,
		&synced, &createdAt, &updatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, domain.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("scanning transaction: %w", err)
	}
	t.Direction = domain.Direction(direction)
	t.Amount = parseDecimal(amount)
	t.Date = parseTime(txDate)
	t.Synced = synced == 1
	t.CreatedAt = parseTime(createdAt)
	t.UpdatedAt = parseTime(updatedAt)
	return &t, nil
}

func getTransactionTx(ctx context.Context, dbTx *sql.Tx, id string) (*domain.Transaction, error) {
	row := dbTx.QueryRowContext(ctx, `SELECT `+txColumns+` FROM transactions WHERE id = ?`, id)
	return scanTransaction(row)
}

// adjustBalance applies a signed delta to an account's cached balance.
// Credit accounts invert the sign: an expense grows the debt. Missing
// accounts are ignored so that transactions may reference accounts that
// only exist remotely.
func adjustBalance(ctx context.Context, dbTx *sql.Tx, accountID string, delta decimal.Decimal) error {
	var accType, balance string
	err := dbTx.QueryRowContext(ctx, `
		SELECT type, balance FROM accounts WHERE id = ?
	`, accountID).Scan(&accType, &balance)
	if errors.Is(err, sql.ErrNoRows) {
		return nil
	}
	if err != nil {
		return err
	}

	if domain.AccountType(accType) == domain.AccountCredit {
		delta = delta.Neg()
	}
	next := parseDecimal(balance).Add(delta)

	_, err = dbTx.ExecContext(ctx, `
		UPDATE accounts SET balance = ?, updated_at = ? WHERE id = ?
	`, fmtDecimal(next), fmtTime(time.Now()), accountID)
	return err
}
