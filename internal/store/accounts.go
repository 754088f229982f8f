package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/moneta-app/moneta/internal/domain"
)

const accColumns = `id, owner_id, name, type, currency, balance,
	connection_id, external_account_id, created_at, updated_at`

// PutAccount inserts or replaces an account. The cached balance is
// stored as given; balance maintenance happens on transaction writes.
func (s *Store) PutAccount(ctx context.Context, a *domain.Account) error {
	now := time.Now()
	if a.CreatedAt.IsZero() {
		a.CreatedAt = now
	}
	a.UpdatedAt = now

	_, err := s.db.ExecContext(ctx, `
		INSERT OR REPLACE INTO accounts (`+accColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, a.ID, a.OwnerID, a.Name, string(a.Type), a.Currency, fmtDecimal(a.Balance),
		a.ConnectionID, a.ExternalAccountID, fmtTime(a.CreatedAt), fmtTime(a.UpdatedAt))
	if err != nil {
		return fmt.Errorf("PutAccount: %w", err)
	}
	return nil
}

// GetAccount fetches one account by id.
func (s *Store) GetAccount(ctx context.Context, id string) (*domain.Account, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+accColumns+` FROM accounts WHERE id = ?`, id)
	return scanAccount(row)
}

// AccountsByOwner lists the owner's accounts.
func (s *Store) AccountsByOwner(ctx context.Context, ownerID string) ([]*domain.Account, error) {
	return s.queryAccounts(ctx, `WHERE owner_id = ? ORDER BY created_at`, ownerID)
}

// AccountsByConnection lists accounts linked to a bank connection.
func (s *Store) AccountsByConnection(ctx context.Context, connectionID string) ([]*domain.Account, error) {
	return s.queryAccounts(ctx, `WHERE connection_id = ? ORDER BY created_at`, connectionID)
}

// FindAccountByExternalID resolves the local account linked to a bank
// connection with the given provider-side account id.
func (s *Store) FindAccountByExternalID(ctx context.Context, connectionID, externalAccountID string) (*domain.Account, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT `+accColumns+` FROM accounts
		WHERE connection_id = ? AND external_account_id = ?
	`, connectionID, externalAccountID)
	return scanAccount(row)
}

// DeleteAccount removes an account. Linked transactions are left in
// place; cascading removal is the ledger service's call to make.
func (s *Store) DeleteAccount(ctx context.Context, id string) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM accounts WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("DeleteAccount: %w", err)
	}
	return nil
}

func (s *Store) queryAccounts(ctx context.Context, where string, args ...any) ([]*domain.Account, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT `+accColumns+` FROM accounts `+where, args...)
	if err != nil {
		return nil, fmt.Errorf("querying accounts: %w", err)
	}
	defer rows.Close()

	var out []*domain.Account
	for rows.Next() {
		a, err := scanAccount(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, a)
	}
	return out, rows.Err()
}

func scanAccount(row rowScanner) (*domain.Account, error) {
	var a domain.Account
	var accType, balance, createdAt, updatedAt string
	err := row.Scan(&a.ID, &a.OwnerID, &a.Name, &accType, &a.Currency, &balance,
		&a.ConnectionID, &a.ExternalAccountID, &createdAt, &updatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, domain.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("scanning account: %w", err)
	}
	a.Type = domain.AccountType(accType)
	a.Balance = parseDecimal(balance)
	a.CreatedAt = parseTime(createdAt)
	a.UpdatedAt = parseTime(updatedAt)
	return &a, nil
}
