package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/moneta-app/moneta/internal/domain"
)

const connColumns = `id, owner_id, provider, access_token, refresh_token,
	institution_id, requisition_id, sync_cursor, status, last_sync_at, last_error, created_at`

// PutConnection inserts or replaces a bank connection.
func (s *Store) PutConnection(ctx context.Context, c *domain.BankConnection) error {
	if c.CreatedAt.IsZero() {
		c.CreatedAt = time.Now()
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT OR REPLACE INTO bank_connections (`+connColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, c.ID, c.OwnerID, string(c.Provider), c.AccessToken, c.RefreshToken,
		c.InstitutionID, c.RequisitionID, c.SyncCursor, string(c.Status),
		fmtTime(c.LastSyncAt), c.LastError, fmtTime(c.CreatedAt))
	if err != nil {
		return fmt.Errorf("PutConnection: %w", err)
	}
	return nil
}

// GetConnection fetches one bank connection by id.
func (s *Store) GetConnection(ctx context.Context, id string) (*domain.BankConnection, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+connColumns+` FROM bank_connections WHERE id = ?`, id)
	return scanConnection(row)
}

// ConnectionsByOwner lists the owner's bank connections.
func (s *Store) ConnectionsByOwner(ctx context.Context, ownerID string) ([]*domain.BankConnection, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+connColumns+` FROM bank_connections
		WHERE owner_id = ? ORDER BY created_at
	`, ownerID)
	if err != nil {
		return nil, fmt.Errorf("ConnectionsByOwner: %w", err)
	}
	defer rows.Close()

	var out []*domain.BankConnection
	for rows.Next() {
		c, err := scanConnection(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

// DeleteConnection removes a bank connection row. Cascading removal of
// linked accounts and their transactions is handled by the ledger
// service so each step flows through the sync queue.
func (s *Store) DeleteConnection(ctx context.Context, id string) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM bank_connections WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("DeleteConnection: %w", err)
	}
	return nil
}

func scanConnection(row rowScanner) (*domain.BankConnection, error) {
	var c domain.BankConnection
	var provider, status, lastSync, createdAt string
	err := row.Scan(&c.ID, &c.OwnerID, &provider, &c.AccessToken, &c.RefreshToken,
		&c.InstitutionID, &c.RequisitionID, &c.SyncCursor, &status, &lastSync, &c.LastError, &createdAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, domain.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("scanning connection: %w", err)
	}
	c.Provider = domain.ProviderKind(provider)
	c.Status = domain.ConnectionStatus(status)
	c.LastSyncAt = parseTime(lastSync)
	c.CreatedAt = parseTime(createdAt)
	return &c, nil
}
