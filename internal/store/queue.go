package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/moneta-app/moneta/internal/domain"
)

// Enqueue appends a pending mutation to the sync queue and returns the
// queue item id. Items are append-only: nothing mutates them afterwards
// except the synced flag and attempt bookkeeping.
func (s *Store) Enqueue(ctx context.Context, ownerID, table string, op domain.QueueOperation, recordID string, payload map[string]any) (string, error) {
	raw, err := json.Marshal(payload)
	if err != nil {
		return "", fmt.Errorf("Enqueue: encoding payload: %w", err)
	}
	if payload == nil {
		raw = []byte("{}")
	}

	id := uuid.NewString()
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO sync_queue (id, owner_id, table_name, operation, record_id, payload, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
	`, id, ownerID, table, string(op), recordID, string(raw), fmtTime(time.Now()))
	if err != nil {
		return "", fmt.Errorf("Enqueue: %w", err)
	}
	return id, nil
}

// ListPending returns unsynced, non-dead queue items in drain order:
// parent rows replay before rows that reference them (connections,
// then accounts, then transactions), creation order within a rank.
func (s *Store) ListPending(ctx context.Context) ([]*domain.SyncQueueItem, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, owner_id, table_name, operation, record_id, payload,
		       synced, attempts, dead, created_at, synced_at
		FROM sync_queue
		WHERE synced = 0 AND dead = 0
		ORDER BY CASE table_name
			WHEN 'bank_connections' THEN 0
			WHEN 'accounts' THEN 1
			WHEN 'transactions' THEN 2
			ELSE 3 END, rowid
	`)
	if err != nil {
		return nil, fmt.Errorf("ListPending: %w", err)
	}
	defer rows.Close()

	var out []*domain.SyncQueueItem
	for rows.Next() {
		item, err := scanQueueItem(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, item)
	}
	return out, rows.Err()
}

// PendingCount reports how many items await a drain.
func (s *Store) PendingCount(ctx context.Context) (int, error) {
	var n int
	err := s.db.QueryRowContext(ctx, `
		SELECT COUNT(*) FROM sync_queue WHERE synced = 0 AND dead = 0
	`).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("PendingCount: %w", err)
	}
	return n, nil
}

// MarkSynced flips an item to synced once the remote write is
// confirmed. It is the only state transition out of pending.
func (s *Store) MarkSynced(ctx context.Context, id string) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE sync_queue SET synced = 1, synced_at = ? WHERE id = ?
	`, fmtTime(time.Now()), id)
	if err != nil {
		return fmt.Errorf("MarkSynced: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return domain.ErrNotFound
	}
	return nil
}

// MarkAttemptFailed bumps the attempt counter and dead-letters the item
// once maxAttempts is reached, so a permanently failing item cannot
// clog every future drain. Returns whether the item was dead-lettered.
func (s *Store) MarkAttemptFailed(ctx context.Context, id string, maxAttempts int) (bool, error) {
	res, err := s.db.ExecContext(ctx, `
		UPDATE sync_queue
		SET attempts = attempts + 1,
		    dead = CASE WHEN attempts + 1 >= ? THEN 1 ELSE 0 END
		WHERE id = ?
	`, maxAttempts, id)
	if err != nil {
		return false, fmt.Errorf("MarkAttemptFailed: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return false, domain.ErrNotFound
	}

	var dead int
	if err := s.db.QueryRowContext(ctx, `SELECT dead FROM sync_queue WHERE id = ?`, id).Scan(&dead); err != nil {
		return false, fmt.Errorf("MarkAttemptFailed: reading back: %w", err)
	}
	return dead == 1, nil
}

// ClearQueue removes every queue item, synced or not.
func (s *Store) ClearQueue(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, `DELETE FROM sync_queue`); err != nil {
		return fmt.Errorf("ClearQueue: %w", err)
	}
	return nil
}

// DeadLetters lists items that exhausted their attempts.
func (s *Store) DeadLetters(ctx context.Context) ([]*domain.SyncQueueItem, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, owner_id, table_name, operation, record_id, payload,
		       synced, attempts, dead, created_at, synced_at
		FROM sync_queue WHERE dead = 1 ORDER BY rowid
	`)
	if err != nil {
		return nil, fmt.Errorf("DeadLetters: %w", err)
	}
	defer rows.Close()

	var out []*domain.SyncQueueItem
	for rows.Next() {
		item, err := scanQueueItem(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, item)
	}
	return out, rows.Err()
}

func scanQueueItem(row rowScanner) (*domain.SyncQueueItem, error) {
	var item domain.SyncQueueItem
	var op, payload, createdAt, syncedAt string
	var synced, dead int
	err := row.Scan(&item.ID, &item.OwnerID, &item.Table, &op, &item.RecordID,
		&payload, &synced, &item.Attempts, &dead, &createdAt, &syncedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, domain.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("scanning queue item: %w", err)
	}
	item.Operation = domain.QueueOperation(op)
	item.Synced = synced == 1
	item.Dead = dead == 1
	item.CreatedAt = parseTime(createdAt)
	item.SyncedAt = parseTime(syncedAt)
	if payload != "" && payload != "{}" && payload != "null" {
		if err := json.Unmarshal([]byte(payload), &item.Payload); err != nil {
			return nil, fmt.Errorf("decoding queue payload %s: %w", item.ID, err)
		}
	}
	return &item, nil
}
