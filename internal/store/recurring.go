package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/moneta-app/moneta/internal/domain"
)

const recurringColumns = `id, owner_id, direction, category, amount, description,
	account_id, interval_days, next_occurrence, active, created_at`

// PutRecurringTemplate inserts or replaces a recurring template.
func (s *Store) PutRecurringTemplate(ctx context.Context, r *domain.RecurringTemplate) error {
	if r.CreatedAt.IsZero() {
		r.CreatedAt = time.Now()
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT OR REPLACE INTO recurring_templates (`+recurringColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, r.ID, r.OwnerID, string(r.Direction), r.Category, fmtDecimal(r.Amount),
		r.Description, r.AccountID, r.IntervalDays, fmtTime(r.NextOccurrence),
		boolToInt(r.Active), fmtTime(r.CreatedAt))
	if err != nil {
		return fmt.Errorf("PutRecurringTemplate: %w", err)
	}
	return nil
}

// GetRecurringTemplate fetches one template by id.
func (s *Store) GetRecurringTemplate(ctx context.Context, id string) (*domain.RecurringTemplate, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT `+recurringColumns+` FROM recurring_templates WHERE id = ?
	`, id)
	return scanRecurring(row)
}

// RecurringByOwner lists the owner's templates.
func (s *Store) RecurringByOwner(ctx context.Context, ownerID string) ([]*domain.RecurringTemplate, error) {
	return s.queryRecurring(ctx, `WHERE owner_id = ? ORDER BY next_occurrence`, ownerID)
}

// DueRecurringTemplates lists active templates whose next occurrence
// is at or before now, ready for materialization.
func (s *Store) DueRecurringTemplates(ctx context.Context, now time.Time) ([]*domain.RecurringTemplate, error) {
	return s.queryRecurring(ctx, `
		WHERE active = 1 AND next_occurrence != '' AND next_occurrence <= ?
		ORDER BY next_occurrence
	`, fmtTime(now))
}

// AdvanceRecurringTemplate moves a template's next occurrence forward.
func (s *Store) AdvanceRecurringTemplate(ctx context.Context, id string, next time.Time) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE recurring_templates SET next_occurrence = ? WHERE id = ?
	`, fmtTime(next), id)
	if err != nil {
		return fmt.Errorf("AdvanceRecurringTemplate: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return domain.ErrNotFound
	}
	return nil
}

// DeleteRecurringTemplate removes a template.
func (s *Store) DeleteRecurringTemplate(ctx context.Context, id string) error {
	if _, err := s.db.ExecContext(ctx, `DELETE FROM recurring_templates WHERE id = ?`, id); err != nil {
		return fmt.Errorf("DeleteRecurringTemplate: %w", err)
	}
	return nil
}

func (s *Store) queryRecurring(ctx context.Context, where string, args ...any) ([]*domain.RecurringTemplate, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT `+recurringColumns+` FROM recurring_templates `+where, args...)
	if err != nil {
		return nil, fmt.Errorf("querying recurring templates: %w", err)
	}
	defer rows.Close()

	var out []*domain.RecurringTemplate
	for rows.Next() {
		r, err := scanRecurring(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

func scanRecurring(row rowScanner) (*domain.RecurringTemplate, error) {
	var r domain.RecurringTemplate
	var direction, amount, next, createdAt string
	var active int
	err := row.Scan(&r.ID, &r.OwnerID, &direction, &r.Category, &amount,
		&r.Description, &r.AccountID, &r.IntervalDays, &next, &active, &createdAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, domain.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("scanning recurring template: %w", err)
	}
	r.Direction = domain.Direction(direction)
	r.Amount = parseDecimal(amount)
	r.NextOccurrence = parseTime(next)
	r.Active = active == 1
	r.CreatedAt = parseTime(createdAt)
	return &r, nil
}
