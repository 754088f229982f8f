package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/moneta-app/moneta/internal/domain"
)

const budgetColumns = `id, owner_id, category, monthly_limit, month, created_at`

// PutBudget inserts or replaces a monthly category budget.
func (s *Store) PutBudget(ctx context.Context, b *domain.Budget) error {
	if b.CreatedAt.IsZero() {
		b.CreatedAt = time.Now()
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT OR REPLACE INTO budgets (`+budgetColumns+`)
		VALUES (?, ?, ?, ?, ?, ?)
	`, b.ID, b.OwnerID, b.Category, fmtDecimal(b.MonthlyLimit), b.Month, fmtTime(b.CreatedAt))
	if err != nil {
		return fmt.Errorf("PutBudget: %w", err)
	}
	return nil
}

// GetBudget fetches one budget by id.
func (s *Store) GetBudget(ctx context.Context, id string) (*domain.Budget, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+budgetColumns+` FROM budgets WHERE id = ?`, id)
	return scanBudget(row)
}

// BudgetsByOwner lists the owner's budgets.
func (s *Store) BudgetsByOwner(ctx context.Context, ownerID string) ([]*domain.Budget, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+budgetColumns+` FROM budgets WHERE owner_id = ? ORDER BY month, category
	`, ownerID)
	if err != nil {
		return nil, fmt.Errorf("BudgetsByOwner: %w", err)
	}
	defer rows.Close()

	var out []*domain.Budget
	for rows.Next() {
		b, err := scanBudget(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, b)
	}
	return out, rows.Err()
}

// DeleteBudget removes a budget.
func (s *Store) DeleteBudget(ctx context.Context, id string) error {
	if _, err := s.db.ExecContext(ctx, `DELETE FROM budgets WHERE id = ?`, id); err != nil {
		return fmt.Errorf("DeleteBudget: %w", err)
	}
	return nil
}

func scanBudget(row rowScanner) (*domain.Budget, error) {
	var b domain.Budget
	var limit, createdAt string
	err := row.Scan(&b.ID, &b.OwnerID, &b.Category, &limit, &b.Month, &createdAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, domain.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("scanning budget: %w", err)
	}
	b.MonthlyLimit = parseDecimal(limit)
	b.CreatedAt = parseTime(createdAt)
	return &b, nil
}
