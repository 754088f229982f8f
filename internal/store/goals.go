package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/moneta-app/moneta/internal/domain"
)

const goalColumns = `id, owner_id, name, target_amount, current_amount, deadline, achieved, created_at`

// PutGoal inserts or replaces a savings goal.
func (s *Store) PutGoal(ctx context.Context, g *domain.Goal) error {
	if g.CreatedAt.IsZero() {
		g.CreatedAt = time.Now()
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT OR REPLACE INTO goals (`+goalColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
	`, g.ID, g.OwnerID, g.Name, fmtDecimal(g.TargetAmount), fmtDecimal(g.CurrentAmount),
		fmtTime(g.Deadline), boolToInt(g.Achieved), fmtTime(g.CreatedAt))
	if err != nil {
		return fmt.Errorf("PutGoal: %w", err)
	}
	return nil
}

// GetGoal fetches one goal by id.
func (s *Store) GetGoal(ctx context.Context, id string) (*domain.Goal, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+goalColumns+` FROM goals WHERE id = ?`, id)
	return scanGoal(row)
}

// GoalsByOwner lists the owner's goals.
func (s *Store) GoalsByOwner(ctx context.Context, ownerID string) ([]*domain.Goal, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+goalColumns+` FROM goals WHERE owner_id = ? ORDER BY created_at
	`, ownerID)
	if err != nil {
		return nil, fmt.Errorf("GoalsByOwner: %w", err)
	}
	defer rows.Close()

	var out []*domain.Goal
	for rows.Next() {
		g, err := scanGoal(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, g)
	}
	return out, rows.Err()
}

// DeleteGoal removes a goal.
func (s *Store) DeleteGoal(ctx context.Context, id string) error {
	if _, err := s.db.ExecContext(ctx, `DELETE FROM goals WHERE id = ?`, id); err != nil {
		return fmt.Errorf("DeleteGoal: %w", err)
	}
	return nil
}

func scanGoal(row rowScanner) (*domain.Goal, error) {
	var g domain.Goal
	var target, current, deadline, createdAt string
	var achieved int
	err := row.Scan(&g.ID, &g.OwnerID, &g.Name, &target, &current, &deadline, &achieved, &createdAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, domain.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("scanning goal: %w", err)
	}
	g.TargetAmount = parseDecimal(target)
	g.CurrentAmount = parseDecimal(current)
	g.Deadline = parseTime(deadline)
	g.Achieved = achieved == 1
	g.CreatedAt = parseTime(createdAt)
	return &g, nil
}
