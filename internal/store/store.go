// Package store is the local durable store: per-entity SQLite tables
// keyed by id and queryable by owner. Every mutation lands here first;
// the sync machinery mirrors it to the remote store afterwards.
package store

import (
	"database/sql"
	"fmt"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
	_ "modernc.org/sqlite"
)

// Store wraps the SQLite handle. Safe for concurrent use; SQLite
// serializes writers and balance adjustments run inside transactions.
type Store struct {
	db  *sql.DB
	log zerolog.Logger
}

// Open opens (or creates) the database at path and applies pending
// migrations. Use ":memory:" for tests.
func Open(path string, log zerolog.Logger) (*Store, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("store.Open: %w", err)
	}

	// A single connection avoids SQLITE_BUSY on concurrent writers and
	// keeps :memory: databases coherent across calls.
	db.SetMaxOpenConns(1)

	if _, err := db.Exec(`PRAGMA journal_mode = WAL; PRAGMA foreign_keys = ON;`); err != nil {
		db.Close()
		return nil, fmt.Errorf("store.Open: pragmas: %w", err)
	}

	s := &Store{db: db, log: log}
	if err := s.migrate(); err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

// Close closes the underlying database.
func (s *Store) Close() error {
	return s.db.Close()
}

// Path-independent schema migrations. Strictly additive: new versions
// may add tables, columns and indexes but never drop or rewrite, so
// already-queued pending mutations survive upgrades.
var migrations = [][]string{
	// v1: initial table set
	{
		`CREATE TABLE IF NOT EXISTS transactions (
			id          TEXT PRIMARY KEY,
			owner_id    TEXT NOT NULL,
			direction   TEXT NOT NULL,
			category    TEXT NOT NULL DEFAULT 'other',
			amount      TEXT NOT NULL,
			description TEXT NOT NULL DEFAULT '',
			tx_date     TEXT NOT NULL,
			account_id  TEXT NOT NULL DEFAULT '',
			mcc         INTEGER NOT NULL DEFAULT 0,
			external_id TEXT NOT NULL DEFAULT '',
			synced      INTEGER NOT NULL DEFAULT 0,
			created_at  TEXT NOT NULL,
			updated_at  TEXT NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_tx_owner ON transactions(owner_id)`,
		`CREATE INDEX IF NOT EXISTS idx_tx_direction ON transactions(owner_id, direction)`,
		`CREATE INDEX IF NOT EXISTS idx_tx_category ON transactions(owner_id, category)`,
		`CREATE INDEX IF NOT EXISTS idx_tx_date ON transactions(owner_id, tx_date)`,
		`CREATE INDEX IF NOT EXISTS idx_tx_account ON transactions(account_id)`,
		`CREATE INDEX IF NOT EXISTS idx_tx_synced ON transactions(synced)`,
		`CREATE UNIQUE INDEX IF NOT EXISTS idx_tx_external
			ON transactions(owner_id, external_id) WHERE external_id != ''`,

		`CREATE TABLE IF NOT EXISTS accounts (
			id                  TEXT PRIMARY KEY,
			owner_id            TEXT NOT NULL,
			name                TEXT NOT NULL,
			type                TEXT NOT NULL,
			currency            TEXT NOT NULL DEFAULT 'UAH',
			balance             TEXT NOT NULL DEFAULT '0',
			connection_id       TEXT NOT NULL DEFAULT '',
			external_account_id TEXT NOT NULL DEFAULT '',
			created_at          TEXT NOT NULL,
			updated_at          TEXT NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_acc_owner ON accounts(owner_id)`,
		`CREATE INDEX IF NOT EXISTS idx_acc_connection ON accounts(connection_id)`,

		`CREATE TABLE IF NOT EXISTS goals (
			id             TEXT PRIMARY KEY,
			owner_id       TEXT NOT NULL,
			name           TEXT NOT NULL,
			target_amount  TEXT NOT NULL,
			current_amount TEXT NOT NULL DEFAULT '0',
			deadline       TEXT NOT NULL DEFAULT '',
			achieved       INTEGER NOT NULL DEFAULT 0,
			created_at     TEXT NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_goal_owner ON goals(owner_id)`,

		`CREATE TABLE IF NOT EXISTS budgets (
			id            TEXT PRIMARY KEY,
			owner_id      TEXT NOT NULL,
			category      TEXT NOT NULL,
			monthly_limit TEXT NOT NULL,
			month         TEXT NOT NULL,
			created_at    TEXT NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_budget_owner ON budgets(owner_id)`,

		`CREATE TABLE IF NOT EXISTS recurring_templates (
			id              TEXT PRIMARY KEY,
			owner_id        TEXT NOT NULL,
			direction       TEXT NOT NULL,
			category        TEXT NOT NULL,
			amount          TEXT NOT NULL,
			description     TEXT NOT NULL DEFAULT '',
			account_id      TEXT NOT NULL DEFAULT '',
			interval_days   INTEGER NOT NULL,
			next_occurrence TEXT NOT NULL,
			active          INTEGER NOT NULL DEFAULT 1,
			created_at      TEXT NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_recurring_owner ON recurring_templates(owner_id)`,
		`CREATE INDEX IF NOT EXISTS idx_recurring_due ON recurring_templates(active, next_occurrence)`,

		`CREATE TABLE IF NOT EXISTS bank_connections (
			id             TEXT PRIMARY KEY,
			owner_id       TEXT NOT NULL,
			provider       TEXT NOT NULL,
			access_token   TEXT NOT NULL DEFAULT '',
			refresh_token  TEXT NOT NULL DEFAULT '',
			institution_id TEXT NOT NULL DEFAULT '',
			requisition_id TEXT NOT NULL DEFAULT '',
			sync_cursor    TEXT NOT NULL DEFAULT '',
			status         TEXT NOT NULL DEFAULT 'active',
			last_sync_at   TEXT NOT NULL DEFAULT '',
			last_error     TEXT NOT NULL DEFAULT '',
			created_at     TEXT NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_conn_owner ON bank_connections(owner_id)`,

		`CREATE TABLE IF NOT EXISTS sync_queue (
			id         TEXT PRIMARY KEY,
			owner_id   TEXT NOT NULL,
			table_name TEXT NOT NULL,
			operation  TEXT NOT NULL,
			record_id  TEXT NOT NULL,
			payload    TEXT NOT NULL DEFAULT '{}',
			synced     INTEGER NOT NULL DEFAULT 0,
			attempts   INTEGER NOT NULL DEFAULT 0,
			dead       INTEGER NOT NULL DEFAULT 0,
			created_at TEXT NOT NULL,
			synced_at  TEXT NOT NULL DEFAULT ''
		)`,
		`CREATE INDEX IF NOT EXISTS idx_queue_owner ON sync_queue(owner_id)`,
		`CREATE INDEX IF NOT EXISTS idx_queue_pending ON sync_queue(synced, dead)`,

		// Reserved for the companion app's progress features. Nothing
		// server-side writes these yet.
		`CREATE TABLE IF NOT EXISTS user_stats (
			owner_id   TEXT PRIMARY KEY,
			level      INTEGER NOT NULL DEFAULT 1,
			points     INTEGER NOT NULL DEFAULT 0,
			updated_at TEXT NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS user_achievements (
			id        TEXT PRIMARY KEY,
			owner_id  TEXT NOT NULL,
			code      TEXT NOT NULL,
			earned_at TEXT NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_achievement_owner ON user_achievements(owner_id)`,
	},
}

// migrate applies all migrations beyond the database's user_version.
func (s *Store) migrate() error {
	var version int
	if err := s.db.QueryRow(`PRAGMA user_version`).Scan(&version); err != nil {
		return fmt.Errorf("store.migrate: reading user_version: %w", err)
	}

	for v := version; v < len(migrations); v++ {
		for _, stmt := range migrations[v] {
			if _, err := s.db.Exec(stmt); err != nil {
				return fmt.Errorf("store.migrate: v%d: %w", v+1, err)
			}
		}
		if _, err := s.db.Exec(fmt.Sprintf(`PRAGMA user_version = %d`, v+1)); err != nil {
			return fmt.Errorf("store.migrate: bumping user_version: %w", err)
		}
		s.log.Info().Int("version", v+1).Msg("Applied schema migration")
	}
	return nil
}

// ── encoding helpers ────────────────────────────────────────────────

func fmtTime(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return t.UTC().Format(time.RFC3339Nano)
}

func parseTime(s string) time.Time {
	if s == "" {
		return time.Time{}
	}
	t, _ := time.Parse(time.RFC3339Nano, s)
	return t
}

func fmtDecimal(d decimal.Decimal) string {
	return d.String()
}

func parseDecimal(s string) decimal.Decimal {
	if s == "" {
		return decimal.Zero
	}
	d, err := decimal.NewFromString(s)
	if err != nil {
		return decimal.Zero
	}
	return d
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
