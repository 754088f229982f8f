// Package remote defines the contract of the authoritative remote
// store. The backend owning the store lives outside this codebase;
// the core only consumes this interface.
package remote

import "context"

// Store is the remote authoritative store. Writes are idempotent
// upserts keyed by record id so that a replayed insert whose original
// acknowledgment was lost cannot create a duplicate remote row.
type Store interface {
	// Upsert writes fields for one record. Keys arrive in the local
	// camelCase convention; implementations translate to the remote
	// convention.
	Upsert(ctx context.Context, table, recordID string, fields map[string]any) error

	// Delete removes one record. Deleting an absent record is not an
	// error.
	Delete(ctx context.Context, table, recordID string) error

	// ListByOwner reads back all records of one table belonging to an
	// owner, with keys translated to the local camelCase convention.
	ListByOwner(ctx context.Context, table, ownerID string) ([]map[string]any, error)

	// Ping confirms connectivity. Drains only start after a successful
	// ping.
	Ping(ctx context.Context) error
}
