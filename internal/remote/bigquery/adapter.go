// Package bigquery implements the remote store contract on top of a
// BigQuery dataset. Each logical table maps to one BigQuery table with
// snake_case columns; writes are MERGE statements keyed on id so that
// queue replays stay idempotent.
package bigquery

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"cloud.google.com/go/bigquery"
	"github.com/rs/zerolog"
	"google.golang.org/api/iterator"
	"google.golang.org/api/option"

	"github.com/moneta-app/moneta/internal/remote"
)

// Adapter holds a shared BigQuery client scoped to one dataset.
type Adapter struct {
	client  *bigquery.Client
	dataset string
	log     zerolog.Logger
}

// New creates an adapter with a shared BigQuery client. Pass
// option.WithCredentialsFile when not running with application
// default credentials.
func New(ctx context.Context, projectID, dataset string, log zerolog.Logger, opts ...option.ClientOption) (*Adapter, error) {
	client, err := bigquery.NewClient(ctx, projectID, opts...)
	if err != nil {
		return nil, fmt.Errorf("bigquery.New: creating client: %w", err)
	}
	return &Adapter{client: client, dataset: dataset, log: log}, nil
}

// Close releases the underlying client.
func (a *Adapter) Close() error {
	return a.client.Close()
}

// Ping runs a trivial query to confirm connectivity and permissions.
func (a *Adapter) Ping(ctx context.Context) error {
	q := a.client.Query(`SELECT 1`)
	job, err := q.Run(ctx)
	if err != nil {
		return fmt.Errorf("Ping: %w", err)
	}
	status, err := job.Wait(ctx)
	if err != nil {
		return fmt.Errorf("Ping: waiting for job: %w", err)
	}
	if err := status.Err(); err != nil {
		return fmt.Errorf("Ping: job error: %w", err)
	}
	return nil
}

// Upsert MERGEs one record into dataset.table. Field keys arrive in
// camelCase and are translated to snake_case columns here, so opaque
// queued payloads replay with the same mapping as live writes.
func (a *Adapter) Upsert(ctx context.Context, table, recordID string, fields map[string]any) error {
	cols := remote.SnakeKeys(fields)
	delete(cols, "id")

	names := make([]string, 0, len(cols))
	for name := range cols {
		names = append(names, name)
	}
	sort.Strings(names)

	var updates, insertCols, insertVals []string
	params := []bigquery.QueryParameter{{Name: "id", Value: recordID}}
	insertCols = append(insertCols, "id")
	insertVals = append(insertVals, "@id")
	for _, name := range names {
		updates = append(updates, fmt.Sprintf("%s = @%s", name, name))
		insertCols = append(insertCols, name)
		insertVals = append(insertVals, "@"+name)
		params = append(params, bigquery.QueryParameter{Name: name, Value: cols[name]})
	}

	stmt := fmt.Sprintf(`
		MERGE %s.%s T
		USING (SELECT @id AS id) S
		ON T.id = S.id
		WHEN MATCHED THEN UPDATE SET %s
		WHEN NOT MATCHED THEN INSERT (%s) VALUES (%s)
	`, a.dataset, table,
		strings.Join(updates, ", "),
		strings.Join(insertCols, ", "),
		strings.Join(insertVals, ", "))

	// A record with no fields beyond its id has nothing to update.
	if len(updates) == 0 {
		stmt = fmt.Sprintf(`
			MERGE %s.%s T
			USING (SELECT @id AS id) S
			ON T.id = S.id
			WHEN NOT MATCHED THEN INSERT (id) VALUES (@id)
		`, a.dataset, table)
	}

	q := a.client.Query(stmt)
	q.Parameters = params
	if err := a.runToCompletion(ctx, q); err != nil {
		return fmt.Errorf("Upsert %s/%s: %w", table, recordID, err)
	}
	return nil
}

// Delete removes one record; deleting an absent record succeeds.
func (a *Adapter) Delete(ctx context.Context, table, recordID string) error {
	q := a.client.Query(fmt.Sprintf(`DELETE FROM %s.%s WHERE id = @id`, a.dataset, table))
	q.Parameters = []bigquery.QueryParameter{{Name: "id", Value: recordID}}
	if err := a.runToCompletion(ctx, q); err != nil {
		return fmt.Errorf("Delete %s/%s: %w", table, recordID, err)
	}
	return nil
}

// ListByOwner reads back all of an owner's rows with keys translated
// to the local camelCase convention.
func (a *Adapter) ListByOwner(ctx context.Context, table, ownerID string) ([]map[string]any, error) {
	q := a.client.Query(fmt.Sprintf(`SELECT * FROM %s.%s WHERE owner_id = @owner_id`, a.dataset, table))
	q.Parameters = []bigquery.QueryParameter{{Name: "owner_id", Value: ownerID}}

	it, err := q.Read(ctx)
	if err != nil {
		return nil, fmt.Errorf("ListByOwner %s: %w", table, err)
	}

	var out []map[string]any
	for {
		var row map[string]bigquery.Value
		err := it.Next(&row)
		if err == iterator.Done {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("ListByOwner %s: iterating: %w", table, err)
		}
		record := make(map[string]any, len(row))
		for k, v := range row {
			record[k] = v
		}
		out = append(out, remote.CamelKeys(record))
	}
	return out, nil
}

func (a *Adapter) runToCompletion(ctx context.Context, q *bigquery.Query) error {
	job, err := q.Run(ctx)
	if err != nil {
		return fmt.Errorf("running query: %w", err)
	}
	status, err := job.Wait(ctx)
	if err != nil {
		return fmt.Errorf("waiting for job: %w", err)
	}
	if err := status.Err(); err != nil {
		return fmt.Errorf("job error: %w", err)
	}
	return nil
}

var _ remote.Store = (*Adapter)(nil)
