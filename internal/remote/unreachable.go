package remote

import (
	"context"
	"errors"
)

// ErrNoRemote is returned by the Unreachable store.
var ErrNoRemote = errors.New("no remote store configured")

// Unreachable is the Store used when no remote backend is configured.
// Every call fails, so mutations accumulate in the local queue until a
// real backend is wired in.
type Unreachable struct{}

func (Unreachable) Upsert(context.Context, string, string, map[string]any) error { return ErrNoRemote }
func (Unreachable) Delete(context.Context, string, string) error                 { return ErrNoRemote }
func (Unreachable) ListByOwner(context.Context, string, string) ([]map[string]any, error) {
	return nil, ErrNoRemote
}
func (Unreachable) Ping(context.Context) error { return ErrNoRemote }
