// Package syncer drains the pending-mutation queue against the remote
// store. One syncer runs per process; it reacts to connectivity
// changes, ticks on a fixed interval while online, and accepts manual
// triggers. Drains never overlap.
package syncer

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"

	"github.com/moneta-app/moneta/internal/domain"
	"github.com/moneta-app/moneta/internal/ledger"
	"github.com/moneta-app/moneta/internal/metrics"
	"github.com/moneta-app/moneta/internal/remote"
	"github.com/moneta-app/moneta/internal/store"
)

// State reports what the syncer is currently doing.
type State string

const (
	StateIdle     State = "idle"
	StateDraining State = "draining"
)

const (
	defaultInterval    = 30 * time.Second
	defaultMaxAttempts = 5
)

// ErrAlreadyDraining is returned when a drain is requested while one is
// in flight. The in-flight drain covers the request.
var ErrAlreadyDraining = errors.New("drain already in progress")

// Result summarizes one drain run.
type Result struct {
	Synced    int           `json:"synced"`
	Failed    int           `json:"failed"`
	Dead      int           `json:"dead"`
	Remaining int           `json:"remaining"`
	Duration  time.Duration `json:"duration"`
	Offline   bool          `json:"offline"`
}

// Syncer owns the drain loop. Construct with New and start Run in its
// own goroutine; Drain may also be called directly.
type Syncer struct {
	store       *store.Store
	remote      remote.Store
	metrics     *metrics.Set
	log         zerolog.Logger
	interval    time.Duration
	maxAttempts int

	draining atomic.Bool
	trigger  chan struct{}

	mu        sync.Mutex
	online    bool
	listeners []func(Result)
}

// Option tweaks syncer construction.
type Option func(*Syncer)

// WithInterval overrides the periodic drain interval.
func WithInterval(d time.Duration) Option {
	return func(s *Syncer) { s.interval = d }
}

// WithMaxAttempts overrides how many failures dead-letter an item.
func WithMaxAttempts(n int) Option {
	return func(s *Syncer) { s.maxAttempts = n }
}

// New creates a syncer. It starts offline; call SetOnline once
// connectivity is known.
func New(st *store.Store, rs remote.Store, m *metrics.Set, log zerolog.Logger, opts ...Option) *Syncer {
	s := &Syncer{
		store:       st,
		remote:      rs,
		metrics:     m,
		log:         log,
		interval:    defaultInterval,
		maxAttempts: defaultMaxAttempts,
		trigger:     make(chan struct{}, 1),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// State reports idle or draining.
func (s *Syncer) State() State {
	if s.draining.Load() {
		return StateDraining
	}
	return StateIdle
}

// Online reports the last connectivity status set on the syncer.
func (s *Syncer) Online() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.online
}

// SetOnline records a connectivity change. Regaining the network
// triggers an immediate drain.
func (s *Syncer) SetOnline(online bool) {
	s.mu.Lock()
	was := s.online
	s.online = online
	s.mu.Unlock()

	if online && !was {
		s.log.Info().Msg("Network regained, scheduling drain")
		s.ForceSync()
	}
}

// ForceSync requests a drain from the Run loop. A request while a
// drain is pending or running is coalesced.
func (s *Syncer) ForceSync() {
	select {
	case s.trigger <- struct{}{}:
	default:
	}
}

// OnComplete registers a listener invoked after every drain run.
func (s *Syncer) OnComplete(fn func(Result)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.listeners = append(s.listeners, fn)
}

// Run drives periodic and triggered drains until ctx is cancelled.
func (s *Syncer) Run(ctx context.Context) {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	s.log.Info().Dur("interval", s.interval).Msg("Syncer started")
	for {
		select {
		case <-ctx.Done():
			s.log.Info().Msg("Syncer stopped")
			return
		case <-ticker.C:
			if !s.Online() {
				continue
			}
		case <-s.trigger:
		}

		if _, err := s.Drain(ctx); err != nil && !errors.Is(err, ErrAlreadyDraining) {
			s.log.Error().Err(err).Msg("Drain failed")
		}
	}
}

// Drain replays every pending queue item against the remote store in
// dependency order. A failing item is counted and skipped so one bad
// record cannot block the rest. Items that exhaust their attempts are
// dead-lettered.
func (s *Syncer) Drain(ctx context.Context) (Result, error) {
	if !s.draining.CompareAndSwap(false, true) {
		return Result{}, ErrAlreadyDraining
	}
	defer s.draining.Store(false)

	start := time.Now()

	if err := s.remote.Ping(ctx); err != nil {
		s.log.Warn().Err(err).Msg("Remote unreachable, drain skipped")
		s.metrics.SyncRuns.WithLabelValues("offline").Inc()
		res := Result{Offline: true, Duration: time.Since(start)}
		s.notify(res)
		return res, nil
	}

	items, err := s.store.ListPending(ctx)
	if err != nil {
		return Result{}, err
	}

	var res Result
	for _, item := range items {
		if err := s.replay(ctx, item); err != nil {
			res.Failed++
			s.metrics.QueueFailed.Inc()
			dead, derr := s.store.MarkAttemptFailed(ctx, item.ID, s.maxAttempts)
			if derr != nil {
				s.log.Error().Err(derr).Str("item_id", item.ID).Msg("Failed to record attempt")
				continue
			}
			if dead {
				res.Dead++
				s.metrics.QueueDead.Inc()
				s.log.Error().
					Str("item_id", item.ID).
					Str("table", item.Table).
					Str("record_id", item.RecordID).
					Msg("Queue item dead-lettered")
			} else {
				s.log.Warn().
					Err(err).
					Str("item_id", item.ID).
					Str("table", item.Table).
					Msg("Queue item replay failed, will retry")
			}
			continue
		}

		if err := s.store.MarkSynced(ctx, item.ID); err != nil {
			s.log.Error().Err(err).Str("item_id", item.ID).Msg("Failed to mark item synced")
			continue
		}
		if item.Table == ledger.TableTransactions && item.Operation != domain.OpDelete {
			if err := s.store.MarkTransactionSynced(ctx, item.RecordID, true); err != nil && !errors.Is(err, domain.ErrNotFound) {
				s.log.Error().Err(err).Str("record_id", item.RecordID).Msg("Failed to flag transaction synced")
			}
		}
		res.Synced++
		s.metrics.QueueDrained.Inc()
	}

	res.Duration = time.Since(start)
	if remaining, err := s.store.PendingCount(ctx); err == nil {
		res.Remaining = remaining
		s.metrics.QueueDepth.Set(float64(remaining))
	}
	s.metrics.SyncDuration.Observe(res.Duration.Seconds())
	if res.Failed > 0 {
		s.metrics.SyncRuns.WithLabelValues("partial").Inc()
	} else {
		s.metrics.SyncRuns.WithLabelValues("ok").Inc()
	}

	s.log.Info().
		Int("synced", res.Synced).
		Int("failed", res.Failed).
		Int("dead", res.Dead).
		Int("remaining", res.Remaining).
		Dur("duration", res.Duration).
		Msg("Drain complete")

	s.notify(res)
	return res, nil
}

func (s *Syncer) replay(ctx context.Context, item *domain.SyncQueueItem) error {
	if item.Operation == domain.OpDelete {
		return s.remote.Delete(ctx, item.Table, item.RecordID)
	}
	return s.remote.Upsert(ctx, item.Table, item.RecordID, item.Payload)
}

func (s *Syncer) notify(res Result) {
	s.mu.Lock()
	listeners := make([]func(Result), len(s.listeners))
	copy(listeners, s.listeners)
	s.mu.Unlock()
	for _, fn := range listeners {
		fn(res)
	}
}
