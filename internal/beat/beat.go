// Package beat implements the Beat Scheduler (C6), the hard core of
// taskbeat: it reconciles an in-memory schedule against the Task Store and
// fires due tasks onto the Broker Gateway. See spec.md §4.3 for the full
// correctness contract this package implements.
package beat

import (
	"context"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/taskbeat/taskbeat/internal/broker"
	"github.com/taskbeat/taskbeat/internal/metrics"
	"github.com/taskbeat/taskbeat/internal/schedule"
	"github.com/taskbeat/taskbeat/internal/store"
)

const (
	// DefaultMaxLoopInterval is the default reconcile wake interval
	// (spec.md §4.3.2).
	DefaultMaxLoopInterval = 5 * time.Second

	// hardResetThreshold and softResetThreshold are the reset-tiers of
	// spec.md §4.3.4.
	hardResetThreshold = 30 * time.Minute
	softResetThreshold = 60 * time.Second

	// staleSnapshotLimit bounds how many consecutive failed store reads
	// Beat will keep dispatching from the last good snapshot before
	// refusing to fire on data it no longer trusts (spec.md §7,
	// StoreUnavailable: "do not fire on stale data older than 3
	// intervals").
	staleSnapshotLimit = 3
)

// Clock abstracts time.Now so tests can drive the reconcile loop
// deterministically.
type Clock func() time.Time

// Scheduler is the Beat process's core state machine. Exactly one live
// instance must exist per deployment (spec.md §4.3.1, §5 "Single-Beat
// invariant") — enforcing that externally (leader election, a supervisor,
// a singleton lock) is outside this package's job.
type Scheduler struct {
	store  store.Store
	broker broker.Gateway
	loc    *time.Location
	clock  Clock
	log    *logrus.Entry

	maxLoopInterval time.Duration

	// mu is the single scheduler lock of spec.md §4.3.8: reconcile,
	// dispatch, and any external schedule-mutation API all serialize on
	// it.
	mu sync.Mutex

	schedule map[string]*ScheduleEntry
	queue    dueQueue
	cache    cacheState

	consecutiveStoreFailures int
	lastGoodSnapshotAt       time.Time
}

// Option configures a Scheduler at construction time.
type Option func(*Scheduler)

// WithMaxLoopInterval overrides DefaultMaxLoopInterval.
func WithMaxLoopInterval(d time.Duration) Option {
	return func(s *Scheduler) { s.maxLoopInterval = d }
}

// WithTimezone sets the location cron schedules are evaluated in.
func WithTimezone(loc *time.Location) Option {
	return func(s *Scheduler) { s.loc = loc }
}

// WithClock overrides the scheduler's time source (tests only).
func WithClock(c Clock) Option {
	return func(s *Scheduler) { s.clock = c }
}

// New constructs a Scheduler bound to the given Task Store and Broker
// Gateway.
func New(st store.Store, gw broker.Gateway, log *logrus.Entry, opts ...Option) *Scheduler {
	s := &Scheduler{
		store:           st,
		broker:          gw,
		loc:             time.UTC,
		clock:           time.Now,
		log:             log,
		maxLoopInterval: DefaultMaxLoopInterval,
		schedule:        make(map[string]*ScheduleEntry),
		cache:           newCacheState(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Run blocks, waking every maxLoopInterval to reconcile and dispatch, until
// ctx is canceled.
func (s *Scheduler) Run(ctx context.Context) {
	ticker := time.NewTicker(s.maxLoopInterval)
	defer ticker.Stop()

	// Do one tick immediately so a freshly started Beat doesn't sit idle
	// for a full interval before building its first schedule.
	s.Tick(ctx)

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.Tick(ctx)
		}
	}
}

// Tick performs one reconcile-then-dispatch cycle. It is exported so
// callers such as tests can step the scheduler without running the full
// ticker loop.
func (s *Scheduler) Tick(ctx context.Context) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.reconcileLocked(ctx)
	s.dispatchLocked(ctx)
}

// reconcileLocked implements spec.md §4.3.3/§4.3.4. Exactly one store read
// happens here per tick, satisfying "at most one lightweight query plus one
// hash comparison per tick" in the clean-tick case.
func (s *Scheduler) reconcileLocked(ctx context.Context) {
	snapshot, err := s.store.ListEnabledSnapshot(ctx)
	if err != nil {
		s.consecutiveStoreFailures++
		metrics.StoreErrors.WithLabelValues("list_enabled_snapshot").Inc()
		s.log.WithError(err).Warn("store read failed, serving last good snapshot")
		return
	}
	s.consecutiveStoreFailures = 0
	s.lastGoodSnapshotAt = s.clock()

	next := buildCacheState(snapshot, s.cache)
	signals := changeSignals(s.cache, next)

	if len(signals) == 0 {
		metrics.ReconcileTicks.WithLabelValues("clean").Inc()
		return
	}

	metrics.ReconcileTicks.WithLabelValues("rebuilt").Inc()
	for _, sig := range signals {
		metrics.RebuildSignal.WithLabelValues(sig).Inc()
	}
	s.log.WithField("signals", signals).Info("schedule change detected, rebuilding")

	s.rebuildLocked(ctx, snapshot.Tasks)
	s.cache = next
}

// storeIsStale reports whether Beat has gone staleSnapshotLimit*interval
// without a successful store read, per spec.md §7.
func (s *Scheduler) storeIsStale() bool {
	return s.consecutiveStoreFailures >= staleSnapshotLimit
}
