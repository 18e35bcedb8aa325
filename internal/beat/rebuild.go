package beat

import (
	"container/heap"
	"context"
	"time"

	"github.com/taskbeat/taskbeat/internal/metrics"
	"github.com/taskbeat/taskbeat/internal/store"
)

// rebuildLocked implements spec.md §4.3.4: construct a fresh schedule map
// from the snapshot, apply the re-enable reset rule, discard the old
// priority queue, and repopulate it. Callers hold s.mu.
func (s *Scheduler) rebuildLocked(ctx context.Context, tasks []*store.Task) {
	oldSchedule := s.schedule
	newSchedule := make(map[string]*ScheduleEntry, len(tasks))
	newQueue := make(dueQueue, 0, len(tasks))

	for _, task := range tasks {
		spec, err := compileSpec(task, s.loc)
		if err != nil {
			s.log.WithError(err).WithField("task_id", task.ID).Warn("skipping task with invalid schedule")
			continue
		}

		entry := &ScheduleEntry{Task: task, Spec: spec, State: StatePending}

		old, wasTracked := oldSchedule[task.ID]
		switch {
		case !wasTracked:
			// New-to-cache or re-enabled: spec.md §4.3.4 step 3 requires
			// treating it as immediately eligible, both in memory and in
			// the store, through the no-touch path.
			entry.LastRunAt = time.Time{}
			s.clearRunTimesBestEffort(ctx, task.ID)
			metrics.ReenableResets.WithLabelValues("hard").Inc()

		case task.LastRun == nil:
			// Tracked before, but the store has no last_run on record
			// (e.g. it was never persisted yet) — trust the in-memory
			// value so a dispatch that hasn't flushed yet isn't lost.
			entry.LastRunAt = old.LastRunAt

		default:
			gap := task.UpdatedAt.Sub(*task.LastRun)
			switch {
			case gap > hardResetThreshold:
				entry.LastRunAt = time.Time{}
				s.clearRunTimesBestEffort(ctx, task.ID)
				metrics.ReenableResets.WithLabelValues("hard").Inc()
			case gap > softResetThreshold:
				// Soft reset: eligible immediately, but don't touch the
				// store — a disabled window shorter than the hard
				// threshold doesn't warrant a write.
				entry.LastRunAt = time.Time{}
				metrics.ReenableResets.WithLabelValues("soft").Inc()
			default:
				entry.LastRunAt = *task.LastRun
			}
		}

		entry.refreshDueAt()
		newSchedule[task.ID] = entry
		heap.Push(&newQueue, entry)
	}

	s.schedule = newSchedule
	s.queue = newQueue
	metrics.ScheduleSize.Set(float64(len(newSchedule)))
}

// clearRunTimesBestEffort writes the null-out through the no-touch path.
// A failure here is logged, not fatal: the in-memory reset already makes
// the task eligible this tick, and the next successful rebuild will retry
// the write if the condition still holds.
func (s *Scheduler) clearRunTimesBestEffort(ctx context.Context, id string) {
	if err := s.store.ClearRunTimes(ctx, id); err != nil {
		metrics.StoreErrors.WithLabelValues("clear_run_times").Inc()
		s.log.WithError(err).WithField("task_id", id).Warn("failed to clear run times in store")
	}
}
