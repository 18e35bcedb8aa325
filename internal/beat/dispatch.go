package beat

import (
	"container/heap"
	"context"
	"encoding/json"
	"time"

	"github.com/taskbeat/taskbeat/internal/broker"
	"github.com/taskbeat/taskbeat/internal/metrics"
)

// dispatchLocked implements spec.md §4.3.5: pop every entry whose due time
// has passed, and for each one actually due under its schedule, submit it
// and re-enqueue with the next due time. Callers hold s.mu.
func (s *Scheduler) dispatchLocked(ctx context.Context) {
	if s.storeIsStale() {
		// spec.md §7: StoreUnavailable — don't fire on data older than
		// staleSnapshotLimit intervals.
		return
	}

	now := s.clock()

	// Entries whose submission failed go back on the queue only after this
	// pass, so the loop below does not pick them straight back up; the next
	// tick retries them.
	var retry []*ScheduleEntry
	defer func() {
		for _, e := range retry {
			heap.Push(&s.queue, e)
		}
	}()

	for {
		entry := s.queue.peek()
		if entry == nil || entry.DueAt.After(now) {
			return
		}

		// Re-verify against the schedule spec itself, not just the cached
		// DueAt: this is where catch-up alignment (spec.md §4.3.7) happens
		// — a task due many intervals in the past still only fires once,
		// then realigns to the next future boundary.
		if !entry.Spec.Due(entry.LastRunAt, now) {
			heap.Pop(&s.queue)
			entry.DueAt = entry.Spec.NextAfter(now)
			heap.Push(&s.queue, entry)
			continue
		}

		heap.Pop(&s.queue)
		entry.State = StateDue
		if !s.fireLocked(ctx, entry, now) {
			retry = append(retry, entry)
		}
	}
}

// fireLocked submits one due entry and re-enqueues it, returning true. On
// submission failure, last_run_at is left untouched and it returns false
// without re-enqueueing; dispatchLocked re-enqueues the entry after its
// pass so the task retries next tick (spec.md §4.3.5 step 5, §4.3.7
// "at-least-once under broker recovery").
func (s *Scheduler) fireLocked(ctx context.Context, entry *ScheduleEntry, now time.Time) bool {
	var params map[string]any
	if len(entry.Task.Parameters) > 0 {
		if err := json.Unmarshal(entry.Task.Parameters, &params); err != nil {
			s.log.WithError(err).WithField("task_id", entry.Task.ID).Warn("invalid task parameters, skipping dispatch")
			entry.State = StatePending
			entry.DueAt = entry.Spec.NextAfter(now)
			heap.Push(&s.queue, entry)
			return true
		}
	}

	opts := broker.Options{
		Queue:    broker.PluginQueue,
		Priority: entry.Task.Priority,
		Retries:  entry.Task.MaxRetries,
	}
	if entry.Task.TimeoutSeconds > 0 {
		opts.TimeLimit = time.Duration(entry.Task.TimeoutSeconds) * time.Second
	}

	_, err := s.broker.Submit(ctx, entry.Task.PluginName, params, opts)
	if err != nil {
		metrics.TaskDispatches.WithLabelValues(entry.Task.PluginName, "failed").Inc()
		s.log.WithError(err).WithField("task_id", entry.Task.ID).Warn("broker submission failed, will retry next tick")

		// Leave LastRunAt unchanged and mark it due "now" so the next tick
		// retries immediately rather than waiting a full interval.
		entry.State = StatePending
		entry.DueAt = now
		return false
	}

	metrics.TaskDispatches.WithLabelValues(entry.Task.PluginName, "submitted").Inc()

	entry.LastRunAt = now
	entry.State = StateSubmitted
	next := entry.Spec.NextAfter(now)
	entry.DueAt = next
	entry.State = StatePending

	if err := s.store.TouchLastRun(ctx, entry.Task.ID, now, &next); err != nil {
		metrics.StoreErrors.WithLabelValues("touch_last_run").Inc()
		s.log.WithError(err).WithField("task_id", entry.Task.ID).Warn("failed to persist last_run")
	}

	heap.Push(&s.queue, entry)
	return true
}
