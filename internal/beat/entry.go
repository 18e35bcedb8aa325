package beat

import (
	"time"

	"github.com/taskbeat/taskbeat/internal/schedule"
	"github.com/taskbeat/taskbeat/internal/store"
)

// EntryState is the per-entry state machine of spec.md §4.3.6. DISABLED
// and REMOVED are not represented here: such tasks are simply absent from
// the schedule map after the next rebuild.
type EntryState string

const (
	StatePending   EntryState = "pending"
	StateDue       EntryState = "due"
	StateSubmitted EntryState = "submitted"
)

// ScheduleEntry is the in-memory counterpart of a Task (spec.md §3
// "Schedule entry"): the task snapshot, its compiled schedule spec, the
// last time it fired, and a cached due time used to order the priority
// queue without recomputing Due() on every heap comparison.
type ScheduleEntry struct {
	Task *store.Task
	Spec schedule.Spec

	// LastRunAt is the zero time if the task has never fired (or was just
	// reset by the re-enable rule).
	LastRunAt time.Time
	DueAt     time.Time
	State     EntryState

	// heapIndex is maintained by container/heap; callers never set it.
	heapIndex int
}

func (e *ScheduleEntry) refreshDueAt() {
	if e.LastRunAt.IsZero() {
		e.DueAt = time.Time{}
		return
	}
	e.DueAt = e.Spec.NextAfter(e.LastRunAt)
}
