// Package schedule compiles a Task's schedule_type/schedule_config into an
// evaluator the Beat scheduler can ask "are you due" and "when next",
// using robfig/cron/v3 for the cron half, the same library the scheduler-
// shaped entries in the retrieval pack (bravo1goingdark-mailgrid,
// miken90-goclaw) build on.
package schedule

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/taskbeat/taskbeat/internal/store"
)

// Spec evaluates whether a task is due and computes its next fire time.
// Implementations hold no task identity; the caller tracks last_run_at.
type Spec interface {
	// Due reports whether the task is due to fire at now, given the last
	// time it fired (zero value if it has never fired).
	Due(lastRunAt time.Time, now time.Time) bool

	// NextAfter returns the next boundary strictly after `after`, used to
	// align catch-up fires to the next future boundary (spec.md §4.3.7).
	NextAfter(after time.Time) time.Time
}

// intervalSpec implements Spec for schedule_type "interval".
type intervalSpec struct {
	interval time.Duration
}

func (s intervalSpec) Due(lastRunAt, now time.Time) bool {
	if lastRunAt.IsZero() {
		return true
	}
	return !lastRunAt.Add(s.interval).After(now)
}

func (s intervalSpec) NextAfter(after time.Time) time.Time {
	return after.Add(s.interval)
}

// cronSpec implements Spec for schedule_type "cron", evaluated in a fixed
// timezone location.
type cronSpec struct {
	schedule cron.Schedule
	loc      *time.Location
}

func (s cronSpec) Due(lastRunAt, now time.Time) bool {
	if lastRunAt.IsZero() {
		// Never fired: due once the first scheduled boundary in the past
		// has been reached. Using the zero time as the anchor would walk
		// forward from year 1, so anchor on now minus a day and check the
		// computed next boundary isn't in the future.
		anchor := now.In(s.loc).Add(-24 * time.Hour)
		next := s.schedule.Next(anchor)
		return !next.After(now.In(s.loc))
	}
	next := s.schedule.Next(lastRunAt.In(s.loc))
	return !next.After(now.In(s.loc))
}

func (s cronSpec) NextAfter(after time.Time) time.Time {
	return s.schedule.Next(after.In(s.loc))
}

// Compile builds a Spec from a task's schedule_type/schedule_config,
// evaluated in the given timezone for cron tasks (spec.md §6).
func Compile(task *store.Task, loc *time.Location) (Spec, error) {
	switch task.ScheduleType {
	case store.ScheduleInterval:
		var cfg store.IntervalConfig
		if err := json.Unmarshal(task.ScheduleConfig, &cfg); err != nil {
			return nil, fmt.Errorf("schedule: decode interval config for %s: %w", task.ID, err)
		}
		if cfg.IntervalSeconds <= 0 {
			return nil, fmt.Errorf("schedule: task %s has non-positive interval_seconds %d", task.ID, cfg.IntervalSeconds)
		}
		return intervalSpec{interval: time.Duration(cfg.IntervalSeconds) * time.Second}, nil

	case store.ScheduleCron:
		var cfg store.CronConfig
		if err := json.Unmarshal(task.ScheduleConfig, &cfg); err != nil {
			return nil, fmt.Errorf("schedule: decode cron config for %s: %w", task.ID, err)
		}
		expr := fmt.Sprintf("%s %s %s %s %s", cfg.Minute, cfg.Hour, cfg.DayOfMonth, cfg.MonthOfYear, cfg.DayOfWeek)
		parsed, err := cron.ParseStandard(expr)
		if err != nil {
			return nil, fmt.Errorf("schedule: parse cron expression %q for %s: %w", expr, task.ID, err)
		}
		if loc == nil {
			loc = time.UTC
		}
		return cronSpec{schedule: parsed, loc: loc}, nil

	default:
		return nil, fmt.Errorf("schedule: unknown schedule_type %q for task %s", task.ScheduleType, task.ID)
	}
}
