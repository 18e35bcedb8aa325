// Package store implements the Task Store (C1): the persistent table of
// task definitions and execution state that the Beat scheduler reconciles
// against.
package store

import (
	"context"
	"errors"
	"time"
)

// ErrNotFound is returned by Get when no task with the given id exists.
var ErrNotFound = errors.New("store: task not found")

// Store is the contract every Task Store backend implements. All reads
// return a consistent snapshot (spec.md §4.1: "a single transaction").
type Store interface {
	// ListEnabled returns every task with enabled=true.
	ListEnabled(ctx context.Context) ([]*Task, error)

	// ListEnabledSnapshot returns the enabled task set together with the
	// maximum updated_at among them, in one transaction, so the Beat
	// change-detector never compares a task list against a stale
	// max-updated-at computed on a different read (SPEC_FULL §4.1).
	ListEnabledSnapshot(ctx context.Context) (*Snapshot, error)

	// Get returns a single task by id, or ErrNotFound.
	Get(ctx context.Context, id string) (*Task, error)

	// Upsert creates or updates a task. It always bumps UpdatedAt and
	// Version; it is the path every admin mutation (add/enable/disable/
	// edit) goes through.
	Upsert(ctx context.Context, task *Task) error

	// Delete removes a task outright.
	Delete(ctx context.Context, id string) error

	// TouchLastRun sets last_run/next_run WITHOUT bumping updated_at. This
	// is the "no-touch path" required by spec.md §4.1 and §9: Beat is the
	// only writer that must use it, and it must never look like a user
	// edit to the change detector.
	TouchLastRun(ctx context.Context, id string, lastRun time.Time, nextRun *time.Time) error

	// ClearRunTimes nulls last_run/next_run through the no-touch path. It
	// backs the rebuild-time re-enable reset rule (spec.md §4.3.4 step 3).
	ClearRunTimes(ctx context.Context, id string) error

	// Close releases backend resources (connection pools, etc).
	Close()
}
