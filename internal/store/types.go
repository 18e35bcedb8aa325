package store

import (
	"encoding/json"
	"time"
)

// ScheduleType enumerates the two schedule kinds a Task may declare.
type ScheduleType string

const (
	ScheduleInterval ScheduleType = "interval"
	ScheduleCron     ScheduleType = "cron"
)

// Task is the persisted row of the scheduled_tasks table (spec.md §3, §6).
type Task struct {
	ID          string   `json:"id" db:"id"`
	Name        string   `json:"name" db:"name"`
	Description string   `json:"description" db:"description"`
	Tags        []string `json:"tags" db:"tags"`

	PluginName string          `json:"plugin_name" db:"plugin_name"`
	Parameters json.RawMessage `json:"parameters" db:"parameters"`

	ScheduleType   ScheduleType    `json:"schedule_type" db:"schedule_type"`
	ScheduleConfig json.RawMessage `json:"schedule_config" db:"schedule_config"`

	Enabled        bool `json:"enabled" db:"enabled"`
	Priority       int  `json:"priority" db:"priority"`
	MaxRetries     int  `json:"max_retries" db:"max_retries"`
	TimeoutSeconds int  `json:"timeout_seconds" db:"timeout_seconds"`

	LastRun *time.Time `json:"last_run" db:"last_run"`
	NextRun *time.Time `json:"next_run" db:"next_run"`

	CreatedAt time.Time `json:"created_at" db:"created_at"`
	UpdatedAt time.Time `json:"updated_at" db:"updated_at"`

	// Version is an optimistic-concurrency counter bumped on every admin
	// mutation. It lets concurrent writers detect collisions without
	// blocking the Beat no-touch dispatch path (SPEC_FULL §3).
	Version int `json:"version" db:"version"`
}

// IntervalConfig is the decoded form of ScheduleConfig when ScheduleType is
// "interval".
type IntervalConfig struct {
	IntervalSeconds int `json:"interval_seconds"`
}

// CronConfig is the decoded form of ScheduleConfig when ScheduleType is
// "cron".
type CronConfig struct {
	Minute      string `json:"minute"`
	Hour        string `json:"hour"`
	DayOfMonth  string `json:"day_of_month"`
	MonthOfYear string `json:"month_of_year"`
	DayOfWeek   string `json:"day_of_week"`
}

// Snapshot is a consistent, point-in-time view of every enabled task plus
// the aggregate signals the Beat change-detector needs (SPEC_FULL §4.1).
type Snapshot struct {
	Tasks        []*Task
	MaxUpdatedAt time.Time
}
