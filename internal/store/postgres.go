package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// PostgresStore implements Store on top of PostgreSQL via pgx, the same
// pooling strategy the control plane this scheduler descends from uses for
// its durable store.
type PostgresStore struct {
	pool *pgxpool.Pool
}

// NewPostgresStore opens a connection pool against connString and verifies
// connectivity with a Ping.
func NewPostgresStore(ctx context.Context, connString string) (*PostgresStore, error) {
	cfg, err := pgxpool.ParseConfig(connString)
	if err != nil {
		return nil, fmt.Errorf("store: parse connection string: %w", err)
	}

	cfg.MaxConns = 20
	cfg.MinConns = 2
	cfg.MaxConnLifetime = time.Hour
	cfg.HealthCheckPeriod = 30 * time.Second

	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("store: create pool: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("store: ping: %w", err)
	}

	return &PostgresStore{pool: pool}, nil
}

func (s *PostgresStore) Close() {
	s.pool.Close()
}

const taskColumns = `id, name, description, tags, plugin_name, parameters, schedule_type,
	schedule_config, enabled, priority, max_retries, timeout_seconds, last_run, next_run,
	created_at, updated_at, version`

func scanTask(row pgx.Row) (*Task, error) {
	var t Task
	var params, schedCfg []byte
	err := row.Scan(
		&t.ID, &t.Name, &t.Description, &t.Tags, &t.PluginName, &params, &t.ScheduleType,
		&schedCfg, &t.Enabled, &t.Priority, &t.MaxRetries, &t.TimeoutSeconds, &t.LastRun, &t.NextRun,
		&t.CreatedAt, &t.UpdatedAt, &t.Version,
	)
	if err != nil {
		return nil, err
	}
	t.Parameters = json.RawMessage(params)
	t.ScheduleConfig = json.RawMessage(schedCfg)
	return &t, nil
}

func (s *PostgresStore) ListEnabled(ctx context.Context) ([]*Task, error) {
	rows, err := s.pool.Query(ctx, `SELECT `+taskColumns+` FROM scheduled_tasks WHERE enabled = true ORDER BY id`)
	if err != nil {
		return nil, fmt.Errorf("store: list enabled: %w", err)
	}
	defer rows.Close()

	var tasks []*Task
	for rows.Next() {
		t, err := scanTask(rows)
		if err != nil {
			return nil, fmt.Errorf("store: scan task: %w", err)
		}
		tasks = append(tasks, t)
	}
	return tasks, rows.Err()
}

// ListEnabledSnapshot lists enabled tasks and their max(updated_at) inside a
// single read-only transaction, so the two numbers the change-detector
// compares against cache are always mutually consistent.
func (s *PostgresStore) ListEnabledSnapshot(ctx context.Context) (*Snapshot, error) {
	tx, err := s.pool.BeginTx(ctx, pgx.TxOptions{IsoLevel: pgx.RepeatableRead, AccessMode: pgx.ReadOnly})
	if err != nil {
		return nil, fmt.Errorf("store: begin snapshot tx: %w", err)
	}
	defer tx.Rollback(ctx)

	rows, err := tx.Query(ctx, `SELECT `+taskColumns+` FROM scheduled_tasks WHERE enabled = true ORDER BY id`)
	if err != nil {
		return nil, fmt.Errorf("store: snapshot query: %w", err)
	}
	var tasks []*Task
	for rows.Next() {
		t, err := scanTask(rows)
		if err != nil {
			rows.Close()
			return nil, fmt.Errorf("store: snapshot scan: %w", err)
		}
		tasks = append(tasks, t)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, err
	}

	var maxUpdated time.Time
	row := tx.QueryRow(ctx, `SELECT COALESCE(MAX(updated_at), to_timestamp(0)) FROM scheduled_tasks WHERE enabled = true`)
	if err := row.Scan(&maxUpdated); err != nil {
		return nil, fmt.Errorf("store: snapshot max updated_at: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("store: commit snapshot tx: %w", err)
	}

	return &Snapshot{Tasks: tasks, MaxUpdatedAt: maxUpdated}, nil
}

func (s *PostgresStore) Get(ctx context.Context, id string) (*Task, error) {
	row := s.pool.QueryRow(ctx, `SELECT `+taskColumns+` FROM scheduled_tasks WHERE id = $1`, id)
	t, err := scanTask(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("store: get %s: %w", id, err)
	}
	return t, nil
}

func (s *PostgresStore) Upsert(ctx context.Context, task *Task) error {
	query := `
		INSERT INTO scheduled_tasks (
			id, name, description, tags, plugin_name, parameters, schedule_type, schedule_config,
			enabled, priority, max_retries, timeout_seconds, last_run, next_run,
			created_at, updated_at, version
		) VALUES (
			$1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, NOW(), NOW(), 1
		)
		ON CONFLICT (id) DO UPDATE SET
			name = EXCLUDED.name,
			description = EXCLUDED.description,
			tags = EXCLUDED.tags,
			plugin_name = EXCLUDED.plugin_name,
			parameters = EXCLUDED.parameters,
			schedule_type = EXCLUDED.schedule_type,
			schedule_config = EXCLUDED.schedule_config,
			enabled = EXCLUDED.enabled,
			priority = EXCLUDED.priority,
			max_retries = EXCLUDED.max_retries,
			timeout_seconds = EXCLUDED.timeout_seconds,
			updated_at = NOW(),
			version = scheduled_tasks.version + 1
		RETURNING updated_at, version
	`
	row := s.pool.QueryRow(ctx, query,
		task.ID, task.Name, task.Description, task.Tags, task.PluginName, task.Parameters,
		task.ScheduleType, task.ScheduleConfig, task.Enabled, task.Priority, task.MaxRetries,
		task.TimeoutSeconds, task.LastRun, task.NextRun,
	)
	if err := row.Scan(&task.UpdatedAt, &task.Version); err != nil {
		return fmt.Errorf("store: upsert %s: %w", task.ID, err)
	}
	return nil
}

func (s *PostgresStore) Delete(ctx context.Context, id string) error {
	tag, err := s.pool.Exec(ctx, `DELETE FROM scheduled_tasks WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("store: delete %s: %w", id, err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// TouchLastRun deliberately does NOT touch updated_at (spec.md §4.1, §9):
// Beat's dispatch path must never masquerade as a user edit.
func (s *PostgresStore) TouchLastRun(ctx context.Context, id string, lastRun time.Time, nextRun *time.Time) error {
	_, err := s.pool.Exec(ctx,
		`UPDATE scheduled_tasks SET last_run = $2, next_run = $3 WHERE id = $1`,
		id, lastRun, nextRun,
	)
	if err != nil {
		return fmt.Errorf("store: touch last_run %s: %w", id, err)
	}
	return nil
}

// ClearRunTimes nulls last_run/next_run through the same no-touch path,
// implementing the rebuild-time re-enable reset rule.
func (s *PostgresStore) ClearRunTimes(ctx context.Context, id string) error {
	_, err := s.pool.Exec(ctx,
		`UPDATE scheduled_tasks SET last_run = NULL, next_run = NULL WHERE id = $1`,
		id,
	)
	if err != nil {
		return fmt.Errorf("store: clear run times %s: %w", id, err)
	}
	return nil
}
