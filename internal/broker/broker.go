// Package broker implements the Broker Gateway (C2): submission,
// status lookup, and revocation of plugin invocations against a Redis-backed
// queue, using the same go-redis client the control plane this scheduler
// descends from uses for its coordination store.
package broker

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/taskbeat/taskbeat/internal/idgen"
	"github.com/taskbeat/taskbeat/internal/metrics"
)

// PluginQueue is the broker queue name plugin work is submitted to
// (spec.md §6).
const PluginQueue = "plugin_tasks"

// ErrUnavailable wraps transport-level failures talking to the broker.
var ErrUnavailable = errors.New("broker: unavailable")

// Status is the lifecycle state of a submission.
type Status string

const (
	StatusQueued  Status = "queued"
	StatusRunning Status = "running"
	StatusSuccess Status = "success"
	StatusFailure Status = "failure"
	StatusRevoked Status = "revoked"
)

// Options carries the broker hints attached to a submission (spec.md §4.2).
type Options struct {
	Queue     string
	Priority  int
	TimeLimit time.Duration
	Retries   int
}

// Envelope is the logical wire format of spec.md §6: a Celery-style task
// message.
type Envelope struct {
	TaskName  string         `json:"task_name"`
	Args      []string       `json:"args"`
	Kwargs    map[string]any `json:"kwargs"`
	Queue     string         `json:"queue"`
	Priority  int            `json:"priority"`
	TimeLimit float64        `json:"time_limit,omitempty"`
	Retries   int            `json:"retries"`

	SubmissionID string    `json:"submission_id"`
	SubmittedAt  time.Time `json:"submitted_at"`
}

// Gateway is the contract Beat, the CLI, and the Consumer Manager use to
// reach the broker (spec.md §4.2).
type Gateway interface {
	Submit(ctx context.Context, pluginName string, parameters map[string]any, opts Options) (submissionID string, err error)
	Status(ctx context.Context, submissionID string) (Status, error)
	Revoke(ctx context.Context, submissionID string, terminate bool) error
	RevokeByPlugin(ctx context.Context, pluginName string, terminate bool) error
	InspectActive(ctx context.Context) ([]Envelope, error)
}

// RedisGateway implements Gateway on top of a Redis list (the queue) plus a
// hash (submission status) and a sorted set (active-submission index used
// by InspectActive), mirroring the teacher's use of Redis primitives for
// both durable and ephemeral state.
type RedisGateway struct {
	client *redis.Client

	// retryAttempts/retryBackoff bound the gateway's own retry of the
	// Redis round trip, per spec.md §4.2: "the gateway is responsible for
	// serialization and retry of the broker call itself".
	retryAttempts int
	retryBackoff  time.Duration
}

// NewRedisGateway dials addr and returns a ready Gateway.
func NewRedisGateway(addr string) (*RedisGateway, error) {
	opt, err := redis.ParseURL(addr)
	if err != nil {
		// Fall back to treating addr as a bare host:port.
		opt = &redis.Options{Addr: addr}
	}
	client := redis.NewClient(opt)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}

	return &RedisGateway{client: client, retryAttempts: 3, retryBackoff: 200 * time.Millisecond}, nil
}

func (g *RedisGateway) statusKey(id string) string     { return "taskbeat:submission:" + id }
func (g *RedisGateway) activeSetKey() string           { return "taskbeat:active" }
func (g *RedisGateway) pluginIndexKey(p string) string { return "taskbeat:plugin-index:" + p }

// Submit serializes the invocation envelope and pushes it onto the broker
// queue, retrying the Redis round trip with bounded backoff before
// surfacing ErrUnavailable.
func (g *RedisGateway) Submit(ctx context.Context, pluginName string, parameters map[string]any, opts Options) (string, error) {
	start := time.Now()
	defer func() { metrics.BrokerSubmitLatency.Observe(time.Since(start).Seconds()) }()

	submissionID := idgen.NewPrefixed("sub")
	env := Envelope{
		TaskName:     "execute_plugin_task",
		Args:         []string{pluginName},
		Kwargs:       parameters,
		Queue:        firstNonEmpty(opts.Queue, PluginQueue),
		Priority:     opts.Priority,
		Retries:      opts.Retries,
		SubmissionID: submissionID,
		SubmittedAt:  time.Now().UTC(),
	}
	if opts.TimeLimit > 0 {
		env.TimeLimit = opts.TimeLimit.Seconds()
	}

	payload, err := json.Marshal(env)
	if err != nil {
		return "", fmt.Errorf("broker: marshal envelope: %w", err)
	}

	op := func() error {
		pipe := g.client.TxPipeline()
		pipe.LPush(ctx, env.Queue, payload)
		pipe.HSet(ctx, g.statusKey(submissionID), "status", string(StatusQueued), "plugin", pluginName)
		pipe.ZAdd(ctx, g.activeSetKey(), redis.Z{Score: float64(env.SubmittedAt.Unix()), Member: submissionID})
		pipe.SAdd(ctx, g.pluginIndexKey(pluginName), submissionID)
		_, err := pipe.Exec(ctx)
		return err
	}

	if err := g.withRetry(op); err != nil {
		return "", fmt.Errorf("%w: submit %s: %v", ErrUnavailable, pluginName, err)
	}
	return submissionID, nil
}

func (g *RedisGateway) Status(ctx context.Context, submissionID string) (Status, error) {
	v, err := g.client.HGet(ctx, g.statusKey(submissionID), "status").Result()
	if errors.Is(err, redis.Nil) {
		return "", fmt.Errorf("broker: unknown submission %s", submissionID)
	}
	if err != nil {
		return "", fmt.Errorf("%w: status %s: %v", ErrUnavailable, submissionID, err)
	}
	return Status(v), nil
}

// Revoke marks a submission revoked. terminate requests the worker kill an
// already-running invocation; the gateway only records the intent here, the
// in-flight enforcement lives with the broker/worker runtime (out of scope,
// spec.md §1).
func (g *RedisGateway) Revoke(ctx context.Context, submissionID string, terminate bool) error {
	pipe := g.client.TxPipeline()
	pipe.HSet(ctx, g.statusKey(submissionID), "status", string(StatusRevoked), "terminate", terminate)
	pipe.ZRem(ctx, g.activeSetKey(), submissionID)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("%w: revoke %s: %v", ErrUnavailable, submissionID, err)
	}
	return nil
}

func (g *RedisGateway) RevokeByPlugin(ctx context.Context, pluginName string, terminate bool) error {
	ids, err := g.client.SMembers(ctx, g.pluginIndexKey(pluginName)).Result()
	if err != nil {
		return fmt.Errorf("%w: revoke by plugin %s: %v", ErrUnavailable, pluginName, err)
	}
	for _, id := range ids {
		// The plugin index is never pruned; only submissions still in the
		// active set (queued or running) are revoked.
		if _, err := g.client.ZScore(ctx, g.activeSetKey(), id).Result(); errors.Is(err, redis.Nil) {
			continue
		} else if err != nil {
			return fmt.Errorf("%w: revoke by plugin %s: %v", ErrUnavailable, pluginName, err)
		}
		if err := g.Revoke(ctx, id, terminate); err != nil {
			return err
		}
	}
	return nil
}

// InspectActive returns the currently queued/running submissions, newest
// last, by reading the active-submission sorted set.
func (g *RedisGateway) InspectActive(ctx context.Context) ([]Envelope, error) {
	ids, err := g.client.ZRange(ctx, g.activeSetKey(), 0, -1).Result()
	if err != nil {
		return nil, fmt.Errorf("%w: inspect active: %v", ErrUnavailable, err)
	}

	envs := make([]Envelope, 0, len(ids))
	for _, id := range ids {
		fields, err := g.client.HGetAll(ctx, g.statusKey(id)).Result()
		if err != nil || len(fields) == 0 {
			continue
		}
		envs = append(envs, Envelope{
			SubmissionID: id,
			TaskName:     "execute_plugin_task",
			Args:         []string{fields["plugin"]},
		})
	}
	return envs, nil
}

// Dequeue blocks up to blockTimeout waiting for a submission on any of
// queues, decodes its Envelope, and marks it running. It is the Worker
// pool's half of the contract; it is deliberately not part of the Gateway
// interface since only a queue consumer (not Beat, the CLI, or Consumer
// Manager) ever calls it.
func (g *RedisGateway) Dequeue(ctx context.Context, queues []string, blockTimeout time.Duration) (*Envelope, error) {
	res, err := g.client.BRPop(ctx, blockTimeout, queues...).Result()
	if errors.Is(err, redis.Nil) {
		return nil, nil // timed out, nothing queued
	}
	if err != nil {
		return nil, fmt.Errorf("%w: dequeue: %v", ErrUnavailable, err)
	}

	// res[0] is the queue name, res[1] is the payload.
	var env Envelope
	if err := json.Unmarshal([]byte(res[1]), &env); err != nil {
		return nil, fmt.Errorf("broker: decode envelope: %w", err)
	}

	if err := g.client.HSet(ctx, g.statusKey(env.SubmissionID), "status", string(StatusRunning)).Err(); err != nil {
		return nil, fmt.Errorf("%w: mark running %s: %v", ErrUnavailable, env.SubmissionID, err)
	}
	return &env, nil
}

// CompleteSubmission records a submission's terminal status and removes it
// from the active-submission index. A submission already marked revoked
// keeps that status: in-flight cancellation enforcement is out of scope
// (spec.md §1/§5), but a worker that dequeued a revoked submission before
// the revoke reached it must not overwrite the revocation with a
// completion status.
func (g *RedisGateway) CompleteSubmission(ctx context.Context, submissionID string, status Status) error {
	current, err := g.Status(ctx, submissionID)
	if err == nil && current == StatusRevoked {
		_, err := g.client.ZRem(ctx, g.activeSetKey(), submissionID).Result()
		if err != nil {
			return fmt.Errorf("%w: complete %s: %v", ErrUnavailable, submissionID, err)
		}
		return nil
	}

	pipe := g.client.TxPipeline()
	pipe.HSet(ctx, g.statusKey(submissionID), "status", string(status))
	pipe.ZRem(ctx, g.activeSetKey(), submissionID)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("%w: complete %s: %v", ErrUnavailable, submissionID, err)
	}
	return nil
}

func (g *RedisGateway) Close() error {
	return g.client.Close()
}

func (g *RedisGateway) withRetry(op func() error) error {
	var err error
	for attempt := 0; attempt < g.retryAttempts; attempt++ {
		if err = op(); err == nil {
			return nil
		}
		time.Sleep(g.retryBackoff * time.Duration(1<<attempt))
	}
	return err
}

func firstNonEmpty(a, b string) string {
	if a != "" {
		return a
	}
	return b
}
