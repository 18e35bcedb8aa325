package beat

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/taskbeat/taskbeat/internal/broker"
	"github.com/taskbeat/taskbeat/internal/store"
)

// fakeStore is an in-memory store.Store test double.
type fakeStore struct {
	tasks map[string]*store.Task

	listCalls int
	failNext  bool
}

func newFakeStore() *fakeStore {
	return &fakeStore{tasks: map[string]*store.Task{}}
}

func (f *fakeStore) put(t *store.Task) {
	f.tasks[t.ID] = t
}

func (f *fakeStore) ListEnabled(ctx context.Context) ([]*store.Task, error) {
	snap, err := f.ListEnabledSnapshot(ctx)
	if err != nil {
		return nil, err
	}
	return snap.Tasks, nil
}

func (f *fakeStore) ListEnabledSnapshot(ctx context.Context) (*store.Snapshot, error) {
	f.listCalls++
	if f.failNext {
		f.failNext = false
		return nil, assert.AnError
	}
	var tasks []*store.Task
	var maxUpdated time.Time
	for _, t := range f.tasks {
		if !t.Enabled {
			continue
		}
		cp := *t
		tasks = append(tasks, &cp)
		if t.UpdatedAt.After(maxUpdated) {
			maxUpdated = t.UpdatedAt
		}
	}
	return &store.Snapshot{Tasks: tasks, MaxUpdatedAt: maxUpdated}, nil
}

func (f *fakeStore) Get(ctx context.Context, id string) (*store.Task, error) {
	t, ok := f.tasks[id]
	if !ok {
		return nil, store.ErrNotFound
	}
	cp := *t
	return &cp, nil
}

func (f *fakeStore) Upsert(ctx context.Context, t *store.Task) error {
	t.UpdatedAt = time.Now()
	f.put(t)
	return nil
}

func (f *fakeStore) Delete(ctx context.Context, id string) error {
	delete(f.tasks, id)
	return nil
}

func (f *fakeStore) TouchLastRun(ctx context.Context, id string, lastRun time.Time, nextRun *time.Time) error {
	t, ok := f.tasks[id]
	if !ok {
		return store.ErrNotFound
	}
	lr := lastRun
	t.LastRun = &lr
	t.NextRun = nextRun
	return nil
}

func (f *fakeStore) ClearRunTimes(ctx context.Context, id string) error {
	t, ok := f.tasks[id]
	if !ok {
		return store.ErrNotFound
	}
	t.LastRun = nil
	t.NextRun = nil
	return nil
}

func (f *fakeStore) Close() {}

// fakeGateway is an in-memory broker.Gateway test double.
type fakeGateway struct {
	submissions []broker.Envelope
	failAll     bool
}

func (g *fakeGateway) Submit(ctx context.Context, pluginName string, parameters map[string]any, opts broker.Options) (string, error) {
	if g.failAll {
		return "", broker.ErrUnavailable
	}
	g.submissions = append(g.submissions, broker.Envelope{
		TaskName: "execute_plugin_task",
		Args:     []string{pluginName},
		Kwargs:   parameters,
	})
	return "sub-test", nil
}

func (g *fakeGateway) Status(ctx context.Context, id string) (broker.Status, error) { return "", nil }
func (g *fakeGateway) Revoke(ctx context.Context, id string, terminate bool) error  { return nil }
func (g *fakeGateway) RevokeByPlugin(ctx context.Context, name string, terminate bool) error {
	return nil
}
func (g *fakeGateway) InspectActive(ctx context.Context) ([]broker.Envelope, error) { return nil, nil }

func intervalTask(id string, seconds int, enabled bool) *store.Task {
	cfg, _ := json.Marshal(store.IntervalConfig{IntervalSeconds: seconds})
	return &store.Task{
		ID:             id,
		Name:           id,
		PluginName:     "noop",
		Parameters:     json.RawMessage(`{"x":1}`),
		ScheduleType:   store.ScheduleInterval,
		ScheduleConfig: cfg,
		Enabled:        enabled,
		Priority:       5,
		UpdatedAt:      time.Now(),
		CreatedAt:      time.Now(),
	}
}

// Scenario 1 (spec.md §8): a task disabled with a stale last_run, once
// re-enabled, must fire within maxLoopInterval + schedule_period.
func TestReEnableFiresPromptly(t *testing.T) {
	st := newFakeStore()
	staleLastRun := time.Now().Add(-2 * time.Hour)
	task := intervalTask("t1", 10, false)
	task.LastRun = &staleLastRun
	task.UpdatedAt = time.Now().Add(-2 * time.Hour)
	st.put(task)

	gw := &fakeGateway{}
	log := logrus.NewEntry(logrus.New())
	sched := New(st, gw, log, WithMaxLoopInterval(time.Millisecond))

	ctx := context.Background()
	sched.Tick(ctx) // nothing enabled yet

	assert.Empty(t, gw.submissions, "disabled task must not fire")

	task.Enabled = true
	task.UpdatedAt = time.Now()
	st.put(task)

	sched.Tick(ctx) // rebuild picks it up, re-enable reset makes it due now, dispatch fires it
	sched.Tick(ctx) // next due is a full interval away: no second fire

	require.Len(t, gw.submissions, 1)
	assert.Equal(t, []string{"noop"}, gw.submissions[0].Args)
}

// Invariant 4 (spec.md §8): no mutations -> zero rebuilds.
func TestNoRebuildWhenClean(t *testing.T) {
	st := newFakeStore()
	st.put(intervalTask("t1", 5, true))

	gw := &fakeGateway{}
	log := logrus.NewEntry(logrus.New())
	sched := New(st, gw, log, WithMaxLoopInterval(time.Millisecond))
	ctx := context.Background()

	sched.Tick(ctx)
	firstScheduleLen := len(sched.schedule)

	before := sched.schedule["t1"]
	sched.Tick(ctx) // no mutation: cache should short-circuit, same entry pointer
	after := sched.schedule["t1"]

	assert.Equal(t, firstScheduleLen, len(sched.schedule))
	assert.Same(t, before, after, "a clean tick must not rebuild the schedule map")
}

// Invariant 3 (spec.md §8): last_run is strictly monotonic per task.
func TestLastRunMonotonic(t *testing.T) {
	st := newFakeStore()
	st.put(intervalTask("t1", 1, true))

	gw := &fakeGateway{}
	log := logrus.NewEntry(logrus.New())
	sched := New(st, gw, log, WithMaxLoopInterval(time.Millisecond))
	ctx := context.Background()

	sched.Tick(ctx)
	time.Sleep(5 * time.Millisecond)
	sched.Tick(ctx)
	var last time.Time
	for i := 0; i < 5; i++ {
		time.Sleep(2 * time.Millisecond)
		sched.Tick(ctx)
		task, err := st.Get(ctx, "t1")
		require.NoError(t, err)
		if task.LastRun != nil {
			assert.True(t, task.LastRun.After(last) || task.LastRun.Equal(last))
			last = *task.LastRun
		}
	}
}

// Scenario 3 (spec.md §8): a task deleted while queued must not fire.
func TestDeleteWhileQueuedStopsFiring(t *testing.T) {
	st := newFakeStore()
	st.put(intervalTask("t3", 1, true))

	gw := &fakeGateway{}
	log := logrus.NewEntry(logrus.New())
	sched := New(st, gw, log, WithMaxLoopInterval(time.Millisecond))
	ctx := context.Background()

	sched.Tick(ctx)
	require.Contains(t, sched.schedule, "t3")

	st.Delete(ctx, "t3")
	sched.Tick(ctx)

	assert.NotContains(t, sched.schedule, "t3")
}

// Broker failure must not advance last_run_at (spec.md §4.3.7).
func TestBrokerFailureDoesNotAdvanceLastRun(t *testing.T) {
	st := newFakeStore()
	st.put(intervalTask("t1", 1, true))

	gw := &fakeGateway{failAll: true}
	log := logrus.NewEntry(logrus.New())
	sched := New(st, gw, log, WithMaxLoopInterval(time.Millisecond))
	ctx := context.Background()

	sched.Tick(ctx)

	task, err := st.Get(ctx, "t1")
	require.NoError(t, err)
	assert.Nil(t, task.LastRun)
}
