package consumer

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/taskbeat/taskbeat/internal/broker"
	"github.com/taskbeat/taskbeat/internal/cdc"
)

type fakeGateway struct {
	submissions []string
	failPlugin  string
}

func (f *fakeGateway) Submit(ctx context.Context, pluginName string, parameters map[string]any, opts broker.Options) (string, error) {
	if pluginName == f.failPlugin {
		return "", errors.New("boom")
	}
	f.submissions = append(f.submissions, pluginName)
	return "sub-" + pluginName, nil
}

func (f *fakeGateway) Status(ctx context.Context, submissionID string) (broker.Status, error) {
	return broker.StatusQueued, nil
}
func (f *fakeGateway) Revoke(ctx context.Context, submissionID string, terminate bool) error {
	return nil
}
func (f *fakeGateway) RevokeByPlugin(ctx context.Context, pluginName string, terminate bool) error {
	return nil
}
func (f *fakeGateway) InspectActive(ctx context.Context) ([]broker.Envelope, error) {
	return nil, nil
}

func TestDispatchMatchesMultipleConsumers(t *testing.T) {
	gw := &fakeGateway{}
	mgr := New(gw, nil)
	mgr.Register(&Consumer{
		Name:    "audit",
		Plugin:  "audit-plugin",
		Enabled: true,
		Filters: []Filter{{Database: "app", Table: "orders"}},
	})
	mgr.Register(&Consumer{
		Name:    "notify",
		Plugin:  "notify-plugin",
		Enabled: true,
		Filters: []Filter{{Database: "app", Table: "orders", AllowedEventTypes: []string{cdc.EventInsert}}},
	})

	mgr.Dispatch(context.Background(), cdc.RowEvent{Database: "app", Table: "orders", EventType: cdc.EventInsert})

	assert.ElementsMatch(t, []string{"audit-plugin", "notify-plugin"}, gw.submissions)
}

func TestDispatchSkipsNonMatchingFilter(t *testing.T) {
	gw := &fakeGateway{}
	mgr := New(gw, nil)
	mgr.Register(&Consumer{
		Name:    "deletes-only",
		Plugin:  "cleanup-plugin",
		Enabled: true,
		Filters: []Filter{{Table: "orders", AllowedEventTypes: []string{cdc.EventDelete}}},
	})

	mgr.Dispatch(context.Background(), cdc.RowEvent{Table: "orders", EventType: cdc.EventInsert})

	assert.Empty(t, gw.submissions)
}

func TestDispatchSkipsDisabledConsumer(t *testing.T) {
	gw := &fakeGateway{}
	mgr := New(gw, nil)
	mgr.Register(&Consumer{
		Name:    "disabled",
		Plugin:  "whatever",
		Enabled: false,
		Filters: []Filter{{Table: "orders"}},
	})

	mgr.Dispatch(context.Background(), cdc.RowEvent{Table: "orders", EventType: cdc.EventInsert})

	assert.Empty(t, gw.submissions)
}

// One consumer erroring must not suppress delivery to another (spec.md
// §4.7: "Consumers MUST be independent").
func TestOneConsumerErrorDoesNotBlockOthers(t *testing.T) {
	gw := &fakeGateway{failPlugin: "broken-plugin"}
	mgr := New(gw, nil)
	mgr.Register(&Consumer{Name: "broken", Plugin: "broken-plugin", Enabled: true, Filters: []Filter{{Table: "t"}}})
	mgr.Register(&Consumer{Name: "healthy", Plugin: "healthy-plugin", Enabled: true, Filters: []Filter{{Table: "t"}}})

	require.NotPanics(t, func() {
		mgr.Dispatch(context.Background(), cdc.RowEvent{Table: "t", EventType: cdc.EventUpdate})
	})

	assert.Equal(t, []string{"healthy-plugin"}, gw.submissions)
}

// A panicking consumer must not crash the dispatch loop or block others.
func TestOneConsumerPanicDoesNotBlockOthers(t *testing.T) {
	gw := &fakeGateway{}
	mgr := New(gw, nil)
	mgr.Register(&Consumer{
		Name:    "panics",
		Plugin:  "panics-plugin",
		Enabled: true,
		Filters: []Filter{{Table: "t"}},
		Transform: func(cdc.RowEvent) map[string]any {
			panic("boom")
		},
	})
	mgr.Register(&Consumer{Name: "survivor", Plugin: "survivor-plugin", Enabled: true, Filters: []Filter{{Table: "t"}}})

	require.NotPanics(t, func() {
		mgr.Dispatch(context.Background(), cdc.RowEvent{Table: "t", EventType: cdc.EventUpdate})
	})

	assert.Equal(t, []string{"survivor-plugin"}, gw.submissions)
}

func TestCustomTransformReshapesParameters(t *testing.T) {
	gw := &fakeGateway{}
	mgr := New(gw, nil)
	var captured map[string]any
	mgr.Register(&Consumer{
		Name:    "reshaper",
		Plugin:  "reshape-plugin",
		Enabled: true,
		Filters: []Filter{{Table: "t"}},
		Transform: func(e cdc.RowEvent) map[string]any {
			captured = map[string]any{"id": e.Data["id"]}
			return captured
		},
	})

	mgr.Dispatch(context.Background(), cdc.RowEvent{Table: "t", EventType: cdc.EventInsert, Data: map[string]any{"id": 42, "extra": "x"}})

	assert.Equal(t, map[string]any{"id": 42}, captured)
}
