// Package consumer implements the Consumer Manager (C8): a set of
// registered consumers, each filtering CDC row events and triggering
// plugin invocations through the Broker Gateway (spec.md §4.7).
package consumer

import (
	"context"
	"fmt"

	"github.com/sirupsen/logrus"

	"github.com/taskbeat/taskbeat/internal/broker"
	"github.com/taskbeat/taskbeat/internal/cdc"
	"github.com/taskbeat/taskbeat/internal/errkind"
	"github.com/taskbeat/taskbeat/internal/metrics"
)

// Filter matches a subset of CDC row events by database, table, and event
// type (spec.md §4.7: "tuples of (database, table, allowed_event_types)").
type Filter struct {
	Database          string
	Table             string
	AllowedEventTypes []string // empty means all event types
}

func (f Filter) matches(e cdc.RowEvent) bool {
	if f.Database != "" && f.Database != e.Database {
		return false
	}
	if f.Table != "" && f.Table != e.Table {
		return false
	}
	if len(f.AllowedEventTypes) == 0 {
		return true
	}
	for _, t := range f.AllowedEventTypes {
		if t == e.EventType {
			return true
		}
	}
	return false
}

// Transform reshapes a matched row event into plugin parameters before
// trigger_plugin is called. Consumers whose plugin parameter schema
// doesn't match the row image 1:1 supply one; the default is an identity
// copy of Data (SPEC_FULL §4.7 supplement).
type Transform func(cdc.RowEvent) map[string]any

func defaultTransform(e cdc.RowEvent) map[string]any {
	out := make(map[string]any, len(e.Data))
	for k, v := range e.Data {
		out[k] = v
	}
	return out
}

// Consumer reacts to CDC row events matching its filters by triggering a
// plugin invocation.
type Consumer struct {
	Name      string
	Filters   []Filter
	Plugin    string
	Priority  int
	Transform Transform
	Enabled   bool
}

func (c Consumer) matchesAny(e cdc.RowEvent) bool {
	for _, f := range c.Filters {
		if f.matches(e) {
			return true
		}
	}
	return false
}

// Manager fans an incoming CDC row event out to every enabled consumer
// whose filters match, invoking each independently so that one consumer's
// failure never suppresses delivery to another (spec.md §4.7).
type Manager struct {
	gateway   broker.Gateway
	log       *logrus.Entry
	consumers []*Consumer
}

// New creates a Manager that triggers plugins through gateway.
func New(gateway broker.Gateway, log *logrus.Entry) *Manager {
	return &Manager{gateway: gateway, log: log}
}

// Register adds a consumer. Consumers are evaluated in registration order;
// spec.md does not define cross-consumer ordering beyond "per event, all
// matching consumers are invoked".
func (m *Manager) Register(c *Consumer) {
	m.consumers = append(m.consumers, c)
}

// Dispatch evaluates every registered, enabled consumer's filters against
// event and invokes process_event (here, triggerPlugin) for each match. A
// panic or error from one consumer is caught and reported as ConsumerError
// without blocking delivery to the others.
func (m *Manager) Dispatch(ctx context.Context, event cdc.RowEvent) {
	for _, c := range m.consumers {
		if !c.Enabled {
			continue
		}
		if !c.matchesAny(event) {
			continue
		}
		m.invoke(ctx, c, event)
	}
}

func (m *Manager) invoke(ctx context.Context, c *Consumer, event cdc.RowEvent) {
	defer func() {
		if r := recover(); r != nil {
			m.reportError(c.Name, fmt.Errorf("%w: %s: panic: %v", errkind.ConsumerError, c.Name, r))
		}
	}()

	transform := c.Transform
	if transform == nil {
		transform = defaultTransform
	}
	params := transform(event)

	if err := m.triggerPlugin(ctx, c.Plugin, params, c.Priority); err != nil {
		m.reportError(c.Name, fmt.Errorf("%w: %s: %v", errkind.ConsumerError, c.Name, err))
	}
}

// triggerPlugin is the thin wrapper over C2 that spec.md §4.7 describes as
// the only way a consumer expresses work.
func (m *Manager) triggerPlugin(ctx context.Context, pluginName string, parameters map[string]any, priority int) error {
	_, err := m.gateway.Submit(ctx, pluginName, parameters, broker.Options{Priority: priority})
	return err
}

func (m *Manager) reportError(consumer string, err error) {
	metrics.CDCConsumerErrors.WithLabelValues(consumer).Inc()
	if m.log != nil {
		m.log.WithError(err).WithField("consumer", consumer).Warn("consumer: process_event failed")
	}
}
