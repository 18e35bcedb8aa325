// Package metrics declares the Prometheus instruments exported by every
// taskbeat process. Instruments are package-level vars registered through
// promauto, following the convention of the control-plane this scheduler is
// descended from.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// ReconcileTicks counts every Beat reconcile tick, split by whether it
	// triggered a rebuild. A steady-state deployment should show "rebuilt"
	// stay near zero relative to "clean".
	ReconcileTicks = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "taskbeat_reconcile_ticks_total",
		Help: "Total number of Beat reconcile ticks, by whether a rebuild was triggered",
	}, []string{"result"}) // "clean" | "rebuilt"

	// RebuildSignal counts which change-detection signal (if any) fired on
	// a given tick. More than one signal may fire per rebuild.
	RebuildSignal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "taskbeat_rebuild_signal_total",
		Help: "Count of change-detection signals that fired, by signal name",
	}, []string{"signal"})

	// ScheduleSize tracks the number of enabled tasks currently held in the
	// in-memory schedule.
	ScheduleSize = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "taskbeat_schedule_size",
		Help: "Number of enabled tasks currently in the in-memory schedule",
	})

	// TaskDispatches counts submissions attempted by the Beat dispatch loop.
	TaskDispatches = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "taskbeat_task_dispatches_total",
		Help: "Total task dispatch attempts, by outcome",
	}, []string{"plugin", "outcome"}) // outcome: "submitted" | "failed"

	// ReenableResets counts tasks whose last_run_at was reset by the
	// re-enable reset rule during a rebuild.
	ReenableResets = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "taskbeat_reenable_resets_total",
		Help: "Tasks whose last_run_at was reset on rebuild, by reset tier",
	}, []string{"tier"}) // "hard" | "soft"

	// BrokerSubmitLatency tracks the latency of broker submission calls.
	BrokerSubmitLatency = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "taskbeat_broker_submit_latency_seconds",
		Help:    "Latency of broker Submit calls",
		Buckets: prometheus.DefBuckets,
	})

	// PluginInvocations counts plugin executions by terminal status.
	PluginInvocations = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "taskbeat_plugin_invocations_total",
		Help: "Total plugin invocations, by plugin and result status",
	}, []string{"plugin", "status"}) // status: "success" | "error"

	// PluginReloads counts hot-reload events, by plugin and whether it
	// succeeded.
	PluginReloads = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "taskbeat_plugin_reloads_total",
		Help: "Total plugin hot reloads, by plugin and outcome",
	}, []string{"plugin", "outcome"}) // outcome: "loaded" | "error"

	// CDCEventsProcessed counts row events decoded by the CDC client, by
	// table and event type.
	CDCEventsProcessed = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "taskbeat_cdc_events_processed_total",
		Help: "Total CDC row events processed, by table and event type",
	}, []string{"table", "event_type"})

	// CDCConsumerErrors counts consumer process_event failures.
	CDCConsumerErrors = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "taskbeat_cdc_consumer_errors_total",
		Help: "Total consumer process_event errors, by consumer",
	}, []string{"consumer"})

	// CDCReconnects counts CDC client reconnect attempts.
	CDCReconnects = promauto.NewCounter(prometheus.CounterOpts{
		Name: "taskbeat_cdc_reconnects_total",
		Help: "Total CDC client reconnect attempts",
	})

	// StoreErrors counts Task Store read/write failures by operation.
	StoreErrors = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "taskbeat_store_errors_total",
		Help: "Total Task Store errors, by operation",
	}, []string{"operation"})
)
