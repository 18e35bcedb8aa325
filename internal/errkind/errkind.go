// Package errkind declares the sentinel error kinds shared across taskbeat
// components (spec.md §7). Call sites wrap a sentinel with fmt.Errorf's %w
// so callers can classify a failure with errors.Is while still keeping the
// underlying cause in the message.
package errkind

import "errors"

var (
	// StoreUnavailable: the Task Store could not be reached. Beat keeps
	// running on its last-known-good in-memory schedule.
	StoreUnavailable = errors.New("store unavailable")

	// BrokerUnavailable: the Broker Gateway could not be reached. A fire is
	// retried with backoff; last_run_at is not advanced until it succeeds.
	BrokerUnavailable = errors.New("broker unavailable")

	// PluginNotAvailable: the named plugin is unknown to the registry, or
	// known but disabled.
	PluginNotAvailable = errors.New("plugin not available")

	// ParameterInvalid: supplied parameters failed manifest validation.
	ParameterInvalid = errors.New("parameter invalid")

	// PluginRuntimeError: the plugin's entrypoint ran but exited non-zero or
	// emitted a malformed result.
	PluginRuntimeError = errors.New("plugin runtime error")

	// ManifestInvalid: a plugin directory's manifest.json failed to parse
	// or is missing required fields. The plugin is excluded from the
	// registry; other plugins are unaffected.
	ManifestInvalid = errors.New("manifest invalid")

	// CdcDisconnected: the CDC client lost its binlog connection. Events
	// emitted during the outage are not replayed on reconnect.
	CdcDisconnected = errors.New("cdc disconnected")

	// ConsumerError: a single consumer's process_event call failed. Other
	// consumers still receive the event.
	ConsumerError = errors.New("consumer error")
)
