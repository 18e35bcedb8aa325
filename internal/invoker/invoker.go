// Package invoker implements the Plugin Invoker (C5): the six-step
// execute(plugin_name, parameters) contract (spec.md §4.6) that resolves a
// plugin, reloads it if dirty, validates parameters, and runs it as a
// subprocess under a scoped environment overlay.
package invoker

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/exec"
	"strings"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/taskbeat/taskbeat/internal/errkind"
	"github.com/taskbeat/taskbeat/internal/hotloader"
	"github.com/taskbeat/taskbeat/internal/metrics"
	"github.com/taskbeat/taskbeat/internal/registry"
)

// Status values for Result (spec.md §4.6).
const (
	StatusSuccess = "success"
	StatusError   = "error"
)

// Result is the structured outcome of one plugin execution.
type Result struct {
	Status    string    `json:"status"`
	Result    any       `json:"result,omitempty"`
	Error     string    `json:"error,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}

// Invoker ties the Registry and Hot Loader together to execute plugins
// under the subprocess JSON-stdin/stdout contract.
type Invoker struct {
	reg     *registry.Registry
	loader  *hotloader.Loader
	log     *logrus.Entry
	timeout time.Duration
}

// New creates an Invoker. timeout bounds a single subprocess execution; zero
// means no timeout beyond the caller's context.
func New(reg *registry.Registry, loader *hotloader.Loader, log *logrus.Entry, timeout time.Duration) *Invoker {
	return &Invoker{reg: reg, loader: loader, log: log, timeout: timeout}
}

// Execute runs plugin with the given parameters and returns a structured
// result. It never returns a bare execution error for a plugin-body
// failure — that is reported as Result.Status == StatusError. A non-nil
// error return means the plugin could not be invoked at all (unknown,
// disabled, or invalid parameters).
func (inv *Invoker) Execute(ctx context.Context, pluginName string, parameters map[string]any) (Result, error) {
	// Step 1: resolve via the registry.
	plugin, err := inv.reg.Get(pluginName)
	if err != nil {
		return Result{}, fmt.Errorf("%w: %s", errkind.PluginNotAvailable, pluginName)
	}
	if !plugin.Manifest.Enabled {
		return Result{}, fmt.Errorf("%w: %s is disabled", errkind.PluginNotAvailable, pluginName)
	}

	// Step 2: consult the hot loader, reload if dirty.
	if inv.loader != nil && inv.loader.IsDirty(pluginName) {
		if err := inv.loader.Reload(pluginName); err != nil {
			inv.logf(pluginName, "reload failed: %v", err)
		}
	}

	// Step 3: validate parameters against the manifest.
	validated, err := validateParameters(plugin.Manifest.Parameters, parameters)
	if err != nil {
		return Result{}, fmt.Errorf("%w: %v", errkind.ParameterInvalid, err)
	}

	// Step 5 (entrypoint resolution) happens inside runSubprocess; step 4
	// (scoped env overlay) is acquired here and its restoration is
	// guaranteed by exec.Cmd never touching the parent's os.Environ.
	dir, err := inv.reg.EnsureMaterialized(plugin)
	if err != nil {
		return Result{}, fmt.Errorf("registry: materialize %s: %w", pluginName, err)
	}
	overlay, err := inv.reg.EnvOverlay(plugin)
	if err != nil {
		return Result{}, fmt.Errorf("registry: env overlay %s: %w", pluginName, err)
	}

	result := inv.runSubprocess(ctx, plugin, dir, overlay, validated)
	if result.Status == StatusSuccess {
		metrics.PluginInvocations.WithLabelValues(pluginName, "success").Inc()
	} else {
		metrics.PluginInvocations.WithLabelValues(pluginName, "error").Inc()
	}
	return result, nil
}

// runSubprocess performs steps 4–6: it builds a private environment (never
// mutating the process environment — spec.md §9 "Process-wide environment
// overlay"), execs the plugin's entrypoint with parameters marshaled to
// stdin, and parses a Result from stdout. A plugin-body failure (non-zero
// exit, malformed stdout) is captured as Result{Status: StatusError} rather
// than propagated, per spec.md §4.6.
func (inv *Invoker) runSubprocess(ctx context.Context, p *registry.Plugin, materialDir string, overlay map[string]string, parameters map[string]any) Result {
	if inv.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, inv.timeout)
		defer cancel()
	}

	stdin, err := json.Marshal(parameters)
	if err != nil {
		return errorResult(fmt.Errorf("%w: marshal parameters: %v", errkind.PluginRuntimeError, err))
	}

	cmd := exec.CommandContext(ctx, p.EntryPointPath())
	cmd.Dir = p.Dir
	cmd.Env = envSlice(overlay, materialDir)
	cmd.Stdin = bytes.NewReader(stdin)

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	runErr := cmd.Run()
	if runErr != nil {
		msg := stderr.String()
		if msg == "" {
			msg = runErr.Error()
		}
		return errorResult(fmt.Errorf("%w: %s", errkind.PluginRuntimeError, msg))
	}

	var result Result
	if err := json.Unmarshal(stdout.Bytes(), &result); err != nil {
		return errorResult(fmt.Errorf("%w: malformed result: %v", errkind.PluginRuntimeError, err))
	}
	if result.Timestamp.IsZero() {
		result.Timestamp = time.Now()
	}
	return result
}

func errorResult(err error) Result {
	return Result{Status: StatusError, Error: err.Error(), Timestamp: time.Now()}
}

// envSlice builds the subprocess's private environment: a snapshot of the
// current process environment with the plugin's env-file overlay and
// materialized dependency root layered on top (spec.md §4.6 step 4:
// "capture a snapshot of current environment, overlay the plugin's
// env-file values"). It is assembled into a fresh slice and handed to
// exec.Cmd.Env, so the parent's os.Environ is read but never mutated —
// satisfying spec.md §9's "never mutate the shared environment" without
// needing invocation serialization, and there is nothing to restore
// afterward since nothing shared was touched.
func envSlice(overlay map[string]string, materialDir string) []string {
	snapshot := map[string]string{}
	for _, kv := range os.Environ() {
		k, v, ok := strings.Cut(kv, "=")
		if ok {
			snapshot[k] = v
		}
	}
	for k, v := range overlay {
		snapshot[k] = v
	}
	snapshot["TASKBEAT_PLUGIN_DEPENDENCY_ROOT"] = materialDir

	env := make([]string, 0, len(snapshot))
	for k, v := range snapshot {
		env = append(env, k+"="+v)
	}
	return env
}

func (inv *Invoker) logf(plugin, format string, args ...any) {
	if inv.log == nil {
		return
	}
	inv.log.WithField("plugin", plugin).Warnf(format, args...)
}
