package registry

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// Materializer builds the isolated dependency root for a plugin from its
// manifest's `dependencies` list (spec.md §4.4, §9 "per-plugin dependency
// isolation"). It is invoked once, lazily, on first execution of a plugin;
// subsequent executions reuse the same root.
type Materializer interface {
	Materialize(plugin *Plugin) (dir string, err error)
}

// LockfileMaterializer is the default Materializer for statically-linked /
// subprocess targets: it pins a per-plugin configuration bundle rather
// than resolving a package manager at runtime. It writes the plugin's declared dependency strings into a
// lockfile under a per-plugin cache directory, so the isolation boundary
// (one root per plugin, never shared) is real even though taskbeat itself
// does not vendor or build the dependencies.
type LockfileMaterializer struct {
	CacheRoot string
}

func NewLockfileMaterializer(cacheRoot string) *LockfileMaterializer {
	return &LockfileMaterializer{CacheRoot: cacheRoot}
}

func (m *LockfileMaterializer) Materialize(plugin *Plugin) (string, error) {
	dir := filepath.Join(m.CacheRoot, plugin.Name)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", fmt.Errorf("registry: create dependency root for %s: %w", plugin.Name, err)
	}

	lockPath := filepath.Join(dir, "dependencies.lock")
	content := strings.Join(plugin.Manifest.Dependencies, "\n") + "\n"
	if err := os.WriteFile(lockPath, []byte(content), 0o644); err != nil {
		return "", fmt.Errorf("registry: write dependency lockfile for %s: %w", plugin.Name, err)
	}

	return dir, nil
}
