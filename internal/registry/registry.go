package registry

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/taskbeat/taskbeat/internal/metrics"
)

// ErrUnknownPlugin is returned when a plugin name isn't registered.
var ErrUnknownPlugin = errors.New("registry: unknown plugin")

// ErrManifestInvalid wraps a manifest that failed to parse (spec.md §7
// ManifestInvalid: "Plugin excluded from registry; logged; other plugins
// unaffected").
var ErrManifestInvalid = errors.New("registry: invalid manifest")

const GlobalEnvFilename = ".env"
const PerPluginEnvFilename = ".env"

// Registry discovers plugin directories under Root and tracks their
// manifests, file hashes, and materialized dependency environments.
type Registry struct {
	Root          string
	GlobalEnvFile string
	materializer  Materializer

	mu      sync.RWMutex
	plugins map[string]*Plugin
}

// New creates a Registry rooted at pluginsDir. globalEnvFile is the
// plugins-root-level env file (spec.md §4.4: "Global plugin env file at
// the plugins-root level").
func New(pluginsDir, globalEnvFile string, materializer Materializer) *Registry {
	if materializer == nil {
		materializer = NewLockfileMaterializer(filepath.Join(pluginsDir, ".taskbeat-cache"))
	}
	return &Registry{
		Root:          pluginsDir,
		GlobalEnvFile: globalEnvFile,
		materializer:  materializer,
		plugins:       map[string]*Plugin{},
	}
}

// Scan discovers every subdirectory of Root containing a manifest.json,
// parses it, and (re)computes file hashes. A plugin whose manifest fails to
// parse is excluded and its error is included in the returned slice for
// the caller to log; it does not abort the scan of the rest (spec.md §7
// ManifestInvalid).
func (r *Registry) Scan() []error {
	entries, err := os.ReadDir(r.Root)
	if err != nil {
		return []error{fmt.Errorf("registry: read plugins dir %s: %w", r.Root, err)}
	}

	var errs []error
	found := map[string]*Plugin{}

	for _, entry := range entries {
		if !entry.IsDir() {
			continue
		}
		dir := filepath.Join(r.Root, entry.Name())
		manifestPath := filepath.Join(dir, ManifestFilename)

		raw, err := os.ReadFile(manifestPath)
		if os.IsNotExist(err) {
			continue // not a plugin directory
		}
		if err != nil {
			errs = append(errs, fmt.Errorf("%w: %s: %v", ErrManifestInvalid, manifestPath, err))
			continue
		}

		var manifest Manifest
		if err := json.Unmarshal(raw, &manifest); err != nil {
			errs = append(errs, fmt.Errorf("%w: %s: %v", ErrManifestInvalid, manifestPath, err))
			continue
		}
		if manifest.Name == "" || manifest.EntryPoint == "" {
			errs = append(errs, fmt.Errorf("%w: %s: missing name or entry_point", ErrManifestInvalid, manifestPath))
			continue
		}

		hashes, err := hashPluginFiles(dir, PerPluginEnvFilename)
		if err != nil {
			errs = append(errs, fmt.Errorf("%w: %s: hashing failed: %v", ErrManifestInvalid, manifestPath, err))
			continue
		}

		plugin := &Plugin{Name: manifest.Name, Dir: dir, Manifest: manifest, fileHashes: hashes}
		found[manifest.Name] = plugin
	}

	r.mu.Lock()
	r.plugins = found
	r.mu.Unlock()

	return errs
}

// Get returns the named plugin, or ErrUnknownPlugin.
func (r *Registry) Get(name string) (*Plugin, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	p, ok := r.plugins[name]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownPlugin, name)
	}
	return p, nil
}

// List returns every currently registered plugin.
func (r *Registry) List() []*Plugin {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]*Plugin, 0, len(r.plugins))
	for _, p := range r.plugins {
		out = append(out, p)
	}
	return out
}

// EnsureMaterialized lazily builds the plugin's dependency environment on
// first call and reuses it afterward (spec.md §4.4).
func (r *Registry) EnsureMaterialized(p *Plugin) (string, error) {
	if dir := p.MaterialDir(); dir != "" {
		return dir, nil
	}
	dir, err := r.materializer.Materialize(p)
	if err != nil {
		return "", err
	}
	p.setMaterialDir(dir)
	return dir, nil
}

// EnvOverlay computes the merged env-var overlay for a plugin invocation:
// the global plugins-root env file first, then the per-plugin env file
// overriding it (spec.md §4.4).
func (r *Registry) EnvOverlay(p *Plugin) (map[string]string, error) {
	global, err := ParseEnvFile(r.GlobalEnvFile)
	if err != nil {
		return nil, err
	}
	perPlugin, err := ParseEnvFile(filepath.Join(p.Dir, PerPluginEnvFilename))
	if err != nil {
		return nil, err
	}

	merged := make(map[string]string, len(global)+len(perPlugin))
	for k, v := range global {
		merged[k] = v
	}
	for k, v := range perPlugin {
		merged[k] = v
	}
	return merged, nil
}

// Rehash recomputes a plugin's file hashes and reports whether anything
// changed, without mutating the registry's cached record — the Hot Loader
// owns deciding when to apply the update (SPEC_FULL §4.5).
func (r *Registry) Rehash(p *Plugin) (changed bool, newHashes map[string]string, err error) {
	newHashes, err = hashPluginFiles(p.Dir, PerPluginEnvFilename)
	if err != nil {
		return false, nil, err
	}
	old := p.FileHashes()
	if len(old) != len(newHashes) {
		return true, newHashes, nil
	}
	for k, v := range newHashes {
		if old[k] != v {
			return true, newHashes, nil
		}
	}
	return false, newHashes, nil
}

// ApplyRehash re-reads the manifest and commits newHashes as the plugin's
// current file hashes, completing a hot reload (spec.md §4.5).
func (r *Registry) ApplyRehash(p *Plugin, newHashes map[string]string) error {
	raw, err := os.ReadFile(filepath.Join(p.Dir, ManifestFilename))
	if err != nil {
		return fmt.Errorf("%w: reload %s: %v", ErrManifestInvalid, p.Name, err)
	}
	var manifest Manifest
	if err := json.Unmarshal(raw, &manifest); err != nil {
		return fmt.Errorf("%w: reload %s: %v", ErrManifestInvalid, p.Name, err)
	}

	p.mu.Lock()
	p.Manifest = manifest
	p.fileHashes = newHashes
	p.materialDir = "" // force re-materialization in case dependencies changed
	p.mu.Unlock()

	metrics.PluginReloads.WithLabelValues(p.Name, "loaded").Inc()
	return nil
}
