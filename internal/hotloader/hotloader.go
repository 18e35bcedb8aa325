// Package hotloader watches plugin directories for content changes and
// marks plugins dirty so the Plugin Invoker reloads them before their next
// execution (spec.md §4.5).
package hotloader

import (
	"fmt"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/sirupsen/logrus"

	"github.com/taskbeat/taskbeat/internal/metrics"
	"github.com/taskbeat/taskbeat/internal/registry"
)

// DefaultDebounceWindow is the quiescence period a plugin directory must
// see before a burst of fs events collapses into a single dirty mark.
const DefaultDebounceWindow = 500 * time.Millisecond

// LoadedFunc and ErrorFunc are the loader's observability callbacks. The
// loader starts a new goroutine for each call, so a slow callback never
// blocks Reload or the debounce timers.
type LoadedFunc func(plugin string)
type ErrorFunc func(plugin, message string)

// Loader watches every plugin directory known to a Registry and tracks
// which plugins are dirty.
type Loader struct {
	reg            *registry.Registry
	watcher        *fsnotify.Watcher
	debounceWindow time.Duration
	log            *logrus.Entry
	onLoaded       LoadedFunc
	onError        ErrorFunc

	mu     sync.Mutex
	dirty  map[string]bool
	timers map[string]*time.Timer
	dirOf  map[string]string // watched directory -> plugin name
}

// Option configures a Loader.
type Option func(*Loader)

func WithDebounceWindow(d time.Duration) Option {
	return func(l *Loader) { l.debounceWindow = d }
}

func WithCallbacks(onLoaded LoadedFunc, onError ErrorFunc) Option {
	return func(l *Loader) {
		l.onLoaded = onLoaded
		l.onError = onError
	}
}

// New creates a Loader bound to reg. Call Watch to begin observing, and
// Close to release the underlying fsnotify watcher.
func New(reg *registry.Registry, log *logrus.Entry, opts ...Option) (*Loader, error) {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("hotloader: create watcher: %w", err)
	}

	l := &Loader{
		reg:            reg,
		watcher:        watcher,
		debounceWindow: DefaultDebounceWindow,
		log:            log,
		dirty:          map[string]bool{},
		timers:         map[string]*time.Timer{},
		dirOf:          map[string]string{},
	}
	for _, opt := range opts {
		opt(l)
	}
	return l, nil
}

// Watch registers a watch on every currently known plugin's directory and
// starts the event loop. It does not pick up plugins registered later;
// call Watch again after a Registry.Scan discovers new plugins.
func (l *Loader) Watch() error {
	for _, p := range l.reg.List() {
		if err := l.watcher.Add(p.Dir); err != nil {
			return fmt.Errorf("hotloader: watch %s: %w", p.Dir, err)
		}
		l.mu.Lock()
		l.dirOf[p.Dir] = p.Name
		l.mu.Unlock()
	}
	go l.run()
	return nil
}

func (l *Loader) run() {
	for {
		select {
		case event, ok := <-l.watcher.Events:
			if !ok {
				return
			}
			l.handleEvent(event)
		case err, ok := <-l.watcher.Errors:
			if !ok {
				return
			}
			if l.log != nil {
				l.log.WithError(err).Warn("hotloader: watcher error")
			}
		}
	}
}

func (l *Loader) handleEvent(event fsnotify.Event) {
	dir := filepath.Dir(event.Name)

	l.mu.Lock()
	plugin, ok := l.dirOf[dir]
	l.mu.Unlock()
	if !ok {
		return
	}

	// The global plugins-root env file lives outside any plugin directory
	// and is never watched, so it can never trigger a reload (spec.md §4.4
	// distinguishes it from the per-plugin env file; only the latter is
	// part of a plugin's hashed file set).
	if !isWatchedKind(event.Name) {
		return
	}

	l.scheduleDebounce(plugin)
}

func isWatchedKind(path string) bool {
	ext := filepath.Ext(path)
	return ext == ".py" || ext == ".json" || filepath.Base(path) == ".env"
}

func (l *Loader) scheduleDebounce(plugin string) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if t, ok := l.timers[plugin]; ok {
		t.Stop()
	}
	l.timers[plugin] = time.AfterFunc(l.debounceWindow, func() {
		l.markDirty(plugin)
	})
}

func (l *Loader) markDirty(plugin string) {
	l.mu.Lock()
	l.dirty[plugin] = true
	l.mu.Unlock()
}

// IsDirty reports whether plugin has pending, un-reloaded changes.
func (l *Loader) IsDirty(plugin string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.dirty[plugin]
}

// Reload drops the dirty mark for plugin and rehashes/reapplies its
// manifest via the Registry, invoking the loader's callbacks. The Plugin
// Invoker calls this immediately before executing a dirty plugin (spec.md
// §4.5: "drops all cached module state ... reloads code from disk").
func (l *Loader) Reload(plugin string) error {
	p, err := l.reg.Get(plugin)
	if err != nil {
		l.notifyError(plugin, err.Error())
		return err
	}

	changed, hashes, err := l.reg.Rehash(p)
	if err != nil {
		l.notifyError(plugin, err.Error())
		return err
	}
	if !changed {
		l.clearDirty(plugin)
		return nil
	}

	if err := l.reg.ApplyRehash(p, hashes); err != nil {
		l.notifyError(plugin, err.Error())
		return err
	}

	l.clearDirty(plugin)
	l.notifyLoaded(plugin)
	return nil
}

func (l *Loader) clearDirty(plugin string) {
	l.mu.Lock()
	delete(l.dirty, plugin)
	l.mu.Unlock()
}

func (l *Loader) notifyLoaded(plugin string) {
	if l.onLoaded == nil {
		return
	}
	go l.onLoaded(plugin)
}

func (l *Loader) notifyError(plugin, message string) {
	metrics.PluginReloads.WithLabelValues(plugin, "error").Inc()
	if l.onError == nil {
		return
	}
	go l.onError(plugin, message)
}

// Close stops the underlying watcher and any pending debounce timers.
func (l *Loader) Close() error {
	l.mu.Lock()
	for _, t := range l.timers {
		t.Stop()
	}
	l.mu.Unlock()
	return l.watcher.Close()
}
