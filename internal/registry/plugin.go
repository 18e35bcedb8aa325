package registry

import (
	"crypto/sha256"
	"encoding/hex"
	"io"
	"os"
	"path/filepath"
	"sort"
	"sync"
)

// Plugin is the runtime record the registry keeps for one discovered
// plugin directory.
type Plugin struct {
	Name     string
	Dir      string
	Manifest Manifest

	mu          sync.Mutex
	fileHashes  map[string]string // path relative to Dir -> sha256 hex
	materialDir string            // per-plugin dependency environment root, lazily set
}

// FileHashes returns a copy of the last-recorded content hashes.
func (p *Plugin) FileHashes() map[string]string {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make(map[string]string, len(p.fileHashes))
	for k, v := range p.fileHashes {
		out[k] = v
	}
	return out
}

// MaterialDir returns the plugin's dependency environment root, or "" if
// it hasn't been materialized yet.
func (p *Plugin) MaterialDir() string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.materialDir
}

func (p *Plugin) setMaterialDir(dir string) {
	p.mu.Lock()
	p.materialDir = dir
	p.mu.Unlock()
}

// EntryPointPath resolves the manifest's dotted entry_point into a path on
// disk: under the subprocess execution contract (spec.md §9) the
// entry_point names the executable relative to the plugin root, e.g.
// "handler.run" maps to "<dir>/handler/run" with any platform executable
// suffix left to the caller to resolve.
func (p *Plugin) EntryPointPath() string {
	return filepath.Join(p.Dir, filepath.FromSlash(dotsToSlash(p.Manifest.EntryPoint)))
}

func dotsToSlash(s string) string {
	out := make([]byte, len(s))
	for i := 0; i < len(s); i++ {
		if s[i] == '.' {
			out[i] = '/'
		} else {
			out[i] = s[i]
		}
	}
	return string(out)
}

// hashPluginFiles walks dir and returns the sha256 of every *.py, *.json,
// and env file, relative path -> hex digest, matching the file classes the
// Hot Loader watches (spec.md §4.5).
func hashPluginFiles(dir string, perPluginEnvFile string) (map[string]string, error) {
	hashes := map[string]string{}
	var paths []string

	err := filepath.WalkDir(dir, func(path string, d os.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			return nil
		}
		rel, err := filepath.Rel(dir, path)
		if err != nil {
			return err
		}
		ext := filepath.Ext(path)
		if ext == ".py" || ext == ".json" || filepath.Base(path) == filepath.Base(perPluginEnvFile) {
			paths = append(paths, rel)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	sort.Strings(paths)
	for _, rel := range paths {
		digest, err := hashFile(filepath.Join(dir, rel))
		if err != nil {
			return nil, err
		}
		hashes[rel] = digest
	}
	return hashes, nil
}

func hashFile(path string) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", err
	}
	defer f.Close()

	h := sha256.New()
	if _, err := io.Copy(h, f); err != nil {
		return "", err
	}
	return hex.EncodeToString(h.Sum(nil)), nil
}
