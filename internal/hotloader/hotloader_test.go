package hotloader

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/taskbeat/taskbeat/internal/registry"
)

func writeTestPlugin(t *testing.T, root, name string) string {
	t.Helper()
	dir := filepath.Join(root, name)
	require.NoError(t, os.MkdirAll(dir, 0o755))
	manifest := `{"name":"` + name + `","version":"1.0.0","entry_point":"handler","enabled":true}`
	require.NoError(t, os.WriteFile(filepath.Join(dir, registry.ManifestFilename), []byte(manifest), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "handler.py"), []byte("print('v1')\n"), 0o644))
	return dir
}

func TestDirtyOnContentChange(t *testing.T) {
	root := t.TempDir()
	dir := writeTestPlugin(t, root, "plugin-a")

	reg := registry.New(root, filepath.Join(root, ".env"), nil)
	require.Empty(t, reg.Scan())

	loader, err := New(reg, nil, WithDebounceWindow(50*time.Millisecond))
	require.NoError(t, err)
	defer loader.Close()
	require.NoError(t, loader.Watch())

	require.False(t, loader.IsDirty("plugin-a"))

	require.NoError(t, os.WriteFile(filepath.Join(dir, "handler.py"), []byte("print('v2')\n"), 0o644))

	assert.Eventually(t, func() bool {
		return loader.IsDirty("plugin-a")
	}, 2*time.Second, 10*time.Millisecond)
}

func TestReloadClearsDirtyAndUpdatesHashes(t *testing.T) {
	root := t.TempDir()
	dir := writeTestPlugin(t, root, "plugin-b")

	reg := registry.New(root, filepath.Join(root, ".env"), nil)
	require.Empty(t, reg.Scan())

	loader, err := New(reg, nil, WithDebounceWindow(20*time.Millisecond))
	require.NoError(t, err)
	defer loader.Close()
	require.NoError(t, loader.Watch())

	p, err := reg.Get("plugin-b")
	require.NoError(t, err)
	before := p.FileHashes()

	require.NoError(t, os.WriteFile(filepath.Join(dir, "handler.py"), []byte("print('changed')\n"), 0o644))
	require.Eventually(t, func() bool {
		return loader.IsDirty("plugin-b")
	}, 2*time.Second, 10*time.Millisecond)

	require.NoError(t, loader.Reload("plugin-b"))
	assert.False(t, loader.IsDirty("plugin-b"))

	after := p.FileHashes()
	assert.NotEqual(t, before["handler.py"], after["handler.py"])
}

func TestGlobalEnvFileNeverTriggersDirty(t *testing.T) {
	root := t.TempDir()
	writeTestPlugin(t, root, "plugin-c")
	globalEnv := filepath.Join(root, ".env")
	require.NoError(t, os.WriteFile(globalEnv, []byte("FOO=bar\n"), 0o644))

	reg := registry.New(root, globalEnv, nil)
	require.Empty(t, reg.Scan())

	loader, err := New(reg, nil, WithDebounceWindow(20*time.Millisecond))
	require.NoError(t, err)
	defer loader.Close()
	require.NoError(t, loader.Watch())

	require.NoError(t, os.WriteFile(globalEnv, []byte("FOO=baz\n"), 0o644))
	time.Sleep(200 * time.Millisecond)

	assert.False(t, loader.IsDirty("plugin-c"))
}
