package invoker

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/taskbeat/taskbeat/internal/registry"
)

func writeEchoPlugin(t *testing.T, root, name string, enabled bool) {
	t.Helper()
	dir := filepath.Join(root, name)
	require.NoError(t, os.MkdirAll(dir, 0o755))

	manifest := `{
		"name": "` + name + `",
		"version": "1.0.0",
		"entry_point": "handler",
		"enabled": ` + boolStr(enabled) + `,
		"parameters": {
			"message": {"type": "string", "required": true},
			"count": {"type": "integer", "required": false, "default": 1}
		}
	}`
	require.NoError(t, os.WriteFile(filepath.Join(dir, registry.ManifestFilename), []byte(manifest), 0o644))

	script := "#!/bin/sh\ncat <<'EOF'\n{\"status\":\"success\",\"result\":{\"echoed\":true}}\nEOF\n"
	entry := filepath.Join(dir, "handler")
	require.NoError(t, os.WriteFile(entry, []byte(script), 0o755))
}

func boolStr(b bool) string {
	if b {
		return "true"
	}
	return "false"
}

func TestExecuteSuccess(t *testing.T) {
	root := t.TempDir()
	writeEchoPlugin(t, root, "echo-plugin", true)

	reg := registry.New(root, filepath.Join(root, ".env"), nil)
	errs := reg.Scan()
	require.Empty(t, errs)

	inv := New(reg, nil, nil, 5*time.Second)
	result, err := inv.Execute(context.Background(), "echo-plugin", map[string]any{"message": "hi"})
	require.NoError(t, err)
	assert.Equal(t, StatusSuccess, result.Status)
}

func TestExecuteUnknownPlugin(t *testing.T) {
	root := t.TempDir()
	reg := registry.New(root, filepath.Join(root, ".env"), nil)
	reg.Scan()

	inv := New(reg, nil, nil, 0)
	_, err := inv.Execute(context.Background(), "missing", nil)
	require.Error(t, err)
}

func TestExecuteDisabledPlugin(t *testing.T) {
	root := t.TempDir()
	writeEchoPlugin(t, root, "disabled-plugin", false)

	reg := registry.New(root, filepath.Join(root, ".env"), nil)
	require.Empty(t, reg.Scan())

	inv := New(reg, nil, nil, 0)
	_, err := inv.Execute(context.Background(), "disabled-plugin", nil)
	require.Error(t, err)
}

func TestExecuteMissingRequiredParameter(t *testing.T) {
	root := t.TempDir()
	writeEchoPlugin(t, root, "echo-plugin", true)

	reg := registry.New(root, filepath.Join(root, ".env"), nil)
	require.Empty(t, reg.Scan())

	inv := New(reg, nil, nil, 5*time.Second)
	_, err := inv.Execute(context.Background(), "echo-plugin", map[string]any{})
	require.Error(t, err)
}
