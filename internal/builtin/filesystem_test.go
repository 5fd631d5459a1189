package builtin

import (
	"context"
	"encoding/base64"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pistonhq/piston/internal/engine"
	"github.com/pistonhq/piston/internal/events"
)

func fsExecute(t *testing.T, base, action string, payload any) (any, error) {
	t.Helper()
	bus := events.NewBus(16, nil)
	reg := engine.NewRegistry(bus)
	disp := engine.NewDispatcher(reg, bus, engine.NewInvoker(0, 0, 0, nil), nil)
	reg.Register(Filesystem(base))
	return disp.Execute(context.Background(), "filesystem", action, payload)
}

func TestFilesystemList(t *testing.T) {
	base := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(base, "a.txt"), []byte("hello"), 0o644))
	require.NoError(t, os.Mkdir(filepath.Join(base, "sub"), 0o755))

	result, err := fsExecute(t, base, "list", map[string]any{"path": "."})
	require.NoError(t, err)

	entries := result.(map[string]any)["entries"].([]map[string]any)
	require.Len(t, entries, 2)
	assert.Equal(t, "a.txt", entries[0]["name"])
	assert.Equal(t, false, entries[0]["is_dir"])
	assert.Equal(t, int64(5), entries[0]["size"])
	assert.Equal(t, "sub", entries[1]["name"])
	assert.Equal(t, true, entries[1]["is_dir"])
}

func TestFilesystemListDefaultsToBase(t *testing.T) {
	base := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(base, "only.txt"), nil, 0o644))

	result, err := fsExecute(t, base, "list", map[string]any{})
	require.NoError(t, err)

	entries := result.(map[string]any)["entries"].([]map[string]any)
	require.Len(t, entries, 1)
}

func TestFilesystemListErrors(t *testing.T) {
	base := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(base, "file.txt"), []byte("x"), 0o644))

	_, err := fsExecute(t, base, "list", map[string]any{"path": "missing"})
	require.Error(t, err)
	assert.Equal(t, "not found", engine.MessageOf(err))

	_, err = fsExecute(t, base, "list", map[string]any{"path": "file.txt"})
	require.Error(t, err)
	assert.Equal(t, "not a directory", engine.MessageOf(err))
}

func TestFilesystemRead(t *testing.T) {
	base := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(base, "data.bin"), []byte("hello world"), 0o644))

	result, err := fsExecute(t, base, "read", map[string]any{"path": "data.bin"})
	require.NoError(t, err)

	b64 := result.(map[string]any)["content_b64"].(string)
	content, err := base64.StdEncoding.DecodeString(b64)
	require.NoError(t, err)
	assert.Equal(t, "hello world", string(content))
}

func TestFilesystemReadWindow(t *testing.T) {
	base := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(base, "data.bin"), []byte("hello world"), 0o644))

	result, err := fsExecute(t, base, "read", map[string]any{
		"path": "data.bin", "offset": 6.0, "length": 5.0,
	})
	require.NoError(t, err)

	b64 := result.(map[string]any)["content_b64"].(string)
	content, err := base64.StdEncoding.DecodeString(b64)
	require.NoError(t, err)
	assert.Equal(t, "world", string(content))
}

func TestFilesystemReadMissingFile(t *testing.T) {
	_, err := fsExecute(t, t.TempDir(), "read", map[string]any{"path": "nope.txt"})
	require.Error(t, err)
	assert.Equal(t, "file not found", engine.MessageOf(err))
}

func TestFilesystemRejectsTraversal(t *testing.T) {
	base := t.TempDir()
	outside := filepath.Join(filepath.Dir(base), "secret.txt")
	require.NoError(t, os.WriteFile(outside, []byte("secret"), 0o644))

	for _, action := range []string{"list", "read"} {
		for _, path := range []string{"..", "../secret.txt", "sub/../../secret.txt"} {
			_, err := fsExecute(t, base, action, map[string]any{"path": path})
			require.Error(t, err, "%s %s must be rejected", action, path)
			assert.Equal(t, "path outside of allowed base", engine.MessageOf(err))
		}
	}
}
