package util

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeTool drops a file under a fresh temp dir with the given mode and
// returns its path.
func fakeTool(t *testing.T, mode os.FileMode) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "tool")
	require.NoError(t, os.WriteFile(path, []byte("#!/bin/sh\n"), 0o644))
	require.NoError(t, os.Chmod(path, mode))
	return path
}

func TestFindBinary(t *testing.T) {
	t.Run("env override wins even over PATH", func(t *testing.T) {
		tool := fakeTool(t, 0o755)
		t.Setenv("TTSHUB_TOOL_OVERRIDE", tool)

		got, err := FindBinary("ls", "TTSHUB_TOOL_OVERRIDE")
		require.NoError(t, err)
		assert.Equal(t, tool, got)
	})

	t.Run("falls back to PATH", func(t *testing.T) {
		got, err := FindBinary("ls", "")
		require.NoError(t, err)
		assert.Contains(t, got, "ls")
	})

	t.Run("missing everywhere", func(t *testing.T) {
		_, err := FindBinary("definitely-not-a-real-tool-4717", "")
		require.Error(t, err)
		assert.Contains(t, err.Error(), "not found")
	})

	t.Run("unusable overrides fall through to PATH", func(t *testing.T) {
		for name, path := range map[string]string{
			"missing file":   filepath.Join(t.TempDir(), "gone"),
			"not executable": fakeTool(t, 0o644),
			"directory":      t.TempDir(),
		} {
			t.Setenv("TTSHUB_TOOL_OVERRIDE", path)
			got, err := FindBinary("ls", "TTSHUB_TOOL_OVERRIDE")
			require.NoError(t, err, name)
			assert.NotEqual(t, path, got, name)
		}
	})
}

func TestResolveBinary(t *testing.T) {
	t.Run("configured path wins", func(t *testing.T) {
		tool := fakeTool(t, 0o755)
		got, err := ResolveBinary(tool, "ls", "")
		require.NoError(t, err)
		assert.Equal(t, tool, got)
	})

	t.Run("configured path must be executable", func(t *testing.T) {
		_, err := ResolveBinary(fakeTool(t, 0o644), "ls", "")
		require.Error(t, err)
		assert.Contains(t, err.Error(), "not executable")
	})

	t.Run("empty config defers to discovery", func(t *testing.T) {
		got, err := ResolveBinary("", "ls", "")
		require.NoError(t, err)
		assert.Contains(t, got, "ls")
	})
}
