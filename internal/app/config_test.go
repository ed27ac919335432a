package app

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestWriteDefaultConfig_CreatesOnlyWhenMissing(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")

	require.NoError(t, WriteDefaultConfig(path))
	b, err := os.ReadFile(path)
	require.NoError(t, err)
	require.Equal(t, defaultConfig, string(b))

	custom := []byte("max_retries: 9\n")
	require.NoError(t, os.WriteFile(path, custom, 0o600))

	require.NoError(t, WriteDefaultConfig(path))
	b, err = os.ReadFile(path)
	require.NoError(t, err)
	require.Equal(t, string(custom), string(b))
}
