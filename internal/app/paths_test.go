package app

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func chdir(t *testing.T, dir string) {
	t.Helper()
	oldwd, err := os.Getwd()
	require.NoError(t, err)
	require.NoError(t, os.Chdir(dir))
	t.Cleanup(func() { _ = os.Chdir(oldwd) })
}

func TestFindProjectRoot_WalksUpward(t *testing.T) {
	root := t.TempDir()
	require.NoError(t, os.MkdirAll(filepath.Join(root, AquaDirName), 0o700))

	nested := filepath.Join(root, "a", "b", "c")
	require.NoError(t, os.MkdirAll(nested, 0o755))
	chdir(t, nested)

	found, ok, err := FindProjectRoot()
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, root, found)
}

func TestFindProjectRoot_NotFound(t *testing.T) {
	dir := t.TempDir()
	chdir(t, dir)

	_, ok, err := FindProjectRoot()
	require.NoError(t, err)
	require.False(t, ok)
}

func TestEnsureAquaDir_CreatesDirAndSessions(t *testing.T) {
	dir := t.TempDir()
	chdir(t, dir)

	aquaDir, err := EnsureAquaDir()
	require.NoError(t, err)
	require.DirExists(t, aquaDir)
	require.DirExists(t, SessionsDir(aquaDir))

	info, err := os.Stat(aquaDir)
	require.NoError(t, err)
	require.Equal(t, os.FileMode(0o700), info.Mode().Perm())
}

func TestRequireAquaDir_ErrorsWhenMissing(t *testing.T) {
	dir := t.TempDir()
	chdir(t, dir)

	_, err := RequireAquaDir()
	require.ErrorIs(t, err, ErrNotInitialized)
}

func TestRequireAquaDir_SucceedsWhenPresent(t *testing.T) {
	dir := t.TempDir()
	chdir(t, dir)

	aquaDir, err := EnsureAquaDir()
	require.NoError(t, err)

	found, err := RequireAquaDir()
	require.NoError(t, err)
	require.Equal(t, aquaDir, found)
}

func TestDBPathAndSessionsDirAndConfigPath(t *testing.T) {
	require.Equal(t, filepath.Join("x", "aqua.db"), DBPath("x"))
	require.Equal(t, filepath.Join("x", "sessions"), SessionsDir("x"))
	require.Equal(t, filepath.Join("x", "config.yaml"), ConfigPath("x"))
}
