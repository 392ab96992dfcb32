package filex

import (
	"os"
	"path/filepath"
	"runtime"
	"testing"

	"github.com/stretchr/testify/require"
)

func chdir(t *testing.T, dir string) func() {
	t.Helper()
	old, err := os.Getwd()
	require.NoError(t, err)
	require.NoError(t, os.Chdir(dir))
	return func() { _ = os.Chdir(old) }
}

func TestEnsureDir_RelativeResolvesAgainstCWD(t *testing.T) {
	tmp := t.TempDir()
	defer chdir(t, tmp)()

	got, err := EnsureDir(filepath.Join(".datavis", "kv"))
	require.NoError(t, err)

	want := filepath.Join(tmp, ".datavis", "kv")
	require.Equal(t, want, got)

	fi, err := os.Stat(want)
	require.NoError(t, err)
	require.True(t, fi.IsDir(), "should create a directory")

	if runtime.GOOS != "windows" {
		require.Equal(t, os.FileMode(0o700), fi.Mode().Perm()&0o700)
	}
}

func TestEnsureDir_AbsoluteAndIdempotent(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "data")

	first, err := EnsureDir(dir)
	require.NoError(t, err)
	require.Equal(t, dir, first)

	second, err := EnsureDir(dir)
	require.NoError(t, err)
	require.Equal(t, first, second)
}

func TestEnsureDir_FailsIfFileWithSameNameExists(t *testing.T) {
	p := filepath.Join(t.TempDir(), "data")
	require.NoError(t, os.WriteFile(p, []byte("x"), 0o600))

	_, err := EnsureDir(p)
	require.Error(t, err, "should fail when a file exists with the same name")
}
