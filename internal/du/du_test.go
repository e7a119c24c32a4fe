package du

import (
	"errors"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
)

func newTestEstimator(block int64) *Estimator {
	e := New()
	e.blockSize = func(fs.FileInfo) int64 { return block }
	return e
}

func writeFile(t *testing.T, path string, size int) {
	t.Helper()
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o750))
	require.NoError(t, os.WriteFile(path, make([]byte, size), 0o600))
}

func TestSizeEmptyDirectoryIsZero(t *testing.T) {
	t.Parallel()

	size, err := newTestEstimator(4096).Size(t.TempDir())
	require.NoError(t, err)
	require.Zero(t, size)
}

func TestSizeSingleFileRoot(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "only.bin")
	writeFile(t, path, 10)

	size, err := newTestEstimator(4096).Size(path)
	require.NoError(t, err)
	require.Equal(t, int64(4096), size)
}

func TestSizeTakesMaxOfBlockAndLogicalSize(t *testing.T) {
	t.Parallel()

	root := t.TempDir()
	writeFile(t, filepath.Join(root, "small.txt"), 100)
	writeFile(t, filepath.Join(root, "big.bin"), 10000)
	writeFile(t, filepath.Join(root, "empty"), 0)

	size, err := newTestEstimator(4096).Size(root)
	require.NoError(t, err)
	require.Equal(t, int64(4096+10000+4096), size)
}

func TestSizeDeepNesting(t *testing.T) {
	t.Parallel()

	root := t.TempDir()
	parts := make([]string, 0, 200)
	for i := 0; i < 200; i++ {
		parts = append(parts, "d")
	}
	deep := filepath.Join(root, strings.Join(parts, string(filepath.Separator)))
	writeFile(t, filepath.Join(deep, "leaf"), 1)
	writeFile(t, filepath.Join(root, "d", "mid"), 2048)

	size, err := newTestEstimator(1024).Size(root)
	require.NoError(t, err)
	require.Equal(t, int64(1024+2048), size)
}

func TestSizeIndependentOfOrder(t *testing.T) {
	t.Parallel()

	root := t.TempDir()
	writeFile(t, filepath.Join(root, "a", "1"), 5000)
	writeFile(t, filepath.Join(root, "b", "c", "2"), 7000)
	writeFile(t, filepath.Join(root, "z"), 3000)

	forward := newTestEstimator(4096)
	reversed := newTestEstimator(4096)
	reversed.readDir = func(path string) ([]os.DirEntry, error) {
		entries, err := os.ReadDir(path)
		for i, j := 0, len(entries)-1; i < j; i, j = i+1, j-1 {
			entries[i], entries[j] = entries[j], entries[i]
		}
		return entries, err
	}

	a, err := forward.Size(root)
	require.NoError(t, err)
	b, err := reversed.Size(root)
	require.NoError(t, err)
	require.Equal(t, a, b)
	require.Equal(t, int64(5000+7000+4096), a)
}

func TestSizeMissingRootFails(t *testing.T) {
	t.Parallel()

	_, err := New().Size(filepath.Join(t.TempDir(), "missing"))
	require.Error(t, err)
	require.True(t, errors.Is(err, fs.ErrNotExist))
}

func TestSizeReadDirErrorAbortsWalk(t *testing.T) {
	t.Parallel()

	root := t.TempDir()
	writeFile(t, filepath.Join(root, "sub", "f"), 1)

	boom := errors.New("permission denied")
	e := newTestEstimator(4096)
	e.readDir = func(path string) ([]os.DirEntry, error) {
		if filepath.Base(path) == "sub" {
			return nil, boom
		}
		return os.ReadDir(path)
	}

	size, err := e.Size(root)
	require.ErrorIs(t, err, boom)
	require.Zero(t, size)
}

func TestSizeRealBlockSize(t *testing.T) {
	t.Parallel()

	root := t.TempDir()
	writeFile(t, filepath.Join(root, "f"), 1)
	info, err := os.Lstat(filepath.Join(root, "f"))
	require.NoError(t, err)

	size, err := New().Size(root)
	require.NoError(t, err)
	require.Equal(t, max(blockSize(info), info.Size()), size)
}
