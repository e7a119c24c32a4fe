// Package du measures the on-disk footprint of directory trees.
package du

import (
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
)

// Estimator sums max(blksize, size) over every non-directory entry below a root.
type Estimator struct {
	lstat     func(string) (fs.FileInfo, error)
	readDir   func(string) ([]os.DirEntry, error)
	blockSize func(fs.FileInfo) int64
}

// New returns an Estimator backed by the real filesystem.
func New() *Estimator {
	return &Estimator{
		lstat:     os.Lstat,
		readDir:   os.ReadDir,
		blockSize: blockSize,
	}
}

// Size returns the total footprint of root in bytes. It walks level by level
// with an explicit frontier; any error aborts the walk with no partial result.
func (e *Estimator) Size(root string) (int64, error) {
	var total int64
	frontier := []string{root}
	for len(frontier) > 0 {
		var next []string
		for _, path := range frontier {
			info, err := e.lstat(path)
			if err != nil {
				return 0, fmt.Errorf("stat %s: %w", path, err)
			}
			if !info.IsDir() {
				total += max(e.blockSize(info), info.Size())
				continue
			}
			entries, err := e.readDir(path)
			if err != nil {
				return 0, fmt.Errorf("read dir %s: %w", path, err)
			}
			for _, entry := range entries {
				next = append(next, filepath.Join(path, entry.Name()))
			}
		}
		frontier = next
	}
	return total, nil
}
