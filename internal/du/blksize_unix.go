//go:build unix

package du

import (
	"io/fs"
	"syscall"
)

func blockSize(info fs.FileInfo) int64 {
	if st, ok := info.Sys().(*syscall.Stat_t); ok {
		return int64(st.Blksize)
	}
	return 0
}
