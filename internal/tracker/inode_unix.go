//go:build linux || darwin

package tracker

import (
	"os"
	"syscall"
)

// inodeOf extracts the inode number from a os.FileInfo backed by a
// syscall.Stat_t, which every platform LOGify targets provides.
func inodeOf(info os.FileInfo) uint64 {
	if st, ok := info.Sys().(*syscall.Stat_t); ok {
		return uint64(st.Ino)
	}
	return 0
}
