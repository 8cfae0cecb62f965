//go:build !windows

package service

import (
	"os"
	"syscall"
)

// freeDiskSpace returns the bytes available to unprivileged users on the
// filesystem holding path. ok is false when the value cannot be read.
func freeDiskSpace(path string) (free int64, ok bool) {
	stat, err := os.Stat(path)
	if err != nil || !stat.IsDir() {
		return 0, false
	}

	var fs syscall.Statfs_t
	if err := syscall.Statfs(path, &fs); err != nil {
		return 0, false
	}

	return int64(fs.Bavail) * int64(fs.Bsize), true
}
