//go:build windows

package service

import (
	"os"

	"golang.org/x/sys/windows"
)

// freeDiskSpace returns the bytes available to the caller on the volume
// holding path. ok is false when the value cannot be read.
func freeDiskSpace(path string) (free int64, ok bool) {
	stat, err := os.Stat(path)
	if err != nil || !stat.IsDir() {
		return 0, false
	}

	ptr, err := windows.UTF16PtrFromString(path)
	if err != nil {
		return 0, false
	}

	var freeBytes, totalBytes, totalFreeBytes uint64
	if err := windows.GetDiskFreeSpaceEx(ptr, &freeBytes, &totalBytes, &totalFreeBytes); err != nil {
		return 0, false
	}

	return int64(freeBytes), true
}
