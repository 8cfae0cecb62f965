//go:build windows

package handler

import (
	"time"

	"golang.org/x/sys/windows"
)

// getDiskStats returns disk usage statistics for the volume holding path.
func getDiskStats(path string) (total, free, used int64, usedPct float64) {
	ptr, err := windows.UTF16PtrFromString(path)
	if err != nil {
		return
	}

	var freeBytes, totalBytes, totalFreeBytes uint64
	if err := windows.GetDiskFreeSpaceEx(ptr, &freeBytes, &totalBytes, &totalFreeBytes); err != nil {
		return
	}

	total = int64(totalBytes)
	free = int64(freeBytes)
	used = total - int64(totalFreeBytes)
	if total > 0 {
		usedPct = float64(used) / float64(total) * 100
	}
	return
}

// getCPUUsage returns the CPU usage percentage for this process since the
// last call, from kernel and user times.
func getCPUUsage() float64 {
	var creation, exit, kernel, user windows.Filetime
	if err := windows.GetProcessTimes(windows.CurrentProcess(), &creation, &exit, &kernel, &user); err != nil {
		return 0
	}
	// Filetime counts 100ns intervals.
	total := time.Duration((filetimeTicks(kernel) + filetimeTicks(user)) * 100)
	return cpuPercentSince(total, time.Now())
}

func filetimeTicks(ft windows.Filetime) int64 {
	return int64(ft.HighDateTime)<<32 | int64(ft.LowDateTime)
}
