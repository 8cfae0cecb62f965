package handler

import (
	"sync"
	"time"
)

// CPU tracking state for calculating delta between polls
var (
	cpuMu          sync.Mutex
	lastCPUTime    time.Duration // user + system time
	lastWallTime   time.Time
	cpuInitialized bool
)

// cpuPercentSince converts cumulative process CPU time into a percentage of
// one core over the wall time since the previous call. The first call
// returns 0. Values are clamped to [0, 100].
func cpuPercentSince(cpuTime time.Duration, now time.Time) float64 {
	cpuMu.Lock()
	defer cpuMu.Unlock()

	if !cpuInitialized {
		lastCPUTime = cpuTime
		lastWallTime = now
		cpuInitialized = true
		return 0
	}

	cpuDelta := cpuTime - lastCPUTime
	wallDelta := now.Sub(lastWallTime)

	lastCPUTime = cpuTime
	lastWallTime = now

	if wallDelta <= 0 {
		return 0
	}

	pct := float64(cpuDelta) / float64(wallDelta) * 100
	if pct > 100 {
		pct = 100
	}
	if pct < 0 {
		pct = 0
	}
	return pct
}
