package handler

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"runtime"
	"time"

	"github.com/iconidentify/clipvault/internal/service"
)

var startTime = time.Now()

// StatsProvider reports pipeline statistics.
type StatsProvider interface {
	Stats(ctx context.Context) (*service.Stats, error)
}

// HealthHandler handles health check endpoints.
type HealthHandler struct {
	stats    StatsProvider
	tempPath string
}

// NewHealthHandler creates a new health handler. tempPath is the scratch
// directory whose disk usage is reported.
func NewHealthHandler(stats StatsProvider, tempPath string) *HealthHandler {
	return &HealthHandler{
		stats:    stats,
		tempPath: tempPath,
	}
}

// HealthResponse is the JSON response for health checks.
type HealthResponse struct {
	Status    string      `json:"status"`
	Timestamp string      `json:"timestamp"`
	Queue     *QueueStats `json:"queue,omitempty"`
	Dedup     *DedupStats `json:"dedup,omitempty"`
}

// QueueStats contains job queue statistics.
type QueueStats struct {
	Queued     int `json:"queued"`
	Processing int `json:"processing"`
	Completed  int `json:"completed"`
	Skipped    int `json:"skipped"`
	Failed     int `json:"failed"`
}

// DedupStats contains dedup index statistics.
type DedupStats struct {
	Communities int `json:"communities"`
	Keys        int `json:"keys"`
}

// Live handles GET /health - liveness probe.
func (h *HealthHandler) Live(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, HealthResponse{
		Status:    "ok",
		Timestamp: time.Now().UTC().Format(time.RFC3339),
	})
}

// Ready handles GET /ready - readiness probe.
func (h *HealthHandler) Ready(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()

	// Check the queue and dedup store are accessible
	stats, err := h.stats.Stats(ctx)
	if err != nil {
		writeJSON(w, http.StatusServiceUnavailable, HealthResponse{
			Status:    "error",
			Timestamp: time.Now().UTC().Format(time.RFC3339),
		})
		return
	}

	queue, dedup := convertStats(stats)
	writeJSON(w, http.StatusOK, HealthResponse{
		Status:    "ok",
		Timestamp: time.Now().UTC().Format(time.RFC3339),
		Queue:     queue,
		Dedup:     dedup,
	})
}

// SystemStats contains process and pipeline statistics.
type SystemStats struct {
	Uptime         int64       `json:"uptime_seconds"`
	UptimeHuman    string      `json:"uptime_human"`
	MemAllocMB     int64       `json:"mem_alloc_mb"`
	MemSysMB       int64       `json:"mem_sys_mb"`
	NumGoroutines  int         `json:"num_goroutines"`
	NumCPU         int         `json:"num_cpu"`
	CPUPercent     float64     `json:"cpu_percent"`
	DiskUsedBytes  int64       `json:"disk_used_bytes"`
	DiskFreeBytes  int64       `json:"disk_free_bytes"`
	DiskTotalBytes int64       `json:"disk_total_bytes"`
	DiskUsedPct    float64     `json:"disk_used_pct"`
	TempPath       string      `json:"temp_path"`
	Queue          *QueueStats `json:"queue,omitempty"`
	Dedup          *DedupStats `json:"dedup,omitempty"`
}

// Stats handles GET /api/v1/stats - system statistics.
func (h *HealthHandler) Stats(w http.ResponseWriter, r *http.Request) {
	var m runtime.MemStats
	runtime.ReadMemStats(&m)

	uptime := time.Since(startTime)

	stats := SystemStats{
		Uptime:        int64(uptime.Seconds()),
		UptimeHuman:   formatUptime(uptime),
		MemAllocMB:    int64(m.Alloc / 1024 / 1024),
		MemSysMB:      int64(m.Sys / 1024 / 1024),
		NumGoroutines: runtime.NumGoroutine(),
		NumCPU:        runtime.NumCPU(),
		CPUPercent:    getCPUUsage(),
		TempPath:      h.tempPath,
	}
	stats.DiskTotalBytes, stats.DiskFreeBytes, stats.DiskUsedBytes, stats.DiskUsedPct = getDiskStats(h.tempPath)

	if pipeline, err := h.stats.Stats(r.Context()); err == nil {
		stats.Queue, stats.Dedup = convertStats(pipeline)
	}

	writeJSON(w, http.StatusOK, stats)
}

func convertStats(s *service.Stats) (*QueueStats, *DedupStats) {
	var queue *QueueStats
	var dedup *DedupStats
	if s.Queue != nil {
		queue = &QueueStats{
			Queued:     s.Queue.Queued,
			Processing: s.Queue.Processing,
			Completed:  s.Queue.Completed,
			Skipped:    s.Queue.Skipped,
			Failed:     s.Queue.Failed,
		}
	}
	if s.Dedup != nil {
		dedup = &DedupStats{
			Communities: s.Dedup.Communities,
			Keys:        s.Dedup.Keys,
		}
	}
	return queue, dedup
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func formatUptime(d time.Duration) string {
	days := int(d.Hours() / 24)
	hours := int(d.Hours()) % 24
	mins := int(d.Minutes()) % 60

	if days > 0 {
		return fmt.Sprintf("%dd %dh %dm", days, hours, mins)
	}
	if hours > 0 {
		return fmt.Sprintf("%dh %dm", hours, mins)
	}
	return fmt.Sprintf("%dm", mins)
}
