package handler

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/iconidentify/clipvault/internal/repository"
	"github.com/iconidentify/clipvault/internal/service"
)

type mockStatsProvider struct {
	stats *service.Stats
	err   error
}

func (m *mockStatsProvider) Stats(ctx context.Context) (*service.Stats, error) {
	return m.stats, m.err
}

func newMockStatsProvider() *mockStatsProvider {
	return &mockStatsProvider{stats: &service.Stats{
		Queue: &repository.QueueStats{Queued: 5, Processing: 2, Completed: 100, Skipped: 7, Failed: 3},
		Dedup: &repository.DedupStats{Communities: 2, Keys: 40},
	}}
}

func TestHealthHandler_Live(t *testing.T) {
	handler := NewHealthHandler(newMockStatsProvider(), t.TempDir())

	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	w := httptest.NewRecorder()

	handler.Live(w, req)

	if w.Code != http.StatusOK {
		t.Errorf("status = %d, want %d", w.Code, http.StatusOK)
	}
	if ct := w.Header().Get("Content-Type"); ct != "application/json" {
		t.Errorf("Content-Type = %q, want %q", ct, "application/json")
	}

	var resp HealthResponse
	if err := json.NewDecoder(w.Body).Decode(&resp); err != nil {
		t.Fatalf("failed to decode response: %v", err)
	}
	if resp.Status != "ok" {
		t.Errorf("status = %q, want %q", resp.Status, "ok")
	}
	if resp.Timestamp == "" {
		t.Error("timestamp should not be empty")
	}
}

func TestHealthHandler_Ready_Success(t *testing.T) {
	handler := NewHealthHandler(newMockStatsProvider(), t.TempDir())

	req := httptest.NewRequest(http.MethodGet, "/ready", nil)
	w := httptest.NewRecorder()

	handler.Ready(w, req)

	if w.Code != http.StatusOK {
		t.Errorf("status = %d, want %d", w.Code, http.StatusOK)
	}

	var resp HealthResponse
	if err := json.NewDecoder(w.Body).Decode(&resp); err != nil {
		t.Fatalf("failed to decode response: %v", err)
	}

	if resp.Queue == nil || resp.Dedup == nil {
		t.Fatalf("queue and dedup stats should be set: %+v", resp)
	}
	if resp.Queue.Queued != 5 || resp.Queue.Skipped != 7 || resp.Queue.Failed != 3 {
		t.Errorf("queue = %+v", resp.Queue)
	}
	if resp.Dedup.Keys != 40 || resp.Dedup.Communities != 2 {
		t.Errorf("dedup = %+v", resp.Dedup)
	}
}

func TestHealthHandler_Ready_Error(t *testing.T) {
	handler := NewHealthHandler(&mockStatsProvider{err: errors.New("database is locked")}, t.TempDir())

	req := httptest.NewRequest(http.MethodGet, "/ready", nil)
	w := httptest.NewRecorder()

	handler.Ready(w, req)

	if w.Code != http.StatusServiceUnavailable {
		t.Errorf("status = %d, want %d", w.Code, http.StatusServiceUnavailable)
	}

	var resp HealthResponse
	if err := json.NewDecoder(w.Body).Decode(&resp); err != nil {
		t.Fatalf("failed to decode response: %v", err)
	}
	if resp.Status != "error" {
		t.Errorf("status = %q, want %q", resp.Status, "error")
	}
}

func TestHealthHandler_Stats(t *testing.T) {
	dir := t.TempDir()
	handler := NewHealthHandler(newMockStatsProvider(), dir)

	req := httptest.NewRequest(http.MethodGet, "/api/v1/stats", nil)
	w := httptest.NewRecorder()

	handler.Stats(w, req)

	if w.Code != http.StatusOK {
		t.Errorf("status = %d, want %d", w.Code, http.StatusOK)
	}

	var stats SystemStats
	if err := json.NewDecoder(w.Body).Decode(&stats); err != nil {
		t.Fatalf("failed to decode response: %v", err)
	}

	if stats.NumCPU <= 0 || stats.NumGoroutines <= 0 {
		t.Errorf("runtime stats missing: %+v", stats)
	}
	if stats.TempPath != dir {
		t.Errorf("TempPath = %q, want %q", stats.TempPath, dir)
	}
	if stats.DiskTotalBytes <= 0 {
		t.Error("disk total should be reported for the temp dir")
	}
	if stats.Queue == nil || stats.Queue.Completed != 100 {
		t.Errorf("queue = %+v", stats.Queue)
	}
}

func TestHealthHandler_Stats_PipelineUnavailable(t *testing.T) {
	handler := NewHealthHandler(&mockStatsProvider{err: errors.New("closed")}, t.TempDir())

	req := httptest.NewRequest(http.MethodGet, "/api/v1/stats", nil)
	w := httptest.NewRecorder()

	handler.Stats(w, req)

	if w.Code != http.StatusOK {
		t.Errorf("status = %d, want %d", w.Code, http.StatusOK)
	}
	var stats SystemStats
	json.NewDecoder(w.Body).Decode(&stats)
	if stats.Queue != nil {
		t.Error("queue stats should be omitted when unavailable")
	}
}

func TestFormatUptime(t *testing.T) {
	tests := []struct {
		d    time.Duration
		want string
	}{
		{5 * time.Minute, "5m"},
		{2*time.Hour + 3*time.Minute, "2h 3m"},
		{50*time.Hour + 1*time.Minute, "2d 2h 1m"},
	}

	for _, tt := range tests {
		if got := formatUptime(tt.d); got != tt.want {
			t.Errorf("formatUptime(%v) = %q, want %q", tt.d, got, tt.want)
		}
	}
}

func TestCPUPercentSince(t *testing.T) {
	cpuMu.Lock()
	cpuInitialized = false
	cpuMu.Unlock()

	base := time.Now()
	if got := cpuPercentSince(time.Second, base); got != 0 {
		t.Errorf("first call = %v, want 0", got)
	}
	if got := cpuPercentSince(1500*time.Millisecond, base.Add(time.Second)); got != 50 {
		t.Errorf("half a core = %v, want 50", got)
	}
	if got := cpuPercentSince(5*time.Second, base.Add(2*time.Second)); got != 100 {
		t.Errorf("clamped = %v, want 100", got)
	}
}
