package api

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/iconidentify/clipvault/internal/api/handler"
	"github.com/iconidentify/clipvault/internal/metrics"
	"github.com/iconidentify/clipvault/internal/repository"
	"github.com/iconidentify/clipvault/internal/service"
)

type staticStats struct{}

func (staticStats) Stats(ctx context.Context) (*service.Stats, error) {
	return &service.Stats{
		Queue: &repository.QueueStats{Queued: 1},
		Dedup: &repository.DedupStats{Communities: 1, Keys: 3},
	}, nil
}

func newTestRouter(t *testing.T, apiKey string) http.Handler {
	t.Helper()
	return NewRouter(handler.NewHealthHandler(staticStats{}, t.TempDir()), apiKey)
}

func TestRouter_HealthRoutes(t *testing.T) {
	r := newTestRouter(t, "secret")

	for _, path := range []string{"/health", "/ready", "//ready"} {
		req := httptest.NewRequest(http.MethodGet, path, nil)
		w := httptest.NewRecorder()
		r.ServeHTTP(w, req)

		if w.Code != http.StatusOK {
			t.Errorf("GET %s status = %d, want %d", path, w.Code, http.StatusOK)
		}
	}
}

func TestRouter_Metrics(t *testing.T) {
	metrics.Init()
	metrics.RecordOutcome(metrics.OutcomeArchived)

	r := newTestRouter(t, "secret")

	req := httptest.NewRequest(http.MethodGet, "/metrics", nil)
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want %d", w.Code, http.StatusOK)
	}
	if !strings.Contains(w.Body.String(), "clipvault_pipeline_outcomes_total") {
		t.Error("metrics output should include pipeline outcomes")
	}
}

func TestRouter_StatsRequiresKey(t *testing.T) {
	r := newTestRouter(t, "secret")

	tests := []struct {
		name       string
		key        string
		wantStatus int
	}{
		{"no key", "", http.StatusUnauthorized},
		{"wrong key", "nope", http.StatusUnauthorized},
		{"valid key", "secret", http.StatusOK},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "/api/v1/stats", nil)
			if tt.key != "" {
				req.Header.Set("X-API-Key", tt.key)
			}
			w := httptest.NewRecorder()
			r.ServeHTTP(w, req)

			if w.Code != tt.wantStatus {
				t.Errorf("status = %d, want %d", w.Code, tt.wantStatus)
			}
		})
	}
}

func TestRouter_StatsOpenWithoutKey(t *testing.T) {
	r := newTestRouter(t, "")

	req := httptest.NewRequest(http.MethodGet, "/api/v1/stats", nil)
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Errorf("status = %d, want %d", w.Code, http.StatusOK)
	}
}
