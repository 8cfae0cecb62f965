package classifier

import (
	"testing"

	"github.com/iconidentify/clipvault/internal/config"
	"github.com/iconidentify/clipvault/internal/domain"
)

func newTestClassifier(t *testing.T) *Classifier {
	t.Helper()
	c, err := New(config.ClassifierConfig{})
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}
	return c
}

func TestNew_InvalidRules(t *testing.T) {
	tests := []struct {
		name string
		rule config.RuleConfig
	}{
		{"unknown backend", config.RuleConfig{Backend: "ftp", Pattern: "^ftp://"}},
		{"bad regexp", config.RuleConfig{Backend: "direct", Pattern: "(["}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := New(config.ClassifierConfig{Rules: []config.RuleConfig{tt.rule}})
			if err == nil {
				t.Error("New should fail")
			}
		})
	}
}

func TestClassify(t *testing.T) {
	c := newTestClassifier(t)

	tests := []struct {
		name        string
		text        string
		wantOK      bool
		wantBackend domain.Backend
		wantURL     string
		wantKey     string
	}{
		{
			name:        "direct webm",
			text:        "lol https://i.4cdn.org/wsg/1700000000123.webm",
			wantOK:      true,
			wantBackend: domain.BackendDirectStream,
			wantURL:     "https://i.4cdn.org/wsg/1700000000123.webm",
			wantKey:     "1700000000123.webm",
		},
		{
			name:        "direct mp4 with query",
			text:        "https://i.4cdn.org/gif/55.mp4?download=1",
			wantOK:      true,
			wantBackend: domain.BackendDirectStream,
			wantURL:     "https://i.4cdn.org/gif/55.mp4?download=1",
			wantKey:     "55.mp4",
		},
		{
			name:   "direct host without media extension",
			text:   "https://i.4cdn.org/g/123.jpg",
			wantOK: false,
		},
		{
			name:        "media extension elsewhere in message qualifies",
			text:        "https://i.4cdn.org/g/123 (it's a .webm)",
			wantOK:      true,
			wantBackend: domain.BackendDirectStream,
			wantKey:     "123",
			wantURL:     "https://i.4cdn.org/g/123",
		},
		{
			name:        "first match wins",
			text:        "https://i.4cdn.org/a/123.webm https://i.4cdn.org/a/456.webm",
			wantOK:      true,
			wantBackend: domain.BackendDirectStream,
			wantURL:     "https://i.4cdn.org/a/123.webm",
			wantKey:     "123.webm",
		},
		{
			name:        "extractor tweet",
			text:        "check this https://x.com/someone/status/1790000000000000000",
			wantOK:      true,
			wantBackend: domain.BackendExtractor,
			wantURL:     "https://x.com/someone/status/1790000000000000000",
			wantKey:     "status/1790000000000000000",
		},
		{
			name:        "extractor trailing slash stripped",
			text:        "https://www.reddit.com/r/videos/comments/abc123/funny_clip/",
			wantOK:      true,
			wantBackend: domain.BackendExtractor,
			wantURL:     "https://www.reddit.com/r/videos/comments/abc123/funny_clip/",
			wantKey:     "abc123/funny_clip",
		},
		{
			name:        "extractor before direct",
			text:        "https://youtube.com/shorts/AbCdEf https://i.4cdn.org/a/1.webm",
			wantOK:      true,
			wantBackend: domain.BackendExtractor,
			wantURL:     "https://youtube.com/shorts/AbCdEf",
			wantKey:     "shorts/AbCdEf",
		},
		{
			name:        "embed suppression brackets",
			text:        "<https://i.4cdn.org/a/9.webm>",
			wantOK:      true,
			wantBackend: domain.BackendDirectStream,
			wantURL:     "https://i.4cdn.org/a/9.webm",
			wantKey:     "9.webm",
		},
		{
			name:   "no links",
			text:   "just chatting about webm files",
			wantOK: false,
		},
		{
			name:   "unrelated link",
			text:   "https://example.com/video.mp4",
			wantOK: false,
		},
		{
			name:   "empty",
			text:   "",
			wantOK: false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, ok := c.Classify(tt.text)
			if ok != tt.wantOK {
				t.Fatalf("Classify(%q) ok = %v, want %v", tt.text, ok, tt.wantOK)
			}
			if !ok {
				return
			}
			if got.Backend != tt.wantBackend {
				t.Errorf("Backend = %q, want %q", got.Backend, tt.wantBackend)
			}
			if got.URL != tt.wantURL {
				t.Errorf("URL = %q, want %q", got.URL, tt.wantURL)
			}
			if got.DedupKey != tt.wantKey {
				t.Errorf("DedupKey = %q, want %q", got.DedupKey, tt.wantKey)
			}
		})
	}
}

func TestClassify_FailsClosedOnUnusableKey(t *testing.T) {
	c, err := New(config.ClassifierConfig{
		Rules: []config.RuleConfig{{Backend: "extractor", Pattern: `^https://clips\.example\.com`}},
	})
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}

	if _, ok := c.Classify("https://clips.example.com/"); ok {
		t.Error("a link without a path should not produce a candidate")
	}
}

func TestDedupKey(t *testing.T) {
	tests := []struct {
		name    string
		backend domain.Backend
		url     string
		want    string
		wantOK  bool
	}{
		{"direct tail", domain.BackendDirectStream, "https://i.4cdn.org/a/1.webm", "1.webm", true},
		{"direct strips query", domain.BackendDirectStream, "https://i.4cdn.org/a/1.webm?x=y", "1.webm", true},
		{"extractor parent/leaf", domain.BackendExtractor, "https://x.com/u/status/42", "status/42", true},
		{"extractor single segment", domain.BackendExtractor, "https://vm.tiktok.com/ZMabc/", "ZMabc", true},
		{"no host", domain.BackendDirectStream, "/a/1.webm", "", false},
		{"no path", domain.BackendExtractor, "https://x.com", "", false},
		{"unknown backend", domain.Backend("nope"), "https://x.com/a/b", "", false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, ok := DedupKey(tt.backend, tt.url)
			if ok != tt.wantOK || got != tt.want {
				t.Errorf("DedupKey(%q) = (%q, %v), want (%q, %v)", tt.url, got, ok, tt.want, tt.wantOK)
			}
		})
	}
}
