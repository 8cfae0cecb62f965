package service

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/iconidentify/clipvault/internal/config"
	"github.com/iconidentify/clipvault/internal/domain"
)

const testMaxBytes = 10 * 1024 * 1024

func testEncodeConfig() config.EncodeConfig {
	return config.EncodeConfig{
		MaxBytes:      testMaxBytes,
		AudioBitrate:  128000,
		VideoCodec:    "libx264",
		Preset:        "medium",
		MaxConcurrent: 1,
	}
}

// writeClip creates a placeholder file that claims to be size bytes.
func writeClip(t *testing.T, name string, size int64) *domain.LocalFile {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	if err := os.WriteFile(path, []byte("clip"), 0644); err != nil {
		t.Fatalf("write clip: %v", err)
	}
	return &domain.LocalFile{Path: path, SizeBytes: size}
}

func TestTargetVideoBitrate(t *testing.T) {
	tests := []struct {
		name     string
		maxBytes int64
		audio    int64
		duration int64
		want     int64
	}{
		{"ten MiB over a minute", testMaxBytes, 128000, 60, testMaxBytes*8/60 - 128000},
		{"exact value", testMaxBytes, 128000, 60, 1270101},
		{"floor before subtracting audio", 1000, 0, 3, 2666},
		{"too long", testMaxBytes, 128000, 700, -8163},
		{"zero duration", testMaxBytes, 128000, 0, 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := TargetVideoBitrate(tt.maxBytes, tt.audio, tt.duration); got != tt.want {
				t.Errorf("TargetVideoBitrate() = %d, want %d", got, tt.want)
			}
		})
	}
}

func TestSizeEnforcer_PassThrough(t *testing.T) {
	enc := &fakeEncoder{duration: 60}
	e := NewSizeEnforcer(enc, testEncodeConfig(), testLogger())

	for _, size := range []int64{1, testMaxBytes} {
		file := writeClip(t, "small.webm", size)

		got, err := e.Enforce(context.Background(), file)
		if err != nil {
			t.Fatalf("Enforce failed: %v", err)
		}
		if got != file {
			t.Errorf("size %d: Enforce should return the input unchanged", size)
		}
	}
	if enc.probes != 0 || len(enc.encodes) != 0 {
		t.Errorf("no subprocess should run, got %d probes and %d encodes", enc.probes, len(enc.encodes))
	}
}

func TestSizeEnforcer_ReencodesWithRoundedDuration(t *testing.T) {
	enc := &fakeEncoder{duration: 59.2, outSize: 9 * 1024 * 1024}
	e := NewSizeEnforcer(enc, testEncodeConfig(), testLogger())
	file := writeClip(t, "big.webm", testMaxBytes+1)

	got, err := e.Enforce(context.Background(), file)
	if err != nil {
		t.Fatalf("Enforce failed: %v", err)
	}

	if len(enc.encodes) != 1 {
		t.Fatalf("encodes = %d, want 1", len(enc.encodes))
	}
	if want := TargetVideoBitrate(testMaxBytes, 128000, 60); enc.encodes[0].VideoBitrate != want {
		t.Errorf("VideoBitrate = %d, want %d (duration rounded up)", enc.encodes[0].VideoBitrate, want)
	}
	if enc.encodes[0].AudioBitrate != 128000 {
		t.Errorf("AudioBitrate = %d, want 128000", enc.encodes[0].AudioBitrate)
	}

	if filepath.Ext(got.Path) != ".mp4" {
		t.Errorf("output = %q, want .mp4", got.Path)
	}
	if got.SizeBytes != 9*1024*1024 {
		t.Errorf("SizeBytes = %d, want %d", got.SizeBytes, 9*1024*1024)
	}
	if _, err := os.Stat(file.Path); !os.IsNotExist(err) {
		t.Error("pre-encode file should be deleted after a successful encode")
	}
}

func TestSizeEnforcer_DurationTooLong(t *testing.T) {
	enc := &fakeEncoder{duration: 3600}
	e := NewSizeEnforcer(enc, testEncodeConfig(), testLogger())
	file := writeClip(t, "long.webm", testMaxBytes+1)

	_, err := e.Enforce(context.Background(), file)
	if !errors.Is(err, domain.ErrDurationTooLong) {
		t.Fatalf("error = %v, want ErrDurationTooLong", err)
	}
	if len(enc.encodes) != 0 {
		t.Error("no encode should run")
	}
	if _, err := os.Stat(file.Path); err != nil {
		t.Error("original should be kept")
	}
}

func TestSizeEnforcer_EncodeFailures(t *testing.T) {
	tests := []struct {
		name string
		enc  *fakeEncoder
	}{
		{"probe fails", &fakeEncoder{probeErr: errExit}},
		{"encoder exits non-zero", &fakeEncoder{duration: 30, encodeErr: errExit, outSize: 100}},
		{"output still oversized", &fakeEncoder{duration: 30, outSize: testMaxBytes + 1}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			e := NewSizeEnforcer(tt.enc, testEncodeConfig(), testLogger())
			file := writeClip(t, "big.webm", testMaxBytes+1)

			_, err := e.Enforce(context.Background(), file)
			if !errors.Is(err, domain.ErrEncodeFailed) {
				t.Fatalf("error = %v, want ErrEncodeFailed", err)
			}
			if _, err := os.Stat(file.Path); err != nil {
				t.Error("original should be kept after a failed encode")
			}
			if _, err := os.Stat(encodedPath(file.Path)); !os.IsNotExist(err) {
				t.Error("partial output should be removed")
			}
		})
	}
}

func TestSizeEnforcer_CanceledWhileWaitingForSlot(t *testing.T) {
	enc := &fakeEncoder{duration: 30, outSize: 100}
	e := NewSizeEnforcer(enc, testEncodeConfig(), testLogger())

	// Occupy the only slot.
	if err := e.slots.Acquire(context.Background(), 1); err != nil {
		t.Fatalf("acquire: %v", err)
	}
	defer e.slots.Release(1)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := e.Enforce(ctx, writeClip(t, "big.webm", testMaxBytes+1))
	if !errors.Is(err, domain.ErrEncodeFailed) {
		t.Errorf("error = %v, want ErrEncodeFailed", err)
	}
	if !errors.Is(err, context.Canceled) {
		t.Errorf("error = %v, should wrap context.Canceled", err)
	}
	var ee *domain.EnforcementError
	if !errors.As(err, &ee) || ee.Kind != domain.EnforcementEncodeFailed {
		t.Errorf("error = %#v, want EnforcementError(EncodeFailed)", err)
	}
	if len(enc.encodes) != 0 {
		t.Error("encode should not start without a slot")
	}
}

func TestEncodedPath(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"/w/1.webm", "/w/1.mp4"},
		{"/w/abc.mp4", "/w/abc-small.mp4"},
		{"/w/noext", "/w/noext.mp4"},
	}

	for _, tt := range tests {
		if got := encodedPath(tt.in); got != tt.want {
			t.Errorf("encodedPath(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}
