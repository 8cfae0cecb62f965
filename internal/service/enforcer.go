package service

import (
	"context"
	"fmt"
	"log/slog"
	"math"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"time"

	"golang.org/x/sync/semaphore"

	"github.com/iconidentify/clipvault/internal/config"
	"github.com/iconidentify/clipvault/internal/domain"
	"github.com/iconidentify/clipvault/internal/metrics"
	"github.com/iconidentify/clipvault/pkg/ffmpeg"
)

// VideoEncoder probes and re-encodes media files.
type VideoEncoder interface {
	GetVideoInfo(ctx context.Context, videoPath string) (*ffmpeg.VideoInfo, error)
	TwoPassEncode(ctx context.Context, input, output string, cfg ffmpeg.EncodeConfig) error
}

// SizeEnforcer keeps delivered files within the size budget.
type SizeEnforcer struct {
	encoder VideoEncoder
	budget  domain.SizeBudget
	cfg     config.EncodeConfig
	slots   *semaphore.Weighted
	logger  *slog.Logger
}

// NewSizeEnforcer creates an enforcer. Concurrent encodes are capped at
// cfg.MaxConcurrent, or half the CPU count when unset.
func NewSizeEnforcer(encoder VideoEncoder, cfg config.EncodeConfig, logger *slog.Logger) *SizeEnforcer {
	limit := cfg.MaxConcurrent
	if limit <= 0 {
		limit = max(1, runtime.NumCPU()/2)
	}

	return &SizeEnforcer{
		encoder: encoder,
		budget: domain.SizeBudget{
			MaxBytes:         cfg.MaxBytes,
			AudioBitrateBits: cfg.AudioBitrate,
		},
		cfg:    cfg,
		slots:  semaphore.NewWeighted(int64(limit)),
		logger: logger,
	}
}

// Budget returns the size policy in effect.
func (e *SizeEnforcer) Budget() domain.SizeBudget {
	return e.budget
}

// TargetVideoBitrate returns the video bitrate in bits per second that fits
// maxBytes over durationSeconds after reserving audioBits for audio. A
// result <= 0 means no video bitrate fits.
func TargetVideoBitrate(maxBytes, audioBits, durationSeconds int64) int64 {
	if durationSeconds <= 0 {
		return 0
	}
	return maxBytes*8/durationSeconds - audioBits
}

// Enforce returns file unchanged when it fits the budget. Otherwise it
// re-encodes file next to itself and returns the replacement; the original
// is deleted only after the encode succeeded.
func (e *SizeEnforcer) Enforce(ctx context.Context, file *domain.LocalFile) (*domain.LocalFile, error) {
	if e.budget.Fits(file.SizeBytes) {
		return file, nil
	}

	info, err := e.encoder.GetVideoInfo(ctx, file.Path)
	if err != nil {
		return nil, &domain.EnforcementError{Kind: domain.EnforcementEncodeFailed, Err: fmt.Errorf("probe duration: %w", err)}
	}

	// Round up so the budget errs on the small side.
	duration := int64(math.Ceil(info.Duration))
	bitrate := TargetVideoBitrate(e.budget.MaxBytes, e.budget.AudioBitrateBits, duration)
	if bitrate <= 0 {
		return nil, &domain.EnforcementError{
			Kind: domain.EnforcementDurationTooLong,
			Err:  fmt.Errorf("%ds at %d bytes leaves no video bitrate", duration, e.budget.MaxBytes),
		}
	}

	if err := e.slots.Acquire(ctx, 1); err != nil {
		return nil, &domain.EnforcementError{Kind: domain.EnforcementEncodeFailed, Err: fmt.Errorf("wait for encode slot: %w", err)}
	}
	metrics.EncodeStarted()
	defer func() {
		metrics.EncodeFinished()
		e.slots.Release(1)
	}()

	encodeCtx := ctx
	if e.cfg.Timeout > 0 {
		var cancel context.CancelFunc
		encodeCtx, cancel = context.WithTimeout(ctx, e.cfg.Timeout)
		defer cancel()
	}

	output := encodedPath(file.Path)
	logger := e.logger.With("input", file.Path, "size_bytes", file.SizeBytes, "duration_s", duration, "video_bitrate", bitrate)
	logger.Info("re-encoding oversized clip")

	start := time.Now()
	err = e.encoder.TwoPassEncode(encodeCtx, file.Path, output, ffmpeg.EncodeConfig{
		VideoBitrate: bitrate,
		AudioBitrate: e.budget.AudioBitrateBits,
		VideoCodec:   e.cfg.VideoCodec,
		Preset:       e.cfg.Preset,
		PassLogFile:  strings.TrimSuffix(output, filepath.Ext(output)) + "-2pass",
	})
	if err == nil {
		err = e.checkOutput(output)
	}
	metrics.RecordEncode(time.Since(start), err)
	if err != nil {
		os.Remove(output)
		return nil, &domain.EnforcementError{Kind: domain.EnforcementEncodeFailed, Err: err}
	}

	stat, err := os.Stat(output)
	if err != nil {
		return nil, &domain.EnforcementError{Kind: domain.EnforcementEncodeFailed, Err: err}
	}

	if err := os.Remove(file.Path); err != nil {
		logger.Warn("failed to remove pre-encode file", "error", err)
	}

	logger.Info("re-encode complete", "output", output, "output_bytes", stat.Size(), "elapsed", time.Since(start))

	return &domain.LocalFile{
		Path:            output,
		SizeBytes:       stat.Size(),
		DurationSeconds: info.Duration,
	}, nil
}

// checkOutput rejects a missing or still oversized encode.
func (e *SizeEnforcer) checkOutput(path string) error {
	stat, err := os.Stat(path)
	if err != nil {
		return fmt.Errorf("encoded output: %w", err)
	}
	if !e.budget.Fits(stat.Size()) {
		return fmt.Errorf("encoded output is %d bytes, over budget of %d", stat.Size(), e.budget.MaxBytes)
	}
	return nil
}

// encodedPath returns the mp4 path for an encode of input.
func encodedPath(input string) string {
	base := strings.TrimSuffix(input, filepath.Ext(input))
	out := base + ".mp4"
	if out == input {
		out = base + "-small.mp4"
	}
	return out
}
