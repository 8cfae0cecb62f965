package ffmpeg

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/iconidentify/clipvault/pkg/command"
)

// VideoProcessor handles video analysis and re-encoding using ffmpeg.
type VideoProcessor struct {
	ffmpegPath  string
	ffprobePath string
	runner      command.Runner
}

// NewVideoProcessor creates a new video processor. Binary names are
// resolved through PATH.
func NewVideoProcessor(ffmpegBin, ffprobeBin string) (*VideoProcessor, error) {
	ffmpegPath, err := exec.LookPath(ffmpegBin)
	if err != nil {
		return nil, fmt.Errorf("ffmpeg not found in PATH: %w", err)
	}

	ffprobePath, err := exec.LookPath(ffprobeBin)
	if err != nil {
		return nil, fmt.Errorf("ffprobe not found in PATH: %w", err)
	}

	return &VideoProcessor{
		ffmpegPath:  ffmpegPath,
		ffprobePath: ffprobePath,
		runner:      command.ExecRunner{},
	}, nil
}

// NewVideoProcessorWithRunner creates a processor that runs commands through
// runner without resolving binaries.
func NewVideoProcessorWithRunner(ffmpegPath, ffprobePath string, runner command.Runner) *VideoProcessor {
	return &VideoProcessor{
		ffmpegPath:  ffmpegPath,
		ffprobePath: ffprobePath,
		runner:      runner,
	}
}

// VideoInfo contains metadata about a video file.
type VideoInfo struct {
	Duration   float64 // Duration in seconds
	Width      int
	Height     int
	HasAudio   bool
	AudioCodec string
	VideoCodec string
	Bitrate    int64
	FileSize   int64
}

// GetVideoInfo extracts metadata from a video file.
func (p *VideoProcessor) GetVideoInfo(ctx context.Context, videoPath string) (*VideoInfo, error) {
	stat, err := os.Stat(videoPath)
	if err != nil {
		return nil, fmt.Errorf("stat video: %w", err)
	}

	output, err := p.runner.Run(ctx, p.ffprobePath,
		"-v", "quiet",
		"-print_format", "json",
		"-show_format",
		"-show_streams",
		videoPath,
	)
	if err != nil {
		return nil, fmt.Errorf("ffprobe: %w", err)
	}

	type ffprobeFormat struct {
		Duration string `json:"duration"`
		BitRate  string `json:"bit_rate"`
	}
	type ffprobeStream struct {
		CodecType string `json:"codec_type"`
		CodecName string `json:"codec_name"`
		Width     int    `json:"width"`
		Height    int    `json:"height"`
	}
	type ffprobeOutput struct {
		Format  ffprobeFormat   `json:"format"`
		Streams []ffprobeStream `json:"streams"`
	}

	var parsed ffprobeOutput
	if err := json.Unmarshal(output, &parsed); err != nil {
		return nil, fmt.Errorf("parse ffprobe output: %w", err)
	}

	info := &VideoInfo{FileSize: stat.Size()}

	if parsed.Format.Duration != "" {
		dur, err := strconv.ParseFloat(parsed.Format.Duration, 64)
		if err != nil {
			return nil, fmt.Errorf("parse duration %q: %w", parsed.Format.Duration, err)
		}
		info.Duration = dur
	}
	if parsed.Format.BitRate != "" {
		if br, err := strconv.ParseInt(parsed.Format.BitRate, 10, 64); err == nil {
			info.Bitrate = br
		}
	}

	for _, s := range parsed.Streams {
		switch s.CodecType {
		case "audio":
			info.HasAudio = true
			if info.AudioCodec == "" {
				info.AudioCodec = s.CodecName
			}
		case "video":
			if info.VideoCodec == "" {
				info.VideoCodec = s.CodecName
				info.Width = s.Width
				info.Height = s.Height
			}
		}
	}

	if info.Duration <= 0 {
		return nil, fmt.Errorf("ffprobe reported no duration for %s", filepath.Base(videoPath))
	}

	return info, nil
}

// EncodeConfig holds settings for a two-pass encode.
type EncodeConfig struct {
	VideoBitrate int64  // bits per second
	AudioBitrate int64  // bits per second
	VideoCodec   string // default libx264
	Preset       string // default medium
	PassLogFile  string // prefix for pass statistics files
}

// TwoPassEncode re-encodes input to output at a fixed average bitrate. The
// first pass only gathers rate statistics; the second writes the file.
func (p *VideoProcessor) TwoPassEncode(ctx context.Context, input, output string, cfg EncodeConfig) error {
	if cfg.VideoBitrate <= 0 {
		return fmt.Errorf("invalid video bitrate %d", cfg.VideoBitrate)
	}
	if cfg.VideoCodec == "" {
		cfg.VideoCodec = "libx264"
	}
	if cfg.Preset == "" {
		cfg.Preset = "medium"
	}
	if cfg.PassLogFile == "" {
		cfg.PassLogFile = strings.TrimSuffix(output, filepath.Ext(output)) + "-pass"
	}

	videoRate := strconv.FormatInt(cfg.VideoBitrate, 10)

	pass1 := []string{
		"-y",
		"-i", input,
		"-c:v", cfg.VideoCodec,
		"-preset", cfg.Preset,
		"-b:v", videoRate,
		"-pass", "1",
		"-passlogfile", cfg.PassLogFile,
		"-an",
		"-f", "null",
		os.DevNull,
	}
	if _, err := p.runner.Run(ctx, p.ffmpegPath, pass1...); err != nil {
		return fmt.Errorf("pass 1: %w", err)
	}

	pass2 := []string{
		"-y",
		"-i", input,
		"-c:v", cfg.VideoCodec,
		"-preset", cfg.Preset,
		"-b:v", videoRate,
		"-pass", "2",
		"-passlogfile", cfg.PassLogFile,
	}
	if cfg.AudioBitrate > 0 {
		pass2 = append(pass2, "-c:a", "aac", "-b:a", strconv.FormatInt(cfg.AudioBitrate, 10))
	} else {
		pass2 = append(pass2, "-an")
	}
	pass2 = append(pass2, "-movflags", "+faststart", output)

	if _, err := p.runner.Run(ctx, p.ffmpegPath, pass2...); err != nil {
		return fmt.Errorf("pass 2: %w", err)
	}

	return nil
}

// Version returns the first line of `ffmpeg -version`.
func (p *VideoProcessor) Version(ctx context.Context) (string, error) {
	output, err := p.runner.Run(ctx, p.ffmpegPath, "-version")
	if err != nil {
		return "", err
	}
	line, _, _ := strings.Cut(string(output), "\n")
	return strings.TrimSpace(line), nil
}
