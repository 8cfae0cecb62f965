package downloader

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/iconidentify/clipvault/internal/config"
	"github.com/iconidentify/clipvault/internal/domain"
	"github.com/iconidentify/clipvault/pkg/command"
)

// YTDLPDownloader is the extractor backend. It resolves page URLs on sites
// such as Twitter/X, Reddit and TikTok into a media file using yt-dlp.
type YTDLPDownloader struct {
	runner command.Runner
	cfg    config.ExtractorConfig
	logger *slog.Logger
}

// NewYTDLPDownloader creates an extractor backend.
func NewYTDLPDownloader(cfg config.ExtractorConfig, runner command.Runner, logger *slog.Logger) *YTDLPDownloader {
	if runner == nil {
		runner = command.ExecRunner{}
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &YTDLPDownloader{
		runner: runner,
		cfg:    cfg,
		logger: logger,
	}
}

// ytdlpInfo is the subset of yt-dlp's -J output we inspect.
type ytdlpInfo struct {
	Type    string            `json:"_type"`
	ID      string            `json:"id"`
	VCodec  *string           `json:"vcodec"`
	Entries []json.RawMessage `json:"entries"`
}

// ProbeVideo reports whether url has a video stream. For playlists only the
// first entry is inspected.
func (y *YTDLPDownloader) ProbeVideo(ctx context.Context, url string) (bool, error) {
	if y.cfg.ProbeTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, y.cfg.ProbeTimeout)
		defer cancel()
	}

	out, err := y.runner.Run(ctx, y.cfg.Binary,
		"-J",
		"--no-warnings",
		"--skip-download",
		"--no-playlist",
		"--add-header", "Accept:"+y.accept(),
		url,
	)
	if err != nil {
		return false, domain.NewExtractionError(url, err)
	}

	var info ytdlpInfo
	if err := json.Unmarshal(out, &info); err != nil {
		return false, domain.NewExtractionError(url, fmt.Errorf("parse metadata: %w", err))
	}

	if info.Type == "playlist" {
		if len(info.Entries) == 0 {
			return false, nil
		}
		var first ytdlpInfo
		if err := json.Unmarshal(info.Entries[0], &first); err != nil {
			return false, domain.NewExtractionError(url, fmt.Errorf("parse playlist entry: %w", err))
		}
		info = first
	}

	return hasVideoCodec(info.VCodec), nil
}

func hasVideoCodec(vcodec *string) bool {
	if vcodec == nil {
		return false
	}
	v := strings.TrimSpace(*vcodec)
	return v != "" && v != "none"
}

// Fetch downloads the best mp4-compatible rendition into dir. yt-dlp picks
// the filename, which is reported back through --print.
func (y *YTDLPDownloader) Fetch(ctx context.Context, cand domain.Candidate, dir string) (*domain.LocalFile, error) {
	out, err := y.runner.Run(ctx, y.cfg.Binary,
		"-f", y.cfg.Format,
		"--merge-output-format", "mp4",
		"--no-playlist",
		"--no-progress",
		"--no-warnings",
		"--add-header", "Accept:"+y.accept(),
		"-P", dir,
		"-o", "%(id)s.%(ext)s",
		"--print", "after_move:filepath",
		"--no-simulate",
		cand.URL,
	)
	if err != nil {
		return nil, domain.NewExtractionError(cand.URL, err)
	}

	filePath := lastLine(out)
	if filePath == "" {
		return nil, domain.NewExtractionError(cand.URL, errors.New("no output file reported"))
	}
	if !filepath.IsAbs(filePath) {
		filePath = filepath.Join(dir, filePath)
	}

	info, err := os.Stat(filePath)
	if err != nil {
		return nil, domain.NewExtractionError(cand.URL, fmt.Errorf("stat output: %w", err))
	}

	y.logger.Debug("extractor download complete",
		"url", cand.URL,
		"path", filePath,
		"bytes", info.Size(),
	)

	return &domain.LocalFile{Path: filePath, SizeBytes: info.Size()}, nil
}

func (y *YTDLPDownloader) accept() string {
	if y.cfg.Accept == "" {
		return "*/*"
	}
	return y.cfg.Accept
}

func lastLine(out []byte) string {
	lines := strings.Split(strings.TrimSpace(string(out)), "\n")
	for i := len(lines) - 1; i >= 0; i-- {
		if l := strings.TrimSpace(lines[i]); l != "" {
			return l
		}
	}
	return ""
}
