package downloader

import (
	"context"

	"github.com/iconidentify/clipvault/internal/domain"
)

// Fetcher retrieves a candidate's media into dir and returns the local file.
// Implementations remove any partial file they created before returning an
// error.
type Fetcher interface {
	Fetch(ctx context.Context, cand domain.Candidate, dir string) (*domain.LocalFile, error)
}

// VideoProber is implemented by fetchers that can check, without
// downloading, whether a link resolves to a video.
type VideoProber interface {
	ProbeVideo(ctx context.Context, url string) (bool, error)
}
