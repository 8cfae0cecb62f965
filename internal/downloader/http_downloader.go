package downloader

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/http/cookiejar"
	"net/url"
	"os"
	"path"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"golang.org/x/net/publicsuffix"

	"github.com/iconidentify/clipvault/internal/config"
	"github.com/iconidentify/clipvault/internal/domain"
)

// HTTPDownloader is the direct-stream backend. It fetches a media file from
// its URL with browser-like headers and streams the body to disk.
type HTTPDownloader struct {
	// streamClient has no overall timeout; stalls are caught per read.
	streamClient *http.Client
	userAgent    string
	cfg          config.DownloadConfig
	logger       *slog.Logger
}

// NewHTTPDownloader creates a direct-stream downloader. Cookies set by a
// host persist in the client jar, so a challenge answered once is reused by
// later fetches to the same site.
func NewHTTPDownloader(cfg config.DownloadConfig) (*HTTPDownloader, error) {
	jar, err := cookiejar.New(&cookiejar.Options{PublicSuffixList: publicsuffix.List})
	if err != nil {
		return nil, fmt.Errorf("create cookie jar: %w", err)
	}

	streamTransport := &http.Transport{
		Proxy:                 http.ProxyFromEnvironment,
		ResponseHeaderTimeout: cfg.Timeout,
	}

	return &HTTPDownloader{
		streamClient: &http.Client{
			Transport: streamTransport,
			Jar:       jar,
		},
		userAgent: cfg.UserAgent,
		cfg:       cfg,
		logger:    slog.Default(),
	}, nil
}

// SetLogger sets the logger for download progress reporting.
func (d *HTTPDownloader) SetLogger(logger *slog.Logger) {
	d.logger = logger
}

// Fetch streams cand.URL into dir. The local filename is the URL path tail.
func (d *HTTPDownloader) Fetch(ctx context.Context, cand domain.Candidate, dir string) (*domain.LocalFile, error) {
	dlCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	retryCfg := RetryConfig{
		MaxAttempts:   d.cfg.ChallengeAttempts,
		InitialDelay:  d.cfg.ChallengeDelay,
		MaxDelay:      d.cfg.ChallengeDelay,
		BackoffFactor: 1,
	}

	resp, err := RetryWithCheck(dlCtx, retryCfg, func() (*http.Response, error) {
		return d.open(dlCtx, cand.URL)
	}, func(err error) bool {
		return errors.Is(err, domain.ErrChallenge)
	})
	if err != nil {
		if errors.Is(err, domain.ErrChallenge) {
			// Still a challenge page after re-attempting with the acquired cookies.
			return nil, &domain.RetrievalError{Kind: domain.RetrievalNotVideo, URL: cand.URL, Err: err}
		}
		return nil, err
	}
	defer resp.Body.Close()

	name := filenameFromURL(cand.URL)
	dest := filepath.Join(dir, name)

	f, err := os.Create(dest)
	if err != nil {
		return nil, fmt.Errorf("create file: %w", err)
	}

	reader := newProgressReader(resp.Body, resp.ContentLength, d.cfg.ReadTimeout, cancel, d.logger, cand.URL)
	written, copyErr := d.copyChunks(f, reader)
	reader.Stop()
	closeErr := f.Close()

	if copyErr == nil {
		copyErr = closeErr
	}
	if copyErr != nil {
		os.Remove(dest)
		if reader.Stalled() {
			return nil, fmt.Errorf("%w: no data for %v", domain.ErrDownloadStalled, d.cfg.ReadTimeout)
		}
		return nil, fmt.Errorf("stream body: %w", copyErr)
	}

	d.logger.Debug("direct download complete",
		"url", cand.URL,
		"path", dest,
		"bytes", written,
	)

	return &domain.LocalFile{Path: dest, SizeBytes: written}, nil
}

func (d *HTTPDownloader) open(ctx context.Context, rawURL string) (*http.Response, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}

	// Set headers to mimic browser request
	req.Header.Set("User-Agent", d.userAgent)
	req.Header.Set("Accept", "video/webm,video/mp4,video/*;q=0.9,*/*;q=0.8")
	req.Header.Set("Accept-Language", "en-US,en;q=0.5")
	if ref := refererFor(req.URL); ref != "" {
		req.Header.Set("Referer", ref)
	}

	resp, err := d.streamClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("send request: %w", err)
	}

	if isChallenge(resp) {
		drainAndClose(resp.Body)
		d.logger.Info("challenge response, retrying with cookies", "url", rawURL, "status", resp.StatusCode)
		return nil, domain.ErrChallenge
	}

	if resp.StatusCode >= http.StatusBadRequest {
		resp.Body.Close()
		return nil, domain.NewHTTPError(rawURL, resp.StatusCode)
	}

	ct := resp.Header.Get("Content-Type")
	if !strings.Contains(strings.ToLower(ct), "video") {
		resp.Body.Close()
		return nil, domain.NewNotVideoError(rawURL, ct)
	}

	return resp, nil
}

// copyChunks writes src to dst in ChunkSize pieces.
func (d *HTTPDownloader) copyChunks(dst io.Writer, src io.Reader) (int64, error) {
	size := d.cfg.ChunkSize
	if size <= 0 {
		size = 32 * 1024
	}
	buf := make([]byte, size)

	var written int64
	for {
		n, rerr := src.Read(buf)
		if n > 0 {
			if _, werr := dst.Write(buf[:n]); werr != nil {
				return written, werr
			}
			written += int64(n)
		}
		if rerr == io.EOF {
			return written, nil
		}
		if rerr != nil {
			return written, rerr
		}
	}
}

// isChallenge reports whether resp is an interstitial bot check rather than
// the requested resource. An explicit Cf-Mitigated header counts at any
// status; otherwise only a 200 HTML page that sets cookies does, so error
// statuses still surface as HTTP errors.
func isChallenge(resp *http.Response) bool {
	if strings.EqualFold(resp.Header.Get("Cf-Mitigated"), "challenge") {
		return true
	}
	if resp.StatusCode != http.StatusOK {
		return false
	}
	ct := strings.ToLower(resp.Header.Get("Content-Type"))
	return strings.Contains(ct, "text/html") && len(resp.Cookies()) > 0
}

// refererFor returns the page origin a browser would send for a media URL.
func refererFor(u *url.URL) string {
	if u == nil || u.Host == "" {
		return ""
	}
	if strings.HasSuffix(u.Hostname(), "4cdn.org") {
		return "https://boards.4chan.org/"
	}
	return u.Scheme + "://" + u.Host + "/"
}

// filenameFromURL returns the path tail of rawURL without its query string.
func filenameFromURL(rawURL string) string {
	u, err := url.Parse(rawURL)
	if err != nil {
		return "download"
	}
	name := path.Base(u.Path)
	if name == "" || name == "/" || name == "." || name == ".." {
		return "download"
	}
	return name
}

func drainAndClose(body io.ReadCloser) {
	io.Copy(io.Discard, io.LimitReader(body, 64*1024))
	body.Close()
}

// progressReader wraps a response body to track download progress and
// detect stalls. A watchdog cancels the request when no data arrives for
// readTimeout, which unblocks a Read that would otherwise hang.
type progressReader struct {
	reader      io.Reader
	total       int64
	downloaded  int64
	readTimeout time.Duration
	lastLog     time.Time
	logger      *slog.Logger
	url         string
	watchdog    *time.Timer
	mu          sync.Mutex
	stalled     bool
}

func newProgressReader(r io.Reader, total int64, readTimeout time.Duration, abort context.CancelFunc, logger *slog.Logger, url string) *progressReader {
	p := &progressReader{
		reader:      r,
		total:       total,
		readTimeout: readTimeout,
		lastLog:     time.Now(),
		logger:      logger,
		url:         url,
	}
	if readTimeout > 0 {
		p.watchdog = time.AfterFunc(readTimeout, func() {
			p.mu.Lock()
			p.stalled = true
			p.mu.Unlock()
			abort()
		})
	}
	return p
}

func (p *progressReader) Read(buf []byte) (int, error) {
	n, err := p.reader.Read(buf)

	if n > 0 {
		if p.watchdog != nil {
			p.watchdog.Reset(p.readTimeout)
		}
		p.downloaded += int64(n)

		if time.Since(p.lastLog) > 30*time.Second {
			p.logProgress()
			p.lastLog = time.Now()
		}
	}

	return n, err
}

// Stop disarms the stall watchdog.
func (p *progressReader) Stop() {
	if p.watchdog != nil {
		p.watchdog.Stop()
	}
}

// Stalled reports whether the watchdog fired.
func (p *progressReader) Stalled() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.stalled
}

func (p *progressReader) logProgress() {
	if p.total > 0 {
		pct := float64(p.downloaded) / float64(p.total) * 100
		p.logger.Info("download progress",
			"url", p.url,
			"downloaded_kb", p.downloaded/1024,
			"total_kb", p.total/1024,
			"percent", fmt.Sprintf("%.1f%%", pct),
		)
	} else {
		p.logger.Info("download progress",
			"url", p.url,
			"downloaded_kb", p.downloaded/1024,
		)
	}
}
