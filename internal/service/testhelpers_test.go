package service

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"sync"

	"github.com/iconidentify/clipvault/internal/domain"
	"github.com/iconidentify/clipvault/pkg/ffmpeg"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// fakePlatform is an in-memory chat platform.
type fakePlatform struct {
	mu        sync.Mutex
	channels  map[string][]domain.Channel
	created   int
	raceOnce  bool // CreateChannel reports a race once, after adding the channel
	sendErr   map[string]error
	files     map[string][]string // channel ID -> base names sent
	messages  map[string][]string
	listCalls int
	onSend    func() // called after each successful SendFile
}

func newFakePlatform() *fakePlatform {
	return &fakePlatform{
		channels: make(map[string][]domain.Channel),
		sendErr:  make(map[string]error),
		files:    make(map[string][]string),
		messages: make(map[string][]string),
	}
}

func (p *fakePlatform) ListChannels(ctx context.Context, communityID string) ([]domain.Channel, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.listCalls++
	return append([]domain.Channel(nil), p.channels[communityID]...), nil
}

func (p *fakePlatform) CreateChannel(ctx context.Context, communityID, name string) (*domain.Channel, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.created++
	ch := domain.Channel{ID: communityID + "-archive", CommunityID: communityID, Name: name}
	p.channels[communityID] = append(p.channels[communityID], ch)
	if p.raceOnce {
		p.raceOnce = false
		return nil, domain.ErrChannelRace
	}
	return &ch, nil
}

func (p *fakePlatform) SendFile(ctx context.Context, channelID, path string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if err := p.sendErr[channelID]; err != nil {
		return err
	}
	if _, err := os.Stat(path); err != nil {
		return err
	}
	p.files[channelID] = append(p.files[channelID], filepath.Base(path))
	if p.onSend != nil {
		p.onSend()
	}
	return nil
}

func (p *fakePlatform) SendMessage(ctx context.Context, channelID, text string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.messages[channelID] = append(p.messages[channelID], text)
	return nil
}

func (p *fakePlatform) filesIn(channelID string) []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]string(nil), p.files[channelID]...)
}

func (p *fakePlatform) messagesIn(channelID string) []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]string(nil), p.messages[channelID]...)
}

// fakeFetcher writes a file of size bytes named after the dedup key tail.
type fakeFetcher struct {
	mu    sync.Mutex
	size  int64
	err   error
	calls int
}

func (f *fakeFetcher) Fetch(ctx context.Context, cand domain.Candidate, dir string) (*domain.LocalFile, error) {
	f.mu.Lock()
	f.calls++
	f.mu.Unlock()

	if f.err != nil {
		return nil, f.err
	}
	path := filepath.Join(dir, filepath.Base(cand.DedupKey))
	if filepath.Ext(path) == "" {
		path += ".mp4"
	}
	if err := writeSized(path, f.size); err != nil {
		return nil, err
	}
	return &domain.LocalFile{Path: path, SizeBytes: f.size}, nil
}

func (f *fakeFetcher) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

// probingFetcher is a fakeFetcher that also answers video probes.
type probingFetcher struct {
	fakeFetcher
	isVideo  bool
	probeErr error
}

func (f *probingFetcher) ProbeVideo(ctx context.Context, url string) (bool, error) {
	return f.isVideo, f.probeErr
}

// fakeEncoder reports a fixed duration and writes outputs of outSize bytes.
type fakeEncoder struct {
	mu        sync.Mutex
	duration  float64
	probeErr  error
	encodeErr error
	outSize   int64
	encodes   []ffmpeg.EncodeConfig
	probes    int
}

func (e *fakeEncoder) GetVideoInfo(ctx context.Context, path string) (*ffmpeg.VideoInfo, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.probes++
	if e.probeErr != nil {
		return nil, e.probeErr
	}
	return &ffmpeg.VideoInfo{Duration: e.duration}, nil
}

func (e *fakeEncoder) TwoPassEncode(ctx context.Context, input, output string, cfg ffmpeg.EncodeConfig) error {
	e.mu.Lock()
	e.encodes = append(e.encodes, cfg)
	e.mu.Unlock()

	// Leave a partial output behind to check it gets cleaned up.
	if err := writeSized(output, e.outSize); err != nil {
		return err
	}
	return e.encodeErr
}

var errExit = errors.New("exit status 1")

// writeSized creates a sparse file of size bytes.
func writeSized(path string, size int64) error {
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	if err := f.Truncate(size); err != nil {
		f.Close()
		return err
	}
	return f.Close()
}
