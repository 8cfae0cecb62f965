package domain

import (
	"fmt"
	"time"
)

// Backend identifies which retrieval strategy handles a link.
type Backend string

const (
	// BackendDirectStream fetches a media file straight from its URL.
	BackendDirectStream Backend = "direct"
	// BackendExtractor resolves a page URL into a media stream first.
	BackendExtractor Backend = "extractor"
)

// String returns the string representation of the Backend.
func (b Backend) String() string {
	return string(b)
}

// Valid reports whether b is a known backend.
func (b Backend) Valid() bool {
	return b == BackendDirectStream || b == BackendExtractor
}

// ParseBackend converts a config value into a Backend.
func ParseBackend(s string) (Backend, error) {
	b := Backend(s)
	if !b.Valid() {
		return "", fmt.Errorf("unknown backend %q", s)
	}
	return b, nil
}

// Candidate is a link selected from a message for archival.
type Candidate struct {
	Backend  Backend
	URL      string
	DedupKey string
}

// LocalFile is a media file on disk owned by one pipeline invocation.
type LocalFile struct {
	Path            string
	SizeBytes       int64
	DurationSeconds float64 // zero until probed
}

// SizeBudget is the delivery size policy applied by the enforcer.
type SizeBudget struct {
	MaxBytes         int64
	AudioBitrateBits int64
}

// Fits reports whether a file of size bytes can be delivered as-is.
func (b SizeBudget) Fits(size int64) bool {
	return size <= b.MaxBytes
}

// Channel is a text channel inside a community.
type Channel struct {
	ID          string
	CommunityID string
	Name        string
}

// MessageEvent is a chat message delivered by the platform.
type MessageEvent struct {
	MessageID   string
	Text        string
	CommunityID string
	ChannelID   string
	AuthorID    string
	ReceivedAt  time.Time
}
