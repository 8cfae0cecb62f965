package domain

import (
	"errors"
	"fmt"
	"strconv"
)

// Domain errors.
var (
	// ErrNoJobs is returned when there are no jobs to process.
	ErrNoJobs = errors.New("no jobs available")

	// ErrJobNotFound is returned when a job cannot be found.
	ErrJobNotFound = errors.New("job not found")

	// ErrQueueFull is returned when the job queue is at capacity.
	ErrQueueFull = errors.New("job queue is full")

	// ErrNotVideo is returned when a retrieved resource is not a video.
	ErrNotVideo = errors.New("resource is not a video")

	// ErrHTTPStatus is returned when a direct fetch gets an error status.
	ErrHTTPStatus = errors.New("unexpected http status")

	// ErrExtractionFailed is returned when the extraction engine fails.
	ErrExtractionFailed = errors.New("media extraction failed")

	// ErrDurationTooLong is returned when a clip cannot fit the size budget at any bitrate.
	ErrDurationTooLong = errors.New("clip too long to fit size budget")

	// ErrEncodeFailed is returned when the transcoder fails.
	ErrEncodeFailed = errors.New("encode failed")

	// ErrDeliveryFailed is returned when the platform rejects a file upload.
	ErrDeliveryFailed = errors.New("delivery failed")

	// ErrChannelRace is returned by a platform when channel creation conflicts
	// with a concurrent creator.
	ErrChannelRace = errors.New("archive channel creation conflict")

	// ErrChannelNotFound is returned when no archive channel can be resolved.
	ErrChannelNotFound = errors.New("archive channel not found")

	// ErrInsufficientSpace is returned when scratch storage is too full to
	// start a retrieval.
	ErrInsufficientSpace = errors.New("insufficient scratch space")

	// ErrChallenge is returned when a host answers with a bot challenge page.
	ErrChallenge = errors.New("bot challenge response")

	// ErrDownloadStalled is returned when a transfer stops producing data.
	ErrDownloadStalled = errors.New("download stalled")
)

// RetrievalKind classifies a RetrievalError.
type RetrievalKind int

const (
	RetrievalNotVideo RetrievalKind = iota
	RetrievalHTTPError
	RetrievalExtractionFailed
)

// String returns a human-readable name for the kind.
func (k RetrievalKind) String() string {
	switch k {
	case RetrievalNotVideo:
		return "not_video"
	case RetrievalHTTPError:
		return "http_error"
	case RetrievalExtractionFailed:
		return "extraction_failed"
	default:
		return "unknown"
	}
}

// RetrievalError is returned by retrieval backends.
type RetrievalError struct {
	Kind       RetrievalKind
	StatusCode int
	URL        string
	Err        error
}

func (e *RetrievalError) Error() string {
	msg := "retrieve " + e.URL + ": " + e.Kind.String()
	if e.Kind == RetrievalHTTPError {
		msg += " (" + strconv.Itoa(e.StatusCode) + ")"
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *RetrievalError) Unwrap() error {
	return e.Err
}

// Is matches the sentinel that corresponds to the error kind.
func (e *RetrievalError) Is(target error) bool {
	switch e.Kind {
	case RetrievalNotVideo:
		return target == ErrNotVideo
	case RetrievalHTTPError:
		return target == ErrHTTPStatus
	case RetrievalExtractionFailed:
		return target == ErrExtractionFailed
	}
	return false
}

// NewNotVideoError creates a RetrievalError for a non-video response.
func NewNotVideoError(url, contentType string) *RetrievalError {
	return &RetrievalError{
		Kind: RetrievalNotVideo,
		URL:  url,
		Err:  fmt.Errorf("content type %q", contentType),
	}
}

// NewHTTPError creates a RetrievalError for an HTTP error status.
func NewHTTPError(url string, code int) *RetrievalError {
	return &RetrievalError{
		Kind:       RetrievalHTTPError,
		StatusCode: code,
		URL:        url,
	}
}

// NewExtractionError creates a RetrievalError for an extractor failure.
func NewExtractionError(url string, err error) *RetrievalError {
	return &RetrievalError{
		Kind: RetrievalExtractionFailed,
		URL:  url,
		Err:  err,
	}
}

// EnforcementKind classifies an EnforcementError.
type EnforcementKind int

const (
	EnforcementDurationTooLong EnforcementKind = iota
	EnforcementEncodeFailed
)

// String returns a human-readable name for the kind.
func (k EnforcementKind) String() string {
	switch k {
	case EnforcementDurationTooLong:
		return "duration_too_long"
	case EnforcementEncodeFailed:
		return "encode_failed"
	default:
		return "unknown"
	}
}

// EnforcementError is returned by the size enforcer.
type EnforcementError struct {
	Kind EnforcementKind
	Err  error
}

func (e *EnforcementError) Error() string {
	if e.Err != nil {
		return "enforce size: " + e.Kind.String() + ": " + e.Err.Error()
	}
	return "enforce size: " + e.Kind.String()
}

func (e *EnforcementError) Unwrap() error {
	return e.Err
}

// Is matches the sentinel that corresponds to the error kind.
func (e *EnforcementError) Is(target error) bool {
	switch e.Kind {
	case EnforcementDurationTooLong:
		return target == ErrDurationTooLong
	case EnforcementEncodeFailed:
		return target == ErrEncodeFailed
	}
	return false
}

// DeliveryError wraps a platform send failure.
type DeliveryError struct {
	ChannelID string
	Err       error
}

func (e *DeliveryError) Error() string {
	return "deliver to channel " + e.ChannelID + ": " + e.Err.Error()
}

func (e *DeliveryError) Unwrap() error {
	return e.Err
}

// Is reports a match against ErrDeliveryFailed.
func (e *DeliveryError) Is(target error) bool {
	return target == ErrDeliveryFailed
}

// Advisory returns a short user-facing message for a pipeline error.
// An empty string means nothing should be posted.
func Advisory(err error) string {
	switch {
	case err == nil:
		return ""
	case errors.Is(err, ErrDurationTooLong):
		return "That clip is too long to fit under the upload limit, so it was not archived."
	case errors.Is(err, ErrEncodeFailed):
		return "Couldn't shrink that clip under the upload limit, so it was not archived."
	case errors.Is(err, ErrNotVideo):
		return "That link didn't return a video (maybe a challenge page), so it was not archived."
	case errors.Is(err, ErrHTTPStatus):
		var re *RetrievalError
		if errors.As(err, &re) {
			return fmt.Sprintf("Couldn't download that clip (HTTP %d), so it was not archived.", re.StatusCode)
		}
		return "Couldn't download that clip, so it was not archived."
	case errors.Is(err, ErrExtractionFailed):
		return "Couldn't extract a video from that link, so it was not archived."
	case errors.Is(err, ErrDeliveryFailed):
		return "Couldn't upload that clip to the archive channel."
	case errors.Is(err, ErrQueueFull):
		return "Too many clips are being archived right now; try posting that one again later."
	default:
		return "Something went wrong archiving that clip."
	}
}
