package repository

import (
	"context"

	"github.com/iconidentify/clipvault/internal/domain"
)

// DedupRepository remembers which clips were archived in each community.
// Implementations must be safe for concurrent use.
type DedupRepository interface {
	// Contains reports whether key was archived in community. Unknown
	// communities report false.
	Contains(ctx context.Context, communityID, key string) (bool, error)

	// Record marks key as archived in community.
	Record(ctx context.Context, communityID, key string) error

	// Stats returns index size statistics.
	Stats(ctx context.Context) (*DedupStats, error)

	// Close releases any held resources.
	Close() error
}

// DedupStats contains dedup index statistics.
type DedupStats struct {
	Communities int
	Keys        int
}

// JobRepository manages the job queue.
type JobRepository interface {
	// Enqueue adds a job to the queue.
	Enqueue(ctx context.Context, job *domain.Job) error

	// Dequeue retrieves the next pending job (FIFO).
	Dequeue(ctx context.Context) (*domain.Job, error)

	// Update modifies job state.
	Update(ctx context.Context, job *domain.Job) error

	// Get retrieves a job by ID.
	Get(ctx context.Context, id domain.JobID) (*domain.Job, error)

	// Stats returns queue statistics.
	Stats(ctx context.Context) (*QueueStats, error)
}

// QueueStats contains job queue statistics. Terminal counts are cumulative
// for the process lifetime.
type QueueStats struct {
	Queued     int
	Processing int
	Completed  int
	Skipped    int
	Failed     int
}
