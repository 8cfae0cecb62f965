package repository

import (
	"context"
	"sync"

	"github.com/iconidentify/clipvault/internal/domain"
)

// InMemoryJobRepository implements JobRepository using in-memory storage.
// Jobs are stored by value and dropped once they reach a terminal state;
// only their counts are kept.
type InMemoryJobRepository struct {
	mu       sync.RWMutex
	jobs     map[domain.JobID]*domain.Job
	queue    []domain.JobID // FIFO queue of pending job IDs
	capacity int            // max queued jobs, 0 = unbounded

	completed int
	skipped   int
	failed    int
}

// NewInMemoryJobRepository creates a new in-memory job repository.
func NewInMemoryJobRepository(capacity int) *InMemoryJobRepository {
	return &InMemoryJobRepository{
		jobs:     make(map[domain.JobID]*domain.Job),
		queue:    make([]domain.JobID, 0),
		capacity: capacity,
	}
}

// Enqueue adds a job to the queue.
func (r *InMemoryJobRepository) Enqueue(ctx context.Context, job *domain.Job) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.capacity > 0 && len(r.queue) >= r.capacity {
		return domain.ErrQueueFull
	}

	stored := *job
	r.jobs[job.ID] = &stored
	r.queue = append(r.queue, job.ID)

	return nil
}

// Dequeue retrieves the next pending job (FIFO).
func (r *InMemoryJobRepository) Dequeue(ctx context.Context) (*domain.Job, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	for len(r.queue) > 0 {
		jobID := r.queue[0]
		r.queue = r.queue[1:]

		job, ok := r.jobs[jobID]
		if !ok {
			continue
		}
		if job.Status == domain.JobStatusQueued {
			out := *job
			return &out, nil
		}
	}

	return nil, domain.ErrNoJobs
}

// Update modifies job state.
func (r *InMemoryJobRepository) Update(ctx context.Context, job *domain.Job) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.jobs[job.ID]; !ok {
		return domain.ErrJobNotFound
	}

	if !job.Done() {
		stored := *job
		r.jobs[job.ID] = &stored
		return nil
	}

	switch job.Status {
	case domain.JobStatusCompleted:
		r.completed++
	case domain.JobStatusSkipped:
		r.skipped++
	case domain.JobStatusFailed:
		r.failed++
	}
	delete(r.jobs, job.ID)

	return nil
}

// Get retrieves a job by ID.
func (r *InMemoryJobRepository) Get(ctx context.Context, id domain.JobID) (*domain.Job, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	job, ok := r.jobs[id]
	if !ok {
		return nil, domain.ErrJobNotFound
	}

	out := *job
	return &out, nil
}

// Stats returns queue statistics.
func (r *InMemoryJobRepository) Stats(ctx context.Context) (*QueueStats, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	stats := &QueueStats{
		Completed: r.completed,
		Skipped:   r.skipped,
		Failed:    r.failed,
	}
	for _, job := range r.jobs {
		switch job.Status {
		case domain.JobStatusQueued:
			stats.Queued++
		case domain.JobStatusProcessing:
			stats.Processing++
		}
	}

	return stats, nil
}
