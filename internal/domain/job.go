package domain

import (
	"time"
)

// JobID is a unique identifier for a job.
type JobID string

// String returns the string representation of the JobID.
func (id JobID) String() string {
	return string(id)
}

// JobStatus represents the current state of a job.
type JobStatus string

const (
	JobStatusQueued     JobStatus = "queued"
	JobStatusProcessing JobStatus = "processing"
	JobStatusCompleted  JobStatus = "completed"
	JobStatusSkipped    JobStatus = "skipped"
	JobStatusFailed     JobStatus = "failed"
)

// Job is one pipeline invocation for a message event.
type Job struct {
	ID        JobID
	Event     MessageEvent
	Candidate Candidate
	Status    JobStatus
	LastError string
	CreatedAt time.Time
	UpdatedAt time.Time
}

// NewJob creates a queued job for a message event.
func NewJob(id JobID, event MessageEvent) *Job {
	now := time.Now()
	return &Job{
		ID:        id,
		Event:     event,
		Status:    JobStatusQueued,
		CreatedAt: now,
		UpdatedAt: now,
	}
}

// Done reports whether the job reached a terminal state.
func (j *Job) Done() bool {
	switch j.Status {
	case JobStatusCompleted, JobStatusSkipped, JobStatusFailed:
		return true
	}
	return false
}

// MarkProcessing updates the job status to processing.
func (j *Job) MarkProcessing() {
	j.Status = JobStatusProcessing
	j.UpdatedAt = time.Now()
}

// MarkCompleted updates the job status to completed.
func (j *Job) MarkCompleted() {
	j.Status = JobStatusCompleted
	j.UpdatedAt = time.Now()
}

// MarkSkipped records that the pipeline stopped without side effects.
func (j *Job) MarkSkipped() {
	j.Status = JobStatusSkipped
	j.UpdatedAt = time.Now()
}

// MarkFailed updates the job status to failed with an error message.
func (j *Job) MarkFailed(err string) {
	j.Status = JobStatusFailed
	j.LastError = err
	j.UpdatedAt = time.Now()
}
