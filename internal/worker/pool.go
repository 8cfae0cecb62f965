package worker

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"runtime/debug"
	"sync"
	"time"

	"github.com/iconidentify/clipvault/internal/domain"
	"github.com/iconidentify/clipvault/internal/repository"
	"github.com/iconidentify/clipvault/internal/service"
)

// ErrShutdownTimeout is returned when workers don't stop within timeout.
var ErrShutdownTimeout = errors.New("worker pool shutdown timed out")

// JobProcessor queues and runs archive jobs.
type JobProcessor interface {
	Submit(ctx context.Context, event domain.MessageEvent) (*domain.Job, error)
	Process(ctx context.Context, job *domain.Job) (service.Outcome, error)
}

// Pool runs archive jobs on a fixed number of workers so that slow
// downloads and encodes never block message dispatch.
type Pool struct {
	workers      int
	pollInterval time.Duration
	jobRepo      repository.JobRepository
	processor    JobProcessor
	logger       *slog.Logger
	wake         chan struct{}

	wg sync.WaitGroup
	// ctx stops workers from taking new jobs; jobCtx aborts jobs in flight.
	ctx       context.Context
	cancel    context.CancelFunc
	jobCtx    context.Context
	cancelJob context.CancelFunc
}

// Config holds worker pool configuration.
type Config struct {
	Workers      int
	PollInterval time.Duration
}

// NewPool creates a new worker pool.
func NewPool(
	cfg Config,
	jobRepo repository.JobRepository,
	processor JobProcessor,
	logger *slog.Logger,
) *Pool {
	if cfg.Workers <= 0 {
		cfg.Workers = 2
	}
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = 5 * time.Second
	}

	ctx, cancel := context.WithCancel(context.Background())
	jobCtx, cancelJob := context.WithCancel(context.Background())

	return &Pool{
		workers:      cfg.Workers,
		pollInterval: cfg.PollInterval,
		jobRepo:      jobRepo,
		processor:    processor,
		logger:       logger,
		wake:         make(chan struct{}, cfg.Workers),
		ctx:          ctx,
		cancel:       cancel,
		jobCtx:       jobCtx,
		cancelJob:    cancelJob,
	}
}

// Start launches all workers.
func (p *Pool) Start() {
	p.logger.Info("starting worker pool", "workers", p.workers)

	for i := 0; i < p.workers; i++ {
		p.wg.Add(1)
		go p.worker(i)
	}
}

// Submit queues event for archiving and wakes an idle worker. Messages
// without an archivable link are ignored.
func (p *Pool) Submit(ctx context.Context, event domain.MessageEvent) error {
	job, err := p.processor.Submit(ctx, event)
	if err != nil {
		return err
	}
	if job == nil {
		return nil
	}

	select {
	case p.wake <- struct{}{}:
	default:
		// Every worker already has a pending wake-up.
	}
	return nil
}

// Stop stops taking new jobs and waits for running jobs to finish. Jobs
// still running when timeout expires are canceled.
func (p *Pool) Stop(timeout time.Duration) error {
	p.logger.Info("stopping worker pool")
	p.cancel()
	defer p.cancelJob()

	done := make(chan struct{})
	go func() {
		p.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		p.logger.Info("worker pool stopped gracefully")
		return nil
	case <-time.After(timeout):
		p.cancelJob()
		return ErrShutdownTimeout
	}
}

func (p *Pool) worker(id int) {
	defer p.wg.Done()

	logger := p.logger.With("worker_id", id)
	logger.Debug("worker started")

	ticker := time.NewTicker(p.pollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-p.ctx.Done():
			logger.Debug("worker stopping")
			return
		case <-p.wake:
		case <-ticker.C:
		}

		for p.ctx.Err() == nil && p.processNextJob(logger) {
		}
	}
}

// processNextJob runs one queued job. It reports false when the queue was
// empty.
func (p *Pool) processNextJob(logger *slog.Logger) bool {
	job, err := p.jobRepo.Dequeue(p.jobCtx)
	if err != nil {
		if !errors.Is(err, domain.ErrNoJobs) {
			logger.Error("failed to dequeue job", "error", err)
		}
		return false
	}

	logger = logger.With("job_id", job.ID)
	logger.Debug("processing job")

	job.MarkProcessing()
	if err := p.jobRepo.Update(p.jobCtx, job); err != nil {
		logger.Error("failed to update job status", "error", err)
		return true
	}

	outcome, err := p.process(job, logger)
	switch {
	case err != nil:
		job.MarkFailed(err.Error())
	case outcome.IsSkip():
		job.MarkSkipped()
	default:
		job.MarkCompleted()
	}

	// Record the terminal state even if shutdown canceled the job.
	if err := p.jobRepo.Update(context.WithoutCancel(p.jobCtx), job); err != nil {
		logger.Error("failed to update job after processing", "error", err)
	}

	logger.Debug("job finished", "status", job.Status, "outcome", outcome)
	return true
}

// process runs the job and converts a panic into a failed outcome so one
// bad job cannot take the process down.
func (p *Pool) process(job *domain.Job, logger *slog.Logger) (outcome service.Outcome, err error) {
	defer func() {
		if rec := recover(); rec != nil {
			logger.Error("panic while processing job", "panic", rec, "stack", string(debug.Stack()))
			outcome, err = service.OutcomeFailed, fmt.Errorf("panic: %v", rec)
		}
	}()
	return p.processor.Process(p.jobCtx, job)
}
