package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"

	"github.com/iconidentify/clipvault/internal/classifier"
	"github.com/iconidentify/clipvault/internal/config"
	"github.com/iconidentify/clipvault/internal/domain"
	"github.com/iconidentify/clipvault/internal/downloader"
	"github.com/iconidentify/clipvault/internal/metrics"
	"github.com/iconidentify/clipvault/internal/repository"
)

// Outcome is the terminal state of one pipeline invocation.
type Outcome string

const (
	OutcomeNoCandidate Outcome = "no_candidate"
	OutcomeDuplicate   Outcome = "duplicate"
	OutcomeNotVideo    Outcome = "not_video"
	OutcomeArchived    Outcome = "archived"
	OutcomeFailed      Outcome = "failed"
)

// advisoryTimeout bounds the failure notice, which is sent even after the
// invocation context expired.
const advisoryTimeout = 10 * time.Second

// recordTimeout bounds the dedup write that follows a delivery.
const recordTimeout = 10 * time.Second

// ArchiveDeps are the collaborators of an ArchiveService.
type ArchiveDeps struct {
	Classifier *classifier.Classifier
	Dedup      repository.DedupRepository
	Jobs       repository.JobRepository
	Fetchers   map[domain.Backend]downloader.Fetcher
	Enforcer   *SizeEnforcer
	Channels   *ArchiveChannelManager
	Platform   ChatPlatform
}

// ArchiveService runs the archival pipeline for message events.
type ArchiveService struct {
	classifier *classifier.Classifier
	dedup      repository.DedupRepository
	jobRepo    repository.JobRepository
	fetchers   map[domain.Backend]downloader.Fetcher
	enforcer   *SizeEnforcer
	channels   *ArchiveChannelManager
	platform   ChatPlatform
	locks      *keyLocker
	storageCfg config.StorageConfig
	cfg        config.PipelineConfig
	logger     *slog.Logger
}

// NewArchiveService creates a new archive service.
func NewArchiveService(
	deps ArchiveDeps,
	storageCfg config.StorageConfig,
	pipelineCfg config.PipelineConfig,
	logger *slog.Logger,
) (*ArchiveService, error) {
	if err := deps.Validate(); err != nil {
		return nil, err
	}
	return &ArchiveService{
		classifier: deps.Classifier,
		dedup:      deps.Dedup,
		jobRepo:    deps.Jobs,
		fetchers:   deps.Fetchers,
		enforcer:   deps.Enforcer,
		channels:   deps.Channels,
		platform:   deps.Platform,
		locks:      newKeyLocker(),
		storageCfg: storageCfg,
		cfg:        pipelineCfg,
		logger:     logger,
	}, nil
}

// Submit classifies a message and queues a job when it holds an archivable
// link. It returns nil without error for messages with nothing to archive.
func (s *ArchiveService) Submit(ctx context.Context, event domain.MessageEvent) (*domain.Job, error) {
	cand, ok := s.classifier.Classify(event.Text)
	if !ok {
		return nil, nil
	}

	jobID := domain.JobID("job_" + uuid.New().String()[:8])
	job := domain.NewJob(jobID, event)
	job.Candidate = cand

	if err := s.jobRepo.Enqueue(ctx, job); err != nil {
		metrics.RecordOutcome(metrics.OutcomeRejected)
		s.logger.Warn("rejected clip",
			"community_id", event.CommunityID,
			"url", cand.URL,
			"error", err,
		)
		s.notify(ctx, event.ChannelID, err)
		return nil, fmt.Errorf("enqueue job: %w", err)
	}

	s.logger.Info("queued clip",
		"job_id", jobID,
		"community_id", event.CommunityID,
		"backend", cand.Backend,
		"url", cand.URL,
	)
	s.refreshQueueDepth(ctx)

	return job, nil
}

// Process runs the pipeline for a dequeued job.
func (s *ArchiveService) Process(ctx context.Context, job *domain.Job) (Outcome, error) {
	s.refreshQueueDepth(ctx)
	return s.run(ctx, job.ID, job.Event, job.Candidate)
}

// Handle classifies and archives a message synchronously.
func (s *ArchiveService) Handle(ctx context.Context, event domain.MessageEvent) (Outcome, error) {
	cand, ok := s.classifier.Classify(event.Text)
	if !ok {
		return OutcomeNoCandidate, nil
	}
	return s.run(ctx, domain.JobID("job_"+uuid.New().String()[:8]), event, cand)
}

func (s *ArchiveService) run(ctx context.Context, jobID domain.JobID, event domain.MessageEvent, cand domain.Candidate) (Outcome, error) {
	if s.cfg.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.cfg.Timeout)
		defer cancel()
	}

	logger := s.logger.With(
		"job_id", jobID,
		"community_id", event.CommunityID,
		"dedup_key", cand.DedupKey,
		"backend", cand.Backend,
	)

	fetcher, ok := s.fetchers[cand.Backend]
	if !ok {
		return s.fail(ctx, logger, event, fmt.Errorf("no fetcher for backend %q", cand.Backend))
	}

	// Check and record are one critical section per (community, key).
	unlock := s.locks.Lock(event.CommunityID + "\x00" + cand.DedupKey)
	defer unlock()

	seen, err := s.dedup.Contains(ctx, event.CommunityID, cand.DedupKey)
	if err != nil {
		return s.fail(ctx, logger, event, fmt.Errorf("check dedup: %w", err))
	}
	if seen {
		logger.Debug("clip already archived")
		metrics.RecordOutcome(metrics.OutcomeDuplicate)
		return OutcomeDuplicate, nil
	}

	if prober, ok := fetcher.(downloader.VideoProber); ok {
		isVideo, err := prober.ProbeVideo(ctx, cand.URL)
		if err != nil {
			return s.fail(ctx, logger, event, err)
		}
		if !isVideo {
			logger.Info("link has no video stream, skipping", "url", cand.URL)
			metrics.RecordOutcome(metrics.OutcomeNotVideo)
			return OutcomeNotVideo, nil
		}
	}

	channel, err := s.channels.Ensure(ctx, event.CommunityID)
	if err != nil {
		return s.fail(ctx, logger, event, fmt.Errorf("ensure archive channel: %w", err))
	}

	workDir := filepath.Join(s.storageCfg.TempPath, string(jobID))
	if err := os.MkdirAll(workDir, 0755); err != nil {
		return s.fail(ctx, logger, event, fmt.Errorf("create work dir: %w", err))
	}
	defer func() {
		if err := os.RemoveAll(workDir); err != nil {
			logger.Warn("failed to remove work dir", "path", workDir, "error", err)
		}
	}()

	if err := s.checkScratchSpace(workDir); err != nil {
		return s.fail(ctx, logger, event, err)
	}

	start := time.Now()
	file, err := fetcher.Fetch(ctx, cand, workDir)
	var fetched int64
	if file != nil {
		fetched = file.SizeBytes
	}
	metrics.RecordRetrieval(cand.Backend.String(), fetched, time.Since(start), err)
	if err != nil {
		return s.fail(ctx, logger, event, err)
	}
	logger.Info("retrieved clip", "path", file.Path, "size_bytes", file.SizeBytes, "elapsed", time.Since(start))

	file, err = s.enforcer.Enforce(ctx, file)
	if err != nil {
		return s.fail(ctx, logger, event, err)
	}

	err = s.platform.SendFile(ctx, channel.ID, file.Path)
	metrics.RecordDelivery(err)
	if err != nil {
		return s.fail(ctx, logger, event, &domain.DeliveryError{ChannelID: channel.ID, Err: err})
	}

	// Extractor hosts don't get auto-embedded previews, so the clip is
	// also posted where the link was shared.
	if cand.Backend == domain.BackendExtractor && event.ChannelID != "" && event.ChannelID != channel.ID {
		err := s.platform.SendFile(ctx, event.ChannelID, file.Path)
		metrics.RecordDelivery(err)
		if err != nil {
			logger.Warn("failed to post clip to origin channel", "channel_id", event.ChannelID, "error", err)
		}
	}

	// The clip is already delivered; a pipeline deadline expiring now must
	// not leave it unrecorded.
	recordCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), recordTimeout)
	defer cancel()
	if err := s.dedup.Record(recordCtx, event.CommunityID, cand.DedupKey); err != nil {
		// Delivered but not remembered: a repost will be archived again.
		logger.Error("failed to record dedup key", "error", err)
		metrics.RecordOutcome(metrics.OutcomeFailed)
		return OutcomeFailed, fmt.Errorf("record dedup key: %w", err)
	}

	logger.Info("clip archived", "channel_id", channel.ID, "size_bytes", file.SizeBytes)
	metrics.RecordOutcome(metrics.OutcomeArchived)
	return OutcomeArchived, nil
}

func (s *ArchiveService) fail(ctx context.Context, logger *slog.Logger, event domain.MessageEvent, err error) (Outcome, error) {
	logger.Error("archive failed", "error", err)
	metrics.RecordOutcome(metrics.OutcomeFailed)
	s.notify(ctx, event.ChannelID, err)
	return OutcomeFailed, err
}

// notify posts a short advisory for err in channelID.
func (s *ArchiveService) notify(ctx context.Context, channelID string, err error) {
	if !s.cfg.NotifyFailures || channelID == "" {
		return
	}
	msg := domain.Advisory(err)
	if msg == "" {
		return
	}

	sendCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), advisoryTimeout)
	defer cancel()

	if err := s.platform.SendMessage(sendCtx, channelID, msg); err != nil {
		s.logger.Warn("failed to post advisory", "channel_id", channelID, "error", err)
	}
}

func (s *ArchiveService) checkScratchSpace(dir string) error {
	if s.storageCfg.MinFreeBytes <= 0 {
		return nil
	}
	free, ok := freeDiskSpace(dir)
	if ok && free < s.storageCfg.MinFreeBytes {
		return fmt.Errorf("%w: %d bytes free, need %d", domain.ErrInsufficientSpace, free, s.storageCfg.MinFreeBytes)
	}
	return nil
}

func (s *ArchiveService) refreshQueueDepth(ctx context.Context) {
	stats, err := s.jobRepo.Stats(ctx)
	if err != nil {
		return
	}
	metrics.SetQueueDepth(stats.Queued)
}

// Stats summarizes the pipeline state for the ops API.
type Stats struct {
	Queue *repository.QueueStats
	Dedup *repository.DedupStats
}

// Stats returns queue and dedup statistics.
func (s *ArchiveService) Stats(ctx context.Context) (*Stats, error) {
	queue, err := s.jobRepo.Stats(ctx)
	if err != nil {
		return nil, fmt.Errorf("queue stats: %w", err)
	}
	dedup, err := s.dedup.Stats(ctx)
	if err != nil {
		return nil, fmt.Errorf("dedup stats: %w", err)
	}
	return &Stats{Queue: queue, Dedup: dedup}, nil
}

// IsSkip reports whether an outcome ended the pipeline without side effects.
func (o Outcome) IsSkip() bool {
	return o == OutcomeNoCandidate || o == OutcomeDuplicate || o == OutcomeNotVideo
}

// Validate reports missing collaborators.
func (d ArchiveDeps) Validate() error {
	switch {
	case d.Classifier == nil:
		return errors.New("classifier is required")
	case d.Dedup == nil:
		return errors.New("dedup repository is required")
	case d.Jobs == nil:
		return errors.New("job repository is required")
	case len(d.Fetchers) == 0:
		return errors.New("at least one fetcher is required")
	case d.Enforcer == nil:
		return errors.New("size enforcer is required")
	case d.Channels == nil:
		return errors.New("archive channel manager is required")
	case d.Platform == nil:
		return errors.New("chat platform is required")
	}
	return nil
}
