package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"golang.org/x/sync/errgroup"

	"github.com/iconidentify/clipvault/internal/api"
	"github.com/iconidentify/clipvault/internal/api/handler"
	"github.com/iconidentify/clipvault/internal/classifier"
	"github.com/iconidentify/clipvault/internal/config"
	"github.com/iconidentify/clipvault/internal/domain"
	"github.com/iconidentify/clipvault/internal/downloader"
	"github.com/iconidentify/clipvault/internal/metrics"
	"github.com/iconidentify/clipvault/internal/repository"
	"github.com/iconidentify/clipvault/internal/service"
	"github.com/iconidentify/clipvault/internal/worker"
	"github.com/iconidentify/clipvault/pkg/command"
	"github.com/iconidentify/clipvault/pkg/discord"
	"github.com/iconidentify/clipvault/pkg/ffmpeg"
)

var (
	Version   = "dev"
	BuildTime = "unknown"
)

// dedupStore is a dedup repository that holds resources.
type dedupStore interface {
	repository.DedupRepository
	Close() error
}

func main() {
	// Parse flags
	configPath := flag.String("config", "", "Path to config file")
	showVersion := flag.Bool("version", false, "Show version and exit")
	flag.Parse()

	if *showVersion {
		fmt.Printf("clipvault %s (built %s)\n", Version, BuildTime)
		os.Exit(0)
	}

	// A missing .env is fine; the environment may already be populated.
	_ = godotenv.Load()

	cfg, err := config.Load(*configPath)
	if err != nil {
		slog.Error("failed to load config", "error", err)
		os.Exit(1)
	}

	logger := newLogger(cfg.Log)
	slog.SetDefault(logger)

	logger.Info("starting clipvault",
		"version", Version,
		"build_time", BuildTime,
	)

	if err := run(cfg, logger); err != nil {
		logger.Error("clipvault exited with error", "error", err)
		os.Exit(1)
	}
	logger.Info("shutdown complete")
}

func run(cfg *config.Config, logger *slog.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	metrics.Init()

	if err := os.MkdirAll(cfg.Storage.TempPath, 0755); err != nil {
		return fmt.Errorf("create temp directory: %w", err)
	}

	dedup, err := openDedup(ctx, cfg.Dedup)
	if err != nil {
		return err
	}
	defer dedup.Close()

	cls, err := classifier.New(cfg.Classifier)
	if err != nil {
		return fmt.Errorf("build classifier: %w", err)
	}

	direct, err := downloader.NewHTTPDownloader(cfg.Download)
	if err != nil {
		return err
	}
	direct.SetLogger(logger.With("backend", "direct"))
	extractor := downloader.NewYTDLPDownloader(cfg.Extractor, command.ExecRunner{}, logger.With("backend", "extractor"))

	processor, err := ffmpeg.NewVideoProcessor(cfg.Encode.FFmpegPath, cfg.Encode.FFprobePath)
	if err != nil {
		return err
	}
	if v, err := processor.Version(ctx); err == nil {
		logger.Info("found ffmpeg", "version", v)
	}

	bot, err := discord.New(cfg.Discord.Token, logger.With("component", "discord"))
	if err != nil {
		return err
	}

	jobRepo := repository.NewInMemoryJobRepository(cfg.Worker.QueueSize)
	enforcer := service.NewSizeEnforcer(processor, cfg.Encode, logger.With("component", "enforcer"))
	channels := service.NewArchiveChannelManager(bot, cfg.Archive, logger.With("component", "channels"))

	archiveSvc, err := service.NewArchiveService(service.ArchiveDeps{
		Classifier: cls,
		Dedup:      dedup,
		Jobs:       jobRepo,
		Fetchers: map[domain.Backend]downloader.Fetcher{
			domain.BackendDirectStream: direct,
			domain.BackendExtractor:    extractor,
		},
		Enforcer: enforcer,
		Channels: channels,
		Platform: bot,
	}, cfg.Storage, cfg.Pipeline, logger)
	if err != nil {
		return err
	}

	pool := worker.NewPool(
		worker.Config{
			Workers:      cfg.Worker.Count,
			PollInterval: cfg.Worker.PollInterval,
		},
		jobRepo,
		archiveSvc,
		logger,
	)
	pool.Start()

	bot.OnMessage(func(event domain.MessageEvent) {
		if err := pool.Submit(ctx, event); err != nil {
			logger.Warn("message not queued", "message_id", event.MessageID, "error", err)
		}
	})
	if err := bot.Open(); err != nil {
		pool.Stop(5 * time.Second)
		return err
	}

	g, gctx := errgroup.WithContext(ctx)

	var srv *http.Server
	if cfg.Server.Enabled {
		router := api.NewRouter(handler.NewHealthHandler(archiveSvc, cfg.Storage.TempPath), cfg.Server.APIKey)
		srv = &http.Server{
			Addr:         cfg.Server.Address(),
			Handler:      router,
			ReadTimeout:  cfg.Server.ReadTimeout,
			WriteTimeout: cfg.Server.WriteTimeout,
		}
		g.Go(func() error {
			logger.Info("starting HTTP server", "addr", srv.Addr)
			if err := srv.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
				return fmt.Errorf("http server: %w", err)
			}
			return nil
		})
	}

	g.Go(func() error {
		<-gctx.Done()
		logger.Info("shutting down")

		// Stop intake first so no new jobs arrive while draining.
		if err := bot.Close(); err != nil {
			logger.Error("discord close error", "error", err)
		}

		if err := pool.Stop(25 * time.Second); err != nil {
			logger.Error("worker pool shutdown error", "error", err)
		}

		if srv != nil {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
			defer cancel()
			if err := srv.Shutdown(shutdownCtx); err != nil {
				logger.Error("server shutdown error", "error", err)
			}
		}
		return nil
	})

	return g.Wait()
}

func openDedup(ctx context.Context, cfg config.DedupConfig) (dedupStore, error) {
	switch cfg.Driver {
	case "sqlite":
		repo, err := repository.NewSQLiteDedupRepository(ctx, cfg.DSN)
		if err != nil {
			return nil, fmt.Errorf("open dedup store: %w", err)
		}
		return repo, nil
	default:
		return repository.NewInMemoryDedupRepository(), nil
	}
}

func newLogger(cfg config.LogConfig) *slog.Logger {
	level := slog.LevelInfo
	switch strings.ToLower(cfg.Level) {
	case "debug":
		level = slog.LevelDebug
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	}

	opts := &slog.HandlerOptions{Level: level}
	if strings.ToLower(cfg.Format) == "text" {
		return slog.New(slog.NewTextHandler(os.Stdout, opts))
	}
	return slog.New(slog.NewJSONHandler(os.Stdout, opts))
}
