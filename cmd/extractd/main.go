package main

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"github.com/ishimwe-dev/docextract/internal/artifact"
	"github.com/ishimwe-dev/docextract/internal/common"
	"github.com/ishimwe-dev/docextract/internal/core"
	"github.com/ishimwe-dev/docextract/internal/core/async"
	"github.com/ishimwe-dev/docextract/internal/llm/gemini"
	"github.com/ishimwe-dev/docextract/internal/ratelimit"
	repo "github.com/ishimwe-dev/docextract/internal/repository"
	jobsvc "github.com/ishimwe-dev/docextract/internal/services/jobs"
	"github.com/ishimwe-dev/docextract/internal/webhook"
)

func main() {
	_ = godotenv.Load()

	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: slog.LevelInfo,
	}))
	slog.SetDefault(logger)

	cfg := common.LoadConfig()
	if err := cfg.Validate(); err != nil {
		logger.Error("invalid configuration", "error", err)
		os.Exit(2)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	store, err := repo.Open(ctx, repo.Config{
		DSN:              cfg.Database.DSN,
		MaxConns:         cfg.Database.MaxConns,
		MinConns:         cfg.Database.MinConns,
		MaxConnLifetime:  cfg.Database.MaxConnLifetime,
		MaxConnIdleTime:  cfg.Database.MaxConnIdleTime,
		DialTimeout:      cfg.Database.DialTimeout,
		StatementTimeout: cfg.Database.StatementTimeout,
	}, logger)
	if err != nil {
		logger.Error("failed to open database", "error", err)
		os.Exit(1)
	}
	defer store.Close(logger)

	if err := store.HealthCheck(ctx, 5*time.Second); err != nil {
		logger.Error("failed to ping database", "error", err)
		os.Exit(1)
	}
	if err := store.Migrate(ctx, logger); err != nil {
		logger.Error("failed to apply schema", "error", err)
		os.Exit(1)
	}

	creditsRepo := repo.NewCreditsRepository(store, logger)
	docsRepo := repo.NewDocumentRepository(store, logger)
	templatesRepo := repo.NewTemplateRepository(store, logger)
	jobsRepo := repo.NewJobRepository(store, logger)
	fieldsRepo := repo.NewExtractedFieldRepository(store, logger)
	usageRepo := repo.NewUsageRepository(store, logger)

	limiter := ratelimit.New(cfg.Limiter.RequestsPerMinute, cfg.Limiter.MaxConcurrency)

	geminiClient := gemini.NewClient(gemini.Config{
		APIKey:           cfg.Provider.APIKey,
		BaseURL:          cfg.Provider.BaseURL,
		Model:            cfg.Provider.Model,
		TemplateGenModel: cfg.Provider.TemplateGenModel,
		Temperature:      cfg.Provider.Temperature,
		Timeout:          cfg.Provider.Timeout,
	}, logger)

	processor := core.NewProcessor(core.ProcessorParams{
		Logger:           logger,
		Documents:        docsRepo,
		Templates:        templatesRepo,
		Jobs:             jobsRepo,
		Fields:           fieldsRepo,
		Usage:            usageRepo,
		Credits:          creditsRepo,
		Provider:         geminiClient,
		TemplateGen:      geminiClient,
		Fetcher:          artifact.NewFetcher(cfg.Provider.Timeout, logger),
		Notifier:         webhook.NewNotifier(cfg.Webhook.Timeout, logger),
		Limiter:          limiter,
		PageCost:         int64(cfg.Credits.PageCost),
		TemplateGenCost:  int64(cfg.Credits.TemplateGenCost),
		ArtifactCacheDir: "./tmp",
	})

	queue := async.NewJobQueue(processor, logger,
		async.WithWorkers(cfg.Worker.Workers),
		async.WithQueueSize(cfg.Worker.QueueSize),
		async.WithJobTimeout(cfg.Worker.JobTimeout),
	)

	service := jobsvc.NewService(jobsRepo, docsRepo, templatesRepo, queue, logger)

	// Jobs left queued by a previous run get picked up again; claim and
	// charge idempotency make this safe.
	queued, err := jobsRepo.ListQueued(ctx, cfg.Worker.QueueSize)
	if err != nil {
		logger.Error("failed to list queued jobs", "error", err)
	}
	for _, id := range queued {
		if err := service.Schedule(ctx, id); err != nil {
			logger.Warn("failed to re-enqueue job", "job_id", id, "error", err)
		}
	}
	logger.Info("extractd started",
		"workers", cfg.Worker.Workers,
		"requeued", len(queued),
		"provider", geminiClient.Name(),
		"model", cfg.Provider.Model,
	)

	<-ctx.Done()
	logger.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	queue.Shutdown(shutdownCtx)
}
