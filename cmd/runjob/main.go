package main

import (
	"context"
	"log/slog"
	"os"
	"time"

	"github.com/google/uuid"
	"github.com/joho/godotenv"

	"github.com/ishimwe-dev/docextract/constants"
	"github.com/ishimwe-dev/docextract/internal/artifact"
	"github.com/ishimwe-dev/docextract/internal/common"
	"github.com/ishimwe-dev/docextract/internal/core"
	"github.com/ishimwe-dev/docextract/internal/llm/gemini"
	"github.com/ishimwe-dev/docextract/internal/ratelimit"
	repo "github.com/ishimwe-dev/docextract/internal/repository"
	"github.com/ishimwe-dev/docextract/internal/webhook"
)

// runjob executes a single queued job synchronously. Useful for debugging a
// stuck job without the daemon.
func main() {
	_ = godotenv.Load()

	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: slog.LevelDebug,
	}))
	slog.SetDefault(logger)

	if len(os.Args) != 2 {
		logger.Error("usage", "cmd", "runjob <job-id-uuid>")
		os.Exit(2)
	}
	jobID, err := uuid.Parse(os.Args[1])
	if err != nil {
		logger.Error("invalid job id (must be UUID)", "arg", os.Args[1], "error", err)
		os.Exit(2)
	}

	cfg := common.LoadConfig()
	if err := cfg.Validate(); err != nil {
		logger.Error("invalid configuration", "error", err)
		os.Exit(2)
	}

	ctx, cancel := context.WithTimeout(context.Background(), cfg.Worker.JobTimeout)
	defer cancel()

	store, err := repo.Open(ctx, repo.Config{
		DSN:             cfg.Database.DSN,
		MaxConns:        5,
		MinConns:        1,
		MaxConnLifetime: 30 * time.Minute,
		MaxConnIdleTime: 5 * time.Minute,
		DialTimeout:     3 * time.Second,
	}, logger)
	if err != nil {
		logger.Error("open db", "error", err)
		os.Exit(1)
	}
	defer store.Close(logger)

	geminiClient := gemini.NewClient(gemini.Config{
		APIKey:           cfg.Provider.APIKey,
		BaseURL:          cfg.Provider.BaseURL,
		Model:            cfg.Provider.Model,
		TemplateGenModel: cfg.Provider.TemplateGenModel,
		Temperature:      cfg.Provider.Temperature,
		Timeout:          cfg.Provider.Timeout,
	}, logger)

	processor := core.NewProcessor(core.ProcessorParams{
		Logger:          logger,
		Documents:       repo.NewDocumentRepository(store, logger),
		Templates:       repo.NewTemplateRepository(store, logger),
		Jobs:            repo.NewJobRepository(store, logger),
		Fields:          repo.NewExtractedFieldRepository(store, logger),
		Usage:           repo.NewUsageRepository(store, logger),
		Credits:         repo.NewCreditsRepository(store, logger),
		Provider:        geminiClient,
		TemplateGen:     geminiClient,
		Fetcher:         artifact.NewFetcher(cfg.Provider.Timeout, logger),
		Notifier:        webhook.NewNotifier(cfg.Webhook.Timeout, logger),
		Limiter:         ratelimit.New(cfg.Limiter.RequestsPerMinute, cfg.Limiter.MaxConcurrency),
		PageCost:        int64(cfg.Credits.PageCost),
		TemplateGenCost: int64(cfg.Credits.TemplateGenCost),
	})

	start := time.Now()
	processor.Run(ctx, jobID)
	dur := time.Since(start)

	job, err := repo.NewJobRepository(store, logger).GetByID(ctx, jobID)
	if err != nil {
		logger.Error("job lookup after run failed", "job_id", jobID, "error", err)
		os.Exit(1)
	}
	logger.Info("run complete",
		"job_id", jobID,
		"status", job.Status,
		"error_message", job.ErrorMessage,
		"duration_ms", dur.Milliseconds(),
	)
	if job.Status != constants.JobStatusSucceeded {
		os.Exit(1)
	}
}
