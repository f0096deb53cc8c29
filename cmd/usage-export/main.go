package main

import (
	"context"
	"flag"
	"log/slog"
	"os"
	"time"

	"github.com/google/uuid"
	"github.com/joho/godotenv"

	"github.com/ishimwe-dev/docextract/internal/export"
	repo "github.com/ishimwe-dev/docextract/internal/repository"
)

func main() {
	_ = godotenv.Load()

	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
		Level: slog.LevelInfo,
	}))
	slog.SetDefault(logger)

	var (
		orgFlag   = flag.String("org", "", "organization UUID (required)")
		outFlag   = flag.String("out", "usage.xlsx", "output file path")
		limitFlag = flag.Int("limit", 1000, "max usage records to export")
	)
	flag.Parse()

	orgID, err := uuid.Parse(*orgFlag)
	if err != nil {
		logger.Error("invalid -org (must be UUID)", "arg", *orgFlag, "error", err)
		os.Exit(2)
	}

	dbURL := os.Getenv("DB_URL")
	if dbURL == "" {
		logger.Error("DB_URL env var is required")
		os.Exit(2)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)
	defer cancel()

	store, err := repo.Open(ctx, repo.Config{
		DSN:             dbURL,
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

	svc := export.NewService(repo.NewUsageRepository(store, logger), logger)
	data, err := svc.ExportUsageXLSX(ctx, orgID, *limitFlag)
	if err != nil {
		logger.Error("export failed", "org_id", orgID, "error", err)
		os.Exit(1)
	}

	if err := os.WriteFile(*outFlag, data, 0o644); err != nil {
		logger.Error("write output", "path", *outFlag, "error", err)
		os.Exit(1)
	}
	logger.Info("export written", "path", *outFlag, "bytes", len(data))
}
