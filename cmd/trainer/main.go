package main

import (
	"context"
	"database/sql"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"carvalue/internal/config"
	"carvalue/internal/exporter"
	"carvalue/internal/infrastructure"
	"carvalue/internal/ingest"
	"carvalue/internal/normalizer"
	"carvalue/internal/pricing"
	"carvalue/internal/store"
)

func main() {
	configPath := flag.String("config", "", "path to config file (defaults to config.yaml)")
	input := flag.String("input", "", "listings file (.csv or .xlsx); when empty, listings are loaded from the database in -listings-dsn")
	listingsDSN := flag.String("listings-dsn", "", "postgres DSN of the scraper's listings database")
	full := flag.Bool("full", false, "clear the model store and retrain from scratch")
	reportDir := flag.String("report-dir", "", "when set, write models.csv and train_summary.csv there")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		slog.Error("Failed to load configuration", "error", err)
		os.Exit(1)
	}

	infrastructure.MustInitializeLogger(cfg.Logging)

	// One trace ID per run so every log line of this batch correlates.
	ctx := infrastructure.ContextWithTraceID(context.Background())
	logger := infrastructure.WithComponent(infrastructure.LoggerWithContext(ctx), "trainer")

	modelStore, closer, err := openStore(cfg.Store)
	if err != nil {
		logger.Error("Failed to open model store", "error", err)
		os.Exit(1)
	}
	if closer != nil {
		defer closer()
	}

	observations, err := loadObservations(ctx, *input, *listingsDSN, logger)
	if err != nil {
		logger.Error("Failed to load observations", "error", err)
		os.Exit(1)
	}
	logger.Info("Observations loaded", "count", len(observations))

	router := pricing.NewRouter(cfg.Families(), cfg.Catalog.Exclusions)
	trainer := pricing.NewTrainer(cfg.Params(), router, modelStore, logger)
	if cfg.Pricing.MaxConcurrency > 0 {
		trainer.SetConcurrency(cfg.Pricing.MaxConcurrency)
	}

	var summary *pricing.TrainSummary
	if *full {
		summary, err = trainer.Retrain(ctx, observations, time.Now())
	} else {
		summary, err = trainer.Train(ctx, observations, time.Now())
	}
	if err != nil {
		logger.Error("Training run failed", "error", err)
		os.Exit(1)
	}

	logger.Info("Training run complete",
		"run_id", summary.RunID,
		"buckets", summary.Buckets,
		"updated", summary.Updated,
		"skipped", summary.Skipped,
		"duration", summary.Duration.String())

	if *reportDir != "" {
		if err := writeReports(ctx, *reportDir, modelStore, summary, logger); err != nil {
			logger.Error("Failed to write reports", "error", err)
			os.Exit(1)
		}
	}
}

// loadObservations picks the ingest source from the flags.
func loadObservations(ctx context.Context, input, listingsDSN string, logger *slog.Logger) ([]pricing.Observation, error) {
	norm := normalizer.New()

	if input != "" {
		switch strings.ToLower(filepath.Ext(input)) {
		case ".csv":
			return ingest.NewCSVSource(input, norm, logger).Load(ctx)
		case ".xlsx":
			return ingest.NewXLSXSource(input, norm, logger).Load(ctx)
		default:
			return nil, fmt.Errorf("unsupported input file type: %s", input)
		}
	}

	if listingsDSN == "" {
		return nil, fmt.Errorf("either -input or -listings-dsn is required")
	}
	db, err := sql.Open("postgres", listingsDSN)
	if err != nil {
		return nil, fmt.Errorf("open listings database: %w", err)
	}
	defer db.Close()
	if err := db.PingContext(ctx); err != nil {
		return nil, fmt.Errorf("ping listings database: %w", err)
	}
	return ingest.NewPostgresSource(db, norm, logger).Load(ctx)
}

func openStore(cfg config.StoreConfig) (pricing.ModelStore, func() error, error) {
	switch cfg.Driver {
	case "memory":
		return store.NewMemory(), nil, nil
	case "sqlite":
		s, err := store.OpenSQLite(cfg.Path)
		if err != nil {
			return nil, nil, err
		}
		return s, s.Close, nil
	case "postgres":
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		s, err := store.OpenPostgres(ctx, cfg.DSN)
		if err != nil {
			return nil, nil, err
		}
		return s, s.Close, nil
	default:
		return nil, nil, fmt.Errorf("unknown store driver: %q", cfg.Driver)
	}
}

func writeReports(ctx context.Context, dir string, modelStore pricing.ModelStore, summary *pricing.TrainSummary, logger *slog.Logger) error {
	models, err := modelStore.List(ctx)
	if err != nil {
		return fmt.Errorf("list models: %w", err)
	}

	w := exporter.NewCSVWriter(dir, logger)
	if err := w.ExportModels("models.csv", models); err != nil {
		return err
	}
	return w.ExportTrainSummary("train_summary.csv", summary)
}
