package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"time"

	"carvalue/internal/config"
	"carvalue/internal/infrastructure"
	"carvalue/internal/normalizer"
	"carvalue/internal/pricing"
	"carvalue/internal/store"
)

func main() {
	configPath := flag.String("config", "", "path to config file (defaults to config.yaml)")
	makeFlag := flag.String("make", "", "vehicle make, free text")
	modelFlag := flag.String("model", "", "vehicle model, free text")
	year := flag.Int("year", 0, "model year")
	km := flag.Float64("km", 0, "odometer reading in kilometers")
	flag.Parse()

	if *year == 0 {
		fmt.Fprintln(os.Stderr, "usage: predict -make <make> -model <model> -year <year> [-km <km>]")
		os.Exit(2)
	}

	cfg, err := config.Load(*configPath)
	if err != nil {
		slog.Error("Failed to load configuration", "error", err)
		os.Exit(1)
	}

	infrastructure.MustInitializeLogger(cfg.Logging)

	ctx := infrastructure.ContextWithTraceID(context.Background())
	logger := infrastructure.WithComponent(infrastructure.LoggerWithContext(ctx), "predict")

	modelStore, closer, err := openStore(cfg.Store)
	if err != nil {
		logger.Error("Failed to open model store", "error", err)
		os.Exit(1)
	}
	if closer != nil {
		defer closer()
	}

	resolver := pricing.NewResolver(modelStore, normalizer.New(), logger)
	prediction, err := resolver.Predict(ctx, pricing.Query{
		Make:       *makeFlag,
		Model:      *modelFlag,
		Year:       *year,
		Kilometers: *km,
	}, time.Now())
	if err != nil {
		logger.Error("Prediction failed", "error", err)
		os.Exit(1)
	}

	encoder := json.NewEncoder(os.Stdout)
	encoder.SetIndent("", "  ")
	if err := encoder.Encode(prediction); err != nil {
		logger.Error("Failed to encode prediction", "error", err)
		os.Exit(1)
	}
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
