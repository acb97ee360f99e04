package pricing

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"
)

// Trainer runs one batch training pass: route observations into buckets,
// clean each bucket, fit the robust regression, and replace the persisted
// record. Buckets are independent and fitted in parallel; no bucket's fit
// reads another bucket's data.
type Trainer struct {
	params Params
	router *Router
	store  ModelStore
	logger *slog.Logger

	maxConcurrency int
}

// NewTrainer creates a trainer with the given parameters, router, and store.
func NewTrainer(params Params, router *Router, store ModelStore, logger *slog.Logger) *Trainer {
	if logger == nil {
		logger = slog.Default()
	}
	return &Trainer{
		params:         params,
		router:         router,
		store:          store,
		logger:         logger,
		maxConcurrency: 4,
	}
}

// SetConcurrency bounds the number of buckets fitted at once.
func (t *Trainer) SetConcurrency(n int) {
	if n > 0 {
		t.maxConcurrency = n
	}
}

// TrainSummary aggregates the outcome of one training run.
type TrainSummary struct {
	RunID       string             `json:"run_id"`
	TrainedAt   time.Time          `json:"trained_at"`
	Buckets     int                `json:"buckets"`
	Updated     int                `json:"updated"`
	Skipped     int                `json:"skipped"`
	SkipReasons map[SkipReason]int `json:"skip_reasons"`
	Duration    time.Duration      `json:"duration"`
}

// Train fits and persists every bucket with enough clean data, as of the
// injected clock. Buckets that fail a gate are counted as skips with their
// reason and leave any prior record for that key untouched; only a store
// write failure aborts the run.
func (t *Trainer) Train(ctx context.Context, observations []Observation, asOf time.Time) (*TrainSummary, error) {
	start := time.Now()

	if !t.params.IsValid() {
		return nil, fmt.Errorf("invalid training parameters")
	}
	if len(observations) == 0 {
		return nil, fmt.Errorf("no observations provided")
	}

	summary := &TrainSummary{
		RunID:       uuid.NewString(),
		TrainedAt:   asOf,
		SkipReasons: make(map[SkipReason]int),
	}

	buckets := t.router.Route(observations)
	summary.Buckets = len(buckets)

	t.logger.InfoContext(ctx, "starting training run",
		"run_id", summary.RunID,
		"observations", len(observations),
		"buckets", len(buckets),
		"as_of", asOf.Format(time.RFC3339),
	)

	var mu sync.Mutex
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(t.maxConcurrency)

	for key, rows := range buckets {
		key, rows := key, rows
		g.Go(func() error {
			model, err := t.trainBucket(gctx, key, rows, asOf)
			if err != nil {
				reason, ok := AsSkip(err)
				if !ok {
					return fmt.Errorf("bucket %s: %w", key, err)
				}
				t.logger.DebugContext(gctx, "bucket skipped",
					"run_id", summary.RunID,
					"bucket", key.String(),
					"reason", string(reason),
					"rows", len(rows),
				)
				mu.Lock()
				summary.Skipped++
				summary.SkipReasons[reason]++
				mu.Unlock()
				return nil
			}

			if err := t.store.Replace(gctx, *model); err != nil {
				return fmt.Errorf("replace model for bucket %s: %w", key, err)
			}

			mu.Lock()
			summary.Updated++
			mu.Unlock()
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return nil, err
	}

	summary.Duration = time.Since(start)
	t.logger.InfoContext(ctx, "training run completed",
		"run_id", summary.RunID,
		"updated", summary.Updated,
		"skipped", summary.Skipped,
		"duration", summary.Duration,
	)

	return summary, nil
}

// Retrain clears the store first and then trains, so buckets that no longer
// qualify lose their stale record and predictions for them revert to the
// next tier.
func (t *Trainer) Retrain(ctx context.Context, observations []Observation, asOf time.Time) (*TrainSummary, error) {
	t.logger.InfoContext(ctx, "clearing model store for full retrain")
	if err := t.store.Clear(ctx); err != nil {
		return nil, fmt.Errorf("clear model store: %w", err)
	}
	return t.Train(ctx, observations, asOf)
}

// trainBucket runs the per-bucket pipeline: clean, gate, build the design,
// fit, and expand into the persisted schema. Every failure is a *SkipError
// with a named reason.
func (t *Trainer) trainBucket(_ context.Context, key BucketKey, rows []Observation, asOf time.Time) (*FittedModel, error) {
	cleaned := Clean(rows, asOf.Year())

	design, err := BuildDesign(cleaned, key.Tier, asOf, t.params)
	if err != nil {
		return nil, err
	}

	fit, err := FitRobust(design, t.params)
	if err != nil {
		return nil, err
	}

	return &FittedModel{
		Key:         key,
		Coef:        design.Expand(fit.Beta),
		SampleCount: len(cleaned),
		RSquared:    fit.RSquared,
		RMSE:        fit.RMSE,
		TrainedAt:   asOf,
	}, nil
}
