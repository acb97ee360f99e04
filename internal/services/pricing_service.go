package services

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"carvalue/internal/infrastructure"
	"carvalue/internal/pricing"
)

// PricingService is the application-level facade over the training and
// serving pipelines. Handlers talk to this type only; it owns metric
// recording and request-scoped logging around the pricing package.
type PricingService struct {
	trainer  *pricing.Trainer
	resolver *pricing.Resolver
	store    pricing.ModelStore
	metrics  *infrastructure.BusinessMetrics
	logger   *slog.Logger

	// now is injected for deterministic tests.
	now func() time.Time
}

// NewPricingService creates the service. metrics may be nil when telemetry
// is disabled.
func NewPricingService(trainer *pricing.Trainer, resolver *pricing.Resolver, store pricing.ModelStore, metrics *infrastructure.BusinessMetrics, logger *slog.Logger) *PricingService {
	if logger == nil {
		logger = slog.Default()
	}
	return &PricingService{
		trainer:  trainer,
		resolver: resolver,
		store:    store,
		metrics:  metrics,
		logger:   logger.With(slog.String("service", "pricing")),
		now:      time.Now,
	}
}

// SetClock overrides the service clock. Test hook.
func (s *PricingService) SetClock(now func() time.Time) {
	if now != nil {
		s.now = now
	}
}

// Predict resolves one price query against the stored models.
func (s *PricingService) Predict(ctx context.Context, q pricing.Query) (*pricing.Prediction, error) {
	ctx = infrastructure.EnsureTraceID(ctx)
	start := time.Now()

	pred, err := s.resolver.Predict(ctx, q, s.now())
	if err != nil {
		infrastructure.WithError(s.logger, err).ErrorContext(ctx, "prediction failed",
			slog.String("make", q.Make),
			slog.String("model", q.Model),
			slog.Int("year", q.Year),
		)
		return nil, fmt.Errorf("predict: %w", err)
	}

	infrastructure.RecordPredictionMetrics(ctx, s.metrics, string(pred.TierUsed), time.Since(start))

	s.logger.InfoContext(ctx, "prediction served",
		slog.String("tier_used", string(pred.TierUsed)),
		slog.String("bucket", pred.Bucket),
		slog.Duration("duration", time.Since(start)),
	)
	return pred, nil
}

// Train runs one incremental training pass over the given observations.
// Buckets without enough clean data keep their previously stored record.
func (s *PricingService) Train(ctx context.Context, observations []pricing.Observation) (*pricing.TrainSummary, error) {
	return s.runTraining(ctx, observations, false)
}

// Retrain wipes the model store and trains from scratch, so buckets that no
// longer qualify lose their stale records.
func (s *PricingService) Retrain(ctx context.Context, observations []pricing.Observation) (*pricing.TrainSummary, error) {
	return s.runTraining(ctx, observations, true)
}

func (s *PricingService) runTraining(ctx context.Context, observations []pricing.Observation, full bool) (*pricing.TrainSummary, error) {
	ctx = infrastructure.EnsureTraceID(ctx)
	asOf := s.now()

	var (
		summary *pricing.TrainSummary
		err     error
	)
	if full {
		summary, err = s.trainer.Retrain(ctx, observations, asOf)
	} else {
		summary, err = s.trainer.Train(ctx, observations, asOf)
	}
	if err != nil {
		infrastructure.WithError(s.logger, err).ErrorContext(ctx, "training run failed",
			slog.Bool("full_retrain", full),
			slog.Int("observations", len(observations)),
		)
		return nil, fmt.Errorf("training run: %w", err)
	}

	infrastructure.RecordTrainingMetrics(ctx, s.metrics, summary.RunID,
		summary.Updated, summary.Skipped, len(observations), summary.Duration)

	return summary, nil
}

// ListModels returns every stored fitted model.
func (s *PricingService) ListModels(ctx context.Context) ([]pricing.FittedModel, error) {
	models, err := s.store.List(ctx)
	if err != nil {
		return nil, fmt.Errorf("list models: %w", err)
	}
	return models, nil
}

// HealthStatus summarizes service readiness for the health endpoint.
type HealthStatus struct {
	Status        string     `json:"status"`
	ModelCount    int        `json:"model_count"`
	LastTrainedAt *time.Time `json:"last_trained_at,omitempty"`
	Timestamp     time.Time  `json:"timestamp"`
}

// Health reports whether the store is reachable and how many models it
// holds. An empty store is "degraded" rather than unhealthy: the server can
// accept training runs but every prediction will come back with no estimate.
func (s *PricingService) Health(ctx context.Context) (*HealthStatus, error) {
	models, err := s.store.List(ctx)
	if err != nil {
		return nil, fmt.Errorf("health check: %w", err)
	}

	status := &HealthStatus{
		Status:     "healthy",
		ModelCount: len(models),
		Timestamp:  s.now().UTC(),
	}
	if len(models) == 0 {
		status.Status = "degraded"
		return status, nil
	}

	last := models[0].TrainedAt
	for _, m := range models[1:] {
		if m.TrainedAt.After(last) {
			last = m.TrainedAt
		}
	}
	status.LastTrainedAt = &last
	return status, nil
}
