package pricing

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"time"
)

// Query is one prediction request. Make and Model may be free text or
// canonical keys; when a Normalizer is injected it maps them into the
// training key space, otherwise they are used as keys verbatim.
type Query struct {
	Make       string  `json:"make" validate:"omitempty,max=100"`
	Model      string  `json:"model" validate:"omitempty,max=100"`
	Year       int     `json:"year" validate:"required,gte=1990"`
	Kilometers float64 `json:"kilometers" validate:"gte=0"`
}

// Band is the error band around a point estimate, each endpoint separately
// floored at zero.
type Band struct {
	Low  float64 `json:"low"`
	High float64 `json:"high"`
}

// Prediction is the serving-time result. When no stored model matched at any
// tier, TierUsed is TierNone and the estimate fields are null; a missing
// model is never an error and never a fabricated price.
type Prediction struct {
	Estimate *float64 `json:"estimate"`
	TierUsed Tier     `json:"tier_used"`
	Bucket   string   `json:"bucket,omitempty"`
	RMSE     *float64 `json:"rmse,omitempty"`
	Band     *Band    `json:"band,omitempty"`
}

// Resolver answers prediction queries by walking the bucket hierarchy from
// most to least specific against the model store. Lookups are read-only and
// side-effect-free; a Resolver may serve arbitrary concurrency.
type Resolver struct {
	store      ModelStore
	normalizer Normalizer
	logger     *slog.Logger
}

// NewResolver creates a resolver. normalizer may be nil when callers pass
// canonical keys directly.
func NewResolver(store ModelStore, normalizer Normalizer, logger *slog.Logger) *Resolver {
	if logger == nil {
		logger = slog.Default()
	}
	return &Resolver{store: store, normalizer: normalizer, logger: logger}
}

// Predict resolves the query to the most specific usable bucket and computes
// the point estimate and error band from its stored coefficients. The
// fallback order is the fixed constant model_year, model, make, global; the
// first tier with a stored record wins.
func (r *Resolver) Predict(ctx context.Context, q Query, asOf time.Time) (*Prediction, error) {
	makeKey, modelKey := q.Make, q.Model
	if r.normalizer != nil {
		makeKey, modelKey = r.normalizer.Normalize(q.Make, q.Model)
	}

	for _, tier := range fallbackOrder {
		key, ok := candidateKey(tier, makeKey, modelKey, q.Year)
		if !ok {
			continue
		}

		model, err := r.store.Lookup(ctx, key)
		if errors.Is(err, ErrModelNotFound) {
			continue
		}
		if err != nil {
			return nil, fmt.Errorf("lookup bucket %s: %w", key, err)
		}

		r.logger.DebugContext(ctx, "resolved prediction bucket",
			"tier", string(tier),
			"bucket", key.String(),
			"sample_count", model.SampleCount,
		)
		return predictionFrom(model, q, asOf), nil
	}

	return &Prediction{TierUsed: TierNone}, nil
}

// candidateKey builds the lookup key for a tier, or reports that the query
// lacks the components the tier requires.
func candidateKey(tier Tier, makeKey, modelKey string, year int) (BucketKey, bool) {
	switch tier {
	case TierModelYear:
		if makeKey == "" || modelKey == "" || year == 0 {
			return BucketKey{}, false
		}
		return BucketKey{Tier: tier, MakeKey: makeKey, ModelKey: modelKey, Year: year}, true
	case TierModel:
		if makeKey == "" || modelKey == "" {
			return BucketKey{}, false
		}
		return BucketKey{Tier: tier, MakeKey: makeKey, ModelKey: modelKey}, true
	case TierMake:
		if makeKey == "" {
			return BucketKey{}, false
		}
		return BucketKey{Tier: tier, MakeKey: makeKey}, true
	case TierGlobal:
		return BucketKey{Tier: tier}, true
	default:
		return BucketKey{}, false
	}
}

// predictionFrom evaluates the stored coefficient vector on the query's
// features, using the same formula as training. Coefficients that were never
// estimated are stored as zero, so the full 4-term evaluation is always
// correct. The estimate and both band endpoints are floored at zero.
func predictionFrom(model *FittedModel, q Query, asOf time.Time) *Prediction {
	age := math.Max(0, float64(asOf.Year()-q.Year))
	logKM := math.Log1p(math.Max(0, q.Kilometers))

	estimate := model.Coef.Intercept +
		model.Coef.Age*age +
		model.Coef.LogKM*logKM +
		model.Coef.AgeLogKM*age*logKM
	estimate = math.Max(0, estimate)

	rmse := model.RMSE
	return &Prediction{
		Estimate: &estimate,
		TierUsed: model.Key.Tier,
		Bucket:   model.Key.String(),
		RMSE:     &rmse,
		Band: &Band{
			Low:  math.Max(0, estimate-rmse),
			High: math.Max(0, estimate+rmse),
		},
	}
}
