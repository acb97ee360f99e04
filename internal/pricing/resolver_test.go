package pricing

import (
	"context"
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// lowerNormalizer is a trivial Normalizer for testing the injection point.
type lowerNormalizer struct{}

func (lowerNormalizer) Normalize(mk, mdl string) (string, string) {
	lower := func(s string) string {
		out := []rune(s)
		for i, r := range out {
			if r >= 'A' && r <= 'Z' {
				out[i] = r + 32
			}
		}
		return string(out)
	}
	return lower(mk), lower(mdl)
}

func seededStore(t *testing.T) *fakeStore {
	t.Helper()
	store := newFakeStore()
	models := []FittedModel{
		{
			Key:         BucketKey{Tier: TierModelYear, MakeKey: "volkswagen", ModelKey: "golf", Year: 2019},
			Coef:        Coefficients{Intercept: 3_600_000, LogKM: -65_000},
			SampleCount: 14,
			RMSE:        80_000,
			TrainedAt:   asOf,
		},
		{
			Key:         BucketKey{Tier: TierModel, MakeKey: "volkswagen", ModelKey: "golf"},
			Coef:        Coefficients{Intercept: 3_900_000, Age: -90_000, LogKM: -55_000},
			SampleCount: 60,
			RMSE:        150_000,
			TrainedAt:   asOf,
		},
		{
			Key:         BucketKey{Tier: TierMake, MakeKey: "volkswagen"},
			Coef:        Coefficients{Intercept: 4_200_000, Age: -110_000, LogKM: -60_000, AgeLogKM: -1_500},
			SampleCount: 400,
			RMSE:        300_000,
			TrainedAt:   asOf,
		},
		{
			Key:         BucketKey{Tier: TierGlobal},
			Coef:        Coefficients{Intercept: 4_000_000, Age: -100_000, LogKM: -50_000},
			SampleCount: 5000,
			RMSE:        500_000,
			TrainedAt:   asOf,
		},
	}
	for _, m := range models {
		require.NoError(t, store.Replace(context.Background(), m))
	}
	return store
}

func TestPredictPrefersMostSpecificTier(t *testing.T) {
	resolver := NewResolver(seededStore(t), nil, nil)

	q := Query{Make: "volkswagen", Model: "golf", Year: 2019, Kilometers: 50_000}
	pred, err := resolver.Predict(context.Background(), q, asOf)
	require.NoError(t, err)

	assert.Equal(t, TierModelYear, pred.TierUsed)
	require.NotNil(t, pred.Estimate)
	want := 3_600_000 - 65_000*math.Log1p(50_000)
	assert.InDelta(t, want, *pred.Estimate, 1e-6)

	require.NotNil(t, pred.RMSE)
	assert.Equal(t, 80_000.0, *pred.RMSE)
	require.NotNil(t, pred.Band)
	assert.InDelta(t, want-80_000, pred.Band.Low, 1e-6)
	assert.InDelta(t, want+80_000, pred.Band.High, 1e-6)
}

func TestPredictFallsThroughTiers(t *testing.T) {
	store := seededStore(t)
	resolver := NewResolver(store, nil, nil)
	q := Query{Make: "volkswagen", Model: "golf", Year: 2019, Kilometers: 50_000}

	// Remove tiers one by one; each removal moves the answer down exactly
	// one level.
	store.delete(BucketKey{Tier: TierModelYear, MakeKey: "volkswagen", ModelKey: "golf", Year: 2019})
	pred, err := resolver.Predict(context.Background(), q, asOf)
	require.NoError(t, err)
	assert.Equal(t, TierModel, pred.TierUsed)

	store.delete(BucketKey{Tier: TierModel, MakeKey: "volkswagen", ModelKey: "golf"})
	pred, err = resolver.Predict(context.Background(), q, asOf)
	require.NoError(t, err)
	assert.Equal(t, TierMake, pred.TierUsed)

	store.delete(BucketKey{Tier: TierMake, MakeKey: "volkswagen"})
	pred, err = resolver.Predict(context.Background(), q, asOf)
	require.NoError(t, err)
	assert.Equal(t, TierGlobal, pred.TierUsed)
}

func TestPredictUnknownVehicleUsesGlobal(t *testing.T) {
	resolver := NewResolver(seededStore(t), nil, nil)

	// A make nobody trained on still gets a global answer.
	q := Query{Make: "lada", Model: "niva", Year: 2015, Kilometers: 120_000}
	pred, err := resolver.Predict(context.Background(), q, asOf)
	require.NoError(t, err)
	assert.Equal(t, TierGlobal, pred.TierUsed)
	require.NotNil(t, pred.Estimate)
}

func TestPredictMissingComponentsSkipTiers(t *testing.T) {
	resolver := NewResolver(seededStore(t), nil, nil)

	// No model key: model_year and model tiers are not even attempted.
	q := Query{Make: "volkswagen", Year: 2019, Kilometers: 50_000}
	pred, err := resolver.Predict(context.Background(), q, asOf)
	require.NoError(t, err)
	assert.Equal(t, TierMake, pred.TierUsed)

	// No make at all: straight to global.
	pred, err = resolver.Predict(context.Background(), Query{Year: 2019}, asOf)
	require.NoError(t, err)
	assert.Equal(t, TierGlobal, pred.TierUsed)
}

func TestPredictEmptyStoreReturnsNone(t *testing.T) {
	resolver := NewResolver(newFakeStore(), nil, nil)

	pred, err := resolver.Predict(context.Background(), Query{Make: "volkswagen", Model: "golf", Year: 2019}, asOf)
	require.NoError(t, err)

	assert.Equal(t, TierNone, pred.TierUsed)
	assert.Nil(t, pred.Estimate)
	assert.Nil(t, pred.RMSE)
	assert.Nil(t, pred.Band)
	assert.Empty(t, pred.Bucket)
}

func TestPredictFloorsAtZero(t *testing.T) {
	store := newFakeStore()
	require.NoError(t, store.Replace(context.Background(), FittedModel{
		Key:         BucketKey{Tier: TierGlobal},
		Coef:        Coefficients{Intercept: 500_000, Age: -100_000},
		SampleCount: 100,
		RMSE:        200_000,
		TrainedAt:   asOf,
	}))
	resolver := NewResolver(store, nil, nil)

	// Age 20 drives the raw estimate to -1.5M; the served estimate and the
	// band's low end clamp to zero.
	pred, err := resolver.Predict(context.Background(), Query{Year: 2005, Kilometers: 10_000}, asOf)
	require.NoError(t, err)

	require.NotNil(t, pred.Estimate)
	assert.Zero(t, *pred.Estimate)
	require.NotNil(t, pred.Band)
	assert.Zero(t, pred.Band.Low)
	assert.Equal(t, 200_000.0, pred.Band.High)
}

func TestPredictNormalizesFreeTextInput(t *testing.T) {
	resolver := NewResolver(seededStore(t), lowerNormalizer{}, nil)

	pred, err := resolver.Predict(context.Background(), Query{Make: "Volkswagen", Model: "GOLF", Year: 2019, Kilometers: 50_000}, asOf)
	require.NoError(t, err)
	assert.Equal(t, TierModelYear, pred.TierUsed)
}

func TestPredictFutureYearClampsAge(t *testing.T) {
	resolver := NewResolver(seededStore(t), nil, nil)

	// Year beyond asOf would make age negative; it clamps to zero instead
	// of inflating the estimate.
	pred, err := resolver.Predict(context.Background(), Query{Make: "toyota", Year: asOf.Year() + 1, Kilometers: 0}, asOf)
	require.NoError(t, err)
	assert.Equal(t, TierGlobal, pred.TierUsed)
	require.NotNil(t, pred.Estimate)
	assert.InDelta(t, 4_000_000, *pred.Estimate, 1e-9)
}
