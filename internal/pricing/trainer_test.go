package pricing

import (
	"context"
	"math"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeStore is a concurrency-safe in-test ModelStore.
type fakeStore struct {
	mu     sync.RWMutex
	models map[BucketKey]FittedModel
}

func newFakeStore() *fakeStore {
	return &fakeStore{models: make(map[BucketKey]FittedModel)}
}

func (s *fakeStore) Replace(_ context.Context, m FittedModel) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.models[m.Key] = m
	return nil
}

func (s *fakeStore) Lookup(_ context.Context, key BucketKey) (*FittedModel, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	m, ok := s.models[key]
	if !ok {
		return nil, ErrModelNotFound
	}
	return &m, nil
}

func (s *fakeStore) List(_ context.Context) ([]FittedModel, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]FittedModel, 0, len(s.models))
	for _, m := range s.models {
		out = append(out, m)
	}
	return out, nil
}

func (s *fakeStore) Clear(_ context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.models = make(map[BucketKey]FittedModel)
	return nil
}

func (s *fakeStore) delete(key BucketKey) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.models, key)
}

// golfRows builds a well-behaved model_year bucket: n 2019 golfs with
// spread mileage and prices roughly linear in log-kilometers.
func golfRows(n int) []Observation {
	rows := make([]Observation, n)
	for i := range rows {
		km := 30_000 + float64(i)*8_000
		price := 3_600_000 - 65_000*math.Log1p(km)
		if i%2 == 0 {
			price += 25_000
		} else {
			price -= 25_000
		}
		rows[i] = Observation{
			Price:      price,
			Year:       2019,
			Kilometers: km,
			ObservedAt: asOf.AddDate(0, 0, -i*3),
			MakeKey:    "volkswagen",
			ModelKey:   "golf",
		}
	}
	return rows
}

func TestTrainPersistsAllQualifyingTiers(t *testing.T) {
	store := newFakeStore()
	trainer := NewTrainer(DefaultParams(), NewRouter(nil, nil), store, nil)

	summary, err := trainer.Train(context.Background(), golfRows(20), asOf)
	require.NoError(t, err)

	assert.Equal(t, 4, summary.Buckets)
	assert.Equal(t, 4, summary.Updated)
	assert.Zero(t, summary.Skipped)
	assert.NotEmpty(t, summary.RunID)
	assert.Equal(t, asOf, summary.TrainedAt)

	for _, key := range []BucketKey{
		{Tier: TierModelYear, MakeKey: "volkswagen", ModelKey: "golf", Year: 2019},
		{Tier: TierModel, MakeKey: "volkswagen", ModelKey: "golf"},
		{Tier: TierMake, MakeKey: "volkswagen"},
		{Tier: TierGlobal},
	} {
		m, err := store.Lookup(context.Background(), key)
		require.NoError(t, err, "expected a stored model for %s", key)
		assert.Equal(t, asOf, m.TrainedAt)
		assert.Greater(t, m.SampleCount, 0)
	}
}

func TestTrainSkipLeavesExistingModelUntouched(t *testing.T) {
	store := newFakeStore()
	key := BucketKey{Tier: TierModel, MakeKey: "volvo", ModelKey: "xc60"}
	prior := FittedModel{
		Key:         key,
		Coef:        Coefficients{Intercept: 4_000_000},
		SampleCount: 30,
		RMSE:        120_000,
		TrainedAt:   asOf.AddDate(0, -1, 0),
	}
	require.NoError(t, store.Replace(context.Background(), prior))

	// Only 4 volvo rows this run: every volvo bucket fails its gate.
	rows := make([]Observation, 4)
	for i := range rows {
		rows[i] = Observation{
			Price: 4_000_000, Year: 2020, Kilometers: 40_000 + float64(i)*10_000,
			ObservedAt: asOf, MakeKey: "volvo", ModelKey: "xc60",
		}
	}

	trainer := NewTrainer(DefaultParams(), NewRouter(nil, nil), store, nil)
	summary, err := trainer.Train(context.Background(), rows, asOf)
	require.NoError(t, err)

	assert.Zero(t, summary.Updated)
	assert.Equal(t, summary.Buckets, summary.Skipped)
	assert.Equal(t, summary.Skipped, summary.SkipReasons[SkipTooFewAfterTrim]+summary.SkipReasons[SkipTooFewYearRows])

	got, err := store.Lookup(context.Background(), key)
	require.NoError(t, err)
	assert.Equal(t, prior, *got, "a skipped bucket must not create or corrupt the prior record")
}

func TestTrainIsIdempotent(t *testing.T) {
	rows := golfRows(20)

	first := newFakeStore()
	_, err := NewTrainer(DefaultParams(), NewRouter(nil, nil), first, nil).Train(context.Background(), rows, asOf)
	require.NoError(t, err)

	second := newFakeStore()
	_, err = NewTrainer(DefaultParams(), NewRouter(nil, nil), second, nil).Train(context.Background(), rows, asOf)
	require.NoError(t, err)

	firstModels, _ := first.List(context.Background())
	require.NotEmpty(t, firstModels)

	for _, fm := range firstModels {
		sm, err := second.Lookup(context.Background(), fm.Key)
		require.NoError(t, err)
		assert.InDelta(t, fm.Coef.Intercept, sm.Coef.Intercept, 1e-9)
		assert.InDelta(t, fm.Coef.Age, sm.Coef.Age, 1e-9)
		assert.InDelta(t, fm.Coef.LogKM, sm.Coef.LogKM, 1e-9)
		assert.InDelta(t, fm.Coef.AgeLogKM, sm.Coef.AgeLogKM, 1e-9)
		assert.InDelta(t, fm.RSquared, sm.RSquared, 1e-12)
		assert.InDelta(t, fm.RMSE, sm.RMSE, 1e-9)
		assert.Equal(t, fm.SampleCount, sm.SampleCount)
	}
}

func TestTrainModelYearEstimateNearSampleMean(t *testing.T) {
	store := newFakeStore()
	trainer := NewTrainer(DefaultParams(), NewRouter(nil, nil), store, nil)
	rows := golfRows(18)

	_, err := trainer.Train(context.Background(), rows, asOf)
	require.NoError(t, err)

	key := BucketKey{Tier: TierModelYear, MakeKey: "volkswagen", ModelKey: "golf", Year: 2019}
	m, err := store.Lookup(context.Background(), key)
	require.NoError(t, err)

	// Evaluate the fit at one observed mileage; it must land within the
	// stored RMSE of the underlying price level there.
	km := rows[3].Kilometers
	estimate := m.Coef.Intercept + m.Coef.LogKM*math.Log1p(km)
	trueLevel := 3_600_000 - 65_000*math.Log1p(km)
	assert.InDelta(t, trueLevel, estimate, m.RMSE)
	assert.Greater(t, m.RMSE, 0.0)

	// model_year fits estimate no age terms.
	assert.Zero(t, m.Coef.Age)
	assert.Zero(t, m.Coef.AgeLogKM)
}

func TestRetrainClearsStaleBuckets(t *testing.T) {
	store := newFakeStore()
	trainer := NewTrainer(DefaultParams(), NewRouter(nil, nil), store, nil)

	// First run has a healthy golf bucket.
	_, err := trainer.Train(context.Background(), golfRows(20), asOf)
	require.NoError(t, err)
	modelKey := BucketKey{Tier: TierModel, MakeKey: "volkswagen", ModelKey: "golf"}
	_, err = store.Lookup(context.Background(), modelKey)
	require.NoError(t, err)

	// Second run is a full retrain on a different make: the golf record
	// must be gone, reverting golf predictions to the next tier.
	other := make([]Observation, 12)
	for i := range other {
		other[i] = Observation{
			Price: 1_800_000 + float64(i)*40_000, Year: 2014 + i%6,
			Kilometers: 60_000 + float64(i)*12_000, ObservedAt: asOf,
			MakeKey: "skoda", ModelKey: "octavia",
		}
	}
	_, err = trainer.Retrain(context.Background(), other, asOf)
	require.NoError(t, err)

	_, err = store.Lookup(context.Background(), modelKey)
	assert.ErrorIs(t, err, ErrModelNotFound)
	_, err = store.Lookup(context.Background(), BucketKey{Tier: TierGlobal})
	assert.NoError(t, err)
}

func TestTrainRejectsBadInputs(t *testing.T) {
	trainer := NewTrainer(DefaultParams(), NewRouter(nil, nil), newFakeStore(), nil)
	_, err := trainer.Train(context.Background(), nil, asOf)
	assert.Error(t, err)

	bad := NewTrainer(Params{}, NewRouter(nil, nil), newFakeStore(), nil)
	_, err = bad.Train(context.Background(), golfRows(20), asOf)
	assert.Error(t, err)
}

func TestTrainFamilyPoolTrainsLikeModelBucket(t *testing.T) {
	store := newFakeStore()
	family := PrefixFamily("mercedes-benz", "e", "e")
	trainer := NewTrainer(DefaultParams(), NewRouter([]FamilyRule{family}, nil), store, nil)

	// Each variant alone is too sparse for a model bucket (6 rows < 8),
	// pooled into the family they clear the gate together.
	var rows []Observation
	for i := 0; i < 6; i++ {
		rows = append(rows, Observation{
			Price: 5_200_000 - float64(i)*120_000, Year: 2016 + i,
			Kilometers: 30_000 + float64(i)*20_000, ObservedAt: asOf.AddDate(0, 0, -i),
			MakeKey: "mercedes-benz", ModelKey: "e220",
		})
		rows = append(rows, Observation{
			Price: 5_900_000 - float64(i)*120_000, Year: 2016 + i,
			Kilometers: 25_000 + float64(i)*22_000, ObservedAt: asOf.AddDate(0, 0, -i),
			MakeKey: "mercedes-benz", ModelKey: "e300",
		})
	}

	_, err := trainer.Train(context.Background(), rows, asOf)
	require.NoError(t, err)

	famKey := BucketKey{Tier: TierModel, MakeKey: "mercedes-benz", ModelKey: "e"}
	fam, err := store.Lookup(context.Background(), famKey)
	require.NoError(t, err)
	// The 5/95 trim pares the pooled 12 rows down to 8, which still clears
	// the pooled minimum.
	assert.Equal(t, 8, fam.SampleCount)

	_, err = store.Lookup(context.Background(), BucketKey{Tier: TierModel, MakeKey: "mercedes-benz", ModelKey: "e220"})
	assert.ErrorIs(t, err, ErrModelNotFound, "sparse specific-model bucket stays unfitted")
}
