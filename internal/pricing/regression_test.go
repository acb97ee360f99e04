package pricing

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// linearDesign builds a [1, x] design with uniform recency weights and
// y = intercept + slope*x + noise[i].
func linearDesign(xs, noise []float64, intercept, slope float64) *Design {
	d := &Design{Kind: DesignLogKM, X: make([][]float64, len(xs)), Y: make([]float64, len(xs)), Recency: make([]float64, len(xs))}
	for i, x := range xs {
		d.X[i] = []float64{1, x}
		d.Y[i] = intercept + slope*x
		if noise != nil {
			d.Y[i] += noise[i]
		}
		d.Recency[i] = 1
	}
	return d
}

func TestFitRobustRecoversLinearRelation(t *testing.T) {
	xs := make([]float64, 20)
	noise := make([]float64, 20)
	for i := range xs {
		xs[i] = 9 + float64(i)*0.15 // roughly the log1p(km) range
		if i%2 == 0 {
			noise[i] = 15_000
		} else {
			noise[i] = -15_000
		}
	}
	d := linearDesign(xs, noise, 3_000_000, -120_000)

	fit, err := FitRobust(d, DefaultParams())
	require.NoError(t, err)

	assert.InEpsilon(t, 3_000_000, fit.Beta[0], 0.05)
	assert.InEpsilon(t, -120_000, fit.Beta[1], 0.05)
	assert.Greater(t, fit.RSquared, 0.9)
	assert.Greater(t, fit.RMSE, 0.0)
}

func TestFitRobustDownweightsOutlier(t *testing.T) {
	xs := make([]float64, 15)
	for i := range xs {
		xs[i] = 9 + float64(i)*0.2
	}
	clean := linearDesign(xs, nil, 2_500_000, -80_000)

	// Same bucket with one extreme-price outlier injected.
	dirty := linearDesign(xs, nil, 2_500_000, -80_000)
	dirty.Y[7] = 20_000_000

	p := DefaultParams()

	cleanFit, err := FitRobust(clean, p)
	require.NoError(t, err)
	robustFit, err := FitRobust(dirty, p)
	require.NoError(t, err)

	// A plain ridge fit on the dirty data, no Huber reweighting.
	nEff := kishEffectiveN(dirty.Recency)
	alpha := p.RidgeAlphaBase * (4 / math.Max(nEff, 4))
	plainBeta := solveWeightedRidge(dirty.X, dirty.Y, dirty.Recency, alpha)

	robustShift := math.Abs(robustFit.Beta[0] - cleanFit.Beta[0])
	plainShift := math.Abs(plainBeta[0] - cleanFit.Beta[0])

	assert.Less(t, robustShift, plainShift,
		"Huber reweighting must reduce the outlier's pull on the intercept")

	// The outlier ends up with a weight well below the inliers'.
	assert.Less(t, robustFit.FinalWeights[7], 0.5)
}

func TestFitRobustInterceptOnly(t *testing.T) {
	d := &Design{
		Kind:    DesignIntercept,
		X:       [][]float64{{1}, {1}, {1}, {1}},
		Y:       []float64{100, 110, 90, 100},
		Recency: []float64{1, 1, 1, 1},
	}

	fit, err := FitRobust(d, DefaultParams())
	require.NoError(t, err)

	// The intercept is unregularized, so an intercept-only fit lands on
	// the weighted mean.
	assert.InDelta(t, 100, fit.Beta[0], 1)
}

func TestFitRobustSurvivesCollinearDesign(t *testing.T) {
	// Duplicated feature column: a plain inverse would blow up, the ridge
	// solve degrades to a stable finite solution instead.
	n := 12
	d := &Design{Kind: DesignFull, X: make([][]float64, n), Y: make([]float64, n), Recency: make([]float64, n)}
	for i := 0; i < n; i++ {
		x := 9 + float64(i)*0.2
		d.X[i] = []float64{1, x, x, x * x}
		d.Y[i] = 1_000_000 + 50_000*x
		d.Recency[i] = 1
	}

	fit, err := FitRobust(d, DefaultParams())
	require.NoError(t, err)
	assert.True(t, allFinite(fit.Beta))
}

func TestFitRobustRecencyWeightingFavorsFreshRows(t *testing.T) {
	// Two populations at the same mileage: stale rows priced high, fresh
	// rows priced low. The fit must land nearer the fresh level.
	n := 16
	d := &Design{Kind: DesignIntercept, X: make([][]float64, n), Y: make([]float64, n), Recency: make([]float64, n)}
	for i := 0; i < n; i++ {
		d.X[i] = []float64{1}
		if i < 8 {
			d.Y[i] = 3_000_000
			d.Recency[i] = 0.05 // stale
		} else {
			d.Y[i] = 2_000_000
			d.Recency[i] = 1 // fresh
		}
	}

	fit, err := FitRobust(d, DefaultParams())
	require.NoError(t, err)
	assert.Less(t, fit.Beta[0], 2_200_000.0)
}

func TestKishEffectiveN(t *testing.T) {
	assert.InDelta(t, 4, kishEffectiveN([]float64{1, 1, 1, 1}), 1e-12)
	assert.InDelta(t, 1.8, kishEffectiveN([]float64{1, 0.5}), 1e-12)
	assert.Zero(t, kishEffectiveN(nil))
	assert.Zero(t, kishEffectiveN([]float64{0, 0}))
}

func TestHuberWeights(t *testing.T) {
	c := 1.345
	scale := 10.0
	residuals := []float64{0, scale * c, 2 * scale * c, -4 * scale * c}

	w := huberWeights(residuals, scale, c)

	assert.InDelta(t, 1.0, w[0], 1e-12)
	assert.InDelta(t, 1.0, w[1], 1e-12)
	assert.InDelta(t, 0.5, w[2], 1e-12)
	assert.InDelta(t, 0.25, w[3], 1e-12)

	// Numerically zero scale disables down-weighting entirely.
	for _, wi := range huberWeights(residuals, 0, c) {
		assert.Equal(t, 1.0, wi)
	}
}

func TestRobustScaleFallbacks(t *testing.T) {
	// Normal case: MAD-based scale.
	res := []float64{-2, -1, 0, 1, 2}
	assert.InDelta(t, madScaleFactor*1, robustScale(res), 1e-12)

	// Zero MAD but nonzero spread: falls back to the sample std.
	res = []float64{0, 0, 0, 0, 10}
	assert.InDelta(t, stdDev(res), robustScale(res), 1e-12)

	// All-identical residuals: unit scale.
	assert.Equal(t, 1.0, robustScale([]float64{5, 5, 5}))
}

func TestWeightedMetricsPerfectFit(t *testing.T) {
	x := [][]float64{{1, 1}, {1, 2}, {1, 3}, {1, 4}}
	beta := []float64{10, 2}
	y := []float64{12, 14, 16, 18}
	w := []float64{1, 1, 1, 1}

	r2, rmse := weightedMetrics(x, y, w, beta)
	assert.InDelta(t, 1.0, r2, 1e-12)
	assert.InDelta(t, 0.0, rmse, 1e-9)
}

func TestWeightedMetricsUsesEffectiveDOF(t *testing.T) {
	// Uneven weights shrink the Kish effective sample size, which inflates
	// RMSE relative to the raw-count version.
	x := [][]float64{{1}, {1}, {1}, {1}}
	y := []float64{0, 10, 0, 10}
	beta := []float64{5}

	_, rmseEven := weightedMetrics(x, y, []float64{1, 1, 1, 1}, beta)
	_, rmseUneven := weightedMetrics(x, y, []float64{1, 0.1, 1, 0.1}, beta)

	assert.Greater(t, rmseUneven, 0.0)
	assert.Greater(t, rmseEven, 0.0)
	// Even weights: nEff=4, dof=3. Uneven: nEff≈2.39, dof≈1.39.
	nEff := kishEffectiveN([]float64{1, 0.1, 1, 0.1})
	assert.InDelta(t, 2.39, nEff, 0.01)
}

func TestPercentileLinearInterpolation(t *testing.T) {
	values := []float64{10, 20, 30, 40, 50}

	assert.InDelta(t, 10, percentile(values, 0), 1e-12)
	assert.InDelta(t, 50, percentile(values, 100), 1e-12)
	assert.InDelta(t, 30, percentile(values, 50), 1e-12)
	// Rank 0.05*4 = 0.2 interpolates between the first two values.
	assert.InDelta(t, 12, percentile(values, 5), 1e-12)
	assert.InDelta(t, 48, percentile(values, 95), 1e-12)
	assert.True(t, math.IsNaN(percentile(nil, 50)))
}
