package pricing

import (
	"math"
)

// madScaleFactor converts the median absolute deviation into a consistent
// estimate of the standard deviation under Gaussian noise.
const madScaleFactor = 1.4826

// FitResult holds the output of one robust weighted fit.
type FitResult struct {
	// Beta is the coefficient vector in design-column order (reduced form;
	// use Design.Expand to map it into the persisted 4-slot schema).
	Beta []float64
	// RSquared is the weighted coefficient of determination against the
	// weighted mean of the target.
	RSquared float64
	// RMSE is the weighted root-mean-squared residual in currency units,
	// with residual degrees of freedom estimated from the Kish effective
	// sample size rather than the raw row count.
	RMSE float64
	// FinalWeights is the combined recency*Huber weight vector after the
	// last IRLS round, rescaled to max 1.
	FinalWeights []float64
}

// FitRobust fits a recency-weighted ridge regression refined by iteratively
// reweighted least squares with Huber down-weighting of outliers.
//
// Each round recomputes the Kish effective sample size of the current weight
// vector, scales the ridge penalty so small effective samples are penalized
// harder (alpha = alphaBase * 4/max(nEff, 4), intercept never regularized),
// solves the regularized weighted normal equations, and rebuilds the weights
// from the residuals: a MAD-based robust scale (sample-std fallback, then 1)
// feeds Huber weights that shrink - but never discard - points far from the
// current fit. The number of rounds is fixed, so the fit is deterministic
// and bounded.
func FitRobust(d *Design, p Params) (*FitResult, error) {
	n := len(d.Y)
	cols := d.Columns()
	if n == 0 || cols == 0 {
		return nil, &SkipError{Reason: SkipSolveFailed}
	}

	weights := make([]float64, n)
	copy(weights, d.Recency)

	var beta []float64
	for round := 0; round < p.IRLSRounds; round++ {
		nEff := kishEffectiveN(weights)
		if nEff < 1 {
			nEff = 1
		}
		alpha := p.RidgeAlphaBase * (4 / math.Max(nEff, 4))

		beta = solveWeightedRidge(d.X, d.Y, weights, alpha)
		if !allFinite(beta) {
			return nil, &SkipError{Reason: SkipSolveFailed}
		}

		residuals := make([]float64, n)
		for i, row := range d.X {
			residuals[i] = d.Y[i] - dot(row, beta)
		}

		scale := robustScale(residuals)
		robust := huberWeights(residuals, scale, p.HuberC)

		maxW := 0.0
		for i := range weights {
			weights[i] = d.Recency[i] * robust[i]
			if weights[i] > maxW {
				maxW = weights[i]
			}
		}
		// Rescale so the largest weight is 1. Pure numerical-stability
		// normalization; relative weighting is unchanged.
		if maxW > 0 {
			for i := range weights {
				weights[i] /= maxW
			}
		}
	}

	r2, rmse := weightedMetrics(d.X, d.Y, weights, beta)
	if math.IsNaN(r2) || math.IsInf(r2, 0) || math.IsNaN(rmse) || math.IsInf(rmse, 0) {
		return nil, &SkipError{Reason: SkipSolveFailed}
	}

	return &FitResult{
		Beta:         beta,
		RSquared:     r2,
		RMSE:         rmse,
		FinalWeights: weights,
	}, nil
}

// robustScale estimates residual spread as 1.4826 * MAD. A numerically zero
// MAD falls back to the ordinary sample standard deviation, and a zero
// standard deviation to 1, so the Huber step always has a usable scale.
func robustScale(residuals []float64) float64 {
	med := median(residuals)
	absDev := make([]float64, len(residuals))
	for i, r := range residuals {
		absDev[i] = math.Abs(r - med)
	}
	mad := median(absDev)
	if mad > 0 {
		return madScaleFactor * mad
	}
	if sd := stdDev(residuals); sd > 0 {
		return sd
	}
	return 1
}

// huberWeights computes the Huber down-weighting of each residual: weight 1
// inside the c-scaled band, 1/|r/(scale*c)| outside, clipped to [0, 1].
func huberWeights(residuals []float64, scale, c float64) []float64 {
	weights := make([]float64, len(residuals))
	if scale <= 1e-9 {
		for i := range weights {
			weights[i] = 1
		}
		return weights
	}
	for i, r := range residuals {
		z := math.Abs(r / (scale * c))
		if z <= 1 {
			weights[i] = 1
		} else {
			weights[i] = 1 / z
		}
	}
	return weights
}

// solveWeightedRidge solves (XtWX + alpha*I')beta = XtWy where I' is the
// identity with the intercept entry zeroed. The ridge term keeps the system
// positive definite in every non-intercept direction, so collinear reduced
// designs degrade to a stable solution instead of blowing up; a degenerate
// pivot pins that coefficient to zero rather than erroring.
func solveWeightedRidge(x [][]float64, y, w []float64, alpha float64) []float64 {
	cols := len(x[0])
	a := make([][]float64, cols)
	for j := range a {
		a[j] = make([]float64, cols)
	}
	b := make([]float64, cols)

	for i, row := range x {
		wi := w[i]
		for j := 0; j < cols; j++ {
			b[j] += wi * row[j] * y[i]
			for k := j; k < cols; k++ {
				a[j][k] += wi * row[j] * row[k]
			}
		}
	}
	for j := 0; j < cols; j++ {
		for k := 0; k < j; k++ {
			a[j][k] = a[k][j]
		}
	}
	// Intercept column (0) is never regularized.
	for j := 1; j < cols; j++ {
		a[j][j] += alpha
	}

	return solveSymmetric(a, b)
}

// solveSymmetric solves a*x = b by Gaussian elimination with partial
// pivoting. Columns whose pivot collapses below the numerical floor are
// pinned to a zero coefficient, the least-norm behavior of a pseudo-inverse
// on that direction.
func solveSymmetric(a [][]float64, b []float64) []float64 {
	n := len(b)

	floor := 0.0
	for j := 0; j < n; j++ {
		if d := math.Abs(a[j][j]); d > floor {
			floor = d
		}
	}
	floor = math.Max(floor*1e-12, 1e-30)

	for col := 0; col < n; col++ {
		pivot := col
		maxAbs := math.Abs(a[col][col])
		for r := col + 1; r < n; r++ {
			if abs := math.Abs(a[r][col]); abs > maxAbs {
				maxAbs = abs
				pivot = r
			}
		}

		if maxAbs < floor {
			for r := 0; r < n; r++ {
				a[r][col] = 0
				a[col][r] = 0
			}
			a[col][col] = 1
			b[col] = 0
			continue
		}

		if pivot != col {
			a[pivot], a[col] = a[col], a[pivot]
			b[pivot], b[col] = b[col], b[pivot]
		}

		for r := 0; r < n; r++ {
			if r == col {
				continue
			}
			factor := a[r][col] / a[col][col]
			if factor == 0 {
				continue
			}
			for k := col; k < n; k++ {
				a[r][k] -= factor * a[col][k]
			}
			b[r] -= factor * b[col]
		}
	}

	x := make([]float64, n)
	for i := 0; i < n; i++ {
		x[i] = b[i] / a[i][i]
	}
	return x
}

// weightedMetrics computes the weighted R-squared against the weighted mean
// of y and the weighted RMSE with degrees of freedom max(nEff - p, 1), since
// uneven weights reduce the information content below the raw row count.
func weightedMetrics(x [][]float64, y, w, beta []float64) (r2, rmse float64) {
	wSum := 0.0
	for _, wi := range w {
		wSum += wi
	}
	if wSum <= 0 {
		wSum = 1
	}

	yBar := 0.0
	for i, wi := range w {
		yBar += wi * y[i]
	}
	yBar /= wSum

	var ssRes, ssTot float64
	for i, row := range x {
		res := y[i] - dot(row, beta)
		ssRes += w[i] * res * res
		dev := y[i] - yBar
		ssTot += w[i] * dev * dev
	}

	if ssTot > 0 {
		r2 = 1 - ssRes/ssTot
	}

	nEff := kishEffectiveN(w)
	dof := math.Max(nEff-float64(len(x[0])), 1)
	rmse = math.Sqrt(ssRes / dof)
	return r2, rmse
}

func dot(a, b []float64) float64 {
	sum := 0.0
	for i := range b {
		sum += a[i] * b[i]
	}
	return sum
}
