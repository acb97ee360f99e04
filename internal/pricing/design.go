package pricing

import (
	"math"
	"time"
)

// DesignKind identifies which feature set a bucket's regression was fit on.
type DesignKind string

const (
	// DesignFull is the 4-term pooled design [1, age, logkm, age*logkm].
	DesignFull DesignKind = "full"
	// DesignLogKM is the reduced [1, logkm] design, used when age has too
	// little variation to estimate, and always for model_year buckets
	// (age is constant within a single year).
	DesignLogKM DesignKind = "logkm"
	// DesignAge is the reduced [1, age] design, used when kilometers have
	// too little variation.
	DesignAge DesignKind = "age"
	// DesignIntercept is the intercept-only design.
	DesignIntercept DesignKind = "intercept"
)

// Design is a per-bucket feature matrix, target vector, and recency weight
// vector, ready for the regression engine.
type Design struct {
	Kind    DesignKind
	X       [][]float64
	Y       []float64
	Recency []float64
}

// Columns returns the number of design columns (estimated parameters).
func (d *Design) Columns() int {
	if len(d.X) == 0 {
		return 0
	}
	return len(d.X[0])
}

// Expand maps a reduced coefficient vector back into the shared 4-slot
// schema, holding never-estimated terms at exactly zero.
func (d *Design) Expand(beta []float64) Coefficients {
	switch d.Kind {
	case DesignFull:
		return Coefficients{Intercept: beta[0], Age: beta[1], LogKM: beta[2], AgeLogKM: beta[3]}
	case DesignLogKM:
		return Coefficients{Intercept: beta[0], LogKM: beta[1]}
	case DesignAge:
		return Coefficients{Intercept: beta[0], Age: beta[1]}
	default:
		return Coefficients{Intercept: beta[0]}
	}
}

// BuildDesign constructs the design for one bucket's cleaned observations,
// applying the minimum-sample gates and variance guards for the bucket's
// tier. A gate failure returns a *SkipError naming the reason; the caller
// skips the bucket and continues the run.
func BuildDesign(observations []Observation, tier Tier, asOf time.Time, p Params) (*Design, error) {
	if tier == TierModelYear {
		return buildSingleYearDesign(observations, asOf, p)
	}
	return buildPooledDesign(observations, asOf, p)
}

// buildPooledDesign builds the design for model, make, and global tier
// buckets. With near-constant age or mileage inside a bucket, the full
// design turns ill-conditioned and the affected coefficient flips sign run
// to run; the variance guards drop such terms for a coarser but numerically
// trustworthy fit.
func buildPooledDesign(observations []Observation, asOf time.Time, p Params) (*Design, error) {
	if len(observations) < p.MinSamplesPooled {
		return nil, &SkipError{Reason: SkipTooFewAfterTrim}
	}

	currentYear := asOf.Year()
	n := len(observations)
	ages := make([]float64, n)
	logkm := make([]float64, n)
	y := make([]float64, n)
	for i, o := range observations {
		ages[i] = float64(currentYear - o.Year)
		logkm[i] = math.Log1p(o.Kilometers)
		y[i] = o.Price
	}
	recency := recencyWeights(observations, asOf, p)

	ageStd := stdDev(ages)
	kmStd := stdDev(logkm)

	d := &Design{Y: y, Recency: recency}
	switch {
	case ageStd >= p.MinAgeStd && kmStd >= p.MinLogKMStd:
		d.Kind = DesignFull
		d.X = make([][]float64, n)
		for i := range d.X {
			d.X[i] = []float64{1, ages[i], logkm[i], ages[i] * logkm[i]}
		}
	case kmStd >= p.MinLogKMStd:
		d.Kind = DesignLogKM
		d.X = make([][]float64, n)
		for i := range d.X {
			d.X[i] = []float64{1, logkm[i]}
		}
	case ageStd >= p.MinAgeStd:
		d.Kind = DesignAge
		d.X = make([][]float64, n)
		for i := range d.X {
			d.X[i] = []float64{1, ages[i]}
		}
	default:
		d.Kind = DesignIntercept
		d.X = make([][]float64, n)
		for i := range d.X {
			d.X[i] = []float64{1}
		}
	}

	return d, nil
}

// buildSingleYearDesign builds the logkm-only design for model_year buckets.
// Age is constant within a single year, so it is excluded up front; if the
// kilometers spread is also degenerate there is nothing left to fit.
func buildSingleYearDesign(observations []Observation, asOf time.Time, p Params) (*Design, error) {
	if len(observations) < p.MinSamplesModelYear {
		return nil, &SkipError{Reason: SkipTooFewYearRows}
	}

	n := len(observations)
	logkm := make([]float64, n)
	y := make([]float64, n)
	for i, o := range observations {
		logkm[i] = math.Log1p(o.Kilometers)
		y[i] = o.Price
	}

	if stdDev(logkm) < p.MinLogKMStdYear {
		return nil, &SkipError{Reason: SkipNoKMVariation}
	}

	d := &Design{
		Kind:    DesignLogKM,
		X:       make([][]float64, n),
		Y:       y,
		Recency: recencyWeights(observations, asOf, p),
	}
	for i := range d.X {
		d.X[i] = []float64{1, logkm[i]}
	}
	return d, nil
}

// recencyWeights computes the exponential-decay base weight of each
// observation: exp(-ln2/halfLife * ageDays), with ageDays clamped to
// [0, MaxAgeDays] so very old rows neither vanish nor blow up the exponent.
// An observation with a zero timestamp counts as fresh.
func recencyWeights(observations []Observation, asOf time.Time, p Params) []float64 {
	lambda := math.Ln2 / p.HalfLifeDays
	weights := make([]float64, len(observations))
	for i, o := range observations {
		days := 0.0
		if !o.ObservedAt.IsZero() {
			days = asOf.Sub(o.ObservedAt).Hours() / 24
		}
		if days < 0 {
			days = 0
		}
		if days > p.MaxAgeDays {
			days = p.MaxAgeDays
		}
		weights[i] = math.Exp(-lambda * days)
	}
	return weights
}
