package pricing

// minTrimSize is the smallest sample on which percentile trimming is applied.
// Below it a two-sided trim would eat real signal, so the sample passes
// through after validity filtering only.
const minTrimSize = 5

// trim bounds: keep the central 90% of each distribution. Heavy-tailed
// listing noise (typo prices, placeholder values, salvage vehicles) dominates
// small samples, and a tight two-sided trim holds up better than a parametric
// outlier test at n around 10-50.
const (
	trimLowerPct = 5
	trimUpperPct = 95
)

// Clean filters a bucket's observations down to the subset that passes the
// validity invariant and the two-sided percentile trim, first on price and
// then on kilometers. The input slice is not modified. currentYear is the
// as-of calendar year injected by the caller.
func Clean(observations []Observation, currentYear int) []Observation {
	if len(observations) == 0 {
		return nil
	}

	kept := make([]Observation, 0, len(observations))
	for _, o := range observations {
		if o.IsValid(currentYear) {
			kept = append(kept, o)
		}
	}
	if len(kept) < minTrimSize {
		return kept
	}

	kept = trimByPercentile(kept, func(o Observation) float64 { return o.Price })
	if len(kept) < minTrimSize {
		return kept
	}

	return trimByPercentile(kept, func(o Observation) float64 { return o.Kilometers })
}

// trimByPercentile keeps only observations whose field value lies inside the
// [p5, p95] band of the sample.
func trimByPercentile(observations []Observation, field func(Observation) float64) []Observation {
	values := make([]float64, len(observations))
	for i, o := range observations {
		values[i] = field(o)
	}

	lo := percentile(values, trimLowerPct)
	hi := percentile(values, trimUpperPct)

	kept := make([]Observation, 0, len(observations))
	for _, o := range observations {
		v := field(o)
		if v >= lo && v <= hi {
			kept = append(kept, o)
		}
	}
	return kept
}
