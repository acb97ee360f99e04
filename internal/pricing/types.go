package pricing

import (
	"context"
	"errors"
	"fmt"
	"time"
)

// Tier identifies the specificity level of a bucket. Specificity decreases
// from TierModelYear down to TierGlobal; TierNone is only ever returned by
// the resolver when no stored model matched at any level.
type Tier string

const (
	// TierModelYear groups observations by (make, model, year).
	TierModelYear Tier = "model_year"
	// TierModel groups observations by (make, model) pooled across years.
	TierModel Tier = "model"
	// TierMake groups observations by make only.
	TierMake Tier = "make"
	// TierGlobal is the single catch-all bucket.
	TierGlobal Tier = "global"
	// TierNone marks a prediction that found no stored model.
	TierNone Tier = "none"
)

// fallbackOrder is the fixed resolution order used at serving time.
var fallbackOrder = []Tier{TierModelYear, TierModel, TierMake, TierGlobal}

// Observation is one vehicle listing fact at scrape time. Observations are
// produced by the external normalization layer and are read-only here.
type Observation struct {
	Price      float64   `json:"price"`
	Year       int       `json:"year"`
	Kilometers float64   `json:"kilometers"`
	ObservedAt time.Time `json:"observed_at"`
	MakeKey    string    `json:"make_key"`
	ModelKey   string    `json:"model_key"`
}

// IsValid reports whether the observation satisfies the validity invariant:
// positive price, plausible model year, non-negative odometer.
func (o Observation) IsValid(currentYear int) bool {
	return o.Price > 0 && o.Year >= MinModelYear && o.Year <= currentYear && o.Kilometers >= 0
}

// MinModelYear is the oldest model year accepted into training.
const MinModelYear = 1990

// BucketKey identifies one regression bucket. Empty MakeKey/ModelKey and a
// zero Year stand in for the null components of less specific tiers.
type BucketKey struct {
	Tier     Tier   `json:"tier"`
	MakeKey  string `json:"make_key,omitempty"`
	ModelKey string `json:"model_key,omitempty"`
	Year     int    `json:"year,omitempty"`
}

// IsValid checks that exactly the component combination legal for the tier
// is set.
func (k BucketKey) IsValid() bool {
	switch k.Tier {
	case TierModelYear:
		return k.MakeKey != "" && k.ModelKey != "" && k.Year != 0
	case TierModel:
		return k.MakeKey != "" && k.ModelKey != "" && k.Year == 0
	case TierMake:
		return k.MakeKey != "" && k.ModelKey == "" && k.Year == 0
	case TierGlobal:
		return k.MakeKey == "" && k.ModelKey == "" && k.Year == 0
	default:
		return false
	}
}

// String renders the key in the "tier:make::model:year" diagnostic form used
// in logs and prediction responses. Null components render as "-".
func (k BucketKey) String() string {
	mk, md := k.MakeKey, k.ModelKey
	if mk == "" {
		mk = "-"
	}
	if md == "" {
		md = "-"
	}
	if k.Year != 0 {
		return fmt.Sprintf("%s:%s::%s:%d", k.Tier, mk, md, k.Year)
	}
	return fmt.Sprintf("%s:%s::%s", k.Tier, mk, md)
}

// Coefficients is the persisted 4-slot coefficient vector. Terms that were
// not part of the fitted design are held at exactly zero so every bucket
// shares one schema regardless of which reduced design was actually fit.
type Coefficients struct {
	Intercept float64 `json:"intercept"`
	Age       float64 `json:"beta_age"`
	LogKM     float64 `json:"beta_logkm"`
	AgeLogKM  float64 `json:"beta_age_logkm"`
}

// FittedModel is one persisted regression record for a bucket key.
type FittedModel struct {
	Key         BucketKey    `json:"key"`
	Coef        Coefficients `json:"coefficients"`
	SampleCount int          `json:"sample_count"`
	RSquared    float64      `json:"r_squared"`
	RMSE        float64      `json:"rmse"`
	TrainedAt   time.Time    `json:"trained_at"`
}

// ErrModelNotFound is returned by ModelStore.Lookup when no record exists
// for the requested key.
var ErrModelNotFound = errors.New("fitted model not found")

// ModelStore is the durable keyed store for fitted models. Replace must be
// atomic at single-key granularity: the previous record for the exact key
// (nulls matching nulls) is removed and the new one inserted as one
// operation, so a crash can never leave zero or two records for a key.
type ModelStore interface {
	Replace(ctx context.Context, m FittedModel) error
	Lookup(ctx context.Context, key BucketKey) (*FittedModel, error)
	List(ctx context.Context) ([]FittedModel, error)
	Clear(ctx context.Context) error
}

// SkipReason names why a bucket was skipped during a training run. Skips are
// bucket-local outcomes, not errors: the run continues with the next bucket.
type SkipReason string

const (
	// SkipTooFewAfterTrim: a pooled bucket had fewer than the minimum
	// cleaned observations.
	SkipTooFewAfterTrim SkipReason = "too_few_after_trim"
	// SkipTooFewYearRows: a model_year bucket had fewer than its (higher)
	// minimum cleaned observations.
	SkipTooFewYearRows SkipReason = "too_few_year_rows"
	// SkipNoKMVariation: a model_year bucket's log-kilometers had too
	// little spread to support even the 2-parameter fit.
	SkipNoKMVariation SkipReason = "insufficient_km_variation"
	// SkipSolveFailed: the regularized solve produced a non-finite result.
	SkipSolveFailed SkipReason = "solve_failed"
)

// SkipError carries a named skip reason through the training pipeline.
type SkipError struct {
	Reason SkipReason
}

func (e *SkipError) Error() string {
	return "bucket skipped: " + string(e.Reason)
}

// AsSkip extracts the skip reason from an error, if it is one.
func AsSkip(err error) (SkipReason, bool) {
	var se *SkipError
	if errors.As(err, &se) {
		return se.Reason, true
	}
	return "", false
}

// Params holds every tunable constant of the pricing engine. Zero values are
// never meaningful; construct via DefaultParams and override from config.
type Params struct {
	// Recency weighting: exp(-ln2/HalfLifeDays * ageDays), ageDays clamped
	// to [0, MaxAgeDays].
	HalfLifeDays float64 `json:"half_life_days"`
	MaxAgeDays   float64 `json:"max_age_days"`

	// Robust fitting.
	IRLSRounds     int     `json:"irls_rounds"`
	HuberC         float64 `json:"huber_c"`
	RidgeAlphaBase float64 `json:"ridge_alpha_base"`

	// Variance guards for design selection.
	MinAgeStd       float64 `json:"min_age_std"`
	MinLogKMStd     float64 `json:"min_logkm_std"`
	MinLogKMStdYear float64 `json:"min_logkm_std_year"`

	// Minimum-sample gates after cleaning.
	MinSamplesPooled    int `json:"min_samples_pooled"`
	MinSamplesModelYear int `json:"min_samples_model_year"`
}

// DefaultParams returns the calibrated production parameters.
func DefaultParams() Params {
	return Params{
		HalfLifeDays:        60,
		MaxAgeDays:          3650,
		IRLSRounds:          3,
		HuberC:              1.345,
		RidgeAlphaBase:      1.0,
		MinAgeStd:           0.25,
		MinLogKMStd:         0.10,
		MinLogKMStdYear:     0.10,
		MinSamplesPooled:    8,
		MinSamplesModelYear: 12,
	}
}

// IsValid checks that all parameters are in usable ranges.
func (p Params) IsValid() bool {
	return p.HalfLifeDays > 0 && p.MaxAgeDays > 0 &&
		p.IRLSRounds > 0 && p.HuberC > 0 && p.RidgeAlphaBase > 0 &&
		p.MinAgeStd > 0 && p.MinLogKMStd > 0 && p.MinLogKMStdYear > 0 &&
		p.MinSamplesPooled > 1 && p.MinSamplesModelYear > 1
}

// FamilyRule routes observations of closely related model variants into an
// additional synthetic model-tier bucket keyed by Label. The observation
// still contributes to its own specific-model bucket. Label must never
// collide with a real model key of the same make.
type FamilyRule struct {
	MakeKey string
	Label   string
	Match   func(modelKey string) bool
}

// PrefixFamily builds the common rule form: pool every model of makeKey
// whose model key starts with prefix.
func PrefixFamily(makeKey, label, prefix string) FamilyRule {
	return FamilyRule{
		MakeKey: makeKey,
		Label:   label,
		Match: func(modelKey string) bool {
			return len(modelKey) >= len(prefix) && modelKey[:len(prefix)] == prefix
		},
	}
}

// Exclusion suppresses a literal (make, model) pair from model-level
// bucketing. The pair still contributes to its make bucket and the global
// bucket.
type Exclusion struct {
	MakeKey  string `json:"make_key" yaml:"make"`
	ModelKey string `json:"model_key" yaml:"model"`
}

// Normalizer maps free-text make/model strings into the canonical key space
// used at training time. Implementations live outside the core; the resolver
// only depends on this interface.
type Normalizer interface {
	Normalize(make, model string) (makeKey, modelKey string)
}
