package pricing

// Router partitions observations into the 4-tier bucket hierarchy plus any
// configured family pools. Routing is pure: the same observation set always
// yields the same bucket map.
type Router struct {
	families   []FamilyRule
	exclusions map[Exclusion]struct{}
}

// NewRouter creates a router with the given family rules and (make, model)
// exclusions. Excluded pairs form no model or model_year buckets but still
// contribute to their make bucket and the global bucket.
func NewRouter(families []FamilyRule, exclusions []Exclusion) *Router {
	ex := make(map[Exclusion]struct{}, len(exclusions))
	for _, e := range exclusions {
		ex[e] = struct{}{}
	}
	return &Router{families: families, exclusions: ex}
}

// Route assigns every observation to its buckets:
//
//   - the single global bucket, always
//   - one make bucket when MakeKey is set
//   - one model bucket and one model_year bucket (per calendar year) when
//     both keys are set and the pair is not excluded
//   - zero or more family pools whose predicate matches, stored as
//     model-tier buckets keyed by the family label
func (r *Router) Route(observations []Observation) map[BucketKey][]Observation {
	buckets := make(map[BucketKey][]Observation)

	globalKey := BucketKey{Tier: TierGlobal}
	for _, o := range observations {
		buckets[globalKey] = append(buckets[globalKey], o)

		if o.MakeKey == "" {
			continue
		}
		makeKey := BucketKey{Tier: TierMake, MakeKey: o.MakeKey}
		buckets[makeKey] = append(buckets[makeKey], o)

		if o.ModelKey == "" {
			continue
		}

		if !r.excluded(o.MakeKey, o.ModelKey) {
			modelKey := BucketKey{Tier: TierModel, MakeKey: o.MakeKey, ModelKey: o.ModelKey}
			buckets[modelKey] = append(buckets[modelKey], o)

			if o.Year != 0 {
				yearKey := BucketKey{Tier: TierModelYear, MakeKey: o.MakeKey, ModelKey: o.ModelKey, Year: o.Year}
				buckets[yearKey] = append(buckets[yearKey], o)
			}
		}

		for _, fam := range r.families {
			if fam.MakeKey == o.MakeKey && fam.Match != nil && fam.Match(o.ModelKey) {
				famKey := BucketKey{Tier: TierModel, MakeKey: fam.MakeKey, ModelKey: fam.Label}
				buckets[famKey] = append(buckets[famKey], o)
			}
		}
	}

	return buckets
}

func (r *Router) excluded(makeKey, modelKey string) bool {
	_, ok := r.exclusions[Exclusion{MakeKey: makeKey, ModelKey: modelKey}]
	return ok
}
