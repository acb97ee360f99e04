// Package pricing implements the tiered, robust-regression vehicle pricing
// engine.
//
// The engine estimates a fair market price for a used vehicle from sparse,
// noisy, recency-varying listing observations and serves that estimate with
// an uncertainty band. It must produce stable fits from as few as 8-15
// observations, survive heavy-tailed pricing noise and mislabeled data,
// decay older observations smoothly, and fall back across a bucket
// hierarchy when data is too sparse.
//
// # Architecture
//
//   - types.go: observations, bucket keys, fitted models, parameters
//   - cleaner.go: validity filtering and two-sided percentile trimming
//   - router.go: 4-tier bucket routing, family pools, exclusions
//   - design.go: per-bucket feature matrices with variance guards
//   - regression.go: recency-weighted ridge refined by IRLS with Huber
//     down-weighting
//   - trainer.go: batch orchestration, one independent fit per bucket
//   - resolver.go: serving-time tier fallback and band computation
//   - stats.go: percentile, MAD, and Kish effective-sample-size helpers
//
// # Training
//
// Observations are routed into buckets of increasing specificity
// (global < make < model < model_year) plus optional cross-cutting family
// pools. Each bucket is cleaned, gated on minimum sample size, assigned a
// full or variance-guard-reduced design, and fitted independently:
//
//	router := pricing.NewRouter(families, exclusions)
//	trainer := pricing.NewTrainer(pricing.DefaultParams(), router, store, logger)
//	summary, err := trainer.Train(ctx, observations, time.Now().UTC())
//
// Buckets that fail a gate are counted as named skips and never touch the
// store; one bad bucket never aborts the run for the others.
//
// # Serving
//
// The resolver walks model_year, model, make, global and stops at the first
// tier holding a stored model:
//
//	resolver := pricing.NewResolver(store, normalizer, logger)
//	pred, err := resolver.Predict(ctx, pricing.Query{
//		Make: "volkswagen", Model: "golf", Year: 2019, Kilometers: 50000,
//	}, time.Now().UTC())
//
// A query with no stored model at any tier yields the explicit none result,
// never an error and never a fabricated price.
//
// The as-of timestamp is an explicit parameter on every entry point so that
// training and tests are deterministic; the package never reads the wall
// clock itself.
package pricing
