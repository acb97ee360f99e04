package ingest

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"time"

	"carvalue/internal/pricing"
)

// PostgresSource loads observations straight from the scraper's listings
// table. Rows with a null price, year, or odometer are filtered in SQL.
type PostgresSource struct {
	db         *sql.DB
	normalizer pricing.Normalizer
	logger     *slog.Logger
}

// NewPostgresSource creates a Postgres source over an open connection pool.
// The pool is owned by the caller.
func NewPostgresSource(db *sql.DB, normalizer pricing.Normalizer, logger *slog.Logger) *PostgresSource {
	if logger == nil {
		logger = slog.Default()
	}
	return &PostgresSource{db: db, normalizer: normalizer, logger: logger}
}

const listingsQuery = `
SELECT make, model, year, price, kilometers, scraped_at
FROM car_listings
WHERE price IS NOT NULL
  AND year IS NOT NULL
  AND kilometers IS NOT NULL`

// Load queries every priced listing.
func (s *PostgresSource) Load(ctx context.Context) ([]pricing.Observation, error) {
	rows, err := s.db.QueryContext(ctx, listingsQuery)
	if err != nil {
		return nil, fmt.Errorf("query listings: %w", err)
	}
	defer rows.Close()

	now := time.Now()
	var observations []pricing.Observation

	for rows.Next() {
		var (
			makeRaw, modelRaw sql.NullString
			year              int
			price, kilometers float64
			scrapedAt         sql.NullTime
		)
		if err := rows.Scan(&makeRaw, &modelRaw, &year, &price, &kilometers, &scrapedAt); err != nil {
			return nil, fmt.Errorf("scan listing: %w", err)
		}

		makeKey, modelKey := makeRaw.String, modelRaw.String
		if s.normalizer != nil {
			makeKey, modelKey = s.normalizer.Normalize(makeKey, modelKey)
		}

		observedAt := now
		if scrapedAt.Valid {
			observedAt = scrapedAt.Time
		}

		observations = append(observations, pricing.Observation{
			Price:      price,
			Year:       year,
			Kilometers: kilometers,
			ObservedAt: observedAt,
			MakeKey:    makeKey,
			ModelKey:   modelKey,
		})
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate listings: %w", err)
	}

	s.logger.InfoContext(ctx, "loaded database observations",
		slog.Int("loaded", len(observations)),
	)
	return observations, nil
}
