package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	_ "github.com/lib/pq"

	"carvalue/internal/pricing"
)

// Postgres is a shared ModelStore for multi-host deployments. It uses the
// same one-row-per-bucket layout as the SQLite store.
type Postgres struct {
	db *sql.DB
}

const postgresSchema = `
CREATE TABLE IF NOT EXISTS price_models (
	tier           VARCHAR(20)      NOT NULL,
	make_key       VARCHAR(100)     NOT NULL DEFAULT '',
	model_key      VARCHAR(100)     NOT NULL DEFAULT '',
	year           INTEGER          NOT NULL DEFAULT 0,
	intercept      DOUBLE PRECISION NOT NULL,
	beta_age       DOUBLE PRECISION NOT NULL,
	beta_logkm     DOUBLE PRECISION NOT NULL,
	beta_age_logkm DOUBLE PRECISION NOT NULL,
	sample_count   INTEGER          NOT NULL,
	r_squared      DOUBLE PRECISION NOT NULL,
	rmse           DOUBLE PRECISION NOT NULL,
	trained_at     TIMESTAMPTZ      NOT NULL,
	PRIMARY KEY (tier, make_key, model_key, year)
);`

// OpenPostgres connects with the given DSN, verifies the connection, and
// ensures the schema exists.
func OpenPostgres(ctx context.Context, dsn string) (*Postgres, error) {
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("postgres: open: %w", err)
	}
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("postgres: ping: %w", err)
	}
	if _, err := db.ExecContext(ctx, postgresSchema); err != nil {
		db.Close()
		return nil, fmt.Errorf("postgres: migrate: %w", err)
	}
	return &Postgres{db: db}, nil
}

// Close releases the connection pool.
func (s *Postgres) Close() error {
	return s.db.Close()
}

// Replace upserts the record for m's key in a single statement.
func (s *Postgres) Replace(ctx context.Context, m pricing.FittedModel) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO price_models
			(tier, make_key, model_key, year,
			 intercept, beta_age, beta_logkm, beta_age_logkm,
			 sample_count, r_squared, rmse, trained_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
		ON CONFLICT (tier, make_key, model_key, year) DO UPDATE SET
			intercept      = EXCLUDED.intercept,
			beta_age       = EXCLUDED.beta_age,
			beta_logkm     = EXCLUDED.beta_logkm,
			beta_age_logkm = EXCLUDED.beta_age_logkm,
			sample_count   = EXCLUDED.sample_count,
			r_squared      = EXCLUDED.r_squared,
			rmse           = EXCLUDED.rmse,
			trained_at     = EXCLUDED.trained_at`,
		string(m.Key.Tier), m.Key.MakeKey, m.Key.ModelKey, m.Key.Year,
		m.Coef.Intercept, m.Coef.Age, m.Coef.LogKM, m.Coef.AgeLogKM,
		m.SampleCount, m.RSquared, m.RMSE, m.TrainedAt.UTC(),
	)
	if err != nil {
		return fmt.Errorf("postgres: replace %s: %w", m.Key, err)
	}
	return nil
}

// Lookup returns the record for key, or pricing.ErrModelNotFound.
func (s *Postgres) Lookup(ctx context.Context, key pricing.BucketKey) (*pricing.FittedModel, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT tier, make_key, model_key, year,
		       intercept, beta_age, beta_logkm, beta_age_logkm,
		       sample_count, r_squared, rmse, trained_at
		FROM price_models
		WHERE tier = $1 AND make_key = $2 AND model_key = $3 AND year = $4`,
		string(key.Tier), key.MakeKey, key.ModelKey, key.Year,
	)
	m, err := scanModel(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, pricing.ErrModelNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("postgres: lookup %s: %w", key, err)
	}
	return m, nil
}

// List returns every stored record ordered by key.
func (s *Postgres) List(ctx context.Context) ([]pricing.FittedModel, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT tier, make_key, model_key, year,
		       intercept, beta_age, beta_logkm, beta_age_logkm,
		       sample_count, r_squared, rmse, trained_at
		FROM price_models
		ORDER BY tier, make_key, model_key, year`)
	if err != nil {
		return nil, fmt.Errorf("postgres: list: %w", err)
	}
	defer rows.Close()
	return collectModels(rows)
}

// Clear removes every stored record.
func (s *Postgres) Clear(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, `DELETE FROM price_models`); err != nil {
		return fmt.Errorf("postgres: clear: %w", err)
	}
	return nil
}
