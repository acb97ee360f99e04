package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	_ "github.com/mattn/go-sqlite3"

	"carvalue/internal/pricing"
)

// SQLite is a file-backed ModelStore for single-host deployments. Null key
// components are stored as '' and 0 so the primary key covers every tier with
// one schema.
type SQLite struct {
	db *sql.DB
}

const sqliteSchema = `
CREATE TABLE IF NOT EXISTS price_models (
	tier           TEXT    NOT NULL,
	make_key       TEXT    NOT NULL DEFAULT '',
	model_key      TEXT    NOT NULL DEFAULT '',
	year           INTEGER NOT NULL DEFAULT 0,
	intercept      REAL    NOT NULL,
	beta_age       REAL    NOT NULL,
	beta_logkm     REAL    NOT NULL,
	beta_age_logkm REAL    NOT NULL,
	sample_count   INTEGER NOT NULL,
	r_squared      REAL    NOT NULL,
	rmse           REAL    NOT NULL,
	trained_at     TIMESTAMP NOT NULL,
	PRIMARY KEY (tier, make_key, model_key, year)
);`

// OpenSQLite opens (creating if needed) the database at path and ensures the
// schema exists.
func OpenSQLite(path string) (*SQLite, error) {
	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, fmt.Errorf("sqlite: open %s: %w", path, err)
	}
	if _, err := db.Exec(sqliteSchema); err != nil {
		db.Close()
		return nil, fmt.Errorf("sqlite: migrate: %w", err)
	}
	return &SQLite{db: db}, nil
}

// Close releases the underlying database handle.
func (s *SQLite) Close() error {
	return s.db.Close()
}

// Replace upserts the record for m's key in a single statement, so readers
// never observe a missing or duplicated key.
func (s *SQLite) Replace(ctx context.Context, m pricing.FittedModel) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO price_models
			(tier, make_key, model_key, year,
			 intercept, beta_age, beta_logkm, beta_age_logkm,
			 sample_count, r_squared, rmse, trained_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (tier, make_key, model_key, year) DO UPDATE SET
			intercept      = excluded.intercept,
			beta_age       = excluded.beta_age,
			beta_logkm     = excluded.beta_logkm,
			beta_age_logkm = excluded.beta_age_logkm,
			sample_count   = excluded.sample_count,
			r_squared      = excluded.r_squared,
			rmse           = excluded.rmse,
			trained_at     = excluded.trained_at`,
		string(m.Key.Tier), m.Key.MakeKey, m.Key.ModelKey, m.Key.Year,
		m.Coef.Intercept, m.Coef.Age, m.Coef.LogKM, m.Coef.AgeLogKM,
		m.SampleCount, m.RSquared, m.RMSE, m.TrainedAt.UTC(),
	)
	if err != nil {
		return fmt.Errorf("sqlite: replace %s: %w", m.Key, err)
	}
	return nil
}

// Lookup returns the record for key, or pricing.ErrModelNotFound.
func (s *SQLite) Lookup(ctx context.Context, key pricing.BucketKey) (*pricing.FittedModel, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT tier, make_key, model_key, year,
		       intercept, beta_age, beta_logkm, beta_age_logkm,
		       sample_count, r_squared, rmse, trained_at
		FROM price_models
		WHERE tier = ? AND make_key = ? AND model_key = ? AND year = ?`,
		string(key.Tier), key.MakeKey, key.ModelKey, key.Year,
	)
	m, err := scanModel(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, pricing.ErrModelNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("sqlite: lookup %s: %w", key, err)
	}
	return m, nil
}

// List returns every stored record ordered by key.
func (s *SQLite) List(ctx context.Context) ([]pricing.FittedModel, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT tier, make_key, model_key, year,
		       intercept, beta_age, beta_logkm, beta_age_logkm,
		       sample_count, r_squared, rmse, trained_at
		FROM price_models
		ORDER BY tier, make_key, model_key, year`)
	if err != nil {
		return nil, fmt.Errorf("sqlite: list: %w", err)
	}
	defer rows.Close()
	return collectModels(rows)
}

// Clear removes every stored record.
func (s *SQLite) Clear(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, `DELETE FROM price_models`); err != nil {
		return fmt.Errorf("sqlite: clear: %w", err)
	}
	return nil
}
