package store

import (
	"database/sql"

	"carvalue/internal/pricing"
)

// rowScanner covers *sql.Row and *sql.Rows.
type rowScanner interface {
	Scan(dest ...any) error
}

// scanModel reads one price_models row in the shared column order.
func scanModel(r rowScanner) (*pricing.FittedModel, error) {
	var m pricing.FittedModel
	var tier string
	if err := r.Scan(
		&tier, &m.Key.MakeKey, &m.Key.ModelKey, &m.Key.Year,
		&m.Coef.Intercept, &m.Coef.Age, &m.Coef.LogKM, &m.Coef.AgeLogKM,
		&m.SampleCount, &m.RSquared, &m.RMSE, &m.TrainedAt,
	); err != nil {
		return nil, err
	}
	m.Key.Tier = pricing.Tier(tier)
	return &m, nil
}

func collectModels(rows *sql.Rows) ([]pricing.FittedModel, error) {
	var out []pricing.FittedModel
	for rows.Next() {
		m, err := scanModel(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *m)
	}
	return out, rows.Err()
}
