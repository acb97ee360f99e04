package ingest

import (
	"context"
	"encoding/csv"
	"fmt"
	"io"
	"log/slog"
	"os"
	"time"

	"carvalue/internal/pricing"
)

// CSVSource loads observations from a CSV export. The first row must be a
// header; column order is free.
type CSVSource struct {
	path       string
	normalizer pricing.Normalizer
	logger     *slog.Logger
}

// NewCSVSource creates a CSV source. normalizer may be nil when the file
// already carries canonical keys.
func NewCSVSource(path string, normalizer pricing.Normalizer, logger *slog.Logger) *CSVSource {
	if logger == nil {
		logger = slog.Default()
	}
	return &CSVSource{path: path, normalizer: normalizer, logger: logger}
}

// Load reads the whole file. Rows with unparseable numeric fields are
// dropped and counted.
func (s *CSVSource) Load(ctx context.Context) ([]pricing.Observation, error) {
	file, err := os.Open(s.path)
	if err != nil {
		return nil, fmt.Errorf("open csv file: %w", err)
	}
	defer file.Close()

	reader := csv.NewReader(file)
	reader.FieldsPerRecord = -1

	header, err := reader.Read()
	if err != nil {
		return nil, fmt.Errorf("read csv header: %w", err)
	}
	cols, ok := mapColumns(header)
	if !ok {
		return nil, fmt.Errorf("csv file %s is missing a required column (make, year, price, kilometers)", s.path)
	}

	now := time.Now()
	var observations []pricing.Observation
	var dropped int

	for {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		row, err := reader.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("read csv row: %w", err)
		}

		obs, ok := buildObservation(row, cols, s.normalizer, now)
		if !ok {
			dropped++
			continue
		}
		observations = append(observations, obs)
	}

	s.logger.InfoContext(ctx, "loaded csv observations",
		slog.String("path", s.path),
		slog.Int("loaded", len(observations)),
		slog.Int("dropped", dropped),
	)
	return observations, nil
}
