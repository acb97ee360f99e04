// Package ingest loads raw vehicle listings from CSV files, Excel workbooks,
// and the scraper's Postgres database, and maps them into training
// observations. Sources are tolerant readers: rows missing a price, year, or
// odometer value are counted and dropped rather than failing the load.
package ingest

import (
	"context"
	"strconv"
	"strings"
	"time"

	"carvalue/internal/pricing"
)

// Source loads observations from one backing dataset.
type Source interface {
	Load(ctx context.Context) ([]pricing.Observation, error)
}

// columnMap resolves the flexible header names the scrape exports use onto
// the fixed observation fields. A missing optional column maps to -1.
type columnMap struct {
	makeCol  int
	modelCol int
	year     int
	price    int
	km       int
	observed int
}

// mapColumns matches a header row against the known column name variants.
// Returns false when a required column is absent.
func mapColumns(header []string) (columnMap, bool) {
	cols := columnMap{makeCol: -1, modelCol: -1, year: -1, price: -1, km: -1, observed: -1}
	for i, cell := range header {
		switch strings.ToLower(strings.TrimSpace(cell)) {
		case "make", "brand":
			cols.makeCol = i
		case "model":
			cols.modelCol = i
		case "year", "model_year":
			cols.year = i
		case "price", "asking_price":
			cols.price = i
		case "kilometers", "km", "mileage", "odometer":
			cols.km = i
		case "observed_at", "scraped_at", "listed_at", "date":
			cols.observed = i
		}
	}
	return cols, cols.makeCol >= 0 && cols.year >= 0 && cols.price >= 0 && cols.km >= 0
}

// cell returns the trimmed value at index i, or "" when the row is short.
func cell(row []string, i int) string {
	if i < 0 || i >= len(row) {
		return ""
	}
	return strings.TrimSpace(row[i])
}

// parseNumber parses a numeric cell, tolerating thousands separators and
// currency suffixes as they appear in scrape exports ("3.450.000 kr.").
func parseNumber(s string) (float64, bool) {
	s = strings.TrimSpace(s)
	s = strings.TrimSuffix(s, "kr.")
	s = strings.TrimSuffix(s, "kr")
	s = strings.TrimSpace(s)
	s = strings.ReplaceAll(s, " ", "")
	s = strings.ReplaceAll(s, ".", "")
	s = strings.ReplaceAll(s, ",", "")
	if s == "" {
		return 0, false
	}
	v, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return 0, false
	}
	return v, true
}

// observedAtFormats are tried in order when parsing the observation date.
var observedAtFormats = []string{
	time.RFC3339,
	"2006-01-02 15:04:05",
	"2006-01-02",
}

// parseObservedAt parses a date cell; a blank or unparseable cell falls back
// to the provided default so old exports without timestamps remain usable.
func parseObservedAt(s string, fallback time.Time) time.Time {
	if s == "" {
		return fallback
	}
	for _, layout := range observedAtFormats {
		if t, err := time.Parse(layout, s); err == nil {
			return t
		}
	}
	return fallback
}

// buildObservation converts one raw row into an observation, normalizing the
// make and model into the canonical key space.
func buildObservation(row []string, cols columnMap, normalizer pricing.Normalizer, fallbackTime time.Time) (pricing.Observation, bool) {
	price, ok := parseNumber(cell(row, cols.price))
	if !ok {
		return pricing.Observation{}, false
	}
	yearF, ok := parseNumber(cell(row, cols.year))
	if !ok {
		return pricing.Observation{}, false
	}
	km, ok := parseNumber(cell(row, cols.km))
	if !ok {
		return pricing.Observation{}, false
	}

	makeKey, modelKey := cell(row, cols.makeCol), cell(row, cols.modelCol)
	if normalizer != nil {
		makeKey, modelKey = normalizer.Normalize(makeKey, modelKey)
	}

	return pricing.Observation{
		Price:      price,
		Year:       int(yearF),
		Kilometers: km,
		ObservedAt: parseObservedAt(cell(row, cols.observed), fallbackTime),
		MakeKey:    makeKey,
		ModelKey:   modelKey,
	}, true
}
