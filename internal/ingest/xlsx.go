package ingest

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/xuri/excelize/v2"

	"carvalue/internal/pricing"
)

// XLSXSource loads observations from an Excel workbook. The header row is
// located by scanning the first rows of each sheet, so workbooks with title
// rows above the data still load.
type XLSXSource struct {
	path       string
	normalizer pricing.Normalizer
	logger     *slog.Logger
}

// NewXLSXSource creates an Excel source.
func NewXLSXSource(path string, normalizer pricing.Normalizer, logger *slog.Logger) *XLSXSource {
	if logger == nil {
		logger = slog.Default()
	}
	return &XLSXSource{path: path, normalizer: normalizer, logger: logger}
}

// headerScanRows is how deep into a sheet the header search looks.
const headerScanRows = 10

// Load reads the first sheet that carries a recognizable listing header.
func (s *XLSXSource) Load(ctx context.Context) ([]pricing.Observation, error) {
	f, err := excelize.OpenFile(s.path)
	if err != nil {
		return nil, fmt.Errorf("open workbook: %w", err)
	}
	defer f.Close()

	var (
		rows      [][]string
		cols      columnMap
		headerRow int
		found     bool
		sheetName string
	)

	for _, name := range f.GetSheetList() {
		sheetRows, err := f.GetRows(name)
		if err != nil {
			continue
		}
		for i, row := range sheetRows {
			if i >= headerScanRows {
				break
			}
			if c, ok := mapColumns(row); ok {
				rows = sheetRows
				cols = c
				headerRow = i
				found = true
				sheetName = name
				break
			}
		}
		if found {
			break
		}
	}
	if !found {
		return nil, fmt.Errorf("workbook %s has no sheet with a listing header (make, year, price, kilometers)", s.path)
	}

	now := time.Now()
	var observations []pricing.Observation
	var dropped int

	for _, row := range rows[headerRow+1:] {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		obs, ok := buildObservation(row, cols, s.normalizer, now)
		if !ok {
			dropped++
			continue
		}
		observations = append(observations, obs)
	}

	s.logger.InfoContext(ctx, "loaded workbook observations",
		slog.String("path", s.path),
		slog.String("sheet", sheetName),
		slog.Int("loaded", len(observations)),
		slog.Int("dropped", dropped),
	)
	return observations, nil
}
