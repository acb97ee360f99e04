// Package exporter writes fitted models and training run summaries to CSV
// files for offline inspection. Files carry a UTF-8 BOM so they open cleanly
// in Excel.
package exporter

import (
	"encoding/csv"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"carvalue/internal/pricing"
)

// CSVWriter provides CSV export functionality rooted at a base directory.
type CSVWriter struct {
	baseDir string
	logger  *slog.Logger
}

// NewCSVWriter creates a new CSV writer instance
func NewCSVWriter(baseDir string, logger *slog.Logger) *CSVWriter {
	if logger == nil {
		logger = slog.Default()
	}
	return &CSVWriter{baseDir: baseDir, logger: logger}
}

// writeCSV writes headers and records to a file under the base directory,
// creating parent directories as needed.
func (w *CSVWriter) writeCSV(relPath string, headers []string, records [][]string) error {
	fullPath := filepath.Join(w.baseDir, relPath)

	w.logger.Info("writing csv file",
		slog.String("path", fullPath),
		slog.Int("record_count", len(records)))

	if err := os.MkdirAll(filepath.Dir(fullPath), 0755); err != nil {
		return fmt.Errorf("failed to create directory: %w", err)
	}

	file, err := os.Create(fullPath)
	if err != nil {
		return fmt.Errorf("failed to create file: %w", err)
	}
	defer file.Close()

	// BOM helps Excel recognize UTF-8.
	if _, err := file.Write([]byte{0xEF, 0xBB, 0xBF}); err != nil {
		return fmt.Errorf("failed to write BOM: %w", err)
	}

	writer := csv.NewWriter(file)
	defer writer.Flush()

	if err := writer.Write(headers); err != nil {
		return fmt.Errorf("failed to write headers: %w", err)
	}
	for i, record := range records {
		if err := writer.Write(record); err != nil {
			return fmt.Errorf("failed to write record %d: %w", i, err)
		}
	}
	return writer.Error()
}

// modelHeaders is the column layout of the models export.
var modelHeaders = []string{
	"tier", "make_key", "model_key", "year",
	"intercept", "beta_age", "beta_logkm", "beta_age_logkm",
	"sample_count", "r_squared", "rmse", "trained_at",
}

// ExportModels writes every fitted model to one CSV file.
func (w *CSVWriter) ExportModels(relPath string, models []pricing.FittedModel) error {
	records := make([][]string, 0, len(models))
	for _, m := range models {
		records = append(records, []string{
			string(m.Key.Tier),
			m.Key.MakeKey,
			m.Key.ModelKey,
			strconv.Itoa(m.Key.Year),
			formatFloat(m.Coef.Intercept),
			formatFloat(m.Coef.Age),
			formatFloat(m.Coef.LogKM),
			formatFloat(m.Coef.AgeLogKM),
			strconv.Itoa(m.SampleCount),
			formatFloat(m.RSquared),
			formatFloat(m.RMSE),
			m.TrainedAt.Format(time.RFC3339),
		})
	}
	return w.writeCSV(relPath, modelHeaders, records)
}

// ExportTrainSummary appends one training run report next to the models
// export: one row per skip reason plus the headline counters.
func (w *CSVWriter) ExportTrainSummary(relPath string, summary *pricing.TrainSummary) error {
	records := [][]string{
		{"run_id", summary.RunID},
		{"trained_at", summary.TrainedAt.Format(time.RFC3339)},
		{"buckets", strconv.Itoa(summary.Buckets)},
		{"updated", strconv.Itoa(summary.Updated)},
		{"skipped", strconv.Itoa(summary.Skipped)},
		{"duration", summary.Duration.String()},
	}
	for reason, count := range summary.SkipReasons {
		records = append(records, []string{"skip_" + string(reason), strconv.Itoa(count)})
	}
	return w.writeCSV(relPath, []string{"field", "value"}, records)
}

func formatFloat(v float64) string {
	return strconv.FormatFloat(v, 'f', -1, 64)
}
