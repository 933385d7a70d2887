package backtest

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/voterun/voterun/internal/domain"
)

// Writer persists backtest artifacts to disk: a JSONL result stream plus a
// markdown report, grouped under a per-day directory.
type Writer struct {
	outputDir string
}

// NewWriter creates a writer rooted at outputDir/<date>.
func NewWriter(outputDir string) *Writer {
	return &Writer{outputDir: filepath.Join(outputDir, time.Now().Format("2006-01-02"))}
}

// OutputDir returns the full output directory path.
func (w *Writer) OutputDir() string { return w.outputDir }

// WriteResults writes one JSON line per gauge result, followed by one line
// per portfolio aggregate.
func (w *Writer) WriteResults(epoch int64, gauge []domain.BacktestResult, portfolio []domain.PortfolioBacktestResult) error {
	if err := os.MkdirAll(w.outputDir, 0o755); err != nil {
		return fmt.Errorf("failed to create output directory: %w", err)
	}

	path := filepath.Join(w.outputDir, fmt.Sprintf("backtest_epoch_%d.jsonl", epoch))
	file, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("failed to create results file: %w", err)
	}
	defer file.Close()

	writeLine := func(v any) error {
		b, err := json.Marshal(v)
		if err != nil {
			return fmt.Errorf("failed to marshal result: %w", err)
		}
		if _, err := file.Write(append(b, '\n')); err != nil {
			return fmt.Errorf("failed to write result: %w", err)
		}
		return nil
	}

	for _, g := range gauge {
		if err := writeLine(g); err != nil {
			return err
		}
	}
	for _, p := range portfolio {
		if err := writeLine(p); err != nil {
			return err
		}
	}
	return nil
}

// WriteReport writes the markdown calibration report for one epoch.
func (w *Writer) WriteReport(epoch int64, portfolio []domain.PortfolioBacktestResult) error {
	if err := os.MkdirAll(w.outputDir, 0o755); err != nil {
		return fmt.Errorf("failed to create output directory: %w", err)
	}
	path := filepath.Join(w.outputDir, fmt.Sprintf("report_epoch_%d.md", epoch))
	if err := os.WriteFile(path, []byte(Report(epoch, portfolio)), 0o644); err != nil {
		return fmt.Errorf("failed to write report: %w", err)
	}
	return nil
}

// Report renders portfolio results as a human-readable markdown summary.
func Report(epoch int64, portfolio []domain.PortfolioBacktestResult) string {
	var report strings.Builder

	report.WriteString(fmt.Sprintf("# Backtest Report: Epoch %d\n\n", epoch))
	report.WriteString(fmt.Sprintf("**Generated**: %s\n\n", time.Now().UTC().Format("2006-01-02 15:04:05 UTC")))

	if len(portfolio) == 0 {
		report.WriteString("No forecasts or truth labels available for this epoch.\n")
		return report.String()
	}

	report.WriteString("## Portfolio Returns\n\n")
	report.WriteString("| Window | Expected (bps) | Realized (bps) | Error (bps) | Baseline All | Baseline Top-K | Calibrated |\n")
	report.WriteString("|--------|---------------:|---------------:|------------:|-------------:|---------------:|:----------:|\n")
	for _, p := range portfolio {
		calibrated := "no"
		if p.CalibrationScore >= 1.0 {
			calibrated = "yes"
		}
		report.WriteString(fmt.Sprintf("| %s | %d | %d | %d | %d | %d | %s |\n",
			p.Window, p.ExpectedReturnBps, p.RealizedReturnBps, p.ForecastErrorBps,
			p.BaselineAllReturnBps, p.BaselineTopKReturnBps, calibrated))
	}
	report.WriteString("\n")

	report.WriteString("## Tail Statistics\n\n")
	report.WriteString("| Window | Median | P10 | Min | Max | Regret vs Hindsight |\n")
	report.WriteString("|--------|-------:|----:|----:|----:|--------------------:|\n")
	for _, p := range portfolio {
		report.WriteString(fmt.Sprintf("| %s | %d | %d | %d | %d | %d |\n",
			p.Window, p.MedianRealizedBps, p.P10RealizedBps,
			p.MinRealizedBps, p.MaxRealizedBps, p.RegretVsHindsightBps))
	}
	report.WriteString("\n")

	report.WriteString("## Coverage\n\n")
	for _, p := range portfolio {
		report.WriteString(fmt.Sprintf(
			"- **%s**: %d forecast candidates, %d allocated (%d positive, %d negative, %d unallocated)\n",
			p.Window, p.NumCandidatesForecast, p.NumCandidatesAllocated,
			p.NumPositiveReturn, p.NumNegativeReturn, p.NumZeroAllocations))
	}

	return report.String()
}
