// Package report writes run artifacts: a JSON report, a Markdown summary and
// a metrics snapshot.
package report

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/entrhq/browsergrid/pkg/scheduler"
	"github.com/entrhq/browsergrid/pkg/types"
)

// Run statuses.
const (
	StatusPassed = "passed"
	StatusFailed = "failed"
)

// Artifact file names inside the output directory.
const (
	ReportFile  = "report.json"
	SummaryFile = "summary.md"
	MetricsFile = "metrics.json"
)

// Summary is the complete record of one run.
type Summary struct {
	RunID     string                 `json:"run_id"`
	Status    string                 `json:"status"`
	StartTime time.Time              `json:"start_time"`
	EndTime   time.Time              `json:"end_time"`
	Duration  time.Duration          `json:"duration"`
	Passed    int                    `json:"passed"`
	Failed    int                    `json:"failed"`
	Retried   int                    `json:"retried"`
	Browsers  []BrowserTally         `json:"browsers"`
	Results   []scheduler.TestResult `json:"results"`
	Metrics   scheduler.Snapshot     `json:"metrics"`
}

// BrowserTally counts outcomes for one browser type.
type BrowserTally struct {
	BrowserType types.BrowserType `json:"browser_type"`
	Passed      int               `json:"passed"`
	Failed      int               `json:"failed"`
}

// NewSummary builds a Summary from a finished batch.
func NewSummary(runID string, start, end time.Time, results []scheduler.TestResult, snap scheduler.Snapshot) *Summary {
	s := &Summary{
		RunID:     runID,
		StartTime: start,
		EndTime:   end,
		Duration:  end.Sub(start),
		Results:   results,
		Metrics:   snap,
	}

	tallies := make(map[types.BrowserType]*BrowserTally)
	for _, r := range results {
		t, ok := tallies[r.BrowserType]
		if !ok {
			t = &BrowserTally{BrowserType: r.BrowserType}
			tallies[r.BrowserType] = t
		}
		if r.Success {
			s.Passed++
			t.Passed++
		} else {
			s.Failed++
			t.Failed++
		}
		if r.RetryCount > 0 {
			s.Retried++
		}
	}
	for _, t := range tallies {
		s.Browsers = append(s.Browsers, *t)
	}
	sort.Slice(s.Browsers, func(i, j int) bool {
		return s.Browsers[i].BrowserType < s.Browsers[j].BrowserType
	})

	s.Status = StatusPassed
	if s.Failed > 0 {
		s.Status = StatusFailed
	}
	return s
}

// Failures returns the failed results in input order.
func (s *Summary) Failures() []scheduler.TestResult {
	var out []scheduler.TestResult
	for _, r := range s.Results {
		if !r.Success {
			out = append(out, r)
		}
	}
	return out
}

// Writer writes artifacts into a directory.
type Writer struct {
	outputDir string
	json      bool
	markdown  bool
}

// NewWriter creates a writer. Metrics are always written; the report and
// summary follow the flags.
func NewWriter(outputDir string, writeJSON, writeMarkdown bool) *Writer {
	return &Writer{
		outputDir: outputDir,
		json:      writeJSON,
		markdown:  writeMarkdown,
	}
}

// WriteAll writes every enabled artifact and returns their paths.
func (w *Writer) WriteAll(summary *Summary) ([]string, error) {
	if err := os.MkdirAll(w.outputDir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create output directory: %w", err)
	}

	var written []string
	if w.json {
		path, err := w.WriteReportJSON(summary)
		if err != nil {
			return written, fmt.Errorf("failed to write report JSON: %w", err)
		}
		written = append(written, path)
	}

	if w.markdown {
		path, err := w.WriteSummaryMarkdown(summary)
		if err != nil {
			return written, fmt.Errorf("failed to write summary markdown: %w", err)
		}
		written = append(written, path)
	}

	path, err := w.WriteMetricsJSON(summary)
	if err != nil {
		return written, fmt.Errorf("failed to write metrics JSON: %w", err)
	}
	return append(written, path), nil
}

// WriteReportJSON writes the full summary as JSON.
func (w *Writer) WriteReportJSON(summary *Summary) (string, error) {
	return w.writeJSON(ReportFile, summary)
}

// WriteMetricsJSON writes the scheduler snapshot as JSON.
func (w *Writer) WriteMetricsJSON(summary *Summary) (string, error) {
	return w.writeJSON(MetricsFile, summary.Metrics)
}

func (w *Writer) writeJSON(name string, v any) (string, error) {
	path := filepath.Join(w.outputDir, name)
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return "", fmt.Errorf("failed to marshal %s: %w", name, err)
	}
	if err := os.WriteFile(path, data, 0600); err != nil {
		return "", err
	}
	return path, nil
}

// WriteSummaryMarkdown writes a human-readable summary.
func (w *Writer) WriteSummaryMarkdown(summary *Summary) (string, error) {
	path := filepath.Join(w.outputDir, SummaryFile)
	if err := os.WriteFile(path, []byte(Markdown(summary)), 0600); err != nil {
		return "", err
	}
	return path, nil
}

// Markdown renders the summary.
func Markdown(summary *Summary) string {
	var md strings.Builder

	md.WriteString("# Browser Test Run Summary\n\n")
	md.WriteString(fmt.Sprintf("**Run:** %s\n\n", summary.RunID))
	md.WriteString(fmt.Sprintf("**Status:** %s\n\n", summary.Status))
	md.WriteString(fmt.Sprintf("**Started:** %s\n\n", summary.StartTime.Format(time.RFC3339)))
	md.WriteString(fmt.Sprintf("**Completed:** %s\n\n", summary.EndTime.Format(time.RFC3339)))
	md.WriteString(fmt.Sprintf("**Duration:** %s\n\n", summary.Duration.Round(time.Millisecond)))

	md.WriteString("## Result\n\n")
	if summary.Failed == 0 {
		md.WriteString(fmt.Sprintf("✅ **All %d tests passed**\n\n", summary.Passed))
	} else {
		md.WriteString(fmt.Sprintf("❌ **%d of %d tests failed**\n\n", summary.Failed, summary.Passed+summary.Failed))
	}

	if len(summary.Browsers) > 0 {
		md.WriteString("## Browsers\n\n")
		md.WriteString("| Browser | Passed | Failed |\n|---|---|---|\n")
		for _, b := range summary.Browsers {
			md.WriteString(fmt.Sprintf("| %s | %d | %d |\n", b.BrowserType, b.Passed, b.Failed))
		}
		md.WriteString("\n")
	}

	if len(summary.Results) > 0 {
		md.WriteString("## Tests\n\n")
		for _, r := range summary.Results {
			status := "✅"
			if !r.Success {
				status = "❌"
			}
			md.WriteString(fmt.Sprintf("%s **%s** (%s) %s", status, r.ID, r.BrowserType, r.Duration.Round(time.Millisecond)))
			if r.RetryCount > 0 {
				md.WriteString(fmt.Sprintf(", %d retries", r.RetryCount))
			}
			md.WriteString("\n")
			if r.Error != "" {
				md.WriteString(fmt.Sprintf("   Error: %s\n", r.Error))
			}
			if r.CleanupError != "" {
				md.WriteString(fmt.Sprintf("   Cleanup: %s\n", r.CleanupError))
			}
		}
		md.WriteString("\n")
	}

	md.WriteString("## Metrics\n\n")
	md.WriteString(fmt.Sprintf("- **Workers:** %d\n", summary.Metrics.Workers))
	md.WriteString(fmt.Sprintf("- **Total Tests:** %d\n", summary.Metrics.Total))
	md.WriteString(fmt.Sprintf("- **Average Duration:** %s\n", summary.Metrics.AverageDuration.Round(time.Millisecond)))
	md.WriteString(fmt.Sprintf("- **Retried Tests:** %d\n", summary.Retried))

	return md.String()
}
