package report

import (
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/entrhq/browsergrid/pkg/scheduler"
	"github.com/entrhq/browsergrid/pkg/types"
)

func sampleSummary() *Summary {
	start := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	results := []scheduler.TestResult{
		{ID: "login/home", BrowserType: types.BrowserFirefox, Success: true, Duration: 1200 * time.Millisecond},
		{ID: "login/home", BrowserType: types.BrowserChrome, Success: true, Duration: 800 * time.Millisecond, RetryCount: 1},
		{ID: "login/form", BrowserType: types.BrowserChrome, Error: "step 2 failed: click #go: element not found: #go"},
	}
	snap := scheduler.Snapshot{Total: 3, Completed: 2, Failed: 1, Workers: 2, AverageDuration: time.Second}
	return NewSummary("run-1", start, start.Add(3*time.Second), results, snap)
}

func TestNewSummary(t *testing.T) {
	s := sampleSummary()

	assert.Equal(t, StatusFailed, s.Status)
	assert.Equal(t, 2, s.Passed)
	assert.Equal(t, 1, s.Failed)
	assert.Equal(t, 1, s.Retried)
	assert.Equal(t, 3*time.Second, s.Duration)
	assert.Equal(t, []BrowserTally{
		{BrowserType: types.BrowserChrome, Passed: 1, Failed: 1},
		{BrowserType: types.BrowserFirefox, Passed: 1},
	}, s.Browsers)

	failures := s.Failures()
	require.Len(t, failures, 1)
	assert.Equal(t, "login/form", failures[0].ID)

	ok := NewSummary("run-2", time.Now(), time.Now(), []scheduler.TestResult{{Success: true}}, scheduler.Snapshot{})
	assert.Equal(t, StatusPassed, ok.Status)
}

func TestMarkdown(t *testing.T) {
	md := Markdown(sampleSummary())

	assert.Contains(t, md, "# Browser Test Run Summary")
	assert.Contains(t, md, "**Run:** run-1")
	assert.Contains(t, md, "❌ **1 of 3 tests failed**")
	assert.Contains(t, md, "| chrome | 1 | 1 |")
	assert.Contains(t, md, "✅ **login/home** (chrome) 800ms, 1 retries")
	assert.Contains(t, md, "   Error: step 2 failed")
	assert.Contains(t, md, "- **Workers:** 2")
}

func TestMarkdown_CleanupErrorOnPassingTest(t *testing.T) {
	start := time.Now()
	s := NewSummary("run-2", start, start.Add(time.Second), []scheduler.TestResult{
		{ID: "login/home", BrowserType: types.BrowserChrome, Success: true, CleanupError: "failed to close session"},
	}, scheduler.Snapshot{Workers: 1})

	assert.Equal(t, StatusPassed, s.Status)
	md := Markdown(s)
	assert.Contains(t, md, "✅ **login/home**")
	assert.Contains(t, md, "   Cleanup: failed to close session")
	assert.NotContains(t, md, "Error:")
}

func TestWriter_WriteAll(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "reports")
	w := NewWriter(dir, true, true)

	paths, err := w.WriteAll(sampleSummary())
	require.NoError(t, err)
	assert.Equal(t, []string{
		filepath.Join(dir, ReportFile),
		filepath.Join(dir, SummaryFile),
		filepath.Join(dir, MetricsFile),
	}, paths)

	data, err := os.ReadFile(filepath.Join(dir, ReportFile))
	require.NoError(t, err)
	var decoded Summary
	require.NoError(t, json.Unmarshal(data, &decoded))
	assert.Equal(t, "run-1", decoded.RunID)
	assert.Len(t, decoded.Results, 3)

	data, err = os.ReadFile(filepath.Join(dir, MetricsFile))
	require.NoError(t, err)
	var snap scheduler.Snapshot
	require.NoError(t, json.Unmarshal(data, &snap))
	assert.Equal(t, 3, snap.Total)

	info, err := os.Stat(filepath.Join(dir, SummaryFile))
	require.NoError(t, err)
	assert.Equal(t, os.FileMode(0600), info.Mode().Perm())
}

func TestWriter_OnlyMetrics(t *testing.T) {
	dir := t.TempDir()
	paths, err := NewWriter(dir, false, false).WriteAll(sampleSummary())
	require.NoError(t, err)
	assert.Equal(t, []string{filepath.Join(dir, MetricsFile)}, paths)

	_, err = os.Stat(filepath.Join(dir, ReportFile))
	assert.True(t, os.IsNotExist(err))
}
