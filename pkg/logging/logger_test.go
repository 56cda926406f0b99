package logging

import (
	"bytes"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
)

// setupTestDir points the package at a temporary log directory and resets
// global state.
func setupTestDir(t *testing.T) {
	t.Helper()

	tempDir := t.TempDir()

	origLogDir := logDir
	origInitErr := initErr
	origRunID := runID

	logDir = tempDir
	initErr = nil
	initOnce = sync.Once{}
	runID = ""
	runIDOnce = sync.Once{}
	SetLevel(LevelDebug)

	t.Cleanup(func() {
		logDir = origLogDir
		initErr = origInitErr
		initOnce = sync.Once{}
		runID = origRunID
		runIDOnce = sync.Once{}
		SetLevel(LevelInfo)
	})
}

func TestNewLogger(t *testing.T) {
	setupTestDir(t)

	logger, err := NewLogger("scheduler")
	if err != nil {
		t.Fatalf("Failed to create logger: %v", err)
	}
	defer logger.Close()

	if logger.Component() != "scheduler" {
		t.Errorf("Expected component 'scheduler', got %q", logger.Component())
	}
	if logger.RunID() == "" {
		t.Error("Expected non-empty run ID")
	}
	if _, err := os.Stat(logger.LogPath()); os.IsNotExist(err) {
		t.Errorf("Log file does not exist at %s", logger.LogPath())
	}
}

func TestLoggerFormatting(t *testing.T) {
	setupTestDir(t)

	logger, err := NewLogger("profile")
	if err != nil {
		t.Fatalf("Failed to create logger: %v", err)
	}
	defer logger.Close()

	logger.Debugf("Debug message")
	logger.Infof("Created profile %d", 7)
	logger.Warnf("Warning message")
	logger.Errorf("Error message")

	content, err := os.ReadFile(logger.LogPath())
	if err != nil {
		t.Fatalf("Failed to read log file: %v", err)
	}
	logContent := string(content)

	expectedPatterns := []string{
		"[profile] [DEBUG] Debug message",
		"[profile] [INFO] Created profile 7",
		"[profile] [WARN] Warning message",
		"[profile] [ERROR] Error message",
	}
	for _, pattern := range expectedPatterns {
		if !strings.Contains(logContent, pattern) {
			t.Errorf("Log content missing expected pattern: %q\nContent:\n%s", pattern, logContent)
		}
	}
}

func TestLevelFiltering(t *testing.T) {
	setupTestDir(t)

	var buf bytes.Buffer
	logger := NewWriterLogger("session", &buf)

	SetLevel(LevelWarn)
	logger.Infof("hidden")
	logger.Warnf("shown")

	out := buf.String()
	if strings.Contains(out, "hidden") {
		t.Errorf("Info line should be filtered at warn level:\n%s", out)
	}
	if !strings.Contains(out, "[session] [WARN] shown") {
		t.Errorf("Warn line missing:\n%s", out)
	}
}

func TestWithSharesOutput(t *testing.T) {
	setupTestDir(t)

	var buf bytes.Buffer
	parent := NewWriterLogger("grid", &buf)
	child := parent.With("worker-1")

	parent.Infof("from parent")
	child.Infof("from child")

	out := buf.String()
	if !strings.Contains(out, "[grid] [INFO] from parent") || !strings.Contains(out, "[worker-1] [INFO] from child") {
		t.Errorf("Expected both components in output:\n%s", out)
	}
	if parent.RunID() != child.RunID() {
		t.Errorf("Expected shared run ID, got %q and %q", parent.RunID(), child.RunID())
	}
}

func TestParseVerbosity(t *testing.T) {
	tests := []struct {
		in      string
		want    Level
		wantErr bool
	}{
		{"quiet", LevelWarn, false},
		{"normal", LevelInfo, false},
		{"", LevelInfo, false},
		{"verbose", LevelDebug, false},
		{"debug", LevelDebug, false},
		{"loud", LevelInfo, true},
	}
	for _, tt := range tests {
		got, err := ParseVerbosity(tt.in)
		if (err != nil) != tt.wantErr {
			t.Errorf("ParseVerbosity(%q) error = %v, wantErr %v", tt.in, err, tt.wantErr)
		}
		if got != tt.want {
			t.Errorf("ParseVerbosity(%q) = %v, want %v", tt.in, got, tt.want)
		}
	}
}

func TestLoggerClose(t *testing.T) {
	setupTestDir(t)

	logger, err := NewLogger("test")
	if err != nil {
		t.Fatalf("Failed to create logger: %v", err)
	}
	if err := logger.Close(); err != nil {
		t.Errorf("First close failed: %v", err)
	}
	if err := logger.Close(); err != nil {
		t.Errorf("Second close failed: %v", err)
	}
}

func TestLogPathFormat(t *testing.T) {
	setupTestDir(t)

	logger, err := NewLogger("test")
	if err != nil {
		t.Fatalf("Failed to create logger: %v", err)
	}
	defer logger.Close()

	fileName := filepath.Base(logger.LogPath())
	if !strings.HasSuffix(fileName, "-browsergrid.log") {
		t.Errorf("Expected log file to end with '-browsergrid.log', got %q", fileName)
	}
	if runPart := strings.TrimSuffix(fileName, "-browsergrid.log"); runPart != logger.RunID() {
		t.Errorf("Expected file name to start with run ID %q, got %q", logger.RunID(), runPart)
	}
}
