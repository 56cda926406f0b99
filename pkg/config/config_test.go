package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/entrhq/browsergrid/pkg/types"
)

func TestDefaultConfigIsValid(t *testing.T) {
	cfg := DefaultConfig()
	require.NoError(t, cfg.Validate())
	assert.Equal(t, "adb", cfg.Devices.ADBPath)
	assert.Equal(t, 2*time.Minute, cfg.Scheduler.TestTimeout)
}

func TestLoad(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "browsergrid.yaml")
	content := `
base_dir: data/profiles
logging:
  verbosity: debug
scheduler:
  workers: 3
  test_timeout: 45s
  retries: 2
browsers:
  chrome:
    binary_path: /opt/chrome/chrome
    args: ["--lang=en-US"]
devices:
  adb_path: /opt/android/adb
`
	require.NoError(t, os.WriteFile(path, []byte(content), 0600))

	cfg, err := Load(path)
	require.NoError(t, err)
	require.NoError(t, cfg.Validate())

	assert.Equal(t, filepath.Join(dir, "data/profiles"), cfg.BaseDir)
	assert.Equal(t, "debug", cfg.Logging.Verbosity)
	assert.Equal(t, 3, cfg.Scheduler.Workers)
	assert.Equal(t, 45*time.Second, cfg.Scheduler.TestTimeout)
	assert.Equal(t, 2, cfg.Scheduler.Retries)
	assert.Equal(t, 30*time.Second, cfg.Scheduler.StallGrace, "unset fields keep defaults")
	assert.Equal(t, "/opt/chrome/chrome", cfg.Browser(types.BrowserChrome).BinaryPath)
	assert.Equal(t, []string{"--lang=en-US"}, cfg.Browser(types.BrowserChrome).Args)
	assert.Empty(t, cfg.Browser(types.BrowserFirefox).BinaryPath)
	assert.Equal(t, "/opt/android/adb", cfg.Devices.ADBPath)
	assert.Equal(t, "xcrun", cfg.Devices.XcrunPath)
}

func TestLoad_EmptyPathReturnsDefaults(t *testing.T) {
	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, DefaultConfig(), cfg)
}

func TestLoad_MissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "nope.yaml"))
	assert.ErrorContains(t, err, "failed to read config file")
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr string
	}{
		{"missing base dir", func(c *Config) { c.BaseDir = "" }, "base_dir is required"},
		{"negative workers", func(c *Config) { c.Scheduler.Workers = -1 }, "workers cannot be negative"},
		{"negative retries", func(c *Config) { c.Scheduler.Retries = -2 }, "retries cannot be negative"},
		{"bad verbosity", func(c *Config) { c.Logging.Verbosity = "loud" }, "invalid logging verbosity"},
		{"unknown browser", func(c *Config) {
			c.Browsers["opera-plus"] = BrowserConfig{}
		}, "unknown browser type"},
		{"reports without dir", func(c *Config) { c.Reports.OutputDir = "" }, "output_dir is required"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultConfig()
			tt.mutate(cfg)
			assert.ErrorContains(t, cfg.Validate(), tt.wantErr)
		})
	}
}
