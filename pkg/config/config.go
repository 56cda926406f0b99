package config

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/entrhq/browsergrid/pkg/types"
)

// Config is the file-level configuration for a browsergrid process.
type Config struct {
	// BaseDir is the root under which one profile store per browser type lives.
	BaseDir string `yaml:"base_dir" json:"base_dir"`

	Logging   LoggingConfig                       `yaml:"logging" json:"logging"`
	Scheduler SchedulerConfig                     `yaml:"scheduler" json:"scheduler"`
	Browsers  map[types.BrowserType]BrowserConfig `yaml:"browsers" json:"browsers"`
	Devices   DeviceConfig                        `yaml:"devices" json:"devices"`
	Driver    DriverConfig                        `yaml:"driver" json:"driver"`
	Reports   ReportConfig                        `yaml:"reports" json:"reports"`
}

// LoggingConfig defines logging configuration
type LoggingConfig struct {
	// Verbosity controls logging level: quiet, normal, verbose, debug
	Verbosity string `yaml:"verbosity" json:"verbosity"`
	// Dir overrides the run log directory (default ~/.browsergrid/logs)
	Dir string `yaml:"dir" json:"dir"`
}

// SchedulerConfig sizes the worker pool and bounds each test.
type SchedulerConfig struct {
	// Workers is the requested pool size; 0 means host parallelism minus one.
	Workers     int           `yaml:"workers" json:"workers"`
	TestTimeout time.Duration `yaml:"test_timeout" json:"test_timeout"`
	Retries     int           `yaml:"retries" json:"retries"`
	// StallGrace is added to the test timeout before a silent worker is
	// considered crashed and its slot restarted.
	StallGrace time.Duration `yaml:"stall_grace" json:"stall_grace"`
}

// BrowserConfig overrides per-backend defaults.
type BrowserConfig struct {
	BinaryPath string   `yaml:"binary_path" json:"binary_path"`
	Args       []string `yaml:"args" json:"args"`
	Headless   *bool    `yaml:"headless" json:"headless"`
}

// DeviceConfig locates the device-bridge tools used for mobile discovery.
type DeviceConfig struct {
	ADBPath   string `yaml:"adb_path" json:"adb_path"`
	XcrunPath string `yaml:"xcrun_path" json:"xcrun_path"`
}

// DriverConfig configures the automation client.
type DriverConfig struct {
	// Install downloads the Playwright driver and browsers before the first run.
	Install bool `yaml:"install" json:"install"`
	// Browsers limits which Playwright browsers are installed.
	Browsers []string `yaml:"browsers" json:"browsers"`
}

// ReportConfig defines artifact generation configuration
type ReportConfig struct {
	Enabled   bool   `yaml:"enabled" json:"enabled"`
	OutputDir string `yaml:"output_dir" json:"output_dir"`
	JSON      bool   `yaml:"json" json:"json"`
	Markdown  bool   `yaml:"markdown" json:"markdown"`
}

// DefaultConfig returns a configuration suitable for local runs.
func DefaultConfig() *Config {
	return &Config{
		BaseDir: "profiles",
		Logging: LoggingConfig{
			Verbosity: "normal",
		},
		Scheduler: SchedulerConfig{
			TestTimeout: 2 * time.Minute,
			StallGrace:  30 * time.Second,
		},
		Browsers: map[types.BrowserType]BrowserConfig{},
		Devices: DeviceConfig{
			ADBPath:   "adb",
			XcrunPath: "xcrun",
		},
		Driver: DriverConfig{
			Install: true,
		},
		Reports: ReportConfig{
			Enabled:   true,
			OutputDir: ".browsergrid/reports",
			JSON:      true,
			Markdown:  true,
		},
	}
}

// Load reads a YAML file on top of DefaultConfig. A missing path returns the
// defaults.
func Load(path string) (*Config, error) {
	cfg := DefaultConfig()
	if path == "" {
		return cfg, nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}
	if cfg.Browsers == nil {
		cfg.Browsers = map[types.BrowserType]BrowserConfig{}
	}
	if cfg.BaseDir != "" && !filepath.IsAbs(cfg.BaseDir) {
		// Relative base dirs are anchored at the config file.
		cfg.BaseDir = filepath.Join(filepath.Dir(path), cfg.BaseDir)
	}
	return cfg, nil
}

// Browser returns the overrides for a backend (zero value when unset).
func (c *Config) Browser(bt types.BrowserType) BrowserConfig {
	if c.Browsers == nil {
		return BrowserConfig{}
	}
	return c.Browsers[bt]
}

// Validate validates the configuration
func (c *Config) Validate() error {
	if c.BaseDir == "" {
		return fmt.Errorf("base_dir is required")
	}

	if c.Scheduler.Workers < 0 {
		return fmt.Errorf("scheduler.workers cannot be negative")
	}
	if c.Scheduler.TestTimeout < 0 {
		return fmt.Errorf("scheduler.test_timeout cannot be negative")
	}
	if c.Scheduler.Retries < 0 {
		return fmt.Errorf("scheduler.retries cannot be negative")
	}
	if c.Scheduler.StallGrace < 0 {
		return fmt.Errorf("scheduler.stall_grace cannot be negative")
	}

	known := make(map[types.BrowserType]bool)
	for _, bt := range types.AllBrowserTypes() {
		known[bt] = true
	}
	for bt := range c.Browsers {
		if !known[bt] {
			return fmt.Errorf("browsers: unknown browser type %q", bt)
		}
	}

	if c.Logging.Verbosity == "" {
		c.Logging.Verbosity = "normal"
	}
	validLevels := map[string]bool{
		"quiet":   true,
		"normal":  true,
		"verbose": true,
		"debug":   true,
	}
	if !validLevels[c.Logging.Verbosity] {
		return fmt.Errorf("invalid logging verbosity: %s (must be 'quiet', 'normal', 'verbose', or 'debug')", c.Logging.Verbosity)
	}

	if c.Reports.Enabled && c.Reports.OutputDir == "" {
		return fmt.Errorf("reports.output_dir is required when reports are enabled")
	}

	return nil
}
