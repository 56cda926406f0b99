// Package main provides the browsergrid command. It runs YAML browser test
// suites on a bounded pool of isolated workers, checks which browser backends
// are usable on the host, and manages persisted browser profiles.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"log"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/entrhq/browsergrid/pkg/browser"
	"github.com/entrhq/browsergrid/pkg/config"
	"github.com/entrhq/browsergrid/pkg/logging"
	"github.com/entrhq/browsergrid/pkg/profile"
	"github.com/entrhq/browsergrid/pkg/types"
)

const version = "0.1.0"

// errTestsFailed makes the process exit non-zero without logging an error.
var errTestsFailed = errors.New("tests failed")

func main() {
	if len(os.Args) < 2 {
		usage(os.Stderr)
		os.Exit(2)
	}

	// Create context with signal handling
	ctx, cancel := context.WithCancel(context.Background())
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	go func() {
		<-sigChan
		fmt.Fprintln(os.Stderr, "\nShutting down gracefully...")
		cancel()
	}()

	var err error
	switch cmd, args := os.Args[1], os.Args[2:]; cmd {
	case "run":
		err = runCommand(ctx, args, os.Stdout)
	case "validate":
		err = validateCommand(ctx, args, os.Stdout)
	case "profiles":
		err = profilesCommand(ctx, args, os.Stdout)
	case "version", "-version", "--version":
		fmt.Printf("browsergrid v%s\n", version)
	case "help", "-h", "-help", "--help":
		usage(os.Stdout)
	default:
		fmt.Fprintf(os.Stderr, "unknown command %q\n\n", cmd)
		usage(os.Stderr)
		cancel()
		os.Exit(2)
	}
	cancel()

	switch {
	case err == nil:
	case errors.Is(err, errTestsFailed):
		os.Exit(1)
	case errors.Is(err, flag.ErrHelp):
		os.Exit(0)
	default:
		log.Printf("browsergrid: %v", err)
		os.Exit(2)
	}
}

func usage(w io.Writer) {
	fmt.Fprintf(w, "browsergrid - concurrent browser test runner\n\n")
	fmt.Fprintf(w, "Usage:\n")
	fmt.Fprintf(w, "  browsergrid run [options] <suite.yaml|dir>...   Run test suites\n")
	fmt.Fprintf(w, "  browsergrid validate [options]                  Check browser backends\n")
	fmt.Fprintf(w, "  browsergrid profiles <action> [options]         Manage browser profiles\n")
	fmt.Fprintf(w, "  browsergrid version                             Show version\n\n")
	fmt.Fprintf(w, "Run 'browsergrid <command> -h' for command options.\n\n")
	fmt.Fprintf(w, "Examples:\n")
	fmt.Fprintf(w, "  # Run every suite in a directory on chrome and firefox\n")
	fmt.Fprintf(w, "  browsergrid run -browsers chrome,firefox tests/\n\n")
	fmt.Fprintf(w, "  # Run one case with four workers\n")
	fmt.Fprintf(w, "  browsergrid run -workers 4 -run 'login/home*' tests/login.yaml\n\n")
	fmt.Fprintf(w, "  # Export a profile for another machine\n")
	fmt.Fprintf(w, "  browsergrid profiles export -browser chrome -id <id>\n")
}

// commonFlags are shared by every subcommand.
type commonFlags struct {
	configFile string
	verbosity  string
	baseDir    string
}

func (c *commonFlags) register(fs *flag.FlagSet) {
	fs.StringVar(&c.configFile, "config", "", "Path to configuration file (YAML)")
	fs.StringVar(&c.verbosity, "v", "", "Log verbosity: quiet, normal, verbose or debug")
	fs.StringVar(&c.baseDir, "profiles-dir", "", "Directory holding the profile stores")
}

// loadConfig loads the config file and applies flag overrides.
func (c *commonFlags) loadConfig() (*config.Config, error) {
	cfg, err := config.Load(c.configFile)
	if err != nil {
		return nil, err
	}
	if c.verbosity != "" {
		cfg.Logging.Verbosity = c.verbosity
	}
	if c.baseDir != "" {
		cfg.BaseDir = c.baseDir
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

// env is what every subcommand works with.
type env struct {
	cfg      *config.Config
	logger   *logging.Logger
	profiles *profile.Manager
	registry *browser.Registry
}

func newEnv(c *commonFlags) (*env, error) {
	cfg, err := c.loadConfig()
	if err != nil {
		return nil, err
	}

	level, err := logging.ParseVerbosity(cfg.Logging.Verbosity)
	if err != nil {
		return nil, err
	}
	logging.Configure(cfg.Logging.Dir, level)
	logger, err := logging.NewLogger("browsergrid")
	if err != nil {
		log.Printf("Logging to stderr: %v", err)
	}

	profiles := profile.NewManager(cfg.BaseDir, profile.WithLogger(logger.With("profile")))
	registry := browser.NewDefaultRegistry(cfg, profiles, browser.ExecRunner{}, logger.With("browser"))
	return &env{cfg: cfg, logger: logger, profiles: profiles, registry: registry}, nil
}

func (e *env) close() {
	_ = e.logger.Close()
}

// parseBrowserList splits a comma separated list of browser names.
func parseBrowserList(s string) []types.BrowserType {
	var out []types.BrowserType
	for _, part := range strings.Split(s, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, types.ParseBrowserType(part))
		}
	}
	return out
}
