package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"net"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/entrhq/browsergrid/pkg/config"
	"github.com/entrhq/browsergrid/pkg/logging"
	"github.com/entrhq/browsergrid/pkg/report"
	"github.com/entrhq/browsergrid/pkg/scheduler"
	"github.com/entrhq/browsergrid/pkg/session"
	"github.com/entrhq/browsergrid/pkg/suite"
	"github.com/entrhq/browsergrid/pkg/types"
	"github.com/entrhq/browsergrid/pkg/webdriver/pwdriver"
)

type runFlags struct {
	commonFlags
	workers     int
	timeout     time.Duration
	retries     int
	run         string
	browsers    string
	headed      bool
	reportDir   string
	noReport    bool
	noInstall   bool
	metricsAddr string
}

func parseRunFlags(args []string, out io.Writer) (*runFlags, []string, error) {
	f := &runFlags{}
	fs := flag.NewFlagSet("run", flag.ContinueOnError)
	fs.SetOutput(out)
	f.register(fs)
	fs.IntVar(&f.workers, "workers", -1, "Worker pool size (default from config, 0 for host parallelism)")
	fs.DurationVar(&f.timeout, "timeout", 0, "Per-test timeout (default from config)")
	fs.IntVar(&f.retries, "retries", -1, "Retries after a failed attempt (default from config)")
	fs.StringVar(&f.run, "run", "", "Only run tests whose <suite>/<test> id matches this glob")
	fs.StringVar(&f.browsers, "browsers", "", "Comma separated browsers, replacing the ones in the suites")
	fs.BoolVar(&f.headed, "headed", false, "Show browser windows")
	fs.StringVar(&f.reportDir, "report-dir", "", "Report output directory (default from config)")
	fs.BoolVar(&f.noReport, "no-report", false, "Do not write report artifacts")
	fs.BoolVar(&f.noInstall, "no-install", false, "Skip the Playwright driver install")
	fs.StringVar(&f.metricsAddr, "metrics-addr", "", "Serve Prometheus metrics on this address while running")
	if err := fs.Parse(args); err != nil {
		return nil, nil, err
	}
	if fs.NArg() == 0 {
		return nil, nil, fmt.Errorf("run: at least one suite file or directory is required")
	}
	return f, fs.Args(), nil
}

// apply folds flag overrides into cfg.
func (f *runFlags) apply(cfg *config.Config) {
	if f.workers >= 0 {
		cfg.Scheduler.Workers = f.workers
	}
	if f.timeout > 0 {
		cfg.Scheduler.TestTimeout = f.timeout
	}
	if f.retries >= 0 {
		cfg.Scheduler.Retries = f.retries
	}
	if f.reportDir != "" {
		cfg.Reports.OutputDir = f.reportDir
	}
	if f.noReport {
		cfg.Reports.Enabled = false
	}
	if f.noInstall {
		cfg.Driver.Install = false
	}
}

func runCommand(ctx context.Context, args []string, out io.Writer) error {
	f, paths, err := parseRunFlags(args, out)
	if err != nil {
		return err
	}
	e, err := newEnv(&f.commonFlags)
	if err != nil {
		return err
	}
	defer e.close()
	f.apply(e.cfg)
	logger := e.logger

	tests, err := suite.Load(logger.With("suite"), paths...)
	if err != nil {
		return err
	}
	specs, err := tests.Specs(suite.Selection{
		Run:             f.run,
		Browsers:        parseBrowserList(f.browsers),
		DefaultBrowsers: []types.BrowserType{types.BrowserChrome},
	})
	if err != nil {
		return err
	}
	if len(specs) == 0 {
		fmt.Fprintln(out, "No tests selected.")
		return nil
	}
	applyBrowserDefaults(specs, e.cfg, !f.headed)

	if e.cfg.Driver.Install {
		logger.Infof("Installing Playwright driver")
		if err := pwdriver.Install(e.cfg.Driver.Browsers); err != nil {
			return err
		}
	}

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector())
	if f.metricsAddr != "" {
		stop, err := serveMetrics(f.metricsAddr, reg, logger)
		if err != nil {
			return err
		}
		defer stop()
	}

	sessions := session.NewRegistry(logger.With("session"))
	defer func() {
		if err := sessions.CloseAll(context.Background()); err != nil {
			logger.Warnf("Failed to close leftover sessions: %v", err)
		}
	}()

	sched := scheduler.New(e.registry, sessions,
		pwdriver.Factory(pwdriver.Options{Timeout: e.cfg.Scheduler.TestTimeout, Logger: logger}),
		tests,
		scheduler.WithWorkers(e.cfg.Scheduler.Workers),
		scheduler.WithTimeout(e.cfg.Scheduler.TestTimeout),
		scheduler.WithRetries(e.cfg.Scheduler.Retries),
		scheduler.WithStallGrace(e.cfg.Scheduler.StallGrace),
		scheduler.WithLogger(logger.With("scheduler")),
		scheduler.WithRegisterer(reg),
	)

	fmt.Fprintf(out, "Running %d tests on up to %d workers...\n", len(specs), sched.PoolSize(len(specs)))
	start := time.Now()
	results, err := sched.RunTests(ctx, specs)
	if err != nil {
		return fmt.Errorf("run failed: %w", err)
	}

	summary := report.NewSummary(logging.GetRunID(), start, time.Now(), results, sched.Metrics())
	fmt.Fprintln(out, renderSummary(summary))

	if e.cfg.Reports.Enabled {
		w := report.NewWriter(e.cfg.Reports.OutputDir, e.cfg.Reports.JSON, e.cfg.Reports.Markdown)
		written, err := w.WriteAll(summary)
		if err != nil {
			logger.Errorf("Failed to write reports: %v", err)
			fmt.Fprintf(out, "Failed to write reports: %v\n", err)
		}
		for _, p := range written {
			fmt.Fprintln(out, mutedStyle.Render("  wrote "+p))
		}
	}
	if path := logger.LogPath(); path != "" {
		fmt.Fprintln(out, mutedStyle.Render("  log   "+path))
	}

	if summary.Failed > 0 {
		return errTestsFailed
	}
	return nil
}

// applyBrowserDefaults sets headless mode on specs that do not choose it. A
// per-browser headless setting only applies to headless runs. Extra
// arguments are added by the registry, not here.
func applyBrowserDefaults(specs []scheduler.TestSpec, cfg *config.Config, headless bool) {
	for i := range specs {
		spec := &specs[i]
		if spec.Options.Headless != nil {
			continue
		}
		h := headless
		if bc := cfg.Browser(spec.BrowserType); bc.Headless != nil && headless {
			h = *bc.Headless
		}
		spec.Options.Headless = &h
	}
}

// serveMetrics exposes reg over HTTP until the returned stop func runs.
func serveMetrics(addr string, reg *prometheus.Registry, logger *logging.Logger) (func(), error) {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("failed to listen on %s: %w", addr, err)
	}

	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{Registry: reg}))
	srv := &http.Server{Handler: mux, ReadHeaderTimeout: 5 * time.Second}

	go func() {
		if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Errorf("Metrics server failed: %v", err)
		}
	}()
	logger.Infof("Serving metrics on http://%s/metrics", ln.Addr())

	return func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = srv.Shutdown(ctx)
	}, nil
}
