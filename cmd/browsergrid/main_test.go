package main

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/entrhq/browsergrid/pkg/config"
	"github.com/entrhq/browsergrid/pkg/profile"
	"github.com/entrhq/browsergrid/pkg/report"
	"github.com/entrhq/browsergrid/pkg/scheduler"
	"github.com/entrhq/browsergrid/pkg/types"
)

func TestParseBrowserList(t *testing.T) {
	assert.Equal(t,
		[]types.BrowserType{types.BrowserChrome, types.BrowserEdge, types.BrowserAndroidChrome},
		parseBrowserList(" chrome, msedge,,android-chrome "))
	assert.Nil(t, parseBrowserList(""))
}

func TestParseRunFlags(t *testing.T) {
	f, paths, err := parseRunFlags([]string{"-workers", "4", "-retries", "0", "-run", "login/*", "-no-report", "tests/"}, io.Discard)
	require.NoError(t, err)
	assert.Equal(t, []string{"tests/"}, paths)

	cfg := config.DefaultConfig()
	cfg.Scheduler.Retries = 3
	f.apply(cfg)
	assert.Equal(t, 4, cfg.Scheduler.Workers)
	assert.Equal(t, 0, cfg.Scheduler.Retries)
	assert.Equal(t, 2*time.Minute, cfg.Scheduler.TestTimeout, "unset flags keep config values")
	assert.False(t, cfg.Reports.Enabled)
	assert.True(t, cfg.Driver.Install)

	_, _, err = parseRunFlags([]string{"-workers", "2"}, io.Discard)
	assert.ErrorContains(t, err, "at least one suite")
}

func TestApplyBrowserDefaults(t *testing.T) {
	off := false
	cfg := config.DefaultConfig()
	cfg.Browsers[types.BrowserFirefox] = config.BrowserConfig{Headless: &off, Args: []string{"--width=800"}}

	explicit := true
	specs := []scheduler.TestSpec{
		{ID: "a", BrowserType: types.BrowserChrome},
		{ID: "b", BrowserType: types.BrowserFirefox},
		{ID: "c", BrowserType: types.BrowserFirefox, Options: scheduler.SpecOptions{Headless: &explicit}},
	}
	applyBrowserDefaults(specs, cfg, true)

	assert.True(t, *specs[0].Options.Headless)
	assert.False(t, *specs[1].Options.Headless, "per-browser config wins over the default")
	assert.True(t, *specs[2].Options.Headless, "suite settings are kept")
	assert.Empty(t, specs[1].Options.Browser.Args, "extra args are left to the registry")

	headed := []scheduler.TestSpec{{ID: "d", BrowserType: types.BrowserFirefox}}
	applyBrowserDefaults(headed, cfg, false)
	assert.False(t, *headed[0].Options.Headless)
}

func TestRenderSummary(t *testing.T) {
	start := time.Now()
	s := report.NewSummary("run", start, start.Add(time.Second), []scheduler.TestResult{
		{ID: "login/home", BrowserType: types.BrowserChrome, Success: true},
		{ID: "login/form", BrowserType: types.BrowserChrome, Error: "step 1 failed", RetryCount: 2},
	}, scheduler.Snapshot{Workers: 2})

	out := renderSummary(s)
	assert.Contains(t, out, "login/home")
	assert.Contains(t, out, "step 1 failed")
	assert.Contains(t, out, "2 retries")
	assert.Contains(t, out, "1 passed")
	assert.Contains(t, out, "1 failed")
	assert.Contains(t, out, "browsergrid failed")
}

func TestRunProfileAction(t *testing.T) {
	ctx := context.Background()
	store, err := profile.Open(t.TempDir(), types.BrowserChrome)
	require.NoError(t, err)

	var out bytes.Buffer
	require.NoError(t, runProfileAction(ctx, store, "create", &profileFlags{name: "work", tags: "ci, smoke"}, &out))
	assert.Contains(t, out.String(), "Created")

	out.Reset()
	require.NoError(t, runProfileAction(ctx, store, "list", &profileFlags{tags: "smoke", asJSON: true}, &out))
	var listed []*profile.Profile
	require.NoError(t, json.Unmarshal(out.Bytes(), &listed))
	require.Len(t, listed, 1)
	assert.Equal(t, "work", listed[0].Name)
	assert.Equal(t, []string{"ci", "smoke"}, listed[0].Metadata.Tags)
	id := listed[0].ID

	out.Reset()
	require.NoError(t, runProfileAction(ctx, store, "export", &profileFlags{id: id}, &out))
	assert.Contains(t, out.String(), ".zip")

	out.Reset()
	require.NoError(t, runProfileAction(ctx, store, "delete", &profileFlags{id: id}, &out))
	assert.Contains(t, out.String(), "Deleted "+id)

	out.Reset()
	require.NoError(t, runProfileAction(ctx, store, "delete", &profileFlags{id: id}, &out))
	assert.Contains(t, out.String(), "No profile")

	assert.ErrorContains(t, runProfileAction(ctx, store, "show", &profileFlags{}, &out), "-id is required")
	assert.ErrorContains(t, runProfileAction(ctx, store, "rename", &profileFlags{}, &out), "unknown action")

	out.Reset()
	require.NoError(t, runProfileAction(ctx, store, "create", &profileFlags{defaults: true}, &out))
	assert.Contains(t, out.String(), "Default chrome Profile")
}
