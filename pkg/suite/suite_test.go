package suite

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/entrhq/browsergrid/pkg/logging"
	"github.com/entrhq/browsergrid/pkg/scheduler"
	"github.com/entrhq/browsergrid/pkg/session"
	"github.com/entrhq/browsergrid/pkg/types"
	"github.com/entrhq/browsergrid/pkg/webdriver"
	"github.com/entrhq/browsergrid/pkg/webdriver/webdrivertest"
)

const loginSuite = `
name: login
base_url: https://example.test
browsers: [chrome, firefox]
timeout: 45s
retries: 1
browser:
  args: ["--lang=en"]
tests:
  - name: homepage
    steps:
      - navigate: /
      - wait_for: "#main"
      - expect_text: {selector: h1, contains: Welcome}
      - click: "#sign-in"
      - fill: {selector: "#user", value: alice}
      - execute: {script: "() => window.answer", expect: 42}
      - expect_title: Example
  - name: mobile
    browsers: [android-chrome]
    timeout: 2m
    headless: false
    browser:
      args: ["--incognito"]
      mobile: {device_name: Pixel 7}
    steps:
      - navigate: /
  - name: flaky
    skip: true
    steps:
      - navigate: /flaky
`

func writeSuite(t *testing.T, dir, name, body string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	require.NoError(t, os.WriteFile(path, []byte(body), 0644))
	return path
}

func pages() map[string]webdrivertest.Page {
	return map[string]webdrivertest.Page{
		"https://example.test/": {
			Title: "Example",
			Elements: map[string]string{
				"#main":    "",
				"h1":       "  Welcome back  ",
				"#sign-in": "Sign in",
				"#user":    "",
			},
			Scripts: map[string]any{"() => window.answer": float64(42)},
		},
	}
}

func newT(t *testing.T, d *webdrivertest.Driver) (*scheduler.T, *webdrivertest.Handle) {
	t.Helper()
	h, err := d.Connect(context.Background(), &types.Capabilities{BrowserName: "chrome"})
	require.NoError(t, err)
	return &scheduler.T{Handle: h, Logger: logging.Nop()}, h.(*webdrivertest.Handle)
}

func TestLoadFile(t *testing.T) {
	path := writeSuite(t, t.TempDir(), "login.yaml", loginSuite)

	f, err := LoadFile(path)
	require.NoError(t, err)
	assert.Equal(t, "login", f.Name)
	assert.Equal(t, path, f.Path())
	assert.Equal(t, 45*time.Second, f.Timeout)
	require.Len(t, f.Tests, 3)

	steps := f.Tests[0].Steps
	require.Len(t, steps, 7)
	assert.Equal(t, "navigate", steps[0].Kind())
	assert.Equal(t, "#main", steps[1].WaitFor.Selector, "bare wait_for is a selector")
	assert.Equal(t, "Welcome", steps[2].ExpectText.Contains)
	assert.Equal(t, "#sign-in", steps[3].Click)
	assert.Equal(t, "alice", steps[4].Fill.Value)
	assert.Equal(t, "() => window.answer", steps[5].Execute.Script)
	assert.Equal(t, "expect_title", steps[6].Kind())

	assert.Equal(t, 2*time.Minute, f.Tests[1].Timeout)
}

func TestLoadFile_NameDefaultsToFileName(t *testing.T) {
	path := writeSuite(t, t.TempDir(), "checkout.yml", "tests:\n  - name: cart\n    steps:\n      - navigate: /cart\n")
	f, err := LoadFile(path)
	require.NoError(t, err)
	assert.Equal(t, "checkout", f.Name)
}

func TestLoadFile_Invalid(t *testing.T) {
	tests := []struct {
		name string
		body string
		want string
	}{
		{"empty", "", "is empty"},
		{"no tests", "name: x\n", "has no tests"},
		{"no steps", "name: x\ntests:\n  - name: a\n", "no steps"},
		{"unknown action", "name: x\ntests:\n  - name: a\n    steps:\n      - clik: '#b'\n", "clik"},
		{"two actions", "name: x\ntests:\n  - name: a\n    steps:\n      - {navigate: /, click: '#b'}\n", "more than one action"},
		{"bad state", "name: x\ntests:\n  - name: a\n    steps:\n      - wait_for: {selector: '#b', state: gone}\n", "unknown state"},
		{"duplicate case", "name: x\ntests:\n  - name: a\n    steps: [{navigate: /}]\n  - name: a\n    steps: [{navigate: /}]\n", "duplicate"},
		{"slash in name", "name: a/b\ntests:\n  - name: a\n    steps: [{navigate: /}]\n", "cannot contain"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			path := writeSuite(t, t.TempDir(), "s.yaml", tt.body)
			_, err := LoadFile(path)
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.want)
		})
	}
}

func TestLoad_DirectoryAndDuplicates(t *testing.T) {
	dir := t.TempDir()
	writeSuite(t, dir, "b.yaml", "name: beta\ntests:\n  - name: one\n    steps: [{navigate: /}]\n")
	writeSuite(t, dir, "a.yml", "name: alpha\ntests:\n  - name: one\n    steps: [{navigate: /}]\n")
	writeSuite(t, dir, "notes.txt", "ignored")
	require.NoError(t, os.Mkdir(filepath.Join(dir, "nested"), 0755))

	s, err := Load(nil, dir)
	require.NoError(t, err)
	assert.Equal(t, 2, s.Len())
	require.Len(t, s.Files(), 2)
	assert.Equal(t, "alpha", s.Files()[0].Name)

	dup := writeSuite(t, t.TempDir(), "again.yaml", "name: alpha\ntests:\n  - name: one\n    steps: [{navigate: /}]\n")
	_, err = Load(nil, dir, dup)
	assert.ErrorContains(t, err, "duplicate test alpha/one")

	_, err = Load(nil, filepath.Join(dir, "missing"))
	assert.Error(t, err)
}

func TestSuite_Specs(t *testing.T) {
	s, err := Load(nil, writeSuite(t, t.TempDir(), "login.yaml", loginSuite))
	require.NoError(t, err)

	specs, err := s.Specs(Selection{})
	require.NoError(t, err)
	require.Len(t, specs, 3, "two browsers for homepage, one for mobile, flaky skipped")

	assert.Equal(t, "login/homepage", specs[0].ID)
	assert.Equal(t, types.BrowserChrome, specs[0].BrowserType)
	assert.Equal(t, types.BrowserFirefox, specs[1].BrowserType)
	assert.Equal(t, 45*time.Second, specs[0].Options.Timeout)
	require.NotNil(t, specs[0].Options.Retries)
	assert.Equal(t, 1, *specs[0].Options.Retries)
	assert.Equal(t, []string{"--lang=en"}, specs[0].Options.Browser.Args)

	mobile := specs[2]
	assert.Equal(t, "login/mobile", mobile.ID)
	assert.Equal(t, types.BrowserAndroidChrome, mobile.BrowserType)
	assert.Equal(t, 2*time.Minute, mobile.Options.Timeout)
	require.NotNil(t, mobile.Options.Headless)
	assert.False(t, *mobile.Options.Headless)
	assert.Equal(t, []string{"--lang=en", "--incognito"}, mobile.Options.Browser.Args)
	require.NotNil(t, mobile.Options.Browser.Mobile)
	assert.Equal(t, "Pixel 7", mobile.Options.Browser.Mobile.DeviceName)

	// Specs do not share argument slices.
	specs[0].Options.Browser.Args[0] = "mutated"
	again, err := s.Specs(Selection{})
	require.NoError(t, err)
	assert.Equal(t, "--lang=en", again[0].Options.Browser.Args[0])
}

func TestSuite_SpecsSelection(t *testing.T) {
	s, err := Load(nil, writeSuite(t, t.TempDir(), "login.yaml", loginSuite))
	require.NoError(t, err)

	specs, err := s.Specs(Selection{Run: "login/home*", Browsers: []types.BrowserType{types.BrowserEdge}})
	require.NoError(t, err)
	require.Len(t, specs, 1)
	assert.Equal(t, "login/homepage", specs[0].ID)
	assert.Equal(t, types.BrowserEdge, specs[0].BrowserType)

	specs, err = s.Specs(Selection{Run: "*"})
	require.NoError(t, err)
	assert.Empty(t, specs, "* does not cross the / separator")

	specs, err = s.Specs(Selection{Run: "**"})
	require.NoError(t, err)
	assert.Len(t, specs, 3)
}

func TestSuite_DefaultBrowsers(t *testing.T) {
	path := writeSuite(t, t.TempDir(), "plain.yaml", "name: plain\ntests:\n  - name: a\n    steps: [{navigate: /}]\n")
	s, err := Load(nil, path)
	require.NoError(t, err)

	_, err = s.Specs(Selection{})
	assert.ErrorContains(t, err, "has no browsers")

	specs, err := s.Specs(Selection{DefaultBrowsers: []types.BrowserType{types.BrowserSafari}})
	require.NoError(t, err)
	require.Len(t, specs, 1)
	assert.Equal(t, types.BrowserSafari, specs[0].BrowserType)
}

func TestSuite_BodyRunsSteps(t *testing.T) {
	s, err := Load(nil, writeSuite(t, t.TempDir(), "login.yaml", loginSuite))
	require.NoError(t, err)

	body, err := s.Lookup(scheduler.TestSpec{ID: "login/homepage"})
	require.NoError(t, err)

	tt, h := newT(t, webdrivertest.NewDriver(pages()))
	require.NoError(t, body(context.Background(), tt))

	assert.Equal(t, "https://example.test/", h.URL())
	assert.Equal(t, []string{"#sign-in"}, h.Clicks())
	assert.Equal(t, "alice", h.Filled("#user"))

	_, err = s.Lookup(scheduler.TestSpec{ID: "login/nope"})
	assert.True(t, errors.Is(err, types.ErrNotFound))
}

func TestSuite_BodyStopsAtFirstFailure(t *testing.T) {
	body := `
name: broken
base_url: https://example.test
tests:
  - name: title
    steps:
      - navigate: /
      - expect_title: Something else
      - click: "#sign-in"
`
	s, err := Load(nil, writeSuite(t, t.TempDir(), "broken.yaml", body))
	require.NoError(t, err)
	fn, err := s.Lookup(scheduler.TestSpec{ID: "broken/title"})
	require.NoError(t, err)

	tt, h := newT(t, webdrivertest.NewDriver(pages()))
	err = fn(context.Background(), tt)
	require.Error(t, err)
	assert.True(t, errors.Is(err, types.ErrTestFailure))
	assert.Contains(t, err.Error(), "step 2 failed")
	assert.Contains(t, err.Error(), `expected title "Something else", got "Example"`)
	assert.Empty(t, h.Clicks())
}

func TestStep_Run(t *testing.T) {
	ctx := context.Background()
	tests := []struct {
		name string
		step Step
		want string
	}{
		{"text equals trims", Step{ExpectText: &TextStep{Selector: "h1", Equals: "Welcome back"}}, ""},
		{"text mismatch", Step{ExpectText: &TextStep{Selector: "h1", Equals: "Hello"}}, `expected text "Hello"`},
		{"missing element", Step{Click: "#nope"}, "element not found"},
		{"wait for hidden", Step{WaitFor: &WaitStep{Selector: "#gone", State: webdriver.StateHidden}}, ""},
		{"wait times out", Step{WaitFor: &WaitStep{Selector: "#gone", Timeout: 5 * time.Millisecond}}, "wait failed"},
		{"script mismatch", Step{Execute: &ExecuteStep{Script: "() => window.answer", Expect: 7}}, "expected script result 7"},
		{"script without expectation", Step{Execute: &ExecuteStep{Script: "() => window.answer"}}, ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			st, h := newT(t, webdrivertest.NewDriver(pages()))
			require.NoError(t, h.Navigate(ctx, "https://example.test/"))

			err := tt.step.run(ctx, st, "")
			if tt.want == "" {
				assert.NoError(t, err)
			} else {
				assert.ErrorContains(t, err, tt.want)
			}
		})
	}
}

func TestResolveURL(t *testing.T) {
	got, err := resolveURL("https://example.test/app/", "login")
	require.NoError(t, err)
	assert.Equal(t, "https://example.test/app/login", got)

	got, err = resolveURL("https://example.test/app/", "https://other.test/")
	require.NoError(t, err)
	assert.Equal(t, "https://other.test/", got)

	got, err = resolveURL("", "about:blank")
	require.NoError(t, err)
	assert.Equal(t, "about:blank", got)
}

type staticResolver struct{}

func (staticResolver) Resolve(_ context.Context, bt types.BrowserType, _ types.Options) (*types.Capabilities, error) {
	return &types.Capabilities{BrowserName: string(bt), BrowserType: bt}, nil
}

func TestSuite_RunsOnScheduler(t *testing.T) {
	s, err := Load(nil, writeSuite(t, t.TempDir(), "login.yaml", loginSuite))
	require.NoError(t, err)
	specs, err := s.Specs(Selection{Run: "login/homepage"})
	require.NoError(t, err)

	factory := func(int) (webdriver.Driver, error) { return webdrivertest.NewDriver(pages()), nil }
	sched := scheduler.New(staticResolver{}, session.NewRegistry(nil), factory, s, scheduler.WithWorkers(2))

	results, err := sched.RunTests(context.Background(), specs)
	require.NoError(t, err)
	require.Len(t, results, 2)
	for _, r := range results {
		assert.True(t, r.Success, r.Error)
		assert.Equal(t, "login/homepage", r.ID)
	}
}
