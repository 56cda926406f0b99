// Package suite loads YAML test suites and turns them into scheduler work.
//
// A suite file declares browsers, defaults and a list of test cases made of
// steps:
//
//	name: login
//	base_url: https://example.test
//	browsers: [chrome, firefox]
//	tests:
//	  - name: homepage
//	    steps:
//	      - navigate: /
//	      - wait_for: "#main"
//	      - expect_text: {selector: h1, contains: Welcome}
//	      - click: "#sign-in"
//	      - fill: {selector: "#user", value: alice}
//	      - expect_title: Sign in
//
// Every case expands to one scheduler.TestSpec per browser, with ID
// "<suite>/<case>". Suite implements scheduler.Suite.
package suite

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/gobwas/glob"
	"gopkg.in/yaml.v3"

	"github.com/entrhq/browsergrid/pkg/logging"
	"github.com/entrhq/browsergrid/pkg/scheduler"
	"github.com/entrhq/browsergrid/pkg/types"
)

// File is one parsed suite file.
type File struct {
	Name     string        `yaml:"name"`
	BaseURL  string        `yaml:"base_url,omitempty"`
	Browsers []string      `yaml:"browsers,omitempty"`
	Timeout  time.Duration `yaml:"timeout,omitempty"`
	Retries  *int          `yaml:"retries,omitempty"`
	Headless *bool         `yaml:"headless,omitempty"`
	// Browser is merged into every case's browser options.
	Browser types.Options `yaml:"browser,omitempty"`
	Tests   []Case        `yaml:"tests"`

	path string
}

// Case is one test of a suite. Zero fields inherit from the file.
type Case struct {
	Name     string         `yaml:"name"`
	Browsers []string       `yaml:"browsers,omitempty"`
	Timeout  time.Duration  `yaml:"timeout,omitempty"`
	Retries  *int           `yaml:"retries,omitempty"`
	Headless *bool          `yaml:"headless,omitempty"`
	Browser  *types.Options `yaml:"browser,omitempty"`
	Skip     bool           `yaml:"skip,omitempty"`
	Steps    []Step         `yaml:"steps"`
}

// Validate checks names and steps.
func (f *File) Validate() error {
	if f.Name == "" {
		return fmt.Errorf("suite name cannot be empty")
	}
	if strings.Contains(f.Name, "/") {
		return fmt.Errorf("suite name %q cannot contain '/'", f.Name)
	}
	if len(f.Tests) == 0 {
		return fmt.Errorf("suite %s has no tests", f.Name)
	}

	seen := make(map[string]bool, len(f.Tests))
	for i, c := range f.Tests {
		if c.Name == "" {
			return fmt.Errorf("test %d: name cannot be empty", i)
		}
		if seen[c.Name] {
			return fmt.Errorf("test %s: duplicate name", c.Name)
		}
		seen[c.Name] = true
		if len(c.Steps) == 0 {
			return fmt.Errorf("test %s: no steps", c.Name)
		}
		for j, s := range c.Steps {
			if err := s.Validate(); err != nil {
				return fmt.Errorf("test %s step %d: %w", c.Name, j+1, err)
			}
		}
	}
	return nil
}

// Path is the file the suite was read from.
func (f *File) Path() string {
	return f.path
}

// LoadFile reads and validates one suite file. A missing name defaults to the
// file's base name.
func LoadFile(path string) (*File, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read suite file: %w", err)
	}

	var f File
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(&f); err != nil {
		if errors.Is(err, io.EOF) {
			return nil, fmt.Errorf("suite file %s is empty", path)
		}
		return nil, fmt.Errorf("failed to parse suite %s: %w", path, err)
	}
	if f.Name == "" {
		f.Name = strings.TrimSuffix(filepath.Base(path), filepath.Ext(path))
	}
	if err := f.Validate(); err != nil {
		return nil, fmt.Errorf("invalid suite %s: %w", path, err)
	}
	f.path = path
	return &f, nil
}

// entry is a loaded case with its owning file.
type entry struct {
	file *File
	test Case
}

// Suite is a set of loaded suite files.
type Suite struct {
	files   []*File
	entries map[string]entry
	order   []string
	logger  *logging.Logger
}

// Load reads suite files. Directories are scanned (not recursively) for
// .yaml and .yml files.
func Load(logger *logging.Logger, paths ...string) (*Suite, error) {
	s := &Suite{entries: make(map[string]entry), logger: logger}

	for _, p := range paths {
		files, err := expand(p)
		if err != nil {
			return nil, err
		}
		for _, path := range files {
			f, err := LoadFile(path)
			if err != nil {
				return nil, err
			}
			if err := s.Add(f); err != nil {
				return nil, err
			}
		}
	}
	return s, nil
}

func expand(path string) ([]string, error) {
	info, err := os.Stat(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read suite path: %w", err)
	}
	if !info.IsDir() {
		return []string{path}, nil
	}

	entries, err := os.ReadDir(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read suite directory: %w", err)
	}
	var files []string
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		switch filepath.Ext(e.Name()) {
		case ".yaml", ".yml":
			files = append(files, filepath.Join(path, e.Name()))
		}
	}
	sort.Strings(files)
	return files, nil
}

// Add registers a parsed file. Case IDs must be unique across files.
func (s *Suite) Add(f *File) error {
	if err := f.Validate(); err != nil {
		return err
	}
	for _, c := range f.Tests {
		id := f.Name + "/" + c.Name
		if _, dup := s.entries[id]; dup {
			return fmt.Errorf("duplicate test %s", id)
		}
		s.entries[id] = entry{file: f, test: c}
		s.order = append(s.order, id)
	}
	s.files = append(s.files, f)
	return nil
}

// Files returns the loaded files in load order.
func (s *Suite) Files() []*File {
	return s.files
}

// Len counts loaded cases.
func (s *Suite) Len() int {
	return len(s.order)
}

// Selection narrows the specs produced by Specs.
type Selection struct {
	// Run is a glob over "<suite>/<case>" IDs; '/' is a separator.
	Run string
	// Browsers replaces every case's browser list when set.
	Browsers []types.BrowserType
	// DefaultBrowsers is used by cases and files that list none.
	DefaultBrowsers []types.BrowserType
}

// Specs expands the selected cases into one spec per browser, in load order.
// Skipped cases are left out.
func (s *Suite) Specs(sel Selection) ([]scheduler.TestSpec, error) {
	var match glob.Glob
	if sel.Run != "" {
		g, err := glob.Compile(sel.Run, '/')
		if err != nil {
			return nil, fmt.Errorf("invalid -run pattern %q: %w", sel.Run, err)
		}
		match = g
	}

	var specs []scheduler.TestSpec
	for _, id := range s.order {
		e := s.entries[id]
		if match != nil && !match.Match(id) {
			continue
		}
		if e.test.Skip {
			s.logger.Infof("Skipping %s", id)
			continue
		}

		browsers := sel.Browsers
		if len(browsers) == 0 {
			browsers = parseBrowsers(firstNonEmpty(e.test.Browsers, e.file.Browsers))
		}
		if len(browsers) == 0 {
			browsers = sel.DefaultBrowsers
		}
		if len(browsers) == 0 {
			return nil, fmt.Errorf("test %s has no browsers", id)
		}

		for _, bt := range browsers {
			specs = append(specs, scheduler.TestSpec{
				ID:          id,
				TestFile:    e.file.path,
				BrowserType: bt,
				Options:     e.options(),
			})
		}
	}
	return specs, nil
}

func (e entry) options() scheduler.SpecOptions {
	opts := scheduler.SpecOptions{
		Timeout:  e.file.Timeout,
		Retries:  e.file.Retries,
		Headless: e.file.Headless,
		Browser:  e.file.Browser.Clone(),
	}
	if e.test.Timeout > 0 {
		opts.Timeout = e.test.Timeout
	}
	if e.test.Retries != nil {
		opts.Retries = e.test.Retries
	}
	if e.test.Headless != nil {
		opts.Headless = e.test.Headless
	}
	if b := e.test.Browser; b != nil {
		opts.Browser.Args = append(opts.Browser.Args, b.Args...)
		if b.Profile != nil {
			p := *b.Profile
			opts.Browser.Profile = &p
		}
		if b.Mobile != nil {
			m := *b.Mobile
			opts.Browser.Mobile = &m
		}
	}
	return opts
}

func firstNonEmpty(lists ...[]string) []string {
	for _, l := range lists {
		if len(l) > 0 {
			return l
		}
	}
	return nil
}

func parseBrowsers(names []string) []types.BrowserType {
	out := make([]types.BrowserType, 0, len(names))
	for _, n := range names {
		out = append(out, types.ParseBrowserType(n))
	}
	return out
}

// Lookup implements scheduler.Suite: the body runs the case's steps in order
// and stops at the first failure.
func (s *Suite) Lookup(spec scheduler.TestSpec) (scheduler.TestFunc, error) {
	e, ok := s.entries[spec.ID]
	if !ok {
		return nil, types.NotFound("test", spec.ID)
	}
	return e.body(), nil
}

func (e entry) body() scheduler.TestFunc {
	steps := e.test.Steps
	baseURL := e.file.BaseURL
	return func(ctx context.Context, t *scheduler.T) error {
		for i, step := range steps {
			t.Logger.Debugf("Step %d/%d: %s", i+1, len(steps), step)
			if err := step.run(ctx, t, baseURL); err != nil {
				return &types.Error{
					Kind:    types.KindTestFailure,
					Subject: step.String(),
					Message: fmt.Sprintf("step %d failed", i+1),
					Err:     err,
				}
			}
		}
		return nil
	}
}
