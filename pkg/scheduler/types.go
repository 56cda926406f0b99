package scheduler

import (
	"context"
	"fmt"
	"time"

	"github.com/entrhq/browsergrid/pkg/logging"
	"github.com/entrhq/browsergrid/pkg/session"
	"github.com/entrhq/browsergrid/pkg/types"
	"github.com/entrhq/browsergrid/pkg/webdriver"
)

// TestSpec is one unit of work.
type TestSpec struct {
	// ID identifies the test body to run.
	ID          string            `json:"id" yaml:"id"`
	TestFile    string            `json:"test_file" yaml:"test_file"`
	BrowserType types.BrowserType `json:"browser_type" yaml:"browser_type"`
	Options     SpecOptions       `json:"options" yaml:"options"`
}

// SpecOptions tunes a single spec. Zero values fall back to the scheduler's
// defaults.
type SpecOptions struct {
	// Headless overrides Browser.Headless when set.
	Headless *bool         `json:"headless,omitempty" yaml:"headless,omitempty"`
	Timeout  time.Duration `json:"timeout,omitempty" yaml:"timeout,omitempty"`
	// Retries is the number of extra attempts after a failure. Nil uses the
	// scheduler default.
	Retries *int          `json:"retries,omitempty" yaml:"retries,omitempty"`
	Browser types.Options `json:"browser" yaml:"browser"`
}

// BrowserOptions returns the options handed to the resolver.
func (s TestSpec) BrowserOptions() types.Options {
	opts := s.Options.Browser.Clone()
	if s.Options.Headless != nil {
		opts.Headless = *s.Options.Headless
	}
	return opts
}

func (s TestSpec) String() string {
	if s.TestFile != "" && s.TestFile != s.ID {
		return fmt.Sprintf("%s (%s, %s)", s.ID, s.TestFile, s.BrowserType)
	}
	return fmt.Sprintf("%s (%s)", s.ID, s.BrowserType)
}

// TestResult is the outcome of one spec. RunTests returns exactly one per
// spec, in input order.
type TestResult struct {
	ID          string            `json:"id"`
	TestFile    string            `json:"test_file"`
	BrowserType types.BrowserType `json:"browser_type"`
	Success     bool              `json:"success"`
	Duration    time.Duration     `json:"duration"`
	Error       string            `json:"error,omitempty"`
	// CleanupError is set when the session could not be closed after the
	// last attempt. It does not change Success.
	CleanupError string `json:"cleanup_error,omitempty"`
	// RetryCount is the number of attempts after the first.
	RetryCount int       `json:"retry_count"`
	SessionID  string    `json:"session_id,omitempty"`
	Worker     int       `json:"worker"`
	StartedAt  time.Time `json:"started_at"`
}

// State is the lifecycle position of a spec.
type State string

const (
	StateQueued    State = "queued"
	StateAssigned  State = "assigned"
	StateRunning   State = "running"
	StateCompleted State = "completed"
	StateFailed    State = "failed"
)

// T is handed to a test body.
type T struct {
	Spec         TestSpec
	Session      *session.Info
	Handle       webdriver.Handle
	Capabilities *types.Capabilities
	Logger       *logging.Logger
	// Attempt is 0 for the first run and counts retries after that.
	Attempt int
}

// TestFunc is a test body. A nil return is a pass.
type TestFunc func(ctx context.Context, t *T) error

// Suite finds the body for a spec.
type Suite interface {
	Lookup(spec TestSpec) (TestFunc, error)
}

// Bodies is a Suite backed by a map, keyed by spec ID and then by TestFile.
type Bodies map[string]TestFunc

// Lookup implements Suite.
func (b Bodies) Lookup(spec TestSpec) (TestFunc, error) {
	if fn, ok := b[spec.ID]; ok {
		return fn, nil
	}
	if fn, ok := b[spec.TestFile]; ok {
		return fn, nil
	}
	return nil, types.NotFound("test body", spec.ID)
}

// CapabilityResolver resolves a browser request; *browser.Registry is the
// production implementation.
type CapabilityResolver interface {
	Resolve(ctx context.Context, bt types.BrowserType, opts types.Options) (*types.Capabilities, error)
}
