// Package browser turns browser-agnostic options into concrete capability
// descriptors for each supported backend.
package browser

import (
	"context"
	"fmt"
	"os"
	"runtime"

	"github.com/entrhq/browsergrid/pkg/logging"
	"github.com/entrhq/browsergrid/pkg/profile"
	"github.com/entrhq/browsergrid/pkg/types"
)

const (
	defaultLogLevel           = "error"
	defaultAutomationProtocol = "webdriver"
)

// Resolver produces capability descriptors for one browser type.
type Resolver interface {
	Type() types.BrowserType
	// Resolve builds a descriptor. A descriptor that pinned a managed profile
	// holds a lease until its Release method is called.
	Resolve(ctx context.Context, opts types.Options) (*types.Capabilities, error)
	// ValidateInstallation reports whether the backend is usable on this
	// host. Missing tools yield false with a nil error.
	ValidateInstallation(ctx context.Context) (bool, error)
	BinaryPath() (string, error)
	DefaultArgs(opts types.Options) []string
}

// settings are shared by every resolver implementation.
type settings struct {
	profiles   *profile.Manager
	runner     CommandRunner
	logger     *logging.Logger
	goos       string
	binaryPath string
	extraArgs  []string
	adbPath    string
	xcrunPath  string
}

// Option configures a resolver.
type Option func(*settings)

// WithProfiles lets the resolver lease, create and look up managed profiles.
func WithProfiles(m *profile.Manager) Option {
	return func(s *settings) { s.profiles = m }
}

// WithRunner replaces the command runner used for discovery and validation.
func WithRunner(r CommandRunner) Option {
	return func(s *settings) { s.runner = r }
}

// WithLogger sets the resolver logger.
func WithLogger(l *logging.Logger) Option {
	return func(s *settings) { s.logger = l }
}

// WithHostOS overrides runtime.GOOS.
func WithHostOS(goos string) Option {
	return func(s *settings) { s.goos = goos }
}

// WithBinaryPath overrides the per-OS browser binary location.
func WithBinaryPath(path string) Option {
	return func(s *settings) { s.binaryPath = path }
}

// WithExtraArgs appends arguments after the built-in defaults.
func WithExtraArgs(args []string) Option {
	return func(s *settings) { s.extraArgs = append([]string(nil), args...) }
}

// WithADBPath sets the adb binary used for Android discovery. Empty keeps
// "adb".
func WithADBPath(path string) Option {
	return func(s *settings) {
		if path != "" {
			s.adbPath = path
		}
	}
}

// WithXcrunPath sets the xcrun binary used for iOS discovery. Empty keeps
// "xcrun".
func WithXcrunPath(path string) Option {
	return func(s *settings) {
		if path != "" {
			s.xcrunPath = path
		}
	}
}

func newSettings(opts []Option) settings {
	s := settings{
		runner:    ExecRunner{},
		logger:    logging.Nop(),
		goos:      runtime.GOOS,
		adbPath:   "adb",
		xcrunPath: "xcrun",
	}
	for _, opt := range opts {
		opt(&s)
	}
	return s
}

// boundProfile is the user-data directory chosen for a request.
type boundProfile struct {
	dir     string
	id      string
	release func()
}

// bindProfile resolves a profile reference: ID leases an existing profile,
// Name creates one and leases it, Path uses an unmanaged directory that must
// exist. A nil result means no profile was requested.
func (s *settings) bindProfile(ctx context.Context, bt types.BrowserType, opts types.Options) (*boundProfile, error) {
	ref := opts.Profile
	if ref.IsZero() {
		return nil, nil
	}

	if ref.ID == "" && ref.Name == "" {
		if _, err := os.Stat(ref.Path); err != nil {
			return nil, types.NotFound("profile path", ref.Path)
		}
		return &boundProfile{dir: ref.Path, release: func() {}}, nil
	}

	if s.profiles == nil {
		return nil, types.NewError(types.KindStorage, string(bt), "no profile store configured")
	}
	store, err := s.profiles.For(bt)
	if err != nil {
		return nil, err
	}

	id := ref.ID
	if id == "" {
		created := opts.Clone()
		created.Profile = nil
		p, err := store.Create(ctx, profile.Spec{
			Name:    ref.Name,
			Options: created,
			Metadata: profile.Metadata{
				Description: fmt.Sprintf("Profile created for %s", ref.Name),
				Tags:        []string{string(bt), "custom"},
			},
		})
		if err != nil {
			return nil, err
		}
		id = p.ID
	}

	dir, release, err := store.Acquire(ctx, id)
	if err != nil {
		return nil, err
	}
	return &boundProfile{dir: dir, id: id, release: release}, nil
}

func newCapabilities(bt types.BrowserType, browserName, vendorKey string) *types.Capabilities {
	return &types.Capabilities{
		BrowserName: browserName,
		Capabilities: map[string]any{
			types.CapBrowserName: browserName,
		},
		LogLevel:           defaultLogLevel,
		AutomationProtocol: defaultAutomationProtocol,
		BrowserType:        bt,
		VendorKey:          vendorKey,
	}
}

// attachProfile records a bound profile on the descriptor.
func attachProfile(caps *types.Capabilities, block map[string]any, key string, bound *boundProfile) {
	if bound == nil {
		return
	}
	block[key] = bound.dir
	caps.ProfileID = bound.id
	caps.SetRelease(bound.release)
}
