package browser

import (
	"context"
	"fmt"
	"sync"

	"github.com/entrhq/browsergrid/pkg/config"
	"github.com/entrhq/browsergrid/pkg/logging"
	"github.com/entrhq/browsergrid/pkg/profile"
	"github.com/entrhq/browsergrid/pkg/types"
)

// Registry maps browser types to their resolvers.
type Registry struct {
	mu        sync.RWMutex
	resolvers map[types.BrowserType]Resolver
	logger    *logging.Logger
}

// NewRegistry builds a registry from resolvers. Later resolvers replace
// earlier ones of the same type.
func NewRegistry(logger *logging.Logger, resolvers ...Resolver) *Registry {
	if logger == nil {
		logger = logging.Nop()
	}
	r := &Registry{
		resolvers: make(map[types.BrowserType]Resolver, len(resolvers)),
		logger:    logger,
	}
	for _, res := range resolvers {
		r.Register(res)
	}
	return r
}

// Register adds or replaces a resolver.
func (r *Registry) Register(res Resolver) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.resolvers[res.Type()] = res
}

// Get returns the resolver for bt.
func (r *Registry) Get(bt types.BrowserType) (Resolver, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	res, ok := r.resolvers[bt]
	if !ok {
		return nil, types.UnsupportedBrowser(bt)
	}
	return res, nil
}

// Resolve builds a validated descriptor for bt.
func (r *Registry) Resolve(ctx context.Context, bt types.BrowserType, opts types.Options) (*types.Capabilities, error) {
	res, err := r.Get(bt)
	if err != nil {
		return nil, err
	}
	caps, err := res.Resolve(ctx, opts)
	if err != nil {
		return nil, err
	}
	if err := caps.Validate(); err != nil {
		caps.Release()
		return nil, fmt.Errorf("%s resolver produced invalid capabilities: %w", bt, err)
	}
	return caps, nil
}

// Validate reports whether bt is installed and usable.
func (r *Registry) Validate(ctx context.Context, bt types.BrowserType) (bool, error) {
	res, err := r.Get(bt)
	if err != nil {
		return false, err
	}
	return res.ValidateInstallation(ctx)
}

// Supported lists the registered browser types, sorted.
func (r *Registry) Supported() []types.BrowserType {
	r.mu.RLock()
	out := make([]types.BrowserType, 0, len(r.resolvers))
	for bt := range r.resolvers {
		out = append(out, bt)
	}
	r.mu.RUnlock()
	types.SortBrowserTypes(out)
	return out
}

// NewDefaultRegistry registers every built-in backend, applying per-browser
// overrides from cfg. Each profile store is told the default arguments of its
// browser so CreateDefault records them.
func NewDefaultRegistry(cfg *config.Config, profiles *profile.Manager, runner CommandRunner, logger *logging.Logger) *Registry {
	if cfg == nil {
		cfg = config.DefaultConfig()
	}
	if runner == nil {
		runner = ExecRunner{}
	}
	if logger == nil {
		logger = logging.Nop()
	}

	build := func(bt types.BrowserType, ctor func(...Option) Resolver) Resolver {
		bc := cfg.Browser(bt)
		res := ctor(
			WithProfiles(profiles),
			WithRunner(runner),
			WithLogger(logger.With(string(bt))),
			WithBinaryPath(bc.BinaryPath),
			WithExtraArgs(bc.Args),
			WithADBPath(cfg.Devices.ADBPath),
			WithXcrunPath(cfg.Devices.XcrunPath),
		)
		if profiles != nil {
			profiles.Configure(bt, profile.WithDefaultArgs(res.DefaultArgs(types.Options{})))
		}
		return res
	}

	return NewRegistry(logger,
		build(types.BrowserChrome, func(o ...Option) Resolver { return NewChrome(o...) }),
		build(types.BrowserFirefox, func(o ...Option) Resolver { return NewFirefox(o...) }),
		build(types.BrowserEdge, func(o ...Option) Resolver { return NewEdge(o...) }),
		build(types.BrowserSafari, func(o ...Option) Resolver { return NewSafari(o...) }),
		build(types.BrowserAndroidChrome, func(o ...Option) Resolver { return NewAndroidChrome(o...) }),
		build(types.BrowserIOSSafari, func(o ...Option) Resolver { return NewIOSSafari(o...) }),
	)
}
