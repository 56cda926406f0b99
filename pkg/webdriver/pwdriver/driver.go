// Package pwdriver implements webdriver.Driver on top of playwright-go.
//
// Desktop descriptors map onto Playwright's bundled engines: chrome and edge
// run on Chromium (edge through the "msedge" channel), firefox on Firefox and
// safari on WebKit. A descriptor carrying a user-data directory launches a
// persistent context on it. Mobile descriptors need an Appium endpoint and
// are rejected.
package pwdriver

import (
	"context"
	"fmt"
	"io"
	"strings"
	"sync"
	"time"

	"github.com/playwright-community/playwright-go"

	"github.com/entrhq/browsergrid/pkg/logging"
	"github.com/entrhq/browsergrid/pkg/types"
	"github.com/entrhq/browsergrid/pkg/webdriver"
)

// DefaultTimeout bounds every page operation that has no context deadline.
const DefaultTimeout = 30 * time.Second

// Options configures a Driver.
type Options struct {
	// Timeout is the default page operation timeout.
	Timeout time.Duration
	Logger  *logging.Logger
}

// Driver runs one Playwright driver process, started on first Connect.
type Driver struct {
	mu      sync.Mutex
	pw      *playwright.Playwright
	started bool
	timeout time.Duration
	logger  *logging.Logger
}

// New creates a driver. The Playwright process starts lazily.
func New(opts Options) *Driver {
	if opts.Timeout <= 0 {
		opts.Timeout = DefaultTimeout
	}
	if opts.Logger == nil {
		opts.Logger = logging.Nop()
	}
	return &Driver{timeout: opts.Timeout, logger: opts.Logger}
}

// Factory returns a webdriver.Factory creating one Driver per slot.
func Factory(opts Options) webdriver.Factory {
	return func(slot int) (webdriver.Driver, error) {
		o := opts
		o.Logger = opts.Logger.With(fmt.Sprintf("playwright-%d", slot))
		return New(o), nil
	}
}

// Install downloads the Playwright driver and the named browsers ("chromium",
// "firefox", "webkit"); an empty list installs all of them.
func Install(browsers []string) error {
	opts := &playwright.RunOptions{
		Browsers: browsers,
		Verbose:  false,
		Stdout:   io.Discard,
		Stderr:   io.Discard,
	}
	if err := playwright.Install(opts); err != nil {
		return fmt.Errorf("failed to install playwright: %w", err)
	}
	return nil
}

func (d *Driver) start() (*playwright.Playwright, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.started {
		return d.pw, nil
	}
	pw, err := playwright.Run(&playwright.RunOptions{
		Verbose: false,
		Stdout:  io.Discard,
		Stderr:  io.Discard,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to start playwright: %w", err)
	}
	d.pw = pw
	d.started = true
	return pw, nil
}

// engine picks the Playwright browser type and channel for a descriptor.
func engine(pw *playwright.Playwright, bt types.BrowserType) (playwright.BrowserType, string, error) {
	switch bt {
	case types.BrowserChrome:
		return pw.Chromium, "", nil
	case types.BrowserEdge:
		return pw.Chromium, "msedge", nil
	case types.BrowserFirefox:
		return pw.Firefox, "", nil
	case types.BrowserSafari:
		return pw.WebKit, "", nil
	}
	return nil, "", needsAppium(bt)
}

func needsAppium(bt types.BrowserType) error {
	return &types.Error{
		Kind:    types.KindConnection,
		Subject: string(bt),
		Message: "browser type needs an Appium endpoint",
	}
}

// launchArgs drops headless flags; Playwright controls headless mode itself.
func launchArgs(caps *types.Capabilities) []string {
	var args []string
	for _, arg := range caps.Args() {
		trimmed := strings.TrimLeft(arg, "-")
		if trimmed == "headless" || strings.HasPrefix(trimmed, "headless=") {
			continue
		}
		args = append(args, arg)
	}
	return args
}

// Connect launches a browser for caps and opens a page.
func (d *Driver) Connect(ctx context.Context, caps *types.Capabilities) (webdriver.Handle, error) {
	if err := caps.Validate(); err != nil {
		return nil, types.WrapError(err, types.KindConnection, "", "invalid capabilities")
	}
	if caps.BrowserType.IsMobile() {
		return nil, needsAppium(caps.BrowserType)
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	pw, err := d.start()
	if err != nil {
		return nil, types.WrapError(err, types.KindConnection, string(caps.BrowserType), "playwright unavailable")
	}
	bt, channel, err := engine(pw, caps.BrowserType)
	if err != nil {
		return nil, err
	}

	headless := caps.Headless()
	args := launchArgs(caps)
	var chanPtr *string
	if channel != "" {
		chanPtr = playwright.String(channel)
	}

	s := &session{timeout: float64(d.timeout.Milliseconds())}
	if dir := caps.UserDataDir(); dir != "" {
		bctx, err := bt.LaunchPersistentContext(dir, playwright.BrowserTypeLaunchPersistentContextOptions{
			Headless: playwright.Bool(headless),
			Args:     args,
			Channel:  chanPtr,
		})
		if err != nil {
			return nil, types.WrapError(err, types.KindConnection, string(caps.BrowserType), "failed to launch persistent context")
		}
		s.context = bctx
		if pages := bctx.Pages(); len(pages) > 0 {
			s.page = pages[0]
		}
	} else {
		browser, err := bt.Launch(playwright.BrowserTypeLaunchOptions{
			Headless: playwright.Bool(headless),
			Args:     args,
			Channel:  chanPtr,
		})
		if err != nil {
			return nil, types.WrapError(err, types.KindConnection, string(caps.BrowserType), "failed to launch browser")
		}
		bctx, err := browser.NewContext()
		if err != nil {
			browser.Close()
			return nil, types.WrapError(err, types.KindConnection, string(caps.BrowserType), "failed to create context")
		}
		s.browser = browser
		s.context = bctx
	}

	if s.page == nil {
		page, err := s.context.NewPage()
		if err != nil {
			s.close()
			return nil, types.WrapError(err, types.KindConnection, string(caps.BrowserType), "failed to create page")
		}
		s.page = page
	}
	s.page.SetDefaultTimeout(float64(d.timeout.Milliseconds()))

	d.logger.Debugf("Connected %s (headless=%t, profile=%q)", caps.BrowserType, headless, caps.UserDataDir())
	return s, nil
}

// Close stops the Playwright process.
func (d *Driver) Close() error {
	d.mu.Lock()
	defer d.mu.Unlock()

	if !d.started {
		return nil
	}
	d.started = false
	if err := d.pw.Stop(); err != nil {
		return fmt.Errorf("failed to stop playwright: %w", err)
	}
	return nil
}

// timeoutMillis is the time left on ctx, or def, in milliseconds.
func timeoutMillis(ctx context.Context, def time.Duration) float64 {
	if deadline, ok := ctx.Deadline(); ok {
		if left := time.Until(deadline); left < def {
			if left < time.Millisecond {
				left = time.Millisecond
			}
			return float64(left.Milliseconds())
		}
	}
	return float64(def.Milliseconds())
}
