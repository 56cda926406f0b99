package browser

import (
	"context"
	"strings"

	"github.com/entrhq/browsergrid/pkg/types"
)

var chromiumDefaultArgs = []string{
	"--no-first-run",
	"--no-default-browser-check",
	"--disable-extensions",
	"--disable-popup-blocking",
	"--disable-notifications",
	"--disable-gpu",
	"--disable-dev-shm-usage",
	"--disable-setuid-sandbox",
	"--no-sandbox",
}

// variant describes a desktop browser.
type variant struct {
	browserType types.BrowserType
	browserName string
	vendorKey   string
	profileKey  string
	// headlessArg is appended when headless is requested; empty means the
	// browser has no headless mode.
	headlessArg string
	defaultArgs []string
	// argsInBlock controls whether args are written into the vendor block.
	argsInBlock bool
	// baseOptions seed the vendor block.
	baseOptions map[string]any
	// versionFlag is passed to the binary during validation; empty skips it.
	versionFlag string
	binaries    map[string]string
}

var (
	chromeVariant = variant{
		browserType: types.BrowserChrome,
		browserName: "chrome",
		vendorKey:   "goog:chromeOptions",
		profileKey:  "userDataDir",
		headlessArg: "--headless=new",
		defaultArgs: chromiumDefaultArgs,
		argsInBlock: true,
		versionFlag: "--version",
		binaries: map[string]string{
			"darwin":  "/Applications/Google Chrome.app/Contents/MacOS/Google Chrome",
			"linux":   "/usr/bin/google-chrome",
			"windows": `C:\Program Files\Google\Chrome\Application\chrome.exe`,
		},
	}

	firefoxVariant = variant{
		browserType: types.BrowserFirefox,
		browserName: "firefox",
		vendorKey:   "moz:firefoxOptions",
		profileKey:  "profile",
		headlessArg: "--headless",
		defaultArgs: []string{"--no-remote", "--disable-gpu", "--disable-dev-shm-usage"},
		argsInBlock: true,
		versionFlag: "--version",
		binaries: map[string]string{
			"darwin":  "/Applications/Firefox.app/Contents/MacOS/firefox",
			"linux":   "/usr/bin/firefox",
			"windows": `C:\Program Files\Mozilla Firefox\firefox.exe`,
		},
	}

	edgeVariant = variant{
		browserType: types.BrowserEdge,
		browserName: "MicrosoftEdge",
		vendorKey:   "ms:edgeOptions",
		profileKey:  "userDataDir",
		headlessArg: "--headless=new",
		defaultArgs: chromiumDefaultArgs,
		argsInBlock: true,
		versionFlag: "--version",
		binaries: map[string]string{
			"darwin":  "/Applications/Microsoft Edge.app/Contents/MacOS/Microsoft Edge",
			"linux":   "/usr/bin/microsoft-edge",
			"windows": `C:\Program Files (x86)\Microsoft\Edge\Application\msedge.exe`,
		},
	}

	safariVariant = variant{
		browserType: types.BrowserSafari,
		browserName: "safari",
		vendorKey:   "safari.options",
		profileKey:  "userDataDir",
		defaultArgs: []string{"--disable-gpu", "--disable-dev-shm-usage"},
		baseOptions: map[string]any{
			"cleanSession":    true,
			"useCleanSession": true,
		},
		binaries: map[string]string{
			"darwin":  "/Applications/Safari.app/Contents/MacOS/Safari",
			"windows": `C:\Program Files\Safari\Safari.exe`,
		},
	}
)

// Desktop resolves capabilities for a desktop browser.
type Desktop struct {
	v variant
	settings
}

// NewChrome returns the Chrome resolver.
func NewChrome(opts ...Option) *Desktop { return newDesktop(chromeVariant, opts) }

// NewFirefox returns the Firefox resolver.
func NewFirefox(opts ...Option) *Desktop { return newDesktop(firefoxVariant, opts) }

// NewEdge returns the Edge resolver.
func NewEdge(opts ...Option) *Desktop { return newDesktop(edgeVariant, opts) }

// NewSafari returns the Safari resolver.
func NewSafari(opts ...Option) *Desktop { return newDesktop(safariVariant, opts) }

func newDesktop(v variant, opts []Option) *Desktop {
	return &Desktop{v: v, settings: newSettings(opts)}
}

func (d *Desktop) Type() types.BrowserType {
	return d.v.browserType
}

// DefaultArgs returns the built-in arguments followed by configured extras and
// the request's own arguments.
func (d *Desktop) DefaultArgs(opts types.Options) []string {
	args := make([]string, 0, len(d.v.defaultArgs)+len(d.extraArgs)+len(opts.Args))
	args = append(args, d.v.defaultArgs...)
	args = append(args, d.extraArgs...)
	args = append(args, opts.Args...)
	return args
}

func (d *Desktop) Resolve(ctx context.Context, opts types.Options) (*types.Capabilities, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	caps := newCapabilities(d.v.browserType, d.v.browserName, d.v.vendorKey)
	block := make(map[string]any, len(d.v.baseOptions)+2)
	for k, v := range d.v.baseOptions {
		block[k] = v
	}
	if d.v.argsInBlock {
		args := d.DefaultArgs(opts)
		if opts.Headless && d.v.headlessArg != "" {
			args = append(args, d.v.headlessArg)
		}
		block["args"] = args
	}
	caps.Capabilities[d.v.vendorKey] = block

	bound, err := d.bindProfile(ctx, d.v.browserType, opts)
	if err != nil {
		return nil, err
	}
	attachProfile(caps, block, d.v.profileKey, bound)

	d.logger.Debugf("Resolved %s capabilities (profile=%q, headless=%t)", d.v.browserType, caps.UserDataDir(), caps.Headless())
	return caps, nil
}

// BinaryPath returns the configured binary, or the conventional install
// location for the host OS.
func (d *Desktop) BinaryPath() (string, error) {
	if d.binaryPath != "" {
		return d.binaryPath, nil
	}
	path, ok := d.v.binaries[d.goos]
	if !ok {
		return "", types.UnsupportedPlatform(d.goos)
	}
	return path, nil
}

func (d *Desktop) ValidateInstallation(ctx context.Context) (bool, error) {
	path, err := d.BinaryPath()
	if err != nil {
		d.logger.Warnf("%s is not available on %s", d.v.browserType, d.goos)
		return false, nil
	}
	if _, err := d.runner.LookPath(path); err != nil {
		d.logger.Warnf("%s not found at %s", d.v.browserType, path)
		return false, nil
	}
	if d.v.versionFlag == "" {
		return true, nil
	}

	out, err := d.runner.Run(ctx, path, d.v.versionFlag)
	if err != nil {
		return false, types.WrapError(err, types.KindConnection, string(d.v.browserType), "failed to query browser version")
	}
	d.logger.Infof("%s version: %s", d.v.browserType, strings.TrimSpace(string(out)))
	return true, nil
}
