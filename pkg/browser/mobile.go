package browser

import (
	"context"

	"github.com/entrhq/browsergrid/pkg/types"
)

const iosSafariBundleID = "com.apple.mobilesafari"

var androidChromeDefaultArgs = []string{
	"--no-first-run",
	"--no-default-browser-check",
	"--disable-extensions",
	"--disable-popup-blocking",
	"--disable-notifications",
}

func mobileBase(caps *types.Capabilities, platform, automation string, d types.MobileDevice, mobile *types.MobileOptions) {
	noReset, fullReset := true, false
	var orientation types.Orientation
	if mobile != nil {
		if mobile.NoReset != nil {
			noReset = *mobile.NoReset
		}
		if mobile.FullReset != nil {
			fullReset = *mobile.FullReset
		}
		orientation = mobile.Orientation
	}

	caps.Capabilities[types.CapPlatformName] = platform
	caps.Capabilities[types.CapAutomationName] = automation
	caps.Capabilities[types.CapDeviceName] = d.Name
	caps.Capabilities[types.CapPlatformVersion] = d.Version
	caps.Capabilities[types.CapNoReset] = noReset
	caps.Capabilities[types.CapFullReset] = fullReset
	if orientation != "" {
		caps.Capabilities[types.CapOrientation] = string(orientation)
	}
}

// AndroidChrome resolves Chrome on an attached Android device.
type AndroidChrome struct {
	settings
	adb *ADB
}

// NewAndroidChrome returns the Android Chrome resolver.
func NewAndroidChrome(opts ...Option) *AndroidChrome {
	s := newSettings(opts)
	return &AndroidChrome{
		settings: s,
		adb:      &ADB{Path: s.adbPath, Runner: s.runner, Logger: s.logger},
	}
}

func (a *AndroidChrome) Type() types.BrowserType {
	return types.BrowserAndroidChrome
}

func (a *AndroidChrome) DefaultArgs(opts types.Options) []string {
	args := append([]string(nil), androidChromeDefaultArgs...)
	args = append(args, a.extraArgs...)
	return append(args, opts.Args...)
}

// BinaryPath returns the adb binary; the browser itself lives on the device.
func (a *AndroidChrome) BinaryPath() (string, error) {
	return a.adb.Runner.LookPath(a.adb.Path)
}

// Devices lists attached Android devices.
func (a *AndroidChrome) Devices(ctx context.Context) ([]types.MobileDevice, error) {
	return a.adb.Devices(ctx)
}

func (a *AndroidChrome) Resolve(ctx context.Context, opts types.Options) (*types.Capabilities, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if !a.adb.Available() {
		return nil, &types.Error{Kind: types.KindDeviceNotFound, Subject: a.adb.Path, Message: "adb not found"}
	}

	devices, err := a.adb.Devices(ctx)
	if err != nil {
		return nil, types.WrapError(err, types.KindDeviceNotFound, "", "android device discovery failed")
	}
	var id string
	if opts.Mobile != nil {
		id = opts.Mobile.DeviceID
		if id == "" {
			id = opts.Mobile.UDID
		}
	}
	device, err := selectDevice(devices, id, opts.Mobile, func(d types.MobileDevice) bool { return d.Available })
	if err != nil {
		return nil, err
	}

	hasChrome, err := a.adb.HasChrome(ctx, device.ID)
	if err != nil {
		return nil, types.WrapError(err, types.KindDeviceNotFound, device.ID, "failed to check chrome installation")
	}
	if !hasChrome {
		return nil, &types.Error{Kind: types.KindDeviceNotFound, Subject: device.ID, Message: "chrome is not installed on device"}
	}

	const vendorKey = "appium:chromeOptions"
	caps := newCapabilities(types.BrowserAndroidChrome, "chrome", vendorKey)
	mobileBase(caps, "Android", types.AutomationUiAutomator2, device, opts.Mobile)
	caps.Capabilities[types.CapDeviceID] = device.ID

	block := map[string]any{"args": a.DefaultArgs(opts)}
	caps.Capabilities[vendorKey] = block

	bound, err := a.bindProfile(ctx, types.BrowserAndroidChrome, opts)
	if err != nil {
		return nil, err
	}
	attachProfile(caps, block, "userDataDir", bound)

	a.logger.Debugf("Resolved android_chrome capabilities for %s", device)
	return caps, nil
}

// ValidateInstallation checks for adb and at least one ready device.
func (a *AndroidChrome) ValidateInstallation(ctx context.Context) (bool, error) {
	if !a.adb.Available() {
		a.logger.Warnf("adb not found at %s", a.adb.Path)
		return false, nil
	}
	version, err := a.adb.Version(ctx)
	if err != nil {
		return false, err
	}
	a.logger.Infof("adb: %s", version)

	devices, err := a.adb.Devices(ctx)
	if err != nil {
		return false, err
	}
	for _, d := range devices {
		if d.Available {
			return true, nil
		}
	}
	a.logger.Warnf("No Android devices ready")
	return false, nil
}

// IOSSafari resolves Safari on a booted iOS simulator.
type IOSSafari struct {
	settings
	simctl *Simctl
}

// NewIOSSafari returns the iOS Safari resolver.
func NewIOSSafari(opts ...Option) *IOSSafari {
	s := newSettings(opts)
	return &IOSSafari{
		settings: s,
		simctl:   &Simctl{Path: s.xcrunPath, Runner: s.runner, Logger: s.logger},
	}
}

func (i *IOSSafari) Type() types.BrowserType {
	return types.BrowserIOSSafari
}

// DefaultArgs is always empty: mobile Safari takes no command line.
func (i *IOSSafari) DefaultArgs(types.Options) []string {
	return []string{}
}

// BinaryPath returns the xcrun binary. Simulators only exist on macOS.
func (i *IOSSafari) BinaryPath() (string, error) {
	if i.goos != "darwin" {
		return "", types.UnsupportedPlatform(i.goos)
	}
	return i.simctl.Runner.LookPath(i.simctl.Path)
}

// Devices lists iOS simulators.
func (i *IOSSafari) Devices(ctx context.Context) ([]types.MobileDevice, error) {
	return i.simctl.Devices(ctx)
}

func booted(d types.MobileDevice) bool {
	return d.Available && d.State == simStateBooted
}

func (i *IOSSafari) Resolve(ctx context.Context, opts types.Options) (*types.Capabilities, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if i.goos != "darwin" {
		return nil, types.UnsupportedPlatform(i.goos)
	}
	if !i.simctl.Available() {
		return nil, &types.Error{Kind: types.KindDeviceNotFound, Subject: i.simctl.Path, Message: "xcrun not found"}
	}

	devices, err := i.simctl.Devices(ctx)
	if err != nil {
		return nil, types.WrapError(err, types.KindDeviceNotFound, "", "iOS simulator discovery failed")
	}
	var id string
	if opts.Mobile != nil {
		id = opts.Mobile.UDID
		if id == "" {
			id = opts.Mobile.DeviceID
		}
	}
	device, err := selectDevice(devices, id, opts.Mobile, booted)
	if err != nil {
		return nil, err
	}

	caps := newCapabilities(types.BrowserIOSSafari, "safari", "")
	mobileBase(caps, "iOS", types.AutomationXCUITest, device, opts.Mobile)
	caps.Capabilities[types.CapUDID] = device.ID
	caps.Capabilities[types.CapBundleID] = iosSafariBundleID

	bound, err := i.bindProfile(ctx, types.BrowserIOSSafari, opts)
	if err != nil {
		return nil, err
	}
	if bound != nil {
		const vendorKey = "appium:safariOptions"
		block := map[string]any{}
		caps.Capabilities[vendorKey] = block
		caps.VendorKey = vendorKey
		attachProfile(caps, block, "userDataDir", bound)
	}

	i.logger.Debugf("Resolved ios_safari capabilities for %s", device)
	return caps, nil
}

// ValidateInstallation checks for xcrun and at least one booted simulator.
func (i *IOSSafari) ValidateInstallation(ctx context.Context) (bool, error) {
	if i.goos != "darwin" {
		i.logger.Warnf("iOS simulators are not available on %s", i.goos)
		return false, nil
	}
	if !i.simctl.Available() {
		i.logger.Warnf("xcrun not found at %s", i.simctl.Path)
		return false, nil
	}
	devices, err := i.simctl.Devices(ctx)
	if err != nil {
		return false, err
	}
	for _, d := range devices {
		if booted(d) {
			return true, nil
		}
	}
	i.logger.Warnf("No booted iOS simulators")
	return false, nil
}
