package types

import (
	"fmt"
	"sort"
	"strings"
)

// BrowserType identifies a browser or device backend.
type BrowserType string

const (
	BrowserChrome        BrowserType = "chrome"         // BrowserChrome is desktop Google Chrome.
	BrowserFirefox       BrowserType = "firefox"        // BrowserFirefox is desktop Mozilla Firefox.
	BrowserEdge          BrowserType = "edge"           // BrowserEdge is desktop Microsoft Edge.
	BrowserSafari        BrowserType = "safari"         // BrowserSafari is desktop Safari.
	BrowserIOSSafari     BrowserType = "ios_safari"     // BrowserIOSSafari is Safari on an iOS device or simulator.
	BrowserAndroidChrome BrowserType = "android_chrome" // BrowserAndroidChrome is Chrome on an Android device.
)

// AllBrowserTypes lists every backend the engine knows how to resolve.
func AllBrowserTypes() []BrowserType {
	return []BrowserType{
		BrowserChrome,
		BrowserFirefox,
		BrowserEdge,
		BrowserSafari,
		BrowserIOSSafari,
		BrowserAndroidChrome,
	}
}

// IsMobile reports whether the backend drives a mobile device.
func (b BrowserType) IsMobile() bool {
	return b == BrowserIOSSafari || b == BrowserAndroidChrome
}

// ParseBrowserType normalizes a user supplied browser name. Unknown names are
// returned as-is so the registry can report them.
func ParseBrowserType(name string) BrowserType {
	n := strings.ToLower(strings.TrimSpace(name))
	switch n {
	case "microsoftedge", "msedge":
		return BrowserEdge
	case "ios-safari", "iossafari":
		return BrowserIOSSafari
	case "android-chrome", "androidchrome":
		return BrowserAndroidChrome
	}
	return BrowserType(n)
}

// SortBrowserTypes sorts in place by name.
func SortBrowserTypes(bts []BrowserType) {
	sort.Slice(bts, func(i, j int) bool { return bts[i] < bts[j] })
}

// Orientation of a mobile device screen.
type Orientation string

const (
	OrientationPortrait  Orientation = "PORTRAIT"
	OrientationLandscape Orientation = "LANDSCAPE"
)

// Automation engines used by Appium for the mobile backends.
const (
	AutomationXCUITest     = "XCUITest"
	AutomationUiAutomator2 = "UiAutomator2"
)

// MobileOptions selects and configures a mobile device.
type MobileOptions struct {
	DeviceName      string      `json:"device_name,omitempty" yaml:"device_name,omitempty"`
	PlatformVersion string      `json:"platform_version,omitempty" yaml:"platform_version,omitempty"`
	UDID            string      `json:"udid,omitempty" yaml:"udid,omitempty"`
	DeviceID        string      `json:"device_id,omitempty" yaml:"device_id,omitempty"`
	Orientation     Orientation `json:"orientation,omitempty" yaml:"orientation,omitempty"`
	NoReset         *bool       `json:"no_reset,omitempty" yaml:"no_reset,omitempty"`
	FullReset       *bool       `json:"full_reset,omitempty" yaml:"full_reset,omitempty"`
}

// ProfileRef points a browser request at a persisted profile. At most one of
// the fields is honoured, in the order ID, Name, Path.
type ProfileRef struct {
	// ID reuses an existing profile.
	ID string `json:"id,omitempty" yaml:"id,omitempty"`
	// Name creates a new profile with this name.
	Name string `json:"name,omitempty" yaml:"name,omitempty"`
	// Path uses a raw user-data directory that is not managed by a store.
	Path string `json:"path,omitempty" yaml:"path,omitempty"`
}

// IsZero reports whether no profile is referenced.
func (r *ProfileRef) IsZero() bool {
	return r == nil || (r.ID == "" && r.Name == "" && r.Path == "")
}

// Options is the browser-agnostic request turned into Capabilities.
type Options struct {
	Headless bool           `json:"headless,omitempty" yaml:"headless,omitempty"`
	Args     []string       `json:"args,omitempty" yaml:"args,omitempty"`
	Profile  *ProfileRef    `json:"profile,omitempty" yaml:"profile,omitempty"`
	Mobile   *MobileOptions `json:"mobile,omitempty" yaml:"mobile,omitempty"`
}

// Clone returns a deep copy so callers can mutate the result freely.
func (o Options) Clone() Options {
	out := o
	if o.Args != nil {
		out.Args = append([]string(nil), o.Args...)
	}
	if o.Profile != nil {
		p := *o.Profile
		out.Profile = &p
	}
	if o.Mobile != nil {
		m := *o.Mobile
		out.Mobile = &m
	}
	return out
}

// MobileDeviceKind separates the two device families.
type MobileDeviceKind string

const (
	DeviceIOS     MobileDeviceKind = "ios"
	DeviceAndroid MobileDeviceKind = "android"
)

// MobileDevice is one attached or simulated device found during discovery.
type MobileDevice struct {
	Kind      MobileDeviceKind `json:"kind"`
	Name      string           `json:"name"`
	Version   string           `json:"version"`
	ID        string           `json:"id"`
	State     string           `json:"state,omitempty"`
	Available bool             `json:"available"`
}

func (d MobileDevice) String() string {
	return fmt.Sprintf("%s %s (%s, %s)", d.Kind, d.Name, d.Version, d.ID)
}
