package types

import (
	"fmt"
	"strings"
	"sync"
)

// Well-known capability keys.
const (
	CapBrowserName     = "browserName"
	CapPlatformName    = "platformName"
	CapAutomationName  = "appium:automationName"
	CapDeviceName      = "appium:deviceName"
	CapPlatformVersion = "appium:platformVersion"
	CapUDID            = "appium:udid"
	CapDeviceID        = "appium:deviceId"
	CapOrientation     = "appium:orientation"
	CapNoReset         = "appium:noReset"
	CapFullReset       = "appium:fullReset"
	CapBundleID        = "appium:bundleId"
)

// Capabilities is the fully-qualified descriptor handed to a WebDriver client.
// It is produced fresh for every request and never persisted.
type Capabilities struct {
	BrowserName        string         `json:"browserName"`
	Capabilities       map[string]any `json:"capabilities"`
	LogLevel           string         `json:"logLevel"`
	AutomationProtocol string         `json:"automationProtocol"`

	// BrowserType is the backend that produced the descriptor.
	BrowserType BrowserType `json:"-"`
	// VendorKey names the vendor options block inside Capabilities, if any.
	VendorKey string `json:"-"`
	// ProfileID is set when a managed profile backs the session.
	ProfileID string `json:"-"`

	releaseOnce sync.Once
	release     func()
}

// SetRelease attaches the function that frees resources pinned while
// resolving (profile leases). It runs at most once.
func (c *Capabilities) SetRelease(fn func()) {
	c.release = fn
}

// Release frees resources pinned by the resolver. Safe to call repeatedly and
// on a nil receiver.
func (c *Capabilities) Release() {
	if c == nil {
		return
	}
	c.releaseOnce.Do(func() {
		if c.release != nil {
			c.release()
		}
	})
}

// Validate checks the descriptor invariants.
func (c *Capabilities) Validate() error {
	if c == nil {
		return fmt.Errorf("capabilities are nil")
	}
	if c.BrowserName == "" {
		return fmt.Errorf("capabilities missing browserName")
	}
	if name, _ := c.Capabilities[CapBrowserName].(string); name == "" {
		return fmt.Errorf("capability map missing browserName")
	}
	if !c.BrowserType.IsMobile() {
		return nil
	}
	if c.String(CapPlatformName) == "" {
		return fmt.Errorf("mobile capabilities missing %s", CapPlatformName)
	}
	if c.String(CapAutomationName) == "" {
		return fmt.Errorf("mobile capabilities missing %s", CapAutomationName)
	}
	if c.String(CapUDID) == "" && c.String(CapDeviceID) == "" {
		return fmt.Errorf("mobile capabilities missing device identity")
	}
	return nil
}

// String returns a string capability or "".
func (c *Capabilities) String(key string) string {
	if c == nil || c.Capabilities == nil {
		return ""
	}
	s, _ := c.Capabilities[key].(string)
	return s
}

// VendorOptions returns the vendor options block, or nil.
func (c *Capabilities) VendorOptions() map[string]any {
	if c == nil || c.VendorKey == "" || c.Capabilities == nil {
		return nil
	}
	block, _ := c.Capabilities[c.VendorKey].(map[string]any)
	return block
}

// Args returns the command line arguments carried by the vendor block.
func (c *Capabilities) Args() []string {
	block := c.VendorOptions()
	if block == nil {
		return nil
	}
	args, _ := block["args"].([]string)
	return args
}

// UserDataDir returns the profile directory attached to the vendor block.
// Firefox stores it under "profile", the others under "userDataDir".
func (c *Capabilities) UserDataDir() string {
	block := c.VendorOptions()
	if block == nil {
		return ""
	}
	if dir, ok := block["userDataDir"].(string); ok {
		return dir
	}
	dir, _ := block["profile"].(string)
	return dir
}

// Headless reports whether any headless flag is present in the arguments.
func (c *Capabilities) Headless() bool {
	for _, arg := range c.Args() {
		trimmed := strings.TrimLeft(arg, "-")
		if trimmed == "headless" || strings.HasPrefix(trimmed, "headless=") {
			return true
		}
	}
	return false
}
