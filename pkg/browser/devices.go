package browser

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"os/exec"
	"sort"
	"strings"
	"time"

	"github.com/entrhq/browsergrid/pkg/logging"
	"github.com/entrhq/browsergrid/pkg/types"
)

// CommandRunner runs host tools. Tests substitute a fake.
type CommandRunner interface {
	LookPath(file string) (string, error)
	Run(ctx context.Context, name string, args ...string) ([]byte, error)
}

// ExecRunner runs commands with os/exec.
type ExecRunner struct {
	// Timeout bounds each command. Zero means 30 seconds.
	Timeout time.Duration
}

// LookPath resolves file on PATH, or checks an explicit path is executable.
func (ExecRunner) LookPath(file string) (string, error) {
	return exec.LookPath(file)
}

// Run executes name and returns its combined output.
func (r ExecRunner) Run(ctx context.Context, name string, args ...string) ([]byte, error) {
	timeout := r.Timeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	execCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	cmd := exec.CommandContext(execCtx, name, args...)
	output, err := cmd.CombinedOutput()
	if err != nil {
		if execCtx.Err() == context.DeadlineExceeded {
			return output, fmt.Errorf("%s timed out after %s", name, timeout)
		}
		return output, fmt.Errorf("%s %s failed: %w\nOutput: %s", name, strings.Join(args, " "), err, strings.TrimSpace(string(output)))
	}
	return output, nil
}

const androidChromePackage = "com.android.chrome"

// ADB discovers Android devices through the Android Debug Bridge.
type ADB struct {
	Path   string
	Runner CommandRunner
	Logger *logging.Logger
}

// Available reports whether the adb binary can be found.
func (a *ADB) Available() bool {
	_, err := a.Runner.LookPath(a.Path)
	return err == nil
}

// Version runs `adb version`.
func (a *ADB) Version(ctx context.Context) (string, error) {
	out, err := a.Runner.Run(ctx, a.Path, "version")
	if err != nil {
		return "", err
	}
	line, _, _ := strings.Cut(strings.TrimSpace(string(out)), "\n")
	return line, nil
}

// Devices lists attached devices. Devices in the "device" state are queried
// for model and OS version; the rest are reported unavailable.
func (a *ADB) Devices(ctx context.Context) ([]types.MobileDevice, error) {
	out, err := a.Runner.Run(ctx, a.Path, "devices", "-l")
	if err != nil {
		return nil, fmt.Errorf("failed to list android devices: %w", err)
	}

	devices := parseADBDevices(out)
	for i := range devices {
		d := &devices[i]
		if !d.Available {
			continue
		}
		if model, err := a.getprop(ctx, d.ID, "ro.product.model"); err == nil && model != "" {
			d.Name = model
		} else if err != nil {
			a.Logger.Warnf("Failed to read model of %s: %v", d.ID, err)
		}
		if version, err := a.getprop(ctx, d.ID, "ro.build.version.release"); err == nil {
			d.Version = version
		} else {
			a.Logger.Warnf("Failed to read android version of %s: %v", d.ID, err)
		}
	}
	return devices, nil
}

func (a *ADB) getprop(ctx context.Context, id, prop string) (string, error) {
	out, err := a.Runner.Run(ctx, a.Path, "-s", id, "shell", "getprop", prop)
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(string(out)), nil
}

// HasChrome reports whether the Chrome package is installed on a device.
func (a *ADB) HasChrome(ctx context.Context, id string) (bool, error) {
	out, err := a.Runner.Run(ctx, a.Path, "-s", id, "shell", "pm", "list", "packages", androidChromePackage)
	if err != nil {
		return false, err
	}
	scanner := bufio.NewScanner(bytes.NewReader(out))
	for scanner.Scan() {
		if strings.TrimSpace(scanner.Text()) == "package:"+androidChromePackage {
			return true, nil
		}
	}
	return false, nil
}

// parseADBDevices parses `adb devices -l`:
//
//	List of devices attached
//	emulator-5554  device product:sdk_gphone64 model:sdk_gphone64_x86_64 transport_id:1
//	R58M123456     unauthorized usb:1-1 transport_id:2
func parseADBDevices(out []byte) []types.MobileDevice {
	var devices []types.MobileDevice
	scanner := bufio.NewScanner(bytes.NewReader(out))
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "List of devices") || strings.HasPrefix(line, "*") {
			continue
		}
		fields := strings.Fields(line)
		if len(fields) < 2 {
			continue
		}

		d := types.MobileDevice{
			Kind:      types.DeviceAndroid,
			ID:        fields[0],
			State:     fields[1],
			Available: fields[1] == "device",
		}
		for _, detail := range fields[2:] {
			key, value, ok := strings.Cut(detail, ":")
			if ok && key == "model" {
				d.Name = strings.ReplaceAll(value, "_", " ")
			}
		}
		if d.Name == "" {
			d.Name = d.ID
		}
		devices = append(devices, d)
	}
	return devices
}

// Simctl discovers iOS simulators through `xcrun simctl`.
type Simctl struct {
	Path   string
	Runner CommandRunner
	Logger *logging.Logger
}

// Available reports whether xcrun can be found.
func (s *Simctl) Available() bool {
	_, err := s.Runner.LookPath(s.Path)
	return err == nil
}

// Devices lists iOS simulators across every installed iOS runtime.
func (s *Simctl) Devices(ctx context.Context) ([]types.MobileDevice, error) {
	out, err := s.Runner.Run(ctx, s.Path, "simctl", "list", "devices", "--json")
	if err != nil {
		return nil, fmt.Errorf("failed to list iOS simulators: %w", err)
	}
	return parseSimctlDevices(out)
}

type simctlList struct {
	Devices map[string][]simctlDevice `json:"devices"`
}

type simctlDevice struct {
	UDID        string `json:"udid"`
	Name        string `json:"name"`
	State       string `json:"state"`
	IsAvailable bool   `json:"isAvailable"`
}

const simStateBooted = "Booted"

// parseSimctlDevices decodes `simctl list devices --json`. Runtimes are keyed
// like "com.apple.CoreSimulator.SimRuntime.iOS-17-2"; non-iOS runtimes are
// skipped.
func parseSimctlDevices(out []byte) ([]types.MobileDevice, error) {
	var list simctlList
	if err := json.Unmarshal(out, &list); err != nil {
		return nil, fmt.Errorf("failed to decode simctl output: %w", err)
	}

	runtimes := make([]string, 0, len(list.Devices))
	for runtime := range list.Devices {
		runtimes = append(runtimes, runtime)
	}
	sort.Strings(runtimes)

	var devices []types.MobileDevice
	for _, runtime := range runtimes {
		version, ok := iosRuntimeVersion(runtime)
		if !ok {
			continue
		}
		for _, sim := range list.Devices[runtime] {
			devices = append(devices, types.MobileDevice{
				Kind:      types.DeviceIOS,
				Name:      sim.Name,
				Version:   version,
				ID:        sim.UDID,
				State:     sim.State,
				Available: sim.IsAvailable,
			})
		}
	}
	return devices, nil
}

func iosRuntimeVersion(runtime string) (string, bool) {
	idx := strings.LastIndex(runtime, ".")
	name := runtime[idx+1:]
	if !strings.HasPrefix(name, "iOS-") {
		return "", false
	}
	return strings.ReplaceAll(strings.TrimPrefix(name, "iOS-"), "-", "."), true
}

// selectDevice picks the requested device. An explicit id wins, then a name
// (and optional platform version); with no selector the first usable device
// is taken.
func selectDevice(devices []types.MobileDevice, id string, mobile *types.MobileOptions, usable func(types.MobileDevice) bool) (types.MobileDevice, error) {
	var name, version string
	if mobile != nil {
		name, version = mobile.DeviceName, mobile.PlatformVersion
	}

	switch {
	case id != "":
		for _, d := range devices {
			if d.ID == id {
				if !usable(d) {
					return d, &types.Error{Kind: types.KindDeviceNotFound, Subject: id, Message: fmt.Sprintf("device is not ready (state %s)", d.State)}
				}
				return d, nil
			}
		}
		return types.MobileDevice{}, &types.Error{Kind: types.KindDeviceNotFound, Subject: id, Message: "device not found"}

	case name != "":
		for _, d := range devices {
			if !strings.EqualFold(d.Name, name) || !usable(d) {
				continue
			}
			if version != "" && d.Version != version {
				continue
			}
			return d, nil
		}
		return types.MobileDevice{}, &types.Error{Kind: types.KindDeviceNotFound, Subject: name, Message: "no ready device matches name"}

	default:
		for _, d := range devices {
			if usable(d) {
				return d, nil
			}
		}
		return types.MobileDevice{}, &types.Error{Kind: types.KindDeviceNotFound, Message: "no ready device attached"}
	}
}
