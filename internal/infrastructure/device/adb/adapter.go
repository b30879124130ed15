package adb

import (
	"bytes"
	"context"
	"fmt"
	"os/exec"
	"strings"
	"sync"
	"time"

	"device-agent/internal/application/port/output"
	"device-agent/internal/domain/entity"
)

var _ output.DevicePort = (*Adapter)(nil)

// Adapter drives Android devices through the adb CLI.
type Adapter struct {
	cfg    Config
	logger output.LoggerPort

	mu      sync.Mutex
	handle  *entity.DeviceHandle
	screenW int
	screenH int
}

type Config struct {
	// Serial pins the adapter to one device. Empty means "the only device".
	Serial string
	// ConnectAddr, when set, is dialed with `adb connect` before device lookup
	// (e.g. "192.168.1.100:5555").
	ConnectAddr string
	// ADBPath is the adb binary. Defaults to "adb" on PATH.
	ADBPath string
	// CommandTimeout bounds every adb invocation.
	CommandTimeout time.Duration
}

func DefaultConfig() Config {
	return Config{
		ADBPath:        "adb",
		CommandTimeout: 5 * time.Second,
	}
}

func NewAdapter(cfg Config, logger output.LoggerPort) *Adapter {
	if cfg.ADBPath == "" {
		cfg.ADBPath = "adb"
	}
	if cfg.CommandTimeout <= 0 {
		cfg.CommandTimeout = 5 * time.Second
	}
	return &Adapter{cfg: cfg, logger: logger}
}

func (a *Adapter) Connect(ctx context.Context) (entity.DeviceHandle, error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	if a.handle != nil {
		if a.aliveLocked() {
			return *a.handle, nil
		}
		a.handle = nil
	}

	if a.cfg.ConnectAddr != "" {
		if _, err := a.run(ctx, "connect", a.cfg.ConnectAddr); err != nil {
			return entity.DeviceHandle{}, fmt.Errorf("adb connect %s: %w", a.cfg.ConnectAddr, err)
		}
	}

	devices, err := a.listLocked(ctx)
	if err != nil {
		return entity.DeviceHandle{}, err
	}

	serial := a.cfg.Serial
	if serial == "" && a.cfg.ConnectAddr != "" {
		serial = a.cfg.ConnectAddr
	}
	if serial == "" {
		if len(devices) == 0 {
			return entity.DeviceHandle{}, fmt.Errorf("no devices attached")
		}
		serial = devices[0]
	} else if !contains(devices, serial) {
		return entity.DeviceHandle{}, fmt.Errorf("device %s not attached", serial)
	}

	a.handle = &entity.DeviceHandle{ID: serial, Type: entity.DeviceAndroid}

	if w, h, err := a.screenSizeLocked(ctx); err == nil {
		a.screenW, a.screenH = w, h
	} else if a.logger != nil {
		a.logger.Warn("Could not read screen size", "error", err)
	}

	if a.logger != nil {
		a.logger.Info("Device connected", "serial", serial, "width", a.screenW, "height", a.screenH)
	}
	return *a.handle, nil
}

func (a *Adapter) ListDevices(ctx context.Context) ([]string, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.listLocked(ctx)
}

func (a *Adapter) listLocked(ctx context.Context) ([]string, error) {
	out, err := a.runBare(ctx, "devices")
	if err != nil {
		return nil, fmt.Errorf("adb devices: %w", err)
	}
	return parseDevices(out), nil
}

func (a *Adapter) IsAlive(handle entity.DeviceHandle) bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.handle == nil || a.handle.ID != handle.ID {
		return false
	}
	return a.aliveLocked()
}

func (a *Adapter) aliveLocked() bool {
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	out, err := a.run(ctx, "get-state")
	return err == nil && strings.TrimSpace(out) == "device"
}

func (a *Adapter) Release(handle entity.DeviceHandle) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.handle == nil || a.handle.ID != handle.ID {
		return
	}
	if a.cfg.ConnectAddr != "" {
		ctx, cancel := context.WithTimeout(context.Background(), a.cfg.CommandTimeout)
		defer cancel()
		_, _ = a.runBare(ctx, "disconnect", a.cfg.ConnectAddr)
	}
	a.handle = nil
	if a.logger != nil {
		a.logger.Info("Device released", "serial", handle.ID)
	}
}

func (a *Adapter) screenSizeLocked(ctx context.Context) (int, int, error) {
	out, err := a.run(ctx, "shell", "wm", "size")
	if err != nil {
		return 0, 0, fmt.Errorf("wm size: %w", err)
	}
	return parseScreenSize(out)
}

// run executes adb scoped to the connected serial.
func (a *Adapter) run(ctx context.Context, args ...string) (string, error) {
	prefixed := args
	if a.handle != nil {
		prefixed = append([]string{"-s", a.handle.ID}, args...)
	} else if a.cfg.Serial != "" {
		prefixed = append([]string{"-s", a.cfg.Serial}, args...)
	}
	return a.runBare(ctx, prefixed...)
}

// runBare executes adb without a serial prefix (connect, devices).
func (a *Adapter) runBare(ctx context.Context, args ...string) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, a.cfg.CommandTimeout)
	defer cancel()

	cmd := exec.CommandContext(ctx, a.cfg.ADBPath, args...)
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		return stdout.String(), fmt.Errorf("%w: %s", err, strings.TrimSpace(stderr.String()))
	}
	return stdout.String(), nil
}

// parseDevices extracts serials in "device" state from `adb devices` output.
func parseDevices(out string) []string {
	devices := []string{}
	lines := strings.Split(out, "\n")
	for i, line := range lines {
		line = strings.TrimSpace(line)
		if i == 0 || line == "" {
			// header row
			continue
		}
		parts := strings.Split(line, "\t")
		if len(parts) == 2 && parts[1] == "device" {
			devices = append(devices, parts[0])
		}
	}
	return devices
}

// parseScreenSize parses `wm size` output ("Physical size: 1080x2400").
func parseScreenSize(out string) (int, int, error) {
	for _, line := range strings.Split(out, "\n") {
		line = strings.TrimSpace(line)
		var w, h int
		if _, err := fmt.Sscanf(line, "Physical size: %dx%d", &w, &h); err == nil {
			return w, h, nil
		}
		if _, err := fmt.Sscanf(line, "Override size: %dx%d", &w, &h); err == nil {
			return w, h, nil
		}
	}
	return 0, 0, fmt.Errorf("no screen size in %q", strings.TrimSpace(out))
}

func contains(list []string, v string) bool {
	for _, item := range list {
		if item == v {
			return true
		}
	}
	return false
}
