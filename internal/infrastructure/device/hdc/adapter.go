package hdc

import (
	"bytes"
	"context"
	"encoding/base64"
	"fmt"
	"image"
	"os"
	"os/exec"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/disintegration/imaging"

	"device-agent/internal/application/port/output"
	"device-agent/internal/domain/entity"
)

var _ output.DevicePort = (*Adapter)(nil)

const (
	remoteScreenshotPath = "/data/local/tmp/device-agent-screen.png"
	maxSnapshotWidth     = 1080
	settleDelay          = 500 * time.Millisecond
)

// Adapter drives HarmonyOS devices through the hdc CLI. Input actions go
// through the uitest uiInput facility, which mirrors Android's `input` tool.
type Adapter struct {
	cfg    Config
	logger output.LoggerPort

	mu      sync.Mutex
	handle  *entity.DeviceHandle
	screenW int
	screenH int
}

type Config struct {
	// Target pins the adapter to one connect key. Empty means "the only target".
	Target string
	// HDCPath is the hdc binary. Defaults to "hdc" on PATH.
	HDCPath string
	// CommandTimeout bounds every hdc invocation.
	CommandTimeout time.Duration
}

func DefaultConfig() Config {
	return Config{
		HDCPath:        "hdc",
		CommandTimeout: 5 * time.Second,
	}
}

func NewAdapter(cfg Config, logger output.LoggerPort) *Adapter {
	if cfg.HDCPath == "" {
		cfg.HDCPath = "hdc"
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

	targets, err := a.listLocked(ctx)
	if err != nil {
		return entity.DeviceHandle{}, err
	}

	target := a.cfg.Target
	if target == "" {
		if len(targets) == 0 {
			return entity.DeviceHandle{}, fmt.Errorf("no targets attached")
		}
		target = targets[0]
	} else if !contains(targets, target) {
		return entity.DeviceHandle{}, fmt.Errorf("target %s not attached", target)
	}

	a.handle = &entity.DeviceHandle{ID: target, Type: entity.DeviceHarmony}

	if out, err := a.run(ctx, "shell", "hidumper", "-s", "RenderService", "-a", "screen"); err == nil {
		if w, h, ok := parseScreenSize(out); ok {
			a.screenW, a.screenH = w, h
		}
	}

	if a.logger != nil {
		a.logger.Info("Target connected", "target", target, "width", a.screenW, "height", a.screenH)
	}
	return *a.handle, nil
}

func (a *Adapter) ListDevices(ctx context.Context) ([]string, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.listLocked(ctx)
}

func (a *Adapter) listLocked(ctx context.Context) ([]string, error) {
	out, err := a.runBare(ctx, "list", "targets")
	if err != nil {
		return nil, fmt.Errorf("hdc list targets: %w", err)
	}
	return parseTargets(out), nil
}

func (a *Adapter) CaptureState(ctx context.Context, handle entity.DeviceHandle) (*entity.StateSnapshot, error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	if a.handle == nil || a.handle.ID != handle.ID {
		return nil, fmt.Errorf("not connected to %s", handle.ID)
	}

	if _, err := a.run(ctx, "shell", "snapshot_display", "-f", remoteScreenshotPath); err != nil {
		// Some screens (banking apps, secure input) refuse capture. Report a
		// placeholder rather than failing the whole step.
		if isSecureScreenError(err) {
			return fallbackSnapshot(a.screenW, a.screenH), nil
		}
		return nil, fmt.Errorf("snapshot_display: %w", err)
	}

	localPath := filepath.Join(os.TempDir(), fmt.Sprintf("device-agent-%d.png", time.Now().UnixNano()))
	defer os.Remove(localPath)

	if _, err := a.run(ctx, "file", "recv", remoteScreenshotPath, localPath); err != nil {
		return nil, fmt.Errorf("recv screenshot: %w", err)
	}

	img, err := imaging.Open(localPath)
	if err != nil {
		return nil, fmt.Errorf("open screenshot: %w", err)
	}

	bounds := img.Bounds()
	width, height := bounds.Dx(), bounds.Dy()
	if width > maxSnapshotWidth {
		img = imaging.Resize(img, maxSnapshotWidth, 0, imaging.Lanczos)
	}

	var buf bytes.Buffer
	if err := imaging.Encode(&buf, img, imaging.PNG); err != nil {
		return nil, fmt.Errorf("encode screenshot: %w", err)
	}

	return &entity.StateSnapshot{
		ScreenshotB64: base64.StdEncoding.EncodeToString(buf.Bytes()),
		Format:        "png",
		Width:         width,
		Height:        height,
		TakenAt:       time.Now(),
	}, nil
}

func (a *Adapter) Dispatch(ctx context.Context, handle entity.DeviceHandle, action *entity.Action) error {
	a.mu.Lock()
	defer a.mu.Unlock()

	if a.handle == nil || a.handle.ID != handle.ID {
		return fmt.Errorf("not connected to %s", handle.ID)
	}

	x, y := scaleCoord(action.X, action.Y, a.screenW, a.screenH)
	toX, toY := scaleCoord(action.ToX, action.ToY, a.screenW, a.screenH)

	var err error
	switch action.Name {
	case entity.ActionTap:
		_, err = a.run(ctx, "shell", "uitest", "uiInput", "click", itoa(x), itoa(y))
	case entity.ActionDoubleTap:
		_, err = a.run(ctx, "shell", "uitest", "uiInput", "doubleClick", itoa(x), itoa(y))
	case entity.ActionLongPress:
		_, err = a.run(ctx, "shell", "uitest", "uiInput", "longClick", itoa(x), itoa(y))
	case entity.ActionSwipe:
		_, err = a.run(ctx, "shell", "uitest", "uiInput", "swipe", itoa(x), itoa(y), itoa(toX), itoa(toY), "600")
	case entity.ActionType:
		_, err = a.run(ctx, "shell", "uitest", "uiInput", "inputText", itoa(x), itoa(y), action.Text)
	case entity.ActionBack:
		_, err = a.run(ctx, "shell", "uitest", "uiInput", "keyEvent", "Back")
	case entity.ActionHome:
		_, err = a.run(ctx, "shell", "uitest", "uiInput", "keyEvent", "Home")
	case entity.ActionLaunch:
		_, err = a.run(ctx, "shell", "aa", "start", "-b", action.App)
	case entity.ActionWait:
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(time.Duration(action.Seconds * float64(time.Second))):
			return nil
		}
	default:
		return fmt.Errorf("action %s not dispatchable", action.Name)
	}

	if err != nil {
		return fmt.Errorf("%s: %w", action.Name, err)
	}

	time.Sleep(settleDelay)
	return nil
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
	targets, err := a.listLocked(ctx)
	return err == nil && a.handle != nil && contains(targets, a.handle.ID)
}

func (a *Adapter) Release(handle entity.DeviceHandle) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.handle != nil && a.handle.ID == handle.ID {
		a.handle = nil
		if a.logger != nil {
			a.logger.Info("Target released", "target", handle.ID)
		}
	}
}

func (a *Adapter) run(ctx context.Context, args ...string) (string, error) {
	prefixed := args
	if a.handle != nil {
		prefixed = append([]string{"-t", a.handle.ID}, args...)
	} else if a.cfg.Target != "" {
		prefixed = append([]string{"-t", a.cfg.Target}, args...)
	}
	return a.runBare(ctx, prefixed...)
}

func (a *Adapter) runBare(ctx context.Context, args ...string) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, a.cfg.CommandTimeout)
	defer cancel()

	cmd := exec.CommandContext(ctx, a.cfg.HDCPath, args...)
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		return stdout.String(), fmt.Errorf("%w: %s", err, strings.TrimSpace(stderr.String()))
	}
	return stdout.String(), nil
}

// parseTargets extracts connect keys from `hdc list targets` output.
// Lines are bare keys; "[Empty]" means nothing attached.
func parseTargets(out string) []string {
	targets := []string{}
	for _, line := range strings.Split(out, "\n") {
		line = strings.TrimSpace(line)
		if line == "" || strings.EqualFold(line, "[empty]") {
			continue
		}
		// some hdc builds append state after a tab
		if idx := strings.IndexByte(line, '\t'); idx > 0 {
			line = line[:idx]
		}
		targets = append(targets, line)
	}
	return targets
}

// parseScreenSize looks for a "physical resolution: WxH" style line in
// hidumper output.
func parseScreenSize(out string) (int, int, bool) {
	for _, line := range strings.Split(strings.ToLower(out), "\n") {
		line = strings.TrimSpace(line)
		idx := strings.Index(line, "resolution")
		if idx < 0 {
			continue
		}
		var w, h int
		rest := strings.TrimLeft(line[idx+len("resolution"):], ": ")
		if _, err := fmt.Sscanf(rest, "%dx%d", &w, &h); err == nil && w > 0 && h > 0 {
			return w, h, true
		}
	}
	return 0, 0, false
}

// isSecureScreenError matches hdc's refusal to capture protected content;
// such failures surface as "[Fail]..." messages.
func isSecureScreenError(err error) bool {
	return strings.Contains(strings.ToLower(err.Error()), "fail")
}

// fallbackSnapshot is an all-black frame used when the target refuses capture.
func fallbackSnapshot(width, height int) *entity.StateSnapshot {
	if width <= 0 || height <= 0 {
		width, height = 1260, 2720
	}

	img := imaging.New(width, height, image.Black)
	var buf bytes.Buffer
	_ = imaging.Encode(&buf, img, imaging.PNG)

	return &entity.StateSnapshot{
		ScreenshotB64: base64.StdEncoding.EncodeToString(buf.Bytes()),
		Format:        "png",
		Width:         width,
		Height:        height,
		Sensitive:     true,
		TakenAt:       time.Now(),
	}
}

func scaleCoord(x, y, screenW, screenH int) (int, int) {
	if screenW <= 0 || screenH <= 0 {
		return x, y
	}
	return x * screenW / 1000, y * screenH / 1000
}

func contains(list []string, v string) bool {
	for _, item := range list {
		if item == v {
			return true
		}
	}
	return false
}

func itoa(v int) string {
	return strconv.Itoa(v)
}
