package adb

import (
	"bytes"
	"context"
	"encoding/base64"
	"fmt"
	"image"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/disintegration/imaging"

	"device-agent/internal/domain/entity"
)

const remoteScreenshotPath = "/sdcard/device-agent-screen.png"

// maxSnapshotWidth keeps prompt payloads small; screenshots wider than this
// are downscaled before encoding.
const maxSnapshotWidth = 1080

func (a *Adapter) CaptureState(ctx context.Context, handle entity.DeviceHandle) (*entity.StateSnapshot, error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	if a.handle == nil || a.handle.ID != handle.ID {
		return nil, fmt.Errorf("not connected to %s", handle.ID)
	}

	if _, err := a.run(ctx, "shell", "screencap", "-p", remoteScreenshotPath); err != nil {
		// Some screens (banking apps, secure input) refuse capture. Report a
		// placeholder rather than failing the whole step.
		if isSecureScreenError(err) {
			return fallbackSnapshot(a.screenW, a.screenH, a.foregroundAppLocked(ctx)), nil
		}
		return nil, fmt.Errorf("screencap: %w", err)
	}

	localPath := filepath.Join(os.TempDir(), fmt.Sprintf("device-agent-%d.png", time.Now().UnixNano()))
	defer os.Remove(localPath)

	if _, err := a.run(ctx, "pull", remoteScreenshotPath, localPath); err != nil {
		return nil, fmt.Errorf("pull screenshot: %w", err)
	}

	img, err := imaging.Open(localPath)
	if err != nil {
		return nil, fmt.Errorf("open screenshot: %w", err)
	}

	return encodeSnapshot(img, a.foregroundAppLocked(ctx)), nil
}

// foregroundAppLocked best-effort reads the focused window's package.
func (a *Adapter) foregroundAppLocked(ctx context.Context) string {
	out, err := a.run(ctx, "shell", "dumpsys", "window", "windows")
	if err != nil {
		return ""
	}
	return parseFocusedApp(out)
}

// parseFocusedApp extracts the package name from a dumpsys window dump,
// looking at the mCurrentFocus / mFocusedApp lines.
func parseFocusedApp(out string) string {
	for _, line := range strings.Split(out, "\n") {
		line = strings.TrimSpace(line)
		if !strings.HasPrefix(line, "mCurrentFocus=") && !strings.HasPrefix(line, "mFocusedApp=") {
			continue
		}
		// e.g. mCurrentFocus=Window{af3bc1 u0 com.android.settings/.Settings}
		fields := strings.Fields(strings.TrimRight(line, "}"))
		if len(fields) == 0 {
			continue
		}
		last := fields[len(fields)-1]
		if idx := strings.IndexByte(last, '/'); idx > 0 {
			return last[:idx]
		}
	}
	return ""
}

func isSecureScreenError(err error) bool {
	msg := err.Error()
	return strings.Contains(msg, "Status: -1") || strings.Contains(msg, "Failed")
}

// encodeSnapshot downscales, PNG-encodes and base64s a captured frame.
func encodeSnapshot(img image.Image, foregroundApp string) *entity.StateSnapshot {
	bounds := img.Bounds()
	width, height := bounds.Dx(), bounds.Dy()

	if width > maxSnapshotWidth {
		img = imaging.Resize(img, maxSnapshotWidth, 0, imaging.Lanczos)
	}

	var buf bytes.Buffer
	if err := imaging.Encode(&buf, img, imaging.PNG); err != nil {
		return fallbackSnapshot(width, height, foregroundApp)
	}

	return &entity.StateSnapshot{
		ScreenshotB64: base64.StdEncoding.EncodeToString(buf.Bytes()),
		Format:        "png",
		Width:         width,
		Height:        height,
		ForegroundApp: foregroundApp,
		TakenAt:       time.Now(),
	}
}

// fallbackSnapshot is an all-black frame used when the device refuses capture.
func fallbackSnapshot(width, height int, foregroundApp string) *entity.StateSnapshot {
	if width <= 0 || height <= 0 {
		width, height = 1080, 2400
	}

	img := imaging.New(width, height, image.Black)
	var buf bytes.Buffer
	_ = imaging.Encode(&buf, img, imaging.PNG)

	return &entity.StateSnapshot{
		ScreenshotB64: base64.StdEncoding.EncodeToString(buf.Bytes()),
		Format:        "png",
		Width:         width,
		Height:        height,
		ForegroundApp: foregroundApp,
		Sensitive:     true,
		TakenAt:       time.Now(),
	}
}
