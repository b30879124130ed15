package wda

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"image"
	_ "image/png"
	"io"
	"net/http"
	"sync"
	"time"

	"github.com/disintegration/imaging"
	"github.com/ysmood/gson"

	"device-agent/internal/application/port/output"
	"device-agent/internal/domain/entity"
)

var _ output.DevicePort = (*Adapter)(nil)

const maxSnapshotWidth = 1080

// Adapter drives iOS devices through a running WebDriverAgent instance.
// Coordinates sent to WDA are in screen points, so the 0-1000 relative space
// is scaled against the session's window size.
type Adapter struct {
	cfg    Config
	client *http.Client
	logger output.LoggerPort

	mu        sync.Mutex
	handle    *entity.DeviceHandle
	sessionID string
	screenW   int
	screenH   int
}

type Config struct {
	// BaseURL is where WebDriverAgent listens, e.g. "http://localhost:8100".
	BaseURL string
	// RequestTimeout bounds every WDA call.
	RequestTimeout time.Duration
}

func DefaultConfig() Config {
	return Config{
		BaseURL:        "http://localhost:8100",
		RequestTimeout: 15 * time.Second,
	}
}

func NewAdapter(cfg Config, logger output.LoggerPort) *Adapter {
	if cfg.BaseURL == "" {
		cfg.BaseURL = "http://localhost:8100"
	}
	if cfg.RequestTimeout <= 0 {
		cfg.RequestTimeout = 15 * time.Second
	}
	return &Adapter{
		cfg:    cfg,
		client: &http.Client{Timeout: cfg.RequestTimeout},
		logger: logger,
	}
}

func (a *Adapter) Connect(ctx context.Context) (entity.DeviceHandle, error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	if a.handle != nil && a.sessionID != "" {
		if a.statusOKLocked(ctx) {
			return *a.handle, nil
		}
		a.handle = nil
		a.sessionID = ""
	}

	if !a.statusOKLocked(ctx) {
		return entity.DeviceHandle{}, fmt.Errorf("WebDriverAgent unreachable at %s", a.cfg.BaseURL)
	}

	resp, err := a.post(ctx, "/session", map[string]any{
		"capabilities": map[string]any{},
	})
	if err != nil {
		return entity.DeviceHandle{}, fmt.Errorf("create session: %w", err)
	}

	sessionID := strVal(resp.Get("sessionId"))
	if sessionID == "" {
		sessionID = strVal(resp.Get("value").Get("sessionId"))
	}
	if sessionID == "" {
		return entity.DeviceHandle{}, fmt.Errorf("no session id in WDA response")
	}
	a.sessionID = sessionID
	a.handle = &entity.DeviceHandle{ID: sessionID, Type: entity.DeviceIOS}

	if size, err := a.get(ctx, "/session/"+sessionID+"/window/size"); err == nil {
		a.screenW = size.Get("value").Get("width").Int()
		a.screenH = size.Get("value").Get("height").Int()
	}

	if a.logger != nil {
		a.logger.Info("WDA session created", "session", sessionID, "width", a.screenW, "height", a.screenH)
	}
	return *a.handle, nil
}

func (a *Adapter) ListDevices(ctx context.Context) ([]string, error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	resp, err := a.get(ctx, "/status")
	if err != nil {
		return []string{}, nil
	}
	name := strVal(resp.Get("value").Get("device"))
	if name == "" {
		name = a.cfg.BaseURL
	}
	return []string{name}, nil
}

func (a *Adapter) CaptureState(ctx context.Context, handle entity.DeviceHandle) (*entity.StateSnapshot, error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	if a.handle == nil || a.handle.ID != handle.ID {
		return nil, fmt.Errorf("no session for %s", handle.ID)
	}

	resp, err := a.get(ctx, "/screenshot")
	if err != nil {
		return nil, fmt.Errorf("screenshot: %w", err)
	}

	b64 := strVal(resp.Get("value"))
	raw, err := base64.StdEncoding.DecodeString(b64)
	if err != nil {
		return nil, fmt.Errorf("decode screenshot: %w", err)
	}

	img, _, err := image.Decode(bytes.NewReader(raw))
	if err != nil {
		return nil, fmt.Errorf("decode screenshot image: %w", err)
	}

	bounds := img.Bounds()
	width, height := bounds.Dx(), bounds.Dy()
	if width > maxSnapshotWidth {
		img = imaging.Resize(img, maxSnapshotWidth, 0, imaging.Lanczos)
		var buf bytes.Buffer
		if err := imaging.Encode(&buf, img, imaging.PNG); err != nil {
			return nil, fmt.Errorf("encode screenshot: %w", err)
		}
		b64 = base64.StdEncoding.EncodeToString(buf.Bytes())
	}

	return &entity.StateSnapshot{
		ScreenshotB64: b64,
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
		return fmt.Errorf("no session for %s", handle.ID)
	}

	x, y := a.scaleLocked(action.X, action.Y)
	toX, toY := a.scaleLocked(action.ToX, action.ToY)
	base := "/session/" + a.sessionID

	var err error
	switch action.Name {
	case entity.ActionTap:
		_, err = a.post(ctx, base+"/wda/tap/0", map[string]any{"x": x, "y": y})
	case entity.ActionDoubleTap:
		_, err = a.post(ctx, base+"/wda/doubleTap", map[string]any{"x": x, "y": y})
	case entity.ActionLongPress:
		_, err = a.post(ctx, base+"/wda/touchAndHold", map[string]any{"x": x, "y": y, "duration": 0.8})
	case entity.ActionSwipe:
		_, err = a.post(ctx, base+"/wda/dragfromtoforduration", map[string]any{
			"fromX": x, "fromY": y, "toX": toX, "toY": toY, "duration": 0.6,
		})
	case entity.ActionType:
		_, err = a.post(ctx, base+"/wda/keys", map[string]any{"value": []string{action.Text}})
	case entity.ActionHome:
		_, err = a.post(ctx, "/wda/homescreen", map[string]any{})
	case entity.ActionLaunch:
		_, err = a.post(ctx, base+"/wda/apps/launch", map[string]any{"bundleId": action.App})
	case entity.ActionWait:
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(time.Duration(action.Seconds * float64(time.Second))):
			return nil
		}
	default:
		// ActionBack lands here; it is excluded from the iOS capability set
		// upstream, so reaching it is a programming error.
		return fmt.Errorf("action %s not dispatchable on iOS", action.Name)
	}

	if err != nil {
		return fmt.Errorf("%s: %w", action.Name, err)
	}
	return nil
}

func (a *Adapter) IsAlive(handle entity.DeviceHandle) bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.handle == nil || a.handle.ID != handle.ID {
		return false
	}
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	return a.statusOKLocked(ctx)
}

func (a *Adapter) Release(handle entity.DeviceHandle) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.handle == nil || a.handle.ID != handle.ID {
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), a.cfg.RequestTimeout)
	defer cancel()
	req, err := http.NewRequestWithContext(ctx, http.MethodDelete, a.cfg.BaseURL+"/session/"+a.sessionID, nil)
	if err == nil {
		if resp, err := a.client.Do(req); err == nil {
			resp.Body.Close()
		}
	}

	a.handle = nil
	a.sessionID = ""
	if a.logger != nil {
		a.logger.Info("WDA session released", "session", handle.ID)
	}
}

func (a *Adapter) scaleLocked(x, y int) (int, int) {
	if a.screenW <= 0 || a.screenH <= 0 {
		return x, y
	}
	return x * a.screenW / 1000, y * a.screenH / 1000
}

func (a *Adapter) statusOKLocked(ctx context.Context) bool {
	resp, err := a.get(ctx, "/status")
	return err == nil && resp.Get("value").Get("ready").Bool()
}

func (a *Adapter) get(ctx context.Context, path string) (gson.JSON, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, a.cfg.BaseURL+path, nil)
	if err != nil {
		return gson.New(nil), err
	}
	return a.do(req)
}

func (a *Adapter) post(ctx context.Context, path string, body map[string]any) (gson.JSON, error) {
	payload, err := json.Marshal(body)
	if err != nil {
		return gson.New(nil), err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, a.cfg.BaseURL+path, bytes.NewReader(payload))
	if err != nil {
		return gson.New(nil), err
	}
	req.Header.Set("Content-Type", "application/json")
	return a.do(req)
}

func (a *Adapter) do(req *http.Request) (gson.JSON, error) {
	resp, err := a.client.Do(req)
	if err != nil {
		return gson.New(nil), err
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return gson.New(nil), err
	}
	if resp.StatusCode >= 400 {
		return gson.New(nil), fmt.Errorf("WDA %s: status %d: %s", req.URL.Path, resp.StatusCode, truncate(string(raw), 200))
	}

	parsed := gson.NewFrom(string(raw))
	if msg := strVal(parsed.Get("value").Get("error")); msg != "" {
		return parsed, fmt.Errorf("WDA %s: %s", req.URL.Path, msg)
	}
	return parsed, nil
}

// strVal returns the string at v, or "" when the key is absent or holds a
// non-string. gson's Str() stringifies missing values as "<nil>".
func strVal(v gson.JSON) string {
	s, _ := v.Val().(string)
	return s
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
