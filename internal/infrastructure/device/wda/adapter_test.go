package wda

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"image"
	"image/png"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"device-agent/internal/domain/entity"
	"device-agent/internal/infrastructure/logger"
)

const testSessionID = "9A52B1C3-0000-4000-8000-000000000001"

// fakeWDA mimics the subset of the WebDriverAgent HTTP surface the adapter
// talks to.
type fakeWDA struct {
	mu          sync.Mutex
	ready       bool
	failActions bool
	sessions    int
	deletes     int
	lastPath    string
	lastBody    map[string]any
}

func (f *fakeWDA) handler(t *testing.T) http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("GET /status", func(w http.ResponseWriter, r *http.Request) {
		f.mu.Lock()
		ready := f.ready
		f.mu.Unlock()
		fmt.Fprintf(w, `{"value":{"ready":%t,"device":"iphone"}}`, ready)
	})

	mux.HandleFunc("POST /session", func(w http.ResponseWriter, r *http.Request) {
		f.mu.Lock()
		f.sessions++
		f.mu.Unlock()
		fmt.Fprintf(w, `{"value":{"sessionId":%q}}`, testSessionID)
	})

	mux.HandleFunc("GET /session/"+testSessionID+"/window/size", func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `{"value":{"width":390,"height":844}}`)
	})

	mux.HandleFunc("GET /screenshot", func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprintf(w, `{"value":%q}`, tinyPNGB64(t))
	})

	mux.HandleFunc("DELETE /session/"+testSessionID, func(w http.ResponseWriter, r *http.Request) {
		f.mu.Lock()
		f.deletes++
		f.mu.Unlock()
		fmt.Fprint(w, `{"value":null}`)
	})

	mux.HandleFunc("POST /", func(w http.ResponseWriter, r *http.Request) {
		var body map[string]any
		_ = json.NewDecoder(r.Body).Decode(&body)
		f.mu.Lock()
		f.lastPath = r.URL.Path
		f.lastBody = body
		failActions := f.failActions
		f.mu.Unlock()
		if failActions {
			fmt.Fprint(w, `{"value":{"error":"invalid element state","message":"tap failed"}}`)
			return
		}
		fmt.Fprint(w, `{"value":null}`)
	})

	return mux
}

func tinyPNGB64(t *testing.T) string {
	t.Helper()
	img := image.NewRGBA(image.Rect(0, 0, 4, 8))
	var buf bytes.Buffer
	require.NoError(t, png.Encode(&buf, img))
	return base64.StdEncoding.EncodeToString(buf.Bytes())
}

func newTestAdapter(t *testing.T, fake *fakeWDA) *Adapter {
	t.Helper()
	srv := httptest.NewServer(fake.handler(t))
	t.Cleanup(srv.Close)
	return NewAdapter(Config{BaseURL: srv.URL}, logger.NewNop())
}

func TestConnect_CreatesSessionOnce(t *testing.T) {
	fake := &fakeWDA{ready: true}
	adapter := newTestAdapter(t, fake)

	handle, err := adapter.Connect(context.Background())
	require.NoError(t, err)
	assert.Equal(t, testSessionID, handle.ID)
	assert.Equal(t, entity.DeviceIOS, handle.Type)

	// second connect reuses the live session
	again, err := adapter.Connect(context.Background())
	require.NoError(t, err)
	assert.Equal(t, handle, again)
	assert.Equal(t, 1, fake.sessions)
}

func TestConnect_FailsWhenAgentNotReady(t *testing.T) {
	fake := &fakeWDA{ready: false}
	adapter := newTestAdapter(t, fake)

	_, err := adapter.Connect(context.Background())
	assert.ErrorContains(t, err, "unreachable")
}

func TestCaptureState(t *testing.T) {
	fake := &fakeWDA{ready: true}
	adapter := newTestAdapter(t, fake)

	handle, err := adapter.Connect(context.Background())
	require.NoError(t, err)

	snap, err := adapter.CaptureState(context.Background(), handle)
	require.NoError(t, err)
	assert.Equal(t, 4, snap.Width)
	assert.Equal(t, 8, snap.Height)
	assert.Equal(t, "png", snap.Format)
	assert.NotEmpty(t, snap.ScreenshotB64)
}

func TestCaptureState_RequiresSession(t *testing.T) {
	adapter := newTestAdapter(t, &fakeWDA{ready: true})

	_, err := adapter.CaptureState(context.Background(), entity.DeviceHandle{ID: "nope"})
	assert.ErrorContains(t, err, "no session")
}

func TestDispatch_TapScalesToWindowSize(t *testing.T) {
	fake := &fakeWDA{ready: true}
	adapter := newTestAdapter(t, fake)

	handle, err := adapter.Connect(context.Background())
	require.NoError(t, err)

	action := &entity.Action{Name: entity.ActionTap, X: 500, Y: 500}
	require.NoError(t, adapter.Dispatch(context.Background(), handle, action))

	fake.mu.Lock()
	defer fake.mu.Unlock()
	assert.Equal(t, "/session/"+testSessionID+"/wda/tap/0", fake.lastPath)
	assert.Equal(t, float64(195), fake.lastBody["x"])
	assert.Equal(t, float64(422), fake.lastBody["y"])
}

func TestDispatch_Launch(t *testing.T) {
	fake := &fakeWDA{ready: true}
	adapter := newTestAdapter(t, fake)

	handle, err := adapter.Connect(context.Background())
	require.NoError(t, err)

	action := &entity.Action{Name: entity.ActionLaunch, App: "com.apple.Preferences"}
	require.NoError(t, adapter.Dispatch(context.Background(), handle, action))

	fake.mu.Lock()
	defer fake.mu.Unlock()
	assert.Equal(t, "/session/"+testSessionID+"/wda/apps/launch", fake.lastPath)
	assert.Equal(t, "com.apple.Preferences", fake.lastBody["bundleId"])
}

func TestDispatch_SurfacesAgentError(t *testing.T) {
	fake := &fakeWDA{ready: true, failActions: true}
	adapter := newTestAdapter(t, fake)

	handle, err := adapter.Connect(context.Background())
	require.NoError(t, err)

	err = adapter.Dispatch(context.Background(), handle, &entity.Action{Name: entity.ActionTap, X: 500, Y: 500})
	assert.ErrorContains(t, err, "invalid element state")
}

func TestDispatch_BackIsRejected(t *testing.T) {
	fake := &fakeWDA{ready: true}
	adapter := newTestAdapter(t, fake)

	handle, err := adapter.Connect(context.Background())
	require.NoError(t, err)

	err = adapter.Dispatch(context.Background(), handle, &entity.Action{Name: entity.ActionBack})
	assert.ErrorContains(t, err, "not dispatchable")
}

func TestRelease_DeletesSession(t *testing.T) {
	fake := &fakeWDA{ready: true}
	adapter := newTestAdapter(t, fake)

	handle, err := adapter.Connect(context.Background())
	require.NoError(t, err)

	adapter.Release(handle)
	assert.Equal(t, 1, fake.deletes)
	assert.False(t, adapter.IsAlive(handle))

	// releasing a stale handle is a no-op
	adapter.Release(handle)
	assert.Equal(t, 1, fake.deletes)
}

func TestListDevices(t *testing.T) {
	adapter := newTestAdapter(t, &fakeWDA{ready: true})

	devices, err := adapter.ListDevices(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []string{"iphone"}, devices)
}
