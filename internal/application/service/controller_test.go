package service

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"device-agent/internal/application/port/output"
	"device-agent/internal/domain/entity"
	"device-agent/internal/infrastructure/logger"
)

type fakeDevice struct {
	mu         sync.Mutex
	connectErr error
	connects   int
	releases   int

	// captureStarted/captureGate let a test hold the first capture open to
	// observe mid-run behaviour; connectStarted/connectGate do the same for
	// the first connect.
	captureStarted chan struct{}
	captureGate    chan struct{}
	gateOnce       sync.Once
	connectStarted chan struct{}
	connectGate    chan struct{}
	connectOnce    sync.Once
}

func (f *fakeDevice) Connect(ctx context.Context) (entity.DeviceHandle, error) {
	if f.connectStarted != nil {
		f.connectOnce.Do(func() {
			close(f.connectStarted)
			<-f.connectGate
		})
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.connects++
	if f.connectErr != nil {
		return entity.DeviceHandle{}, f.connectErr
	}
	return entity.DeviceHandle{ID: "emulator-5554", Type: entity.DeviceAndroid}, nil
}

func (f *fakeDevice) ListDevices(ctx context.Context) ([]string, error) {
	return []string{"emulator-5554"}, nil
}

func (f *fakeDevice) CaptureState(ctx context.Context, handle entity.DeviceHandle) (*entity.StateSnapshot, error) {
	if f.captureStarted != nil {
		f.gateOnce.Do(func() {
			close(f.captureStarted)
			<-f.captureGate
		})
	}
	return &entity.StateSnapshot{ScreenshotB64: "aGk=", Format: "png", Width: 1080, Height: 2400}, nil
}

func (f *fakeDevice) Dispatch(ctx context.Context, handle entity.DeviceHandle, action *entity.Action) error {
	return nil
}

func (f *fakeDevice) IsAlive(handle entity.DeviceHandle) bool {
	return true
}

func (f *fakeDevice) Release(handle entity.DeviceHandle) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.releases++
}

type fakeLLM struct {
	mu      sync.Mutex
	replies []string
	errs    []error
	calls   int
}

func (f *fakeLLM) Chat(ctx context.Context, req output.ChatRequest) (*output.ChatResponse, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	idx := f.calls
	f.calls++
	if idx < len(f.errs) && f.errs[idx] != nil {
		return nil, f.errs[idx]
	}
	reply := f.replies[len(f.replies)-1]
	if idx < len(f.replies) {
		reply = f.replies[idx]
	}
	return &output.ChatResponse{Content: reply}, nil
}

type eventRecorder struct {
	mu     sync.Mutex
	events []entity.ProgressEvent
}

func (r *eventRecorder) Publish(event entity.ProgressEvent) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, event)
}

func (r *eventRecorder) byKind(kind entity.EventKind) []entity.ProgressEvent {
	r.mu.Lock()
	defer r.mu.Unlock()
	var matched []entity.ProgressEvent
	for _, e := range r.events {
		if e.Kind == kind {
			matched = append(matched, e)
		}
	}
	return matched
}

const (
	tapReply    = `{"v":1,"action":"tap","x":500,"y":500,"reason":"keep going"}`
	finishReply = `{"v":1,"action":"finish","message":"all done"}`
)

func runConfig() entity.RunConfig {
	return entity.RunConfig{
		BaseURL:    "https://api.example.com",
		Model:      "m",
		APIKey:     "sk-test",
		DeviceType: entity.DeviceAndroid,
		Task:       "open app X",
		MaxSteps:   10,
	}
}

func newTestController(device *fakeDevice, llm *fakeLLM) *Controller {
	registry := NewBackendRegistry()
	registry.Register(entity.DeviceAndroid, device)
	factory := func(entity.RunConfig) output.LLMPort { return llm }
	return NewController(registry, factory, logger.NewNop(), DefaultControllerConfig())
}

func TestController_StartValidatesConfig(t *testing.T) {
	ctrl := newTestController(&fakeDevice{}, &fakeLLM{replies: []string{finishReply}})

	cfg := runConfig()
	cfg.Task = ""
	_, err := ctrl.Start(cfg, &eventRecorder{})

	var verr *entity.ValidationError
	require.ErrorAs(t, err, &verr)
	assert.Equal(t, "task", verr.Field)
}

func TestController_StartRejectsUnregisteredBackend(t *testing.T) {
	ctrl := newTestController(&fakeDevice{}, &fakeLLM{replies: []string{finishReply}})

	cfg := runConfig()
	cfg.DeviceType = entity.DeviceIOS
	_, err := ctrl.Start(cfg, &eventRecorder{})

	var verr *entity.ValidationError
	require.ErrorAs(t, err, &verr)
	assert.Equal(t, "device_type", verr.Field)
}

func TestController_CompletedRunEmitsOneRunEnded(t *testing.T) {
	device := &fakeDevice{}
	llm := &fakeLLM{replies: []string{finishReply}}
	ctrl := newTestController(device, llm)
	recorder := &eventRecorder{}

	handle, err := ctrl.Start(runConfig(), recorder)
	require.NoError(t, err)
	ctrl.Wait(handle)

	ended := recorder.byKind(entity.EventRunEnded)
	require.Len(t, ended, 1)
	assert.Equal(t, entity.StateCompleted, ended[0].State)
	assert.Equal(t, entity.ReasonDone, ended[0].Reason)
	assert.Equal(t, 1, device.releases)

	state, err := ctrl.Status(handle)
	require.NoError(t, err)
	assert.Equal(t, entity.StateCompleted, state)

	for _, e := range recorder.byKind(entity.EventStepFinished) {
		assert.Equal(t, handle, e.RunID)
	}
}

func TestController_SingleFlight(t *testing.T) {
	device := &fakeDevice{
		captureStarted: make(chan struct{}),
		captureGate:    make(chan struct{}),
	}
	llm := &fakeLLM{replies: []string{finishReply}}
	ctrl := newTestController(device, llm)

	handle, err := ctrl.Start(runConfig(), &eventRecorder{})
	require.NoError(t, err)

	<-device.captureStarted
	_, err = ctrl.Start(runConfig(), &eventRecorder{})
	assert.ErrorIs(t, err, entity.ErrAlreadyRunning)

	close(device.captureGate)
	ctrl.Wait(handle)

	// a terminal run frees the slot
	second, err := ctrl.Start(runConfig(), &eventRecorder{})
	require.NoError(t, err)
	ctrl.Wait(second)
}

func TestController_StopCancelsAtStepBoundary(t *testing.T) {
	device := &fakeDevice{}
	llm := &fakeLLM{replies: []string{tapReply}}
	ctrl := newTestController(device, llm)

	recorder := &eventRecorder{}
	var stopOnce sync.Once
	sink := output.SinkFunc(func(event entity.ProgressEvent) {
		recorder.Publish(event)
		if event.Kind == entity.EventStepFinished {
			stopOnce.Do(func() {
				require.NoError(t, ctrl.Stop(event.RunID))
			})
		}
	})

	handle, err := ctrl.Start(runConfig(), sink)
	require.NoError(t, err)
	ctrl.Wait(handle)

	ended := recorder.byKind(entity.EventRunEnded)
	require.Len(t, ended, 1)
	assert.Equal(t, entity.StateCancelled, ended[0].State)
	assert.Equal(t, entity.ReasonStopped, ended[0].Reason)

	// the in-flight step completed before the stop took effect
	require.NotEmpty(t, recorder.byKind(entity.EventStepFinished))
	assert.Equal(t, 1, device.releases)
}

func TestController_StopDuringConnectCancelsPolishedRun(t *testing.T) {
	device := &fakeDevice{
		connectStarted: make(chan struct{}),
		connectGate:    make(chan struct{}),
	}
	llm := &fakeLLM{replies: []string{finishReply}}
	ctrl := newTestController(device, llm)
	recorder := &eventRecorder{}

	cfg := runConfig()
	cfg.Polish = true
	handle, err := ctrl.Start(cfg, recorder)
	require.NoError(t, err)

	<-device.connectStarted
	require.NoError(t, ctrl.Stop(handle))
	close(device.connectGate)
	ctrl.Wait(handle)

	// the stop arrived before polishing began and must survive it
	ended := recorder.byKind(entity.EventRunEnded)
	require.Len(t, ended, 1)
	assert.Equal(t, entity.StateCancelled, ended[0].State)
	assert.Equal(t, entity.ReasonStopped, ended[0].Reason)
	assert.Empty(t, recorder.byKind(entity.EventStepStarted))
}

func TestController_ConnectFailureRetriesThenFails(t *testing.T) {
	device := &fakeDevice{connectErr: errors.New("device offline")}
	llm := &fakeLLM{replies: []string{finishReply}}
	ctrl := newTestController(device, llm)
	recorder := &eventRecorder{}

	handle, err := ctrl.Start(runConfig(), recorder)
	require.NoError(t, err)
	ctrl.Wait(handle)

	ended := recorder.byKind(entity.EventRunEnded)
	require.Len(t, ended, 1)
	assert.Equal(t, entity.StateFailed, ended[0].State)
	assert.Equal(t, entity.ReasonConnectFailed, ended[0].Reason)
	assert.Equal(t, 2, device.connects, "exactly one retry")
	assert.Equal(t, 0, device.releases, "nothing to release when connect never succeeded")
}

func TestController_StopAndStatusRejectUnknownHandle(t *testing.T) {
	ctrl := newTestController(&fakeDevice{}, &fakeLLM{replies: []string{finishReply}})

	assert.ErrorIs(t, ctrl.Stop(entity.NewRunHandle()), entity.ErrNotRunning)
	_, err := ctrl.Status(entity.NewRunHandle())
	assert.ErrorIs(t, err, entity.ErrNotRunning)
}

func TestController_PolishFailureFallsThroughToRun(t *testing.T) {
	device := &fakeDevice{}
	// first call is the polisher and fails; the loop's decide then finishes
	llm := &fakeLLM{
		replies: []string{"", finishReply},
		errs:    []error{errors.New("upstream 500")},
	}
	ctrl := newTestController(device, llm)
	recorder := &eventRecorder{}

	cfg := runConfig()
	cfg.Polish = true
	handle, err := ctrl.Start(cfg, recorder)
	require.NoError(t, err)
	ctrl.Wait(handle)

	ended := recorder.byKind(entity.EventRunEnded)
	require.Len(t, ended, 1)
	assert.Equal(t, entity.StateCompleted, ended[0].State)

	var sawFallback bool
	for _, e := range recorder.byKind(entity.EventOutputLine) {
		if e.Line == "polishing skipped, using task as written" {
			sawFallback = true
		}
	}
	assert.True(t, sawFallback)
}
