package service

import (
	"context"
	"sync"
	"time"

	"device-agent/internal/application/port/input"
	"device-agent/internal/application/port/output"
	"device-agent/internal/application/usecase"
	"device-agent/internal/domain/entity"
)

var _ input.TaskController = (*Controller)(nil)

// connectRetries is how many extra attempts a failing backend connect gets
// before the run is declared dead.
const connectRetries = 1

// LLMFactory builds an LLM client for one run's credentials. Credentials live
// in the RunConfig, so the client cannot be shared across runs.
type LLMFactory func(cfg entity.RunConfig) output.LLMPort

// Controller owns run lifecycles. It enforces single-flight: at most one
// non-terminal run exists at a time, and a Start during that window is
// rejected rather than queued.
type Controller struct {
	backends       *BackendRegistry
	newLLM         LLMFactory
	logger         output.LoggerPort
	loopCfg        usecase.RunTaskConfig
	connectTimeout time.Duration

	mu     sync.Mutex
	active *activeRun
}

type activeRun struct {
	handle entity.RunHandle
	state  entity.RunState
	done   chan struct{}
}

type ControllerConfig struct {
	Loop           usecase.RunTaskConfig
	ConnectTimeout time.Duration
}

func DefaultControllerConfig() ControllerConfig {
	return ControllerConfig{
		Loop:           usecase.DefaultRunTaskConfig(),
		ConnectTimeout: 15 * time.Second,
	}
}

func NewController(backends *BackendRegistry, newLLM LLMFactory, logger output.LoggerPort, cfg ControllerConfig) *Controller {
	if cfg.ConnectTimeout <= 0 {
		cfg.ConnectTimeout = 15 * time.Second
	}
	return &Controller{
		backends:       backends,
		newLLM:         newLLM,
		logger:         logger,
		loopCfg:        cfg.Loop,
		connectTimeout: cfg.ConnectTimeout,
	}
}

func (c *Controller) Start(cfg entity.RunConfig, sink output.ProgressSink) (entity.RunHandle, error) {
	if err := cfg.Validate(); err != nil {
		return "", err
	}
	if _, ok := c.backends.Get(cfg.DeviceType); !ok {
		return "", &entity.ValidationError{Field: "device_type", Reason: "no backend registered"}
	}

	c.mu.Lock()
	if c.active != nil && !c.active.state.Terminal() {
		c.mu.Unlock()
		return "", entity.ErrAlreadyRunning
	}
	run := &activeRun{
		handle: entity.NewRunHandle(),
		state:  entity.StateIdle,
		done:   make(chan struct{}),
	}
	c.active = run
	c.mu.Unlock()

	c.logger.Info("Run accepted",
		"run", run.handle,
		"device", cfg.DeviceType,
		"model", cfg.Model,
		"apiKey", cfg.RedactedKey(),
		"maxSteps", cfg.MaxSteps)

	go c.execute(run, cfg, sink)
	return run.handle, nil
}

func (c *Controller) Stop(handle entity.RunHandle) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.active == nil || c.active.handle != handle || c.active.state.Terminal() {
		return entity.ErrNotRunning
	}
	c.active.state = entity.StateStopping
	c.logger.Info("Stop requested", "run", handle)
	return nil
}

func (c *Controller) Status(handle entity.RunHandle) (entity.RunState, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.active == nil || c.active.handle != handle {
		return entity.StateIdle, entity.ErrNotRunning
	}
	return c.active.state, nil
}

// Wait blocks until the run's goroutine has fully finished, including its
// terminal event. Mainly for callers that want to exit cleanly.
func (c *Controller) Wait(handle entity.RunHandle) {
	c.mu.Lock()
	if c.active == nil || c.active.handle != handle {
		c.mu.Unlock()
		return
	}
	done := c.active.done
	c.mu.Unlock()
	<-done
}

// execute is the run goroutine. It emits exactly one EventRunEnded and
// releases the device handle exactly once, on every path.
func (c *Controller) execute(run *activeRun, cfg entity.RunConfig, sink output.ProgressSink) {
	defer close(run.done)
	ctx := context.Background()

	emit := func(event entity.ProgressEvent) {
		event.RunID = run.handle
		sink.Publish(event)
	}
	finish := func(state entity.RunState, reason entity.RunReason, msg string) {
		c.setState(run, state)
		c.logger.Info("Run ended", "run", run.handle, "state", state, "reason", reason)
		emit(entity.ProgressEvent{Kind: entity.EventRunEnded, State: state, Reason: reason, Line: msg})
	}

	device, ok := c.backends.Get(cfg.DeviceType)
	if !ok {
		finish(entity.StateFailed, entity.ReasonConnectFailed, "no backend for "+string(cfg.DeviceType))
		return
	}

	handle, err := c.connect(ctx, device)
	if err != nil {
		finish(entity.StateFailed, entity.ReasonConnectFailed, err.Error())
		return
	}
	defer device.Release(handle)

	emit(entity.ProgressEvent{Kind: entity.EventOutputLine, Line: "connected to device " + handle.ID})

	llm := c.newLLM(cfg)
	task := cfg.Task

	if cfg.Polish {
		c.markPolishing(run)
		emit(entity.ProgressEvent{Kind: entity.EventOutputLine, Line: "polishing task description"})

		polisher := usecase.NewPolishTaskUseCase(llm, c.logger, c.loopCfg.CallTimeout)
		polished, changed := polisher.Polish(ctx, cfg)
		task = polished
		if changed {
			emit(entity.ProgressEvent{Kind: entity.EventOutputLine, Line: "task polished:\n" + polished})
		} else {
			emit(entity.ProgressEvent{Kind: entity.EventOutputLine, Line: "polishing skipped, using task as written"})
		}
	}

	// A stop issued during polishing stays set; the loop observes it at its
	// first step boundary.
	c.markRunning(run)

	loop := usecase.NewRunTaskUseCase(device, llm, c.logger, c.loopCfg)
	out := loop.Execute(ctx, cfg, task, handle, func() bool {
		return c.stateOf(run) == entity.StateStopping
	}, emit)

	finish(out.State, out.Reason, out.Message)
}

func (c *Controller) connect(ctx context.Context, device output.DevicePort) (entity.DeviceHandle, error) {
	var lastErr error
	for attempt := 0; attempt <= connectRetries; attempt++ {
		callCtx, cancel := context.WithTimeout(ctx, c.connectTimeout)
		handle, err := device.Connect(callCtx)
		cancel()
		if err == nil {
			return handle, nil
		}
		lastErr = err
	}
	return entity.DeviceHandle{}, lastErr
}

func (c *Controller) setState(run *activeRun, state entity.RunState) {
	c.mu.Lock()
	defer c.mu.Unlock()
	run.state = state
}

// markPolishing transitions to POLISHING unless a stop already arrived.
func (c *Controller) markPolishing(run *activeRun) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if run.state != entity.StateStopping {
		run.state = entity.StatePolishing
	}
}

// markRunning transitions to RUNNING unless a stop already arrived.
func (c *Controller) markRunning(run *activeRun) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if run.state != entity.StateStopping {
		run.state = entity.StateRunning
	}
}

func (c *Controller) stateOf(run *activeRun) entity.RunState {
	c.mu.Lock()
	defer c.mu.Unlock()
	return run.state
}
