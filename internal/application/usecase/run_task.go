package usecase

import (
	"context"
	"fmt"
	"time"

	"device-agent/internal/application/port/output"
	"device-agent/internal/domain/entity"
	"device-agent/internal/infrastructure/prompts"
)

// One retry for each recoverable call; exhausting it surfaces the failure.
const (
	captureRetries  = 1
	decideRetries   = 1
	dispatchRetries = 1
)

// RunTaskUseCase drives the per-step loop: observe the screen, ask the model
// for the next action, dispatch it, repeat until a terminal condition.
type RunTaskUseCase struct {
	device       output.DevicePort
	llm          output.LLMPort
	logger       output.LoggerPort
	systemPrompt string
	callTimeout  time.Duration
}

type RunTaskConfig struct {
	SystemPrompt string
	// CallTimeout bounds each observe/decide network call so one stuck step
	// cannot hang the run.
	CallTimeout time.Duration
}

func DefaultRunTaskConfig() RunTaskConfig {
	return RunTaskConfig{
		SystemPrompt: prompts.DefaultSystemPrompt,
		CallTimeout:  30 * time.Second,
	}
}

func NewRunTaskUseCase(
	device output.DevicePort,
	llm output.LLMPort,
	logger output.LoggerPort,
	cfg RunTaskConfig,
) *RunTaskUseCase {
	if cfg.SystemPrompt == "" {
		cfg.SystemPrompt = prompts.DefaultSystemPrompt
	}
	if cfg.CallTimeout <= 0 {
		cfg.CallTimeout = 30 * time.Second
	}
	return &RunTaskUseCase{
		device:       device,
		llm:          llm,
		logger:       logger,
		systemPrompt: cfg.SystemPrompt,
		callTimeout:  cfg.CallTimeout,
	}
}

// Outcome is the loop's terminal result.
type Outcome struct {
	State   entity.RunState
	Reason  entity.RunReason
	Message string
	Records []entity.StepRecord
}

// Execute runs the loop until completion, failure, budget exhaustion or a
// stop request. The stop flag is only read at step boundaries, so an
// in-flight dispatch always finishes. Events are emitted synchronously, which
// keeps them in strict step order.
func (uc *RunTaskUseCase) Execute(
	ctx context.Context,
	runCfg entity.RunConfig,
	task string,
	handle entity.DeviceHandle,
	stopping func() bool,
	emit func(entity.ProgressEvent),
) *Outcome {
	records := []entity.StepRecord{}

	outcome := func(state entity.RunState, reason entity.RunReason, msg string) *Outcome {
		return &Outcome{State: state, Reason: reason, Message: msg, Records: records}
	}

	for index := 0; ; index++ {
		if stopping() {
			uc.logger.Info("Stop observed at step boundary", "step", index)
			return outcome(entity.StateCancelled, entity.ReasonStopped, "stopped by request")
		}
		if !uc.device.IsAlive(handle) {
			return outcome(entity.StateFailed, entity.ReasonDeviceUnreachable, "device is gone")
		}

		emit(entity.ProgressEvent{Kind: entity.EventStepStarted, Step: index})

		snapshot, err := uc.observe(ctx, handle)
		if err != nil {
			uc.logger.Error("Observe failed", "step", index, "error", err)
			return outcome(entity.StateFailed, entity.ReasonDeviceUnreachable, err.Error())
		}

		action, err := uc.decide(ctx, runCfg, task, snapshot, records, index)
		if err != nil {
			uc.logger.Error("Decide failed", "step", index, "error", err)
			return outcome(entity.StateFailed, entity.ReasonDecisionParse, err.Error())
		}

		emit(entity.ProgressEvent{
			Kind: entity.EventOutputLine,
			Step: index,
			Line: fmt.Sprintf("step %d: %s %s", index, action.Name, action.Reason),
		})

		record := entity.StepRecord{
			Index:     index,
			Snapshot:  snapshot,
			Action:    action,
			Timestamp: time.Now(),
		}

		// Terminal actions end the run without touching the device, so the
		// record keeps Dispatched false.
		if action.Terminal() {
			records = append(records, record)
			emit(entity.ProgressEvent{Kind: entity.EventStepFinished, Step: index, Record: &record})

			if action.Name == entity.ActionFinish {
				return outcome(entity.StateCompleted, entity.ReasonDone, action.Message)
			}
			return outcome(entity.StateFailed, entity.ReasonTaskImpossible, action.Message)
		}

		if err := uc.act(ctx, handle, action); err != nil {
			// Degraded but not fatal: record the failure and keep going. The
			// step budget still advances, so a device that rejects every
			// action cannot loop forever.
			uc.logger.Warn("Dispatch failed", "step", index, "action", action.Name, "error", err)
			record.Err = err.Error()
			emit(entity.ProgressEvent{
				Kind: entity.EventOutputLine,
				Step: index,
				Line: fmt.Sprintf("step %d: dispatch failed: %v", index, err),
			})
		} else {
			record.Dispatched = true
		}

		records = append(records, record)
		emit(entity.ProgressEvent{Kind: entity.EventStepFinished, Step: index, Record: &record})

		if len(records) == runCfg.MaxSteps {
			return outcome(entity.StateFailed, entity.ReasonStepBudget,
				fmt.Sprintf("step budget of %d exhausted", runCfg.MaxSteps))
		}
	}
}

func (uc *RunTaskUseCase) observe(ctx context.Context, handle entity.DeviceHandle) (*entity.StateSnapshot, error) {
	var lastErr error
	for attempt := 0; attempt <= captureRetries; attempt++ {
		callCtx, cancel := context.WithTimeout(ctx, uc.callTimeout)
		snapshot, err := uc.device.CaptureState(callCtx, handle)
		cancel()
		if err == nil {
			return snapshot, nil
		}
		lastErr = err
	}
	return nil, fmt.Errorf("capture state: %w", lastErr)
}

func (uc *RunTaskUseCase) decide(
	ctx context.Context,
	runCfg entity.RunConfig,
	task string,
	snapshot *entity.StateSnapshot,
	records []entity.StepRecord,
	index int,
) (*entity.Action, error) {
	prompt, err := prompts.GenerateStepPrompt(prompts.StepPromptData{
		Task:          task,
		Step:          index + 1,
		MaxSteps:      runCfg.MaxSteps,
		ForegroundApp: snapshot.ForegroundApp,
		History:       prompts.HistoryFromRecords(records),
	})
	if err != nil {
		return nil, fmt.Errorf("render step prompt: %w", err)
	}

	messages := []entity.Message{
		entity.SystemMessage(uc.systemPrompt),
		entity.UserImageMessage(prompt, snapshot.ScreenshotB64),
	}

	var lastErr error
	for attempt := 0; attempt <= decideRetries; attempt++ {
		callCtx, cancel := context.WithTimeout(ctx, uc.callTimeout)
		resp, err := uc.llm.Chat(callCtx, output.ChatRequest{Messages: messages, Temperature: 0})
		cancel()
		if err != nil {
			lastErr = err
			continue
		}

		action, err := entity.ParseAction(resp.Content)
		if err != nil {
			lastErr = err
			continue
		}
		if !action.SupportedBy(runCfg.DeviceType) {
			// Fail fast instead of substituting a different action.
			lastErr = fmt.Errorf("action %s not supported on %s", action.Name, runCfg.DeviceType)
			continue
		}
		return action, nil
	}
	return nil, fmt.Errorf("decide next action: %w", lastErr)
}

func (uc *RunTaskUseCase) act(ctx context.Context, handle entity.DeviceHandle, action *entity.Action) error {
	var lastErr error
	for attempt := 0; attempt <= dispatchRetries; attempt++ {
		if err := uc.device.Dispatch(ctx, handle, action); err != nil {
			lastErr = err
			continue
		}
		return nil
	}
	return lastErr
}
