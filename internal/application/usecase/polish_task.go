package usecase

import (
	"context"
	"strings"
	"time"

	"device-agent/internal/application/port/output"
	"device-agent/internal/domain/entity"
	"device-agent/internal/infrastructure/prompts"
)

// PolishTaskUseCase rewrites a terse task description into explicit steps
// before the run starts. It is best-effort: any failure falls back to the
// original text, never blocking the run.
type PolishTaskUseCase struct {
	llm         output.LLMPort
	logger      output.LoggerPort
	callTimeout time.Duration
}

func NewPolishTaskUseCase(llm output.LLMPort, logger output.LoggerPort, callTimeout time.Duration) *PolishTaskUseCase {
	if callTimeout <= 0 {
		callTimeout = 30 * time.Second
	}
	return &PolishTaskUseCase{llm: llm, logger: logger, callTimeout: callTimeout}
}

// Polish returns the rewritten task and true, or the original task and false
// on any failure.
func (uc *PolishTaskUseCase) Polish(ctx context.Context, cfg entity.RunConfig) (string, bool) {
	systemPrompt, err := prompts.GeneratePolisherPrompt(cfg.DeviceType)
	if err != nil {
		uc.logger.Warn("Polisher prompt failed, passing task through", "error", err)
		return cfg.Task, false
	}

	callCtx, cancel := context.WithTimeout(ctx, uc.callTimeout)
	defer cancel()

	resp, err := uc.llm.Chat(callCtx, output.ChatRequest{
		Messages: []entity.Message{
			entity.SystemMessage(systemPrompt),
			entity.UserMessage(cfg.Task),
		},
		Temperature: 0.3,
	})
	if err != nil {
		uc.logger.Warn("Polisher call failed, passing task through", "error", err)
		return cfg.Task, false
	}

	polished := strings.TrimSpace(resp.Content)
	if polished == "" {
		uc.logger.Warn("Polisher returned empty text, passing task through")
		return cfg.Task, false
	}

	uc.logger.Info("Task polished", "chars", len(polished))
	return polished, true
}
