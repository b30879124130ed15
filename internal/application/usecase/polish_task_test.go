package usecase

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"

	"device-agent/internal/domain/entity"
	"device-agent/internal/infrastructure/logger"
)

func TestPolishTask_ReturnsRewrittenText(t *testing.T) {
	llm := &fakeLLM{replies: []string{"1. Open the settings app\n2. Tap Wi-Fi"}}
	uc := NewPolishTaskUseCase(llm, logger.NewNop(), 0)

	polished, ok := uc.Polish(context.Background(), loopConfig(5))

	assert.True(t, ok)
	assert.Equal(t, "1. Open the settings app\n2. Tap Wi-Fi", polished)
	assert.Equal(t, 1, llm.calls)
}

func TestPolishTask_FallsBackOnError(t *testing.T) {
	llm := &fakeLLM{replies: []string{""}, errs: []error{errors.New("upstream 500")}}
	uc := NewPolishTaskUseCase(llm, logger.NewNop(), 0)

	cfg := loopConfig(5)
	polished, ok := uc.Polish(context.Background(), cfg)

	assert.False(t, ok)
	assert.Equal(t, cfg.Task, polished)
}

func TestPolishTask_FallsBackOnEmptyReply(t *testing.T) {
	llm := &fakeLLM{replies: []string{"   \n"}}
	uc := NewPolishTaskUseCase(llm, logger.NewNop(), 0)

	cfg := loopConfig(5)
	polished, ok := uc.Polish(context.Background(), cfg)

	assert.False(t, ok)
	assert.Equal(t, cfg.Task, polished)
}

func TestPolishTask_TrimsWhitespace(t *testing.T) {
	llm := &fakeLLM{replies: []string{"  do the thing  \n"}}
	uc := NewPolishTaskUseCase(llm, logger.NewNop(), 0)

	polished, ok := uc.Polish(context.Background(), entity.RunConfig{
		DeviceType: entity.DeviceHarmony,
		Task:       "do the thing",
		MaxSteps:   5,
	})

	assert.True(t, ok)
	assert.Equal(t, "do the thing", polished)
}
