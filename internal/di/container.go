package di

import (
	"device-agent/internal/application/port/output"
	"device-agent/internal/application/service"
	"device-agent/internal/domain/entity"
	"device-agent/internal/infrastructure/device/adb"
	"device-agent/internal/infrastructure/device/hdc"
	"device-agent/internal/infrastructure/device/wda"
	"device-agent/internal/infrastructure/llm/openaiclient"
)

type Container struct {
	Backends   *service.BackendRegistry
	Controller *service.Controller
	Logger     output.LoggerPort
}

type Config struct {
	ADB        adb.Config
	HDC        hdc.Config
	WDA        wda.Config
	Controller service.ControllerConfig
}

func DefaultConfig() Config {
	return Config{
		ADB:        adb.DefaultConfig(),
		HDC:        hdc.DefaultConfig(),
		WDA:        wda.DefaultConfig(),
		Controller: service.DefaultControllerConfig(),
	}
}

func NewContainer(cfg Config, logger output.LoggerPort) *Container {
	backends := service.NewBackendRegistry()
	backends.Register(entity.DeviceAndroid, adb.NewAdapter(cfg.ADB, logger))
	backends.Register(entity.DeviceHarmony, hdc.NewAdapter(cfg.HDC, logger))
	backends.Register(entity.DeviceIOS, wda.NewAdapter(cfg.WDA, logger))

	newLLM := func(rc entity.RunConfig) output.LLMPort {
		llmCfg := openaiclient.DefaultConfig(rc.BaseURL, rc.APIKey, rc.Model)
		llmCfg.Logger = logger
		return openaiclient.NewAdapter(llmCfg)
	}

	controller := service.NewController(backends, newLLM, logger, cfg.Controller)

	return &Container{
		Backends:   backends,
		Controller: controller,
		Logger:     logger,
	}
}

func (c *Container) Close() {
	if c.Logger != nil {
		c.Logger.Close()
	}
}
