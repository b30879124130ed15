package main

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"device-agent/internal/domain/entity"
	"device-agent/internal/infrastructure/env"
)

// Settings is the on-disk configuration. Everything can also come from flags
// or environment variables; the core never reads this file itself.
type Settings struct {
	BaseURL    string `yaml:"base_url"`
	Model      string `yaml:"model"`
	APIKey     string `yaml:"api_key"`
	DeviceType string `yaml:"device_type"`
	MaxSteps   int    `yaml:"max_steps"`
	Polish     bool   `yaml:"polish"`

	ADB struct {
		Serial  string `yaml:"serial"`
		Connect string `yaml:"connect"`
	} `yaml:"adb"`
	HDC struct {
		Target string `yaml:"target"`
	} `yaml:"hdc"`
	WDA struct {
		URL string `yaml:"url"`
	} `yaml:"wda"`
}

func loadSettings(path string) (*Settings, error) {
	s := &Settings{}
	if path == "" {
		return s, nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read settings: %w", err)
	}
	if err := yaml.Unmarshal(data, s); err != nil {
		return nil, fmt.Errorf("parse settings: %w", err)
	}
	return s, nil
}

// applyEnv fills gaps from the environment so secrets can stay out of files.
func (s *Settings) applyEnv(envs *env.Service) {
	if s.BaseURL == "" {
		s.BaseURL = envs.GetDefault("DEVICE_AGENT_BASE_URL", "https://open.bigmodel.cn/api/paas/v4")
	}
	if s.Model == "" {
		s.Model = envs.GetDefault("DEVICE_AGENT_MODEL", "autoglm-phone")
	}
	if s.APIKey == "" {
		s.APIKey = envs.Get("DEVICE_AGENT_API_KEY")
	}
	if s.DeviceType == "" {
		s.DeviceType = envs.GetDefault("DEVICE_AGENT_DEVICE", string(entity.DeviceAndroid))
	}
	if s.MaxSteps == 0 {
		s.MaxSteps = envs.GetInt("DEVICE_AGENT_MAX_STEPS", 50)
	}
}
