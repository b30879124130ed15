package entity

import (
	"fmt"
	"net/url"
	"strings"
)

type DeviceType string

const (
	DeviceAndroid DeviceType = "android"
	DeviceHarmony DeviceType = "harmony"
	DeviceIOS     DeviceType = "ios"
)

func (d DeviceType) Valid() bool {
	switch d {
	case DeviceAndroid, DeviceHarmony, DeviceIOS:
		return true
	}
	return false
}

// MaxStepCeiling bounds the worst-case length of a run regardless of what the
// caller asks for.
const MaxStepCeiling = 10000

// RunConfig is the immutable snapshot of everything one run needs. It is passed
// by value into the run goroutine and never mutated afterwards.
type RunConfig struct {
	BaseURL      string
	Model        string
	APIKey       string
	DeviceType   DeviceType
	DeviceSerial string
	Task         string
	MaxSteps     int
	Polish       bool
}

type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid %s: %s", e.Field, e.Reason)
}

// Validate checks the configuration without side effects.
func (c RunConfig) Validate() error {
	if strings.TrimSpace(c.Task) == "" {
		return &ValidationError{Field: "task", Reason: "must not be empty"}
	}
	if c.MaxSteps <= 0 {
		return &ValidationError{Field: "max_steps", Reason: "must be positive"}
	}
	if c.MaxSteps > MaxStepCeiling {
		return &ValidationError{Field: "max_steps", Reason: fmt.Sprintf("must not exceed %d", MaxStepCeiling)}
	}
	u, err := url.Parse(c.BaseURL)
	if err != nil || u.Host == "" || (u.Scheme != "http" && u.Scheme != "https") {
		return &ValidationError{Field: "base_url", Reason: "must be a valid http(s) URL"}
	}
	if strings.TrimSpace(c.APIKey) == "" {
		return &ValidationError{Field: "api_key", Reason: "must not be empty"}
	}
	if c.Model == "" {
		return &ValidationError{Field: "model", Reason: "must not be empty"}
	}
	if !c.DeviceType.Valid() {
		return &ValidationError{Field: "device_type", Reason: fmt.Sprintf("unknown device type %q", string(c.DeviceType))}
	}
	return nil
}

// RedactedKey is what goes into logs instead of the API key.
func (c RunConfig) RedactedKey() string {
	if len(c.APIKey) <= 8 {
		return "****"
	}
	return c.APIKey[:4] + "****" + c.APIKey[len(c.APIKey)-4:]
}
