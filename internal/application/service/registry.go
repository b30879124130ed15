package service

import (
	"device-agent/internal/application/port/output"
	"device-agent/internal/domain/entity"
)

// BackendRegistry maps device types to their backend adapters. Registration
// happens once at wiring time; lookups are read-only afterwards.
type BackendRegistry struct {
	backends map[entity.DeviceType]output.DevicePort
}

func NewBackendRegistry() *BackendRegistry {
	return &BackendRegistry{
		backends: make(map[entity.DeviceType]output.DevicePort),
	}
}

func (r *BackendRegistry) Register(deviceType entity.DeviceType, backend output.DevicePort) {
	r.backends[deviceType] = backend
}

func (r *BackendRegistry) Get(deviceType entity.DeviceType) (output.DevicePort, bool) {
	backend, ok := r.backends[deviceType]
	return backend, ok
}

func (r *BackendRegistry) Types() []entity.DeviceType {
	result := make([]entity.DeviceType, 0, len(r.backends))
	for deviceType := range r.backends {
		result = append(result, deviceType)
	}
	return result
}
