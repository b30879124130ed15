package output

import (
	"context"

	"device-agent/internal/domain/entity"
)

// DevicePort is the uniform capability surface over one device ecosystem.
// The core never reaches past this boundary into tool-specific commands.
type DevicePort interface {
	// Connect establishes (or revalidates) the backend session. Calling it on
	// an already-connected backend is a no-op returning the same handle.
	Connect(ctx context.Context) (entity.DeviceHandle, error)

	// ListDevices enumerates reachable device identifiers. Bounded by an
	// internal timeout; may return an empty list.
	ListDevices(ctx context.Context) ([]string, error)

	// CaptureState takes one observation of the device screen.
	CaptureState(ctx context.Context, handle entity.DeviceHandle) (*entity.StateSnapshot, error)

	// Dispatch performs exactly one input action. It never coalesces several
	// actions into one call.
	Dispatch(ctx context.Context, handle entity.DeviceHandle, action *entity.Action) error

	// IsAlive is a non-blocking probe for the session.
	IsAlive(handle entity.DeviceHandle) bool

	// Release ends the session. Safe to call once per handle.
	Release(handle entity.DeviceHandle)
}
