package input

import (
	"device-agent/internal/application/port/output"
	"device-agent/internal/domain/entity"
)

// TaskController owns the lifecycle of task runs. At most one run is active
// per controller instance; Start while a run is in flight returns
// entity.ErrAlreadyRunning.
type TaskController interface {
	// Start validates the configuration and launches the run asynchronously.
	// All further activity is reported through the sink.
	Start(cfg entity.RunConfig, sink output.ProgressSink) (entity.RunHandle, error)

	// Stop requests cooperative cancellation. The run observes it at the next
	// step boundary; an in-flight dispatch is never interrupted.
	Stop(handle entity.RunHandle) error

	// Status reports the run's current state. Terminal states stay queryable
	// until the next run starts.
	Status(handle entity.RunHandle) (entity.RunState, error)
}
