package entity

import (
	"errors"
	"time"

	"github.com/google/uuid"
)

// RunState is the coarse lifecycle state of one run. The controller is the
// sole mutator.
type RunState string

const (
	StateIdle      RunState = "idle"
	StatePolishing RunState = "polishing"
	StateRunning   RunState = "running"
	StateStopping  RunState = "stopping"
	StateCompleted RunState = "completed"
	StateFailed    RunState = "failed"
	StateCancelled RunState = "cancelled"
)

func (s RunState) Terminal() bool {
	switch s {
	case StateCompleted, StateFailed, StateCancelled:
		return true
	}
	return false
}

// RunReason explains a terminal state.
type RunReason string

const (
	ReasonDone              RunReason = "done"
	ReasonConnectFailed     RunReason = "connect_failed"
	ReasonDeviceUnreachable RunReason = "device_unreachable"
	ReasonDecisionParse     RunReason = "decision_parse_error"
	ReasonStepBudget        RunReason = "step_budget_exceeded"
	ReasonTaskImpossible    RunReason = "task_impossible"
	ReasonStopped           RunReason = "stopped"
)

var (
	ErrAlreadyRunning = errors.New("a run is already in flight")
	ErrNotRunning     = errors.New("no such active run")
)

// RunHandle identifies one run for Stop/Status calls.
type RunHandle string

func NewRunHandle() RunHandle {
	return RunHandle(uuid.NewString())
}

// DeviceHandle is an opaque reference to one backend session, exclusively
// owned by the active run.
type DeviceHandle struct {
	ID   string
	Type DeviceType
}

// StepRecord is the append-only account of one OBSERVE→DECIDE→ACT cycle.
type StepRecord struct {
	Index      int
	Snapshot   *StateSnapshot
	Action     *Action
	Dispatched bool
	Err        string
	Timestamp  time.Time
}
