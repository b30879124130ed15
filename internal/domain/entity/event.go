package entity

// EventKind identifies the type of progress event.
type EventKind int

const (
	// EventOutputLine carries a human-readable progress line.
	EventOutputLine EventKind = iota
	// EventStepStarted signals the start of one step.
	EventStepStarted
	// EventStepFinished carries the finished step's record.
	EventStepFinished
	// EventRunEnded is the single terminal event of a run.
	EventRunEnded
)

// ProgressEvent is pushed to the consumer in strict step order. Exactly one
// EventRunEnded is emitted per run.
type ProgressEvent struct {
	Kind   EventKind
	RunID  RunHandle
	Step   int
	Line   string
	Record *StepRecord
	State  RunState
	Reason RunReason
}
