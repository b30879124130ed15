package output

import "device-agent/internal/domain/entity"

// ProgressSink receives run progress in strict step order. Publish is called
// from the run goroutine only, so implementations need no ordering logic of
// their own; a slow sink slows the run rather than reordering it.
type ProgressSink interface {
	Publish(event entity.ProgressEvent)
}

// SinkFunc adapts a plain function to a ProgressSink.
type SinkFunc func(event entity.ProgressEvent)

func (f SinkFunc) Publish(event entity.ProgressEvent) {
	f(event)
}
