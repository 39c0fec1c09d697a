package agent

import (
	"context"
	"time"
)

// Event is published on the loop's event channel.
type Event interface {
	isEvent()
}

type IterationStartEvent struct {
	Iteration int
}

type IterationCompleteEvent struct {
	Iteration int
	ToolCalls int
}

type ToolsExecutingEvent struct {
	Iteration int
	Calls     []ToolCall
}

type ToolsCompleteEvent struct {
	Iteration int
	Results   []ToolExecutionResult
}

type FinalMessageEvent struct {
	Message Message
}

type ErrorEvent struct {
	Err error
}

type CompleteEvent struct {
	Status     Status
	Iterations int
	Exhausted  bool
}

// RetryEvent is published before each backoff wait.
type RetryEvent struct {
	Attempt     int
	MaxAttempts int
	Delay       time.Duration
	Err         error
}

func (IterationStartEvent) isEvent()    {}
func (IterationCompleteEvent) isEvent() {}
func (ToolsExecutingEvent) isEvent()    {}
func (ToolsCompleteEvent) isEvent()     {}
func (FinalMessageEvent) isEvent()      {}
func (ErrorEvent) isEvent()             {}
func (CompleteEvent) isEvent()          {}
func (RetryEvent) isEvent()             {}

// publish sends ev unless events is nil. It gives up when ctx is done.
func publish(ctx context.Context, events chan<- Event, ev Event) {
	if events == nil {
		return
	}
	select {
	case events <- ev:
	case <-ctx.Done():
	}
}
