// Package task is the in-context runtime: it resolves the task of a worker,
// wires it to the message channel and drives one of the three execution
// modes (interval, timeout, normal).
package task

import (
	"time"

	"github.com/pkg/errors"
)

var (
	// ErrWrongProcess means InitTask was called outside a context endpoint.
	ErrWrongProcess    = errors.New("task runtime must run inside a worker context")
	// ErrMissingWorkerID means the bootstrap locator carries no workerId.
	ErrMissingWorkerID = errors.New("bootstrap query has no worker id")
	// ErrWorkerNotFound means the registry holds no worker under that id.
	ErrWorkerNotFound  = errors.New("worker not found in registry")
	// ErrNotConstructor means the task file has no registered factory.
	ErrNotConstructor  = errors.New("task file does not resolve to a task constructor")
)

// Reporter is handed to Task.Run. Every method is a no-op once the
// context has been destroyed.
type Reporter interface {
	// Update relays progress to the control process.
	Update(payload interface{})
	// End relays the final payload; the worker stops afterwards.
	End(payload interface{})
	// Error relays a task error. With alsoEnd an End without payload follows.
	Error(payload interface{}, alsoEnd bool)
	// Next schedules one more Run after the timeout delay. Only meaningful
	// for timeout tasks; only the first call of a round counts.
	Next()
}

// Task is user supplied logic.
type Task interface {
	Run(params interface{}, r Reporter)
}

// Factory builds the task instance for a worker.
type Factory func(workerID string) Task

// IntervalTask runs on a fixed period while the delay is positive.
type IntervalTask interface {
	IntervalDelay() time.Duration
}

// TimeoutTask re-runs after the delay each time it calls Reporter.Next.
type TimeoutTask interface {
	TimeoutDelay() time.Duration
}

// MessageHandler receives payloads passed through Worker.Send.
type MessageHandler interface {
	OnMessage(channel string, payload interface{})
}

// Closer controls its own teardown; the context closes once done is called.
type Closer interface {
	Close(done func())
}

// Mode is the execution mode a task runs in.
type Mode string

const (
	ModeNormal   Mode = "normal"
	ModeInterval Mode = "interval"
	ModeTimeout  Mode = "timeout"
)

// ModeOf picks the execution mode of t. Interval wins over timeout.
func ModeOf(t Task) (Mode, time.Duration) {
	if it, ok := t.(IntervalTask); ok {
		if d := it.IntervalDelay(); d > 0 {
			return ModeInterval, d
		}
	}
	if tt, ok := t.(TimeoutTask); ok {
		if d := tt.TimeoutDelay(); d > 0 {
			return ModeTimeout, d
		}
	}
	return ModeNormal, 0
}

// Host is the control side worker as seen by the runtime.
type Host interface {
	ID() string
	TaskFile() string
	// Bind records the task instance so the worker can inspect its hints.
	Bind(t Task)
	// StartInterval makes the worker call tick every delay until paused or
	// stopped. It returns false when the worker cannot run an interval.
	StartInterval(delay time.Duration, tick func()) bool
}
