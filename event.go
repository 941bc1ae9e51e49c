package taskvisor

import (
	"sync"

	"github.com/pkg/errors"
)

// EventLevel ...
type EventLevel string

const (
	LvlFatal EventLevel = "fatal"
	LvlError EventLevel = "error"
	LvlInfo  EventLevel = "info"
)

// Event is a message about the Supervisor's internal life,
// processed by an `EventHandler`.
type Event struct {
	Level   EventLevel
	Worker  string
	Fields  map[string]interface{}
	Message string
}

// EventHandler consumes internal events.
type EventHandler func(Event)

// IsFatal returns `true` if event level is `Fatal`
func (e Event) IsFatal() bool {
	return e.Level == LvlFatal
}

// IsError returns `true` if event level is `Error`
func (e Event) IsError() bool {
	return e.Level == LvlError
}

// ToError validates event level and cast to builtin `error`.
func (e Event) ToError() error {
	if !e.IsError() && !e.IsFatal() {
		return nil
	}
	return errors.New(e.Message)
}

// SetField add to event some Key/Value.
func (e Event) SetField(key string, value interface{}) Event {
	fields := make(map[string]interface{}, len(e.Fields)+1)
	for k, v := range e.Fields {
		fields[k] = v
	}
	fields[key] = value
	e.Fields = fields
	return e
}

// SetWorker sets the worker id as the event source.
func (e Event) SetWorker(id string) Event {
	e.Worker = id
	return e
}

// ErrorEvent returns new Event with `LvlError` and provided message.
func ErrorEvent(msg string) Event {
	return Event{Level: LvlError, Message: msg}
}

// InfoEvent returns new Event with `LvlInfo` and provided message.
func InfoEvent(msg string) Event {
	return Event{Level: LvlInfo, Message: msg}
}

// WorkerEventKind tags a WorkerEvent.
type WorkerEventKind string

const (
	EventReady   WorkerEventKind = "ready"
	EventUpdate  WorkerEventKind = "update"
	EventPaused  WorkerEventKind = "paused"
	EventResumed WorkerEventKind = "resumed"
	EventStopped WorkerEventKind = "stopped"
	EventEnded   WorkerEventKind = "ended"
	EventErrored WorkerEventKind = "errored"
)

// WorkerEvent is one lifecycle notification of a worker.
type WorkerEvent struct {
	Kind     WorkerEventKind `json:"kind"`
	WorkerID string          `json:"worker_id"`
	Payload  interface{}     `json:"payload,omitempty"`
}

// subscriberBufferSize is the channel buffer of each event subscriber.
// Events are dropped once a subscriber is this far behind.
const subscriberBufferSize = 64

// eventStream fans worker events out to subscribers.
type eventStream struct {
	mu     sync.Mutex
	subs   map[int]chan WorkerEvent
	nextID int
	closed bool
}

func newEventStream() *eventStream {
	return &eventStream{subs: map[int]chan WorkerEvent{}}
}

// subscribe returns a channel of events and an unsubscribe function.
// A closed stream yields a closed channel.
func (s *eventStream) subscribe() (<-chan WorkerEvent, func()) {
	s.mu.Lock()
	defer s.mu.Unlock()

	ch := make(chan WorkerEvent, subscriberBufferSize)
	if s.closed {
		close(ch)
		return ch, func() {}
	}

	id := s.nextID
	s.nextID++
	s.subs[id] = ch

	return ch, func() {
		s.mu.Lock()
		defer s.mu.Unlock()
		if sub, ok := s.subs[id]; ok {
			delete(s.subs, id)
			close(sub)
		}
	}
}

func (s *eventStream) publish(event WorkerEvent) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return
	}
	for _, ch := range s.subs {
		select {
		case ch <- event:
		default:
		}
	}
}

func (s *eventStream) close() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return
	}
	s.closed = true
	for id, ch := range s.subs {
		close(ch)
		delete(s.subs, id)
	}
}
