package taskvisor

import (
	"encoding/json"
	"sync"
	"time"

	"github.com/lancer-kit/sam"
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"

	"github.com/lancer-kit/taskvisor/imq"
	"github.com/lancer-kit/taskvisor/registry"
	"github.com/lancer-kit/taskvisor/sm"
	"github.com/lancer-kit/taskvisor/task"
	"github.com/lancer-kit/taskvisor/xctx"
)

const (
	WStateCreated sm.State = "Created"
	WStateReady   sm.State = "Ready"
	WStateIdle    sm.State = "Idle"
	WStateRunning sm.State = "Running"
	WStatePaused  sm.State = "Paused"
	WStateEnded   sm.State = "Ended"
	WStateErrored sm.State = "Errored"
	WStateStopped sm.State = "Stopped"

	// WStateNotExists is reported for an unknown worker id.
	WStateNotExists sm.State = "NotExists"
)

// ErrWorkerStopped is returned for operations on a stopped worker.
var ErrWorkerStopped = errors.New("worker is stopped")

// newWorkerSM returns filled state machine of worker lifecycle
//
// (*) -> [Created] -> [Ready] -> [Idle] -> [Running] <-> [Paused]
//            |          |          |         |   |          |
//            |          |          |         |   ↓          |
//            |          |          |         | [Ended]      |
//            ↓          ↓          ↓         ↓   ↓          ↓
//           [Errored] -> Running|Paused|Ended     [Stopped] (terminal)
func newWorkerSM() *sm.StateMachine {
	s := sm.NewStateMachine()
	_ = s.AddTransitions(WStateCreated, WStateReady, WStateErrored, WStateStopped)
	_ = s.AddTransitions(WStateReady, WStateIdle, WStateRunning, WStateErrored, WStateStopped)
	_ = s.AddTransitions(WStateIdle, WStateRunning, WStateErrored, WStateStopped)
	_ = s.AddTransitions(WStateRunning, WStatePaused, WStateEnded, WStateErrored, WStateStopped)
	_ = s.AddTransitions(WStatePaused, WStateRunning, WStateEnded, WStateErrored, WStateStopped)
	_ = s.AddTransitions(WStateErrored, WStateRunning, WStatePaused, WStateEnded, WStateStopped)
	_ = s.AddTransitions(WStateEnded, WStateStopped)
	s.SetState(WStateCreated)
	return s
}

// Worker is the control side of one task execution. It owns the execution
// context and the interval timer of an interval task.
type Worker struct {
	id       string
	taskFile string
	debug    bool
	created  time.Time

	store   *registry.Store
	logger  *logrus.Entry
	metrics *Metrics
	events  *eventStream

	mu       sync.Mutex
	state    *sm.StateMachine
	handle   *xctx.Handle
	params   interface{}
	instance task.Task
	interval *interval
	delay    time.Duration
	tick     func()

	onReady  func()
	onUpdate func(payload interface{})
	onPause  func()
	onResume func()
	onStop   func()
	onEnd    func(payload interface{})
	onError  func(payload interface{})
}

func newWorker(id, taskFile string, debug bool, store *registry.Store, logger *logrus.Entry, metrics *Metrics) *Worker {
	w := &Worker{
		id:       id,
		taskFile: taskFile,
		debug:    debug,
		created:  time.Now(),
		store:    store,
		metrics:  metrics,
		events:   newEventStream(),
		state:    newWorkerSM(),
		logger: logger.WithFields(logrus.Fields{
			"worker_id": id,
			"task_file": taskFile,
		}),
	}
	w.state.AfterTransition(func(from, to sm.State) {
		w.logger.WithFields(logrus.Fields{"from": from, "to": to}).Debug("worker state changed")
	})
	w.state.OnEnter(WStateErrored, func(from, _ sm.State) {
		w.logger.WithField("from", from).Warn("worker errored")
	})
	return w
}

func (w *Worker) ID() string       { return w.id }
func (w *Worker) TaskFile() string { return w.taskFile }
func (w *Worker) Debug() bool      { return w.debug }

// State returns the current lifecycle state.
func (w *Worker) State() sam.State {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.state.State()
}

// Params returns the parameters of the last Execute.
func (w *Worker) Params() interface{} {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.params
}

// Context returns the execution context handle.
func (w *Worker) Context() *xctx.Handle {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.handle
}

// IsStopped reports whether Stop already ran.
func (w *Worker) IsStopped() bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.terminated()
}

// Subscribe streams the worker's lifecycle events. The channel is closed
// after the worker stops or when unsubscribe is called.
func (w *Worker) Subscribe() (<-chan WorkerEvent, func()) {
	return w.events.subscribe()
}

// OnReady sets the callback fired once the context finished bootstrapping.
// Each On* setter replaces the previous callback.
func (w *Worker) OnReady(fn func()) { w.mu.Lock(); w.onReady = fn; w.mu.Unlock() }

// OnUpdate sets the callback receiving task progress.
func (w *Worker) OnUpdate(fn func(payload interface{})) { w.mu.Lock(); w.onUpdate = fn; w.mu.Unlock() }

// OnPause sets the callback fired by a successful Pause.
func (w *Worker) OnPause(fn func()) { w.mu.Lock(); w.onPause = fn; w.mu.Unlock() }

// OnResume sets the callback fired by a successful Resume.
func (w *Worker) OnResume(fn func()) { w.mu.Lock(); w.onResume = fn; w.mu.Unlock() }

// OnStop sets the callback fired by the first Stop.
func (w *Worker) OnStop(fn func()) { w.mu.Lock(); w.onStop = fn; w.mu.Unlock() }

// OnEnd sets the callback receiving the final payload of the task.
func (w *Worker) OnEnd(fn func(payload interface{})) { w.mu.Lock(); w.onEnd = fn; w.mu.Unlock() }

// OnError sets the callback receiving task errors.
func (w *Worker) OnError(fn func(payload interface{})) { w.mu.Lock(); w.onError = fn; w.mu.Unlock() }

// Send passes payload to the task's OnMessage under channel.
func (w *Worker) Send(channel string, payload interface{}) {
	if h := w.Context(); h != nil {
		h.Send(imq.ChanMessage, imq.Envelope{Channel: channel, Payload: payload})
	}
}

// Execute hands params to the task and starts it.
func (w *Worker) Execute(params interface{}) error {
	w.mu.Lock()
	if w.terminated() {
		w.mu.Unlock()
		return ErrWorkerStopped
	}
	w.params = params
	w.transition(WStateRunning)
	h := w.handle
	w.mu.Unlock()

	if h != nil {
		h.Send(imq.ChanExecute, params)
	}
	return nil
}

// Pause cancels the active interval. It returns false when the context is
// gone or no interval is running.
func (w *Worker) Pause() bool {
	w.mu.Lock()
	if w.destroyed() || w.interval == nil {
		w.mu.Unlock()
		return false
	}
	w.interval.cancel()
	w.interval = nil
	w.transition(WStatePaused)
	cb := w.onPause
	w.mu.Unlock()

	if cb != nil {
		cb()
	}
	w.emit(EventPaused, nil)
	return true
}

// Resume restarts the interval of an interval task. It returns false when
// the context is gone, the task has no positive interval or an interval is
// already running.
func (w *Worker) Resume() bool {
	w.mu.Lock()
	if w.terminated() || w.destroyed() || w.interval != nil || w.tick == nil || !w.isIntervalTask() {
		w.mu.Unlock()
		return false
	}
	w.transition(WStateRunning)
	cb := w.onResume
	w.mu.Unlock()

	if cb != nil {
		cb()
	}

	w.mu.Lock()
	if !w.terminated() && w.interval == nil {
		w.interval = startInterval(w.delay, w.tick)
	}
	w.mu.Unlock()

	w.emit(EventResumed, nil)
	return true
}

// Stop tears the worker down: it cancels the interval, fires OnStop, asks
// the context to close unless in debug mode and removes the worker from the
// registry. Only the first call does anything; later calls return false.
func (w *Worker) Stop() bool {
	w.mu.Lock()
	if w.terminated() {
		w.mu.Unlock()
		return false
	}
	if w.interval != nil {
		w.interval.cancel()
		w.interval = nil
	}
	w.transition(WStateStopped)
	cb := w.onStop
	h := w.handle
	w.mu.Unlock()

	if cb != nil {
		cb()
	}

	if h != nil && !w.debug && !h.IsDestroyed() {
		h.Send(imq.ChanClose, nil)
	}

	w.store.Delete(w.id)
	w.metrics.workerStopped()
	w.emit(EventStopped, nil)
	w.events.close()

	w.logger.Info("worker stopped")
	return true
}

// Bind records the task instance built inside the context.
func (w *Worker) Bind(t task.Task) {
	w.mu.Lock()
	w.instance = t
	w.mu.Unlock()
}

// StartInterval runs tick every delay until paused or stopped. A running
// interval is replaced.
func (w *Worker) StartInterval(delay time.Duration, tick func()) bool {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.terminated() || w.destroyed() || delay <= 0 {
		return false
	}
	if w.interval != nil {
		w.interval.cancel()
	}
	w.delay = delay
	w.tick = tick
	w.interval = startInterval(delay, tick)
	return true
}

// MarshalJSON writes the persistent part of the worker.
func (w *Worker) MarshalJSON() ([]byte, error) {
	return json.Marshal(struct {
		ID       string    `json:"id"`
		TaskFile string    `json:"task_file"`
		Debug    bool      `json:"debug"`
		State    sam.State `json:"state"`
	}{
		ID:       w.id,
		TaskFile: w.taskFile,
		Debug:    w.debug,
		State:    w.State(),
	})
}

func (w *Worker) attach(h *xctx.Handle) {
	w.mu.Lock()
	w.handle = h
	w.mu.Unlock()
}

func (w *Worker) ready() {
	w.mu.Lock()
	if w.terminated() {
		w.mu.Unlock()
		return
	}
	w.transition(WStateReady)
	cb := w.onReady
	w.mu.Unlock()

	if cb != nil {
		cb()
	}
	w.emit(EventReady, nil)

	w.mu.Lock()
	if !w.terminated() && w.state.State() == WStateReady {
		w.transition(WStateIdle)
	}
	w.mu.Unlock()
}

func (w *Worker) handleUpdate(payload interface{}) {
	w.mu.Lock()
	if w.terminated() || w.destroyed() {
		w.mu.Unlock()
		return
	}
	cb := w.onUpdate
	w.mu.Unlock()

	if cb != nil {
		cb(payload)
	}
	w.emit(EventUpdate, payload)
}

func (w *Worker) handleEnd(payload interface{}) {
	w.mu.Lock()
	if w.terminated() || w.destroyed() {
		w.mu.Unlock()
		return
	}
	w.transition(WStateEnded)
	cb := w.onEnd
	w.mu.Unlock()

	if cb != nil {
		cb(payload)
	}
	w.emit(EventEnded, payload)
	w.Stop()
}

func (w *Worker) handleError(payload interface{}) {
	w.mu.Lock()
	if w.terminated() || w.destroyed() {
		w.mu.Unlock()
		return
	}
	w.transition(WStateErrored)
	cb := w.onError
	w.mu.Unlock()

	if cb != nil {
		cb(payload)
	}
	w.emit(EventErrored, payload)
}

func (w *Worker) emit(kind WorkerEventKind, payload interface{}) {
	w.metrics.event(kind)
	w.events.publish(WorkerEvent{Kind: kind, WorkerID: w.id, Payload: payload})
}

// transition must be called with w.mu held.
func (w *Worker) transition(to sm.State) {
	if !w.state.Can(to) {
		w.logger.WithFields(logrus.Fields{
			"from": w.state.State(),
			"to":   to,
		}).Debug("state transition skipped")
		return
	}
	if err := w.state.DoTransition(to); err != nil {
		w.logger.WithError(err).Debug("state transition failed")
	}
}

// terminated reports whether the worker reached Stopped. Must be called with w.mu held.
func (w *Worker) terminated() bool {
	return w.state.Terminal(w.state.State())
}

// destroyed must be called with w.mu held.
func (w *Worker) destroyed() bool {
	return w.handle == nil || w.handle.IsDestroyed()
}

// isIntervalTask must be called with w.mu held.
func (w *Worker) isIntervalTask() bool {
	if w.instance == nil {
		return false
	}
	mode, _ := task.ModeOf(w.instance)
	return mode == task.ModeInterval
}

type interval struct {
	stop chan struct{}
	once sync.Once
}

func startInterval(delay time.Duration, tick func()) *interval {
	iv := &interval{stop: make(chan struct{})}
	ticker := time.NewTicker(delay)

	go func() {
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				select {
				case <-iv.stop:
					return
				default:
				}
				tick()
			case <-iv.stop:
				return
			}
		}
	}()
	return iv
}

func (iv *interval) cancel() {
	iv.once.Do(func() { close(iv.stop) })
}
