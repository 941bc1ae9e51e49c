package task

import (
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lancer-kit/taskvisor/imq"
	"github.com/lancer-kit/taskvisor/registry"
	"github.com/lancer-kit/taskvisor/xctx"
)

type fakeHost struct {
	id   string
	file string

	mu    sync.Mutex
	bound Task
	stop  chan struct{}
}

func (h *fakeHost) ID() string       { return h.id }
func (h *fakeHost) TaskFile() string { return h.file }

func (h *fakeHost) Bind(t Task) {
	h.mu.Lock()
	h.bound = t
	h.mu.Unlock()
}

func (h *fakeHost) StartInterval(delay time.Duration, tick func()) bool {
	h.mu.Lock()
	defer h.mu.Unlock()

	h.stop = make(chan struct{})
	stop := h.stop
	go func() {
		ticker := time.NewTicker(delay)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				tick()
			case <-stop:
				return
			}
		}
	}()
	return true
}

func (h *fakeHost) halt() {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.stop != nil {
		close(h.stop)
		h.stop = nil
	}
}

type harness struct {
	t       *testing.T
	broker  *imq.Broker
	control *imq.Endpoint
	store   *registry.Store
	catalog *Catalog
	host    *fakeHost
	handle  *xctx.Handle
	events  chan *imq.Message
}

func newHarness(t *testing.T, factory Factory) *harness {
	t.Helper()

	broker := imq.NewBroker(nil)
	control, err := broker.Attach(imq.ControlAddress, imq.RoleControl)
	require.NoError(t, err)

	store, err := registry.NewHub().Open("test")
	require.NoError(t, err)

	hs := &harness{
		t:       t,
		broker:  broker,
		control: control,
		store:   store,
		catalog: NewCatalog(),
		host:    &fakeHost{id: "w1", file: "tasks/sample"},
		events:  make(chan *imq.Message, 64),
	}
	hs.catalog.Register("app/tasks/sample", factory)
	store.Set("w1", hs.host)

	for _, ch := range []imq.Channel{imq.ChanUpdate, imq.ChanEnd, imq.ChanError} {
		control.On(ch, func(msg *imq.Message) { hs.events <- msg })
	}

	hs.handle, err = xctx.Create(broker, control, "app/index",
		map[string]string{xctx.QueryWorkerID: "w1"},
		func(h *xctx.Handle) error { return InitTask(h, store, hs.catalog) }, nil)
	require.NoError(t, err)

	t.Cleanup(func() {
		hs.host.halt()
		broker.Close()
	})
	return hs
}

func (hs *harness) load() {
	hs.t.Helper()
	ready := make(chan struct{})
	hs.handle.OnReady(func() { close(ready) })
	hs.handle.Load()

	select {
	case <-ready:
	case <-time.After(time.Second):
		hs.t.Fatalf("context not ready: %v", hs.handle.Err())
	}
}

func (hs *harness) next() *imq.Message {
	hs.t.Helper()
	select {
	case msg := <-hs.events:
		return msg
	case <-time.After(2 * time.Second):
		hs.t.Fatal("no event")
		return nil
	}
}

func (hs *harness) quiet(d time.Duration) {
	hs.t.Helper()
	select {
	case msg := <-hs.events:
		hs.t.Fatalf("unexpected event %s: %v", msg.Channel, msg.Payload)
	case <-time.After(d):
	}
}

type funcTask struct {
	run      func(params interface{}, r Reporter)
	interval time.Duration
	timeout  time.Duration
	onMsg    func(channel string, payload interface{})
}

func (f *funcTask) Run(params interface{}, r Reporter) { f.run(params, r) }
func (f *funcTask) IntervalDelay() time.Duration       { return f.interval }
func (f *funcTask) TimeoutDelay() time.Duration        { return f.timeout }
func (f *funcTask) OnMessage(channel string, payload interface{}) {
	if f.onMsg != nil {
		f.onMsg(channel, payload)
	}
}

type closingTask struct {
	funcTask
	closeCalled chan func()
}

func (c *closingTask) Close(done func()) { c.closeCalled <- done }

func TestModeOf(t *testing.T) {
	mode, d := ModeOf(&funcTask{interval: time.Second, timeout: time.Minute})
	assert.Equal(t, ModeInterval, mode)
	assert.Equal(t, time.Second, d)

	mode, d = ModeOf(&funcTask{timeout: time.Minute})
	assert.Equal(t, ModeTimeout, mode)
	assert.Equal(t, time.Minute, d)

	mode, _ = ModeOf(&funcTask{interval: -1})
	assert.Equal(t, ModeNormal, mode)
}

func TestCatalog(t *testing.T) {
	c := NewCatalog()
	c.Register("a/./b", func(string) Task { return &funcTask{} })
	c.Register("nil", nil)

	assert.True(t, c.Has("a/b"))
	_, err := c.Resolve("nil")
	assert.Equal(t, ErrNotConstructor, errors.Cause(err))
	_, err = c.Resolve("missing")
	assert.Equal(t, ErrNotConstructor, errors.Cause(err))
	assert.Equal(t, []string{"a/b", "nil"}, c.List())

	assert.Equal(t, "app/tasks/x", ResolvePath("app/index", "tasks/x"))
	assert.Equal(t, "app/x", ResolvePath("app/index", "./tasks/../x"))
	assert.Equal(t, "x", ResolvePath("index", "x"))
}

func TestRuntime_NormalMode(t *testing.T) {
	var runs int32
	hs := newHarness(t, func(id string) Task {
		return &funcTask{run: func(params interface{}, r Reporter) {
			atomic.AddInt32(&runs, 1)
			r.Update(params)
			r.Next()
			r.End("done")
		}}
	})
	hs.load()

	hs.handle.Send(imq.ChanExecute, "params")

	msg := hs.next()
	assert.Equal(t, imq.ChanUpdate, msg.Channel)
	assert.Equal(t, "params", msg.Payload)
	assert.Equal(t, "w1", msg.WorkerID)

	msg = hs.next()
	assert.Equal(t, imq.ChanEnd, msg.Channel)
	assert.Equal(t, "done", msg.Payload)

	hs.quiet(50 * time.Millisecond)
	assert.Equal(t, int32(1), atomic.LoadInt32(&runs))

	hs.host.mu.Lock()
	assert.NotNil(t, hs.host.bound)
	hs.host.mu.Unlock()
}

func TestRuntime_IntervalMode(t *testing.T) {
	var n int32
	hs := newHarness(t, func(string) Task {
		return &funcTask{
			interval: 10 * time.Millisecond,
			run: func(_ interface{}, r Reporter) {
				v := atomic.AddInt32(&n, 1)
				if v > 3 {
					return
				}
				r.Update(v)
				if v == 3 {
					r.End(v)
				}
			},
		}
	})
	hs.load()
	hs.handle.Send(imq.ChanExecute, nil)

	for i := int32(1); i <= 3; i++ {
		msg := hs.next()
		assert.Equal(t, imq.ChanUpdate, msg.Channel)
		assert.Equal(t, i, msg.Payload)
	}
	msg := hs.next()
	assert.Equal(t, imq.ChanEnd, msg.Channel)
}

func TestRuntime_TimeoutModeChain(t *testing.T) {
	var runs int32
	hs := newHarness(t, func(string) Task {
		return &funcTask{
			timeout: 10 * time.Millisecond,
			run: func(_ interface{}, r Reporter) {
				v := atomic.AddInt32(&runs, 1)
				r.Update(v)
				if v < 3 {
					r.Next()
					r.Next()
				}
			},
		}
	})
	hs.load()
	hs.handle.Send(imq.ChanExecute, nil)

	for i := int32(1); i <= 3; i++ {
		msg := hs.next()
		assert.Equal(t, imq.ChanUpdate, msg.Channel)
		assert.Equal(t, i, msg.Payload)
	}
	hs.quiet(80 * time.Millisecond)
	assert.Equal(t, int32(3), atomic.LoadInt32(&runs))
}

func TestRuntime_UpdateDoesNotRearm(t *testing.T) {
	var runs int32
	hs := newHarness(t, func(string) Task {
		return &funcTask{
			timeout: 5 * time.Millisecond,
			run: func(_ interface{}, r Reporter) {
				atomic.AddInt32(&runs, 1)
				r.Update("tick")
			},
		}
	})
	hs.load()
	hs.handle.Send(imq.ChanExecute, nil)

	assert.Equal(t, imq.ChanUpdate, hs.next().Channel)
	hs.quiet(50 * time.Millisecond)
	assert.Equal(t, int32(1), atomic.LoadInt32(&runs))
}

func TestRuntime_ErrorReporting(t *testing.T) {
	hs := newHarness(t, func(string) Task {
		return &funcTask{run: func(params interface{}, r Reporter) {
			if params == "panic" {
				panic("boom")
			}
			r.Error("bad", true)
		}}
	})
	hs.load()

	hs.handle.Send(imq.ChanExecute, nil)
	msg := hs.next()
	assert.Equal(t, imq.ChanError, msg.Channel)
	assert.Equal(t, "bad", msg.Payload)
	msg = hs.next()
	assert.Equal(t, imq.ChanEnd, msg.Channel)
	assert.Nil(t, msg.Payload)

	hs.handle.Send(imq.ChanExecute, "panic")
	msg = hs.next()
	assert.Equal(t, imq.ChanError, msg.Channel)
	assert.Equal(t, "task panicked: boom", msg.Payload)
}

func TestRuntime_MessagePassthrough(t *testing.T) {
	got := make(chan imq.Envelope, 1)
	hs := newHarness(t, func(string) Task {
		return &funcTask{
			run: func(interface{}, Reporter) {},
			onMsg: func(channel string, payload interface{}) {
				got <- imq.Envelope{Channel: channel, Payload: payload}
			},
		}
	})
	hs.load()

	hs.handle.Send(imq.ChanMessage, imq.Envelope{Channel: "ping", Payload: 1})
	select {
	case env := <-got:
		assert.Equal(t, "ping", env.Channel)
		assert.Equal(t, 1, env.Payload)
	case <-time.After(time.Second):
		t.Fatal("message not forwarded")
	}
}

func TestRuntime_CloseWithoutCloser(t *testing.T) {
	hs := newHarness(t, func(string) Task {
		return &funcTask{run: func(interface{}, Reporter) {}}
	})
	hs.load()

	destroyed := make(chan struct{})
	hs.handle.OnDestroyed(func() { close(destroyed) })
	hs.handle.Send(imq.ChanClose, nil)

	select {
	case <-destroyed:
	case <-time.After(time.Second):
		t.Fatal("context not closed")
	}
}

func TestRuntime_CloseWaitsForCloser(t *testing.T) {
	task := &closingTask{
		funcTask:    funcTask{run: func(interface{}, Reporter) {}},
		closeCalled: make(chan func(), 1),
	}
	hs := newHarness(t, func(string) Task { return task })
	hs.load()

	hs.handle.Send(imq.ChanClose, nil)

	var done func()
	select {
	case done = <-task.closeCalled:
	case <-time.After(time.Second):
		t.Fatal("Close not called")
	}
	assert.False(t, hs.handle.IsDestroyed())

	done()
	done()
	assert.True(t, hs.handle.IsDestroyed())
}

func TestRuntime_ReporterNoopAfterDestroy(t *testing.T) {
	kept := make(chan Reporter, 1)
	hs := newHarness(t, func(string) Task {
		return &funcTask{run: func(_ interface{}, r Reporter) { kept <- r }}
	})
	hs.load()
	hs.handle.Send(imq.ChanExecute, nil)

	var r Reporter
	select {
	case r = <-kept:
	case <-time.After(time.Second):
		t.Fatal("task did not run")
	}

	hs.handle.Destroy()
	r.Update(1)
	r.End(2)
	r.Error(3, true)
	hs.quiet(30 * time.Millisecond)
}

func TestInitTask_Failures(t *testing.T) {
	broker := imq.NewBroker(nil)
	defer broker.Close()
	control, err := broker.Attach(imq.ControlAddress, imq.RoleControl)
	require.NoError(t, err)

	store, err := registry.NewHub().Open("test")
	require.NoError(t, err)
	catalog := NewCatalog()
	store.Set("w1", &fakeHost{id: "w1", file: "missing"})
	store.Set("plain", "not a worker")

	err = InitTask(wrongSide{control}, store, catalog)
	assert.Equal(t, ErrWrongProcess, err)

	tests := []struct {
		name   string
		params map[string]string
		want   error
	}{
		{"no worker id", nil, ErrMissingWorkerID},
		{"unknown worker", map[string]string{xctx.QueryWorkerID: "nope"}, ErrWorkerNotFound},
		{"not a worker", map[string]string{xctx.QueryWorkerID: "plain"}, ErrWorkerNotFound},
		{"no constructor", map[string]string{xctx.QueryWorkerID: "w1"}, ErrNotConstructor},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h, err := xctx.Create(broker, control, "app/index", tt.params, func(h *xctx.Handle) error {
				return InitTask(h, store, catalog)
			}, nil)
			require.NoError(t, err)

			destroyed := make(chan struct{})
			h.OnDestroyed(func() { close(destroyed) })
			h.Load()

			select {
			case <-destroyed:
			case <-time.After(time.Second):
				t.Fatal("context not destroyed")
			}
			assert.Equal(t, tt.want, errors.Cause(h.Err()))
		})
	}
}

type wrongSide struct{ ep *imq.Endpoint }

func (w wrongSide) Endpoint() *imq.Endpoint { return w.ep }
func (wrongSide) Bootstrap() string         { return "" }
func (wrongSide) Query() map[string]string  { return map[string]string{xctx.QueryWorkerID: "w1"} }
func (wrongSide) IsDestroyed() bool         { return false }
func (wrongSide) Destroy()                  {}
func (wrongSide) Logger() *logrus.Entry     { return logrus.NewEntry(logrus.StandardLogger()) }
