package imq

import (
	"sync"

	"github.com/sirupsen/logrus"
)

// Loop is a single-threaded event loop. Items run one at a time in the
// order they were posted.
type Loop struct {
	mu     sync.Mutex
	cond   *sync.Cond
	queue  []func()
	closed bool
	done   chan struct{}

	onPanic func(interface{})
}

// NewLoop starts a loop. onPanic receives values recovered from items and
// may be nil.
func NewLoop(onPanic func(interface{})) *Loop {
	l := &Loop{
		done:    make(chan struct{}),
		onPanic: onPanic,
	}
	l.cond = sync.NewCond(&l.mu)

	go l.run()
	return l
}

// Post enqueues fn. It returns false once the loop is closed.
func (l *Loop) Post(fn func()) bool {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.closed {
		return false
	}

	l.queue = append(l.queue, fn)
	l.cond.Signal()
	return true
}

// Close stops the loop after the running item; queued items are dropped.
func (l *Loop) Close() {
	l.mu.Lock()
	if !l.closed {
		l.closed = true
		l.queue = nil
		l.cond.Broadcast()
	}
	l.mu.Unlock()
}

// Closed reports whether Close was called.
func (l *Loop) Closed() bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.closed
}

// Done is closed when the loop goroutine exits.
func (l *Loop) Done() <-chan struct{} { return l.done }

func (l *Loop) run() {
	defer close(l.done)

	for {
		l.mu.Lock()
		for len(l.queue) == 0 && !l.closed {
			l.cond.Wait()
		}
		if l.closed {
			l.mu.Unlock()
			return
		}

		fn := l.queue[0]
		l.queue[0] = nil
		l.queue = l.queue[1:]
		l.mu.Unlock()

		l.exec(fn)
	}
}

func (l *Loop) exec(fn func()) {
	defer func() {
		rec := recover()
		if rec == nil {
			return
		}
		if l.onPanic != nil {
			l.onPanic(rec)
			return
		}
		logrus.WithField("panic", rec).Error("imq: caught panic in loop")
	}()

	fn()
}
