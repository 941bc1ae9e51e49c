package taskvisor

import (
	"context"
	"os"
	"os/signal"
	"syscall"
)

// Host is the environment the Supervisor lives in. When it closes, every
// worker is stopped.
type Host interface {
	OnClose(fn func())
}

type contextHost struct {
	ctx context.Context
}

// ContextHost closes when ctx is done.
func ContextHost(ctx context.Context) Host {
	return &contextHost{ctx: ctx}
}

func (h *contextHost) OnClose(fn func()) {
	go func() {
		<-h.ctx.Done()
		fn()
	}()
}

// SignalHost closes on SIGTERM or SIGINT. The returned cancel releases the
// signal handler.
func SignalHost(parent context.Context) (Host, context.CancelFunc) {
	ctx, cancel := signal.NotifyContext(parent, os.Interrupt, syscall.SIGTERM)
	return ContextHost(ctx), cancel
}

// HostFunc adapts a function to Host.
type HostFunc func(fn func())

func (f HostFunc) OnClose(fn func()) { f(fn) }
