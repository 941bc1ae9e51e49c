// Package socket is the service socket: a unix domain socket accepting
// JSON commands and answering with JSON responses.
package socket

import (
	"context"
	"encoding/json"
	"fmt"
	"net"
	"os"
	"sync"

	"github.com/pkg/errors"
)

// Server is a handler that opens a `net.Socket`
// and accepts commands and writes responses in JSON format.
type Server struct {
	socketName string
	errors     chan error

	mu       sync.RWMutex
	handlers map[string]ActionFunc
}

// NewServer creates a new server with some actions.
func NewServer(socketName string, actions ...Action) *Server {
	handlers := map[string]ActionFunc{}
	for _, action := range actions {
		handlers[action.Name] = action.Handler
	}
	return &Server{
		socketName: socketName,
		handlers:   handlers,
		errors:     make(chan error, 16),
	}
}

// Errors returns a channel with non-fatal errors. Errors are dropped
// when nobody reads them.
func (sw *Server) Errors() <-chan error {
	return sw.errors
}

// SetHandler adds new or replaces the command (action) handler.
func (sw *Server) SetHandler(name string, action ActionFunc) {
	sw.mu.Lock()
	sw.handlers[name] = action
	sw.mu.Unlock()
}

// Serve creates the UNIX socket and handles incoming commands until ctx is done.
func (sw *Server) Serve(ctx context.Context) error {
	if err := sw.removeSocket(); err != nil {
		return err
	}

	var lc net.ListenConfig
	listener, err := lc.Listen(ctx, "unix", sw.socketName)
	if err != nil {
		return errors.Wrap(err, "unable to create unix domain socket")
	}

	if err = os.Chmod(sw.socketName, 0700); err != nil {
		_ = listener.Close()
		return errors.Wrap(err, "unable to change the permissions for the socket")
	}

	go func() {
		<-ctx.Done()
		_ = listener.Close()
	}()

	for {
		conn, err := listener.Accept()
		if err != nil {
			if ctx.Err() != nil {
				return sw.removeSocket()
			}
			sw.report(errors.Wrap(err, "accept failed"))
			continue
		}

		if err := sw.processSockRequest(conn); err != nil {
			sw.report(errors.Wrap(err, "process failed"))
		}
	}
}

func (sw *Server) report(err error) {
	select {
	case sw.errors <- err:
	default:
	}
}

func (sw *Server) processSockRequest(conn net.Conn) (err error) {
	defer func() {
		if cerr := conn.Close(); err == nil && cerr != nil {
			err = cerr
		}
	}()

	defer func() {
		r := recover()
		if r == nil {
			return
		}
		err = fmt.Errorf("handler panic: %v", r)
	}()

	var in Request
	if err = json.NewDecoder(conn).Decode(&in); err != nil {
		return errors.Wrap(err, "unable to decode input")
	}

	sw.mu.RLock()
	handler, ok := sw.handlers[in.Action]
	sw.mu.RUnlock()
	if !ok {
		handler = defaultHandler
	}

	if err = json.NewEncoder(conn).Encode(handler(in)); err != nil {
		return errors.Wrap(err, "unable to encode output")
	}
	return nil
}

func (sw *Server) removeSocket() error {
	_, err := os.Stat(sw.socketName)
	if os.IsNotExist(err) {
		return nil
	}
	if err := os.Remove(sw.socketName); err != nil {
		return errors.Wrap(err, "unable to remove the socket")
	}
	return nil
}
