package imq

import (
	"sync"

	"github.com/sirupsen/logrus"
)

// Endpoint is one side of the message channel: a named mailbox with
// per-channel handlers and its own event loop.
type Endpoint struct {
	addr   Address
	role   Role
	broker *Broker
	loop   *Loop
	logger *logrus.Entry

	mu       sync.RWMutex
	handlers map[Channel]HandlerFunc
}

// Address returns where the endpoint is attached.
func (e *Endpoint) Address() Address { return e.addr }

// Role returns the protocol side of the endpoint.
func (e *Endpoint) Role() Role { return e.role }

// Broker returns the broker the endpoint is attached to.
func (e *Endpoint) Broker() *Broker { return e.broker }

// On sets the handler for channel, replacing any previous one.
func (e *Endpoint) On(channel Channel, handler HandlerFunc) {
	e.mu.Lock()
	e.handlers[channel] = handler
	e.mu.Unlock()
}

// Off removes the handler for channel.
func (e *Endpoint) Off(channel Channel) {
	e.mu.Lock()
	delete(e.handlers, channel)
	e.mu.Unlock()
}

// Send delivers payload on channel to the endpoint at to.
func (e *Endpoint) Send(to Address, channel Channel, workerID string, payload interface{}) error {
	return e.Post(&Message{
		To:       to,
		Channel:  channel,
		WorkerID: workerID,
		Payload:  payload,
	})
}

// Post delivers a prepared message, stamping the sender address.
func (e *Endpoint) Post(msg *Message) error {
	msg.From = e.addr
	return e.broker.Deliver(msg)
}

// Do runs fn on the endpoint loop. It returns false if the loop is closed.
func (e *Endpoint) Do(fn func()) bool {
	return e.loop.Post(fn)
}

// Close detaches the endpoint and stops its loop. Pending messages are dropped.
func (e *Endpoint) Close() {
	e.broker.Detach(e.addr)
	e.loop.Close()
}

// Closed reports whether Close was called.
func (e *Endpoint) Closed() bool { return e.loop.Closed() }

// Done is closed once the endpoint loop has exited.
func (e *Endpoint) Done() <-chan struct{} { return e.loop.Done() }

func (e *Endpoint) dispatch(msg *Message) bool {
	return e.loop.Post(func() {
		e.mu.RLock()
		handler, ok := e.handlers[msg.Channel]
		e.mu.RUnlock()

		if !ok {
			e.logger.WithFields(logrus.Fields{
				"channel": msg.Channel,
				"from":    msg.From,
			}).Debug("no handler for message")
			return
		}
		handler(msg)
	})
}

func (e *Endpoint) recovered(rec interface{}) {
	e.logger.WithField("panic", rec).Error("caught panic in endpoint loop")
}
