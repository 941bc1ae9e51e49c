// Package imq is the in-memory message queue that connects the control
// process, requesters and isolated contexts. Every endpoint drains its
// inbox on its own single-threaded loop, so messages to one endpoint are
// handled in send order; nothing is promised across endpoints.
package imq

import (
	"sort"
	"sync"

	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
)

var (
	// ErrNoRoute is returned when the target endpoint is unknown or closed.
	ErrNoRoute = errors.New("imq: no route to endpoint")
	// ErrAddressInUse is returned by Attach for a duplicate address.
	ErrAddressInUse = errors.New("imq: address already attached")
)

// Broker routes messages between attached endpoints.
type Broker struct {
	mu        sync.RWMutex
	endpoints map[Address]*Endpoint
	logger    *logrus.Entry
}

// NewBroker returns an empty broker. A nil logger falls back to the
// logrus standard logger.
func NewBroker(logger *logrus.Entry) *Broker {
	if logger == nil {
		logger = logrus.NewEntry(logrus.StandardLogger())
	}

	return &Broker{
		endpoints: map[Address]*Endpoint{},
		logger:    logger.WithField("service", "imq-broker"),
	}
}

// Attach registers a new endpoint at addr and starts its loop.
func (b *Broker) Attach(addr Address, role Role) (*Endpoint, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if _, ok := b.endpoints[addr]; ok {
		return nil, errors.Wrap(ErrAddressInUse, string(addr))
	}

	ep := &Endpoint{
		addr:     addr,
		role:     role,
		broker:   b,
		handlers: map[Channel]HandlerFunc{},
		logger: b.logger.WithFields(logrus.Fields{
			"endpoint": addr,
			"role":     role,
		}),
	}
	ep.loop = NewLoop(ep.recovered)

	b.endpoints[addr] = ep
	return ep, nil
}

// Detach forgets addr. The endpoint itself is not closed.
func (b *Broker) Detach(addr Address) {
	b.mu.Lock()
	delete(b.endpoints, addr)
	b.mu.Unlock()
}

// Lookup returns the endpoint attached at addr.
func (b *Broker) Lookup(addr Address) (*Endpoint, bool) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	ep, ok := b.endpoints[addr]
	return ep, ok
}

// Addresses lists attached endpoints in lexical order.
func (b *Broker) Addresses() []Address {
	b.mu.RLock()
	defer b.mu.RUnlock()

	out := make([]Address, 0, len(b.endpoints))
	for addr := range b.endpoints {
		out = append(out, addr)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

// Deliver queues msg on the target endpoint's loop.
func (b *Broker) Deliver(msg *Message) error {
	ep, ok := b.Lookup(msg.To)
	if !ok {
		return errors.Wrap(ErrNoRoute, string(msg.To))
	}
	if !ep.dispatch(msg) {
		return errors.Wrap(ErrNoRoute, string(msg.To))
	}
	return nil
}

// Close closes every attached endpoint.
func (b *Broker) Close() {
	b.mu.Lock()
	eps := make([]*Endpoint, 0, len(b.endpoints))
	for _, ep := range b.endpoints {
		eps = append(eps, ep)
	}
	b.endpoints = map[Address]*Endpoint{}
	b.mu.Unlock()

	for _, ep := range eps {
		ep.loop.Close()
	}
}
