// Package xctx manages isolated execution contexts. A context is an
// endpoint with its own event loop; the Handle is the control side proxy
// used to bootstrap it, talk to it and tear it down.
package xctx

import (
	"sort"
	"strings"
	"sync"

	"github.com/oklog/ulid/v2"
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"

	"github.com/lancer-kit/taskvisor/imq"
)

// QueryWorkerID is the bootstrap query key carrying the worker id.
const QueryWorkerID = "workerId"

// BootFunc initialises a context. It runs on the context loop.
type BootFunc func(h *Handle) error

// Handle is one isolated execution context.
type Handle struct {
	owner    *imq.Endpoint
	ep       *imq.Endpoint
	location string
	query    map[string]string
	boot     BootFunc
	logger   *logrus.Entry

	mu          sync.Mutex
	loaded      bool
	ready       bool
	destroyed   bool
	err         error
	onReady     []func()
	onDestroyed []func()
}

// Create attaches a new context endpoint to broker. Bootstrapping starts
// with Load. Lifecycle callbacks are delivered on owner's loop.
func Create(broker *imq.Broker, owner *imq.Endpoint, bootstrap string,
	params map[string]string, boot BootFunc, logger *logrus.Entry) (*Handle, error) {
	if logger == nil {
		logger = logrus.NewEntry(logrus.StandardLogger())
	}

	addr := imq.Address("ctx-" + ulid.Make().String())
	ep, err := broker.Attach(addr, imq.RoleContext)
	if err != nil {
		return nil, errors.Wrap(err, "unable to attach context endpoint")
	}

	location := Locator(bootstrap, params)
	return &Handle{
		owner:    owner,
		ep:       ep,
		location: location,
		query:    ParseQuery(location),
		boot:     boot,
		logger: logger.WithFields(logrus.Fields{
			"context": addr,
			"locator": location,
		}),
	}, nil
}

// Load starts bootstrapping. Only the first call has an effect.
func (h *Handle) Load() bool {
	h.mu.Lock()
	if h.loaded || h.destroyed {
		h.mu.Unlock()
		return false
	}
	h.loaded = true
	h.mu.Unlock()

	return h.ep.Do(func() {
		if h.IsDestroyed() {
			return
		}

		if h.boot != nil {
			if err := h.boot(h); err != nil {
				h.mu.Lock()
				h.err = err
				h.mu.Unlock()

				h.logger.WithError(err).Error("context bootstrap failed")
				h.Destroy()
				return
			}
		}

		h.mu.Lock()
		if h.destroyed {
			h.mu.Unlock()
			return
		}
		h.ready = true
		fns := h.onReady
		h.onReady = nil
		h.mu.Unlock()

		h.fire(fns)
	})
}

// OnReady registers fn to run once the context has bootstrapped.
// Registering after that point runs fn right away.
func (h *Handle) OnReady(fn func()) {
	h.mu.Lock()
	if h.ready {
		h.mu.Unlock()
		h.fire([]func(){fn})
		return
	}
	if !h.destroyed {
		h.onReady = append(h.onReady, fn)
	}
	h.mu.Unlock()
}

// OnDestroyed registers fn to run once the context is torn down, whatever
// the cause. Registering after that point runs fn right away.
func (h *Handle) OnDestroyed(fn func()) {
	h.mu.Lock()
	if h.destroyed {
		h.mu.Unlock()
		h.fire([]func(){fn})
		return
	}
	h.onDestroyed = append(h.onDestroyed, fn)
	h.mu.Unlock()
}

// IsDestroyed reports whether the context is gone.
func (h *Handle) IsDestroyed() bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.destroyed
}

// IsReady reports whether bootstrap finished successfully.
func (h *Handle) IsReady() bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.ready
}

// Err returns the bootstrap error, if any.
func (h *Handle) Err() error {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.err
}

// Destroy tears the context down. Safe to call more than once and from
// inside the context.
func (h *Handle) Destroy() {
	h.mu.Lock()
	if h.destroyed {
		h.mu.Unlock()
		return
	}
	h.destroyed = true
	h.onReady = nil
	fns := h.onDestroyed
	h.onDestroyed = nil
	h.mu.Unlock()

	h.ep.Close()
	h.logger.Debug("context destroyed")
	h.fire(fns)
}

// Send delivers payload into the context on channel. It does nothing once
// the context is destroyed.
func (h *Handle) Send(channel imq.Channel, payload interface{}) {
	if h.IsDestroyed() {
		return
	}

	msg := &imq.Message{
		To:       h.ep.Address(),
		Channel:  channel,
		WorkerID: h.query[QueryWorkerID],
		Payload:  payload,
	}
	if h.owner != nil {
		msg.From = h.owner.Address()
	}

	if err := h.ep.Broker().Deliver(msg); err != nil {
		h.logger.WithError(err).WithField("channel", channel).Debug("message dropped")
	}
}

// Location is the bootstrap locator with its query.
func (h *Handle) Location() string { return h.location }

// Bootstrap is the locator without its query.
func (h *Handle) Bootstrap() string {
	if i := strings.IndexByte(h.location, '?'); i >= 0 {
		return h.location[:i]
	}
	return h.location
}

// Query returns the parsed bootstrap query.
func (h *Handle) Query() map[string]string {
	out := make(map[string]string, len(h.query))
	for k, v := range h.query {
		out[k] = v
	}
	return out
}

// Endpoint is the in-context side of the channel.
func (h *Handle) Endpoint() *imq.Endpoint { return h.ep }

// Logger returns the context scoped logger.
func (h *Handle) Logger() *logrus.Entry { return h.logger }

func (h *Handle) fire(fns []func()) {
	if len(fns) == 0 {
		return
	}

	run := func() {
		for _, fn := range fns {
			fn()
		}
	}
	if h.owner != nil && h.owner.Do(run) {
		return
	}
	run()
}

// Locator appends params to bootstrap as a query string with sorted keys.
func Locator(bootstrap string, params map[string]string) string {
	if len(params) == 0 {
		return bootstrap
	}

	keys := make([]string, 0, len(params))
	for k := range params {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	pairs := make([]string, 0, len(keys))
	for _, k := range keys {
		pairs = append(pairs, k+"="+params[k])
	}

	sep := "?"
	if strings.Contains(bootstrap, "?") {
		sep = "&"
	}
	return bootstrap + sep + strings.Join(pairs, "&")
}

// ParseQuery splits the query of locator literally on '&' and '='.
// Values are not decoded; a key without '=' maps to "".
func ParseQuery(locator string) map[string]string {
	out := map[string]string{}

	i := strings.IndexByte(locator, '?')
	if i < 0 {
		return out
	}

	for _, pair := range strings.Split(locator[i+1:], "&") {
		if pair == "" {
			continue
		}
		kv := strings.SplitN(pair, "=", 2)
		if len(kv) == 2 {
			out[kv[0]] = kv[1]
		} else {
			out[kv[0]] = ""
		}
	}
	return out
}
