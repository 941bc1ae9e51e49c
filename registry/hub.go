// Package registry provides an in-memory, path-addressable key-value store
// with change notification. Data lives in namespaces owned by a Hub; every
// Store opened with the same identifier is a separate view over the same
// namespace.
package registry

import (
	"os"
	"sync"
)

// Hub owns the namespaces. One Hub is shared by every component that needs
// to see the same data; there is no process-wide default.
type Hub struct {
	mu     sync.Mutex
	spaces map[string]*namespace
}

// NewHub returns an empty Hub.
func NewHub() *Hub {
	return &Hub{spaces: map[string]*namespace{}}
}

// Option configures a Store view.
type Option func(*options)

type options struct {
	dir      string
	defaults map[string]interface{}
	autoload bool
}

// WithDir sets the directory used for `<storeId>.json`.
func WithDir(dir string) Option {
	return func(o *options) { o.dir = dir }
}

// WithDefaults seeds the namespace when it is created by this call.
// Defaults are ignored for a namespace that already exists.
func WithDefaults(values map[string]interface{}) Option {
	return func(o *options) { o.defaults = values }
}

// WithAutoload loads the store file, replacing the namespace content,
// when the view is opened.
func WithAutoload() Option {
	return func(o *options) { o.autoload = true }
}

// Open returns a new view over the namespace named storeID, creating the
// namespace on first use.
func (h *Hub) Open(storeID string, opts ...Option) (*Store, error) {
	o := options{dir: os.TempDir()}
	for _, opt := range opts {
		opt(&o)
	}

	h.mu.Lock()
	ns, ok := h.spaces[storeID]
	if !ok {
		ns = newNamespace(storeID)
		if o.defaults != nil {
			ns.data = clone(o.defaults).(map[string]interface{})
		}
		h.spaces[storeID] = ns
	}
	h.mu.Unlock()

	store := &Store{ns: ns, dir: o.dir}
	if o.autoload {
		if err := store.Load("", true); err != nil {
			return nil, err
		}
	}

	return store, nil
}

// IDs lists the namespaces created so far.
func (h *Hub) IDs() []string {
	h.mu.Lock()
	defer h.mu.Unlock()

	ids := make([]string, 0, len(h.spaces))
	for id := range h.spaces {
		ids = append(ids, id)
	}
	return ids
}
