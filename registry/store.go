package registry

import (
	"path/filepath"
	"reflect"
	"sort"
	"sync"
	"sync/atomic"
)

// ChangeFunc receives the value observed at a subscribed path after it
// changed, and the value observed before.
type ChangeFunc func(newValue, oldValue interface{})

type namespace struct {
	id string

	mu   sync.RWMutex
	data map[string]interface{}

	subMu  sync.Mutex
	subs   map[uint64]*subscription
	nextID uint64
}

func newNamespace(id string) *namespace {
	return &namespace{
		id:   id,
		data: map[string]interface{}{},
		subs: map[uint64]*subscription{},
	}
}

type subscription struct {
	id        uint64
	keys      []string
	fn        ChangeFunc
	cancelled atomic.Bool

	mu   sync.Mutex
	last interface{}
}

// snapshot reads the value at keys and copies its skeleton so that later
// in-place merges do not leak into the subscription cache.
func (ns *namespace) snapshot(keys []string) interface{} {
	ns.mu.RLock()
	defer ns.mu.RUnlock()

	if len(keys) == 0 {
		return clone(ns.data)
	}
	v, _ := getPath(ns.data, keys)
	return clone(v)
}

// notify re-evaluates every subscription. Callbacks run without any
// namespace lock held, so they are free to write again; the cache is
// updated before the callback so a nested round skips unchanged paths.
func (ns *namespace) notify() {
	ns.subMu.Lock()
	subs := make([]*subscription, 0, len(ns.subs))
	for _, s := range ns.subs {
		subs = append(subs, s)
	}
	ns.subMu.Unlock()

	sort.Slice(subs, func(i, j int) bool { return subs[i].id < subs[j].id })

	for _, s := range subs {
		if s.cancelled.Load() {
			continue
		}

		current := ns.snapshot(s.keys)

		s.mu.Lock()
		if reflect.DeepEqual(current, s.last) {
			s.mu.Unlock()
			continue
		}
		old := s.last
		s.last = current
		s.mu.Unlock()

		if s.cancelled.Load() {
			continue
		}
		s.fn(current, old)
	}
}

// Store is a view over one namespace of a Hub.
type Store struct {
	ns  *namespace
	dir string
}

// SetOption tunes a single Set call.
type SetOption func(*setOptions)

type setOptions struct {
	overwrite bool
}

// Overwrite makes Set replace a composite value instead of merging into it.
func Overwrite() SetOption {
	return func(o *setOptions) { o.overwrite = true }
}

// ID returns the namespace identifier.
func (s *Store) ID() string { return s.ns.id }

// FilePath returns the default persistence file, `<dir>/<storeId>.json`.
func (s *Store) FilePath() string {
	return filepath.Join(s.dir, s.ns.id+".json")
}

// Set writes value at path. When both the current value and the new one are
// maps they are deep-merged, unless Overwrite is given. An empty path is ignored.
func (s *Store) Set(path string, value interface{}, opts ...SetOption) {
	keys := splitPath(path)
	if len(keys) == 0 {
		return
	}

	var o setOptions
	for _, opt := range opts {
		opt(&o)
	}

	s.ns.mu.Lock()
	setPath(s.ns.data, keys, value, o.overwrite)
	s.ns.mu.Unlock()

	s.ns.notify()
}

// Get returns a copy of the value at path and whether it exists.
func (s *Store) Get(path string) (interface{}, bool) {
	s.ns.mu.RLock()
	defer s.ns.mu.RUnlock()

	v, ok := getPath(s.ns.data, splitPath(path))
	if !ok {
		return nil, false
	}
	return clone(v), true
}

// GetOr returns the value at path, or def when the path is absent.
func (s *Store) GetOr(path string, def interface{}) interface{} {
	if v, ok := s.Get(path); ok {
		return v
	}
	return def
}

// Has reports whether path exists.
func (s *Store) Has(path string) bool {
	_, ok := s.Get(path)
	return ok
}

// Delete removes path and reports whether it was present.
func (s *Store) Delete(path string) bool {
	s.ns.mu.Lock()
	removed := deletePath(s.ns.data, splitPath(path))
	s.ns.mu.Unlock()

	s.ns.notify()
	return removed
}

// GetAll returns a copy of the namespace root.
func (s *Store) GetAll() map[string]interface{} {
	return s.ns.snapshot(nil).(map[string]interface{})
}

// Subscribe calls fn each time the value at path changes, compared with
// deep equality. An empty path watches the whole namespace. The returned
// function cancels the subscription; no call starts after it returns.
func (s *Store) Subscribe(path string, fn ChangeFunc) (unsubscribe func()) {
	sub := &subscription{
		keys: splitPath(path),
		fn:   fn,
	}
	sub.last = s.ns.snapshot(sub.keys)

	s.ns.subMu.Lock()
	s.ns.nextID++
	sub.id = s.ns.nextID
	s.ns.subs[sub.id] = sub
	s.ns.subMu.Unlock()

	return func() {
		sub.cancelled.Store(true)
		s.ns.subMu.Lock()
		delete(s.ns.subs, sub.id)
		s.ns.subMu.Unlock()
	}
}
