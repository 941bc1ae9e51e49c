package taskvisor

import (
	"sort"

	"github.com/lancer-kit/sam"
)

// Worker returns the registered worker with the given id.
func (s *Supervisor) Worker(id string) (*Worker, bool) {
	store := s.registry()
	if store == nil {
		return nil, false
	}

	v, ok := store.Get(id)
	if !ok {
		return nil, false
	}
	w, ok := v.(*Worker)
	return w, ok
}

// Workers returns every registered worker ordered by id, which is creation order.
func (s *Supervisor) Workers() []*Worker {
	store := s.registry()
	if store == nil {
		return nil
	}

	all := store.GetAll()
	out := make([]*Worker, 0, len(all))
	for _, v := range all {
		if w, ok := v.(*Worker); ok {
			out = append(out, w)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].id < out[j].id })
	return out
}

// GetWorkersStates returns current state of all workers.
func (s *Supervisor) GetWorkersStates() map[string]sam.State {
	r := map[string]sam.State{}
	for _, w := range s.Workers() {
		r[w.ID()] = w.State()
	}
	return r
}

// GetState returns current state for the worker with the specified id.
func (s *Supervisor) GetState(id string) sam.State {
	if w, ok := s.Worker(id); ok {
		return w.State()
	}
	return WStateNotExists
}

// StopAll stops every registered worker. No order is guaranteed.
func (s *Supervisor) StopAll() {
	for _, w := range s.Workers() {
		w.Stop()
	}
}
