// Package sm is a small transition-table state machine.
package sm

import (
	"github.com/lancer-kit/sam"
	"github.com/pkg/errors"
)

// State is a named state of the machine.
type State = sam.State

var (
	ErrInvalidTransition = errors.New("invalid transition")
	ErrStateNotFound     = errors.New("state not found")
)

func invalidTransition(from, to State) error {
	return errors.Wrapf(ErrInvalidTransition, "%v --> %v", from, to)
}

func stateNotFound(name State) error {
	return errors.Wrapf(ErrStateNotFound, "%v", name)
}

// Hook is called after a transition took place.
type Hook func(from, to State)

type node struct {
	to   map[State]struct{}
	from map[State]struct{}
}

func newNode() *node {
	return &node{to: map[State]struct{}{}, from: map[State]struct{}{}}
}

// StateMachine is not safe for concurrent use; callers guard it.
type StateMachine struct {
	current State
	states  map[State]*node

	after   []Hook
	onEnter map[State][]Hook
}

// NewStateMachine returns an empty machine; states appear with their transitions.
func NewStateMachine() *StateMachine {
	return &StateMachine{
		states:  map[State]*node{},
		onEnter: map[State][]Hook{},
	}
}

func (sm *StateMachine) State() State { return sm.current }

// SetState forces the current state without checks or hooks.
func (sm *StateMachine) SetState(state State) {
	sm.node(state)
	sm.current = state
}

func (sm *StateMachine) node(name State) *node {
	n, ok := sm.states[name]
	if !ok {
		n = newNode()
		sm.states[name] = n
	}
	return n
}

func (sm *StateMachine) AddTransitions(from State, to ...State) error {
	for _, name := range to {
		if err := sm.AddTransition(from, name); err != nil {
			return err
		}
	}
	return nil
}

func (sm *StateMachine) AddTransition(from, to State) error {
	if from == to {
		return invalidTransition(from, to)
	}

	sm.node(from).to[to] = struct{}{}
	sm.node(to).from[from] = struct{}{}
	return nil
}

// Can reports whether DoTransition(to) would succeed.
func (sm *StateMachine) Can(to State) bool {
	if _, ok := sm.states[to]; !ok {
		return false
	}
	if sm.current == to {
		return true
	}
	cur, ok := sm.states[sm.current]
	if !ok {
		return false
	}
	_, ok = cur.to[to]
	return ok
}

// Terminal reports whether state has no outgoing transitions.
func (sm *StateMachine) Terminal(state State) bool {
	n, ok := sm.states[state]
	return ok && len(n.to) == 0
}

// DoTransition moves to name. Staying in the current state is a no-op.
func (sm *StateMachine) DoTransition(name State) error {
	if _, ok := sm.states[name]; !ok {
		return stateNotFound(name)
	}
	if sm.current == name {
		return nil
	}
	if !sm.Can(name) {
		return invalidTransition(sm.current, name)
	}

	from := sm.current
	sm.current = name

	for _, hook := range sm.onEnter[name] {
		hook(from, name)
	}
	for _, hook := range sm.after {
		hook(from, name)
	}
	return nil
}

// AfterTransition registers a hook run after every transition.
func (sm *StateMachine) AfterTransition(hook Hook) {
	sm.after = append(sm.after, hook)
}

// OnEnter registers a hook run when state is entered.
func (sm *StateMachine) OnEnter(state State, hook Hook) {
	sm.onEnter[state] = append(sm.onEnter[state], hook)
}
