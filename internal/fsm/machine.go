// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

// Package fsm provides a small strict transition-table state machine.
package fsm

import (
	"errors"
	"fmt"
)

// ErrInvalidTransition is returned when no edge exists for (state, event).
var ErrInvalidTransition = errors.New("invalid transition")

// Transition describes a single edge in the FSM.
// Guard may reject the transition; Action runs after the state moved.
type Transition[S ~string, E ~string] struct {
	From   S
	Event  E
	To     S
	Guard  func(from S, event E) error
	Action func(from S, to S, event E)
}

// Table is an immutable, validated set of transitions that can back many machines.
type Table[S ~string, E ~string] struct {
	index map[string]Transition[S, E]
}

// NewTable indexes transitions. Duplicate (From, Event) pairs are rejected.
func NewTable[S ~string, E ~string](transitions []Transition[S, E]) (*Table[S, E], error) {
	idx := make(map[string]Transition[S, E], len(transitions))
	for _, t := range transitions {
		k := key(t.From, t.Event)
		if _, exists := idx[k]; exists {
			return nil, fmt.Errorf("duplicate transition: %s -> %s", t.From, t.Event)
		}
		idx[k] = t
	}
	return &Table[S, E]{index: idx}, nil
}

// MustTable is NewTable for package-level tables.
func MustTable[S ~string, E ~string](transitions []Transition[S, E]) *Table[S, E] {
	t, err := NewTable(transitions)
	if err != nil {
		panic(err)
	}
	return t
}

// Lookup returns the edge for (from, event).
func (t *Table[S, E]) Lookup(from S, event E) (Transition[S, E], bool) {
	tr, ok := t.index[key(from, event)]
	return tr, ok
}

// Machine is a single-owner FSM runner. It is intentionally strict: unknown
// transitions are errors and leave the state untouched. It does no locking;
// callers confine a Machine to one goroutine.
type Machine[S ~string, E ~string] struct {
	state S
	table *Table[S, E]
}

// New creates a machine in the initial state.
func New[S ~string, E ~string](initial S, table *Table[S, E]) *Machine[S, E] {
	return &Machine[S, E]{state: initial, table: table}
}

// State returns the current state.
func (m *Machine[S, E]) State() S {
	return m.state
}

// Can reports whether event has an edge from the current state and its guard passes.
func (m *Machine[S, E]) Can(event E) bool {
	t, ok := m.table.Lookup(m.state, event)
	if !ok {
		return false
	}
	return t.Guard == nil || t.Guard(m.state, event) == nil
}

// Fire applies an event. On error the state is unchanged.
func (m *Machine[S, E]) Fire(event E) (S, error) {
	from := m.state
	t, ok := m.table.Lookup(from, event)
	if !ok {
		return from, fmt.Errorf("%w: state=%s event=%s", ErrInvalidTransition, from, event)
	}
	if t.Guard != nil {
		if err := t.Guard(from, event); err != nil {
			return from, err
		}
	}
	m.state = t.To
	if t.Action != nil {
		t.Action(from, t.To, event)
	}
	return t.To, nil
}

func key[S ~string, E ~string](from S, event E) string {
	return string(from) + "|" + string(event)
}
