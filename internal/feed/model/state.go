// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package model

import "fmt"

// LoadState is the loading lifecycle of one item. The set is closed: consume
// it through VisitState so every state is handled.
type LoadState string

const (
	StateNotLoaded         LoadState = "not_loaded"
	StateLoading           LoadState = "loading"
	StateReady             LoadState = "ready"
	StateFailed            LoadState = "failed"
	StatePermanentlyFailed LoadState = "permanently_failed"
	StateDisposed          LoadState = "disposed"
)

// AllStates lists every LoadState.
var AllStates = []LoadState{
	StateNotLoaded, StateLoading, StateReady, StateFailed, StatePermanentlyFailed, StateDisposed,
}

// StateCases must handle every LoadState. Adding a state adds a method here,
// which breaks every implementation until it is handled.
type StateCases[T any] interface {
	NotLoaded() T
	Loading() T
	Ready() T
	Failed() T
	PermanentlyFailed() T
	Disposed() T
}

// VisitState dispatches s to the matching case.
func VisitState[T any](s LoadState, c StateCases[T]) T {
	switch s {
	case StateNotLoaded:
		return c.NotLoaded()
	case StateLoading:
		return c.Loading()
	case StateReady:
		return c.Ready()
	case StateFailed:
		return c.Failed()
	case StatePermanentlyFailed:
		return c.PermanentlyFailed()
	case StateDisposed:
		return c.Disposed()
	}
	panic(fmt.Sprintf("model: unknown load state %q", string(s)))
}

// Presentation is how a consumer should render an item.
type Presentation string

const (
	PresentNone        Presentation = "none"
	PresentSpinner     Presentation = "spinner"
	PresentPlayer      Presentation = "player"
	PresentPlaceholder Presentation = "placeholder_retry"
)

type presentationCases struct{}

func (presentationCases) NotLoaded() Presentation         { return PresentNone }
func (presentationCases) Loading() Presentation           { return PresentSpinner }
func (presentationCases) Ready() Presentation             { return PresentPlayer }
func (presentationCases) Failed() Presentation            { return PresentSpinner }
func (presentationCases) PermanentlyFailed() Presentation { return PresentPlaceholder }
func (presentationCases) Disposed() Presentation          { return PresentNone }

// Present maps a load state to its presentation. Transient failures show a
// spinner; only permanent failures need user action.
func Present(s LoadState) Presentation {
	return VisitState[Presentation](s, presentationCases{})
}

// ItemStatus is the consumer-visible view of an item's state.
type ItemStatus struct {
	State        LoadState    `json:"state"`
	Presentation Presentation `json:"presentation"`
	Retries      int          `json:"retries"`
	Error        string       `json:"error,omitempty"`
}
