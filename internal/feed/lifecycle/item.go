// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

// Package lifecycle tracks the loading state of one feed item.
package lifecycle

import (
	"errors"
	"fmt"

	"github.com/ManuGH/clipfeed/internal/feed/model"
	"github.com/ManuGH/clipfeed/internal/fsm"
	"github.com/ManuGH/clipfeed/internal/log"
	"github.com/ManuGH/clipfeed/internal/metrics"
	"github.com/ManuGH/clipfeed/internal/playback"
	"github.com/rs/zerolog"
)

// Event drives an item between load states.
type Event string

const (
	EventEnterWindow Event = "enter_window"
	EventAcquired    Event = "acquired"
	EventFail        Event = "fail"
	EventRetry       Event = "retry"
	EventEscalate    Event = "escalate"
	EventEvict       Event = "evict"
	EventCancel      Event = "cancel"
	EventUserRetry   Event = "user_retry"
)

// DefaultMaxRetries bounds automatic retries of transient failures.
const DefaultMaxRetries = 3

// ErrRetryLimit is returned when an automatic retry exceeds the ceiling.
var ErrRetryLimit = errors.New("retry limit reached")

// Decision tells the caller what to do after a failure.
type Decision int

const (
	// RetryLater means the item stays failed and a retry should be scheduled.
	RetryLater Decision = iota
	// GiveUp means the item is permanently failed.
	GiveUp
)

// Item is the state machine of one content item. It belongs to its surface loop.
type Item struct {
	id         string
	m          *fsm.Machine[model.LoadState, Event]
	retries    int
	maxRetries int
	lastErr    error
	logger     zerolog.Logger
}

// New creates an item in not_loaded.
func New(id string, maxRetries int, logger zerolog.Logger) *Item {
	if maxRetries < 0 {
		maxRetries = 0
	}
	it := &Item{
		id:         id,
		maxRetries: maxRetries,
		logger:     logger.With().Str(log.FieldItemID, id).Logger(),
	}
	it.m = fsm.New(model.StateNotLoaded, it.table())
	return it
}

func (it *Item) table() *fsm.Table[model.LoadState, Event] {
	count := func(from, to model.LoadState, _ Event) {
		metrics.RecordItemTransition(string(from), string(to))
	}
	return fsm.MustTable([]fsm.Transition[model.LoadState, Event]{
		{From: model.StateNotLoaded, Event: EventEnterWindow, To: model.StateLoading, Action: count},
		{From: model.StateDisposed, Event: EventEnterWindow, To: model.StateLoading, Action: count},
		{From: model.StateLoading, Event: EventAcquired, To: model.StateReady, Action: func(from, to model.LoadState, e Event) {
			it.lastErr = nil
			count(from, to, e)
		}},
		{From: model.StateLoading, Event: EventFail, To: model.StateFailed, Action: count},
		{From: model.StateLoading, Event: EventCancel, To: model.StateDisposed, Action: count},
		{From: model.StateReady, Event: EventEvict, To: model.StateDisposed, Action: count},
		{
			From:  model.StateFailed,
			Event: EventRetry,
			To:    model.StateLoading,
			Guard: func(model.LoadState, Event) error {
				if it.retries >= it.maxRetries {
					return fmt.Errorf("%w: %d/%d", ErrRetryLimit, it.retries, it.maxRetries)
				}
				return nil
			},
			Action: func(from, to model.LoadState, e Event) {
				it.retries++
				count(from, to, e)
			},
		},
		{From: model.StateFailed, Event: EventEscalate, To: model.StatePermanentlyFailed, Action: count},
		{From: model.StateFailed, Event: EventUserRetry, To: model.StateLoading, Action: count},
		{From: model.StatePermanentlyFailed, Event: EventUserRetry, To: model.StateLoading, Action: func(from, to model.LoadState, e Event) {
			it.retries = 0
			count(from, to, e)
		}},
	})
}

// ID returns the item identifier.
func (it *Item) ID() string { return it.id }

// State returns the current load state.
func (it *Item) State() model.LoadState { return it.m.State() }

// Retries returns the number of automatic retries spent.
func (it *Item) Retries() int { return it.retries }

// Err returns the last failure, if any.
func (it *Item) Err() error { return it.lastErr }

// SetMaxRetries changes the retry ceiling for future decisions.
func (it *Item) SetMaxRetries(n int) {
	if n < 0 {
		n = 0
	}
	it.maxRetries = n
}

// Fire applies ev. Rejected transitions are logged and counted; the state is
// left untouched.
func (it *Item) Fire(ev Event) error {
	from := it.m.State()
	to, err := it.m.Fire(ev)
	if err != nil {
		if errors.Is(err, fsm.ErrInvalidTransition) {
			metrics.RecordInvalidTransition(string(from), string(ev))
			it.logger.Warn().
				Str(log.FieldEvent, "lifecycle.invalid_transition").
				Str(log.FieldOldState, string(from)).
				Str("trigger", string(ev)).
				Msg("rejected item transition")
		}
		return err
	}
	it.logger.Debug().
		Str(log.FieldEvent, "lifecycle.transition").
		Str(log.FieldOldState, string(from)).
		Str(log.FieldNewState, string(to)).
		Str("trigger", string(ev)).
		Msg("item transition")
	return nil
}

// EnterWindow starts loading an item that came into the preload window.
func (it *Item) EnterWindow() error { return it.Fire(EventEnterWindow) }

// Acquired marks the media resource as loaded.
func (it *Item) Acquired() error { return it.Fire(EventAcquired) }

// Evict disposes a ready item.
func (it *Item) Evict() error { return it.Fire(EventEvict) }

// Cancel disposes an item whose load was abandoned.
func (it *Item) Cancel() error { return it.Fire(EventCancel) }

// Retry re-enters loading after a transient failure.
func (it *Item) Retry() error { return it.Fire(EventRetry) }

// UserRetry re-enters loading on explicit user request. The retry count is
// reset only when coming from permanently_failed.
func (it *Item) UserRetry() error { return it.Fire(EventUserRetry) }

// Fail records a load failure and decides whether the item may be retried.
// Permanent media errors and an exhausted retry count escalate immediately.
func (it *Item) Fail(cause error) (Decision, error) {
	if err := it.Fire(EventFail); err != nil {
		return GiveUp, err
	}
	it.lastErr = cause
	if playback.IsPermanent(cause) || it.retries >= it.maxRetries {
		if err := it.Fire(EventEscalate); err != nil {
			return GiveUp, err
		}
		return GiveUp, nil
	}
	return RetryLater, nil
}

// Status is the consumer-facing view.
func (it *Item) Status() model.ItemStatus {
	st := it.m.State()
	out := model.ItemStatus{
		State:        st,
		Presentation: model.Present(st),
		Retries:      it.retries,
	}
	if it.lastErr != nil && (st == model.StateFailed || st == model.StatePermanentlyFailed) {
		out.Error = it.lastErr.Error()
	}
	return out
}
