// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

// Package loop runs closures sequentially on a single goroutine. Every feed
// surface owns one loop; all of its state is touched only from inside it.
package loop

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/rs/zerolog"
)

// ErrStopped is returned when work is submitted to a loop that is not running anymore.
var ErrStopped = errors.New("loop stopped")

// DefaultBuffer is the queue depth used when New gets a non-positive size.
const DefaultBuffer = 256

// Loop is a sequential executor.
type Loop struct {
	cmds    chan func()
	stopped chan struct{}
	once    sync.Once
	logger  zerolog.Logger
}

// New creates a loop with the given queue depth.
func New(buffer int, logger zerolog.Logger) *Loop {
	if buffer <= 0 {
		buffer = DefaultBuffer
	}
	return &Loop{
		cmds:    make(chan func(), buffer),
		stopped: make(chan struct{}),
		logger:  logger,
	}
}

// Run executes posted closures until ctx is done. Panics inside a closure are
// logged and do not stop the loop.
func (l *Loop) Run(ctx context.Context) error {
	defer l.once.Do(func() { close(l.stopped) })
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case fn := <-l.cmds:
			l.exec(fn)
		}
	}
}

func (l *Loop) exec(fn func()) {
	defer func() {
		if r := recover(); r != nil {
			l.logger.Error().
				Str("event", "loop.panic").
				Str("panic", fmt.Sprint(r)).
				Msg("recovered panic in feed loop")
		}
	}()
	fn()
}

// Stopped is closed when Run returned.
func (l *Loop) Stopped() <-chan struct{} {
	return l.stopped
}

// Post enqueues fn. It blocks while the queue is full and reports false once
// the loop has stopped.
func (l *Loop) Post(fn func()) bool {
	select {
	case <-l.stopped:
		return false
	default:
	}
	select {
	case l.cmds <- fn:
		return true
	case <-l.stopped:
		return false
	}
}

// Do runs fn on the loop and waits for it to finish. It must not be called
// from inside the loop.
func (l *Loop) Do(ctx context.Context, fn func()) error {
	done := make(chan struct{})
	wrapped := func() {
		defer close(done)
		fn()
	}
	select {
	case l.cmds <- wrapped:
	case <-l.stopped:
		return ErrStopped
	case <-ctx.Done():
		return ctx.Err()
	}
	select {
	case <-done:
		return nil
	case <-l.stopped:
		// Run may have exited right after executing wrapped.
		select {
		case <-done:
			return nil
		default:
			return ErrStopped
		}
	case <-ctx.Done():
		return ctx.Err()
	}
}
