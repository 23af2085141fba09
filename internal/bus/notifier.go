// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

// Package bus provides typed in-process notification channels with explicit
// unsubscribe semantics.
package bus

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/ManuGH/clipfeed/internal/log"
	"github.com/ManuGH/clipfeed/internal/metrics"
)

// Mode selects how a Notifier hands values to slow subscribers.
type Mode int

const (
	// Ordered delivers every value in publish order. Publish blocks until each
	// subscriber accepted the value, its subscription closed, or ctx is done.
	Ordered Mode = iota
	// Latest keeps a single-slot mailbox per subscriber. A newer value replaces
	// an unconsumed older one and Publish never blocks.
	Latest
)

const (
	orderedBuffer = 64
	dropLogEvery  = 100
)

// ErrNilContext is returned by Publish when called without a context.
var ErrNilContext = errors.New("publish context is nil")

// Notifier fans values of one topic out to its subscribers.
type Notifier[T any] struct {
	topic string
	mode  Mode

	mu   sync.RWMutex
	subs map[*Subscription[T]]struct{}

	// serializes Latest-mode publishers so drain+send stays atomic per slot
	pubMu sync.Mutex
	drops atomic.Uint64
}

// NewNotifier creates a notifier for topic.
func NewNotifier[T any](topic string, mode Mode) *Notifier[T] {
	return &Notifier[T]{
		topic: topic,
		mode:  mode,
		subs:  make(map[*Subscription[T]]struct{}),
	}
}

// Subscribe registers a new subscriber. When ctx is done the subscription
// closes itself. Close may also be called explicitly and is idempotent.
func (n *Notifier[T]) Subscribe(ctx context.Context) *Subscription[T] {
	size := orderedBuffer
	if n.mode == Latest {
		size = 1
	}
	s := &Subscription[T]{
		n:    n,
		ch:   make(chan T, size),
		done: make(chan struct{}),
	}

	n.mu.Lock()
	n.subs[s] = struct{}{}
	n.mu.Unlock()

	if ctx != nil && ctx.Done() != nil {
		go func() {
			select {
			case <-ctx.Done():
				_ = s.Close()
			case <-s.done:
			}
		}()
	}
	return s
}

// Len reports the number of live subscriptions.
func (n *Notifier[T]) Len() int {
	n.mu.RLock()
	defer n.mu.RUnlock()
	return len(n.subs)
}

// Publish hands v to every subscriber according to the notifier mode.
func (n *Notifier[T]) Publish(ctx context.Context, v T) error {
	if ctx == nil {
		return ErrNilContext
	}
	n.mu.RLock()
	subs := make([]*Subscription[T], 0, len(n.subs))
	for s := range n.subs {
		subs = append(subs, s)
	}
	n.mu.RUnlock()

	if n.mode == Latest {
		n.pubMu.Lock()
		defer n.pubMu.Unlock()
		for _, s := range subs {
			n.offerLatest(s, v)
		}
		return nil
	}

	for _, s := range subs {
		select {
		case s.ch <- v:
		case <-s.done:
		case <-ctx.Done():
			reason := dropReason(ctx.Err())
			n.recordDrop(reason)
			return fmt.Errorf("publish topic %q: %w", n.topic, ctx.Err())
		}
	}
	return nil
}

func (n *Notifier[T]) offerLatest(s *Subscription[T], v T) {
	select {
	case <-s.done:
		return
	default:
	}
	select {
	case s.ch <- v:
		return
	default:
	}
	// Slot still holds an unconsumed value: replace it.
	select {
	case <-s.ch:
		n.recordDrop("superseded")
	default:
	}
	select {
	case s.ch <- v:
	default:
		n.recordDrop("full")
	}
}

func (n *Notifier[T]) recordDrop(reason string) {
	metrics.IncBusDropReason(n.topic, reason)
	count := n.drops.Add(1)
	if reason != "superseded" && count%dropLogEvery == 0 {
		log.L().Warn().
			Str("topic", n.topic).
			Str("reason", reason).
			Uint64("dropped", count).
			Msg("notifier dropped values")
	}
}

func dropReason(err error) string {
	switch {
	case errors.Is(err, context.DeadlineExceeded):
		return "timeout"
	case errors.Is(err, context.Canceled):
		return "canceled"
	default:
		return "context_done"
	}
}

// Subscription is one subscriber's view of a Notifier.
type Subscription[T any] struct {
	n    *Notifier[T]
	ch   chan T
	done chan struct{}
	once sync.Once
}

// C returns the receive channel. It is never closed; select on Done as well.
func (s *Subscription[T]) C() <-chan T {
	return s.ch
}

// Done is closed once the subscription is closed.
func (s *Subscription[T]) Done() <-chan struct{} {
	return s.done
}

// Close unsubscribes. Pending values remain readable from C.
func (s *Subscription[T]) Close() error {
	s.once.Do(func() {
		s.n.mu.Lock()
		delete(s.n.subs, s)
		s.n.mu.Unlock()
		close(s.done)
	})
	return nil
}
