// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

// Package gate combines readiness signals into a single fail-closed boolean.
package gate

import (
	"context"
	"errors"
	"sync"

	"github.com/ManuGH/clipfeed/internal/bus"
	"github.com/ManuGH/clipfeed/internal/log"
	"github.com/ManuGH/clipfeed/internal/metrics"
	"github.com/rs/zerolog"
)

// Standard signal names.
const (
	SignalServiceReady  = "service_ready"
	SignalForeground    = "foreground"
	SignalSurfaceActive = "surface_active"
)

// Signal is one named boolean input. Signals may be shared between gates.
type Signal struct {
	name  string
	mu    sync.Mutex
	val   bool
	gates map[*Gate]struct{}
	n     *bus.Notifier[bool]
}

// NewSignal creates a signal that starts false.
func NewSignal(name string) *Signal {
	return &Signal{
		name:  name,
		gates: make(map[*Gate]struct{}),
		n:     bus.NewNotifier[bool]("signal."+name, bus.Latest),
	}
}

// Name returns the signal name.
func (s *Signal) Name() string { return s.name }

// Value returns the current value.
func (s *Signal) Value() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.val
}

// Set updates the value and re-evaluates every running gate that reads it
// before returning. Watchers hear about changes only.
func (s *Signal) Set(v bool) {
	s.mu.Lock()
	if s.val == v {
		s.mu.Unlock()
		return
	}
	s.val = v
	gates := make([]*Gate, 0, len(s.gates))
	for g := range s.gates {
		gates = append(gates, g)
	}
	s.mu.Unlock()

	for _, g := range gates {
		g.evaluate()
	}
	_ = s.n.Publish(context.Background(), v)
}

// Watch subscribes to changes. Delivery is latest-wins: a slow watcher sees
// the most recent value, so re-read Value when exactness matters.
func (s *Signal) Watch(ctx context.Context) *bus.Subscription[bool] {
	return s.n.Subscribe(ctx)
}

func (s *Signal) attach(g *Gate) {
	s.mu.Lock()
	s.gates[g] = struct{}{}
	s.mu.Unlock()
}

func (s *Signal) detach(g *Gate) {
	s.mu.Lock()
	delete(s.gates, g)
	s.mu.Unlock()
}

// Gate is the AND of its signals. It reports false until Run starts and
// after Run returns.
type Gate struct {
	name    string
	signals []*Signal
	logger  zerolog.Logger
	out     *bus.Notifier[bool]

	mu      sync.Mutex
	running bool
	value   bool

	// held from a transition until its publish finished, so watchers see
	// changes in the order they happened
	pubMu sync.Mutex
}

// New creates a gate over signals.
func New(name string, signals ...*Signal) *Gate {
	return &Gate{
		name:    name,
		signals: signals,
		out:     bus.NewNotifier[bool]("gate."+name, bus.Ordered),
		logger:  log.WithComponent("gate").With().Str("gate", name).Logger(),
	}
}

// Value returns the current conjunction. A Set(false) on any input is
// visible here as soon as Set returns.
func (g *Gate) Value() bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.value
}

// Watch subscribes to gate changes. Each value change is delivered once, in order.
func (g *Gate) Watch(ctx context.Context) *bus.Subscription[bool] {
	return g.out.Subscribe(ctx)
}

// Run attaches the gate to its signals and keeps it live until ctx is done.
// Evaluation happens synchronously inside Signal.Set.
func (g *Gate) Run(ctx context.Context) error {
	g.mu.Lock()
	if g.running {
		g.mu.Unlock()
		return errors.New("gate: already running")
	}
	g.running = true
	g.mu.Unlock()

	for _, s := range g.signals {
		s.attach(g)
	}
	g.evaluate()

	<-ctx.Done()

	for _, s := range g.signals {
		s.detach(g)
	}
	g.mu.Lock()
	g.running = false
	g.mu.Unlock()
	g.evaluate()
	return nil
}

func (g *Gate) compute() bool {
	if len(g.signals) == 0 {
		return false
	}
	for _, s := range g.signals {
		if !s.Value() {
			return false
		}
	}
	return true
}

func (g *Gate) evaluate() {
	g.mu.Lock()
	next := g.running && g.compute()
	if g.value == next {
		g.mu.Unlock()
		return
	}
	g.value = next
	g.pubMu.Lock()
	g.mu.Unlock()
	defer g.pubMu.Unlock()

	metrics.RecordGateTransition(g.name, next)
	g.logger.Info().
		Str(log.FieldEvent, "gate.changed").
		Bool("open", next).
		Msg("readiness gate changed")
	if err := g.out.Publish(context.Background(), next); err != nil {
		g.logger.Debug().Err(err).Msg("gate publish aborted")
	}
}
