// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package surface

import (
	"time"

	"github.com/ManuGH/clipfeed/internal/feed/assembler"
	"github.com/ManuGH/clipfeed/internal/feed/clock"
	"github.com/ManuGH/clipfeed/internal/feed/dedup"
	"github.com/ManuGH/clipfeed/internal/feed/gate"
	"github.com/ManuGH/clipfeed/internal/feed/lifecycle"
	"github.com/ManuGH/clipfeed/internal/feed/model"
	"github.com/ManuGH/clipfeed/internal/feed/seen"
	"github.com/ManuGH/clipfeed/internal/feed/subscription"
	"github.com/ManuGH/clipfeed/internal/playback"
	"github.com/ManuGH/clipfeed/internal/source"
)

// WindowConfig sizes the preload window around the focused item.
type WindowConfig struct {
	Ahead  int
	Behind int
	// Retain is the distance beyond which item state is destroyed.
	Retain int
}

// DefaultWindow preloads the next two items and keeps one behind.
func DefaultWindow() WindowConfig {
	return WindowConfig{Ahead: 2, Behind: 1, Retain: 5}
}

// Policy is the runtime-adjustable part of a surface. Zero fields keep the
// current value.
type Policy struct {
	Debounce time.Duration
	// MaxRetries is the automatic retry ceiling. A surface always allows at
	// least one automatic retry, so there is no way to set it to zero.
	MaxRetries   int
	RetryBackoff subscription.BackoffConfig
	// Filter, when set, replaces the moderation hook and drops canonical
	// items it rejects.
	Filter dedup.Policy
}

// Config describes one surface.
type Config struct {
	ID            string
	Descriptor    model.Descriptor
	PoolCapacity  int
	Window        WindowConfig
	Debounce      time.Duration
	Leading       bool
	MaxRetries    int
	RetryBackoff  subscription.BackoffConfig
	StreamBackoff subscription.BackoffConfig
	LoadMoreRate  float64
	LoadMoreTries uint
	LoopBuffer    int
}

func (c Config) withDefaults() Config {
	if c.PoolCapacity <= 0 {
		c.PoolCapacity = 3
	}
	if c.Window == (WindowConfig{}) {
		c.Window = DefaultWindow()
	}
	if c.Window.Retain < c.Window.Ahead {
		c.Window.Retain = c.Window.Ahead
	}
	if c.Window.Retain < c.Window.Behind {
		c.Window.Retain = c.Window.Behind
	}
	if c.Debounce <= 0 {
		c.Debounce = assembler.DefaultWindow
	}
	if c.MaxRetries <= 0 {
		c.MaxRetries = lifecycle.DefaultMaxRetries
	}
	if c.RetryBackoff == (subscription.BackoffConfig{}) {
		c.RetryBackoff = subscription.BackoffConfig{Initial: time.Second, Max: 10 * time.Second, Multiplier: 2, Jitter: 0.1}
	}
	return c
}

// Deps are the collaborators a surface shares with the rest of the process.
type Deps struct {
	Source source.Source
	Engine playback.Engine
	Seen   *seen.Tracker
	Clock  clock.Scheduler
	Policy dedup.Policy
	// ServiceReady and Foreground are usually shared by every surface. A nil
	// signal is replaced by a private one that starts true.
	ServiceReady *gate.Signal
	Foreground   *gate.Signal
}
