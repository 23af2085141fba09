// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package assembler

import (
	"time"

	"github.com/ManuGH/clipfeed/internal/feed/clock"
)

// DefaultWindow is the quiescence window between emissions.
const DefaultWindow = 500 * time.Millisecond

// DebounceConfig configures a Debouncer.
type DebounceConfig struct {
	Clock  clock.Scheduler
	Window time.Duration
	// Leading emits the first trigger of a quiet period immediately.
	Leading bool
	// Post runs a function on the owning loop.
	Post func(func()) bool
	// Emit produces output. It runs on the owning loop.
	Emit func()
	// Coalesced is called for every trigger absorbed into a pending emission.
	Coalesced func()
}

// Debouncer rate-limits Emit to at most once per window with trailing-edge
// coalescing. Timers are tagged with a generation; a timer that fires after
// Flush, Stop or a reschedule is ignored. All methods run on the owning loop.
type Debouncer struct {
	cfg   DebounceConfig
	gen   uint64
	timer clock.Timer
	dirty bool
}

// NewDebouncer creates an idle debouncer.
func NewDebouncer(cfg DebounceConfig) *Debouncer {
	if cfg.Clock == nil {
		cfg.Clock = clock.Real{}
	}
	if cfg.Window <= 0 {
		cfg.Window = DefaultWindow
	}
	return &Debouncer{cfg: cfg}
}

// Window returns the current quiescence window.
func (d *Debouncer) Window() time.Duration { return d.cfg.Window }

// SetWindow changes the window. A pending timer keeps its old deadline.
func (d *Debouncer) SetWindow(w time.Duration) {
	if w > 0 {
		d.cfg.Window = w
	}
}

// Pending reports whether a window is open.
func (d *Debouncer) Pending() bool { return d.timer != nil }

// Trigger requests an emission.
func (d *Debouncer) Trigger() {
	if d.timer != nil {
		d.dirty = true
		if d.cfg.Coalesced != nil {
			d.cfg.Coalesced()
		}
		return
	}
	if d.cfg.Leading {
		d.cfg.Emit()
	} else {
		d.dirty = true
	}
	d.schedule()
}

// Flush cancels the window and emits now.
func (d *Debouncer) Flush() {
	d.Stop()
	d.cfg.Emit()
}

// Stop cancels the window without emitting.
func (d *Debouncer) Stop() {
	d.gen++
	if d.timer != nil {
		d.timer.Stop()
		d.timer = nil
	}
	d.dirty = false
}

func (d *Debouncer) schedule() {
	d.gen++
	gen := d.gen
	d.timer = d.cfg.Clock.AfterFunc(d.cfg.Window, func() {
		d.cfg.Post(func() { d.fire(gen) })
	})
}

func (d *Debouncer) fire(gen uint64) {
	if gen != d.gen {
		return
	}
	d.timer = nil
	if !d.dirty {
		return
	}
	d.dirty = false
	d.cfg.Emit()
	// Keep the window open so a burst right after the trailing emission is
	// still coalesced.
	d.schedule()
}
