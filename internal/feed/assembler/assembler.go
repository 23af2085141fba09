// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

// Package assembler turns the canonical item set into ordered feed snapshots.
package assembler

import (
	"context"
	"sort"
	"sync/atomic"
	"time"

	"github.com/ManuGH/clipfeed/internal/bus"
	"github.com/ManuGH/clipfeed/internal/feed/clock"
	"github.com/ManuGH/clipfeed/internal/feed/dedup"
	"github.com/ManuGH/clipfeed/internal/feed/model"
	"github.com/ManuGH/clipfeed/internal/feed/seen"
	"github.com/ManuGH/clipfeed/internal/log"
	"github.com/ManuGH/clipfeed/internal/metrics"
	"github.com/rs/zerolog"
)

// StatusFunc reports the tracked state of an item, if any.
type StatusFunc func(id string) (model.ItemStatus, bool)

// Config wires an Assembler.
type Config struct {
	SurfaceID string
	Dedup     *dedup.Deduplicator
	Order     model.OrderBy
	Status    StatusFunc
	Clock     clock.Scheduler
	Window    Window
	Post      func(func()) bool
	Logger    zerolog.Logger
}

// Window groups the debounce settings.
type Window struct {
	Duration time.Duration
	Leading  bool
}

// Assembler builds snapshots on the surface loop and publishes them
// latest-wins. Current may be read from any goroutine.
type Assembler struct {
	cfg     Config
	deb     *Debouncer
	out     *bus.Notifier[model.FeedSnapshot]
	current atomic.Pointer[model.FeedSnapshot]
	logger  zerolog.Logger

	// loop-owned
	frozen  seen.Set
	page    model.Cursor
	hasMore bool
	loading bool
	version uint64
}

// New creates an assembler. Nothing is emitted until Trigger or Flush.
func New(cfg Config) *Assembler {
	a := &Assembler{
		cfg:     cfg,
		out:     bus.NewNotifier[model.FeedSnapshot]("snapshot."+cfg.SurfaceID, bus.Latest),
		logger:  cfg.Logger.With().Str(log.FieldComponent, "assembler").Logger(),
		hasMore: true,
	}
	a.deb = NewDebouncer(DebounceConfig{
		Clock:   cfg.Clock,
		Window:  cfg.Window.Duration,
		Leading: cfg.Window.Leading,
		Post:    cfg.Post,
		Emit:    a.emit,
		Coalesced: func() {
			metrics.SnapshotTriggersCoalescedTotal.WithLabelValues(cfg.SurfaceID).Inc()
		},
	})
	empty := model.FeedSnapshot{SurfaceID: cfg.SurfaceID, HasMore: true}
	a.current.Store(&empty)
	return a
}

// Subscribe returns a latest-wins stream of snapshots.
func (a *Assembler) Subscribe(ctx context.Context) *bus.Subscription[model.FeedSnapshot] {
	return a.out.Subscribe(ctx)
}

// Current returns the last emitted snapshot.
func (a *Assembler) Current() model.FeedSnapshot {
	return *a.current.Load()
}

// Debouncer exposes the emission scheduler.
func (a *Assembler) Debouncer() *Debouncer { return a.deb }

// Trigger schedules a recompute.
func (a *Assembler) Trigger() { a.deb.Trigger() }

// Flush recomputes and emits immediately.
func (a *Assembler) Flush() { a.deb.Flush() }

// Stop drops any pending emission.
func (a *Assembler) Stop() { a.deb.Stop() }

// SetWindow changes the debounce window.
func (a *Assembler) SetWindow(w time.Duration) { a.deb.SetWindow(w) }

// SetSeen replaces the frozen seen set used for ordering.
func (a *Assembler) SetSeen(s seen.Set) { a.frozen = s }

// SetPage records pagination state and schedules a recompute.
func (a *Assembler) SetPage(cursor model.Cursor, hasMore, loadingMore bool) {
	if a.page == cursor && a.hasMore == hasMore && a.loading == loadingMore {
		return
	}
	a.page, a.hasMore, a.loading = cursor, hasMore, loadingMore
	a.Trigger()
}

// Order returns the playable items in feed order.
func (a *Assembler) Order() []model.ContentItem {
	all := a.cfg.Dedup.Items()
	items := make([]model.ContentItem, 0, len(all))
	for _, it := range all {
		if it.Playable() {
			items = append(items, it)
		}
	}
	if a.cfg.Order != model.OrderTrending {
		sort.SliceStable(items, func(i, j int) bool { return model.Newer(items[i], items[j]) })
	}
	return seen.Reorder(items, a.frozen)
}

// Recompute builds a snapshot from the current state without publishing it.
func (a *Assembler) Recompute() model.FeedSnapshot {
	items := a.Order()

	status := make(map[string]model.ItemStatus)
	if a.cfg.Status != nil {
		for _, it := range items {
			if st, ok := a.cfg.Status(it.ID); ok {
				status[it.ID] = st
			}
		}
	}
	a.version++
	return model.FeedSnapshot{
		SurfaceID:   a.cfg.SurfaceID,
		Version:     a.version,
		Items:       items,
		Status:      status,
		Cursor:      a.page,
		HasMore:     a.hasMore,
		LoadingMore: a.loading,
	}
}

func (a *Assembler) emit() {
	snap := a.Recompute()
	a.current.Store(&snap)
	metrics.CanonicalItems.WithLabelValues(a.cfg.SurfaceID).Set(float64(a.cfg.Dedup.Len()))
	metrics.SnapshotEmissionsTotal.WithLabelValues(a.cfg.SurfaceID).Inc()
	// Latest-wins publishing never blocks the loop.
	_ = a.out.Publish(context.Background(), snap)
	a.logger.Debug().
		Uint64("version", snap.Version).
		Int("items", len(snap.Items)).
		Msg("snapshot emitted")
}
