// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

// Package surface runs one feed: a sequential loop that owns the canonical
// set, the playback pool, item lifecycles, the subscription and the snapshot
// assembler.
package surface

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"

	"github.com/ManuGH/clipfeed/internal/bus"
	"github.com/ManuGH/clipfeed/internal/feed/assembler"
	"github.com/ManuGH/clipfeed/internal/feed/clock"
	"github.com/ManuGH/clipfeed/internal/feed/dedup"
	"github.com/ManuGH/clipfeed/internal/feed/gate"
	"github.com/ManuGH/clipfeed/internal/feed/lifecycle"
	"github.com/ManuGH/clipfeed/internal/feed/loop"
	"github.com/ManuGH/clipfeed/internal/feed/model"
	"github.com/ManuGH/clipfeed/internal/feed/pool"
	"github.com/ManuGH/clipfeed/internal/feed/seen"
	"github.com/ManuGH/clipfeed/internal/feed/subscription"
	"github.com/ManuGH/clipfeed/internal/log"
	"github.com/ManuGH/clipfeed/internal/metrics"
	"github.com/cenkalti/backoff/v5"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"
)

var (
	// ErrClosed is returned once the surface stopped running.
	ErrClosed = errors.New("surface closed")
	// ErrUnknownItem is returned for items that are not in the feed.
	ErrUnknownItem = errors.New("unknown item")
	// ErrAlreadyRunning is returned by a second Run call.
	ErrAlreadyRunning = errors.New("surface already running")
)

type retryTask struct {
	timer   clock.Timer
	backoff *backoff.ExponentialBackOff
	armed   bool
	gen     uint64
}

// Surface is one feed surface. Its exported methods are safe for concurrent
// use; everything they touch is mutated on the surface loop.
type Surface struct {
	id     string
	cfg    Config
	deps   Deps
	logger zerolog.Logger
	clock  clock.Scheduler

	loop   *loop.Loop
	dedup  *dedup.Deduplicator
	pool   *pool.Pool
	gate   *gate.Gate
	active *gate.Signal
	coord  *subscription.Coordinator
	asm    *assembler.Assembler

	running atomic.Bool

	// loop-owned
	runCtx     context.Context
	open       bool
	focus      string
	items      map[string]*lifecycle.Item
	retries    map[string]*retryTask
	retryGen   uint64
	maxRetries int
	retryCfg   subscription.BackoffConfig
}

// New builds a surface. It does nothing until Run.
func New(cfg Config, deps Deps) (*Surface, error) {
	if deps.Source == nil || deps.Engine == nil {
		return nil, errors.New("surface: source and engine are required")
	}
	cfg = cfg.withDefaults()
	if cfg.ID == "" {
		cfg.ID = uuid.NewString()
	}
	if deps.Clock == nil {
		deps.Clock = clock.Real{}
	}
	if deps.Seen == nil {
		deps.Seen = seen.NewTracker(nil)
	}
	if deps.ServiceReady == nil {
		deps.ServiceReady = gate.NewSignal(gate.SignalServiceReady)
		deps.ServiceReady.Set(true)
	}
	if deps.Foreground == nil {
		deps.Foreground = gate.NewSignal(gate.SignalForeground)
		deps.Foreground.Set(true)
	}

	s := &Surface{
		id:         cfg.ID,
		cfg:        cfg,
		deps:       deps,
		logger:     log.WithSurface("surface", cfg.ID),
		clock:      deps.Clock,
		items:      make(map[string]*lifecycle.Item),
		retries:    make(map[string]*retryTask),
		maxRetries: cfg.MaxRetries,
		retryCfg:   cfg.RetryBackoff,
		active:     gate.NewSignal(gate.SignalSurfaceActive),
	}
	base := log.Base().With().Str(log.FieldSurfaceID, cfg.ID).Logger()
	s.loop = loop.New(cfg.LoopBuffer, base)

	var opts []dedup.Option
	if deps.Policy != nil {
		opts = append(opts, dedup.WithPolicy(deps.Policy))
	}
	s.dedup = dedup.New(opts...)

	s.pool = pool.New(pool.Config{
		Engine:   deps.Engine,
		Capacity: cfg.PoolCapacity,
		Surface:  cfg.ID,
		Deliver: func(c pool.Completion) bool {
			return s.loop.Post(func() { s.onCompletion(c) })
		},
		Logger: base,
	})

	s.gate = gate.New(cfg.ID, deps.ServiceReady, deps.Foreground, s.active)

	coord, err := subscription.New(subscription.Config{
		SurfaceID:     cfg.ID,
		Source:        deps.Source,
		Descriptor:    cfg.Descriptor,
		Loop:          s.loop,
		Sink:          sink{s},
		Clock:         deps.Clock,
		Backoff:       cfg.StreamBackoff,
		LoadMoreRate:  cfg.LoadMoreRate,
		LoadMoreTries: cfg.LoadMoreTries,
		Logger:        base,
	})
	if err != nil {
		return nil, fmt.Errorf("surface %s: %w", cfg.ID, err)
	}
	s.coord = coord

	s.asm = assembler.New(assembler.Config{
		SurfaceID: cfg.ID,
		Dedup:     s.dedup,
		Order:     coord.Descriptor().OrderBy,
		Status:    s.status,
		Clock:     deps.Clock,
		Window:    assembler.Window{Duration: cfg.Debounce, Leading: cfg.Leading},
		Post:      s.loop.Post,
		Logger:    base,
	})
	return s, nil
}

// ID returns the surface identifier.
func (s *Surface) ID() string { return s.id }

// Descriptor returns the normalized subscription descriptor.
func (s *Surface) Descriptor() model.Descriptor { return s.coord.Descriptor() }

// Open reports whether the readiness gate is open.
func (s *Surface) Open() bool { return s.gate.Value() }

// Run drives the surface until ctx is done.
func (s *Surface) Run(ctx context.Context) error {
	if !s.running.CompareAndSwap(false, true) {
		return ErrAlreadyRunning
	}
	ctx = log.ContextWithSurfaceID(ctx, s.id)
	grp, gctx := errgroup.WithContext(ctx)
	gateSub := s.gate.Watch(gctx)

	s.loop.Post(func() {
		s.runCtx = gctx
		s.asm.Flush()
	})
	grp.Go(func() error {
		_ = s.loop.Run(gctx)
		return nil
	})
	grp.Go(func() error {
		return s.gate.Run(gctx)
	})
	grp.Go(func() error {
		defer gateSub.Close()
		for {
			select {
			case <-gctx.Done():
				return nil
			case <-gateSub.Done():
				return nil
			case open := <-gateSub.C():
				s.loop.Post(func() { s.onGate(open) })
			}
		}
	})

	s.logger.Info().Str(log.FieldDescriptor, s.coord.Descriptor().Name).Msg("surface started")
	err := grp.Wait()

	// The loop has stopped; its state is ours now.
	s.coord.Close()
	s.asm.Stop()
	for id := range s.retries {
		s.cancelRetry(id)
	}
	s.pool.Close()
	s.pool.Wait()
	s.logger.Info().Msg("surface stopped")
	return err
}

func (s *Surface) onGate(open bool) {
	if open == s.open {
		return
	}
	s.open = open
	if open {
		s.asm.SetSeen(s.deps.Seen.Freeze())
		s.coord.OnGateChange(s.runCtx, true)
		s.asm.Flush()
		s.applyWindow()
		return
	}

	s.coord.OnGateChange(s.runCtx, false)
	for _, id := range s.pool.CancelPending() {
		if it := s.items[id]; it != nil {
			_ = it.Cancel()
		}
	}
	if active := s.pool.Active(); active != "" {
		_ = s.pool.Pause(active)
	}
	for id := range s.retries {
		s.cancelRetry(id)
	}
	s.asm.Trigger()
}

// sink adapts the surface to subscription.Sink without exporting the methods.
type sink struct{ s *Surface }

func (k sink) Ingest(items []model.ContentItem) int { return k.s.ingest(items) }

func (k sink) PageChanged(p subscription.Page) {
	k.s.asm.SetPage(p.Cursor, p.HasMore, p.LoadingMore)
}

func (s *Surface) ingest(items []model.ContentItem) int {
	accepted := 0
	for _, it := range items {
		res := s.dedup.Ingest(it)
		metrics.RecordDedupOutcome(s.id, string(res.Outcome))
		if res.Replaced != "" {
			s.forget(res.Replaced)
			if s.focus == res.Replaced {
				s.focus = it.ID
			}
		}
		if res.Stored() {
			accepted++
		}
	}
	if accepted > 0 {
		s.asm.Trigger()
		s.applyWindow()
	}
	return accepted
}

func (s *Surface) status(id string) (model.ItemStatus, bool) {
	it, ok := s.items[id]
	if !ok {
		return model.ItemStatus{}, false
	}
	return it.Status(), true
}

// do runs fn on the loop and maps a stopped loop to ErrClosed.
func (s *Surface) do(ctx context.Context, fn func()) error {
	err := s.loop.Do(ctx, fn)
	if errors.Is(err, loop.ErrStopped) {
		return ErrClosed
	}
	return err
}

// Snapshots subscribes to feed snapshots, latest-wins.
func (s *Surface) Snapshots(ctx context.Context) *bus.Subscription[model.FeedSnapshot] {
	return s.asm.Subscribe(ctx)
}

// Current returns the last emitted snapshot.
func (s *Surface) Current() model.FeedSnapshot {
	return s.asm.Current()
}

// LoadMore pages older content. Concurrent calls share one request.
func (s *Surface) LoadMore(ctx context.Context) (subscription.LoadResult, error) {
	res, err := s.coord.LoadMore(ctx)
	if errors.Is(err, loop.ErrStopped) {
		return res, ErrClosed
	}
	return res, err
}

// Refresh re-reads the feed from the newest position and re-freezes the
// seen ordering.
func (s *Surface) Refresh(ctx context.Context) error {
	return s.do(ctx, func() {
		s.coord.Refresh()
		s.asm.SetSeen(s.deps.Seen.Freeze())
		s.asm.Flush()
		s.applyWindow()
	})
}

// MarkActive sets the surface-active readiness signal.
func (s *Surface) MarkActive(active bool) {
	s.active.Set(active)
}

// MarkSeen records that the user viewed id. The current order is kept until
// the next activation or refresh.
func (s *Surface) MarkSeen(ctx context.Context, id string) {
	s.deps.Seen.MarkSeen(ctx, id)
}

// Focus moves the preload window to id and makes it the playing item.
func (s *Surface) Focus(ctx context.Context, id string) error {
	var err error
	if derr := s.do(ctx, func() {
		if _, ok := s.dedup.Get(id); !ok {
			err = ErrUnknownItem
			return
		}
		s.focus = id
		s.applyWindow()
	}); derr != nil {
		return derr
	}
	return err
}

// Retry re-attempts a failed item on user request.
func (s *Surface) Retry(ctx context.Context, id string) error {
	var err error
	if derr := s.do(ctx, func() {
		it, ok := s.items[id]
		if !ok {
			err = ErrUnknownItem
			return
		}
		if err = it.UserRetry(); err != nil {
			return
		}
		s.cancelRetry(id)
		s.preload(id)
		s.asm.Trigger()
	}); derr != nil {
		return derr
	}
	return err
}

// ApplyPolicy changes runtime limits. Zero fields keep their current value,
// so the retry ceiling never drops below one.
func (s *Surface) ApplyPolicy(ctx context.Context, p Policy) error {
	return s.do(ctx, func() {
		if p.Debounce > 0 {
			s.asm.SetWindow(p.Debounce)
		}
		if p.MaxRetries > 0 {
			s.maxRetries = p.MaxRetries
			for _, it := range s.items {
				it.SetMaxRetries(p.MaxRetries)
			}
		}
		if p.RetryBackoff != (subscription.BackoffConfig{}) {
			s.retryCfg = p.RetryBackoff
		}
		if p.Filter != nil {
			s.dedup.SetPolicy(p.Filter)
			removed := 0
			for _, it := range s.dedup.Items() {
				if !p.Filter(it) {
					s.dedup.Remove(it.ID)
					s.forget(it.ID)
					if s.focus == it.ID {
						s.focus = ""
					}
					removed++
				}
			}
			if removed > 0 {
				s.asm.Trigger()
			}
		}
		s.logger.Info().
			Dur("debounce", s.asm.Debouncer().Window()).
			Int("max_retries", s.maxRetries).
			Msg("surface policy applied")
	})
}
