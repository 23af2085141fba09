// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

// Package daemon owns the clipfeedd runtime: feed surfaces, the control API,
// config reload and the synthetic source.
package daemon

import (
	"context"
	"fmt"
	"net"
	"os"
	"os/signal"
	"sync"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/ManuGH/clipfeed/internal/api"
	"github.com/ManuGH/clipfeed/internal/config"
	"github.com/ManuGH/clipfeed/internal/feed/clock"
	"github.com/ManuGH/clipfeed/internal/feed/gate"
	"github.com/ManuGH/clipfeed/internal/feed/seen"
	"github.com/ManuGH/clipfeed/internal/feed/subscription"
	"github.com/ManuGH/clipfeed/internal/feed/surface"
	"github.com/ManuGH/clipfeed/internal/health"
	"github.com/ManuGH/clipfeed/internal/log"
	"github.com/ManuGH/clipfeed/internal/playback"
	"github.com/ManuGH/clipfeed/internal/policy"
	"github.com/ManuGH/clipfeed/internal/source"
	"github.com/ManuGH/clipfeed/internal/telemetry"
	"github.com/ManuGH/clipfeed/internal/validate"
	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"
)

// Deps are optional collaborators, mostly for tests.
type Deps struct {
	// Holder enables live config reload.
	Holder *config.Holder
	// Listener overrides cfg.API.Listen.
	Listener net.Listener
	Clock    clock.Scheduler
	// Source and Engine replace the in-process relay and stub engine.
	Source source.Source
	Engine playback.Engine
}

// App owns the long-lived runtime lifecycle.
type App struct {
	cfg    config.AppConfig
	deps   Deps
	logger zerolog.Logger

	relay    *source.Memory
	src      source.Source
	engine   playback.Engine
	seen     *seen.Tracker
	ready    *gate.Signal
	fg       *gate.Signal
	surfaces []*surface.Surface
	byID     map[string]*surface.Surface
	server   *api.Server

	running      atomic.Bool
	reloadSignal os.Signal

	mu    sync.Mutex
	hooks []namedHook
}

// New builds every component from cfg. Nothing runs until Run.
func New(ctx context.Context, cfg config.AppConfig, deps Deps) (*App, error) {
	if len(cfg.Surfaces) == 0 {
		return nil, ErrNoSurfaces
	}
	a := &App{
		cfg:          cfg,
		deps:         deps,
		logger:       log.WithComponent("daemon"),
		ready:        gate.NewSignal(gate.SignalServiceReady),
		fg:           gate.NewSignal(gate.SignalForeground),
		byID:         make(map[string]*surface.Surface, len(cfg.Surfaces)),
		reloadSignal: syscall.SIGHUP,
	}
	a.fg.Set(true)

	provider, err := telemetry.NewProvider(ctx, cfg.Telemetry)
	if err != nil {
		return nil, fmt.Errorf("telemetry: %w", err)
	}
	a.RegisterShutdownHook("telemetry", provider.Shutdown)

	a.src = deps.Source
	if a.src == nil {
		a.relay = source.NewMemory(source.MemoryConfig{
			LoadMoreLatency: cfg.Source.LoadMoreLatency,
			Backfill:        cfg.Source.Backfill,
		})
		a.src = a.relay
		a.RegisterShutdownHook("relay", func(context.Context) error { return a.relay.Close() })
	}
	a.engine = deps.Engine
	if a.engine == nil {
		a.engine = playback.NewStub(playback.StubConfig{
			Latency:       cfg.Playback.Latency,
			FlakyFailures: cfg.Playback.FlakyFailures,
		})
	}

	store, err := seen.NewStore(ctx, cfg.Seen)
	if err != nil {
		_ = a.runShutdownHooks(ctx)
		return nil, fmt.Errorf("seen store: %w", err)
	}
	a.seen = seen.NewTracker(store)
	a.RegisterShutdownHook("seen", func(context.Context) error { return a.seen.Close() })

	blocklist := policy.NewBlocklist(cfg.Policy.BlockedAuthors, cfg.Policy.BlockedTags)
	for _, sc := range cfg.Surfaces {
		sf, err := surface.New(surfaceConfig(cfg, sc), surface.Deps{
			Source:       a.src,
			Engine:       a.engine,
			Seen:         a.seen,
			Clock:        deps.Clock,
			Policy:       blocklist.Include,
			ServiceReady: a.ready,
			Foreground:   a.fg,
		})
		if err != nil {
			_ = a.runShutdownHooks(ctx)
			return nil, err
		}
		if sc.Active {
			sf.MarkActive(true)
		}
		a.surfaces = append(a.surfaces, sf)
		a.byID[sf.ID()] = sf
	}

	if cfg.API.Enabled {
		tracing := ""
		if cfg.Telemetry.Enabled {
			tracing = cfg.Telemetry.ServiceName
		}
		rate := 0
		if cfg.API.RateLimit.Enabled {
			rate = cfg.API.RateLimit.Requests
		}
		checks := api.DefaultHealth(cfg.Version, registry{a})
		checks.RegisterChecker(health.PingChecker("seen_store", a.seen.Ping))
		a.server = api.New(api.Config{
			Listen:          cfg.API.Listen,
			ShutdownTimeout: cfg.API.ShutdownTimeout,
			RateLimit:       rate,
			RateWindow:      cfg.API.RateLimit.Window,
			TracingService:  tracing,
			Version:         cfg.Version,
			Health:          checks,
		}, registry{a})
	}
	return a, nil
}

func backoffConfig(b config.BackoffConfig) subscription.BackoffConfig {
	return subscription.BackoffConfig{Initial: b.Initial, Max: b.Max, Multiplier: b.Multiplier, Jitter: b.Jitter}
}

func surfaceConfig(cfg config.AppConfig, sc config.SurfaceConfig) surface.Config {
	f := cfg.Feed
	return surface.Config{
		ID:            sc.ID,
		Descriptor:    sc.Descriptor,
		PoolCapacity:  cfg.Pool.Capacity,
		Window:        surface.WindowConfig{Ahead: f.Window.Ahead, Behind: f.Window.Behind, Retain: f.Window.Retain},
		Debounce:      f.Debounce,
		Leading:       f.Leading,
		MaxRetries:    f.MaxRetries,
		RetryBackoff:  backoffConfig(f.RetryBackoff),
		StreamBackoff: backoffConfig(f.StreamBackoff),
		LoadMoreRate:  f.LoadMoreRate,
		LoadMoreTries: uint(max(f.LoadMoreTries, 1)),
	}
}

// Run starts every subsystem and blocks until ctx is cancelled or one of
// them fails.
func (a *App) Run(ctx context.Context) error {
	if !a.running.CompareAndSwap(false, true) {
		return ErrAlreadyRunning
	}
	g, gctx := errgroup.WithContext(ctx)

	for _, sf := range a.surfaces {
		g.Go(func() error { return sf.Run(gctx) })
	}

	// Surfaces stay gated until the seen history is loaded.
	g.Go(func() error {
		if err := a.seen.Load(gctx); err != nil {
			a.logger.Warn().Err(err).Str(log.FieldEvent, "seen.load_failed").Msg("starting without seen history")
		}
		a.ready.Set(true)
		a.logger.Info().
			Int("surfaces", len(a.surfaces)).
			Int("seen", a.seen.Len()).
			Str(log.FieldEvent, "daemon.ready").
			Msg("service ready")
		return nil
	})

	if a.server != nil {
		g.Go(func() error {
			if a.deps.Listener != nil {
				return a.server.Serve(gctx, a.deps.Listener)
			}
			return a.server.Run(gctx)
		})
	}

	if a.relay != nil && a.cfg.Source.Generator.Enabled {
		gen := source.NewGenerator(a.relay, source.GeneratorConfig{
			Interval:    a.cfg.Source.Generator.Interval,
			Authors:     a.cfg.Source.Generator.Authors,
			Hashtags:    a.cfg.Source.Generator.Hashtags,
			FailureRate: a.cfg.Source.Generator.FailureRate,
			Seed:        a.cfg.Source.Generator.Seed,
		})
		g.Go(func() error { return gen.Run(gctx) })
	}

	if h := a.deps.Holder; h != nil {
		g.Go(func() error {
			if err := h.Watch(gctx); err != nil {
				a.logger.Warn().Err(err).Str(log.FieldEvent, "config.watcher_start_failed").Msg("failed to start config watcher")
			}
			return nil
		})
		g.Go(func() error { return a.applyReloads(gctx, h) })
		g.Go(func() error { return a.reloadOnSignal(gctx, h) })
	}

	err := g.Wait()
	a.ready.Set(false)

	shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
	defer cancel()
	if herr := a.runShutdownHooks(shutdownCtx); herr != nil && err == nil {
		err = herr
	}
	a.logger.Info().Str(log.FieldEvent, "daemon.stopped").Msg("daemon stopped")
	return err
}

// applyReloads pushes live-adjustable settings into every surface.
func (a *App) applyReloads(ctx context.Context, h *config.Holder) error {
	ch := make(chan config.AppConfig, 1)
	h.RegisterListener(ch)
	prev := h.Get()
	for {
		select {
		case <-ctx.Done():
			return nil
		case next := <-ch:
			if config.LiveChanges(prev, next) {
				a.ApplyConfig(ctx, next)
			}
			prev = next
		}
	}
}

// ApplyConfig applies the live part of cfg to every surface.
func (a *App) ApplyConfig(ctx context.Context, cfg config.AppConfig) {
	if lvl, err := validate.ParseLogLevel(cfg.Log.Level); err == nil {
		zerolog.SetGlobalLevel(lvl.Zerolog())
	}
	blocklist := policy.NewBlocklist(cfg.Policy.BlockedAuthors, cfg.Policy.BlockedTags)
	p := surface.Policy{
		Debounce:     cfg.Feed.Debounce,
		MaxRetries:   cfg.Feed.MaxRetries,
		RetryBackoff: backoffConfig(cfg.Feed.RetryBackoff),
		Filter:       blocklist.Include,
	}
	for _, sf := range a.surfaces {
		if err := sf.ApplyPolicy(ctx, p); err != nil {
			a.logger.Warn().Err(err).Str(log.FieldSurfaceID, sf.ID()).Msg("apply policy")
		}
	}
}

func (a *App) reloadOnSignal(ctx context.Context, h *config.Holder) error {
	if a.reloadSignal == nil {
		return nil
	}
	hup := make(chan os.Signal, 1)
	signal.Notify(hup, a.reloadSignal)
	defer signal.Stop(hup)
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-hup:
			a.logger.Info().
				Str(log.FieldEvent, "config.reload_signal").
				Str("signal", a.reloadSignal.String()).
				Msg("received reload signal, reloading config")
			if err := h.Reload(ctx); err != nil {
				a.logger.Warn().Err(err).Str(log.FieldEvent, "config.reload_failed").Msg("config reload failed")
			}
		}
	}
}

// Relay returns the in-process relay, or nil when an external source is used.
func (a *App) Relay() *source.Memory { return a.relay }

// Surface returns the surface with id.
func (a *App) Surface(id string) (*surface.Surface, bool) {
	sf, ok := a.byID[id]
	return sf, ok
}

// Surfaces lists surfaces in configuration order.
func (a *App) Surfaces() []*surface.Surface { return a.surfaces }

// SetForeground sets the process-wide foreground signal.
func (a *App) SetForeground(fg bool) { a.fg.Set(fg) }

// Ready reports whether the service-ready signal is set.
func (a *App) Ready() bool { return a.ready.Value() }

// registry adapts App to api.Registry.
type registry struct{ a *App }

var _ api.Registry = registry{}

func (r registry) Surfaces() []api.Surface {
	out := make([]api.Surface, len(r.a.surfaces))
	for i, sf := range r.a.surfaces {
		out[i] = sf
	}
	return out
}

func (r registry) Surface(id string) (api.Surface, bool) {
	sf, ok := r.a.byID[id]
	if !ok {
		return nil, false
	}
	return sf, true
}

func (r registry) SetForeground(fg bool) { r.a.SetForeground(fg) }
func (r registry) Ready() bool           { return r.a.Ready() }
