// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

// Package subscription opens, restores and pages the live stream behind one
// feed surface.
package subscription

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/ManuGH/clipfeed/internal/feed/clock"
	"github.com/ManuGH/clipfeed/internal/feed/loop"
	"github.com/ManuGH/clipfeed/internal/feed/model"
	"github.com/ManuGH/clipfeed/internal/log"
	"github.com/ManuGH/clipfeed/internal/metrics"
	"github.com/ManuGH/clipfeed/internal/source"
	"github.com/ManuGH/clipfeed/internal/telemetry"
	"github.com/cenkalti/backoff/v5"
	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel/codes"
	"golang.org/x/sync/singleflight"
	"golang.org/x/time/rate"
)

// ErrInactive is returned by LoadMore while the gate is closed.
var ErrInactive = errors.New("subscription inactive")

const (
	maxBatch    = 64
	tracerName  = "clipfeed/subscription"
	defaultRate = 2
)

// State of the coordinator.
type State string

const (
	StateInactive State = "inactive"
	StateActive   State = "active"
)

// Page is the pagination view handed to the sink.
type Page struct {
	Cursor      model.Cursor
	HasMore     bool
	LoadingMore bool
}

// Sink receives stream output. Both methods run on the surface loop.
type Sink interface {
	// Ingest offers items to the canonical set and returns how many were accepted.
	Ingest(items []model.ContentItem) int
	PageChanged(p Page)
}

// LoadResult reports a finished loadMore.
type LoadResult struct {
	Added    int          `json:"added"`
	Received int          `json:"received"`
	HasMore  bool         `json:"has_more"`
	Cursor   model.Cursor `json:"cursor"`
	// Shared is true for callers that joined an in-flight request.
	Shared bool `json:"shared"`
	// Canceled is true when deactivation or refresh abandoned the request.
	Canceled bool `json:"canceled"`
}

// BackoffConfig bounds reconnect and retry delays.
type BackoffConfig struct {
	Initial    time.Duration
	Max        time.Duration
	Multiplier float64
	// Jitter is the randomization factor (0 disables it).
	Jitter float64
}

// DefaultBackoff mirrors what relay clients usually do.
func DefaultBackoff() BackoffConfig {
	return BackoffConfig{Initial: 500 * time.Millisecond, Max: 30 * time.Second, Multiplier: 2, Jitter: 0.2}
}

// Build returns a reset exponential backoff for b.
func (b BackoffConfig) Build() *backoff.ExponentialBackOff {
	eb := backoff.NewExponentialBackOff()
	if b.Initial > 0 {
		eb.InitialInterval = b.Initial
	}
	if b.Max > 0 {
		eb.MaxInterval = b.Max
	}
	if b.Multiplier > 0 {
		eb.Multiplier = b.Multiplier
	}
	eb.RandomizationFactor = b.Jitter
	eb.Reset()
	return eb
}

// Config wires a Coordinator.
type Config struct {
	SurfaceID  string
	Source     source.Source
	Descriptor model.Descriptor
	Loop       *loop.Loop
	Sink       Sink
	Clock      clock.Scheduler
	Backoff    BackoffConfig
	// LoadMoreRate limits source page requests per second; 0 uses the default.
	LoadMoreRate float64
	// LoadMoreTries bounds attempts per loadMore, including the first.
	LoadMoreTries uint
	Logger        zerolog.Logger
}

// Coordinator owns the subscription of one surface. OnGateChange and Refresh
// must run on the surface loop; LoadMore may be called from any goroutine.
type Coordinator struct {
	cfg     Config
	desc    model.Descriptor
	key     string
	logger  zerolog.Logger
	flight  singleflight.Group
	limiter *rate.Limiter

	// loop-owned
	state       State
	epoch       uint64
	runCtx      context.Context
	cancel      context.CancelFunc
	sub         *source.Subscription
	reconnect   clock.Timer
	retry       *backoff.ExponentialBackOff
	cursor      model.Cursor
	hasMore     bool
	loadingMore bool
}

// New creates an inactive coordinator.
func New(cfg Config) (*Coordinator, error) {
	if cfg.Source == nil || cfg.Loop == nil || cfg.Sink == nil {
		return nil, errors.New("subscription: source, loop and sink are required")
	}
	desc := cfg.Descriptor.Normalize()
	if err := desc.Validate(); err != nil {
		return nil, fmt.Errorf("subscription: %w", err)
	}
	if cfg.Clock == nil {
		cfg.Clock = clock.Real{}
	}
	if cfg.Backoff == (BackoffConfig{}) {
		cfg.Backoff = DefaultBackoff()
	}
	if cfg.LoadMoreTries == 0 {
		cfg.LoadMoreTries = 3
	}
	r := cfg.LoadMoreRate
	if r <= 0 {
		r = defaultRate
	}
	return &Coordinator{
		cfg:     cfg,
		desc:    desc,
		key:     desc.Key(),
		logger:  cfg.Logger.With().Str(log.FieldDescriptor, desc.Name).Logger(),
		limiter: rate.NewLimiter(rate.Limit(r), 1),
		state:   StateInactive,
		retry:   cfg.Backoff.Build(),
		hasMore: true,
	}, nil
}

// Descriptor returns the normalized descriptor.
func (c *Coordinator) Descriptor() model.Descriptor { return c.desc }

// State returns the current state. Loop only.
func (c *Coordinator) State() State { return c.state }

// Page returns the pagination view. Loop only.
func (c *Coordinator) Page() Page {
	return Page{Cursor: c.cursor, HasMore: c.hasMore, LoadingMore: c.loadingMore}
}

// SetBackoff replaces the reconnect policy. Loop only.
func (c *Coordinator) SetBackoff(b BackoffConfig) {
	c.cfg.Backoff = b
	c.retry = b.Build()
}

// OnGateChange activates or deactivates the subscription. Repeated calls with
// the same value are no-ops. Loop only.
func (c *Coordinator) OnGateChange(ctx context.Context, open bool) {
	switch {
	case open && c.state == StateInactive:
		c.state = StateActive
		c.runCtx, c.cancel = context.WithCancel(ctx)
		c.epoch++
		c.retry.Reset()
		metrics.SetSubscriptionActive(c.cfg.SurfaceID, true)
		c.logger.Info().Str(log.FieldEvent, "subscription.activated").Msg("subscription activated")
		c.open(c.epoch)
	case !open && c.state == StateActive:
		c.state = StateInactive
		c.epoch++
		c.stopReconnect()
		c.closeStream()
		c.cancel()
		if c.loadingMore {
			c.loadingMore = false
			c.cfg.Sink.PageChanged(c.Page())
		}
		metrics.SetSubscriptionActive(c.cfg.SurfaceID, false)
		c.logger.Info().Str(log.FieldEvent, "subscription.deactivated").Msg("subscription deactivated")
	}
}

// Close releases the stream and timers. Call it once the loop has stopped.
func (c *Coordinator) Close() {
	c.stopReconnect()
	c.closeStream()
	if c.cancel != nil {
		c.cancel()
	}
	if c.state == StateActive {
		c.state = StateInactive
		metrics.SetSubscriptionActive(c.cfg.SurfaceID, false)
	}
}

// Refresh drops the cursor and re-issues the subscription. Loop only.
func (c *Coordinator) Refresh() {
	c.cursor = model.Cursor{}
	c.hasMore = true
	c.loadingMore = false
	c.cfg.Sink.PageChanged(c.Page())
	if c.state != StateActive {
		return
	}
	c.epoch++
	c.stopReconnect()
	c.closeStream()
	c.retry.Reset()
	c.open(c.epoch)
}

func (c *Coordinator) open(epoch uint64) {
	ctx := c.runCtx
	go func() {
		spanCtx, span := telemetry.Tracer(tracerName).Start(ctx, "subscription.open")
		span.SetAttributes(telemetry.FeedAttributes(c.cfg.SurfaceID, c.desc.Name, string(c.desc.Category))...)
		sub, err := c.cfg.Source.Subscribe(spanCtx, c.desc)
		if err != nil {
			span.RecordError(err)
			span.SetAttributes(telemetry.ErrorAttributes(err, "subscribe")...)
			span.SetStatus(codes.Error, "subscribe failed")
			l := log.WithTraceContext(spanCtx, c.logger)
			l.Debug().Err(err).Msg("subscribe attempt failed")
		}
		span.End()
		posted := c.cfg.Loop.Post(func() { c.onOpened(epoch, sub, err) })
		if !posted && sub != nil {
			_ = c.cfg.Source.Unsubscribe(sub.ID)
		}
	}()
}

func (c *Coordinator) onOpened(epoch uint64, sub *source.Subscription, err error) {
	if epoch != c.epoch || c.state != StateActive {
		if sub != nil {
			_ = c.cfg.Source.Unsubscribe(sub.ID)
		}
		return
	}
	if err != nil {
		metrics.SubscriptionErrorsTotal.WithLabelValues(c.cfg.SurfaceID, "subscribe").Inc()
		c.logger.Warn().Err(err).Str(log.FieldEvent, "subscription.open_failed").Msg("subscribe failed")
		c.scheduleReconnect(epoch)
		return
	}
	c.sub = sub
	c.retry.Reset()
	c.logger.Debug().Str(log.FieldSubscriptionID, sub.ID).Msg("subscription open")
	go c.pump(c.runCtx, epoch, sub)
}

// pump forwards stream items to the loop in batches.
func (c *Coordinator) pump(ctx context.Context, epoch uint64, sub *source.Subscription) {
	for {
		var batch []model.ContentItem
		select {
		case <-ctx.Done():
			return
		case it, ok := <-sub.Items:
			if !ok {
				var streamErr error
				select {
				case streamErr = <-sub.Err:
				default:
				}
				c.cfg.Loop.Post(func() { c.onStreamEnded(epoch, sub.ID, streamErr) })
				return
			}
			batch = append(batch, it)
		}
	drain:
		for len(batch) < maxBatch {
			select {
			case it, ok := <-sub.Items:
				if !ok {
					break drain
				}
				batch = append(batch, it)
			default:
				break drain
			}
		}
		if !c.cfg.Loop.Post(func() { c.onItems(epoch, batch) }) {
			return
		}
	}
}

func (c *Coordinator) onItems(epoch uint64, batch []model.ContentItem) {
	if epoch != c.epoch || c.state != StateActive {
		return
	}
	c.cfg.Sink.Ingest(batch)
	// Stream and backfill items count as seen history for paging.
	before := c.cursor
	for _, it := range batch {
		c.cursor = c.cursor.Lower(it)
	}
	if c.cursor != before {
		c.cfg.Sink.PageChanged(c.Page())
	}
}

func (c *Coordinator) onStreamEnded(epoch uint64, id string, err error) {
	if epoch != c.epoch || c.state != StateActive || c.sub == nil || c.sub.ID != id {
		return
	}
	c.sub = nil
	_ = c.cfg.Source.Unsubscribe(id)
	metrics.SubscriptionErrorsTotal.WithLabelValues(c.cfg.SurfaceID, "stream").Inc()
	c.logger.Warn().Err(err).
		Str(log.FieldEvent, "subscription.stream_error").
		Str(log.FieldSubscriptionID, id).
		Msg("subscription stream ended, items kept")
	c.scheduleReconnect(epoch)
}

func (c *Coordinator) scheduleReconnect(epoch uint64) {
	d := c.retry.NextBackOff()
	if d == backoff.Stop {
		d = c.retry.MaxInterval
	}
	c.stopReconnect()
	c.reconnect = c.cfg.Clock.AfterFunc(d, func() {
		c.cfg.Loop.Post(func() {
			if epoch != c.epoch || c.state != StateActive {
				return
			}
			c.reconnect = nil
			metrics.SubscriptionReconnectsTotal.WithLabelValues(c.cfg.SurfaceID).Inc()
			c.open(epoch)
		})
	})
	c.logger.Debug().Dur("delay", d).Msg("reconnect scheduled")
}

func (c *Coordinator) stopReconnect() {
	if c.reconnect != nil {
		c.reconnect.Stop()
		c.reconnect = nil
	}
}

func (c *Coordinator) closeStream() {
	if c.sub == nil {
		return
	}
	if err := c.cfg.Source.Unsubscribe(c.sub.ID); err != nil && !errors.Is(err, source.ErrUnknownSubscription) {
		c.logger.Warn().Err(err).Msg("unsubscribe failed")
	}
	c.sub = nil
}

// LoadMore fetches the next older page. Concurrent calls share one request.
// Deactivation while in flight yields Canceled without an error.
func (c *Coordinator) LoadMore(ctx context.Context) (LoadResult, error) {
	ch := c.flight.DoChan(c.key, func() (any, error) {
		return c.loadMore()
	})
	select {
	case r := <-ch:
		res, _ := r.Val.(LoadResult)
		res.Shared = r.Shared
		return res, r.Err
	case <-ctx.Done():
		return LoadResult{}, ctx.Err()
	}
}

func (c *Coordinator) loadMore() (LoadResult, error) {
	var (
		active  bool
		epoch   uint64
		runCtx  context.Context
		cursor  model.Cursor
		hasMore bool
	)
	err := c.cfg.Loop.Do(context.Background(), func() {
		active = c.state == StateActive
		if !active {
			return
		}
		epoch, runCtx, cursor, hasMore = c.epoch, c.runCtx, c.cursor, c.hasMore
		if hasMore {
			c.loadingMore = true
			c.cfg.Sink.PageChanged(c.Page())
		}
	})
	if err != nil {
		return LoadResult{}, err
	}
	if !active {
		return LoadResult{}, ErrInactive
	}
	if !hasMore {
		return LoadResult{Cursor: cursor}, nil
	}

	start := time.Now()
	ctx, span := telemetry.Tracer(tracerName).Start(runCtx, "feed.load_more")
	defer span.End()
	span.SetAttributes(telemetry.FeedAttributes(c.cfg.SurfaceID, c.desc.Name, string(c.desc.Category))...)

	page, fetchErr := c.fetch(ctx, cursor)
	metrics.LoadMoreDuration.WithLabelValues(c.cfg.SurfaceID).Observe(time.Since(start).Seconds())

	var res LoadResult
	err = c.cfg.Loop.Do(context.Background(), func() {
		stale := epoch != c.epoch || c.state != StateActive
		if !stale {
			c.loadingMore = false
		}
		if fetchErr != nil || stale {
			res.Canceled = stale || runCtx.Err() != nil
			if !stale {
				c.cfg.Sink.PageChanged(c.Page())
			}
			return
		}
		res.Received = len(page)
		for _, it := range page {
			c.cursor = c.cursor.Lower(it)
		}
		c.hasMore = len(page) >= c.desc.Limit
		if len(page) > 0 {
			res.Added = c.cfg.Sink.Ingest(page)
		}
		c.cfg.Sink.PageChanged(c.Page())
		res.HasMore, res.Cursor = c.hasMore, c.cursor
	})
	if err != nil {
		return LoadResult{}, err
	}

	switch {
	case res.Canceled:
		metrics.LoadMoreTotal.WithLabelValues(c.cfg.SurfaceID, "canceled").Inc()
		return res, nil
	case fetchErr != nil:
		metrics.LoadMoreTotal.WithLabelValues(c.cfg.SurfaceID, "error").Inc()
		span.RecordError(fetchErr)
		span.SetAttributes(telemetry.ErrorAttributes(fetchErr, "load_more")...)
		span.SetStatus(codes.Error, "load more failed")
		l := log.WithTraceContext(ctx, c.logger)
		l.Warn().Err(fetchErr).Str(log.FieldEvent, "subscription.load_more_failed").Msg("load more failed")
		return res, fmt.Errorf("load more %s: %w", c.desc.Name, fetchErr)
	}
	span.SetAttributes(telemetry.PageAttributes(res.Cursor.Until, res.Received, res.HasMore)...)
	metrics.LoadMoreTotal.WithLabelValues(c.cfg.SurfaceID, "ok").Inc()
	return res, nil
}

func (c *Coordinator) fetch(ctx context.Context, cursor model.Cursor) ([]model.ContentItem, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return nil, err
	}
	attempt := 0
	return backoff.Retry(ctx, func() ([]model.ContentItem, error) {
		attempt++
		page, err := c.cfg.Source.LoadMore(ctx, c.desc, cursor)
		if err != nil && ctx.Err() != nil {
			return nil, backoff.Permanent(ctx.Err())
		}
		if err != nil {
			l := log.WithTraceContext(ctx, c.logger)
			l.Debug().Err(err).Int(log.FieldRetries, attempt).Msg("load more attempt failed")
		}
		return page, err
	},
		backoff.WithBackOff(c.cfg.Backoff.Build()),
		backoff.WithMaxTries(c.cfg.LoadMoreTries),
	)
}
