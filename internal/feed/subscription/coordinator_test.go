// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package subscription

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/ManuGH/clipfeed/internal/feed/clock"
	"github.com/ManuGH/clipfeed/internal/feed/loop"
	"github.com/ManuGH/clipfeed/internal/feed/model"
	"github.com/ManuGH/clipfeed/internal/source"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

type recordingSink struct {
	mu    sync.Mutex
	items []model.ContentItem
	pages []Page
}

func (s *recordingSink) Ingest(items []model.ContentItem) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.items = append(s.items, items...)
	return len(items)
}

func (s *recordingSink) PageChanged(p Page) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.pages = append(s.pages, p)
}

func (s *recordingSink) count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.items)
}

type fixture struct {
	t     *testing.T
	ctx   context.Context
	loop  *loop.Loop
	relay *source.Memory
	sink  *recordingSink
	clock *clock.Fake
	coord *Coordinator
}

func newFixture(t *testing.T, limit int) *fixture {
	return newRelayFixture(t, limit, source.MemoryConfig{})
}

// newBackfillFixture serves the newest page on every new stream, like a relay
// replaying stored events before live ones.
func newBackfillFixture(t *testing.T, limit int) *fixture {
	return newRelayFixture(t, limit, source.MemoryConfig{Backfill: true})
}

func newRelayFixture(t *testing.T, limit int, relay source.MemoryConfig) *fixture {
	ctx, cancel := context.WithCancel(context.Background())
	f := &fixture{
		t:     t,
		ctx:   ctx,
		loop:  loop.New(0, zerolog.Nop()),
		relay: source.NewMemory(relay),
		sink:  &recordingSink{},
		clock: clock.NewFake(time.Unix(0, 0)),
	}
	go func() { _ = f.loop.Run(ctx) }()

	coord, err := New(Config{
		SurfaceID:     "s1",
		Source:        f.relay,
		Descriptor:    model.Descriptor{Name: "home", Category: model.CategoryHome, Limit: limit},
		Loop:          f.loop,
		Sink:          f.sink,
		Clock:         f.clock,
		Backoff:       BackoffConfig{Initial: 100 * time.Millisecond, Max: time.Second, Multiplier: 2},
		LoadMoreRate:  1000,
		LoadMoreTries: 3,
		Logger:        zerolog.Nop(),
	})
	require.NoError(t, err)
	f.coord = coord

	t.Cleanup(func() {
		_ = f.relay.Close()
		cancel()
		<-f.loop.Stopped()
	})
	return f
}

func (f *fixture) onLoop(fn func()) {
	f.t.Helper()
	require.NoError(f.t, f.loop.Do(context.Background(), fn))
}

func (f *fixture) gate(open bool) {
	f.t.Helper()
	f.onLoop(func() { f.coord.OnGateChange(f.ctx, open) })
}

func (f *fixture) eventually(cond func() bool, msg string) {
	f.t.Helper()
	require.Eventually(f.t, cond, 2*time.Second, time.Millisecond, msg)
}

func item(id string, at int64) model.ContentItem {
	return model.ContentItem{ID: id, Author: "a", CreatedAt: at, Kind: source.KindShortVideo, MediaRef: id + ".mp4"}
}

func TestActivationOpensExactlyOnce(t *testing.T) {
	f := newFixture(t, 10)
	f.gate(true)
	f.gate(true)
	f.eventually(func() bool { return f.relay.Active() == 1 }, "subscription opened")
	assert.Equal(t, 1, f.relay.SubscribeCalls())

	f.relay.Publish(item("1", 1))
	f.eventually(func() bool { return f.sink.count() == 1 }, "item delivered")
}

func TestDeactivationDetachesAndKeepsItems(t *testing.T) {
	f := newFixture(t, 10)
	f.gate(true)
	f.eventually(func() bool { return f.relay.Active() == 1 }, "subscription opened")
	f.relay.Publish(item("1", 1))
	f.eventually(func() bool { return f.sink.count() == 1 }, "item delivered")

	f.gate(false)
	f.gate(false)
	assert.Equal(t, 0, f.relay.Active())
	f.relay.Publish(item("2", 2))
	time.Sleep(20 * time.Millisecond)
	assert.Equal(t, 1, f.sink.count())

	var st State
	f.onLoop(func() { st = f.coord.State() })
	assert.Equal(t, StateInactive, st)
}

func TestFlappingGateLeavesNoStrayStream(t *testing.T) {
	f := newFixture(t, 10)
	f.onLoop(func() {
		f.coord.OnGateChange(f.ctx, true)
		f.coord.OnGateChange(f.ctx, false)
	})
	f.eventually(func() bool { return f.relay.SubscribeCalls() == 1 }, "subscribe attempted")
	f.eventually(func() bool { return f.relay.Active() == 0 }, "stale stream closed")
}

func TestConcurrentLoadMoreSharesOneRequest(t *testing.T) {
	f := newBackfillFixture(t, 2)
	f.relay.Publish(item("1", 1), item("2", 2), item("3", 3), item("4", 4), item("5", 5))
	f.gate(true)
	f.eventually(func() bool { return f.sink.count() == 2 }, "backfill delivered")

	release := f.relay.HoldLoadMore()
	results := make(chan LoadResult, 2)
	errs := make(chan error, 2)
	call := func() {
		res, err := f.coord.LoadMore(context.Background())
		results <- res
		errs <- err
	}
	go call()
	f.eventually(func() bool { return f.relay.LoadMoreCalls() == 1 }, "first request in flight")
	go call()
	time.Sleep(20 * time.Millisecond)
	release()

	for i := 0; i < 2; i++ {
		require.NoError(t, <-errs)
		res := <-results
		assert.True(t, res.Shared)
		assert.Equal(t, 2, res.Received)
	}
	assert.Equal(t, 1, f.relay.LoadMoreCalls())
}

func TestDeactivationCancelsLoadMoreWithoutError(t *testing.T) {
	f := newFixture(t, 10)
	f.gate(true)
	release := f.relay.HoldLoadMore()
	defer release()

	done := make(chan struct{})
	var res LoadResult
	var err error
	go func() {
		defer close(done)
		res, err = f.coord.LoadMore(context.Background())
	}()
	f.eventually(func() bool { return f.relay.LoadMoreCalls() == 1 }, "request in flight")
	f.gate(false)
	<-done

	require.NoError(t, err)
	assert.True(t, res.Canceled)
	var page Page
	f.onLoop(func() { page = f.coord.Page() })
	assert.False(t, page.LoadingMore)
}

func TestLoadMoreWhileInactive(t *testing.T) {
	f := newFixture(t, 10)
	_, err := f.coord.LoadMore(context.Background())
	assert.ErrorIs(t, err, ErrInactive)
	assert.Equal(t, 0, f.relay.LoadMoreCalls())
}

func TestLoadMorePaginatesUntilShortPage(t *testing.T) {
	f := newBackfillFixture(t, 2)
	f.relay.Publish(item("1", 10), item("2", 20), item("3", 30), item("4", 40), item("5", 50))
	f.gate(true)
	f.eventually(func() bool { return f.sink.count() == 2 }, "backfill delivered")
	ctx := context.Background()

	res, err := f.coord.LoadMore(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, res.Received)
	assert.True(t, res.HasMore)
	assert.Equal(t, int64(20), res.Cursor.Until)

	res, err = f.coord.LoadMore(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, res.Received)
	assert.False(t, res.HasMore)
	assert.Equal(t, int64(10), res.Cursor.Until)

	res, err = f.coord.LoadMore(ctx)
	require.NoError(t, err)
	assert.Equal(t, 0, res.Received)
	assert.Equal(t, 2, f.relay.LoadMoreCalls(), "exhausted feed does not hit the source")
}

func TestStreamItemsAdvanceCursor(t *testing.T) {
	f := newBackfillFixture(t, 2)
	f.relay.Publish(item("a", 99), item("b", 98), item("c", 97), item("d", 96))
	f.gate(true)
	f.eventually(func() bool { return f.sink.count() == 2 }, "backfill delivered")

	var page Page
	f.onLoop(func() { page = f.coord.Page() })
	assert.Equal(t, model.Cursor{Until: 98, ID: "b"}, page.Cursor)

	res, err := f.coord.LoadMore(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 2, res.Received)
	assert.Equal(t, 2, res.Added, "first page continues below the stream")
	assert.Equal(t, model.Cursor{Until: 96, ID: "d"}, res.Cursor)

	// A live item newer than the cursor never moves it forward.
	f.relay.Publish(item("e", 100))
	f.eventually(func() bool { return f.sink.count() == 5 }, "live item delivered")
	f.onLoop(func() { page = f.coord.Page() })
	assert.Equal(t, model.Cursor{Until: 96, ID: "d"}, page.Cursor)
}

func TestLoadMoreDeliversTiedTimestamps(t *testing.T) {
	f := newBackfillFixture(t, 2)
	f.relay.Publish(item("1", 30), item("2", 20), item("3", 20), item("4", 5))
	f.gate(true)
	f.eventually(func() bool { return f.sink.count() == 2 }, "backfill delivered")

	for i := 0; i < 3; i++ {
		res, err := f.coord.LoadMore(context.Background())
		require.NoError(t, err)
		if !res.HasMore {
			break
		}
	}

	f.sink.mu.Lock()
	ids := make(map[string]int)
	for _, it := range f.sink.items {
		ids[it.ID]++
	}
	f.sink.mu.Unlock()
	assert.Equal(t, map[string]int{"1": 1, "2": 1, "3": 1, "4": 1}, ids, "every item once")
}

func TestLoadMoreRetriesTransientErrors(t *testing.T) {
	f := newBackfillFixture(t, 2)
	f.relay.Publish(item("1", 10), item("2", 20), item("3", 30), item("4", 40), item("5", 50))
	f.gate(true)
	f.eventually(func() bool { return f.sink.count() == 2 }, "backfill delivered")
	// Retry delays come from the backoff config; keep them short.
	f.onLoop(func() {
		f.coord.SetBackoff(BackoffConfig{Initial: time.Millisecond, Max: 2 * time.Millisecond, Multiplier: 1})
	})

	flaky := errors.New("relay timeout")
	f.relay.FailLoadMore(flaky, flaky)
	res, err := f.coord.LoadMore(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 2, res.Received)
	require.True(t, res.HasMore, "a full page leaves history to fetch")
	assert.Equal(t, 3, f.relay.LoadMoreCalls())

	f.relay.FailLoadMore(flaky, flaky, flaky)
	_, err = f.coord.LoadMore(context.Background())
	assert.ErrorIs(t, err, flaky)
	assert.Equal(t, 6, f.relay.LoadMoreCalls(), "every try reached the source")

	var page Page
	f.onLoop(func() { page = f.coord.Page() })
	assert.False(t, page.LoadingMore)
	assert.True(t, page.HasMore)
	assert.Equal(t, model.Cursor{Until: 20, ID: "2"}, page.Cursor, "failure keeps the cursor")
}

func TestStreamErrorReconnectsWithBackoff(t *testing.T) {
	f := newFixture(t, 10)
	f.gate(true)
	f.eventually(func() bool { return f.relay.Active() == 1 }, "subscription opened")
	f.relay.Publish(item("1", 1))
	f.eventually(func() bool { return f.sink.count() == 1 }, "item delivered")

	f.relay.Break(errors.New("connection reset"))
	f.eventually(func() bool { return f.clock.Pending() == 1 }, "reconnect scheduled")
	assert.Equal(t, 1, f.relay.SubscribeCalls())

	f.clock.Advance(100 * time.Millisecond)
	f.eventually(func() bool { return f.relay.Active() == 1 }, "subscription restored")
	assert.Equal(t, 2, f.relay.SubscribeCalls())

	f.relay.Publish(item("2", 2))
	f.eventually(func() bool { return f.sink.count() == 2 }, "items kept and new ones delivered")
}

func TestSubscribeFailureBacksOffExponentially(t *testing.T) {
	f := newFixture(t, 10)
	boom := errors.New("relay down")
	f.relay.FailSubscribe(boom, boom)
	f.gate(true)

	f.eventually(func() bool { return f.clock.Pending() == 1 }, "first retry scheduled")
	f.clock.Advance(100 * time.Millisecond)
	f.eventually(func() bool { return f.relay.SubscribeCalls() == 2 && f.clock.Pending() == 1 }, "second retry scheduled")

	// The second delay doubled: 100ms is not enough.
	f.clock.Advance(100 * time.Millisecond)
	time.Sleep(10 * time.Millisecond)
	assert.Equal(t, 2, f.relay.SubscribeCalls())
	f.clock.Advance(100 * time.Millisecond)
	f.eventually(func() bool { return f.relay.Active() == 1 }, "subscription opened")
}

func TestDeactivationStopsPendingReconnect(t *testing.T) {
	f := newFixture(t, 10)
	f.relay.FailSubscribe(errors.New("relay down"))
	f.gate(true)
	f.eventually(func() bool { return f.clock.Pending() == 1 }, "retry scheduled")
	f.gate(false)
	assert.Equal(t, 0, f.clock.Pending())
}

func TestRefreshResetsCursorAndResubscribes(t *testing.T) {
	f := newFixture(t, 1)
	f.relay.Publish(item("1", 10), item("2", 20))
	f.gate(true)
	f.eventually(func() bool { return f.relay.Active() == 1 }, "subscription opened")

	res, err := f.coord.LoadMore(context.Background())
	require.NoError(t, err)
	require.False(t, res.Cursor.IsZero())

	var page Page
	f.onLoop(func() {
		f.coord.Refresh()
		page = f.coord.Page()
	})
	assert.True(t, page.Cursor.IsZero())
	assert.True(t, page.HasMore)
	f.eventually(func() bool { return f.relay.SubscribeCalls() == 2 && f.relay.Active() == 1 }, "resubscribed")
}

func TestNewValidatesConfig(t *testing.T) {
	_, err := New(Config{})
	assert.Error(t, err)

	_, err = New(Config{
		Source:     source.NewMemory(source.MemoryConfig{}),
		Loop:       loop.New(0, zerolog.Nop()),
		Sink:       &recordingSink{},
		Descriptor: model.Descriptor{Name: "p", Category: model.CategoryProfile},
	})
	assert.Error(t, err, "profile feed without authors")
}
