// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package pool

import (
	"context"
	"testing"
	"time"

	"github.com/ManuGH/clipfeed/internal/playback"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
)

type harness struct {
	t      *testing.T
	engine *playback.Stub
	pool   *Pool
	done   chan Completion
}

func newHarness(t *testing.T, capacity int) *harness {
	h := &harness{
		t:      t,
		engine: playback.NewStub(playback.StubConfig{}),
		done:   make(chan Completion, 16),
	}
	h.pool = New(Config{
		Engine:   h.engine,
		Capacity: capacity,
		Surface:  "test",
		Deliver: func(c Completion) bool {
			h.done <- c
			return true
		},
		Logger: zerolog.Nop(),
	})
	t.Cleanup(func() {
		h.pool.Close()
		h.pool.Wait()
	})
	return h
}

// settle waits for the next completion and applies it like the loop would.
func (h *harness) settle() (Completion, Resolution) {
	h.t.Helper()
	select {
	case c := <-h.done:
		return c, h.pool.Complete(c)
	case <-time.After(2 * time.Second):
		h.t.Fatal("no completion delivered")
		return Completion{}, Discarded
	}
}

func (h *harness) load(id string) {
	h.t.Helper()
	_, err := h.pool.Preload(context.Background(), id, id+".mp4")
	require.NoError(h.t, err)
	c, res := h.settle()
	require.Equal(h.t, id, c.ItemID)
	require.Equal(h.t, Ready, res)
}

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

func TestActiveItemIsNeverEvicted(t *testing.T) {
	h := newHarness(t, 2)
	h.load("1")
	h.load("2")
	require.NoError(t, h.pool.Resume("1"))

	out, err := h.pool.Preload(context.Background(), "3", "3.mp4")
	require.NoError(t, err)
	require.Len(t, out.Evicted, 1)
	assert.Equal(t, "2", out.Evicted[0].ItemID)
	assert.Equal(t, Resident, out.Evicted[0].Status)

	_, res := h.settle()
	assert.Equal(t, Ready, res)
	assert.True(t, h.pool.Has("1"))
	assert.False(t, h.pool.Has("2"))
	assert.ElementsMatch(t, []string{"1", "3"}, h.pool.Resident())
	assert.Equal(t, 2, h.engine.Live())
}

func TestLRUOrderFollowsUse(t *testing.T) {
	h := newHarness(t, 2)
	h.load("a")
	h.load("b")
	// Touch a so b becomes least recently used.
	_, err := h.pool.Preload(context.Background(), "a", "a.mp4")
	require.NoError(t, err)

	out, err := h.pool.Preload(context.Background(), "c", "c.mp4")
	require.NoError(t, err)
	require.Len(t, out.Evicted, 1)
	assert.Equal(t, "b", out.Evicted[0].ItemID)
	h.settle()
}

func TestEvictionIgnoresSlotStatus(t *testing.T) {
	h := newHarness(t, 2)
	h.load("r")
	release := h.engine.Hold()
	_, err := h.pool.Preload(context.Background(), "p", "p.mp4")
	require.NoError(t, err)
	// Touch r so the pending p becomes least recently used.
	_, err = h.pool.Preload(context.Background(), "r", "r.mp4")
	require.NoError(t, err)

	out, err := h.pool.Preload(context.Background(), "n", "n.mp4")
	require.NoError(t, err)
	require.Len(t, out.Evicted, 1)
	assert.Equal(t, Eviction{ItemID: "p", Status: Pending}, out.Evicted[0])
	assert.True(t, h.pool.Has("r"))
	release()

	results := map[string]Resolution{}
	for i := 0; i < 2; i++ {
		c, res := h.settle()
		results[c.ItemID] = res
	}
	assert.Equal(t, map[string]Resolution{"p": Discarded, "n": Ready}, results)
	assert.Equal(t, []string{"n", "r"}, h.pool.Resident())
}

func TestNoCapacityWhenOnlyActiveRemains(t *testing.T) {
	h := newHarness(t, 1)
	h.load("a")
	require.NoError(t, h.pool.Resume("a"))

	_, err := h.pool.Preload(context.Background(), "b", "b.mp4")
	assert.ErrorIs(t, err, ErrNoCapacity)
	assert.True(t, h.pool.Has("a"))
}

func TestReleaseDominatesPendingPreload(t *testing.T) {
	h := newHarness(t, 2)
	release := h.engine.Hold()

	out, err := h.pool.Preload(context.Background(), "x", "x.mp4")
	require.NoError(t, err)
	assert.Equal(t, Pending, out.Status)

	assert.True(t, h.pool.Release("x"))
	assert.False(t, h.pool.Release("x"), "release is idempotent")
	release()

	_, res := h.settle()
	assert.Equal(t, Discarded, res)
	assert.Equal(t, 0, h.engine.Live())
	assert.Equal(t, 0, h.pool.Len())
}

func TestStaleCompletionAfterReplacementIsDiscarded(t *testing.T) {
	h := newHarness(t, 2)
	release := h.engine.Hold()
	_, err := h.pool.Preload(context.Background(), "x", "x.mp4")
	require.NoError(t, err)
	h.pool.Release("x")
	_, err = h.pool.Preload(context.Background(), "x", "x.mp4")
	require.NoError(t, err)
	release()

	results := map[Resolution]int{}
	for i := 0; i < 2; i++ {
		_, res := h.settle()
		results[res]++
	}
	assert.Equal(t, 1, results[Ready])
	assert.Equal(t, 1, results[Discarded])
	assert.Equal(t, 1, h.engine.Live())
}

func TestSingleActivePlayback(t *testing.T) {
	h := newHarness(t, 3)
	h.load("a")
	h.load("b")

	require.NoError(t, h.pool.Resume("a"))
	assert.Equal(t, 1, h.engine.Playing())
	require.NoError(t, h.pool.Resume("b"))
	assert.Equal(t, 1, h.engine.Playing())
	assert.Equal(t, "b", h.pool.Active())

	require.NoError(t, h.pool.Pause("b"))
	assert.Equal(t, 0, h.engine.Playing())
	assert.Equal(t, "", h.pool.Active())
	assert.ErrorIs(t, h.pool.Resume("zzz"), ErrUnknownItem)
}

func TestActivePendingItemPlaysOnCompletion(t *testing.T) {
	h := newHarness(t, 2)
	_, err := h.pool.Preload(context.Background(), "a", "a.mp4")
	require.NoError(t, err)
	require.NoError(t, h.pool.Resume("a"))
	_, res := h.settle()
	assert.Equal(t, Ready, res)
	assert.Equal(t, 1, h.engine.Playing())
}

func TestFailedOpenFreesSlot(t *testing.T) {
	h := newHarness(t, 1)
	_, err := h.pool.Preload(context.Background(), "a", "a.bad")
	require.NoError(t, err)
	c, res := h.settle()
	assert.Equal(t, Failed, res)
	assert.True(t, playback.IsPermanent(c.Err))
	assert.Equal(t, 0, h.pool.Len())
}

func TestFailedOpenClearsActive(t *testing.T) {
	h := newHarness(t, 1)
	_, err := h.pool.Preload(context.Background(), "a", "a.bad")
	require.NoError(t, err)
	require.NoError(t, h.pool.Resume("a"))

	_, res := h.settle()
	assert.Equal(t, Failed, res)
	assert.Equal(t, "", h.pool.Active())

	h.load("b")
	require.NoError(t, h.pool.Resume("b"))
	assert.Equal(t, 1, h.engine.Playing())
}

func TestCancelPending(t *testing.T) {
	h := newHarness(t, 3)
	h.load("a")
	release := h.engine.Hold()
	_, _ = h.pool.Preload(context.Background(), "b", "b.mp4")
	_, _ = h.pool.Preload(context.Background(), "c", "c.mp4")

	canceled := h.pool.CancelPending()
	assert.ElementsMatch(t, []string{"b", "c"}, canceled)
	assert.Equal(t, []string{"a"}, h.pool.Resident())
	release()
	for i := 0; i < 2; i++ {
		_, res := h.settle()
		assert.Equal(t, Discarded, res)
	}
}

func TestDeliverRefusedClosesHandle(t *testing.T) {
	engine := playback.NewStub(playback.StubConfig{})
	p := New(Config{
		Engine:   engine,
		Capacity: 1,
		Deliver:  func(Completion) bool { return false },
		Logger:   zerolog.Nop(),
	})
	_, err := p.Preload(context.Background(), "a", "a.mp4")
	require.NoError(t, err)
	p.Wait()
	assert.Equal(t, 1, engine.Opens())
	assert.Equal(t, 0, engine.Live())
}

func TestClosedPoolRejectsPreload(t *testing.T) {
	h := newHarness(t, 1)
	h.load("a")
	h.pool.Close()
	assert.Equal(t, 0, h.engine.Live())
	_, err := h.pool.Preload(context.Background(), "b", "b.mp4")
	assert.ErrorIs(t, err, ErrClosed)
}
