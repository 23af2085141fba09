// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package gate

import (
	"context"
	"testing"
	"time"

	"github.com/ManuGH/clipfeed/internal/bus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

func next(t *testing.T, sub *bus.Subscription[bool]) bool {
	t.Helper()
	select {
	case v := <-sub.C():
		return v
	case <-time.After(2 * time.Second):
		t.Fatal("no gate change delivered")
		return false
	}
}

func quiet(t *testing.T, sub *bus.Subscription[bool]) {
	t.Helper()
	select {
	case v := <-sub.C():
		t.Fatalf("unexpected gate change to %v", v)
	case <-time.After(50 * time.Millisecond):
	}
}

func start(t *testing.T, g *Gate) (*bus.Subscription[bool], func()) {
	ctx, cancel := context.WithCancel(context.Background())
	sub := g.Watch(ctx)
	done := make(chan struct{})
	go func() {
		defer close(done)
		_ = g.Run(ctx)
	}()
	return sub, func() {
		cancel()
		<-done
		_ = sub.Close()
	}
}

func TestGateFailsClosed(t *testing.T) {
	ready := NewSignal(SignalServiceReady)
	fg := NewSignal(SignalForeground)
	g := New("surface-1", ready, fg)
	sub, stop := start(t, g)
	defer stop()

	ready.Set(true)
	quiet(t, sub)
	assert.False(t, g.Value())
}

func TestGateNotifiesOncePerChange(t *testing.T) {
	ready := NewSignal(SignalServiceReady)
	fg := NewSignal(SignalForeground)
	active := NewSignal(SignalSurfaceActive)
	ready.Set(true)
	active.Set(true)

	g := New("surface-1", ready, fg, active)
	sub, stop := start(t, g)
	defer stop()

	// [ready=true, foreground=false]: nothing to report yet.
	quiet(t, sub)

	fg.Set(true)
	assert.True(t, next(t, sub))
	fg.Set(true)
	quiet(t, sub)

	active.Set(false)
	assert.False(t, next(t, sub))
	quiet(t, sub)
	assert.False(t, g.Value())
}

func TestSharedSignalDrivesSeveralGates(t *testing.T) {
	fg := NewSignal(SignalForeground)
	a := NewSignal(SignalSurfaceActive)
	b := NewSignal(SignalSurfaceActive)
	a.Set(true)
	b.Set(true)

	ga := New("a", fg, a)
	gb := New("b", fg, b)
	subA, stopA := start(t, ga)
	defer stopA()
	subB, stopB := start(t, gb)
	defer stopB()

	fg.Set(true)
	assert.True(t, next(t, subA))
	assert.True(t, next(t, subB))

	b.Set(false)
	assert.False(t, next(t, subB))
	quiet(t, subA)
}

func TestEmptyGateStaysClosed(t *testing.T) {
	g := New("empty")
	sub, stop := start(t, g)
	defer stop()
	quiet(t, sub)
	require.False(t, g.Value())
}

func TestFlickerIsNeverCoalesced(t *testing.T) {
	fg := NewSignal(SignalForeground)
	active := NewSignal(SignalSurfaceActive)
	fg.Set(true)
	active.Set(true)

	g := New("surface-1", fg, active)
	sub, stop := start(t, g)
	defer stop()
	require.True(t, next(t, sub))

	for i := 0; i < 200; i++ {
		fg.Set(false)
		require.False(t, g.Value(), "closed as soon as an input drops")
		fg.Set(true)
		require.True(t, g.Value())

		require.False(t, next(t, sub), "round %d", i)
		require.True(t, next(t, sub), "round %d", i)
	}
	quiet(t, sub)
}

func TestGateClosesWhenRunStops(t *testing.T) {
	fg := NewSignal(SignalForeground)
	fg.Set(true)
	g := New("surface-1", fg)
	sub, stop := start(t, g)
	require.True(t, next(t, sub))
	stop()

	assert.False(t, g.Value())
	fg.Set(false)
	fg.Set(true)
	assert.False(t, g.Value(), "detached gate ignores its inputs")
}

func TestRunTwiceFails(t *testing.T) {
	fg := NewSignal(SignalForeground)
	fg.Set(true)
	g := New("surface-1", fg)
	sub, stop := start(t, g)
	defer stop()
	require.True(t, next(t, sub))
	assert.Error(t, g.Run(context.Background()))
}

func TestSignalWatchSeesChanges(t *testing.T) {
	fg := NewSignal(SignalForeground)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	w := fg.Watch(ctx)
	defer w.Close()

	fg.Set(true)
	fg.Set(true)
	assert.True(t, next(t, w))
	quiet(t, w)
	assert.Equal(t, SignalForeground, fg.Name())
}
