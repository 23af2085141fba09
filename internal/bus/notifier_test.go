// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package bus

import (
	"context"
	"testing"
	"time"

	"github.com/ManuGH/clipfeed/internal/metrics"
	"github.com/prometheus/client_golang/prometheus"
	dto "github.com/prometheus/client_model/go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func getCounterValue(t *testing.T, counter prometheus.Counter) float64 {
	t.Helper()
	metric := &dto.Metric{}
	require.NoError(t, counter.Write(metric))
	return metric.GetCounter().GetValue()
}

func TestOrderedDeliversInOrder(t *testing.T) {
	n := NewNotifier[int]("ordered", Ordered)
	sub := n.Subscribe(context.Background())
	t.Cleanup(func() { _ = sub.Close() })

	for i := 1; i <= 3; i++ {
		require.NoError(t, n.Publish(context.Background(), i))
	}
	assert.Equal(t, 1, <-sub.C())
	assert.Equal(t, 2, <-sub.C())
	assert.Equal(t, 3, <-sub.C())
}

func TestOrderedPublishTimeoutIncrementsDropMetrics(t *testing.T) {
	n := NewNotifier[string]("ordered-timeout", Ordered)
	sub := n.Subscribe(context.Background())
	t.Cleanup(func() { _ = sub.Close() })

	for i := 0; i < cap(sub.C()); i++ {
		require.NoError(t, n.Publish(context.Background(), "msg"))
	}

	initial := getCounterValue(t, metrics.BusDroppedTotal.WithLabelValues("ordered-timeout", "timeout"))

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	err := n.Publish(ctx, "blocked")
	require.ErrorIs(t, err, context.DeadlineExceeded)

	final := getCounterValue(t, metrics.BusDroppedTotal.WithLabelValues("ordered-timeout", "timeout"))
	assert.Greater(t, final, initial)
}

func TestLatestKeepsNewestValue(t *testing.T) {
	n := NewNotifier[int]("latest", Latest)
	sub := n.Subscribe(context.Background())
	t.Cleanup(func() { _ = sub.Close() })

	for i := 1; i <= 5; i++ {
		require.NoError(t, n.Publish(context.Background(), i))
	}
	assert.Equal(t, 5, <-sub.C())
	select {
	case v := <-sub.C():
		t.Fatalf("unexpected extra value %d", v)
	default:
	}
}

func TestClosedSubscriptionDoesNotBlockPublish(t *testing.T) {
	n := NewNotifier[int]("closed", Ordered)
	sub := n.Subscribe(context.Background())
	for i := 0; i < cap(sub.C()); i++ {
		require.NoError(t, n.Publish(context.Background(), i))
	}
	require.NoError(t, sub.Close())
	require.NoError(t, sub.Close())
	assert.Equal(t, 0, n.Len())

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	require.NoError(t, n.Publish(ctx, 99))
}

func TestSubscriptionClosesWithContext(t *testing.T) {
	n := NewNotifier[int]("ctx", Latest)
	ctx, cancel := context.WithCancel(context.Background())
	sub := n.Subscribe(ctx)
	cancel()

	select {
	case <-sub.Done():
	case <-time.After(time.Second):
		t.Fatal("subscription did not close with its context")
	}
	assert.Eventually(t, func() bool { return n.Len() == 0 }, time.Second, 5*time.Millisecond)
}

func TestPublishRejectsNilContext(t *testing.T) {
	n := NewNotifier[int]("nil", Ordered)
	//nolint:staticcheck // exercising the nil guard
	err := n.Publish(nil, 1)
	require.ErrorIs(t, err, ErrNilContext)
}
