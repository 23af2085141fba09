// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package lifecycle

import (
	"errors"
	"testing"

	"github.com/ManuGH/clipfeed/internal/feed/model"
	"github.com/ManuGH/clipfeed/internal/fsm"
	"github.com/ManuGH/clipfeed/internal/metrics"
	"github.com/ManuGH/clipfeed/internal/playback"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var errFlaky = &playback.MediaError{Kind: playback.Transient, Ref: "r", Err: errors.New("reset")}

func newItem(max int) *Item {
	return New("item-1", max, zerolog.Nop())
}

func TestHappyPath(t *testing.T) {
	it := newItem(3)
	require.NoError(t, it.EnterWindow())
	require.NoError(t, it.Acquired())
	assert.Equal(t, model.StateReady, it.State())
	assert.Equal(t, model.PresentPlayer, it.Status().Presentation)

	require.NoError(t, it.Evict())
	assert.Equal(t, model.StateDisposed, it.State())
	require.NoError(t, it.EnterWindow())
	assert.Equal(t, model.StateLoading, it.State())
}

func TestTransientFailuresEscalateAfterCeiling(t *testing.T) {
	it := newItem(3)
	require.NoError(t, it.EnterWindow())

	for i := 1; i <= 3; i++ {
		d, err := it.Fail(errFlaky)
		require.NoError(t, err)
		require.Equal(t, RetryLater, d)
		assert.Equal(t, model.StateFailed, it.State())
		assert.Equal(t, model.PresentSpinner, it.Status().Presentation)
		require.NoError(t, it.Retry())
		assert.Equal(t, i, it.Retries())
	}

	d, err := it.Fail(errFlaky)
	require.NoError(t, err)
	assert.Equal(t, GiveUp, d)
	assert.Equal(t, model.StatePermanentlyFailed, it.State())
	assert.Equal(t, model.PresentPlaceholder, it.Status().Presentation)
	assert.Contains(t, it.Status().Error, "reset")
}

func TestPermanentFailureSkipsRetries(t *testing.T) {
	it := newItem(3)
	require.NoError(t, it.EnterWindow())
	d, err := it.Fail(&playback.MediaError{Kind: playback.Malformed, Ref: "x.bad"})
	require.NoError(t, err)
	assert.Equal(t, GiveUp, d)
	assert.Equal(t, model.StatePermanentlyFailed, it.State())
	assert.Equal(t, 0, it.Retries())
}

func TestRetryGuard(t *testing.T) {
	it := newItem(0)
	require.NoError(t, it.EnterWindow())
	require.NoError(t, it.Fire(EventFail))
	err := it.Retry()
	assert.ErrorIs(t, err, ErrRetryLimit)
	assert.Equal(t, model.StateFailed, it.State())
}

func TestUserRetryResetsOnlyFromPermanentFailure(t *testing.T) {
	it := newItem(1)
	require.NoError(t, it.EnterWindow())
	_, _ = it.Fail(errFlaky)
	require.NoError(t, it.Retry())
	assert.Equal(t, 1, it.Retries())

	d, _ := it.Fail(errFlaky)
	require.Equal(t, GiveUp, d)
	require.NoError(t, it.UserRetry())
	assert.Equal(t, 0, it.Retries())

	_, _ = it.Fail(errFlaky)
	require.Equal(t, model.StateFailed, it.State())
	require.NoError(t, it.UserRetry())
	assert.Equal(t, model.StateLoading, it.State())
	assert.Equal(t, 0, it.Retries(), "user retry from failed keeps the count")
}

func TestInvalidTransitionsAreRejectedAndCounted(t *testing.T) {
	before := testutil.ToFloat64(metrics.InvalidTransitionsTotal.WithLabelValues("not_loaded", "acquired"))

	it := newItem(3)
	err := it.Acquired()
	assert.ErrorIs(t, err, fsm.ErrInvalidTransition)
	assert.Equal(t, model.StateNotLoaded, it.State())

	after := testutil.ToFloat64(metrics.InvalidTransitionsTotal.WithLabelValues("not_loaded", "acquired"))
	assert.Equal(t, before+1, after)

	// ready -> loading is not an edge.
	require.NoError(t, it.EnterWindow())
	require.NoError(t, it.Acquired())
	assert.ErrorIs(t, it.EnterWindow(), fsm.ErrInvalidTransition)
	assert.Equal(t, model.StateReady, it.State())
}

func TestCancelDisposesPendingLoad(t *testing.T) {
	it := newItem(3)
	require.NoError(t, it.EnterWindow())
	require.NoError(t, it.Cancel())
	assert.Equal(t, model.StateDisposed, it.State())
	assert.ErrorIs(t, it.Cancel(), fsm.ErrInvalidTransition)
}

// Every state maps to a presentation through the exhaustive visitor.
func TestEveryStateHasPresentation(t *testing.T) {
	for _, s := range model.AllStates {
		assert.NotEmpty(t, model.Present(s), s)
	}
}
