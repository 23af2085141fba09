// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package config

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newHolder(t *testing.T, body string) (*Holder, string) {
	t.Helper()
	path := writeConfig(t, body)
	loader := NewLoader(path, "")
	cfg, err := loader.Load()
	require.NoError(t, err)
	return NewHolder(cfg, loader), path
}

func TestHolderReloadNotifiesListeners(t *testing.T) {
	h, path := newHolder(t, "feed:\n  debounce: 250ms\n")
	ch := make(chan AppConfig, 1)
	h.RegisterListener(ch)

	require.NoError(t, os.WriteFile(path, []byte("feed:\n  debounce: 900ms\n"), 0o600))
	require.NoError(t, h.Reload(context.Background()))

	assert.Equal(t, 900*time.Millisecond, h.Get().Feed.Debounce)
	assert.Equal(t, uint64(1), h.Epoch())
	select {
	case got := <-ch:
		assert.Equal(t, 900*time.Millisecond, got.Feed.Debounce)
	default:
		t.Fatal("listener not notified")
	}
}

func TestHolderKeepsConfigOnInvalidReload(t *testing.T) {
	h, path := newHolder(t, "feed:\n  max_retries: 4\n")
	require.NoError(t, os.WriteFile(path, []byte("feed:\n  max_retries: 0\n"), 0o600))

	require.Error(t, h.Reload(context.Background()))
	assert.Equal(t, 4, h.Get().Feed.MaxRetries)
	assert.Zero(t, h.Epoch())
}

func TestHolderSkipsFullListeners(t *testing.T) {
	h, _ := newHolder(t, "")
	ch := make(chan AppConfig)
	h.RegisterListener(ch)
	require.NoError(t, h.Reload(context.Background()))
}

func TestHolderWatchReloadsOnWrite(t *testing.T) {
	h, path := newHolder(t, "feed:\n  debounce: 250ms\n")
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- h.Watch(ctx) }()
	t.Cleanup(func() {
		cancel()
		require.NoError(t, <-done)
	})

	// Give the watcher a moment to register before writing.
	time.Sleep(50 * time.Millisecond)
	require.NoError(t, os.WriteFile(path, []byte("feed:\n  debounce: 2s\n"), 0o600))

	require.Eventually(t, func() bool {
		return h.Get().Feed.Debounce == 2*time.Second
	}, 5*time.Second, 20*time.Millisecond)
}

func TestHolderWatchWithoutFile(t *testing.T) {
	h := NewHolder(Default(), NewLoader("", ""))
	assert.NoError(t, h.Watch(context.Background()))
}

func TestLiveChanges(t *testing.T) {
	a := Default()
	b := Default()
	assert.False(t, LiveChanges(a, b))
	b.Policy.BlockedTags = []string{"nsfw"}
	assert.True(t, LiveChanges(a, b))
}
