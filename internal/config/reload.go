// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package config

import (
	"context"
	"fmt"
	"path/filepath"
	"slices"
	"sync"
	"time"

	"github.com/ManuGH/clipfeed/internal/log"
	"github.com/fsnotify/fsnotify"
	"github.com/rs/zerolog"
)

// ReloadDebounce coalesces bursts of file events into one reload.
const ReloadDebounce = 500 * time.Millisecond

// Holder holds configuration with atomic reloading capability.
type Holder struct {
	mu      sync.RWMutex
	current AppConfig
	epoch   uint64
	loader  *Loader
	logger  zerolog.Logger

	listenersMu sync.RWMutex
	listeners   []chan<- AppConfig
}

// NewHolder creates a holder with an already loaded initial config.
func NewHolder(initial AppConfig, loader *Loader) *Holder {
	return &Holder{
		current: initial,
		loader:  loader,
		logger:  log.WithComponent("config"),
	}
}

// Get returns the current configuration.
func (h *Holder) Get() AppConfig {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.current
}

// Epoch increments on every successful reload.
func (h *Holder) Epoch() uint64 {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.epoch
}

// Reload loads and validates the configuration again. On failure the current
// configuration is kept.
func (h *Holder) Reload(_ context.Context) error {
	h.logger.Info().Str(log.FieldEvent, "config.reload_start").Msg("reloading configuration")

	next, err := h.loader.Load()
	if err != nil {
		h.logger.Error().
			Err(err).
			Str(log.FieldEvent, "config.reload_failed").
			Msg("failed to load new configuration")
		return fmt.Errorf("load config: %w", err)
	}

	h.mu.Lock()
	old := h.current
	h.current = next
	h.epoch++
	h.mu.Unlock()

	h.logChanges(old, next)
	h.notifyListeners(next)
	h.logger.Info().
		Str(log.FieldEvent, "config.reload_success").
		Msg("configuration reloaded successfully")
	return nil
}

// Watch reloads on file changes until ctx is done. Without a config file it
// returns immediately.
func (h *Holder) Watch(ctx context.Context) error {
	path := h.loader.Path()
	if path == "" {
		h.logger.Info().
			Str(log.FieldEvent, "config.watcher_disabled").
			Msg("config file watcher disabled (using ENV-only configuration)")
		return nil
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("create watcher: %w", err)
	}
	defer func() { _ = watcher.Close() }()

	// Editors often replace the file, so watch the directory.
	if err := watcher.Add(filepath.Dir(path)); err != nil {
		return fmt.Errorf("watch config dir: %w", err)
	}
	h.logger.Info().
		Str(log.FieldEvent, "config.watcher_started").
		Str(log.FieldPath, path).
		Msg("watching config file for changes")

	target := filepath.Clean(path)
	var timer *time.Timer
	fire := make(chan struct{}, 1)
	defer func() {
		if timer != nil {
			timer.Stop()
		}
	}()

	for {
		select {
		case <-ctx.Done():
			h.logger.Info().Str(log.FieldEvent, "config.watcher_stopped").Msg("config watcher stopped")
			return nil

		case event, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			if filepath.Clean(event.Name) != target {
				continue
			}
			if !event.Has(fsnotify.Write) && !event.Has(fsnotify.Create) && !event.Has(fsnotify.Rename) {
				continue
			}
			h.logger.Debug().
				Str(log.FieldEvent, "config.file_changed").
				Str("op", event.Op.String()).
				Msg("config file changed")
			if timer != nil {
				timer.Stop()
			}
			timer = time.AfterFunc(ReloadDebounce, func() {
				select {
				case fire <- struct{}{}:
				default:
				}
			})

		case <-fire:
			if err := h.Reload(ctx); err != nil {
				h.logger.Error().
					Err(err).
					Str(log.FieldEvent, "config.auto_reload_failed").
					Msg("automatic config reload failed")
			}

		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			h.logger.Error().
				Err(err).
				Str(log.FieldEvent, "config.watcher_error").
				Msg("config watcher error")
		}
	}
}

// RegisterListener registers a channel that receives every reloaded config.
// Sends never block; a full channel misses the update.
func (h *Holder) RegisterListener(ch chan<- AppConfig) {
	h.listenersMu.Lock()
	defer h.listenersMu.Unlock()
	h.listeners = append(h.listeners, ch)
}

func (h *Holder) notifyListeners(next AppConfig) {
	h.listenersMu.RLock()
	defer h.listenersMu.RUnlock()
	for _, ch := range h.listeners {
		select {
		case ch <- next:
		default:
			h.logger.Warn().
				Str(log.FieldEvent, "config.listener_skip").
				Msg("skipped notifying listener (channel full)")
		}
	}
}

// LiveChanges reports whether the fields applied without restart differ.
func LiveChanges(old, next AppConfig) bool {
	return old.Feed.Debounce != next.Feed.Debounce ||
		old.Feed.MaxRetries != next.Feed.MaxRetries ||
		old.Feed.RetryBackoff != next.Feed.RetryBackoff ||
		!slices.Equal(old.Policy.BlockedAuthors, next.Policy.BlockedAuthors) ||
		!slices.Equal(old.Policy.BlockedTags, next.Policy.BlockedTags) ||
		old.Log.Level != next.Log.Level
}

func (h *Holder) logChanges(old, next AppConfig) {
	if old.Feed.Debounce != next.Feed.Debounce {
		h.logger.Info().
			Dur("old", old.Feed.Debounce).
			Dur("new", next.Feed.Debounce).
			Msg("config changed: feed.debounce")
	}
	if old.Feed.MaxRetries != next.Feed.MaxRetries {
		h.logger.Info().
			Int("old", old.Feed.MaxRetries).
			Int("new", next.Feed.MaxRetries).
			Msg("config changed: feed.max_retries")
	}
	if !slices.Equal(old.Policy.BlockedAuthors, next.Policy.BlockedAuthors) ||
		!slices.Equal(old.Policy.BlockedTags, next.Policy.BlockedTags) {
		h.logger.Info().
			Int("authors", len(next.Policy.BlockedAuthors)).
			Int("tags", len(next.Policy.BlockedTags)).
			Msg("config changed: policy")
	}
	if old.Pool.Capacity != next.Pool.Capacity || len(old.Surfaces) != len(next.Surfaces) {
		h.logger.Warn().
			Str(log.FieldEvent, "config.restart_required").
			Msg("pool or surface changes take effect after restart")
	}
}
