// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

// Package seen records which items the user has viewed and moves them behind
// unseen content.
package seen

import (
	"context"
	"fmt"
	"sync"

	"github.com/ManuGH/clipfeed/internal/feed/model"
	"github.com/ManuGH/clipfeed/internal/log"
	"github.com/rs/zerolog"
)

// Set is an immutable point-in-time view of seen identifiers.
type Set map[string]struct{}

// Has reports whether id is in the set. A nil set contains nothing.
func (s Set) Has(id string) bool {
	_, ok := s[id]
	return ok
}

// Tracker is the seen-history of one user. It is safe for concurrent use;
// durable history lives in a Store.
type Tracker struct {
	mu     sync.RWMutex
	ids    map[string]struct{}
	store  Store
	logger zerolog.Logger
}

// NewTracker creates a tracker backed by store. A nil store keeps history in
// memory only.
func NewTracker(store Store) *Tracker {
	if store == nil {
		store = NewMemoryStore()
	}
	return &Tracker{
		ids:    make(map[string]struct{}),
		store:  store,
		logger: log.WithComponent("seen"),
	}
}

// Load merges persisted history into the tracker.
func (t *Tracker) Load(ctx context.Context) error {
	ids, err := t.store.Load(ctx)
	if err != nil {
		return fmt.Errorf("seen: load history: %w", err)
	}
	t.mu.Lock()
	for _, id := range ids {
		t.ids[id] = struct{}{}
	}
	n := len(t.ids)
	t.mu.Unlock()
	t.logger.Debug().Int("count", n).Msg("seen history loaded")
	return nil
}

// MarkSeen records id. Marking twice is a no-op. A failing store is logged;
// the in-memory history is updated regardless.
func (t *Tracker) MarkSeen(ctx context.Context, id string) {
	if id == "" {
		return
	}
	t.mu.Lock()
	_, already := t.ids[id]
	t.ids[id] = struct{}{}
	t.mu.Unlock()
	if already {
		return
	}
	if err := t.store.Add(ctx, id); err != nil {
		t.logger.Warn().Err(err).Str(log.FieldItemID, id).Msg("failed to persist seen item")
	}
}

// IsSeen reports whether id has been marked.
func (t *Tracker) IsSeen(id string) bool {
	t.mu.RLock()
	defer t.mu.RUnlock()
	_, ok := t.ids[id]
	return ok
}

// Len returns the number of seen identifiers.
func (t *Tracker) Len() int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return len(t.ids)
}

// Freeze copies the current history. Feeds reorder against a frozen set so
// items do not jump while the user is scrolling.
func (t *Tracker) Freeze() Set {
	t.mu.RLock()
	defer t.mu.RUnlock()
	out := make(Set, len(t.ids))
	for id := range t.ids {
		out[id] = struct{}{}
	}
	return out
}

// Ping checks the backing store when it supports it.
func (t *Tracker) Ping(ctx context.Context) error {
	if p, ok := t.store.(Pinger); ok {
		return p.Ping(ctx)
	}
	return nil
}

// Close closes the underlying store.
func (t *Tracker) Close() error {
	return t.store.Close()
}

// Reorder returns items with unseen entries first and seen entries after,
// each group keeping its input order.
func Reorder(items []model.ContentItem, seen Set) []model.ContentItem {
	out := make([]model.ContentItem, 0, len(items))
	var tail []model.ContentItem
	for _, it := range items {
		if seen.Has(it.ID) {
			tail = append(tail, it)
			continue
		}
		out = append(out, it)
	}
	return append(out, tail...)
}
