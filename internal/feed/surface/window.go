// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package surface

import (
	"errors"

	"github.com/ManuGH/clipfeed/internal/feed/lifecycle"
	"github.com/ManuGH/clipfeed/internal/feed/model"
	"github.com/ManuGH/clipfeed/internal/feed/pool"
	"github.com/ManuGH/clipfeed/internal/log"
	"github.com/cenkalti/backoff/v5"
)

// applyWindow reconciles pool and lifecycles with the focused position.
func (s *Surface) applyWindow() {
	if !s.open {
		return
	}
	order := s.asm.Order()
	if len(order) == 0 {
		return
	}
	pos := indexOf(order, s.focus)
	if pos < 0 {
		pos = 0
		s.focus = order[0].ID
	}

	// Focus first so the active item is never the one evicted for a neighbor.
	s.ensureLoaded(order[pos])
	if err := s.pool.Resume(s.focus); err != nil && !errors.Is(err, pool.ErrUnknownItem) {
		s.logger.Warn().Err(err).Str(log.FieldItemID, s.focus).Msg("resume focused item")
	}
	ahead, behind := s.windowSpan()
	for d := 1; d <= ahead && pos+d < len(order); d++ {
		s.ensureLoaded(order[pos+d])
	}
	for d := 1; d <= behind && pos-d >= 0; d++ {
		s.ensureLoaded(order[pos-d])
	}

	keep := make(map[string]struct{}, 2*s.cfg.Window.Retain+1)
	for d := -s.cfg.Window.Retain; d <= s.cfg.Window.Retain; d++ {
		if i := pos + d; i >= 0 && i < len(order) {
			keep[order[i].ID] = struct{}{}
		}
	}
	for id := range s.items {
		if _, ok := keep[id]; !ok {
			s.forget(id)
		}
	}
	s.asm.Trigger()
}

// windowSpan clamps the preload window to the pool so neighbors never evict
// each other. Items ahead take precedence.
func (s *Surface) windowSpan() (ahead, behind int) {
	room := s.pool.Capacity() - 1
	ahead = min(s.cfg.Window.Ahead, room)
	behind = min(s.cfg.Window.Behind, room-ahead)
	return ahead, behind
}

func indexOf(items []model.ContentItem, id string) int {
	if id == "" {
		return -1
	}
	for i, it := range items {
		if it.ID == id {
			return i
		}
	}
	return -1
}

func (s *Surface) ensureLoaded(item model.ContentItem) {
	it, ok := s.items[item.ID]
	if !ok {
		it = lifecycle.New(item.ID, s.maxRetries, log.WithSurface("lifecycle", s.id))
		s.items[item.ID] = it
	}
	switch it.State() {
	case model.StateNotLoaded, model.StateDisposed:
		if err := it.EnterWindow(); err != nil {
			return
		}
		s.preload(item.ID)
	case model.StateFailed:
		if t := s.retries[item.ID]; t == nil || !t.armed {
			s.scheduleRetry(item.ID)
		}
	}
}

// preload starts an open for an item that is already in loading.
func (s *Surface) preload(id string) {
	item, ok := s.dedup.Get(id)
	it := s.items[id]
	if !ok || it == nil {
		return
	}
	out, err := s.pool.Preload(s.runCtx, id, item.MediaRef)
	for _, ev := range out.Evicted {
		s.onEvicted(ev)
	}
	if err != nil {
		s.logger.Debug().Err(err).Str(log.FieldItemID, id).Msg("preload rejected")
		_ = it.Cancel()
		return
	}
	if out.Status == pool.Resident {
		_ = it.Acquired()
	}
}

func (s *Surface) onEvicted(ev pool.Eviction) {
	it := s.items[ev.ItemID]
	if it == nil {
		return
	}
	if ev.Status == pool.Resident {
		_ = it.Evict()
	} else {
		_ = it.Cancel()
	}
}

// forget destroys all per-item state for id.
func (s *Surface) forget(id string) {
	s.pool.Release(id)
	s.cancelRetry(id)
	delete(s.retries, id)
	delete(s.items, id)
}

func (s *Surface) onCompletion(c pool.Completion) {
	res := s.pool.Complete(c)
	it := s.items[c.ItemID]
	if it == nil || res == pool.Discarded {
		return
	}
	switch res {
	case pool.Ready:
		if t := s.retries[c.ItemID]; t != nil {
			t.backoff.Reset()
		}
		_ = it.Acquired()
	case pool.Failed:
		decision, err := it.Fail(c.Err)
		if err != nil {
			break
		}
		s.logger.Info().
			Err(c.Err).
			Str(log.FieldItemID, c.ItemID).
			Int(log.FieldRetries, it.Retries()).
			Str(log.FieldNewState, string(it.State())).
			Msg("item load failed")
		if decision == lifecycle.RetryLater && s.open {
			s.scheduleRetry(c.ItemID)
		}
	}
	s.asm.Trigger()
}

func (s *Surface) scheduleRetry(id string) {
	t := s.retries[id]
	if t == nil {
		t = &retryTask{backoff: s.retryCfg.Build()}
		s.retries[id] = t
	}
	if t.timer != nil {
		t.timer.Stop()
	}
	delay := t.backoff.NextBackOff()
	if delay == backoff.Stop {
		return
	}
	s.retryGen++
	gen := s.retryGen
	t.gen = gen
	t.armed = true
	t.timer = s.clock.AfterFunc(delay, func() {
		s.loop.Post(func() { s.fireRetry(id, gen) })
	})
}

func (s *Surface) fireRetry(id string, gen uint64) {
	t := s.retries[id]
	if t == nil || t.gen != gen || !t.armed {
		return
	}
	t.armed = false
	t.timer = nil
	it := s.items[id]
	if it == nil || !s.open {
		return
	}
	if err := it.Retry(); err != nil {
		return
	}
	s.preload(id)
	s.asm.Trigger()
}

func (s *Surface) cancelRetry(id string) {
	t := s.retries[id]
	if t == nil {
		return
	}
	if t.timer != nil {
		t.timer.Stop()
		t.timer = nil
	}
	t.armed = false
	t.gen = 0
}
