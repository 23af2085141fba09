// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

// Package pool bounds the playback handles a surface holds at once.
//
// A Pool is owned by its surface loop: every method except the Open
// goroutines it spawns must be called from that loop. Finished opens are
// handed back through the Deliver callback, which is expected to post a
// call to Complete onto the same loop.
package pool

import (
	"container/list"
	"context"
	"errors"
	"sync"

	"github.com/ManuGH/clipfeed/internal/log"
	"github.com/ManuGH/clipfeed/internal/metrics"
	"github.com/ManuGH/clipfeed/internal/playback"
	"github.com/rs/zerolog"
)

var (
	// ErrNoCapacity is returned when every slot is pinned by the active item.
	ErrNoCapacity = errors.New("pool: no evictable slot")
	// ErrUnknownItem is returned for items the pool does not hold.
	ErrUnknownItem = errors.New("pool: unknown item")
	// ErrClosed is returned after Close.
	ErrClosed = errors.New("pool: closed")
)

// Status of a slot.
type Status int

const (
	Pending Status = iota
	Resident
)

func (s Status) String() string {
	if s == Resident {
		return "resident"
	}
	return "pending"
}

// Outcome is the result of Preload.
type Outcome struct {
	Status  Status
	Handle  playback.Handle
	Evicted []Eviction
}

// Eviction names a slot reclaimed to make room.
type Eviction struct {
	ItemID string
	Status Status
}

// Completion reports a finished Open back to the loop.
type Completion struct {
	ItemID string
	Gen    uint64
	Handle playback.Handle
	Err    error
}

// Resolution is what Complete did with a completion.
type Resolution int

const (
	// Ready means the handle is resident.
	Ready Resolution = iota
	// Failed means the open failed; the slot is gone.
	Failed
	// Discarded means the slot was released or replaced; the handle was closed.
	Discarded
)

func (r Resolution) String() string {
	switch r {
	case Ready:
		return "ready"
	case Failed:
		return "failed"
	default:
		return "discarded"
	}
}

// Config wires a Pool.
type Config struct {
	Engine   playback.Engine
	Capacity int
	Surface  string
	// Deliver hands a completion to the owning loop. It returns false when
	// the loop is gone, in which case the opener closes the handle itself.
	Deliver func(Completion) bool
	Logger  zerolog.Logger
}

type slot struct {
	id     string
	status Status
	gen    uint64
	handle playback.Handle
	cancel context.CancelFunc
	elem   *list.Element
}

// Pool is an LRU of playback handles with one active item.
type Pool struct {
	engine   playback.Engine
	capacity int
	surface  string
	deliver  func(Completion) bool
	logger   zerolog.Logger

	slots  map[string]*slot
	lru    *list.List // front = most recently used
	active string
	gen    uint64
	closed bool
	wg     sync.WaitGroup
}

// New creates a pool. Capacity below 1 is raised to 1.
func New(cfg Config) *Pool {
	if cfg.Capacity < 1 {
		cfg.Capacity = 1
	}
	return &Pool{
		engine:   cfg.Engine,
		capacity: cfg.Capacity,
		surface:  cfg.Surface,
		deliver:  cfg.Deliver,
		logger:   cfg.Logger.With().Str(log.FieldComponent, "pool").Logger(),
		slots:    make(map[string]*slot),
		lru:      list.New(),
	}
}

// Preload makes sure id has a resident or pending slot. Existing slots are
// refreshed in the LRU; otherwise room is made by evicting the least recently
// used non-active slot and an Open is started.
func (p *Pool) Preload(ctx context.Context, id, ref string) (Outcome, error) {
	if p.closed {
		return Outcome{}, ErrClosed
	}
	if s, ok := p.slots[id]; ok {
		p.lru.MoveToFront(s.elem)
		return Outcome{Status: s.status, Handle: s.handle}, nil
	}

	var evicted []Eviction
	for len(p.slots) >= p.capacity {
		victim := p.victim()
		if victim == nil {
			return Outcome{Evicted: evicted}, ErrNoCapacity
		}
		evicted = append(evicted, Eviction{ItemID: victim.id, Status: victim.status})
		p.drop(victim, "lru")
	}

	p.gen++
	openCtx, cancel := context.WithCancel(ctx)
	s := &slot{id: id, status: Pending, gen: p.gen, cancel: cancel}
	s.elem = p.lru.PushFront(s)
	p.slots[id] = s

	p.wg.Add(1)
	go p.open(openCtx, Completion{ItemID: id, Gen: s.gen}, ref)

	return Outcome{Status: Pending, Evicted: evicted}, nil
}

func (p *Pool) open(ctx context.Context, c Completion, ref string) {
	defer p.wg.Done()
	c.Handle, c.Err = p.engine.Open(ctx, ref)
	if p.deliver != nil && p.deliver(c) {
		return
	}
	if c.Handle != "" {
		_ = p.engine.Close(c.Handle)
	}
}

// victim picks the least recently used non-active slot, pending or resident.
func (p *Pool) victim() *slot {
	for e := p.lru.Back(); e != nil; e = e.Prev() {
		if s := e.Value.(*slot); s.id != p.active {
			return s
		}
	}
	return nil
}

func (p *Pool) drop(s *slot, reason string) {
	if s.status == Pending {
		s.cancel()
	} else {
		if err := p.engine.Close(s.handle); err != nil {
			p.logger.Warn().Err(err).Str(log.FieldItemID, s.id).Msg("close playback handle")
		}
		s.cancel()
	}
	p.lru.Remove(s.elem)
	delete(p.slots, s.id)
	if p.active == s.id {
		p.active = ""
	}
	metrics.PoolEvictionsTotal.WithLabelValues(p.surface, reason).Inc()
	p.updateGauge()
	p.logger.Debug().
		Str(log.FieldEvent, "pool.evicted").
		Str(log.FieldItemID, s.id).
		Str("reason", reason).
		Str("status", s.status.String()).
		Msg("playback slot reclaimed")
}

// Complete applies a finished Open. Completions for released or replaced
// slots are discarded and their handle is closed.
func (p *Pool) Complete(c Completion) Resolution {
	s, ok := p.slots[c.ItemID]
	if !ok || s.gen != c.Gen || s.status != Pending {
		if c.Handle != "" {
			_ = p.engine.Close(c.Handle)
		}
		metrics.PoolDiscardedTotal.WithLabelValues(p.surface).Inc()
		return Discarded
	}
	if c.Err != nil {
		s.cancel()
		p.lru.Remove(s.elem)
		delete(p.slots, s.id)
		if p.active == s.id {
			p.active = ""
		}
		return Failed
	}
	s.status = Resident
	s.handle = c.Handle
	p.updateGauge()
	if p.active == s.id {
		p.play(s)
	}
	return Ready
}

// Resume makes id the active item and plays it once resident. The previously
// active item is paused.
func (p *Pool) Resume(id string) error {
	s, ok := p.slots[id]
	if !ok {
		return ErrUnknownItem
	}
	if p.active != "" && p.active != id {
		if prev, ok := p.slots[p.active]; ok && prev.status == Resident {
			p.pause(prev)
		}
	}
	p.active = id
	p.lru.MoveToFront(s.elem)
	if s.status == Resident {
		p.play(s)
	}
	return nil
}

// Pause stops playback of id. The item stays resident.
func (p *Pool) Pause(id string) error {
	s, ok := p.slots[id]
	if !ok {
		return ErrUnknownItem
	}
	if p.active == id {
		p.active = ""
	}
	if s.status == Resident {
		p.pause(s)
	}
	return nil
}

func (p *Pool) play(s *slot) {
	if err := p.engine.Play(s.handle); err != nil {
		p.logger.Warn().Err(err).Str(log.FieldItemID, s.id).Msg("play failed")
	}
}

func (p *Pool) pause(s *slot) {
	if err := p.engine.Pause(s.handle); err != nil {
		p.logger.Warn().Err(err).Str(log.FieldItemID, s.id).Msg("pause failed")
	}
}

// Release frees id's slot. A pending open is canceled and its completion
// will be discarded. Releasing an unknown item is a no-op.
func (p *Pool) Release(id string) bool {
	s, ok := p.slots[id]
	if !ok {
		return false
	}
	p.drop(s, "released")
	return true
}

// CancelPending cancels every pending open and returns the affected items.
func (p *Pool) CancelPending() []string {
	var ids []string
	for e := p.lru.Front(); e != nil; {
		next := e.Next()
		s := e.Value.(*slot)
		if s.status == Pending {
			ids = append(ids, s.id)
			p.drop(s, "canceled")
		}
		e = next
	}
	return ids
}

// Active returns the active item, or "".
func (p *Pool) Active() string { return p.active }

// Has reports whether id holds a slot.
func (p *Pool) Has(id string) bool {
	_, ok := p.slots[id]
	return ok
}

// StatusOf returns the slot status of id.
func (p *Pool) StatusOf(id string) (Status, bool) {
	s, ok := p.slots[id]
	if !ok {
		return 0, false
	}
	return s.status, true
}

// Resident lists items with an open handle, most recently used first.
func (p *Pool) Resident() []string {
	var out []string
	for e := p.lru.Front(); e != nil; e = e.Next() {
		if s := e.Value.(*slot); s.status == Resident {
			out = append(out, s.id)
		}
	}
	return out
}

// Len returns resident plus pending slots.
func (p *Pool) Len() int { return len(p.slots) }

// Capacity returns the slot limit.
func (p *Pool) Capacity() int { return p.capacity }

func (p *Pool) updateGauge() {
	n := 0
	for _, s := range p.slots {
		if s.status == Resident {
			n++
		}
	}
	metrics.PoolResident.WithLabelValues(p.surface).Set(float64(n))
}

// Close releases every slot and rejects further preloads.
func (p *Pool) Close() {
	if p.closed {
		return
	}
	p.closed = true
	for _, s := range p.slots {
		p.drop(s, "closed")
	}
}

// Wait blocks until every Open goroutine returned. Call it off the loop.
func (p *Pool) Wait() {
	p.wg.Wait()
}
