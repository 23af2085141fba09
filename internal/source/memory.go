// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package source

import (
	"context"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/ManuGH/clipfeed/internal/feed/model"
	"github.com/ManuGH/clipfeed/internal/log"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

// MemoryConfig tunes the in-memory relay.
type MemoryConfig struct {
	// LoadMoreLatency delays every LoadMore.
	LoadMoreLatency time.Duration
	// Backfill sends the newest matching history on Subscribe.
	Backfill bool
}

// Memory is an in-process relay. It keeps every published item and fans new
// ones out to matching subscriptions.
type Memory struct {
	cfg    MemoryConfig
	logger zerolog.Logger

	mu           sync.Mutex
	history      []model.ContentItem
	subs         map[string]*memSub
	closed       bool
	subscribeErr []error
	loadMoreErr  []error
	hold         chan struct{}

	wg             sync.WaitGroup
	subscribeCalls atomic.Int64
	loadMoreCalls  atomic.Int64
}

type memSub struct {
	id   string
	desc model.Descriptor

	mu    sync.Mutex
	queue []model.ContentItem
	wake  chan struct{}
	out   chan model.ContentItem
	errc  chan error
	done  chan struct{}
	once  sync.Once
}

// NewMemory creates an empty relay.
func NewMemory(cfg MemoryConfig) *Memory {
	return &Memory{
		cfg:    cfg,
		logger: log.WithComponent("source.memory"),
		subs:   make(map[string]*memSub),
	}
}

// Publish stores items and delivers them to live subscriptions whose
// descriptor matches.
func (m *Memory) Publish(items ...model.ContentItem) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return
	}
	m.history = append(m.history, items...)
	for _, s := range m.subs {
		var matched []model.ContentItem
		for _, it := range items {
			if s.desc.Matches(it) {
				matched = append(matched, it)
			}
		}
		s.enqueue(matched...)
	}
}

// Subscribe opens a live stream for desc.
func (m *Memory) Subscribe(ctx context.Context, desc model.Descriptor) (*Subscription, error) {
	m.subscribeCalls.Add(1)
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return nil, ErrClosed
	}
	if len(m.subscribeErr) > 0 {
		err := m.subscribeErr[0]
		m.subscribeErr = m.subscribeErr[1:]
		return nil, err
	}

	desc = desc.Normalize()
	s := &memSub{
		id:   uuid.NewString(),
		desc: desc,
		wake: make(chan struct{}, 1),
		out:  make(chan model.ContentItem),
		errc: make(chan error, 1),
		done: make(chan struct{}),
	}
	if m.cfg.Backfill {
		s.enqueue(m.page(desc, model.Cursor{})...)
	}
	m.subs[s.id] = s
	m.wg.Add(1)
	go m.pump(s)

	m.logger.Debug().
		Str(log.FieldSubscriptionID, s.id).
		Str(log.FieldDescriptor, desc.Name).
		Msg("subscription opened")
	return &Subscription{ID: s.id, Items: s.out, Err: s.errc}, nil
}

func (m *Memory) pump(s *memSub) {
	defer m.wg.Done()
	defer close(s.out)
	for {
		s.mu.Lock()
		var next model.ContentItem
		have := len(s.queue) > 0
		if have {
			next = s.queue[0]
			s.queue = s.queue[1:]
		}
		s.mu.Unlock()

		if !have {
			select {
			case <-s.wake:
				continue
			case <-s.done:
				return
			}
		}
		select {
		case s.out <- next:
		case <-s.done:
			return
		}
	}
}

func (s *memSub) enqueue(items ...model.ContentItem) {
	if len(items) == 0 {
		return
	}
	s.mu.Lock()
	s.queue = append(s.queue, items...)
	s.mu.Unlock()
	select {
	case s.wake <- struct{}{}:
	default:
	}
}

func (s *memSub) stop(err error) {
	s.once.Do(func() {
		if err != nil {
			s.errc <- err
		}
		close(s.done)
	})
}

// Unsubscribe ends the stream with the given handle.
func (m *Memory) Unsubscribe(id string) error {
	m.mu.Lock()
	s, ok := m.subs[id]
	delete(m.subs, id)
	m.mu.Unlock()
	if !ok {
		return ErrUnknownSubscription
	}
	s.stop(nil)
	return nil
}

// Break terminates every live stream with err, as a dropped relay connection would.
func (m *Memory) Break(err error) int {
	m.mu.Lock()
	subs := make([]*memSub, 0, len(m.subs))
	for id, s := range m.subs {
		subs = append(subs, s)
		delete(m.subs, id)
	}
	m.mu.Unlock()
	for _, s := range subs {
		s.stop(err)
	}
	return len(subs)
}

// FailSubscribe makes the next len(errs) Subscribe calls fail in order.
func (m *Memory) FailSubscribe(errs ...error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.subscribeErr = append(m.subscribeErr, errs...)
}

// FailLoadMore makes the next len(errs) LoadMore calls fail in order.
func (m *Memory) FailLoadMore(errs ...error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.loadMoreErr = append(m.loadMoreErr, errs...)
}

// HoldLoadMore blocks LoadMore calls until release is called.
func (m *Memory) HoldLoadMore() (release func()) {
	gate := make(chan struct{})
	m.mu.Lock()
	m.hold = gate
	m.mu.Unlock()
	var once sync.Once
	return func() {
		once.Do(func() {
			m.mu.Lock()
			if m.hold == gate {
				m.hold = nil
			}
			m.mu.Unlock()
			close(gate)
		})
	}
}

// LoadMore pages matching history that sorts after cursor in Newer order.
func (m *Memory) LoadMore(ctx context.Context, desc model.Descriptor, cursor model.Cursor) ([]model.ContentItem, error) {
	m.loadMoreCalls.Add(1)

	m.mu.Lock()
	hold := m.hold
	m.mu.Unlock()
	if hold != nil {
		select {
		case <-hold:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	if m.cfg.LoadMoreLatency > 0 {
		t := time.NewTimer(m.cfg.LoadMoreLatency)
		select {
		case <-t.C:
		case <-ctx.Done():
			t.Stop()
			return nil, ctx.Err()
		}
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return nil, ErrClosed
	}
	if len(m.loadMoreErr) > 0 {
		err := m.loadMoreErr[0]
		m.loadMoreErr = m.loadMoreErr[1:]
		return nil, err
	}
	return m.page(desc.Normalize(), cursor), nil
}

// page must be called with m.mu held.
func (m *Memory) page(desc model.Descriptor, cursor model.Cursor) []model.ContentItem {
	var matched []model.ContentItem
	for _, it := range m.history {
		if !cursor.Admits(it) {
			continue
		}
		if desc.Matches(it) {
			matched = append(matched, it)
		}
	}
	sort.SliceStable(matched, func(i, j int) bool { return model.Newer(matched[i], matched[j]) })
	if len(matched) > desc.Limit {
		matched = matched[:desc.Limit]
	}
	return matched
}

// SubscribeCalls returns how often Subscribe was called.
func (m *Memory) SubscribeCalls() int { return int(m.subscribeCalls.Load()) }

// LoadMoreCalls returns how often LoadMore was called.
func (m *Memory) LoadMoreCalls() int { return int(m.loadMoreCalls.Load()) }

// Active returns the number of live subscriptions.
func (m *Memory) Active() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.subs)
}

// Len returns the number of stored items.
func (m *Memory) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.history)
}

// Close ends every stream and waits for the pumps to exit.
func (m *Memory) Close() error {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return nil
	}
	m.closed = true
	subs := m.subs
	m.subs = make(map[string]*memSub)
	m.mu.Unlock()
	for _, s := range subs {
		s.stop(nil)
	}
	m.wg.Wait()
	return nil
}
