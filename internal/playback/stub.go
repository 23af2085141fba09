// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package playback

import (
	"context"
	"errors"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
)

// Reference suffixes the stub engine recognizes.
const (
	SuffixMalformed = ".bad"
	SuffixNotFound  = ".404"
	SuffixFlaky     = ".flaky"
)

// StubConfig tunes the stub engine.
type StubConfig struct {
	// Latency delays every Open.
	Latency time.Duration
	// FlakyFailures is how many opens of a ".flaky" reference fail before one succeeds.
	FlakyFailures int
}

// Stub is an in-process engine that only tracks handle lifecycles. Refs ending
// in ".bad" fail as malformed, ".404" as not found and ".flaky" transiently.
type Stub struct {
	cfg StubConfig

	mu       sync.Mutex
	handles  map[Handle]string
	playing  map[Handle]bool
	attempts map[string]int
	inject   map[string]error
	opens    int
	closes   int
	gate     chan struct{}
}

// NewStub creates a stub engine.
func NewStub(cfg StubConfig) *Stub {
	if cfg.FlakyFailures <= 0 {
		cfg.FlakyFailures = 1
	}
	return &Stub{
		cfg:      cfg,
		handles:  make(map[Handle]string),
		playing:  make(map[Handle]bool),
		attempts: make(map[string]int),
		inject:   make(map[string]error),
	}
}

// FailNext makes the next Open of ref fail with err.
func (s *Stub) FailNext(ref string, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.inject[ref] = err
}

// Hold blocks every Open until the returned release func is called.
func (s *Stub) Hold() (release func()) {
	s.mu.Lock()
	gate := make(chan struct{})
	s.gate = gate
	s.mu.Unlock()
	var once sync.Once
	return func() {
		once.Do(func() {
			s.mu.Lock()
			if s.gate == gate {
				s.gate = nil
			}
			s.mu.Unlock()
			close(gate)
		})
	}
}

func (s *Stub) Open(ctx context.Context, ref string) (Handle, error) {
	s.mu.Lock()
	gate := s.gate
	s.mu.Unlock()
	if gate != nil {
		select {
		case <-gate:
		case <-ctx.Done():
			return "", ctx.Err()
		}
	}
	if s.cfg.Latency > 0 {
		t := time.NewTimer(s.cfg.Latency)
		select {
		case <-t.C:
		case <-ctx.Done():
			t.Stop()
			return "", ctx.Err()
		}
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if err, ok := s.inject[ref]; ok {
		delete(s.inject, ref)
		return "", err
	}
	switch {
	case strings.HasSuffix(ref, SuffixMalformed):
		return "", &MediaError{Kind: Malformed, Ref: ref, Err: errors.New("unsupported container")}
	case strings.HasSuffix(ref, SuffixNotFound):
		return "", &MediaError{Kind: NotFound, Ref: ref}
	case strings.HasSuffix(ref, SuffixFlaky):
		s.attempts[ref]++
		if s.attempts[ref] <= s.cfg.FlakyFailures {
			return "", &MediaError{Kind: Transient, Ref: ref, Err: errors.New("connection reset")}
		}
	}
	h := Handle(uuid.NewString())
	s.handles[h] = ref
	s.opens++
	return h, nil
}

func (s *Stub) Play(h Handle) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.handles[h]; !ok {
		return ErrUnknownHandle
	}
	s.playing[h] = true
	return nil
}

func (s *Stub) Pause(h Handle) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.handles[h]; !ok {
		return ErrUnknownHandle
	}
	delete(s.playing, h)
	return nil
}

func (s *Stub) Close(h Handle) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.handles[h]; !ok {
		return nil
	}
	delete(s.handles, h)
	delete(s.playing, h)
	s.closes++
	return nil
}

// Live returns the number of open handles.
func (s *Stub) Live() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.handles)
}

// Playing returns the number of handles currently playing.
func (s *Stub) Playing() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.playing)
}

// Opens returns the number of successful opens.
func (s *Stub) Opens() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.opens
}

// Closes returns the number of handles closed.
func (s *Stub) Closes() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closes
}

// Ref returns the media reference behind h.
func (s *Stub) Ref(h Handle) (string, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	ref, ok := s.handles[h]
	return ref, ok
}
