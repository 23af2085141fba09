// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package seen

import (
	"context"
	"fmt"
	"sync"
)

// Store persists seen identifiers.
type Store interface {
	Load(ctx context.Context) ([]string, error)
	Add(ctx context.Context, ids ...string) error
	Close() error
}

// Pinger is implemented by stores that can check their backend.
type Pinger interface {
	Ping(ctx context.Context) error
}

// Backend names.
const (
	BackendMemory = "memory"
	BackendSQLite = "sqlite"
	BackendRedis  = "redis"
)

// RedisConfig addresses the redis backend.
type RedisConfig struct {
	Addr     string `yaml:"addr"`
	Password string `yaml:"password,omitempty"`
	DB       int    `yaml:"db"`
	Key      string `yaml:"key"`
}

// Config selects and configures a Store.
type Config struct {
	Backend string      `yaml:"backend"`
	Path    string      `yaml:"path,omitempty"`
	Redis   RedisConfig `yaml:"redis,omitempty"`
}

// NewStore builds the configured backend. An sqlite backend without a path
// falls back to memory.
func NewStore(ctx context.Context, cfg Config) (Store, error) {
	switch cfg.Backend {
	case "", BackendMemory:
		return NewMemoryStore(), nil
	case BackendSQLite:
		if cfg.Path == "" {
			return NewMemoryStore(), nil
		}
		return NewSQLiteStore(ctx, cfg.Path)
	case BackendRedis:
		return NewRedisStore(ctx, cfg.Redis)
	default:
		return nil, fmt.Errorf("unknown seen store backend: %s (supported: memory, sqlite, redis)", cfg.Backend)
	}
}

// MemoryStore keeps history for the life of the process.
type MemoryStore struct {
	mu  sync.RWMutex
	ids map[string]struct{}
}

// NewMemoryStore creates an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{ids: make(map[string]struct{})}
}

func (s *MemoryStore) Load(context.Context) ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]string, 0, len(s.ids))
	for id := range s.ids {
		out = append(out, id)
	}
	return out, nil
}

func (s *MemoryStore) Add(_ context.Context, ids ...string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, id := range ids {
		s.ids[id] = struct{}{}
	}
	return nil
}

func (s *MemoryStore) Close() error { return nil }
