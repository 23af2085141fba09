// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

// Package config loads, validates and hot-reloads the clipfeed configuration.
package config

import (
	"time"

	"github.com/ManuGH/clipfeed/internal/feed/model"
	"github.com/ManuGH/clipfeed/internal/feed/seen"
	"github.com/ManuGH/clipfeed/internal/telemetry"
)

// AppConfig is the effective configuration after defaults, file and env.
type AppConfig struct {
	Log       LogConfig        `yaml:"log"`
	Feed      FeedConfig       `yaml:"feed"`
	Pool      PoolConfig       `yaml:"pool"`
	Source    SourceConfig     `yaml:"source"`
	Playback  PlaybackConfig   `yaml:"playback"`
	Seen      seen.Config      `yaml:"seen"`
	Policy    PolicyConfig     `yaml:"policy"`
	API       APIConfig        `yaml:"api"`
	Telemetry telemetry.Config `yaml:"telemetry"`
	Surfaces  []SurfaceConfig  `yaml:"surfaces"`

	// Version is the binary version; never read from the file.
	Version string `yaml:"-"`
}

// LogConfig controls the base logger.
type LogConfig struct {
	Level string `yaml:"level"`
}

// BackoffConfig bounds exponential delays.
type BackoffConfig struct {
	Initial    time.Duration `yaml:"initial"`
	Max        time.Duration `yaml:"max"`
	Multiplier float64       `yaml:"multiplier"`
	Jitter     float64       `yaml:"jitter"`
}

// WindowConfig sizes the preload window around the focused item.
type WindowConfig struct {
	Ahead  int `yaml:"ahead"`
	Behind int `yaml:"behind"`
	Retain int `yaml:"retain"`
}

// FeedConfig holds per-surface feed behavior. Debounce, MaxRetries and
// RetryBackoff apply live on reload.
type FeedConfig struct {
	Debounce      time.Duration `yaml:"debounce"`
	Leading       bool          `yaml:"leading"`
	MaxRetries    int           `yaml:"max_retries"`
	RetryBackoff  BackoffConfig `yaml:"retry_backoff"`
	StreamBackoff BackoffConfig `yaml:"stream_backoff"`
	LoadMoreRate  float64       `yaml:"load_more_rate"`
	LoadMoreTries int           `yaml:"load_more_tries"`
	Window        WindowConfig  `yaml:"window"`
}

// PoolConfig bounds playback handles per surface.
type PoolConfig struct {
	Capacity int `yaml:"capacity"`
}

// GeneratorConfig drives the synthetic publisher.
type GeneratorConfig struct {
	Enabled     bool          `yaml:"enabled"`
	Interval    time.Duration `yaml:"interval"`
	Authors     []string      `yaml:"authors,omitempty"`
	Hashtags    []string      `yaml:"hashtags,omitempty"`
	FailureRate float64       `yaml:"failure_rate"`
	Seed        uint64        `yaml:"seed,omitempty"`
}

// SourceConfig configures the in-process relay.
type SourceConfig struct {
	Backfill        bool            `yaml:"backfill"`
	LoadMoreLatency time.Duration   `yaml:"load_more_latency"`
	Generator       GeneratorConfig `yaml:"generator"`
}

// PlaybackConfig configures the stub playback engine.
type PlaybackConfig struct {
	Latency       time.Duration `yaml:"latency"`
	FlakyFailures int           `yaml:"flaky_failures"`
}

// PolicyConfig is the moderation blocklist.
type PolicyConfig struct {
	BlockedAuthors []string `yaml:"blocked_authors,omitempty"`
	BlockedTags    []string `yaml:"blocked_tags,omitempty"`
}

// RateLimitConfig limits API requests per client IP.
type RateLimitConfig struct {
	Enabled  bool          `yaml:"enabled"`
	Requests int           `yaml:"requests"`
	Window   time.Duration `yaml:"window"`
}

// APIConfig configures the control HTTP API.
type APIConfig struct {
	Enabled         bool            `yaml:"enabled"`
	Listen          string          `yaml:"listen"`
	ShutdownTimeout time.Duration   `yaml:"shutdown_timeout"`
	RateLimit       RateLimitConfig `yaml:"rate_limit"`
}

// SurfaceConfig declares one feed surface.
type SurfaceConfig struct {
	ID         string           `yaml:"id"`
	Descriptor model.Descriptor `yaml:"descriptor"`
	// Active marks the surface visible at startup.
	Active bool `yaml:"active"`
}
