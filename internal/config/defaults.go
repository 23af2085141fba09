// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package config

import (
	"time"

	"github.com/ManuGH/clipfeed/internal/feed/model"
	"github.com/ManuGH/clipfeed/internal/feed/seen"
	"github.com/ManuGH/clipfeed/internal/telemetry"
)

// Default returns a runnable single-surface configuration.
func Default() AppConfig {
	return AppConfig{
		Log: LogConfig{Level: "info"},
		Feed: FeedConfig{
			Debounce:      500 * time.Millisecond,
			Leading:       true,
			MaxRetries:    3,
			RetryBackoff:  BackoffConfig{Initial: time.Second, Max: 10 * time.Second, Multiplier: 2, Jitter: 0.1},
			StreamBackoff: BackoffConfig{Initial: 500 * time.Millisecond, Max: 30 * time.Second, Multiplier: 2, Jitter: 0.2},
			LoadMoreRate:  2,
			LoadMoreTries: 3,
			Window:        WindowConfig{Ahead: 2, Behind: 1, Retain: 5},
		},
		Pool: PoolConfig{Capacity: 4},
		Source: SourceConfig{
			Backfill: true,
			Generator: GeneratorConfig{
				Enabled:     true,
				Interval:    2 * time.Second,
				FailureRate: 0.05,
			},
		},
		Playback: PlaybackConfig{Latency: 150 * time.Millisecond, FlakyFailures: 1},
		Seen:     seen.Config{Backend: seen.BackendMemory},
		API: APIConfig{
			Enabled:         true,
			Listen:          ":8089",
			ShutdownTimeout: 5 * time.Second,
			RateLimit:       RateLimitConfig{Enabled: true, Requests: 120, Window: time.Minute},
		},
		Telemetry: telemetry.Config{
			ServiceName:  "clipfeed",
			ExporterType: telemetry.ExporterNoop,
			SamplingRate: 1,
		},
		Surfaces: []SurfaceConfig{{
			ID:         "home",
			Descriptor: model.Descriptor{Name: "home", Category: model.CategoryHome, Limit: 50},
			Active:     true,
		}},
	}
}
