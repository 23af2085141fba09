// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package config

import (
	"fmt"
	"time"

	"github.com/ManuGH/clipfeed/internal/feed/seen"
	"github.com/ManuGH/clipfeed/internal/telemetry"
	"github.com/ManuGH/clipfeed/internal/validate"
)

// Validate checks cfg and returns a ValidationError listing every problem.
func Validate(cfg AppConfig) error {
	v := validate.New()

	if _, err := validate.ParseLogLevel(cfg.Log.Level); err != nil {
		v.AddError("log.level", "must be one of debug, info, warn, error", cfg.Log.Level)
	}

	f := cfg.Feed
	v.DurationRange("feed.debounce", f.Debounce, time.Millisecond, time.Minute)
	v.Range("feed.max_retries", f.MaxRetries, 1, 20)
	validateBackoff(v, "feed.retry_backoff", f.RetryBackoff)
	validateBackoff(v, "feed.stream_backoff", f.StreamBackoff)
	if f.LoadMoreRate < 0 {
		v.AddError("feed.load_more_rate", "cannot be negative", f.LoadMoreRate)
	}
	v.Range("feed.load_more_tries", f.LoadMoreTries, 1, 10)
	v.NonNegative("feed.window.ahead", f.Window.Ahead)
	v.NonNegative("feed.window.behind", f.Window.Behind)
	if f.Window.Retain < f.Window.Ahead || f.Window.Retain < f.Window.Behind {
		v.AddError("feed.window.retain", "must cover ahead and behind", f.Window.Retain)
	}

	v.Range("pool.capacity", cfg.Pool.Capacity, 1, 64)

	if cfg.Source.Generator.Enabled {
		v.DurationRange("source.generator.interval", cfg.Source.Generator.Interval, 10*time.Millisecond, time.Hour)
		v.Fraction("source.generator.failure_rate", cfg.Source.Generator.FailureRate)
	}
	v.NonNegative("playback.flaky_failures", cfg.Playback.FlakyFailures)

	v.OneOf("seen.backend", cfg.Seen.Backend, []string{seen.BackendMemory, seen.BackendSQLite, seen.BackendRedis})
	switch cfg.Seen.Backend {
	case seen.BackendSQLite:
		v.NotEmpty("seen.path", cfg.Seen.Path)
		v.FilePath("seen.path", cfg.Seen.Path)
	case seen.BackendRedis:
		v.HostPort("seen.redis.addr", cfg.Seen.Redis.Addr)
	}

	if cfg.API.Enabled {
		v.HostPort("api.listen", cfg.API.Listen)
		if cfg.API.RateLimit.Enabled {
			v.Positive("api.rate_limit.requests", cfg.API.RateLimit.Requests)
			v.DurationRange("api.rate_limit.window", cfg.API.RateLimit.Window, time.Second, time.Hour)
		}
	}

	if cfg.Telemetry.Enabled {
		v.OneOf("telemetry.exporter", cfg.Telemetry.ExporterType,
			[]string{telemetry.ExporterNoop, telemetry.ExporterGRPC, telemetry.ExporterHTTP})
		if cfg.Telemetry.ExporterType != telemetry.ExporterNoop {
			v.NotEmpty("telemetry.endpoint", cfg.Telemetry.Endpoint)
		}
		v.Fraction("telemetry.sampling_rate", cfg.Telemetry.SamplingRate)
	}

	if len(cfg.Surfaces) == 0 {
		v.AddError("surfaces", "at least one surface is required", nil)
	}
	ids := make(map[string]struct{}, len(cfg.Surfaces))
	for i, s := range cfg.Surfaces {
		field := fmt.Sprintf("surfaces[%d]", i)
		v.NotEmpty(field+".id", s.ID)
		if _, dup := ids[s.ID]; dup {
			v.AddError(field+".id", "duplicate surface id", s.ID)
		}
		ids[s.ID] = struct{}{}
		v.Check(field+".descriptor", s.Descriptor.Name, s.Descriptor.Validate())
	}

	return v.Err()
}

func validateBackoff(v *validate.Validator, field string, b BackoffConfig) {
	v.DurationRange(field+".initial", b.Initial, time.Millisecond, time.Hour)
	if b.Max < b.Initial {
		v.AddError(field+".max", "must not be below initial", b.Max)
	}
	if b.Multiplier < 1 {
		v.AddError(field+".multiplier", "must be at least 1", b.Multiplier)
	}
	v.Fraction(field+".jitter", b.Jitter)
}
