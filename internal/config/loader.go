// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/ManuGH/clipfeed/internal/log"
	"gopkg.in/yaml.v3"
)

// EnvDataDir names the directory searched for config.yaml when no path is
// given.
const EnvDataDir = EnvPrefix + "DATA"

// Loader handles configuration loading with precedence ENV > file > defaults.
type Loader struct {
	configPath string
	version    string
	// ConsumedEnvKeys records every env key the loader looked at.
	ConsumedEnvKeys map[string]struct{}
}

// NewLoader creates a loader. An empty path loads defaults and env only.
func NewLoader(configPath, version string) *Loader {
	return &Loader{
		configPath:      configPath,
		version:         version,
		ConsumedEnvKeys: map[string]struct{}{EnvDataDir: {}},
	}
}

// Path returns the config file path, possibly empty.
func (l *Loader) Path() string { return l.configPath }

func (l *Loader) envString(key, defaultVal string) string {
	l.ConsumedEnvKeys[key] = struct{}{}
	return ParseString(key, defaultVal)
}

func (l *Loader) envBool(key string, defaultVal bool) bool {
	l.ConsumedEnvKeys[key] = struct{}{}
	return ParseBool(key, defaultVal)
}

func (l *Loader) envInt(key string, defaultVal int) int {
	l.ConsumedEnvKeys[key] = struct{}{}
	return ParseInt(key, defaultVal)
}

func (l *Loader) envDuration(key string, defaultVal time.Duration) time.Duration {
	l.ConsumedEnvKeys[key] = struct{}{}
	return ParseDuration(key, defaultVal)
}

func (l *Loader) envFloat(key string, defaultVal float64) float64 {
	l.ConsumedEnvKeys[key] = struct{}{}
	return ParseFloat(key, defaultVal)
}

func (l *Loader) envList(key string, defaultVal []string) []string {
	l.ConsumedEnvKeys[key] = struct{}{}
	return ParseList(key, defaultVal)
}

// Load loads configuration in the order defaults, strict file, env, validate.
func (l *Loader) Load() (AppConfig, error) {
	cfg := Default()

	if l.configPath != "" {
		if err := l.loadFile(l.configPath, &cfg); err != nil {
			return cfg, fmt.Errorf("load config file: %w", err)
		}
	}

	l.mergeEnvConfig(&cfg)
	l.warnUnknownEnv()
	cfg.Version = l.version
	cfg.Telemetry.ServiceVersion = l.version

	if err := Validate(cfg); err != nil {
		return cfg, fmt.Errorf("config validation failed: %w", err)
	}
	return cfg, nil
}

// loadFile decodes path over cfg. Unknown fields are rejected.
func (l *Loader) loadFile(path string, cfg *AppConfig) error {
	path = filepath.Clean(path)
	ext := strings.ToLower(filepath.Ext(path))
	if ext != ".yaml" && ext != ".yml" {
		return fmt.Errorf("unsupported config format: %s (only YAML supported)", ext)
	}

	// #nosec G304 -- configuration file paths are provided by the operator via CLI/ENV
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read file: %w", err)
	}
	return decodeStrict(data, cfg)
}

func decodeStrict(data []byte, cfg *AppConfig) error {
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil {
		if errors.Is(err, io.EOF) {
			return nil
		}
		if strings.Contains(err.Error(), "not found in type") {
			return fmt.Errorf("%w: %v", ErrUnknownConfigField, err)
		}
		return fmt.Errorf("strict config parse error: %w", err)
	}
	if err := dec.Decode(&struct{}{}); !errors.Is(err, io.EOF) {
		return errors.New("config file contains multiple documents or trailing content")
	}
	return nil
}

func (l *Loader) mergeEnvConfig(cfg *AppConfig) {
	cfg.Log.Level = l.envString(EnvPrefix+"LOG_LEVEL", cfg.Log.Level)

	cfg.Feed.Debounce = l.envDuration(EnvPrefix+"FEED_DEBOUNCE", cfg.Feed.Debounce)
	cfg.Feed.Leading = l.envBool(EnvPrefix+"FEED_LEADING", cfg.Feed.Leading)
	cfg.Feed.MaxRetries = l.envInt(EnvPrefix+"FEED_MAX_RETRIES", cfg.Feed.MaxRetries)
	cfg.Feed.LoadMoreRate = l.envFloat(EnvPrefix+"FEED_LOAD_MORE_RATE", cfg.Feed.LoadMoreRate)
	cfg.Feed.Window.Ahead = l.envInt(EnvPrefix+"FEED_WINDOW_AHEAD", cfg.Feed.Window.Ahead)
	cfg.Feed.Window.Behind = l.envInt(EnvPrefix+"FEED_WINDOW_BEHIND", cfg.Feed.Window.Behind)

	cfg.Pool.Capacity = l.envInt(EnvPrefix+"POOL_CAPACITY", cfg.Pool.Capacity)

	cfg.Source.Generator.Enabled = l.envBool(EnvPrefix+"GENERATOR_ENABLED", cfg.Source.Generator.Enabled)
	cfg.Source.Generator.Interval = l.envDuration(EnvPrefix+"GENERATOR_INTERVAL", cfg.Source.Generator.Interval)

	cfg.Seen.Backend = l.envString(EnvPrefix+"SEEN_BACKEND", cfg.Seen.Backend)
	cfg.Seen.Path = l.envString(EnvPrefix+"SEEN_PATH", cfg.Seen.Path)
	cfg.Seen.Redis.Addr = l.envString(EnvPrefix+"SEEN_REDIS_ADDR", cfg.Seen.Redis.Addr)
	cfg.Seen.Redis.Password = l.envString(EnvPrefix+"SEEN_REDIS_PASSWORD", cfg.Seen.Redis.Password)

	cfg.Policy.BlockedAuthors = l.envList(EnvPrefix+"POLICY_BLOCKED_AUTHORS", cfg.Policy.BlockedAuthors)
	cfg.Policy.BlockedTags = l.envList(EnvPrefix+"POLICY_BLOCKED_TAGS", cfg.Policy.BlockedTags)

	cfg.API.Enabled = l.envBool(EnvPrefix+"API_ENABLED", cfg.API.Enabled)
	cfg.API.Listen = l.envString(EnvPrefix+"API_LISTEN", cfg.API.Listen)

	cfg.Telemetry.Enabled = l.envBool(EnvPrefix+"TELEMETRY_ENABLED", cfg.Telemetry.Enabled)
	cfg.Telemetry.ExporterType = l.envString(EnvPrefix+"TELEMETRY_EXPORTER", cfg.Telemetry.ExporterType)
	cfg.Telemetry.Endpoint = l.envString(EnvPrefix+"TELEMETRY_ENDPOINT", cfg.Telemetry.Endpoint)
	cfg.Telemetry.SamplingRate = l.envFloat(EnvPrefix+"TELEMETRY_SAMPLING_RATE", cfg.Telemetry.SamplingRate)
}

// UnknownEnvKeys lists CLIPFEED_* variables the loader never consumed.
func (l *Loader) UnknownEnvKeys() []string {
	var out []string
	for _, kv := range os.Environ() {
		key, _, _ := strings.Cut(kv, "=")
		if !strings.HasPrefix(key, EnvPrefix) {
			continue
		}
		if _, ok := l.ConsumedEnvKeys[key]; !ok {
			out = append(out, key)
		}
	}
	sort.Strings(out)
	return out
}

func (l *Loader) warnUnknownEnv() {
	if keys := l.UnknownEnvKeys(); len(keys) > 0 {
		logger := log.WithComponent("config")
		logger.Warn().
			Strs("keys", keys).
			Str(log.FieldEvent, "config.unknown_env").
			Msg("ignoring unknown environment variables")
	}
}
