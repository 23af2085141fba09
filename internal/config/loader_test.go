// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/ManuGH/clipfeed/internal/feed/model"
	"github.com/ManuGH/clipfeed/internal/feed/seen"
	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "clipfeed.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))
	return path
}

func TestDefaultIsValid(t *testing.T) {
	require.NoError(t, Validate(Default()))
}

func TestLoadWithoutFileUsesDefaults(t *testing.T) {
	cfg, err := NewLoader("", "v-test").Load()
	require.NoError(t, err)
	assert.Equal(t, 500*time.Millisecond, cfg.Feed.Debounce)
	assert.Equal(t, 3, cfg.Feed.MaxRetries)
	assert.Equal(t, "v-test", cfg.Version)
	assert.Equal(t, "v-test", cfg.Telemetry.ServiceVersion)
}

func TestLoadFileOverridesDefaults(t *testing.T) {
	path := writeConfig(t, `
feed:
  debounce: 250ms
  max_retries: 5
pool:
  capacity: 6
seen:
  backend: sqlite
  path: seen.db
surfaces:
  - id: tags
    descriptor:
      name: cats
      category: hashtag
      tags:
        t: ["Cats"]
  - id: me
    descriptor:
      name: me
      category: profile
      authors: ["alice"]
    active: true
`)
	cfg, err := NewLoader(path, "").Load()
	require.NoError(t, err)

	assert.Equal(t, 250*time.Millisecond, cfg.Feed.Debounce)
	assert.Equal(t, 5, cfg.Feed.MaxRetries)
	assert.True(t, cfg.Feed.Leading, "unset fields keep defaults")
	assert.Equal(t, 6, cfg.Pool.Capacity)
	assert.Equal(t, seen.Config{Backend: seen.BackendSQLite, Path: "seen.db"}, cfg.Seen)

	want := []SurfaceConfig{
		{ID: "tags", Descriptor: model.Descriptor{Name: "cats", Category: model.CategoryHashtag, Tags: map[string][]string{"t": {"Cats"}}}},
		{ID: "me", Descriptor: model.Descriptor{Name: "me", Category: model.CategoryProfile, Authors: []string{"alice"}}, Active: true},
	}
	if diff := cmp.Diff(want, cfg.Surfaces); diff != "" {
		t.Errorf("surfaces mismatch (-want +got):\n%s", diff)
	}
}

func TestLoadRejectsUnknownFields(t *testing.T) {
	path := writeConfig(t, "feed:\n  debounse: 1s\n")
	_, err := NewLoader(path, "").Load()
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrUnknownConfigField)
}

func TestLoadRejectsMultipleDocuments(t *testing.T) {
	path := writeConfig(t, "log:\n  level: info\n---\nlog:\n  level: debug\n")
	_, err := NewLoader(path, "").Load()
	assert.Error(t, err)
}

func TestLoadRejectsNonYAML(t *testing.T) {
	path := filepath.Join(t.TempDir(), "clipfeed.json")
	require.NoError(t, os.WriteFile(path, []byte("{}"), 0o600))
	_, err := NewLoader(path, "").Load()
	assert.ErrorContains(t, err, "only YAML")
}

func TestEnvOverridesFile(t *testing.T) {
	path := writeConfig(t, "feed:\n  debounce: 250ms\npool:\n  capacity: 6\n")
	t.Setenv("CLIPFEED_FEED_DEBOUNCE", "1s")
	t.Setenv("CLIPFEED_POOL_CAPACITY", "2")
	t.Setenv("CLIPFEED_POLICY_BLOCKED_AUTHORS", "mallory, eve,")
	t.Setenv("CLIPFEED_API_LISTEN", "127.0.0.1:9999")

	l := NewLoader(path, "")
	cfg, err := l.Load()
	require.NoError(t, err)
	assert.Equal(t, time.Second, cfg.Feed.Debounce)
	assert.Equal(t, 2, cfg.Pool.Capacity)
	assert.Equal(t, []string{"mallory", "eve"}, cfg.Policy.BlockedAuthors)
	assert.Equal(t, "127.0.0.1:9999", cfg.API.Listen)
	assert.Contains(t, l.ConsumedEnvKeys, "CLIPFEED_POOL_CAPACITY")
}

func TestUnknownEnvKeys(t *testing.T) {
	t.Setenv("CLIPFEED_POOL_CAPACTIY", "2")
	l := NewLoader("", "")
	_, err := l.Load()
	require.NoError(t, err)
	assert.Contains(t, l.UnknownEnvKeys(), "CLIPFEED_POOL_CAPACTIY")
}

func TestValidateAggregatesErrors(t *testing.T) {
	cfg := Default()
	cfg.Pool.Capacity = 0
	cfg.Feed.MaxRetries = 0
	cfg.Seen.Backend = "etcd"
	cfg.Surfaces = append(cfg.Surfaces, SurfaceConfig{ID: "home", Descriptor: model.Descriptor{Name: "x", Category: "bogus"}})

	err := Validate(cfg)
	require.Error(t, err)
	var verr ValidationError
	require.ErrorAs(t, err, &verr)
	assert.ElementsMatch(t, []string{
		"feed.max_retries",
		"pool.capacity",
		"seen.backend",
		"surfaces[1].id",
		"surfaces[1].descriptor",
	}, verr.Fields())
}

func TestValidateBackendSpecificFields(t *testing.T) {
	cfg := Default()
	cfg.Seen = seen.Config{Backend: seen.BackendSQLite}
	assert.Error(t, Validate(cfg), "sqlite needs a path")

	cfg.Seen = seen.Config{Backend: seen.BackendRedis, Redis: seen.RedisConfig{Addr: "localhost:6379"}}
	assert.NoError(t, Validate(cfg))

	cfg.Telemetry.Enabled = true
	cfg.Telemetry.ExporterType = "grpc"
	assert.Error(t, Validate(cfg), "grpc exporter needs an endpoint")
}

func TestWriteFileRoundTrips(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "clipfeed.yaml")
	cfg := Default()
	cfg.Feed.Debounce = 750 * time.Millisecond
	cfg.Policy.BlockedTags = []string{"spoilers"}
	require.NoError(t, WriteFile(path, cfg, false))
	assert.Error(t, WriteFile(path, cfg, false), "existing file is kept")

	got, err := NewLoader(path, "").Load()
	require.NoError(t, err)
	if diff := cmp.Diff(cfg, got); diff != "" {
		t.Errorf("round trip mismatch (-want +got):\n%s", diff)
	}

	info, err := os.Stat(path)
	require.NoError(t, err)
	assert.Equal(t, os.FileMode(0o600), info.Mode().Perm())
}
