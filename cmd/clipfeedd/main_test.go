// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package main

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"

	"github.com/ManuGH/clipfeed/internal/version"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func execute(t *testing.T, args ...string) (string, error) {
	t.Helper()
	cmd := newRootCommand()
	var out bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetErr(&out)
	cmd.SetArgs(args)
	err := cmd.Execute()
	return out.String(), err
}

func TestConfigInitThenValidate(t *testing.T) {
	path := filepath.Join(t.TempDir(), "clipfeed", "config.yaml")

	out, err := execute(t, "config", "init", "--config", path)
	require.NoError(t, err)
	assert.Contains(t, out, path)

	info, err := os.Stat(path)
	require.NoError(t, err)
	assert.Equal(t, os.FileMode(0o600), info.Mode().Perm())

	out, err = execute(t, "config", "validate", "-c", path)
	require.NoError(t, err)
	assert.Contains(t, out, "is valid")

	_, err = execute(t, "config", "init", "--config", path)
	assert.ErrorContains(t, err, "already exists")
	_, err = execute(t, "config", "init", "--config", path, "--overwrite")
	assert.NoError(t, err)
}

func TestConfigValidateRejectsBadFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte("pool:\n  capacity: 0\n"), 0o600))

	_, err := execute(t, "config", "validate", "-c", path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "pool.capacity")
}

func TestConfigValidateNeedsPath(t *testing.T) {
	t.Setenv("CLIPFEED_DATA", t.TempDir())
	_, err := execute(t, "config", "validate")
	assert.ErrorIs(t, err, errNoConfigFile)
}

func TestResolveConfigPathUsesDataDir(t *testing.T) {
	dir := t.TempDir()
	t.Setenv("CLIPFEED_DATA", dir)
	assert.Empty(t, resolveConfigPath(""))

	auto := filepath.Join(dir, "config.yaml")
	require.NoError(t, os.WriteFile(auto, []byte("{}\n"), 0o600))
	assert.Equal(t, auto, resolveConfigPath(""))
	assert.Equal(t, "explicit.yaml", resolveConfigPath(" explicit.yaml "))
}

func TestConfigDumpFormats(t *testing.T) {
	t.Setenv("CLIPFEED_DATA", "")
	t.Setenv("CLIPFEED_POOL_CAPACITY", "6")

	out, err := execute(t, "config", "dump")
	require.NoError(t, err)
	assert.Contains(t, out, "capacity: 6")

	out, err = execute(t, "config", "dump", "--format", "json")
	require.NoError(t, err)
	assert.Contains(t, out, `"Capacity": 6`)

	_, err = execute(t, "config", "dump", "--format", "toml")
	assert.ErrorContains(t, err, "unknown format")
}

func TestVersionCommand(t *testing.T) {
	out, err := execute(t, "version")
	require.NoError(t, err)
	assert.Contains(t, out, version.Version)
}
