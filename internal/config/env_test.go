// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestParseString(t *testing.T) {
	tests := []struct {
		name     string
		key      string
		envValue string
		envSet   bool
		want     string
	}{
		{name: "environment variable set", key: "TEST_STRING", envValue: "from-env", envSet: true, want: "from-env"},
		{name: "environment variable not set", key: "TEST_STRING_UNSET", want: "default"},
		{name: "environment variable empty string", key: "TEST_STRING_EMPTY", envSet: true, want: "default"},
		{name: "sensitive variable (password)", key: "TEST_PASSWORD", envValue: "secret123", envSet: true, want: "secret123"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if tt.envSet {
				t.Setenv(tt.key, tt.envValue)
			}
			assert.Equal(t, tt.want, ParseString(tt.key, "default"))
		})
	}
}

func TestParseIntFallsBackOnGarbage(t *testing.T) {
	t.Setenv("TEST_INT", "42")
	assert.Equal(t, 42, ParseInt("TEST_INT", 7))
	t.Setenv("TEST_INT", "forty-two")
	assert.Equal(t, 7, ParseInt("TEST_INT", 7))
}

func TestParseDuration(t *testing.T) {
	t.Setenv("TEST_DURATION", "1500ms")
	assert.Equal(t, 1500*time.Millisecond, ParseDuration("TEST_DURATION", time.Second))
	t.Setenv("TEST_DURATION", "1500")
	assert.Equal(t, time.Second, ParseDuration("TEST_DURATION", time.Second), "bare numbers are rejected")
}

func TestParseBool(t *testing.T) {
	for _, v := range []string{"true", "1", "YES"} {
		t.Setenv("TEST_BOOL", v)
		assert.True(t, ParseBool("TEST_BOOL", false), v)
	}
	for _, v := range []string{"false", "0", "no"} {
		t.Setenv("TEST_BOOL", v)
		assert.False(t, ParseBool("TEST_BOOL", true), v)
	}
	t.Setenv("TEST_BOOL", "maybe")
	assert.True(t, ParseBool("TEST_BOOL", true))
}

func TestParseFloat(t *testing.T) {
	t.Setenv("TEST_FLOAT", "0.25")
	assert.InDelta(t, 0.25, ParseFloat("TEST_FLOAT", 1), 1e-9)
}

func TestParseList(t *testing.T) {
	t.Setenv("TEST_LIST", " a ,b,, c ")
	assert.Equal(t, []string{"a", "b", "c"}, ParseList("TEST_LIST", nil))
	assert.Equal(t, []string{"x"}, ParseList("TEST_LIST_UNSET", []string{"x"}))
}
