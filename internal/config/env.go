// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package config

import (
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/ManuGH/clipfeed/internal/log"
	"github.com/rs/zerolog"
)

// EnvPrefix prefixes every environment override.
const EnvPrefix = "CLIPFEED_"

// parseEnv reads key with parse, logging whether the environment or the
// default was used. Invalid values fall back to the default with a warning.
func parseEnv[T any](logger zerolog.Logger, key string, defaultValue T, parse func(string) (T, error)) T {
	v, ok := os.LookupEnv(key)
	if !ok {
		logger.Debug().
			Str("key", key).
			Interface("default", defaultValue).
			Str("source", "default").
			Msg("using default value")
		return defaultValue
	}
	if v == "" {
		logger.Debug().
			Str("key", key).
			Interface("default", defaultValue).
			Str("source", "default").
			Msg("using default value (environment variable is empty)")
		return defaultValue
	}
	out, err := parse(v)
	if err != nil {
		logger.Warn().
			Str("key", key).
			Str("value", v).
			Interface("default", defaultValue).
			Msg("invalid value in environment variable, using default")
		return defaultValue
	}
	if isSensitive(key) {
		logger.Debug().
			Str("key", key).
			Str("source", "environment").
			Bool("sensitive", true).
			Msg("using environment variable")
	} else {
		logger.Debug().
			Str("key", key).
			Interface("value", out).
			Str("source", "environment").
			Msg("using environment variable")
	}
	return out
}

func isSensitive(key string) bool {
	k := strings.ToLower(key)
	return strings.Contains(k, "token") || strings.Contains(k, "password")
}

// ParseString reads a string from environment variable or returns default value.
func ParseString(key, defaultValue string) string {
	return parseEnv(log.WithComponent("config"), key, defaultValue, func(s string) (string, error) { return s, nil })
}

// ParseInt reads an integer from environment variable or returns default value.
func ParseInt(key string, defaultValue int) int {
	return parseEnv(log.WithComponent("config"), key, defaultValue, strconv.Atoi)
}

// ParseDuration reads a duration in Go duration format (e.g. "5s").
func ParseDuration(key string, defaultValue time.Duration) time.Duration {
	return parseEnv(log.WithComponent("config"), key, defaultValue, time.ParseDuration)
}

// ParseFloat reads a float64 from environment variable or returns default value.
func ParseFloat(key string, defaultValue float64) float64 {
	return parseEnv(log.WithComponent("config"), key, defaultValue, func(s string) (float64, error) {
		return strconv.ParseFloat(s, 64)
	})
}

// ParseBool reads a boolean. It accepts "true", "false", "1", "0", "yes",
// "no" (case-insensitive).
func ParseBool(key string, defaultValue bool) bool {
	return parseEnv(log.WithComponent("config"), key, defaultValue, func(s string) (bool, error) {
		switch strings.ToLower(s) {
		case "true", "1", "yes":
			return true, nil
		case "false", "0", "no":
			return false, nil
		}
		return false, strconv.ErrSyntax
	})
}

// ParseList reads a comma separated list. Blank entries are dropped.
func ParseList(key string, defaultValue []string) []string {
	return parseEnv(log.WithComponent("config"), key, defaultValue, func(s string) ([]string, error) {
		var out []string
		for _, part := range strings.Split(s, ",") {
			if p := strings.TrimSpace(part); p != "" {
				out = append(out, p)
			}
		}
		return out, nil
	})
}
