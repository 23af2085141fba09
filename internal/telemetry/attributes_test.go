// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package telemetry

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"go.opentelemetry.io/otel/attribute"
)

func TestFeedAttributesSkipsEmpty(t *testing.T) {
	attrs := FeedAttributes("s1", "", "home")
	assert.Equal(t, []attribute.KeyValue{
		attribute.String(SurfaceIDKey, "s1"),
		attribute.String(CategoryKey, "home"),
	}, attrs)
}

func TestPageAttributes(t *testing.T) {
	attrs := PageAttributes(1700, 20, true)
	assert.Len(t, attrs, 3)
	assert.Equal(t, int64(1700), attrs[0].Value.AsInt64())
	assert.True(t, attrs[2].Value.AsBool())
}

func TestErrorAttributes(t *testing.T) {
	assert.Nil(t, ErrorAttributes(nil, "x"))
	attrs := ErrorAttributes(errors.New("boom"), "source")
	assert.Equal(t, "source", attrs[1].Value.AsString())
}
