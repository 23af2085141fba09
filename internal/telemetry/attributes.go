// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package telemetry

import (
	"go.opentelemetry.io/otel/attribute"
)

// Attribute keys shared by feed spans.
const (
	SurfaceIDKey      = "feed.surface_id"
	DescriptorKey     = "feed.descriptor"
	CategoryKey       = "feed.category"
	CursorKey         = "feed.cursor_until"
	PageSizeKey       = "feed.page_size"
	HasMoreKey        = "feed.has_more"
	ItemIDKey         = "feed.item_id"
	SubscriptionIDKey = "feed.subscription_id"
	AttemptKey        = "feed.attempt"

	ErrorKey     = "error"
	ErrorTypeKey = "error.type"
)

// FeedAttributes describes the surface and descriptor a span works for.
func FeedAttributes(surfaceID, descriptor, category string) []attribute.KeyValue {
	attrs := make([]attribute.KeyValue, 0, 3)
	if surfaceID != "" {
		attrs = append(attrs, attribute.String(SurfaceIDKey, surfaceID))
	}
	if descriptor != "" {
		attrs = append(attrs, attribute.String(DescriptorKey, descriptor))
	}
	if category != "" {
		attrs = append(attrs, attribute.String(CategoryKey, category))
	}
	return attrs
}

// PageAttributes describes a loadMore result.
func PageAttributes(cursor int64, size int, hasMore bool) []attribute.KeyValue {
	return []attribute.KeyValue{
		attribute.Int64(CursorKey, cursor),
		attribute.Int(PageSizeKey, size),
		attribute.Bool(HasMoreKey, hasMore),
	}
}

// ErrorAttributes creates error-related span attributes.
func ErrorAttributes(err error, errorType string) []attribute.KeyValue {
	if err == nil {
		return nil
	}
	return []attribute.KeyValue{
		attribute.Bool(ErrorKey, true),
		attribute.String(ErrorTypeKey, errorType),
	}
}
