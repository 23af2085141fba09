// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package log

// Canonical field name constants for structured logging.
const (
	// Identity fields
	FieldSurfaceID      = "surface_id"
	FieldItemID         = "item_id"
	FieldAuthor         = "author"
	FieldDescriptor     = "descriptor"
	FieldSubscriptionID = "subscription_id"
	FieldRequestID      = "request_id"
	FieldCorrelationID  = "correlation_id"

	// Process / loop fields
	FieldEvent     = "event"
	FieldComponent = "component"
	FieldHandle    = "handle"
	FieldSignal    = "signal"

	// Media fields
	FieldMediaRef = "media_ref"
	FieldRetries  = "retries"

	// State fields
	FieldOldState = "old_state"
	FieldNewState = "new_state"

	// Path / URL fields
	FieldPath = "path"
)
