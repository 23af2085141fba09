// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

// Package source defines the event network boundary the feed consumes.
package source

import (
	"context"
	"errors"

	"github.com/ManuGH/clipfeed/internal/feed/model"
)

var (
	// ErrUnknownSubscription is returned by Unsubscribe for unknown handles.
	ErrUnknownSubscription = errors.New("unknown subscription")
	// ErrClosed is returned once the source has been closed.
	ErrClosed = errors.New("source closed")
)

// Subscription is a live stream of items for one descriptor. Items is closed
// when the stream ends; Err carries at most one terminal stream error.
type Subscription struct {
	ID    string
	Items <-chan model.ContentItem
	Err   <-chan error
}

// Source opens live subscriptions and pages history.
type Source interface {
	Subscribe(ctx context.Context, desc model.Descriptor) (*Subscription, error)
	Unsubscribe(id string) error
	// LoadMore returns up to desc.Limit items the cursor admits, newest first.
	LoadMore(ctx context.Context, desc model.Descriptor, cursor model.Cursor) ([]model.ContentItem, error)
}
