// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

// Package playback defines the media engine the feed drives and the error
// classes it reports.
package playback

import (
	"context"
	"errors"
	"fmt"
)

// Handle identifies one opened media resource.
type Handle string

// Engine opens, plays and releases media. Close must be idempotent.
type Engine interface {
	Open(ctx context.Context, ref string) (Handle, error)
	Play(h Handle) error
	Pause(h Handle) error
	Close(h Handle) error
}

// ErrorKind classifies a media failure.
type ErrorKind string

const (
	// Transient failures may succeed on retry (network, decoder busy).
	Transient ErrorKind = "transient"
	// Malformed media will never decode.
	Malformed ErrorKind = "malformed"
	// NotFound media does not exist at the reference.
	NotFound ErrorKind = "not_found"
)

// ErrUnknownHandle is returned for handles the engine never issued or already closed.
var ErrUnknownHandle = errors.New("unknown playback handle")

// MediaError is a classified engine failure.
type MediaError struct {
	Kind ErrorKind
	Ref  string
	Err  error
}

func (e *MediaError) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("media %s: %s", e.Ref, e.Kind)
	}
	return fmt.Sprintf("media %s: %s: %v", e.Ref, e.Kind, e.Err)
}

func (e *MediaError) Unwrap() error { return e.Err }

// KindOf returns the classification of err. Unclassified errors count as
// transient.
func KindOf(err error) ErrorKind {
	var me *MediaError
	if errors.As(err, &me) {
		return me.Kind
	}
	return Transient
}

// IsPermanent reports whether retrying err is pointless. Context
// cancellation is neither permanent nor a media failure.
func IsPermanent(err error) bool {
	if err == nil || errors.Is(err, context.Canceled) {
		return false
	}
	switch KindOf(err) {
	case Malformed, NotFound:
		return true
	}
	return false
}
