// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package daemon

import "errors"

var (
	// ErrAlreadyRunning is returned by a second Run call.
	ErrAlreadyRunning = errors.New("daemon already running")
	// ErrNoSurfaces is returned when the configuration declares no surface.
	ErrNoSurfaces = errors.New("no surfaces configured")
)
