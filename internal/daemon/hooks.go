// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package daemon

import (
	"context"
	"errors"
	"fmt"
)

// ShutdownHook is a function that performs cleanup during graceful shutdown.
// Hooks are executed in reverse registration order (LIFO).
type ShutdownHook func(ctx context.Context) error

type namedHook struct {
	name string
	hook ShutdownHook
}

// RegisterShutdownHook registers a function to be called during shutdown.
func (a *App) RegisterShutdownHook(name string, hook ShutdownHook) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.hooks = append(a.hooks, namedHook{name: name, hook: hook})
	a.logger.Debug().Str("hook", name).Msg("registered shutdown hook")
}

// runShutdownHooks runs every hook once, newest first, and joins their errors.
func (a *App) runShutdownHooks(ctx context.Context) error {
	a.mu.Lock()
	hooks := a.hooks
	a.hooks = nil
	a.mu.Unlock()

	var errs []error
	for i := len(hooks) - 1; i >= 0; i-- {
		h := hooks[i]
		a.logger.Debug().Str("hook", h.name).Msg("running shutdown hook")
		if err := h.hook(ctx); err != nil {
			a.logger.Warn().Err(err).Str("hook", h.name).Msg("shutdown hook failed")
			errs = append(errs, fmt.Errorf("%s: %w", h.name, err))
		}
	}
	return errors.Join(errs...)
}
