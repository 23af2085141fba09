// SPDX-License-Identifier: MIT

package health

import (
	"context"
	"fmt"
)

// FlagChecker reports unhealthy while value returns false.
func FlagChecker(name string, value func() bool, whenFalse string) Checker {
	return CheckerFunc(name, func(context.Context) CheckResult {
		if !value() {
			return CheckResult{Status: StatusUnhealthy, Message: whenFalse}
		}
		return CheckResult{Status: StatusHealthy}
	})
}

// SurfaceCounter reports how many surfaces exist and how many are open.
type SurfaceCounter func() (open, total int)

// SurfacesChecker is unhealthy without surfaces. Closed surfaces are normal
// (background, inactive) and only show up in the message.
func SurfacesChecker(count SurfaceCounter) Checker {
	return CheckerFunc("surfaces", func(context.Context) CheckResult {
		open, total := count()
		msg := fmt.Sprintf("%d/%d open", open, total)
		if total == 0 {
			return CheckResult{Status: StatusUnhealthy, Message: msg}
		}
		return CheckResult{Status: StatusHealthy, Message: msg}
	})
}

// PingChecker runs ping with the request context. A failure degrades the
// service instead of failing readiness.
func PingChecker(name string, ping func(ctx context.Context) error) Checker {
	return CheckerFunc(name, func(ctx context.Context) CheckResult {
		if err := ping(ctx); err != nil {
			return CheckResult{Status: StatusDegraded, Error: err.Error()}
		}
		return CheckResult{Status: StatusHealthy}
	})
}
