// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package middleware

import (
	"net/http"
	"time"

	"github.com/ManuGH/clipfeed/internal/log"
)

// Logging writes one access log line per request.
func Logging(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		sw := &statusWriter{ResponseWriter: w, statusCode: http.StatusOK}
		next.ServeHTTP(sw, r)

		logger := log.WithComponentFromContext(r.Context(), "api")
		ev := logger.Info()
		if sw.statusCode >= http.StatusInternalServerError {
			ev = logger.Error()
		}
		ev.Str(log.FieldEvent, "http.request").
			Str("method", r.Method).
			Str("route", routePattern(r)).
			Int("status", sw.statusCode).
			Int("bytes", sw.bytesWritten).
			Dur("duration", time.Since(start)).
			Msg("request served")
	})
}
