// Chronocache - Multi-Tier Cache for Time-Series Analytics Aggregates
// Copyright 2026 J. Ostrander (jostrander)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/jostrander/chronocache

package middleware

import (
	"net/http"

	"github.com/jostrander/chronocache/internal/logging"
)

// RequestID tags every request with a fresh ID, echoed in the
// X-Request-ID response header and carried on the logging context so
// handler log lines can be correlated. The diagnostics API is not
// fronted by a proxy, so inbound X-Request-ID headers are ignored
// rather than trusted.
func RequestID(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id := logging.GenerateRequestID()
		w.Header().Set("X-Request-ID", id)
		next(w, r.WithContext(logging.ContextWithRequestID(r.Context(), id)))
	}
}
