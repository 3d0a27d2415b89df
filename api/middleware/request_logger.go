// Copyright (c) 2025 The VeChainThor developers
//
// Distributed under the GNU Lesser General Public License v3.0 software license, see the accompanying
// file LICENSE or <https://www.gnu.org/licenses/lgpl-3.0.html>

package middleware

import (
	"bytes"
	"io"
	"net/http"
	"sync/atomic"
	"time"

	"github.com/vechain/mpbft/log"
)

// statusWriter captures the status code for the request log.
type statusWriter struct {
	http.ResponseWriter
	status int
}

func (w *statusWriter) WriteHeader(code int) {
	w.status = code
	w.ResponseWriter.WriteHeader(code)
}

// RequestLoggerMiddleware logs every request while enabled is set, any
// request slower than slowQueriesThreshold when it is not zero, and server
// errors when log5xxErrors is set. Websocket upgrades pass through unlogged.
func RequestLoggerMiddleware(logger log.Logger, enabled *atomic.Bool, slowQueriesThreshold time.Duration, log5xxErrors bool) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if (!enabled.Load() && slowQueriesThreshold == 0 && !log5xxErrors) || r.Header.Get("Upgrade") != "" {
				next.ServeHTTP(w, r)
				return
			}
			// the body can only be read once, so hand a copy on to the handler
			var body []byte
			if r.Body != nil {
				var err error
				if body, err = io.ReadAll(r.Body); err != nil {
					logger.Warn("unexpected body read error", "err", err)
					http.Error(w, "unreadable body", http.StatusBadRequest)
					return
				}
				r.Body = io.NopCloser(bytes.NewReader(body))
			}

			start := time.Now()
			sw := &statusWriter{ResponseWriter: w, status: http.StatusOK}
			next.ServeHTTP(sw, r)

			duration := time.Since(start)
			slow := slowQueriesThreshold > 0 && duration > slowQueriesThreshold
			failed := log5xxErrors && sw.status >= http.StatusInternalServerError
			if enabled.Load() || slow || failed {
				logger.Info("API Request",
					"durationMs", duration.Milliseconds(),
					"uri", r.URL.String(),
					"method", r.Method,
					"status", sw.status,
					"body", string(body),
				)
			}
		})
	}
}
