// Copyright (c) 2025 The VeChainThor developers
//
// Distributed under the GNU Lesser General Public License v3.0 software license, see the accompanying
// file LICENSE or <https://www.gnu.org/licenses/lgpl-3.0.html>

package middleware

import (
	"context"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/vechain/mpbft/log"
)

// mockLogger records the context of Info and Warn calls.
type mockLogger struct {
	loggedData []any
}

func (m *mockLogger) With(_ ...any) log.Logger                      { return m }
func (m *mockLogger) Log(_ slog.Level, _ string, _ ...any)          {}
func (m *mockLogger) Trace(_ string, _ ...any)                      {}
func (m *mockLogger) Debug(_ string, _ ...any)                      {}
func (m *mockLogger) Error(_ string, _ ...any)                      {}
func (m *mockLogger) Crit(_ string, _ ...any)                       {}
func (m *mockLogger) Enabled(_ context.Context, _ slog.Level) bool { return true }
func (m *mockLogger) Handler() slog.Handler                         { return nil }

func (m *mockLogger) Info(_ string, ctx ...any) {
	m.loggedData = append(m.loggedData, ctx...)
}

func (m *mockLogger) Warn(_ string, ctx ...any) {
	m.loggedData = append(m.loggedData, ctx...)
}

func respond(status int, delay time.Duration) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		io.ReadAll(r.Body)
		time.Sleep(delay)
		w.WriteHeader(status)
	}
}

func TestRequestLoggerMiddleware(t *testing.T) {
	tests := []struct {
		name      string
		handler   http.HandlerFunc
		enabled   bool
		threshold time.Duration
		log5xx    bool
		upgrade   bool
		shouldLog bool
	}{
		{"enabled", respond(http.StatusOK, 0), true, 0, false, false, true},
		{"disabled", respond(http.StatusOK, 0), false, 0, false, false, false},
		{"slow request", respond(http.StatusOK, 30*time.Millisecond), false, 10 * time.Millisecond, false, false, true},
		{"fast request", respond(http.StatusOK, 0), false, time.Second, false, false, false},
		{"server error", respond(http.StatusServiceUnavailable, 0), false, 0, true, false, true},
		{"server error not logged", respond(http.StatusInternalServerError, 0), false, 0, false, false, false},
		{"client error", respond(http.StatusBadRequest, 0), false, 0, true, false, false},
		{"websocket upgrade", respond(http.StatusOK, 0), true, 0, false, true, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			logger := &mockLogger{}
			var enabled atomic.Bool
			enabled.Store(tt.enabled)

			handler := RequestLoggerMiddleware(logger, &enabled, tt.threshold, tt.log5xx)(tt.handler)
			req := httptest.NewRequest(http.MethodPost, "http://example.com/votes", strings.NewReader(`{"round":1}`))
			if tt.upgrade {
				req.Header.Set("Upgrade", "websocket")
			}
			rr := httptest.NewRecorder()
			handler.ServeHTTP(rr, req)

			if !tt.shouldLog {
				assert.Empty(t, logger.loggedData)
				return
			}
			assert.Contains(t, logger.loggedData, "http://example.com/votes")
			assert.Contains(t, logger.loggedData, http.MethodPost)
			assert.Contains(t, logger.loggedData, `{"round":1}`)
			assert.Contains(t, logger.loggedData, rr.Code)
		})
	}
}
