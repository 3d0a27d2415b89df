// Copyright (c) 2025 The VeChainThor developers
//
// Distributed under the GNU Lesser General Public License v3.0 software license, see the accompanying
// file LICENSE or <https://www.gnu.org/licenses/lgpl-3.0.html>

package api

import (
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gorilla/mux"

	"github.com/vechain/mpbft/metrics"
)

// bucketHTTPReqs covers request durations in milliseconds.
var bucketHTTPReqs = []int64{0, 5, 10, 25, 50, 100, 250, 500, 1000, 2500}

var (
	metricHTTPReqCounter  = metrics.LazyLoadCounterVec("api_request_count", []string{"name", "code", "method"})
	metricHTTPReqDuration = metrics.LazyLoadHistogram("api_duration_ms", bucketHTTPReqs)
	metricActiveWebsocket = metrics.LazyLoad(func() metrics.GaugeVecMeter {
		return metrics.GaugeVec("api_active_websocket_count", []string{"subject"})
	})
)

const websocketRoutePrefix = "WS /subscriptions/"

// metricsResponseWriter is a wrapper around http.ResponseWriter that captures the status code.
type metricsResponseWriter struct {
	http.ResponseWriter
	statusCode int
}

func newMetricsResponseWriter(w http.ResponseWriter) *metricsResponseWriter {
	return &metricsResponseWriter{w, http.StatusOK}
}

func (m *metricsResponseWriter) WriteHeader(code int) {
	m.statusCode = code
	m.ResponseWriter.WriteHeader(code)
}

// metricsMiddleware records requests by route name. Websocket routes are
// counted while open instead, and get the raw writer since they hijack it.
func metricsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var name string
		if route := mux.CurrentRoute(r); route != nil {
			name = route.GetName()
		}
		if name == "" {
			next.ServeHTTP(w, r)
			return
		}

		if subject, ok := strings.CutPrefix(name, websocketRoutePrefix); ok {
			labels := map[string]string{"subject": subject}
			metricActiveWebsocket().AddWithLabel(1, labels)
			defer metricActiveWebsocket().AddWithLabel(-1, labels)
			next.ServeHTTP(w, r)
			return
		}

		now := time.Now()
		mrw := newMetricsResponseWriter(w)
		next.ServeHTTP(mrw, r)

		metricHTTPReqCounter().AddWithLabel(1, map[string]string{
			"name":   name,
			"code":   strconv.Itoa(mrw.statusCode),
			"method": r.Method,
		})
		metricHTTPReqDuration().Observe(time.Since(now).Milliseconds())
	})
}
