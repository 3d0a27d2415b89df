// Copyright (c) 2025 The VeChainThor developers
//
// Distributed under the GNU Lesser General Public License v3.0 software license, see the accompanying
// file LICENSE or <https://www.gnu.org/licenses/lgpl-3.0.html>

// Package api serves the REST and websocket surface of a node.
package api

import (
	"net/http"
	"net/http/pprof"
	"strings"
	"sync/atomic"
	"time"

	"github.com/gorilla/handlers"
	"github.com/gorilla/mux"

	"github.com/vechain/mpbft/api/consensus"
	"github.com/vechain/mpbft/api/middleware"
	apinode "github.com/vechain/mpbft/api/node"
	"github.com/vechain/mpbft/api/proposals"
	"github.com/vechain/mpbft/api/subscriptions"
	"github.com/vechain/mpbft/api/transactions"
	"github.com/vechain/mpbft/api/validators"
	"github.com/vechain/mpbft/log"
	"github.com/vechain/mpbft/metrics"
	"github.com/vechain/mpbft/node"
)

var logger = log.WithContext("pkg", "api")

type Options struct {
	AllowedOrigins       string
	PprofOn              bool
	EnableMetrics        bool
	EnableReqLogger      *atomic.Bool
	SlowQueriesThreshold time.Duration
	Log5xxErrors         bool
}

// New returns the api handler and a function closing the open websocket
// streams.
func New(n *node.Node, opts Options) (http.HandlerFunc, func()) {
	origins := strings.Split(strings.TrimSpace(opts.AllowedOrigins), ",")
	for i, o := range origins {
		origins[i] = strings.ToLower(strings.TrimSpace(o))
	}

	router := mux.NewRouter()

	validators.New(n).
		Mount(router, "/validators")
	consensus.New(n).
		Mount(router)
	proposals.New(n).
		Mount(router, "/proposals")
	transactions.New(n).
		Mount(router, "/transactions")
	apinode.New(n).
		Mount(router, "/node")
	subs := subscriptions.New(n, origins)
	subs.Mount(router, "/subscriptions")

	if opts.PprofOn {
		router.HandleFunc("/debug/pprof/cmdline", pprof.Cmdline)
		router.HandleFunc("/debug/pprof/profile", pprof.Profile)
		router.HandleFunc("/debug/pprof/symbol", pprof.Symbol)
		router.HandleFunc("/debug/pprof/trace", pprof.Trace)
		router.PathPrefix("/debug/pprof/").HandlerFunc(pprof.Index)
	}

	if opts.EnableMetrics {
		router.PathPrefix("/metrics").Handler(metrics.HTTPHandler())
		router.Use(metricsMiddleware)
	}

	reqLogger := opts.EnableReqLogger
	if reqLogger == nil {
		reqLogger = new(atomic.Bool)
	}
	router.Use(middleware.RequestLoggerMiddleware(logger, reqLogger, opts.SlowQueriesThreshold, opts.Log5xxErrors))

	handler := handlers.CompressHandler(router)
	handler = handlers.CORS(
		handlers.AllowedOrigins(origins),
		handlers.AllowedHeaders([]string{"content-type"}),
		handlers.AllowedMethods([]string{http.MethodGet, http.MethodPost, http.MethodOptions}),
	)(handler)

	return handler.ServeHTTP, subs.Close
}
