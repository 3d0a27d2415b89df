// Copyright (c) 2025 The VeChainThor developers
//
// Distributed under the GNU Lesser General Public License v3.0 software license, see the accompanying
// file LICENSE or <https://www.gnu.org/licenses/lgpl-3.0.html>

package api

import (
	"log/slog"
	"net"
	"net/http"
	"sync/atomic"
	"time"

	"github.com/pkg/errors"

	"github.com/vechain/mpbft/api/admin"
	"github.com/vechain/mpbft/api/admin/health"
	"github.com/vechain/mpbft/co"
)

// StartAdminServer serves the admin handler on addr and returns its base url
// and a function stopping it.
func StartAdminServer(addr string, logLevel *slog.LevelVar, apiLogs *atomic.Bool, source health.Source) (string, func(), error) {
	listener, err := net.Listen("tcp", addr)
	if err != nil {
		return "", nil, errors.Wrapf(err, "listen admin API addr [%v]", addr)
	}

	srv := &http.Server{Handler: admin.New(logLevel, apiLogs, source), ReadHeaderTimeout: time.Second, ReadTimeout: 5 * time.Second}
	var goes co.Goes
	goes.Go(func() {
		srv.Serve(listener)
	})
	return "http://" + listener.Addr().String() + "/admin", func() {
		srv.Close()
		goes.Wait()
	}, nil
}
