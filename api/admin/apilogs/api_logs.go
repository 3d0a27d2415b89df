// Copyright (c) 2025 The VeChainThor developers
//
// Distributed under the GNU Lesser General Public License v3.0 software license, see the accompanying
// file LICENSE or <https://www.gnu.org/licenses/lgpl-3.0.html>

package apilogs

import (
	"net/http"
	"sync/atomic"

	"github.com/gorilla/mux"
	"github.com/pkg/errors"

	"github.com/vechain/mpbft/api/utils"
	"github.com/vechain/mpbft/log"
)

// LogStatus reports whether API requests are logged.
type LogStatus struct {
	Enabled bool `json:"enabled"`
}

var logger = log.WithContext("pkg", "apilogs")

// APILogs switches the request logger at runtime.
type APILogs struct {
	enabled *atomic.Bool
}

func New(enabled *atomic.Bool) *APILogs {
	return &APILogs{enabled: enabled}
}

func (a *APILogs) status(w http.ResponseWriter, _ *http.Request) error {
	return utils.WriteJSON(w, &LogStatus{Enabled: a.enabled.Load()})
}

func (a *APILogs) update(w http.ResponseWriter, r *http.Request) error {
	var req LogStatus
	if err := utils.ParseJSON(r.Body, &req); err != nil {
		return utils.BadRequest(errors.WithMessage(err, "body"))
	}
	if was := a.enabled.Swap(req.Enabled); was != req.Enabled {
		logger.Info("api request logging switched", "enabled", req.Enabled)
	}
	return utils.WriteJSON(w, &req)
}

func (a *APILogs) Mount(root *mux.Router, pathPrefix string) {
	sub := root.PathPrefix(pathPrefix).Subrouter()
	sub.Path("").Methods(http.MethodGet).Name("GET /admin/apilogs").HandlerFunc(utils.WrapHandlerFunc(a.status))
	sub.Path("").Methods(http.MethodPost).Name("POST /admin/apilogs").HandlerFunc(utils.WrapHandlerFunc(a.update))
}
