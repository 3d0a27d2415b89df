// Copyright (c) 2025 The VeChainThor developers
//
// Distributed under the GNU Lesser General Public License v3.0 software license, see the accompanying
// file LICENSE or <https://www.gnu.org/licenses/lgpl-3.0.html>

package health

import (
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"github.com/pkg/errors"

	"github.com/vechain/mpbft/api/utils"
)

const defaultMaxTimeBetweenHeights = 30 * time.Second

type API struct {
	health *Health
}

func NewAPI(health *Health) *API {
	return &API{
		health: health,
	}
}

func (a *API) handleGetHealth(w http.ResponseWriter, r *http.Request) error {
	maxTime := defaultMaxTimeBetweenHeights
	if q := r.URL.Query().Get("maxTimeBetweenHeights"); q != "" {
		parsed, err := time.ParseDuration(q)
		if err != nil {
			return utils.BadRequest(errors.WithMessage(err, "maxTimeBetweenHeights"))
		}
		maxTime = parsed
	}

	status := a.health.Status(maxTime)
	w.Header().Set("Content-Type", utils.JSONContentType)
	if !status.Healthy {
		w.WriteHeader(http.StatusServiceUnavailable)
	}
	return utils.WriteJSON(w, status)
}

func (a *API) Mount(root *mux.Router, pathPrefix string) {
	sub := root.PathPrefix(pathPrefix).Subrouter()

	sub.Path("").
		Methods(http.MethodGet).
		Name("GET /admin/health").
		HandlerFunc(utils.WrapHandlerFunc(a.handleGetHealth))
}
