// Copyright (c) 2025 The VeChainThor developers
//
// Distributed under the GNU Lesser General Public License v3.0 software license, see the accompanying
// file LICENSE or <https://www.gnu.org/licenses/lgpl-3.0.html>

package apilogs

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"

	"github.com/gorilla/mux"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAPILogs(t *testing.T) {
	var enabled atomic.Bool
	router := mux.NewRouter()
	New(&enabled).Mount(router, "/admin/apilogs")

	do := func(method, body string) *httptest.ResponseRecorder {
		rr := httptest.NewRecorder()
		router.ServeHTTP(rr, httptest.NewRequest(method, "/admin/apilogs", strings.NewReader(body)))
		return rr
	}

	rr := do(http.MethodPost, `{"enabled":true}`)
	require.Equal(t, http.StatusOK, rr.Code)
	assert.True(t, enabled.Load())

	rr = do(http.MethodGet, "")
	require.Equal(t, http.StatusOK, rr.Code)
	var status LogStatus
	require.NoError(t, json.NewDecoder(rr.Body).Decode(&status))
	assert.True(t, status.Enabled)

	rr = do(http.MethodPost, `{"enabled":"yes"}`)
	assert.Equal(t, http.StatusBadRequest, rr.Code)
	assert.True(t, enabled.Load())
}
