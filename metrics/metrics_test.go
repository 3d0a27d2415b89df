// Copyright (c) 2025 The VeChainThor developers
//
// Distributed under the GNU Lesser General Public License v3.0 software license, see the accompanying
// file LICENSE or <https://www.gnu.org/licenses/lgpl-3.0.html>

package metrics

import (
	"io"
	"net/http/httptest"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	dto "github.com/prometheus/client_model/go"
)

func TestNoopMetrics(t *testing.T) {
	m := defaultNoopMetrics()
	m.GetOrCreateCountMeter("c").Add(1)
	m.GetOrCreateGaugeVecMeter("g", []string{"l"}).SetWithLabel(1, map[string]string{"l": "x"})
	m.GetOrCreateHistogramMeter("h", nil).Observe(1)
	assert.NotNil(t, m.GetOrCreateHandler())
}

func TestPrometheusMeters(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := newPrometheusMetrics(reg, reg)

	m.GetOrCreateCountMeter("commits").Add(2)
	assert.Same(t, m.GetOrCreateCountMeter("commits"), m.GetOrCreateCountMeter("commits"))
	m.GetOrCreateCountVecMeter("slashes", []string{"fault"}).AddWithLabel(1, map[string]string{"fault": "DoubleVote"})
	m.GetOrCreateGaugeMeter("height").Set(42)
	m.GetOrCreateGaugeVecMeter("weight", []string{"validator"}).SetWithLabel(7, map[string]string{"validator": "a"})
	m.GetOrCreateHistogramMeter("round_ms", Bucket10s).Observe(300)

	families, err := reg.Gather()
	require.NoError(t, err)
	byName := make(map[string]*dto.MetricFamily)
	for _, f := range families {
		byName[f.GetName()] = f
	}

	require.Contains(t, byName, "mpbft_commits")
	assert.Equal(t, float64(2), byName["mpbft_commits"].Metric[0].GetCounter().GetValue())
	assert.Equal(t, float64(42), byName["mpbft_height"].Metric[0].GetGauge().GetValue())
	assert.Equal(t, float64(7), byName["mpbft_weight"].Metric[0].GetGauge().GetValue())
	assert.Equal(t, uint64(1), byName["mpbft_round_ms"].Metric[0].GetHistogram().GetSampleCount())

	rec := httptest.NewRecorder()
	m.GetOrCreateHandler().ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))
	body, _ := io.ReadAll(rec.Body)
	assert.Contains(t, string(body), "mpbft_slashes")
}

func TestLazyLoad(t *testing.T) {
	calls := 0
	get := LazyLoad(func() int {
		calls++
		return calls
	})
	assert.Equal(t, 1, get())
	assert.Equal(t, 1, get())
}

func TestLazyLoadGaugeVec(t *testing.T) {
	get := LazyLoadGaugeVec("proposals", []string{"status"})
	require.NotNil(t, get())
	assert.NotPanics(t, func() {
		get().AddWithLabel(1, map[string]string{"status": "Voting"})
		get().AddWithLabel(-1, map[string]string{"status": "Voting"})
	})
}
