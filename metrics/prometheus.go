// Copyright (c) 2025 The VeChainThor developers
//
// Distributed under the GNU Lesser General Public License v3.0 software license, see the accompanying
// file LICENSE or <https://www.gnu.org/licenses/lgpl-3.0.html>

package metrics

import (
	"errors"
	"net/http"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/vechain/mpbft/log"
)

const namespace = "mpbft"

var logger = log.WithContext("pkg", "metrics")

// InitializePrometheusMetrics switches the provider to Prometheus. Calling it
// again is a no-op.
func InitializePrometheusMetrics() {
	if _, ok := metrics.(*prometheusMetrics); !ok {
		metrics = newPrometheusMetrics(prometheus.DefaultRegisterer, prometheus.DefaultGatherer)
	}
}

type prometheusMetrics struct {
	registerer prometheus.Registerer
	gatherer   prometheus.Gatherer
	meters     sync.Map // name => meter
}

func newPrometheusMetrics(registerer prometheus.Registerer, gatherer prometheus.Gatherer) *prometheusMetrics {
	return &prometheusMetrics{registerer: registerer, gatherer: gatherer}
}

// getOrCreate returns the meter registered under name, building and registering it on first use.
func getOrCreate[T any](o *prometheusMetrics, name string, build func() (prometheus.Collector, T)) T {
	if m, ok := o.meters.Load(name); ok {
		return m.(T)
	}
	collector, meter := build()
	if actual, loaded := o.meters.LoadOrStore(name, meter); loaded {
		return actual.(T)
	}
	if err := o.registerer.Register(collector); err != nil {
		var already prometheus.AlreadyRegisteredError
		if !errors.As(err, &already) {
			logger.Warn("unable to register metric", "name", name, "error", err)
		}
	}
	return meter
}

func toFloatBuckets(buckets []int64) []float64 {
	if len(buckets) == 0 {
		return nil
	}
	out := make([]float64, 0, len(buckets))
	for _, b := range buckets {
		out = append(out, float64(b))
	}
	return out
}

func (o *prometheusMetrics) GetOrCreateHandler() http.Handler {
	return promhttp.HandlerFor(o.gatherer, promhttp.HandlerOpts{})
}

func (o *prometheusMetrics) GetOrCreateCountMeter(name string) CountMeter {
	return getOrCreate(o, name, func() (prometheus.Collector, CountMeter) {
		c := prometheus.NewCounter(prometheus.CounterOpts{Namespace: namespace, Name: name})
		return c, &promCountMeter{c}
	})
}

func (o *prometheusMetrics) GetOrCreateCountVecMeter(name string, labels []string) CountVecMeter {
	return getOrCreate(o, name, func() (prometheus.Collector, CountVecMeter) {
		c := prometheus.NewCounterVec(prometheus.CounterOpts{Namespace: namespace, Name: name}, labels)
		return c, &promCountVecMeter{c}
	})
}

func (o *prometheusMetrics) GetOrCreateGaugeMeter(name string) GaugeMeter {
	return getOrCreate(o, name, func() (prometheus.Collector, GaugeMeter) {
		g := prometheus.NewGauge(prometheus.GaugeOpts{Namespace: namespace, Name: name})
		return g, &promGaugeMeter{g}
	})
}

func (o *prometheusMetrics) GetOrCreateGaugeVecMeter(name string, labels []string) GaugeVecMeter {
	return getOrCreate(o, name, func() (prometheus.Collector, GaugeVecMeter) {
		g := prometheus.NewGaugeVec(prometheus.GaugeOpts{Namespace: namespace, Name: name}, labels)
		return g, &promGaugeVecMeter{g}
	})
}

func (o *prometheusMetrics) GetOrCreateHistogramMeter(name string, buckets []int64) HistogramMeter {
	return getOrCreate(o, name, func() (prometheus.Collector, HistogramMeter) {
		h := prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      name,
			Buckets:   toFloatBuckets(buckets),
		})
		return h, &promHistogramMeter{h}
	})
}

type promCountMeter struct{ counter prometheus.Counter }

func (c *promCountMeter) Add(i int64) { c.counter.Add(float64(i)) }

type promCountVecMeter struct{ counter *prometheus.CounterVec }

func (c *promCountVecMeter) AddWithLabel(i int64, labels map[string]string) {
	c.counter.With(labels).Add(float64(i))
}

type promGaugeMeter struct{ gauge prometheus.Gauge }

func (g *promGaugeMeter) Add(i int64) { g.gauge.Add(float64(i)) }
func (g *promGaugeMeter) Set(i int64) { g.gauge.Set(float64(i)) }

type promGaugeVecMeter struct{ gauge *prometheus.GaugeVec }

func (g *promGaugeVecMeter) AddWithLabel(i int64, labels map[string]string) {
	g.gauge.With(labels).Add(float64(i))
}

func (g *promGaugeVecMeter) SetWithLabel(i int64, labels map[string]string) {
	g.gauge.With(labels).Set(float64(i))
}

type promHistogramMeter struct{ histogram prometheus.Histogram }

func (h *promHistogramMeter) Observe(i int64) { h.histogram.Observe(float64(i)) }
