// Package metrics exposes Prometheus instrumentation for the store and the
// HTTP server.
//
// All methods are safe to call on a nil *Metrics, which records nothing.
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "orgsite"

// Metrics holds every collector in a private registry.
type Metrics struct {
	Registry *prometheus.Registry

	ops            *prometheus.CounterVec
	opDuration     *prometheus.HistogramVec
	records        *prometheus.GaugeVec
	assetsStored   prometheus.Counter
	assetBytes     prometheus.Counter
	assetsReleased *prometheus.CounterVec
	requests       *prometheus.CounterVec
}

// New creates the collectors and registers them along with the Go runtime
// and process collectors.
func New() *Metrics {
	m := &Metrics{
		Registry: prometheus.NewRegistry(),
		ops: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "store_operations_total",
			Help:      "Collection operations by result.",
		}, []string{"collection", "op", "result"}),
		opDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "store_operation_duration_seconds",
			Help:      "Collection operation latency, lock wait included.",
			Buckets:   prometheus.ExponentialBuckets(0.0005, 4, 8),
		}, []string{"collection", "op"}),
		records: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "store_records",
			Help:      "Records currently held by a collection.",
		}, []string{"collection"}),
		assetsStored: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "assets_stored_total",
			Help:      "Assets written to the asset root.",
		}),
		assetBytes: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "assets_stored_bytes_total",
			Help:      "Bytes written to the asset root.",
		}),
		assetsReleased: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "assets_released_total",
			Help:      "Asset removals by result.",
		}, []string{"result"}),
		requests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "http_requests_total",
			Help:      "HTTP requests by method and status code.",
		}, []string{"method", "code"}),
	}
	m.Registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		m.ops,
		m.opDuration,
		m.records,
		m.assetsStored,
		m.assetBytes,
		m.assetsReleased,
		m.requests,
	)
	return m
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(m.Registry, promhttp.HandlerOpts{Registry: m.Registry})
}

// ObserveOp records one collection operation that started at start.
func (m *Metrics) ObserveOp(collection, op string, start time.Time, err error) {
	if m == nil {
		return
	}
	result := "ok"
	if err != nil {
		result = "error"
	}
	m.ops.WithLabelValues(collection, op, result).Inc()
	m.opDuration.WithLabelValues(collection, op).Observe(time.Since(start).Seconds())
}

// SetRecords records the size of a collection.
func (m *Metrics) SetRecords(collection string, n int) {
	if m == nil {
		return
	}
	m.records.WithLabelValues(collection).Set(float64(n))
}

// AssetStored records a successful asset write of size bytes.
func (m *Metrics) AssetStored(size int64) {
	if m == nil {
		return
	}
	m.assetsStored.Inc()
	m.assetBytes.Add(float64(size))
}

// AssetReleased records an asset removal attempt.
func (m *Metrics) AssetReleased(err error) {
	if m == nil {
		return
	}
	result := "ok"
	if err != nil {
		result = "error"
	}
	m.assetsReleased.WithLabelValues(result).Inc()
}

// Request records a served HTTP request.
func (m *Metrics) Request(method string, code int) {
	if m == nil {
		return
	}
	m.requests.WithLabelValues(method, strconv.Itoa(code)).Inc()
}
