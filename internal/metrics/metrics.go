// Package metrics exposes Prometheus metrics for the embedding service.
//
// All methods are safe on a nil *Metrics so callers can run without metrics.
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "embedserver"

// Metrics holds a dedicated registry and the service's collectors.
type Metrics struct {
	Registry *prometheus.Registry

	requestsTotal   *prometheus.CounterVec
	requestDuration *prometheus.HistogramVec
	textsTotal      *prometheus.CounterVec
	truncatedTotal  *prometheus.CounterVec
	cacheHitsTotal  *prometheus.CounterVec
	encodeDuration  *prometheus.HistogramVec
}

// New creates a registry whose metrics all carry service=serviceName. Go, process
// and build info collectors are added when defaultCollectors is set.
func New(serviceName string, defaultCollectors bool) *Metrics {
	registry := prometheus.NewRegistry()
	wrapped := prometheus.WrapRegistererWith(prometheus.Labels{"service": serviceName}, registry)

	m := &Metrics{
		Registry:        registry,
		requestsTotal:   createCounterVec("http_requests_total", "Total number of HTTP requests", []string{"route", "status"}),
		requestDuration: createHistogramVec("http_request_duration_seconds", "Duration of HTTP requests in seconds", []string{"route"}, prometheus.DefBuckets),
		textsTotal:      createCounterVec("embedded_texts_total", "Texts embedded, including cache hits", []string{"model"}),
		truncatedTotal:  createCounterVec("truncated_texts_total", "Texts truncated to the model's max tokens", []string{"model"}),
		cacheHitsTotal:  createCounterVec("cache_hits_total", "Texts served from the embedding cache", []string{"model"}),
		encodeDuration:  createHistogramVec("encode_duration_seconds", "Encoder and pooling time per text", []string{"model"}, []float64{.001, .005, .01, .025, .05, .1, .25, .5, 1, 2.5}),
	}
	wrapped.MustRegister(
		m.requestsTotal,
		m.requestDuration,
		m.textsTotal,
		m.truncatedTotal,
		m.cacheHitsTotal,
		m.encodeDuration,
	)
	if defaultCollectors {
		wrapped.MustRegister(
			collectors.NewGoCollector(),
			collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
			collectors.NewBuildInfoCollector(),
		)
	}
	return m
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(m.Registry, promhttp.HandlerOpts{})
}

// ObserveRequest records one HTTP request.
func (m *Metrics) ObserveRequest(route string, status int, d time.Duration) {
	if m == nil {
		return
	}
	m.requestsTotal.WithLabelValues(route, strconv.Itoa(status)).Inc()
	m.requestDuration.WithLabelValues(route).Observe(d.Seconds())
}

// ObserveBatch records a completed batch for model.
func (m *Metrics) ObserveBatch(model string, texts, truncated, cacheHits int) {
	if m == nil {
		return
	}
	m.textsTotal.WithLabelValues(model).Add(float64(texts))
	m.truncatedTotal.WithLabelValues(model).Add(float64(truncated))
	m.cacheHitsTotal.WithLabelValues(model).Add(float64(cacheHits))
}

// ObserveEncode records the encode time for one text.
func (m *Metrics) ObserveEncode(model string, d time.Duration) {
	if m == nil {
		return
	}
	m.encodeDuration.WithLabelValues(model).Observe(d.Seconds())
}

func createCounterVec(name, help string, labels []string) *prometheus.CounterVec {
	return prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      name,
		Help:      help,
	}, labels)
}

func createHistogramVec(name, help string, labels []string, buckets []float64) *prometheus.HistogramVec {
	return prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: namespace,
		Name:      name,
		Help:      help,
		Buckets:   buckets,
	}, labels)
}
