// Package metrics exposes Prometheus collectors for the gateway, the download
// queue and the cache store.
//
// A nil *Metrics is valid and records nothing, so components can be built
// without metrics in tests.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "videocacher"

// Metrics groups every collector on a private registry.
type Metrics struct {
	registry *prometheus.Registry

	requests    *prometheus.CounterVec
	cacheLookup *prometheus.CounterVec
	resolutions *prometheus.CounterVec
	downloads   *prometheus.CounterVec
	evictions   prometheus.Counter
	queueDepth  prometheus.Gauge
	cacheBytes  prometheus.Gauge
	cacheFiles  prometheus.Gauge
}

// New creates the collectors and registers them together with the Go and
// process collectors.
func New() *Metrics {
	reg := prometheus.NewRegistry()

	m := &Metrics{
		registry: reg,
		requests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "gateway_requests_total",
			Help:      "getvideo requests by outcome.",
		}, []string{"outcome"}),
		cacheLookup: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "cache_lookups_total",
			Help:      "Cache lookups by result (hit or miss).",
		}, []string{"result"}),
		resolutions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "resolver_invocations_total",
			Help:      "Resolver tool invocations by mode and result.",
		}, []string{"mode", "result"}),
		downloads: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "downloads_total",
			Help:      "Background download attempts by platform and result.",
		}, []string{"platform", "result"}),
		evictions: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "cache_evictions_total",
			Help:      "Files removed by the size budget.",
		}),
		queueDepth: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "download_queue_depth",
			Help:      "Items waiting in or being processed by the download queue.",
		}),
		cacheBytes: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "cache_size_bytes",
			Help:      "Total size of cached media files.",
		}),
		cacheFiles: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "cache_files",
			Help:      "Number of cached media files.",
		}),
	}

	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		m.requests, m.cacheLookup, m.resolutions, m.downloads,
		m.evictions, m.queueDepth, m.cacheBytes, m.cacheFiles,
	)

	return m
}

// Handler serves the registry in the Prometheus text format.
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// Registry exposes the underlying registry (used by tests).
func (m *Metrics) Registry() *prometheus.Registry {
	if m == nil {
		return nil
	}
	return m.registry
}

func (m *Metrics) Request(outcome string) {
	if m == nil {
		return
	}
	m.requests.WithLabelValues(outcome).Inc()
}

func (m *Metrics) CacheLookup(hit bool) {
	if m == nil {
		return
	}
	result := "miss"
	if hit {
		result = "hit"
	}
	m.cacheLookup.WithLabelValues(result).Inc()
}

func (m *Metrics) Resolution(mode string, ok bool) {
	if m == nil {
		return
	}
	m.resolutions.WithLabelValues(mode, okLabel(ok)).Inc()
}

func (m *Metrics) Download(platform string, ok bool) {
	if m == nil {
		return
	}
	m.downloads.WithLabelValues(platform, okLabel(ok)).Inc()
}

func (m *Metrics) Evicted(n int) {
	if m == nil {
		return
	}
	m.evictions.Add(float64(n))
}

func (m *Metrics) SetQueueDepth(n int) {
	if m == nil {
		return
	}
	m.queueDepth.Set(float64(n))
}

func (m *Metrics) SetCacheUsage(bytes int64, files int) {
	if m == nil {
		return
	}
	m.cacheBytes.Set(float64(bytes))
	m.cacheFiles.Set(float64(files))
}

func okLabel(ok bool) string {
	if ok {
		return "ok"
	}
	return "error"
}
