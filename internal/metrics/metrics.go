// Package metrics exposes process-wide Prometheus gauges and counters for
// the three core subsystems, mounted at /debug/metrics via promhttp.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics groups every gauge/counter the renderer bridge exports. A single
// instance is created in server.New and passed to each subsystem constructor.
type Metrics struct {
	PoolSize          prometheus.Gauge
	InFlightDownloads prometheus.Gauge
	DevicesExpired    prometheus.Counter
	DescriptionErrors prometheus.Counter

	ProxyRequestsTotal *prometheus.CounterVec
	ProxyRetriesTotal  prometheus.Counter
	ProxyBytesStreamed prometheus.Counter

	MetaCacheHits   prometheus.Counter
	MetaCacheMisses prometheus.Counter
	MetaCacheSaves  prometheus.Counter
}

// New registers every metric against reg and returns the bundle. Pass
// prometheus.NewRegistry() in tests to avoid colliding with the default
// global registry across test runs.
func New(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)
	return &Metrics{
		PoolSize: factory.NewGauge(prometheus.GaugeOpts{
			Name: "upmpd_discovery_pool_size",
			Help: "Number of devices currently tracked in the discovery pool.",
		}),
		InFlightDownloads: factory.NewGauge(prometheus.GaugeOpts{
			Name: "upmpd_discovery_inflight_downloads",
			Help: "Number of description downloads currently in flight.",
		}),
		DevicesExpired: factory.NewCounter(prometheus.CounterOpts{
			Name: "upmpd_discovery_devices_expired_total",
			Help: "Number of devices removed from the pool by the expiry sweep.",
		}),
		DescriptionErrors: factory.NewCounter(prometheus.CounterOpts{
			Name: "upmpd_discovery_description_errors_total",
			Help: "Number of device description downloads/parses that failed.",
		}),
		ProxyRequestsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "upmpd_proxy_requests_total",
			Help: "StreamProxy requests by outcome status code.",
		}, []string{"status"}),
		ProxyRetriesTotal: factory.NewCounter(prometheus.CounterOpts{
			Name: "upmpd_proxy_retries_total",
			Help: "Number of upstream fetch retries after a retryable failure.",
		}),
		ProxyBytesStreamed: factory.NewCounter(prometheus.CounterOpts{
			Name: "upmpd_proxy_bytes_streamed_total",
			Help: "Total bytes streamed to proxy clients.",
		}),
		MetaCacheHits: factory.NewCounter(prometheus.CounterOpts{
			Name: "upmpd_metacache_hits_total",
			Help: "MetadataCache lookups that found an existing entry.",
		}),
		MetaCacheMisses: factory.NewCounter(prometheus.CounterOpts{
			Name: "upmpd_metacache_misses_total",
			Help: "MetadataCache lookups that synthesized a fresh entry.",
		}),
		MetaCacheSaves: factory.NewCounter(prometheus.CounterOpts{
			Name: "upmpd_metacache_saves_total",
			Help: "Number of times the metadata cache was flushed to disk.",
		}),
	}
}
