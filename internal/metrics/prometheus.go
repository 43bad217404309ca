package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds all Prometheus metrics for the launcher core
type Metrics struct {
	// Download metrics
	DownloadsTotal    prometheus.Counter
	DownloadsFailed   prometheus.Counter
	DownloadDuration  prometheus.Histogram
	DownloadBytes     prometheus.Counter
	DownloadRetries   prometheus.Counter

	// Catalog cache metrics
	CatalogHitsTotal     prometheus.Counter
	CatalogMissesTotal   prometheus.Counter
	CatalogRefreshTotal  prometheus.Counter
	CatalogRefreshFailed prometheus.Counter
	CatalogFallbacks     prometheus.Counter

	// Content store metrics
	StoreObjectsWritten prometheus.Counter
	StoreObjectsReused  prometheus.Counter
	StoreBytesWritten   prometheus.Counter
	StoreIntegrityFails prometheus.Counter

	// Provisioning metrics
	ProvisionRunsTotal   *prometheus.CounterVec
	ProvisionDuration    prometheus.Histogram
	ProvisionTasksTotal  prometheus.Counter
	ProvisionTasksFailed prometheus.Counter
	NativesExtracted     prometheus.Counter

	// Registry metrics
	InstancesTotal prometheus.Gauge
	InstancesReady prometheus.Gauge
}

// New creates and registers all launcher metrics on reg. Pass a fresh
// registry in tests to avoid duplicate registration.
func New(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)

	return &Metrics{
		DownloadsTotal: factory.NewCounter(prometheus.CounterOpts{
			Namespace: "openblock",
			Subsystem: "download",
			Name:      "requests_total",
			Help:      "Total number of artifact download attempts",
		}),
		DownloadsFailed: factory.NewCounter(prometheus.CounterOpts{
			Namespace: "openblock",
			Subsystem: "download",
			Name:      "failures_total",
			Help:      "Total number of failed artifact downloads",
		}),
		DownloadDuration: factory.NewHistogram(prometheus.HistogramOpts{
			Namespace: "openblock",
			Subsystem: "download",
			Name:      "duration_seconds",
			Help:      "Artifact download duration",
			Buckets:   prometheus.ExponentialBuckets(0.01, 2, 12),
		}),
		DownloadBytes: factory.NewCounter(prometheus.CounterOpts{
			Namespace: "openblock",
			Subsystem: "download",
			Name:      "bytes_total",
			Help:      "Total bytes downloaded",
		}),
		DownloadRetries: factory.NewCounter(prometheus.CounterOpts{
			Namespace: "openblock",
			Subsystem: "download",
			Name:      "retries_total",
			Help:      "Total number of download retries",
		}),

		CatalogHitsTotal: factory.NewCounter(prometheus.CounterOpts{
			Namespace: "openblock",
			Subsystem: "catalog",
			Name:      "cache_hits_total",
			Help:      "Catalog requests served from the fresh in-memory snapshot",
		}),
		CatalogMissesTotal: factory.NewCounter(prometheus.CounterOpts{
			Namespace: "openblock",
			Subsystem: "catalog",
			Name:      "cache_misses_total",
			Help:      "Catalog requests that required a refetch",
		}),
		CatalogRefreshTotal: factory.NewCounter(prometheus.CounterOpts{
			Namespace: "openblock",
			Subsystem: "catalog",
			Name:      "refresh_total",
			Help:      "Catalog refetches issued to the distribution service",
		}),
		CatalogRefreshFailed: factory.NewCounter(prometheus.CounterOpts{
			Namespace: "openblock",
			Subsystem: "catalog",
			Name:      "refresh_failures_total",
			Help:      "Catalog refetches that failed",
		}),
		CatalogFallbacks: factory.NewCounter(prometheus.CounterOpts{
			Namespace: "openblock",
			Subsystem: "catalog",
			Name:      "fallbacks_total",
			Help:      "Catalog requests served from a stale or on-disk snapshot",
		}),

		StoreObjectsWritten: factory.NewCounter(prometheus.CounterOpts{
			Namespace: "openblock",
			Subsystem: "store",
			Name:      "objects_written_total",
			Help:      "Objects committed to the content store",
		}),
		StoreObjectsReused: factory.NewCounter(prometheus.CounterOpts{
			Namespace: "openblock",
			Subsystem: "store",
			Name:      "objects_reused_total",
			Help:      "Put calls satisfied by an already present object",
		}),
		StoreBytesWritten: factory.NewCounter(prometheus.CounterOpts{
			Namespace: "openblock",
			Subsystem: "store",
			Name:      "bytes_written_total",
			Help:      "Bytes committed to the content store",
		}),
		StoreIntegrityFails: factory.NewCounter(prometheus.CounterOpts{
			Namespace: "openblock",
			Subsystem: "store",
			Name:      "integrity_failures_total",
			Help:      "Put calls rejected for digest mismatch",
		}),

		ProvisionRunsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "openblock",
			Subsystem: "provision",
			Name:      "runs_total",
			Help:      "Provisioning runs by outcome",
		}, []string{"outcome"}),
		ProvisionDuration: factory.NewHistogram(prometheus.HistogramOpts{
			Namespace: "openblock",
			Subsystem: "provision",
			Name:      "run_duration_seconds",
			Help:      "Provisioning run duration",
			Buckets:   prometheus.ExponentialBuckets(0.1, 2, 12),
		}),
		ProvisionTasksTotal: factory.NewCounter(prometheus.CounterOpts{
			Namespace: "openblock",
			Subsystem: "provision",
			Name:      "tasks_total",
			Help:      "Provisioning tasks executed",
		}),
		ProvisionTasksFailed: factory.NewCounter(prometheus.CounterOpts{
			Namespace: "openblock",
			Subsystem: "provision",
			Name:      "tasks_failed_total",
			Help:      "Provisioning tasks that exhausted retries",
		}),
		NativesExtracted: factory.NewCounter(prometheus.CounterOpts{
			Namespace: "openblock",
			Subsystem: "provision",
			Name:      "natives_extracted_total",
			Help:      "Native archives unpacked into instance trees",
		}),

		InstancesTotal: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: "openblock",
			Subsystem: "registry",
			Name:      "instances_total",
			Help:      "Known instances",
		}),
		InstancesReady: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: "openblock",
			Subsystem: "registry",
			Name:      "instances_ready",
			Help:      "Instances marked ready",
		}),
	}
}
