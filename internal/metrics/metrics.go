// Package metrics exposes Prometheus counters and histograms for the
// build/install/cache-hit events every other component emits (an ambient
// observability concern carried regardless of the CLI/notification
// Non-goals — spec §9's "structured report" still benefits from a
// process-lifetime counter view, grounded on the pack's
// prometheus/client_golang usage).
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Registry bundles the counters/histograms sourcepm's components update.
type Registry struct {
	BuildsTotal      *prometheus.CounterVec
	BuildDuration    *prometheus.HistogramVec
	InstallsTotal    *prometheus.CounterVec
	RemovalsTotal    *prometheus.CounterVec
	CacheLookupTotal *prometheus.CounterVec
}

// NewRegistry constructs and registers a Registry against reg.
func NewRegistry(reg prometheus.Registerer) *Registry {
	m := &Registry{
		BuildsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "sourcepm",
			Subsystem: "build",
			Name:      "total",
			Help:      "Total number of package build attempts, by outcome.",
		}, []string{"outcome"}),
		BuildDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "sourcepm",
			Subsystem: "build",
			Name:      "duration_seconds",
			Help:      "Build pipeline duration in seconds, per package.",
			Buckets:   prometheus.ExponentialBuckets(1, 2, 12),
		}, []string{"package"}),
		InstallsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "sourcepm",
			Subsystem: "install",
			Name:      "total",
			Help:      "Total number of install attempts, by outcome.",
		}, []string{"outcome"}),
		RemovalsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "sourcepm",
			Subsystem: "remove",
			Name:      "total",
			Help:      "Total number of remove attempts, by outcome.",
		}, []string{"outcome"}),
		CacheLookupTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "sourcepm",
			Subsystem: "cache",
			Name:      "lookup_total",
			Help:      "Total number of artifact cache lookups, by hit/miss.",
		}, []string{"result"}),
	}

	reg.MustRegister(m.BuildsTotal, m.BuildDuration, m.InstallsTotal, m.RemovalsTotal, m.CacheLookupTotal)
	return m
}

// ObserveBuild records a build attempt's outcome and duration.
func (m *Registry) ObserveBuild(pkg, outcome string, d time.Duration) {
	m.BuildsTotal.WithLabelValues(outcome).Inc()
	m.BuildDuration.WithLabelValues(pkg).Observe(d.Seconds())
}

// ObserveInstall records an install attempt's outcome.
func (m *Registry) ObserveInstall(outcome string) {
	m.InstallsTotal.WithLabelValues(outcome).Inc()
}

// ObserveRemove records a remove attempt's outcome.
func (m *Registry) ObserveRemove(outcome string) {
	m.RemovalsTotal.WithLabelValues(outcome).Inc()
}

// ObserveCacheLookup records a cache lookup's hit/miss result.
func (m *Registry) ObserveCacheLookup(hit bool) {
	result := "miss"
	if hit {
		result = "hit"
	}
	m.CacheLookupTotal.WithLabelValues(result).Inc()
}
