// Package metrics exposes the service's Prometheus metrics.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "exchange_calendar"

// Metrics holds every metric the service records. A nil *Metrics is valid
// and records nothing.
type Metrics struct {
	CacheRequests   *prometheus.CounterVec
	CacheEvictions  *prometheus.CounterVec
	ComputeDuration *prometheus.HistogramVec
	SearchStatus    *prometheus.CounterVec
	Refreshes       *prometheus.CounterVec
	AdminUpdates    *prometheus.CounterVec
}

// New creates the metrics and registers them with reg.
func New(reg prometheus.Registerer) *Metrics {
	f := promauto.With(reg)
	return &Metrics{
		CacheRequests: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "cache_requests_total",
			Help:      "Cache lookups by cache and result (hit or miss)",
		}, []string{"cache", "result"}),

		CacheEvictions: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "cache_evictions_total",
			Help:      "Entries evicted from a full cache",
		}, []string{"cache"}),

		ComputeDuration: f.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "compute_duration_seconds",
			Help:      "Time spent computing uncached results",
			Buckets:   []float64{.0005, .001, .005, .01, .025, .05, .1, .25, .5, 1},
		}, []string{"operation"}),

		SearchStatus: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "search_results_total",
			Help:      "Completed searches by terminal status",
		}, []string{"status"}),

		Refreshes: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "venue_refreshes_total",
			Help:      "Venue fact refreshes",
		}, []string{"venue"}),

		AdminUpdates: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "admin_updates_total",
			Help:      "Change set updates by outcome",
		}, []string{"outcome"}),
	}
}

// ObserveCompute records how long an uncached computation took.
func (m *Metrics) ObserveCompute(operation string, started time.Time) {
	if m == nil {
		return
	}
	m.ComputeDuration.WithLabelValues(operation).Observe(time.Since(started).Seconds())
}

// RecordSearch counts a finished search.
func (m *Metrics) RecordSearch(status string) {
	if m == nil {
		return
	}
	m.SearchStatus.WithLabelValues(status).Inc()
}

// RecordRefresh counts a venue refresh.
func (m *Metrics) RecordRefresh(venue string) {
	if m == nil {
		return
	}
	m.Refreshes.WithLabelValues(venue).Inc()
}

// RecordAdminUpdate counts an update request outcome.
func (m *Metrics) RecordAdminUpdate(outcome string) {
	if m == nil {
		return
	}
	m.AdminUpdates.WithLabelValues(outcome).Inc()
}

// Cache returns an observer recording events for the named cache. It
// satisfies cache.Observer.
func (m *Metrics) Cache(name string) *CacheObserver {
	if m == nil {
		return nil
	}
	return &CacheObserver{
		hit:   m.CacheRequests.WithLabelValues(name, "hit"),
		miss:  m.CacheRequests.WithLabelValues(name, "miss"),
		evict: m.CacheEvictions.WithLabelValues(name),
	}
}

// CacheObserver counts hits, misses and evictions of one cache.
type CacheObserver struct {
	hit, miss, evict prometheus.Counter
}

func (o *CacheObserver) Hit() {
	if o != nil {
		o.hit.Inc()
	}
}

func (o *CacheObserver) Miss() {
	if o != nil {
		o.miss.Inc()
	}
}

func (o *CacheObserver) Evict() {
	if o != nil {
		o.evict.Inc()
	}
}
