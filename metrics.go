package shmcache

// metrics.go is a thin optional Prometheus layer over the page operations,
// grounded on Voskan-arena-cache/pkg/metrics.go's noop/prometheus sink split:
// a metricsSink interface with a no-op default so the hot path pays nothing
// when Options.Metrics is the zero value, and a *promMetrics implementation
// registered against a caller-supplied *prometheus.Registry. Labeled by page
// index, the same granularity arena-cache uses for its shards.

import (
	"strconv"

	"github.com/prometheus/client_golang/prometheus"
)

// MetricsOptions enables Prometheus instrumentation when Registry is
// non-nil. The zero value disables metrics entirely.
type MetricsOptions struct {
	Registry *prometheus.Registry
}

type metricsSink interface {
	incHit(page int)
	incMiss(page int)
	incExpunge(page int, mode expungeMode, victims int)
	incLockTimeout(page int)
	observeLockWait(page int, seconds float64)
	setFreeBytes(page int, v uint32)
}

type noopMetrics struct{}

func (noopMetrics) incHit(int)                      {}
func (noopMetrics) incMiss(int)                      {}
func (noopMetrics) incExpunge(int, expungeMode, int) {}
func (noopMetrics) incLockTimeout(int)               {}
func (noopMetrics) observeLockWait(int, float64)     {}
func (noopMetrics) setFreeBytes(int, uint32)         {}

type promMetrics struct {
	hits         *prometheus.CounterVec
	misses       *prometheus.CounterVec
	expunges     *prometheus.CounterVec
	evicted      *prometheus.CounterVec
	lockTimeouts *prometheus.CounterVec
	lockWait     *prometheus.HistogramVec
	freeBytes    *prometheus.GaugeVec
}

func newPromMetrics(reg *prometheus.Registry) *promMetrics {
	label := []string{"page"}
	pm := &promMetrics{
		hits: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "shmcache", Name: "hits_total", Help: "Number of Get hits.",
		}, label),
		misses: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "shmcache", Name: "misses_total", Help: "Number of Get misses.",
		}, label),
		expunges: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "shmcache", Name: "expunges_total", Help: "Number of expunge passes, by mode.",
		}, []string{"page", "mode"}),
		evicted: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "shmcache", Name: "evicted_entries_total", Help: "Entries removed by expunge passes.",
		}, label),
		lockTimeouts: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "shmcache", Name: "lock_timeouts_total", Help: "Page lock acquisitions that exceeded LockTimeout.",
		}, label),
		lockWait: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "shmcache", Name: "lock_wait_seconds", Help: "Time spent acquiring a page lock.",
			Buckets: prometheus.ExponentialBuckets(0.0001, 4, 10),
		}, label),
		freeBytes: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: "shmcache", Name: "page_free_bytes", Help: "free_bytes last observed for a page.",
		}, label),
	}
	reg.MustRegister(pm.hits, pm.misses, pm.expunges, pm.evicted, pm.lockTimeouts, pm.lockWait, pm.freeBytes)
	return pm
}

func (m *promMetrics) incHit(page int) {
	m.hits.WithLabelValues(strconv.Itoa(page)).Inc()
}
func (m *promMetrics) incMiss(page int) {
	m.misses.WithLabelValues(strconv.Itoa(page)).Inc()
}
func (m *promMetrics) incExpunge(page int, mode expungeMode, victims int) {
	m.expunges.WithLabelValues(strconv.Itoa(page), expungeModeLabel(mode)).Inc()
	if victims > 0 {
		m.evicted.WithLabelValues(strconv.Itoa(page)).Add(float64(victims))
	}
}
func (m *promMetrics) incLockTimeout(page int) {
	m.lockTimeouts.WithLabelValues(strconv.Itoa(page)).Inc()
}
func (m *promMetrics) observeLockWait(page int, seconds float64) {
	m.lockWait.WithLabelValues(strconv.Itoa(page)).Observe(seconds)
}
func (m *promMetrics) setFreeBytes(page int, v uint32) {
	m.freeBytes.WithLabelValues(strconv.Itoa(page)).Set(float64(v))
}

func expungeModeLabel(m expungeMode) string {
	switch m {
	case modeExpiredOnly:
		return "expired_only"
	case modeAll:
		return "all"
	case modeMakeRoom:
		return "make_room"
	default:
		return "unknown"
	}
}

func newMetricsSink(o MetricsOptions) metricsSink {
	if o.Registry == nil {
		return noopMetrics{}
	}
	return newPromMetrics(o.Registry)
}
