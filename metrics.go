package esobs

import (
	"time"

	"github.com/pkg/errors"
	"github.com/prometheus/client_golang/prometheus"
)

// storeMetrics is nil when no registerer is configured; every method is
// safe to call on a nil receiver.
type storeMetrics struct {
	pagesFetched *prometheus.CounterVec   // by record_type
	hitsFetched  *prometheus.CounterVec   // by record_type
	fetchErrors  *prometheus.CounterVec   // by record_type
	writes       *prometheus.CounterVec   // by record_type, op
	writeErrors  *prometheus.CounterVec   // by record_type, op
	writeLatency *prometheus.HistogramVec // by op
	cacheMisses  prometheus.Counter
}

func newStoreMetrics(reg prometheus.Registerer) (*storeMetrics, error) {
	if reg == nil {
		return nil, nil
	}

	m := &storeMetrics{
		pagesFetched: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "esobs",
			Subsystem: "scroll",
			Name:      "pages_total",
			Help:      "Scroll pages fetched from the document store",
		}, []string{"record_type"}),

		hitsFetched: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "esobs",
			Subsystem: "scroll",
			Name:      "hits_total",
			Help:      "Documents received through scroll pages",
		}, []string{"record_type"}),

		fetchErrors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "esobs",
			Subsystem: "scroll",
			Name:      "fetch_errors_total",
			Help:      "Scroll page fetches that failed and ended iteration",
		}, []string{"record_type"}),

		writes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "esobs",
			Subsystem: "records",
			Name:      "writes_total",
			Help:      "Record writes issued to the document store",
		}, []string{"record_type", "op"}),

		writeErrors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "esobs",
			Subsystem: "records",
			Name:      "write_errors_total",
			Help:      "Record writes that failed",
		}, []string{"record_type", "op"}),

		writeLatency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "esobs",
			Subsystem: "records",
			Name:      "write_duration_seconds",
			Help:      "Record write duration in seconds",
			Buckets:   []float64{0.0005, 0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1},
		}, []string{"op"}),

		cacheMisses: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "esobs",
			Subsystem: "descriptors",
			Name:      "cache_misses_total",
			Help:      "Record store lookups that went to the metadata index",
		}),
	}

	collectors := []prometheus.Collector{
		m.pagesFetched, m.hitsFetched, m.fetchErrors,
		m.writes, m.writeErrors, m.writeLatency,
		m.cacheMisses,
	}
	for _, c := range collectors {
		if err := reg.Register(c); err != nil {
			return nil, errors.Wrap(err, "could not register store metrics")
		}
	}

	return m, nil
}

func (m *storeMetrics) page(recordType string, hits int) {
	if m == nil {
		return
	}
	m.pagesFetched.WithLabelValues(recordType).Inc()
	m.hitsFetched.WithLabelValues(recordType).Add(float64(hits))
}

func (m *storeMetrics) fault(recordType string) {
	if m == nil {
		return
	}
	m.fetchErrors.WithLabelValues(recordType).Inc()
}

func (m *storeMetrics) write(recordType, op string, started time.Time, err error) {
	if m == nil {
		return
	}
	m.writes.WithLabelValues(recordType, op).Inc()
	m.writeLatency.WithLabelValues(op).Observe(time.Since(started).Seconds())
	if err != nil {
		m.writeErrors.WithLabelValues(recordType, op).Inc()
	}
}

func (m *storeMetrics) cacheMiss() {
	if m == nil {
		return
	}
	m.cacheMisses.Inc()
}
