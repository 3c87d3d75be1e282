package datastore

import (
	"errors"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Metrics records reference resolution traffic in Prometheus.
type Metrics struct {
	queries   *prometheus.CounterVec
	documents *prometheus.CounterVec
	latency   *prometheus.HistogramVec
}

// NewMetrics creates the collectors and registers them with reg. Collectors
// already registered under the same names are reused.
func NewMetrics(reg prometheus.Registerer) (*Metrics, error) {
	m := &Metrics{
		queries: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "odmcore",
			Subsystem: "reference",
			Name:      "queries_total",
			Help:      "Per-collection queries issued while resolving references.",
		}, []string{"collection", "status"}),
		documents: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "odmcore",
			Subsystem: "reference",
			Name:      "documents_total",
			Help:      "Referenced documents requested, by outcome.",
		}, []string{"collection", "outcome"}),
		latency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "odmcore",
			Subsystem: "reference",
			Name:      "fetch_seconds",
			Help:      "Duration of per-collection reference fetches.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"collection"}),
	}
	if reg == nil {
		return m, nil
	}
	var err error
	if m.queries, err = register(reg, m.queries); err != nil {
		return nil, err
	}
	if m.documents, err = register(reg, m.documents); err != nil {
		return nil, err
	}
	if m.latency, err = register(reg, m.latency); err != nil {
		return nil, err
	}
	return m, nil
}

func register[C prometheus.Collector](reg prometheus.Registerer, c C) (C, error) {
	if err := reg.Register(c); err != nil {
		var are prometheus.AlreadyRegisteredError
		if errors.As(err, &are) {
			if existing, ok := are.ExistingCollector.(C); ok {
				return existing, nil
			}
		}
		return c, err
	}
	return c, nil
}

func (m *Metrics) observeFetch(collection string, requested, found int, elapsed time.Duration, err error) {
	if m == nil {
		return
	}
	if err != nil {
		m.queries.WithLabelValues(collection, "error").Inc()
		return
	}
	m.queries.WithLabelValues(collection, "success").Inc()
	m.documents.WithLabelValues(collection, "found").Add(float64(found))
	if missing := requested - found; missing > 0 {
		m.documents.WithLabelValues(collection, "missing").Add(float64(missing))
	}
	m.latency.WithLabelValues(collection).Observe(elapsed.Seconds())
}
