package graph

import "github.com/prometheus/client_golang/prometheus"

// Metrics tracks pair graph refreshes
type Metrics struct {
	refreshes       prometheus.Counter
	refreshFailures prometheus.Counter
	refreshDuration prometheus.Histogram
	pairs           prometheus.Gauge
	routablePairs   prometheus.Gauge
	lastSuccess     prometheus.Gauge
}

// NewMetrics creates and registers the graph metrics. A nil registerer
// keeps them unregistered.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		refreshes: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "swap",
			Subsystem: "graph",
			Name:      "refreshes_total",
			Help:      "Successful pair graph refreshes",
		}),
		refreshFailures: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "swap",
			Subsystem: "graph",
			Name:      "refresh_failures_total",
			Help:      "Failed pair graph refreshes",
		}),
		refreshDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: "swap",
			Subsystem: "graph",
			Name:      "refresh_duration_seconds",
			Help:      "Time spent fetching and building a snapshot",
			Buckets:   []float64{0.05, 0.1, 0.25, 0.5, 1, 2, 5, 10},
		}),
		pairs: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "swap",
			Subsystem: "graph",
			Name:      "pairs",
			Help:      "Pairs in the current snapshot",
		}),
		routablePairs: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "swap",
			Subsystem: "graph",
			Name:      "routable_pairs",
			Help:      "Pairs with positive reserves in the current snapshot",
		}),
		lastSuccess: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "swap",
			Subsystem: "graph",
			Name:      "last_refresh_timestamp_seconds",
			Help:      "Unix time of the last successful refresh",
		}),
	}

	if reg != nil {
		reg.MustRegister(m.refreshes, m.refreshFailures, m.refreshDuration, m.pairs, m.routablePairs, m.lastSuccess)
	}
	return m
}
