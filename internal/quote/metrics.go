package quote

import "github.com/prometheus/client_golang/prometheus"

// Metrics tracks quote latency and failures
type Metrics struct {
	duration *prometheus.HistogramVec
	failures *prometheus.CounterVec
}

// NewMetrics creates the quote metrics and registers them when reg is set
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		duration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "swap",
			Subsystem: "quote",
			Name:      "duration_seconds",
			Help:      "Time to compute a quote",
			Buckets:   prometheus.ExponentialBuckets(0.0005, 2, 12),
		}, []string{"direction"}),
		failures: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "swap",
			Subsystem: "quote",
			Name:      "failures_total",
			Help:      "Quotes that failed, by reason",
		}, []string{"direction", "reason"}),
	}

	if reg != nil {
		reg.MustRegister(m.duration, m.failures)
	}
	return m
}
