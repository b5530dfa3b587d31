package server

import (
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

type metrics struct {
	registry        *prometheus.Registry
	analyzeRequests *prometheus.CounterVec
	analyzeDuration prometheus.Histogram
}

func newMetrics() *metrics {
	registry := prometheus.NewRegistry()

	m := &metrics{
		registry: registry,
		analyzeRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "farm_advisor_analyze_requests_total",
			Help: "Analyze requests by HTTP status code.",
		}, []string{"status"}),
		analyzeDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "farm_advisor_analyze_duration_seconds",
			Help:    "Wall time of the analyze handler, inference included.",
			Buckets: prometheus.DefBuckets,
		}),
	}

	registry.MustRegister(m.analyzeRequests, m.analyzeDuration)
	return m
}

func (m *metrics) observeAnalyze(status int, elapsed time.Duration) {
	m.analyzeRequests.WithLabelValues(strconv.Itoa(status)).Inc()
	m.analyzeDuration.Observe(elapsed.Seconds())
}
