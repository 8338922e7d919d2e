// internal/metrics/metrics.go
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	samplesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "biasguard_samples_recorded_total",
			Help: "Metric samples folded into windows",
		},
		[]string{"dimension", "source"},
	)

	activeWindows = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "biasguard_windows_active",
			Help: "Windows currently retained",
		},
	)

	evictedTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "biasguard_windows_evicted_total",
			Help: "Windows dropped by the retention sweep",
		},
	)
)
