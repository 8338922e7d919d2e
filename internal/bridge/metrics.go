// internal/bridge/metrics.go
package bridge

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	attemptsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "biasguard_bridge_attempts_total",
			Help: "Backend call attempts by outcome",
		},
		[]string{"outcome"},
	)

	circuitState = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "biasguard_bridge_circuit_state",
			Help: "Circuit breaker state (0 closed, 1 open, 2 half-open)",
		},
	)

	healthProbesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "biasguard_bridge_health_probes_total",
			Help: "Health probe results",
		},
		[]string{"outcome"},
	)
)
