// internal/alerting/metrics.go
package alerting

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	alertsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "biasguard_alerts_total",
			Help: "Alerts created by severity",
		},
		[]string{"severity"},
	)

	foldedTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "biasguard_alerts_folded_total",
			Help: "Breaches folded into an existing active alert",
		},
	)

	activeAlerts = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "biasguard_alerts_active",
			Help: "Currently active alerts",
		},
	)

	escalationsTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "biasguard_alert_escalations_total",
			Help: "Alert escalation steps taken",
		},
	)

	deliveriesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "biasguard_alert_deliveries_total",
			Help: "Channel delivery outcomes",
		},
		[]string{"channel", "status"},
	)
)
