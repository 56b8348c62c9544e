package telemetry

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// SubmissionsTotal counts scored quiz submissions.
	SubmissionsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "aptquiz_submissions_total",
		Help: "Number of quiz submissions scored and recorded.",
	})

	// SettlementsTotal counts reward settlements by outcome status
	// (confirmed, simulated, rejected).
	SettlementsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "aptquiz_settlements_total",
		Help: "Number of reward settlements by outcome status.",
	}, []string{"status"})
)
