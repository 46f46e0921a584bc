package audit

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	entriesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "hireflow_audit_entries_total",
			Help: "Activity log entries by action type and outcome",
		},
		[]string{"action_type", "outcome"}, // written, failed, dropped
	)

	queueDepth = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "hireflow_audit_queue_depth",
			Help: "Activity log entries waiting to be written",
		},
	)
)
