package control

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var changesTotal = promauto.NewCounterVec(
	prometheus.CounterOpts{
		Name: "hireflow_control_changes_total",
		Help: "Effective kill-switch changes by switch and new value",
	},
	[]string{"switch", "value"},
)
