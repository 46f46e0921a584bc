package session

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	signInsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "hireflow_session_sign_ins_total",
			Help: "Console sign-in attempts by outcome",
		},
		[]string{"outcome"},
	)

	endedTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "hireflow_session_ended_total",
			Help: "Console sessions ended by reason",
		},
		[]string{"reason"}, // sign_out, timeout, revoked, unauthorized
	)

	guardsActive = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "hireflow_session_guards",
			Help: "Registered console guards by state, as of the last sweep",
		},
		[]string{"state"},
	)
)
