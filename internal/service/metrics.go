package service

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var authEvents = promauto.NewCounterVec(
	prometheus.CounterOpts{
		Name: "identity_auth_events_total",
		Help: "Auth flow outcomes by event",
	},
	[]string{"event", "outcome"},
)

func record(event, outcome string) {
	authEvents.WithLabelValues(event, outcome).Inc()
}
