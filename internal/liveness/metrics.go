package liveness

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	heartbeatsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "greenhouse",
		Name:      "heartbeats_total",
		Help:      "Heartbeats processed, by outcome.",
	}, []string{"result"})

	heartbeatDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Namespace: "greenhouse",
		Name:      "heartbeat_duration_seconds",
		Help:      "Time spent authenticating and recording a heartbeat.",
		Buckets:   []float64{.005, .01, .025, .05, .1, .25, .5, .8, 1},
	})

	devicesDemotedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "greenhouse",
		Name:      "devices_demoted_total",
		Help:      "Devices moved from online to offline by the liveness sweep.",
	})

	sweepsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "greenhouse",
		Name:      "liveness_sweeps_total",
		Help:      "Liveness sweep ticks, by outcome.",
	}, []string{"result"})
)

const (
	resultAccepted     = "accepted"
	resultMalformed    = "malformed"
	resultUnknown      = "unknown"
	resultUnauthorized = "unauthorized"
	resultError        = "error"
	resultSkipped      = "skipped"
	resultCompleted    = "completed"
)
