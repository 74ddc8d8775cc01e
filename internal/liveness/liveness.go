// Package liveness authenticates device heartbeats and demotes devices that stop sending them.
//
// A device starts out waiting. An accepted heartbeat moves it to online from any
// state, and the sweep moves online devices whose last heartbeat is older than the
// offline threshold to offline. Nothing else changes the state.
package liveness

import (
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/trace"
)

const (
	DefaultHeartbeatInterval = 60 * time.Second
	DefaultOfflineThreshold  = 2 * DefaultHeartbeatInterval
	DefaultHeartbeatTimeout  = 800 * time.Millisecond
)

var tracer trace.Tracer

func init() {
	tracer = otel.Tracer("github.com/greenhouse-io/greenhouse/internal/liveness")
}
