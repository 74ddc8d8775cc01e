// Package registry allocates project codes and manages projects and the devices registered into their slots.
package registry

import (
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/trace"
)

var tracer trace.Tracer

func init() {
	tracer = otel.Tracer("github.com/greenhouse-io/greenhouse/internal/registry")
}
