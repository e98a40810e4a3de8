// Package telemetry gives the control plane one shared OpenTelemetry
// tracer. No SDK or exporter is wired in: otel.Tracer falls back to
// the global no-op TracerProvider until one is registered, so tracing
// costs nothing until it's configured. internal/api starts a server
// span per request on this tracer; wiring a real exporter later is a
// matter of calling otel.SetTracerProvider during startup, not
// touching callers.
package telemetry

import (
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

const tracerName = "orchestrator"

// Standard attribute keys attached to control-plane spans.
var (
	AttrRequestID = attribute.Key("orchestrator.request_id")
	AttrAgentID   = attribute.Key("orchestrator.agent.id")
	AttrTaskID    = attribute.Key("orchestrator.task.id")
	AttrRoute     = attribute.Key("orchestrator.http.route")
)

// Tracer returns the control plane's shared tracer.
func Tracer() trace.Tracer {
	return otel.Tracer(tracerName)
}
