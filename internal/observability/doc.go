// Package observability provides the runtime's monitoring surface:
// Prometheus metrics, structured logging with sensitive data redaction,
// and OpenTelemetry tracing.
//
// Metrics track message turns, tool executions, security gate denials,
// active conversations, and snapshot store queries. The Metrics type
// satisfies the orchestrator's Metrics interface, so wiring is one line:
//
//	orch := orchestrator.New(orchestrator.Config{
//	    Registry: reg,
//	    Metrics:  observability.NewMetrics(),
//	})
//
// Logging wraps slog with redaction of common secret shapes and
// correlation ids pulled from the context. Tracing is disabled unless a
// collector endpoint is configured; all span helpers degrade to no-ops.
package observability
