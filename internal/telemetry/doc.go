// Package telemetry configures OpenTelemetry tracing.
//
// The provider router traces each backend call as "provider.generate" and
// the orchestrator traces each message slot as "orchestrator.message". Setup
// installs the global tracer provider those spans go to; TraceHandler makes
// log lines emitted inside a span carry its ids.
package telemetry
