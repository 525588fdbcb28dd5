// Package tracing wires OpenTelemetry into the runtime. Each /invoke request
// becomes a span carrying the session id and the number of units streamed.
package tracing
