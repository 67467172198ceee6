// Package observability groups the logging, metrics and tracing helpers
// shared by the API and worker binaries.
//
// Subpackages:
//   - logging: slog construction and request-scoped loggers
//   - metrics: HTTP and database pool collectors
//   - tracing: OpenTelemetry provider setup and HTTP server spans
//
// Domain metrics (sends, fallbacks, reconciliation, webhooks) are declared
// next to the use case that records them.
package observability
