// Package tracing wires OpenTelemetry into the gateway.
//
// Setup installs the SDK tracer provider once per binary. Middleware opens
// a server span per HTTP request; provider connectors open client spans
// named connector.<channel>.send beneath it.
//
//	shutdown, err := tracing.Setup(ctx, tracing.Config{Component: "api", SampleRatio: 1})
//	if err != nil { ... }
//	defer shutdown(context.Background())
package tracing
