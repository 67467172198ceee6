// Package metrics declares the HTTP and database pool collectors exported
// on /metrics.
package metrics
