// Package observability initializes OpenTelemetry metrics and tracing for
// the provider subsystem and bundles the metric instruments the provider
// layer records against: call counts and latency, retries, circuit-breaker
// transitions, and error totals.
package observability
