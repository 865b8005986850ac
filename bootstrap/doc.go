// Package bootstrap wires the provider subsystem together for a host
// application: settings, logging, audit sink, configuration store,
// OpenTelemetry export, the registry, the manager, and the health monitor,
// with start and stop hooks for host-specific setup.
//
// Hosts that need finer control can assemble the pieces directly; bootstrap
// is convenience, not a requirement.
package bootstrap
