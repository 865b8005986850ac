// Package audit provides the structured audit sink consumed by the provider
// manager. Sinks receive (event, data) pairs for discovery completion, code
// collisions, circuit-breaker transitions, configuration changes, and
// validation or instantiation failures.
//
// Emission is fire-and-forget: a sink must never block the core or surface
// its own failures into the call path. Wrap any sink with NewAsync to add a
// bounded buffer that drops events under backpressure.
package audit
