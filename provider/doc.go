// Package provider implements the provider contract, the resilient provider
// base, and the provider manager.
//
// A provider is an adapter around one external service (an email gateway, an
// SMS aggregator, an AI model API). Concrete providers embed *Base and supply
// a SendFunc plus Metadata; Base contributes retries with exponential
// backoff, an instance circuit breaker, batch chunking with bounded
// parallelism, config sanitization, and running metrics.
//
// The Manager sits above a Registry of provider registrations. It resolves
// instances on demand (constructor arguments injected from configuration and
// the di container), guards each provider code with a registry circuit
// breaker, selects the best provider of a type by score, and owns the
// configuration lifecycle with backups and rollback.
package provider
