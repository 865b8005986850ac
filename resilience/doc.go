// Package resilience provides patterns for building fault-tolerant provider
// integrations. It includes circuit breaker, retry with exponential backoff,
// bulkhead, and rate limiting primitives.
//
// Two circuit breakers guard every provider call path: the resilient provider
// base owns one scoped to its own retrying sends, and the manager owns one
// per provider code governing whether lookups are allowed at all. Both are
// instances of CircuitBreaker with different configurations; they are never
// merged.
package resilience
