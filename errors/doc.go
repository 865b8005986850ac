// Package errors provides unified error handling for the relaykit core.
// It implements structured error types with machine-readable codes,
// retryable detection, and a boundary shape for presentation layers.
//
// Retryable classification is load-bearing: the retry and circuit-breaker
// machinery in the resilience and provider packages consults it to decide
// whether a failed send may be attempted again. Validation, authentication,
// and configuration errors are never retryable.
package errors
