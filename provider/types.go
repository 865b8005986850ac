package provider

import (
	"time"

	"github.com/mkaratas/relaykit/resilience"
	"github.com/mkaratas/relaykit/validation"
)

// Payload is one unit of work for a provider.
type Payload struct {
	// ID correlates the payload with its Result. Assigned when empty.
	ID string `json:"id"`
	// To is the destination address (email, phone number, endpoint).
	To string `json:"to"`
	// Subject is an optional title or summary line.
	Subject string `json:"subject,omitempty"`
	// Body is the main content.
	Body string `json:"body"`
	// Data carries provider-specific extras.
	Data map[string]any `json:"data,omitempty"`
}

// Result is the outcome of a single Send.
type Result struct {
	ID           string         `json:"id"`
	ProviderCode string         `json:"provider_code,omitempty"`
	Success      bool           `json:"success"`
	Detail       string         `json:"detail,omitempty"`
	Duration     time.Duration  `json:"duration"`
	Timestamp    time.Time      `json:"timestamp"`
	Data         map[string]any `json:"data,omitempty"`
}

// BatchOptions controls SendBatch processing.
type BatchOptions struct {
	// ChunkSize bounds items per chunk. Zero uses the provider default.
	ChunkSize int `json:"chunk_size"`
	// Parallelism is the number of chunks processed concurrently.
	// Zero or one means sequential.
	Parallelism int `json:"parallelism"`
	// FailFast stops scheduling new chunks after the first failure.
	FailFast bool `json:"fail_fast"`
}

// BatchFailure records one failed item within a batch.
type BatchFailure struct {
	Index int    `json:"index"`
	Error string `json:"error"`
}

// BatchResult aggregates a SendBatch run.
type BatchResult struct {
	Total     int            `json:"total"`
	Succeeded int            `json:"succeeded"`
	Failed    int            `json:"failed"`
	// Skipped counts items never attempted after a fail-fast stop.
	Skipped  int            `json:"skipped"`
	Results  []*Result      `json:"results"`
	Failures []BatchFailure `json:"failures,omitempty"`
	Duration time.Duration  `json:"duration"`
	// Throughput is processed items per second.
	Throughput float64 `json:"throughput"`
}

// ConnectionResult reports a connectivity probe.
type ConnectionResult struct {
	Connected bool          `json:"connected"`
	Latency   time.Duration `json:"latency"`
	Message   string        `json:"message,omitempty"`
	CheckedAt time.Time     `json:"checked_at"`
}

// ValidationResult reports configuration validation structurally.
type ValidationResult struct {
	Valid    bool                    `json:"valid"`
	Errors   []validation.FieldError `json:"errors,omitempty"`
	Warnings []string                `json:"warnings,omitempty"`
}

// HealthStatus is the derived health of one provider instance.
type HealthStatus struct {
	// Healthy is true iff the instance is authenticated, its circuit
	// breaker is closed, and its error rate is below the threshold.
	Healthy       bool      `json:"healthy"`
	Authenticated bool      `json:"authenticated"`
	CircuitState  string    `json:"circuit_state"`
	ErrorRate     float64   `json:"error_rate"`
	LastChecked   time.Time `json:"last_checked"`
	// CheckCount is how many times the manager has probed this code.
	CheckCount int `json:"check_count,omitempty"`
	// Detail is the leading issue; Issues lists every one that applies.
	Detail string   `json:"detail,omitempty"`
	Issues []string `json:"issues,omitempty"`
}

// Metrics is a snapshot of a provider instance's usage counters.
type Metrics struct {
	TotalRequests int64         `json:"total_requests"`
	SuccessCount  int64         `json:"success_count"`
	FailureCount  int64         `json:"failure_count"`
	TotalDuration time.Duration `json:"total_duration"`
	LastUsed      time.Time     `json:"last_used"`
}

// SuccessRate returns successes over total, 1.0 when unused.
func (m Metrics) SuccessRate() float64 {
	if m.TotalRequests == 0 {
		return 1.0
	}
	return float64(m.SuccessCount) / float64(m.TotalRequests)
}

// ErrorRate returns failures over total, 0.0 when unused.
func (m Metrics) ErrorRate() float64 {
	if m.TotalRequests == 0 {
		return 0
	}
	return float64(m.FailureCount) / float64(m.TotalRequests)
}

// AvgDuration returns the mean call duration.
func (m Metrics) AvgDuration() time.Duration {
	if m.TotalRequests == 0 {
		return 0
	}
	return m.TotalDuration / time.Duration(m.TotalRequests)
}

// PerformanceMetrics is the manager's per-code performance view.
type PerformanceMetrics struct {
	AvgLatency    time.Duration `json:"avg_latency"`
	SuccessRate   float64       `json:"success_rate"`
	ErrorRate     float64       `json:"error_rate"`
	TotalRequests int64         `json:"total_requests"`
	CircuitState  string        `json:"circuit_state"`
	LastChecked   time.Time     `json:"last_checked"`
}

// breakerStateName maps a resilience state to its wire name.
func breakerStateName(s resilience.State) string { return s.String() }
