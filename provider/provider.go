package provider

import (
	"context"
)

// Provider is the contract every provider adapter fulfills.
type Provider interface {
	// Send delivers a single payload through the external service.
	Send(ctx context.Context, p Payload) (*Result, error)
	// SendBatch delivers many payloads, chunked and optionally parallel.
	SendBatch(ctx context.Context, items []Payload, opts BatchOptions) (*BatchResult, error)
	// Authenticate verifies credentials against the external service.
	Authenticate(ctx context.Context, creds map[string]any) error
	// TestConnection probes connectivity and reports latency.
	TestConnection(ctx context.Context) (*ConnectionResult, error)
	// HealthStatus derives the current health of this instance.
	HealthStatus() HealthStatus
	// Metrics returns a snapshot of the running usage counters.
	Metrics() Metrics
	// ValidateConfig checks a candidate configuration against the setup
	// schema. It reports problems structurally and never returns a Go error.
	ValidateConfig(cfg map[string]any) ValidationResult
	// SetConfig validates and applies a new configuration atomically.
	SetConfig(cfg map[string]any) error
	// Config returns a copy of the active configuration. Sensitive values
	// are masked unless includeSensitive is set.
	Config(includeSensitive bool) map[string]any
	// Reset clears metrics, authentication state, and the circuit breaker.
	Reset()
	// Describe returns the provider's static metadata.
	Describe() Metadata
}

// Metadata describes a provider to the registry and to configuration UIs.
type Metadata struct {
	// Name is the human-readable provider name, e.g. "EmailAProvider".
	Name string `json:"name" validate:"required"`
	// Description explains what the provider integrates with.
	Description string `json:"description"`
	// Type groups providers for selection: email, sms, ai, payment, ...
	Type string `json:"type" validate:"required"`
	// Version is the adapter version.
	Version string `json:"version" validate:"required"`
	// Capabilities lists feature tags used for capability-based selection.
	Capabilities []string `json:"capabilities"`
	// SetupSchema drives dynamic configuration forms and validation.
	SetupSchema []SchemaField `json:"setup_schema"`
	// Requirements names external preconditions (accounts, API plans).
	Requirements []string `json:"requirements"`
}

// SchemaField describes one configuration key of a provider.
type SchemaField struct {
	Key       string   `json:"key"`
	Label     string   `json:"label"`
	Type      string   `json:"type"` // string, password, int, float, bool, select, textarea
	Required  bool     `json:"required"`
	Sensitive bool     `json:"sensitive"`
	Default   any      `json:"default,omitempty"`
	Options   []string `json:"options,omitempty"`
}
