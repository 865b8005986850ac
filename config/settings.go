package config

import (
	"time"

	"github.com/mkaratas/relaykit/logger"
	"github.com/mkaratas/relaykit/validation"
)

// Settings is the root configuration for the provider subsystem.
type Settings struct {
	Logger        logger.Config         `mapstructure:"logger" json:"logger"`
	Discovery     DiscoverySettings     `mapstructure:"discovery" json:"discovery"`
	Resilience    ResilienceSettings    `mapstructure:"resilience" json:"resilience"`
	Retry         RetrySettings         `mapstructure:"retry" json:"retry"`
	Batch         BatchSettings         `mapstructure:"batch" json:"batch"`
	Health        HealthSettings        `mapstructure:"health" json:"health"`
	Audit         AuditSettings         `mapstructure:"audit" json:"audit"`
	Store         StoreSettings         `mapstructure:"store" json:"store"`
	Encryption    EncryptionSettings    `mapstructure:"encryption" json:"encryption"`
	Observability ObservabilitySettings `mapstructure:"observability" json:"observability"`
}

// DiscoverySettings controls provider registry discovery and caching.
type DiscoverySettings struct {
	// CacheTTL bounds how long cached discovery results stay fresh.
	CacheTTL time.Duration `mapstructure:"cache_ttl" json:"cache_ttl"`
	// SkipValidation disables metadata validation at registration time.
	SkipValidation bool `mapstructure:"skip_validation" json:"skip_validation"`
}

// BreakerSettings configures a single circuit breaker tier.
type BreakerSettings struct {
	MaxFailures      int           `mapstructure:"max_failures" json:"max_failures" validate:"min=1"`
	Timeout          time.Duration `mapstructure:"timeout" json:"timeout" validate:"min=1s"`
	SuccessThreshold int           `mapstructure:"success_threshold" json:"success_threshold" validate:"min=1"`
}

// ResilienceSettings configures both circuit breaker tiers.
type ResilienceSettings struct {
	// Instance protects outbound calls of a single provider instance.
	Instance BreakerSettings `mapstructure:"instance" json:"instance"`
	// Registry protects provider resolution per provider code.
	Registry BreakerSettings `mapstructure:"registry" json:"registry"`
}

// RetrySettings configures the default retry policy for provider calls.
type RetrySettings struct {
	MaxAttempts int           `mapstructure:"max_attempts" json:"max_attempts" validate:"min=1"`
	BaseDelay   time.Duration `mapstructure:"base_delay" json:"base_delay" validate:"min=1ms"`
	MaxDelay    time.Duration `mapstructure:"max_delay" json:"max_delay" validate:"min=1ms"`
	Multiplier  float64       `mapstructure:"multiplier" json:"multiplier" validate:"min=1"`
	Jitter      bool          `mapstructure:"jitter" json:"jitter"`
}

// BatchSettings configures batch chunking and bounded parallelism.
type BatchSettings struct {
	ChunkSize   int `mapstructure:"chunk_size" json:"chunk_size" validate:"min=1"`
	Parallelism int `mapstructure:"parallelism" json:"parallelism" validate:"min=1"`
}

// HealthSettings configures health derivation and periodic checks.
type HealthSettings struct {
	// ErrorRateThreshold marks an instance degraded above this error ratio.
	ErrorRateThreshold float64       `mapstructure:"error_rate_threshold" json:"error_rate_threshold" validate:"min=0,max=1"`
	CheckInterval      time.Duration `mapstructure:"check_interval" json:"check_interval"`
	// MaxConcurrentChecks bounds how many probes run at once.
	MaxConcurrentChecks int `mapstructure:"max_concurrent_checks" json:"max_concurrent_checks" validate:"min=1"`
}

// AuditSettings configures the audit sink.
type AuditSettings struct {
	// Path enables the file sink when set; empty routes audit to the logger.
	Path          string `mapstructure:"path" json:"path"`
	Buffer        int    `mapstructure:"buffer" json:"buffer"`
	RetentionDays int    `mapstructure:"retention_days" json:"retention_days"`
}

// StoreSettings configures configuration persistence.
type StoreSettings struct {
	// Dir enables the file store when set; empty keeps configs in memory.
	Dir string `mapstructure:"dir" json:"dir"`
}

// EncryptionSettings configures at-rest encryption of sensitive fields.
type EncryptionSettings struct {
	Key       string `mapstructure:"key" json:"-"`
	Algorithm string `mapstructure:"algorithm" json:"algorithm" validate:"omitempty,oneof=aes-256-gcm chacha20-poly1305"`
}

// ObservabilitySettings configures OpenTelemetry export.
type ObservabilitySettings struct {
	Enabled     bool   `mapstructure:"enabled" json:"enabled"`
	Endpoint    string `mapstructure:"endpoint" json:"endpoint"`
	ServiceName string `mapstructure:"service_name" json:"service_name"`
}

// Defaults returns settings with all defaults applied.
func Defaults() Settings {
	s := Settings{}
	s.ApplyDefaults()
	return s
}

// ApplyDefaults fills zero-valued settings with working defaults.
func (s *Settings) ApplyDefaults() {
	s.Logger.ApplyDefaults()

	if s.Discovery.CacheTTL == 0 {
		s.Discovery.CacheTTL = 10 * time.Minute
	}

	if s.Resilience.Instance.MaxFailures == 0 {
		s.Resilience.Instance.MaxFailures = 5
	}
	if s.Resilience.Instance.Timeout == 0 {
		s.Resilience.Instance.Timeout = 300 * time.Second
	}
	if s.Resilience.Instance.SuccessThreshold == 0 {
		s.Resilience.Instance.SuccessThreshold = 1
	}
	if s.Resilience.Registry.MaxFailures == 0 {
		s.Resilience.Registry.MaxFailures = 5
	}
	if s.Resilience.Registry.Timeout == 0 {
		s.Resilience.Registry.Timeout = 60 * time.Second
	}
	if s.Resilience.Registry.SuccessThreshold == 0 {
		s.Resilience.Registry.SuccessThreshold = 3
	}

	if s.Retry.MaxAttempts == 0 {
		s.Retry.MaxAttempts = 3
	}
	if s.Retry.BaseDelay == 0 {
		s.Retry.BaseDelay = 100 * time.Millisecond
		s.Retry.Jitter = true
	}
	if s.Retry.MaxDelay == 0 {
		s.Retry.MaxDelay = 30 * time.Second
	}
	if s.Retry.Multiplier == 0 {
		s.Retry.Multiplier = 2.0
	}

	if s.Batch.ChunkSize == 0 {
		s.Batch.ChunkSize = 100
	}
	if s.Batch.Parallelism == 0 {
		s.Batch.Parallelism = 4
	}

	if s.Health.ErrorRateThreshold == 0 {
		s.Health.ErrorRateThreshold = 0.10
	}
	if s.Health.CheckInterval == 0 {
		s.Health.CheckInterval = time.Minute
	}
	if s.Health.MaxConcurrentChecks == 0 {
		s.Health.MaxConcurrentChecks = 4
	}

	if s.Audit.Buffer == 0 {
		s.Audit.Buffer = 256
	}
	if s.Encryption.Algorithm == "" {
		s.Encryption.Algorithm = "aes-256-gcm"
	}
	if s.Observability.ServiceName == "" {
		s.Observability.ServiceName = "relaykit"
	}
}

// Validate checks the settings for consistency.
func (s *Settings) Validate() error {
	return validation.Default().Struct(s)
}
