package config

import (
	"fmt"
	"os"
	"strings"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

// envPrefix namespaces environment variables, e.g. RELAYKIT_RETRY_MAX_ATTEMPTS.
const envPrefix = "RELAYKIT"

// LoaderOption customizes Load behavior.
type LoaderOption func(*loaderOptions)

type loaderOptions struct {
	configFile string
	envFile    string
}

// WithConfigFile sets an explicit config file path instead of searching.
func WithConfigFile(path string) LoaderOption {
	return func(lo *loaderOptions) { lo.configFile = path }
}

// WithEnvFile sets an explicit .env file path instead of searching.
func WithEnvFile(path string) LoaderOption {
	return func(lo *loaderOptions) { lo.envFile = path }
}

// Load reads settings from the config file, .env file, and environment,
// applies defaults, and validates the result.
func Load(opts ...LoaderOption) (Settings, error) {
	var lo loaderOptions
	for _, opt := range opts {
		opt(&lo)
	}

	if lo.envFile == "" {
		lo.envFile = findFirst(".env.relaykit", ".env")
	}
	if lo.envFile != "" {
		if err := godotenv.Load(lo.envFile); err != nil {
			fmt.Fprintf(os.Stderr, "[config] warning: failed to load env file %s: %v\n", lo.envFile, err)
		}
	}

	v := viper.New()
	v.SetEnvPrefix(envPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	bindKeys(v)

	if lo.configFile == "" {
		lo.configFile = findFirst("relaykit.yml", "config/relaykit.yml", "config.yml")
	}
	if lo.configFile != "" {
		v.SetConfigFile(lo.configFile)
		if err := v.ReadInConfig(); err != nil {
			return Settings{}, fmt.Errorf("read config file %s: %w", lo.configFile, err)
		}
	}

	var s Settings
	if err := v.Unmarshal(&s); err != nil {
		return Settings{}, fmt.Errorf("unmarshal settings: %w", err)
	}

	s.ApplyDefaults()
	if err := s.Validate(); err != nil {
		return Settings{}, err
	}
	return s, nil
}

// bindKeys registers every settings key so AutomaticEnv resolves them even
// when no config file supplies a base value.
func bindKeys(v *viper.Viper) {
	keys := []string{
		"logger.level", "logger.format", "logger.output",
		"discovery.cache_ttl", "discovery.skip_validation",
		"resilience.instance.max_failures", "resilience.instance.timeout", "resilience.instance.success_threshold",
		"resilience.registry.max_failures", "resilience.registry.timeout", "resilience.registry.success_threshold",
		"retry.max_attempts", "retry.base_delay", "retry.max_delay", "retry.multiplier", "retry.jitter",
		"batch.chunk_size", "batch.parallelism",
		"health.error_rate_threshold", "health.check_interval", "health.max_concurrent_checks",
		"audit.path", "audit.buffer", "audit.retention_days",
		"store.dir",
		"encryption.key", "encryption.algorithm",
		"observability.enabled", "observability.endpoint", "observability.service_name",
	}
	for _, key := range keys {
		_ = v.BindEnv(key)
	}
}

func findFirst(paths ...string) string {
	for _, p := range paths {
		if _, err := os.Stat(p); err == nil {
			return p
		}
	}
	return ""
}
