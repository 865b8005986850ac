// Package config loads runtime settings for the provider subsystem from YAML
// files, .env files, and environment variables, in that order of increasing
// precedence. All settings carry working defaults so a zero-config embed of
// the library behaves sensibly.
package config
