// Package configstore persists provider configurations and their backups.
// Records are keyed by provider type and code ("{type}_{code}"). The file
// store writes atomically and can encrypt sensitive fields at rest; the
// memory store backs tests and zero-config embeds.
package configstore
