package audit

import (
	"time"

	"github.com/mkaratas/relaykit/logger"
)

// Well-known event names emitted by the provider manager.
const (
	EventDiscoveryCompleted = "provider.discovery_completed"
	EventCodeCollision      = "provider.code_collision"
	EventValidationFailed   = "provider.validation_failed"
	EventCreationFailed     = "provider.creation_failed"
	EventBreakerStateChange = "provider.circuit_state_changed"
	EventConfigUpdated      = "provider.config_updated"
	EventConfigRolledBack   = "provider.config_rolled_back"
	EventHealthChecked      = "provider.health_checked"
)

// Entry is a single recorded audit event.
type Entry struct {
	Timestamp time.Time      `json:"ts"`
	Event     string         `json:"event"`
	Data      map[string]any `json:"data,omitempty"`
}

// Sink receives structured audit events. Implementations must be safe for
// concurrent use and must not block the caller.
type Sink interface {
	Emit(event string, data map[string]any)
}

// NopSink discards all events.
type NopSink struct{}

// Emit implements Sink.
func (NopSink) Emit(string, map[string]any) {}

// LogSink writes audit events through the structured logger.
type LogSink struct {
	log *logger.Logger
}

// NewLogSink creates a sink backed by a component-tagged logger.
func NewLogSink() *LogSink {
	return &LogSink{log: logger.Get("audit")}
}

// Emit implements Sink.
func (s *LogSink) Emit(event string, data map[string]any) {
	fields := make(map[string]any, len(data)+1)
	for k, v := range data {
		fields[k] = v
	}
	fields["event"] = event
	s.log.Info("audit", fields)
}
