// Package logger provides structured logging for relaykit built on zerolog.
//
// It exposes a thin Logger wrapper with component tagging, a named-logger
// registry, and package-level convenience functions that delegate to a
// global logger. The provider manager and resilient base log through
// component-tagged child loggers so host applications can filter output
// per subsystem.
package logger
