// Package validation wraps go-playground/validator for struct validation and
// adds rule-based validation for free-form configuration maps. Both surfaces
// report failures as field-level errors so callers can present actionable
// messages instead of a single opaque failure.
package validation
