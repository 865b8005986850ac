package validation

import (
	"fmt"
	"strconv"
)

// Rule describes the expected shape of a single configuration key.
type Rule struct {
	Key      string
	Type     string // string, int, float, bool, select
	Required bool
	Options  []string // allowed values when Type is "select"
}

// FieldError is a validation failure for one configuration key.
type FieldError struct {
	Field   string `json:"field"`
	Message string `json:"message"`
}

// Result aggregates configuration validation failures.
type Result struct {
	Valid  bool         `json:"valid"`
	Errors []FieldError `json:"errors,omitempty"`
}

func (r *Result) add(field, message string) {
	r.Errors = append(r.Errors, FieldError{Field: field, Message: message})
}

// ValidateMap checks a configuration map against a set of rules. Keys not
// covered by a rule are ignored.
func ValidateMap(cfg map[string]any, rules []Rule) Result {
	res := Result{Valid: true}
	for _, rule := range rules {
		value, present := cfg[rule.Key]
		if !present || value == nil || value == "" {
			if rule.Required {
				res.add(rule.Key, "is required")
			}
			continue
		}
		if msg := checkType(value, rule); msg != "" {
			res.add(rule.Key, msg)
		}
	}
	res.Valid = len(res.Errors) == 0
	return res
}

func checkType(value any, rule Rule) string {
	switch rule.Type {
	case "", "string", "password", "textarea":
		if _, ok := value.(string); !ok {
			return "must be a string"
		}
	case "int":
		if !isInteger(value) {
			return "must be an integer"
		}
	case "float", "number":
		if !isNumber(value) {
			return "must be a number"
		}
	case "bool":
		if _, ok := value.(bool); !ok {
			return "must be a boolean"
		}
	case "select":
		s, ok := value.(string)
		if !ok {
			return "must be a string"
		}
		for _, opt := range rule.Options {
			if s == opt {
				return ""
			}
		}
		return fmt.Sprintf("must be one of %v", rule.Options)
	}
	return ""
}

func isInteger(value any) bool {
	switch v := value.(type) {
	case int, int8, int16, int32, int64, uint, uint8, uint16, uint32, uint64:
		return true
	case float64:
		return v == float64(int64(v))
	case string:
		_, err := strconv.ParseInt(v, 10, 64)
		return err == nil
	default:
		return false
	}
}

func isNumber(value any) bool {
	switch v := value.(type) {
	case int, int8, int16, int32, int64, uint, uint8, uint16, uint32, uint64, float32, float64:
		return true
	case string:
		_, err := strconv.ParseFloat(v, 64)
		return err == nil
	default:
		return false
	}
}
