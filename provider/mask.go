package provider

// MaskPlaceholder replaces sensitive values in sanitized configuration. The
// fixed length avoids leaking the original value's size.
const MaskPlaceholder = "********"

// defaultSensitiveKeys are masked in every provider's configuration,
// regardless of schema annotations.
var defaultSensitiveKeys = []string{
	"api_key",
	"secret_key",
	"password",
	"token",
	"secret",
	"private_key",
	"access_token",
	"auth_token",
	"client_secret",
}

// SensitiveKeys returns the default sensitive key list.
func SensitiveKeys() []string {
	out := make([]string, len(defaultSensitiveKeys))
	copy(out, defaultSensitiveKeys)
	return out
}

// sensitiveSet builds the mask set for a schema plus extra keys.
func sensitiveSet(schema []SchemaField, extra []string) map[string]bool {
	set := make(map[string]bool, len(defaultSensitiveKeys)+len(schema)+len(extra))
	for _, key := range defaultSensitiveKeys {
		set[key] = true
	}
	for _, field := range schema {
		if field.Sensitive {
			set[field.Key] = true
		}
	}
	for _, key := range extra {
		set[key] = true
	}
	return set
}

// maskConfig copies cfg with sensitive values replaced by the placeholder.
func maskConfig(cfg map[string]any, sensitive map[string]bool) map[string]any {
	out := make(map[string]any, len(cfg))
	for k, v := range cfg {
		if sensitive[k] {
			out[k] = MaskPlaceholder
			continue
		}
		out[k] = v
	}
	return out
}

func copyConfig(cfg map[string]any) map[string]any {
	out := make(map[string]any, len(cfg))
	for k, v := range cfg {
		out[k] = v
	}
	return out
}
