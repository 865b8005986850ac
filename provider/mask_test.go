package provider

import "testing"

func TestDeriveCode(t *testing.T) {
	tests := []struct {
		name string
		want string
	}{
		{"EmailAProvider", "email_a"},
		{"EmailBProvider", "email_b"},
		{"TwilioSMSService", "twilio_sms"},
		{"OpenAIClient", "open_ai"},
		{"PaymentGateway", "payment"},
		{"StripeProvider", "stripe"},
		{"Provider", "provider"}, // bare suffix is a name, not a suffix
		{"webhook", "webhook"},
		{"My-Fancy Provider", "my_fancy"},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			if got := DeriveCode(tc.name); got != tc.want {
				t.Errorf("DeriveCode(%q) = %q, want %q", tc.name, got, tc.want)
			}
		})
	}
}

func TestMaskConfig(t *testing.T) {
	schema := []SchemaField{
		{Key: "endpoint", Type: "string"},
		{Key: "signing_cert", Type: "string", Sensitive: true},
	}
	sensitive := sensitiveSet(schema, []string{"tenant_secret"})

	cfg := map[string]any{
		"api_key":       "sk_live_very_long_key_material",
		"signing_cert":  "-----BEGIN CERT-----",
		"tenant_secret": "t",
		"endpoint":      "https://api.example.com",
		"timeout":       30,
	}
	masked := maskConfig(cfg, sensitive)

	for _, key := range []string{"api_key", "signing_cert", "tenant_secret"} {
		if masked[key] != MaskPlaceholder {
			t.Errorf("expected %s masked, got %v", key, masked[key])
		}
	}
	if masked["endpoint"] != "https://api.example.com" || masked["timeout"] != 30 {
		t.Error("non-sensitive values should pass through")
	}
	// the placeholder must not leak the original length
	if len(MaskPlaceholder) == len("sk_live_very_long_key_material") {
		t.Error("placeholder length should be fixed")
	}
	// source map untouched
	if cfg["api_key"] == MaskPlaceholder {
		t.Error("masking must not mutate the input")
	}
}
