package provider_test

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/mkaratas/relaykit/audit"
	apperrors "github.com/mkaratas/relaykit/errors"
	"github.com/mkaratas/relaykit/provider"
)

// captureSink records audit events for assertions.
type captureSink struct {
	mu     sync.Mutex
	events []string
	data   []map[string]any
}

func (s *captureSink) Emit(event string, data map[string]any) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.events = append(s.events, event)
	s.data = append(s.data, data)
}

func (s *captureSink) count(event string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for _, e := range s.events {
		if e == event {
			n++
		}
	}
	return n
}

func emailMetadata(name string) provider.Metadata {
	return provider.Metadata{
		Name:        name,
		Description: "test email provider",
		Type:        "email",
		Version:     "1.0.0",
		Capabilities: []string{
			"send", "batch",
		},
		SetupSchema: []provider.SchemaField{
			{Key: "api_key", Label: "API Key", Type: "password", Required: true, Sensitive: true},
			{Key: "region", Label: "Region", Type: "select", Options: []string{"us-east-1", "eu-west-1"}},
		},
	}
}

func emailFactory(name string) func() provider.Provider {
	return func() provider.Provider {
		return provider.NewBase(emailMetadata(name), func(ctx context.Context, p provider.Payload) (*provider.Result, error) {
			return &provider.Result{Success: true}, nil
		})
	}
}

func TestRegisterDerivesCode(t *testing.T) {
	r := provider.NewRegistry()
	code, err := r.Register(provider.Registration{
		Metadata: emailMetadata("EmailAProvider"),
		Factory:  emailFactory("EmailAProvider"),
	})
	if err != nil {
		t.Fatal(err)
	}
	if code != "email_a" {
		t.Errorf("expected code email_a, got %q", code)
	}
	if _, ok := r.Get("email_a"); !ok {
		t.Error("expected registration retrievable by code")
	}
}

func TestRegisterRejectsIncompleteMetadata(t *testing.T) {
	r := provider.NewRegistry()

	tests := []struct {
		name string
		meta provider.Metadata
	}{
		{"missing name", provider.Metadata{Type: "email", Version: "1.0.0"}},
		{"missing type", provider.Metadata{Name: "XProvider", Version: "1.0.0"}},
		{"missing version", provider.Metadata{Name: "XProvider", Type: "email"}},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			_, err := r.Register(provider.Registration{Metadata: tc.meta, Factory: emailFactory("X")})
			if err == nil {
				t.Error("expected validation error")
			}
		})
	}
}

func TestRegisterValidationDisabled(t *testing.T) {
	r := provider.NewRegistry(provider.WithRegistrationValidation(false))

	// metadata validation is off, factory shape validation still runs
	code, err := r.Register(provider.Registration{
		Metadata: provider.Metadata{Name: "BareProvider"},
		Factory:  emailFactory("BareProvider"),
	})
	if err != nil {
		t.Fatalf("expected incomplete metadata accepted, got %v", err)
	}
	if code != "bare" {
		t.Errorf("expected code bare, got %q", code)
	}

	if _, err := r.Register(provider.Registration{
		Metadata: provider.Metadata{Name: "BrokenProvider"},
		Factory:  "not a function",
	}); err == nil {
		t.Error("factory validation must run regardless")
	}
}

func TestRegisterRejectsBadFactory(t *testing.T) {
	r := provider.NewRegistry()
	meta := emailMetadata("EmailAProvider")

	tests := []struct {
		name    string
		factory any
	}{
		{"nil factory", nil},
		{"not a function", "constructor"},
		{"wrong return type", func() string { return "" }},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			_, err := r.Register(provider.Registration{Metadata: meta, Factory: tc.factory})
			if err == nil {
				t.Error("expected factory validation error")
			}
		})
	}
}

func TestRegisterCollisionFirstWins(t *testing.T) {
	sink := &captureSink{}
	r := provider.NewRegistry(provider.WithRegistryAudit(sink))

	if _, err := r.Register(provider.Registration{
		Code:     "email_a",
		Metadata: emailMetadata("EmailAProvider"),
		Factory:  emailFactory("EmailAProvider"),
	}); err != nil {
		t.Fatal(err)
	}

	_, err := r.Register(provider.Registration{
		Code:     "email_a",
		Metadata: emailMetadata("ImposterProvider"),
		Factory:  emailFactory("ImposterProvider"),
	})
	appErr, ok := apperrors.AsAppError(err)
	if !ok || appErr.Code != apperrors.ErrCodeAlreadyExists {
		t.Fatalf("expected ALREADY_EXISTS, got %v", err)
	}

	reg, _ := r.Get("email_a")
	if reg.Metadata.Name != "EmailAProvider" {
		t.Error("first registration should win")
	}
	if sink.count(audit.EventCodeCollision) != 1 {
		t.Error("expected one collision audit event")
	}
}

func TestRegisterPolicyHook(t *testing.T) {
	r := provider.NewRegistry(provider.WithPolicy(func(reg provider.Registration) error {
		if reg.Metadata.Name == "ForbiddenProvider" {
			return apperrors.Validation("provider not allowed by policy")
		}
		return nil
	}))

	meta := emailMetadata("ForbiddenProvider")
	if _, err := r.Register(provider.Registration{Metadata: meta, Factory: emailFactory("ForbiddenProvider")}); err == nil {
		t.Error("expected policy rejection")
	}
}

func TestDiscoverCachesUntilTTL(t *testing.T) {
	sink := &captureSink{}
	r := provider.NewRegistry(
		provider.WithDiscoveryTTL(time.Hour),
		provider.WithRegistryAudit(sink),
	)

	var (
		mu   sync.Mutex
		regs = []provider.Registration{{
			Metadata: emailMetadata("EmailAProvider"),
			Factory:  emailFactory("EmailAProvider"),
		}}
	)
	r.AddSource(provider.SourceFunc(func() []provider.Registration {
		mu.Lock()
		defer mu.Unlock()
		return append([]provider.Registration(nil), regs...)
	}))

	codes := r.Discover(false)
	if len(codes) != 1 || codes[0] != "email_a" {
		t.Fatalf("expected [email_a], got %v", codes)
	}

	mu.Lock()
	regs = append(regs, provider.Registration{
		Metadata: emailMetadata("EmailBProvider"),
		Factory:  emailFactory("EmailBProvider"),
	})
	mu.Unlock()

	// within the TTL the cache answers; the new provider is invisible
	if codes := r.Discover(false); len(codes) != 1 {
		t.Errorf("expected cached discovery, got %v", codes)
	}

	// force bypasses the cache
	codes = r.Discover(true)
	if len(codes) != 2 {
		t.Errorf("expected forced discovery to register the new provider, got %v", codes)
	}

	if sink.count(audit.EventDiscoveryCompleted) != 2 {
		t.Errorf("expected 2 discovery audit events, got %d", sink.count(audit.EventDiscoveryCompleted))
	}
}

func TestByTypeAndCapabilities(t *testing.T) {
	r := provider.NewRegistry()
	smsMeta := emailMetadata("BulkSMSProvider")
	smsMeta.Type = "sms"
	smsMeta.Capabilities = []string{"send"}

	for _, reg := range []provider.Registration{
		{Metadata: emailMetadata("EmailBProvider"), Factory: emailFactory("EmailBProvider")},
		{Metadata: emailMetadata("EmailAProvider"), Factory: emailFactory("EmailAProvider")},
		{Metadata: smsMeta, Factory: emailFactory("BulkSMSProvider")},
	} {
		if _, err := r.Register(reg); err != nil {
			t.Fatal(err)
		}
	}

	emails := r.ByType("email")
	if len(emails) != 2 || emails[0].Code != "email_a" || emails[1].Code != "email_b" {
		t.Errorf("expected code-ordered email providers, got %v", emails)
	}

	caps := r.Capabilities("bulk_sms")
	if len(caps) != 1 || caps[0] != "send" {
		t.Errorf("unexpected capability cache: %v", caps)
	}
	if caps := r.Capabilities("absent"); len(caps) != 0 {
		t.Errorf("expected no capabilities for unknown code, got %v", caps)
	}
}
