package provider_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/mkaratas/relaykit/audit"
	"github.com/mkaratas/relaykit/configstore"
	"github.com/mkaratas/relaykit/di"
	apperrors "github.com/mkaratas/relaykit/errors"
	"github.com/mkaratas/relaykit/provider"
	"github.com/mkaratas/relaykit/resilience"
)

func newManagerFixture(t *testing.T, opts ...provider.ManagerOption) (*provider.Manager, *provider.Registry, *captureSink) {
	t.Helper()
	registry := provider.NewRegistry()
	sink := &captureSink{}
	opts = append([]provider.ManagerOption{
		provider.WithStore(configstore.NewMemoryStore()),
		provider.WithManagerAudit(sink),
	}, opts...)
	return provider.NewManager(registry, opts...), registry, sink
}

func mustRegister(t *testing.T, r *provider.Registry, reg provider.Registration) string {
	t.Helper()
	code, err := r.Register(reg)
	if err != nil {
		t.Fatal(err)
	}
	return code
}

func TestManagerGetNotFound(t *testing.T) {
	m, _, _ := newManagerFixture(t)
	_, err := m.Get(context.Background(), "ghost")
	appErr, ok := apperrors.AsAppError(err)
	if !ok || appErr.Code != apperrors.ErrCodeNotFound {
		t.Fatalf("expected NOT_FOUND, got %v", err)
	}
}

func TestManagerGetCachesInstance(t *testing.T) {
	m, registry, _ := newManagerFixture(t)
	code := mustRegister(t, registry, provider.Registration{
		Metadata: emailMetadata("EmailAProvider"),
		Factory:  emailFactory("EmailAProvider"),
	})
	ctx := context.Background()

	first, err := m.Get(ctx, code)
	if err != nil {
		t.Fatal(err)
	}
	second, err := m.Get(ctx, code)
	if err != nil {
		t.Fatal(err)
	}
	if first != second {
		t.Error("expected the cached instance on the second resolve")
	}

	fresh, err := m.GetWith(ctx, code, provider.GetOptions{ForceNew: true})
	if err != nil {
		t.Fatal(err)
	}
	if fresh == first {
		t.Error("ForceNew must bypass the cache")
	}

	m.Invalidate(code)
	rebuilt, err := m.Get(ctx, code)
	if err != nil {
		t.Fatal(err)
	}
	if rebuilt == fresh {
		t.Error("Invalidate must drop the cached instance")
	}
}

func TestManagerGetAppliesStoredConfig(t *testing.T) {
	store := configstore.NewMemoryStore()
	registry := provider.NewRegistry()
	m := provider.NewManager(registry, provider.WithStore(store))
	code := mustRegister(t, registry, provider.Registration{
		Metadata: emailMetadata("EmailAProvider"),
		Factory:  emailFactory("EmailAProvider"),
	})
	ctx := context.Background()

	if err := store.Save(ctx, configstore.Record{
		ProviderType: "email",
		Code:         code,
		Config:       map[string]any{"api_key": "sk_stored", "region": "us-east-1"},
		Enabled:      true,
	}); err != nil {
		t.Fatal(err)
	}

	p, err := m.Get(ctx, code)
	if err != nil {
		t.Fatal(err)
	}
	if p.Config(true)["api_key"] != "sk_stored" {
		t.Error("stored configuration should be applied on instantiation")
	}
}

func TestManagerGetCreationFailureOpensBreaker(t *testing.T) {
	m, registry, sink := newManagerFixture(t, provider.WithRegistryBreaker(resilience.CircuitBreakerConfig{
		MaxFailures:      2,
		Timeout:          time.Hour,
		SuccessThreshold: 1,
	}))
	code := mustRegister(t, registry, provider.Registration{
		Metadata: emailMetadata("EmailAProvider"),
		Factory: func() (provider.Provider, error) {
			return nil, errors.New("smtp driver missing")
		},
	})
	ctx := context.Background()

	for i := 0; i < 2; i++ {
		_, err := m.Get(ctx, code)
		appErr, ok := apperrors.AsAppError(err)
		if !ok || appErr.Code != apperrors.ErrCodeCreationFailed {
			t.Fatalf("expected CREATION_FAILED, got %v", err)
		}
	}
	if m.BreakerState(code) != resilience.StateOpen {
		t.Fatalf("expected open registry breaker, got %v", m.BreakerState(code))
	}

	_, err := m.Get(ctx, code)
	appErr, ok := apperrors.AsAppError(err)
	if !ok || appErr.Code != apperrors.ErrCodeUnavailable {
		t.Errorf("expected UNAVAILABLE while the breaker is open, got %v", err)
	}

	if sink.count(audit.EventCreationFailed) != 2 {
		t.Errorf("expected 2 creation audit events, got %d", sink.count(audit.EventCreationFailed))
	}
	if sink.count(audit.EventBreakerStateChange) == 0 {
		t.Error("expected a breaker state change audit event")
	}
}

func TestManagerFactoryInjection(t *testing.T) {
	type smtpPool struct{ addr string }

	container := di.NewContainer()
	if err := container.RegisterSingleton("smtp-pool", &smtpPool{addr: "relay:25"}); err != nil {
		t.Fatal(err)
	}

	registry := provider.NewRegistry()
	m := provider.NewManager(registry, provider.WithContainer(container))

	var seen *smtpPool
	code := mustRegister(t, registry, provider.Registration{
		Metadata: emailMetadata("EmailAProvider"),
		Factory: func(ctx context.Context, c di.Container, pool *smtpPool) provider.Provider {
			seen = pool
			return emailFactory("EmailAProvider")()
		},
	})

	if _, err := m.Get(context.Background(), code); err != nil {
		t.Fatal(err)
	}
	if seen == nil || seen.addr != "relay:25" {
		t.Errorf("expected the container-resolved dependency, got %+v", seen)
	}
}

func TestManagerUpdateConfigLifecycle(t *testing.T) {
	m, registry, sink := newManagerFixture(t)
	code := mustRegister(t, registry, provider.Registration{
		Metadata: emailMetadata("EmailAProvider"),
		Factory:  emailFactory("EmailAProvider"),
	})
	ctx := context.Background()

	// first update has nothing to back up
	if err := m.UpdateConfig(ctx, code, map[string]any{"api_key": "v1"}, provider.UpdateOptions{}); err != nil {
		t.Fatal(err)
	}
	backups, err := m.Backups(ctx, code)
	if err != nil {
		t.Fatal(err)
	}
	if len(backups) != 0 {
		t.Fatalf("expected no backups after the first update, got %d", len(backups))
	}

	if err := m.UpdateConfig(ctx, code, map[string]any{"api_key": "v2"}, provider.UpdateOptions{}); err != nil {
		t.Fatal(err)
	}
	backups, _ = m.Backups(ctx, code)
	if len(backups) != 1 {
		t.Fatalf("expected 1 backup after the second update, got %d", len(backups))
	}
	if backups[0].Config["api_key"] != "v1" {
		t.Errorf("backup should hold the replaced configuration, got %v", backups[0].Config)
	}

	p, err := m.Get(ctx, code)
	if err != nil {
		t.Fatal(err)
	}
	if p.Config(true)["api_key"] != "v2" {
		t.Error("live instance should carry the updated configuration")
	}

	// an invalid update leaves the live configuration in place
	err = m.UpdateConfig(ctx, code, map[string]any{"region": "mars-1"}, provider.UpdateOptions{})
	if err == nil {
		t.Fatal("expected invalid configuration to be rejected")
	}
	p, _ = m.Get(ctx, code)
	if p.Config(true)["api_key"] != "v2" {
		t.Error("failed update must not touch the live instance")
	}

	if sink.count(audit.EventConfigUpdated) != 2 {
		t.Errorf("expected 2 config update audit events, got %d", sink.count(audit.EventConfigUpdated))
	}
}

func TestManagerRollback(t *testing.T) {
	m, registry, sink := newManagerFixture(t)
	code := mustRegister(t, registry, provider.Registration{
		Metadata: emailMetadata("EmailAProvider"),
		Factory:  emailFactory("EmailAProvider"),
	})
	ctx := context.Background()

	if err := m.Rollback(ctx, code, ""); err == nil {
		t.Fatal("expected rollback without backups to fail")
	}

	if err := m.UpdateConfig(ctx, code, map[string]any{"api_key": "v1"}, provider.UpdateOptions{}); err != nil {
		t.Fatal(err)
	}
	if err := m.UpdateConfig(ctx, code, map[string]any{"api_key": "v2"}, provider.UpdateOptions{}); err != nil {
		t.Fatal(err)
	}

	if err := m.Rollback(ctx, code, ""); err != nil {
		t.Fatal(err)
	}
	p, err := m.Get(ctx, code)
	if err != nil {
		t.Fatal(err)
	}
	if p.Config(true)["api_key"] != "v1" {
		t.Errorf("expected rollback to v1, got %v", p.Config(true)["api_key"])
	}
	if sink.count(audit.EventConfigRolledBack) != 1 {
		t.Error("expected a rollback audit event")
	}

	// rollback to an explicit version
	backups, _ := m.Backups(ctx, code)
	var v2Backup string
	for _, b := range backups {
		if b.Config["api_key"] == "v2" {
			v2Backup = b.ID
		}
	}
	if v2Backup == "" {
		t.Fatal("expected a pre-rollback snapshot of v2")
	}
	if err := m.Rollback(ctx, code, v2Backup); err != nil {
		t.Fatal(err)
	}
	p, _ = m.Get(ctx, code)
	if p.Config(true)["api_key"] != "v2" {
		t.Errorf("expected rollback to v2, got %v", p.Config(true)["api_key"])
	}
}

func TestManagerSetEnabled(t *testing.T) {
	m, registry, _ := newManagerFixture(t)
	code := mustRegister(t, registry, provider.Registration{
		Metadata: emailMetadata("EmailAProvider"),
		Factory:  emailFactory("EmailAProvider"),
	})
	ctx := context.Background()

	if _, err := m.Get(ctx, code); err != nil {
		t.Fatal(err)
	}

	if err := m.SetEnabled(ctx, code, false); err != nil {
		t.Fatal(err)
	}
	_, err := m.Get(ctx, code)
	appErr, ok := apperrors.AsAppError(err)
	if !ok || appErr.Code != apperrors.ErrCodeConfiguration {
		t.Fatalf("expected CONFIGURATION_ERROR for a disabled provider, got %v", err)
	}

	if err := m.SetEnabled(ctx, code, true); err != nil {
		t.Fatal(err)
	}
	if _, err := m.Get(ctx, code); err != nil {
		t.Errorf("re-enabled provider should resolve, got %v", err)
	}
}

func TestManagerPerformHealthCheck(t *testing.T) {
	m, registry, sink := newManagerFixture(t)
	code := mustRegister(t, registry, provider.Registration{
		Metadata: emailMetadata("EmailAProvider"),
		Factory:  emailFactory("EmailAProvider"),
	})
	ctx := context.Background()

	status, err := m.PerformHealthCheck(ctx, code)
	if err != nil {
		t.Fatal(err)
	}
	if status.Healthy {
		t.Error("an unauthenticated instance should report unhealthy")
	}

	if status.CheckCount != 1 {
		t.Errorf("expected check count 1, got %d", status.CheckCount)
	}
	if len(status.Issues) == 0 {
		t.Error("an unhealthy status should carry its issues")
	}

	recorded, ok := m.Health(code)
	if !ok || recorded.Detail != status.Detail {
		t.Errorf("expected recorded health status, got %+v", recorded)
	}
	if _, ok := m.Performance(code, 0); !ok {
		t.Error("expected recorded performance metrics")
	}
	if sink.count(audit.EventHealthChecked) != 1 {
		t.Error("expected a health check audit event")
	}

	// repeated probes accumulate the per-code check count
	status, err = m.PerformHealthCheck(ctx, code)
	if err != nil {
		t.Fatal(err)
	}
	if status.CheckCount != 2 {
		t.Errorf("expected check count 2, got %d", status.CheckCount)
	}

	// unknown codes record the failure too
	if _, err := m.PerformHealthCheck(ctx, "ghost"); err == nil {
		t.Error("expected health check of unknown code to fail")
	}
	if recorded, ok := m.Health("ghost"); !ok || recorded.Healthy {
		t.Errorf("expected recorded unhealthy status for unknown code, got %+v", recorded)
	}
}

func TestManagerAdHocConfigNotCached(t *testing.T) {
	m, registry, _ := newManagerFixture(t)
	code := mustRegister(t, registry, provider.Registration{
		Metadata: emailMetadata("EmailAProvider"),
		Factory:  emailFactory("EmailAProvider"),
	})
	ctx := context.Background()

	if err := m.UpdateConfig(ctx, code, map[string]any{"api_key": "stored"}, provider.UpdateOptions{}); err != nil {
		t.Fatal(err)
	}

	adhoc, err := m.GetWith(ctx, code, provider.GetOptions{Config: map[string]any{"api_key": "adhoc"}})
	if err != nil {
		t.Fatal(err)
	}
	if adhoc.Config(true)["api_key"] != "adhoc" {
		t.Fatal("expected the override applied to the returned instance")
	}

	p, err := m.Get(ctx, code)
	if err != nil {
		t.Fatal(err)
	}
	if p.Config(true)["api_key"] != "stored" {
		t.Errorf("plain Get must keep the stored configuration, got %v", p.Config(true)["api_key"])
	}
}

func TestManagerGetRefreshesDiscovery(t *testing.T) {
	m, registry, _ := newManagerFixture(t)
	ctx := context.Background()

	// a source attached after assembly invalidates the discovery cache;
	// the next resolve picks its providers up without an explicit sweep
	registry.AddSource(provider.SourceFunc(func() []provider.Registration {
		return []provider.Registration{{
			Metadata: emailMetadata("EmailAProvider"),
			Factory:  emailFactory("EmailAProvider"),
		}}
	}))

	if _, err := m.Get(ctx, "email_a"); err != nil {
		t.Fatalf("expected source-contributed provider to resolve, got %v", err)
	}
}

func TestManagerPerformanceWindow(t *testing.T) {
	m, registry, _ := newManagerFixture(t)
	code := mustRegister(t, registry, provider.Registration{
		Metadata: emailMetadata("EmailAProvider"),
		Factory:  emailFactory("EmailAProvider"),
	})
	ctx := context.Background()

	if _, err := m.PerformHealthCheck(ctx, code); err != nil {
		t.Fatal(err)
	}

	if _, ok := m.Performance(code, time.Hour); !ok {
		t.Error("a fresh snapshot should pass a wide window")
	}
	time.Sleep(time.Millisecond)
	if _, ok := m.Performance(code, time.Nanosecond); ok {
		t.Error("a narrow window should reject the stale snapshot")
	}
	if _, ok := m.Performance("ghost", 0); ok {
		t.Error("unknown codes have no snapshot")
	}
}

func TestManagerSchemas(t *testing.T) {
	m, registry, _ := newManagerFixture(t)
	mustRegister(t, registry, provider.Registration{
		Metadata: emailMetadata("EmailAProvider"),
		Factory:  emailFactory("EmailAProvider"),
	})

	schemas := m.Schemas()
	fields, ok := schemas["email_a"]
	if !ok || len(fields) != 2 {
		t.Fatalf("expected the email_a schema, got %+v", schemas)
	}
	if fields[0].Key != "api_key" || !fields[0].Sensitive {
		t.Errorf("unexpected schema field: %+v", fields[0])
	}
}
