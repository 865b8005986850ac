package provider

import (
	"context"
	"fmt"
	"reflect"
	"sync"
	"time"

	"github.com/mkaratas/relaykit/audit"
	"github.com/mkaratas/relaykit/configstore"
	"github.com/mkaratas/relaykit/di"
	apperrors "github.com/mkaratas/relaykit/errors"
	"github.com/mkaratas/relaykit/logger"
	"github.com/mkaratas/relaykit/observability"
	"github.com/mkaratas/relaykit/resilience"
)

// Manager resolves provider instances by code, guards each code with a
// registry circuit breaker, owns the configuration lifecycle, and tracks
// health and performance per provider.
//
// All mutable state lives behind one mutex; configuration changes build the
// replacement instance first and swap it in atomically, so readers observe
// fully-old or fully-new state, never a mix.
type Manager struct {
	registry  *Registry
	container di.Container
	store     configstore.Store
	sink      audit.Sink
	log       *logger.Logger
	obs       *observability.ProviderMetrics

	breakerTemplate resilience.CircuitBreakerConfig

	mu        sync.Mutex
	instances map[string]Provider
	breakers  map[string]*resilience.CircuitBreaker
	health    map[string]HealthStatus
	perf      map[string]PerformanceMetrics
	checks    map[string]int
}

// ManagerOption customizes a Manager.
type ManagerOption func(*Manager)

// WithContainer supplies the di container used for constructor-argument
// resolution.
func WithContainer(c di.Container) ManagerOption {
	return func(m *Manager) { m.container = c }
}

// WithStore supplies the configuration store for persistence and backups.
func WithStore(s configstore.Store) ManagerOption {
	return func(m *Manager) { m.store = s }
}

// WithManagerAudit routes manager events to an audit sink.
func WithManagerAudit(sink audit.Sink) ManagerOption {
	return func(m *Manager) { m.sink = sink }
}

// WithManagerMetrics records manager outcomes to OpenTelemetry instruments.
func WithManagerMetrics(obs *observability.ProviderMetrics) ManagerOption {
	return func(m *Manager) { m.obs = obs }
}

// WithRegistryBreaker overrides the per-code circuit breaker template.
func WithRegistryBreaker(cfg resilience.CircuitBreakerConfig) ManagerOption {
	return func(m *Manager) { m.breakerTemplate = cfg }
}

// NewManager creates a Manager over a registry.
func NewManager(registry *Registry, opts ...ManagerOption) *Manager {
	m := &Manager{
		registry: registry,
		sink:     audit.NopSink{},
		log:      logger.Get("manager"),
		breakerTemplate: resilience.CircuitBreakerConfig{
			MaxFailures:      5,
			Timeout:          60 * time.Second,
			SuccessThreshold: 3,
		},
		instances: make(map[string]Provider),
		breakers:  make(map[string]*resilience.CircuitBreaker),
		health:    make(map[string]HealthStatus),
		perf:      make(map[string]PerformanceMetrics),
		checks:    make(map[string]int),
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Registry returns the underlying registry.
func (m *Manager) Registry() *Registry { return m.registry }

// GetOptions controls instance resolution.
type GetOptions struct {
	// ForceNew bypasses the instance cache.
	ForceNew bool
	// Config overrides the stored configuration for this instantiation.
	// Instances built from an override are returned but never cached.
	Config map[string]any
}

// Get returns the cached or newly created provider instance for code.
func (m *Manager) Get(ctx context.Context, code string) (Provider, error) {
	return m.GetWith(ctx, code, GetOptions{})
}

// GetWith resolves a provider with explicit options. Unknown codes return
// NOT_FOUND, an open registry breaker returns UNAVAILABLE, and factory
// failures return CREATION_FAILED (and count against the breaker). Typed
// instantiation errors, such as a disabled provider's CONFIGURATION_ERROR,
// keep their code.
func (m *Manager) GetWith(ctx context.Context, code string, opts GetOptions) (Provider, error) {
	reg, ok := m.registry.Get(code)
	if !ok {
		// The code may have arrived through a source since the last sweep;
		// a fresh discovery cache makes this a no-op.
		m.registry.Discover(false)
		reg, ok = m.registry.Get(code)
	}
	if !ok {
		return nil, apperrors.NotFound(code)
	}

	cb := m.breakerFor(code)
	if !cb.Allow() {
		return nil, apperrors.Unavailable(code)
	}

	if !opts.ForceNew && opts.Config == nil {
		m.mu.Lock()
		cached, hit := m.instances[code]
		m.mu.Unlock()
		if hit {
			cb.Record(nil)
			return cached, nil
		}
	}

	instance, err := m.instantiate(ctx, reg, opts.Config)
	cb.Record(err)
	if err != nil {
		m.sink.Emit(audit.EventCreationFailed, map[string]any{"code": code, "error": err.Error()})
		if m.obs != nil {
			m.obs.RecordError(ctx, code, string(apperrors.ErrCodeCreationFailed))
		}
		m.log.Error("provider creation failed", logger.Fields("code", code, "error", err.Error()))
		if appErr, ok := apperrors.AsAppError(err); ok {
			return nil, appErr
		}
		return nil, apperrors.CreationFailed(code, err)
	}

	// Ad-hoc configurations stay out of the shared cache; only instances
	// built from stored configuration are reused by later resolves.
	if opts.Config == nil {
		m.mu.Lock()
		m.instances[code] = instance
		m.mu.Unlock()
	}
	m.log.Debug("provider instantiated", logger.Fields("code", code))
	return instance, nil
}

// Invalidate drops the cached instance for code, forcing the next Get to
// rebuild it.
func (m *Manager) Invalidate(code string) {
	m.mu.Lock()
	delete(m.instances, code)
	m.mu.Unlock()
}

var (
	managerCtxType = reflect.TypeOf((*context.Context)(nil)).Elem()
	configMapType  = reflect.TypeOf(map[string]any{})
	diType         = reflect.TypeOf((*di.Container)(nil)).Elem()
)

// instantiate calls the registration's factory, injecting arguments: the
// configuration map, the di container, the context, or any dependency the
// container resolves by type. The loaded configuration is applied through
// SetConfig before the instance is returned.
func (m *Manager) instantiate(ctx context.Context, reg Registration, override map[string]any) (Provider, error) {
	cfg := override
	enabled := true
	if cfg == nil && m.store != nil {
		if rec, err := m.store.Load(ctx, reg.Metadata.Type, reg.Code); err == nil {
			cfg = rec.Config
			enabled = rec.Enabled
		}
	}
	if !enabled {
		return nil, apperrors.Configuration(fmt.Sprintf("provider %q is disabled", reg.Code))
	}

	fn := reflect.ValueOf(reg.Factory)
	fnType := fn.Type()
	args := make([]reflect.Value, fnType.NumIn())
	for i := range args {
		in := fnType.In(i)
		switch {
		case in == managerCtxType:
			args[i] = reflect.ValueOf(ctx)
		case in == configMapType:
			cfgArg := cfg
			if cfgArg == nil {
				cfgArg = map[string]any{}
			}
			args[i] = reflect.ValueOf(cfgArg)
		case in == diType:
			if m.container == nil {
				return nil, fmt.Errorf("factory for %q requires a di container", reg.Code)
			}
			args[i] = reflect.ValueOf(m.container)
		default:
			if m.container != nil {
				if dep, ok := m.container.ResolveByType(in); ok {
					args[i] = reflect.ValueOf(dep)
					continue
				}
			}
			return nil, fmt.Errorf("cannot resolve constructor argument %d (%s) for %q", i, in, reg.Code)
		}
	}

	results := fn.Call(args)
	if len(results) == 2 && !results[1].IsNil() {
		return nil, results[1].Interface().(error)
	}
	instance, ok := results[0].Interface().(Provider)
	if !ok || instance == nil {
		return nil, fmt.Errorf("factory for %q returned no provider", reg.Code)
	}

	if cfg != nil {
		if err := instance.SetConfig(cfg); err != nil {
			return nil, err
		}
	}
	return instance, nil
}

func (m *Manager) breakerFor(code string) *resilience.CircuitBreaker {
	m.mu.Lock()
	defer m.mu.Unlock()
	if cb, ok := m.breakers[code]; ok {
		return cb
	}

	cfg := m.breakerTemplate
	cfg.Name = "registry:" + code
	cfg.OnStateChange = func(name string, from, to resilience.State) {
		m.log.Warn("registry breaker state change", logger.Fields(
			"breaker", name, "from", from.String(), "to", to.String(),
		))
		m.sink.Emit(audit.EventBreakerStateChange, map[string]any{
			"breaker": name, "from": from.String(), "to": to.String(),
		})
		if m.obs != nil {
			m.obs.RecordBreakerTransition(context.Background(), name, from.String(), to.String())
		}
	}
	cb := resilience.NewCircuitBreaker(cfg)
	m.breakers[code] = cb
	return cb
}

// BreakerState reports the registry breaker state for a code.
func (m *Manager) BreakerState(code string) resilience.State {
	return m.breakerFor(code).State()
}

// UpdateOptions controls UpdateConfig behavior.
type UpdateOptions struct {
	// SkipValidation applies the configuration without schema validation.
	SkipValidation bool
	// TestConnection probes the provider with the new configuration before
	// committing. Providers without a probe pass automatically.
	TestConnection bool
}

// UpdateConfig replaces a provider's configuration: backup, validate,
// optionally test, persist, then swap the live instance. Any failure before
// the final swap leaves the previous configuration fully in effect.
func (m *Manager) UpdateConfig(ctx context.Context, code string, cfg map[string]any, opts UpdateOptions) error {
	reg, ok := m.registry.Get(code)
	if !ok {
		return apperrors.NotFound(code)
	}

	current, hasCurrent := m.currentRecord(ctx, reg)
	if m.store != nil && hasCurrent {
		backup := configstore.NewBackup(current, "config update")
		if err := m.store.SaveBackup(ctx, backup); err != nil {
			return apperrors.Internal(err)
		}
	}

	// Build the replacement instance against the new configuration. The
	// live instance stays untouched until everything has passed.
	next, err := m.instantiate(ctx, reg, cfg)
	if err != nil {
		m.sink.Emit(audit.EventCreationFailed, map[string]any{"code": code, "error": err.Error()})
		if appErr, ok := apperrors.AsAppError(err); ok {
			return appErr
		}
		return apperrors.CreationFailed(code, err)
	}

	if !opts.SkipValidation {
		if res := next.ValidateConfig(cfg); !res.Valid {
			details := make(map[string]any, len(res.Errors))
			for _, fe := range res.Errors {
				details[fe.Field] = fe.Message
			}
			m.sink.Emit(audit.EventValidationFailed, map[string]any{"code": code, "fields": details})
			return apperrors.Validation("provider configuration is invalid").WithDetails(details)
		}
	}

	if opts.TestConnection {
		if _, err := next.TestConnection(ctx); err != nil {
			if appErr, ok := apperrors.AsAppError(err); !ok || appErr.Code != apperrors.ErrCodeConfiguration {
				return err
			}
		}
	}

	if m.store != nil {
		record := configstore.Record{
			ProviderType: reg.Metadata.Type,
			Code:         code,
			Config:       cfg,
			Enabled:      !hasCurrent || current.Enabled,
		}
		if err := m.store.Save(ctx, record); err != nil {
			return apperrors.Internal(err)
		}
	}

	m.mu.Lock()
	m.instances[code] = next
	m.mu.Unlock()

	m.sink.Emit(audit.EventConfigUpdated, map[string]any{"code": code, "keys": configKeys(cfg)})
	m.log.Info("provider configuration updated", logger.Fields("code", code))
	return nil
}

// Rollback restores a previous configuration version. With an empty version
// the newest backup is used. Schema validation is skipped: the snapshot was
// valid when taken.
func (m *Manager) Rollback(ctx context.Context, code, version string) error {
	reg, ok := m.registry.Get(code)
	if !ok {
		return apperrors.NotFound(code)
	}
	if m.store == nil {
		return apperrors.Configuration("rollback requires a configuration store")
	}

	var backup configstore.Backup
	if version == "" {
		backups, err := m.store.ListBackups(ctx, reg.Metadata.Type, code)
		if err != nil {
			return apperrors.Internal(err)
		}
		if len(backups) == 0 {
			return apperrors.Configuration(fmt.Sprintf("no backups exist for provider %q", code))
		}
		backup = backups[0]
	} else {
		var err error
		backup, err = m.store.LoadBackup(ctx, reg.Metadata.Type, code, version)
		if err != nil {
			return apperrors.Configuration(fmt.Sprintf("backup %q not found for provider %q", version, code)).WithCause(err)
		}
	}

	// Snapshot the current state so the rollback itself can be undone.
	if current, hasCurrent := m.currentRecord(ctx, reg); hasCurrent {
		if err := m.store.SaveBackup(ctx, configstore.NewBackup(current, "pre-rollback")); err != nil {
			return apperrors.Internal(err)
		}
	}

	next, err := m.instantiate(ctx, reg, backup.Config)
	if err != nil {
		if appErr, ok := apperrors.AsAppError(err); ok {
			return appErr
		}
		return apperrors.CreationFailed(code, err)
	}

	record := configstore.Record{
		ProviderType: reg.Metadata.Type,
		Code:         code,
		Config:       backup.Config,
		Enabled:      backup.Enabled,
	}
	if err := m.store.Save(ctx, record); err != nil {
		return apperrors.Internal(err)
	}

	m.mu.Lock()
	m.instances[code] = next
	m.mu.Unlock()

	m.sink.Emit(audit.EventConfigRolledBack, map[string]any{"code": code, "version": backup.ID})
	m.log.Info("provider configuration rolled back", logger.Fields("code", code, "version", backup.ID))
	return nil
}

// Backups lists the configuration backups for a code, newest first.
func (m *Manager) Backups(ctx context.Context, code string) ([]configstore.Backup, error) {
	reg, ok := m.registry.Get(code)
	if !ok {
		return nil, apperrors.NotFound(code)
	}
	if m.store == nil {
		return nil, nil
	}
	return m.store.ListBackups(ctx, reg.Metadata.Type, code)
}

// SetEnabled toggles a provider. Disabled providers fail instantiation with
// CONFIGURATION_ERROR until re-enabled.
func (m *Manager) SetEnabled(ctx context.Context, code string, enabled bool) error {
	reg, ok := m.registry.Get(code)
	if !ok {
		return apperrors.NotFound(code)
	}
	if m.store == nil {
		return apperrors.Configuration("enabling and disabling requires a configuration store")
	}

	record, _ := m.currentRecord(ctx, reg)
	record.Enabled = enabled
	if err := m.store.Save(ctx, record); err != nil {
		return apperrors.Internal(err)
	}
	m.Invalidate(code)
	return nil
}

func (m *Manager) currentRecord(ctx context.Context, reg Registration) (configstore.Record, bool) {
	if m.store != nil {
		if rec, err := m.store.Load(ctx, reg.Metadata.Type, reg.Code); err == nil {
			return rec, true
		}
	}
	return configstore.Record{
		ProviderType: reg.Metadata.Type,
		Code:         reg.Code,
		Config:       map[string]any{},
		Enabled:      true,
	}, false
}

// PerformHealthCheck probes one provider and records its health and
// performance. Providers without a connection test are considered reachable
// when instantiation succeeds.
func (m *Manager) PerformHealthCheck(ctx context.Context, code string) (HealthStatus, error) {
	instance, err := m.Get(ctx, code)
	if err != nil {
		status := HealthStatus{
			Healthy:     false,
			LastChecked: time.Now().UTC(),
			Detail:      err.Error(),
			Issues:      []string{err.Error()},
		}
		status = m.recordHealth(ctx, code, status, Metrics{})
		return status, err
	}

	status := instance.HealthStatus()
	if _, err := instance.TestConnection(ctx); err != nil {
		if appErr, ok := apperrors.AsAppError(err); !ok || appErr.Code != apperrors.ErrCodeConfiguration {
			status.Healthy = false
			status.Detail = "connection test failed: " + err.Error()
			status.Issues = append(status.Issues, status.Detail)
		}
	}
	status.LastChecked = time.Now().UTC()

	status = m.recordHealth(ctx, code, status, instance.Metrics())
	return status, nil
}

func (m *Manager) recordHealth(ctx context.Context, code string, status HealthStatus, metrics Metrics) HealthStatus {
	m.mu.Lock()
	m.checks[code]++
	status.CheckCount = m.checks[code]
	m.health[code] = status
	m.perf[code] = PerformanceMetrics{
		AvgLatency:    metrics.AvgDuration(),
		SuccessRate:   metrics.SuccessRate(),
		ErrorRate:     metrics.ErrorRate(),
		TotalRequests: metrics.TotalRequests,
		CircuitState:  status.CircuitState,
		LastChecked:   status.LastChecked,
	}
	m.mu.Unlock()

	m.sink.Emit(audit.EventHealthChecked, map[string]any{
		"code":    code,
		"healthy": status.Healthy,
		"detail":  status.Detail,
	})
	if m.obs != nil && !status.Healthy {
		m.obs.RecordError(ctx, code, "UNHEALTHY")
	}
	return status
}

// Health returns the last recorded health status for a code.
func (m *Manager) Health(code string) (HealthStatus, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	status, ok := m.health[code]
	return status, ok
}

// Performance returns the last recorded performance metrics for a code.
// Snapshots are point-in-time; a non-zero period rejects snapshots older
// than that window so callers never act on stale numbers.
func (m *Manager) Performance(code string, period time.Duration) (PerformanceMetrics, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	perf, ok := m.perf[code]
	if !ok {
		return PerformanceMetrics{}, false
	}
	if period > 0 && time.Since(perf.LastChecked) > period {
		return PerformanceMetrics{}, false
	}
	return perf, true
}

// Schemas maps every registered code to its setup schema, for dynamic
// configuration UIs.
func (m *Manager) Schemas() map[string][]SchemaField {
	out := make(map[string][]SchemaField)
	for _, code := range m.registry.Codes() {
		if reg, ok := m.registry.Get(code); ok {
			out[code] = append([]SchemaField(nil), reg.Metadata.SetupSchema...)
		}
	}
	return out
}

func configKeys(cfg map[string]any) []string {
	keys := make([]string, 0, len(cfg))
	for k := range cfg {
		keys = append(keys, k)
	}
	return keys
}
