package bootstrap

import (
	"context"
	"fmt"
	"sync"

	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"

	"github.com/mkaratas/relaykit/audit"
	"github.com/mkaratas/relaykit/config"
	"github.com/mkaratas/relaykit/configstore"
	"github.com/mkaratas/relaykit/di"
	"github.com/mkaratas/relaykit/encryption"
	"github.com/mkaratas/relaykit/logger"
	"github.com/mkaratas/relaykit/observability"
	"github.com/mkaratas/relaykit/provider"
	"github.com/mkaratas/relaykit/resilience"
	"github.com/mkaratas/relaykit/version"
)

// Hook runs at a lifecycle boundary.
type Hook func(ctx context.Context, app *App) error

// App holds the assembled provider subsystem.
type App struct {
	Settings  config.Settings
	Container di.Container
	Registry  *provider.Registry
	Manager   *provider.Manager
	Monitor   *provider.Monitor
	Store     configstore.Store
	Audit     audit.Sink
	Logger    *logger.Logger
	Metrics   *observability.ProviderMetrics

	meterProvider  *sdkmetric.MeterProvider
	tracerProvider *sdktrace.TracerProvider
	asyncSink      *audit.AsyncSink
	fileSink       *audit.FileSink

	mu      sync.Mutex
	started bool
	onStart []Hook
	onStop  []Hook
}

// Option customizes App assembly.
type Option func(*options)

type options struct {
	settings  *config.Settings
	container di.Container
	store     configstore.Store
	sink      audit.Sink
	sources   []provider.Source
}

// WithSettings supplies settings instead of loading them.
func WithSettings(s config.Settings) Option {
	return func(o *options) { o.settings = &s }
}

// WithContainer supplies a pre-populated di container.
func WithContainer(c di.Container) Option {
	return func(o *options) { o.container = c }
}

// WithStore overrides the configuration store chosen from settings.
func WithStore(s configstore.Store) Option {
	return func(o *options) { o.store = s }
}

// WithAuditSink overrides the audit sink chosen from settings.
func WithAuditSink(s audit.Sink) Option {
	return func(o *options) { o.sink = s }
}

// WithSource attaches a provider registration source.
func WithSource(src provider.Source) Option {
	return func(o *options) { o.sources = append(o.sources, src) }
}

// New assembles the subsystem. Settings are loaded from file and environment
// unless supplied via WithSettings.
func New(opts ...Option) (*App, error) {
	var o options
	for _, opt := range opts {
		opt(&o)
	}

	var settings config.Settings
	if o.settings != nil {
		settings = *o.settings
		settings.ApplyDefaults()
		if err := settings.Validate(); err != nil {
			return nil, err
		}
	} else {
		loaded, err := config.Load()
		if err != nil {
			return nil, err
		}
		settings = loaded
	}

	logger.Init(settings.Logger)
	app := &App{
		Settings: settings,
		Logger:   logger.GetGlobalLogger().WithComponent("bootstrap"),
	}

	if err := app.buildAudit(o.sink); err != nil {
		return nil, err
	}
	if err := app.buildStore(o.store); err != nil {
		return nil, err
	}

	// Instruments bind to the global meter provider and start recording
	// once Start installs the SDK.
	metrics, err := observability.NewProviderMetrics(observability.Meter("relaykit/provider"))
	if err != nil {
		return nil, err
	}
	app.Metrics = metrics

	app.Container = o.container
	if app.Container == nil {
		app.Container = di.NewContainer()
	}
	_ = app.Container.RegisterSingleton("configstore", app.Store)
	_ = app.Container.RegisterSingleton("audit", app.Audit)
	_ = app.Container.RegisterSingleton("provider-metrics", app.Metrics)
	_ = app.Container.RegisterSingleton("provider-defaults", app.ProviderDefaults())

	app.Registry = provider.NewRegistry(
		provider.WithDiscoveryTTL(settings.Discovery.CacheTTL),
		provider.WithRegistryAudit(app.Audit),
		provider.WithRegistrationValidation(!settings.Discovery.SkipValidation),
	)
	for _, src := range o.sources {
		app.Registry.AddSource(src)
	}

	app.Manager = provider.NewManager(app.Registry,
		provider.WithContainer(app.Container),
		provider.WithStore(app.Store),
		provider.WithManagerAudit(app.Audit),
		provider.WithManagerMetrics(app.Metrics),
		provider.WithRegistryBreaker(resilience.CircuitBreakerConfig{
			MaxFailures:      settings.Resilience.Registry.MaxFailures,
			Timeout:          settings.Resilience.Registry.Timeout,
			SuccessThreshold: settings.Resilience.Registry.SuccessThreshold,
		}),
	)
	app.Monitor = provider.NewMonitor(app.Manager, settings.Health.CheckInterval, settings.Health.MaxConcurrentChecks)

	app.Logger.Info("provider subsystem assembled", logger.Fields("version", version.String()))
	return app, nil
}

func (a *App) buildAudit(override audit.Sink) error {
	if override != nil {
		a.Audit = override
		return nil
	}
	if a.Settings.Audit.Path == "" {
		a.Audit = audit.NewLogSink()
		return nil
	}

	fileSink, err := audit.NewFileSink(a.Settings.Audit.Path)
	if err != nil {
		return fmt.Errorf("bootstrap: audit sink: %w", err)
	}
	a.fileSink = fileSink
	a.asyncSink = audit.NewAsync(fileSink, a.Settings.Audit.Buffer)
	a.Audit = a.asyncSink
	return nil
}

func (a *App) buildStore(override configstore.Store) error {
	if override != nil {
		a.Store = override
		return nil
	}
	if a.Settings.Store.Dir == "" {
		a.Store = configstore.NewMemoryStore()
		return nil
	}

	var storeOpts []configstore.FileStoreOption
	if a.Settings.Encryption.Key != "" {
		enc, err := encryption.New(a.Settings.Encryption.Key,
			encryption.WithAlgorithm(encryption.Algorithm(a.Settings.Encryption.Algorithm)))
		if err != nil {
			return fmt.Errorf("bootstrap: encryptor: %w", err)
		}
		storeOpts = append(storeOpts, configstore.WithEncryption(enc, provider.SensitiveKeys()))
	}

	store, err := configstore.NewFileStore(a.Settings.Store.Dir, storeOpts...)
	if err != nil {
		return fmt.Errorf("bootstrap: config store: %w", err)
	}
	a.Store = store
	return nil
}

// ProviderDefaults returns base options derived from settings. Provider
// factories apply them so the configured retry policy, instance breaker,
// batch defaults, and health threshold reach every instance; the bundle is
// also registered in the container under "provider-defaults".
func (a *App) ProviderDefaults() []provider.BaseOption {
	s := a.Settings
	return []provider.BaseOption{
		provider.WithRetry(resilience.RetryConfig{
			MaxAttempts: s.Retry.MaxAttempts,
			BaseDelay:   s.Retry.BaseDelay,
			MaxDelay:    s.Retry.MaxDelay,
			Multiplier:  s.Retry.Multiplier,
			Jitter:      s.Retry.Jitter,
		}),
		provider.WithBreaker(resilience.CircuitBreakerConfig{
			MaxFailures:      s.Resilience.Instance.MaxFailures,
			Timeout:          s.Resilience.Instance.Timeout,
			SuccessThreshold: s.Resilience.Instance.SuccessThreshold,
		}),
		provider.WithBatchDefaults(s.Batch.ChunkSize, s.Batch.Parallelism),
		provider.WithErrorRateThreshold(s.Health.ErrorRateThreshold),
		provider.WithProviderMetrics(a.Metrics),
	}
}

// OnStart registers a hook to run during Start, before discovery.
func (a *App) OnStart(h Hook) { a.onStart = append(a.onStart, h) }

// OnStop registers a hook to run during Stop, before teardown.
func (a *App) OnStop(h Hook) { a.onStop = append(a.onStop, h) }

// Start initializes telemetry export, runs start hooks, discovers providers,
// and launches the health monitor.
func (a *App) Start(ctx context.Context) error {
	a.mu.Lock()
	if a.started {
		a.mu.Unlock()
		return nil
	}
	a.started = true
	a.mu.Unlock()

	if a.Settings.Observability.Enabled {
		mc := observability.DefaultMeterConfig(a.Settings.Observability.ServiceName)
		tc := observability.DefaultTracerConfig(a.Settings.Observability.ServiceName)
		if a.Settings.Observability.Endpoint != "" {
			mc.Endpoint = a.Settings.Observability.Endpoint
			tc.Endpoint = a.Settings.Observability.Endpoint
		}
		mc.ServiceVersion = version.Get().Version
		tc.ServiceVersion = version.Get().Version

		mp, err := observability.InitMeter(ctx, mc)
		if err != nil {
			return err
		}
		a.meterProvider = mp

		tp, err := observability.InitTracer(ctx, tc)
		if err != nil {
			return err
		}
		a.tracerProvider = tp
	}

	if a.fileSink != nil && a.Settings.Audit.RetentionDays > 0 {
		if err := a.fileSink.Prune(a.Settings.Audit.RetentionDays); err != nil {
			a.Logger.Warn("audit prune failed", logger.Fields("error", err.Error()))
		}
	}

	for _, h := range a.onStart {
		if err := h(ctx, a); err != nil {
			return err
		}
	}

	codes := a.Registry.Discover(false)
	a.Logger.Info("providers discovered", logger.Fields("count", len(codes)))

	a.Monitor.Start(ctx)
	return nil
}

// Stop runs stop hooks and tears the subsystem down in reverse order.
func (a *App) Stop(ctx context.Context) error {
	a.mu.Lock()
	if !a.started {
		a.mu.Unlock()
		return nil
	}
	a.started = false
	a.mu.Unlock()

	var firstErr error
	for _, h := range a.onStop {
		if err := h(ctx, a); err != nil && firstErr == nil {
			firstErr = err
		}
	}

	a.Monitor.Stop()

	if a.tracerProvider != nil {
		if err := a.tracerProvider.Shutdown(ctx); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	if a.meterProvider != nil {
		if err := a.meterProvider.Shutdown(ctx); err != nil && firstErr == nil {
			firstErr = err
		}
	}

	if a.asyncSink != nil {
		a.asyncSink.Close()
	}
	if a.fileSink != nil {
		if err := a.fileSink.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}

	if err := a.Container.Close(); err != nil && firstErr == nil {
		firstErr = err
	}
	return firstErr
}
