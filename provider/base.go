package provider

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	apperrors "github.com/mkaratas/relaykit/errors"
	"github.com/mkaratas/relaykit/logger"
	"github.com/mkaratas/relaykit/observability"
	"github.com/mkaratas/relaykit/resilience"
	"github.com/mkaratas/relaykit/validation"
)

// SendFunc performs the provider-specific delivery of one payload.
type SendFunc func(ctx context.Context, p Payload) (*Result, error)

// AuthenticateFunc verifies credentials against the external service.
type AuthenticateFunc func(ctx context.Context, creds map[string]any) error

// ConnectionTestFunc probes connectivity to the external service.
type ConnectionTestFunc func(ctx context.Context) (*ConnectionResult, error)

// Base implements the resilient parts of the Provider contract. Concrete
// providers construct one with their Metadata and SendFunc; Base wraps the
// send in a rate limiter, an instance circuit breaker, and retries with
// exponential backoff, and owns configuration, metrics, and health state.
type Base struct {
	meta   Metadata
	code   string
	send   SendFunc
	authFn AuthenticateFunc
	testFn ConnectionTestFunc

	log     *logger.Logger
	retry   resilience.RetryConfig
	breaker *resilience.CircuitBreaker
	limiter *resilience.RateLimiter
	obs     *observability.ProviderMetrics

	chunkSize          int
	parallelism        int
	errorRateThreshold float64
	sensitive          map[string]bool
	extraSensitive     []string

	mu            sync.RWMutex
	cfg           map[string]any
	authenticated bool
	metrics       Metrics
}

// BaseOption customizes a Base.
type BaseOption func(*Base)

// WithCode overrides the provider code derived from the metadata name.
func WithCode(code string) BaseOption {
	return func(b *Base) { b.code = code }
}

// WithRetry replaces the default retry policy.
func WithRetry(cfg resilience.RetryConfig) BaseOption {
	return func(b *Base) { b.retry = cfg }
}

// WithBreaker replaces the default instance circuit breaker configuration.
func WithBreaker(cfg resilience.CircuitBreakerConfig) BaseOption {
	return func(b *Base) { b.breaker = resilience.NewCircuitBreaker(cfg) }
}

// WithRateLimiter adds a token-bucket rate limiter in front of Send.
func WithRateLimiter(cfg resilience.RateLimiterConfig) BaseOption {
	return func(b *Base) { b.limiter = resilience.NewRateLimiter(cfg) }
}

// WithBatchDefaults sets the default chunk size and parallelism for SendBatch.
func WithBatchDefaults(chunkSize, parallelism int) BaseOption {
	return func(b *Base) {
		if chunkSize > 0 {
			b.chunkSize = chunkSize
		}
		if parallelism > 0 {
			b.parallelism = parallelism
		}
	}
}

// WithErrorRateThreshold sets the error rate above which the instance
// reports unhealthy.
func WithErrorRateThreshold(threshold float64) BaseOption {
	return func(b *Base) { b.errorRateThreshold = threshold }
}

// WithSensitiveKeys masks additional configuration keys.
func WithSensitiveKeys(keys ...string) BaseOption {
	return func(b *Base) { b.extraSensitive = append(b.extraSensitive, keys...) }
}

// WithAuthenticateFunc supplies the provider-specific credential check.
func WithAuthenticateFunc(fn AuthenticateFunc) BaseOption {
	return func(b *Base) { b.authFn = fn }
}

// WithConnectionTestFunc supplies the provider-specific connectivity probe.
func WithConnectionTestFunc(fn ConnectionTestFunc) BaseOption {
	return func(b *Base) { b.testFn = fn }
}

// WithProviderMetrics records call outcomes to OpenTelemetry instruments.
func WithProviderMetrics(m *observability.ProviderMetrics) BaseOption {
	return func(b *Base) { b.obs = m }
}

// NewBase creates the resilient base for a concrete provider.
func NewBase(meta Metadata, send SendFunc, opts ...BaseOption) *Base {
	b := &Base{
		meta:               meta,
		code:               DeriveCode(meta.Name),
		send:               send,
		retry:              resilience.DefaultRetryConfig(),
		chunkSize:          100,
		parallelism:        1,
		errorRateThreshold: 0.10,
		cfg:                map[string]any{},
	}
	for _, opt := range opts {
		opt(b)
	}
	if b.breaker == nil {
		b.breaker = resilience.NewCircuitBreaker(resilience.CircuitBreakerConfig{
			Name:        "provider:" + b.code,
			MaxFailures: 5,
			Timeout:     300 * time.Second,
		})
	}
	b.log = logger.Get("provider").WithFields(map[string]any{"provider": b.code})
	b.sensitive = sensitiveSet(meta.SetupSchema, b.extraSensitive)
	return b
}

// Code returns the provider code used in results, logs, and metrics.
func (b *Base) Code() string { return b.code }

// CircuitState exposes the instance breaker state.
func (b *Base) CircuitState() resilience.State { return b.breaker.State() }

// CanTestConnection reports whether a connectivity probe is implemented.
func (b *Base) CanTestConnection() bool { return b.testFn != nil }

// Send delivers one payload through the resilience chain:
// rate limiter, then per-attempt circuit breaker, inside retry.
func (b *Base) Send(ctx context.Context, p Payload) (*Result, error) {
	if b.send == nil {
		return nil, apperrors.Configuration(fmt.Sprintf("provider %q has no send function", b.code))
	}
	if p.ID == "" {
		p.ID = uuid.NewString()
	}

	start := time.Now()
	ctx, span := observability.StartSpan(ctx, "provider.send")
	defer span.End()
	if b.obs != nil {
		b.obs.RecordCallStart(ctx)
	}

	result, err := b.resilientSend(ctx, p)
	duration := time.Since(start)
	b.recordOutcome(err == nil, duration)

	if err != nil {
		observability.SetSpanError(ctx, err)
		if b.obs != nil {
			b.obs.RecordCallEnd(ctx, b.code, "send", "failure", duration)
			if appErr, ok := apperrors.AsAppError(err); ok {
				b.obs.RecordError(ctx, b.code, string(appErr.Code))
			}
		}
		b.log.Error("send failed", logger.Fields(
			"payload_id", p.ID,
			"duration_ms", duration.Milliseconds(),
			"error", err.Error(),
		))
		return nil, err
	}

	if result == nil {
		result = &Result{Success: true}
	}
	if result.ID == "" {
		result.ID = p.ID
	}
	result.ProviderCode = b.code
	result.Duration = duration
	if result.Timestamp.IsZero() {
		result.Timestamp = time.Now().UTC()
	}
	if b.obs != nil {
		b.obs.RecordCallEnd(ctx, b.code, "send", "success", duration)
	}
	return result, nil
}

func (b *Base) resilientSend(ctx context.Context, p Payload) (*Result, error) {
	if b.limiter != nil && !b.limiter.Allow() {
		return nil, apperrors.RateLimited()
	}

	retryCfg := b.retry
	retryCfg.OnRetry = func(attempt int, err error, delay time.Duration) {
		b.log.Warn("retrying send", logger.Fields(
			"payload_id", p.ID,
			"attempt", attempt,
			"delay_ms", delay.Milliseconds(),
			"error", err.Error(),
		))
		if b.obs != nil {
			b.obs.RecordRetry(ctx, b.code, "send")
		}
	}

	return resilience.Retry(ctx, retryCfg, func() (*Result, error) {
		// Unavailable is non-retryable, so an open breaker stops the
		// retry loop immediately.
		if !b.breaker.Allow() {
			return nil, apperrors.Unavailable(b.code)
		}
		res, err := b.send(ctx, p)
		b.breaker.Record(err)
		return res, err
	})
}

// SendBatch delivers items in chunks. Parallelism > 1 processes chunks on a
// bounded worker pool; FailFast stops scheduling after the first failure.
func (b *Base) SendBatch(ctx context.Context, items []Payload, opts BatchOptions) (*BatchResult, error) {
	start := time.Now()
	if len(items) == 0 {
		return &BatchResult{}, nil
	}

	chunkSize := opts.ChunkSize
	if chunkSize <= 0 {
		chunkSize = b.chunkSize
	}
	parallelism := opts.Parallelism
	if parallelism <= 0 {
		parallelism = b.parallelism
	}

	batchCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	results := make([]*Result, len(items))
	var (
		failMu   sync.Mutex
		failures []BatchFailure
		stopped  atomic.Bool
	)

	processRange := func(lo, hi int) {
		for i := lo; i < hi; i++ {
			if batchCtx.Err() != nil || (opts.FailFast && stopped.Load()) {
				return
			}
			res, err := b.Send(batchCtx, items[i])
			if err != nil {
				failMu.Lock()
				failures = append(failures, BatchFailure{Index: i, Error: err.Error()})
				failMu.Unlock()
				if opts.FailFast {
					stopped.Store(true)
					cancel()
					return
				}
				continue
			}
			results[i] = res
		}
	}

	type span struct{ lo, hi int }
	var spans []span
	for lo := 0; lo < len(items); lo += chunkSize {
		hi := lo + chunkSize
		if hi > len(items) {
			hi = len(items)
		}
		spans = append(spans, span{lo, hi})
	}

	if parallelism <= 1 || len(spans) == 1 {
		for _, s := range spans {
			if opts.FailFast && stopped.Load() {
				break
			}
			processRange(s.lo, s.hi)
		}
	} else {
		work := make(chan span)
		var wg sync.WaitGroup
		workers := parallelism
		if workers > len(spans) {
			workers = len(spans)
		}
		for w := 0; w < workers; w++ {
			wg.Add(1)
			go func() {
				defer wg.Done()
				for s := range work {
					processRange(s.lo, s.hi)
				}
			}()
		}
		for _, s := range spans {
			if opts.FailFast && stopped.Load() {
				break
			}
			work <- s
		}
		close(work)
		wg.Wait()
	}

	out := &BatchResult{
		Total:    len(items),
		Results:  results,
		Failures: failures,
		Duration: time.Since(start),
	}
	for _, res := range results {
		if res != nil {
			out.Succeeded++
		}
	}
	out.Failed = len(failures)
	out.Skipped = out.Total - out.Succeeded - out.Failed
	if secs := out.Duration.Seconds(); secs > 0 {
		out.Throughput = float64(out.Succeeded+out.Failed) / secs
	}

	b.log.Info("batch completed", logger.Fields(
		"total", out.Total,
		"succeeded", out.Succeeded,
		"failed", out.Failed,
		"skipped", out.Skipped,
		"duration_ms", out.Duration.Milliseconds(),
	))
	return out, nil
}

// Authenticate verifies credentials. With no credentials given, the stored
// configuration is used. Success marks the instance authenticated.
func (b *Base) Authenticate(ctx context.Context, creds map[string]any) error {
	if creds == nil {
		creds = b.Config(true)
	}

	if b.authFn != nil {
		if err := b.authFn(ctx, creds); err != nil {
			b.mu.Lock()
			b.authenticated = false
			b.mu.Unlock()
			if _, ok := apperrors.AsAppError(err); ok {
				return err
			}
			return apperrors.Authentication("").WithCause(err)
		}
	} else {
		// No provider-specific check: require the schema's mandatory fields.
		for _, field := range b.meta.SetupSchema {
			if !field.Required {
				continue
			}
			if v, ok := creds[field.Key]; !ok || v == nil || v == "" {
				return apperrors.MissingField(field.Key)
			}
		}
	}

	b.mu.Lock()
	b.authenticated = true
	b.mu.Unlock()
	return nil
}

// TestConnection probes connectivity when the provider implements a probe.
func (b *Base) TestConnection(ctx context.Context) (*ConnectionResult, error) {
	if b.testFn == nil {
		return nil, apperrors.Configuration(
			fmt.Sprintf("provider %q does not implement a connection test", b.code))
	}

	start := time.Now()
	res, err := b.testFn(ctx)
	if err != nil {
		return nil, err
	}
	if res == nil {
		res = &ConnectionResult{Connected: true}
	}
	if res.Latency == 0 {
		res.Latency = time.Since(start)
	}
	if res.CheckedAt.IsZero() {
		res.CheckedAt = time.Now().UTC()
	}
	return res, nil
}

// ValidateConfig checks cfg against the setup schema. Unknown keys produce
// warnings, never errors.
func (b *Base) ValidateConfig(cfg map[string]any) ValidationResult {
	rules := make([]validation.Rule, len(b.meta.SetupSchema))
	known := make(map[string]bool, len(b.meta.SetupSchema))
	for i, field := range b.meta.SetupSchema {
		rules[i] = validation.Rule{
			Key:      field.Key,
			Type:     field.Type,
			Required: field.Required,
			Options:  field.Options,
		}
		known[field.Key] = true
	}

	mapResult := validation.ValidateMap(cfg, rules)
	result := ValidationResult{Valid: mapResult.Valid, Errors: mapResult.Errors}

	if len(b.meta.SetupSchema) > 0 {
		for key := range cfg {
			if !known[key] {
				result.Warnings = append(result.Warnings, fmt.Sprintf("unknown configuration key %q", key))
			}
		}
	}
	return result
}

// SetConfig validates and applies a new configuration. The active map is
// swapped wholesale so concurrent readers never observe a partial update.
// Applying a new configuration clears the authenticated flag.
func (b *Base) SetConfig(cfg map[string]any) error {
	if res := b.ValidateConfig(cfg); !res.Valid {
		details := make(map[string]any, len(res.Errors))
		for _, fe := range res.Errors {
			details[fe.Field] = fe.Message
		}
		return apperrors.Validation("provider configuration is invalid").WithDetails(details)
	}

	next := copyConfig(cfg)
	b.mu.Lock()
	b.cfg = next
	b.authenticated = false
	b.mu.Unlock()
	return nil
}

// Config returns a copy of the active configuration, masked by default.
func (b *Base) Config(includeSensitive bool) map[string]any {
	b.mu.RLock()
	snapshot := copyConfig(b.cfg)
	b.mu.RUnlock()

	if includeSensitive {
		return snapshot
	}
	return maskConfig(snapshot, b.sensitive)
}

// Reset clears metrics, authentication, and the instance circuit breaker.
func (b *Base) Reset() {
	b.breaker.Reset()
	b.mu.Lock()
	b.metrics = Metrics{}
	b.authenticated = false
	b.mu.Unlock()
}

// HealthStatus derives health from authentication, breaker state, and the
// running error rate.
func (b *Base) HealthStatus() HealthStatus {
	state := b.breaker.State()

	b.mu.RLock()
	authenticated := b.authenticated
	errorRate := b.metrics.ErrorRate()
	b.mu.RUnlock()

	status := HealthStatus{
		Authenticated: authenticated,
		CircuitState:  breakerStateName(state),
		ErrorRate:     errorRate,
		LastChecked:   time.Now().UTC(),
	}
	if !authenticated {
		status.Issues = append(status.Issues, "not authenticated")
	}
	if state != resilience.StateClosed {
		status.Issues = append(status.Issues, "circuit breaker is "+breakerStateName(state))
	}
	if errorRate >= b.errorRateThreshold {
		status.Issues = append(status.Issues,
			fmt.Sprintf("error rate %.2f exceeds threshold %.2f", errorRate, b.errorRateThreshold))
	}
	if len(status.Issues) == 0 {
		status.Healthy = true
	} else {
		status.Detail = status.Issues[0]
	}
	return status
}

// Metrics returns a snapshot of the usage counters.
func (b *Base) Metrics() Metrics {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.metrics
}

// Describe returns the provider metadata.
func (b *Base) Describe() Metadata { return b.meta }

func (b *Base) recordOutcome(success bool, duration time.Duration) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.metrics.TotalRequests++
	if success {
		b.metrics.SuccessCount++
	} else {
		b.metrics.FailureCount++
	}
	b.metrics.TotalDuration += duration
	b.metrics.LastUsed = time.Now().UTC()
}
