package provider

import (
	"reflect"
	"sort"
	"strings"
	"sync"
	"time"
	"unicode"

	"github.com/mkaratas/relaykit/audit"
	apperrors "github.com/mkaratas/relaykit/errors"
	"github.com/mkaratas/relaykit/logger"
	"github.com/mkaratas/relaykit/validation"
	"github.com/mkaratas/relaykit/version"
)

// Registration binds a provider code to its metadata and factory.
type Registration struct {
	// Code identifies the provider. Derived from Metadata.Name when empty.
	Code string
	// Metadata describes the provider.
	Metadata Metadata
	// Factory constructs the provider instance. It must be a function whose
	// first return value implements Provider; arguments are injected by the
	// Manager (configuration map, di container, context, or container-resolved
	// dependencies by type).
	Factory any
}

// Source enumerates provider registrations, e.g. a package's compiled-in
// provider set or a plugin catalog.
type Source interface {
	Providers() []Registration
}

// SourceFunc adapts a function to the Source interface.
type SourceFunc func() []Registration

// Providers implements Source.
func (f SourceFunc) Providers() []Registration { return f() }

// codeSuffixes are stripped from provider names before code derivation.
var codeSuffixes = []string{"Provider", "Service", "Client", "Gateway"}

// DeriveCode turns a provider name into its registry code: a trailing
// Provider/Service/Client/Gateway suffix is stripped and the remainder is
// snake_cased. "EmailAProvider" becomes "email_a".
func DeriveCode(name string) string {
	for _, suffix := range codeSuffixes {
		if len(name) > len(suffix) && strings.HasSuffix(name, suffix) {
			name = strings.TrimSuffix(name, suffix)
			break
		}
	}
	return toSnake(name)
}

func toSnake(s string) string {
	runes := []rune(s)
	var out []rune
	for i, r := range runes {
		if unicode.IsUpper(r) {
			prevLower := i > 0 && (unicode.IsLower(runes[i-1]) || unicode.IsDigit(runes[i-1]))
			nextLower := i+1 < len(runes) && unicode.IsLower(runes[i+1])
			if i > 0 && (prevLower || nextLower) && len(out) > 0 && out[len(out)-1] != '_' {
				out = append(out, '_')
			}
			out = append(out, unicode.ToLower(r))
			continue
		}
		if r == ' ' || r == '-' {
			if len(out) > 0 && out[len(out)-1] != '_' {
				out = append(out, '_')
			}
			continue
		}
		out = append(out, r)
	}
	return strings.Trim(string(out), "_")
}

// PolicyFunc vets a registration before it is accepted. Returning an error
// rejects the registration.
type PolicyFunc func(Registration) error

// Registry holds provider registrations and their capability cache.
// Discovery is registration-based: sources are enumerated on demand, cached
// for the configured TTL.
type Registry struct {
	log          *logger.Logger
	sink         audit.Sink
	policy       PolicyFunc
	ttl          time.Duration
	validator    *validation.Validator
	validateMeta bool

	mu           sync.RWMutex
	entries      map[string]Registration
	capabilities map[string][]string
	sources      []Source
	discoveredAt time.Time
}

// RegistryOption customizes a Registry.
type RegistryOption func(*Registry)

// WithDiscoveryTTL bounds how long discovery results stay cached.
func WithDiscoveryTTL(ttl time.Duration) RegistryOption {
	return func(r *Registry) { r.ttl = ttl }
}

// WithRegistryAudit routes registry events to an audit sink.
func WithRegistryAudit(sink audit.Sink) RegistryOption {
	return func(r *Registry) { r.sink = sink }
}

// WithPolicy installs a registration vetting hook.
func WithPolicy(policy PolicyFunc) RegistryOption {
	return func(r *Registry) { r.policy = policy }
}

// WithRegistrationValidation toggles metadata validation at registration
// time. Factory shape validation always runs.
func WithRegistrationValidation(enabled bool) RegistryOption {
	return func(r *Registry) { r.validateMeta = enabled }
}

// NewRegistry creates an empty registry.
func NewRegistry(opts ...RegistryOption) *Registry {
	r := &Registry{
		log:          logger.Get("registry"),
		sink:         audit.NopSink{},
		ttl:          10 * time.Minute,
		validator:    validation.Default(),
		validateMeta: true,
		entries:      make(map[string]Registration),
		capabilities: make(map[string][]string),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

var providerType = reflect.TypeOf((*Provider)(nil)).Elem()

// Register validates and stores a registration, returning the provider code.
// On a code collision the first registration wins and the duplicate is
// rejected with ALREADY_EXISTS.
func (r *Registry) Register(reg Registration) (string, error) {
	code := reg.Code
	if code == "" {
		code = DeriveCode(reg.Metadata.Name)
	}
	if code == "" {
		return "", apperrors.InvalidInput("code", "provider code cannot be derived from an empty name")
	}
	reg.Code = code

	if r.validateMeta {
		if err := r.validator.Struct(reg.Metadata); err != nil {
			r.sink.Emit(audit.EventValidationFailed, map[string]any{"code": code, "error": err.Error()})
			return "", err
		}
	}
	if err := validateFactory(reg.Factory); err != nil {
		r.sink.Emit(audit.EventValidationFailed, map[string]any{"code": code, "error": err.Error()})
		return "", err
	}
	if r.policy != nil {
		if err := r.policy(reg); err != nil {
			r.sink.Emit(audit.EventValidationFailed, map[string]any{"code": code, "error": err.Error()})
			return "", err
		}
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if existing, ok := r.entries[code]; ok {
		// Re-registering the same provider is quiet; a different provider
		// claiming the code is a collision worth flagging.
		if existing.Metadata.Name != reg.Metadata.Name {
			r.log.Warn("provider code collision, keeping first registration", logger.Fields(
				"code", code,
				"existing", existing.Metadata.Name,
				"rejected", reg.Metadata.Name,
			))
			r.sink.Emit(audit.EventCodeCollision, map[string]any{
				"code":     code,
				"existing": existing.Metadata.Name,
				"rejected": reg.Metadata.Name,
			})
		}
		return "", apperrors.AlreadyExists(code)
	}

	r.entries[code] = reg
	r.capabilities[code] = append([]string(nil), reg.Metadata.Capabilities...)
	r.log.Info("provider registered", logger.Fields(
		"code", code,
		"type", reg.Metadata.Type,
		"version", reg.Metadata.Version,
	))
	return code, nil
}

func validateFactory(factory any) error {
	if factory == nil {
		return apperrors.InvalidInput("factory", "factory is required")
	}
	fnType := reflect.TypeOf(factory)
	if fnType.Kind() != reflect.Func {
		return apperrors.InvalidInput("factory", "factory must be a function")
	}
	if fnType.NumOut() < 1 || fnType.NumOut() > 2 {
		return apperrors.InvalidInput("factory", "factory must return (Provider) or (Provider, error)")
	}
	if !fnType.Out(0).Implements(providerType) {
		return apperrors.InvalidInput("factory", "factory's first return value must implement Provider")
	}
	return nil
}

// AddSource attaches a registration source for discovery.
func (r *Registry) AddSource(src Source) {
	r.mu.Lock()
	r.sources = append(r.sources, src)
	r.discoveredAt = time.Time{} // new source invalidates the cache
	r.mu.Unlock()
}

// Discover enumerates all sources and registers their providers. Results are
// cached for the TTL; force bypasses the cache. Collisions are skipped (the
// audit trail records them) and do not fail discovery.
func (r *Registry) Discover(force bool) []string {
	r.mu.RLock()
	fresh := !r.discoveredAt.IsZero() && time.Since(r.discoveredAt) < r.ttl
	sources := append([]Source(nil), r.sources...)
	r.mu.RUnlock()

	if fresh && !force {
		return r.Codes()
	}

	registered := 0
	for _, src := range sources {
		for _, reg := range src.Providers() {
			if _, err := r.Register(reg); err != nil {
				if appErr, ok := apperrors.AsAppError(err); ok && appErr.Code == apperrors.ErrCodeAlreadyExists {
					continue
				}
				r.log.Warn("discovery rejected registration", logger.Fields(
					"name", reg.Metadata.Name,
					"error", err.Error(),
				))
				continue
			}
			registered++
		}
	}

	r.mu.Lock()
	r.discoveredAt = time.Now()
	r.mu.Unlock()

	codes := r.Codes()
	r.sink.Emit(audit.EventDiscoveryCompleted, map[string]any{
		"registered": registered,
		"total":      len(codes),
		"library":    version.String(),
	})
	r.log.Info("discovery completed", logger.Fields("registered", registered, "total", len(codes)))
	return codes
}

// Get returns the registration for a code.
func (r *Registry) Get(code string) (Registration, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	reg, ok := r.entries[code]
	return reg, ok
}

// Codes returns all registered codes, sorted.
func (r *Registry) Codes() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	codes := make([]string, 0, len(r.entries))
	for code := range r.entries {
		codes = append(codes, code)
	}
	sort.Strings(codes)
	return codes
}

// ByType returns registrations of the given provider type, ordered by code.
func (r *Registry) ByType(ptype string) []Registration {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var out []Registration
	for _, reg := range r.entries {
		if reg.Metadata.Type == ptype {
			out = append(out, reg)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Code < out[j].Code })
	return out
}

// Capabilities returns the cached capability list for a code.
func (r *Registry) Capabilities(code string) []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return append([]string(nil), r.capabilities[code]...)
}
