package provider

import (
	"context"
	"fmt"
	"strings"
	"sync"
)

// Registry resolves a "provider:model" string (or a bare model id on a
// default provider) into a Port, constructing each underlying Port
// lazily via a registered factory and caching it for reuse.
//
// Grounded on the teacher's provider Registry (internal/provider/registry.go),
// generalized from the teacher's config-driven, npm-package-keyed provider
// map to the spec's Port abstraction: a Registry here holds *factories*,
// not already-built providers, since a DelegateCoordinator needs to build
// fresh child Ports on demand with a request-scoped model override (spec
// 4.J step 1).
// One Registry is shared by the coordinator, every spawned agent, and
// every delegate, which may all resolve concurrently; mu guards the
// cache (factories are write-once at wiring time, before any Resolve).
type Registry struct {
	factories map[string]func(ctx context.Context, model string) (Port, error)

	mu    sync.RWMutex
	cache map[string]Port
}

// NewRegistry creates an empty Registry; call RegisterFactory for each
// provider name this process can construct.
func NewRegistry() *Registry {
	return &Registry{
		factories: make(map[string]func(ctx context.Context, model string) (Port, error)),
		cache:     make(map[string]Port),
	}
}

// RegisterFactory wires a provider name ("anthropic", "openai", "ark", …)
// to a constructor. The constructor receives "" when the caller wants the
// provider's own default model.
func (r *Registry) RegisterFactory(name string, factory func(ctx context.Context, model string) (Port, error)) {
	r.factories[name] = factory
}

// ErrInvalidModel is returned when a "provider:model" string cannot be
// parsed, or names a provider with no registered factory.
var ErrInvalidModel = fmt.Errorf("invalid model string")

// ParseModelString splits "provider:model" into its parts. A bare string
// with no ":" is treated as a model id on the registry's default
// provider (providerID is returned empty).
func ParseModelString(s string) (providerID, modelID string) {
	parts := strings.SplitN(s, ":", 2)
	if len(parts) == 2 {
		return parts[0], parts[1]
	}
	return "", s
}

// Resolve builds (or returns a cached) Port for spec string s, used by
// the DelegateCoordinator's model-resolution step (spec 4.J step 1) and
// by cmd/lace's --provider/--model flags. defaultProvider is used when s
// has no "provider:" prefix.
func (r *Registry) Resolve(ctx context.Context, s, defaultProvider string) (Port, error) {
	providerID, modelID := ParseModelString(s)
	if providerID == "" {
		providerID = defaultProvider
	}
	if providerID == "" {
		return nil, fmt.Errorf("%w: no provider specified and no default configured", ErrInvalidModel)
	}

	key := providerID + ":" + modelID
	r.mu.RLock()
	p, ok := r.cache[key]
	r.mu.RUnlock()
	if ok {
		return p, nil
	}

	factory, ok := r.factories[providerID]
	if !ok {
		return nil, fmt.Errorf("%w: unknown provider %q", ErrInvalidModel, providerID)
	}

	port, err := factory(ctx, modelID)
	if err != nil {
		return nil, fmt.Errorf("construct provider %q: %w", providerID, err)
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	// Two concurrent resolutions of an uncached key can race the
	// factory; the first cached Port wins so callers share one instance.
	if p, ok := r.cache[key]; ok {
		return p, nil
	}
	r.cache[key] = port
	return port, nil
}

// Names reports the providers this Registry can construct.
func (r *Registry) Names() []string {
	names := make([]string, 0, len(r.factories))
	for name := range r.factories {
		names = append(names, name)
	}
	return names
}
