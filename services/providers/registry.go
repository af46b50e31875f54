package providers

import (
	"errors"
	"sort"
	"sync"

	"go.uber.org/zap"
)

// Registry holds the configured adapters and their static descriptors.
// It is built once at process start and frozen before serving traffic;
// after Freeze all reads are lock-free and safe for concurrent callers.
type Registry struct {
	mu      sync.Mutex
	frozen  bool
	entries map[string]registryEntry
	logger  *zap.Logger
}

type registryEntry struct {
	provider   Provider
	descriptor Descriptor
}

// NewRegistry creates an empty provider registry.
func NewRegistry(logger *zap.Logger) *Registry {
	return &Registry{
		entries: make(map[string]registryEntry),
		logger:  logger,
	}
}

// Register inserts an adapter keyed by its name. Registration is
// idempotent: a duplicate name is a no-op. Registering after Freeze
// returns ErrRegistryFrozen.
func (r *Registry) Register(provider Provider, desc Descriptor) error {
	if provider == nil {
		return errors.New("provider cannot be nil")
	}
	if provider.Name() == "" {
		return errors.New("provider name cannot be empty")
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if r.frozen {
		return ErrRegistryFrozen
	}

	name := provider.Name()
	if _, exists := r.entries[name]; exists {
		r.logger.Debug("provider already registered, skipping", zap.String("provider", name))
		return nil
	}

	desc.Name = name
	r.entries[name] = registryEntry{provider: provider, descriptor: desc}

	r.logger.Info("registered provider",
		zap.String("provider", name),
		zap.Bool("enabled", desc.Enabled),
		zap.Int("priority", desc.Priority),
		zap.Bool("credentials_configured", provider.Available()))

	return nil
}

// Freeze marks the registry read-only. Must be called once, after all
// Register calls and before the registry is shared with the router and
// orchestrator.
func (r *Registry) Freeze() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.frozen = true
	r.logger.Info("provider registry frozen", zap.Int("providers", len(r.entries)))
}

// Get retrieves a provider and its descriptor by name.
func (r *Registry) Get(name string) (Provider, Descriptor, error) {
	entry, exists := r.entries[name]
	if !exists {
		return nil, Descriptor{}, ErrProviderNotFound
	}
	return entry.provider, entry.descriptor, nil
}

// Descriptor returns the static metadata for a registered provider.
func (r *Registry) Descriptor(name string) (Descriptor, error) {
	entry, exists := r.entries[name]
	if !exists {
		return Descriptor{}, ErrProviderNotFound
	}
	return entry.descriptor, nil
}

// Available returns the enabled providers whose credentials are
// configured, sorted ascending by priority (name breaks ties).
func (r *Registry) Available() []Provider {
	type candidate struct {
		provider Provider
		desc     Descriptor
	}

	var candidates []candidate
	for _, entry := range r.entries {
		if !entry.descriptor.Enabled || !entry.provider.Available() {
			continue
		}
		candidates = append(candidates, candidate{entry.provider, entry.descriptor})
	}

	sort.Slice(candidates, func(i, j int) bool {
		if candidates[i].desc.Priority != candidates[j].desc.Priority {
			return candidates[i].desc.Priority < candidates[j].desc.Priority
		}
		return candidates[i].desc.Name < candidates[j].desc.Name
	})

	providers := make([]Provider, len(candidates))
	for i, c := range candidates {
		providers[i] = c.provider
	}
	return providers
}

// TextProviders returns the available adapters with the text capability,
// in priority order.
func (r *Registry) TextProviders() []TextProvider {
	var out []TextProvider
	for _, p := range r.Available() {
		if tp, ok := p.(TextProvider); ok {
			out = append(out, tp)
		}
	}
	return out
}

// ImageProviders returns the available adapters with the image capability,
// in priority order.
func (r *Registry) ImageProviders() []ImageProvider {
	var out []ImageProvider
	for _, p := range r.Available() {
		if ip, ok := p.(ImageProvider); ok {
			out = append(out, ip)
		}
	}
	return out
}

// Moderators returns the available adapters with native moderation,
// in priority order.
func (r *Registry) Moderators() []Moderator {
	var out []Moderator
	for _, p := range r.Available() {
		if m, ok := p.(Moderator); ok {
			out = append(out, m)
		}
	}
	return out
}

// Names returns all registered provider names.
func (r *Registry) Names() []string {
	names := make([]string, 0, len(r.entries))
	for name := range r.entries {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Len returns the number of registered providers.
func (r *Registry) Len() int {
	return len(r.entries)
}
