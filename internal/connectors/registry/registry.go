package registry

import (
	"fmt"

	"github.com/open-sspm/workspace-audit/internal/asset"
)

// AdapterRegistry is the central registry for all source adapters.
type AdapterRegistry struct {
	adapters map[asset.Platform]SourceAdapter
	byKind   map[asset.SourceKind]asset.Platform
	order    []asset.Platform // Registration order
}

// NewRegistry creates a new adapter registry.
func NewRegistry() *AdapterRegistry {
	return &AdapterRegistry{
		adapters: make(map[asset.Platform]SourceAdapter),
		byKind:   make(map[asset.SourceKind]asset.Platform),
		order:    make([]asset.Platform, 0),
	}
}

// Register adds an adapter. Each platform and each source kind may be owned
// by exactly one adapter.
func (r *AdapterRegistry) Register(adapter SourceAdapter) error {
	if adapter == nil {
		return fmt.Errorf("adapter cannot be nil")
	}
	platform := adapter.Platform()
	if !platform.Valid() {
		return fmt.Errorf("adapter platform %q is invalid", platform)
	}
	if _, exists := r.adapters[platform]; exists {
		return fmt.Errorf("adapter for platform %q already registered", platform)
	}
	kinds := adapter.Kinds()
	if len(kinds) == 0 {
		return fmt.Errorf("adapter for platform %q declares no source kinds", platform)
	}
	for _, kind := range kinds {
		if kind.Platform() != platform {
			return fmt.Errorf("source kind %q does not belong to platform %q", kind, platform)
		}
		if owner, exists := r.byKind[kind]; exists {
			return fmt.Errorf("source kind %q already owned by %q", kind, owner)
		}
	}
	for _, kind := range kinds {
		r.byKind[kind] = platform
	}
	r.adapters[platform] = adapter
	r.order = append(r.order, platform)
	return nil
}

// Get retrieves an adapter by platform.
func (r *AdapterRegistry) Get(platform asset.Platform) (SourceAdapter, bool) {
	adapter, ok := r.adapters[platform]
	return adapter, ok
}

// ForKind retrieves the adapter owning a source kind.
func (r *AdapterRegistry) ForKind(kind asset.SourceKind) (SourceAdapter, bool) {
	platform, ok := r.byKind[kind]
	if !ok {
		return nil, false
	}
	return r.Get(platform)
}

// All returns all registered adapters in order.
func (r *AdapterRegistry) All() []SourceAdapter {
	out := make([]SourceAdapter, 0, len(r.order))
	for _, platform := range r.order {
		out = append(out, r.adapters[platform])
	}
	return out
}

// Platforms returns the registered platforms in order.
func (r *AdapterRegistry) Platforms() []asset.Platform {
	return append([]asset.Platform(nil), r.order...)
}

// Kinds returns every registered source kind in canonical order.
func (r *AdapterRegistry) Kinds() []asset.SourceKind {
	out := make([]asset.SourceKind, 0, len(r.byKind))
	for _, kind := range asset.SourceKinds() {
		if _, ok := r.byKind[kind]; ok {
			out = append(out, kind)
		}
	}
	return out
}
