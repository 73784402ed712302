// Package provider wires concrete backend adapters to the speaker roles a
// session configures. New backends register a factory; the orchestrator only
// ever sees the domain.Provider contract.
package provider

import (
	"fmt"
	"sort"
	"sync"

	"github.com/crowdthink/brainstorm/internal/domain"
	"github.com/crowdthink/brainstorm/internal/provider/anthropic"
	"github.com/crowdthink/brainstorm/internal/provider/grok"
)

// Config describes one configured backend.
type Config struct {
	// Role is the speaker key participants use, e.g. "claude" or "grok".
	Role string
	// Type selects the adapter implementation.
	Type    string
	APIKey  string
	BaseURL string
}

// Factory builds an adapter from its configuration.
type Factory func(cfg Config) (domain.Provider, error)

var factories = map[string]Factory{
	"anthropic": func(cfg Config) (domain.Provider, error) {
		var opts []anthropic.ProviderOption
		if cfg.BaseURL != "" {
			opts = append(opts, anthropic.WithBaseURL(cfg.BaseURL))
		}
		return anthropic.New(cfg.APIKey, opts...), nil
	},
	"xai": func(cfg Config) (domain.Provider, error) {
		var opts []grok.ProviderOption
		if cfg.BaseURL != "" {
			opts = append(opts, grok.WithBaseURL(cfg.BaseURL))
		}
		return grok.New(cfg.APIKey, opts...), nil
	},
}

// Build constructs an adapter for the given configuration.
func Build(cfg Config) (domain.Provider, error) {
	factory, ok := factories[cfg.Type]
	if !ok {
		return nil, fmt.Errorf("unknown provider type %q", cfg.Type)
	}
	if cfg.APIKey == "" {
		return nil, fmt.Errorf("provider %q: api key is required", cfg.Role)
	}
	return factory(cfg)
}

// Registry maps speaker roles to their adapters.
type Registry struct {
	mu        sync.RWMutex
	providers map[string]domain.Provider
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{providers: make(map[string]domain.Provider)}
}

// Register binds a role to an adapter, replacing any previous binding.
func (r *Registry) Register(role string, p domain.Provider) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.providers[role] = p
}

// Lookup returns the adapter bound to a role.
func (r *Registry) Lookup(role string) (domain.Provider, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	p, ok := r.providers[role]
	if !ok {
		return nil, fmt.Errorf("no provider registered for role %q", role)
	}
	return p, nil
}

// Roles returns the registered roles in sorted order.
func (r *Registry) Roles() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	roles := make([]string, 0, len(r.providers))
	for role := range r.providers {
		roles = append(roles, role)
	}
	sort.Strings(roles)
	return roles
}
