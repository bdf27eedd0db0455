package scenario

import (
	"fmt"
	"sort"

	"github.com/gateway-fm/rpcbench/internal/config"
)

// PlanFunc derives a sweep's full batch sequence from the configuration.
type PlanFunc func(cfg *config.Config) Plan

// Registry manages scenario lookup by name.
type Registry struct {
	scenarios map[string]PlanFunc
}

// NewRegistry creates a new registry with all built-in scenarios.
func NewRegistry() *Registry {
	r := &Registry{
		scenarios: make(map[string]PlanFunc),
	}

	r.Register("protocols", Protocols)
	r.Register("providers", Providers)
	r.Register("probe", Probe)
	r.Register("limits", Limits)

	return r
}

// Register adds a scenario plan builder to the registry.
func (r *Registry) Register(name string, build PlanFunc) {
	r.scenarios[name] = build
}

// Get returns the plan builder for the given name.
func (r *Registry) Get(name string) (PlanFunc, error) {
	build, ok := r.scenarios[name]
	if !ok {
		return nil, fmt.Errorf("unknown scenario: %s (available: %v)", name, r.Names())
	}
	return build, nil
}

// Names returns all registered scenario names, sorted.
func (r *Registry) Names() []string {
	names := make([]string, 0, len(r.scenarios))
	for name := range r.scenarios {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
