package fhir

import (
	"fmt"
	"sort"
	"sync"
)

// Supported FHIR base versions.
const (
	BaseSTU3 = "3_0_1"
	BaseR4   = "4_0_0"
)

// ResourceDefinition declares a resource type and the search parameters it
// answers.
type ResourceDefinition struct {
	Type         string
	SearchParams map[string]SearchParamConfig
	// Bases lists the base versions serving the type; empty means all.
	Bases []string
	// BaseOverrides replaces or adds parameters for one base version.
	BaseOverrides map[string]map[string]SearchParamConfig
}

// Registry maps resource types to their parameter tables.
type Registry struct {
	mu    sync.RWMutex
	defs  map[string]ResourceDefinition
	bases map[string]bool
}

// NewRegistry creates an empty registry serving the STU3 and R4 bases.
func NewRegistry() *Registry {
	return &Registry{
		defs:  make(map[string]ResourceDefinition),
		bases: map[string]bool{BaseSTU3: true, BaseR4: true},
	}
}

// Register adds or replaces a resource definition.
func (r *Registry) Register(def ResourceDefinition) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.defs[def.Type] = def
}

// IsKnownBase reports whether base is a supported version tag.
func (r *Registry) IsKnownBase(base string) bool {
	return r.bases[base]
}

// SearchParams returns the parameter table of resourceType under base.
func (r *Registry) SearchParams(resourceType, base string) (map[string]SearchParamConfig, error) {
	if !r.bases[base] {
		return nil, fmt.Errorf("%w: unknown base version %q", ErrInvalidArgument, base)
	}
	r.mu.RLock()
	def, ok := r.defs[resourceType]
	r.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: unknown resource type %q", ErrInvalidArgument, resourceType)
	}
	if len(def.Bases) > 0 && !contains(def.Bases, base) {
		return nil, fmt.Errorf("%w: %s is not served under base %s", ErrInvalidArgument, resourceType, base)
	}

	out := make(map[string]SearchParamConfig, len(def.SearchParams))
	for name, cfg := range def.SearchParams {
		out[name] = cfg
	}
	for name, cfg := range def.BaseOverrides[base] {
		out[name] = cfg
	}
	return out, nil
}

// Types returns the registered resource types, sorted.
func (r *Registry) Types() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	types := make([]string, 0, len(r.defs))
	for t := range r.defs {
		types = append(types, t)
	}
	sort.Strings(types)
	return types
}

func contains(list []string, s string) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}
