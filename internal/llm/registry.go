package llm

import (
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"
)

// ErrUnknownProvider is returned when no registered route matches a model.
var ErrUnknownProvider = errors.New("no backend registered for model")

type route struct {
	prefix   string
	provider string
	backend  Backend
}

// Registry maps model-identifier prefixes to completion backends. A model
// is resolved against the longest matching prefix, once per request.
type Registry struct {
	mu     sync.RWMutex
	routes []route
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{}
}

// Register routes models starting with prefix to the given backend.
// Longer prefixes win over shorter ones.
func (r *Registry) Register(prefix, provider string, backend Backend) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.routes = append(r.routes, route{prefix: prefix, provider: provider, backend: backend})
	sort.SliceStable(r.routes, func(i, j int) bool {
		return len(r.routes[i].prefix) > len(r.routes[j].prefix)
	})
}

// Resolve returns the backend serving the given model identifier.
func (r *Registry) Resolve(model string) (Backend, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	for _, rt := range r.routes {
		if strings.HasPrefix(model, rt.prefix) {
			return rt.backend, nil
		}
	}
	return nil, fmt.Errorf("%w: %s", ErrUnknownProvider, model)
}

// Provider returns the provider tag serving the given model identifier.
func (r *Registry) Provider(model string) (string, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	for _, rt := range r.routes {
		if strings.HasPrefix(model, rt.prefix) {
			return rt.provider, nil
		}
	}
	return "", fmt.Errorf("%w: %s", ErrUnknownProvider, model)
}

// Routes returns the registered prefixes and their provider tags.
func (r *Registry) Routes() map[string]string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	routes := make(map[string]string, len(r.routes))
	for _, rt := range r.routes {
		routes[rt.prefix] = rt.provider
	}
	return routes
}
