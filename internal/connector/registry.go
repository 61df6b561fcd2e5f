package connector

import (
	"errors"
	"fmt"
	"sort"
	"sync"
)

// ErrNoConnector is returned when no connector is registered for a type.
var ErrNoConnector = errors.New("no connector registered")

// Registry resolves connectors by integration type.
type Registry struct {
	mu         sync.RWMutex
	connectors map[string]Connector
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{connectors: make(map[string]Connector)}
}

// Register adds or replaces the connector for an integration type.
func (r *Registry) Register(integrationType string, c Connector) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.connectors[integrationType] = c
}

// Get returns the connector for an integration type.
func (r *Registry) Get(integrationType string) (Connector, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	c, ok := r.connectors[integrationType]
	if !ok {
		return nil, fmt.Errorf("%w for type %q", ErrNoConnector, integrationType)
	}
	return c, nil
}

// Types lists registered integration types in sorted order.
func (r *Registry) Types() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	types := make([]string, 0, len(r.connectors))
	for t := range r.connectors {
		types = append(types, t)
	}
	sort.Strings(types)
	return types
}
