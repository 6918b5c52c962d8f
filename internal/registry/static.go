package registry

import (
	"context"
	"fmt"
	"sort"
	"sync"
)

// StaticRegistry is an in-memory Registry for development and tests. Unlike
// the Postgres registry it also accepts registrations, applying the same
// validation the CRUD layer runs before persisting.
type StaticRegistry struct {
	mu        sync.RWMutex
	systems   map[string]*System
	endpoints map[string]*Endpoint
}

func NewStaticRegistry() *StaticRegistry {
	return &StaticRegistry{
		systems:   make(map[string]*System),
		endpoints: make(map[string]*Endpoint),
	}
}

// AddSystem registers or replaces a system.
func (r *StaticRegistry) AddSystem(sys *System) error {
	if sys.ID == "" {
		return fmt.Errorf("system requires an id")
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.systems[sys.ID] = sys.Clone()
	return nil
}

// AddEndpoint validates and registers an endpoint. The owning system must
// already exist — an endpoint cannot outlive (or predate) its system.
func (r *StaticRegistry) AddEndpoint(ep *Endpoint) error {
	if err := ValidateEndpoint(ep); err != nil {
		return err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.systems[ep.SystemID]; !ok {
		return fmt.Errorf("endpoint %s references unknown system %s", ep.ID, ep.SystemID)
	}
	r.endpoints[ep.ID] = ep.Clone()
	return nil
}

// RemoveSystem drops a system and every endpoint it owns.
func (r *StaticRegistry) RemoveSystem(systemID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.systems, systemID)
	for id, ep := range r.endpoints {
		if ep.SystemID == systemID {
			delete(r.endpoints, id)
		}
	}
}

func (r *StaticRegistry) Resolve(_ context.Context, systemID, endpointID string) (*System, *Endpoint, error) {
	r.mu.RLock()
	sys := r.systems[systemID]
	ep := r.endpoints[endpointID]
	r.mu.RUnlock()

	if err := checkResolved(sys, ep, systemID, endpointID); err != nil {
		return nil, nil, err
	}
	return sys.Clone(), ep.Clone(), nil
}

func (r *StaticRegistry) GetSystem(_ context.Context, systemID string) (*System, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.systems[systemID].Clone(), nil
}

func (r *StaticRegistry) GetEndpoint(_ context.Context, endpointID string) (*Endpoint, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.endpoints[endpointID].Clone(), nil
}

func (r *StaticRegistry) ListSystems(_ context.Context) ([]*System, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]*System, 0, len(r.systems))
	for _, sys := range r.systems {
		out = append(out, sys.Clone())
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}
