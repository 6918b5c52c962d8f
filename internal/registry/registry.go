package registry

import (
	"context"

	"github.com/operant-labs/toolgate/internal/fault"
)

// Registry is the gateway's read-only view of registered systems and
// endpoints. Writes happen through the external CRUD layer.
type Registry interface {
	// Resolve returns the system and endpoint for an invocation. Fails with
	// NotFound if either is missing, SystemInactive unless the system is
	// active. Returned values are snapshots owned by the caller.
	Resolve(ctx context.Context, systemID, endpointID string) (*System, *Endpoint, error)

	// GetSystem returns a system by id, or nil if not registered.
	GetSystem(ctx context.Context, systemID string) (*System, error)

	// GetEndpoint returns an endpoint by id, or nil if not registered.
	GetEndpoint(ctx context.Context, endpointID string) (*Endpoint, error)

	// ListSystems returns all registered systems.
	ListSystems(ctx context.Context) ([]*System, error)
}

// checkResolved applies the dispatch-eligibility rules shared by all
// Registry implementations.
func checkResolved(sys *System, ep *Endpoint, systemID, endpointID string) error {
	if sys == nil {
		return fault.New(fault.NotFound, "system %s not registered", systemID)
	}
	if ep == nil || ep.SystemID != sys.ID {
		return fault.New(fault.NotFound, "endpoint %s not registered on system %s", endpointID, systemID)
	}
	if sys.Status != StatusActive {
		return fault.New(fault.SystemInactive, "system %s is %s", systemID, sys.Status)
	}
	if !sys.AgentAccess {
		return fault.New(fault.PermissionDenied, "system %s is not exposed to agents", systemID)
	}
	return nil
}
