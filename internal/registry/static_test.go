package registry

import (
	"context"
	"testing"

	"github.com/operant-labs/toolgate/internal/fault"
)

func activeSystem(id string) *System {
	return &System{
		ID:          id,
		Name:        id,
		BaseURL:     "https://" + id + ".example.com",
		Status:      StatusActive,
		AgentAccess: true,
	}
}

func TestStaticRegistry_ResolveHappyPath(t *testing.T) {
	r := NewStaticRegistry()
	if err := r.AddSystem(activeSystem("sys-1")); err != nil {
		t.Fatalf("AddSystem: %v", err)
	}
	if err := r.AddEndpoint(validRESTEndpoint()); err != nil {
		t.Fatalf("AddEndpoint: %v", err)
	}

	sys, ep, err := r.Resolve(context.Background(), "sys-1", "ep-1")
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	if sys.ID != "sys-1" || ep.ID != "ep-1" {
		t.Errorf("resolved wrong pair: %s/%s", sys.ID, ep.ID)
	}
}

func TestStaticRegistry_ResolveUnknown(t *testing.T) {
	r := NewStaticRegistry()

	_, _, err := r.Resolve(context.Background(), "sys-x", "ep-x")
	if fault.KindOf(err) != fault.NotFound {
		t.Errorf("expected not_found, got %v", err)
	}
}

func TestStaticRegistry_ResolveInactive(t *testing.T) {
	r := NewStaticRegistry()
	sys := activeSystem("sys-1")
	sys.Status = StatusInactive
	r.AddSystem(sys)
	r.AddEndpoint(validRESTEndpoint())

	_, _, err := r.Resolve(context.Background(), "sys-1", "ep-1")
	if fault.KindOf(err) != fault.SystemInactive {
		t.Errorf("expected system_inactive, got %v", err)
	}
}

func TestStaticRegistry_ResolveNoAgentAccess(t *testing.T) {
	r := NewStaticRegistry()
	sys := activeSystem("sys-1")
	sys.AgentAccess = false
	r.AddSystem(sys)
	r.AddEndpoint(validRESTEndpoint())

	_, _, err := r.Resolve(context.Background(), "sys-1", "ep-1")
	if fault.KindOf(err) != fault.PermissionDenied {
		t.Errorf("expected permission_denied, got %v", err)
	}
}

func TestStaticRegistry_EndpointWrongSystem(t *testing.T) {
	r := NewStaticRegistry()
	r.AddSystem(activeSystem("sys-1"))
	r.AddSystem(activeSystem("sys-2"))
	r.AddEndpoint(validRESTEndpoint()) // belongs to sys-1

	_, _, err := r.Resolve(context.Background(), "sys-2", "ep-1")
	if fault.KindOf(err) != fault.NotFound {
		t.Errorf("endpoint resolved under the wrong system: %v", err)
	}
}

func TestStaticRegistry_AddEndpointRequiresSystem(t *testing.T) {
	r := NewStaticRegistry()
	if err := r.AddEndpoint(validRESTEndpoint()); err == nil {
		t.Error("endpoint registration without its system should fail")
	}
}

func TestStaticRegistry_AddEndpointValidates(t *testing.T) {
	r := NewStaticRegistry()
	r.AddSystem(activeSystem("sys-1"))
	ep := validRESTEndpoint()
	ep.Timeout = 0
	if err := r.AddEndpoint(ep); err == nil {
		t.Error("invalid endpoint should be rejected at registration")
	}
}

func TestStaticRegistry_RemoveSystemCascades(t *testing.T) {
	r := NewStaticRegistry()
	r.AddSystem(activeSystem("sys-1"))
	r.AddEndpoint(validRESTEndpoint())

	r.RemoveSystem("sys-1")

	ep, err := r.GetEndpoint(context.Background(), "ep-1")
	if err != nil {
		t.Fatalf("GetEndpoint: %v", err)
	}
	if ep != nil {
		t.Error("removing a system should drop its endpoints")
	}
}

func TestStaticRegistry_ResolveReturnsSnapshot(t *testing.T) {
	r := NewStaticRegistry()
	r.AddSystem(activeSystem("sys-1"))
	r.AddEndpoint(validRESTEndpoint())

	_, ep, err := r.Resolve(context.Background(), "sys-1", "ep-1")
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	ep.RiskLevel = RiskDestructive

	_, again, _ := r.Resolve(context.Background(), "sys-1", "ep-1")
	if again.RiskLevel != RiskRead {
		t.Error("mutating a resolved snapshot must not touch the registry")
	}
}

func TestStaticRegistry_ListSystemsSorted(t *testing.T) {
	r := NewStaticRegistry()
	r.AddSystem(activeSystem("sys-b"))
	r.AddSystem(activeSystem("sys-a"))

	systems, err := r.ListSystems(context.Background())
	if err != nil {
		t.Fatalf("ListSystems: %v", err)
	}
	if len(systems) != 2 || systems[0].ID != "sys-a" {
		t.Errorf("expected sorted [sys-a sys-b], got %v", systems)
	}
}
