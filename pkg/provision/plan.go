package provision

import (
	"context"
	"fmt"
	"sync"
)

// PlannedAction records one operation a dry run would have issued.
type PlannedAction struct {
	// Operation is the provider operation name.
	Operation string `json:"operation"`

	// ResourceType is the kind of resource affected.
	ResourceType string `json:"resourceType"`

	// ResourceName is the deterministic name of the resource.
	ResourceName string `json:"resourceName"`

	// Details contains operation-specific fields.
	Details map[string]string `json:"details,omitempty"`
}

// PlanProvider is an in-memory ResourceProvider for dry runs. It
// fabricates stable results (principal and client ids derive from the
// resource name) and records every mutation it would have issued, so a
// run against it exercises the full pipeline without touching the cloud.
type PlanProvider struct {
	mu      sync.Mutex
	actions []PlannedAction

	// Existing names resources the planner should treat as already
	// provisioned, keyed by kind/name. Cross-group scope checks resolve
	// only against these.
	Existing map[string]Resource
}

// NewPlanProvider creates an empty plan provider.
func NewPlanProvider() *PlanProvider {
	return &PlanProvider{Existing: make(map[string]Resource)}
}

// Actions returns the recorded operations in issue order.
func (p *PlanProvider) Actions() []PlannedAction {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]PlannedAction, len(p.actions))
	copy(out, p.actions)
	return out
}

func (p *PlanProvider) record(a PlannedAction) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.actions = append(p.actions, a)
}

// Name implements ResourceProvider.
func (p *PlanProvider) Name() string {
	return "plan"
}

// CreateOrGetResourceGroup implements ResourceProvider.
func (p *PlanProvider) CreateOrGetResourceGroup(ctx context.Context, name, location string, tags map[string]string) (*ResourceGroup, error) {
	p.record(PlannedAction{
		Operation:    "CreateOrGetResourceGroup",
		ResourceType: string(KindResourceGroup),
		ResourceName: name,
		Details:      map[string]string{"location": location},
	})
	return &ResourceGroup{Name: name, Location: location, Tags: tags}, nil
}

// CreateOrGetManagedIdentity implements ResourceProvider.
func (p *PlanProvider) CreateOrGetManagedIdentity(ctx context.Context, resourceGroup, name, location string, tags map[string]string) (*ManagedIdentity, error) {
	p.record(PlannedAction{
		Operation:    "CreateOrGetManagedIdentity",
		ResourceType: string(KindManagedIdentity),
		ResourceName: name,
		Details:      map[string]string{"resourceGroup": resourceGroup},
	})
	return &ManagedIdentity{
		Name:        name,
		PrincipalID: fmt.Sprintf("plan-principal-%s", name),
		ClientID:    fmt.Sprintf("plan-client-%s", name),
		ResourceID:  fmt.Sprintf("/planned/%s/%s", resourceGroup, name),
	}, nil
}

// CreateOrUpdateFederatedCredential implements ResourceProvider.
func (p *PlanProvider) CreateOrUpdateFederatedCredential(ctx context.Context, resourceGroup, identityName string, cred FederatedCredential) (*FederatedCredential, error) {
	p.record(PlannedAction{
		Operation:    "CreateOrUpdateFederatedCredential",
		ResourceType: "federatedCredential",
		ResourceName: cred.Name,
		Details:      map[string]string{"identity": identityName, "subject": cred.Subject},
	})
	return &cred, nil
}

// CreateOrUpdateRoleAssignment implements ResourceProvider.
func (p *PlanProvider) CreateOrUpdateRoleAssignment(ctx context.Context, assignment RoleAssignment) (*RoleAssignment, error) {
	p.record(PlannedAction{
		Operation:    "CreateOrUpdateRoleAssignment",
		ResourceType: "roleAssignment",
		ResourceName: assignment.Name,
		Details:      map[string]string{"scope": assignment.Scope, "role": assignment.RoleDefinitionID},
	})
	return &assignment, nil
}

// GetResource implements ResourceProvider. Only resources seeded into
// Existing resolve; everything else is not found, mirroring a real run
// where cross-group targets must already exist.
func (p *PlanProvider) GetResource(ctx context.Context, kind ResourceKind, name string, scope ScopeRef) (*Resource, error) {
	p.mu.Lock()
	res, ok := p.Existing[fmt.Sprintf("%s/%s", kind, name)]
	p.mu.Unlock()
	if !ok {
		return nil, ErrNotFound(string(kind), name)
	}
	return &res, nil
}

// Seed marks a resource as already provisioned for subsequent lookups.
func (p *PlanProvider) Seed(res Resource) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.Existing[fmt.Sprintf("%s/%s", res.Kind, res.Name)] = res
}
