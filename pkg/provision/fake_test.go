package provision

import (
	"context"
	"fmt"
	"sync"
)

// fakeProvider is a stateful in-memory ResourceProvider. It materializes
// resources on first create and returns the stored copy thereafter, so
// idempotence tests can assert on mutation counts.
type fakeProvider struct {
	mu          sync.Mutex
	groups      map[string]ResourceGroup
	identities  map[string]ManagedIdentity
	creds       map[string]FederatedCredential
	assignments map[string]RoleAssignment
	resources   map[string]Resource

	calls     map[string]int
	mutations int
	failOn    map[string][]error
}

// unregisterProvider removes a registry entry so tests can re-register.
func unregisterProvider(name string) {
	registryMu.Lock()
	defer registryMu.Unlock()
	delete(registry, name)
}

func newFakeProvider() *fakeProvider {
	return &fakeProvider{
		groups:      make(map[string]ResourceGroup),
		identities:  make(map[string]ManagedIdentity),
		creds:       make(map[string]FederatedCredential),
		assignments: make(map[string]RoleAssignment),
		resources:   make(map[string]Resource),
		calls:       make(map[string]int),
		failOn:      make(map[string][]error),
	}
}

// failNext queues errors returned by the named operation before it
// succeeds again.
func (f *fakeProvider) failNext(op string, errs ...error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.failOn[op] = append(f.failOn[op], errs...)
}

// seed records an out-of-band resource so GetResource can resolve it.
func (f *fakeProvider) seed(res Resource) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.resources[fmt.Sprintf("%s/%s", res.Kind, res.Name)] = res
}

func (f *fakeProvider) callCount(op string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls[op]
}

func (f *fakeProvider) mutationCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.mutations
}

// enter records the call and pops a queued failure, if any.
func (f *fakeProvider) enter(op string) error {
	f.calls[op]++
	if queued := f.failOn[op]; len(queued) > 0 {
		err := queued[0]
		f.failOn[op] = queued[1:]
		return err
	}
	return nil
}

func (f *fakeProvider) Name() string { return "fake" }

func (f *fakeProvider) CreateOrGetResourceGroup(ctx context.Context, name, location string, tags map[string]string) (*ResourceGroup, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.enter("CreateOrGetResourceGroup"); err != nil {
		return nil, err
	}
	if g, ok := f.groups[name]; ok {
		return &g, nil
	}
	g := ResourceGroup{Name: name, Location: location, Tags: tags}
	f.groups[name] = g
	f.mutations++
	return &g, nil
}

func (f *fakeProvider) CreateOrGetManagedIdentity(ctx context.Context, resourceGroup, name, location string, tags map[string]string) (*ManagedIdentity, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.enter("CreateOrGetManagedIdentity"); err != nil {
		return nil, err
	}
	key := resourceGroup + "/" + name
	if id, ok := f.identities[key]; ok {
		return &id, nil
	}
	id := ManagedIdentity{
		Name:        name,
		PrincipalID: "principal-" + name,
		ClientID:    "client-" + name,
		ResourceID:  fmt.Sprintf("/resourceGroups/%s/identities/%s", resourceGroup, name),
	}
	f.identities[key] = id
	f.resources[fmt.Sprintf("%s/%s", KindManagedIdentity, name)] = Resource{
		ID:          id.ResourceID,
		Name:        name,
		Kind:        KindManagedIdentity,
		PrincipalID: id.PrincipalID,
		ClientID:    id.ClientID,
	}
	f.mutations++
	return &id, nil
}

func (f *fakeProvider) CreateOrUpdateFederatedCredential(ctx context.Context, resourceGroup, identityName string, cred FederatedCredential) (*FederatedCredential, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.enter("CreateOrUpdateFederatedCredential"); err != nil {
		return nil, err
	}
	key := resourceGroup + "/" + identityName + "/" + cred.Name
	if _, ok := f.creds[key]; !ok {
		f.mutations++
	}
	cred.ParentIdentity = identityName
	f.creds[key] = cred
	return &cred, nil
}

func (f *fakeProvider) CreateOrUpdateRoleAssignment(ctx context.Context, assignment RoleAssignment) (*RoleAssignment, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.enter("CreateOrUpdateRoleAssignment"); err != nil {
		return nil, err
	}
	key := assignment.Scope + "/" + assignment.Name
	if a, ok := f.assignments[key]; ok {
		return &a, nil
	}
	f.assignments[key] = assignment
	f.mutations++
	return &assignment, nil
}

func (f *fakeProvider) GetResource(ctx context.Context, kind ResourceKind, name string, scope ScopeRef) (*Resource, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.enter("GetResource"); err != nil {
		return nil, err
	}
	res, ok := f.resources[fmt.Sprintf("%s/%s", kind, name)]
	if !ok {
		return nil, ErrNotFound(string(kind), name)
	}
	return &res, nil
}
