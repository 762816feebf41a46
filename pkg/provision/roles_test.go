package provision

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRoleDefinitionID(t *testing.T) {
	id, err := RoleDefinitionID("sub-1", RoleAcrPull)
	require.NoError(t, err)
	assert.Equal(t, "/subscriptions/sub-1/providers/Microsoft.Authorization/roleDefinitions/7f951dda-4ed3-4680-a7ca-43fe172d538d", id)

	_, err = RoleDefinitionID("sub-1", RoleName("Janitor"))
	require.Error(t, err)
	assert.True(t, IsCategory(err, CategoryValidation))
}

func TestAssignmentNameIsDeterministic(t *testing.T) {
	scope := ScopeRef{Subscription: "sub-1", ResourceGroup: "rg-home"}.Path()
	name := AssignmentName("principal-1", "roledef-1", scope)

	for i := 0; i < 5; i++ {
		assert.Equal(t, name, AssignmentName("principal-1", "roledef-1", scope))
	}

	// Every component participates in the hash.
	assert.NotEqual(t, name, AssignmentName("principal-2", "roledef-1", scope))
	assert.NotEqual(t, name, AssignmentName("principal-1", "roledef-2", scope))
	assert.NotEqual(t, name, AssignmentName("principal-1", "roledef-1", scope+"/x"))
}

func TestPlanHomeGroupScope(t *testing.T) {
	fake := newFakeProvider()
	p := NewRoleAssignmentPlanner(fake, "rg-home")
	identity := ManagedIdentity{Name: "id-1", PrincipalID: "principal-1"}
	scope := ScopeRef{Subscription: "sub-1", ResourceGroup: "rg-home"}

	assignment, err := p.Plan(context.Background(), identity, RoleContributor, scope)
	require.NoError(t, err)

	assert.Equal(t, "principal-1", assignment.PrincipalID)
	assert.Equal(t, scope.Path(), assignment.Scope)
	assert.Equal(t, AssignmentName("principal-1", assignment.RoleDefinitionID, scope.Path()), assignment.Name)
	// Same-group scopes skip the existence check.
	assert.Zero(t, fake.callCount("GetResource"))
}

func TestPlanCrossGroupRequiresExistingResource(t *testing.T) {
	fake := newFakeProvider()
	p := NewRoleAssignmentPlanner(fake, "rg-home")
	identity := ManagedIdentity{Name: "id-1", PrincipalID: "principal-1"}

	scope := ScopeRef{
		Subscription:  "sub-1",
		ResourceGroup: "rg-other",
		ResourceKind:  KindRegistry,
		ResourceName:  "abcdapicr",
	}

	_, err := p.Plan(context.Background(), identity, RoleAcrPull, scope)
	require.Error(t, err)
	assert.True(t, IsCategory(err, CategoryScopeUnresolved))

	fake.seed(Resource{ID: "/registries/abcdapicr", Name: "abcdapicr", Kind: KindRegistry})
	assignment, err := p.Plan(context.Background(), identity, RoleAcrPull, scope)
	require.NoError(t, err)
	assert.Contains(t, assignment.Scope, "rg-other")
}

func TestPlanCrossGroupScopeMustBeResource(t *testing.T) {
	p := NewRoleAssignmentPlanner(newFakeProvider(), "rg-home")
	identity := ManagedIdentity{Name: "id-1", PrincipalID: "principal-1"}

	_, err := p.Plan(context.Background(), identity, RoleReader, ScopeRef{
		Subscription:  "sub-1",
		ResourceGroup: "rg-other",
	})
	require.Error(t, err)
	assert.True(t, IsCategory(err, CategoryValidation))
}

func TestApplyIsIdempotent(t *testing.T) {
	fake := newFakeProvider()
	p := NewRoleAssignmentPlanner(fake, "rg-home")
	identity := ManagedIdentity{Name: "id-1", PrincipalID: "principal-1"}
	scope := ScopeRef{Subscription: "sub-1", ResourceGroup: "rg-home"}

	first, err := p.Apply(context.Background(), identity, RoleContributor, scope)
	require.NoError(t, err)
	second, err := p.Apply(context.Background(), identity, RoleContributor, scope)
	require.NoError(t, err)

	assert.Equal(t, first.Name, second.Name)
	assert.Equal(t, 1, fake.mutationCount())
}

func TestApplyTreatsConflictAsSuccess(t *testing.T) {
	fake := newFakeProvider()
	fake.failNext("CreateOrUpdateRoleAssignment", ErrConflict("roleAssignment", "dup"))
	p := NewRoleAssignmentPlanner(fake, "rg-home")
	identity := ManagedIdentity{Name: "id-1", PrincipalID: "principal-1"}

	assignment, err := p.Apply(context.Background(), identity, RoleReader, ScopeRef{Subscription: "sub-1", ResourceGroup: "rg-home"})
	require.NoError(t, err)
	assert.NotEmpty(t, assignment.Name)
}

func TestKnownRolesCoverCanonicalTable(t *testing.T) {
	roles := KnownRoles()
	assert.Len(t, roles, 7)
	assert.Contains(t, roles, RoleContributor)
	assert.Contains(t, roles, RoleKeyVaultSecretsUser)
}
