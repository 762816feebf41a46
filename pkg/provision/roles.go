package provision

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/google/uuid"
)

// roleDefinitionIDs is the canonical RoleName to built-in role-definition
// GUID table. The source templates carried several drifted variants of
// this table; this one supersedes them.
var roleDefinitionIDs = map[RoleName]string{
	RoleContributor:             "b24988ac-6180-42a0-ab88-20f7382dd24c",
	RoleReader:                  "acdd72a7-3385-48ef-bd42-f606fba81ae7",
	RoleAcrPull:                 "7f951dda-4ed3-4680-a7ca-43fe172d538d",
	RoleAcrPush:                 "8311e382-0749-4cb8-b61a-304f252e45ec",
	RoleKeyVaultSecretsUser:     "4633458b-17de-408a-b874-0445c86b69e6",
	RoleNetworkContributor:      "4d97b98b-1d4f-4787-a291-c67834d212e7",
	RoleManagedIdentityOperator: "f1a07417-d97a-45cb-824c-7a7467783830",
}

// assignmentNamespace seeds the deterministic assignment-name hash.
// Changing it changes every assignment name, so it is fixed forever.
var assignmentNamespace = uuid.MustParse("8f1c6e9a-2b4d-4e7f-9c3a-5d8b0e1f6a27")

// RoleDefinitionID resolves a role name to its fully-qualified role
// definition ID under the given subscription.
func RoleDefinitionID(subscription string, role RoleName) (string, error) {
	guid, ok := roleDefinitionIDs[role]
	if !ok {
		return "", ErrValidation(fmt.Sprintf("unknown role: %q", role)).
			WithDetail("field", "role")
	}
	return fmt.Sprintf("/subscriptions/%s/providers/Microsoft.Authorization/roleDefinitions/%s", subscription, guid), nil
}

// AssignmentName computes the stable assignment name from the
// (principal, role definition, scope) triple. The name is the sole
// idempotence mechanism: identical triples always produce the same name
// regardless of declaration order or re-runs.
func AssignmentName(principalID, roleDefinitionID, scopePath string) string {
	data := []byte(principalID + "\x00" + roleDefinitionID + "\x00" + scopePath)
	return uuid.NewSHA1(assignmentNamespace, data).String()
}

// RoleAssignmentPlanner resolves role names to role-definition handles
// and emits idempotent grant requests, including cross-resource-group
// scopes.
type RoleAssignmentPlanner struct {
	provider ResourceProvider

	// homeGroup is the resource group identities are created in. Scopes
	// in any other group require an existence check before planning.
	homeGroup string
	log       *slog.Logger
}

// RoleAssignmentPlannerOption configures the planner.
type RoleAssignmentPlannerOption func(*RoleAssignmentPlanner)

// WithPlannerLogger sets the logger.
func WithPlannerLogger(log *slog.Logger) RoleAssignmentPlannerOption {
	return func(p *RoleAssignmentPlanner) {
		p.log = log
	}
}

// NewRoleAssignmentPlanner creates a planner for identities living in
// homeGroup.
func NewRoleAssignmentPlanner(provider ResourceProvider, homeGroup string, opts ...RoleAssignmentPlannerOption) *RoleAssignmentPlanner {
	p := &RoleAssignmentPlanner{
		provider:  provider,
		homeGroup: homeGroup,
		log:       slog.Default(),
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Plan resolves the role, confirms cross-group scope targets exist, and
// emits one idempotent assignment request. A cross-group scope whose
// target resource is absent fails with a scope-unresolved error: the
// existence check is a hard precondition, not best-effort.
func (p *RoleAssignmentPlanner) Plan(ctx context.Context, identity ManagedIdentity, role RoleName, scope ScopeRef) (*RoleAssignment, error) {
	roleDefID, err := RoleDefinitionID(scope.Subscription, role)
	if err != nil {
		return nil, err
	}

	if p.crossGroup(scope) {
		if !scope.IsResource() {
			return nil, ErrValidation(fmt.Sprintf("cross-group scope %q must reference a resource", scope.Path()))
		}
		if _, err := p.provider.GetResource(ctx, scope.ResourceKind, scope.ResourceName, scope); err != nil {
			if IsCategory(err, CategoryNotFound) {
				return nil, ErrScopeUnresolved(scope.Path()).WithCause(err)
			}
			return nil, ErrProvisioning("cross-group scope resolution failed").
				WithOperation("GetResource").
				WithCause(err)
		}
	}

	assignment := RoleAssignment{
		Name:             AssignmentName(identity.PrincipalID, roleDefID, scope.Path()),
		PrincipalID:      identity.PrincipalID,
		RoleDefinitionID: roleDefID,
		Scope:            scope.Path(),
	}
	return &assignment, nil
}

// Apply plans and submits one assignment. "Already exists" responses are
// success.
func (p *RoleAssignmentPlanner) Apply(ctx context.Context, identity ManagedIdentity, role RoleName, scope ScopeRef) (*RoleAssignment, error) {
	assignment, err := p.Plan(ctx, identity, role, scope)
	if err != nil {
		return nil, err
	}

	applied, err := p.provider.CreateOrUpdateRoleAssignment(ctx, *assignment)
	if err != nil {
		if IsCategory(err, CategoryConflict) {
			// Identical triple already assigned.
			return assignment, nil
		}
		return nil, ErrProvisioning("create-or-update role assignment failed").
			WithOperation("CreateOrUpdateRoleAssignment").
			WithCause(err)
	}
	p.log.Debug("role assignment applied",
		"assignment", applied.Name,
		"role", role,
		"scope", applied.Scope)
	return applied, nil
}

// crossGroup reports whether the scope lives outside the planner's home
// resource group.
func (p *RoleAssignmentPlanner) crossGroup(scope ScopeRef) bool {
	return scope.ResourceGroup != "" && scope.ResourceGroup != p.homeGroup
}

// KnownRoles returns the role names in the canonical table.
func KnownRoles() []RoleName {
	roles := make([]RoleName, 0, len(roleDefinitionIDs))
	for role := range roleDefinitionIDs {
		roles = append(roles, role)
	}
	return roles
}
