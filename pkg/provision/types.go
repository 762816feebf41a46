package provision

import (
	"fmt"
	"strings"
)

// Environment identifies a deployment environment.
type Environment string

const (
	EnvironmentDev    Environment = "dev"
	EnvironmentProd   Environment = "prod"
	EnvironmentShared Environment = "shared"
)

// environmentCodes is the canonical environment short-code table used in
// resource names. Superseded variants from older templates are not carried.
var environmentCodes = map[Environment]string{
	EnvironmentDev:    "d",
	EnvironmentProd:   "p",
	EnvironmentShared: "s",
}

// Code returns the single-letter environment code used in resource names.
func (e Environment) Code() (string, error) {
	code, ok := environmentCodes[e]
	if !ok {
		return "", ErrValidation(fmt.Sprintf("unknown environment: %q", e)).
			WithDetail("field", "environment")
	}
	return code, nil
}

// FederationKind identifies the CI/CD trust pattern a federated credential
// is bound to.
type FederationKind string

const (
	// FederationEnvironment trusts tokens issued for a deployment environment.
	FederationEnvironment FederationKind = "environment"
	// FederationBranch trusts tokens issued for a repository branch.
	FederationBranch FederationKind = "branch"
)

// RoleName identifies a built-in role by its friendly name.
// The canonical RoleName to role-definition mapping lives in roles.go.
type RoleName string

const (
	RoleContributor             RoleName = "Contributor"
	RoleReader                  RoleName = "Reader"
	RoleAcrPull                 RoleName = "AcrPull"
	RoleAcrPush                 RoleName = "AcrPush"
	RoleKeyVaultSecretsUser     RoleName = "KeyVaultSecretsUser"
	RoleNetworkContributor      RoleName = "NetworkContributor"
	RoleManagedIdentityOperator RoleName = "ManagedIdentityOperator"
)

// ResourceKind identifies the kind of a provisioned resource for
// cross-scope lookups.
type ResourceKind string

const (
	KindResourceGroup   ResourceKind = "resourceGroup"
	KindManagedIdentity ResourceKind = "managedIdentity"
	KindRegistry        ResourceKind = "registry"
	KindVault           ResourceKind = "vault"
	KindDatabase        ResourceKind = "database"
	KindCluster         ResourceKind = "cluster"
)

// ScopeRef references the boundary a role assignment or lookup applies to:
// a subscription, a resource group, or a single resource within one.
type ScopeRef struct {
	// Subscription is the subscription ID.
	Subscription string `json:"subscription" yaml:"subscription"`

	// ResourceGroup narrows the scope to a resource group. Empty means
	// subscription scope.
	ResourceGroup string `json:"resourceGroup,omitempty" yaml:"resourceGroup,omitempty"`

	// ResourceKind and ResourceName narrow the scope to a single resource
	// inside ResourceGroup. Both must be set together.
	ResourceKind ResourceKind `json:"resourceKind,omitempty" yaml:"resourceKind,omitempty"`
	ResourceName string       `json:"resourceName,omitempty" yaml:"resourceName,omitempty"`
}

// IsResource reports whether the scope targets a single resource.
func (s ScopeRef) IsResource() bool {
	return s.ResourceKind != "" && s.ResourceName != ""
}

// Path returns the canonical scope path. Role-assignment identity hashes
// over this path, so its format must stay stable.
func (s ScopeRef) Path() string {
	var b strings.Builder
	fmt.Fprintf(&b, "/subscriptions/%s", s.Subscription)
	if s.ResourceGroup != "" {
		fmt.Fprintf(&b, "/resourceGroups/%s", s.ResourceGroup)
	}
	if s.IsResource() {
		fmt.Fprintf(&b, "/providers/%s/%s", armResourceType(s.ResourceKind), s.ResourceName)
	}
	return b.String()
}

// armResourceType maps a ResourceKind to its provider-namespace type.
func armResourceType(kind ResourceKind) string {
	switch kind {
	case KindManagedIdentity:
		return "Microsoft.ManagedIdentity/userAssignedIdentities"
	case KindRegistry:
		return "Microsoft.ContainerRegistry/registries"
	case KindVault:
		return "Microsoft.KeyVault/vaults"
	case KindDatabase:
		return "Microsoft.DocumentDB/databaseAccounts"
	case KindCluster:
		return "Microsoft.ContainerService/managedClusters"
	default:
		return string(kind)
	}
}

// Grant declares one role assignment for an identity. A nil Scope means
// the run's default scope (the resource group the identity lives in).
type Grant struct {
	Role  RoleName  `json:"role" yaml:"role"`
	Scope *ScopeRef `json:"scope,omitempty" yaml:"scope,omitempty"`
}

// ParentGate marks a spec whose identity is materialized by a parent
// resource instead of by this engine (e.g. an ingress-controller identity
// that exists only after cluster creation). The spec's creation stage is
// gated on the parent existing, and the identity is looked up, not created.
type ParentGate struct {
	// Kind and Name identify the parent resource.
	Kind ResourceKind `json:"kind" yaml:"kind"`
	Name string       `json:"name" yaml:"name"`

	// IdentityName is the name the parent gave the auto-created identity.
	// Empty means the spec's resolved name is used for the lookup.
	IdentityName string `json:"identityName,omitempty" yaml:"identityName,omitempty"`
}

// WorkloadIdentitySpec declares one workload identity: its name inputs,
// optional CI/CD federation, and the roles it needs. Keys are unique
// within a spec list; the spec list is the only mutable input to a run.
type WorkloadIdentitySpec struct {
	// Key uniquely identifies the spec within a list.
	Key string `json:"key" yaml:"key" validate:"required"`

	// DisplayName is the human-readable identity name component.
	DisplayName string `json:"displayName,omitempty" yaml:"displayName,omitempty"`

	// ServiceCode is the service component of the resource name.
	ServiceCode string `json:"serviceCode" yaml:"serviceCode" validate:"required,lowercase,alpha,min=2,max=4"`

	// Environment selects the environment code used in the name.
	Environment Environment `json:"environment" yaml:"environment" validate:"required,oneof=dev prod shared"`

	// Role is the primary role granted at the run's default scope.
	Role RoleName `json:"role" yaml:"role" validate:"required"`

	// FederationKinds enables OIDC federation for the listed trust
	// patterns. Empty means no federation for this identity.
	FederationKinds []FederationKind `json:"federationKinds,omitempty" yaml:"federationKinds,omitempty" validate:"dive,oneof=environment branch"`

	// FederationTarget is the environment or branch name the federation
	// subject is built from. Required when FederationKinds is non-empty.
	FederationTarget string `json:"federationTarget,omitempty" yaml:"federationTarget,omitempty"`

	// ExtraGrants are additional role assignments, possibly at scopes in
	// other resource groups.
	ExtraGrants []Grant `json:"extraGrants,omitempty" yaml:"extraGrants,omitempty"`

	// ParentGate, when set, defers creation to a parent resource.
	ParentGate *ParentGate `json:"parentGate,omitempty" yaml:"parentGate,omitempty"`
}

// Grants returns every role/scope pair declared by the spec, with the
// primary role first. defaultScope substitutes for nil grant scopes.
func (s WorkloadIdentitySpec) Grants(defaultScope ScopeRef) []Grant {
	grants := make([]Grant, 0, 1+len(s.ExtraGrants))
	grants = append(grants, Grant{Role: s.Role, Scope: &defaultScope})
	for _, g := range s.ExtraGrants {
		if g.Scope == nil {
			g.Scope = &defaultScope
		}
		grants = append(grants, g)
	}
	return grants
}

// ManagedIdentity is a provisioned user-assigned identity. Created once
// per distinct name, immutable thereafter, never deleted by this engine.
type ManagedIdentity struct {
	Name        string `json:"name"`
	PrincipalID string `json:"principalId"`
	ClientID    string `json:"clientId"`
	ResourceID  string `json:"resourceId"`
}

// FederatedCredential is an OIDC trust binding on a managed identity.
// At most one credential exists per (identity, subject) pair.
type FederatedCredential struct {
	ParentIdentity string   `json:"parentIdentity"`
	Name           string   `json:"name"`
	Issuer         string   `json:"issuer"`
	Subject        string   `json:"subject"`
	Audiences      []string `json:"audiences"`
}

// RoleAssignment grants a role definition to a principal at a scope. Its
// Name is a deterministic hash of the (principal, role, scope) triple.
type RoleAssignment struct {
	Name             string `json:"name"`
	PrincipalID      string `json:"principalId"`
	RoleDefinitionID string `json:"roleDefinitionId"`
	Scope            string `json:"scope"`
}

// ResourceGroup is a pure container; its existence is a precondition for
// any identity or assignment targeting it.
type ResourceGroup struct {
	Name     string            `json:"name"`
	Location string            `json:"location"`
	Tags     map[string]string `json:"tags,omitempty"`
}

// Resource is the provider's view of an already-provisioned resource,
// returned by existence lookups. PrincipalID and ClientID are populated
// only for identity kinds.
type Resource struct {
	ID          string       `json:"id"`
	Name        string       `json:"name"`
	Kind        ResourceKind `json:"kind"`
	PrincipalID string       `json:"principalId,omitempty"`
	ClientID    string       `json:"clientId,omitempty"`
}

// Stage is a step in a spec's provisioning pipeline.
type Stage string

const (
	StageDeclared     Stage = "Declared"
	StageNameResolved Stage = "NameResolved"
	StageCreated      Stage = "Created"
	StageFederated    Stage = "Federated"
	StageRoleBound    Stage = "RoleBound"
	StageActive       Stage = "Active"
)

// SpecResult is the outcome of one spec's pipeline within a run.
type SpecResult struct {
	Key         string                `json:"key"`
	Stage       Stage                 `json:"stage"`
	Identity    *ManagedIdentity      `json:"identity,omitempty"`
	Credentials []FederatedCredential `json:"credentials,omitempty"`
	Assignments []RoleAssignment      `json:"assignments,omitempty"`
	Err         error                 `json:"-"`
}

// Failed reports whether the spec stopped before reaching Active.
func (r SpecResult) Failed() bool {
	return r.Err != nil
}
