// Package azure implements provision.ResourceProvider on top of the
// Azure Resource Manager SDK. All operations use create-or-update
// semantics and the provider never deletes anything.
package azure

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	"github.com/Azure/azure-sdk-for-go/sdk/azcore"
	"github.com/Azure/azure-sdk-for-go/sdk/azcore/to"
	"github.com/Azure/azure-sdk-for-go/sdk/azidentity"
	"github.com/Azure/azure-sdk-for-go/sdk/resourcemanager/authorization/armauthorization/v2"
	"github.com/Azure/azure-sdk-for-go/sdk/resourcemanager/msi/armmsi"
	"github.com/Azure/azure-sdk-for-go/sdk/resourcemanager/resources/armresources"

	"github.com/anirudhbiyani/cloud-provision/pkg/provision"
)

// roleAssignmentExistsCode is the ARM error code returned when an
// assignment with the same name and triple already exists.
const roleAssignmentExistsCode = "RoleAssignmentExists"

// apiVersions pins the ARM api-version used for generic existence
// lookups, per resource kind.
var apiVersions = map[provision.ResourceKind]string{
	provision.KindManagedIdentity: "2023-01-31",
	provision.KindRegistry:        "2023-07-01",
	provision.KindVault:           "2023-07-01",
	provision.KindDatabase:        "2024-05-15",
	provision.KindCluster:         "2024-05-01",
}

// Provider implements provision.ResourceProvider for Azure.
type Provider struct {
	subscriptionID string
	identities     *armmsi.UserAssignedIdentitiesClient
	federations    *armmsi.FederatedIdentityCredentialsClient
	assignments    *armauthorization.RoleAssignmentsClient
	groups         *armresources.ResourceGroupsClient
	resources      *armresources.Client
}

// Option configures the Provider.
type Option func(*options)

type options struct {
	credential azcore.TokenCredential
}

// WithCredential overrides the default credential chain.
func WithCredential(cred azcore.TokenCredential) Option {
	return func(o *options) {
		o.credential = cred
	}
}

// New creates a Provider for the subscription. Without WithCredential it
// uses the default Azure credential chain (environment, workload
// identity, managed identity, CLI).
func New(subscriptionID string, opts ...Option) (*Provider, error) {
	var o options
	for _, opt := range opts {
		opt(&o)
	}

	cred := o.credential
	if cred == nil {
		var err error
		cred, err = azidentity.NewDefaultAzureCredential(nil)
		if err != nil {
			return nil, fmt.Errorf("building default azure credential: %w", err)
		}
	}

	identities, err := armmsi.NewUserAssignedIdentitiesClient(subscriptionID, cred, nil)
	if err != nil {
		return nil, fmt.Errorf("building managed identity client: %w", err)
	}
	federations, err := armmsi.NewFederatedIdentityCredentialsClient(subscriptionID, cred, nil)
	if err != nil {
		return nil, fmt.Errorf("building federated credential client: %w", err)
	}
	assignments, err := armauthorization.NewRoleAssignmentsClient(subscriptionID, cred, nil)
	if err != nil {
		return nil, fmt.Errorf("building role assignment client: %w", err)
	}
	groups, err := armresources.NewResourceGroupsClient(subscriptionID, cred, nil)
	if err != nil {
		return nil, fmt.Errorf("building resource group client: %w", err)
	}
	resources, err := armresources.NewClient(subscriptionID, cred, nil)
	if err != nil {
		return nil, fmt.Errorf("building resources client: %w", err)
	}

	return &Provider{
		subscriptionID: subscriptionID,
		identities:     identities,
		federations:    federations,
		assignments:    assignments,
		groups:         groups,
		resources:      resources,
	}, nil
}

// Name implements provision.ResourceProvider.
func (p *Provider) Name() string {
	return "azure"
}

// CreateOrGetResourceGroup implements provision.ResourceProvider.
func (p *Provider) CreateOrGetResourceGroup(ctx context.Context, name, location string, tags map[string]string) (*provision.ResourceGroup, error) {
	resp, err := p.groups.CreateOrUpdate(ctx, name, armresources.ResourceGroup{
		Location: to.Ptr(location),
		Tags:     toTagMap(tags),
	}, nil)
	if err != nil {
		return nil, mapARMError(err, "resourceGroup", name)
	}
	return &provision.ResourceGroup{
		Name:     deref(resp.Name),
		Location: deref(resp.Location),
		Tags:     tags,
	}, nil
}

// CreateOrGetManagedIdentity implements provision.ResourceProvider. ARM
// PUT on a user-assigned identity is a true upsert: an existing identity
// keeps its principal and client IDs and only picks up new tags.
func (p *Provider) CreateOrGetManagedIdentity(ctx context.Context, resourceGroup, name, location string, tags map[string]string) (*provision.ManagedIdentity, error) {
	resp, err := p.identities.CreateOrUpdate(ctx, resourceGroup, name, armmsi.Identity{
		Location: to.Ptr(location),
		Tags:     toTagMap(tags),
	}, nil)
	if err != nil {
		return nil, mapARMError(err, "managedIdentity", name)
	}

	identity := &provision.ManagedIdentity{
		Name:       deref(resp.Name),
		ResourceID: deref(resp.ID),
	}
	if resp.Properties != nil {
		identity.PrincipalID = deref(resp.Properties.PrincipalID)
		identity.ClientID = deref(resp.Properties.ClientID)
	}
	return identity, nil
}

// CreateOrUpdateFederatedCredential implements provision.ResourceProvider.
func (p *Provider) CreateOrUpdateFederatedCredential(ctx context.Context, resourceGroup, identityName string, cred provision.FederatedCredential) (*provision.FederatedCredential, error) {
	audiences := make([]*string, 0, len(cred.Audiences))
	for _, a := range cred.Audiences {
		audiences = append(audiences, to.Ptr(a))
	}

	resp, err := p.federations.CreateOrUpdate(ctx, resourceGroup, identityName, cred.Name, armmsi.FederatedIdentityCredential{
		Properties: &armmsi.FederatedIdentityCredentialProperties{
			Issuer:    to.Ptr(cred.Issuer),
			Subject:   to.Ptr(cred.Subject),
			Audiences: audiences,
		},
	}, nil)
	if err != nil {
		return nil, mapARMError(err, "federatedCredential", cred.Name)
	}

	out := cred
	out.Name = deref(resp.Name)
	out.ParentIdentity = identityName
	return &out, nil
}

// CreateOrUpdateRoleAssignment implements provision.ResourceProvider.
// A RoleAssignmentExists conflict means an identical triple already
// holds, which is success.
func (p *Provider) CreateOrUpdateRoleAssignment(ctx context.Context, assignment provision.RoleAssignment) (*provision.RoleAssignment, error) {
	_, err := p.assignments.Create(ctx, assignment.Scope, assignment.Name, armauthorization.RoleAssignmentCreateParameters{
		Properties: &armauthorization.RoleAssignmentProperties{
			PrincipalID:      to.Ptr(assignment.PrincipalID),
			RoleDefinitionID: to.Ptr(assignment.RoleDefinitionID),
			PrincipalType:    to.Ptr(armauthorization.PrincipalTypeServicePrincipal),
		},
	}, nil)
	if err != nil {
		var respErr *azcore.ResponseError
		if errors.As(err, &respErr) && (respErr.StatusCode == http.StatusConflict || respErr.ErrorCode == roleAssignmentExistsCode) {
			return &assignment, nil
		}
		return nil, mapARMError(err, "roleAssignment", assignment.Name)
	}
	return &assignment, nil
}

// GetResource implements provision.ResourceProvider via a generic
// GetByID on the fully-qualified resource id.
func (p *Provider) GetResource(ctx context.Context, kind provision.ResourceKind, name string, scope provision.ScopeRef) (*provision.Resource, error) {
	apiVersion, ok := apiVersions[kind]
	if !ok {
		return nil, provision.ErrValidation(fmt.Sprintf("no api version for resource kind %q", kind))
	}

	lookup := scope
	lookup.ResourceKind = kind
	lookup.ResourceName = name
	resp, err := p.resources.GetByID(ctx, lookup.Path(), apiVersion, nil)
	if err != nil {
		return nil, mapARMError(err, string(kind), name)
	}

	res := &provision.Resource{
		ID:   deref(resp.ID),
		Name: deref(resp.Name),
		Kind: kind,
	}
	if props, ok := resp.Properties.(map[string]any); ok {
		if v, ok := props["principalId"].(string); ok {
			res.PrincipalID = v
		}
		if v, ok := props["clientId"].(string); ok {
			res.ClientID = v
		}
	}
	return res, nil
}

// mapARMError converts SDK errors to the engine's error taxonomy.
// Throttling and server-side failures are retryable; everything else is
// terminal at this layer.
func mapARMError(err error, kind, name string) error {
	var respErr *azcore.ResponseError
	if errors.As(err, &respErr) {
		switch {
		case respErr.StatusCode == http.StatusNotFound:
			return provision.ErrNotFound(kind, name).WithCause(err)
		case respErr.StatusCode == http.StatusConflict:
			return provision.ErrConflict(kind, name).WithCause(err)
		case respErr.StatusCode == http.StatusTooManyRequests || respErr.StatusCode >= 500:
			return provision.ErrProvisioning(fmt.Sprintf("transient request failure for %s %s", kind, name)).WithCause(err)
		default:
			return provision.ErrProvisioning(fmt.Sprintf("request failed for %s %s", kind, name)).
				WithCause(err).
				WithRetryable(false)
		}
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return provision.ErrTimeout(fmt.Sprintf("request timed out for %s %s", kind, name)).WithCause(err)
	}
	return provision.ErrProvisioning(fmt.Sprintf("request failed for %s %s", kind, name)).WithCause(err)
}

func toTagMap(tags map[string]string) map[string]*string {
	out := make(map[string]*string, len(tags))
	for k, v := range tags {
		out[k] = to.Ptr(v)
	}
	return out
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}
