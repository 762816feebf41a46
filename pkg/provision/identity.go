package provision

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"golang.org/x/sync/errgroup"
)

// defaultParallelism bounds identity creation fan-out.
const defaultParallelism = 4

// IdentityManager creates or looks up managed identities from a spec
// list. It holds no state across calls: every Ensure re-resolves current
// provider state through create-or-get semantics.
type IdentityManager struct {
	provider    ResourceProvider
	resolver    *Resolver
	tags        *TagPolicy
	projectCode string
	location    string
	parallelism int
	baseTags    TagInputs
	log         *slog.Logger
}

// IdentityManagerOption configures the IdentityManager.
type IdentityManagerOption func(*IdentityManager)

// WithParallelism bounds concurrent identity creation.
func WithParallelism(n int) IdentityManagerOption {
	return func(m *IdentityManager) {
		if n > 0 {
			m.parallelism = n
		}
	}
}

// WithBaseTagInputs sets run-level tag inputs (cost center, owner and
// the like) merged into every identity's tags.
func WithBaseTagInputs(in TagInputs) IdentityManagerOption {
	return func(m *IdentityManager) {
		m.baseTags = in
	}
}

// WithIdentityLogger sets the logger.
func WithIdentityLogger(log *slog.Logger) IdentityManagerOption {
	return func(m *IdentityManager) {
		m.log = log
	}
}

// NewIdentityManager creates an IdentityManager.
func NewIdentityManager(provider ResourceProvider, resolver *Resolver, tags *TagPolicy, projectCode, location string, opts ...IdentityManagerOption) *IdentityManager {
	m := &IdentityManager{
		provider:    provider,
		resolver:    resolver,
		tags:        tags,
		projectCode: projectCode,
		location:    location,
		parallelism: defaultParallelism,
		log:         slog.Default(),
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// ResolveName resolves the canonical identity name for a spec.
func (m *IdentityManager) ResolveName(spec WorkloadIdentitySpec) (string, error) {
	name, err := m.resolver.Resolve(ResourceNameRequest{
		ProjectCode:  m.projectCode,
		Environment:  spec.Environment,
		ServiceCode:  spec.ServiceCode,
		ResourceType: TypeManagedIdentity,
		Suffix:       spec.Key,
	})
	if err != nil {
		var pErr *ProvisionError
		if !errors.As(err, &pErr) {
			pErr = ErrValidation(err.Error())
		}
		return "", pErr.WithSpecKey(spec.Key).WithStage(StageNameResolved)
	}
	return name, nil
}

// Ensure creates or looks up one managed identity per spec, fanning out
// across independent specs. Calling it twice with an unchanged spec list
// yields the same identity set with zero additional provider mutations.
// A missing key on return is a fatal provisioning error, so callers can
// index the map without presence checks.
func (m *IdentityManager) Ensure(ctx context.Context, resourceGroup string, correlationID string, specs []WorkloadIdentitySpec) (map[string]ManagedIdentity, error) {
	var mu sync.Mutex
	identities := make(map[string]ManagedIdentity, len(specs))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(m.parallelism)

	for _, spec := range specs {
		spec := spec
		g.Go(func() error {
			identity, err := m.EnsureOne(gctx, resourceGroup, correlationID, spec)
			if err != nil {
				return err
			}
			mu.Lock()
			identities[spec.Key] = *identity
			mu.Unlock()
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return nil, err
	}

	for _, spec := range specs {
		if _, ok := identities[spec.Key]; !ok {
			return nil, ErrProvisioning(fmt.Sprintf("identity missing for spec key %q", spec.Key)).
				WithSpecKey(spec.Key).
				WithStage(StageCreated).
				WithRetryable(false)
		}
	}
	return identities, nil
}

// EnsureOne resolves one spec's name and requests create-or-get.
func (m *IdentityManager) EnsureOne(ctx context.Context, resourceGroup, correlationID string, spec WorkloadIdentitySpec) (*ManagedIdentity, error) {
	name, err := m.ResolveName(spec)
	if err != nil {
		return nil, err
	}

	in := m.baseTags
	in.Environment = spec.Environment
	in.Project = m.projectCode
	in.Service = spec.ServiceCode
	in.CorrelationID = correlationID
	tags := m.tags.BuildTags(in)

	identity, err := m.provider.CreateOrGetManagedIdentity(ctx, resourceGroup, name, m.location, tags)
	if err != nil {
		if IsCategory(err, CategoryConflict) {
			// Already exists is success; re-read through create-or-get.
			identity, err = m.provider.CreateOrGetManagedIdentity(ctx, resourceGroup, name, m.location, tags)
		}
		if err != nil {
			pErr := ErrProvisioning("create-or-get managed identity failed").
				WithSpecKey(spec.Key).
				WithStage(StageCreated).
				WithOperation("CreateOrGetManagedIdentity").
				WithCause(err)
			return nil, pErr
		}
	}

	m.log.Debug("identity ensured",
		"key", spec.Key,
		"name", identity.Name,
		"principal_id", identity.PrincipalID)
	return identity, nil
}

// Lookup fetches an identity that already exists (e.g. one auto-created
// by a parent resource) without issuing a create.
func (m *IdentityManager) Lookup(ctx context.Context, name string, scope ScopeRef) (*ManagedIdentity, error) {
	res, err := m.provider.GetResource(ctx, KindManagedIdentity, name, scope)
	if err != nil {
		return nil, err
	}
	return &ManagedIdentity{
		Name:        res.Name,
		PrincipalID: res.PrincipalID,
		ClientID:    res.ClientID,
		ResourceID:  res.ID,
	}, nil
}
