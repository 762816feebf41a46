package provision

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
)

// ResourceProvider is the external cloud resource provider. The engine
// requires only create-or-get / create-or-update semantics and read
// access to already-provisioned resource identifiers: it never deletes.
//
// "Already exists" is success for every method; implementations must
// return the existing resource rather than a conflict error.
type ResourceProvider interface {
	// Name returns the provider identifier (e.g. "azure").
	Name() string

	// CreateOrGetResourceGroup ensures a resource group exists.
	CreateOrGetResourceGroup(ctx context.Context, name, location string, tags map[string]string) (*ResourceGroup, error)

	// CreateOrGetManagedIdentity ensures a user-assigned identity exists
	// in the resource group and returns its identifiers.
	CreateOrGetManagedIdentity(ctx context.Context, resourceGroup, name, location string, tags map[string]string) (*ManagedIdentity, error)

	// CreateOrUpdateFederatedCredential upserts an OIDC trust binding on
	// an identity. Re-creation with an identical subject is an update.
	CreateOrUpdateFederatedCredential(ctx context.Context, resourceGroup, identityName string, cred FederatedCredential) (*FederatedCredential, error)

	// CreateOrUpdateRoleAssignment upserts a role assignment under its
	// deterministic name. Identical triples are safe no-ops.
	CreateOrUpdateRoleAssignment(ctx context.Context, assignment RoleAssignment) (*RoleAssignment, error)

	// GetResource resolves a live reference to an existing resource for
	// cross-scope existence checks. Absent resources yield a not-found
	// category error.
	GetResource(ctx context.Context, kind ResourceKind, name string, scope ScopeRef) (*Resource, error)
}

// Provider registry. Concrete providers register themselves by name,
// typically from init() functions, and the CLI selects one per run.

var (
	registryMu sync.RWMutex
	registry   = make(map[string]ResourceProvider)
)

// RegisterProvider adds a provider to the registry.
func RegisterProvider(p ResourceProvider) error {
	registryMu.Lock()
	defer registryMu.Unlock()

	if _, exists := registry[p.Name()]; exists {
		return fmt.Errorf("provider already registered: %s", p.Name())
	}
	registry[p.Name()] = p
	return nil
}

// GetProvider retrieves a registered provider by name.
func GetProvider(name string) (ResourceProvider, error) {
	registryMu.RLock()
	defer registryMu.RUnlock()

	p, exists := registry[name]
	if !exists {
		return nil, ErrNotFound("provider", name)
	}
	return p, nil
}

// Providers returns all registered provider names.
func Providers() []string {
	registryMu.RLock()
	defer registryMu.RUnlock()

	names := make([]string, 0, len(registry))
	for name := range registry {
		names = append(names, name)
	}
	return names
}

// RetryConfig bounds the exponential backoff applied to provider calls.
type RetryConfig struct {
	// InitialInterval is the first backoff interval.
	InitialInterval time.Duration

	// MaxElapsed caps the total retry time per call. Zero disables the cap.
	MaxElapsed time.Duration

	// MaxRetries caps the retry count per call.
	MaxRetries uint64
}

// DefaultRetryConfig is used when no retry config is supplied.
var DefaultRetryConfig = RetryConfig{
	InitialInterval: 500 * time.Millisecond,
	MaxElapsed:      2 * time.Minute,
	MaxRetries:      5,
}

// retryingProvider decorates a ResourceProvider with bounded exponential
// backoff. Only retryable errors (provisioning, timeout) are retried;
// validation, federation, scope and not-found errors pass through.
type retryingProvider struct {
	inner ResourceProvider
	cfg   RetryConfig
	log   *slog.Logger
}

// WithRetry wraps a provider in the retry decorator.
func WithRetry(p ResourceProvider, cfg RetryConfig, log *slog.Logger) ResourceProvider {
	if log == nil {
		log = slog.Default()
	}
	return &retryingProvider{inner: p, cfg: cfg, log: log}
}

func (r *retryingProvider) Name() string {
	return r.inner.Name()
}

// retry runs op under the configured backoff policy.
func retry[T any](ctx context.Context, r *retryingProvider, operation string, op func() (T, error)) (T, error) {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = r.cfg.InitialInterval
	b.MaxElapsedTime = r.cfg.MaxElapsed

	var policy backoff.BackOff = b
	if r.cfg.MaxRetries > 0 {
		policy = backoff.WithMaxRetries(b, r.cfg.MaxRetries)
	}
	policy = backoff.WithContext(policy, ctx)

	result, err := backoff.RetryNotifyWithData(
		func() (T, error) {
			v, err := op()
			if err != nil && !IsRetryable(err) {
				return v, backoff.Permanent(err)
			}
			return v, err
		},
		policy,
		func(err error, next time.Duration) {
			r.log.Warn("provider call failed, retrying",
				"operation", operation,
				"retry_in", next,
				"error", err)
		},
	)
	if err != nil {
		if IsRetryable(err) {
			var zero T
			return zero, ErrProvisioning("retries exhausted").
				WithOperation(operation).
				WithCause(err).
				WithRetryable(false)
		}
		var zero T
		return zero, err
	}
	return result, nil
}

func (r *retryingProvider) CreateOrGetResourceGroup(ctx context.Context, name, location string, tags map[string]string) (*ResourceGroup, error) {
	return retry(ctx, r, "CreateOrGetResourceGroup", func() (*ResourceGroup, error) {
		return r.inner.CreateOrGetResourceGroup(ctx, name, location, tags)
	})
}

func (r *retryingProvider) CreateOrGetManagedIdentity(ctx context.Context, resourceGroup, name, location string, tags map[string]string) (*ManagedIdentity, error) {
	return retry(ctx, r, "CreateOrGetManagedIdentity", func() (*ManagedIdentity, error) {
		return r.inner.CreateOrGetManagedIdentity(ctx, resourceGroup, name, location, tags)
	})
}

func (r *retryingProvider) CreateOrUpdateFederatedCredential(ctx context.Context, resourceGroup, identityName string, cred FederatedCredential) (*FederatedCredential, error) {
	return retry(ctx, r, "CreateOrUpdateFederatedCredential", func() (*FederatedCredential, error) {
		return r.inner.CreateOrUpdateFederatedCredential(ctx, resourceGroup, identityName, cred)
	})
}

func (r *retryingProvider) CreateOrUpdateRoleAssignment(ctx context.Context, assignment RoleAssignment) (*RoleAssignment, error) {
	return retry(ctx, r, "CreateOrUpdateRoleAssignment", func() (*RoleAssignment, error) {
		return r.inner.CreateOrUpdateRoleAssignment(ctx, assignment)
	})
}

func (r *retryingProvider) GetResource(ctx context.Context, kind ResourceKind, name string, scope ScopeRef) (*Resource, error) {
	return retry(ctx, r, "GetResource", func() (*Resource, error) {
		return r.inner.GetResource(ctx, kind, name, scope)
	})
}
