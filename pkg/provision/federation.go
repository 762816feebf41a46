package provision

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
)

const (
	// DefaultIssuer is the fixed OIDC issuer the engine federates with.
	DefaultIssuer = "https://token.actions.githubusercontent.com"

	// TokenExchangeAudience is the fixed token-exchange audience.
	TokenExchangeAudience = "api://AzureADTokenExchange"
)

// FederationConfig identifies the CI/CD repository whose tokens the
// federated credentials trust.
type FederationConfig struct {
	// Org is the repository organization.
	Org string

	// Repo is the repository name.
	Repo string
}

// FederationBinder attaches OIDC federated-credential trust to identities
// that request it. Binds are idempotent: credential names derive
// deterministically from (identity, kind, target), so a repeated bind is
// an update, never a duplicate.
type FederationBinder struct {
	provider ResourceProvider
	config   FederationConfig
	log      *slog.Logger
}

// FederationBinderOption configures the FederationBinder.
type FederationBinderOption func(*FederationBinder)

// WithFederationLogger sets the logger.
func WithFederationLogger(log *slog.Logger) FederationBinderOption {
	return func(b *FederationBinder) {
		b.log = log
	}
}

// NewFederationBinder creates a FederationBinder.
func NewFederationBinder(provider ResourceProvider, config FederationConfig, opts ...FederationBinderOption) *FederationBinder {
	b := &FederationBinder{
		provider: provider,
		config:   config,
		log:      slog.Default(),
	}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

// Subject builds the trust-pattern subject for one federation kind. The
// result must exactly match one of the issuer's token subject formats.
func (b *FederationBinder) Subject(kind FederationKind, target string) (string, error) {
	if b.config.Org == "" || b.config.Repo == "" {
		return "", ErrFederation("federation org and repo must be set").
			WithDetail("org", b.config.Org).
			WithDetail("repo", b.config.Repo)
	}
	if target == "" {
		return "", ErrFederation(fmt.Sprintf("federation target is required for kind %q", kind))
	}

	switch kind {
	case FederationEnvironment:
		return fmt.Sprintf("repo:%s/%s:environment:%s", b.config.Org, b.config.Repo, target), nil
	case FederationBranch:
		return fmt.Sprintf("repo:%s/%s:ref:refs/heads/%s", b.config.Org, b.config.Repo, target), nil
	default:
		return "", ErrFederation(fmt.Sprintf("unknown federation kind: %q", kind))
	}
}

// CredentialName derives the deterministic credential name for one
// (identity, kind, target). Branch targets may contain slashes, which the
// credential charset forbids.
func CredentialName(identityName string, kind FederationKind, target string) string {
	safe := strings.ReplaceAll(target, "/", "-")
	return fmt.Sprintf("%s-%s-%s", identityName, kind, safe)
}

// Bind creates or updates one federated credential per requested kind.
// An empty kind set returns an empty slice: federation is optional per
// identity.
func (b *FederationBinder) Bind(ctx context.Context, resourceGroup string, identity ManagedIdentity, spec WorkloadIdentitySpec) ([]FederatedCredential, error) {
	if len(spec.FederationKinds) == 0 {
		return []FederatedCredential{}, nil
	}

	creds := make([]FederatedCredential, 0, len(spec.FederationKinds))
	for _, kind := range spec.FederationKinds {
		subject, err := b.Subject(kind, spec.FederationTarget)
		if err != nil {
			var pErr *ProvisionError
			if !errors.As(err, &pErr) {
				pErr = ErrFederation(err.Error())
			}
			return nil, pErr.WithSpecKey(spec.Key).WithStage(StageFederated)
		}

		cred := FederatedCredential{
			ParentIdentity: identity.Name,
			Name:           CredentialName(identity.Name, kind, spec.FederationTarget),
			Issuer:         DefaultIssuer,
			Subject:        subject,
			Audiences:      []string{TokenExchangeAudience},
		}

		created, err := b.provider.CreateOrUpdateFederatedCredential(ctx, resourceGroup, identity.Name, cred)
		if err != nil {
			return nil, ErrProvisioning("create-or-update federated credential failed").
				WithSpecKey(spec.Key).
				WithStage(StageFederated).
				WithOperation("CreateOrUpdateFederatedCredential").
				WithCause(err)
		}
		b.log.Debug("federated credential bound",
			"key", spec.Key,
			"credential", created.Name,
			"subject", created.Subject)
		creds = append(creds, *created)
	}
	return creds, nil
}
