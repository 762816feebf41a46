package provision

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSubjectFormats(t *testing.T) {
	b := NewFederationBinder(newFakeProvider(), FederationConfig{Org: "acme", Repo: "app"})

	tests := []struct {
		name   string
		kind   FederationKind
		target string
		want   string
	}{
		{"environment", FederationEnvironment, "dev", "repo:acme/app:environment:dev"},
		{"branch", FederationBranch, "main", "repo:acme/app:ref:refs/heads/main"},
		{"nested branch", FederationBranch, "release/v2", "repo:acme/app:ref:refs/heads/release/v2"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := b.Subject(tt.kind, tt.target)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestSubjectRejectsBadInputs(t *testing.T) {
	tests := []struct {
		name   string
		config FederationConfig
		kind   FederationKind
		target string
	}{
		{"missing org", FederationConfig{Repo: "app"}, FederationEnvironment, "dev"},
		{"missing repo", FederationConfig{Org: "acme"}, FederationEnvironment, "dev"},
		{"missing target", FederationConfig{Org: "acme", Repo: "app"}, FederationBranch, ""},
		{"unknown kind", FederationConfig{Org: "acme", Repo: "app"}, FederationKind("tag"), "v1"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			b := NewFederationBinder(newFakeProvider(), tt.config)
			_, err := b.Subject(tt.kind, tt.target)
			require.Error(t, err)
			assert.True(t, IsCategory(err, CategoryFederation))
		})
	}
}

func TestCredentialNameFlattensSlashes(t *testing.T) {
	got := CredentialName("abc-d-api-id-ci", FederationBranch, "release/v2")
	assert.Equal(t, "abc-d-api-id-ci-branch-release-v2", got)
	assert.NotContains(t, got, "/")
}

func TestBindWithoutKindsIsNoOp(t *testing.T) {
	fake := newFakeProvider()
	b := NewFederationBinder(fake, FederationConfig{Org: "acme", Repo: "app"})

	creds, err := b.Bind(context.Background(), "rg-home", ManagedIdentity{Name: "id-1"}, WorkloadIdentitySpec{Key: "k8s"})
	require.NoError(t, err)
	assert.Empty(t, creds)
	assert.Zero(t, fake.callCount("CreateOrUpdateFederatedCredential"))
}

func TestBindCreatesOneCredentialPerKind(t *testing.T) {
	fake := newFakeProvider()
	b := NewFederationBinder(fake, FederationConfig{Org: "acme", Repo: "app"})

	spec := WorkloadIdentitySpec{
		Key:              "push",
		FederationKinds:  []FederationKind{FederationEnvironment, FederationBranch},
		FederationTarget: "dev",
	}
	identity := ManagedIdentity{Name: "abc-d-push-id-push"}

	creds, err := b.Bind(context.Background(), "rg-home", identity, spec)
	require.NoError(t, err)
	require.Len(t, creds, 2)

	assert.Equal(t, "repo:acme/app:environment:dev", creds[0].Subject)
	assert.Equal(t, "repo:acme/app:ref:refs/heads/dev", creds[1].Subject)
	for _, c := range creds {
		assert.Equal(t, DefaultIssuer, c.Issuer)
		assert.Equal(t, []string{TokenExchangeAudience}, c.Audiences)
		assert.Equal(t, identity.Name, c.ParentIdentity)
	}
}

func TestBindIsIdempotent(t *testing.T) {
	fake := newFakeProvider()
	b := NewFederationBinder(fake, FederationConfig{Org: "acme", Repo: "app"})

	spec := WorkloadIdentitySpec{
		Key:              "push",
		FederationKinds:  []FederationKind{FederationEnvironment},
		FederationTarget: "prod",
	}
	identity := ManagedIdentity{Name: "abc-p-push-id-push"}

	first, err := b.Bind(context.Background(), "rg-home", identity, spec)
	require.NoError(t, err)
	second, err := b.Bind(context.Background(), "rg-home", identity, spec)
	require.NoError(t, err)

	assert.Equal(t, first, second)
	assert.Equal(t, 1, fake.mutationCount())
}
