package provision

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestProvisionErrorMessage(t *testing.T) {
	err := ErrProvisioning("create failed").
		WithSpecKey("k8s").
		WithStage(StageCreated).
		WithCause(errors.New("boom"))

	msg := err.Error()
	assert.Contains(t, msg, "k8s")
	assert.Contains(t, msg, "provisioning")
	assert.Contains(t, msg, "stage Created")
	assert.Contains(t, msg, "boom")
}

func TestProvisionErrorUnwrap(t *testing.T) {
	cause := errors.New("underlying")
	err := ErrFederation("bad subject").WithCause(cause)

	assert.ErrorIs(t, err, cause)

	wrapped := fmt.Errorf("pipeline: %w", err)
	var pErr *ProvisionError
	require.ErrorAs(t, wrapped, &pErr)
	assert.Equal(t, CategoryFederation, pErr.Category)
	assert.True(t, IsCategory(wrapped, CategoryFederation))
}

func TestErrorRetryability(t *testing.T) {
	assert.True(t, IsRetryable(ErrProvisioning("transient")))
	assert.True(t, IsRetryable(ErrTimeout("slow")))
	assert.False(t, IsRetryable(ErrValidation("bad")))
	assert.False(t, IsRetryable(ErrProvisioning("terminal").WithRetryable(false)))
	assert.False(t, IsRetryable(errors.New("plain")))
}

func TestErrorDetails(t *testing.T) {
	err := ErrNotFound("registry", "abcdapicr")
	assert.Equal(t, "registry", err.Details["kind"])
	assert.Equal(t, "abcdapicr", err.Details["name"])

	scoped := ErrScopeUnresolved("/subscriptions/s/resourceGroups/rg")
	assert.Equal(t, CategoryScopeUnresolved, scoped.Category)
	assert.Contains(t, scoped.Message, "does not exist yet")
}
