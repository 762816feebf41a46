package azure

import (
	"context"
	"errors"
	"net/http"
	"testing"

	"github.com/Azure/azure-sdk-for-go/sdk/azcore"
	"github.com/stretchr/testify/assert"

	"github.com/anirudhbiyani/cloud-provision/pkg/provision"
)

func TestMapARMError(t *testing.T) {
	tests := []struct {
		name          string
		err           error
		wantCategory  provision.ErrorCategory
		wantRetryable bool
	}{
		{
			name:         "not found",
			err:          &azcore.ResponseError{StatusCode: http.StatusNotFound},
			wantCategory: provision.CategoryNotFound,
		},
		{
			name:         "conflict",
			err:          &azcore.ResponseError{StatusCode: http.StatusConflict, ErrorCode: "RoleAssignmentExists"},
			wantCategory: provision.CategoryConflict,
		},
		{
			name:          "throttled",
			err:           &azcore.ResponseError{StatusCode: http.StatusTooManyRequests},
			wantCategory:  provision.CategoryProvisioning,
			wantRetryable: true,
		},
		{
			name:          "server error",
			err:           &azcore.ResponseError{StatusCode: http.StatusServiceUnavailable},
			wantCategory:  provision.CategoryProvisioning,
			wantRetryable: true,
		},
		{
			name:         "client error",
			err:          &azcore.ResponseError{StatusCode: http.StatusForbidden},
			wantCategory: provision.CategoryProvisioning,
		},
		{
			name:          "deadline exceeded",
			err:           context.DeadlineExceeded,
			wantCategory:  provision.CategoryTimeout,
			wantRetryable: true,
		},
		{
			name:          "plain error",
			err:           errors.New("dial tcp: timeout"),
			wantCategory:  provision.CategoryProvisioning,
			wantRetryable: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			mapped := mapARMError(tt.err, "registry", "abcdapicr")
			assert.True(t, provision.IsCategory(mapped, tt.wantCategory), "got %v", mapped)
			assert.Equal(t, tt.wantRetryable, provision.IsRetryable(mapped))
			assert.ErrorIs(t, mapped, tt.err)
		})
	}
}

func TestAPIVersionsCoverLookupKinds(t *testing.T) {
	for _, kind := range []provision.ResourceKind{
		provision.KindManagedIdentity,
		provision.KindRegistry,
		provision.KindVault,
		provision.KindDatabase,
		provision.KindCluster,
	} {
		assert.NotEmpty(t, apiVersions[kind], "kind %s", kind)
	}
}

func TestToTagMap(t *testing.T) {
	got := toTagMap(map[string]string{"environment": "dev", "project": "abc"})
	assert.Len(t, got, 2)
	assert.Equal(t, "dev", *got["environment"])
	assert.Equal(t, "abc", *got["project"])
}
