package provision

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBuildTagsEmitsFixedKeySet(t *testing.T) {
	fixed := time.Date(2026, 3, 14, 9, 26, 53, 0, time.UTC)
	policy := NewTagPolicy(WithClock(func() time.Time { return fixed }))

	tags := policy.BuildTags(TagInputs{
		Environment:   EnvironmentProd,
		Project:       "abc",
		Service:       "api",
		CostCenter:    "cc-123",
		CreatedBy:     "pipeline",
		Owner:         "platform",
		OwnerEmail:    "platform@example.com",
		CorrelationID: "run-1",
	})

	want := map[string]string{
		TagEnvironment:   "prod",
		TagProject:       "abc",
		TagService:       "api",
		TagCostCenter:    "cc-123",
		TagCreatedBy:     "pipeline",
		TagOwner:         "platform",
		TagOwnerEmail:    "platform@example.com",
		TagCreatedDate:   "2026-03-14",
		TagManagedBy:     "cloud-provision",
		TagCorrelationID: "run-1",
	}
	assert.Equal(t, want, tags)
}

func TestBuildTagsDateComesFromClock(t *testing.T) {
	// A non-UTC clock still yields the UTC calendar date.
	loc, err := time.LoadLocation("America/New_York")
	require.NoError(t, err)
	late := time.Date(2026, 6, 30, 23, 30, 0, 0, loc)

	policy := NewTagPolicy(WithClock(func() time.Time { return late }))
	tags := policy.BuildTags(TagInputs{Environment: EnvironmentDev})
	assert.Equal(t, "2026-07-01", tags[TagCreatedDate])
}

func TestBuildTagsKeyCountIsStable(t *testing.T) {
	policy := NewTagPolicy()
	tags := policy.BuildTags(TagInputs{})
	assert.Len(t, tags, 10)
}
