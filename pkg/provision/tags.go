package provision

import "time"

// Governance tag keys. The set is fixed; every provisioned resource
// carries all of them.
const (
	TagEnvironment   = "environment"
	TagProject       = "project"
	TagService       = "service"
	TagCostCenter    = "costCenter"
	TagCreatedBy     = "createdBy"
	TagOwner         = "owner"
	TagOwnerEmail    = "ownerEmail"
	TagCreatedDate   = "createdDate"
	TagManagedBy     = "managedBy"
	TagCorrelationID = "deploymentCorrelationId"
)

// managedByValue identifies resources provisioned by this engine.
const managedByValue = "cloud-provision"

// TagInputs are the caller-supplied tag values. CorrelationID comes from
// the enclosing deployment run, not generated here, so the policy stays
// pure and testable.
type TagInputs struct {
	Environment   Environment
	Project       string
	Service       string
	CostCenter    string
	CreatedBy     string
	Owner         string
	OwnerEmail    string
	CorrelationID string
}

// TagPolicy builds the canonical governance tag set.
type TagPolicy struct {
	now func() time.Time
}

// TagPolicyOption configures a TagPolicy.
type TagPolicyOption func(*TagPolicy)

// WithClock injects the time source used for createdDate.
func WithClock(now func() time.Time) TagPolicyOption {
	return func(p *TagPolicy) {
		p.now = now
	}
}

// NewTagPolicy creates a tag policy. The default clock is UTC wall time.
func NewTagPolicy(opts ...TagPolicyOption) *TagPolicy {
	p := &TagPolicy{now: time.Now}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// BuildTags emits the fixed governance key set. createdDate is the
// current UTC date from the injected clock.
func (p *TagPolicy) BuildTags(in TagInputs) map[string]string {
	return map[string]string{
		TagEnvironment:   string(in.Environment),
		TagProject:       in.Project,
		TagService:       in.Service,
		TagCostCenter:    in.CostCenter,
		TagCreatedBy:     in.CreatedBy,
		TagOwner:         in.Owner,
		TagOwnerEmail:    in.OwnerEmail,
		TagCreatedDate:   p.now().UTC().Format("2006-01-02"),
		TagManagedBy:     managedByValue,
		TagCorrelationID: in.CorrelationID,
	}
}
