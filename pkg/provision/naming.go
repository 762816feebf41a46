package provision

import (
	"errors"
	"fmt"
	"strings"

	"github.com/go-playground/validator/v10"
)

// ResourceType is the resource-type code embedded in a resource name.
type ResourceType string

const (
	TypeResourceGroup   ResourceType = "rg"
	TypeManagedIdentity ResourceType = "id"
	TypeRegistry        ResourceType = "cr"
	TypeVault           ResourceType = "kv"
	TypeDatabase        ResourceType = "db"
	TypeCluster         ResourceType = "aks"
	TypeLogWorkspace    ResourceType = "log"
	TypeAppService      ResourceType = "app"
)

// restrictedTypes are resource types whose published naming rules forbid
// dashes (lowercase alphanumeric only). Names for these are sanitized.
var restrictedTypes = map[ResourceType]bool{
	TypeRegistry: true,
	TypeVault:    true,
	TypeDatabase: true,
}

// ResourceNameRequest carries the inputs of one name resolution.
type ResourceNameRequest struct {
	// ProjectCode is the short project identifier, 2-3 lowercase letters.
	ProjectCode string `validate:"required,lowercase,alpha,min=2,max=3"`

	// Environment selects the environment code.
	Environment Environment `validate:"required,oneof=dev prod shared"`

	// ServiceCode is the service identifier, 2-4 lowercase letters.
	ServiceCode string `validate:"required,lowercase,alpha,min=2,max=4"`

	// ResourceType is the type code appended after the service code.
	ResourceType ResourceType `validate:"required"`

	// Suffix is an optional free-form name component.
	Suffix string `validate:"omitempty,lowercase,alphanum"`

	// Sequence is an optional two-digit ordinal.
	Sequence string `validate:"omitempty,len=2,number"`
}

// Resolver produces canonical, sanitized resource names. Resolution is a
// pure function: identical requests always yield identical names.
type Resolver struct {
	validate *validator.Validate
}

// NewResolver creates a name resolver.
func NewResolver() *Resolver {
	return &Resolver{validate: validator.New()}
}

// Resolve validates the request and builds the canonical name
// {project}-{env}-{service}-{type}[-{suffix}][-{seq}], lowercased.
// Restricted resource types get all dashes stripped.
func (r *Resolver) Resolve(req ResourceNameRequest) (string, error) {
	if err := r.validate.Struct(req); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) && len(verrs) > 0 {
			field := verrs[0].Field()
			return "", ErrValidation(fmt.Sprintf("invalid %s: %v fails %q constraint", field, verrs[0].Value(), verrs[0].Tag())).
				WithDetail("field", field).
				WithCause(err)
		}
		return "", ErrValidation("invalid resource name request").WithCause(err)
	}

	envCode, err := req.Environment.Code()
	if err != nil {
		return "", err
	}

	parts := []string{req.ProjectCode, envCode, req.ServiceCode, string(req.ResourceType)}
	if req.Suffix != "" {
		parts = append(parts, req.Suffix)
	}
	if req.Sequence != "" {
		parts = append(parts, req.Sequence)
	}
	name := strings.ToLower(strings.Join(parts, "-"))

	if restrictedTypes[req.ResourceType] {
		name = strings.ToLower(strings.ReplaceAll(name, "-", ""))
	}
	return name, nil
}

// IsRestricted reports whether names for the resource type are sanitized
// to the restricted (dashless, lowercase) charset.
func IsRestricted(t ResourceType) bool {
	return restrictedTypes[t]
}
