package provision

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"
)

// SpecFile is the on-disk format of a provisioning run input.
type SpecFile struct {
	// Identities is the workload identity spec list.
	Identities []WorkloadIdentitySpec `json:"identities" yaml:"identities" validate:"required,min=1,dive"`
}

// LoadSpecFile reads and validates a spec file. YAML and JSON are
// accepted, chosen by extension (.json means JSON, everything else YAML).
func LoadSpecFile(path string) (*SpecFile, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, ErrValidation(fmt.Sprintf("cannot read spec file %s", path)).WithCause(err)
	}
	return ParseSpecFile(data, strings.ToLower(filepath.Ext(path)) == ".json")
}

// ParseSpecFile decodes and validates spec file contents.
func ParseSpecFile(data []byte, asJSON bool) (*SpecFile, error) {
	var file SpecFile
	if asJSON {
		if err := json.Unmarshal(data, &file); err != nil {
			return nil, ErrValidation("invalid JSON spec file").WithCause(err)
		}
	} else {
		if err := yaml.Unmarshal(data, &file); err != nil {
			return nil, ErrValidation("invalid YAML spec file").WithCause(err)
		}
	}

	if err := validateSpecFile(&file); err != nil {
		return nil, err
	}
	return &file, nil
}

// validateSpecFile runs field validation and cross-spec checks.
func validateSpecFile(file *SpecFile) error {
	if err := validator.New().Struct(file); err != nil {
		return ErrValidation("spec file failed validation").WithCause(err)
	}
	if err := validateSpecList(file.Identities); err != nil {
		return err
	}
	for _, spec := range file.Identities {
		if len(spec.FederationKinds) > 0 && spec.FederationTarget == "" {
			return ErrFederation(fmt.Sprintf("spec %q requests federation without a target", spec.Key)).
				WithSpecKey(spec.Key)
		}
	}
	return nil
}
