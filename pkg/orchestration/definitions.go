package orchestration

import (
	_ "embed"
	"fmt"
	"os"

	"github.com/go-playground/validator/v10"
	perrors "github.com/lucid-vigil/secops/pkg/errors"
	"github.com/lucid-vigil/secops/pkg/types"
	"gopkg.in/yaml.v3"
)

//go:embed definitions.yaml
var builtinDefinitions []byte

// Definitions are the playbooks and policies the stage matches against.
type Definitions struct {
	Playbooks []types.Playbook `yaml:"playbooks" validate:"dive"`
	Policies  []types.Policy   `yaml:"policies" validate:"dive"`
}

// DefaultDefinitions returns the built-in sample playbooks and policies.
func DefaultDefinitions() Definitions {
	defs, err := ParseDefinitions(builtinDefinitions)
	if err != nil {
		panic(fmt.Sprintf("built-in definitions: %v", err))
	}
	return defs
}

// LoadDefinitions reads playbooks and policies from a YAML file.
func LoadDefinitions(path string) (Definitions, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Definitions{}, fmt.Errorf("reading definitions %s: %w", path, err)
	}
	defs, err := ParseDefinitions(data)
	if err != nil {
		return Definitions{}, fmt.Errorf("definitions %s: %w", path, err)
	}
	return defs, nil
}

// ParseDefinitions decodes and validates a YAML document.
func ParseDefinitions(data []byte) (Definitions, error) {
	var defs Definitions
	if err := yaml.Unmarshal(data, &defs); err != nil {
		return Definitions{}, fmt.Errorf("decoding yaml: %w", err)
	}
	if err := validator.New().Struct(defs); err != nil {
		return Definitions{}, perrors.NewValidationError("orchestration", err)
	}
	return defs, nil
}
