// Package nodes holds helpers shared by the built-in node runners.
package nodes

import (
	"encoding/json"
	"fmt"

	"github.com/go-playground/validator/v10"
	"github.com/tallybook/automation/pkg/automation"
)

var validate = validator.New(validator.WithRequiredStructEnabled())

// DecodeConfig converts an opaque node config into a typed config struct and
// validates its struct tags.
func DecodeConfig(config map[string]any, out any) error {
	if config == nil {
		config = map[string]any{}
	}

	raw, err := json.Marshal(config)
	if err != nil {
		return fmt.Errorf("failed to encode node config: %w", err)
	}

	err = json.Unmarshal(raw, out)
	if err != nil {
		return fmt.Errorf("failed to decode node config: %w", err)
	}

	err = validate.Struct(out)
	if err != nil {
		return fmt.Errorf("invalid node config: %w", err)
	}

	return nil
}

// TemplateData returns the template data for a node execution. Without an
// automation context only the input is available.
func TemplateData(actx *automation.Context, input map[string]any) map[string]any {
	if actx != nil && actx.Subject != nil {
		return actx.ToTemplateData(input)
	}

	data := make(map[string]any, len(input))
	for key, value := range input {
		data[key] = value
	}

	return data
}
