// Package transform provides the node runner that reshapes data for later nodes.
package transform

import (
	"context"

	"github.com/tallybook/automation/pkg/automation"
	"github.com/tallybook/automation/pkg/models"
	"github.com/tallybook/automation/pkg/nodes"
	"github.com/tallybook/automation/pkg/template"
)

// Config is the transform node configuration. Each field value is resolved
// against the template data; a value made of a single placeholder keeps the
// type of the referenced field.
type Config struct {
	Fields map[string]any `json:"fields" validate:"required,min=1"`
}

// Runner builds its output from templated fields.
type Runner struct{}

// NewRunner creates a transform runner.
func NewRunner() *Runner {
	return &Runner{}
}

func (r *Runner) Type() string {
	return models.NodeTypeTransform
}

func (r *Runner) Name() string {
	return "Transform"
}

func (r *Runner) Description() string {
	return "Builds a new object from the subject and the previous node output for use by later nodes."
}

func (r *Runner) Schema() map[string]any {
	return map[string]any{
		"type": "object",
		"properties": map[string]any{
			"fields": map[string]any{
				"type":          "object",
				"description":   "Output fields, values may reference {{ }} placeholders",
				"minProperties": 1,
				"examples": []map[string]any{
					{"customer": "{{contact.name}}", "amount": "{{invoice.total}}"},
				},
			},
		},
		"required": []string{"fields"},
	}
}

func (r *Runner) Run(_ context.Context, actx *automation.Context, config map[string]any, input map[string]any) (models.NodeResult, error) {
	var cfg Config

	err := nodes.DecodeConfig(config, &cfg)
	if err != nil {
		return models.Failed(err.Error(), nil), nil
	}

	data := nodes.TemplateData(actx, input)

	output, _ := template.Resolve(cfg.Fields, data).(map[string]any)

	return models.Succeed(output), nil
}
