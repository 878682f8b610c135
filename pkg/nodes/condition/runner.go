// Package condition provides the branching node runner.
package condition

import (
	"context"
	"strings"

	"github.com/tallybook/automation/pkg/automation"
	"github.com/tallybook/automation/pkg/models"
	"github.com/tallybook/automation/pkg/nodes"
	"github.com/tallybook/automation/pkg/template"
)

// Config is the condition node configuration.
type Config struct {
	Field    string `json:"field"    validate:"required"`
	Operator string `json:"operator" validate:"required"`
	Value    any    `json:"value"`
}

// Runner evaluates a comparison and yields the "true" or "false" branch.
type Runner struct{}

// NewRunner creates a condition runner.
func NewRunner() *Runner {
	return &Runner{}
}

func (r *Runner) Type() string {
	return models.NodeTypeCondition
}

func (r *Runner) Name() string {
	return "Condition"
}

func (r *Runner) Description() string {
	return "Compares a run-time field against a value and routes execution to the true or false branch."
}

func (r *Runner) Schema() map[string]any {
	return map[string]any{
		"type": "object",
		"properties": map[string]any{
			"field": map[string]any{
				"type":        "string",
				"description": "Dotted path of the value to compare, optionally wrapped in {{ }}",
				"examples":    []string{"{{invoice.total}}", "last_node.output.status_code"},
			},
			"operator": map[string]any{
				"type": "string",
				"description": "Comparison to apply. An unknown operator evaluates to false. One of: " +
					strings.Join(Operators(), ", "),
				"examples": []string{OpEquals, OpGreaterThan, OpInList},
			},
			"value": map[string]any{
				"description": "Comparison operand. Text values are rendered to text as templates.",
			},
		},
		"required": []string{"field", "operator"},
	}
}

// Run never fails. A config that cannot be decoded evaluates to the false branch.
func (r *Runner) Run(ctx context.Context, actx *automation.Context, config map[string]any, input map[string]any) (models.NodeResult, error) {
	var cfg Config

	data := nodes.TemplateData(actx, input)

	err := nodes.DecodeConfig(config, &cfg)
	if err != nil {
		return models.Succeed(map[string]any{
			"branch":           models.BranchFalse,
			"condition_result": false,
			"error":            err.Error(),
		}), nil
	}

	actual, _ := template.Lookup(data, cfg.Field)
	expected := cfg.Value
	if text, ok := cfg.Value.(string); ok {
		expected = template.Render(text, data)
	}
	result := Evaluate(cfg.Operator, actual, expected)

	branch := models.BranchFalse
	if result {
		branch = models.BranchTrue
	}

	return models.Succeed(map[string]any{
		"branch":           branch,
		"condition_result": result,
		"evaluated": map[string]any{
			"field":          cfg.Field,
			"operator":       cfg.Operator,
			"actual_value":   actual,
			"expected_value": expected,
		},
	}), nil
}
