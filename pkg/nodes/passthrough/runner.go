// Package passthrough provides the start and end marker runners.
package passthrough

import (
	"context"
	"maps"

	"github.com/tallybook/automation/pkg/automation"
	"github.com/tallybook/automation/pkg/models"
)

// Runner succeeds immediately and echoes its input, minus the previous node's
// output, so markers do not grow the payload handed along the graph.
type Runner struct {
	nodeType    string
	name        string
	description string
}

// NewStart creates the runner for graph entry markers.
func NewStart() *Runner {
	return &Runner{
		nodeType:    models.NodeTypeStart,
		name:        "Start",
		description: "Entry marker of an automation graph.",
	}
}

// NewEnd creates the runner for graph exit markers.
func NewEnd() *Runner {
	return &Runner{
		nodeType:    models.NodeTypeEnd,
		name:        "End",
		description: "Exit marker of an automation graph.",
	}
}

func (r *Runner) Type() string        { return r.nodeType }
func (r *Runner) Name() string        { return r.name }
func (r *Runner) Description() string { return r.description }

func (r *Runner) Schema() map[string]any {
	return map[string]any{"type": "object"}
}

func (r *Runner) Run(_ context.Context, _ *automation.Context, _ map[string]any, input map[string]any) (models.NodeResult, error) {
	output := maps.Clone(input)
	delete(output, "last_node")

	return models.Succeed(output), nil
}
