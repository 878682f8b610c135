// Package protocol defines the contract between the execution engine and pluggable node runners.
package protocol

import (
	"context"

	"github.com/tallybook/automation/pkg/automation"
	"github.com/tallybook/automation/pkg/models"
)

// NodeRunner executes one node type.
type NodeRunner interface {
	// Type returns the node type string the runner is registered under
	Type() string

	// Name returns the human-readable name for this node type
	Name() string

	// Description returns a description of what this node does
	Description() string

	// Schema returns the JSON schema a node's config must satisfy
	Schema() map[string]any

	// Run executes the node. A returned error is treated like a structured
	// failure result by the engine.
	Run(ctx context.Context, actx *automation.Context, config map[string]any, input map[string]any) (models.NodeResult, error)
}
