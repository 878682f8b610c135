package models

// Built-in node types.
const (
	NodeTypeStart     = "start"
	NodeTypeEnd       = "end"
	NodeTypeLog       = "log"
	NodeTypeCondition = "condition"
	NodeTypeWebhook   = "webhook"
	NodeTypeMessage   = "message"
	NodeTypeTransform = "transform"
)

// Branch labels produced by condition nodes.
const (
	BranchTrue  = "true"
	BranchFalse = "false"
)

// NodeResult is what a node runner returns. A result with Success=false is a
// structured failure reported by the runner itself.
type NodeResult struct {
	Success bool           `json:"success"`
	Output  map[string]any `json:"output"`
	Error   string         `json:"error,omitempty"`
}

// Succeed builds a successful result.
func Succeed(output map[string]any) NodeResult {
	if output == nil {
		output = make(map[string]any)
	}

	return NodeResult{Success: true, Output: output}
}

// Failed builds a structured failure result.
func Failed(message string, output map[string]any) NodeResult {
	if output == nil {
		output = make(map[string]any)
	}

	return NodeResult{Success: false, Output: output, Error: message}
}
