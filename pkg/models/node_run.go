package models

import "time"

// NodeRunStatus defines the possible states of a node execution.
type NodeRunStatus string

const (
	NodeRunStatusRunning NodeRunStatus = "running"
	NodeRunStatusSuccess NodeRunStatus = "success"
	NodeRunStatusFailed  NodeRunStatus = "failed"
)

// AutomationNodeRun is the execution record of one node within one run.
// There is at most one record per (RunID, NodeID).
type AutomationNodeRun struct {
	ID         string         `json:"id"`
	RunID      string         `json:"run_id"`
	NodeID     string         `json:"node_id"`
	NodeType   string         `json:"node_type"`
	Status     NodeRunStatus  `json:"status"`
	Attempts   int            `json:"attempts"`
	Input      map[string]any `json:"input,omitempty"`
	Output     map[string]any `json:"output,omitempty"`
	Error      string         `json:"error,omitempty"`
	StartedAt  time.Time      `json:"started_at"`
	FinishedAt *time.Time     `json:"finished_at,omitempty"`
}

// Succeeded reports whether the node already ran successfully.
func (n *AutomationNodeRun) Succeeded() bool {
	return n != nil && n.Status == NodeRunStatusSuccess
}
