package models

import "time"

// RunStatus represents the lifecycle state of an automation run.
type RunStatus string

const (
	RunStatusPending   RunStatus = "pending"
	RunStatusRunning   RunStatus = "running"
	RunStatusCompleted RunStatus = "completed"
	RunStatusFailed    RunStatus = "failed"
)

// AutomationRun is one execution of a definition version against one subject.
type AutomationRun struct {
	ID           string     `json:"id"`
	AutomationID string     `json:"automation_id"`
	TenantID     string     `json:"tenant_id"`
	VersionRef   string     `json:"version_ref"`
	SubjectType  string     `json:"subject_type"`
	SubjectID    string     `json:"subject_id"`
	TriggerEvent string     `json:"trigger_event,omitempty"`
	Status       RunStatus  `json:"status"`
	PendingNodes int        `json:"pending_nodes"`
	Error        string     `json:"error,omitempty"`
	StartedAt    time.Time  `json:"started_at"`
	FinishedAt   *time.Time `json:"finished_at,omitempty"`
}

// IsTerminal reports whether the run reached completed or failed.
func (r *AutomationRun) IsTerminal() bool {
	return r.Status == RunStatusCompleted || r.Status == RunStatusFailed
}

// MarkRunning moves a pending run to running. Other statuses are left alone.
func (r *AutomationRun) MarkRunning() {
	if r.Status == RunStatusPending {
		r.Status = RunStatusRunning
	}
}

// Fail releases the pending slot of the node that failed and moves the run to
// failed. It is a no-op on terminal runs.
func (r *AutomationRun) Fail(message string, now time.Time) {
	if r.IsTerminal() {
		return
	}

	r.PendingNodes = max(0, r.PendingNodes-1)
	r.Status = RunStatusFailed
	r.Error = message
	r.FinishedAt = &now
}

// Advance releases the pending slot of the finished node and reserves one for
// each scheduled successor. The run completes when nothing is left pending.
func (r *AutomationRun) Advance(successors int, now time.Time) {
	if r.IsTerminal() {
		return
	}

	r.PendingNodes = max(0, r.PendingNodes-1) + successors
	if r.PendingNodes == 0 {
		r.Status = RunStatusCompleted
		r.FinishedAt = &now
	}
}
