// Package events defines the messages exchanged over the event bus.
package events

import (
	"time"

	"github.com/google/uuid"
)

type EventType string

// Topics.
const (
	JobsTopic = "automation.node.jobs"
	RunsTopic = "automation.runs"
)

const EventMetadataKey = "key"
const EventTypeMetadataKey = "event_type"

const (
	NodeExecutionRequestedEvent EventType = "node.execution.requested"
	RunCompletedEvent           EventType = "run.completed"
	RunFailedEvent              EventType = "run.failed"
)

// TopicFor returns the topic an event type is published on.
func TopicFor(eventType EventType) string {
	if eventType == NodeExecutionRequestedEvent {
		return JobsTopic
	}

	return RunsTopic
}

type BaseEvent struct {
	ID        string         `json:"id"`
	Type      EventType      `json:"type"`
	Timestamp time.Time      `json:"timestamp"`
	TenantID  string         `json:"tenant_id,omitempty"`
	WorkerID  string         `json:"worker_id,omitempty"`
	Metadata  map[string]any `json:"metadata,omitempty"`
}

func NewBaseEvent(eventType EventType, tenantID string) BaseEvent {
	return BaseEvent{
		ID:        uuid.NewString(),
		Type:      eventType,
		Timestamp: time.Now().UTC(),
		TenantID:  tenantID,
	}
}

// NodeExecutionRequested asks a worker to execute one node of a run.
type NodeExecutionRequested struct {
	BaseEvent

	RunID  string         `json:"run_id"`
	NodeID string         `json:"node_id"`
	Input  map[string]any `json:"input,omitempty"`
}

func (e NodeExecutionRequested) GetType() EventType {
	return NodeExecutionRequestedEvent
}

// RunCompleted is published once a run has no pending nodes left.
type RunCompleted struct {
	BaseEvent

	RunID        string    `json:"run_id"`
	AutomationID string    `json:"automation_id"`
	SubjectType  string    `json:"subject_type"`
	SubjectID    string    `json:"subject_id"`
	FinishedAt   time.Time `json:"finished_at"`
}

func (e RunCompleted) GetType() EventType {
	return RunCompletedEvent
}

// RunFailed is published when a run is halted by a failing node.
type RunFailed struct {
	BaseEvent

	RunID        string    `json:"run_id"`
	AutomationID string    `json:"automation_id"`
	SubjectType  string    `json:"subject_type"`
	SubjectID    string    `json:"subject_id"`
	NodeID       string    `json:"node_id,omitempty"`
	Error        string    `json:"error"`
	FinishedAt   time.Time `json:"finished_at"`
}

func (e RunFailed) GetType() EventType {
	return RunFailedEvent
}

// New returns an empty event value for decoding a payload of the given type.
func New(eventType EventType) (any, bool) {
	switch eventType {
	case NodeExecutionRequestedEvent:
		return &NodeExecutionRequested{}, true
	case RunCompletedEvent:
		return &RunCompleted{}, true
	case RunFailedEvent:
		return &RunFailed{}, true
	default:
		return nil, false
	}
}
