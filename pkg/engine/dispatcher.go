package engine

import (
	"context"
	"fmt"
	"time"

	"github.com/tallybook/automation/pkg/eventbus"
	"github.com/tallybook/automation/pkg/events"
	"github.com/tallybook/automation/pkg/models"
)

// Job asks for one node of one run to be executed.
type Job struct {
	RunID    string
	NodeID   string
	TenantID string
	Input    map[string]any
}

// Dispatcher hands work to the queue. Delivery is at least once.
type Dispatcher interface {
	Dispatch(ctx context.Context, job Job) error

	// RunFinished announces that run reached a terminal status. nodeID names
	// the failing node of a failed run and is empty otherwise.
	RunFinished(ctx context.Context, run *models.AutomationRun, nodeID string) error
}

// BusDispatcher publishes jobs and run lifecycle events on the event bus,
// keyed by run id so one run's messages stay ordered on partitioned transports.
type BusDispatcher struct {
	publisher eventbus.EventPublisher
	workerID  string
}

func NewBusDispatcher(publisher eventbus.EventPublisher, workerID string) *BusDispatcher {
	return &BusDispatcher{publisher: publisher, workerID: workerID}
}

func (d *BusDispatcher) Dispatch(ctx context.Context, job Job) error {
	event := events.NodeExecutionRequested{
		BaseEvent: events.NewBaseEvent(events.NodeExecutionRequestedEvent, job.TenantID),
		RunID:     job.RunID,
		NodeID:    job.NodeID,
		Input:     job.Input,
	}
	event.WorkerID = d.workerID

	err := d.publisher.Publish(ctx, job.RunID, event)
	if err != nil {
		return fmt.Errorf("failed to dispatch node %s of run %s: %w", job.NodeID, job.RunID, err)
	}

	return nil
}

func (d *BusDispatcher) RunFinished(ctx context.Context, run *models.AutomationRun, nodeID string) error {
	finishedAt := time.Now().UTC()
	if run.FinishedAt != nil {
		finishedAt = *run.FinishedAt
	}

	var event eventbus.Event

	switch run.Status {
	case models.RunStatusCompleted:
		completed := events.RunCompleted{
			BaseEvent:    events.NewBaseEvent(events.RunCompletedEvent, run.TenantID),
			RunID:        run.ID,
			AutomationID: run.AutomationID,
			SubjectType:  run.SubjectType,
			SubjectID:    run.SubjectID,
			FinishedAt:   finishedAt,
		}
		completed.WorkerID = d.workerID
		event = completed
	case models.RunStatusFailed:
		failed := events.RunFailed{
			BaseEvent:    events.NewBaseEvent(events.RunFailedEvent, run.TenantID),
			RunID:        run.ID,
			AutomationID: run.AutomationID,
			SubjectType:  run.SubjectType,
			SubjectID:    run.SubjectID,
			NodeID:       nodeID,
			Error:        run.Error,
			FinishedAt:   finishedAt,
		}
		failed.WorkerID = d.workerID
		event = failed
	default:
		return nil
	}

	err := d.publisher.Publish(ctx, run.ID, event)
	if err != nil {
		return fmt.Errorf("failed to publish %s for run %s: %w", event.GetType(), run.ID, err)
	}

	return nil
}
