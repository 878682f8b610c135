package engine

import (
	"context"
	"log/slog"

	"github.com/tallybook/automation/pkg/eventbus"
	"github.com/tallybook/automation/pkg/events"
	"github.com/tallybook/automation/pkg/persistence"
)

// Worker consumes node execution jobs from the event bus.
type Worker struct {
	id           string
	logger       *slog.Logger
	orchestrator *Orchestrator
	subscriber   eventbus.EventSubscriber
}

func NewWorker(id string, logger *slog.Logger, orchestrator *Orchestrator, subscriber eventbus.EventSubscriber) *Worker {
	return &Worker{
		id:           id,
		logger:       logger.With("module", "worker", "worker_id", id),
		orchestrator: orchestrator,
		subscriber:   subscriber,
	}
}

// Start registers the job handler and begins consuming. It does not block.
func (w *Worker) Start(ctx context.Context) error {
	w.logger.InfoContext(ctx, "Starting worker")

	err := w.subscriber.Handle(events.NodeExecutionRequestedEvent, w.handleNodeExecutionRequested)
	if err != nil {
		return err
	}

	err = w.subscriber.Subscribe(ctx)
	if err != nil {
		w.logger.ErrorContext(ctx, "Failed to subscribe to event bus", "error", err)

		return err
	}

	w.logger.InfoContext(ctx, "Worker started successfully")

	return nil
}

func (w *Worker) handleNodeExecutionRequested(ctx context.Context, event any) error {
	job, ok := event.(*events.NodeExecutionRequested)
	if !ok {
		w.logger.ErrorContext(ctx, "Invalid event type for NodeExecutionRequested")

		return nil
	}

	logger := w.logger.With("run_id", job.RunID, "node_id", job.NodeID, "event_id", job.ID)
	logger.DebugContext(ctx, "Processing node execution request")

	err := w.orchestrator.ExecuteNode(ctx, job.RunID, job.NodeID, job.Input)
	if persistence.IsRunNotFound(err) {
		logger.WarnContext(ctx, "Dropping job for unknown run")

		return nil
	}

	return err
}
