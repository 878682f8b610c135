package services

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/tallybook/automation/pkg/engine"
	"github.com/tallybook/automation/pkg/models"
	"github.com/tallybook/automation/pkg/persistence"
)

// TriggerInputKey is the input key under which the entry node receives the trigger.
const TriggerInputKey = "trigger"

// SubjectSupport reports whether runs can be built for a subject type.
type SubjectSupport interface {
	Supports(subjectType string) bool
}

// Trigger starts runs of automations in response to domain events.
type Trigger struct {
	logger      *slog.Logger
	persistence persistence.Persistence
	subjects    SubjectSupport
	dispatcher  engine.Dispatcher
	now         func() time.Time
}

func NewTrigger(
	logger *slog.Logger,
	persistence persistence.Persistence,
	subjects SubjectSupport,
	dispatcher engine.Dispatcher,
) *Trigger {
	return &Trigger{
		logger:      logger.With("module", "trigger"),
		persistence: persistence,
		subjects:    subjects,
		dispatcher:  dispatcher,
		now:         func() time.Time { return time.Now().UTC() },
	}
}

// Start creates a run of the automation's current version for one subject
// and enqueues its entry node. A version without nodes yields a run that is
// already completed.
func (t *Trigger) Start(
	ctx context.Context,
	automationID, subjectType, subjectID, triggerEventKey string,
) (*models.AutomationRun, error) {
	automation, err := t.persistence.AutomationByID(ctx, automationID)
	if err != nil {
		return nil, err
	}

	if !automation.Enabled {
		return nil, NewConflictError("Start", "AUTOMATION_DISABLED", "automation "+automationID+" is disabled", ErrAutomationDisabled)
	}

	if automation.TriggerEvent != triggerEventKey {
		return nil, NewConflictError("Start", "TRIGGER_EVENT_MISMATCH",
			fmt.Sprintf("automation %s listens to %q, got %q", automationID, automation.TriggerEvent, triggerEventKey),
			ErrTriggerEventMismatch)
	}

	if subjectID == "" {
		return nil, NewValidationError("Start", "SUBJECT_REQUIRED", "subject id is required", ErrInvalidRequest)
	}

	if !t.subjects.Supports(subjectType) {
		return nil, NewValidationError("Start", "UNSUPPORTED_SUBJECT",
			fmt.Sprintf("subject type %q is not supported", subjectType), ErrUnsupportedSubjectType)
	}

	if automation.CurrentVersionID == "" {
		return nil, NewConflictError("Start", "NO_PUBLISHED_VERSION", "automation "+automationID+" has no published version", ErrNoPublishedVersion)
	}

	version, err := t.persistence.VersionByID(ctx, automation.CurrentVersionID)
	if err != nil {
		return nil, fmt.Errorf("failed to load version %s: %w", automation.CurrentVersionID, err)
	}

	run := &models.AutomationRun{
		ID:           uuid.NewString(),
		AutomationID: automation.ID,
		TenantID:     automation.TenantID,
		VersionRef:   version.ID,
		SubjectType:  subjectType,
		SubjectID:    subjectID,
		TriggerEvent: triggerEventKey,
		Status:       models.RunStatusPending,
		PendingNodes: 1,
		StartedAt:    t.now(),
	}

	logger := t.logger.With("automation_id", automation.ID, "run_id", run.ID)

	if len(version.Definition.Nodes) == 0 {
		return t.startEmpty(ctx, logger, run)
	}

	entry, ok := version.Definition.EntryNodeID()
	if !ok {
		return nil, NewValidationError("Start", "NO_ENTRY_NODE", "version "+version.ID+" has no entry node", ErrNoEntryNode)
	}

	err = t.persistence.CreateRun(ctx, run)
	if err != nil {
		return nil, fmt.Errorf("failed to create run: %w", err)
	}

	err = t.dispatcher.Dispatch(ctx, engine.Job{
		RunID:    run.ID,
		NodeID:   entry,
		TenantID: run.TenantID,
		Input: map[string]any{
			TriggerInputKey: map[string]any{
				"event":        triggerEventKey,
				"subject_type": subjectType,
				"subject_id":   subjectID,
			},
		},
	})
	if err != nil {
		logger.ErrorContext(ctx, "Failed to enqueue entry node", "error", err, "node_id", entry)

		return nil, errors.Join(err, t.abandon(ctx, run.ID, "Failed to enqueue entry node."))
	}

	logger.InfoContext(ctx, "Run started", "entry_node", entry, "subject_type", subjectType, "subject_id", subjectID)

	return run, nil
}

// StartForEvent starts a run of every enabled automation of the tenant that
// listens to event. Automations that cannot start are logged and skipped.
func (t *Trigger) StartForEvent(
	ctx context.Context,
	tenantID, event, subjectType, subjectID string,
) ([]*models.AutomationRun, error) {
	automations, err := t.persistence.AutomationsByTriggerEvent(ctx, tenantID, event)
	if err != nil {
		return nil, fmt.Errorf("failed to find automations for %s: %w", event, err)
	}

	runs := make([]*models.AutomationRun, 0, len(automations))

	for _, automation := range automations {
		if !automation.Enabled {
			continue
		}

		run, err := t.Start(ctx, automation.ID, subjectType, subjectID, event)
		if err != nil {
			if IsValidationError(err) || IsConflictError(err) {
				t.logger.WarnContext(ctx, "Skipping automation", "automation_id", automation.ID, "error", err)

				continue
			}

			return runs, err
		}

		runs = append(runs, run)
	}

	return runs, nil
}

func (t *Trigger) startEmpty(ctx context.Context, logger *slog.Logger, run *models.AutomationRun) (*models.AutomationRun, error) {
	finishedAt := t.now()
	run.Status = models.RunStatusCompleted
	run.PendingNodes = 0
	run.FinishedAt = &finishedAt

	err := t.persistence.CreateRun(ctx, run)
	if err != nil {
		return nil, fmt.Errorf("failed to create run: %w", err)
	}

	err = t.dispatcher.RunFinished(ctx, run, "")
	if err != nil {
		logger.ErrorContext(ctx, "Failed to announce finished run", "error", err)
	}

	logger.InfoContext(ctx, "Run completed without nodes")

	return run, nil
}

// abandon fails a run whose entry node could not be enqueued.
func (t *Trigger) abandon(ctx context.Context, runID, message string) error {
	return t.persistence.WithRunLock(ctx, runID, func(ctx context.Context, tx persistence.RunTx) error {
		tx.Run().Fail(message, t.now())

		return tx.SaveRun(ctx)
	})
}
