// Package engine advances automation runs one node at a time.
package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"maps"
	"time"

	"github.com/google/uuid"
	"github.com/tallybook/automation/pkg/automation"
	"github.com/tallybook/automation/pkg/graph"
	"github.com/tallybook/automation/pkg/log"
	"github.com/tallybook/automation/pkg/models"
	"github.com/tallybook/automation/pkg/otelhelper"
	"github.com/tallybook/automation/pkg/persistence"
	"github.com/tallybook/automation/pkg/protocol"
	"github.com/tallybook/automation/pkg/registry"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

// LastNodeKey is the input key under which a successor receives the output of
// the node that scheduled it.
const LastNodeKey = "last_node"

// Store is the persistence the orchestrator needs.
type Store interface {
	VersionByID(ctx context.Context, id string) (*models.AutomationVersion, error)
	WithRunLock(ctx context.Context, runID string, fn func(ctx context.Context, tx persistence.RunTx) error) error
}

type Orchestrator struct {
	logger     *slog.Logger
	store      Store
	registry   *registry.Registry
	builder    *automation.Builder
	dispatcher Dispatcher
	tracer     trace.Tracer
	now        func() time.Time
}

type Option func(*Orchestrator)

func WithTracer(tracer trace.Tracer) Option {
	return func(o *Orchestrator) {
		o.tracer = tracer
	}
}

func WithClock(now func() time.Time) Option {
	return func(o *Orchestrator) {
		o.now = now
	}
}

func NewOrchestrator(
	logger *slog.Logger,
	store Store,
	registry *registry.Registry,
	builder *automation.Builder,
	dispatcher Dispatcher,
	opts ...Option,
) *Orchestrator {
	o := &Orchestrator{
		logger:     logger.With("module", "orchestrator"),
		store:      store,
		registry:   registry,
		builder:    builder,
		dispatcher: dispatcher,
		tracer:     otelhelper.NoopTracer(),
		now:        func() time.Time { return time.Now().UTC() },
	}

	for _, opt := range opts {
		opt(o)
	}

	return o
}

// outcome is what a committed step leaves for the post-commit phase.
type outcome struct {
	run        models.AutomationRun
	node       *models.Node
	output     map[string]any
	successors []string
	failedNode string
	finished   bool
}

// ExecuteNode executes one node of a run under the run's exclusive lock and
// schedules its successors once the state change is committed.
//
// Failures caused by the automation itself (bad definition, unsupported node
// type, unknown subject, failing runner) fail the run and return nil.
// Storage errors are returned so the job is delivered again; re-entry is
// idempotent because a node that already succeeded is never executed twice.
func (o *Orchestrator) ExecuteNode(ctx context.Context, runID, nodeID string, input map[string]any) error {
	ctx, span := otelhelper.StartSpan(ctx, o.tracer, "engine.execute_node",
		attribute.String(otelhelper.RunIDKey, runID),
		attribute.String(otelhelper.NodeIDKey, nodeID),
	)
	defer span.End()

	logger := o.logger.With("run_id", runID, "node_id", nodeID)

	if input == nil {
		input = make(map[string]any)
	}

	var result *outcome

	err := o.store.WithRunLock(ctx, runID, func(ctx context.Context, tx persistence.RunTx) error {
		var stepErr error

		result, stepErr = o.step(ctx, logger, tx, nodeID, input)

		return stepErr
	})
	if err != nil {
		otelhelper.SetError(span, err)
		logger.ErrorContext(ctx, "Failed to execute node", "error", err)

		return err
	}

	if result == nil {
		return nil
	}

	if result.node != nil {
		span.SetAttributes(attribute.String(otelhelper.NodeTypeKey, result.node.Type))
	}

	successor, err := o.dispatchSuccessors(ctx, logger, result, input)
	if err != nil {
		otelhelper.SetError(span, err)

		return errors.Join(err, o.abandon(ctx, logger, runID, successor))
	}

	if result.finished {
		err = o.dispatcher.RunFinished(ctx, &result.run, result.failedNode)
		if err != nil {
			logger.ErrorContext(ctx, "Failed to announce finished run", "error", err, "status", result.run.Status)
		}
	}

	return nil
}

func (o *Orchestrator) step(
	ctx context.Context,
	logger *slog.Logger,
	tx persistence.RunTx,
	nodeID string,
	input map[string]any,
) (*outcome, error) {
	run := tx.Run()

	if run.IsTerminal() {
		logger.InfoContext(ctx, "Discarding job for finished run", "status", run.Status)

		return nil, nil
	}

	existing, err := tx.NodeRun(ctx, nodeID)
	if err != nil {
		return nil, err
	}

	if existing.Succeeded() {
		logger.InfoContext(ctx, "Node already executed successfully, skipping")

		return nil, nil
	}

	version, err := o.store.VersionByID(ctx, run.VersionRef)
	if err != nil {
		if persistence.IsVersionNotFound(err) {
			return o.failRun(ctx, logger, tx, nil, fmt.Sprintf("Automation version [%s] not found.", run.VersionRef))
		}

		return nil, err
	}

	node, ok := version.Definition.NodeByID(nodeID)
	if !ok {
		return o.failRun(ctx, logger, tx, nil, nodeNotFound(nodeID))
	}

	logger = logger.With("node_type", node.Type)

	runner, err := o.registry.Get(node.Type)
	if err != nil {
		return o.failRun(ctx, logger, tx, node, unsupportedNodeType(node.Type))
	}

	err = o.registry.Validate(node.Type, node.Config)
	if err != nil {
		return o.failRun(ctx, logger, tx, node, err.Error())
	}

	actx, err := o.builder.Build(ctx, run)
	if err != nil {
		if errors.Is(err, automation.ErrUnknownSubjectType) || errors.Is(err, automation.ErrSubjectNotFound) {
			return o.failRun(ctx, logger, tx, node, err.Error())
		}

		return nil, err
	}

	nodeRun := existing
	if nodeRun == nil {
		nodeRun = &models.AutomationNodeRun{
			ID:       uuid.NewString(),
			RunID:    run.ID,
			NodeID:   node.ID,
			NodeType: node.Type,
		}
	}

	nodeRun.Status = models.NodeRunStatusRunning
	nodeRun.Attempts++
	nodeRun.Input = input
	nodeRun.Output = nil
	nodeRun.Error = ""
	nodeRun.StartedAt = o.now()
	nodeRun.FinishedAt = nil

	err = tx.SaveNodeRun(ctx, nodeRun)
	if err != nil {
		return nil, err
	}

	run.MarkRunning()

	logger.InfoContext(ctx, "Executing node", "attempt", nodeRun.Attempts)

	result, runErr := invoke(log.NewContext(ctx, logger), runner, actx, node.Config, input)

	finishedAt := o.now()
	nodeRun.FinishedAt = &finishedAt
	nodeRun.Output = result.Output

	if runErr != nil || !result.Success {
		message := failureMessage(node.ID, result, runErr)

		nodeRun.Status = models.NodeRunStatusFailed
		nodeRun.Error = message

		err = tx.SaveNodeRun(ctx, nodeRun)
		if err != nil {
			return nil, err
		}

		return o.failRun(ctx, logger, tx, node, message)
	}

	nodeRun.Status = models.NodeRunStatusSuccess

	err = tx.SaveNodeRun(ctx, nodeRun)
	if err != nil {
		return nil, err
	}

	successors := graph.NextNodeIDs(version.Definition.Edges, node.ID, branchOf(node, result.Output))

	run.Advance(len(successors), o.now())

	err = tx.SaveRun(ctx)
	if err != nil {
		return nil, err
	}

	logger.InfoContext(ctx, "Node executed",
		"successors", successors,
		"pending_nodes", run.PendingNodes,
		"run_status", run.Status,
	)

	return &outcome{
		run:        *run,
		node:       node,
		output:     result.Output,
		successors: successors,
		finished:   run.IsTerminal(),
	}, nil
}

// failRun releases the failing node's pending slot and halts the run.
func (o *Orchestrator) failRun(
	ctx context.Context,
	logger *slog.Logger,
	tx persistence.RunTx,
	node *models.Node,
	message string,
) (*outcome, error) {
	run := tx.Run()
	run.Fail(message, o.now())

	err := tx.SaveRun(ctx)
	if err != nil {
		return nil, err
	}

	logger.WarnContext(ctx, "Run failed", "error", message)

	failed := &outcome{run: *run, node: node, finished: true}
	if node != nil {
		failed.failedNode = node.ID
	}

	return failed, nil
}

// abandon fails a run whose successor could not be enqueued. Without it the
// run would keep a pending slot that no job will ever release.
func (o *Orchestrator) abandon(ctx context.Context, logger *slog.Logger, runID, successor string) error {
	var failed *models.AutomationRun

	err := o.store.WithRunLock(ctx, runID, func(ctx context.Context, tx persistence.RunTx) error {
		run := tx.Run()
		if run.IsTerminal() {
			return nil
		}

		run.Fail(successorNotDispatched(successor), o.now())

		err := tx.SaveRun(ctx)
		if err != nil {
			return err
		}

		snapshot := *run
		failed = &snapshot

		return nil
	})
	if err != nil {
		logger.ErrorContext(ctx, "Failed to abandon run", "error", err, "successor", successor)

		return err
	}

	if failed == nil {
		return nil
	}

	logger.WarnContext(ctx, "Run failed", "error", failed.Error)

	err = o.dispatcher.RunFinished(ctx, failed, "")
	if err != nil {
		logger.ErrorContext(ctx, "Failed to announce finished run", "error", err, "status", failed.Status)
	}

	return nil
}

// dispatchSuccessors enqueues every successor and returns the one that could
// not be enqueued along with the error.
func (o *Orchestrator) dispatchSuccessors(ctx context.Context, logger *slog.Logger, result *outcome, input map[string]any) (string, error) {
	if len(result.successors) == 0 {
		return "", nil
	}

	next := maps.Clone(input)
	next[LastNodeKey] = map[string]any{
		"id":     result.node.ID,
		"type":   result.node.Type,
		"output": result.output,
	}

	for _, successor := range result.successors {
		err := o.dispatcher.Dispatch(ctx, Job{
			RunID:    result.run.ID,
			NodeID:   successor,
			TenantID: result.run.TenantID,
			Input:    next,
		})
		if err != nil {
			logger.ErrorContext(ctx, "Failed to dispatch successor", "error", err, "successor", successor)

			return successor, err
		}
	}

	return "", nil
}

// invoke runs the node and turns a runner panic into an error.
func invoke(
	ctx context.Context,
	runner protocol.NodeRunner,
	actx *automation.Context,
	config map[string]any,
	input map[string]any,
) (result models.NodeResult, err error) {
	defer func() {
		if r := recover(); r != nil {
			result = models.NodeResult{}
			err = fmt.Errorf("%w: %v", ErrRunnerPanic, r)
		}
	}()

	return runner.Run(ctx, actx, config, input)
}

// branchOf returns the branch label to follow. Only condition nodes branch; a
// condition without a label follows no labelled edge.
func branchOf(node *models.Node, output map[string]any) *string {
	if node.Type != models.NodeTypeCondition {
		return nil
	}

	branch, _ := output["branch"].(string)

	return &branch
}

func failureMessage(nodeID string, result models.NodeResult, err error) string {
	if err != nil {
		return err.Error()
	}

	if result.Error != "" {
		return result.Error
	}

	return nodeFailed(nodeID)
}
