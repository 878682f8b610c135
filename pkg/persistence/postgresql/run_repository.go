package postgresql

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"

	"github.com/tallybook/automation/pkg/models"
	"github.com/tallybook/automation/pkg/persistence"
)

const runColumns = `
	id
  , automation_id
  , tenant_id
  , version_id
  , subject_type
  , subject_id
  , trigger_event
  , status
  , pending_nodes
  , error
  , started_at
  , finished_at
`

const nodeRunColumns = `
	id
  , run_id
  , node_id
  , node_type
  , status
  , attempts
  , input
  , output
  , error
  , started_at
  , finished_at
`

// RunRepository handles run and node run database operations.
type RunRepository struct {
	db     *sql.DB
	logger *slog.Logger
}

// NewRunRepository creates a new run repository.
func NewRunRepository(db *sql.DB, logger *slog.Logger) *RunRepository {
	return &RunRepository{db: db, logger: logger}
}

// CreateRun inserts a new run.
func (r *RunRepository) CreateRun(ctx context.Context, run *models.AutomationRun) error {
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO automation_runs (`+runColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
	`,
		run.ID,
		run.AutomationID,
		run.TenantID,
		run.VersionRef,
		run.SubjectType,
		run.SubjectID,
		nullString(run.TriggerEvent),
		run.Status,
		run.PendingNodes,
		nullString(run.Error),
		run.StartedAt.UTC(),
		nullTime(run.FinishedAt),
	)
	if err != nil {
		return persistence.NewRunError("CreateRun", run.ID, err)
	}

	return nil
}

// RunByID returns a run or ErrRunNotFound.
func (r *RunRepository) RunByID(ctx context.Context, id string) (*models.AutomationRun, error) {
	row := r.db.QueryRowContext(ctx, "SELECT "+runColumns+" FROM automation_runs WHERE id = $1", id)

	run, err := scanRun(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, persistence.NewRunError("RunByID", id, persistence.ErrRunNotFound)
		}

		return nil, persistence.NewRunError("RunByID", id, err)
	}

	return run, nil
}

// RunsByAutomation returns the most recent runs of an automation, newest first.
func (r *RunRepository) RunsByAutomation(ctx context.Context, automationID string, limit int) ([]*models.AutomationRun, error) {
	query := "SELECT " + runColumns + " FROM automation_runs WHERE automation_id = $1 ORDER BY started_at DESC"

	args := []any{automationID}
	if limit > 0 {
		query += " LIMIT $2"

		args = append(args, limit)
	}

	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query runs: %w", err)
	}

	defer func() {
		err := rows.Close()
		if err != nil {
			r.logger.ErrorContext(ctx, "failed to close rows", "error", err)
		}
	}()

	runs := make([]*models.AutomationRun, 0)

	for rows.Next() {
		run, err := scanRun(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan run: %w", err)
		}

		runs = append(runs, run)
	}

	err = rows.Err()
	if err != nil {
		return nil, fmt.Errorf("error iterating runs: %w", err)
	}

	return runs, nil
}

// NodeRunsByRun returns the node runs of a run ordered by start time.
func (r *RunRepository) NodeRunsByRun(ctx context.Context, runID string) ([]*models.AutomationNodeRun, error) {
	var exists bool

	err := r.db.QueryRowContext(ctx, "SELECT EXISTS (SELECT 1 FROM automation_runs WHERE id = $1)", runID).Scan(&exists)
	if err != nil {
		return nil, persistence.NewRunError("NodeRunsByRun", runID, err)
	}

	if !exists {
		return nil, persistence.NewRunError("NodeRunsByRun", runID, persistence.ErrRunNotFound)
	}

	rows, err := r.db.QueryContext(ctx,
		"SELECT "+nodeRunColumns+" FROM automation_node_runs WHERE run_id = $1 ORDER BY started_at, node_id",
		runID,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to query node runs: %w", err)
	}

	defer func() {
		err := rows.Close()
		if err != nil {
			r.logger.ErrorContext(ctx, "failed to close rows", "error", err)
		}
	}()

	nodeRuns := make([]*models.AutomationNodeRun, 0)

	for rows.Next() {
		nodeRun, err := scanNodeRun(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan node run: %w", err)
		}

		nodeRuns = append(nodeRuns, nodeRun)
	}

	err = rows.Err()
	if err != nil {
		return nil, fmt.Errorf("error iterating node runs: %w", err)
	}

	return nodeRuns, nil
}

// WithRunLock opens a transaction, locks the run row with SELECT ... FOR UPDATE
// and commits when fn succeeds.
func (r *RunRepository) WithRunLock(ctx context.Context, runID string, fn func(ctx context.Context, tx persistence.RunTx) error) error {
	sqlTx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return persistence.NewRunError("WithRunLock", runID, fmt.Errorf("failed to begin transaction: %w", err))
	}

	row := sqlTx.QueryRowContext(ctx, "SELECT "+runColumns+" FROM automation_runs WHERE id = $1 FOR UPDATE", runID)

	run, err := scanRun(row)
	if err != nil {
		r.rollback(ctx, sqlTx, runID)

		if errors.Is(err, sql.ErrNoRows) {
			return persistence.NewRunError("WithRunLock", runID, persistence.ErrRunNotFound)
		}

		return persistence.NewRunError("WithRunLock", runID, err)
	}

	err = fn(ctx, &runTx{tx: sqlTx, run: run})
	if err != nil {
		r.rollback(ctx, sqlTx, runID)

		return err
	}

	err = sqlTx.Commit()
	if err != nil {
		return persistence.NewRunError("WithRunLock", runID, fmt.Errorf("failed to commit: %w", err))
	}

	return nil
}

func (r *RunRepository) rollback(ctx context.Context, tx *sql.Tx, runID string) {
	err := tx.Rollback()
	if err != nil && !errors.Is(err, sql.ErrTxDone) {
		r.logger.ErrorContext(ctx, "failed to rollback run transaction", "run_id", runID, "error", err)
	}
}

type runTx struct {
	tx  *sql.Tx
	run *models.AutomationRun
}

func (t *runTx) Run() *models.AutomationRun {
	return t.run
}

func (t *runTx) NodeRun(ctx context.Context, nodeID string) (*models.AutomationNodeRun, error) {
	row := t.tx.QueryRowContext(ctx,
		"SELECT "+nodeRunColumns+" FROM automation_node_runs WHERE run_id = $1 AND node_id = $2",
		t.run.ID, nodeID,
	)

	nodeRun, err := scanNodeRun(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}

		return nil, persistence.NewRunError("NodeRun", t.run.ID, err)
	}

	return nodeRun, nil
}

// SaveNodeRun upserts on (run_id, node_id). Rows that already succeeded are
// never overwritten.
func (t *runTx) SaveNodeRun(ctx context.Context, nodeRun *models.AutomationNodeRun) error {
	nodeRun.RunID = t.run.ID

	input, err := marshalJSON(nodeRun.Input)
	if err != nil {
		return err
	}

	output, err := marshalJSON(nodeRun.Output)
	if err != nil {
		return err
	}

	result, err := t.tx.ExecContext(ctx, `
		INSERT INTO automation_node_runs (`+nodeRunColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
		ON CONFLICT (run_id, node_id) DO UPDATE SET
			node_type = EXCLUDED.node_type,
			status = EXCLUDED.status,
			attempts = EXCLUDED.attempts,
			input = EXCLUDED.input,
			output = EXCLUDED.output,
			error = EXCLUDED.error,
			started_at = EXCLUDED.started_at,
			finished_at = EXCLUDED.finished_at
		WHERE automation_node_runs.status <> 'success'
	`,
		nodeRun.ID,
		nodeRun.RunID,
		nodeRun.NodeID,
		nodeRun.NodeType,
		nodeRun.Status,
		nodeRun.Attempts,
		input,
		output,
		nullString(nodeRun.Error),
		nodeRun.StartedAt.UTC(),
		nullTime(nodeRun.FinishedAt),
	)
	if err != nil {
		return persistence.NewRunError("SaveNodeRun", t.run.ID, err)
	}

	affected, err := result.RowsAffected()
	if err != nil {
		return persistence.NewRunError("SaveNodeRun", t.run.ID, err)
	}

	if affected == 0 {
		return persistence.NewRunError("SaveNodeRun", t.run.ID,
			fmt.Errorf("%w: %s", persistence.ErrSuccessfulNodeRun, nodeRun.NodeID))
	}

	return nil
}

func (t *runTx) SaveRun(ctx context.Context) error {
	_, err := t.tx.ExecContext(ctx, `
		UPDATE automation_runs
		SET status = $2, pending_nodes = $3, error = $4, finished_at = $5
		WHERE id = $1
	`,
		t.run.ID,
		t.run.Status,
		t.run.PendingNodes,
		nullString(t.run.Error),
		nullTime(t.run.FinishedAt),
	)
	if err != nil {
		return persistence.NewRunError("SaveRun", t.run.ID, err)
	}

	return nil
}

func scanRun(row scanner) (*models.AutomationRun, error) {
	var (
		run          models.AutomationRun
		triggerEvent sql.NullString
		runError     sql.NullString
		finishedAt   sql.NullTime
	)

	err := row.Scan(
		&run.ID,
		&run.AutomationID,
		&run.TenantID,
		&run.VersionRef,
		&run.SubjectType,
		&run.SubjectID,
		&triggerEvent,
		&run.Status,
		&run.PendingNodes,
		&runError,
		&run.StartedAt,
		&finishedAt,
	)
	if err != nil {
		return nil, err
	}

	run.TriggerEvent = triggerEvent.String
	run.Error = runError.String
	run.StartedAt = run.StartedAt.UTC()
	run.FinishedAt = timePtr(finishedAt)

	return &run, nil
}

func scanNodeRun(row scanner) (*models.AutomationNodeRun, error) {
	var (
		nodeRun    models.AutomationNodeRun
		input      []byte
		output     []byte
		nodeRunErr sql.NullString
		finishedAt sql.NullTime
	)

	err := row.Scan(
		&nodeRun.ID,
		&nodeRun.RunID,
		&nodeRun.NodeID,
		&nodeRun.NodeType,
		&nodeRun.Status,
		&nodeRun.Attempts,
		&input,
		&output,
		&nodeRunErr,
		&nodeRun.StartedAt,
		&finishedAt,
	)
	if err != nil {
		return nil, err
	}

	nodeRun.Input, err = unmarshalMap(input)
	if err != nil {
		return nil, err
	}

	nodeRun.Output, err = unmarshalMap(output)
	if err != nil {
		return nil, err
	}

	nodeRun.Error = nodeRunErr.String
	nodeRun.StartedAt = nodeRun.StartedAt.UTC()
	nodeRun.FinishedAt = timePtr(finishedAt)

	return &nodeRun, nil
}
