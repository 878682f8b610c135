package services

import (
	"context"

	"github.com/tallybook/automation/pkg/models"
	"github.com/tallybook/automation/pkg/persistence"
)

const (
	defaultRunsLimit = 20
	maxRunsLimit     = 100
)

// Runs exposes run history.
type Runs struct {
	persistence persistence.Persistence
}

func NewRuns(persistence persistence.Persistence) *Runs {
	return &Runs{persistence: persistence}
}

func (r *Runs) FetchByID(ctx context.Context, runID string) (*models.AutomationRun, error) {
	return r.persistence.RunByID(ctx, runID)
}

// NodeRuns returns the node runs of a run ordered by start time.
func (r *Runs) NodeRuns(ctx context.Context, runID string) ([]*models.AutomationNodeRun, error) {
	return r.persistence.NodeRunsByRun(ctx, runID)
}

// ListByAutomation returns the most recent runs of an automation. A limit of
// zero selects the default page size.
func (r *Runs) ListByAutomation(ctx context.Context, automationID string, limit int) ([]*models.AutomationRun, error) {
	if limit < 0 || limit > maxRunsLimit {
		return nil, NewValidationError("ListByAutomation", "INVALID_LIMIT", "limit must be between 1 and 100", ErrInvalidRequest)
	}

	if limit == 0 {
		limit = defaultRunsLimit
	}

	_, err := r.persistence.AutomationByID(ctx, automationID)
	if err != nil {
		return nil, err
	}

	return r.persistence.RunsByAutomation(ctx, automationID, limit)
}
