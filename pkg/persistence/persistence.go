// Package persistence provides the storage abstraction for automations and runs.
package persistence

import (
	"context"

	"github.com/tallybook/automation/pkg/automation"
	"github.com/tallybook/automation/pkg/models"
)

// Persistence is the full storage surface used by the engine, services and API.
type Persistence interface {
	AutomationRepository
	RunRepository
	automation.JobRepository
	automation.InvoiceRepository

	HealthCheck(ctx context.Context) error
	Close(ctx context.Context) error
}

// AutomationRepository stores automations and their immutable versions.
type AutomationRepository interface {
	SaveAutomation(ctx context.Context, automation *models.Automation) error
	AutomationByID(ctx context.Context, id string) (*models.Automation, error)
	AutomationsByTriggerEvent(ctx context.Context, tenantID, event string) ([]*models.Automation, error)

	// CreateVersion stores a new version. Versions are never updated.
	CreateVersion(ctx context.Context, version *models.AutomationVersion) error
	VersionByID(ctx context.Context, id string) (*models.AutomationVersion, error)
	LatestVersionNumber(ctx context.Context, automationID string) (int, error)
}

// RunRepository stores runs and node runs.
type RunRepository interface {
	CreateRun(ctx context.Context, run *models.AutomationRun) error
	RunByID(ctx context.Context, id string) (*models.AutomationRun, error)
	RunsByAutomation(ctx context.Context, automationID string, limit int) ([]*models.AutomationRun, error)
	NodeRunsByRun(ctx context.Context, runID string) ([]*models.AutomationNodeRun, error)

	// WithRunLock runs fn while holding an exclusive lock on the run. Changes
	// made through tx are committed when fn returns nil and discarded otherwise.
	// A missing run yields ErrRunNotFound without calling fn.
	WithRunLock(ctx context.Context, runID string, fn func(ctx context.Context, tx RunTx) error) error
}

// RunTx is the view of a locked run handed to WithRunLock callbacks.
type RunTx interface {
	// Run returns the locked run. Mutations are persisted by SaveRun.
	Run() *models.AutomationRun

	// NodeRun returns the node run for nodeID, or nil when none exists.
	NodeRun(ctx context.Context, nodeID string) (*models.AutomationNodeRun, error)

	SaveNodeRun(ctx context.Context, nodeRun *models.AutomationNodeRun) error
	SaveRun(ctx context.Context) error
}
