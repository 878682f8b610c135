package postgresql

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/lib/pq"
	"github.com/tallybook/automation/pkg/models"
	"github.com/tallybook/automation/pkg/persistence"
)

const uniqueViolation = "23505"

// AutomationRepository handles automation and version database operations.
type AutomationRepository struct {
	db     *sql.DB
	logger *slog.Logger
}

// NewAutomationRepository creates a new automation repository.
func NewAutomationRepository(db *sql.DB, logger *slog.Logger) *AutomationRepository {
	return &AutomationRepository{db: db, logger: logger}
}

// SaveAutomation inserts or updates an automation.
func (r *AutomationRepository) SaveAutomation(ctx context.Context, automation *models.Automation) error {
	now := time.Now().UTC()
	if automation.CreatedAt.IsZero() {
		automation.CreatedAt = now
	}

	automation.UpdatedAt = now

	var currentVersionID any
	if automation.CurrentVersionID != "" {
		currentVersionID = automation.CurrentVersionID
	}

	query := `
		INSERT INTO automations (id, tenant_id, name, trigger_event, enabled, current_version_id, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		ON CONFLICT (id) DO UPDATE SET
			tenant_id = EXCLUDED.tenant_id,
			name = EXCLUDED.name,
			trigger_event = EXCLUDED.trigger_event,
			enabled = EXCLUDED.enabled,
			current_version_id = EXCLUDED.current_version_id,
			updated_at = EXCLUDED.updated_at
	`

	_, err := r.db.ExecContext(ctx, query,
		automation.ID,
		automation.TenantID,
		automation.Name,
		automation.TriggerEvent,
		automation.Enabled,
		currentVersionID,
		automation.CreatedAt,
		automation.UpdatedAt,
	)
	if err != nil {
		return persistence.NewAutomationError("SaveAutomation", automation.ID, err)
	}

	return nil
}

const automationColumns = `
	id
  , tenant_id
  , name
  , trigger_event
  , enabled
  , current_version_id
  , created_at
  , updated_at
`

// AutomationByID returns an automation or ErrAutomationNotFound.
func (r *AutomationRepository) AutomationByID(ctx context.Context, id string) (*models.Automation, error) {
	row := r.db.QueryRowContext(ctx, "SELECT "+automationColumns+" FROM automations WHERE id = $1", id)

	automation, err := scanAutomation(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, persistence.NewAutomationError("AutomationByID", id, persistence.ErrAutomationNotFound)
		}

		return nil, persistence.NewAutomationError("AutomationByID", id, err)
	}

	return automation, nil
}

// AutomationsByTriggerEvent returns the enabled automations of a tenant listening to event.
func (r *AutomationRepository) AutomationsByTriggerEvent(ctx context.Context, tenantID, event string) ([]*models.Automation, error) {
	query := "SELECT " + automationColumns + `
		FROM automations
		WHERE tenant_id = $1 AND trigger_event = $2 AND enabled
		ORDER BY created_at
	`

	rows, err := r.db.QueryContext(ctx, query, tenantID, event)
	if err != nil {
		return nil, fmt.Errorf("failed to query automations: %w", err)
	}

	defer func() {
		err := rows.Close()
		if err != nil {
			r.logger.ErrorContext(ctx, "failed to close rows", "error", err)
		}
	}()

	automations := make([]*models.Automation, 0)

	for rows.Next() {
		automation, err := scanAutomation(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan automation: %w", err)
		}

		automations = append(automations, automation)
	}

	err = rows.Err()
	if err != nil {
		return nil, fmt.Errorf("error iterating automations: %w", err)
	}

	return automations, nil
}

func scanAutomation(row scanner) (*models.Automation, error) {
	var (
		automation       models.Automation
		currentVersionID sql.NullString
	)

	err := row.Scan(
		&automation.ID,
		&automation.TenantID,
		&automation.Name,
		&automation.TriggerEvent,
		&automation.Enabled,
		&currentVersionID,
		&automation.CreatedAt,
		&automation.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}

	automation.CurrentVersionID = currentVersionID.String
	automation.CreatedAt = automation.CreatedAt.UTC()
	automation.UpdatedAt = automation.UpdatedAt.UTC()

	return &automation, nil
}

// CreateVersion inserts a new immutable version.
func (r *AutomationRepository) CreateVersion(ctx context.Context, version *models.AutomationVersion) error {
	if version.CreatedAt.IsZero() {
		version.CreatedAt = time.Now().UTC()
	}

	definition, err := json.Marshal(version.Definition)
	if err != nil {
		return fmt.Errorf("failed to marshal definition: %w", err)
	}

	_, err = r.db.ExecContext(ctx, `
		INSERT INTO automation_versions (id, automation_id, version, definition, created_at)
		VALUES ($1, $2, $3, $4, $5)
	`, version.ID, version.AutomationID, version.Version, definition, version.CreatedAt)
	if err != nil {
		pqErr := &pq.Error{}
		if errors.As(err, &pqErr) && pqErr.Code == uniqueViolation {
			err = fmt.Errorf("%w: version %d", persistence.ErrVersionExists, version.Version)
		}

		return persistence.NewAutomationError("CreateVersion", version.AutomationID, err)
	}

	return nil
}

// VersionByID returns a version or ErrVersionNotFound.
func (r *AutomationRepository) VersionByID(ctx context.Context, id string) (*models.AutomationVersion, error) {
	var (
		version    models.AutomationVersion
		definition []byte
	)

	err := r.db.QueryRowContext(ctx, `
		SELECT id, automation_id, version, definition, created_at
		FROM automation_versions
		WHERE id = $1
	`, id).Scan(&version.ID, &version.AutomationID, &version.Version, &definition, &version.CreatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, persistence.NewAutomationError("VersionByID", "", fmt.Errorf("%w: %s", persistence.ErrVersionNotFound, id))
		}

		return nil, persistence.NewAutomationError("VersionByID", "", err)
	}

	err = json.Unmarshal(definition, &version.Definition)
	if err != nil {
		return nil, fmt.Errorf("failed to unmarshal definition of version %s: %w", id, err)
	}

	version.CreatedAt = version.CreatedAt.UTC()

	return &version, nil
}

// LatestVersionNumber returns the highest version number of an automation, or 0.
func (r *AutomationRepository) LatestVersionNumber(ctx context.Context, automationID string) (int, error) {
	var latest int

	err := r.db.QueryRowContext(ctx,
		"SELECT COALESCE(MAX(version), 0) FROM automation_versions WHERE automation_id = $1",
		automationID,
	).Scan(&latest)
	if err != nil {
		return 0, persistence.NewAutomationError("LatestVersionNumber", automationID, err)
	}

	return latest, nil
}
