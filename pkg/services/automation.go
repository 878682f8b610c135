package services

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"github.com/tallybook/automation/pkg/models"
	"github.com/tallybook/automation/pkg/persistence"
	"github.com/tallybook/automation/pkg/registry"
)

// Automation manages automations and their published versions.
type Automation struct {
	persistence persistence.Persistence
	registry    *registry.Registry
	validate    *validator.Validate
}

// NewAutomation creates a new automation service.
func NewAutomation(persistence persistence.Persistence, registry *registry.Registry) *Automation {
	return &Automation{
		persistence: persistence,
		registry:    registry,
		validate:    validator.New(validator.WithRequiredStructEnabled()),
	}
}

// HealthCheck checks the health of the persistence layer.
func (a *Automation) HealthCheck(ctx context.Context) (string, bool) {
	if a.persistence == nil {
		return "Persistence layer not initialized", false
	}

	err := a.persistence.HealthCheck(ctx)
	if err != nil {
		return "Persistence layer is unhealthy: " + err.Error(), false
	}

	return "Persistence layer is healthy", true
}

type CreateAutomationRequest struct {
	TenantID     string `json:"tenant_id"     validate:"required"`
	Name         string `json:"name"          validate:"required,min=3"`
	TriggerEvent string `json:"trigger_event" validate:"required"`
	Enabled      bool   `json:"enabled"`
}

// Create stores a new automation. It has no version until one is published.
func (a *Automation) Create(ctx context.Context, req CreateAutomationRequest) (*models.Automation, error) {
	err := a.validate.Struct(req)
	if err != nil {
		return nil, NewValidationError("CreateAutomation", "INVALID_AUTOMATION", err.Error(), ErrInvalidRequest)
	}

	automation := &models.Automation{
		ID:           uuid.NewString(),
		TenantID:     req.TenantID,
		Name:         req.Name,
		TriggerEvent: req.TriggerEvent,
		Enabled:      req.Enabled,
	}

	err = a.persistence.SaveAutomation(ctx, automation)
	if err != nil {
		return nil, fmt.Errorf("failed to save automation: %w", err)
	}

	return automation, nil
}

func (a *Automation) FetchByID(ctx context.Context, id string) (*models.Automation, error) {
	return a.persistence.AutomationByID(ctx, id)
}

// SetEnabled toggles whether new runs may be started for an automation.
func (a *Automation) SetEnabled(ctx context.Context, id string, enabled bool) (*models.Automation, error) {
	automation, err := a.persistence.AutomationByID(ctx, id)
	if err != nil {
		return nil, err
	}

	automation.Enabled = enabled

	err = a.persistence.SaveAutomation(ctx, automation)
	if err != nil {
		return nil, fmt.Errorf("failed to save automation: %w", err)
	}

	return automation, nil
}

// PublishVersion validates a JSON definition document and stores it as the
// next immutable version, which becomes the automation's current version.
func (a *Automation) PublishVersion(ctx context.Context, automationID string, document []byte) (*models.AutomationVersion, error) {
	automation, err := a.persistence.AutomationByID(ctx, automationID)
	if err != nil {
		return nil, err
	}

	definition, err := a.parseDefinition(document)
	if err != nil {
		return nil, NewValidationError("PublishVersion", "INVALID_DEFINITION", err.Error(), err)
	}

	latest, err := a.persistence.LatestVersionNumber(ctx, automationID)
	if err != nil {
		return nil, fmt.Errorf("failed to read latest version: %w", err)
	}

	version := &models.AutomationVersion{
		ID:           uuid.NewString(),
		AutomationID: automationID,
		Version:      latest + 1,
		Definition:   *definition,
		CreatedAt:    time.Now().UTC(),
	}

	err = a.persistence.CreateVersion(ctx, version)
	if err != nil {
		if errors.Is(err, persistence.ErrVersionExists) {
			return nil, NewConflictError("PublishVersion", "VERSION_CONFLICT", err.Error(), ErrVersionConflict)
		}

		return nil, fmt.Errorf("failed to create version: %w", err)
	}

	automation.CurrentVersionID = version.ID

	err = a.persistence.SaveAutomation(ctx, automation)
	if err != nil {
		return nil, fmt.Errorf("failed to update current version: %w", err)
	}

	return version, nil
}

func (a *Automation) FetchVersion(ctx context.Context, versionID string) (*models.AutomationVersion, error) {
	return a.persistence.VersionByID(ctx, versionID)
}

func (a *Automation) parseDefinition(document []byte) (*models.Definition, error) {
	var raw any

	err := json.Unmarshal(document, &raw)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidDefinition, err)
	}

	err = models.ValidateDocument(raw)
	if err != nil {
		return nil, err
	}

	var definition models.Definition

	err = json.Unmarshal(document, &definition)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidDefinition, err)
	}

	err = definition.Validate(a.validate)
	if err != nil {
		return nil, err
	}

	for _, node := range definition.Nodes {
		if !a.registry.Has(node.Type) {
			return nil, fmt.Errorf("%w: node %q has unsupported type %q", ErrInvalidDefinition, node.ID, node.Type)
		}

		err = a.registry.Validate(node.Type, node.Config)
		if err != nil {
			return nil, fmt.Errorf("%w: node %q: %w", ErrInvalidDefinition, node.ID, err)
		}
	}

	if _, ok := definition.EntryNodeID(); !ok && len(definition.Nodes) > 0 {
		return nil, fmt.Errorf("%w: %w", ErrInvalidDefinition, ErrNoEntryNode)
	}

	return &definition, nil
}
