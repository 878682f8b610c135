package models

import "time"

// Automation is a tenant-owned automation. Its graph lives in immutable versions.
type Automation struct {
	ID               string    `json:"id"`
	TenantID         string    `json:"tenant_id"          validate:"required"`
	Name             string    `json:"name"               validate:"required,min=3"`
	TriggerEvent     string    `json:"trigger_event"      validate:"required"`
	Enabled          bool      `json:"enabled"`
	CurrentVersionID string    `json:"current_version_id,omitempty"`
	CreatedAt        time.Time `json:"created_at"`
	UpdatedAt        time.Time `json:"updated_at"`
}

// AutomationVersion is a published, never-mutated snapshot of an automation graph.
type AutomationVersion struct {
	ID           string     `json:"id"`
	AutomationID string     `json:"automation_id"`
	Version      int        `json:"version"`
	Definition   Definition `json:"definition"`
	CreatedAt    time.Time  `json:"created_at"`
}
