package models

import (
	"encoding/json"
	"time"
)

// WorkUnitStatus is the lifecycle state of a work unit
type WorkUnitStatus string

const (
	WorkUnitStatusPending   WorkUnitStatus = "pending"
	WorkUnitStatusQueued    WorkUnitStatus = "queued"
	WorkUnitStatusRunning   WorkUnitStatus = "running"
	WorkUnitStatusCompleted WorkUnitStatus = "completed"
	WorkUnitStatusFailed    WorkUnitStatus = "failed"
)

// WorkUnitTrigger indicates what created a work unit
type WorkUnitTrigger string

const (
	WorkUnitTriggerScheduled WorkUnitTrigger = "scheduled"
	WorkUnitTriggerManual    WorkUnitTrigger = "manual"
	WorkUnitTriggerFanOut    WorkUnitTrigger = "fanout"
)

// WorkUnit is one schedulable sync task for (tenant, integration, entity kind, scope).
// Field order matches schema: id, tenant_id, integration, entity_type, ...
type WorkUnit struct {
	ID           string          `json:"id" db:"id"`
	TenantID     string          `json:"tenant_id" db:"tenant_id"`
	Integration  string          `json:"integration" db:"integration"`
	EntityType   string          `json:"entity_type" db:"entity_type"`
	ConnectionID *string         `json:"connection_id,omitempty" db:"connection_id"`
	SiteID       *string         `json:"site_id,omitempty" db:"site_id"`
	Status       WorkUnitStatus  `json:"status" db:"status"`
	Priority     int             `json:"priority" db:"priority"`
	Trigger      WorkUnitTrigger `json:"trigger" db:"trigger"`
	SyncID       string          `json:"sync_id" db:"sync_id"`
	ScheduledFor *time.Time      `json:"scheduled_for,omitempty" db:"scheduled_for"`
	Attempts     int             `json:"attempts" db:"attempts"`
	Error        *string         `json:"error,omitempty" db:"error"`
	Metrics      json.RawMessage `json:"metrics,omitempty" db:"metrics"`
	StartedAt    *time.Time      `json:"started_at,omitempty" db:"started_at"`
	FinishedAt   *time.Time      `json:"finished_at,omitempty" db:"finished_at"`
	CreatedAt    time.Time       `json:"created_at" db:"created_at"`
	UpdatedAt    time.Time       `json:"updated_at" db:"updated_at"`
}

// IsTerminal reports whether the unit reached a final state
func (w *WorkUnit) IsTerminal() bool {
	return w.Status == WorkUnitStatusCompleted || w.Status == WorkUnitStatusFailed
}

// CreateWorkUnitRequest is the request for inserting a new work unit
type CreateWorkUnitRequest struct {
	TenantID     string          `json:"tenant_id" validate:"required"`
	Integration  string          `json:"integration" validate:"required"`
	EntityType   string          `json:"entity_type" validate:"required"`
	ConnectionID *string         `json:"connection_id,omitempty"`
	SiteID       *string         `json:"site_id,omitempty"`
	Priority     int             `json:"priority"`
	Trigger      WorkUnitTrigger `json:"trigger"`
	SyncID       string          `json:"sync_id,omitempty"`
	ScheduledFor *time.Time      `json:"scheduled_for,omitempty"`
}

// WorkUnitListResponse is the response for listing work units
type WorkUnitListResponse struct {
	Items      []WorkUnit `json:"items"`
	TotalCount int        `json:"total_count"`
	Page       int        `json:"page"`
	PageSize   int        `json:"page_size"`
}
