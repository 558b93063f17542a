package models

import (
	"encoding/json"
	"time"
)

// EntityState is the derived health state of an entity
type EntityState string

const (
	EntityStateNormal   EntityState = "normal"
	EntityStateLow      EntityState = "low"
	EntityStateWarn     EntityState = "warn"
	EntityStateCritical EntityState = "critical"
)

// Entity is a normalized external object (company, endpoint, identity, ...).
// The external id is the stable identity key within (tenant, integration,
// entity_type, site); the surrogate id is never reused.
type Entity struct {
	ID          string          `json:"id" db:"id"`
	TenantID    string          `json:"tenant_id" db:"tenant_id"`
	Integration string          `json:"integration" db:"integration"`
	EntityType  string          `json:"entity_type" db:"entity_type"`
	ExternalID  string          `json:"external_id" db:"external_id"`
	DisplayName string          `json:"display_name" db:"display_name"`
	SiteID      *string         `json:"site_id,omitempty" db:"site_id"`
	Data        json.RawMessage `json:"data" db:"data"`
	ContentHash string          `json:"content_hash" db:"content_hash"`
	State       EntityState     `json:"state" db:"state"`
	SyncID      string          `json:"sync_id" db:"sync_id"`
	LastSeenAt  time.Time       `json:"last_seen_at" db:"last_seen_at"`
	CreatedAt   time.Time       `json:"created_at" db:"created_at"`
	UpdatedAt   time.Time       `json:"updated_at" db:"updated_at"`
}

// EntityRef is the id/external-id projection used by the pruning scan
type EntityRef struct {
	ID         string `json:"id" db:"id"`
	ExternalID string `json:"external_id" db:"external_id"`
}
