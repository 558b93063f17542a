package models

import (
	"encoding/json"
	"time"
)

// IntegrationConnection is a tenant's configured link to an external system
type IntegrationConnection struct {
	ID          string          `json:"id" db:"id"`
	TenantID    string          `json:"tenant_id" db:"tenant_id"`
	Integration string          `json:"integration" db:"integration"`
	Name        string          `json:"name" db:"name"`
	Enabled     bool            `json:"enabled" db:"enabled"`
	Settings    json.RawMessage `json:"settings,omitempty" db:"settings"`
	CreatedAt   time.Time       `json:"created_at" db:"created_at"`
	UpdatedAt   time.Time       `json:"updated_at" db:"updated_at"`
	DeletedAt   *time.Time      `json:"deleted_at,omitempty" db:"deleted_at"`
}

// SiteMapping links an external site/company scope to a tenant site
type SiteMapping struct {
	ID             string     `json:"id" db:"id"`
	TenantID       string     `json:"tenant_id" db:"tenant_id"`
	ConnectionID   string     `json:"connection_id" db:"connection_id"`
	ExternalSiteID string     `json:"external_site_id" db:"external_site_id"`
	SiteID         string     `json:"site_id" db:"site_id"`
	CreatedAt      time.Time  `json:"created_at" db:"created_at"`
	DeletedAt      *time.Time `json:"deleted_at,omitempty" db:"deleted_at"`
}
