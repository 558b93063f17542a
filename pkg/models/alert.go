package models

import (
	"encoding/json"
	"time"
)

// AlertStatus is the lifecycle state of an alert
type AlertStatus string

const (
	AlertStatusActive     AlertStatus = "active"
	AlertStatusResolved   AlertStatus = "resolved"
	AlertStatusSuppressed AlertStatus = "suppressed"
)

// AlertSeverity is the severity of an alert
type AlertSeverity string

const (
	AlertSeverityLow      AlertSeverity = "low"
	AlertSeverityWarn     AlertSeverity = "warn"
	AlertSeverityCritical AlertSeverity = "critical"
)

// Alert is a deduplicated finding raised by an analyzer. Fingerprint is the
// dedup key within a tenant.
type Alert struct {
	ID          string          `json:"id" db:"id"`
	TenantID    string          `json:"tenant_id" db:"tenant_id"`
	EntityID    *string         `json:"entity_id,omitempty" db:"entity_id"`
	Integration string          `json:"integration" db:"integration"`
	RuleID      string          `json:"rule_id" db:"rule_id"`
	Fingerprint string          `json:"fingerprint" db:"fingerprint"`
	Severity    AlertSeverity   `json:"severity" db:"severity"`
	Status      AlertStatus     `json:"status" db:"status"`
	Title       string          `json:"title" db:"title"`
	Message     string          `json:"message" db:"message"`
	Details     json.RawMessage `json:"details,omitempty" db:"details"`
	FirstSeenAt time.Time       `json:"first_seen_at" db:"first_seen_at"`
	LastSeenAt  time.Time       `json:"last_seen_at" db:"last_seen_at"`
	ResolvedAt  *time.Time      `json:"resolved_at,omitempty" db:"resolved_at"`
	CreatedAt   time.Time       `json:"created_at" db:"created_at"`
	UpdatedAt   time.Time       `json:"updated_at" db:"updated_at"`
}

// Finding is a candidate alert produced by an analyzer before dedup
type Finding struct {
	EntityID    *string         `json:"entity_id,omitempty"`
	RuleID      string          `json:"rule_id"`
	Fingerprint string          `json:"fingerprint"`
	Severity    AlertSeverity   `json:"severity"`
	Title       string          `json:"title"`
	Message     string          `json:"message"`
	Details     json.RawMessage `json:"details,omitempty"`
}
