package models

import "time"

// EntityTag is a label on an entity. Tags are replaced per (entity, source)
// on every pass, so source identifies the writer that owns the tag.
type EntityTag struct {
	ID        string    `json:"id" db:"id"`
	TenantID  string    `json:"tenant_id" db:"tenant_id"`
	EntityID  string    `json:"entity_id" db:"entity_id"`
	Tag       string    `json:"tag" db:"tag"`
	Source    string    `json:"source" db:"source"`
	CreatedAt time.Time `json:"created_at" db:"created_at"`
}
