package models

import (
	"encoding/json"
	"time"
)

// Relationship is a directed edge between two entities. Uniqueness key is
// (parent_entity_id, child_entity_id, relationship_type).
type Relationship struct {
	ID               string          `json:"id" db:"id"`
	TenantID         string          `json:"tenant_id" db:"tenant_id"`
	Integration      string          `json:"integration" db:"integration"`
	ParentEntityID   string          `json:"parent_entity_id" db:"parent_entity_id"`
	ChildEntityID    string          `json:"child_entity_id" db:"child_entity_id"`
	RelationshipType string          `json:"relationship_type" db:"relationship_type"`
	Metadata         json.RawMessage `json:"metadata,omitempty" db:"metadata"`
	LastSeenAt       time.Time       `json:"last_seen_at" db:"last_seen_at"`
	CreatedAt        time.Time       `json:"created_at" db:"created_at"`
	UpdatedAt        time.Time       `json:"updated_at" db:"updated_at"`
}

// EdgeKey is the composite uniqueness key of a relationship
func (r *Relationship) EdgeKey() string {
	return r.ParentEntityID + ":" + r.ChildEntityID + ":" + r.RelationshipType
}

// DesiredEdge is an edge a linker wants to exist after a reconciliation pass
type DesiredEdge struct {
	ParentEntityID   string          `json:"parent_entity_id"`
	ChildEntityID    string          `json:"child_entity_id"`
	RelationshipType string          `json:"relationship_type"`
	Metadata         json.RawMessage `json:"metadata,omitempty"`
}

// EdgeKey is the composite uniqueness key of a desired edge
func (e *DesiredEdge) EdgeKey() string {
	return e.ParentEntityID + ":" + e.ChildEntityID + ":" + e.RelationshipType
}
