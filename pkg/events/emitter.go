// Package events defines the pipeline event types and a typed emitter over
// the kafka producer.
package events

import (
	"context"
	"time"

	"github.com/Ramsey-B/bramble/pkg/kafka"
)

// Event type names as they appear in the event_type message header
const (
	TypeScopeProcessed     = "scope.processed"
	TypeUnitCompleted      = "unit.completed"
	TypeUnitFailed         = "unit.failed"
	TypeSyncFinalized      = "sync.finalized"
	TypeEntityStateChanged = "entity.state_changed"
	TypeEntitiesPruned     = "entity.pruned"
)

// ScopeRef identifies one parent scope that finished processing
type ScopeRef struct {
	EntityID   string  `json:"entity_id"`
	ExternalID string  `json:"external_id"`
	SiteID     *string `json:"site_id,omitempty"`
}

// ScopeProcessed is emitted after a parent-kind work unit reconciles its
// scopes. The fan-out policy consumes it to schedule child work units.
type ScopeProcessed struct {
	TenantID     string     `json:"tenant_id"`
	Integration  string     `json:"integration"`
	EntityType   string     `json:"entity_type"`
	ConnectionID *string    `json:"connection_id,omitempty"`
	SyncID       string     `json:"sync_id"`
	Scopes       []ScopeRef `json:"scopes"`
	OccurredAt   time.Time  `json:"occurred_at"`
}

// UnitCompleted is emitted when a work unit reaches completed
type UnitCompleted struct {
	TenantID    string    `json:"tenant_id"`
	Integration string    `json:"integration"`
	EntityType  string    `json:"entity_type"`
	WorkUnitID  string    `json:"work_unit_id"`
	SyncID      string    `json:"sync_id"`
	OccurredAt  time.Time `json:"occurred_at"`
}

// UnitFailed is emitted when a work unit reaches failed
type UnitFailed struct {
	TenantID    string    `json:"tenant_id"`
	Integration string    `json:"integration"`
	EntityType  string    `json:"entity_type"`
	WorkUnitID  string    `json:"work_unit_id"`
	SyncID      string    `json:"sync_id"`
	Error       string    `json:"error"`
	OccurredAt  time.Time `json:"occurred_at"`
}

// SyncFinalized is emitted exactly once when the last child of a fanned-out
// sync finishes
type SyncFinalized struct {
	TenantID    string    `json:"tenant_id"`
	Integration string    `json:"integration"`
	EntityType  string    `json:"entity_type"`
	SyncID      string    `json:"sync_id"`
	OccurredAt  time.Time `json:"occurred_at"`
}

// EntityStateChanged is emitted when analysis moves an entity to a new
// health state
type EntityStateChanged struct {
	TenantID    string    `json:"tenant_id"`
	Integration string    `json:"integration"`
	EntityType  string    `json:"entity_type"`
	EntityID    string    `json:"entity_id"`
	ExternalID  string    `json:"external_id"`
	Previous    string    `json:"previous"`
	Current     string    `json:"current"`
	OccurredAt  time.Time `json:"occurred_at"`
}

// EntitiesPruned is emitted after stale entities are removed from a scope
type EntitiesPruned struct {
	TenantID    string    `json:"tenant_id"`
	Integration string    `json:"integration"`
	EntityType  string    `json:"entity_type"`
	SiteID      *string   `json:"site_id,omitempty"`
	SyncID      string    `json:"sync_id"`
	Count       int       `json:"count"`
	OccurredAt  time.Time `json:"occurred_at"`
}

// Emitter publishes typed pipeline events
type Emitter struct {
	producer *kafka.Producer
}

// NewEmitter creates an emitter over the producer
func NewEmitter(producer *kafka.Producer) *Emitter {
	return &Emitter{producer: producer}
}

// EmitScopeProcessed publishes a scope.processed event
func (e *Emitter) EmitScopeProcessed(ctx context.Context, event *ScopeProcessed) error {
	event.OccurredAt = time.Now().UTC()
	return e.producer.Publish(ctx, TypeScopeProcessed, event.TenantID, event)
}

// EmitUnitCompleted publishes a unit.completed event
func (e *Emitter) EmitUnitCompleted(ctx context.Context, event *UnitCompleted) error {
	event.OccurredAt = time.Now().UTC()
	return e.producer.Publish(ctx, TypeUnitCompleted, event.TenantID, event)
}

// EmitUnitFailed publishes a unit.failed event
func (e *Emitter) EmitUnitFailed(ctx context.Context, event *UnitFailed) error {
	event.OccurredAt = time.Now().UTC()
	return e.producer.Publish(ctx, TypeUnitFailed, event.TenantID, event)
}

// EmitSyncFinalized publishes a sync.finalized event
func (e *Emitter) EmitSyncFinalized(ctx context.Context, event *SyncFinalized) error {
	event.OccurredAt = time.Now().UTC()
	return e.producer.Publish(ctx, TypeSyncFinalized, event.TenantID, event)
}

// EmitEntityStateChanged publishes an entity.state_changed event
func (e *Emitter) EmitEntityStateChanged(ctx context.Context, event *EntityStateChanged) error {
	event.OccurredAt = time.Now().UTC()
	return e.producer.Publish(ctx, TypeEntityStateChanged, event.TenantID, event)
}

// EmitEntitiesPruned publishes an entity.pruned event
func (e *Emitter) EmitEntitiesPruned(ctx context.Context, event *EntitiesPruned) error {
	event.OccurredAt = time.Now().UTC()
	return e.producer.Publish(ctx, TypeEntitiesPruned, event.TenantID, event)
}
