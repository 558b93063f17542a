package worker

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/Gobusters/ectologger"
	kafkago "github.com/segmentio/kafka-go"

	"github.com/Ramsey-B/bramble/pkg/catalog"
	"github.com/Ramsey-B/bramble/pkg/completion"
	appctx "github.com/Ramsey-B/bramble/pkg/context"
	"github.com/Ramsey-B/bramble/pkg/events"
	"github.com/Ramsey-B/bramble/pkg/kafka"
	"github.com/Ramsey-B/bramble/pkg/metrics"
	"github.com/Ramsey-B/bramble/pkg/models"
	"github.com/Ramsey-B/bramble/pkg/tracing"
)

// FanOutUnitStore creates child work units
type FanOutUnitStore interface {
	Create(ctx context.Context, req *models.CreateWorkUnitRequest) (*models.WorkUnit, error)
}

// FanOutPolicy consumes scope.processed events and creates one child work
// unit per (processed scope, child kind). It also arms the completion
// tracker so the last child can finalize the cycle.
type FanOutPolicy struct {
	units     FanOutUnitStore
	tracker   *completion.Tracker
	finalizer *Finalizer
	logger    ectologger.Logger
}

// NewFanOutPolicy creates a fan-out policy
func NewFanOutPolicy(units FanOutUnitStore, tracker *completion.Tracker, finalizer *Finalizer, logger ectologger.Logger) *FanOutPolicy {
	return &FanOutPolicy{units: units, tracker: tracker, finalizer: finalizer, logger: logger}
}

// Handle is the kafka consumer handler. Non scope.processed events are
// ignored. Returning an error leaves the offset uncommitted.
func (p *FanOutPolicy) Handle(ctx context.Context, msg kafkago.Message) error {
	if kafka.EventType(msg) != events.TypeScopeProcessed {
		return nil
	}

	ctx, span := tracing.StartSpan(ctx, "worker.FanOutPolicy.Handle")
	defer span.End()

	var event events.ScopeProcessed
	if err := json.Unmarshal(msg.Value, &event); err != nil {
		// malformed events are logged and committed, not retried forever
		p.logger.WithContext(ctx).WithError(err).Error("dropping malformed scope processed event")
		return nil
	}

	ctx = appctx.SetTenantID(ctx, event.TenantID)
	ctx = appctx.SetIntegration(ctx, event.Integration)
	ctx = appctx.SetSyncID(ctx, event.SyncID)

	children, err := catalog.ChildKinds(event.Integration, event.EntityType)
	if err != nil {
		p.logger.WithContext(ctx).WithError(err).Error("dropping event for unknown integration")
		return nil
	}
	if len(children) == 0 {
		return nil
	}

	for _, child := range children {
		// arm fan-in before creating any child so no completion can be lost
		if err := p.tracker.Expect(ctx, completion.Key{
			TenantID:    event.TenantID,
			Integration: event.Integration,
			EntityType:  child.EntityType,
		}, len(event.Scopes)); err != nil {
			return fmt.Errorf("failed to arm completion tracking: %w", err)
		}

		// a parent pass with no scopes has nothing to fan out; the child
		// kind closes immediately so the cycle can still finalize
		if len(event.Scopes) == 0 {
			if err := p.finalizer.KindDone(ctx, event.TenantID, event.Integration, child.EntityType, event.SyncID); err != nil {
				return err
			}
			continue
		}

		now := time.Now().UTC()
		for _, scope := range event.Scopes {
			siteID := scope.ExternalID
			_, err := p.units.Create(ctx, &models.CreateWorkUnitRequest{
				TenantID:     event.TenantID,
				Integration:  event.Integration,
				EntityType:   child.EntityType,
				ConnectionID: event.ConnectionID,
				SiteID:       &siteID,
				Priority:     child.Priority,
				Trigger:      models.WorkUnitTriggerFanOut,
				SyncID:       event.SyncID,
				ScheduledFor: &now,
			})
			if err != nil {
				return fmt.Errorf("failed to create child unit for scope %s: %w", scope.ExternalID, err)
			}
			metrics.RecordFanOut(event.Integration, child.EntityType)
		}

		p.logger.WithContext(ctx).WithFields(map[string]any{
			"integration": event.Integration,
			"entity_type": child.EntityType,
			"children":    len(event.Scopes),
		}).Info("fanned out child work units")
	}

	return nil
}
