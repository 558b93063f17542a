package worker

import (
	"context"

	"github.com/Gobusters/ectologger"

	"github.com/Ramsey-B/bramble/pkg/analysis"
	"github.com/Ramsey-B/bramble/pkg/events"
	"github.com/Ramsey-B/bramble/pkg/models"
	"github.com/Ramsey-B/bramble/pkg/tagging"
	"github.com/Ramsey-B/bramble/pkg/tracing"
)

// tagSource identifies the analysis pipeline as a tag writer
const tagSource = "analysis"

// CycleEntityStore loads an integration's entities and records their states
type CycleEntityStore interface {
	ListByIntegration(ctx context.Context, tenantID, integration string) ([]models.Entity, error)
	UpdateState(ctx context.Context, id string, state models.EntityState) error
}

// CycleRelationshipStore loads an integration's edges
type CycleRelationshipStore interface {
	ListByIntegration(ctx context.Context, tenantID, integration string) ([]models.Relationship, error)
}

// CycleAnalysis evaluates the analyzers over an integration's complete
// entity graph once per sync cycle, after every kind has finished. It runs
// as a queued job so a failed pass is retried like any other.
type CycleAnalysis struct {
	entities      CycleEntityStore
	relationships CycleRelationshipStore
	analyzer      *analysis.Orchestrator
	alerts        AlertApplier
	tagger        *tagging.Applier
	emitter       EventEmitter
	logger        ectologger.Logger
}

// NewCycleAnalysis wires the cycle analysis pass
func NewCycleAnalysis(
	entities CycleEntityStore,
	relationships CycleRelationshipStore,
	analyzer *analysis.Orchestrator,
	alerts AlertApplier,
	tagger *tagging.Applier,
	emitter EventEmitter,
	logger ectologger.Logger,
) *CycleAnalysis {
	return &CycleAnalysis{
		entities:      entities,
		relationships: relationships,
		analyzer:      analyzer,
		alerts:        alerts,
		tagger:        tagger,
		emitter:       emitter,
		logger:        logger,
	}
}

// Run loads the integration's entities and edges, runs every applicable
// analyzer, and applies tags, states, and alerts in that order. Alerts go
// last so auto-resolve sees the whole cycle's findings at once.
func (c *CycleAnalysis) Run(ctx context.Context, tenantID, integration string) error {
	ctx, span := tracing.StartSpan(ctx, "worker.CycleAnalysis.Run")
	defer span.End()

	entities, err := c.entities.ListByIntegration(ctx, tenantID, integration)
	if err != nil {
		return err
	}
	rels, err := c.relationships.ListByIntegration(ctx, tenantID, integration)
	if err != nil {
		return err
	}
	edges := make([]models.DesiredEdge, 0, len(rels))
	for i := range rels {
		edges = append(edges, models.DesiredEdge{
			ParentEntityID:   rels[i].ParentEntityID,
			ChildEntityID:    rels[i].ChildEntityID,
			RelationshipType: rels[i].RelationshipType,
			Metadata:         rels[i].Metadata,
		})
	}

	in := analysis.NewInput(tenantID, integration, entities, analysis.NewGraph(entities, nil, edges))
	result, err := c.analyzer.Run(ctx, in)
	if err != nil {
		return err
	}
	if len(result.EvaluatedRules) == 0 {
		return nil
	}

	tagsByEntity := make(map[string][]string, len(entities))
	for i := range entities {
		tagsByEntity[entities[i].ID] = result.Tags[entities[i].ID]
	}
	tagsApplied, err := c.tagger.Apply(ctx, tenantID, tagSource, tagsByEntity)
	if err != nil {
		return err
	}

	// entities without a verdict settle back to normal
	var stateChanges int
	for i := range entities {
		e := &entities[i]
		desired, flagged := result.States[e.ID]
		if !flagged {
			desired = models.EntityStateNormal
		}
		if desired == e.State {
			continue
		}
		if err := c.entities.UpdateState(ctx, e.ID, desired); err != nil {
			return err
		}
		stateChanges++
		if err := c.emitter.EmitEntityStateChanged(ctx, &events.EntityStateChanged{
			TenantID:    tenantID,
			Integration: integration,
			EntityType:  e.EntityType,
			EntityID:    e.ID,
			ExternalID:  e.ExternalID,
			Previous:    string(e.State),
			Current:     string(desired),
		}); err != nil {
			c.logger.WithContext(ctx).WithError(err).Error("failed to emit entity state changed event")
		}
	}

	alertResult, err := c.alerts.Apply(ctx, tenantID, integration, result.EvaluatedRules, result.Findings)
	if err != nil {
		return err
	}

	c.logger.WithContext(ctx).WithFields(map[string]any{
		"tenant_id":       tenantID,
		"integration":     integration,
		"entities":        len(entities),
		"findings":        len(result.Findings),
		"state_changes":   stateChanges,
		"tags_applied":    tagsApplied,
		"alerts_created":  alertResult.Created,
		"alerts_resolved": alertResult.Resolved,
	}).Info("cycle analysis completed")

	return nil
}
