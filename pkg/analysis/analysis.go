// Package analysis runs registered analyzers over an integration's entities
// and merges their verdicts into per-entity states, tags, and alert findings.
package analysis

import (
	"context"
	"fmt"

	"github.com/Ramsey-B/bramble/pkg/models"
)

// Input is the read-only context handed to each analyzer: every entity of
// the integration, grouped by kind, plus the graph of converged edges
type Input struct {
	TenantID    string
	Integration string
	Entities    []models.Entity
	byKind      map[string][]models.Entity
	// Graph exposes adjacency over the integration's edges. May be nil when
	// no relationships exist.
	Graph *Graph
}

// NewInput indexes the entities by kind
func NewInput(tenantID, integration string, entities []models.Entity, graph *Graph) *Input {
	in := &Input{
		TenantID:    tenantID,
		Integration: integration,
		Entities:    entities,
		byKind:      make(map[string][]models.Entity),
		Graph:       graph,
	}
	for _, e := range entities {
		in.byKind[e.EntityType] = append(in.byKind[e.EntityType], e)
	}
	return in
}

// OfKind returns the entities of one kind
func (in *Input) OfKind(entityType string) []models.Entity {
	return in.byKind[entityType]
}

// Output is one analyzer's verdict over the context
type Output struct {
	// Findings become deduplicated alerts
	Findings []models.Finding
	// States proposes a health state per entity id
	States map[string]models.EntityState
	// Tags proposes tag texts per entity id
	Tags map[string][]string
}

// Analyzer evaluates one concern over an integration's entities
type Analyzer interface {
	// ID is the stable rule id findings are attributed to
	ID() string
	// AppliesTo reports whether the analyzer evaluates this integration
	AppliesTo(integration string) bool
	// Analyze evaluates the context
	Analyze(ctx context.Context, in *Input) (*Output, error)
}

// Fingerprint builds the dedup key for a finding about one entity. The
// external id keeps the fingerprint stable across entity re-creation.
func Fingerprint(ruleID string, e *models.Entity) string {
	return fmt.Sprintf("%s:%s:%s:%s", ruleID, e.Integration, e.EntityType, e.ExternalID)
}
