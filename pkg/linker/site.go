package linker

import (
	"context"

	"github.com/Ramsey-B/bramble/pkg/models"
)

// RelationshipTypeSiteMember is the edge type between a site-scoped entity
// and the company it belongs to
const RelationshipTypeSiteMember = "site-member"

// SiteMembership links site-scoped entities to their parent company. It
// covers every fan-out integration whose child kinds carry the parent's
// external id as their site.
type SiteMembership struct {
	integration string
}

// NewSiteMembership creates a site membership linker for one integration
func NewSiteMembership(integration string) *SiteMembership {
	return &SiteMembership{integration: integration}
}

// Integration returns the integration the linker serves
func (l *SiteMembership) Integration() string {
	return l.integration
}

// ComputeDesiredEdges links each sited entity under its resolved parent.
// Entities without a site, or whose site resolves to no stored parent, get
// no edge.
func (l *SiteMembership) ComputeDesiredEdges(_ context.Context, in *Input) ([]models.DesiredEdge, error) {
	var edges []models.DesiredEdge
	for i := range in.Entities {
		e := &in.Entities[i]
		if e.SiteID == nil {
			continue
		}
		parent, ok := in.ParentsByExternalID[*e.SiteID]
		if !ok {
			continue
		}
		edges = append(edges, models.DesiredEdge{
			ParentEntityID:   parent.ID,
			ChildEntityID:    e.ID,
			RelationshipType: RelationshipTypeSiteMember,
		})
	}
	return edges, nil
}
