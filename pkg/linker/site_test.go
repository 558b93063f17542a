package linker

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Ramsey-B/bramble/pkg/models"
)

func TestSiteMembershipLinksSitedEntities(t *testing.T) {
	site := "comp-ext-1"
	l := NewSiteMembership("dattormm")

	edges, err := l.ComputeDesiredEdges(context.Background(), &Input{
		TenantID:    "tenant-1",
		Integration: "dattormm",
		EntityType:  "endpoint",
		Entities: []models.Entity{
			{ID: "dev-1", SiteID: &site},
			{ID: "dev-2", SiteID: &site},
		},
		ParentsByExternalID: map[string]models.Entity{
			"comp-ext-1": {ID: "comp-1"},
		},
	})
	require.NoError(t, err)

	require.Len(t, edges, 2)
	for _, e := range edges {
		assert.Equal(t, "comp-1", e.ParentEntityID)
		assert.Equal(t, RelationshipTypeSiteMember, e.RelationshipType)
	}
}

func TestSiteMembershipSkipsUnresolvedSites(t *testing.T) {
	orphanSite := "comp-ext-missing"
	l := NewSiteMembership("dattormm")

	edges, err := l.ComputeDesiredEdges(context.Background(), &Input{
		Entities: []models.Entity{
			{ID: "dev-1"},
			{ID: "dev-2", SiteID: &orphanSite},
		},
		ParentsByExternalID: map[string]models.Entity{},
	})
	require.NoError(t, err)
	assert.Empty(t, edges)
}
