package analysis

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Ramsey-B/bramble/pkg/models"
)

func TestGraphAdjacency(t *testing.T) {
	entities := []models.Entity{
		{ID: "dev-1", EntityType: "endpoint"},
		{ID: "dev-2", EntityType: "endpoint"},
	}
	parents := map[string]models.Entity{
		"comp-ext-1": {ID: "comp-1", EntityType: "company"},
	}
	edges := []models.DesiredEdge{
		{ParentEntityID: "comp-1", ChildEntityID: "dev-1", RelationshipType: "site-member"},
		{ParentEntityID: "comp-1", ChildEntityID: "dev-2", RelationshipType: "site-member"},
	}

	g := NewGraph(entities, parents, edges)

	require.NotNil(t, g.GetEntity("comp-1"))
	require.NotNil(t, g.GetEntity("dev-1"))
	assert.Nil(t, g.GetEntity("missing"))

	children := g.GetChildEntities("comp-1")
	require.Len(t, children, 2)

	parent := g.GetParentEntity("dev-2")
	require.NotNil(t, parent)
	assert.Equal(t, "comp-1", parent.ID)
	assert.Nil(t, g.GetParentEntity("comp-1"))

	assert.Len(t, g.GetRelationships("comp-1"), 2)
	assert.Len(t, g.GetRelationships("dev-1"), 1)
	assert.Empty(t, g.GetRelationships("missing"))
}
