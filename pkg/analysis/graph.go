package analysis

import "github.com/Ramsey-B/bramble/pkg/models"

// Graph gives analyzers read access to the entities of a pass and the edges
// converged around them. It is built once per run.
type Graph struct {
	byID     map[string]*models.Entity
	edges    []models.DesiredEdge
	children map[string][]string
	parents  map[string]string
}

// NewGraph indexes the batch entities, the resolved parent entities, and the
// converged edges
func NewGraph(entities []models.Entity, parents map[string]models.Entity, edges []models.DesiredEdge) *Graph {
	g := &Graph{
		byID:     make(map[string]*models.Entity, len(entities)+len(parents)),
		edges:    edges,
		children: make(map[string][]string),
		parents:  make(map[string]string),
	}
	for i := range entities {
		g.byID[entities[i].ID] = &entities[i]
	}
	for _, p := range parents {
		stored := p
		g.byID[stored.ID] = &stored
	}
	for _, e := range edges {
		g.children[e.ParentEntityID] = append(g.children[e.ParentEntityID], e.ChildEntityID)
		g.parents[e.ChildEntityID] = e.ParentEntityID
	}
	return g
}

// GetEntity returns an entity by id, or nil
func (g *Graph) GetEntity(id string) *models.Entity {
	return g.byID[id]
}

// GetRelationships returns every edge touching the entity
func (g *Graph) GetRelationships(entityID string) []models.DesiredEdge {
	var out []models.DesiredEdge
	for _, e := range g.edges {
		if e.ParentEntityID == entityID || e.ChildEntityID == entityID {
			out = append(out, e)
		}
	}
	return out
}

// GetChildEntities returns the entities linked under the given parent
func (g *Graph) GetChildEntities(parentID string) []*models.Entity {
	ids := g.children[parentID]
	out := make([]*models.Entity, 0, len(ids))
	for _, id := range ids {
		if e := g.byID[id]; e != nil {
			out = append(out, e)
		}
	}
	return out
}

// GetParentEntity returns the parent an entity is linked under, or nil
func (g *Graph) GetParentEntity(childID string) *models.Entity {
	parentID, ok := g.parents[childID]
	if !ok {
		return nil
	}
	return g.byID[parentID]
}
