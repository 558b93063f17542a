// Package linker computes the relationship edges a batch of entities implies.
// Each integration registers a Linker; the relationship reconciler diffs the
// desired edges against what is stored.
package linker

import (
	"context"
	"sync"

	"github.com/Ramsey-B/bramble/pkg/models"
)

// Input carries everything a linker needs to derive edges for one pass
type Input struct {
	TenantID    string
	Integration string
	EntityType  string
	// Entities are the reconciled entities of this pass, post-write, so
	// every one has a surrogate id
	Entities []models.Entity
	// ParentsByExternalID resolves external parent references (site or
	// company ids in payloads) to stored parent entities
	ParentsByExternalID map[string]models.Entity
}

// Linker derives the desired edges for a batch of entities
type Linker interface {
	// Integration returns the integration name the linker serves
	Integration() string
	// ComputeDesiredEdges returns every edge that should exist for the
	// batch. Edges not returned for a covered parent are removed.
	ComputeDesiredEdges(ctx context.Context, in *Input) ([]models.DesiredEdge, error)
}

// Registry holds the registered linkers keyed by integration name
type Registry struct {
	mu      sync.RWMutex
	linkers map[string]Linker
}

// NewRegistry creates an empty linker registry
func NewRegistry() *Registry {
	return &Registry{linkers: map[string]Linker{}}
}

// Register adds a linker for its integration
func (r *Registry) Register(l Linker) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.linkers[l.Integration()] = l
}

// Get returns the linker for an integration, or nil when the integration
// derives no edges
func (r *Registry) Get(integration string) Linker {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.linkers[integration]
}
