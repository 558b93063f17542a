// Package adapter defines the integration-facing fetch contract. Each
// integration registers an Adapter that pages raw records out of the
// external system; everything downstream of the fetch is shared.
package adapter

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/Ramsey-B/bramble/pkg/models"
)

// RawRecord is one external object as fetched, before normalization
type RawRecord struct {
	// ExternalID is the stable id in the external system
	ExternalID string
	// DisplayName is a best-effort human label; Normalize fills it from the
	// payload when the adapter leaves it empty
	DisplayName string
	// ExternalSiteID is the external site/company scope, when the record
	// belongs to one
	ExternalSiteID string
	// Payload is the raw object body
	Payload json.RawMessage
}

// Page is one fetch result. A non-empty NextCursor means more pages remain.
type Page struct {
	Records    []RawRecord
	NextCursor string
}

// FetchRequest identifies what to fetch
type FetchRequest struct {
	Unit     *models.WorkUnit
	Settings json.RawMessage
	Cursor   string
}

// Adapter pages records of one entity kind out of an external system
type Adapter interface {
	// Integration returns the integration name the adapter serves
	Integration() string
	// FetchPage fetches one page for the work unit's entity kind
	FetchPage(ctx context.Context, req *FetchRequest) (*Page, error)
}

// displayNameKeys is the fallback chain used when an adapter doesn't set a
// display name explicitly
var displayNameKeys = []string{
	"displayName",
	"display_name",
	"name",
	"Name",
	"companyName",
	"hostname",
	"userPrincipalName",
}

// DisplayName resolves a record's display name, falling back through the
// payload's well-known name fields and finally the external id
func DisplayName(rec *RawRecord) string {
	if rec.DisplayName != "" {
		return rec.DisplayName
	}

	var payload map[string]any
	if err := json.Unmarshal(rec.Payload, &payload); err == nil {
		for _, key := range displayNameKeys {
			if v, ok := payload[key].(string); ok && v != "" {
				return v
			}
		}
	}
	return rec.ExternalID
}

// Registry holds the registered adapters keyed by integration name
type Registry struct {
	mu       sync.RWMutex
	adapters map[string]Adapter
}

// NewRegistry creates an empty adapter registry
func NewRegistry() *Registry {
	return &Registry{adapters: map[string]Adapter{}}
}

// Register adds an adapter. Registering the same integration twice is a
// programming error.
func (r *Registry) Register(a Adapter) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	name := a.Integration()
	if _, exists := r.adapters[name]; exists {
		return fmt.Errorf("adapter already registered for integration %q", name)
	}
	r.adapters[name] = a
	return nil
}

// Has reports whether an adapter is registered for an integration
func (r *Registry) Has(integration string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()

	_, ok := r.adapters[integration]
	return ok
}

// Get returns the adapter for an integration
func (r *Registry) Get(integration string) (Adapter, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	a, ok := r.adapters[integration]
	if !ok {
		return nil, fmt.Errorf("no adapter registered for integration %q", integration)
	}
	return a, nil
}
