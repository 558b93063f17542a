// Package catalog declares the supported integrations and the entity kinds
// each one syncs, along with their cadence and fan-out shape.
package catalog

import "fmt"

// KindSpec describes how one entity kind of an integration is synced
type KindSpec struct {
	// EntityType is the normalized kind name (company, endpoint, ...)
	EntityType string
	// RateMinutes is the sync cadence; the scheduler reschedules a completed
	// unit this many minutes out
	RateMinutes int
	// Priority orders dispatch; lower runs first
	Priority int
	// ParentKind, when set, means units of this kind are created per parent
	// scope by the fan-out policy instead of by the top-level scheduler
	ParentKind string
	// PruneStale enables deletion of entities not seen by a fully
	// successful pass
	PruneStale bool
}

// FanOut reports whether this kind is scheduled per parent scope
func (k KindSpec) FanOut() bool {
	return k.ParentKind != ""
}

// IntegrationSpec describes one supported integration
type IntegrationSpec struct {
	Name  string
	Kinds []KindSpec
}

var integrations = map[string]IntegrationSpec{
	"autotask": {
		Name: "autotask",
		Kinds: []KindSpec{
			{EntityType: "company", RateMinutes: 360, Priority: 10, PruneStale: true},
			{EntityType: "contract", RateMinutes: 720, Priority: 30, ParentKind: "company", PruneStale: true},
			{EntityType: "ticket", RateMinutes: 15, Priority: 40, ParentKind: "company"},
		},
	},
	"sophos-partner": {
		Name: "sophos-partner",
		Kinds: []KindSpec{
			{EntityType: "company", RateMinutes: 360, Priority: 10, PruneStale: true},
			{EntityType: "endpoint", RateMinutes: 60, Priority: 20, ParentKind: "company", PruneStale: true},
			{EntityType: "firewall", RateMinutes: 120, Priority: 25, ParentKind: "company", PruneStale: true},
		},
	},
	"dattormm": {
		Name: "dattormm",
		Kinds: []KindSpec{
			{EntityType: "company", RateMinutes: 360, Priority: 10, PruneStale: true},
			{EntityType: "endpoint", RateMinutes: 30, Priority: 20, ParentKind: "company", PruneStale: true},
		},
	},
	"cove": {
		Name: "cove",
		Kinds: []KindSpec{
			{EntityType: "backup-device", RateMinutes: 60, Priority: 20, PruneStale: true},
		},
	},
	"microsoft-365": {
		Name: "microsoft-365",
		Kinds: []KindSpec{
			{EntityType: "identity", RateMinutes: 120, Priority: 20, PruneStale: true},
			{EntityType: "license", RateMinutes: 720, Priority: 30, PruneStale: true},
			{EntityType: "policy", RateMinutes: 360, Priority: 30, PruneStale: true},
		},
	},
	"halopsa": {
		Name: "halopsa",
		Kinds: []KindSpec{
			{EntityType: "company", RateMinutes: 360, Priority: 10, PruneStale: true},
			{EntityType: "ticket", RateMinutes: 15, Priority: 40, ParentKind: "company"},
		},
	},
}

// Get returns the spec for an integration
func Get(integration string) (IntegrationSpec, error) {
	spec, ok := integrations[integration]
	if !ok {
		return IntegrationSpec{}, fmt.Errorf("unknown integration %q", integration)
	}
	return spec, nil
}

// Kind returns the spec for one entity kind of an integration
func Kind(integration, entityType string) (KindSpec, error) {
	spec, err := Get(integration)
	if err != nil {
		return KindSpec{}, err
	}
	for _, k := range spec.Kinds {
		if k.EntityType == entityType {
			return k, nil
		}
	}
	return KindSpec{}, fmt.Errorf("integration %q has no entity kind %q", integration, entityType)
}

// RootKinds returns the kinds the top-level scheduler seeds for an
// integration (those without a parent)
func RootKinds(integration string) ([]KindSpec, error) {
	spec, err := Get(integration)
	if err != nil {
		return nil, err
	}
	var kinds []KindSpec
	for _, k := range spec.Kinds {
		if !k.FanOut() {
			kinds = append(kinds, k)
		}
	}
	return kinds, nil
}

// ChildKinds returns the kinds fanned out under the given parent kind
func ChildKinds(integration, parentKind string) ([]KindSpec, error) {
	spec, err := Get(integration)
	if err != nil {
		return nil, err
	}
	var kinds []KindSpec
	for _, k := range spec.Kinds {
		if k.ParentKind == parentKind {
			kinds = append(kinds, k)
		}
	}
	return kinds, nil
}

// Integrations lists the supported integration names
func Integrations() []string {
	names := make([]string, 0, len(integrations))
	for name := range integrations {
		names = append(names, name)
	}
	return names
}
