package analyzers

import (
	"context"
	"encoding/json"

	"github.com/Ramsey-B/bramble/pkg/analysis"
	"github.com/Ramsey-B/bramble/pkg/models"
)

// TamperProtection flags endpoints where agent tamper protection is off
type TamperProtection struct{}

// ID implements analysis.Analyzer
func (TamperProtection) ID() string { return "tamper-protection" }

// AppliesTo implements analysis.Analyzer
func (TamperProtection) AppliesTo(integration string) bool {
	return integration == "sophos-partner"
}

// Analyze implements analysis.Analyzer
func (a TamperProtection) Analyze(_ context.Context, in *analysis.Input) (*analysis.Output, error) {
	out := &analysis.Output{
		States: map[string]models.EntityState{},
		Tags:   map[string][]string{},
	}

	endpoints := in.OfKind("endpoint")
	for i := range endpoints {
		e := &endpoints[i]
		var payload struct {
			TamperProtectionEnabled *bool `json:"tamperProtectionEnabled"`
		}
		if err := json.Unmarshal(e.Data, &payload); err != nil {
			continue
		}
		if payload.TamperProtectionEnabled == nil || *payload.TamperProtectionEnabled {
			continue
		}

		out.Findings = append(out.Findings, models.Finding{
			EntityID:    &e.ID,
			RuleID:      a.ID(),
			Fingerprint: analysis.Fingerprint(a.ID(), e),
			Severity:    models.AlertSeverityCritical,
			Title:       "Tamper protection disabled",
			Message:     e.DisplayName + " has tamper protection disabled",
		})
		out.States[e.ID] = models.EntityStateCritical
		out.Tags[e.ID] = append(out.Tags[e.ID], "tamper-protection-off")
	}

	return out, nil
}
