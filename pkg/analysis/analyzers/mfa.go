// Package analyzers holds the built-in analysis rules.
package analyzers

import (
	"context"
	"encoding/json"

	"github.com/Ramsey-B/bramble/pkg/analysis"
	"github.com/Ramsey-B/bramble/pkg/models"
)

// MFACoverage flags identities without multi-factor authentication.
// Privileged accounts are escalated to critical.
type MFACoverage struct{}

// ID implements analysis.Analyzer
func (MFACoverage) ID() string { return "mfa-coverage" }

// AppliesTo implements analysis.Analyzer
func (MFACoverage) AppliesTo(integration string) bool {
	return integration == "microsoft-365"
}

// Analyze implements analysis.Analyzer
func (a MFACoverage) Analyze(_ context.Context, in *analysis.Input) (*analysis.Output, error) {
	out := &analysis.Output{
		States: map[string]models.EntityState{},
		Tags:   map[string][]string{},
	}

	identities := in.OfKind("identity")
	for i := range identities {
		e := &identities[i]
		var payload struct {
			MFAEnabled     *bool `json:"mfaEnabled"`
			IsAdmin        bool  `json:"isAdmin"`
			AccountEnabled *bool `json:"accountEnabled"`
		}
		if err := json.Unmarshal(e.Data, &payload); err != nil {
			continue
		}
		// disabled accounts are excluded from coverage
		if payload.AccountEnabled != nil && !*payload.AccountEnabled {
			continue
		}
		if payload.MFAEnabled == nil || *payload.MFAEnabled {
			continue
		}

		severity := models.AlertSeverityWarn
		state := models.EntityStateWarn
		if payload.IsAdmin {
			severity = models.AlertSeverityCritical
			state = models.EntityStateCritical
		}

		out.Findings = append(out.Findings, models.Finding{
			EntityID:    &e.ID,
			RuleID:      a.ID(),
			Fingerprint: analysis.Fingerprint(a.ID(), e),
			Severity:    severity,
			Title:       "MFA not enabled",
			Message:     e.DisplayName + " does not have multi-factor authentication enabled",
		})
		out.States[e.ID] = state
		out.Tags[e.ID] = append(out.Tags[e.ID], "no-mfa")
	}

	return out, nil
}
