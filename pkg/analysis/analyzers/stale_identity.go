package analyzers

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/Ramsey-B/bramble/pkg/analysis"
	"github.com/Ramsey-B/bramble/pkg/models"
)

// staleSignInThreshold is how long an identity can go without a sign-in
// before it counts as stale
const staleSignInThreshold = 90 * 24 * time.Hour

// StaleIdentity flags enabled identities with no recent sign-in activity
type StaleIdentity struct {
	// Now is injectable for tests; defaults to time.Now
	Now func() time.Time
}

// ID implements analysis.Analyzer
func (StaleIdentity) ID() string { return "stale-identity" }

// AppliesTo implements analysis.Analyzer
func (StaleIdentity) AppliesTo(integration string) bool {
	return integration == "microsoft-365"
}

// Analyze implements analysis.Analyzer
func (a StaleIdentity) Analyze(_ context.Context, in *analysis.Input) (*analysis.Output, error) {
	now := time.Now()
	if a.Now != nil {
		now = a.Now()
	}

	out := &analysis.Output{
		States: map[string]models.EntityState{},
		Tags:   map[string][]string{},
	}

	identities := in.OfKind("identity")
	for i := range identities {
		e := &identities[i]
		var payload struct {
			LastSignInAt   *time.Time `json:"lastSignInAt"`
			AccountEnabled *bool      `json:"accountEnabled"`
		}
		if err := json.Unmarshal(e.Data, &payload); err != nil {
			continue
		}
		if payload.AccountEnabled != nil && !*payload.AccountEnabled {
			continue
		}
		if payload.LastSignInAt != nil && now.Sub(*payload.LastSignInAt) < staleSignInThreshold {
			continue
		}

		message := e.DisplayName + " has never signed in"
		if payload.LastSignInAt != nil {
			days := int(now.Sub(*payload.LastSignInAt).Hours() / 24)
			message = fmt.Sprintf("%s has not signed in for %d days", e.DisplayName, days)
		}

		out.Findings = append(out.Findings, models.Finding{
			EntityID:    &e.ID,
			RuleID:      a.ID(),
			Fingerprint: analysis.Fingerprint(a.ID(), e),
			Severity:    models.AlertSeverityLow,
			Title:       "Stale identity",
			Message:     message,
		})
		out.States[e.ID] = models.EntityStateLow
		out.Tags[e.ID] = append(out.Tags[e.ID], "stale-identity")
	}

	return out, nil
}
