// Package alerting converges stored alerts onto the findings of a sync pass.
// Fingerprints deduplicate findings; operator suppression is sticky.
package alerting

import (
	"context"

	"github.com/Gobusters/ectologger"

	"github.com/Ramsey-B/bramble/pkg/metrics"
	"github.com/Ramsey-B/bramble/pkg/models"
	"github.com/Ramsey-B/bramble/pkg/tracing"
)

// AlertStore is the persistence surface the deduplicator needs
type AlertStore interface {
	GetByFingerprints(ctx context.Context, tenantID string, fingerprints []string) ([]models.Alert, error)
	ListActiveByRules(ctx context.Context, tenantID, integration string, ruleIDs []string) ([]models.Alert, error)
	BulkInsert(ctx context.Context, tenantID, integration string, findings []models.Finding) error
	Refresh(ctx context.Context, id string, f *models.Finding) error
	Reactivate(ctx context.Context, id string, f *models.Finding) error
	ResolveByIDs(ctx context.Context, ids []string) (int64, error)
}

// Result summarizes one deduplication pass
type Result struct {
	Created   int
	Refreshed int
	Resolved  int
}

// Deduplicator applies analyzer findings to the alert store
type Deduplicator struct {
	store  AlertStore
	logger ectologger.Logger
}

// NewDeduplicator creates a deduplicator
func NewDeduplicator(store AlertStore, logger ectologger.Logger) *Deduplicator {
	return &Deduplicator{store: store, logger: logger}
}

// Apply converges alerts onto the findings of one pass:
//   - an unknown fingerprint becomes a new active alert
//   - a matched active or suppressed alert is refreshed in place; suppressed
//     stays suppressed
//   - a matched resolved alert is reactivated
//   - active alerts of the evaluated rules whose fingerprint was not seen
//     are auto-resolved
//
// When two findings in the same pass carry the same fingerprint, the last
// one wins.
func (d *Deduplicator) Apply(ctx context.Context, tenantID, integration string, evaluatedRules []string, findings []models.Finding) (*Result, error) {
	ctx, span := tracing.StartSpan(ctx, "alerting.Deduplicator.Apply")
	defer span.End()

	result := &Result{}

	// last writer wins on fingerprint collisions within a pass
	byFingerprint := make(map[string]models.Finding, len(findings))
	order := make([]string, 0, len(findings))
	for _, f := range findings {
		if _, seen := byFingerprint[f.Fingerprint]; !seen {
			order = append(order, f.Fingerprint)
		}
		byFingerprint[f.Fingerprint] = f
	}

	existing, err := d.store.GetByFingerprints(ctx, tenantID, order)
	if err != nil {
		return nil, err
	}
	existingByFingerprint := make(map[string]*models.Alert, len(existing))
	for i := range existing {
		existingByFingerprint[existing[i].Fingerprint] = &existing[i]
	}

	var toCreate []models.Finding
	for _, fp := range order {
		finding := byFingerprint[fp]
		stored, exists := existingByFingerprint[fp]
		if !exists {
			toCreate = append(toCreate, finding)
			continue
		}

		switch stored.Status {
		case models.AlertStatusResolved:
			if err := d.store.Reactivate(ctx, stored.ID, &finding); err != nil {
				return nil, err
			}
		default:
			if err := d.store.Refresh(ctx, stored.ID, &finding); err != nil {
				return nil, err
			}
		}
		result.Refreshed++
	}

	if err := d.store.BulkInsert(ctx, tenantID, integration, toCreate); err != nil {
		return nil, err
	}
	result.Created = len(toCreate)

	// auto-resolve: active alerts of the evaluated rules not seen this pass
	active, err := d.store.ListActiveByRules(ctx, tenantID, integration, evaluatedRules)
	if err != nil {
		return nil, err
	}
	var toResolve []string
	for _, a := range active {
		if _, seen := byFingerprint[a.Fingerprint]; !seen {
			toResolve = append(toResolve, a.ID)
		}
	}
	resolved, err := d.store.ResolveByIDs(ctx, toResolve)
	if err != nil {
		return nil, err
	}
	result.Resolved = int(resolved)

	metrics.RecordAlertAction(integration, "created", result.Created)
	metrics.RecordAlertAction(integration, "refreshed", result.Refreshed)
	metrics.RecordAlertAction(integration, "resolved", result.Resolved)

	return result, nil
}
