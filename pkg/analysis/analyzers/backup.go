package analyzers

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/Ramsey-B/bramble/pkg/analysis"
	"github.com/Ramsey-B/bramble/pkg/models"
)

// backupOverdueThreshold is how long a device can go without a successful
// backup before it counts as overdue
const backupOverdueThreshold = 7 * 24 * time.Hour

// BackupCompliance flags devices with failed or overdue backups
type BackupCompliance struct {
	// Now is injectable for tests; defaults to time.Now
	Now func() time.Time
}

// ID implements analysis.Analyzer
func (BackupCompliance) ID() string { return "backup-compliance" }

// AppliesTo implements analysis.Analyzer
func (BackupCompliance) AppliesTo(integration string) bool {
	return integration == "cove"
}

// Analyze implements analysis.Analyzer
func (a BackupCompliance) Analyze(_ context.Context, in *analysis.Input) (*analysis.Output, error) {
	now := time.Now()
	if a.Now != nil {
		now = a.Now()
	}

	out := &analysis.Output{
		States: map[string]models.EntityState{},
		Tags:   map[string][]string{},
	}

	devices := in.OfKind("backup-device")
	for i := range devices {
		e := &devices[i]
		var payload struct {
			LastBackupAt     *time.Time `json:"lastBackupAt"`
			LastBackupStatus string     `json:"lastBackupStatus"`
		}
		if err := json.Unmarshal(e.Data, &payload); err != nil {
			continue
		}

		failed := payload.LastBackupStatus == "failed"
		overdue := payload.LastBackupAt == nil || now.Sub(*payload.LastBackupAt) > backupOverdueThreshold
		if !failed && !overdue {
			continue
		}

		severity := models.AlertSeverityWarn
		state := models.EntityStateWarn
		title := "Backup overdue"
		message := fmt.Sprintf("%s has no successful backup in the last 7 days", e.DisplayName)
		if failed {
			severity = models.AlertSeverityCritical
			state = models.EntityStateCritical
			title = "Backup failed"
			message = e.DisplayName + " last backup attempt failed"
		}

		out.Findings = append(out.Findings, models.Finding{
			EntityID:    &e.ID,
			RuleID:      a.ID(),
			Fingerprint: analysis.Fingerprint(a.ID(), e),
			Severity:    severity,
			Title:       title,
			Message:     message,
		})
		out.States[e.ID] = state
		out.Tags[e.ID] = append(out.Tags[e.ID], "backup-at-risk")
	}

	return out, nil
}
