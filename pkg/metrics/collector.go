package metrics

import (
	"encoding/json"
	"sync"
	"time"
)

// SyncStats accumulates per-job counters during a sync run. It is safe for
// concurrent use so pipeline stages can report from multiple goroutines.
type SyncStats struct {
	mu sync.Mutex

	startedAt time.Time

	RecordsFetched       int `json:"records_fetched"`
	PagesFetched         int `json:"pages_fetched"`
	EntitiesCreated      int `json:"entities_created"`
	EntitiesUpdated      int `json:"entities_updated"`
	EntitiesTouched      int `json:"entities_touched"`
	EntitiesPruned       int `json:"entities_pruned"`
	RelationshipsCreated int `json:"relationships_created"`
	RelationshipsTouched int `json:"relationships_touched"`
	RelationshipsRemoved int `json:"relationships_removed"`
	AlertsCreated        int `json:"alerts_created"`
	AlertsRefreshed      int `json:"alerts_refreshed"`
	AlertsResolved       int `json:"alerts_resolved"`
	TagsApplied          int `json:"tags_applied"`

	DurationMS int64 `json:"duration_ms"`
}

// NewSyncStats creates a stats accumulator with the clock started
func NewSyncStats() *SyncStats {
	return &SyncStats{startedAt: time.Now()}
}

// Add applies a delta to the accumulator under lock
func (s *SyncStats) Add(fn func(s *SyncStats)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	fn(s)
}

// Snapshot stops the clock and returns the stats as a JSON blob for
// persisting on the work unit
func (s *SyncStats) Snapshot() json.RawMessage {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.DurationMS = time.Since(s.startedAt).Milliseconds()
	b, err := json.Marshal(s)
	if err != nil {
		return json.RawMessage("{}")
	}
	return b
}
