package worker

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/Gobusters/ectologger"
	kafkago "github.com/segmentio/kafka-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Ramsey-B/bramble/pkg/completion"
	"github.com/Ramsey-B/bramble/pkg/events"
	"github.com/Ramsey-B/bramble/pkg/models"
)

type fanOutHarness struct {
	policy    *FanOutPolicy
	units     *fakeUnitStore
	tracker   *completion.Tracker
	emitter   *fakeEmitter
	publisher *fakePublisher
}

func newFanOutHarness() *fanOutHarness {
	logger := ectologger.NewEctoLogger(func(ectologger.EctoLogMessage) {})
	units := newFakeUnitStore()
	tracker := completion.NewTracker(newFakeCounterStore(), logger, time.Hour)
	emitter := &fakeEmitter{}
	publisher := &fakePublisher{}
	finalizer := NewFinalizer(tracker, emitter, publisher, "jobs", logger)
	return &fanOutHarness{
		policy:    NewFanOutPolicy(units, tracker, finalizer, logger),
		units:     units,
		tracker:   tracker,
		emitter:   emitter,
		publisher: publisher,
	}
}

func scopeProcessedMessage(t *testing.T, event *events.ScopeProcessed) kafkago.Message {
	t.Helper()
	value, err := json.Marshal(event)
	require.NoError(t, err)
	return kafkago.Message{
		Value: value,
		Headers: []kafkago.Header{
			{Key: "event_type", Value: []byte(events.TypeScopeProcessed)},
		},
	}
}

func TestFanOutCreatesChildPerScopeAndKind(t *testing.T) {
	h := newFanOutHarness()

	connID := "conn-1"
	msg := scopeProcessedMessage(t, &events.ScopeProcessed{
		TenantID:     "tenant-1",
		Integration:  "sophos-partner",
		EntityType:   "company",
		ConnectionID: &connID,
		SyncID:       "sync-1",
		Scopes: []events.ScopeRef{
			{EntityID: "e1", ExternalID: "comp-1"},
			{EntityID: "e2", ExternalID: "comp-2"},
		},
	})

	require.NoError(t, h.policy.Handle(context.Background(), msg))

	// sophos-partner fans company out to endpoint and firewall
	require.Len(t, h.units.created, 4)
	byKind := map[string]int{}
	for _, req := range h.units.created {
		byKind[req.EntityType]++
		assert.Equal(t, models.WorkUnitTriggerFanOut, req.Trigger)
		assert.Equal(t, "sync-1", req.SyncID)
		require.NotNil(t, req.SiteID)
	}
	assert.Equal(t, 2, byKind["endpoint"])
	assert.Equal(t, 2, byKind["firewall"])
}

func TestFanOutArmsCompletionTracking(t *testing.T) {
	h := newFanOutHarness()
	ctx := context.Background()

	msg := scopeProcessedMessage(t, &events.ScopeProcessed{
		TenantID:    "tenant-1",
		Integration: "dattormm",
		EntityType:  "company",
		SyncID:      "sync-1",
		Scopes: []events.ScopeRef{
			{EntityID: "e1", ExternalID: "comp-1"},
			{EntityID: "e2", ExternalID: "comp-2"},
		},
	})
	require.NoError(t, h.policy.Handle(ctx, msg))

	// the company pass reports done; the endpoint kind holds the cycle open
	// until both expected children land
	companyKey := completion.Key{TenantID: "tenant-1", Integration: "dattormm", EntityType: "company"}
	endpointKey := completion.Key{TenantID: "tenant-1", Integration: "dattormm", EntityType: "endpoint"}

	done, err := h.tracker.MarkComplete(ctx, companyKey)
	require.NoError(t, err)
	assert.False(t, done)

	done, err = h.tracker.MarkComplete(ctx, endpointKey)
	require.NoError(t, err)
	assert.False(t, done)

	done, err = h.tracker.MarkComplete(ctx, endpointKey)
	require.NoError(t, err)
	assert.True(t, done)
}

func TestFanOutZeroScopesClosesChildKinds(t *testing.T) {
	h := newFanOutHarness()
	ctx := context.Background()

	// the company kind already reported done; with no scopes to fan out the
	// child kinds close immediately and the cycle finalizes
	_, err := h.tracker.MarkComplete(ctx, completion.Key{
		TenantID:    "tenant-1",
		Integration: "dattormm",
		EntityType:  "company",
	})
	require.NoError(t, err)

	msg := scopeProcessedMessage(t, &events.ScopeProcessed{
		TenantID:    "tenant-1",
		Integration: "dattormm",
		EntityType:  "company",
		SyncID:      "sync-1",
		Scopes:      nil,
	})
	require.NoError(t, h.policy.Handle(ctx, msg))

	assert.Empty(t, h.units.created)
	require.Len(t, h.emitter.finalized, 1)
	require.Len(t, h.publisher.published, 1)
	assert.Equal(t, JobTypeAnalysis, h.publisher.published[0].Type)
}

func TestFanOutIgnoresOtherEventTypes(t *testing.T) {
	h := newFanOutHarness()

	msg := kafkago.Message{
		Value:   []byte(`{}`),
		Headers: []kafkago.Header{{Key: "event_type", Value: []byte(events.TypeUnitCompleted)}},
	}
	require.NoError(t, h.policy.Handle(context.Background(), msg))
	assert.Empty(t, h.units.created)
}

func TestFanOutLeafKindProducesNoChildren(t *testing.T) {
	h := newFanOutHarness()

	msg := scopeProcessedMessage(t, &events.ScopeProcessed{
		TenantID:    "tenant-1",
		Integration: "dattormm",
		EntityType:  "endpoint",
		SyncID:      "sync-1",
		Scopes:      []events.ScopeRef{{EntityID: "e1", ExternalID: "dev-1"}},
	})
	require.NoError(t, h.policy.Handle(context.Background(), msg))
	assert.Empty(t, h.units.created)
}
