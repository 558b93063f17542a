// Package completion tracks which entity kinds of an integration have
// finished their current sync cycle, so the cycle can be finalized exactly
// once when the last kind completes.
package completion

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/Gobusters/ectologger"
	"github.com/redis/go-redis/v9"

	"github.com/Ramsey-B/bramble/pkg/catalog"
	"github.com/Ramsey-B/bramble/pkg/tracing"
)

// CounterStore is the key/value surface the tracker needs
type CounterStore interface {
	Get(ctx context.Context, key string) (string, error)
	SetNX(ctx context.Context, key string, value any, ttl time.Duration) (bool, error)
	Incr(ctx context.Context, key string) (int64, error)
	Expire(ctx context.Context, key string, ttl time.Duration) error
	DelIfAllExist(ctx context.Context, checkKeys, extraKeys []string) (bool, error)
}

// Tracker records per-kind completion for a (tenant, integration) cycle.
// Fan-out kinds count children against a declared expected count; every
// other kind is marked done directly. Keys expire after the configured TTL,
// so a cycle stalled by a permanently failing kind drops its analysis run
// instead of leaking counters forever.
type Tracker struct {
	store  CounterStore
	logger ectologger.Logger
	ttl    time.Duration
}

// NewTracker creates a completion tracker
func NewTracker(store CounterStore, logger ectologger.Logger, ttl time.Duration) *Tracker {
	if ttl <= 0 {
		ttl = 2 * time.Hour
	}
	return &Tracker{store: store, logger: logger, ttl: ttl}
}

// Key identifies one entity kind within an integration's sync cycle
type Key struct {
	TenantID    string
	Integration string
	EntityType  string
}

func (k Key) base() string {
	return fmt.Sprintf("bramble:completion:%s:%s", k.TenantID, k.Integration)
}

func (k Key) expectedKey() string {
	return k.base() + ":expected:" + k.EntityType
}

func (k Key) counterKey() string {
	return k.base() + ":counter:" + k.EntityType
}

func (k Key) doneKey() string {
	return k.base() + ":done:" + k.EntityType
}

// Expect records how many children a fan-out kind created. First writer
// wins, so a redelivered fan-out event can't reset an in-progress count.
func (t *Tracker) Expect(ctx context.Context, key Key, expected int) error {
	ctx, span := tracing.StartSpan(ctx, "completion.Tracker.Expect")
	defer span.End()

	if expected < 0 {
		return fmt.Errorf("expected count must be non-negative, got %d", expected)
	}

	set, err := t.store.SetNX(ctx, key.expectedKey(), expected, t.ttl)
	if err != nil {
		return fmt.Errorf("failed to record expected count: %w", err)
	}
	if !set {
		t.logger.WithContext(ctx).WithFields(map[string]any{
			"integration": key.Integration,
			"entity_type": key.EntityType,
		}).Debug("expected count already recorded")
	}
	return nil
}

// MarkComplete records one finished unit of the given kind. A kind with a
// declared expected count is done once its counter reaches it; any other
// kind is done immediately. When every kind of the integration is done the
// cycle's tracking keys are cleared atomically and true is returned —
// exactly once per cycle, no matter how completions interleave.
func (t *Tracker) MarkComplete(ctx context.Context, key Key) (bool, error) {
	ctx, span := tracing.StartSpan(ctx, "completion.Tracker.MarkComplete")
	defer span.End()

	raw, err := t.store.Get(ctx, key.expectedKey())
	switch {
	case err == nil:
		expected, err := strconv.ParseInt(raw, 10, 64)
		if err != nil {
			return false, fmt.Errorf("malformed expected count %q: %w", raw, err)
		}

		count, err := t.store.Incr(ctx, key.counterKey())
		if err != nil {
			return false, fmt.Errorf("failed to increment completion counter: %w", err)
		}
		if err := t.store.Expire(ctx, key.counterKey(), t.ttl); err != nil {
			return false, fmt.Errorf("failed to refresh counter ttl: %w", err)
		}
		if count < expected {
			return false, nil
		}
	case errors.Is(err, redis.Nil):
		// no expected count: a non-fan-out kind, done on the spot
	default:
		return false, fmt.Errorf("failed to read expected count: %w", err)
	}

	if _, err := t.store.SetNX(ctx, key.doneKey(), 1, t.ttl); err != nil {
		return false, fmt.Errorf("failed to set done marker: %w", err)
	}

	spec, err := catalog.Get(key.Integration)
	if err != nil {
		return false, err
	}

	doneKeys := make([]string, 0, len(spec.Kinds))
	var extraKeys []string
	for _, kind := range spec.Kinds {
		k := Key{TenantID: key.TenantID, Integration: key.Integration, EntityType: kind.EntityType}
		doneKeys = append(doneKeys, k.doneKey())
		extraKeys = append(extraKeys, k.expectedKey(), k.counterKey())
	}

	// the delete doubles as the exactly-once gate: of any concurrent
	// completers that all observe a full done set, only one clears it
	allDone, err := t.store.DelIfAllExist(ctx, doneKeys, extraKeys)
	if err != nil {
		return false, fmt.Errorf("failed to check cycle completion: %w", err)
	}
	if !allDone {
		return false, nil
	}

	t.logger.WithContext(ctx).WithFields(map[string]any{
		"tenant_id":   key.TenantID,
		"integration": key.Integration,
	}).Info("all entity kinds completed, cycle finalized")

	return true, nil
}
