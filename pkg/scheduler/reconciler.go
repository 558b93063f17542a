package scheduler

import (
	"context"
	"sync"
	"time"

	"github.com/Gobusters/ectologger"

	"github.com/Ramsey-B/bramble/pkg/tracing"
)

// stuckThreshold is how long a unit may sit in running or queued before the
// reconciler assumes its worker died
const stuckThreshold = time.Hour

// RecoveryStore is the work unit surface the reconciler needs
type RecoveryStore interface {
	RecoverStuck(ctx context.Context, threshold time.Time) (int64, error)
	PurgeTerminal(ctx context.Context, cutoff time.Time) (int64, error)
}

// Reconciler repairs orphaned work units and purges old history. It runs
// once at startup and then on an interval.
type Reconciler struct {
	store     RecoveryStore
	logger    ectologger.Logger
	interval  time.Duration
	retention time.Duration

	mu       sync.RWMutex
	running  bool
	stopCh   chan struct{}
	stoppedC chan struct{}
}

// NewReconciler creates a reconciler
func NewReconciler(store RecoveryStore, logger ectologger.Logger, interval, retention time.Duration) *Reconciler {
	if interval <= 0 {
		interval = 10 * time.Minute
	}
	if retention <= 0 {
		retention = 90 * 24 * time.Hour
	}
	return &Reconciler{store: store, logger: logger, interval: interval, retention: retention}
}

// Start runs a recovery pass immediately, then begins the poll loop
func (r *Reconciler) Start(ctx context.Context) error {
	r.mu.Lock()
	if r.running {
		r.mu.Unlock()
		return nil
	}
	r.running = true
	r.stopCh = make(chan struct{})
	r.stoppedC = make(chan struct{})
	r.mu.Unlock()

	// startup recovery must finish before workers start pulling jobs
	r.runPass(ctx)

	go r.pollLoop(ctx)
	return nil
}

// Stop halts the poll loop
func (r *Reconciler) Stop() {
	r.mu.Lock()
	if !r.running {
		r.mu.Unlock()
		return
	}
	r.running = false
	close(r.stopCh)
	r.mu.Unlock()

	<-r.stoppedC
}

// IsRunning reports whether the loop is active
func (r *Reconciler) IsRunning() bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.running
}

func (r *Reconciler) pollLoop(ctx context.Context) {
	defer close(r.stoppedC)

	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()

	for {
		select {
		case <-r.stopCh:
			return
		case <-ctx.Done():
			return
		case <-ticker.C:
			r.runPass(ctx)
		}
	}
}

func (r *Reconciler) runPass(ctx context.Context) {
	ctx, span := tracing.StartSpan(ctx, "scheduler.Reconciler.runPass")
	defer span.End()

	now := time.Now().UTC()

	recovered, err := r.store.RecoverStuck(ctx, now.Add(-stuckThreshold))
	if err != nil {
		r.logger.WithContext(ctx).WithError(err).Error("failed to recover stuck work units")
	} else if recovered > 0 {
		r.logger.WithContext(ctx).WithFields(map[string]any{
			"recovered": recovered,
		}).Warn("recovered stuck work units")
	}

	purged, err := r.store.PurgeTerminal(ctx, now.Add(-r.retention))
	if err != nil {
		r.logger.WithContext(ctx).WithError(err).Error("failed to purge work unit history")
	} else if purged > 0 {
		r.logger.WithContext(ctx).WithFields(map[string]any{
			"purged": purged,
		}).Info("purged old work unit history")
	}
}
