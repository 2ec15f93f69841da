package delivery

import (
	"context"
	"time"

	"notification-engine/internal/common/errors"
	"notification-engine/internal/common/logger"
)

// RecoveryStore is the subset of the catalog store the recoverer needs.
type RecoveryStore interface {
	StalePendingEmailNotifications(ctx context.Context, age time.Duration) ([]string, error)
}

// RecoveryQueue exposes the queue surface the recoverer needs: re-enqueueing
// plus a scan of jobs it already holds.
type RecoveryQueue interface {
	Enqueue(ctx context.Context, notificationID string) error
	PendingJobIDs(ctx context.Context) (map[string]struct{}, error)
}

// Recoverer re-enqueues pending email notifications that lost their queued
// job, e.g. when an enqueue failed after the fan-out transaction committed.
// Re-enqueueing a notification that was delivered in the meantime is
// harmless because Deliver skips anything no longer pending.
type Recoverer struct {
	store  RecoveryStore
	queue  RecoveryQueue
	logger logger.Logger
}

func NewRecoverer(store RecoveryStore, q RecoveryQueue, log logger.Logger) *Recoverer {
	return &Recoverer{store: store, queue: q, logger: log}
}

// Sweep re-enqueues every stale pending email notification that has no job
// in the queue, and returns how many it recovered.
func (r *Recoverer) Sweep(ctx context.Context, age time.Duration) (int, error) {
	ids, err := r.store.StalePendingEmailNotifications(ctx, age)
	if err != nil {
		return 0, errors.NewPersistenceFailedError(err)
	}
	if len(ids) == 0 {
		return 0, nil
	}

	queued, err := r.queue.PendingJobIDs(ctx)
	if err != nil {
		return 0, errors.NewQueueOperationFailedError("scan", err)
	}

	recovered := 0
	for _, id := range ids {
		if _, ok := queued[id]; ok {
			continue
		}
		if err := r.queue.Enqueue(ctx, id); err != nil {
			return recovered, errors.NewQueueOperationFailedError("enqueue", err)
		}
		r.logger.Warn("requeued orphaned pending notification", map[string]interface{}{
			"notification_id": id,
		})
		recovered++
	}
	return recovered, nil
}
