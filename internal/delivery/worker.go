// Package delivery drains the delivery queue and sends email notifications.
// Delivery is at-least-once: a send that succeeds but fails to record
// completion is retried and may be sent again.
package delivery

import (
	"context"
	"strings"
	"sync"
	"time"

	"notification-engine/internal/catalog"
	"notification-engine/internal/common/config"
	"notification-engine/internal/common/errors"
	"notification-engine/internal/common/logger"
	"notification-engine/internal/common/metrics"
	"notification-engine/internal/delivery/mailer"
	"notification-engine/internal/delivery/queue"
)

// messagePlaceholder is replaced in the settings email template with the
// fire's rendered message.
const messagePlaceholder = "{{ message }}"

// Store is the subset of the catalog store the worker needs.
type Store interface {
	NotificationByID(ctx context.Context, id string) (*catalog.Notification, error)
	FireByID(ctx context.Context, id string) (*catalog.Fire, error)
	UpdateNotificationStatus(ctx context.Context, id string, status catalog.NotificationStatus) error
	LoadSettings(ctx context.Context) (*catalog.Settings, error)
}

// Queue is the retry scheduling surface the worker needs.
type Queue interface {
	RetryAfter(ctx context.Context, job queue.Job, delay time.Duration) error
	Consume(ctx context.Context) <-chan queue.Job
}

// Worker consumes delivery jobs and sends mail through the configured
// transport.
type Worker struct {
	store  Store
	queue  Queue
	mailer mailer.Mailer
	cfg    config.DeliveryConfig
	logger logger.Logger
}

func NewWorker(store Store, q Queue, m mailer.Mailer, cfg config.DeliveryConfig, log logger.Logger) *Worker {
	return &Worker{
		store:  store,
		queue:  q,
		mailer: m,
		cfg:    cfg,
		logger: log,
	}
}

// Run starts the configured number of consumer goroutines and blocks until
// the context is cancelled and all of them have drained.
func (w *Worker) Run(ctx context.Context) {
	jobs := w.queue.Consume(ctx)

	var wg sync.WaitGroup
	for i := 0; i < w.cfg.Workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for job := range jobs {
				if err := w.Deliver(ctx, job); err != nil {
					w.logger.Error("delivery attempt failed", map[string]interface{}{
						"notification_id": job.NotificationID,
						"attempt":         job.Attempt,
						"error":           err.Error(),
					})
				}
			}
		}()
	}
	wg.Wait()
}

// Deliver processes one delivery job. Notifications that are not pending
// email deliveries are acknowledged without sending, which makes redelivery
// of an already-completed job harmless.
func (w *Worker) Deliver(ctx context.Context, job queue.Job) error {
	start := time.Now()

	n, err := w.store.NotificationByID(ctx, job.NotificationID)
	if err != nil {
		return w.fail(ctx, job, errors.NewPersistenceFailedError(err))
	}
	if n.Kind == nil || *n.Kind != catalog.KindEmail || n.Status != catalog.StatusPending {
		w.logger.Debug("skipping non-deliverable notification", map[string]interface{}{
			"notification_id": n.ID,
			"status":          string(n.Status),
		})
		metrics.DeliveriesTotal.WithLabelValues("skipped").Inc()
		return nil
	}

	fire, err := w.store.FireByID(ctx, n.FireID)
	if err != nil {
		return w.fail(ctx, job, errors.NewPersistenceFailedError(err))
	}
	settings, err := w.store.LoadSettings(ctx)
	if err != nil {
		return w.fail(ctx, job, errors.NewPersistenceFailedError(err))
	}

	body := strings.ReplaceAll(settings.EmailTemplate, messagePlaceholder, fire.Message)

	if err := w.mailer.Send(ctx, *n.Recipient, fire.Subject, body); err != nil {
		return w.fail(ctx, job, errors.NewDeliverySendFailedError(err))
	}

	if err := w.store.UpdateNotificationStatus(ctx, n.ID, catalog.StatusComplete); err != nil {
		// The mail is out; a retry will find the row still pending and
		// send again.
		return w.fail(ctx, job, errors.NewPersistenceFailedError(err))
	}

	metrics.DeliveriesTotal.WithLabelValues("success").Inc()
	metrics.DeliveryAttemptDuration.Observe(time.Since(start).Seconds())
	w.logger.Info("notification delivered", map[string]interface{}{
		"notification_id": n.ID,
		"attempt":         job.Attempt,
	})
	return nil
}

// fail either schedules a retry or, when attempts are exhausted, finalizes
// the notification. MaxRetries bounds the retries after the first attempt,
// so a job runs at most MaxRetries+1 times.
func (w *Worker) fail(ctx context.Context, job queue.Job, cause error) error {
	next := job.Attempt + 1
	if next > w.cfg.MaxRetries {
		metrics.DeliveriesTotal.WithLabelValues("exhausted").Inc()
		if w.cfg.MarkFailedOnExhaustion {
			if err := w.store.UpdateNotificationStatus(ctx, job.NotificationID, catalog.StatusError); err != nil {
				w.logger.Error("failed to mark exhausted notification", map[string]interface{}{
					"notification_id": job.NotificationID,
					"error":           err.Error(),
				})
			}
		}
		w.logger.Error("delivery retries exhausted", map[string]interface{}{
			"notification_id": job.NotificationID,
			"attempts":        next,
			"error":           cause.Error(),
		})
		return errors.NewRetryExhaustedError(job.NotificationID, next)
	}

	metrics.DeliveriesTotal.WithLabelValues("retry").Inc()
	retry := queue.Job{NotificationID: job.NotificationID, Attempt: next}
	if err := w.queue.RetryAfter(ctx, retry, w.cfg.RetryCountdown); err != nil {
		w.logger.Error("failed to schedule retry", map[string]interface{}{
			"notification_id": job.NotificationID,
			"error":           err.Error(),
		})
		return errors.NewQueueOperationFailedError("retry", err)
	}
	w.logger.Warn("delivery failed, retry scheduled", map[string]interface{}{
		"notification_id": job.NotificationID,
		"next_attempt":    next,
		"countdown":       w.cfg.RetryCountdown.String(),
		"error":           cause.Error(),
	})
	return cause
}
