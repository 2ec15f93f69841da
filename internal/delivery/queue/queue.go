// Package queue implements the delivery work queue on Redis: a ready list
// consumed with BRPOP plus a delayed sorted set for retry scheduling, scored
// by ready-at time and promoted back onto the list by a background loop.
package queue

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"notification-engine/internal/common/logger"
	"notification-engine/internal/common/metrics"
)

// Job is one delivery unit: a pending email Notification plus how many
// attempts it has already consumed.
type Job struct {
	NotificationID string `json:"notificationId"`
	Attempt        int    `json:"attempt"`
}

type DeliveryQueue struct {
	client *redis.Client
	name   string
	logger logger.Logger
}

func New(client *redis.Client, name string, log logger.Logger) *DeliveryQueue {
	return &DeliveryQueue{
		client: client,
		name:   name,
		logger: log.WithFields(map[string]interface{}{"queue": name}),
	}
}

func (q *DeliveryQueue) readyKey() string   { return q.name }
func (q *DeliveryQueue) delayedKey() string { return q.name + ":delayed" }

// Enqueue makes a first-attempt job for a notification immediately available.
func (q *DeliveryQueue) Enqueue(ctx context.Context, notificationID string) error {
	return q.push(ctx, Job{NotificationID: notificationID})
}

func (q *DeliveryQueue) push(ctx context.Context, job Job) error {
	payload, err := json.Marshal(job)
	if err != nil {
		return fmt.Errorf("encode job: %w", err)
	}
	if err := q.client.LPush(ctx, q.readyKey(), payload).Err(); err != nil {
		return fmt.Errorf("push job: %w", err)
	}
	q.observeDepth(ctx)
	return nil
}

// RetryAfter schedules the job to become ready again after delay.
func (q *DeliveryQueue) RetryAfter(ctx context.Context, job Job, delay time.Duration) error {
	payload, err := json.Marshal(job)
	if err != nil {
		return fmt.Errorf("encode job: %w", err)
	}
	err = q.client.ZAdd(ctx, q.delayedKey(), redis.Z{
		Score:  float64(time.Now().Add(delay).Unix()),
		Member: payload,
	}).Err()
	if err != nil {
		return fmt.Errorf("schedule retry: %w", err)
	}
	return nil
}

// Consume returns a channel of jobs fed by a BRPOP loop. The channel closes
// when ctx is done.
func (q *DeliveryQueue) Consume(ctx context.Context) <-chan Job {
	jobs := make(chan Job)
	go func() {
		defer close(jobs)
		for {
			if ctx.Err() != nil {
				return
			}
			res, err := q.client.BRPop(ctx, 2*time.Second, q.readyKey()).Result()
			if err != nil {
				if err == redis.Nil || ctx.Err() != nil {
					continue
				}
				q.logger.Warn("queue pop failed", map[string]interface{}{"error": err})
				select {
				case <-time.After(time.Second):
				case <-ctx.Done():
					return
				}
				continue
			}
			// BRPOP returns [key, value]
			var job Job
			if err := json.Unmarshal([]byte(res[1]), &job); err != nil {
				q.logger.Error("dropping undecodable job", map[string]interface{}{
					"payload": res[1],
					"error":   err,
				})
				continue
			}
			q.observeDepth(ctx)
			select {
			case jobs <- job:
			case <-ctx.Done():
				q.requeue(res[1])
				return
			}
		}
	}()
	return jobs
}

// requeue returns a popped but undelivered payload to the consuming end of
// the ready list. The consume ctx is already cancelled at this point, so the
// write runs on a short-lived background context.
func (q *DeliveryQueue) requeue(payload string) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := q.client.RPush(ctx, q.readyKey(), payload).Err(); err != nil {
		q.logger.Error("requeue of undelivered job failed", map[string]interface{}{
			"payload": payload,
			"error":   err,
		})
	}
}

// RunPromoter moves due delayed jobs back onto the ready list until ctx is
// done.
func (q *DeliveryQueue) RunPromoter(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := q.promoteDue(ctx); err != nil && ctx.Err() == nil {
				q.logger.Warn("delayed job promotion failed", map[string]interface{}{"error": err})
			}
		}
	}
}

func (q *DeliveryQueue) promoteDue(ctx context.Context) error {
	now := fmt.Sprintf("%d", time.Now().Unix())
	due, err := q.client.ZRangeByScore(ctx, q.delayedKey(), &redis.ZRangeBy{
		Min: "-inf",
		Max: now,
	}).Result()
	if err != nil {
		return err
	}
	for _, payload := range due {
		if err := q.client.LPush(ctx, q.readyKey(), payload).Err(); err != nil {
			return err
		}
		if err := q.client.ZRem(ctx, q.delayedKey(), payload).Err(); err != nil {
			return err
		}
	}
	if len(due) > 0 {
		q.observeDepth(ctx)
	}
	return nil
}

// PendingJobIDs reports the notification IDs of jobs currently held in the
// ready list or the delayed set. Undecodable payloads are ignored.
func (q *DeliveryQueue) PendingJobIDs(ctx context.Context) (map[string]struct{}, error) {
	ready, err := q.client.LRange(ctx, q.readyKey(), 0, -1).Result()
	if err != nil {
		return nil, fmt.Errorf("scan ready jobs: %w", err)
	}
	delayed, err := q.client.ZRange(ctx, q.delayedKey(), 0, -1).Result()
	if err != nil {
		return nil, fmt.Errorf("scan delayed jobs: %w", err)
	}

	ids := make(map[string]struct{}, len(ready)+len(delayed))
	for _, payload := range append(ready, delayed...) {
		var job Job
		if err := json.Unmarshal([]byte(payload), &job); err != nil {
			continue
		}
		ids[job.NotificationID] = struct{}{}
	}
	return ids, nil
}

// Depth reports ready plus delayed jobs.
func (q *DeliveryQueue) Depth(ctx context.Context) (int64, error) {
	ready, err := q.client.LLen(ctx, q.readyKey()).Result()
	if err != nil {
		return 0, err
	}
	delayed, err := q.client.ZCard(ctx, q.delayedKey()).Result()
	if err != nil {
		return 0, err
	}
	return ready + delayed, nil
}

func (q *DeliveryQueue) observeDepth(ctx context.Context) {
	if depth, err := q.Depth(ctx); err == nil {
		metrics.DeliveryQueueDepth.Set(float64(depth))
	}
}
