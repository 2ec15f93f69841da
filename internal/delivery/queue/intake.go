package queue

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"notification-engine/internal/common/logger"
)

// FireRequest asks the engine to fire an event. Producers push these onto
// the intake list from application code; the daemon consumes and dispatches
// them.
type FireRequest struct {
	Event  string                 `json:"event"`
	Params map[string]interface{} `json:"params"`
}

// FireIntake is the Redis list carrying FireRequests.
type FireIntake struct {
	client *redis.Client
	name   string
	logger logger.Logger
}

func NewFireIntake(client *redis.Client, name string, log logger.Logger) *FireIntake {
	return &FireIntake{
		client: client,
		name:   name,
		logger: log.WithFields(map[string]interface{}{"queue": name}),
	}
}

// Publish enqueues a fire request.
func (i *FireIntake) Publish(ctx context.Context, req FireRequest) error {
	payload, err := json.Marshal(req)
	if err != nil {
		return fmt.Errorf("encode fire request: %w", err)
	}
	if err := i.client.LPush(ctx, i.name, payload).Err(); err != nil {
		return fmt.Errorf("push fire request: %w", err)
	}
	return nil
}

// Consume returns a channel of fire requests fed by a BRPOP loop. The
// channel closes when ctx is done.
func (i *FireIntake) Consume(ctx context.Context) <-chan FireRequest {
	reqs := make(chan FireRequest)
	go func() {
		defer close(reqs)
		for {
			if ctx.Err() != nil {
				return
			}
			res, err := i.client.BRPop(ctx, 2*time.Second, i.name).Result()
			if err != nil {
				if err == redis.Nil || ctx.Err() != nil {
					continue
				}
				i.logger.Warn("intake pop failed", map[string]interface{}{"error": err})
				select {
				case <-time.After(time.Second):
				case <-ctx.Done():
					return
				}
				continue
			}
			var req FireRequest
			if err := json.Unmarshal([]byte(res[1]), &req); err != nil {
				i.logger.Error("dropping undecodable fire request", map[string]interface{}{
					"payload": res[1],
					"error":   err,
				})
				continue
			}
			select {
			case reqs <- req:
			case <-ctx.Done():
				i.requeue(res[1])
				return
			}
		}
	}()
	return reqs
}

// requeue returns a popped but undelivered payload to the consuming end of
// the intake list. The consume ctx is already cancelled at this point, so the
// write runs on a short-lived background context.
func (i *FireIntake) requeue(payload string) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := i.client.RPush(ctx, i.name, payload).Err(); err != nil {
		i.logger.Error("requeue of undelivered fire request failed", map[string]interface{}{
			"payload": payload,
			"error":   err,
		})
	}
}
