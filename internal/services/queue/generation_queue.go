package queue

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/jwebster45206/tavern-phone/pkg/queue"
)

const (
	requestsKey = "generation-events"
	// processedTTL bounds how long a floor is remembered as handled.
	processedTTL = 24 * time.Hour
)

// ErrDuplicate is returned when a floor has already been queued.
var ErrDuplicate = errors.New("floor already processed")

// GenerationQueue carries generation-ended events from the API to the worker.
type GenerationQueue struct {
	client *Client
}

func NewGenerationQueue(client *Client) *GenerationQueue {
	return &GenerationQueue{client: client}
}

func processedKey(req *queue.Request) string {
	return "processed:" + req.DedupeKey()
}

// Enqueue adds req unless its floor was already queued. Requests for the
// latest floor (-1) are never deduplicated.
func (q *GenerationQueue) Enqueue(ctx context.Context, req *queue.Request) error {
	if err := req.Validate(); err != nil {
		return err
	}
	if req.FloorID >= 0 {
		fresh, err := q.client.rdb.SetNX(ctx, processedKey(req), req.RequestID, processedTTL).Result()
		if err != nil {
			return fmt.Errorf("failed to mark floor: %w", err)
		}
		if !fresh {
			return ErrDuplicate
		}
	}

	return q.push(ctx, req)
}

// Requeue puts a dequeued request back at the tail without the dedupe check.
func (q *GenerationQueue) Requeue(ctx context.Context, req *queue.Request) error {
	return q.push(ctx, req)
}

func (q *GenerationQueue) push(ctx context.Context, req *queue.Request) error {
	data, err := req.ToJSON()
	if err != nil {
		return fmt.Errorf("failed to serialize request: %w", err)
	}
	if err := q.client.rdb.RPush(ctx, requestsKey, data).Err(); err != nil {
		return fmt.Errorf("failed to enqueue request: %w", err)
	}
	return nil
}

// Dequeue removes and returns the next request. Returns nil if queue is empty.
func (q *GenerationQueue) Dequeue(ctx context.Context) (*queue.Request, error) {
	result, err := q.client.rdb.LPop(ctx, requestsKey).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to dequeue request: %w", err)
	}
	return parse(result)
}

// BlockingDequeue waits up to timeout for a request. It returns nil, nil on
// timeout.
func (q *GenerationQueue) BlockingDequeue(ctx context.Context, timeout time.Duration) (*queue.Request, error) {
	result, err := q.client.rdb.BLPop(ctx, timeout, requestsKey).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to dequeue request: %w", err)
	}

	// BLPop returns [key, value]
	if len(result) != 2 {
		return nil, fmt.Errorf("unexpected BLPop result: %v", result)
	}
	return parse(result[1])
}

func parse(s string) (*queue.Request, error) {
	req, err := queue.FromJSON([]byte(s))
	if err != nil {
		return nil, fmt.Errorf("failed to parse request: %w", err)
	}
	return req, nil
}

// Depth returns the number of queued requests.
func (q *GenerationQueue) Depth(ctx context.Context) (int, error) {
	count, err := q.client.rdb.LLen(ctx, requestsKey).Result()
	if err != nil {
		return 0, fmt.Errorf("failed to get queue depth: %w", err)
	}
	return int(count), nil
}

// Forget clears the processed mark of a floor so it can be queued again,
// e.g. after the host regenerates it.
func (q *GenerationQueue) Forget(ctx context.Context, chatID string, floorID int) error {
	req := queue.Request{ChatID: chatID, FloorID: floorID}
	if err := q.client.rdb.Del(ctx, processedKey(&req)).Err(); err != nil {
		return fmt.Errorf("failed to clear processed mark: %w", err)
	}
	return nil
}
