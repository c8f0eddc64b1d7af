package worker

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"github.com/jwebster45206/tavern-phone/internal/services/queue"
	queuePkg "github.com/jwebster45206/tavern-phone/pkg/queue"
)

const (
	workerTimeout = 5 * time.Second
	lockTTL       = 5 * time.Minute

	// lockRefresh is how often a held chat lock gets its TTL renewed.
	lockRefresh = lockTTL / 3
)

// RequestProcessor handles one dequeued request.
type RequestProcessor interface {
	Process(ctx context.Context, req *queuePkg.Request) error
}

// Worker processes generation-ended events from the queue
type Worker struct {
	id          string
	queue       *queue.GenerationQueue
	processor   RequestProcessor
	redisClient *redis.Client
	log         *slog.Logger
	lockRefresh time.Duration
	ctx         context.Context
	cancel      context.CancelFunc
}

// New creates a new worker instance
func New(q *queue.GenerationQueue, processor RequestProcessor, redisClient *redis.Client, log *slog.Logger, workerID string) *Worker {
	ctx, cancel := context.WithCancel(context.Background())

	if workerID == "" {
		workerID = fmt.Sprintf("worker-%s", uuid.New().String()[:8])
	}

	return &Worker{
		id:          workerID,
		queue:       q,
		processor:   processor,
		redisClient: redisClient,
		log:         log,
		lockRefresh: lockRefresh,
		ctx:         ctx,
		cancel:      cancel,
	}
}

// Start begins processing requests from the queue
func (w *Worker) Start() error {
	w.log.Info("Worker starting", "worker_id", w.id)

	for {
		select {
		case <-w.ctx.Done():
			w.log.Info("Worker shutting down", "worker_id", w.id)
			return nil
		default:
			if err := w.processNextRequest(); err != nil {
				w.log.Error("Error processing request", "error", err, "worker_id", w.id)
				// Continue processing even on error
				select {
				case <-time.After(time.Second):
				case <-w.ctx.Done():
				}
			}
		}
	}
}

// Stop gracefully shuts down the worker
func (w *Worker) Stop() {
	w.log.Info("Worker stop requested", "worker_id", w.id)
	w.cancel()
}

// processNextRequest pulls the next request from the queue and processes it
func (w *Worker) processNextRequest() error {
	// Block waiting for next request (timeout to check for shutdown)
	req, err := w.queue.BlockingDequeue(w.ctx, workerTimeout)
	if err != nil {
		if w.ctx.Err() != nil {
			return nil
		}
		return fmt.Errorf("failed to dequeue request: %w", err)
	}

	if req == nil {
		// Queue is empty or timeout occurred - this is normal
		return nil
	}

	w.log.Info("Received request from queue",
		"worker_id", w.id,
		"request_id", req.RequestID,
		"type", req.Type,
		"chat_id", req.ChatID,
		"floor_id", req.FloorID,
	)

	// Commands of one chat must never interleave, even across workers.
	locked, err := w.acquireChatLock(req.ChatID)
	if err != nil {
		return fmt.Errorf("failed to acquire chat lock: %w", err)
	}
	if !locked {
		w.log.Info("Chat already locked, re-queueing request",
			"worker_id", w.id,
			"request_id", req.RequestID,
			"chat_id", req.ChatID,
		)
		if err := w.queue.Requeue(w.ctx, req); err != nil {
			return fmt.Errorf("failed to re-queue request: %w", err)
		}
		return nil
	}

	// Process the request, blocking the worker until done. The lock is
	// renewed for as long as processing runs, then released.
	defer w.releaseChatLock(req.ChatID)
	stop := w.holdChatLock(req.ChatID)
	defer stop()
	return w.processRequest(req)
}

func chatLockKey(chatID string) string {
	return "chat-lock:" + chatID
}

// acquireChatLock attempts to acquire a lock for a chat
// Returns true if lock was acquired, false if already locked
func (w *Worker) acquireChatLock(chatID string) (bool, error) {
	return w.redisClient.SetNX(w.ctx, chatLockKey(chatID), w.id, lockTTL).Result()
}

var releaseScript = redis.NewScript(`
	if redis.call("get", KEYS[1]) == ARGV[1] then
		return redis.call("del", KEYS[1])
	else
		return 0
	end
`)

var refreshScript = redis.NewScript(`
	if redis.call("get", KEYS[1]) == ARGV[1] then
		return redis.call("pexpire", KEYS[1], ARGV[2])
	else
		return 0
	end
`)

// holdChatLock renews the chat lock every lockRefresh until the returned
// func is called. The func waits for the renewal loop to exit. Renewal stops
// early if the lock is no longer owned by this worker.
func (w *Worker) holdChatLock(chatID string) func() {
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})

	go func() {
		defer close(done)
		ticker := time.NewTicker(w.lockRefresh)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
			}
			owned, err := refreshScript.Run(ctx, w.redisClient, []string{chatLockKey(chatID)}, w.id, lockTTL.Milliseconds()).Int()
			switch {
			case ctx.Err() != nil:
				return
			case err != nil:
				w.log.Warn("Failed to refresh chat lock", "error", err, "chat_id", chatID, "worker_id", w.id)
			case owned == 0:
				w.log.Error("Chat lock lost while processing", "chat_id", chatID, "worker_id", w.id)
				return
			}
		}
	}()

	return func() {
		cancel()
		<-done
	}
}

// releaseChatLock releases the lock for a chat
func (w *Worker) releaseChatLock(chatID string) {
	// Only delete if we own the lock. Use a fresh context so a shutdown
	// does not leave the lock behind.
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := releaseScript.Run(ctx, w.redisClient, []string{chatLockKey(chatID)}, w.id).Err(); err != nil && err != redis.Nil {
		w.log.Error("Failed to release chat lock", "error", err, "chat_id", chatID)
	}
}

// processRequest processes a single request using the Processor
func (w *Worker) processRequest(req *queuePkg.Request) error {
	start := time.Now()

	switch req.Type {
	case queuePkg.RequestTypeGenerationEnded:
		if err := w.processor.Process(w.ctx, req); err != nil {
			w.log.Error("Failed to process generation event",
				"error", err,
				"request_id", req.RequestID,
				"chat_id", req.ChatID,
			)
			return fmt.Errorf("failed to process generation event: %w", err)
		}
	default:
		return fmt.Errorf("unknown request type: %s", req.Type)
	}

	w.log.Info("Generation event processed",
		"worker_id", w.id,
		"request_id", req.RequestID,
		"duration_ms", time.Since(start).Milliseconds(),
	)
	return nil
}
