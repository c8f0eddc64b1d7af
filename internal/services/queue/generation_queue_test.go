package queue

import (
	"context"
	"errors"
	"log/slog"
	"os"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"

	"github.com/jwebster45206/tavern-phone/pkg/queue"
)

func setupTestRedis(t *testing.T) (*Client, *miniredis.Miniredis) {
	t.Helper()

	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("Failed to start miniredis: %v", err)
	}

	logger := slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelError}))
	client, err := NewClient("redis://"+mr.Addr(), logger)
	if err != nil {
		mr.Close()
		t.Fatalf("Failed to create queue client: %v", err)
	}

	return client, mr
}

func TestGenerationQueue_EnqueueAndDequeue(t *testing.T) {
	client, mr := setupTestRedis(t)
	defer mr.Close()
	defer client.Close()

	q := NewGenerationQueue(client)
	ctx := context.Background()

	for _, floor := range []int{3, 4} {
		if err := q.Enqueue(ctx, queue.NewGenerationEnded("chat-1", floor)); err != nil {
			t.Fatalf("Failed to enqueue: %v", err)
		}
	}

	depth, err := q.Depth(ctx)
	if err != nil {
		t.Fatalf("Failed to get depth: %v", err)
	}
	if depth != 2 {
		t.Errorf("Expected depth 2, got %d", depth)
	}

	req, err := q.Dequeue(ctx)
	if err != nil {
		t.Fatalf("Failed to dequeue: %v", err)
	}
	if req == nil || req.FloorID != 3 || req.ChatID != "chat-1" {
		t.Errorf("Unexpected request: %+v", req)
	}

	req, err = q.BlockingDequeue(ctx, time.Second)
	if err != nil {
		t.Fatalf("Failed to dequeue: %v", err)
	}
	if req == nil || req.FloorID != 4 {
		t.Errorf("Unexpected request: %+v", req)
	}

	req, err = q.Dequeue(ctx)
	if err != nil || req != nil {
		t.Errorf("Expected empty queue, got %+v, %v", req, err)
	}
}

func TestGenerationQueue_Dedupe(t *testing.T) {
	client, mr := setupTestRedis(t)
	defer mr.Close()
	defer client.Close()

	q := NewGenerationQueue(client)
	ctx := context.Background()

	if err := q.Enqueue(ctx, queue.NewGenerationEnded("chat-1", 5)); err != nil {
		t.Fatalf("Failed to enqueue: %v", err)
	}
	err := q.Enqueue(ctx, queue.NewGenerationEnded("chat-1", 5))
	if !errors.Is(err, ErrDuplicate) {
		t.Errorf("Expected ErrDuplicate, got %v", err)
	}
	if err := q.Enqueue(ctx, queue.NewGenerationEnded("chat-2", 5)); err != nil {
		t.Errorf("Other chats must not be deduplicated: %v", err)
	}
	for i := 0; i < 2; i++ {
		if err := q.Enqueue(ctx, queue.NewGenerationEnded("chat-1", -1)); err != nil {
			t.Errorf("Latest-floor requests must not be deduplicated: %v", err)
		}
	}

	req, err := q.Dequeue(ctx)
	if err != nil || req == nil {
		t.Fatalf("Failed to dequeue: %v", err)
	}
	if err := q.Requeue(ctx, req); err != nil {
		t.Errorf("Requeue must bypass dedupe: %v", err)
	}

	if err := q.Forget(ctx, "chat-1", 5); err != nil {
		t.Fatalf("Forget failed: %v", err)
	}
	if err := q.Enqueue(ctx, queue.NewGenerationEnded("chat-1", 5)); err != nil {
		t.Errorf("Expected enqueue after Forget to succeed: %v", err)
	}

	mr.FastForward(25 * time.Hour)
	if mr.Exists("processed:chat-2:5") {
		t.Error("processed mark should expire")
	}
}

func TestGenerationQueue_RejectsInvalid(t *testing.T) {
	client, mr := setupTestRedis(t)
	defer mr.Close()
	defer client.Close()

	q := NewGenerationQueue(client)
	if err := q.Enqueue(context.Background(), &queue.Request{Type: queue.RequestTypeGenerationEnded}); err == nil {
		t.Error("Expected validation error")
	}
}
