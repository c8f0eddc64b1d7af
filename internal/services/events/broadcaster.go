package events

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/redis/go-redis/v9"
)

// EventType represents the type of event being broadcast
type EventType string

const (
	EventTypeNotificationUpdated   EventType = "notification.updated"
	EventTypeNotificationDismissed EventType = "notification.dismissed"
	EventTypeFloorWritten          EventType = "floor.written"
)

// Event represents a generic event structure
type Event struct {
	Type   EventType      `json:"type"`
	ChatID string         `json:"chat_id,omitempty"`
	Data   map[string]any `json:"data,omitempty"`
}

// Publisher delivers events to the clients of one chat.
type Publisher interface {
	Publish(ctx context.Context, chatID string, event Event) error
}

// Broadcaster publishes events to Redis Pub/Sub for websocket distribution
type Broadcaster struct {
	redisClient *redis.Client
	logger      *slog.Logger
}

// NewBroadcaster creates a new event broadcaster
func NewBroadcaster(redisClient *redis.Client, logger *slog.Logger) *Broadcaster {
	return &Broadcaster{
		redisClient: redisClient,
		logger:      logger,
	}
}

func channel(chatID string) string {
	return "phone-events:" + chatID
}

// PublishFloorWritten tells clients that a floor gained phone content.
func (b *Broadcaster) PublishFloorWritten(ctx context.Context, chatID string, floorID int, mode string) error {
	return b.Publish(ctx, chatID, Event{
		Type: EventTypeFloorWritten,
		Data: map[string]any{
			"floor_id": floorID,
			"mode":     mode,
		},
	})
}

// Publish publishes an event to the chat-specific channel
func (b *Broadcaster) Publish(ctx context.Context, chatID string, event Event) error {
	event.ChatID = chatID
	ch := channel(chatID)

	data, err := json.Marshal(event)
	if err != nil {
		b.logger.Error("Failed to marshal event", "error", err, "event_type", event.Type)
		return fmt.Errorf("failed to marshal event: %w", err)
	}

	if err := b.redisClient.Publish(ctx, ch, data).Err(); err != nil {
		b.logger.Error("Failed to publish event", "error", err, "channel", ch)
		return fmt.Errorf("failed to publish event: %w", err)
	}

	b.logger.Debug("Event published",
		"channel", ch,
		"event_type", event.Type,
	)

	return nil
}

// Subscribe streams the events of one chat until ctx is done. The returned
// channel is closed when the subscription ends.
func (b *Broadcaster) Subscribe(ctx context.Context, chatID string) (<-chan Event, error) {
	sub := b.redisClient.Subscribe(ctx, channel(chatID))
	// Wait for the confirmation so no event published after return is lost.
	if _, err := sub.Receive(ctx); err != nil {
		_ = sub.Close()
		return nil, fmt.Errorf("failed to subscribe: %w", err)
	}

	out := make(chan Event)
	go func() {
		defer close(out)
		defer sub.Close()
		msgs := sub.Channel()
		for {
			select {
			case <-ctx.Done():
				return
			case msg, ok := <-msgs:
				if !ok {
					return
				}
				var ev Event
				if err := json.Unmarshal([]byte(msg.Payload), &ev); err != nil {
					b.logger.Warn("Dropping malformed event", "error", err, "channel", msg.Channel)
					continue
				}
				select {
				case out <- ev:
				case <-ctx.Done():
					return
				}
			}
		}
	}()
	return out, nil
}
