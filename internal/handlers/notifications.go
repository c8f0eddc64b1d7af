package handlers

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/gorilla/websocket"

	"github.com/jwebster45206/tavern-phone/internal/services/events"
)

const (
	writeWait  = 10 * time.Second
	pongWait   = 60 * time.Second
	pingPeriod = (pongWait * 9) / 10
)

// Subscriber streams the events of one chat until ctx is done.
type Subscriber interface {
	Subscribe(ctx context.Context, chatID string) (<-chan events.Event, error)
}

// NotificationsHandler forwards a chat's notification and floor events to a
// websocket client.
type NotificationsHandler struct {
	events   Subscriber
	upgrader websocket.Upgrader
	logger   *slog.Logger
}

func NewNotificationsHandler(sub Subscriber, logger *slog.Logger) *NotificationsHandler {
	return &NotificationsHandler{
		events: sub,
		upgrader: websocket.Upgrader{
			// The phone UI is served by the host on its own origin.
			CheckOrigin: func(*http.Request) bool { return true },
		},
		logger: logger,
	}
}

// ServeHTTP upgrades the connection and streams events as JSON frames.
// GET /v1/chats/{chatID}/notifications
func (h *NotificationsHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	chatID := chi.URLParam(r, "chatID")
	log := h.logger.With("chat_id", chatID, "remote_addr", r.RemoteAddr)

	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Warn("Websocket upgrade failed", "error", err)
		return
	}
	defer conn.Close()

	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()

	stream, err := h.events.Subscribe(ctx, chatID)
	if err != nil {
		log.Error("Failed to subscribe to chat events", "error", err)
		_ = conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseInternalServerErr, "subscribe failed"),
			time.Now().Add(writeWait))
		return
	}
	log.Info("Notification stream connected")

	// The read loop only exists to notice the client going away.
	go func() {
		defer cancel()
		conn.SetReadLimit(512)
		_ = conn.SetReadDeadline(time.Now().Add(pongWait))
		conn.SetPongHandler(func(string) error {
			return conn.SetReadDeadline(time.Now().Add(pongWait))
		})
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	ticker := time.NewTicker(pingPeriod)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			log.Info("Notification stream closed")
			return
		case ev, ok := <-stream:
			if !ok {
				return
			}
			_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := conn.WriteJSON(ev); err != nil {
				log.Warn("Failed to write event", "error", err)
				return
			}
		case <-ticker.C:
			if err := conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(writeWait)); err != nil {
				return
			}
		}
	}
}
