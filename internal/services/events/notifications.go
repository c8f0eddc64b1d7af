package events

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
)

// Status of a notification.
type Status string

const (
	StatusGenerating Status = "generating"
	StatusSuccess    Status = "success"
	StatusError      Status = "error"
)

// Default auto-dismiss delays.
const (
	SuccessDismissDelay = 5 * time.Second
	ErrorDismissDelay   = 8 * time.Second
)

var appNames = map[string]string{
	"private_chat": "私聊",
	"group_chat":   "群聊",
	"dynamic":      "动态",
	"live_list":    "直播",
}

var appRoutes = map[string]string{
	"private_chat": "/chat",
	"group_chat":   "/chat",
	"dynamic":      "/dynamic",
	"live_list":    "/live",
}

// AppName returns the display name of an auto-reply app.
func AppName(app string) string {
	if n, ok := appNames[app]; ok {
		return n
	}
	return app
}

// AppRoute returns the phone route that shows an app's content.
func AppRoute(app string) string {
	if r, ok := appRoutes[app]; ok {
		return r
	}
	return "/"
}

// Notification is the status banner shown to the user for one chat.
type Notification struct {
	ID        string    `json:"id"`
	Status    Status    `json:"status"`
	Title     string    `json:"title"`
	Message   string    `json:"message"`
	Route     string    `json:"route,omitempty"`
	UpdatedAt time.Time `json:"updated_at"`
}

type slot struct {
	n     Notification
	timer *time.Timer
}

// Center keeps at most one visible notification per chat. Showing a new one
// replaces the previous; updates addressed to a replaced id are ignored.
type Center struct {
	mu     sync.Mutex
	slots  map[string]*slot
	pub    Publisher
	logger *slog.Logger

	SuccessDelay time.Duration
	ErrorDelay   time.Duration
}

// NewCenter creates a notification center. pub may be nil.
func NewCenter(pub Publisher, logger *slog.Logger) *Center {
	return &Center{
		slots:        make(map[string]*slot),
		pub:          pub,
		logger:       logger,
		SuccessDelay: SuccessDismissDelay,
		ErrorDelay:   ErrorDismissDelay,
	}
}

// Generating shows the in-progress banner for an auto-reply and returns its id.
func (c *Center) Generating(ctx context.Context, chatID, app, sender string) string {
	name := AppName(app)
	return c.show(ctx, chatID, Notification{
		Status:  StatusGenerating,
		Title:   "正在生成" + name + "消息",
		Message: sender + " 发起的消息生成中...",
		Route:   AppRoute(app),
	}, 0)
}

// Success turns notification id into a success banner that dismisses itself.
func (c *Center) Success(ctx context.Context, chatID, id, app, sender string) bool {
	name := AppName(app)
	return c.update(ctx, chatID, id, Notification{
		Status:  StatusSuccess,
		Title:   "生成完成",
		Message: sender + " 的" + name + "消息已生成，进入" + name + "页面查看",
		Route:   AppRoute(app),
	}, c.SuccessDelay)
}

// Error turns notification id into an error banner that dismisses itself.
func (c *Center) Error(ctx context.Context, chatID, id, message string) bool {
	return c.update(ctx, chatID, id, Notification{
		Status:  StatusError,
		Title:   "生成失败",
		Message: message,
	}, c.ErrorDelay)
}

// FriendAdded announces a new roster entry.
func (c *Center) FriendAdded(ctx context.Context, chatID, name, nickname string) string {
	return c.show(ctx, chatID, Notification{
		Status:  StatusSuccess,
		Title:   "添加好友成功",
		Message: "已添加 " + name + " (" + nickname + ") 为好友",
	}, c.SuccessDelay)
}

// Current returns the visible notification of a chat.
func (c *Center) Current(chatID string) (Notification, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	s, ok := c.slots[chatID]
	if !ok {
		return Notification{}, false
	}
	return s.n, true
}

// Dismiss hides notification id if it is still the visible one.
func (c *Center) Dismiss(ctx context.Context, chatID, id string) bool {
	c.mu.Lock()
	s, ok := c.slots[chatID]
	if !ok || s.n.ID != id {
		c.mu.Unlock()
		return false
	}
	if s.timer != nil {
		s.timer.Stop()
	}
	delete(c.slots, chatID)
	c.mu.Unlock()

	c.publish(ctx, chatID, Event{
		Type: EventTypeNotificationDismissed,
		Data: map[string]any{"id": id},
	})
	return true
}

// Close stops every pending auto-dismiss timer.
func (c *Center) Close() {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, s := range c.slots {
		if s.timer != nil {
			s.timer.Stop()
		}
	}
	c.slots = make(map[string]*slot)
}

func (c *Center) show(ctx context.Context, chatID string, n Notification, dismissAfter time.Duration) string {
	n.ID = uuid.New().String()
	n.UpdatedAt = time.Now()

	c.mu.Lock()
	if prev, ok := c.slots[chatID]; ok && prev.timer != nil {
		prev.timer.Stop()
	}
	s := &slot{n: n}
	c.slots[chatID] = s
	c.schedule(ctx, chatID, s, dismissAfter)
	c.mu.Unlock()

	c.publishNotification(ctx, chatID, n)
	return n.ID
}

func (c *Center) update(ctx context.Context, chatID, id string, n Notification, dismissAfter time.Duration) bool {
	c.mu.Lock()
	s, ok := c.slots[chatID]
	if !ok || s.n.ID != id {
		c.mu.Unlock()
		return false
	}
	if s.timer != nil {
		s.timer.Stop()
	}
	n.ID = id
	n.UpdatedAt = time.Now()
	s.n = n
	c.schedule(ctx, chatID, s, dismissAfter)
	c.mu.Unlock()

	c.publishNotification(ctx, chatID, n)
	return true
}

// schedule must be called with c.mu held.
func (c *Center) schedule(ctx context.Context, chatID string, s *slot, after time.Duration) {
	s.timer = nil
	if after <= 0 {
		return
	}
	id := s.n.ID
	bg := context.WithoutCancel(ctx)
	s.timer = time.AfterFunc(after, func() {
		c.Dismiss(bg, chatID, id)
	})
}

func (c *Center) publishNotification(ctx context.Context, chatID string, n Notification) {
	c.publish(ctx, chatID, Event{
		Type: EventTypeNotificationUpdated,
		Data: map[string]any{
			"id":         n.ID,
			"status":     string(n.Status),
			"title":      n.Title,
			"message":    n.Message,
			"route":      n.Route,
			"updated_at": n.UpdatedAt.Format(time.RFC3339),
		},
	})
}

func (c *Center) publish(ctx context.Context, chatID string, ev Event) {
	if c.pub == nil {
		return
	}
	if err := c.pub.Publish(ctx, chatID, ev); err != nil {
		c.logger.Warn("Failed to publish notification", "chat_id", chatID, "error", err)
	}
}
