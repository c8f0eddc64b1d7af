package events

import (
	"context"
	"log/slog"
	"os"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelError}))
}

type recorder struct {
	mu     sync.Mutex
	events []Event
}

func (r *recorder) Publish(_ context.Context, chatID string, ev Event) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	ev.ChatID = chatID
	r.events = append(r.events, ev)
	return nil
}

func (r *recorder) types() []EventType {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]EventType, len(r.events))
	for i, ev := range r.events {
		out[i] = ev.Type
	}
	return out
}

func TestCenter_GeneratingThenSuccess(t *testing.T) {
	defer goleak.VerifyNone(t)

	rec := &recorder{}
	c := NewCenter(rec, testLogger())
	c.SuccessDelay = 20 * time.Millisecond
	ctx := context.Background()

	id := c.Generating(ctx, "chat-1", "private_chat", "林夕")
	n, ok := c.Current("chat-1")
	require.True(t, ok)
	assert.Equal(t, StatusGenerating, n.Status)
	assert.Equal(t, "正在生成私聊消息", n.Title)
	assert.Equal(t, "林夕 发起的消息生成中...", n.Message)

	require.True(t, c.Success(ctx, "chat-1", id, "private_chat", "林夕"))
	n, _ = c.Current("chat-1")
	assert.Equal(t, StatusSuccess, n.Status)
	assert.Equal(t, "林夕 的私聊消息已生成，进入私聊页面查看", n.Message)
	assert.Equal(t, "/chat", n.Route)

	require.Eventually(t, func() bool {
		_, ok := c.Current("chat-1")
		return !ok
	}, time.Second, 5*time.Millisecond)

	assert.Equal(t, []EventType{
		EventTypeNotificationUpdated,
		EventTypeNotificationUpdated,
		EventTypeNotificationDismissed,
	}, rec.types())
}

func TestCenter_ErrorUsesLongerDelay(t *testing.T) {
	defer goleak.VerifyNone(t)

	c := NewCenter(nil, testLogger())
	c.ErrorDelay = time.Hour
	defer c.Close()
	ctx := context.Background()

	id := c.Generating(ctx, "chat-1", "dynamic", "张三")
	require.True(t, c.Error(ctx, "chat-1", id, "API is not configured"))

	n, ok := c.Current("chat-1")
	require.True(t, ok)
	assert.Equal(t, StatusError, n.Status)
	assert.Equal(t, "生成失败", n.Title)
	assert.Equal(t, "API is not configured", n.Message)
}

func TestCenter_ReplacedIDIsIgnored(t *testing.T) {
	defer goleak.VerifyNone(t)

	c := NewCenter(nil, testLogger())
	defer c.Close()
	ctx := context.Background()

	first := c.Generating(ctx, "chat-1", "group_chat", "A")
	second := c.Generating(ctx, "chat-1", "group_chat", "B")
	assert.NotEqual(t, first, second)

	assert.False(t, c.Success(ctx, "chat-1", first, "group_chat", "A"))
	assert.False(t, c.Dismiss(ctx, "chat-1", first))

	n, _ := c.Current("chat-1")
	assert.Equal(t, second, n.ID)
	assert.Equal(t, StatusGenerating, n.Status)

	// Other chats are independent.
	other := c.Generating(ctx, "chat-2", "live_list", "C")
	assert.True(t, c.Dismiss(ctx, "chat-2", other))
	_, ok := c.Current("chat-1")
	assert.True(t, ok)
}

func TestCenter_ManualDismissStopsTimer(t *testing.T) {
	defer goleak.VerifyNone(t)

	rec := &recorder{}
	c := NewCenter(rec, testLogger())
	c.SuccessDelay = 10 * time.Millisecond
	ctx := context.Background()

	id := c.FriendAdded(ctx, "chat-1", "林夕", "lyra")
	n, _ := c.Current("chat-1")
	assert.Equal(t, "已添加 林夕 (lyra) 为好友", n.Message)

	require.True(t, c.Dismiss(ctx, "chat-1", id))
	time.Sleep(30 * time.Millisecond)

	assert.Equal(t, []EventType{EventTypeNotificationUpdated, EventTypeNotificationDismissed}, rec.types())
}

func TestAppNames(t *testing.T) {
	assert.Equal(t, "直播", AppName("live_list"))
	assert.Equal(t, "unknown", AppName("unknown"))
	assert.Equal(t, "/live", AppRoute("live_list"))
	assert.Equal(t, "/", AppRoute("unknown"))
}
