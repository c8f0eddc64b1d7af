package services

import (
	"context"
	"errors"
	"log/slog"
	"os"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jwebster45206/tavern-phone/pkg/chat"
	"github.com/jwebster45206/tavern-phone/pkg/conditionals"
	"github.com/jwebster45206/tavern-phone/pkg/history"
	"github.com/jwebster45206/tavern-phone/pkg/media"
	"github.com/jwebster45206/tavern-phone/pkg/prompts"
	"github.com/jwebster45206/tavern-phone/pkg/storage"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelError}))
}

func newTestSession(t *testing.T) (*Session, *storage.MockStorage) {
	t.Helper()
	logger := testLogger()
	mock := storage.NewMockStorage()
	mock.AddFloor("user", "", "你好")
	stickers := []media.Item{{Name: "开心", URL: "https://s/happy.png"}}
	filler := prompts.NewFiller(mock, conditionals.NewEngine(mock, logger), history.NewScanner(mock, nil, logger), stickers, logger)
	return &Session{
		Filler: filler,
		Gate:   &RequestGate{},
		Media:  media.Library{Stickers: stickers},
	}, mock
}

func newTestAIService(t *testing.T, llm LLMService) *AIService {
	t.Helper()
	presets, err := NewPresetStore("", testLogger())
	require.NoError(t, err)
	return NewAIService(llm, presets, 0, testLogger())
}

func TestAIService_NotConfigured(t *testing.T) {
	sess, _ := newTestSession(t)
	svc := newTestAIService(t, nil)

	res := svc.Fetch(context.Background(), sess, prompts.FillContext{View: "map"})
	assert.False(t, res.Success)
	assert.Equal(t, "API is not configured", res.Error)
	assert.False(t, svc.Configured())
}

func TestAIService_FetchFiltersMedia(t *testing.T) {
	sess, _ := newTestSession(t)
	llm := NewMockLLM("```yaml\nname: 林夕\nmessages:\n  - t: text\n    c: 在吗\n  - t: sticker\n    c: 开心\n  - t: sticker\n    c: 不存在\n```")
	svc := newTestAIService(t, llm)

	res := svc.Fetch(context.Background(), sess, prompts.FillContext{
		View:      "privateChat",
		Targets:   []string{"林夕"},
		UserInput: "和林夕的私聊",
	})
	require.True(t, res.Success, res.Error)

	data := res.Data.(map[string]any)
	msgs := data["messages"].([]any)
	require.Len(t, msgs, 2)
	assert.Equal(t, "开心", msgs[1].(map[string]any)["c"])

	sent := llm.LastCall()
	require.NotEmpty(t, sent)
	last := sent[len(sent)-1]
	assert.Equal(t, chat.ChatMessage{Role: chat.ChatRoleUser, Content: "和林夕的私聊"}, last)

	var format string
	for _, m := range sent {
		if strings.Contains(m.Content, "## 输出格式要求") {
			format = m.Content
		}
	}
	assert.Contains(t, format, "## 表情包库")
	assert.False(t, sess.Gate.Active())
}

func TestAIService_DefaultInput(t *testing.T) {
	sess, _ := newTestSession(t)
	llm := NewMockLLM("mapName: 星城")
	svc := newTestAIService(t, llm)

	res := svc.Fetch(context.Background(), sess, prompts.FillContext{View: "map"})
	require.True(t, res.Success)
	sent := llm.LastCall()
	assert.Equal(t, DefaultInput("map", ""), sent[len(sent)-1].Content)
}

func TestAIService_Abort(t *testing.T) {
	sess, _ := newTestSession(t)
	started := make(chan struct{})
	llm := &MockLLM{ChatFunc: func(ctx context.Context, _ []chat.ChatMessage) (string, error) {
		close(started)
		<-ctx.Done()
		return "", ctx.Err()
	}}
	svc := newTestAIService(t, llm)

	done := make(chan Result)
	go func() {
		done <- svc.Fetch(context.Background(), sess, prompts.FillContext{View: "forum"})
	}()

	<-started
	require.True(t, sess.Gate.Abort())

	select {
	case res := <-done:
		assert.Equal(t, ErrAborted.Error(), res.Error)
	case <-time.After(2 * time.Second):
		t.Fatal("fetch did not return after abort")
	}
	assert.False(t, sess.Gate.Active())
}

func TestAIService_Errors(t *testing.T) {
	sess, _ := newTestSession(t)

	svc := newTestAIService(t, &MockLLM{ChatFunc: func(context.Context, []chat.ChatMessage) (string, error) {
		return "", errors.New("API request failed with status 500")
	}})
	res := svc.Fetch(context.Background(), sess, prompts.FillContext{View: "email"})
	assert.Contains(t, res.Error, "status 500")

	svc = newTestAIService(t, NewMockLLM("I cannot do that."))
	res = svc.Fetch(context.Background(), sess, prompts.FillContext{View: "email"})
	assert.False(t, res.Success)
	assert.Equal(t, "I cannot do that.", res.Raw)
}
