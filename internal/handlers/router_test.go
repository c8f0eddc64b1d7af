package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"os"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jwebster45206/tavern-phone/internal/modules"
	"github.com/jwebster45206/tavern-phone/internal/services"
	"github.com/jwebster45206/tavern-phone/internal/services/events"
	"github.com/jwebster45206/tavern-phone/internal/services/queue"
	"github.com/jwebster45206/tavern-phone/pkg/actor"
	"github.com/jwebster45206/tavern-phone/pkg/history"
	"github.com/jwebster45206/tavern-phone/pkg/module"
	"github.com/jwebster45206/tavern-phone/pkg/prompts"
	queuePkg "github.com/jwebster45206/tavern-phone/pkg/queue"
	"github.com/jwebster45206/tavern-phone/pkg/storage"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelError}))
}

type pinger struct{ err error }

func (p pinger) Ping(context.Context) error { return p.err }

type fakeQueue struct {
	mu   sync.Mutex
	reqs []*queuePkg.Request
	err  error
}

func (q *fakeQueue) Enqueue(_ context.Context, req *queuePkg.Request) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.err != nil {
		return q.err
	}
	q.reqs = append(q.reqs, req)
	return nil
}

type fakePreview struct{}

func (fakePreview) Prepare(ctx context.Context, filler *prompts.Filler, fc prompts.FillContext) []prompts.Block {
	return filler.Fill(ctx, []prompts.Block{
		{ID: prompts.BlockInput, Role: "user", Fixed: true},
	}, prompts.FillContext{View: fc.View, UserInput: "preview of " + fc.View})
}

type fakeAI struct {
	data map[string]any
}

func (a fakeAI) Fetch(context.Context, *services.Session, prompts.FillContext) services.Result {
	if a.data == nil {
		return services.Result{Error: services.ErrNotConfigured.Error()}
	}
	return services.Result{Success: true, Data: a.data}
}

type fakeEvents struct {
	ch chan events.Event
}

func (f *fakeEvents) Subscribe(ctx context.Context, _ string) (<-chan events.Event, error) {
	return f.ch, nil
}

type testServer struct {
	mock    *storage.MockStorage
	queue   *fakeQueue
	events  *fakeEvents
	handler http.Handler
}

func newTestServer(t *testing.T, ai modules.Fetcher) *testServer {
	t.Helper()
	mock := storage.NewMockStorage()
	ts := &testServer{
		mock:   mock,
		queue:  &fakeQueue{},
		events: &fakeEvents{ch: make(chan events.Event, 4)},
	}
	registry := modules.NewRegistry(func(string) storage.Storage { return mock }, modules.Deps{AI: ai, Logger: testLogger()})
	ts.handler = NewRouter(Deps{
		Registry: registry,
		Storage:  pinger{},
		Queue:    ts.queue,
		Preview:  fakePreview{},
		Events:   ts.events,
		Logger:   testLogger(),
	})
	return ts
}

func (ts *testServer) do(t *testing.T, method, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}
	rr := httptest.NewRecorder()
	ts.handler.ServeHTTP(rr, req)
	return rr
}

func TestHealth(t *testing.T) {
	tests := []struct {
		name       string
		pingErr    error
		wantStatus int
		wantHealth string
	}{
		{"healthy", nil, http.StatusOK, "healthy"},
		{"storage down", errors.New("connection refused"), http.StatusServiceUnavailable, "degraded"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := NewHealthHandler(pinger{err: tt.pingErr}, false, testLogger())
			rr := httptest.NewRecorder()
			h.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/health", nil))

			assert.Equal(t, tt.wantStatus, rr.Code)
			var resp HealthResponse
			require.NoError(t, json.NewDecoder(rr.Body).Decode(&resp))
			assert.Equal(t, tt.wantHealth, resp.Status)
			assert.Equal(t, "not_configured", resp.Components["ai"])
		})
	}
}

func TestMetricsRoute(t *testing.T) {
	ts := newTestServer(t, nil)
	rr := ts.do(t, http.MethodGet, "/metrics", "")
	assert.Equal(t, http.StatusOK, rr.Code)
	assert.Contains(t, rr.Body.String(), "go_goroutines")
}

func TestModules_GetFromHistory(t *testing.T) {
	ts := newTestServer(t, nil)
	block, err := module.KindForum.Key("").Encode(map[string]any{"posts": []any{map[string]any{"title": "hi"}}}, time.Now())
	require.NoError(t, err)
	ts.mock.AddFloor("assistant", "", block)

	rr := ts.do(t, http.MethodGet, "/v1/chats/c1/modules/forum", "")
	require.Equal(t, http.StatusOK, rr.Code)
	var snap struct {
		Loaded bool           `json:"loaded"`
		Data   map[string]any `json:"data"`
		Error  string         `json:"error"`
	}
	require.NoError(t, json.NewDecoder(rr.Body).Decode(&snap))
	assert.True(t, snap.Loaded)
	assert.Empty(t, snap.Error)
	assert.NotNil(t, snap.Data)
}

func TestModules_GetNotConfigured(t *testing.T) {
	ts := newTestServer(t, nil)
	rr := ts.do(t, http.MethodGet, "/v1/chats/c1/modules/email", "")
	require.Equal(t, http.StatusOK, rr.Code)
	assert.Contains(t, rr.Body.String(), services.ErrNotConfigured.Error())
}

func TestModules_ForceGenerates(t *testing.T) {
	ts := newTestServer(t, fakeAI{data: map[string]any{"posts": []any{map[string]any{"title": "新帖"}}}})
	block, err := module.KindForum.Key("").Encode(map[string]any{"posts": []any{map[string]any{"title": "旧帖"}}}, time.Now())
	require.NoError(t, err)
	ts.mock.AddFloor("assistant", "", block)

	rr := ts.do(t, http.MethodGet, "/v1/chats/c1/modules/forum?force=true", "")
	require.Equal(t, http.StatusOK, rr.Code)
	assert.Contains(t, rr.Body.String(), "新帖")
	require.Len(t, ts.mock.Writes, 1)
	assert.Contains(t, ts.mock.Writes[0].Message, "新帖")
}

func TestModules_BadRequests(t *testing.T) {
	ts := newTestServer(t, nil)
	assert.Equal(t, http.StatusBadRequest, ts.do(t, http.MethodGet, "/v1/chats/c1/modules/nope", "").Code)
	assert.Equal(t, http.StatusBadRequest, ts.do(t, http.MethodGet, "/v1/chats/c1/modules/profile", "").Code)
	assert.Equal(t, http.StatusBadRequest, ts.do(t, http.MethodPost, "/v1/chats/c1/modules/map", "{not json").Code)
	assert.Equal(t, http.StatusBadRequest, ts.do(t, http.MethodPut, "/v1/chats/c1/modules/call?character=a", "{}").Code)
}

func TestModules_PostAndPut(t *testing.T) {
	ts := newTestServer(t, nil)

	rr := ts.do(t, http.MethodPost, "/v1/chats/c1/modules/dynamic", `{"posts":[{"name":"林夕","content":"v1"}]}`)
	require.Equal(t, http.StatusCreated, rr.Code)
	var saved SaveResponse
	require.NoError(t, json.NewDecoder(rr.Body).Decode(&saved))
	require.NotNil(t, saved.FloorID)
	assert.Equal(t, 0, *saved.FloorID)

	rr = ts.do(t, http.MethodPut, "/v1/chats/c1/modules/dynamic", `{"posts":[{"name":"林夕","content":"v2"}]}`)
	require.Equal(t, http.StatusOK, rr.Code)
	f, ok := ts.mock.Floor(0)
	require.True(t, ok)
	assert.Contains(t, f.Message, "v2")
	assert.NotContains(t, f.Message, "v1")

	rr = ts.do(t, http.MethodPut, "/v1/chats/c1/modules/forum", `{}`)
	assert.Equal(t, http.StatusNotFound, rr.Code)

	rr = ts.do(t, http.MethodPost, "/v1/chats/c1/modules/profile?character=林夕", `{"name":"林夕"}`)
	require.Equal(t, http.StatusCreated, rr.Code)
	f, _ = ts.mock.Floor(1)
	assert.Contains(t, f.Message, `<phone_module type="profile" character="林夕"`)
}

func TestModules_DeleteAndAbort(t *testing.T) {
	ts := newTestServer(t, nil)
	assert.Equal(t, http.StatusNoContent, ts.do(t, http.MethodDelete, "/v1/chats/c1/modules/map", "").Code)
	assert.Equal(t, http.StatusNoContent, ts.do(t, http.MethodDelete, "/v1/chats/c1", "").Code)

	rr := ts.do(t, http.MethodPost, "/v1/chats/c1/abort", "")
	require.Equal(t, http.StatusOK, rr.Code)
	assert.JSONEq(t, `{"aborted":false}`, rr.Body.String())
}

func TestConversations(t *testing.T) {
	ts := newTestServer(t, nil)
	first, err := history.ChatKey("林夕", "private").Encode(map[string]any{
		"messages": []any{map[string]any{"t": "text", "c": "早"}},
	}, time.Now())
	require.NoError(t, err)
	second, err := history.ChatKey("林夕", "private").Encode(map[string]any{
		"messages": []any{map[string]any{"t": "text", "c": "晚"}},
	}, time.Now())
	require.NoError(t, err)
	ts.mock.AddFloor("assistant", "", first)
	ts.mock.AddFloor("assistant", "", second)

	rr := ts.do(t, http.MethodGet, "/v1/chats/c1/conversations/private/林夕", "")
	require.Equal(t, http.StatusOK, rr.Code)
	var got []Conversation
	require.NoError(t, json.NewDecoder(rr.Body).Decode(&got))
	require.Len(t, got, 2)
	assert.Equal(t, 0, got[0].FloorID)
	assert.Equal(t, 1, got[1].FloorID)

	rr = ts.do(t, http.MethodGet, "/v1/chats/c1/conversations", "")
	require.Equal(t, http.StatusOK, rr.Code)
	require.NoError(t, json.NewDecoder(rr.Body).Decode(&got))
	require.Len(t, got, 1)
	assert.Equal(t, 1, got[0].FloorID)

	assert.Equal(t, http.StatusBadRequest, ts.do(t, http.MethodGet, "/v1/chats/c1/conversations/dm/林夕", "").Code)
}

func TestPromptPreview(t *testing.T) {
	ts := newTestServer(t, nil)
	rr := ts.do(t, http.MethodPost, "/v1/chats/c1/prompt", `{"view":"map"}`)
	require.Equal(t, http.StatusOK, rr.Code)
	var got PromptPreview
	require.NoError(t, json.NewDecoder(rr.Body).Decode(&got))
	require.Len(t, got.Messages, 1)
	assert.Equal(t, "preview of map", got.Messages[0].Content)

	assert.Equal(t, http.StatusBadRequest, ts.do(t, http.MethodPost, "/v1/chats/c1/prompt", `{}`).Code)
}

func TestGenerationEnded(t *testing.T) {
	ts := newTestServer(t, nil)

	rr := ts.do(t, http.MethodPost, "/v1/chats/c1/generation-ended", `{"floorId":4}`)
	require.Equal(t, http.StatusAccepted, rr.Code)
	rr = ts.do(t, http.MethodPost, "/v1/chats/c1/generation-ended", "")
	require.Equal(t, http.StatusAccepted, rr.Code)

	require.Len(t, ts.queue.reqs, 2)
	assert.Equal(t, 4, ts.queue.reqs[0].FloorID)
	assert.Equal(t, -1, ts.queue.reqs[1].FloorID)
	assert.Equal(t, "c1", ts.queue.reqs[1].ChatID)

	ts.queue.err = queue.ErrDuplicate
	rr = ts.do(t, http.MethodPost, "/v1/chats/c1/generation-ended", `{"floorId":4}`)
	require.Equal(t, http.StatusOK, rr.Code)
	assert.JSONEq(t, `{"duplicate":true}`, rr.Body.String())
}

func TestSettingsAndEntry(t *testing.T) {
	ts := newTestServer(t, nil)
	ts.mock.SetBindings(storage.WorldbookBindings{Primary: "main"})
	ts.mock.SetWorldbook("main", nil)

	rr := ts.do(t, http.MethodPut, "/v1/chats/c1/settings", `{"autoReply":{"dynamic":true},"addFriend":{"enabled":true,"updateBasicInfo":false}}`)
	require.Equal(t, http.StatusOK, rr.Code)
	var got SettingsBody
	require.NoError(t, json.NewDecoder(rr.Body).Decode(&got))
	assert.True(t, got.AutoReply["dynamic"])
	assert.False(t, got.AutoReply["private_chat"])
	require.NotNil(t, got.AddFriend)
	assert.True(t, got.AddFriend.Enabled)

	rr = ts.do(t, http.MethodGet, "/v1/chats/c1/add-friend/entry", "")
	require.Equal(t, http.StatusOK, rr.Code)
	assert.JSONEq(t, `{"enabled":true}`, rr.Body.String())

	rr = ts.do(t, http.MethodPost, "/v1/chats/c1/add-friend/entry", `{"enabled":false}`)
	require.Equal(t, http.StatusOK, rr.Code)
	entries, err := ts.mock.Worldbook(context.Background(), "main")
	require.NoError(t, err)
	for _, e := range entries {
		assert.NotEqual(t, actor.AddFriendEntryName, e.Name)
	}
}

func TestAddFriendEntry_NoWorldbook(t *testing.T) {
	ts := newTestServer(t, nil)
	rr := ts.do(t, http.MethodPost, "/v1/chats/c1/add-friend/entry", `{"enabled":true}`)
	assert.Equal(t, http.StatusConflict, rr.Code)
}

func TestNotificationsWebsocket(t *testing.T) {
	ts := newTestServer(t, nil)
	srv := httptest.NewServer(ts.handler)
	defer srv.Close()

	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/v1/chats/c1/notifications"
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	defer conn.Close()

	ts.events.ch <- events.Event{Type: events.EventTypeNotificationUpdated, ChatID: "c1", Data: map[string]any{"title": "生成完成"}}

	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	var ev events.Event
	require.NoError(t, conn.ReadJSON(&ev))
	assert.Equal(t, events.EventTypeNotificationUpdated, ev.Type)
	assert.Equal(t, "生成完成", ev.Data["title"])
}
