package modules

import (
	"context"
	"log/slog"
	"os"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jwebster45206/tavern-phone/internal/services"
	"github.com/jwebster45206/tavern-phone/pkg/history"
	"github.com/jwebster45206/tavern-phone/pkg/module"
	"github.com/jwebster45206/tavern-phone/pkg/prompts"
	"github.com/jwebster45206/tavern-phone/pkg/settings"
	"github.com/jwebster45206/tavern-phone/pkg/storage"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelError}))
}

type fakeFetcher struct {
	mu    sync.Mutex
	fn    func(ctx context.Context, fc prompts.FillContext) services.Result
	calls []prompts.FillContext
}

func (f *fakeFetcher) Fetch(ctx context.Context, _ *services.Session, fc prompts.FillContext) services.Result {
	f.mu.Lock()
	f.calls = append(f.calls, fc)
	fn := f.fn
	f.mu.Unlock()
	return fn(ctx, fc)
}

func (f *fakeFetcher) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.calls)
}

func answer(data map[string]any) *fakeFetcher {
	return &fakeFetcher{fn: func(context.Context, prompts.FillContext) services.Result {
		return services.Result{Success: true, Data: data}
	}}
}

type notified struct {
	mu     sync.Mutex
	floors []int
	modes  []string
}

func (n *notified) PublishFloorWritten(_ context.Context, _ string, floorID int, mode string) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.floors = append(n.floors, floorID)
	n.modes = append(n.modes, mode)
	return nil
}

func newTestStore(t *testing.T, ai Fetcher) (*Store, *storage.MockStorage) {
	t.Helper()
	mock := storage.NewMockStorage()
	return NewStore("chat-1", mock, Deps{AI: ai, Logger: testLogger()}), mock
}

func setDisplay(t *testing.T, s *Store, fn func(*settings.Display)) {
	t.Helper()
	d := settings.DefaultDisplay()
	fn(&d)
	require.NoError(t, s.Settings().SaveDisplay(context.Background(), d))
}

func encodeModule(t *testing.T, kind module.Kind, character string, payload any) string {
	t.Helper()
	block, err := kind.Key(character).Encode(payload, time.Now())
	require.NoError(t, err)
	return block
}

func TestLoad_FromHistory(t *testing.T) {
	ai := answer(nil)
	s, mock := newTestStore(t, ai)
	mock.AddFloor("assistant", "", encodeModule(t, module.KindMap, "", module.MapData{Date: "old"}))
	mock.AddFloor("user", "", "随便聊聊")
	mock.AddFloor("assistant", "", "剧情\n\n"+encodeModule(t, module.KindMap, "", module.MapData{Date: "new"}))

	snap := s.Load(context.Background(), module.KindMap, false)
	require.True(t, snap.Loaded)
	assert.False(t, snap.IsLoading)
	assert.Empty(t, snap.Error)
	m, ok := (*snap.Data).(*module.MapData)
	require.True(t, ok, "expected typed map payload, got %T", *snap.Data)
	assert.Equal(t, "new", m.Date)
	assert.Zero(t, ai.count(), "history hit must not call the AI")
}

func TestLoad_GeneratesAndPersists(t *testing.T) {
	ai := answer(map[string]any{"posts": []any{
		map[string]any{"name": "林夕", "content": "今天好热", "likes": 3},
	}})
	s, mock := newTestStore(t, ai)
	mock.AddFloor("user", "", "hi")

	snap := s.Load(context.Background(), module.KindDynamic, false)
	require.True(t, snap.Loaded, "error: %s", snap.Error)
	d := (*snap.Data).(*module.DynamicData)
	require.Len(t, d.Posts, 1)
	assert.Equal(t, "今天好热", d.Posts[0].Content)

	require.Len(t, mock.Writes, 1)
	assert.True(t, mock.Writes[0].Created)
	assert.Equal(t, 1, mock.Writes[0].FloorID)
	assert.True(t, strings.HasPrefix(mock.Writes[0].Message, `<phone_module type="dynamic" timestamp="`))

	assert.Equal(t, "dynamic", ai.calls[0].View)

	// The saved block is found on the next load without another call.
	s.Reset(module.KindDynamic)
	snap = s.Load(context.Background(), module.KindDynamic, false)
	require.True(t, snap.Loaded)
	assert.Equal(t, 1, ai.count())
}

func TestLoad_ForceSkipsHistory(t *testing.T) {
	ai := answer(map[string]any{"date": "fresh"})
	s, mock := newTestStore(t, ai)
	mock.AddFloor("assistant", "", encodeModule(t, module.KindMap, "", module.MapData{Date: "old"}))

	snap := s.Load(context.Background(), module.KindMap, true)
	require.True(t, snap.Loaded)
	assert.Equal(t, "fresh", (*snap.Data).(*module.MapData).Date)
	assert.Equal(t, 1, ai.count())
}

func TestLoad_NotConfigured(t *testing.T) {
	presets, err := services.NewPresetStore("", testLogger())
	require.NoError(t, err)
	s, mock := newTestStore(t, services.NewAIService(nil, presets, 0, testLogger()))

	snap := s.Load(context.Background(), module.KindEmail, false)
	assert.False(t, snap.Loaded)
	assert.False(t, snap.IsLoading)
	assert.Equal(t, "API is not configured", snap.Error)
	assert.Empty(t, mock.Writes)
}

func TestLoad_NotGeneratable(t *testing.T) {
	ai := answer(map[string]any{})
	s, _ := newTestStore(t, ai)

	snap := s.Load(context.Background(), module.KindMusic, false)
	assert.Contains(t, snap.Error, "module cannot be generated")
	assert.Zero(t, ai.count())
}

func TestLoad_CharacterScoped(t *testing.T) {
	ai := answer(map[string]any{"posts": []any{}})
	s, mock := newTestStore(t, ai)
	mock.AddFloor("assistant", "", encodeModule(t, module.KindDynamicHome, "张三", module.DynamicData{}))

	snap := s.LoadCharacter(context.Background(), module.KindDynamicHome, "林夕", false)
	require.True(t, snap.Loaded)
	require.Equal(t, 1, ai.count(), "another character's block must not satisfy the load")
	assert.Equal(t, []string{"林夕"}, ai.calls[0].Targets)
	assert.Equal(t, "林夕", ai.calls[0].CharacterName)

	last, _ := mock.LastFloorID(context.Background())
	f, _ := mock.Floor(last)
	assert.Contains(t, f.Message, `character="林夕"`)

	assert.True(t, s.CharacterSnapshot(module.KindDynamicHome, "林夕").Loaded)
	assert.False(t, s.CharacterSnapshot(module.KindDynamicHome, "张三").Loaded)
}

func TestLoad_OneInFlightPerKind(t *testing.T) {
	release := make(chan struct{})
	entered := make(chan struct{})
	ai := &fakeFetcher{fn: func(context.Context, prompts.FillContext) services.Result {
		close(entered)
		<-release
		return services.Result{Success: true, Data: map[string]any{"date": "d"}}
	}}
	s, _ := newTestStore(t, ai)

	done := make(chan Snapshot)
	go func() { done <- s.Load(context.Background(), module.KindMap, true) }()
	<-entered

	snap := s.Load(context.Background(), module.KindMap, true)
	assert.True(t, snap.IsLoading, "second load must observe the running one")

	// Other kinds are not blocked.
	other := s.Load(context.Background(), module.KindMusic, false)
	assert.False(t, other.IsLoading)

	close(release)
	first := <-done
	assert.True(t, first.Loaded)
	assert.Equal(t, 1, ai.count())
}

func TestSave_AppendVersusCreate(t *testing.T) {
	s, mock := newTestStore(t, nil)
	n := &notified{}
	s.deps.Notifier = n
	ctx := context.Background()
	mock.AddFloor("assistant", "", "正文")

	id, err := s.Save(ctx, module.KindCalendar, module.CalendarData{})
	require.NoError(t, err)
	assert.Equal(t, 1, id)

	setDisplay(t, s, func(d *settings.Display) { d.AppendToLastMessage = true })
	id, err = s.Save(ctx, module.KindMap, module.MapData{Date: "d"})
	require.NoError(t, err)
	assert.Equal(t, 1, id)
	f, _ := mock.Floor(1)
	assert.Contains(t, f.Message, `</phone_module>`+"\n\n"+`<phone_module type="map"`)

	// Chat blocks follow their own setting.
	id, err = s.SaveChatHistory(ctx, "林夕", history.ChatPrivate, map[string]any{"name": "林夕"})
	require.NoError(t, err)
	assert.Equal(t, 2, id)

	setDisplay(t, s, func(d *settings.Display) { d.ChatAppendToLastMessage = true })
	id, err = s.SaveChatHistory(ctx, "班群", history.ChatGroup, map[string]any{"name": "班群"})
	require.NoError(t, err)
	assert.Equal(t, 2, id)
	f, _ = mock.Floor(2)
	assert.Contains(t, f.Message, `<chat_history target="班群" type="group">`)

	assert.Equal(t, []int{1, 1, 2, 2}, n.floors)
	assert.Equal(t, []string{"create", "append", "create", "append"}, n.modes)
}

func TestSave_AppendOnEmptyChatCreates(t *testing.T) {
	s, mock := newTestStore(t, nil)
	setDisplay(t, s, func(d *settings.Display) { d.AppendToLastMessage = true })

	id, err := s.Save(context.Background(), module.KindMap, module.MapData{})
	require.NoError(t, err)
	assert.Equal(t, 0, id)
	assert.True(t, mock.Writes[0].Created)
}

func TestSave_ScopeChecks(t *testing.T) {
	s, _ := newTestStore(t, nil)
	_, err := s.Save(context.Background(), module.KindPrivateChat, module.ChatData{})
	assert.Error(t, err)
	assert.Error(t, s.SaveCharacter(context.Background(), module.KindProfile, "", module.Opaque{}))
}

func TestUpdateAndFindFloor(t *testing.T) {
	s, mock := newTestStore(t, nil)
	ctx := context.Background()
	mock.AddFloor("assistant", "", "开头\n"+encodeModule(t, module.KindMap, "", module.MapData{Date: "1"})+"\n结尾")
	mock.AddFloor("user", "", "继续")

	id, ok := s.FindFloor(ctx, module.KindMap)
	require.True(t, ok)
	assert.Equal(t, 0, id)

	require.True(t, s.Load(ctx, module.KindMap, false).Loaded)
	updated := &module.MapData{Date: "2"}
	require.True(t, s.Update(ctx, module.KindMap, updated, nil))

	f, _ := mock.Floor(0)
	assert.True(t, strings.HasPrefix(f.Message, "开头\n<phone_module"))
	assert.True(t, strings.HasSuffix(f.Message, "</phone_module>\n结尾"))
	assert.Contains(t, f.Message, "date: \"2\"")
	assert.Equal(t, updated, *s.Snapshot(module.KindMap).Data)

	_, ok = s.FindFloor(ctx, module.KindEmail)
	assert.False(t, ok)
	assert.False(t, s.Update(ctx, module.KindEmail, module.EmailData{}, nil))
}

func TestResetAll(t *testing.T) {
	s, mock := newTestStore(t, nil)
	mock.AddFloor("assistant", "", encodeModule(t, module.KindMap, "", module.MapData{}))
	mock.AddFloor("assistant", "", encodeModule(t, module.KindProfile, "林夕", module.Opaque{"bio": "hi"}))
	ctx := context.Background()

	require.True(t, s.Load(ctx, module.KindMap, false).Loaded)
	require.True(t, s.LoadCharacter(ctx, module.KindProfile, "林夕", false).Loaded)

	s.Reset(module.KindProfile)
	assert.False(t, s.CharacterSnapshot(module.KindProfile, "林夕").Loaded)
	assert.True(t, s.Snapshot(module.KindMap).Loaded)

	s.ResetAll()
	snap := s.Snapshot(module.KindMap)
	assert.False(t, snap.Loaded)
	assert.Nil(t, snap.Data)
}

func TestSubscribe(t *testing.T) {
	s, mock := newTestStore(t, nil)
	mock.AddFloor("assistant", "", encodeModule(t, module.KindMap, "", module.MapData{}))

	var seen []Snapshot
	cancel := s.Subscribe(module.KindMap, "", func(sn Snapshot) { seen = append(seen, sn) })
	s.Load(context.Background(), module.KindMap, false)
	cancel()
	s.Reset(module.KindMap)

	require.Len(t, seen, 2)
	assert.True(t, seen[0].IsLoading)
	assert.True(t, seen[1].Loaded)
}

func TestView(t *testing.T) {
	v, ok := View(module.KindCall)
	assert.True(t, ok)
	assert.Equal(t, "voiceCall", v)
	_, ok = View(module.KindProfile)
	assert.False(t, ok)
	v, ok = View(module.KindForumPost)
	assert.True(t, ok)
	assert.Equal(t, "forumPost", v)
}

func TestRegistry(t *testing.T) {
	hosts := map[string]*storage.MockStorage{}
	r := NewRegistry(func(chatID string) storage.Storage {
		m := storage.NewMockStorage()
		hosts[chatID] = m
		return m
	}, Deps{Logger: testLogger()})

	a := r.Get("a")
	assert.Same(t, a, r.Get("a"))
	assert.NotSame(t, a, r.Get("b"))
	assert.Equal(t, 2, r.Len())
	assert.Equal(t, "a", a.ChatID())
	assert.Same(t, hosts["a"], a.Host())

	assert.True(t, r.Drop("a"))
	assert.False(t, r.Drop("a"))
	assert.NotSame(t, a, r.Get("a"))
}
