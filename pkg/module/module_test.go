package module

import (
	"errors"
	"log/slog"
	"os"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jwebster45206/tavern-phone/pkg/tagblock"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelError}))
}

type fakeLookup map[string]bool

func (f fakeLookup) StickerURL(name string) (string, bool) { return "", f["sticker:"+name] }
func (f fakeLookup) ImageURL(name string) (string, bool)   { return "", f["image:"+name] }

func TestParseKind(t *testing.T) {
	for _, k := range Kinds {
		got, err := ParseKind(string(k))
		require.NoError(t, err)
		assert.Equal(t, k, got)
	}
	_, err := ParseKind("weather")
	assert.True(t, errors.Is(err, ErrUnknownKind))
}

func TestKeyScoping(t *testing.T) {
	assert.Len(t, KindMap.Key("林夕").Attrs, 1, "global kinds drop the character")
	assert.Len(t, KindPrivateChat.Key("林夕").Attrs, 2)
	assert.True(t, KindCall.Scoped())
	assert.False(t, KindMusic.Scoped())
}

func TestDecode_TypedAndOpaque(t *testing.T) {
	node, err := tagblock.ParseBody("mapName: 星城\ndate: 5月1日\ntime: '08:00'\nlocations:\n  学校:\n    description: 教学楼\n")
	require.NoError(t, err)
	v, err := Decode(KindMap, node)
	require.NoError(t, err)
	m, ok := v.(*MapData)
	require.True(t, ok)
	assert.Equal(t, "星城", m.MapName)
	assert.True(t, m.HasLocations())

	node, err = tagblock.ParseBody("playlist: [a, b]\n")
	require.NoError(t, err)
	v, err = Decode(KindMusic, node)
	require.NoError(t, err)
	o, ok := v.(*Opaque)
	require.True(t, ok)
	assert.Contains(t, *o, "playlist")
}

func TestFromValue(t *testing.T) {
	v, err := FromValue(KindCall, map[string]any{"name": "林夕", "thought": "想他", "content": "喂？"})
	require.NoError(t, err)
	assert.Equal(t, &CallData{Name: "林夕", Thought: "想他", Content: "喂？"}, v)

	_, err = FromValue(KindCall, []any{"x"})
	assert.Error(t, err)
}

func TestFilterMediaValue(t *testing.T) {
	lookup := fakeLookup{"sticker:开心": true, "image:自拍": true}
	v := map[string]any{"messages": []any{
		map[string]any{"t": "text", "c": "你好"},
		map[string]any{"t": "sticker", "c": "开心"},
		map[string]any{"t": "sticker", "c": "不存在"},
		map[string]any{"type": "image", "content": "自拍"},
		map[string]any{"t": "image", "c": "https://x/y.png"},
		map[string]any{"t": "image", "c": "乱写"},
		map[string]any{"t": "sticker"},
	}}
	FilterMediaValue(v, lookup, testLogger())

	got, ok := v["messages"].([]any)
	require.True(t, ok)
	require.Len(t, got, 4)
	var contents []string
	for _, item := range got {
		contents = append(contents, Message(item.(map[string]any)).Content())
	}
	assert.Equal(t, []string{"你好", "开心", "自拍", "https://x/y.png"}, contents)
}

func TestFilterMediaValue_NoMessages(t *testing.T) {
	v := map[string]any{"name": "林夕"}
	FilterMediaValue(v, nil, testLogger())
	assert.Equal(t, map[string]any{"name": "林夕"}, v)
}

func TestFilterMediaValue_KeepsOrder(t *testing.T) {
	v := map[string]any{"messages": []any{
		map[string]any{"t": "sticker", "c": "不存在"},
		"stray",
		map[string]any{"t": "text", "c": "hi"},
	}}
	FilterMediaValue(v, nil, testLogger())
	assert.Equal(t, []any{"stray", map[string]any{"t": "text", "c": "hi"}}, v["messages"])
}
