package media

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testLibrary() Library {
	return Library{
		Stickers: []Item{{Name: "开心", URL: "https://s/1.png"}, {Name: "哭", URL: "https://s/2.png"}},
	}.WithCharacterVars(map[string]any{
		ImagesVar: map[string]any{
			CommonBucket: []any{map[string]any{"name": "风景", "url": "https://i/c.png"}},
			"林夕":         []any{map[string]any{"name": "自拍", "url": "https://i/l.png"}, "bad"},
		},
		LiveImagesVar: map[string]any{
			"林夕": []any{map[string]any{"name": "直播封面", "url": "https://i/live.png"}},
		},
	})
}

func TestLookups(t *testing.T) {
	lib := testLibrary()

	u, ok := lib.StickerURL("开心")
	assert.True(t, ok)
	assert.Equal(t, "https://s/1.png", u)

	_, ok = lib.StickerURL("不存在")
	assert.False(t, ok)

	u, ok = lib.ImageURL("自拍")
	assert.True(t, ok)
	assert.Equal(t, "https://i/l.png", u)

	u, ok = lib.ImageURL("https://x/y.png")
	assert.True(t, ok)
	assert.Equal(t, "https://x/y.png", u)

	_, ok = lib.LiveImageURL("")
	assert.False(t, ok)
}

func TestListings(t *testing.T) {
	lib := testLibrary()

	s := lib.StickerListing()
	assert.True(t, strings.HasPrefix(s, "## 表情包库"))
	assert.Contains(t, s, "开心、哭")

	img := lib.ImageListing([]string{"林夕", "张三"})
	assert.Contains(t, img, "### 通用图片库\n风景")
	assert.Contains(t, img, "### 林夕的图片库\n自拍")
	assert.NotContains(t, img, "张三")
	assert.Less(t, strings.Index(img, "通用图片库"), strings.Index(img, "林夕的图片库"))

	assert.Empty(t, lib.ImageListing(nil), "no targets, no listing")

	live := lib.LiveImageListing([]string{"林夕"}, true)
	assert.Contains(t, live, "以下是当前主播的可用直播图片名称列表")
	assert.Contains(t, live, "### 林夕的直播图片库\n直播封面")
	assert.Contains(t, lib.LiveImageListing([]string{"林夕"}, false), "以下是各主播")

	assert.Empty(t, Library{}.StickerListing())
	assert.Empty(t, Library{}.LiveImageListing([]string{"林夕"}, true))
}

func TestLoadStickers(t *testing.T) {
	path := filepath.Join(t.TempDir(), "stickers.json")
	require.NoError(t, os.WriteFile(path, []byte(`[{"name":"开心","url":"https://s/1.png"}]`), 0o600))

	items, err := LoadStickers(path)
	require.NoError(t, err)
	assert.Equal(t, []Item{{Name: "开心", URL: "https://s/1.png"}}, items)

	_, err = LoadStickers(filepath.Join(t.TempDir(), "missing.json"))
	assert.Error(t, err)
}
