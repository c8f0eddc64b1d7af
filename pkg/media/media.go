// Package media holds the sticker and character image libraries that AI
// output may reference by name.
package media

import (
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"
)

// CommonBucket holds images available for every character.
const CommonBucket = "__common__"

// Character variable keys holding the per-character libraries.
const (
	ImagesVar     = "phone_character_images"
	LiveImagesVar = "phone_character_live_images"
)

// Item is a named media resource.
type Item struct {
	Name string `yaml:"name" json:"name"`
	URL  string `yaml:"url" json:"url"`
}

// Library is the set of media a deployment knows about.
type Library struct {
	Stickers   []Item
	Images     map[string][]Item
	LiveImages map[string][]Item
}

// LoadStickers reads a sticker list from a JSON or YAML file.
func LoadStickers(path string) ([]Item, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read sticker file: %w", err)
	}
	var items []Item
	if err := yaml.Unmarshal(raw, &items); err != nil {
		return nil, fmt.Errorf("failed to parse sticker file %s: %w", path, err)
	}
	return items, nil
}

// WithCharacterVars returns a copy of l whose image libraries are read from
// character-scope variables. Malformed entries are ignored.
func (l Library) WithCharacterVars(vars map[string]any) Library {
	l.Images = bucketsFrom(vars[ImagesVar])
	l.LiveImages = bucketsFrom(vars[LiveImagesVar])
	return l
}

func bucketsFrom(v any) map[string][]Item {
	out := make(map[string][]Item)
	m, ok := v.(map[string]any)
	if !ok {
		return out
	}
	for name, list := range m {
		raw, ok := list.([]any)
		if !ok {
			continue
		}
		for _, r := range raw {
			im, ok := r.(map[string]any)
			if !ok {
				continue
			}
			n, _ := im["name"].(string)
			u, _ := im["url"].(string)
			if n != "" {
				out[name] = append(out[name], Item{Name: n, URL: u})
			}
		}
	}
	return out
}

func isURL(s string) bool {
	return strings.HasPrefix(s, "http://") || strings.HasPrefix(s, "https://")
}

func find(items []Item, name string) (string, bool) {
	for _, it := range items {
		if it.Name == name {
			return it.URL, true
		}
	}
	return "", false
}

func findAny(buckets map[string][]Item, name string) (string, bool) {
	if name == "" {
		return "", false
	}
	if isURL(name) {
		return name, true
	}
	for _, items := range buckets {
		if u, ok := find(items, name); ok {
			return u, true
		}
	}
	return "", false
}

// StickerURL resolves a sticker name.
func (l Library) StickerURL(name string) (string, bool) {
	return find(l.Stickers, name)
}

// ImageURL resolves a character image name across every character's library.
func (l Library) ImageURL(name string) (string, bool) {
	return findAny(l.Images, name)
}

// LiveImageURL resolves a live-stream image name.
func (l Library) LiveImageURL(name string) (string, bool) {
	return findAny(l.LiveImages, name)
}

func names(items []Item) []string {
	out := make([]string, 0, len(items))
	for _, it := range items {
		out = append(out, it.Name)
	}
	return out
}

// StickerListing describes the sticker library for chat prompts.
func (l Library) StickerListing() string {
	if len(l.Stickers) == 0 {
		return ""
	}
	return "## 表情包库\n\n" +
		"以下是可用的表情包名称列表，发送表情包消息时只需填写表情包名称，无需填写链接：\n" +
		strings.Join(names(l.Stickers), "、") + "\n\n" +
		"使用规则：\n" +
		"- 表情包消息的 c 字段填写表情包名称即可\n" +
		"- 系统会自动根据名称匹配对应的图片链接\n" +
		"- 只能使用上面给出的表情包，不要使用列表之外的表情包\n" +
		"- 尽量不要重复使用过去聊天中用过的表情包"
}

// sections lists the common bucket first, then each target that has images.
func sections(buckets map[string][]Item, targets []string, commonTitle, charTitle string) []string {
	var parts []string
	if items := buckets[CommonBucket]; len(items) > 0 {
		parts = append(parts, "### "+commonTitle+"\n"+strings.Join(names(items), "、"))
	}
	for _, name := range targets {
		if items := buckets[name]; len(items) > 0 {
			parts = append(parts, "### "+name+charTitle+"\n"+strings.Join(names(items), "、"))
		}
	}
	return parts
}

// ImageListing describes the image libraries of the given characters. It is
// empty when there are no targets.
func (l Library) ImageListing(targets []string) string {
	if len(targets) == 0 {
		return ""
	}
	parts := sections(l.Images, targets, "通用图片库", "的图片库")
	if len(parts) == 0 {
		return ""
	}
	return "## 人物图片库\n\n" +
		"以下是当前聊天对象的可用图片名称列表，发送图片消息时只需填写图片名称，无需填写链接：\n\n" +
		strings.Join(parts, "\n\n") + "\n\n" +
		"使用规则：\n" +
		"- 图片消息的 c 字段填写图片名称即可\n" +
		"- 系统会自动根据名称匹配对应的图片链接\n" +
		"- 也可以使用 imgdesc 类型描述图片内容，让系统生成描述性图片"
}

// LiveImageListing describes live-stream images. liveRoom selects the
// single-streamer wording.
func (l Library) LiveImageListing(targets []string, liveRoom bool) string {
	parts := sections(l.LiveImages, targets, "通用直播图片库", "的直播图片库")
	if len(parts) == 0 {
		return ""
	}
	desc := "以下是各主播的可用直播图片名称列表"
	if liveRoom {
		desc = "以下是当前主播的可用直播图片名称列表"
	}
	return "## 直播图片库\n\n" +
		desc + "，在直播内容中引用图片时只需填写图片名称：\n\n" +
		strings.Join(parts, "\n\n") + "\n\n" +
		"使用规则：\n" +
		"- image 字段填写图片名称即可\n" +
		"- 系统会自动根据名称匹配对应的图片链接"
}
