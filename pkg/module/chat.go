package module

import (
	"fmt"
	"log/slog"
	"strings"
)

// Message is one chat message as the AI writes it. Both the short (t, c)
// and long (type, content) key spellings are accepted.
type Message map[string]any

func (m Message) field(short, long string) string {
	for _, k := range []string{short, long} {
		if v, ok := m[k]; ok && v != nil {
			if s := fmt.Sprint(v); s != "" {
				return s
			}
		}
	}
	return ""
}

// Type returns the message type, e.g. "text", "sticker" or "image".
func (m Message) Type() string { return m.field("t", "type") }

// Content returns the message body.
func (m Message) Content() string { return m.field("c", "content") }

// ChatData is a private chat payload.
type ChatData struct {
	Name     string    `yaml:"name" json:"name"`
	Date     string    `yaml:"date,omitempty" json:"date,omitempty"`
	Time     string    `yaml:"time,omitempty" json:"time,omitempty"`
	Emotion  string    `yaml:"emotion,omitempty" json:"emotion,omitempty"`
	Location string    `yaml:"location,omitempty" json:"location,omitempty"`
	State    string    `yaml:"state,omitempty" json:"state,omitempty"`
	Thought  string    `yaml:"thought,omitempty" json:"thought,omitempty"`
	Messages []Message `yaml:"messages" json:"messages"`
}

// MediaLookup resolves media names to URLs.
type MediaLookup interface {
	StickerURL(name string) (string, bool)
	ImageURL(name string) (string, bool)
}

func isURL(s string) bool {
	return strings.HasPrefix(s, "http://") || strings.HasPrefix(s, "https://")
}

// mediaValid reports whether a sticker or image message refers to something
// that exists. Other message types are always valid.
func mediaValid(lookup MediaLookup, m Message) bool {
	t := m.Type()
	if t != "sticker" && t != "image" {
		return true
	}
	c := m.Content()
	if c == "" {
		return false
	}
	if isURL(c) {
		return true
	}
	if lookup == nil {
		return false
	}
	if t == "sticker" {
		_, ok := lookup.StickerURL(c)
		return ok
	}
	_, ok := lookup.ImageURL(c)
	return ok
}

// FilterMediaValue drops sticker and image messages whose content is neither
// a URL nor a registered name from the messages list of a chat payload.
// Other entries keep their order.
func FilterMediaValue(v map[string]any, lookup MediaLookup, logger *slog.Logger) {
	raw, ok := v["messages"].([]any)
	if !ok {
		return
	}
	out := make([]any, 0, len(raw))
	for _, item := range raw {
		if m, ok := item.(map[string]any); ok && !mediaValid(lookup, m) {
			logger.Info("Dropping unknown media message", "type", Message(m).Type(), "content", Message(m).Content())
			continue
		}
		out = append(out, item)
	}
	if len(out) < len(raw) {
		logger.Info("Filtered media messages", "original", len(raw), "kept", len(out))
	}
	v["messages"] = out
}
