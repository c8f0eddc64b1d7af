// Package prompts assembles the message list sent to the AI from an ordered
// list of prompt blocks.
package prompts

import (
	"strings"

	"github.com/jwebster45206/tavern-phone/pkg/chat"
)

// Fixed block ids. Their content is always recomputed before a call.
const (
	BlockWorldbookBefore = "worldbook-before"
	BlockHistory         = "history"
	BlockWorldbookAfter  = "worldbook-after"
	BlockCharacter       = "character"
	BlockPage            = "page"
	BlockFormat          = "format"
	BlockInput           = "input"
)

// Block is one named prompt section.
type Block struct {
	ID          string `json:"id" yaml:"id"`
	Name        string `json:"name" yaml:"name"`
	Role        string `json:"role" yaml:"role"`
	Content     string `json:"content" yaml:"content"`
	Fixed       bool   `json:"fixed" yaml:"fixed"`
	Placeholder string `json:"placeholder,omitempty" yaml:"placeholder,omitempty"`
}

// DefaultBlocks returns the stock preset: every fixed block in its usual order.
func DefaultBlocks() []Block {
	return []Block{
		{ID: BlockWorldbookBefore, Name: "前置世界书", Role: chat.ChatRoleSystem, Fixed: true, Placeholder: "此处将自动填充前置世界书内容"},
		{ID: BlockHistory, Name: "对话历史", Role: chat.ChatRoleSystem, Fixed: true, Placeholder: "此处将自动填充对话历史"},
		{ID: BlockWorldbookAfter, Name: "后置世界书", Role: chat.ChatRoleSystem, Fixed: true, Placeholder: "此处将自动填充后置世界书内容"},
		{ID: BlockCharacter, Name: "角色指导", Role: chat.ChatRoleSystem, Fixed: true, Placeholder: "此处将自动填充角色指导内容"},
		{ID: BlockFormat, Name: "格式指导", Role: chat.ChatRoleSystem, Fixed: true, Placeholder: "此处将自动填充格式指导内容"},
		{ID: BlockInput, Name: "用户输入", Role: chat.ChatRoleUser, Fixed: true, Placeholder: "此处将自动填充用户输入"},
	}
}

// HistoryConfig bounds the history block.
type HistoryConfig struct {
	// MaxMessages keeps the last N floors; 0 means no limit.
	MaxMessages   int  `json:"maxMessages" yaml:"maxMessages"`
	IncludeSystem bool `json:"includeSystem" yaml:"includeSystem"`
}

// DefaultHistoryConfig is used when a request carries none.
func DefaultHistoryConfig() HistoryConfig {
	return HistoryConfig{MaxMessages: 100}
}

// Views that have a format guide.
var Views = []string{
	"privateChat", "groupChat", "voiceCall", "dynamic", "dynamicHome", "browser", "forum",
	"forumPost", "liveList", "live", "map", "email", "calendar", "diary",
}

// ToMessages drops blank blocks and maps the rest to chat messages in order.
func ToMessages(blocks []Block) []chat.ChatMessage {
	msgs := make([]chat.ChatMessage, 0, len(blocks))
	for _, b := range blocks {
		if strings.TrimSpace(b.Content) == "" {
			continue
		}
		msgs = append(msgs, chat.ChatMessage{Role: b.Role, Content: b.Content})
	}
	return msgs
}
