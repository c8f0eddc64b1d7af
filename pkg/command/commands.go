package command

import (
	"log/slog"
)

const (
	KeyName        = "姓名"
	KeyNickname    = "网名"
	KeyOnlineStyle = "线上聊天风格"
)

// AddFriend asks the phone to register a character as a friend.
type AddFriend struct {
	Name        string `json:"姓名" yaml:"姓名"`
	Nickname    string `json:"网名" yaml:"网名"`
	OnlineStyle string `json:"线上聊天风格" yaml:"线上聊天风格"`
}

// AddFriendSchema describes <add_friend>.
var AddFriendSchema = Schema{
	Tag: "add_friend",
	Fields: []Field{
		{Key: KeyName, Required: true},
		{Key: KeyNickname, Required: true},
		{Key: KeyOnlineStyle, Aliases: []string{"线上风格"}, Required: true},
	},
}

// App is the phone app a send_message command targets.
type App string

const (
	AppPrivateChat App = "private_chat"
	AppGroupChat   App = "group_chat"
	AppDynamic     App = "dynamic"
	AppLiveList    App = "live_list"
)

// Apps lists every app send_message understands.
var Apps = []App{AppPrivateChat, AppGroupChat, AppDynamic, AppLiveList}

// Label is the display name of the app.
func (a App) Label() string {
	switch a {
	case AppPrivateChat:
		return "私聊"
	case AppGroupChat:
		return "群聊"
	case AppDynamic:
		return "动态"
	case AppLiveList:
		return "直播"
	}
	return string(a)
}

// DefaultGroup is used when a group_chat command names no group.
const DefaultGroup = "默认群聊"

// SendMessage asks a character to proactively post in one of the phone apps.
type SendMessage struct {
	App     App    `json:"app" yaml:"app"`
	Sender  string `json:"sender" yaml:"sender"`
	Reason  string `json:"reason" yaml:"reason"`
	Content string `json:"content" yaml:"content"`
	Group   string `json:"group,omitempty" yaml:"group,omitempty"`
}

// GroupName returns Group or DefaultGroup.
func (s SendMessage) GroupName() string {
	if s.Group == "" {
		return DefaultGroup
	}
	return s.Group
}

// SendMessageSchema describes <send_message>.
var SendMessageSchema = Schema{
	Tag: "send_message",
	Fields: []Field{
		{Key: "app"},
		{Key: "sender", Required: true},
		{Key: "reason"},
		{Key: "content"},
		{Key: "group"},
	},
}

// NewAddFriendParser returns a parser for <add_friend> blocks.
func NewAddFriendParser(logger *slog.Logger) *Parser[AddFriend] {
	return NewParser(AddFriendSchema, func(f Fields) AddFriend {
		return AddFriend{
			Name:        f[KeyName],
			Nickname:    f[KeyNickname],
			OnlineStyle: f[KeyOnlineStyle],
		}
	}, logger)
}

// NewSendMessageParser returns a parser for <send_message> blocks.
func NewSendMessageParser(logger *slog.Logger) *Parser[SendMessage] {
	return NewParser(SendMessageSchema, func(f Fields) SendMessage {
		app := App(f["app"])
		if app == "" {
			app = AppPrivateChat
		}
		return SendMessage{
			App:     app,
			Sender:  f["sender"],
			Reason:  f["reason"],
			Content: f["content"],
			Group:   f["group"],
		}
	}, logger)
}

// ParseAddFriend extracts every <add_friend> command in text.
func ParseAddFriend(text string) []AddFriend {
	return NewAddFriendParser(nil).ParseAll(text)
}

// ParseSendMessage extracts every <send_message> command in text.
func ParseSendMessage(text string) []SendMessage {
	return NewSendMessageParser(nil).ParseAll(text)
}
