package actor

import (
	"strings"
	"unicode/utf16"

	"github.com/google/uuid"

	"github.com/jwebster45206/tavern-phone/pkg/command"
)

// Worldbook entries managed by the add-friend feature.
const (
	AddFriendEntryName  = "[add_friend]AI主动加好友指令"
	RosterEntryName     = "[basic_info]角色与群聊信息"
	AddFriendEntryOrder = 110
)

// NameHash sums the UTF-16 code units of name.
func NameHash(name string) int {
	sum := 0
	for _, u := range utf16.Encode([]rune(name)) {
		sum += int(u)
	}
	return sum
}

func pick(list []string, name string, offset int) string {
	if len(list) == 0 {
		return ""
	}
	return list[(NameHash(name)+offset)%len(list)]
}

// AvatarFor picks a stable avatar for name.
func AvatarFor(name string, avatars []string) string {
	return pick(avatars, name, 0)
}

// BackgroundFor picks a stable background for name. Different offsets give
// different backgrounds whenever the list has two or more entries.
func BackgroundFor(name string, backgrounds []string, offset int) string {
	return pick(backgrounds, name, offset)
}

// NewCharacterID returns an id of the form char_xxxxxxxx.
func NewCharacterID() string {
	return "char_" + uuid.NewString()[:8]
}

// UpsertFriend applies an add-friend command. An existing contact matched by
// name or nickname has its nickname and online style updated; otherwise a new
// contact is appended with deterministic avatar and backgrounds. It reports
// whether a new contact was inserted.
func (p *PhoneData) UpsertFriend(cmd command.AddFriend, newID func() string) bool {
	for i := range p.Characters {
		c := &p.Characters[i]
		if c.Name == cmd.Name || (cmd.Nickname != "" && c.Nickname == cmd.Nickname) {
			c.Nickname = cmd.Nickname
			c.OnlineStyle = cmd.OnlineStyle
			return false
		}
	}
	if newID == nil {
		newID = NewCharacterID
	}
	p.Characters = append(p.Characters, Character{
		ID:          newID(),
		Name:        cmd.Name,
		Nickname:    cmd.Nickname,
		Avatar:      AvatarFor(cmd.Name, p.RandomAvatars),
		ChatBg:      BackgroundFor(cmd.Name, p.Backgrounds, 0),
		DynamicBg:   BackgroundFor(cmd.Name, p.Backgrounds, 1),
		OnlineStyle: cmd.OnlineStyle,
	})
	return true
}

// RosterEntryContent renders the roster worldbook entry.
func RosterEntryContent(chars []Character) string {
	lines := make([]string, 0, len(chars))
	for _, c := range chars {
		line := "- " + c.Name
		if c.Nickname != "" {
			line += " (" + c.Nickname + ")"
		}
		lines = append(lines, line)
	}
	list := strings.Join(lines, "\n")
	if list == "" {
		list = "暂无角色"
	}
	return "<basic_info>\n当前已注册的角色列表：\n" + list + "\n\n这些角色可以出现在聊天、动态、论坛等手机应用中。\n</basic_info>"
}

// AddFriendEntryContent is the instruction entry that teaches the AI to emit
// <add_friend> blocks.
const AddFriendEntryContent = `当剧情中{{user}}与某个新角色建立好友关系/互加联系方式/交换社交账号时，在回复末尾添加：

<add_friend>
姓名: 角色的真实姓名
网名: 角色在网络上使用的昵称
线上聊天风格: 描述该角色在网络社交中的风格特点，如说话方式、用语习惯、表情使用倾向等
</add_friend>

注意事项：
- 姓名必须是角色的真实姓名，不能是代称或描述
- 网名是角色在聊天应用中显示的名称
- 线上聊天风格应简洁描述角色的网络社交特点
- 只有在双方确认建立好友关系时才输出此标签
- 已经是好友的角色不需要重复输出`
