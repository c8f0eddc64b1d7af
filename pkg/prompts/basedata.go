package prompts

import (
	"strings"

	"github.com/jwebster45206/tavern-phone/pkg/actor"
	"github.com/jwebster45206/tavern-phone/pkg/storage"
)

// FormatBaseData renders the phone base data without any image URLs.
// userName is used when the phone owner has no name of their own.
func FormatBaseData(p *actor.PhoneData, userName string) string {
	if !p.Complete() {
		return ""
	}
	var parts []string

	name := p.User.Name
	if name == "" {
		name = userName
	}
	if name == "" {
		name = "用户"
	}
	parts = append(parts, "【用户信息】\n"+
		"姓名: "+name+"\n"+
		"网名: "+p.User.Nickname+"\n"+
		"邮箱: "+p.User.Email+"\n"+
		"状态: "+p.User.State+"\n"+
		"个人简介: "+p.User.Bio)

	if len(p.Characters) > 0 {
		lines := make([]string, 0, len(p.Characters))
		for _, c := range p.Characters {
			l := "- " + c.Name + " (网名: " + c.Nickname + ")"
			if c.Email != "" {
				l += "\n  邮箱: " + c.Email
			}
			if c.OnlineStyle != "" {
				l += "\n  线上风格: " + strings.TrimSpace(c.OnlineStyle)
			}
			lines = append(lines, l)
		}
		parts = append(parts, "【角色列表】\n"+strings.Join(lines, "\n"))
	}

	if p.Map != nil && p.Map.Districts != nil {
		lines := make([]string, 0, len(p.Map.Districts))
		for _, d := range p.Map.Districts {
			if subs := subNames(d); len(subs) > 0 {
				lines = append(lines, "- "+d.Name+": "+strings.Join(subs, "、"))
			} else {
				lines = append(lines, "- "+d.Name)
			}
		}
		parts = append(parts, "【地图: "+p.Map.Name+"】\n"+strings.Join(lines, "\n"))
	}

	if len(p.Groups) > 0 {
		lines := make([]string, 0, len(p.Groups))
		for _, g := range p.Groups {
			l := "- " + g.Name
			if len(g.MainMembers) > 0 {
				l += "\n  重要成员: " + strings.Join(g.MainMembers, "、")
			}
			if g.OtherMembers != "" {
				l += "\n  其他成员: " + g.OtherMembers
			}
			if g.Description != "" {
				l += "\n  简介: " + g.Description
			}
			lines = append(lines, l)
		}
		parts = append(parts, "【群聊列表】\n"+strings.Join(lines, "\n"))
	}

	return strings.Join(parts, "\n\n")
}

func subNames(d actor.District) []string {
	names := make([]string, 0, len(d.SubLocations))
	for _, s := range d.SubLocations {
		names = append(names, s.Name)
	}
	return names
}

// MapFramework lists the fixed map locations the AI must stick to.
func MapFramework(p *actor.PhoneData) string {
	if p == nil || p.Map == nil || p.Map.Districts == nil {
		return ""
	}
	lines := make([]string, 0, len(p.Map.Districts))
	for _, d := range p.Map.Districts {
		if subs := subNames(d); len(subs) > 0 {
			lines = append(lines, "- "+d.Name+"（子地点："+strings.Join(subs, "、")+"）")
		} else {
			lines = append(lines, "- "+d.Name)
		}
	}
	return "## 地图地点框架\n\n" +
		"【重要】生成地图数据时，必须严格按照以下地点框架编写，不得自行创造新地点：\n\n" +
		"地图名称: " + p.Map.Name + "\n\n" +
		"地点列表：\n" + strings.Join(lines, "\n") + "\n\n" +
		"规则说明：\n" +
		"- locations 字段中的键名必须是上述地点列表中的地点名称\n" +
		"- characters 字段中的 location 值必须使用上述地点名称\n" +
		"- 如果角色在子地点，location 格式为\"主地点/子地点\"，如\"学校/教室\"\n" +
		"- 不要创造不存在的地点名称"
}

// CardGuide renders the static fields of the acting character card.
func CardGuide(card *storage.CharacterCard) string {
	if card == nil {
		return ""
	}
	var parts []string
	if card.Name != "" {
		parts = append(parts, "## 角色: "+card.Name)
	}
	if card.Description != "" {
		parts = append(parts, "### 角色描述\n"+card.Description)
	}
	if card.Personality != "" {
		parts = append(parts, "### 人格特征\n"+card.Personality)
	}
	if card.Scenario != "" {
		parts = append(parts, "### 场景设定\n"+card.Scenario)
	}
	return strings.Join(parts, "\n\n")
}

// FormatHistory renders floors as labelled blocks, oldest first.
func FormatHistory(floors []storage.Floor, cfg HistoryConfig) string {
	kept := make([]storage.Floor, 0, len(floors))
	for _, f := range floors {
		if !cfg.IncludeSystem && f.Role == "system" {
			continue
		}
		kept = append(kept, f)
	}
	if cfg.MaxMessages > 0 && len(kept) > cfg.MaxMessages {
		kept = kept[len(kept)-cfg.MaxMessages:]
	}
	parts := make([]string, 0, len(kept))
	for _, f := range kept {
		var label string
		switch f.Role {
		case "user":
			label = "用户"
		case "system":
			label = "系统"
		default:
			label = f.Name
			if label == "" {
				label = "AI"
			}
		}
		parts = append(parts, "【"+label+"】\n"+strings.TrimSpace(f.Message))
	}
	return strings.Join(parts, "\n\n---\n\n")
}
