// Package conditionals selects worldbook entries by the condition tag in
// their title.
//
// Tag grammar, where path and range are optional:
//
//	<前置|path|range>   <后置|path|range>
//	<人物|Name|path|range>
//	<页面|Page|path|range>
//
// range is "min-max" or one of ">n", ">=n", "<n", "<=n", "=n".
package conditionals

import (
	"errors"
	"regexp"
	"strings"
)

// Family is the kind of condition tag.
type Family string

const (
	FamilyBefore    Family = "前置"
	FamilyAfter     Family = "后置"
	FamilyCharacter Family = "人物"
	FamilyPage      Family = "页面"
)

// Subject reports whether the family names a character or page.
func (f Family) Subject() bool {
	return f == FamilyCharacter || f == FamilyPage
}

var (
	// ErrNotNumeric marks an entry included without a range check because the
	// variable is not a number.
	ErrNotNumeric = errors.New("variable is not numeric")
	// ErrBadRange marks an entry included because its range could not be parsed.
	ErrBadRange = errors.New("unparsable range expression")
)

// Tag is a parsed title tag.
type Tag struct {
	Family  Family
	Subject string
	Path    string
	Range   string
}

// Segments may start with a comparison operator so "<前置|x|>30>" keeps its range.
var tagRe = regexp.MustCompile(`<(前置|后置|人物|页面)((?:\|(?:[<>]=?|=)?[^|<>]*)*)>`)

// ParseTag extracts the first condition tag in title.
func ParseTag(title string) (Tag, bool) {
	for _, m := range tagRe.FindAllStringSubmatch(title, -1) {
		tag := Tag{Family: Family(m[1])}
		var segs []string
		if m[2] != "" {
			segs = strings.Split(m[2][1:], "|")
		}
		for i := range segs {
			segs[i] = strings.TrimSpace(segs[i])
		}
		if tag.Family.Subject() {
			if len(segs) == 0 || segs[0] == "" {
				continue
			}
			tag.Subject = segs[0]
			segs = segs[1:]
		}
		if len(segs) > 2 {
			continue
		}
		if len(segs) > 0 {
			tag.Path = segs[0]
		}
		if len(segs) > 1 {
			tag.Range = segs[1]
		}
		return tag, true
	}
	return Tag{}, false
}

// PageAliases maps the human page labels used in titles to view keys.
var PageAliases = map[string]string{
	"私聊":   "privateChat",
	"群聊":   "groupChat",
	"通话":   "voiceCall",
	"动态":   "dynamic",
	"动态主页": "dynamicHome",
	"论坛":   "forum",
	"论坛帖子": "forumPost",
	"直播列表": "liveList",
	"直播":   "live",
	"地图":   "map",
	"邮箱":   "email",
	"浏览器":  "browser",
	"音乐":   "music",
	"日历":   "calendar",
	"日记":   "diary",
}

// PageKey normalises a page label or key.
func PageKey(page string) string {
	if k, ok := PageAliases[page]; ok {
		return k
	}
	return page
}

// Extra carries the request-specific inputs for subject-bearing tags.
type Extra struct {
	Targets []string
	Page    string
}
