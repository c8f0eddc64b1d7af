// Package module defines the closed set of phone-app module kinds and their
// payload schemas.
package module

import (
	"errors"
	"fmt"

	"gopkg.in/yaml.v3"

	"github.com/jwebster45206/tavern-phone/pkg/history"
)

// ErrUnknownKind is returned for a module name outside the closed set.
var ErrUnknownKind = errors.New("unknown module kind")

// Kind names a phone-app module.
type Kind string

const (
	KindMap       Kind = "map"
	KindDynamic   Kind = "dynamic"
	KindForum     Kind = "forum"
	KindForumPost Kind = "forumPost"
	KindLive      Kind = "live"
	KindLiveList  Kind = "liveList"
	KindEmail     Kind = "email"
	KindBrowser   Kind = "browser"
	KindMusic     Kind = "music"
	KindCalendar  Kind = "calendar"

	// Character-scoped kinds need a character name in addition to the type.
	KindDynamicHome Kind = "dynamicHome"
	KindPrivateChat Kind = "privateChat"
	KindProfile     Kind = "profile"
	KindCall        Kind = "call"
)

// Kinds lists every module kind, global kinds first.
var Kinds = []Kind{
	KindMap, KindDynamic, KindForum, KindForumPost, KindLive, KindLiveList,
	KindEmail, KindBrowser, KindMusic, KindCalendar,
	KindDynamicHome, KindPrivateChat, KindProfile, KindCall,
}

// ParseKind validates a module name.
func ParseKind(s string) (Kind, error) {
	for _, k := range Kinds {
		if string(k) == s {
			return k, nil
		}
	}
	return "", fmt.Errorf("%w: %q", ErrUnknownKind, s)
}

// Scoped reports whether the kind is keyed by character.
func (k Kind) Scoped() bool {
	switch k {
	case KindDynamicHome, KindPrivateChat, KindProfile, KindCall:
		return true
	}
	return false
}

// Key returns the history key for this kind. character is ignored for
// global kinds.
func (k Kind) Key(character string) history.Key {
	if !k.Scoped() {
		character = ""
	}
	return history.ModuleKey(string(k), character)
}

// New returns a pointer to an empty payload of the kind's schema. Kinds
// without a schema of their own get an *Opaque.
func New(k Kind) any {
	switch k {
	case KindMap:
		return &MapData{}
	case KindDynamic, KindDynamicHome:
		return &DynamicData{}
	case KindForum:
		return &ForumData{}
	case KindEmail:
		return &EmailData{}
	case KindLiveList:
		return &LiveListData{}
	case KindBrowser:
		return &BrowserData{}
	case KindCalendar:
		return &CalendarData{}
	case KindCall:
		return &CallData{}
	case KindPrivateChat:
		return &ChatData{}
	default:
		return &Opaque{}
	}
}

// Decode decodes a block payload into the kind's schema.
func Decode(k Kind, node *yaml.Node) (any, error) {
	out := New(k)
	if err := node.Decode(out); err != nil {
		return nil, fmt.Errorf("failed to decode %s payload: %w", k, err)
	}
	return out, nil
}

// FromValue converts a loosely typed value (for example a decoded JSON
// request body or AI response) into the kind's schema.
func FromValue(k Kind, v any) (any, error) {
	raw, err := yaml.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("failed to re-encode %s payload: %w", k, err)
	}
	var node yaml.Node
	if err := yaml.Unmarshal(raw, &node); err != nil {
		return nil, fmt.Errorf("failed to parse %s payload: %w", k, err)
	}
	if len(node.Content) == 0 || node.Content[0].Kind != yaml.MappingNode {
		return nil, fmt.Errorf("%s payload must be a mapping", k)
	}
	return Decode(k, node.Content[0])
}
