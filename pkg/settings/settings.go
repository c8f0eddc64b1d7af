// Package settings reads and writes the user-facing phone settings kept in
// chat variables. Every read goes back to the variable store so a change made
// between two commands of the same batch is observed by the second one.
package settings

import (
	"context"
	"encoding/json"
	"log/slog"

	"github.com/jwebster45206/tavern-phone/pkg/command"
	"github.com/jwebster45206/tavern-phone/pkg/storage"
)

const (
	DisplayKey   = "displaySettings"
	AddFriendKey = "addFriend"
	AutoReplyKey = "autoReply"
)

var chatScope = storage.VariableOption{Type: storage.ScopeChat}

// Display controls how generated data is written back and how much history is scanned.
type Display struct {
	ShowOnInit              bool `json:"showOnInit"`
	AppendToLastMessage     bool `json:"appendToLastMessage"`
	ChatAppendToLastMessage bool `json:"chatAppendToLastMessage"`
	// HistoryReadCount bounds the scan window; 0 means unlimited.
	HistoryReadCount int  `json:"historyReadCount"`
	AutoTriggerStory bool `json:"autoTriggerStory"`
}

// DefaultDisplay returns the display settings used when none are stored.
func DefaultDisplay() Display {
	return Display{
		ShowOnInit:       true,
		HistoryReadCount: 100,
	}
}

// AddFriend controls handling of <add_friend> commands.
type AddFriend struct {
	Enabled         bool `json:"enabled"`
	UpdateBasicInfo bool `json:"updateBasicInfo"`
}

// DefaultAddFriend returns the add-friend settings used when none are stored.
func DefaultAddFriend() AddFriend {
	return AddFriend{Enabled: false, UpdateBasicInfo: true}
}

// AutoReply enables <send_message> handling per app.
type AutoReply map[command.App]bool

// AnyEnabled reports whether at least one app is enabled.
func (a AutoReply) AnyEnabled() bool {
	for _, v := range a {
		if v {
			return true
		}
	}
	return false
}

// DefaultAutoReply returns every app disabled.
func DefaultAutoReply() AutoReply {
	out := make(AutoReply, len(command.Apps))
	for _, app := range command.Apps {
		out[app] = false
	}
	return out
}

// Store loads and saves settings through the host variable store.
type Store struct {
	vars   storage.Variables
	logger *slog.Logger
}

func NewStore(vars storage.Variables, logger *slog.Logger) *Store {
	return &Store{vars: vars, logger: logger}
}

// Display returns the stored display settings, falling back to defaults
// field by field. Read failures yield the defaults.
func (s *Store) Display(ctx context.Context) Display {
	var raw struct {
		ShowOnInit              *bool `json:"showOnInit"`
		AppendToLastMessage     *bool `json:"appendToLastMessage"`
		ChatAppendToLastMessage *bool `json:"chatAppendToLastMessage"`
		HistoryReadCount        *int  `json:"historyReadCount"`
		AutoTriggerStory        *bool `json:"autoTriggerStory"`
	}
	d := DefaultDisplay()
	if !s.load(ctx, DisplayKey, &raw) {
		return d
	}
	setBool(&d.ShowOnInit, raw.ShowOnInit)
	setBool(&d.AppendToLastMessage, raw.AppendToLastMessage)
	setBool(&d.ChatAppendToLastMessage, raw.ChatAppendToLastMessage)
	setBool(&d.AutoTriggerStory, raw.AutoTriggerStory)
	if raw.HistoryReadCount != nil && *raw.HistoryReadCount >= 0 {
		d.HistoryReadCount = *raw.HistoryReadCount
	}
	return d
}

// SaveDisplay persists display settings.
func (s *Store) SaveDisplay(ctx context.Context, d Display) error {
	return s.save(ctx, DisplayKey, d)
}

// AddFriend returns the stored add-friend settings.
func (s *Store) AddFriend(ctx context.Context) AddFriend {
	var raw struct {
		Enabled         *bool `json:"enabled"`
		UpdateBasicInfo *bool `json:"updateBasicInfo"`
	}
	a := DefaultAddFriend()
	if !s.load(ctx, AddFriendKey, &raw) {
		return a
	}
	setBool(&a.Enabled, raw.Enabled)
	setBool(&a.UpdateBasicInfo, raw.UpdateBasicInfo)
	return a
}

// SaveAddFriend persists add-friend settings.
func (s *Store) SaveAddFriend(ctx context.Context, a AddFriend) error {
	return s.save(ctx, AddFriendKey, a)
}

// AutoReply returns the per-app enablement under autoReply.settings.
func (s *Store) AutoReply(ctx context.Context) AutoReply {
	var raw struct {
		Settings map[command.App]bool `json:"settings"`
	}
	out := DefaultAutoReply()
	if !s.load(ctx, AutoReplyKey, &raw) {
		return out
	}
	for app, v := range raw.Settings {
		out[app] = v
	}
	return out
}

// SaveAutoReply persists per-app enablement.
func (s *Store) SaveAutoReply(ctx context.Context, a AutoReply) error {
	return s.save(ctx, AutoReplyKey, map[string]any{"settings": a})
}

func (s *Store) load(ctx context.Context, key string, out any) bool {
	vars, err := s.vars.GetVariables(ctx, chatScope)
	if err != nil {
		s.logger.Warn("Failed to read settings", "key", key, "error", err)
		return false
	}
	v, ok := vars[key]
	if !ok || v == nil {
		return false
	}
	data, err := json.Marshal(v)
	if err != nil {
		s.logger.Warn("Failed to encode settings", "key", key, "error", err)
		return false
	}
	if err := json.Unmarshal(data, out); err != nil {
		s.logger.Warn("Malformed settings", "key", key, "error", err)
		return false
	}
	return true
}

func (s *Store) save(ctx context.Context, key string, v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return err
	}
	var generic any
	if err := json.Unmarshal(data, &generic); err != nil {
		return err
	}
	return s.vars.MergeVariables(ctx, chatScope, map[string]any{key: generic})
}

func setBool(dst *bool, src *bool) {
	if src != nil {
		*dst = *src
	}
}
