package handlers

import (
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/jwebster45206/tavern-phone/internal/modules"
	"github.com/jwebster45206/tavern-phone/pkg/actor"
	"github.com/jwebster45206/tavern-phone/pkg/settings"
)

// SettingsHandler reads and writes the per-chat phone settings.
type SettingsHandler struct {
	registry *modules.Registry
	logger   *slog.Logger
}

func NewSettingsHandler(registry *modules.Registry, logger *slog.Logger) *SettingsHandler {
	return &SettingsHandler{registry: registry, logger: logger}
}

// SettingsBody carries all settings groups. On update, absent groups are
// left unchanged.
type SettingsBody struct {
	Display   *settings.Display   `json:"display,omitempty"`
	AutoReply settings.AutoReply  `json:"autoReply,omitempty"`
	AddFriend *settings.AddFriend `json:"addFriend,omitempty"`
}

// Get returns the effective settings.
// GET /v1/chats/{chatID}/settings
func (h *SettingsHandler) Get(w http.ResponseWriter, r *http.Request) {
	s := h.registry.Get(chi.URLParam(r, "chatID")).Settings()
	d := s.Display(r.Context())
	a := s.AddFriend(r.Context())
	writeJSON(w, h.logger, http.StatusOK, SettingsBody{
		Display:   &d,
		AutoReply: s.AutoReply(r.Context()),
		AddFriend: &a,
	})
}

// Put stores the groups present in the body. Changing add-friend
// enablement also toggles the instruction worldbook entry.
// PUT /v1/chats/{chatID}/settings
func (h *SettingsHandler) Put(w http.ResponseWriter, r *http.Request) {
	var body SettingsBody
	if !decodeBody(w, r, h.logger, &body) {
		return
	}
	ctx := r.Context()
	store := h.registry.Get(chi.URLParam(r, "chatID"))
	s := store.Settings()

	if body.Display != nil {
		if err := s.SaveDisplay(ctx, *body.Display); err != nil {
			h.fail(w, "display", err)
			return
		}
	}
	if body.AutoReply != nil {
		merged := s.AutoReply(ctx)
		for app, v := range body.AutoReply {
			merged[app] = v
		}
		if err := s.SaveAutoReply(ctx, merged); err != nil {
			h.fail(w, "autoReply", err)
			return
		}
	}
	if body.AddFriend != nil {
		if err := s.SaveAddFriend(ctx, *body.AddFriend); err != nil {
			h.fail(w, "addFriend", err)
			return
		}
		if err := actor.ToggleInstructionEntry(ctx, store.Host(), body.AddFriend.Enabled); err != nil {
			h.logger.Warn("Failed to toggle add-friend entry", "error", err)
		}
	}
	h.Get(w, r)
}

func (h *SettingsHandler) fail(w http.ResponseWriter, group string, err error) {
	h.logger.Error("Failed to save settings", "group", group, "error", err)
	writeError(w, h.logger, http.StatusInternalServerError, "Failed to save settings.")
}

// EntryStatus reports whether the add-friend instruction entry exists.
type EntryStatus struct {
	Enabled bool `json:"enabled"`
}

// GetEntry reports the add-friend instruction entry.
// GET /v1/chats/{chatID}/add-friend/entry
func (h *SettingsHandler) GetEntry(w http.ResponseWriter, r *http.Request) {
	store := h.registry.Get(chi.URLParam(r, "chatID"))
	ok, err := actor.InstructionEntryExists(r.Context(), store.Host())
	if err != nil {
		h.logger.Warn("Failed to read add-friend entry", "error", err)
		writeError(w, h.logger, http.StatusConflict, err.Error())
		return
	}
	writeJSON(w, h.logger, http.StatusOK, EntryStatus{Enabled: ok})
}

// PostEntry creates or removes the add-friend instruction entry.
// POST /v1/chats/{chatID}/add-friend/entry
func (h *SettingsHandler) PostEntry(w http.ResponseWriter, r *http.Request) {
	var body EntryStatus
	if !decodeBody(w, r, h.logger, &body) {
		return
	}
	store := h.registry.Get(chi.URLParam(r, "chatID"))
	if err := actor.ToggleInstructionEntry(r.Context(), store.Host(), body.Enabled); err != nil {
		h.logger.Warn("Failed to toggle add-friend entry", "error", err)
		writeError(w, h.logger, http.StatusConflict, err.Error())
		return
	}
	writeJSON(w, h.logger, http.StatusOK, body)
}
