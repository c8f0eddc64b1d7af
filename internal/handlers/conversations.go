package handlers

import (
	"context"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/jwebster45206/tavern-phone/internal/modules"
	"github.com/jwebster45206/tavern-phone/pkg/chat"
	"github.com/jwebster45206/tavern-phone/pkg/history"
	"github.com/jwebster45206/tavern-phone/pkg/prompts"
)

// Previewer fills a preset without sending it.
type Previewer interface {
	Prepare(ctx context.Context, filler *prompts.Filler, fc prompts.FillContext) []prompts.Block
}

// ChatsHandler serves read-only views of a chat: conversation transcripts
// and prompt previews.
type ChatsHandler struct {
	registry *modules.Registry
	preview  Previewer
	logger   *slog.Logger
}

func NewChatsHandler(registry *modules.Registry, preview Previewer, logger *slog.Logger) *ChatsHandler {
	return &ChatsHandler{registry: registry, preview: preview, logger: logger}
}

// Conversation is one chat_history block.
type Conversation struct {
	FloorID int            `json:"floorId"`
	Target  string         `json:"target"`
	Type    string         `json:"type"`
	Data    map[string]any `json:"data"`
}

func (h *ChatsHandler) toConversations(blocks []history.ChatBlock) []Conversation {
	out := make([]Conversation, 0, len(blocks))
	for _, b := range blocks {
		var data map[string]any
		if err := b.Decode(&data); err != nil {
			h.logger.Warn("Skipping undecodable chat block", "floor_id", b.FloorID, "error", err)
			continue
		}
		out = append(out, Conversation{FloorID: b.FloorID, Target: b.Target, Type: string(b.Type), Data: data})
	}
	return out
}

// List returns the latest block of every conversation, most recent first.
// GET /v1/chats/{chatID}/conversations
func (h *ChatsHandler) List(w http.ResponseWriter, r *http.Request) {
	store := h.registry.Get(chi.URLParam(r, "chatID"))
	blocks, err := store.Chats().LatestAll(r.Context())
	if err != nil {
		h.logger.Error("Failed to list conversations", "error", err)
		writeError(w, h.logger, http.StatusInternalServerError, "Failed to read chat history.")
		return
	}
	writeJSON(w, h.logger, http.StatusOK, h.toConversations(blocks))
}

// Transcript returns one conversation oldest first.
// GET /v1/chats/{chatID}/conversations/{type}/{target}?floors=N
func (h *ChatsHandler) Transcript(w http.ResponseWriter, r *http.Request) {
	chatType := history.ChatType(chi.URLParam(r, "type"))
	if chatType != history.ChatPrivate && chatType != history.ChatGroup {
		writeError(w, h.logger, http.StatusBadRequest, "type must be private or group")
		return
	}
	maxFloors := 0
	if v := r.URL.Query().Get("floors"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 {
			writeError(w, h.logger, http.StatusBadRequest, "floors must be a non-negative integer")
			return
		}
		maxFloors = n
	}

	store := h.registry.Get(chi.URLParam(r, "chatID"))
	blocks, err := store.Chats().Transcript(r.Context(), chi.URLParam(r, "target"), chatType, maxFloors)
	if err != nil {
		h.logger.Error("Failed to read transcript", "error", err)
		writeError(w, h.logger, http.StatusInternalServerError, "Failed to read chat history.")
		return
	}
	writeJSON(w, h.logger, http.StatusOK, h.toConversations(blocks))
}

// PromptPreview is the filled preset and the messages that would be sent.
type PromptPreview struct {
	Blocks   []prompts.Block    `json:"blocks"`
	Messages []chat.ChatMessage `json:"messages"`
}

// Prompt fills the active preset for a view.
// POST /v1/chats/{chatID}/prompt
func (h *ChatsHandler) Prompt(w http.ResponseWriter, r *http.Request) {
	var fc prompts.FillContext
	if !decodeBody(w, r, h.logger, &fc) {
		return
	}
	if fc.View == "" {
		writeError(w, h.logger, http.StatusBadRequest, "view is required")
		return
	}
	store := h.registry.Get(chi.URLParam(r, "chatID"))
	blocks := h.preview.Prepare(r.Context(), store.Filler(), fc)
	writeJSON(w, h.logger, http.StatusOK, PromptPreview{Blocks: blocks, Messages: prompts.ToMessages(blocks)})
}
