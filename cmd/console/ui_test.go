package main

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jwebster45206/tavern-phone/internal/handlers"
	"github.com/jwebster45206/tavern-phone/internal/services/events"
)

func privateBlock() handlers.Conversation {
	return handlers.Conversation{
		FloorID: 4,
		Target:  "林夕",
		Type:    "private",
		Data: map[string]any{
			"name": "林夕",
			"time": "21:00",
			"messages": []any{
				map[string]any{"t": "text", "c": "在吗"},
				map[string]any{"t": "sticker", "c": "开心"},
				"not a message",
			},
			"thought": "他会回吗",
		},
	}
}

func TestFormatBlock(t *testing.T) {
	out := formatBlock(privateBlock(), 60)
	assert.Contains(t, out, "floor 4 · 21:00")
	assert.Contains(t, out, "林夕: 在吗")
	assert.Contains(t, out, "[sticker] 开心")
	assert.Contains(t, out, "(他会回吗)")
	assert.Equal(t, 4, strings.Count(out, "\n"))
}

func TestConversationLabel(t *testing.T) {
	assert.Equal(t, "林夕 (private)", conversationLabel(privateBlock()))
	group := handlers.Conversation{Target: "g1", Type: "group", Data: map[string]any{"name": "夜猫子"}}
	assert.Equal(t, "g1 / 夜猫子 (group)", conversationLabel(group))
}

func TestHandleNotification_KeepsRecentAndReloads(t *testing.T) {
	m := NewConsoleUI(&apiClient{chatID: "chat-1"})
	c := privateBlock()
	m.current = &c
	m.showPicker = false

	var cmd tea.Cmd
	var model tea.Model = m
	for i := 0; i < maxNotes+2; i++ {
		model, cmd = model.(ConsoleUI).handleNotification(events.Event{
			Type: events.EventTypeFloorWritten,
			Data: map[string]any{"floor_id": float64(i), "mode": "append"},
		})
	}
	got := model.(ConsoleUI)
	require.Len(t, got.notes, maxNotes)
	assert.Contains(t, got.notes[maxNotes-1], "floor.written #9 append")
	assert.NotNil(t, cmd)

	_, cmd = got.handleNotification(events.Event{Type: events.EventTypeNotificationUpdated, Data: map[string]any{"status": "success"}})
	assert.Nil(t, cmd)
}

func TestHandleCommand_Usage(t *testing.T) {
	m := NewConsoleUI(&apiClient{chatID: "chat-1"})
	m.showPicker = false

	model, cmd := m.handleCommand("/auto private_chat maybe")
	assert.Nil(t, cmd)
	assert.Contains(t, model.(ConsoleUI).output[0], "Usage: /auto")

	model, _ = model.(ConsoleUI).handleCommand("/nope")
	assert.Contains(t, model.(ConsoleUI).output[1], "Unknown command /nope")

	model, _ = model.(ConsoleUI).handleCommand("/clear")
	assert.Empty(t, model.(ConsoleUI).output)
}

func TestAPIClient(t *testing.T) {
	var gotAuto map[string]map[string]bool
	mux := http.NewServeMux()
	mux.HandleFunc("GET /v1/chats/chat-1/conversations", func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode([]handlers.Conversation{privateBlock()})
	})
	mux.HandleFunc("GET /v1/chats/chat-1/conversations/private/{target}", func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "林夕", r.PathValue("target"))
		assert.Equal(t, "50", r.URL.Query().Get("floors"))
		_ = json.NewEncoder(w).Encode([]handlers.Conversation{privateBlock()})
	})
	mux.HandleFunc("POST /v1/chats/chat-1/generation-ended", func(w http.ResponseWriter, r *http.Request) {
		var body handlers.GenerationEndedRequest
		_ = json.NewDecoder(r.Body).Decode(&body)
		assert.Equal(t, -1, *body.FloorID)
		w.WriteHeader(http.StatusAccepted)
		_ = json.NewEncoder(w).Encode(handlers.GenerationEndedResponse{RequestID: "req-1"})
	})
	mux.HandleFunc("PUT /v1/chats/chat-1/settings", func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewDecoder(r.Body).Decode(&gotAuto)
		_ = json.NewEncoder(w).Encode(handlers.SettingsBody{})
	})
	mux.HandleFunc("GET /v1/chats/chat-1/modules/{kind}", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
		_ = json.NewEncoder(w).Encode(handlers.ErrorResponse{Error: "API is not configured"})
	})
	srv := httptest.NewServer(mux)
	defer srv.Close()

	api := &apiClient{http: srv.Client(), baseURL: srv.URL, chatID: "chat-1"}

	convs, err := api.listConversations()
	require.NoError(t, err)
	require.Len(t, convs, 1)

	blocks, err := api.transcript(convs[0], transcriptDepth)
	require.NoError(t, err)
	assert.Len(t, blocks, 1)

	resp, err := api.generate()
	require.NoError(t, err)
	assert.Equal(t, "req-1", resp.RequestID)

	require.NoError(t, api.setAutoReply("private_chat", true))
	assert.True(t, gotAuto["autoReply"]["private_chat"])

	_, err = api.module("map", "", true)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "API is not configured")

	assert.True(t, strings.HasPrefix(api.notificationsURL(), "ws://"))
	assert.False(t, testConnection(srv.Client(), srv.URL))
}
