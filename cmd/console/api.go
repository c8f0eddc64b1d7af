package main

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"

	"github.com/gorilla/websocket"

	"github.com/jwebster45206/tavern-phone/internal/handlers"
	"github.com/jwebster45206/tavern-phone/internal/services/events"
)

// apiClient talks to the phone API for one chat.
type apiClient struct {
	http    *http.Client
	baseURL string
	chatID  string
}

func (c *apiClient) chatURL(path string) string {
	return fmt.Sprintf("%s/v1/chats/%s%s", c.baseURL, url.PathEscape(c.chatID), path)
}

func testConnection(client *http.Client, baseURL string) bool {
	resp, err := client.Get(baseURL + "/health")
	if err != nil {
		return false
	}
	defer func() {
		_ = resp.Body.Close() // Ignore error in defer
	}()
	return resp.StatusCode == http.StatusOK
}

// do sends a request and decodes a JSON answer into out when out is non-nil.
func (c *apiClient) do(method, u string, body any, want int, out any) error {
	var reader io.Reader
	if body != nil {
		jsonData, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("failed to marshal request: %w", err)
		}
		reader = bytes.NewBuffer(jsonData)
	}
	req, err := http.NewRequest(method, u, reader)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("failed to send request: %w", err)
	}
	defer func() {
		_ = resp.Body.Close() // Ignore error in defer
	}()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("failed to read response: %w", err)
	}
	if resp.StatusCode != want {
		var errorResp handlers.ErrorResponse
		if err := json.Unmarshal(data, &errorResp); err != nil || errorResp.Error == "" {
			return fmt.Errorf("API returned status %d: %s", resp.StatusCode, string(data))
		}
		return fmt.Errorf("API returned status %d: %s", resp.StatusCode, errorResp.Error)
	}
	if out == nil {
		return nil
	}
	if err := json.Unmarshal(data, out); err != nil {
		return fmt.Errorf("failed to parse response: %w", err)
	}
	return nil
}

func (c *apiClient) listConversations() ([]handlers.Conversation, error) {
	var out []handlers.Conversation
	err := c.do(http.MethodGet, c.chatURL("/conversations"), nil, http.StatusOK, &out)
	return out, err
}

func (c *apiClient) transcript(conv handlers.Conversation, floors int) ([]handlers.Conversation, error) {
	u := c.chatURL(fmt.Sprintf("/conversations/%s/%s", url.PathEscape(conv.Type), url.PathEscape(conv.Target)))
	if floors > 0 {
		u += fmt.Sprintf("?floors=%d", floors)
	}
	var out []handlers.Conversation
	err := c.do(http.MethodGet, u, nil, http.StatusOK, &out)
	return out, err
}

func (c *apiClient) settings() (*handlers.SettingsBody, error) {
	var out handlers.SettingsBody
	if err := c.do(http.MethodGet, c.chatURL("/settings"), nil, http.StatusOK, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *apiClient) setAutoReply(app string, on bool) error {
	body := map[string]any{"autoReply": map[string]bool{app: on}}
	return c.do(http.MethodPut, c.chatURL("/settings"), body, http.StatusOK, nil)
}

func (c *apiClient) module(kind, character string, force bool) (map[string]any, error) {
	q := url.Values{}
	if character != "" {
		q.Set("character", character)
	}
	if force {
		q.Set("force", "true")
	}
	u := c.chatURL("/modules/" + url.PathEscape(kind))
	if len(q) > 0 {
		u += "?" + q.Encode()
	}
	var out map[string]any
	err := c.do(http.MethodGet, u, nil, http.StatusOK, &out)
	return out, err
}

// generate queues a generation-ended event for the latest floor.
func (c *apiClient) generate() (*handlers.GenerationEndedResponse, error) {
	var out handlers.GenerationEndedResponse
	floor := -1
	body := handlers.GenerationEndedRequest{FloorID: &floor}
	if err := c.do(http.MethodPost, c.chatURL("/generation-ended"), body, http.StatusAccepted, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *apiClient) abort() (bool, error) {
	var out map[string]bool
	if err := c.do(http.MethodPost, c.chatURL("/abort"), nil, http.StatusOK, &out); err != nil {
		return false, err
	}
	return out["aborted"], nil
}

func (c *apiClient) notificationsURL() string {
	u := c.chatURL("/notifications")
	if strings.HasPrefix(u, "https://") {
		return "wss://" + strings.TrimPrefix(u, "https://")
	}
	return "ws://" + strings.TrimPrefix(u, "http://")
}

// listenNotifications streams websocket events to send until ctx ends or the
// connection drops.
func (c *apiClient) listenNotifications(ctx context.Context, send func(events.Event)) error {
	conn, _, err := websocket.DefaultDialer.DialContext(ctx, c.notificationsURL(), nil)
	if err != nil {
		return fmt.Errorf("failed to connect to notifications: %w", err)
	}
	defer func() {
		_ = conn.Close()
	}()
	go func() {
		<-ctx.Done()
		_ = conn.Close()
	}()

	for {
		var ev events.Event
		if err := conn.ReadJSON(&ev); err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			return fmt.Errorf("error reading notifications: %w", err)
		}
		send(ev)
	}
}
