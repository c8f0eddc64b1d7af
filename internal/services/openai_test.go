package services

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/jwebster45206/tavern-phone/pkg/chat"
)

func TestBuildAPIURL(t *testing.T) {
	tests := []struct {
		in, want string
	}{
		{"https://api.example.com", "https://api.example.com/v1/chat/completions"},
		{"https://api.example.com/", "https://api.example.com/v1/chat/completions"},
		{"https://api.example.com/v1", "https://api.example.com/v1/chat/completions"},
		{" https://api.example.com/v1/chat/completions ", "https://api.example.com/v1/chat/completions"},
		{"https://x/openai/v1/", "https://x/openai/v1/chat/completions"},
	}
	for _, tt := range tests {
		if got := BuildAPIURL(tt.in); got != tt.want {
			t.Errorf("BuildAPIURL(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

func TestNewOpenAIService_NotConfigured(t *testing.T) {
	if _, err := NewOpenAIService("https://x", "", "m", 1); err != ErrNotConfigured {
		t.Errorf("expected ErrNotConfigured, got %v", err)
	}
}

func TestOpenAIService_Chat(t *testing.T) {
	var got ChatRequest
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/v1/chat/completions" {
			t.Errorf("unexpected path %s", r.URL.Path)
		}
		if r.Header.Get("Authorization") != "Bearer key" {
			t.Errorf("missing bearer token")
		}
		if err := json.NewDecoder(r.Body).Decode(&got); err != nil {
			t.Errorf("bad request body: %v", err)
		}
		_, _ = w.Write([]byte(`{"choices":[{"message":{"role":"assistant","content":"name: a"}}]}`))
	}))
	defer srv.Close()

	svc, err := NewOpenAIService(srv.URL, "key", "model-x", 0.8)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	content, err := svc.Chat(context.Background(), []chat.ChatMessage{{Role: chat.ChatRoleUser, Content: "hi"}})
	if err != nil {
		t.Fatalf("Chat failed: %v", err)
	}
	if content != "name: a" {
		t.Errorf("content = %q", content)
	}
	if got.Model != "model-x" || got.Stream || got.Temperature != 0.8 || len(got.Messages) != 1 {
		t.Errorf("unexpected request: %+v", got)
	}
}

func TestOpenAIService_ChatErrors(t *testing.T) {
	tests := []struct {
		name   string
		status int
		body   string
	}{
		{"http error", http.StatusUnauthorized, `{"error":{"message":"bad key"}}`},
		{"api error", http.StatusOK, `{"error":{"message":"overloaded"}}`},
		{"bad json", http.StatusOK, `{`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(tt.status)
				_, _ = w.Write([]byte(tt.body))
			}))
			defer srv.Close()

			svc, _ := NewOpenAIService(srv.URL+"/v1", "key", "m", 1)
			if _, err := svc.Chat(context.Background(), nil); err == nil {
				t.Error("expected an error")
			}
		})
	}
}
