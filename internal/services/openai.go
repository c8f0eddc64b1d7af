package services

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/jwebster45206/tavern-phone/pkg/chat"
)

const msgNoResponse = "(no response)"

// OpenAIService implements LLMService for any OpenAI-compatible
// chat-completions endpoint.
type OpenAIService struct {
	apiURL      string
	apiKey      string
	modelName   string
	temperature float64
	httpClient  *http.Client
}

// ChatRequest represents the request structure for chat completions
type ChatRequest struct {
	Model       string             `json:"model"`
	Messages    []chat.ChatMessage `json:"messages"`
	Temperature float64            `json:"temperature"`
	Stream      bool               `json:"stream"`
}

// ChatChoice represents a single choice in the response
type ChatChoice struct {
	Index   int `json:"index"`
	Message struct {
		Role    string `json:"role"`
		Content string `json:"content"`
	} `json:"message"`
	FinishReason string `json:"finish_reason"`
}

// ChatResponse represents the response structure for chat completions
type ChatResponse struct {
	ID      string       `json:"id"`
	Model   string       `json:"model"`
	Choices []ChatChoice `json:"choices"`
	Error   *struct {
		Message string `json:"message"`
		Type    string `json:"type"`
	} `json:"error,omitempty"`
}

// NewOpenAIService creates a client for baseURL. An incomplete configuration
// returns ErrNotConfigured.
func NewOpenAIService(baseURL, apiKey, modelName string, temperature float64) (*OpenAIService, error) {
	if baseURL == "" || apiKey == "" || modelName == "" {
		return nil, ErrNotConfigured
	}
	return &OpenAIService{
		apiURL:      BuildAPIURL(baseURL),
		apiKey:      apiKey,
		modelName:   modelName,
		temperature: temperature,
		httpClient: &http.Client{
			Timeout: 5 * time.Minute,
		},
	}, nil
}

// BuildAPIURL normalises a base url to its chat-completions endpoint.
func BuildAPIURL(baseURL string) string {
	url := strings.TrimSuffix(strings.TrimSpace(baseURL), "/")
	switch {
	case strings.HasSuffix(url, "/chat/completions"):
		return url
	case strings.HasSuffix(url, "/v1"):
		return url + "/chat/completions"
	default:
		return url + "/v1/chat/completions"
	}
}

// Chat makes a non-streaming chat completion request.
func (s *OpenAIService) Chat(ctx context.Context, messages []chat.ChatMessage) (string, error) {
	reqBody, err := json.Marshal(ChatRequest{
		Model:       s.modelName,
		Messages:    messages,
		Temperature: s.temperature,
		Stream:      false,
	})
	if err != nil {
		return "", fmt.Errorf("failed to marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.apiURL, bytes.NewBuffer(reqBody))
	if err != nil {
		return "", fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+s.apiKey)
	req.Header.Set("Content-Type", "application/json")

	resp, err := s.httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("failed to make request: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", fmt.Errorf("failed to read response body: %w", err)
	}

	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("API request failed with status %d: %s", resp.StatusCode, string(body))
	}

	var chatResp ChatResponse
	if err := json.Unmarshal(body, &chatResp); err != nil {
		return "", fmt.Errorf("failed to parse response: %w", err)
	}
	if chatResp.Error != nil {
		return "", fmt.Errorf("API error: %s", chatResp.Error.Message)
	}
	if len(chatResp.Choices) == 0 {
		return msgNoResponse, nil
	}
	return chatResp.Choices[0].Message.Content, nil
}
