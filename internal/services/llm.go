package services

import (
	"context"
	"errors"

	"github.com/jwebster45206/tavern-phone/pkg/chat"
)

var (
	// ErrNotConfigured means the AI url, key or model is missing.
	ErrNotConfigured = errors.New("API is not configured")
	// ErrAborted means the user aborted the in-flight request.
	ErrAborted = errors.New("request aborted by user")
)

// LLMService defines the interface for interacting with the LLM API
type LLMService interface {
	// Chat sends messages and returns the raw text of the first choice.
	Chat(ctx context.Context, messages []chat.ChatMessage) (string, error)
}
