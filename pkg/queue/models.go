package queue

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// RequestType identifies the type of request in the queue
type RequestType string

const (
	// RequestTypeGenerationEnded is raised by the host when a floor finished generating.
	RequestTypeGenerationEnded RequestType = "generation_ended"
)

// Request is one unit of work for the worker.
type Request struct {
	RequestID string      `json:"request_id"`
	Type      RequestType `json:"type"`
	ChatID    string      `json:"chat_id"`
	// FloorID is the floor that finished generating. -1 means "latest".
	FloorID    int       `json:"floor_id"`
	EnqueuedAt time.Time `json:"enqueued_at"`
}

// NewGenerationEnded builds a request for floorID in chatID.
func NewGenerationEnded(chatID string, floorID int) *Request {
	return &Request{
		RequestID:  uuid.New().String(),
		Type:       RequestTypeGenerationEnded,
		ChatID:     chatID,
		FloorID:    floorID,
		EnqueuedAt: time.Now(),
	}
}

// Validate checks the fields a worker relies on.
func (r *Request) Validate() error {
	if r.ChatID == "" {
		return errors.New("chat_id is required")
	}
	if r.Type != RequestTypeGenerationEnded {
		return fmt.Errorf("unknown request type %q", r.Type)
	}
	return nil
}

// DedupeKey identifies the floor this request processes.
func (r *Request) DedupeKey() string {
	return fmt.Sprintf("%s:%d", r.ChatID, r.FloorID)
}

// ToJSON converts the request to JSON bytes for Redis
func (r *Request) ToJSON() ([]byte, error) {
	return json.Marshal(r)
}

// FromJSON parses a request from JSON bytes
func FromJSON(data []byte) (*Request, error) {
	var req Request
	if err := json.Unmarshal(data, &req); err != nil {
		return nil, err
	}
	if err := req.Validate(); err != nil {
		return nil, err
	}
	return &req, nil
}
