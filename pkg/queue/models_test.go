package queue

import (
	"testing"
)

func TestFromJSON(t *testing.T) {
	req := NewGenerationEnded("chat-1", 7)
	data, err := req.ToJSON()
	if err != nil {
		t.Fatalf("ToJSON failed: %v", err)
	}

	got, err := FromJSON(data)
	if err != nil {
		t.Fatalf("FromJSON failed: %v", err)
	}
	if got.RequestID != req.RequestID || got.ChatID != "chat-1" || got.FloorID != 7 {
		t.Errorf("unexpected request: %+v", got)
	}
	if got.DedupeKey() != "chat-1:7" {
		t.Errorf("DedupeKey = %q", got.DedupeKey())
	}
}

func TestFromJSON_Invalid(t *testing.T) {
	tests := []struct {
		name string
		data string
	}{
		{"malformed", `{`},
		{"missing chat", `{"type":"generation_ended","floor_id":1}`},
		{"unknown type", `{"type":"chat","chat_id":"c"}`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := FromJSON([]byte(tt.data)); err == nil {
				t.Error("expected an error")
			}
		})
	}
}
