package chat

const (
	ChatRoleUser   = "user"      // Player
	ChatRoleAgent  = "assistant" // AI
	ChatRoleSystem = "system"    // System / instructions
)

// ChatMessage represents a single chat message sent to the AI endpoint.
// This is the OpenAI-compatible {role, content} shape.
type ChatMessage struct {
	Role    string `json:"role"` // "user", "assistant", "system"
	Content string `json:"content"`
}

// ValidRole reports whether role is one the AI endpoint accepts.
func ValidRole(role string) bool {
	switch role {
	case ChatRoleUser, ChatRoleAgent, ChatRoleSystem:
		return true
	}
	return false
}
