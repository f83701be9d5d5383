package domain

// ChatMessage is the provider-agnostic chat message shape handed to the model
// client. It is derived from stored turns and never persisted.
type ChatMessage struct {
	Role    Role   `json:"role"`
	Content string `json:"content"`
}
