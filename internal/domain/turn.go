package domain

// Role identifies the author of a conversation turn.
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// Normalize coerces any role outside {user, assistant} to user.
func (r Role) Normalize() Role {
	if r == RoleAssistant {
		return RoleAssistant
	}
	return RoleUser
}

// Turn is a single persisted message in a conversation. Turns sharing a
// ConversationKey form one conversation, ordered by Sequence.
type Turn struct {
	ConversationKey string `json:"conversationKey"`
	Sequence        int64  `json:"sequence"` // ms since epoch, strictly increasing per key
	Role            Role   `json:"role"`
	Text            string `json:"text"`
	ExpiresAt       int64  `json:"expiresAt,omitempty"` // unix seconds
}
