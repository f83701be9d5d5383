package usecase

import (
	"linebot-bridge/internal/domain"
)

// BuildMessages converts stored turns into the ordered model context and
// appends the new user turn last. Turns with empty text are dropped and roles
// outside {user, assistant} become user.
//
// maxTurns == 0 forwards the whole history. A positive value keeps only the
// most recent maxTurns history messages, trimmed so the window opens on a
// user message.
func BuildMessages(history []domain.Turn, newUserText string, maxTurns int) []domain.ChatMessage {
	messages := make([]domain.ChatMessage, 0, len(history)+1)
	for _, turn := range history {
		if turn.Text == "" {
			continue
		}
		messages = append(messages, domain.ChatMessage{
			Role:    turn.Role.Normalize(),
			Content: turn.Text,
		})
	}

	if maxTurns > 0 && len(messages) > maxTurns {
		messages = messages[len(messages)-maxTurns:]
		for len(messages) > 0 && messages[0].Role != domain.RoleUser {
			messages = messages[1:]
		}
	}

	return append(messages, domain.ChatMessage{
		Role:    domain.RoleUser,
		Content: newUserText,
	})
}
