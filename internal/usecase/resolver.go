package usecase

import (
	"strings"

	"linebot-bridge/internal/domain"
)

// ResolveConversationKey derives the history partition for an event: the user
// id, else the group id, else the room id. Events with none of these fall back
// to their reply token, which gives that single event a private history.
func ResolveConversationKey(ev domain.WebhookEvent) (string, error) {
	for _, candidate := range []string{
		ev.Source.UserID,
		ev.Source.GroupID,
		ev.Source.RoomID,
		ev.ReplyToken,
	} {
		if key := strings.TrimSpace(candidate); key != "" {
			return key, nil
		}
	}
	return "", ErrMissingConversationContext
}
