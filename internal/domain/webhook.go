package domain

// WebhookRequest is the LINE Messaging API webhook body.
type WebhookRequest struct {
	Destination string         `json:"destination,omitempty"`
	Events      []WebhookEvent `json:"events"`
}

// WebhookEvent is a single event in a webhook batch. Only the fields the
// bridge consumes are decoded.
type WebhookEvent struct {
	Type       string        `json:"type,omitempty"`
	ReplyToken string        `json:"replyToken"`
	Message    *EventMessage `json:"message,omitempty"`
	Source     EventSource   `json:"source"`
}

type EventMessage struct {
	Type string `json:"type,omitempty"`
	Text string `json:"text"`
}

// EventSource carries the identity the event originated from. At most one of
// GroupID and RoomID is set; UserID may accompany either.
type EventSource struct {
	Type    string `json:"type,omitempty"`
	UserID  string `json:"userId,omitempty"`
	GroupID string `json:"groupId,omitempty"`
	RoomID  string `json:"roomId,omitempty"`
}

// FirstEvent returns the first event of the batch. Later events are ignored.
func (r WebhookRequest) FirstEvent() (WebhookEvent, bool) {
	if len(r.Events) == 0 {
		return WebhookEvent{}, false
	}
	return r.Events[0], true
}

// MessageText returns the event's message text, or "" if the event carries no
// message.
func (e WebhookEvent) MessageText() string {
	if e.Message == nil {
		return ""
	}
	return e.Message.Text
}
