package domain

import "time"

// PushNotification payload handed to the push collaborator
type PushNotification struct {
	UserID string            `json:"userId"`
	Title  string            `json:"title"`
	Body   string            `json:"body"`
	Data   map[string]string `json:"data,omitempty"`
}

// NewMessagePush offline member notification, body is the redacted preview
func NewMessagePush(userID string, m *ChatMessage) PushNotification {
	return PushNotification{
		UserID: userID,
		Title:  "New message",
		Body:   m.PreviewText,
		Data: map[string]string{
			"type":           "message",
			"conversationId": m.ConversationID,
			"messageId":      m.ID,
		},
	}
}

// IncomingCallPush offline invitee notification
func IncomingCallPush(userID string, s *CallSession, callerName string) PushNotification {
	if callerName == "" {
		callerName = s.CreatedBy
	}
	return PushNotification{
		UserID: userID,
		Title:  "Incoming call",
		Body:   "Call from " + callerName,
		Data: map[string]string{
			"type":           "call",
			"conversationId": s.ConversationID,
			"callId":         s.CallID,
			"media":          string(s.Media),
		},
	}
}

// MessageEvent record written to the event stream after a message mutation
type MessageEvent struct {
	Type           string    `json:"type"`
	ConversationID string    `json:"conversationId"`
	MessageID      string    `json:"messageId"`
	Seq            int64     `json:"seq"`
	SenderID       string    `json:"senderId"`
	Kind           Kind      `json:"kind"`
	Preview        string    `json:"preview,omitempty"`
	At             time.Time `json:"at"`
}
