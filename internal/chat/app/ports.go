package app

import (
	"context"
	"time"

	"chat_delivery_service/internal/chat/domain"
)

// Authenticator token -> principal
type Authenticator interface {
	Authenticate(ctx context.Context, token string) (domain.Principal, error)
}

// ConversationPolicy the conversation authority
type ConversationPolicy interface {
	Membership(ctx context.Context, p domain.Principal, conversationID string) (domain.Membership, error)
	MemberIDs(ctx context.Context, conversationID string) ([]string, error)
	UpdateLastMessage(ctx context.Context, conversationID string, at time.Time, preview string) error
}

// Sequencer allocates the next seq of a conversation, always >= 1
type Sequencer interface {
	Next(ctx context.Context, conversationID string) (int64, error)
}

// PushNotifier best effort delivery to offline users
type PushNotifier interface {
	Notify(ctx context.Context, n domain.PushNotification) error
}

// EventPublisher message event stream
type EventPublisher interface {
	Publish(ctx context.Context, ev domain.MessageEvent) error
}

// Emitter room fan-out
type Emitter interface {
	// Emit sends event to every connection in room except excludeConn
	Emit(ctx context.Context, room, event string, data interface{}, excludeConn string) error
}

// Presence online state lookups
type Presence interface {
	Snapshot(ctx context.Context, userIDs []string) map[string]domain.PresenceState
}
