package domain

import (
	"encoding/json"
	"time"
)

// Event inbound websocket event name
type Event string

const (
	// EventJoin join a conversation room
	EventJoin Event = "join"
	// EventLeave leave a conversation room
	EventLeave Event = "leave"
	// EventSend send a message
	EventSend Event = "send"
	// EventEdit edit own message
	EventEdit Event = "edit"
	// EventDelete delete for me / for everyone
	EventDelete Event = "delete"
	// EventReact toggle a reaction
	EventReact Event = "react"
	// EventReceipt delivered / read / played
	EventReceipt Event = "receipt"
	// EventTyping typing indicator
	EventTyping Event = "typing"
	// EventGapCheck report held seqs, receive the missing ones
	EventGapCheck Event = "gap_check"
	// EventGapFill fetch explicit seqs
	EventGapFill Event = "gap_fill"
	// EventHistory recent window
	EventHistory Event = "history"
	// EventPin pin / unpin
	EventPin Event = "pin"
	// EventStar star / unstar
	EventStar Event = "star"

	// EventThreadCreate open a thread on a root message
	EventThreadCreate Event = "thread_create"
	// EventThreadJoin subscribe to a thread room
	EventThreadJoin Event = "thread_join"
	// EventThreadLeave unsubscribe from a thread room
	EventThreadLeave Event = "thread_leave"
	// EventReport report a message to moderation
	EventReport Event = "report_message"

	EventCallOffer  Event = "call_offer"
	EventCallAnswer Event = "call_answer"
	EventCallICE    Event = "call_ice"
	EventCallHangup Event = "call_hangup"
	EventCallReject Event = "call_reject"
)

// outbound event names
const (
	OutMessage         = "chat.message"
	OutMessageEdited   = "chat.message_edited"
	OutMessageDeleted  = "chat.message_deleted"
	OutMessageReaction = "chat.message_reaction"
	OutMessageReceipt  = "chat.message_receipt"
	OutMessagePinned   = "chat.message_pinned"
	OutMessageStarred  = "chat.message_starred"
	OutTyping          = "chat.typing"
	OutPresence        = "chat.presence"
	OutGapFill         = "chat.gap_fill"
	OutThreadCreated   = "chat.thread_created"
	OutThreadMessage   = "chat.thread_message"
	OutCallOffer       = "call.offer"
	OutCallAnswer      = "call.answer"
	OutCallICE         = "call.ice"
	OutCallHangup      = "call.hangup"
	OutCallReject      = "call.reject"
	OutConvCreated     = "conversation.created"
	OutError           = "error"
)

// WSRequest websocket Request
type WSRequest struct {
	Event Event           `json:"event"`
	ID    string          `json:"id,omitempty"`
	Data  json.RawMessage `json:"data,omitempty"`
}

// WSResponse ack for a request, or a pushed event when ID is empty
type WSResponse struct {
	Event string      `json:"event"`
	ID    string      `json:"id,omitempty"`
	OK    *bool       `json:"ok,omitempty"`
	Data  interface{} `json:"data,omitempty"`
	Error string      `json:"error,omitempty"`
	Code  string      `json:"code,omitempty"`
}

// Envelope one fan-out unit crossing instances via the broker
type Envelope struct {
	Room  string          `json:"room"`
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data"`
	// ExcludeConn skip this connection id, used to keep typing off the typer's socket
	ExcludeConn string `json:"excludeConn,omitempty"`
	Origin      string `json:"origin,omitempty"`
}

// UserRoom personal room of a user, every device joins it
func UserRoom(userID string) string { return "user:" + userID }

// ConversationRoom room of a conversation
func ConversationRoom(conversationID string) string { return "conv:" + conversationID }

// JoinRequest join / leave payload
type JoinRequest struct {
	ConversationID string `json:"conversationId"`
}

// SendRequest send payload
type SendRequest struct {
	ConversationID string `json:"conversationId"`
	ClientID       string `json:"clientId"`
	Kind           string `json:"kind"`
	Body
	ReplyToID string     `json:"replyToId,omitempty"`
	ThreadID  string     `json:"threadId,omitempty"`
	Ephemeral *Ephemeral `json:"ephemeral,omitempty"`
}

// EditRequest edit payload
type EditRequest struct {
	ConversationID string `json:"conversationId"`
	MessageID      string `json:"messageId"`
	EditPatch
}

// DeleteRequest delete payload, Mode defaults to deleted_for_everyone
type DeleteRequest struct {
	ConversationID string      `json:"conversationId"`
	MessageID      string      `json:"messageId"`
	Mode           DeleteState `json:"mode,omitempty"`
}

// ReactRequest toggle payload
type ReactRequest struct {
	ConversationID string `json:"conversationId"`
	MessageID      string `json:"messageId"`
	Emoji          string `json:"emoji"`
}

// ReceiptRequest receipt payload, At defaults to server time
type ReceiptRequest struct {
	ConversationID string     `json:"conversationId"`
	MessageID      string     `json:"messageId"`
	Type           string     `json:"type"`
	At             *time.Time `json:"at,omitempty"`
}

// TypingRequest typing payload
type TypingRequest struct {
	ConversationID string `json:"conversationId"`
	IsTyping       bool   `json:"isTyping"`
	ThreadID       string `json:"threadId,omitempty"`
}

// GapCheckRequest seqs the client holds
type GapCheckRequest struct {
	ConversationID string  `json:"conversationId"`
	HaveSeqs       []int64 `json:"haveSeqs"`
}

// GapFillRequest explicit seqs to fetch
type GapFillRequest struct {
	ConversationID string  `json:"conversationId"`
	MissingSeqs    []int64 `json:"missingSeqs"`
}

// HistoryRequest recent window, Before / After are exclusive seq bounds
type HistoryRequest struct {
	ConversationID string `json:"conversationId"`
	Limit          int    `json:"limit,omitempty"`
	Before         int64  `json:"before,omitempty"`
	After          int64  `json:"after,omitempty"`
}

// PinRequest pin payload
type PinRequest struct {
	ConversationID string `json:"conversationId"`
	MessageID      string `json:"messageId"`
	Pinned         bool   `json:"pinned"`
}

// StarRequest star payload
type StarRequest struct {
	ConversationID string `json:"conversationId"`
	MessageID      string `json:"messageId"`
	Starred        bool   `json:"starred"`
}

// TypingEvent chat.typing
type TypingEvent struct {
	ConversationID string    `json:"conversationId"`
	UserID         string    `json:"userId"`
	IsTyping       bool      `json:"isTyping"`
	ThreadID       string    `json:"threadId,omitempty"`
	At             time.Time `json:"at"`
}

// ReactionEvent chat.message_reaction, full list
type ReactionEvent struct {
	ConversationID string     `json:"conversationId"`
	MessageID      string     `json:"messageId"`
	Seq            int64      `json:"seq"`
	Reactions      []Reaction `json:"reactions"`
}

// ReceiptEvent chat.message_receipt, full list for Type
type ReceiptEvent struct {
	ConversationID string      `json:"conversationId"`
	MessageID      string      `json:"messageId"`
	Seq            int64       `json:"seq"`
	Type           ReceiptType `json:"type"`
	Receipts       []Receipt   `json:"receipts"`
	ExpireAt       *time.Time  `json:"expireAt,omitempty"`
}

// DeletedEvent chat.message_deleted
type DeletedEvent struct {
	ConversationID string      `json:"conversationId"`
	MessageID      string      `json:"messageId"`
	Seq            int64       `json:"seq"`
	Mode           DeleteState `json:"mode"`
	DeletedBy      string      `json:"deletedBy"`
	DeletedAt      time.Time   `json:"deletedAt"`
}

// PinnedEvent chat.message_pinned
type PinnedEvent struct {
	ConversationID string    `json:"conversationId"`
	MessageID      string    `json:"messageId"`
	Pinned         bool      `json:"pinned"`
	By             string    `json:"by"`
	At             time.Time `json:"at"`
}

// StarredEvent chat.message_starred
type StarredEvent struct {
	ConversationID string `json:"conversationId"`
	MessageID      string `json:"messageId"`
	Starred        bool   `json:"starred"`
}

// GapResult gap_check ack and chat.gap_fill payload
type GapResult struct {
	ConversationID  string         `json:"conversationId"`
	MissingSeqs     []int64        `json:"missingSeqs"`
	Messages        []*ChatMessage `json:"messages"`
	UnavailableSeqs []int64        `json:"unavailableSeqs,omitempty"`
}

// ConversationCreated conversation.created
type ConversationCreated struct {
	ConversationID string                 `json:"conversationId"`
	UserIDs        []string               `json:"userIds"`
	Conversation   map[string]interface{} `json:"conversation,omitempty"`
}
