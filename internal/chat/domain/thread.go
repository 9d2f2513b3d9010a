package domain

import (
	"strings"
	"time"

	errprocess "chat_delivery_service/pkg/err"
)

// Thread one per root message per conversation
type Thread struct {
	ID             string    `bson:"_id" json:"threadId"`
	ConversationID string    `bson:"conversation_id" json:"conversationId"`
	RootMessageID  string    `bson:"root_message_id" json:"rootMessageId"`
	Title          string    `bson:"title,omitempty" json:"title,omitempty"`
	CreatedBy      string    `bson:"created_by" json:"createdBy"`
	CreatedAt      time.Time `bson:"created_at" json:"createdAt"`
}

// ThreadRoom room of a thread, thread ids are globally unique
func ThreadRoom(threadID string) string { return "thread:" + threadID }

// ThreadCreateRequest thread_create payload
type ThreadCreateRequest struct {
	ConversationID string `json:"conversationId"`
	RootMessageID  string `json:"rootMessageId"`
	Title          string `json:"title,omitempty"`
}

// ThreadJoinRequest thread_join / thread_leave payload
type ThreadJoinRequest struct {
	ConversationID string `json:"conversationId"`
	ThreadID       string `json:"threadId"`
}

// ReportReason why a message was reported
type ReportReason string

const (
	ReasonSpam       ReportReason = "spam"
	ReasonAbuse      ReportReason = "abuse"
	ReasonHarassment ReportReason = "harassment"
	ReasonIllegal    ReportReason = "illegal"
	ReasonOther      ReportReason = "other"
)

// ParseReportReason validates a wire value
func ParseReportReason(s string) (ReportReason, error) {
	switch r := ReportReason(strings.ToLower(strings.TrimSpace(s))); r {
	case ReasonSpam, ReasonAbuse, ReasonHarassment, ReasonIllegal, ReasonOther:
		return r, nil
	}
	return "", errprocess.Validation("unsupported report reason: %q", s)
}

// ReportStatus moderation queue state
type ReportStatus string

const (
	ReportOpen    ReportStatus = "open"
	ReportTriaged ReportStatus = "triaged"
	ReportClosed  ReportStatus = "closed"
)

// Report one per (conversation, message, reporter); a repeat report keeps the first
type Report struct {
	ConversationID string       `bson:"conversation_id" json:"conversationId"`
	MessageID      string       `bson:"message_id" json:"messageId"`
	ReportedBy     string       `bson:"reported_by" json:"reportedBy"`
	Reason         ReportReason `bson:"reason" json:"reason"`
	Note           string       `bson:"note,omitempty" json:"note,omitempty"`
	Status         ReportStatus `bson:"status" json:"status"`
	CreatedAt      time.Time    `bson:"created_at" json:"createdAt"`
}

// ReportRequest report_message payload
type ReportRequest struct {
	ConversationID string `json:"conversationId"`
	MessageID      string `json:"messageId"`
	Reason         string `json:"reason"`
	Note           string `json:"note,omitempty"`
}
