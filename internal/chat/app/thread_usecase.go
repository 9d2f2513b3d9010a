package app

import (
	"context"
	"errors"
	"strings"
	"time"
	"unicode/utf8"

	"chat_delivery_service/internal/chat/domain"
	"chat_delivery_service/internal/chat/repository"
	"chat_delivery_service/pkg/config"
	errprocess "chat_delivery_service/pkg/err"
	"chat_delivery_service/pkg/logger"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

const (
	maxThreadTitleRunes = 200
	maxReportNoteRunes  = 1000
)

// ThreadDeps collaborators of ThreadUseCase
type ThreadDeps struct {
	Threads  repository.ThreadRepository
	Reports  repository.ReportRepository
	Messages repository.MessageRepository
	Emitter  Emitter
	Features config.FeatureFlags
}

// ThreadUseCase threads on a root message and message reports
type ThreadUseCase struct {
	ThreadDeps
	now   func() time.Time
	newID func() string
}

// NewThreadUseCase create ThreadUseCase
func NewThreadUseCase(deps ThreadDeps) *ThreadUseCase {
	return &ThreadUseCase{ThreadDeps: deps, now: time.Now, newID: uuid.NewString}
}

// ReportAck report_message ack
type ReportAck struct {
	ConversationID string              `json:"conversationId"`
	MessageID      string              `json:"messageId"`
	Reason         domain.ReportReason `json:"reason"`
	Duplicate      bool                `json:"duplicate,omitempty"`
}

// rootMessage the message a thread or report points at must exist in the conversation
func (uc *ThreadUseCase) rootMessage(ctx context.Context, conversationID, messageID string) (*domain.ChatMessage, error) {
	m, err := uc.Messages.FindByID(ctx, conversationID, messageID)
	if errors.Is(err, repository.ErrMessageNotFound) {
		return nil, errprocess.NotFound("message %s not found", messageID)
	}
	if err != nil {
		return nil, storeErr(err)
	}
	return m, nil
}

// Create is idempotent on (conversationId, rootMessageId); only the first create is announced
func (uc *ThreadUseCase) Create(ctx context.Context, p domain.Principal, req domain.ThreadCreateRequest) (*domain.Thread, error) {
	if !uc.Features.Threads {
		return nil, errprocess.Validation("threads are disabled")
	}
	if req.RootMessageID == "" {
		return nil, errprocess.Validation("rootMessageId is required")
	}
	title := strings.TrimSpace(req.Title)
	if utf8.RuneCountInString(title) > maxThreadTitleRunes {
		return nil, errprocess.Validation("title exceeds %d characters", maxThreadTitleRunes)
	}
	root, err := uc.rootMessage(ctx, req.ConversationID, req.RootMessageID)
	if err != nil {
		return nil, err
	}
	if root.IsDeletedForEveryone() {
		return nil, errprocess.Validation("message is deleted")
	}
	if root.ThreadID != "" {
		return nil, errprocess.Validation("a thread reply cannot start a thread")
	}

	t, created, err := uc.Threads.Create(ctx, &domain.Thread{
		ID:             uc.newID(),
		ConversationID: req.ConversationID,
		RootMessageID:  req.RootMessageID,
		Title:          title,
		CreatedBy:      p.UserID,
		CreatedAt:      uc.now().UTC(),
	})
	if err != nil {
		return nil, errprocess.Unavailable("thread store unavailable", err)
	}
	if created {
		_ = uc.Emitter.Emit(ctx, domain.ConversationRoom(t.ConversationID), domain.OutThreadCreated, t, "")
	}
	return t, nil
}

// Find a thread of the conversation, used before joining its room
func (uc *ThreadUseCase) Find(ctx context.Context, conversationID, threadID string) (*domain.Thread, error) {
	if !uc.Features.Threads {
		return nil, errprocess.Validation("threads are disabled")
	}
	if threadID == "" {
		return nil, errprocess.Validation("threadId is required")
	}
	t, err := uc.Threads.Find(ctx, conversationID, threadID)
	if errors.Is(err, repository.ErrThreadNotFound) {
		return nil, errprocess.NotFound("thread %s not found", threadID)
	}
	if err != nil {
		return nil, errprocess.Unavailable("thread store unavailable", err)
	}
	return t, nil
}

// Report files a moderation report, a repeat report by the same user keeps the first one
func (uc *ThreadUseCase) Report(ctx context.Context, p domain.Principal, req domain.ReportRequest) (ReportAck, error) {
	if !uc.Features.Moderation {
		return ReportAck{}, errprocess.Validation("reporting is disabled")
	}
	if req.MessageID == "" {
		return ReportAck{}, errprocess.Validation("messageId is required")
	}
	reason, err := domain.ParseReportReason(req.Reason)
	if err != nil {
		return ReportAck{}, err
	}
	note := strings.TrimSpace(req.Note)
	if utf8.RuneCountInString(note) > maxReportNoteRunes {
		return ReportAck{}, errprocess.Validation("note exceeds %d characters", maxReportNoteRunes)
	}
	if _, err := uc.rootMessage(ctx, req.ConversationID, req.MessageID); err != nil {
		return ReportAck{}, err
	}

	created, err := uc.Reports.Add(ctx, &domain.Report{
		ConversationID: req.ConversationID,
		MessageID:      req.MessageID,
		ReportedBy:     p.UserID,
		Reason:         reason,
		Note:           note,
		Status:         domain.ReportOpen,
		CreatedAt:      uc.now().UTC(),
	})
	if err != nil {
		return ReportAck{}, errprocess.Unavailable("report store unavailable", err)
	}
	if created {
		logger.Log.Info("message reported", zap.String("conversationID", req.ConversationID),
			zap.String("messageID", req.MessageID), zap.String("reason", string(reason)))
	}
	return ReportAck{ConversationID: req.ConversationID, MessageID: req.MessageID, Reason: reason, Duplicate: !created}, nil
}
