package app

import (
	"context"
	"errors"
	"fmt"
	"time"

	"chat_delivery_service/internal/chat/domain"
	"chat_delivery_service/internal/chat/repository"
	errprocess "chat_delivery_service/pkg/err"
)

// maxMutationAttempts version conflicts retried before giving up
const maxMutationAttempts = 5

// Background side effects that never affect an ack
type Background interface {
	Submit(name string, fn func(ctx context.Context) error) bool
}

func errPanic(rec interface{}) error {
	return errprocess.Internal("unexpected failure", fmt.Errorf("panic: %v", rec))
}

func storeErr(err error) error {
	return errprocess.Unavailable("message store unavailable", err)
}

// mutateMessage version guarded read-modify-write. fn returns false to skip the write.
func mutateMessage(
	ctx context.Context,
	repo repository.MessageRepository,
	now time.Time,
	conversationID, messageID string,
	fn func(m *domain.ChatMessage) (bool, error),
) (*domain.ChatMessage, bool, error) {
	if messageID == "" {
		return nil, false, errprocess.Validation("messageId is required")
	}
	for attempt := 0; attempt < maxMutationAttempts; attempt++ {
		m, err := repo.FindByID(ctx, conversationID, messageID)
		if errors.Is(err, repository.ErrMessageNotFound) {
			return nil, false, errprocess.NotFound("message %s not found", messageID)
		}
		if err != nil {
			return nil, false, storeErr(err)
		}

		changed, err := fn(m)
		if err != nil {
			return nil, false, err
		}
		if !changed {
			return m, false, nil
		}
		m.UpdatedAt = now
		err = repo.Replace(ctx, m, m.Version)
		if errors.Is(err, repository.ErrVersionConflict) {
			continue
		}
		if err != nil {
			return nil, false, storeErr(err)
		}
		return m, true, nil
	}
	return nil, false, errprocess.Conflict("message %s is being modified concurrently", messageID)
}

// mutateCall same contract for call sessions
func mutateCall(
	ctx context.Context,
	repo repository.CallRepository,
	now time.Time,
	conversationID, callID string,
	fn func(s *domain.CallSession) (bool, error),
) (*domain.CallSession, bool, error) {
	if callID == "" {
		return nil, false, errprocess.Validation("callId is required")
	}
	for attempt := 0; attempt < maxMutationAttempts; attempt++ {
		s, err := repo.Find(ctx, conversationID, callID)
		if errors.Is(err, repository.ErrCallNotFound) {
			return nil, false, errprocess.NotFound("call %s not found", callID)
		}
		if err != nil {
			return nil, false, errprocess.Unavailable("call store unavailable", err)
		}

		changed, err := fn(s)
		if err != nil {
			return nil, false, err
		}
		if !changed {
			return s, false, nil
		}
		s.UpdatedAt = now
		err = repo.Replace(ctx, s, s.Version)
		if errors.Is(err, repository.ErrVersionConflict) {
			continue
		}
		if err != nil {
			return nil, false, errprocess.Unavailable("call store unavailable", err)
		}
		return s, true, nil
	}
	return nil, false, errprocess.Conflict("call %s is being modified concurrently", callID)
}
