package app

import (
	"context"
	"strings"
	"time"
	"unicode/utf8"

	"chat_delivery_service/internal/chat/domain"
	"chat_delivery_service/internal/chat/repository"
	errprocess "chat_delivery_service/pkg/err"
)

const maxEmojiRunes = 16

// ReactionUseCase reactions and delivered / read / played receipts
type ReactionUseCase struct {
	messages repository.MessageRepository
	emitter  Emitter
	now      func() time.Time
}

// NewReactionUseCase create ReactionUseCase
func NewReactionUseCase(messages repository.MessageRepository, emitter Emitter) *ReactionUseCase {
	return &ReactionUseCase{messages: messages, emitter: emitter, now: time.Now}
}

// React toggles: the same emoji clears, a different one replaces
func (uc *ReactionUseCase) React(ctx context.Context, p domain.Principal, req domain.ReactRequest) (domain.ReactionEvent, error) {
	emoji := strings.TrimSpace(req.Emoji)
	if emoji == "" || utf8.RuneCountInString(emoji) > maxEmojiRunes {
		return domain.ReactionEvent{}, errprocess.Validation("emoji is required and at most %d characters", maxEmojiRunes)
	}

	now := uc.now().UTC()
	msg, _, err := mutateMessage(ctx, uc.messages, now, req.ConversationID, req.MessageID, func(m *domain.ChatMessage) (bool, error) {
		if m.IsDeletedForEveryone() {
			return false, errprocess.Validation("cannot react to a deleted message")
		}
		m.ToggleReaction(p.UserID, emoji, now)
		return true, nil
	})
	if err != nil {
		return domain.ReactionEvent{}, err
	}

	ev := domain.ReactionEvent{
		ConversationID: msg.ConversationID,
		MessageID:      msg.ID,
		Seq:            msg.Seq,
		Reactions:      nonNilReactions(msg.Reactions),
	}
	_ = uc.emitter.Emit(ctx, domain.ConversationRoom(msg.ConversationID), domain.OutMessageReaction, ev, "")
	return ev, nil
}

// Receipt latest timestamp per user wins; an older or equal receipt is acked without fan-out
func (uc *ReactionUseCase) Receipt(ctx context.Context, p domain.Principal, req domain.ReceiptRequest) (domain.ReceiptEvent, error) {
	typ, err := domain.ParseReceiptType(req.Type)
	if err != nil {
		return domain.ReceiptEvent{}, err
	}
	now := uc.now().UTC()
	at := now
	if req.At != nil && req.At.Before(now) {
		at = req.At.UTC()
	}

	var list []domain.Receipt
	msg, changed, err := mutateMessage(ctx, uc.messages, now, req.ConversationID, req.MessageID, func(m *domain.ChatMessage) (bool, error) {
		var changed bool
		list, changed = m.UpsertReceipt(typ, p.UserID, p.DeviceID, at)
		return changed, nil
	})
	if err != nil {
		return domain.ReceiptEvent{}, err
	}

	ev := domain.ReceiptEvent{
		ConversationID: msg.ConversationID,
		MessageID:      msg.ID,
		Seq:            msg.Seq,
		Type:           typ,
		Receipts:       append([]domain.Receipt{}, list...),
	}
	if msg.Ephemeral != nil {
		ev.ExpireAt = msg.Ephemeral.ExpireAt
	}
	if changed {
		_ = uc.emitter.Emit(ctx, domain.ConversationRoom(msg.ConversationID), domain.OutMessageReceipt, ev, "")
	}
	return ev, nil
}

func nonNilReactions(r []domain.Reaction) []domain.Reaction {
	if r == nil {
		return []domain.Reaction{}
	}
	return r
}
