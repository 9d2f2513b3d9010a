package app

import (
	"context"
	"errors"
	"time"
	"unicode/utf8"

	"chat_delivery_service/internal/chat/domain"
	"chat_delivery_service/internal/chat/repository"
	"chat_delivery_service/pkg/config"
	errprocess "chat_delivery_service/pkg/err"
	"chat_delivery_service/pkg/logger"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"
)

const (
	maxClientIDLen     = 128
	maxTextRunes       = 10000
	maxEphemeralTTL    = 7 * 24 * 60 * 60
	defaultHistorySize = 50
	maxHistorySize     = 200
)

// MessageDeps collaborators of MessageUseCase, Push and Events may be nil
type MessageDeps struct {
	Messages  repository.MessageRepository
	Sequencer Sequencer
	Policy    ConversationPolicy
	Presence  Presence
	Emitter   Emitter
	Tasks     Background
	Push      PushNotifier
	Events    EventPublisher
	Features  config.FeatureFlags
}

// MessageUseCase send / edit / delete / history / pin / star
type MessageUseCase struct {
	MessageDeps
	inflight singleflight.Group
	now      func() time.Time
}

// NewMessageUseCase init message use case
func NewMessageUseCase(deps MessageDeps) *MessageUseCase {
	return &MessageUseCase{MessageDeps: deps, now: time.Now}
}

type sendResult struct {
	msg       *domain.ChatMessage
	duplicate bool
}

// Send persists a message exactly once per (conversationId, clientId) and fans it out.
// The ack is returned only after the seq is allocated and the record is durable.
func (uc *MessageUseCase) Send(ctx context.Context, p domain.Principal, req domain.SendRequest) (domain.SendAck, error) {
	content, err := validateSend(req)
	if err != nil {
		return domain.SendAck{}, err
	}

	// 同一實例上同時送出的相同 clientId 只會打到 store 一次
	key := req.ConversationID + "\x00" + req.ClientID
	v, err, _ := uc.inflight.Do(key, func() (interface{}, error) {
		return uc.persist(ctx, p, req, content)
	})
	if err != nil {
		return domain.SendAck{}, err
	}
	res := v.(sendResult)
	if res.msg.SenderID != p.UserID {
		return domain.SendAck{}, errprocess.Conflict("clientId %s is already used in this conversation", req.ClientID)
	}

	ack := res.msg.Ack()
	ack.Duplicate = res.duplicate
	return ack, nil
}

func (uc *MessageUseCase) persist(ctx context.Context, p domain.Principal, req domain.SendRequest, content domain.Content) (sendResult, error) {
	existing, err := uc.Messages.FindByClientID(ctx, req.ConversationID, req.ClientID)
	if err == nil {
		return sendResult{msg: existing, duplicate: true}, nil
	}
	if !errors.Is(err, repository.ErrMessageNotFound) {
		return sendResult{}, storeErr(err)
	}

	seq, err := uc.Sequencer.Next(ctx, req.ConversationID)
	if err != nil {
		if errprocess.KindOf(err) == errprocess.KindInternal {
			return sendResult{}, errprocess.Unavailable("sequencer unavailable", err)
		}
		return sendResult{}, err
	}

	now := uc.now().UTC()
	msg := &domain.ChatMessage{
		ID:             uuid.New().String(),
		ConversationID: req.ConversationID,
		Seq:            seq,
		ClientID:       req.ClientID,
		SenderID:       p.UserID,
		SenderDeviceID: p.DeviceID,
		Kind:           content.Kind(),
		Body:           content.Body(),
		ReplyToID:      req.ReplyToID,
		ThreadID:       req.ThreadID,
		PreviewText:    domain.Preview(content),
		DeleteState:    domain.DeleteNone,
		CreatedAt:      now,
		UpdatedAt:      now,
	}
	if e := req.Ephemeral; e != nil && e.Enabled {
		eph := domain.Ephemeral{Enabled: true, TTLSeconds: e.TTLSeconds, StartAfterRead: e.StartAfterRead}
		if !eph.StartAfterRead {
			exp := now.Add(time.Duration(eph.TTLSeconds) * time.Second)
			eph.ExpireAt = &exp
		}
		msg.Ephemeral = &eph
	}

	if err := uc.Messages.Insert(ctx, msg); err != nil {
		if !errors.Is(err, repository.ErrDuplicateMessage) {
			return sendResult{}, storeErr(err)
		}
		// 另一個實例搶先寫入相同 clientId
		existing, findErr := uc.Messages.FindByClientID(ctx, req.ConversationID, req.ClientID)
		if findErr == nil {
			return sendResult{msg: existing, duplicate: true}, nil
		}
		return sendResult{}, errprocess.Internal("seq already taken", err)
	}

	uc.fanoutNew(ctx, msg)
	uc.afterSend(msg)
	return sendResult{msg: msg}, nil
}

func (uc *MessageUseCase) fanoutNew(ctx context.Context, msg *domain.ChatMessage) {
	_ = uc.Emitter.Emit(ctx, domain.ConversationRoom(msg.ConversationID), domain.OutMessage, msg, "")
	_ = uc.Emitter.Emit(ctx, domain.UserRoom(msg.SenderID), domain.OutMessage, msg, "")
	if msg.ThreadID != "" {
		// 開著討論串的連線另外收到一份 thread 事件
		_ = uc.Emitter.Emit(ctx, domain.ThreadRoom(msg.ThreadID), domain.OutThreadMessage, msg, "")
	}
}

func (uc *MessageUseCase) afterSend(msg *domain.ChatMessage) {
	if uc.Tasks == nil {
		return
	}
	m := msg.Clone()
	uc.Tasks.Submit("last_message", func(ctx context.Context) error {
		return uc.Policy.UpdateLastMessage(ctx, m.ConversationID, m.CreatedAt, m.PreviewText)
	})
	uc.publishEvent("message.created", m)
	if uc.Push != nil && uc.Features.Push {
		uc.Tasks.Submit("push_offline", func(ctx context.Context) error {
			return uc.pushOffline(ctx, m)
		})
	}
}

func (uc *MessageUseCase) publishEvent(typ string, m *domain.ChatMessage) {
	if uc.Tasks == nil || uc.Events == nil {
		return
	}
	ev := domain.MessageEvent{
		Type:           typ,
		ConversationID: m.ConversationID,
		MessageID:      m.ID,
		Seq:            m.Seq,
		SenderID:       m.SenderID,
		Kind:           m.Kind,
		Preview:        m.PreviewText,
		At:             m.UpdatedAt,
	}
	uc.Tasks.Submit("message_event", func(ctx context.Context) error {
		return uc.Events.Publish(ctx, ev)
	})
}

func (uc *MessageUseCase) pushOffline(ctx context.Context, m *domain.ChatMessage) error {
	members, err := uc.Policy.MemberIDs(ctx, m.ConversationID)
	if err != nil {
		return err
	}
	others := make([]string, 0, len(members))
	for _, u := range members {
		if u != m.SenderID {
			others = append(others, u)
		}
	}
	states := uc.Presence.Snapshot(ctx, others)
	for _, u := range others {
		if states[u].Online {
			continue
		}
		if err := uc.Push.Notify(ctx, domain.NewMessagePush(u, m)); err != nil {
			logger.Log.Warn("push notify", zap.String("userID", u), zap.Error(err))
		}
	}
	return nil
}

func validateSend(req domain.SendRequest) (domain.Content, error) {
	if req.ConversationID == "" {
		return nil, errprocess.Validation("conversationId is required")
	}
	if req.ClientID == "" || len(req.ClientID) > maxClientIDLen {
		return nil, errprocess.Validation("clientId is required and at most %d characters", maxClientIDLen)
	}
	kind, err := domain.ParseKind(req.Kind)
	if err != nil {
		return nil, err
	}
	if utf8.RuneCountInString(req.Text) > maxTextRunes {
		return nil, errprocess.Validation("text exceeds %d characters", maxTextRunes)
	}
	if e := req.Ephemeral; e != nil && e.Enabled && (e.TTLSeconds <= 0 || e.TTLSeconds > maxEphemeralTTL) {
		return nil, errprocess.Validation("ephemeral ttlSeconds must be between 1 and %d", maxEphemeralTTL)
	}
	return domain.DecodeContent(kind, req.Body)
}

// Edit sender only, content must stay consistent with the kind
func (uc *MessageUseCase) Edit(ctx context.Context, p domain.Principal, req domain.EditRequest) (*domain.ChatMessage, error) {
	if req.Text != nil && utf8.RuneCountInString(*req.Text) > maxTextRunes {
		return nil, errprocess.Validation("text exceeds %d characters", maxTextRunes)
	}
	now := uc.now().UTC()
	msg, _, err := mutateMessage(ctx, uc.Messages, now, req.ConversationID, req.MessageID, func(m *domain.ChatMessage) (bool, error) {
		if m.SenderID != p.UserID {
			return false, errprocess.Auth("only the sender can edit a message")
		}
		if err := m.ApplyEdit(req.EditPatch, now); err != nil {
			return false, err
		}
		return true, nil
	})
	if err != nil {
		return nil, err
	}

	_ = uc.Emitter.Emit(ctx, domain.ConversationRoom(msg.ConversationID), domain.OutMessageEdited, msg, "")
	uc.publishEvent("message.edited", msg)
	return msg, nil
}

// Delete deleted_for_everyone tombstones for all viewers, deleted_for_me hides for the caller only.
// Repeating a delete succeeds without a second fan-out.
func (uc *MessageUseCase) Delete(ctx context.Context, p domain.Principal, req domain.DeleteRequest) (domain.DeletedEvent, error) {
	mode := req.Mode
	if mode == "" {
		mode = domain.DeleteForEveryone
	}
	if mode != domain.DeleteForEveryone && mode != domain.DeleteForMe {
		return domain.DeletedEvent{}, errprocess.Validation("unsupported delete mode: %q", mode)
	}

	now := uc.now().UTC()
	msg, changed, err := mutateMessage(ctx, uc.Messages, now, req.ConversationID, req.MessageID, func(m *domain.ChatMessage) (bool, error) {
		if mode == domain.DeleteForMe {
			return m.HideFor(p.UserID), nil
		}
		if m.IsDeletedForEveryone() {
			return false, nil
		}
		if m.SenderID != p.UserID {
			return false, errprocess.Auth("only the sender can delete for everyone")
		}
		m.Tombstone(p.UserID, now)
		return true, nil
	})
	if err != nil {
		return domain.DeletedEvent{}, err
	}

	ev := domain.DeletedEvent{
		ConversationID: msg.ConversationID,
		MessageID:      msg.ID,
		Seq:            msg.Seq,
		Mode:           mode,
		DeletedBy:      p.UserID,
		DeletedAt:      now,
	}
	if mode == domain.DeleteForEveryone && msg.DeletedAt != nil {
		ev.DeletedBy = msg.DeletedBy
		ev.DeletedAt = *msg.DeletedAt
	}
	if !changed {
		return ev, nil
	}

	if mode == domain.DeleteForMe {
		_ = uc.Emitter.Emit(ctx, domain.UserRoom(p.UserID), domain.OutMessageDeleted, ev, "")
		return ev, nil
	}
	_ = uc.Emitter.Emit(ctx, domain.ConversationRoom(msg.ConversationID), domain.OutMessageDeleted, ev, "")
	uc.publishEvent("message.deleted", msg)
	return ev, nil
}

// History recent window as seen by the caller, ascending by seq
func (uc *MessageUseCase) History(ctx context.Context, p domain.Principal, req domain.HistoryRequest) ([]*domain.ChatMessage, error) {
	if req.Before < 0 || req.After < 0 {
		return nil, errprocess.Validation("before and after must not be negative")
	}
	limit := req.Limit
	switch {
	case limit <= 0:
		limit = defaultHistorySize
	case limit > maxHistorySize:
		limit = maxHistorySize
	}
	msgs, err := uc.Messages.ListRange(ctx, req.ConversationID, req.Before, req.After, limit)
	if err != nil {
		return nil, storeErr(err)
	}
	return viewsFor(msgs, p.UserID, uc.now()), nil
}

// Pin conversation wide
func (uc *MessageUseCase) Pin(ctx context.Context, p domain.Principal, req domain.PinRequest) (domain.PinnedEvent, error) {
	if !uc.Features.Pins {
		return domain.PinnedEvent{}, errprocess.Validation("pinning is disabled")
	}
	now := uc.now().UTC()
	msg, changed, err := mutateMessage(ctx, uc.Messages, now, req.ConversationID, req.MessageID, func(m *domain.ChatMessage) (bool, error) {
		if m.IsDeletedForEveryone() {
			return false, errprocess.Validation("message is deleted")
		}
		return m.SetPinned(req.Pinned, p.UserID, now), nil
	})
	if err != nil {
		return domain.PinnedEvent{}, err
	}

	ev := domain.PinnedEvent{ConversationID: msg.ConversationID, MessageID: msg.ID, Pinned: msg.Pinned, By: p.UserID, At: now}
	if changed {
		_ = uc.Emitter.Emit(ctx, domain.ConversationRoom(msg.ConversationID), domain.OutMessagePinned, ev, "")
	}
	return ev, nil
}

// Star per user, only the caller's devices are told
func (uc *MessageUseCase) Star(ctx context.Context, p domain.Principal, req domain.StarRequest) (domain.StarredEvent, error) {
	if !uc.Features.Stars {
		return domain.StarredEvent{}, errprocess.Validation("starring is disabled")
	}
	msg, changed, err := mutateMessage(ctx, uc.Messages, uc.now().UTC(), req.ConversationID, req.MessageID, func(m *domain.ChatMessage) (bool, error) {
		if m.IsDeletedForEveryone() && req.Starred {
			return false, errprocess.Validation("message is deleted")
		}
		return m.SetStarred(p.UserID, req.Starred), nil
	})
	if err != nil {
		return domain.StarredEvent{}, err
	}

	ev := domain.StarredEvent{ConversationID: msg.ConversationID, MessageID: msg.ID, Starred: req.Starred}
	if changed {
		_ = uc.Emitter.Emit(ctx, domain.UserRoom(p.UserID), domain.OutMessageStarred, ev, "")
	}
	return ev, nil
}

func viewsFor(msgs []*domain.ChatMessage, viewer string, now time.Time) []*domain.ChatMessage {
	out := make([]*domain.ChatMessage, len(msgs))
	for i, m := range msgs {
		out[i] = m.ViewFor(viewer, now)
	}
	return out
}
