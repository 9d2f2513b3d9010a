package app

import (
	"context"
	"errors"
	"time"

	"chat_delivery_service/internal/chat/domain"
	"chat_delivery_service/internal/chat/repository"
	errprocess "chat_delivery_service/pkg/err"
	"chat_delivery_service/pkg/logger"

	"go.uber.org/zap"
)

const (
	defaultCallHistory = 20
	maxCallHistory     = 100
)

// CallDeps collaborators of CallUseCase, Push may be nil
type CallDeps struct {
	Calls      repository.CallRepository
	Policy     ConversationPolicy
	Presence   Presence
	Emitter    Emitter
	Tasks      Background
	Push       PushNotifier
	SignalsMax int
}

// CallUseCase call signaling state machine and relay
type CallUseCase struct {
	CallDeps
	now func() time.Time
}

// NewCallUseCase create CallUseCase
func NewCallUseCase(deps CallDeps) *CallUseCase {
	if deps.SignalsMax <= 0 {
		deps.SignalsMax = 200
	}
	return &CallUseCase{CallDeps: deps, now: time.Now}
}

// Offer creates a ringing session; redelivery by the caller returns the stored session
func (uc *CallUseCase) Offer(ctx context.Context, p domain.Principal, req domain.CallSignalRequest) (*domain.CallSession, error) {
	if req.CallID == "" {
		return nil, errprocess.Validation("callId is required")
	}
	if req.Media != "" && req.Media != domain.MediaVoice && req.Media != domain.MediaVideo {
		return nil, errprocess.Validation("unsupported media: %q", req.Media)
	}

	existing, err := uc.Calls.Find(ctx, req.ConversationID, req.CallID)
	if err == nil {
		return uc.redelivered(existing, p)
	}
	if !errors.Is(err, repository.ErrCallNotFound) {
		return nil, errprocess.Unavailable("call store unavailable", err)
	}

	invitees := req.Invitees
	if len(invitees) == 0 && req.ToUserID != "" {
		invitees = []string{req.ToUserID}
	}
	if len(invitees) == 0 {
		members, err := uc.Policy.MemberIDs(ctx, req.ConversationID)
		if err != nil {
			return nil, err
		}
		invitees = members
	}

	now := uc.now().UTC()
	s := domain.NewCallSession(req.ConversationID, req.CallID, p.UserID, invitees, req.Media, now)
	if len(s.Participants) < 2 {
		return nil, errprocess.Validation("a call needs at least one invitee")
	}
	s.AppendSignal(domain.Signal{Kind: domain.SignalOffer, FromUserID: p.UserID, PayloadType: req.PayloadType, CreatedAt: now}, uc.SignalsMax)

	switch err := uc.Calls.Create(ctx, s); {
	case errors.Is(err, repository.ErrDuplicateCall):
		stored, findErr := uc.Calls.Find(ctx, req.ConversationID, req.CallID)
		if findErr != nil {
			return nil, errprocess.Unavailable("call store unavailable", findErr)
		}
		return uc.redelivered(stored, p)
	case errors.Is(err, repository.ErrActiveCallExists):
		return nil, errprocess.Conflict("conversation %s already has an active call", req.ConversationID)
	case err != nil:
		return nil, errprocess.Unavailable("call store unavailable", err)
	}

	uc.relay(ctx, s, p.UserID, "", domain.OutCallOffer, req)
	uc.ringOffline(s, p)
	return s, nil
}

func (uc *CallUseCase) redelivered(s *domain.CallSession, p domain.Principal) (*domain.CallSession, error) {
	if s.CreatedBy != p.UserID {
		return nil, errprocess.Conflict("call %s already exists", s.CallID)
	}
	return s, nil
}

// Answer joins the caller's call
func (uc *CallUseCase) Answer(ctx context.Context, p domain.Principal, req domain.CallSignalRequest) (*domain.CallSession, error) {
	now := uc.now().UTC()
	s, changed, err := mutateCall(ctx, uc.Calls, now, req.ConversationID, req.CallID, func(s *domain.CallSession) (bool, error) {
		ok, err := s.Answer(p.UserID, now)
		if ok {
			s.AppendSignal(domain.Signal{Kind: domain.SignalAnswer, FromUserID: p.UserID, ToUserID: req.ToUserID, PayloadType: req.PayloadType, CreatedAt: now}, uc.SignalsMax)
		}
		return ok, err
	})
	if err != nil {
		return nil, err
	}
	if changed {
		uc.relay(ctx, s, p.UserID, req.ToUserID, domain.OutCallAnswer, req)
	}
	return s, nil
}

// ICE relays a candidate, the session state does not change
func (uc *CallUseCase) ICE(ctx context.Context, p domain.Principal, req domain.CallSignalRequest) (*domain.CallSession, error) {
	now := uc.now().UTC()
	s, _, err := mutateCall(ctx, uc.Calls, now, req.ConversationID, req.CallID, func(s *domain.CallSession) (bool, error) {
		if s.Participant(p.UserID) == nil {
			return false, errprocess.Auth("not a participant of call %s", s.CallID)
		}
		if s.Ended() {
			return false, errprocess.Conflict("call %s has ended", s.CallID)
		}
		s.AppendSignal(domain.Signal{Kind: domain.SignalICE, FromUserID: p.UserID, ToUserID: req.ToUserID, PayloadType: req.PayloadType, CreatedAt: now}, uc.SignalsMax)
		return true, nil
	})
	if err != nil {
		return nil, err
	}
	uc.relay(ctx, s, p.UserID, req.ToUserID, domain.OutCallICE, req)
	return s, nil
}

// Hangup ends the call; hanging up an ended call succeeds without a relay
func (uc *CallUseCase) Hangup(ctx context.Context, p domain.Principal, req domain.CallSignalRequest) (*domain.CallSession, error) {
	now := uc.now().UTC()
	s, changed, err := mutateCall(ctx, uc.Calls, now, req.ConversationID, req.CallID, func(s *domain.CallSession) (bool, error) {
		ok, err := s.Hangup(p.UserID, req.Reason, now)
		if ok {
			s.AppendSignal(domain.Signal{Kind: domain.SignalHangup, FromUserID: p.UserID, CreatedAt: now}, uc.SignalsMax)
		}
		return ok, err
	})
	if err != nil {
		return nil, err
	}
	if changed {
		uc.relay(ctx, s, p.UserID, "", domain.OutCallHangup, req)
	}
	return s, nil
}

// Reject declines an invitation; reason "busy" marks the participant busy
func (uc *CallUseCase) Reject(ctx context.Context, p domain.Principal, req domain.CallSignalRequest) (*domain.CallSession, error) {
	status := domain.ParticipantRejected
	if req.Reason == string(domain.ParticipantBusy) {
		status = domain.ParticipantBusy
	}
	now := uc.now().UTC()
	s, changed, err := mutateCall(ctx, uc.Calls, now, req.ConversationID, req.CallID, func(s *domain.CallSession) (bool, error) {
		ok, err := s.Reject(p.UserID, status, req.Reason, now)
		if ok {
			s.AppendSignal(domain.Signal{Kind: domain.SignalReject, FromUserID: p.UserID, CreatedAt: now}, uc.SignalsMax)
		}
		return ok, err
	})
	if err != nil {
		return nil, err
	}
	if changed {
		uc.relay(ctx, s, p.UserID, "", domain.OutCallReject, req)
	}
	return s, nil
}

// History calls userID took part in, newest first
func (uc *CallUseCase) History(ctx context.Context, userID string, before time.Time, limit int) ([]*domain.CallSession, error) {
	switch {
	case limit <= 0:
		limit = defaultCallHistory
	case limit > maxCallHistory:
		limit = maxCallHistory
	}
	calls, err := uc.Calls.ListForUser(ctx, userID, before, limit)
	if err != nil {
		return nil, errprocess.Unavailable("call store unavailable", err)
	}
	if calls == nil {
		calls = []*domain.CallSession{}
	}
	return calls, nil
}

// relay to toUserID when given, otherwise to every other participant
func (uc *CallUseCase) relay(ctx context.Context, s *domain.CallSession, from, to, event string, req domain.CallSignalRequest) {
	ev := domain.CallEvent{
		ConversationID: s.ConversationID,
		CallID:         s.CallID,
		FromUserID:     from,
		ToUserID:       to,
		Media:          s.Media,
		Status:         s.Status,
		PayloadType:    req.PayloadType,
		Payload:        req.Payload,
		Reason:         req.Reason,
		Participants:   s.Participants,
		At:             s.UpdatedAt,
	}
	targets := s.Others(from)
	if to != "" && s.Participant(to) != nil {
		targets = []string{to}
	}
	for _, u := range targets {
		_ = uc.Emitter.Emit(ctx, domain.UserRoom(u), event, ev, "")
	}
}

func (uc *CallUseCase) ringOffline(s *domain.CallSession, caller domain.Principal) {
	if uc.Push == nil || uc.Tasks == nil {
		return
	}
	snapshot := s.Clone()
	uc.Tasks.Submit("push_call", func(ctx context.Context) error {
		others := snapshot.Others(caller.UserID)
		states := uc.Presence.Snapshot(ctx, others)
		for _, u := range others {
			if states[u].Online {
				continue
			}
			if err := uc.Push.Notify(ctx, domain.IncomingCallPush(u, snapshot, caller.Username)); err != nil {
				logger.Log.Warn("push incoming call", zap.String("userID", u), zap.Error(err))
			}
		}
		return nil
	})
}
