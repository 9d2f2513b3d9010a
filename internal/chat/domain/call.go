package domain

import (
	"encoding/json"
	"time"

	errprocess "chat_delivery_service/pkg/err"
)

// CallStatus session status
type CallStatus string

const (
	CallRinging CallStatus = "ringing"
	CallActive  CallStatus = "active"
	CallEnded   CallStatus = "ended"
)

// ParticipantStatus per participant status
type ParticipantStatus string

const (
	ParticipantInvited    ParticipantStatus = "invited"
	ParticipantConnecting ParticipantStatus = "connecting"
	ParticipantJoined     ParticipantStatus = "joined"
	ParticipantLeft       ParticipantStatus = "left"
	ParticipantRejected   ParticipantStatus = "rejected"
	ParticipantBusy       ParticipantStatus = "busy"
)

// CallMedia voice | video
type CallMedia string

const (
	MediaVoice CallMedia = "voice"
	MediaVideo CallMedia = "video"
)

// SignalKind kind of a relayed signaling payload
type SignalKind string

const (
	SignalOffer       SignalKind = "offer"
	SignalAnswer      SignalKind = "answer"
	SignalICE         SignalKind = "ice"
	SignalRenegotiate SignalKind = "renegotiate"
	SignalHangup      SignalKind = "hangup"
	SignalReject      SignalKind = "reject"
)

// Participant call participant
type Participant struct {
	UserID    string            `bson:"user_id" json:"userId"`
	Status    ParticipantStatus `bson:"status" json:"status"`
	InvitedAt time.Time         `bson:"invited_at" json:"invitedAt"`
	JoinedAt  *time.Time        `bson:"joined_at,omitempty" json:"joinedAt,omitempty"`
	LeftAt    *time.Time        `bson:"left_at,omitempty" json:"leftAt,omitempty"`
	Reason    string            `bson:"reason,omitempty" json:"reason,omitempty"`
}

func (p Participant) live() bool {
	return p.Status == ParticipantInvited || p.Status == ParticipantConnecting || p.Status == ParticipantJoined
}

// Signal signaling log entry, SDP and ICE payloads are relayed but not stored
type Signal struct {
	Kind        SignalKind `bson:"kind" json:"kind"`
	FromUserID  string     `bson:"from_user_id" json:"fromUserId"`
	ToUserID    string     `bson:"to_user_id,omitempty" json:"toUserId,omitempty"`
	PayloadType string     `bson:"payload_type,omitempty" json:"payloadType,omitempty"`
	CreatedAt   time.Time  `bson:"created_at" json:"createdAt"`
}

// CallSession one call in a conversation
type CallSession struct {
	ConversationID string        `bson:"conversation_id" json:"conversationId"`
	CallID         string        `bson:"call_id" json:"callId"`
	CreatedBy      string        `bson:"created_by" json:"createdBy"`
	Media          CallMedia     `bson:"media" json:"media"`
	Status         CallStatus    `bson:"status" json:"status"`
	Participants   []Participant `bson:"participants" json:"participants"`
	Signals        []Signal      `bson:"signals,omitempty" json:"-"`
	// Active true until ended, backs the one live call per conversation index
	Active    bool       `bson:"active" json:"-"`
	StartedAt *time.Time `bson:"started_at,omitempty" json:"startedAt,omitempty"`
	EndedAt   *time.Time `bson:"ended_at,omitempty" json:"endedAt,omitempty"`
	EndReason string     `bson:"end_reason,omitempty" json:"endReason,omitempty"`
	CreatedAt time.Time  `bson:"created_at" json:"createdAt"`
	UpdatedAt time.Time  `bson:"updated_at" json:"updatedAt"`
	Version   int64      `bson:"version" json:"version"`
}

// CallSignalRequest call_* payload
type CallSignalRequest struct {
	ConversationID string          `json:"conversationId"`
	CallID         string          `json:"callId"`
	ToUserID       string          `json:"toUserId,omitempty"`
	Invitees       []string        `json:"invitees,omitempty"`
	Media          CallMedia       `json:"media,omitempty"`
	PayloadType    string          `json:"payloadType,omitempty"`
	Payload        json.RawMessage `json:"payload,omitempty"`
	Reason         string          `json:"reason,omitempty"`
}

// CallEvent relayed to participants' user rooms
type CallEvent struct {
	ConversationID string          `json:"conversationId"`
	CallID         string          `json:"callId"`
	FromUserID     string          `json:"fromUserId"`
	ToUserID       string          `json:"toUserId,omitempty"`
	Media          CallMedia       `json:"media,omitempty"`
	Status         CallStatus      `json:"status"`
	PayloadType    string          `json:"payloadType,omitempty"`
	Payload        json.RawMessage `json:"payload,omitempty"`
	Reason         string          `json:"reason,omitempty"`
	Participants   []Participant   `json:"participants,omitempty"`
	At             time.Time       `json:"at"`
}

// NewCallSession ringing session, caller connecting, invitees invited
func NewCallSession(conversationID, callID, caller string, invitees []string, media CallMedia, now time.Time) *CallSession {
	if media == "" {
		media = MediaVoice
	}
	s := &CallSession{
		ConversationID: conversationID,
		CallID:         callID,
		CreatedBy:      caller,
		Media:          media,
		Status:         CallRinging,
		Active:         true,
		CreatedAt:      now,
		UpdatedAt:      now,
	}
	s.Participants = append(s.Participants, Participant{UserID: caller, Status: ParticipantConnecting, InvitedAt: now})
	seen := map[string]struct{}{caller: {}}
	for _, u := range invitees {
		if _, ok := seen[u]; ok || u == "" {
			continue
		}
		seen[u] = struct{}{}
		s.Participants = append(s.Participants, Participant{UserID: u, Status: ParticipantInvited, InvitedAt: now})
	}
	return s
}

// Clone copy for read-modify-write
func (s *CallSession) Clone() *CallSession {
	c := *s
	c.Participants = append([]Participant(nil), s.Participants...)
	c.Signals = append([]Signal(nil), s.Signals...)
	return &c
}

// Participant lookup
func (s *CallSession) Participant(userID string) *Participant {
	for i := range s.Participants {
		if s.Participants[i].UserID == userID {
			return &s.Participants[i]
		}
	}
	return nil
}

// Ended terminal
func (s *CallSession) Ended() bool {
	return s.Status == CallEnded
}

// Others participants other than userID
func (s *CallSession) Others(userID string) []string {
	out := make([]string, 0, len(s.Participants))
	for _, p := range s.Participants {
		if p.UserID != userID {
			out = append(out, p.UserID)
		}
	}
	return out
}

// Answer invited participant joins; the first answer activates the call.
// Returns false on redelivery.
func (s *CallSession) Answer(userID string, now time.Time) (bool, error) {
	p := s.Participant(userID)
	if p == nil {
		return false, errprocess.Auth("not a participant of call %s", s.CallID)
	}
	if p.Status == ParticipantJoined {
		return false, nil
	}
	if s.Ended() {
		return false, errprocess.Conflict("call %s has ended", s.CallID)
	}
	if userID == s.CreatedBy || !p.live() {
		return false, errprocess.Conflict("participant cannot answer in status %s", p.Status)
	}

	p.Status = ParticipantJoined
	p.JoinedAt = &now
	if s.Status == CallRinging {
		s.Status = CallActive
		s.StartedAt = &now
		if caller := s.Participant(s.CreatedBy); caller != nil && caller.Status == ParticipantConnecting {
			caller.Status = ParticipantJoined
			caller.JoinedAt = &now
		}
	}
	s.UpdatedAt = now
	return true, nil
}

// Hangup ender leaves and the session ends. Returns false when already ended.
func (s *CallSession) Hangup(userID, reason string, now time.Time) (bool, error) {
	if s.Ended() {
		return false, nil
	}
	p := s.Participant(userID)
	if p == nil {
		return false, errprocess.Auth("not a participant of call %s", s.CallID)
	}
	p.Status = ParticipantLeft
	p.LeftAt = &now
	p.Reason = reason
	if reason == "" {
		reason = "hangup"
	}
	s.end(reason, now)
	return true, nil
}

// Reject marks the participant rejected or busy; the session is force ended once nobody is left
// invited, connecting or joined. Returns false when nothing changed.
func (s *CallSession) Reject(userID string, status ParticipantStatus, reason string, now time.Time) (bool, error) {
	if status != ParticipantRejected && status != ParticipantBusy {
		return false, errprocess.Validation("reject status must be rejected or busy")
	}
	if s.Ended() {
		return false, nil
	}
	p := s.Participant(userID)
	if p == nil {
		return false, errprocess.Auth("not a participant of call %s", s.CallID)
	}
	if !p.live() {
		return false, nil
	}
	if p.Status == ParticipantJoined {
		return false, errprocess.Conflict("participant already joined, hang up instead")
	}

	p.Status = status
	p.LeftAt = &now
	p.Reason = reason
	s.UpdatedAt = now
	s.EndIfNoLiveInvitees(now)
	return true, nil
}

// EndIfNoLiveInvitees ends the call when every participant other than the caller is gone
func (s *CallSession) EndIfNoLiveInvitees(now time.Time) bool {
	if s.Ended() {
		return false
	}
	for _, p := range s.Participants {
		if p.UserID != s.CreatedBy && p.live() {
			return false
		}
	}
	for i := range s.Participants {
		if s.Participants[i].live() {
			s.Participants[i].Status = ParticipantLeft
			s.Participants[i].LeftAt = &now
		}
	}
	s.end("no_participants", now)
	return true
}

func (s *CallSession) end(reason string, now time.Time) {
	s.Status = CallEnded
	s.Active = false
	s.EndedAt = &now
	s.EndReason = reason
	s.UpdatedAt = now
}

// AppendSignal bounded circular log, keeps the newest max entries
func (s *CallSession) AppendSignal(sig Signal, max int) {
	s.Signals = append(s.Signals, sig)
	if max > 0 && len(s.Signals) > max {
		s.Signals = append([]Signal(nil), s.Signals[len(s.Signals)-max:]...)
	}
}
