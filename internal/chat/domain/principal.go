package domain

import "time"

// Principal authenticated caller
type Principal struct {
	UserID   string   `json:"userId"`
	Username string   `json:"username,omitempty"`
	DeviceID string   `json:"deviceId,omitempty"`
	Scopes   []string `json:"scopes,omitempty"`
	// Token raw credential, forwarded to the policy authority
	Token string `json:"-"`
}

// Membership policy answer for (principal, conversation)
type Membership struct {
	IsMember  bool     `json:"isMember"`
	IsBlocked bool     `json:"isBlocked"`
	Role      string   `json:"role,omitempty"`
	Scopes    []string `json:"scopes,omitempty"`
}

// Allowed member and not blocked
func (m Membership) Allowed() bool {
	return m.IsMember && !m.IsBlocked
}

// PresenceState result of a tracker transition
type PresenceState struct {
	UserID   string     `json:"userId"`
	Online   bool       `json:"isOnline"`
	Count    int64      `json:"-"`
	LastSeen *time.Time `json:"lastSeen,omitempty"`
}

// PresenceEvent chat.presence
type PresenceEvent struct {
	ConversationID string     `json:"conversationId"`
	UserID         string     `json:"userId"`
	IsOnline       bool       `json:"isOnline"`
	LastSeen       *time.Time `json:"lastSeen,omitempty"`
	At             time.Time  `json:"at"`
}
