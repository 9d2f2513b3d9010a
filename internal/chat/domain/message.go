package domain

import (
	"sort"
	"time"

	errprocess "chat_delivery_service/pkg/err"
)

// DeleteState message delete state
type DeleteState string

const (
	DeleteNone        DeleteState = "none"
	DeleteForMe       DeleteState = "deleted_for_me"
	DeleteForEveryone DeleteState = "deleted_for_everyone"
)

// ReceiptType delivered / read / played
type ReceiptType string

const (
	ReceiptDelivered ReceiptType = "delivered"
	ReceiptRead      ReceiptType = "read"
	ReceiptPlayed    ReceiptType = "played"
)

// ParseReceiptType validates a wire value
func ParseReceiptType(s string) (ReceiptType, error) {
	switch t := ReceiptType(s); t {
	case ReceiptDelivered, ReceiptRead, ReceiptPlayed:
		return t, nil
	}
	return "", errprocess.Validation("unsupported receipt type: %q", s)
}

// Reaction one per user
type Reaction struct {
	UserID string    `bson:"user_id" json:"userId"`
	Emoji  string    `bson:"emoji" json:"emoji"`
	At     time.Time `bson:"at" json:"at"`
}

// Receipt one per user per type, latest wins
type Receipt struct {
	UserID   string    `bson:"user_id" json:"userId"`
	DeviceID string    `bson:"device_id" json:"deviceId"`
	At       time.Time `bson:"at" json:"at"`
}

// Ephemeral disappearing message settings
type Ephemeral struct {
	Enabled        bool       `bson:"enabled" json:"enabled"`
	TTLSeconds     int        `bson:"ttl_seconds" json:"ttlSeconds"`
	StartAfterRead bool       `bson:"start_after_read" json:"startAfterRead"`
	ExpireAt       *time.Time `bson:"expire_at,omitempty" json:"expireAt,omitempty"`
}

// ChatMessage 表示一則聊天訊息
type ChatMessage struct {
	ID             string `bson:"_id" json:"id"`
	ConversationID string `bson:"conversation_id" json:"conversationId"`
	Seq            int64  `bson:"seq" json:"seq"`
	ClientID       string `bson:"client_id" json:"clientId"`
	SenderID       string `bson:"sender_id" json:"senderId"`
	SenderDeviceID string `bson:"sender_device_id,omitempty" json:"senderDeviceId,omitempty"`
	Kind           Kind   `bson:"kind" json:"kind"`
	Body           `bson:",inline"`
	ReplyToID      string      `bson:"reply_to_id,omitempty" json:"replyToId,omitempty"`
	ThreadID       string      `bson:"thread_id,omitempty" json:"threadId,omitempty"`
	PreviewText    string      `bson:"preview_text,omitempty" json:"previewText,omitempty"`
	IsEdited       bool        `bson:"is_edited" json:"isEdited"`
	EditedAt       *time.Time  `bson:"edited_at,omitempty" json:"editedAt,omitempty"`
	DeleteState    DeleteState `bson:"delete_state" json:"deleteState"`
	DeletedBy      string      `bson:"deleted_by,omitempty" json:"deletedBy,omitempty"`
	DeletedAt      *time.Time  `bson:"deleted_at,omitempty" json:"deletedAt,omitempty"`
	// HiddenFor viewers that deleted the message for themselves only
	HiddenFor   []string   `bson:"hidden_for,omitempty" json:"-"`
	Reactions   []Reaction `bson:"reactions,omitempty" json:"reactions"`
	DeliveredTo []Receipt  `bson:"delivered_to,omitempty" json:"deliveredTo"`
	ReadBy      []Receipt  `bson:"read_by,omitempty" json:"readBy"`
	PlayedBy    []Receipt  `bson:"played_by,omitempty" json:"playedBy"`
	Ephemeral   *Ephemeral `bson:"ephemeral,omitempty" json:"ephemeral,omitempty"`
	Pinned      bool       `bson:"pinned,omitempty" json:"pinned,omitempty"`
	PinnedBy    string     `bson:"pinned_by,omitempty" json:"pinnedBy,omitempty"`
	PinnedAt    *time.Time `bson:"pinned_at,omitempty" json:"pinnedAt,omitempty"`
	StarredBy   []string   `bson:"starred_by,omitempty" json:"-"`
	// Starred viewer specific, filled by ViewFor
	Starred   bool      `bson:"-" json:"starred,omitempty"`
	CreatedAt time.Time `bson:"created_at" json:"createdAt"`
	UpdatedAt time.Time `bson:"updated_at" json:"updatedAt"`
	// Version bumped on every mutation, guards read-modify-write
	Version int64 `bson:"version" json:"version"`
}

// SendAck returned to the sender once the message is durable
type SendAck struct {
	ClientID  string    `json:"clientId"`
	ServerID  string    `json:"serverId"`
	Seq       int64     `json:"seq"`
	CreatedAt time.Time `json:"createdAt"`
	Duplicate bool      `json:"duplicate,omitempty"`
}

// Ack build the send ack
func (m *ChatMessage) Ack() SendAck {
	return SendAck{ClientID: m.ClientID, ServerID: m.ID, Seq: m.Seq, CreatedAt: m.CreatedAt}
}

// Clone deep enough copy for read-modify-write on shared memory stores
func (m *ChatMessage) Clone() *ChatMessage {
	c := *m
	c.HiddenFor = append([]string(nil), m.HiddenFor...)
	c.Reactions = append([]Reaction(nil), m.Reactions...)
	c.DeliveredTo = append([]Receipt(nil), m.DeliveredTo...)
	c.ReadBy = append([]Receipt(nil), m.ReadBy...)
	c.PlayedBy = append([]Receipt(nil), m.PlayedBy...)
	c.StarredBy = append([]string(nil), m.StarredBy...)
	c.Attachments = append([]Attachment(nil), m.Attachments...)
	c.Contacts = append([]Contact(nil), m.Contacts...)
	if m.Ephemeral != nil {
		e := *m.Ephemeral
		c.Ephemeral = &e
	}
	return &c
}

// IsDeletedForEveryone tombstoned
func (m *ChatMessage) IsDeletedForEveryone() bool {
	return m.DeleteState == DeleteForEveryone
}

// HiddenForUser deleted_for_me overlay
func (m *ChatMessage) HiddenForUser(userID string) bool {
	return containsString(m.HiddenFor, userID)
}

// ToggleReaction same emoji clears, a different emoji replaces. Returns the resulting list.
func (m *ChatMessage) ToggleReaction(userID, emoji string, at time.Time) []Reaction {
	out := make([]Reaction, 0, len(m.Reactions)+1)
	cleared := false
	for _, r := range m.Reactions {
		if r.UserID != userID {
			out = append(out, r)
			continue
		}
		if r.Emoji == emoji {
			cleared = true
		}
	}
	if !cleared {
		out = append(out, Reaction{UserID: userID, Emoji: emoji, At: at})
	}
	m.Reactions = out
	return out
}

// UpsertReceipt latest timestamp per user wins. Returns the list for t and whether it changed.
func (m *ChatMessage) UpsertReceipt(t ReceiptType, userID, deviceID string, at time.Time) ([]Receipt, bool) {
	if deviceID == "" {
		deviceID = "unknown"
	}
	list := m.receipts(t)
	changed := true
	found := false
	for i := range *list {
		if (*list)[i].UserID != userID {
			continue
		}
		found = true
		if !at.After((*list)[i].At) {
			changed = false
			break
		}
		(*list)[i] = Receipt{UserID: userID, DeviceID: deviceID, At: at}
	}
	if !found {
		*list = append(*list, Receipt{UserID: userID, DeviceID: deviceID, At: at})
	}

	if t == ReceiptRead && m.Ephemeral != nil && m.Ephemeral.Enabled && m.Ephemeral.StartAfterRead &&
		m.Ephemeral.ExpireAt == nil && userID != m.SenderID {
		exp := at.Add(time.Duration(m.Ephemeral.TTLSeconds) * time.Second)
		m.Ephemeral.ExpireAt = &exp
		changed = true
	}
	return *list, changed
}

// Receipts the list for a receipt type
func (m *ChatMessage) Receipts(t ReceiptType) []Receipt {
	return *m.receipts(t)
}

func (m *ChatMessage) receipts(t ReceiptType) *[]Receipt {
	switch t {
	case ReceiptRead:
		return &m.ReadBy
	case ReceiptPlayed:
		return &m.PlayedBy
	default:
		return &m.DeliveredTo
	}
}

// Tombstone clears content, keeps identity and ordering metadata
func (m *ChatMessage) Tombstone(by string, at time.Time) {
	m.Body = Body{}
	m.PreviewText = ""
	m.Reactions = nil
	m.Pinned = false
	m.PinnedBy = ""
	m.PinnedAt = nil
	m.DeleteState = DeleteForEveryone
	m.DeletedBy = by
	m.DeletedAt = &at
}

// HideFor deleted_for_me, returns false when already hidden
func (m *ChatMessage) HideFor(userID string) bool {
	if m.HiddenForUser(userID) {
		return false
	}
	m.HiddenFor = append(m.HiddenFor, userID)
	return true
}

// EditPatch partial content update, nil fields are left alone
type EditPatch struct {
	Text           *string                `json:"text,omitempty"`
	StyledText     *StyledText            `json:"styledText,omitempty"`
	Attachments    *[]Attachment          `json:"attachments,omitempty"`
	Ciphertext     *string                `json:"ciphertext,omitempty"`
	EncryptionMeta map[string]interface{} `json:"encryptionMeta,omitempty"`
}

// Empty nothing to apply
func (p EditPatch) Empty() bool {
	return p.Text == nil && p.StyledText == nil && p.Attachments == nil && p.Ciphertext == nil && p.EncryptionMeta == nil
}

// ApplyEdit validates the patched body against the message kind before mutating
func (m *ChatMessage) ApplyEdit(p EditPatch, at time.Time) error {
	if m.IsDeletedForEveryone() {
		return errprocess.Validation("message is deleted")
	}
	if p.Empty() {
		return errprocess.Validation("edit has no changes")
	}
	b := m.Body
	if p.Text != nil {
		b.Text = *p.Text
	}
	if p.StyledText != nil {
		s := *p.StyledText
		b.StyledText = &s
	}
	if p.Attachments != nil {
		b.Attachments = *p.Attachments
	}
	if p.Ciphertext != nil {
		b.Ciphertext = *p.Ciphertext
	}
	if p.EncryptionMeta != nil {
		b.EncryptionMeta = p.EncryptionMeta
	}

	c, err := DecodeContent(m.Kind, b)
	if err != nil {
		return err
	}
	m.Body = c.Body()
	m.PreviewText = Preview(c)
	m.IsEdited = true
	m.EditedAt = &at
	return nil
}

// SetPinned returns false when already in the requested state
func (m *ChatMessage) SetPinned(pinned bool, by string, at time.Time) bool {
	if m.Pinned == pinned {
		return false
	}
	m.Pinned = pinned
	if pinned {
		m.PinnedBy = by
		m.PinnedAt = &at
	} else {
		m.PinnedBy = ""
		m.PinnedAt = nil
	}
	return true
}

// SetStarred per user, returns false when unchanged
func (m *ChatMessage) SetStarred(userID string, starred bool) bool {
	has := containsString(m.StarredBy, userID)
	switch {
	case starred && !has:
		m.StarredBy = append(m.StarredBy, userID)
		return true
	case !starred && has:
		out := m.StarredBy[:0]
		for _, u := range m.StarredBy {
			if u != userID {
				out = append(out, u)
			}
		}
		m.StarredBy = out
		return true
	}
	return false
}

// Expired ephemeral content past its deadline
func (m *ChatMessage) Expired(now time.Time) bool {
	return m.Ephemeral != nil && m.Ephemeral.Enabled && m.Ephemeral.ExpireAt != nil && !now.Before(*m.Ephemeral.ExpireAt)
}

// ViewFor the record as seen by viewer: deleted_for_me and expired messages read as tombstones
func (m *ChatMessage) ViewFor(viewer string, now time.Time) *ChatMessage {
	v := m.Clone()
	switch {
	case m.HiddenForUser(viewer):
		v.Body = Body{}
		v.PreviewText = ""
		v.Reactions = nil
		v.DeleteState = DeleteForMe
	case m.Expired(now) && !m.IsDeletedForEveryone():
		v.Body = Body{}
		v.PreviewText = ""
	}
	v.Starred = containsString(m.StarredBy, viewer)
	v.HiddenFor = nil
	v.StarredBy = nil
	v.Pinned = m.Pinned && v.DeleteState != DeleteForMe
	return v
}

// SortBySeq ascending
func SortBySeq(msgs []*ChatMessage) {
	sort.Slice(msgs, func(i, j int) bool { return msgs[i].Seq < msgs[j].Seq })
}

func containsString(s []string, v string) bool {
	for _, x := range s {
		if x == v {
			return true
		}
	}
	return false
}
