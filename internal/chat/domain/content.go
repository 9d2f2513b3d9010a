package domain

import (
	"fmt"
	"strings"
	"unicode/utf8"

	errprocess "chat_delivery_service/pkg/err"
)

// Kind message kind, closed set
type Kind string

const (
	KindText       Kind = "text"
	KindStyledText Kind = "styled_text"
	KindVoice      Kind = "voice"
	KindSticker    Kind = "sticker"
	KindContacts   Kind = "contacts"
	KindPoll       Kind = "poll"
	KindEvent      Kind = "event"
	KindSystem     Kind = "system"
)

// limits
const (
	MaxAttachments   = 20
	MaxContacts      = 50
	MaxPollOptions   = 20
	MaxVoiceMs       = 3_600_000
	MinFontSize      = 10
	MaxFontSize      = 120
	PreviewMaxRunes  = 200
	EncryptedPreview = "🔒 Encrypted message"
)

// StyledText text with presentation attributes
type StyledText struct {
	Text            string `bson:"text" json:"text"`
	BackgroundColor string `bson:"background_color" json:"backgroundColor"`
	FontSize        int    `bson:"font_size" json:"fontSize"`
	FontColor       string `bson:"font_color" json:"fontColor"`
	FontFamily      string `bson:"font_family,omitempty" json:"fontFamily,omitempty"`
}

// Voice recorded audio, the audio file itself travels as an attachment
type Voice struct {
	DurationMs int       `bson:"duration_ms" json:"durationMs"`
	Waveform   []float64 `bson:"waveform,omitempty" json:"waveform,omitempty"`
	Codec      string    `bson:"codec,omitempty" json:"codec,omitempty"`
}

// Sticker image reference
type Sticker struct {
	ID     string `bson:"id" json:"id"`
	URI    string `bson:"uri" json:"uri"`
	Text   string `bson:"text,omitempty" json:"text,omitempty"`
	Width  int    `bson:"width,omitempty" json:"width,omitempty"`
	Height int    `bson:"height,omitempty" json:"height,omitempty"`
}

// Contact shared contact card
type Contact struct {
	ID    string `bson:"id" json:"id"`
	Name  string `bson:"name" json:"name"`
	Phone string `bson:"phone" json:"phone"`
}

// PollOption single option
type PollOption struct {
	ID    string `bson:"id" json:"id"`
	Text  string `bson:"text" json:"text"`
	Votes int    `bson:"votes,omitempty" json:"votes,omitempty"`
}

// Poll question with options
type Poll struct {
	ID            string       `bson:"id,omitempty" json:"id,omitempty"`
	Question      string       `bson:"question" json:"question"`
	Options       []PollOption `bson:"options" json:"options"`
	AllowMultiple bool         `bson:"allow_multiple,omitempty" json:"allowMultiple,omitempty"`
	ExpiresAt     *int64       `bson:"expires_at,omitempty" json:"expiresAt,omitempty"`
}

// CalendarEvent calendar event
type CalendarEvent struct {
	ID          string `bson:"id,omitempty" json:"id,omitempty"`
	Title       string `bson:"title" json:"title"`
	Description string `bson:"description,omitempty" json:"description,omitempty"`
	Location    string `bson:"location,omitempty" json:"location,omitempty"`
	StartsAt    int64  `bson:"starts_at" json:"startsAt"`
	EndsAt      *int64 `bson:"ends_at,omitempty" json:"endsAt,omitempty"`
}

// Attachment uploaded file reference, uploads are handled elsewhere
type Attachment struct {
	ID           string `bson:"id" json:"id"`
	URL          string `bson:"url" json:"url"`
	OriginalName string `bson:"original_name" json:"originalName"`
	MimeType     string `bson:"mime_type" json:"mimeType"`
	Size         int64  `bson:"size" json:"size"`
	Kind         string `bson:"kind,omitempty" json:"kind,omitempty"`
	Width        int    `bson:"width,omitempty" json:"width,omitempty"`
	Height       int    `bson:"height,omitempty" json:"height,omitempty"`
	DurationMs   int    `bson:"duration_ms,omitempty" json:"durationMs,omitempty"`
	ThumbURL     string `bson:"thumb_url,omitempty" json:"thumbUrl,omitempty"`
}

// Body flat wire and storage form of a message payload, one optional slot per kind.
// Only Content values produced by DecodeContent are guaranteed consistent with a Kind.
type Body struct {
	Text           string                 `bson:"text,omitempty" json:"text,omitempty"`
	StyledText     *StyledText            `bson:"styled_text,omitempty" json:"styledText,omitempty"`
	Voice          *Voice                 `bson:"voice,omitempty" json:"voice,omitempty"`
	Sticker        *Sticker               `bson:"sticker,omitempty" json:"sticker,omitempty"`
	Contacts       []Contact              `bson:"contacts,omitempty" json:"contacts,omitempty"`
	Poll           *Poll                  `bson:"poll,omitempty" json:"poll,omitempty"`
	Event          *CalendarEvent         `bson:"event,omitempty" json:"event,omitempty"`
	Attachments    []Attachment           `bson:"attachments,omitempty" json:"attachments,omitempty"`
	Ciphertext     string                 `bson:"ciphertext,omitempty" json:"ciphertext,omitempty"`
	EncryptionMeta map[string]interface{} `bson:"encryption_meta,omitempty" json:"encryptionMeta,omitempty"`
}

// Encrypted opaque payload present
func (b Body) Encrypted() bool {
	return b.Ciphertext != "" || len(b.EncryptionMeta) > 0
}

// Content validated payload of one kind
type Content interface {
	Kind() Kind
	Body() Body
	isContent()
}

// TextContent plain text and or attachments
type TextContent struct {
	Text        string
	Attachments []Attachment
}

// StyledTextContent styled text
type StyledTextContent struct {
	Styled      StyledText
	Attachments []Attachment
}

// VoiceContent voice note
type VoiceContent struct {
	Voice       Voice
	Attachments []Attachment
}

// StickerContent sticker
type StickerContent struct{ Sticker Sticker }

// ContactsContent contact cards
type ContactsContent struct{ Contacts []Contact }

// PollContent poll
type PollContent struct{ Poll Poll }

// EventContent calendar event
type EventContent struct{ Event CalendarEvent }

// SystemContent system notice
type SystemContent struct{ Text string }

// EncryptedContent opaque payload, never inspected or previewed
type EncryptedContent struct {
	Of          Kind
	Ciphertext  string
	Meta        map[string]interface{}
	Attachments []Attachment
}

func (TextContent) Kind() Kind       { return KindText }
func (StyledTextContent) Kind() Kind { return KindStyledText }
func (VoiceContent) Kind() Kind      { return KindVoice }
func (StickerContent) Kind() Kind    { return KindSticker }
func (ContactsContent) Kind() Kind   { return KindContacts }
func (PollContent) Kind() Kind       { return KindPoll }
func (EventContent) Kind() Kind      { return KindEvent }
func (SystemContent) Kind() Kind     { return KindSystem }
func (c EncryptedContent) Kind() Kind {
	return c.Of
}

func (TextContent) isContent()       {}
func (StyledTextContent) isContent() {}
func (VoiceContent) isContent()      {}
func (StickerContent) isContent()    {}
func (ContactsContent) isContent()   {}
func (PollContent) isContent()       {}
func (EventContent) isContent()      {}
func (SystemContent) isContent()     {}
func (EncryptedContent) isContent()  {}

func (c TextContent) Body() Body { return Body{Text: c.Text, Attachments: c.Attachments} }
func (c StyledTextContent) Body() Body {
	s := c.Styled
	return Body{StyledText: &s, Attachments: c.Attachments}
}
func (c VoiceContent) Body() Body {
	v := c.Voice
	return Body{Voice: &v, Attachments: c.Attachments}
}
func (c StickerContent) Body() Body {
	s := c.Sticker
	return Body{Sticker: &s}
}
func (c ContactsContent) Body() Body { return Body{Contacts: c.Contacts} }
func (c PollContent) Body() Body {
	p := c.Poll
	return Body{Poll: &p}
}
func (c EventContent) Body() Body {
	e := c.Event
	return Body{Event: &e}
}
func (c SystemContent) Body() Body { return Body{Text: c.Text} }
func (c EncryptedContent) Body() Body {
	return Body{Ciphertext: c.Ciphertext, EncryptionMeta: c.Meta, Attachments: c.Attachments}
}

// ParseKind rejects kinds outside the closed set
func ParseKind(s string) (Kind, error) {
	switch k := Kind(s); k {
	case KindText, KindStyledText, KindVoice, KindSticker, KindContacts, KindPoll, KindEvent, KindSystem:
		return k, nil
	default:
		return "", errprocess.Validation("unsupported kind: %q", s)
	}
}

// DecodeContent validates b against kind: the kind's own payload must be present
// and no other kind's payload may be. Encrypted bodies skip content checks.
func DecodeContent(kind Kind, b Body) (Content, error) {
	if _, err := ParseKind(string(kind)); err != nil {
		return nil, err
	}
	if err := validateAttachments(b.Attachments); err != nil {
		return nil, err
	}
	if b.Encrypted() {
		return EncryptedContent{Of: kind, Ciphertext: b.Ciphertext, Meta: b.EncryptionMeta, Attachments: b.Attachments}, nil
	}
	if err := rejectForeign(kind, b); err != nil {
		return nil, err
	}

	switch kind {
	case KindText:
		if strings.TrimSpace(b.Text) == "" && len(b.Attachments) == 0 {
			return nil, errprocess.Validation("text messages require text or attachments")
		}
		return TextContent{Text: b.Text, Attachments: b.Attachments}, nil
	case KindStyledText:
		if b.StyledText == nil {
			return nil, errprocess.Validation("styled_text requires styledText payload")
		}
		if err := validateStyled(*b.StyledText); err != nil {
			return nil, err
		}
		return StyledTextContent{Styled: *b.StyledText, Attachments: b.Attachments}, nil
	case KindVoice:
		if b.Voice == nil {
			return nil, errprocess.Validation("voice requires voice payload")
		}
		if b.Voice.DurationMs < 1 || b.Voice.DurationMs > MaxVoiceMs {
			return nil, errprocess.Validation("voice.durationMs must be within 1..%d", MaxVoiceMs)
		}
		return VoiceContent{Voice: *b.Voice, Attachments: b.Attachments}, nil
	case KindSticker:
		if b.Sticker == nil {
			return nil, errprocess.Validation("sticker requires sticker payload")
		}
		if b.Sticker.ID == "" || b.Sticker.URI == "" {
			return nil, errprocess.Validation("sticker.id and sticker.uri are required")
		}
		return StickerContent{Sticker: *b.Sticker}, nil
	case KindContacts:
		if len(b.Contacts) == 0 {
			return nil, errprocess.Validation("contacts requires contacts[] payload")
		}
		if len(b.Contacts) > MaxContacts {
			return nil, errprocess.Validation("at most %d contacts", MaxContacts)
		}
		for i, c := range b.Contacts {
			if c.ID == "" || c.Name == "" || c.Phone == "" {
				return nil, errprocess.Validation("contacts[%d] requires id, name and phone", i)
			}
		}
		return ContactsContent{Contacts: b.Contacts}, nil
	case KindPoll:
		if b.Poll == nil {
			return nil, errprocess.Validation("poll requires poll payload")
		}
		if err := validatePoll(*b.Poll); err != nil {
			return nil, err
		}
		return PollContent{Poll: *b.Poll}, nil
	case KindEvent:
		if b.Event == nil {
			return nil, errprocess.Validation("event requires event payload")
		}
		if strings.TrimSpace(b.Event.Title) == "" || b.Event.StartsAt <= 0 {
			return nil, errprocess.Validation("event.title and event.startsAt are required")
		}
		if b.Event.EndsAt != nil && *b.Event.EndsAt < b.Event.StartsAt {
			return nil, errprocess.Validation("event.endsAt precedes startsAt")
		}
		return EventContent{Event: *b.Event}, nil
	case KindSystem:
		if strings.TrimSpace(b.Text) == "" {
			return nil, errprocess.Validation("system requires text")
		}
		return SystemContent{Text: b.Text}, nil
	}
	return nil, errprocess.Validation("unsupported kind: %q", kind)
}

// rejectForeign text belongs to text and system, attachments are shared
func rejectForeign(kind Kind, b Body) error {
	slots := []struct {
		owner   Kind
		present bool
		name    string
	}{
		{KindStyledText, b.StyledText != nil, "styledText"},
		{KindVoice, b.Voice != nil, "voice"},
		{KindSticker, b.Sticker != nil, "sticker"},
		{KindContacts, len(b.Contacts) > 0, "contacts"},
		{KindPoll, b.Poll != nil, "poll"},
		{KindEvent, b.Event != nil, "event"},
	}
	for _, s := range slots {
		if s.present && s.owner != kind {
			return errprocess.Validation("%s not allowed for kind %s", s.name, kind)
		}
	}
	if b.Text != "" && kind != KindText && kind != KindSystem {
		return errprocess.Validation("text not allowed for kind %s", kind)
	}
	if len(b.Attachments) > 0 && (kind == KindSticker || kind == KindContacts || kind == KindPoll || kind == KindEvent || kind == KindSystem) {
		return errprocess.Validation("attachments not allowed for kind %s", kind)
	}
	return nil
}

func validateAttachments(as []Attachment) error {
	if len(as) > MaxAttachments {
		return errprocess.Validation("at most %d attachments", MaxAttachments)
	}
	for i, a := range as {
		if a.ID == "" || a.URL == "" || a.MimeType == "" {
			return errprocess.Validation("attachments[%d] requires id, url and mimeType", i)
		}
		if a.Size < 0 {
			return errprocess.Validation("attachments[%d].size is negative", i)
		}
	}
	return nil
}

func validateStyled(s StyledText) error {
	if strings.TrimSpace(s.Text) == "" {
		return errprocess.Validation("styledText.text is required")
	}
	if s.BackgroundColor == "" || s.FontColor == "" {
		return errprocess.Validation("styledText colors are required")
	}
	if s.FontSize < MinFontSize || s.FontSize > MaxFontSize {
		return errprocess.Validation("styledText.fontSize must be within %d..%d", MinFontSize, MaxFontSize)
	}
	return nil
}

func validatePoll(p Poll) error {
	if strings.TrimSpace(p.Question) == "" {
		return errprocess.Validation("poll.question is required")
	}
	if len(p.Options) < 2 || len(p.Options) > MaxPollOptions {
		return errprocess.Validation("poll needs 2..%d options", MaxPollOptions)
	}
	seen := make(map[string]struct{}, len(p.Options))
	for i, o := range p.Options {
		if o.ID == "" || strings.TrimSpace(o.Text) == "" {
			return errprocess.Validation("poll.options[%d] requires id and text", i)
		}
		if _, dup := seen[o.ID]; dup {
			return errprocess.Validation("poll option id %q repeated", o.ID)
		}
		seen[o.ID] = struct{}{}
	}
	return nil
}

// Preview short redacted summary for notifications and conversation lists
func Preview(c Content) string {
	switch v := c.(type) {
	case EncryptedContent:
		return EncryptedPreview
	case TextContent:
		if v.Text == "" {
			return fmt.Sprintf("📎 %d attachment(s)", len(v.Attachments))
		}
		return truncateRunes(v.Text, PreviewMaxRunes)
	case StyledTextContent:
		return truncateRunes(v.Styled.Text, PreviewMaxRunes)
	case VoiceContent:
		return "🎤 Voice message"
	case StickerContent:
		return "Sticker"
	case ContactsContent:
		if len(v.Contacts) > 1 {
			return "👤 Contacts"
		}
		return "👤 Contact"
	case PollContent:
		return "📊 " + v.Poll.Question
	case EventContent:
		return "📅 " + v.Event.Title
	case SystemContent:
		return truncateRunes(v.Text, PreviewMaxRunes)
	}
	return ""
}

func truncateRunes(s string, n int) string {
	if utf8.RuneCountInString(s) <= n {
		return s
	}
	r := []rune(s)
	return string(r[:n])
}
