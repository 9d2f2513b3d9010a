package domain

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var t0 = time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)

func newTextMessage() *ChatMessage {
	return &ChatMessage{
		ID: "m1", ConversationID: "c1", Seq: 1, ClientID: "k1", SenderID: "alice",
		Kind: KindText, Body: Body{Text: "hello"}, PreviewText: "hello",
		DeleteState: DeleteNone, CreatedAt: t0,
	}
}

// 同一個 emoji 兩次等於取消
func TestToggleReaction(t *testing.T) {
	m := newTextMessage()
	m.ToggleReaction("bob", "👍", t0)
	got := m.ToggleReaction("bob", "👍", t0.Add(time.Second))
	assert.Empty(t, got)

	m.ToggleReaction("bob", "👍", t0)
	got = m.ToggleReaction("bob", "❤️", t0.Add(time.Second))
	require.Len(t, got, 1)
	assert.Equal(t, "❤️", got[0].Emoji)

	m.ToggleReaction("carol", "👍", t0)
	assert.Len(t, m.Reactions, 2)
}

func TestUpsertReceiptLatestWins(t *testing.T) {
	m := newTextMessage()
	list, changed := m.UpsertReceipt(ReceiptRead, "bob", "", t0.Add(2*time.Second))
	assert.True(t, changed)
	require.Len(t, list, 1)
	assert.Equal(t, "unknown", list[0].DeviceID)

	_, changed = m.UpsertReceipt(ReceiptRead, "bob", "tab", t0.Add(time.Second))
	assert.False(t, changed)
	assert.Equal(t, t0.Add(2*time.Second), m.ReadBy[0].At)

	_, changed = m.UpsertReceipt(ReceiptRead, "bob", "tab", t0.Add(3*time.Second))
	assert.True(t, changed)
	assert.Equal(t, "tab", m.ReadBy[0].DeviceID)
	assert.Empty(t, m.DeliveredTo)
}

func TestReadStartsEphemeralCountdown(t *testing.T) {
	m := newTextMessage()
	m.Ephemeral = &Ephemeral{Enabled: true, TTLSeconds: 30, StartAfterRead: true}

	m.UpsertReceipt(ReceiptDelivered, "bob", "p", t0)
	assert.Nil(t, m.Ephemeral.ExpireAt)

	m.UpsertReceipt(ReceiptRead, "alice", "p", t0)
	assert.Nil(t, m.Ephemeral.ExpireAt, "sender reading own message does not start it")

	m.UpsertReceipt(ReceiptRead, "bob", "p", t0)
	require.NotNil(t, m.Ephemeral.ExpireAt)
	assert.Equal(t, t0.Add(30*time.Second), *m.Ephemeral.ExpireAt)

	m.UpsertReceipt(ReceiptRead, "carol", "p", t0.Add(time.Minute))
	assert.Equal(t, t0.Add(30*time.Second), *m.Ephemeral.ExpireAt)

	assert.True(t, m.Expired(t0.Add(31*time.Second)))
	assert.Empty(t, m.ViewFor("bob", t0.Add(31*time.Second)).Text)
}

func TestTombstoneKeepsOrdering(t *testing.T) {
	m := newTextMessage()
	m.ToggleReaction("bob", "👍", t0)
	m.Tombstone("alice", t0)

	assert.Equal(t, DeleteForEveryone, m.DeleteState)
	assert.Equal(t, int64(1), m.Seq)
	assert.Equal(t, "m1", m.ID)
	assert.Empty(t, m.Text)
	assert.Empty(t, m.Reactions)
}

func TestViewForHiddenViewer(t *testing.T) {
	m := newTextMessage()
	assert.True(t, m.HideFor("bob"))
	assert.False(t, m.HideFor("bob"))

	v := m.ViewFor("bob", t0)
	assert.Equal(t, DeleteForMe, v.DeleteState)
	assert.Empty(t, v.Text)

	other := m.ViewFor("carol", t0)
	assert.Equal(t, "hello", other.Text)
	assert.Equal(t, DeleteNone, other.DeleteState)
}

func TestApplyEdit(t *testing.T) {
	m := newTextMessage()
	text := "hello again"
	require.NoError(t, m.ApplyEdit(EditPatch{Text: &text}, t0))
	assert.True(t, m.IsEdited)
	assert.Equal(t, "hello again", m.PreviewText)

	styled := &StyledText{Text: "x", BackgroundColor: "#0", FontColor: "#1", FontSize: 12}
	assert.Error(t, m.ApplyEdit(EditPatch{StyledText: styled}, t0), "styled text on a text message")

	m.Tombstone("alice", t0)
	assert.Error(t, m.ApplyEdit(EditPatch{Text: &text}, t0))
}

func TestSetStarredAndPinned(t *testing.T) {
	m := newTextMessage()
	assert.True(t, m.SetStarred("bob", true))
	assert.False(t, m.SetStarred("bob", true))
	assert.True(t, m.ViewFor("bob", t0).Starred)
	assert.False(t, m.ViewFor("carol", t0).Starred)
	assert.True(t, m.SetStarred("bob", false))

	assert.True(t, m.SetPinned(true, "bob", t0))
	assert.False(t, m.SetPinned(true, "bob", t0))
	assert.Equal(t, "bob", m.PinnedBy)
}
