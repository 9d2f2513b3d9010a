package repository

import (
	"context"
	"fmt"
	"testing"
	"time"

	"chat_delivery_service/internal/chat/domain"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var t0 = time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)

func msg(conv string, seq int64) *domain.ChatMessage {
	return &domain.ChatMessage{
		ID:             fmt.Sprintf("%s-%d", conv, seq),
		ConversationID: conv,
		Seq:            seq,
		ClientID:       fmt.Sprintf("client-%d", seq),
		SenderID:       "alice",
		Kind:           domain.KindText,
		Body:           domain.Body{Text: "hi"},
		DeleteState:    domain.DeleteNone,
		CreatedAt:      t0.Add(time.Duration(seq) * time.Second),
	}
}

func TestMemoryMessageUniqueKeys(t *testing.T) {
	ctx := context.Background()
	repo := NewMemoryMessageRepository()
	require.NoError(t, repo.Insert(ctx, msg("c1", 1)))

	sameSeq := msg("c1", 1)
	sameSeq.ID, sameSeq.ClientID = "other", "other"
	assert.ErrorIs(t, repo.Insert(ctx, sameSeq), ErrDuplicateMessage)

	sameClient := msg("c1", 2)
	sameClient.ClientID = "client-1"
	assert.ErrorIs(t, repo.Insert(ctx, sameClient), ErrDuplicateMessage)

	// 不同會話可以重用 seq 與 clientId
	require.NoError(t, repo.Insert(ctx, msg("c2", 1)))

	got, err := repo.FindByClientID(ctx, "c1", "client-1")
	require.NoError(t, err)
	assert.Equal(t, "c1-1", got.ID)

	_, err = repo.FindByID(ctx, "c2", "c1-1")
	assert.ErrorIs(t, err, ErrMessageNotFound)
}

func TestMemoryFindBySeqsAndRange(t *testing.T) {
	ctx := context.Background()
	repo := NewMemoryMessageRepository()
	for _, s := range []int64{1, 2, 3, 5} {
		require.NoError(t, repo.Insert(ctx, msg("c1", s)))
	}

	got, err := repo.FindBySeqs(ctx, "c1", []int64{5, 4, 2, 2})
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, int64(2), got[0].Seq)
	assert.Equal(t, int64(5), got[1].Seq)

	recent, err := repo.ListRange(ctx, "c1", 0, 0, 2)
	require.NoError(t, err)
	assert.Equal(t, []int64{3, 5}, seqsOf(recent))

	before, err := repo.ListRange(ctx, "c1", 3, 0, 10)
	require.NoError(t, err)
	assert.Equal(t, []int64{1, 2}, seqsOf(before))

	after, err := repo.ListRange(ctx, "c1", 0, 1, 2)
	require.NoError(t, err)
	assert.Equal(t, []int64{2, 3}, seqsOf(after))
}

func seqsOf(ms []*domain.ChatMessage) []int64 {
	out := make([]int64, len(ms))
	for i, m := range ms {
		out[i] = m.Seq
	}
	return out
}

func TestMemoryReplaceVersionGuard(t *testing.T) {
	ctx := context.Background()
	repo := NewMemoryMessageRepository()
	require.NoError(t, repo.Insert(ctx, msg("c1", 1)))

	a, _ := repo.FindByID(ctx, "c1", "c1-1")
	b, _ := repo.FindByID(ctx, "c1", "c1-1")

	a.ToggleReaction("bob", "👍", t0)
	require.NoError(t, repo.Replace(ctx, a, a.Version))
	assert.Equal(t, int64(1), a.Version)

	b.ToggleReaction("carol", "👍", t0)
	assert.ErrorIs(t, repo.Replace(ctx, b, b.Version), ErrVersionConflict)

	stored, _ := repo.FindByID(ctx, "c1", "c1-1")
	assert.Len(t, stored.Reactions, 1)
}

func TestMemoryReturnsCopies(t *testing.T) {
	ctx := context.Background()
	repo := NewMemoryMessageRepository()
	m := msg("c1", 1)
	require.NoError(t, repo.Insert(ctx, m))
	m.Text = "mutated"

	got, _ := repo.FindByID(ctx, "c1", "c1-1")
	assert.Equal(t, "hi", got.Text)
}

func TestMemoryCallActiveUniqueness(t *testing.T) {
	ctx := context.Background()
	repo := NewMemoryCallRepository()
	first := domain.NewCallSession("c1", "call1", "alice", []string{"bob"}, domain.MediaVoice, t0)
	require.NoError(t, repo.Create(ctx, first))

	assert.ErrorIs(t, repo.Create(ctx, domain.NewCallSession("c1", "call1", "alice", nil, "", t0)), ErrDuplicateCall)
	assert.ErrorIs(t, repo.Create(ctx, domain.NewCallSession("c1", "call2", "bob", nil, "", t0)), ErrActiveCallExists)

	active, err := repo.FindActive(ctx, "c1")
	require.NoError(t, err)
	_, err = active.Hangup("alice", "", t0)
	require.NoError(t, err)
	require.NoError(t, repo.Replace(ctx, active, active.Version))

	_, err = repo.FindActive(ctx, "c1")
	assert.ErrorIs(t, err, ErrCallNotFound)
	require.NoError(t, repo.Create(ctx, domain.NewCallSession("c1", "call2", "bob", nil, "", t0.Add(time.Minute))))

	calls, err := repo.ListForUser(ctx, "bob", time.Time{}, 10)
	require.NoError(t, err)
	require.Len(t, calls, 2)
	assert.Equal(t, "call2", calls[0].CallID)
}

func TestMemoryThreadOnePerRoot(t *testing.T) {
	repo := NewMemoryThreadRepository()
	ctx := context.Background()

	first, created, err := repo.Create(ctx, &domain.Thread{ID: "t1", ConversationID: "c1", RootMessageID: "m1", CreatedAt: t0})
	require.NoError(t, err)
	assert.True(t, created)

	again, created, err := repo.Create(ctx, &domain.Thread{ID: "t2", ConversationID: "c1", RootMessageID: "m1", CreatedAt: t0})
	require.NoError(t, err)
	assert.False(t, created)
	assert.Equal(t, first.ID, again.ID)

	_, created, err = repo.Create(ctx, &domain.Thread{ID: "t3", ConversationID: "c1", RootMessageID: "m2", CreatedAt: t0.Add(time.Second)})
	require.NoError(t, err)
	assert.True(t, created)

	list, err := repo.List(ctx, "c1", 10)
	require.NoError(t, err)
	require.Len(t, list, 2)
	assert.Equal(t, "t3", list[0].ID)

	_, err = repo.Find(ctx, "c2", "t1")
	assert.ErrorIs(t, err, ErrThreadNotFound)
}

func TestMemoryReportKeepsFirst(t *testing.T) {
	repo := NewMemoryReportRepository()
	ctx := context.Background()
	rep := &domain.Report{ConversationID: "c1", MessageID: "m1", ReportedBy: "bob", Reason: domain.ReasonSpam, Status: domain.ReportOpen}

	created, err := repo.Add(ctx, rep)
	require.NoError(t, err)
	assert.True(t, created)
	created, err = repo.Add(ctx, rep)
	require.NoError(t, err)
	assert.False(t, created)
}

func TestMemoryRateStoreWindows(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryRateStore()
	w := 5 * time.Second
	now := time.UnixMilli(10_000)

	for i := int64(1); i <= 3; i++ {
		n, err := s.Hit(ctx, "u1:send", w, now.Add(time.Duration(i)*time.Millisecond))
		require.NoError(t, err)
		assert.Equal(t, i, n)
	}
	n, _ := s.Hit(ctx, "u2:send", w, now)
	assert.Equal(t, int64(1), n)

	n, _ = s.Hit(ctx, "u1:send", w, now.Add(w))
	assert.Equal(t, int64(1), n, "new window")
}

func TestMemoryPresenceRefcount(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryPresenceStore()

	st, _ := s.Incr(ctx, "alice", t0)
	assert.True(t, st.Online)
	s.Incr(ctx, "alice", t0)

	st, _ = s.Decr(ctx, "alice", t0.Add(time.Second))
	assert.True(t, st.Online)
	assert.Nil(t, st.LastSeen)

	st, _ = s.Decr(ctx, "alice", t0.Add(2*time.Second))
	assert.False(t, st.Online)
	require.NotNil(t, st.LastSeen)

	st, _ = s.Decr(ctx, "alice", t0.Add(3*time.Second))
	assert.Equal(t, int64(0), st.Count, "clamped at zero")

	all, _ := s.Get(ctx, []string{"alice", "nobody"})
	assert.False(t, all["alice"].Online)
	assert.NotNil(t, all["alice"].LastSeen)
	assert.False(t, all["nobody"].Online)
}

func TestMemorySequencer(t *testing.T) {
	ctx := context.Background()
	s := NewMemorySequencer()
	a, _ := s.Next(ctx, "c1")
	b, _ := s.Next(ctx, "c1")
	c, _ := s.Next(ctx, "c2")
	assert.Equal(t, []int64{1, 2, 1}, []int64{a, b, c})
}

func TestLocalBroker(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	b := NewLocalBroker()
	got := make(chan domain.Envelope, 1)
	require.NoError(t, b.Subscribe(ctx, func(e domain.Envelope) { got <- e }))

	require.NoError(t, b.Publish(ctx, domain.Envelope{Room: "conv:c1", Event: domain.OutTyping}))
	e := <-got
	assert.Equal(t, "conv:c1", e.Room)
}
