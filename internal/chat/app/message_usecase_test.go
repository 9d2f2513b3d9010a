package app

import (
	"context"
	"errors"
	"sync"
	"testing"

	"chat_delivery_service/internal/chat/domain"
	"chat_delivery_service/internal/chat/repository"
	"chat_delivery_service/pkg/config"
	errprocess "chat_delivery_service/pkg/err"
	"chat_delivery_service/pkg/logger"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

type messageFixture struct {
	uc      *MessageUseCase
	repo    repository.MessageRepository
	emitter *recordingEmitter
	tasks   *syncTasks
	policy  *MockPolicy
}

func newMessageFixture(t *testing.T, seq Sequencer, features config.FeatureFlags) *messageFixture {
	t.Helper()
	logger.SetNewNop() // 停用 Logger 避免測試時輸出

	policy := new(MockPolicy)
	policy.On("UpdateLastMessage", mock.Anything, mock.Anything, mock.Anything, mock.Anything).Return(nil).Maybe()
	f := &messageFixture{
		repo:    repository.NewMemoryMessageRepository(),
		emitter: &recordingEmitter{},
		tasks:   &syncTasks{},
		policy:  policy,
	}
	if seq == nil {
		seq = repository.NewMemorySequencer()
	}
	f.uc = NewMessageUseCase(MessageDeps{
		Messages:  f.repo,
		Sequencer: seq,
		Policy:    policy,
		Presence:  stubPresence{},
		Emitter:   f.emitter,
		Tasks:     f.tasks,
		Features:  features,
	})
	return f
}

func (f *messageFixture) send(t *testing.T, userID, conv, clientID, text string) domain.SendAck {
	t.Helper()
	ack, err := f.uc.Send(context.Background(), principal(userID), textSend(conv, clientID, text))
	require.NoError(t, err)
	return ack
}

// 測試 Send: 分配 seq、寫入、fan-out 到會話與本人房間
func TestMessageUseCase_Send(t *testing.T) {
	f := newMessageFixture(t, nil, config.FeatureFlags{})

	ack := f.send(t, "alice", "c1", "cid-1", "hello")

	assert.Equal(t, int64(1), ack.Seq)
	assert.Equal(t, "cid-1", ack.ClientID)
	assert.NotEmpty(t, ack.ServerID)
	assert.False(t, ack.Duplicate)

	stored, err := f.repo.FindByClientID(context.Background(), "c1", "cid-1")
	require.NoError(t, err)
	assert.Equal(t, "alice", stored.SenderID)
	assert.Equal(t, "alice-phone", stored.SenderDeviceID)
	assert.Equal(t, domain.DeleteNone, stored.DeleteState)
	assert.Equal(t, "hello", stored.PreviewText)

	rooms := []string{}
	for _, e := range f.emitter.named(domain.OutMessage) {
		rooms = append(rooms, e.Room)
	}
	assert.ElementsMatch(t, []string{domain.ConversationRoom("c1"), domain.UserRoom("alice")}, rooms)
	assert.Contains(t, f.tasks.submitted(), "last_message")
	f.policy.AssertCalled(t, "UpdateLastMessage", mock.Anything, "c1", stored.CreatedAt, "hello")
}

// 討論串回覆另外送到 thread 房間
func TestMessageUseCase_SendThreadReply(t *testing.T) {
	f := newMessageFixture(t, nil, config.FeatureFlags{})
	req := textSend("c1", "cid-1", "re")
	req.ThreadID = "t1"

	_, err := f.uc.Send(context.Background(), principal("alice"), req)
	require.NoError(t, err)

	replies := f.emitter.named(domain.OutThreadMessage)
	require.Len(t, replies, 1)
	assert.Equal(t, domain.ThreadRoom("t1"), replies[0].Room)
	assert.Len(t, f.emitter.named(domain.OutMessage), 2)
}

// 相同 clientId 重送只寫一次，ack 相同
func TestMessageUseCase_SendIdempotent(t *testing.T) {
	seq := new(MockSequencer)
	seq.On("Next", mock.Anything, "c1").Return(int64(7), nil).Once()
	f := newMessageFixture(t, seq, config.FeatureFlags{})

	first := f.send(t, "alice", "c1", "cid-1", "hello")
	second := f.send(t, "alice", "c1", "cid-1", "hello")

	assert.Equal(t, first.ServerID, second.ServerID)
	assert.Equal(t, int64(7), second.Seq)
	assert.True(t, second.Duplicate)
	assert.Len(t, f.emitter.named(domain.OutMessage), 2, "a retry must not fan out again")
	seq.AssertExpectations(t)
}

func TestMessageUseCase_SendConcurrentRetries(t *testing.T) {
	f := newMessageFixture(t, nil, config.FeatureFlags{})

	const n = 20
	acks := make([]domain.SendAck, n)
	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			ack, err := f.uc.Send(context.Background(), principal("alice"), textSend("c1", "cid-same", "hi"))
			assert.NoError(t, err)
			acks[i] = ack
		}(i)
	}
	wg.Wait()

	for _, a := range acks {
		assert.Equal(t, acks[0].ServerID, a.ServerID)
		assert.Equal(t, acks[0].Seq, a.Seq)
	}
	msgs, err := f.repo.ListRange(context.Background(), "c1", 0, 0, 100)
	require.NoError(t, err)
	assert.Len(t, msgs, 1)
}

func TestMessageUseCase_SendSeqStrictlyIncreasing(t *testing.T) {
	f := newMessageFixture(t, nil, config.FeatureFlags{})

	var last int64
	for _, cid := range []string{"a", "b", "c", "d", "e"} {
		ack := f.send(t, "alice", "c1", cid, "msg "+cid)
		assert.Greater(t, ack.Seq, last)
		last = ack.Seq
	}
	// 不同會話各自從 1 開始
	assert.Equal(t, int64(1), f.send(t, "alice", "c2", "a", "other").Seq)
}

// 序號服務失敗時不寫入、不 fan-out
func TestMessageUseCase_SendSequencerFailure(t *testing.T) {
	tests := []struct {
		name   string
		seqErr error
	}{
		{name: "unavailable", seqErr: errprocess.Unavailable("sequencer down", nil)},
		{name: "untyped error becomes unavailable", seqErr: errors.New("connection reset")},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			seq := new(MockSequencer)
			seq.On("Next", mock.Anything, "c1").Return(int64(0), tt.seqErr)
			f := newMessageFixture(t, seq, config.FeatureFlags{})

			_, err := f.uc.Send(context.Background(), principal("alice"), textSend("c1", "cid-1", "hello"))

			assert.Equal(t, errprocess.KindDependencyUnavailable, errprocess.KindOf(err))
			_, findErr := f.repo.FindByClientID(context.Background(), "c1", "cid-1")
			assert.ErrorIs(t, findErr, repository.ErrMessageNotFound)
			assert.Empty(t, f.emitter.all())
			assert.Empty(t, f.tasks.submitted())
		})
	}
}

func TestMessageUseCase_SendClientIDOfAnotherSender(t *testing.T) {
	f := newMessageFixture(t, nil, config.FeatureFlags{})
	f.send(t, "alice", "c1", "cid-1", "hello")

	_, err := f.uc.Send(context.Background(), principal("bob"), textSend("c1", "cid-1", "hello"))
	assert.Equal(t, errprocess.KindConflict, errprocess.KindOf(err))
}

func TestMessageUseCase_SendValidation(t *testing.T) {
	long := make([]byte, maxClientIDLen+1)
	for i := range long {
		long[i] = 'x'
	}
	tests := []struct {
		name string
		req  domain.SendRequest
	}{
		{name: "missing conversation", req: textSend("", "cid", "hi")},
		{name: "missing clientId", req: textSend("c1", "", "hi")},
		{name: "clientId too long", req: textSend("c1", string(long), "hi")},
		{name: "unknown kind", req: domain.SendRequest{ConversationID: "c1", ClientID: "cid", Kind: "gif"}},
		{name: "ephemeral without ttl", req: func() domain.SendRequest {
			r := textSend("c1", "cid", "hi")
			r.Ephemeral = &domain.Ephemeral{Enabled: true}
			return r
		}()},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newMessageFixture(t, nil, config.FeatureFlags{})
			_, err := f.uc.Send(context.Background(), principal("alice"), tt.req)
			assert.Equal(t, errprocess.KindValidation, errprocess.KindOf(err))
			assert.Empty(t, f.emitter.all())
		})
	}
}

func TestMessageUseCase_SendEphemeralExpiry(t *testing.T) {
	f := newMessageFixture(t, nil, config.FeatureFlags{})
	req := textSend("c1", "cid-1", "secret")
	req.Ephemeral = &domain.Ephemeral{Enabled: true, TTLSeconds: 60}
	_, err := f.uc.Send(context.Background(), principal("alice"), req)
	require.NoError(t, err)

	stored, err := f.repo.FindByClientID(context.Background(), "c1", "cid-1")
	require.NoError(t, err)
	require.NotNil(t, stored.Ephemeral.ExpireAt)
	assert.WithinDuration(t, stored.CreatedAt.Add(60e9), *stored.Ephemeral.ExpireAt, 0)
}

// 離線成員才收到推播
func TestMessageUseCase_PushOffline(t *testing.T) {
	logger.SetNewNop()
	policy := new(MockPolicy)
	policy.On("UpdateLastMessage", mock.Anything, "c1", mock.Anything, mock.Anything).Return(nil)
	policy.On("MemberIDs", mock.Anything, "c1").Return([]string{"alice", "bob", "carol"}, nil)
	push := new(MockPushNotifier)
	push.On("Notify", mock.Anything, mock.MatchedBy(func(n domain.PushNotification) bool {
		return n.UserID == "carol" && n.Data["conversationId"] == "c1"
	})).Return(nil).Once()

	uc := NewMessageUseCase(MessageDeps{
		Messages:  repository.NewMemoryMessageRepository(),
		Sequencer: repository.NewMemorySequencer(),
		Policy:    policy,
		Presence:  stubPresence{"bob": true},
		Emitter:   &recordingEmitter{},
		Tasks:     &syncTasks{},
		Push:      push,
		Features:  config.FeatureFlags{Push: true},
	})
	_, err := uc.Send(context.Background(), principal("alice"), textSend("c1", "cid-1", "hello"))
	require.NoError(t, err)

	push.AssertExpectations(t)
	policy.AssertExpectations(t)
}

func TestMessageUseCase_EventsPublished(t *testing.T) {
	events := new(MockEventPublisher)
	events.On("Publish", mock.Anything, mock.MatchedBy(func(ev domain.MessageEvent) bool { return ev.Type == "message.created" })).Return(nil).Once()
	events.On("Publish", mock.Anything, mock.MatchedBy(func(ev domain.MessageEvent) bool { return ev.Type == "message.deleted" })).Return(nil).Once()

	f := newMessageFixture(t, nil, config.FeatureFlags{})
	f.uc.Events = events
	ack := f.send(t, "alice", "c1", "cid-1", "hello")
	_, err := f.uc.Delete(context.Background(), principal("alice"), domain.DeleteRequest{ConversationID: "c1", MessageID: ack.ServerID})
	require.NoError(t, err)

	events.AssertExpectations(t)
}

func TestMessageUseCase_Edit(t *testing.T) {
	f := newMessageFixture(t, nil, config.FeatureFlags{})
	ack := f.send(t, "alice", "c1", "cid-1", "hello")
	text := "hello, edited"
	req := domain.EditRequest{ConversationID: "c1", MessageID: ack.ServerID, EditPatch: domain.EditPatch{Text: &text}}

	_, err := f.uc.Edit(context.Background(), principal("bob"), req)
	assert.Equal(t, errprocess.KindAuth, errprocess.KindOf(err))

	msg, err := f.uc.Edit(context.Background(), principal("alice"), req)
	require.NoError(t, err)
	assert.True(t, msg.IsEdited)
	assert.Equal(t, text, msg.Text)
	assert.Equal(t, ack.Seq, msg.Seq, "edits keep the seq")

	edited := f.emitter.named(domain.OutMessageEdited)
	require.Len(t, edited, 1)
	assert.Equal(t, domain.ConversationRoom("c1"), edited[0].Room)

	_, err = f.uc.Edit(context.Background(), principal("alice"), domain.EditRequest{ConversationID: "c1", MessageID: "missing", EditPatch: req.EditPatch})
	assert.Equal(t, errprocess.KindNotFound, errprocess.KindOf(err))
}

func TestMessageUseCase_DeleteForEveryone(t *testing.T) {
	f := newMessageFixture(t, nil, config.FeatureFlags{})
	ack := f.send(t, "alice", "c1", "cid-1", "hello")
	req := domain.DeleteRequest{ConversationID: "c1", MessageID: ack.ServerID}

	_, err := f.uc.Delete(context.Background(), principal("bob"), req)
	assert.Equal(t, errprocess.KindAuth, errprocess.KindOf(err))

	ev, err := f.uc.Delete(context.Background(), principal("alice"), req)
	require.NoError(t, err)
	assert.Equal(t, domain.DeleteForEveryone, ev.Mode)
	assert.Equal(t, ack.Seq, ev.Seq)

	// 重複刪除成功但不再 fan-out
	again, err := f.uc.Delete(context.Background(), principal("alice"), req)
	require.NoError(t, err)
	assert.Equal(t, ev.DeletedAt, again.DeletedAt)
	assert.Len(t, f.emitter.named(domain.OutMessageDeleted), 1)

	stored, err := f.repo.FindByID(context.Background(), "c1", ack.ServerID)
	require.NoError(t, err)
	assert.Empty(t, stored.Text)
	assert.Empty(t, stored.PreviewText)
	assert.Equal(t, ack.Seq, stored.Seq)
}

func TestMessageUseCase_DeleteForMe(t *testing.T) {
	f := newMessageFixture(t, nil, config.FeatureFlags{})
	ack := f.send(t, "alice", "c1", "cid-1", "hello")

	ev, err := f.uc.Delete(context.Background(), principal("bob"), domain.DeleteRequest{
		ConversationID: "c1", MessageID: ack.ServerID, Mode: domain.DeleteForMe,
	})
	require.NoError(t, err)
	assert.Equal(t, domain.DeleteForMe, ev.Mode)

	deleted := f.emitter.named(domain.OutMessageDeleted)
	require.Len(t, deleted, 1)
	assert.Equal(t, domain.UserRoom("bob"), deleted[0].Room)

	bobView, err := f.uc.History(context.Background(), principal("bob"), domain.HistoryRequest{ConversationID: "c1"})
	require.NoError(t, err)
	require.Len(t, bobView, 1)
	assert.Equal(t, domain.DeleteForMe, bobView[0].DeleteState)
	assert.Empty(t, bobView[0].Text)

	aliceView, err := f.uc.History(context.Background(), principal("alice"), domain.HistoryRequest{ConversationID: "c1"})
	require.NoError(t, err)
	assert.Equal(t, "hello", aliceView[0].Text)

	_, err = f.uc.Delete(context.Background(), principal("bob"), domain.DeleteRequest{
		ConversationID: "c1", MessageID: ack.ServerID, Mode: "shred",
	})
	assert.Equal(t, errprocess.KindValidation, errprocess.KindOf(err))
}

func TestMessageUseCase_History(t *testing.T) {
	f := newMessageFixture(t, nil, config.FeatureFlags{})
	for _, cid := range []string{"1", "2", "3", "4", "5"} {
		f.send(t, "alice", "c1", cid, "m"+cid)
	}

	msgs, err := f.uc.History(context.Background(), principal("alice"), domain.HistoryRequest{ConversationID: "c1", Limit: 2})
	require.NoError(t, err)
	require.Len(t, msgs, 2)
	assert.Equal(t, []int64{4, 5}, []int64{msgs[0].Seq, msgs[1].Seq})

	msgs, err = f.uc.History(context.Background(), principal("alice"), domain.HistoryRequest{ConversationID: "c1", Before: 3})
	require.NoError(t, err)
	assert.Len(t, msgs, 2)

	_, err = f.uc.History(context.Background(), principal("alice"), domain.HistoryRequest{ConversationID: "c1", Before: -1})
	assert.Equal(t, errprocess.KindValidation, errprocess.KindOf(err))
}

func TestMessageUseCase_PinAndStar(t *testing.T) {
	disabled := newMessageFixture(t, nil, config.FeatureFlags{})
	ack := disabled.send(t, "alice", "c1", "cid-1", "hello")
	_, err := disabled.uc.Pin(context.Background(), principal("alice"), domain.PinRequest{ConversationID: "c1", MessageID: ack.ServerID, Pinned: true})
	assert.Equal(t, errprocess.KindValidation, errprocess.KindOf(err))
	_, err = disabled.uc.Star(context.Background(), principal("alice"), domain.StarRequest{ConversationID: "c1", MessageID: ack.ServerID, Starred: true})
	assert.Equal(t, errprocess.KindValidation, errprocess.KindOf(err))

	f := newMessageFixture(t, nil, config.FeatureFlags{Pins: true, Stars: true})
	ack = f.send(t, "alice", "c1", "cid-1", "hello")
	pin := domain.PinRequest{ConversationID: "c1", MessageID: ack.ServerID, Pinned: true}

	ev, err := f.uc.Pin(context.Background(), principal("bob"), pin)
	require.NoError(t, err)
	assert.True(t, ev.Pinned)
	_, err = f.uc.Pin(context.Background(), principal("bob"), pin)
	require.NoError(t, err)
	assert.Len(t, f.emitter.named(domain.OutMessagePinned), 1)

	star, err := f.uc.Star(context.Background(), principal("bob"), domain.StarRequest{ConversationID: "c1", MessageID: ack.ServerID, Starred: true})
	require.NoError(t, err)
	assert.True(t, star.Starred)
	starred := f.emitter.named(domain.OutMessageStarred)
	require.Len(t, starred, 1)
	assert.Equal(t, domain.UserRoom("bob"), starred[0].Room)

	bobView, err := f.uc.History(context.Background(), principal("bob"), domain.HistoryRequest{ConversationID: "c1"})
	require.NoError(t, err)
	assert.True(t, bobView[0].Starred)
	assert.True(t, bobView[0].Pinned)
	aliceView, err := f.uc.History(context.Background(), principal("alice"), domain.HistoryRequest{ConversationID: "c1"})
	require.NoError(t, err)
	assert.False(t, aliceView[0].Starred)
}

// 版本衝突重試
type conflictingRepo struct {
	repository.MessageRepository
	conflicts int
}

func (r *conflictingRepo) Replace(ctx context.Context, msg *domain.ChatMessage, expectedVersion int64) error {
	if r.conflicts > 0 {
		r.conflicts--
		return repository.ErrVersionConflict
	}
	return r.MessageRepository.Replace(ctx, msg, expectedVersion)
}

func TestMutateMessage_RetriesVersionConflicts(t *testing.T) {
	f := newMessageFixture(t, nil, config.FeatureFlags{Pins: true})
	ack := f.send(t, "alice", "c1", "cid-1", "hello")

	repo := &conflictingRepo{MessageRepository: f.repo, conflicts: maxMutationAttempts - 1}
	f.uc.Messages = repo
	_, err := f.uc.Pin(context.Background(), principal("alice"), domain.PinRequest{ConversationID: "c1", MessageID: ack.ServerID, Pinned: true})
	require.NoError(t, err)

	repo.conflicts = maxMutationAttempts
	_, err = f.uc.Pin(context.Background(), principal("alice"), domain.PinRequest{ConversationID: "c1", MessageID: ack.ServerID, Pinned: false})
	assert.Equal(t, errprocess.KindConflict, errprocess.KindOf(err))
}
