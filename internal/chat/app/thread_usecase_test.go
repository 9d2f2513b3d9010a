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
	"github.com/stretchr/testify/require"
)

var allThreadFeatures = config.FeatureFlags{Threads: true, Moderation: true}

func newThreadFixture(t *testing.T, features config.FeatureFlags) (*ThreadUseCase, repository.MessageRepository, *recordingEmitter) {
	t.Helper()
	logger.SetNewNop()
	repo := repository.NewMemoryMessageRepository()
	seedConversation(t, repo, "c1", 1, 2)
	emitter := &recordingEmitter{}
	uc := NewThreadUseCase(ThreadDeps{
		Threads:  repository.NewMemoryThreadRepository(),
		Reports:  repository.NewMemoryReportRepository(),
		Messages: repo,
		Emitter:  emitter,
		Features: features,
	})
	return uc, repo, emitter
}

// 同一根訊息重複建立回傳同一個 thread，只廣播一次
func TestThreadUseCase_CreateIdempotent(t *testing.T) {
	uc, _, emitter := newThreadFixture(t, allThreadFeatures)
	req := domain.ThreadCreateRequest{ConversationID: "c1", RootMessageID: "c1-b", Title: "  plans "}

	first, err := uc.Create(context.Background(), principal("alice"), req)
	require.NoError(t, err)
	assert.Equal(t, "plans", first.Title)
	assert.Equal(t, "alice", first.CreatedBy)

	second, err := uc.Create(context.Background(), principal("bob"), req)
	require.NoError(t, err)
	assert.Equal(t, first.ID, second.ID)
	assert.Equal(t, "alice", second.CreatedBy)

	created := emitter.named(domain.OutThreadCreated)
	require.Len(t, created, 1)
	assert.Equal(t, domain.ConversationRoom("c1"), created[0].Room)
}

func TestThreadUseCase_CreateConcurrent(t *testing.T) {
	uc, _, emitter := newThreadFixture(t, allThreadFeatures)
	req := domain.ThreadCreateRequest{ConversationID: "c1", RootMessageID: "c1-c"}

	ids := make([]string, 8)
	var wg sync.WaitGroup
	for i := range ids {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			th, err := uc.Create(context.Background(), principal("alice"), req)
			if assert.NoError(t, err) {
				ids[i] = th.ID
			}
		}(i)
	}
	wg.Wait()

	for _, id := range ids {
		assert.Equal(t, ids[0], id)
	}
	assert.Len(t, emitter.named(domain.OutThreadCreated), 1)
}

func TestThreadUseCase_CreateRejected(t *testing.T) {
	uc, repo, _ := newThreadFixture(t, allThreadFeatures)
	require.NoError(t, repo.Insert(context.Background(), &domain.ChatMessage{
		ID: "reply", ConversationID: "c1", Seq: 9, ClientID: "reply", SenderID: "bob", ThreadID: "t0",
		Kind: domain.KindText, Body: domain.Body{Text: "re"}, DeleteState: domain.DeleteNone,
	}))

	tests := []struct {
		name string
		req  domain.ThreadCreateRequest
		kind errprocess.Kind
	}{
		{name: "missing root", req: domain.ThreadCreateRequest{ConversationID: "c1"}, kind: errprocess.KindValidation},
		{name: "unknown root", req: domain.ThreadCreateRequest{ConversationID: "c1", RootMessageID: "nope"}, kind: errprocess.KindNotFound},
		{name: "root of another conversation", req: domain.ThreadCreateRequest{ConversationID: "c2", RootMessageID: "c1-b"}, kind: errprocess.KindNotFound},
		{name: "reply as root", req: domain.ThreadCreateRequest{ConversationID: "c1", RootMessageID: "reply"}, kind: errprocess.KindValidation},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := uc.Create(context.Background(), principal("alice"), tt.req)
			assert.Equal(t, tt.kind, errprocess.KindOf(err))
		})
	}
}

func TestThreadUseCase_Disabled(t *testing.T) {
	uc, _, _ := newThreadFixture(t, config.FeatureFlags{})

	_, err := uc.Create(context.Background(), principal("alice"), domain.ThreadCreateRequest{ConversationID: "c1", RootMessageID: "c1-b"})
	assert.Equal(t, errprocess.KindValidation, errprocess.KindOf(err))
	_, err = uc.Find(context.Background(), "c1", "t1")
	assert.Equal(t, errprocess.KindValidation, errprocess.KindOf(err))
	_, err = uc.Report(context.Background(), principal("bob"), domain.ReportRequest{ConversationID: "c1", MessageID: "c1-b", Reason: "spam"})
	assert.Equal(t, errprocess.KindValidation, errprocess.KindOf(err))
}

func TestThreadUseCase_FindScopedToConversation(t *testing.T) {
	uc, _, _ := newThreadFixture(t, allThreadFeatures)
	th, err := uc.Create(context.Background(), principal("alice"), domain.ThreadCreateRequest{ConversationID: "c1", RootMessageID: "c1-b"})
	require.NoError(t, err)

	got, err := uc.Find(context.Background(), "c1", th.ID)
	require.NoError(t, err)
	assert.Equal(t, "c1-b", got.RootMessageID)

	_, err = uc.Find(context.Background(), "c2", th.ID)
	assert.Equal(t, errprocess.KindNotFound, errprocess.KindOf(err))
}

type failingThreads struct{ repository.ThreadRepository }

func (failingThreads) Create(context.Context, *domain.Thread) (*domain.Thread, bool, error) {
	return nil, false, errors.New("connection refused")
}

func TestThreadUseCase_StoreUnavailable(t *testing.T) {
	uc, _, emitter := newThreadFixture(t, allThreadFeatures)
	uc.Threads = failingThreads{}

	_, err := uc.Create(context.Background(), principal("alice"), domain.ThreadCreateRequest{ConversationID: "c1", RootMessageID: "c1-b"})
	assert.Equal(t, errprocess.KindDependencyUnavailable, errprocess.KindOf(err))
	assert.Empty(t, emitter.all())
}

// 同一人重複檢舉只保留第一筆
func TestThreadUseCase_Report(t *testing.T) {
	uc, _, _ := newThreadFixture(t, allThreadFeatures)
	req := domain.ReportRequest{ConversationID: "c1", MessageID: "c1-b", Reason: "Spam", Note: "ads"}

	ack, err := uc.Report(context.Background(), principal("bob"), req)
	require.NoError(t, err)
	assert.Equal(t, domain.ReasonSpam, ack.Reason)
	assert.False(t, ack.Duplicate)

	req.Reason = "abuse"
	ack, err = uc.Report(context.Background(), principal("bob"), req)
	require.NoError(t, err)
	assert.True(t, ack.Duplicate)

	ack, err = uc.Report(context.Background(), principal("carol"), req)
	require.NoError(t, err)
	assert.False(t, ack.Duplicate)
}

func TestThreadUseCase_ReportRejected(t *testing.T) {
	uc, _, _ := newThreadFixture(t, allThreadFeatures)

	tests := []struct {
		name string
		req  domain.ReportRequest
		kind errprocess.Kind
	}{
		{name: "missing message", req: domain.ReportRequest{ConversationID: "c1", Reason: "spam"}, kind: errprocess.KindValidation},
		{name: "unknown reason", req: domain.ReportRequest{ConversationID: "c1", MessageID: "c1-b", Reason: "boring"}, kind: errprocess.KindValidation},
		{name: "unknown message", req: domain.ReportRequest{ConversationID: "c1", MessageID: "nope", Reason: "spam"}, kind: errprocess.KindNotFound},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := uc.Report(context.Background(), principal("bob"), tt.req)
			assert.Equal(t, tt.kind, errprocess.KindOf(err))
		})
	}
}
