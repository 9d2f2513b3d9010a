//go:build integration

package repository

import (
	"context"
	"fmt"
	"os"
	"testing"
	"time"

	"chat_delivery_service/internal/chat/domain"
	"chat_delivery_service/pkg/database"
	"chat_delivery_service/pkg/logger"
	testtool "chat_delivery_service/pkg/test_tool"

	"github.com/go-redis/redis/v8"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"
)

var (
	mongoDB     *database.MongoDB
	redisClient redis.UniversalClient
)

func TestMain(m *testing.M) {
	logger.SetNewNop()
	ctx := context.Background()

	mongoC, mongoHost, mongoPort, err := testtool.SetupContainer(ctx, testcontainers.ContainerRequest{
		Image:        "mongo:6.0",
		ExposedPorts: []string{"27017/tcp"},
		WaitingFor:   wait.ForListeningPort("27017/tcp"),
	})
	if err != nil {
		fmt.Println("mongo container:", err)
		os.Exit(1)
	}
	redisC, redisHost, redisPort, err := testtool.SetupContainer(ctx, testcontainers.ContainerRequest{
		Image:        "redis:7",
		ExposedPorts: []string{"6379/tcp"},
		WaitingFor:   wait.ForListeningPort("6379/tcp"),
	})
	if err != nil {
		fmt.Println("redis container:", err)
		os.Exit(1)
	}

	mongoDB, err = database.NewMongoDB(ctx, database.Connection{
		ConnectStr:    fmt.Sprintf("mongodb://%s:%s", mongoHost, mongoPort),
		RetryCount:    5,
		RetryInterval: time.Second,
	}, "chat_test")
	if err != nil {
		fmt.Println("mongo connect:", err)
		os.Exit(1)
	}
	redisClient, err = database.NewRedisClient(ctx, database.RedisConnection{Addr: redisHost + ":" + redisPort})
	if err != nil {
		fmt.Println("redis connect:", err)
		os.Exit(1)
	}

	code := m.Run()

	_ = mongoDB.Close(ctx)
	_ = redisClient.Close()
	_ = mongoC.Terminate(ctx)
	_ = redisC.Terminate(ctx)
	os.Exit(code)
}

func TestMongoMessageRepository(t *testing.T) {
	ctx := context.Background()
	repo := NewMongoChatMessageRepository(mongoDB.Database)
	require.NoError(t, repo.EnsureIndexes(ctx))

	m := msg("it-c1", 1)
	require.NoError(t, repo.Insert(ctx, m))
	dup := msg("it-c1", 2)
	dup.ClientID = m.ClientID
	assert.ErrorIs(t, repo.Insert(ctx, dup), ErrDuplicateMessage)

	got, err := repo.FindByClientID(ctx, "it-c1", m.ClientID)
	require.NoError(t, err)
	assert.Equal(t, m.ID, got.ID)

	got.ToggleReaction("bob", "👍", time.Now())
	require.NoError(t, repo.Replace(ctx, got, 0))
	stale := msg("it-c1", 1)
	assert.ErrorIs(t, repo.Replace(ctx, stale, 0), ErrVersionConflict)

	require.NoError(t, repo.Insert(ctx, msg("it-c1", 3)))
	bySeq, err := repo.FindBySeqs(ctx, "it-c1", []int64{1, 2, 3})
	require.NoError(t, err)
	assert.Len(t, bySeq, 2)
}

func TestMongoCallRepositoryActiveIndex(t *testing.T) {
	ctx := context.Background()
	repo := NewMongoCallRepository(mongoDB.Database)
	require.NoError(t, repo.EnsureIndexes(ctx))

	s := domain.NewCallSession("it-c1", "call1", "alice", []string{"bob"}, domain.MediaVoice, time.Now())
	require.NoError(t, repo.Create(ctx, s))
	assert.ErrorIs(t, repo.Create(ctx, domain.NewCallSession("it-c1", "call1", "alice", nil, "", time.Now())), ErrDuplicateCall)
	assert.ErrorIs(t, repo.Create(ctx, domain.NewCallSession("it-c1", "call2", "bob", nil, "", time.Now())), ErrActiveCallExists)

	_, err := s.Hangup("alice", "", time.Now())
	require.NoError(t, err)
	require.NoError(t, repo.Replace(ctx, s, s.Version))
	require.NoError(t, repo.Create(ctx, domain.NewCallSession("it-c1", "call2", "bob", nil, "", time.Now())))
}

// 唯一索引讓同一根訊息只有一個 thread
func TestMongoThreadAndReport(t *testing.T) {
	ctx := context.Background()
	threads := NewMongoThreadRepository(mongoDB.Database)
	reports := NewMongoReportRepository(mongoDB.Database)
	require.NoError(t, threads.EnsureIndexes(ctx))
	require.NoError(t, reports.EnsureIndexes(ctx))

	now := time.Now().UTC().Truncate(time.Millisecond)
	first, created, err := threads.Create(ctx, &domain.Thread{ID: "it-t1", ConversationID: "it-c3", RootMessageID: "m1", CreatedBy: "alice", CreatedAt: now})
	require.NoError(t, err)
	assert.True(t, created)

	again, created, err := threads.Create(ctx, &domain.Thread{ID: "it-t2", ConversationID: "it-c3", RootMessageID: "m1", CreatedBy: "bob", CreatedAt: now})
	require.NoError(t, err)
	assert.False(t, created)
	assert.Equal(t, first.ID, again.ID)
	assert.Equal(t, "alice", again.CreatedBy)

	_, err = threads.Find(ctx, "other", "it-t1")
	assert.ErrorIs(t, err, ErrThreadNotFound)

	rep := &domain.Report{ConversationID: "it-c3", MessageID: "m1", ReportedBy: "bob", Reason: domain.ReasonAbuse, Status: domain.ReportOpen, CreatedAt: now}
	created, err = reports.Add(ctx, rep)
	require.NoError(t, err)
	assert.True(t, created)
	created, err = reports.Add(ctx, rep)
	require.NoError(t, err)
	assert.False(t, created)
}

func TestRedisRateAndPresence(t *testing.T) {
	ctx := context.Background()
	rates := NewRedisRateStore(redisClient)
	now := time.Now()
	for i := int64(1); i <= 3; i++ {
		n, err := rates.Hit(ctx, "it:u1:send", time.Minute, now)
		require.NoError(t, err)
		assert.Equal(t, i, n)
	}

	presence := NewRedisPresenceStore(redisClient, time.Hour)
	_, err := presence.Incr(ctx, "it-alice", now)
	require.NoError(t, err)
	st, err := presence.Decr(ctx, "it-alice", now)
	require.NoError(t, err)
	assert.False(t, st.Online)
	st, err = presence.Decr(ctx, "it-alice", now)
	require.NoError(t, err)
	assert.Equal(t, int64(0), st.Count)

	all, err := presence.Get(ctx, []string{"it-alice"})
	require.NoError(t, err)
	require.NotNil(t, all["it-alice"].LastSeen)
}

func TestRedisBrokerRoundTrip(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	b := NewRedisPubSub(redisClient)
	got := make(chan domain.Envelope, 1)
	require.NoError(t, b.Subscribe(ctx, func(e domain.Envelope) { got <- e }))
	require.NoError(t, b.Publish(ctx, domain.Envelope{Room: "conv:it", Event: domain.OutTyping, Data: []byte(`{}`)}))

	select {
	case e := <-got:
		assert.Equal(t, "conv:it", e.Room)
	case <-time.After(5 * time.Second):
		t.Fatal("no envelope")
	}
}

// 長連線靠 ping 續命，計數 key 不會在連線期間過期
func TestRedisPresenceTouch(t *testing.T) {
	ctx := context.Background()
	presence := NewRedisPresenceStore(redisClient, time.Hour)
	_, err := presence.Incr(ctx, "it-touch", time.Now())
	require.NoError(t, err)
	require.NoError(t, redisClient.Expire(ctx, presenceCountKey("it-touch"), time.Second).Err())

	require.NoError(t, presence.Touch(ctx, "it-touch"))

	ttl, err := redisClient.TTL(ctx, presenceCountKey("it-touch")).Result()
	require.NoError(t, err)
	assert.Greater(t, ttl, time.Minute)
	all, err := presence.Get(ctx, []string{"it-touch"})
	require.NoError(t, err)
	assert.True(t, all["it-touch"].Online)
}
