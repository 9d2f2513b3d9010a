package app

import (
	"context"
	"errors"
	"testing"

	"chat_delivery_service/internal/chat/domain"
	"chat_delivery_service/internal/chat/repository"
	"chat_delivery_service/pkg/logger"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

// 兩個裝置: 關掉一個仍在線，兩個都關才離線
func TestPresenceTracker_TwoDevices(t *testing.T) {
	tr := NewPresenceTracker(nil)
	ctx := context.Background()

	assert.True(t, tr.Connect(ctx, "alice").Online)
	assert.True(t, tr.Connect(ctx, "alice").Online)

	st := tr.Disconnect(ctx, "alice")
	assert.True(t, st.Online)
	assert.Nil(t, st.LastSeen)

	st = tr.Disconnect(ctx, "alice")
	assert.False(t, st.Online)
	require.NotNil(t, st.LastSeen)

	snap := tr.Snapshot(ctx, []string{"alice", "bob"})
	assert.False(t, snap["alice"].Online)
	assert.NotNil(t, snap["alice"].LastSeen)
	assert.Equal(t, domain.PresenceState{UserID: "bob"}, snap["bob"])
}

func TestPresenceTracker_DisconnectNeverNegative(t *testing.T) {
	tr := NewPresenceTracker(nil)
	ctx := context.Background()

	tr.Disconnect(ctx, "alice")
	assert.True(t, tr.Connect(ctx, "alice").Online)
	assert.Equal(t, int64(1), tr.Snapshot(ctx, []string{"alice"})["alice"].Count)
}

func TestPresenceTracker_SharedStore(t *testing.T) {
	tr := NewPresenceTracker(repository.NewMemoryPresenceStore())
	ctx := context.Background()

	tr.Connect(ctx, "alice")
	assert.True(t, tr.Snapshot(ctx, []string{"alice"})["alice"].Online)
	assert.False(t, tr.fo.Degraded())
}

func TestPresenceTracker_FallbackOnStoreError(t *testing.T) {
	logger.SetNewNop()
	store := new(MockPresenceStore)
	store.On("Incr", mock.Anything, "alice", mock.Anything).Return(domain.PresenceState{}, errors.New("redis down"))
	store.On("Get", mock.Anything, []string{"alice"}).Return(nil, errors.New("redis down"))

	tr := NewPresenceTracker(store)
	st := tr.Connect(context.Background(), "alice")

	assert.True(t, st.Online)
	assert.True(t, tr.fo.Degraded())
	assert.True(t, tr.Snapshot(context.Background(), []string{"alice"})["alice"].Online)
	store.AssertExpectations(t)
}

func TestPresenceTracker_RefreshTouchesSharedStore(t *testing.T) {
	logger.SetNewNop()
	store := new(MockPresenceStore)
	store.On("Touch", mock.Anything, "alice").Return(errors.New("redis down")).Once()
	store.On("Touch", mock.Anything, "alice").Return(nil).Once()

	tr := NewPresenceTracker(store)
	tr.Refresh(context.Background(), "alice")
	assert.True(t, tr.fo.Degraded())
	tr.Refresh(context.Background(), "alice")
	assert.False(t, tr.fo.Degraded())
	store.AssertExpectations(t)

	NewPresenceTracker(nil).Refresh(context.Background(), "alice")
}
