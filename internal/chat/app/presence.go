package app

import (
	"context"
	"time"

	"chat_delivery_service/internal/chat/domain"
	"chat_delivery_service/internal/chat/repository"
	"chat_delivery_service/pkg/logger"

	"go.uber.org/zap"
)

// PresenceTracker connection refcount per user across devices and instances
type PresenceTracker struct {
	shared repository.PresenceStore
	local  repository.PresenceStore
	fo     failover
	now    func() time.Time
}

// NewPresenceTracker shared may be nil
func NewPresenceTracker(shared repository.PresenceStore) *PresenceTracker {
	return &PresenceTracker{
		shared: shared,
		local:  repository.NewMemoryPresenceStore(),
		fo:     failover{component: "presence"},
		now:    time.Now,
	}
}

// Connect one more live connection for userID
func (t *PresenceTracker) Connect(ctx context.Context, userID string) domain.PresenceState {
	now := t.now()
	if t.shared != nil {
		st, err := t.shared.Incr(ctx, userID, now)
		if err == nil {
			t.fo.ok()
			return st
		}
		t.fo.fail(err)
	}
	st, _ := t.local.Incr(ctx, userID, now)
	return st
}

// Disconnect one fewer; the returned state is offline with last seen once the count reaches zero
func (t *PresenceTracker) Disconnect(ctx context.Context, userID string) domain.PresenceState {
	now := t.now()
	if t.shared != nil {
		st, err := t.shared.Decr(ctx, userID, now)
		if err == nil {
			t.fo.ok()
			return st
		}
		t.fo.fail(err)
	}
	st, _ := t.local.Decr(ctx, userID, now)
	return st
}

// Refresh extends the shared counter ttl of a user that is still connected
func (t *PresenceTracker) Refresh(ctx context.Context, userID string) {
	if t.shared == nil {
		return
	}
	if err := t.shared.Touch(ctx, userID); err != nil {
		t.fo.fail(err)
		return
	}
	t.fo.ok()
}

// Snapshot current state of userIDs
func (t *PresenceTracker) Snapshot(ctx context.Context, userIDs []string) map[string]domain.PresenceState {
	if t.shared != nil {
		m, err := t.shared.Get(ctx, userIDs)
		if err == nil {
			t.fo.ok()
			return m
		}
		t.fo.fail(err)
	}
	m, err := t.local.Get(ctx, userIDs)
	if err != nil {
		logger.Log.Error("presence snapshot", zap.Error(err))
	}
	return m
}
