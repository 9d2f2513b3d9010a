package repository

import (
	"context"
	"sort"
	"sync"
	"time"

	"chat_delivery_service/internal/chat/domain"
)

type memoryCallRepository struct {
	mu       sync.Mutex
	sessions map[string]*domain.CallSession
	active   map[string]string
}

// NewMemoryCallRepository for local development and tests
func NewMemoryCallRepository() CallRepository {
	return &memoryCallRepository{
		sessions: make(map[string]*domain.CallSession),
		active:   make(map[string]string),
	}
}

func callKey(conversationID, callID string) string {
	return conversationID + "\x00" + callID
}

func (r *memoryCallRepository) EnsureIndexes(context.Context) error { return nil }

func (r *memoryCallRepository) Create(_ context.Context, s *domain.CallSession) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	key := callKey(s.ConversationID, s.CallID)
	if _, ok := r.sessions[key]; ok {
		return ErrDuplicateCall
	}
	if s.Active {
		if _, ok := r.active[s.ConversationID]; ok {
			return ErrActiveCallExists
		}
		r.active[s.ConversationID] = key
	}
	r.sessions[key] = s.Clone()
	return nil
}

func (r *memoryCallRepository) Find(_ context.Context, conversationID, callID string) (*domain.CallSession, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	s, ok := r.sessions[callKey(conversationID, callID)]
	if !ok {
		return nil, ErrCallNotFound
	}
	return s.Clone(), nil
}

func (r *memoryCallRepository) FindActive(_ context.Context, conversationID string) (*domain.CallSession, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	key, ok := r.active[conversationID]
	if !ok {
		return nil, ErrCallNotFound
	}
	return r.sessions[key].Clone(), nil
}

func (r *memoryCallRepository) Replace(_ context.Context, s *domain.CallSession, expectedVersion int64) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	key := callKey(s.ConversationID, s.CallID)
	cur, ok := r.sessions[key]
	if !ok || cur.Version != expectedVersion {
		return ErrVersionConflict
	}
	if s.Active {
		if holder, ok := r.active[s.ConversationID]; ok && holder != key {
			return ErrActiveCallExists
		}
		r.active[s.ConversationID] = key
	} else if r.active[s.ConversationID] == key {
		delete(r.active, s.ConversationID)
	}
	s.Version = expectedVersion + 1
	r.sessions[key] = s.Clone()
	return nil
}

func (r *memoryCallRepository) ListForUser(_ context.Context, userID string, before time.Time, limit int) ([]*domain.CallSession, error) {
	if before.IsZero() {
		before = time.Now()
	}
	r.mu.Lock()
	var out []*domain.CallSession
	for _, s := range r.sessions {
		if s.Participant(userID) == nil || !s.CreatedAt.Before(before) {
			continue
		}
		c := s.Clone()
		c.Signals = nil
		out = append(out, c)
	}
	r.mu.Unlock()

	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}
