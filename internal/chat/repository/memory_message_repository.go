package repository

import (
	"context"
	"sync"

	"chat_delivery_service/internal/chat/domain"
)

// memoryMessageRepository single process store with the same unique keys as the mongo one
type memoryMessageRepository struct {
	mu       sync.RWMutex
	byID     map[string]*domain.ChatMessage
	bySeq    map[string]map[int64]string
	byClient map[string]map[string]string
}

// NewMemoryMessageRepository for local development and tests
func NewMemoryMessageRepository() MessageRepository {
	return &memoryMessageRepository{
		byID:     make(map[string]*domain.ChatMessage),
		bySeq:    make(map[string]map[int64]string),
		byClient: make(map[string]map[string]string),
	}
}

func (r *memoryMessageRepository) EnsureIndexes(context.Context) error { return nil }

func (r *memoryMessageRepository) Insert(_ context.Context, msg *domain.ChatMessage) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.byID[msg.ID]; ok {
		return ErrDuplicateMessage
	}
	if _, ok := r.bySeq[msg.ConversationID][msg.Seq]; ok {
		return ErrDuplicateMessage
	}
	if _, ok := r.byClient[msg.ConversationID][msg.ClientID]; ok {
		return ErrDuplicateMessage
	}
	if r.bySeq[msg.ConversationID] == nil {
		r.bySeq[msg.ConversationID] = make(map[int64]string)
		r.byClient[msg.ConversationID] = make(map[string]string)
	}
	r.byID[msg.ID] = msg.Clone()
	r.bySeq[msg.ConversationID][msg.Seq] = msg.ID
	r.byClient[msg.ConversationID][msg.ClientID] = msg.ID
	return nil
}

func (r *memoryMessageRepository) FindByClientID(_ context.Context, conversationID, clientID string) (*domain.ChatMessage, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	id, ok := r.byClient[conversationID][clientID]
	if !ok {
		return nil, ErrMessageNotFound
	}
	return r.byID[id].Clone(), nil
}

func (r *memoryMessageRepository) FindByID(_ context.Context, conversationID, messageID string) (*domain.ChatMessage, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	m, ok := r.byID[messageID]
	if !ok || m.ConversationID != conversationID {
		return nil, ErrMessageNotFound
	}
	return m.Clone(), nil
}

func (r *memoryMessageRepository) FindBySeqs(_ context.Context, conversationID string, seqs []int64) ([]*domain.ChatMessage, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]*domain.ChatMessage, 0, len(seqs))
	seen := make(map[int64]struct{}, len(seqs))
	for _, s := range seqs {
		if _, dup := seen[s]; dup {
			continue
		}
		seen[s] = struct{}{}
		if id, ok := r.bySeq[conversationID][s]; ok {
			out = append(out, r.byID[id].Clone())
		}
	}
	domain.SortBySeq(out)
	return out, nil
}

func (r *memoryMessageRepository) ListRange(_ context.Context, conversationID string, before, after int64, limit int) ([]*domain.ChatMessage, error) {
	r.mu.RLock()
	all := make([]*domain.ChatMessage, 0, len(r.bySeq[conversationID]))
	for s, id := range r.bySeq[conversationID] {
		if before > 0 && s >= before {
			continue
		}
		if after > 0 && s <= after {
			continue
		}
		all = append(all, r.byID[id].Clone())
	}
	r.mu.RUnlock()

	domain.SortBySeq(all)
	if limit > 0 && len(all) > limit {
		if after > 0 && before == 0 {
			all = all[:limit]
		} else {
			all = all[len(all)-limit:]
		}
	}
	return all, nil
}

func (r *memoryMessageRepository) Replace(_ context.Context, msg *domain.ChatMessage, expectedVersion int64) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	cur, ok := r.byID[msg.ID]
	if !ok || cur.ConversationID != msg.ConversationID {
		return ErrMessageNotFound
	}
	if cur.Version != expectedVersion {
		return ErrVersionConflict
	}
	msg.Version = expectedVersion + 1
	r.byID[msg.ID] = msg.Clone()
	return nil
}
