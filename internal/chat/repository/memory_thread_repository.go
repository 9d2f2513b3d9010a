package repository

import (
	"context"
	"sort"
	"sync"

	"chat_delivery_service/internal/chat/domain"
)

type memoryThreadRepository struct {
	mu     sync.Mutex
	byID   map[string]*domain.Thread
	byRoot map[string]string
}

// NewMemoryThreadRepository for local development and tests
func NewMemoryThreadRepository() ThreadRepository {
	return &memoryThreadRepository{
		byID:   make(map[string]*domain.Thread),
		byRoot: make(map[string]string),
	}
}

func (r *memoryThreadRepository) EnsureIndexes(context.Context) error { return nil }

func (r *memoryThreadRepository) Create(_ context.Context, t *domain.Thread) (*domain.Thread, bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	root := callKey(t.ConversationID, t.RootMessageID)
	if id, ok := r.byRoot[root]; ok {
		cp := *r.byID[id]
		return &cp, false, nil
	}
	cp := *t
	r.byID[t.ID] = &cp
	r.byRoot[root] = t.ID
	out := cp
	return &out, true, nil
}

func (r *memoryThreadRepository) Find(_ context.Context, conversationID, threadID string) (*domain.Thread, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	t, ok := r.byID[threadID]
	if !ok || t.ConversationID != conversationID {
		return nil, ErrThreadNotFound
	}
	cp := *t
	return &cp, nil
}

func (r *memoryThreadRepository) List(_ context.Context, conversationID string, limit int) ([]*domain.Thread, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []*domain.Thread
	for _, t := range r.byID {
		if t.ConversationID == conversationID {
			cp := *t
			out = append(out, &cp)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

type memoryReportRepository struct {
	mu      sync.Mutex
	reports map[string]domain.Report
}

// NewMemoryReportRepository for local development and tests
func NewMemoryReportRepository() ReportRepository {
	return &memoryReportRepository{reports: make(map[string]domain.Report)}
}

func (r *memoryReportRepository) EnsureIndexes(context.Context) error { return nil }

func (r *memoryReportRepository) Add(_ context.Context, rep *domain.Report) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	key := rep.ConversationID + "\x00" + rep.MessageID + "\x00" + rep.ReportedBy
	if _, ok := r.reports[key]; ok {
		return false, nil
	}
	r.reports[key] = *rep
	return true, nil
}
