package app

import (
	"context"
	"sort"
	"time"

	"chat_delivery_service/internal/chat/domain"
	"chat_delivery_service/internal/chat/repository"
	errprocess "chat_delivery_service/pkg/err"
)

// SyncUseCase gap repair, stateless per client
type SyncUseCase struct {
	messages repository.MessageRepository
	maxSpan  int
	now      func() time.Time
}

// NewSyncUseCase maxSpan bounds the seq range one request may cover
func NewSyncUseCase(messages repository.MessageRepository, maxSpan int) *SyncUseCase {
	if maxSpan <= 0 {
		maxSpan = 1000
	}
	return &SyncUseCase{messages: messages, maxSpan: maxSpan, now: time.Now}
}

// MissingSeqs every integer in [min, max] of have that have does not contain.
// Ranges wider than maxSpan keep the newest maxSpan seqs.
func MissingSeqs(have []int64, maxSpan int) []int64 {
	set := make(map[int64]struct{}, len(have))
	var lo, hi int64
	for _, s := range have {
		if s < 1 {
			continue
		}
		if len(set) == 0 || s < lo {
			lo = s
		}
		if len(set) == 0 || s > hi {
			hi = s
		}
		set[s] = struct{}{}
	}
	if len(set) == 0 {
		return []int64{}
	}
	if maxSpan > 0 && hi-lo+1 > int64(maxSpan) {
		lo = hi - int64(maxSpan) + 1
	}

	// s++ wraps at math.MaxInt64, stop on hi instead of s <= hi
	missing := []int64{}
	for s := lo; ; s++ {
		if _, ok := set[s]; !ok {
			missing = append(missing, s)
		}
		if s == hi {
			break
		}
	}
	return missing
}

// GapCheck derives the missing seqs from haveSeqs and loads them
func (uc *SyncUseCase) GapCheck(ctx context.Context, p domain.Principal, req domain.GapCheckRequest) (domain.GapResult, error) {
	if len(req.HaveSeqs) == 0 {
		return domain.GapResult{ConversationID: req.ConversationID, MissingSeqs: []int64{}, Messages: []*domain.ChatMessage{}}, nil
	}
	return uc.load(ctx, p, req.ConversationID, MissingSeqs(req.HaveSeqs, uc.maxSpan))
}

// GapFill loads explicit seqs
func (uc *SyncUseCase) GapFill(ctx context.Context, p domain.Principal, req domain.GapFillRequest) (domain.GapResult, error) {
	seen := make(map[int64]struct{}, len(req.MissingSeqs))
	seqs := make([]int64, 0, len(req.MissingSeqs))
	for _, s := range req.MissingSeqs {
		if s < 1 {
			return domain.GapResult{}, errprocess.Validation("seq must be positive: %d", s)
		}
		if _, dup := seen[s]; dup {
			continue
		}
		seen[s] = struct{}{}
		seqs = append(seqs, s)
	}
	if len(seqs) > uc.maxSpan {
		return domain.GapResult{}, errprocess.Validation("at most %d seqs per request", uc.maxSpan)
	}
	sort.Slice(seqs, func(i, j int) bool { return seqs[i] < seqs[j] })
	return uc.load(ctx, p, req.ConversationID, seqs)
}

func (uc *SyncUseCase) load(ctx context.Context, p domain.Principal, conversationID string, seqs []int64) (domain.GapResult, error) {
	res := domain.GapResult{ConversationID: conversationID, MissingSeqs: seqs, Messages: []*domain.ChatMessage{}}
	if len(seqs) == 0 {
		return res, nil
	}
	msgs, err := uc.messages.FindBySeqs(ctx, conversationID, seqs)
	if err != nil {
		return domain.GapResult{}, storeErr(err)
	}
	res.Messages = viewsFor(msgs, p.UserID, uc.now())

	// seqs allocated by the sequencer whose send never became durable
	found := make(map[int64]struct{}, len(msgs))
	for _, m := range msgs {
		found[m.Seq] = struct{}{}
	}
	for _, s := range seqs {
		if _, ok := found[s]; !ok {
			res.UnavailableSeqs = append(res.UnavailableSeqs, s)
		}
	}
	return res, nil
}
