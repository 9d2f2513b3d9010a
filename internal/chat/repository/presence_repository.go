package repository

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"sync"
	"time"

	"chat_delivery_service/internal/chat/domain"
	"chat_delivery_service/pkg/database"

	"github.com/go-redis/redis/v8"
)

// PresenceStore per user connection refcount
type PresenceStore interface {
	Incr(ctx context.Context, userID string, now time.Time) (domain.PresenceState, error)
	// Decr clamps at zero and records last seen when the count reaches zero
	Decr(ctx context.Context, userID string, now time.Time) (domain.PresenceState, error)
	Get(ctx context.Context, userIDs []string) (map[string]domain.PresenceState, error)
	// Touch keeps a live counter from expiring
	Touch(ctx context.Context, userID string) error
}

type lastSeenRecord struct {
	At time.Time `json:"at"`
}

var decrClamp = redis.NewScript(`
local v = redis.call('DECR', KEYS[1])
if v <= 0 then
  redis.call('SET', KEYS[1], 0, 'EX', ARGV[1])
  return 0
end
redis.call('EXPIRE', KEYS[1], ARGV[1])
return v
`)

// RedisPresenceStore counters shared by every gateway instance
type RedisPresenceStore struct {
	client   redis.UniversalClient
	counts   database.RedisRepository[int64]
	lastSeen database.RedisRepository[lastSeenRecord]
	ttl      time.Duration
}

// NewRedisPresenceStore ttl bounds how long a crashed instance can keep a user online
func NewRedisPresenceStore(client redis.UniversalClient, ttl time.Duration) *RedisPresenceStore {
	return &RedisPresenceStore{
		client:   client,
		counts:   database.NewRedisRepository[int64](client),
		lastSeen: database.NewRedisRepository[lastSeenRecord](client),
		ttl:      ttl,
	}
}

func presenceCountKey(userID string) string    { return "presence:count:" + userID }
func presenceLastSeenKey(userID string) string { return "presence:last_seen:" + userID }

func (s *RedisPresenceStore) Incr(ctx context.Context, userID string, _ time.Time) (domain.PresenceState, error) {
	pipe := s.client.TxPipeline()
	incr := pipe.Incr(ctx, presenceCountKey(userID))
	pipe.Expire(ctx, presenceCountKey(userID), s.ttl)
	if _, err := pipe.Exec(ctx); err != nil {
		return domain.PresenceState{}, fmt.Errorf("presence incr: %w", err)
	}
	n := incr.Val()
	return domain.PresenceState{UserID: userID, Online: n > 0, Count: n}, nil
}

func (s *RedisPresenceStore) Decr(ctx context.Context, userID string, now time.Time) (domain.PresenceState, error) {
	n, err := decrClamp.Run(ctx, s.client, []string{presenceCountKey(userID)}, int(s.ttl.Seconds())).Int64()
	if err != nil {
		return domain.PresenceState{}, fmt.Errorf("presence decr: %w", err)
	}
	st := domain.PresenceState{UserID: userID, Online: n > 0, Count: n}
	if n == 0 {
		if err := s.lastSeen.Set(ctx, presenceLastSeenKey(userID), lastSeenRecord{At: now}, 30*24*time.Hour); err != nil {
			return st, fmt.Errorf("presence last seen: %w", err)
		}
		st.LastSeen = &now
	}
	return st, nil
}

// Touch a missing key stays missing, EXPIRE does not create it
func (s *RedisPresenceStore) Touch(ctx context.Context, userID string) error {
	if err := s.counts.ExtendTTL(ctx, presenceCountKey(userID), s.ttl); err != nil {
		return fmt.Errorf("presence touch: %w", err)
	}
	return nil
}

func (s *RedisPresenceStore) Get(ctx context.Context, userIDs []string) (map[string]domain.PresenceState, error) {
	out := make(map[string]domain.PresenceState, len(userIDs))
	if len(userIDs) == 0 {
		return out, nil
	}
	keys := make([]string, len(userIDs))
	for i, u := range userIDs {
		keys[i] = presenceCountKey(u)
	}
	vals, err := s.client.MGet(ctx, keys...).Result()
	if err != nil {
		return nil, fmt.Errorf("presence mget: %w", err)
	}
	for i, u := range userIDs {
		var n int64
		if str, ok := vals[i].(string); ok {
			n, _ = strconv.ParseInt(str, 10, 64)
		}
		st := domain.PresenceState{UserID: u, Online: n > 0, Count: n}
		if !st.Online {
			rec, err := s.lastSeen.Get(ctx, presenceLastSeenKey(u))
			if err == nil {
				at := rec.At
				st.LastSeen = &at
			} else if !errors.Is(err, database.ErrRedisNil) {
				return nil, err
			}
		}
		out[u] = st
	}
	return out, nil
}

type memoryPresence struct {
	count    int64
	lastSeen *time.Time
}

// MemoryPresenceStore process local refcounts
type MemoryPresenceStore struct {
	mu    sync.Mutex
	users map[string]*memoryPresence
}

// NewMemoryPresenceStore create MemoryPresenceStore
func NewMemoryPresenceStore() *MemoryPresenceStore {
	return &MemoryPresenceStore{users: make(map[string]*memoryPresence)}
}

func (s *MemoryPresenceStore) entry(userID string) *memoryPresence {
	p, ok := s.users[userID]
	if !ok {
		p = &memoryPresence{}
		s.users[userID] = p
	}
	return p
}

func (s *MemoryPresenceStore) Incr(_ context.Context, userID string, _ time.Time) (domain.PresenceState, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	p := s.entry(userID)
	p.count++
	return domain.PresenceState{UserID: userID, Online: true, Count: p.count}, nil
}

func (s *MemoryPresenceStore) Decr(_ context.Context, userID string, now time.Time) (domain.PresenceState, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	p := s.entry(userID)
	if p.count > 0 {
		p.count--
	}
	st := domain.PresenceState{UserID: userID, Online: p.count > 0, Count: p.count}
	if p.count == 0 {
		at := now
		p.lastSeen = &at
		st.LastSeen = &at
	}
	return st, nil
}

// Touch local counters never expire
func (s *MemoryPresenceStore) Touch(context.Context, string) error { return nil }

func (s *MemoryPresenceStore) Get(_ context.Context, userIDs []string) (map[string]domain.PresenceState, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make(map[string]domain.PresenceState, len(userIDs))
	for _, u := range userIDs {
		st := domain.PresenceState{UserID: u}
		if p, ok := s.users[u]; ok {
			st.Count = p.count
			st.Online = p.count > 0
			if !st.Online && p.lastSeen != nil {
				at := *p.lastSeen
				st.LastSeen = &at
			}
		}
		out[u] = st
	}
	return out, nil
}
