package app

import (
	"context"
	"sync"
	"time"

	"chat_delivery_service/internal/chat/domain"

	"github.com/stretchr/testify/mock"
)

// MockSequencer Mock Sequencer
type MockSequencer struct {
	mock.Mock
}

// Next moke allocate seq
func (m *MockSequencer) Next(ctx context.Context, conversationID string) (int64, error) {
	args := m.Called(ctx, conversationID)
	return args.Get(0).(int64), args.Error(1)
}

// MockPolicy Mock ConversationPolicy
type MockPolicy struct {
	mock.Mock
}

// Membership moke perms lookup
func (m *MockPolicy) Membership(ctx context.Context, p domain.Principal, conversationID string) (domain.Membership, error) {
	args := m.Called(ctx, p, conversationID)
	return args.Get(0).(domain.Membership), args.Error(1)
}

// MemberIDs moke member list
func (m *MockPolicy) MemberIDs(ctx context.Context, conversationID string) ([]string, error) {
	args := m.Called(ctx, conversationID)
	if args.Get(0) != nil {
		return args.Get(0).([]string), args.Error(1)
	}
	return nil, args.Error(1)
}

// UpdateLastMessage moke conversation summary update
func (m *MockPolicy) UpdateLastMessage(ctx context.Context, conversationID string, at time.Time, preview string) error {
	args := m.Called(ctx, conversationID, at, preview)
	return args.Error(0)
}

// MockPushNotifier Mock PushNotifier
type MockPushNotifier struct {
	mock.Mock
}

// Notify moke push
func (m *MockPushNotifier) Notify(ctx context.Context, n domain.PushNotification) error {
	args := m.Called(ctx, n)
	return args.Error(0)
}

// MockEventPublisher Mock EventPublisher
type MockEventPublisher struct {
	mock.Mock
}

// Publish moke message event
func (m *MockEventPublisher) Publish(ctx context.Context, ev domain.MessageEvent) error {
	args := m.Called(ctx, ev)
	return args.Error(0)
}

// MockRateStore Mock RateStore
type MockRateStore struct {
	mock.Mock
}

// Hit moke counter
func (m *MockRateStore) Hit(ctx context.Context, key string, window time.Duration, now time.Time) (int64, error) {
	args := m.Called(ctx, key, window, now)
	return args.Get(0).(int64), args.Error(1)
}

// MockPresenceStore Mock PresenceStore
type MockPresenceStore struct {
	mock.Mock
}

// Incr moke connect
func (m *MockPresenceStore) Incr(ctx context.Context, userID string, now time.Time) (domain.PresenceState, error) {
	args := m.Called(ctx, userID, now)
	return args.Get(0).(domain.PresenceState), args.Error(1)
}

// Decr moke disconnect
func (m *MockPresenceStore) Decr(ctx context.Context, userID string, now time.Time) (domain.PresenceState, error) {
	args := m.Called(ctx, userID, now)
	return args.Get(0).(domain.PresenceState), args.Error(1)
}

// Get moke snapshot
func (m *MockPresenceStore) Get(ctx context.Context, userIDs []string) (map[string]domain.PresenceState, error) {
	args := m.Called(ctx, userIDs)
	if args.Get(0) != nil {
		return args.Get(0).(map[string]domain.PresenceState), args.Error(1)
	}
	return nil, args.Error(1)
}

// Touch moke heartbeat
func (m *MockPresenceStore) Touch(ctx context.Context, userID string) error {
	return m.Called(ctx, userID).Error(0)
}

type emitted struct {
	Room        string
	Event       string
	Data        interface{}
	ExcludeConn string
}

// recordingEmitter 記錄所有 fan-out
type recordingEmitter struct {
	mu     sync.Mutex
	events []emitted
}

func (e *recordingEmitter) Emit(_ context.Context, room, event string, data interface{}, excludeConn string) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.events = append(e.events, emitted{Room: room, Event: event, Data: data, ExcludeConn: excludeConn})
	return nil
}

func (e *recordingEmitter) all() []emitted {
	e.mu.Lock()
	defer e.mu.Unlock()
	return append([]emitted(nil), e.events...)
}

func (e *recordingEmitter) named(event string) []emitted {
	var out []emitted
	for _, ev := range e.all() {
		if ev.Event == event {
			out = append(out, ev)
		}
	}
	return out
}

// syncTasks 同步執行背景工作
type syncTasks struct {
	mu    sync.Mutex
	names []string
	errs  []error
}

func (s *syncTasks) Submit(name string, fn func(ctx context.Context) error) bool {
	err := fn(context.Background())
	s.mu.Lock()
	s.names = append(s.names, name)
	s.errs = append(s.errs, err)
	s.mu.Unlock()
	return true
}

func (s *syncTasks) submitted() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.names...)
}

// stubPresence fixed online set
type stubPresence map[string]bool

func (s stubPresence) Snapshot(_ context.Context, userIDs []string) map[string]domain.PresenceState {
	out := make(map[string]domain.PresenceState, len(userIDs))
	for _, u := range userIDs {
		out[u] = domain.PresenceState{UserID: u, Online: s[u]}
	}
	return out
}

func textSend(conversationID, clientID, text string) domain.SendRequest {
	return domain.SendRequest{
		ConversationID: conversationID,
		ClientID:       clientID,
		Kind:           string(domain.KindText),
		Body:           domain.Body{Text: text},
	}
}

func principal(userID string) domain.Principal {
	return domain.Principal{UserID: userID, Username: userID, DeviceID: userID + "-phone"}
}
