package repository

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"sync"

	"chat_delivery_service/internal/chat/domain"
	"chat_delivery_service/pkg/logger"

	"github.com/go-redis/redis/v8"
	"go.uber.org/zap"
)

const roomChannelPrefix = "chat:room:"

// Broker carries room envelopes to every gateway instance, including the publisher
type Broker interface {
	Publish(ctx context.Context, env domain.Envelope) error
	// Subscribe delivers every envelope to handler until ctx is done
	Subscribe(ctx context.Context, handler func(domain.Envelope)) error
	Close() error
}

// RedisPubSub definition redis pub/sub
type RedisPubSub struct {
	client redis.UniversalClient
	mu     sync.Mutex
	subs   []*redis.PubSub
}

// NewRedisPubSub create RedisPubSub
func NewRedisPubSub(client redis.UniversalClient) *RedisPubSub {
	return &RedisPubSub{client: client}
}

// Publish 將 envelope 序列化後，發布到 room channel
func (r *RedisPubSub) Publish(ctx context.Context, env domain.Envelope) error {
	data, err := json.Marshal(env)
	if err != nil {
		return err
	}
	return r.client.Publish(ctx, roomChannelPrefix+env.Room, data).Err()
}

// Subscribe 訂閱所有 room channel，收到訊息後呼叫 handler 處理
func (r *RedisPubSub) Subscribe(ctx context.Context, handler func(domain.Envelope)) error {
	sub := r.client.PSubscribe(ctx, roomChannelPrefix+"*")
	if _, err := sub.Receive(ctx); err != nil {
		_ = sub.Close()
		return fmt.Errorf("psubscribe rooms: %w", err)
	}

	r.mu.Lock()
	r.subs = append(r.subs, sub)
	r.mu.Unlock()

	go func() {
		defer sub.Close()
		ch := sub.Channel()
		for {
			select {
			case m, ok := <-ch:
				if !ok {
					return
				}
				var env domain.Envelope
				if err := json.Unmarshal([]byte(m.Payload), &env); err != nil {
					logger.Log.Error("broker: bad envelope", zap.String("channel", m.Channel), zap.Error(err))
					continue
				}
				if env.Room == "" {
					env.Room = strings.TrimPrefix(m.Channel, roomChannelPrefix)
				}
				handler(env)
			case <-ctx.Done():
				logger.Log.Info("broker: room subscription closed")
				return
			}
		}
	}()
	return nil
}

// Close closes open subscriptions, the shared client is owned by the caller
func (r *RedisPubSub) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	var first error
	for _, s := range r.subs {
		if err := s.Close(); err != nil && first == nil {
			first = err
		}
	}
	r.subs = nil
	return first
}

// LocalBroker in process broker for a single instance deployment
type LocalBroker struct {
	mu       sync.RWMutex
	nextID   int
	handlers map[int]func(domain.Envelope)
}

// NewLocalBroker create LocalBroker
func NewLocalBroker() *LocalBroker {
	return &LocalBroker{handlers: make(map[int]func(domain.Envelope))}
}

// Publish delivers synchronously, handlers must not block
func (b *LocalBroker) Publish(_ context.Context, env domain.Envelope) error {
	b.mu.RLock()
	hs := make([]func(domain.Envelope), 0, len(b.handlers))
	for _, h := range b.handlers {
		hs = append(hs, h)
	}
	b.mu.RUnlock()
	for _, h := range hs {
		h(env)
	}
	return nil
}

// Subscribe registers handler until ctx is done
func (b *LocalBroker) Subscribe(ctx context.Context, handler func(domain.Envelope)) error {
	b.mu.Lock()
	id := b.nextID
	b.nextID++
	b.handlers[id] = handler
	b.mu.Unlock()

	go func() {
		<-ctx.Done()
		b.mu.Lock()
		delete(b.handlers, id)
		b.mu.Unlock()
	}()
	return nil
}

// Close drops all handlers
func (b *LocalBroker) Close() error {
	b.mu.Lock()
	b.handlers = make(map[int]func(domain.Envelope))
	b.mu.Unlock()
	return nil
}
