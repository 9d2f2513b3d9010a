package app

import (
	"context"
	"encoding/json"
	"sync"

	"chat_delivery_service/internal/chat/domain"
	"chat_delivery_service/internal/chat/repository"
	"chat_delivery_service/pkg/logger"
	"chat_delivery_service/pkg/metrics"

	"go.uber.org/zap"
)

// Hub rooms and connections of this instance. Emit goes through the broker so
// every instance, this one included, delivers to its local members.
type Hub struct {
	mu      sync.RWMutex
	rooms   map[string]map[string]*Client
	clients map[string]*Client

	broker     repository.Broker
	instanceID string
}

// NewHub create Hub
func NewHub(broker repository.Broker, instanceID string) *Hub {
	return &Hub{
		rooms:      make(map[string]map[string]*Client),
		clients:    make(map[string]*Client),
		broker:     broker,
		instanceID: instanceID,
	}
}

// Run subscribes to the broker until ctx is done
func (h *Hub) Run(ctx context.Context) error {
	return h.broker.Subscribe(ctx, h.Deliver)
}

// Register track a new connection
func (h *Hub) Register(c *Client) {
	h.mu.Lock()
	h.clients[c.ID] = c
	h.mu.Unlock()
	metrics.Connections.Inc()
}

// Unregister removes the connection from every room and returns the rooms it was in
func (h *Hub) Unregister(c *Client) []string {
	h.mu.Lock()
	defer h.mu.Unlock()
	if _, ok := h.clients[c.ID]; !ok {
		return nil
	}
	delete(h.clients, c.ID)
	metrics.Connections.Dec()

	rooms := make([]string, 0, len(c.rooms))
	for room := range c.rooms {
		rooms = append(rooms, room)
		h.removeLocked(c, room)
	}
	return rooms
}

// Join returns false when c was already in room
func (h *Hub) Join(c *Client, room string) bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	if _, ok := c.rooms[room]; ok {
		return false
	}
	members, ok := h.rooms[room]
	if !ok {
		members = make(map[string]*Client)
		h.rooms[room] = members
	}
	members[c.ID] = c
	c.rooms[room] = struct{}{}
	return true
}

// Leave returns false when c was not in room
func (h *Hub) Leave(c *Client, room string) bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	if _, ok := c.rooms[room]; !ok {
		return false
	}
	h.removeLocked(c, room)
	return true
}

func (h *Hub) removeLocked(c *Client, room string) {
	delete(c.rooms, room)
	if members, ok := h.rooms[room]; ok {
		delete(members, c.ID)
		if len(members) == 0 {
			delete(h.rooms, room)
		}
	}
}

// InRoom membership of a local connection
func (h *Hub) InRoom(c *Client, room string) bool {
	h.mu.RLock()
	defer h.mu.RUnlock()
	_, ok := c.rooms[room]
	return ok
}

// RoomSize local connections in room
func (h *Hub) RoomSize(room string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.rooms[room])
}

// Emit publishes to the broker; on broker failure local members still get the event
func (h *Hub) Emit(ctx context.Context, room, event string, data interface{}, excludeConn string) error {
	raw, err := json.Marshal(data)
	if err != nil {
		return err
	}
	env := domain.Envelope{Room: room, Event: event, Data: raw, ExcludeConn: excludeConn, Origin: h.instanceID}
	metrics.Fanout.WithLabelValues(event).Inc()
	if err := h.broker.Publish(ctx, env); err != nil {
		metrics.Fallbacks.WithLabelValues("broker").Inc()
		logger.Log.Error("broker publish failed, delivering locally",
			zap.String("room", room), zap.String("event", event), zap.Error(err))
		h.Deliver(env)
		return err
	}
	return nil
}

// Deliver local fan-out of one envelope
func (h *Hub) Deliver(env domain.Envelope) {
	frame, err := json.Marshal(domain.WSResponse{Event: env.Event, Data: env.Data})
	if err != nil {
		logger.Log.Error("marshal envelope", zap.Error(err))
		return
	}

	h.mu.RLock()
	targets := make([]*Client, 0, len(h.rooms[env.Room]))
	for id, c := range h.rooms[env.Room] {
		if id != env.ExcludeConn {
			targets = append(targets, c)
		}
	}
	h.mu.RUnlock()

	for _, c := range targets {
		c.Enqueue(frame)
	}
}
