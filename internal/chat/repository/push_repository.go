package repository

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"chat_delivery_service/internal/chat/domain"
	"chat_delivery_service/pkg/database"

	"github.com/google/uuid"
	"github.com/streadway/amqp"
)

// AMQPPushQueue hands push notifications to the push worker through a durable queue
type AMQPPushQueue struct {
	repo  database.RabbitRepo
	queue string
}

// NewAMQPPushQueue declares the queue
func NewAMQPPushQueue(repo database.RabbitRepo, queue string) (*AMQPPushQueue, error) {
	if err := repo.DeclareQueue(queue); err != nil {
		return nil, fmt.Errorf("declare push queue: %w", err)
	}
	return &AMQPPushQueue{repo: repo, queue: queue}, nil
}

// Notify publishes a persistent message, ctx is unused because amqp publish does not block on the broker
func (q *AMQPPushQueue) Notify(_ context.Context, n domain.PushNotification) error {
	body, err := json.Marshal(n)
	if err != nil {
		return err
	}
	return q.repo.Publish("", q.queue, false, false, amqp.Publishing{
		ContentType:  "application/json",
		DeliveryMode: amqp.Persistent,
		MessageId:    uuid.NewString(),
		Timestamp:    time.Now(),
		Body:         body,
	})
}
