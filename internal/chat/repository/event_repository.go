package repository

import (
	"context"
	"encoding/json"
	"fmt"

	"chat_delivery_service/internal/chat/domain"

	"github.com/segmentio/kafka-go"
)

// KafkaEventPublisher writes message events keyed by conversation, preserving per conversation order
type KafkaEventPublisher struct {
	writer *kafka.Writer
}

// NewKafkaEventPublisher create KafkaEventPublisher
func NewKafkaEventPublisher(writer *kafka.Writer) *KafkaEventPublisher {
	return &KafkaEventPublisher{writer: writer}
}

// Publish one event
func (p *KafkaEventPublisher) Publish(ctx context.Context, ev domain.MessageEvent) error {
	data, err := json.Marshal(ev)
	if err != nil {
		return err
	}
	err = p.writer.WriteMessages(ctx, kafka.Message{
		Key:   []byte(ev.ConversationID),
		Value: data,
		Headers: []kafka.Header{
			{Key: "type", Value: []byte(ev.Type)},
		},
	})
	if err != nil {
		return fmt.Errorf("kafka write: %w", err)
	}
	return nil
}

// Close flushes pending writes
func (p *KafkaEventPublisher) Close() error {
	return p.writer.Close()
}
