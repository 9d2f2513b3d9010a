package app

import (
	"context"
	"encoding/json"
	"time"

	"chat_delivery_service/internal/chat/domain"
	errprocess "chat_delivery_service/pkg/err"
	"chat_delivery_service/pkg/logger"

	"github.com/streadway/amqp"
	"go.uber.org/zap"
)

// Notifier delivers one notification
type Notifier interface {
	Notify(ctx context.Context, n domain.PushNotification) error
}

// Delivery the part of amqp.Delivery the consumer acknowledges through
type Delivery interface {
	Ack(multiple bool) error
	Nack(multiple, requeue bool) error
}

// Consumer 定義一個消息消費者，將 push queue 轉送給 push gateway
type Consumer struct {
	rabbitChannel *amqp.Channel
	notifier      Notifier
	queueName     string
	prefetch      int
	retryDelay    time.Duration
	timeout       time.Duration
}

// NewConsumer 建構 Consumer 實例
func NewConsumer(rabbitChannel *amqp.Channel, notifier Notifier, queueName string, prefetch int, retryDelay time.Duration) *Consumer {
	return &Consumer{
		rabbitChannel: rabbitChannel,
		notifier:      notifier,
		queueName:     queueName,
		prefetch:      prefetch,
		retryDelay:    retryDelay,
		timeout:       10 * time.Second,
	}
}

// StartConsumer 開始消費訊息 until ctx is done or the channel closes
func (c *Consumer) StartConsumer(ctx context.Context) error {
	if c.prefetch > 0 {
		if err := c.rabbitChannel.Qos(c.prefetch, 0, false); err != nil {
			return err
		}
	}
	// 設定消費該 queue
	msgs, err := c.rabbitChannel.Consume(
		c.queueName, // queue name
		"",          // consumer tag，留空由系統分配
		false,       // autoAck 為 false，使用手動確認
		false,       // exclusive
		false,       // noLocal
		false,       // noWait
		nil,         // arguments
	)
	if err != nil {
		return err
	}
	logger.Log.Info("push consumer started", zap.String("queue", c.queueName))

	// 持續監聽訊息
	for {
		select {
		case d, ok := <-msgs:
			if !ok {
				logger.Log.Warn("push queue channel closed")
				return nil
			}
			c.Handle(ctx, d.Body, &d)
		case <-ctx.Done():
			logger.Log.Info("push consumer stopping")
			return nil
		}
	}
}

// Handle processes one delivery: malformed or rejected payloads are dropped,
// transient failures are requeued after retryDelay
func (c *Consumer) Handle(ctx context.Context, body []byte, d Delivery) {
	var n domain.PushNotification
	if err := json.Unmarshal(body, &n); err != nil || n.UserID == "" {
		logger.Log.Error("push payload malformed, dropping", zap.Error(err))
		_ = d.Nack(false, false)
		return
	}

	callCtx, cancel := context.WithTimeout(ctx, c.timeout)
	err := c.notifier.Notify(callCtx, n)
	cancel()
	if err == nil {
		if err := d.Ack(false); err != nil {
			logger.Log.Error("push ack failed", zap.Error(err))
		}
		return
	}

	if errprocess.KindOf(err) != errprocess.KindDependencyUnavailable {
		logger.Log.Error("push rejected, dropping", zap.String("userID", n.UserID), zap.Error(err))
		_ = d.Nack(false, false)
		return
	}

	logger.Log.Warn("push failed, requeueing", zap.String("userID", n.UserID), zap.Error(err))
	select {
	case <-time.After(c.retryDelay):
	case <-ctx.Done():
	}
	if err := d.Nack(false, true); err != nil {
		logger.Log.Error("push nack failed", zap.Error(err))
	}
}
