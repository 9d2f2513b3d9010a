package database

import (
	"context"
	"fmt"
	"time"

	"chat_delivery_service/pkg/logger"

	"github.com/segmentio/kafka-go"
	"go.uber.org/zap"
)

// NewKafkaWriterWithRetry 確認 broker 可連線後建立 Writer，不寫入測試訊息
func NewKafkaWriterWithRetry(ctx context.Context, k KafkaConnection) (*kafka.Writer, error) {
	if len(k.Brokers) == 0 {
		return nil, fmt.Errorf("kafka: no brokers configured")
	}
	attempts := k.RetryCount
	if attempts < 1 {
		attempts = 1
	}

	var err error
	for attempt := 1; attempt <= attempts; attempt++ {
		var conn *kafka.Conn
		conn, err = kafka.DialContext(ctx, "tcp", k.Brokers[0])
		if err == nil {
			_, err = conn.Brokers()
			conn.Close()
		}
		if err == nil {
			logger.Log.Info("kafka writer ready", zap.Strings("brokers", k.Brokers), zap.String("topic", k.Topic), zap.Int("attempt", attempt))
			return &kafka.Writer{
				Addr:                   kafka.TCP(k.Brokers...),
				Topic:                  k.Topic,
				Balancer:               &kafka.Hash{},
				RequiredAcks:           kafka.RequireOne,
				AllowAutoTopicCreation: true,
				BatchTimeout:           10 * time.Millisecond,
			}, nil
		}

		logger.Log.Warn("kafka dial failed, retrying", zap.Int("attempt", attempt), zap.Int("max", attempts), zap.Error(err))
		if attempt < attempts {
			time.Sleep(k.RetryInterval)
		}
	}

	return nil, fmt.Errorf("kafka: unreachable after %d attempts: %w", attempts, err)
}
