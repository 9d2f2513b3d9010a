package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"chat_delivery_service/internal/chat/collaborator"
	"chat_delivery_service/internal/push/app"
	"chat_delivery_service/pkg/config"
	"chat_delivery_service/pkg/database"
	"chat_delivery_service/pkg/logger"

	"go.uber.org/zap"
)

func main() {
	logger.Log = logger.Initialize(config.EnvConfig.PushWorker, config.EnvConfig.PushWorkerLogPath)
	defer logger.Log.Sync()
	cfg := config.LoadConfig[config.PushWorker](config.EnvConfig.PushWorker, config.EnvConfig.PushWorkerYAMLPath).WithDefaults()

	retryInterval := time.Duration(cfg.RabbitMQ.RetryInterval) * time.Second
	conn, err := database.ConnectRabbitMQWithRetry(database.Connection{
		ConnectStr:    database.AMQPURI(cfg.RabbitMQ.User, cfg.RabbitMQ.Password, cfg.RabbitMQ.Host, cfg.RabbitMQ.Port),
		RetryCount:    cfg.RabbitMQ.RetryCount,
		RetryInterval: retryInterval,
	})
	if err != nil {
		logger.Log.Fatal("RabbitMQ 連線失敗", zap.Error(err))
	}
	defer conn.Close()

	rabbitChannel, err := database.GetRabbitMQChannelWithRetry(conn, cfg.RabbitMQ.RetryCount, retryInterval)
	if err != nil {
		logger.Log.Fatal("取得 RabbitMQ Channel 失敗", zap.Error(err))
	}
	defer rabbitChannel.Close()

	//先初始化 queue，與 chat_service 的宣告一致
	if err := database.NewRabbitRepository(rabbitChannel).DeclareQueue(cfg.Push.Queue); err != nil {
		logger.Log.Fatal("Queue Declare failed", zap.Error(err))
	}

	notifier := collaborator.NewPushClient(cfg.Push.URL, cfg.InternalToken, cfg.Push.Timeout)
	consumer := app.NewConsumer(rabbitChannel, notifier, cfg.Push.Queue, cfg.Prefetch, cfg.RetryDelay)

	// 使用 context 控制 Consumer 的生命週期
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	if err := consumer.StartConsumer(ctx); err != nil {
		logger.Log.Fatal("push consumer", zap.Error(err))
	}
}
