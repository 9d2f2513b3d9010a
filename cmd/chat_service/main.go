package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	_ "chat_delivery_service/docs"
	"chat_delivery_service/internal/chat/app"
	"chat_delivery_service/internal/chat/collaborator"
	"chat_delivery_service/internal/chat/repository"
	"chat_delivery_service/internal/chat/router"
	"chat_delivery_service/pkg/config"
	"chat_delivery_service/pkg/database"
	"chat_delivery_service/pkg/logger"
	"chat_delivery_service/pkg/middlewares"
	testtool "chat_delivery_service/pkg/test_tool"

	"github.com/go-redis/redis/v8"
	"github.com/gofiber/fiber/v2"
	fiber_log "github.com/gofiber/fiber/v2/middleware/logger"
	"github.com/gofiber/fiber/v2/middleware/recover"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

func main() {
	logger.Log = logger.Initialize(config.EnvConfig.ChatService, config.EnvConfig.ChatServiceLogPath)
	defer logger.Log.Sync()
	cfg := config.LoadConfig[config.Chat](config.EnvConfig.ChatService, config.EnvConfig.ChatServiceYAMLPath).WithDefaults()
	testtool.StartPprof()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// 1. 訊息與通話儲存
	var (
		msgRepo    repository.MessageRepository
		callRepo   repository.CallRepository
		threadRepo repository.ThreadRepository
		reportRepo repository.ReportRepository
	)
	switch cfg.Storage {
	case "memory":
		logger.Log.Warn("memory storage: messages are lost on restart")
		msgRepo = repository.NewMemoryMessageRepository()
		callRepo = repository.NewMemoryCallRepository()
		threadRepo = repository.NewMemoryThreadRepository()
		reportRepo = repository.NewMemoryReportRepository()
	default:
		uri := database.MongoURI(cfg.MongoSQL.User, cfg.MongoSQL.Password, cfg.MongoSQL.Host, cfg.MongoSQL.Port)
		mongo, err := database.NewMongoDB(ctx, database.Connection{
			ConnectStr:    uri,
			RetryCount:    cfg.MongoSQL.RetryCount,
			RetryInterval: time.Duration(cfg.MongoSQL.RetryInterval) * time.Second,
		}, cfg.MongoSQL.Database)
		if err != nil {
			logger.Log.Fatal("Unable to connect to mongoDB database after retries",
				zap.String("host", cfg.MongoSQL.Host), zap.Error(err))
		}
		defer mongo.Close(context.Background())
		msgRepo = repository.NewMongoChatMessageRepository(mongo.Database)
		callRepo = repository.NewMongoCallRepository(mongo.Database)
		threadRepo = repository.NewMongoThreadRepository(mongo.Database)
		reportRepo = repository.NewMongoReportRepository(mongo.Database)
	}
	if err := msgRepo.EnsureIndexes(ctx); err != nil {
		logger.Log.Fatal("ensure message indexes", zap.Error(err))
	}
	if err := callRepo.EnsureIndexes(ctx); err != nil {
		logger.Log.Fatal("ensure call indexes", zap.Error(err))
	}
	if err := threadRepo.EnsureIndexes(ctx); err != nil {
		logger.Log.Fatal("ensure thread indexes", zap.Error(err))
	}
	if err := reportRepo.EnsureIndexes(ctx); err != nil {
		logger.Log.Fatal("ensure report indexes", zap.Error(err))
	}

	// 2. Redis (Pub/Sub, rate limit, presence)
	var (
		broker        repository.Broker = repository.NewLocalBroker()
		rateStore     repository.RateStore
		presenceStore repository.PresenceStore
	)
	if cfg.Redis.Enabled {
		masterName, sentinel := config.GetRedisSetting()
		redisClient, err := database.NewRedisClient(ctx, database.RedisConnection{
			MasterName:    masterName,
			SentinelAddrs: sentinel,
			Addr:          cfg.Redis.Addr,
			Password:      cfg.Redis.Password,
			DB:            cfg.Redis.RedisDB,
		})
		if err != nil {
			logger.Log.Fatal(fmt.Sprintf("connect redis err : %v", err))
		}
		defer func(c redis.UniversalClient) { _ = c.Close() }(redisClient)
		broker = repository.NewRedisPubSub(redisClient)
		rateStore = repository.NewRedisRateStore(redisClient)
		presenceStore = repository.NewRedisPresenceStore(redisClient, cfg.Presence.TTL)
	} else {
		logger.Log.Warn("redis disabled: fan-out, rate limits and presence are local to this instance")
	}
	defer broker.Close()

	// 3. 外部協作服務
	var auth app.Authenticator
	switch cfg.Identity.Mode {
	case "jwt":
		auth = collaborator.NewJWTAuthenticator(cfg.Identity.JWTSecret)
	default:
		auth = collaborator.NewIntrospectAuthenticator(cfg.Identity.IntrospectURL, cfg.Identity.AuthScheme, cfg.InternalToken, cfg.Identity.Timeout)
	}

	var policy app.ConversationPolicy = collaborator.NewPolicyClient(
		cfg.Policy.PermsURL, cfg.Policy.MembersURL, cfg.Policy.LastMessageURL, cfg.InternalToken, cfg.Policy.Timeout)
	if cfg.Policy.AllowAll {
		logger.Log.Warn("policy.allow_all: every authenticated user is a member of every conversation")
		policy = collaborator.AllowAllPolicy{}
	}

	sequencer := newSequencer(ctx, cfg)

	var push app.PushNotifier
	switch cfg.Push.Transport {
	case "http":
		push = collaborator.NewPushClient(cfg.Push.URL, cfg.InternalToken, cfg.Push.Timeout)
	case "amqp":
		conn, err := database.ConnectRabbitMQWithRetry(database.Connection{
			ConnectStr:    database.AMQPURI(cfg.RabbitMQ.User, cfg.RabbitMQ.Password, cfg.RabbitMQ.Host, cfg.RabbitMQ.Port),
			RetryCount:    cfg.RabbitMQ.RetryCount,
			RetryInterval: time.Duration(cfg.RabbitMQ.RetryInterval) * time.Second,
		})
		if err != nil {
			logger.Log.Fatal("RabbitMQ 連線失敗", zap.Error(err))
		}
		defer conn.Close()
		ch, err := database.GetRabbitMQChannelWithRetry(conn, cfg.RabbitMQ.RetryCount, time.Duration(cfg.RabbitMQ.RetryInterval)*time.Second)
		if err != nil {
			logger.Log.Fatal("取得 RabbitMQ Channel 失敗", zap.Error(err))
		}
		defer ch.Close()
		queue, err := repository.NewAMQPPushQueue(database.NewRabbitRepository(ch), cfg.Push.Queue)
		if err != nil {
			logger.Log.Fatal("push queue", zap.Error(err))
		}
		push = queue
	}

	var events app.EventPublisher
	if cfg.Kafka.Enabled {
		writer, err := database.NewKafkaWriterWithRetry(ctx, database.KafkaConnection{
			Brokers:       cfg.Kafka.Brokers,
			Topic:         cfg.Kafka.Topic,
			RetryCount:    3,
			RetryInterval: 2 * time.Second,
		})
		if err != nil {
			logger.Log.Fatal("Kafka Writer 建立失敗", zap.Error(err))
		}
		publisher := repository.NewKafkaEventPublisher(writer)
		defer publisher.Close()
		events = publisher
	}

	// 4. 初始化 UseCases
	tasks := app.NewTaskRunner(cfg.Background, cfg.RequestTimeout)
	tasks.Start()
	defer tasks.Stop()

	hub := app.NewHub(broker, uuid.NewString())
	if err := hub.Run(ctx); err != nil {
		logger.Log.Fatal("subscribe rooms", zap.Error(err))
	}

	presence := app.NewPresenceTracker(presenceStore)
	messageUC := app.NewMessageUseCase(app.MessageDeps{
		Messages:  msgRepo,
		Sequencer: sequencer,
		Policy:    policy,
		Presence:  presence,
		Emitter:   hub,
		Tasks:     tasks,
		Push:      push,
		Events:    events,
		Features:  cfg.Features,
	})
	callUC := app.NewCallUseCase(app.CallDeps{
		Calls:      callRepo,
		Policy:     policy,
		Presence:   presence,
		Emitter:    hub,
		Tasks:      tasks,
		Push:       push,
		SignalsMax: cfg.Calls.SignalLogMax,
	})
	wsHandler := app.NewChatWebsocketHandler(app.HandlerDeps{
		Hub:       hub,
		Policy:    policy,
		Limiter:   app.NewRateLimiter(rateStore, cfg.RateLimit),
		Presence:  presence,
		Messages:  messageUC,
		Sync:      app.NewSyncUseCase(msgRepo, cfg.Gateway.MaxGapSpan),
		Reactions: app.NewReactionUseCase(msgRepo, hub),
		Calls:     callUC,
		Threads: app.NewThreadUseCase(app.ThreadDeps{
			Threads:  threadRepo,
			Reports:  reportRepo,
			Messages: msgRepo,
			Emitter:  hub,
			Features: cfg.Features,
		}),
		Gateway:        cfg.Gateway,
		RequestTimeout: cfg.RequestTimeout,
	})

	// 5. 啟動 Fiber
	r := fiber.New(fiber.Config{DisableStartupMessage: config.IsProduction()})
	file, err := os.OpenFile(fmt.Sprintf("%s/access.log", config.EnvConfig.ChatServiceLogPath), os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0666)
	if err != nil {
		logger.Log.Fatal("Failed to open log file", zap.Error(err))
	}
	defer file.Close()
	r.Use(recover.New())
	r.Use(fiber_log.New(fiber_log.Config{
		Output: file, // 将日志输出到文件
	}))

	throttle := middlewares.NewLimiterPool(cfg.RateLimit.ConnectPerSecond, cfg.RateLimit.ConnectBurst, 10*time.Minute)
	go throttle.Run(time.Minute, ctx.Done())

	// 注册路由
	router.RegisterRoutes(r, router.Deps{
		Websocket:     wsHandler,
		REST:          app.NewRESTHandler(hub, callUC, cfg.RequestTimeout),
		Auth:          auth,
		Throttle:      throttle,
		InternalToken: cfg.InternalToken,
	})

	go func() {
		<-ctx.Done()
		logger.Log.Info("shutting down chat service")
		if err := r.ShutdownWithTimeout(10 * time.Second); err != nil {
			logger.Log.Error("fiber shutdown", zap.Error(err))
		}
	}()

	// Listen
	port := ":" + cfg.Port
	logger.Log.Info("Chat Service listening", zap.String("port", port))
	if err := r.Listen(port); err != nil {
		logger.Log.Fatal("Failed to start Fiber", zap.Error(err))
	}
}

func newSequencer(ctx context.Context, cfg config.Chat) app.Sequencer {
	switch cfg.Sequencer.Mode {
	case "memory":
		logger.Log.Warn("memory sequencer: seqs restart at 1 on every boot, dev only")
		return repository.NewMemorySequencer()
	case "postgres":
		pool, err := database.NewDatabaseConnection(ctx, database.Connection{
			ConnectStr:    database.PostgresURI(cfg.PostgreSQL.User, cfg.PostgreSQL.Password, cfg.PostgreSQL.Host, cfg.PostgreSQL.Port, cfg.PostgreSQL.Database),
			RetryCount:    cfg.PostgreSQL.RetryCount,
			RetryInterval: time.Duration(cfg.PostgreSQL.RetryInterval) * time.Second,
		})
		if err != nil {
			logger.Log.Fatal("Unable to connect to postgreSQL database after retries", zap.Error(err))
		}
		seq := repository.NewPostgresSequencer(pool)
		if err := seq.EnsureSchema(ctx); err != nil {
			logger.Log.Fatal("sequencer schema", zap.Error(err))
		}
		return seq
	default:
		return collaborator.NewSequencerClient(cfg.Sequencer.URL, cfg.InternalToken, cfg.Sequencer.Timeout)
	}
}
