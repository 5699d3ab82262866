package main

import (
	"context"
	"errors"
	"flag"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/fathima-sithara/chat-sync-service/internal/api"
	"github.com/fathima-sithara/chat-sync-service/internal/auth"
	"github.com/fathima-sithara/chat-sync-service/internal/cache"
	"github.com/fathima-sithara/chat-sync-service/internal/config"
	"github.com/fathima-sithara/chat-sync-service/internal/metrics"
	"github.com/fathima-sithara/chat-sync-service/internal/middleware"
	"github.com/fathima-sithara/chat-sync-service/internal/notifier"
	"github.com/fathima-sithara/chat-sync-service/internal/repository"
	"github.com/fathima-sithara/chat-sync-service/internal/service"
	"github.com/fathima-sithara/chat-sync-service/internal/storage"
	"github.com/fathima-sithara/chat-sync-service/internal/utils"
	"github.com/fathima-sithara/chat-sync-service/internal/ws"
)

const presenceTTL = 24 * time.Hour

func main() {
	cfgPath := flag.String("config", "config/config.yaml", "path to config file")
	flag.Parse()

	cfg, err := config.Load(*cfgPath)
	if err != nil {
		log.Fatalf("config load: %v", err)
	}

	logger, err := utils.NewLogger(cfg.Log.Development, cfg.Log.Level)
	if err != nil {
		log.Fatalf("logger init: %v", err)
	}
	defer logger.Sync()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	metrics.Init()

	mc, err := repository.Connect(ctx, cfg, logger)
	if err != nil {
		logger.Fatal("mongo connect failed", zap.Error(err))
	}
	defer func() { _ = mc.Disconnect(context.Background()) }()

	db := mc.Database(cfg.Mongo.Database)
	if err := repository.EnsureIndexes(ctx, db, cfg); err != nil {
		logger.Fatal("ensure indexes failed", zap.Error(err))
	}
	convs := repository.NewMongoConversationStore(db.Collection(cfg.Mongo.ConversationsCollection), cfg.OpTimeout)
	msgs := repository.NewMongoMessageStore(db.Collection(cfg.Mongo.MessagesCollection), cfg.OpTimeout)
	users := repository.NewMongoUserDirectory(db.Collection(cfg.Mongo.UsersCollection), cfg.OpTimeout)

	jv, err := auth.NewJWTValidator(cfg.Auth.Alg, cfg.Auth.JWTSecret, cfg.Auth.PublicKeyPath)
	if err != nil {
		logger.Fatal("jwt validator init failed", zap.Error(err))
	}

	var opts []service.Option
	var rdb *redis.Client
	var presence *cache.Presence
	if cfg.Redis.Enabled {
		rdb = redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		defer rdb.Close()
		presence = cache.NewPresence(rdb, cfg.Redis.Prefix, presenceTTL)
		opts = append(opts, service.WithPresence(presence))
	}
	if cfg.S3.Enabled {
		signer, err := storage.NewS3Attachments(ctx, storage.S3Options{
			Region:   cfg.S3.Region,
			Bucket:   cfg.S3.Bucket,
			Endpoint: cfg.S3.Endpoint,
			TTL:      cfg.PresignTTL,
		})
		if err != nil {
			logger.Fatal("s3 init failed", zap.Error(err))
		}
		opts = append(opts, service.WithAttachments(signer))
	}

	query := service.NewQueryService(convs, msgs, users, logger, opts...)
	hub := ws.NewHub(query, logger.Sugar())

	// With Redis every instance's hub is fed by the subscription, including
	// for events this instance published; without it the hub is fed directly.
	var pubs notifier.Fanout
	breaker := func(name string, p notifier.Publisher) notifier.Publisher {
		return notifier.NewBreaker(p, notifier.BreakerConfig{
			Name:        name,
			MaxFailures: cfg.Notifier.BreakerMaxFailures,
			Timeout:     cfg.BreakerTimeout,
		}, logger)
	}
	if rdb != nil {
		pubs = append(pubs, breaker("redis", notifier.NewRedisPublisher(rdb, cfg.Redis.Prefix)))
		go func() {
			if err := hub.RunRedis(ctx, rdb, cfg.Redis.Prefix); err != nil && !errors.Is(err, context.Canceled) {
				logger.Error("redis subscription stopped", zap.Error(err))
			}
		}()
	} else {
		pubs = append(pubs, notifier.Local{Sink: hub})
	}
	if cfg.Kafka.Enabled {
		kp := notifier.NewKafkaPublisher(cfg.Kafka.Brokers, cfg.Kafka.TopicEvents)
		defer kp.Close()
		pubs = append(pubs, breaker("kafka", kp))
	}

	dispatcher := notifier.NewDispatcher(pubs, logger, notifier.DispatcherConfig{
		Workers:   cfg.Notifier.Workers,
		QueueSize: cfg.Notifier.QueueSize,
		Timeout:   cfg.PublishTimeout,
	})

	resolver := service.NewResolver(convs, users, dispatcher, logger, opts...)
	coordinator := service.NewCoordinator(convs, msgs, users, dispatcher, logger, opts...)

	var tracker ws.PresenceTracker
	if presence != nil {
		tracker = presence
	}
	wsHandler := ws.NewHandler(hub, jv, tracker, ws.HandlerConfig{
		PingInterval:   cfg.PingInterval,
		WriteDeadline:  cfg.WriteDeadline,
		MaxMessageSize: cfg.WS.MaxMessageSizeBytes,
		SendBuffer:     cfg.WS.SendBuffer,
	}, logger.Sugar())

	deps := api.Deps{
		Logger:         logger,
		Tokens:         jv,
		Resolver:       resolver,
		Coordinator:    coordinator,
		Query:          query,
		RequestTimeout: cfg.RequestTimeout,
		WS:             wsHandler,
		IPLimiter:      middleware.NewIPRateLimiter(ctx, cfg.RateLimit.PerMinute, cfg.RateLimit.Burst, logger),
		Health: func(ctx context.Context) error {
			return mc.Ping(ctx, nil)
		},
	}
	if rdb != nil {
		deps.SendLimiter = middleware.NewRedisRateLimiter(rdb, cfg.Redis.Prefix, cfg.RateLimit.SendPerMinutePerUser, time.Minute, logger)
	}
	app := api.NewServer(deps)

	go func() {
		if err := app.Listen(cfg.Addr()); err != nil {
			logger.Error("server listen failed", zap.Error(err))
			stop()
		}
	}()
	logger.Info("chat-sync started", zap.String("addr", cfg.Addr()), zap.String("env", cfg.App.Env))

	<-ctx.Done()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := app.ShutdownWithContext(shutdownCtx); err != nil {
		logger.Warn("http shutdown", zap.Error(err))
	}
	dispatcher.Close()
	logger.Info("chat-sync stopped")
}
