package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/redis/go-redis/v9"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"github.com/CultureM8/culture-mate-chat-bridge/internal/bridge"
	"github.com/CultureM8/culture-mate-chat-bridge/internal/config"
	"github.com/CultureM8/culture-mate-chat-bridge/internal/discovery"
	"github.com/CultureM8/culture-mate-chat-bridge/internal/events"
	"github.com/CultureM8/culture-mate-chat-bridge/internal/httpapi"
	"github.com/CultureM8/culture-mate-chat-bridge/internal/logger"
	"github.com/CultureM8/culture-mate-chat-bridge/internal/request"
	"github.com/CultureM8/culture-mate-chat-bridge/internal/room"
	"github.com/CultureM8/culture-mate-chat-bridge/internal/transport"
)

func main() {
	_ = godotenv.Load()

	cfgPath := os.Getenv("BRIDGE_CONFIG")
	if cfgPath == "" {
		cfgPath = "config.yaml"
	}
	cfg, err := config.Load(cfgPath)
	if err != nil {
		log.Fatalf("config load: %v", err)
	}

	zlog, err := logger.New(logger.Config{Development: cfg.Server.Development})
	if err != nil {
		log.Fatalf("logger init: %v", err)
	}
	defer zlog.Sync()

	// request repository: Mongo when configured, memory otherwise
	var repo request.Repository
	if cfg.Mongo.URI != "" {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		client, err := mongo.Connect(ctx, options.Client().ApplyURI(cfg.Mongo.URI))
		cancel()
		if err != nil {
			zlog.Fatalw("mongo connect", "error", err)
		}
		defer client.Disconnect(context.Background())
		col := client.Database(cfg.Mongo.Database).Collection(cfg.Mongo.Collection)
		repo = request.NewMongoRepository(col)
	} else {
		zlog.Warn("no mongo uri configured, using in-memory request store")
		repo = request.NewMemoryRepository()
	}

	var cache *redis.Client
	if cfg.Redis.Addr != "" {
		cache = redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
		if err := cache.Ping(ctx).Err(); err != nil {
			zlog.Warnw("redis unreachable, continuing without cache", "error", err)
			cache = nil
		}
		cancel()
	}

	var sink request.EventSink
	if len(cfg.Kafka.Brokers) > 0 {
		producer := events.NewKafkaProducer(cfg.Kafka.Brokers, cfg.Kafka.Topic, zlog)
		defer producer.Close()
		sink = producer
	}

	var ready bridge.RoomReadySignal
	if cfg.Nats.URL != "" {
		pub, err := events.NewRoomReadyPublisher(cfg.Nats.URL, cfg.Nats.Subject, zlog)
		if err != nil {
			zlog.Warnw("nats unreachable, room-ready signals disabled", "error", err)
		} else {
			defer pub.Close()
			ready = pub
		}
	}

	disc, err := discovery.New(cfg.Consul.Addr, zlog)
	if err != nil {
		zlog.Fatalw("consul init", "error", err)
	}
	chatBase := disc.ServiceURL(cfg.Consul.ChatService, cfg.Collaborators.ChatAPIBase)

	store := request.NewStore(repo, sink, zlog)

	// collaborator calls run with the service credential; per-user tokens
	// only travel on the websocket handshake
	serviceToken := os.Getenv("BRIDGE_SERVICE_TOKEN")
	chatClient := room.NewChatClient(room.ClientConfig{
		BaseURL:         chatBase + "/api/v1",
		Timeout:         time.Duration(cfg.Collaborators.RequestTimeoutSeconds) * time.Second,
		RetryMaxElapsed: time.Duration(cfg.Collaborators.RetryMaxElapsedSecs) * time.Second,
	}, func() string { return serviceToken }, zlog)

	resolver := room.NewResolver(chatClient, zlog)

	transportCfg := transport.Config{
		Endpoint:             cfg.Transport.Endpoint,
		ConnectTimeout:       cfg.ConnectTimeout,
		PublishTimeout:       cfg.PublishTimeout,
		ReconnectBase:        cfg.ReconnectBase,
		ReconnectMax:         cfg.ReconnectMax,
		MaxReconnectAttempts: cfg.Transport.MaxReconnectAttempts,
	}
	dialer := transport.NetDialer(transport.DefaultAttachers(), cfg.ConnectTimeout)

	orch := bridge.NewOrchestrator(store, resolver, chatClient, chatClient, chatClient, transportCfg, dialer, ready, zlog)

	app := httpapi.NewServer(cfg, store, orch, cache, zlog)

	errs := make(chan error, 1)
	go func() {
		addr := ":" + cfg.Server.Port
		zlog.Infow("starting chat bridge", "addr", addr)
		errs <- app.Listen(addr)
	}()

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
	select {
	case e := <-errs:
		zlog.Fatalw("server error", "error", e)
	case s := <-sig:
		zlog.Infow("signal received", "signal", s.String())
	}

	if err := app.Shutdown(); err != nil {
		zlog.Errorw("shutdown", "error", err)
	}
	zlog.Info("shutting down")
}
