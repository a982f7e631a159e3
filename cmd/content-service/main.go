// The content-service owns the canonical post store. It writes posts
// to MongoDB, publishes lifecycle events to the bus, and serves reads
// through the Redis cache.
package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"github.com/lumostream/socialcore/internal/cache"
	"github.com/lumostream/socialcore/internal/config"
	"github.com/lumostream/socialcore/internal/content"
	"github.com/lumostream/socialcore/internal/logging"
)

func main() {
	if err := godotenv.Load(); err != nil {
		log.Println("no .env file, using environment")
	}

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("load config: %v", err)
	}

	logger := logging.New(os.Stdout, cfg.Log).With("service", "content-service")

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	connectCtx, cancel := context.WithTimeout(ctx, cfg.Mongo.ConnTimeout)
	defer cancel()

	mongoClient, err := mongo.Connect(connectCtx, options.Client().ApplyURI(cfg.Mongo.URI))
	if err != nil {
		logger.Error("mongo connect failed", "error", err)
		os.Exit(1)
	}

	if err := mongoClient.Ping(connectCtx, nil); err != nil {
		logger.Error("mongo ping failed", "error", err)
		os.Exit(1)
	}
	defer func() { _ = mongoClient.Disconnect(context.Background()) }()

	redisCache, err := cache.NewRedis(connectCtx, cfg.Redis.Addr, cfg.Redis.Password, cfg.Redis.DB)
	if err != nil {
		logger.Error("redis connect failed", "error", err)
		os.Exit(1)
	}
	defer func() { _ = redisCache.Close() }()

	broker, err := config.NewBroker(cfg.Broker, "content-service", logger)
	if err != nil {
		logger.Error("broker connect failed", "error", err)
		os.Exit(1)
	}
	defer func() { _ = broker.Close() }()

	store := content.NewMongoStore(mongoClient.Database(cfg.Mongo.Database))
	publisher := content.NewEventPublisher(broker, logger)
	svc := content.NewService(store, redisCache, publisher, logger)

	consumer := content.NewConsumer(svc, logger)
	if err := consumer.Subscribe(ctx, broker); err != nil {
		logger.Error("subscribe failed", "error", err)
		os.Exit(1)
	}

	logger.Info("content-service started", "broker", cfg.Broker.Backend)

	<-ctx.Done()

	logger.Info("shutting down")
}
