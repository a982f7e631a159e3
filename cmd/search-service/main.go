// The search-service is a long-lived consumer that maintains the
// full-text index from post lifecycle events.
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

	"github.com/lumostream/socialcore/internal/config"
	"github.com/lumostream/socialcore/internal/logging"
	"github.com/lumostream/socialcore/internal/search"
)

func main() {
	if err := godotenv.Load(); err != nil {
		log.Println("no .env file, using environment")
	}

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("load config: %v", err)
	}

	logger := logging.New(os.Stdout, cfg.Log).With("service", "search-service")

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

	store := search.NewMongoStore(mongoClient.Database(cfg.Mongo.Database))
	if err := store.EnsureIndexes(connectCtx); err != nil {
		logger.Error("index setup failed", "error", err)
		os.Exit(1)
	}

	broker, err := config.NewBroker(cfg.Broker, "search-service", logger)
	if err != nil {
		logger.Error("broker connect failed", "error", err)
		os.Exit(1)
	}
	defer func() { _ = broker.Close() }()

	consumer := search.NewConsumer(store, logger)
	if err := consumer.Subscribe(ctx, broker); err != nil {
		logger.Error("subscribe failed", "error", err)
		os.Exit(1)
	}

	logger.Info("search-service started", "broker", cfg.Broker.Backend)

	<-ctx.Done()

	logger.Info("shutting down")
}
