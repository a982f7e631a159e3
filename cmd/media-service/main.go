// The media-service is a long-lived consumer that deletes stored
// objects and their metadata when the posts referencing them go away.
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
	"github.com/lumostream/socialcore/internal/media"
)

func main() {
	if err := godotenv.Load(); err != nil {
		log.Println("no .env file, using environment")
	}

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("load config: %v", err)
	}

	logger := logging.New(os.Stdout, cfg.Log).With("service", "media-service")

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

	objects, err := media.NewS3Storage(connectCtx, cfg.Storage.Bucket, cfg.Storage.Region, cfg.Storage.Endpoint)
	if err != nil {
		logger.Error("object storage setup failed", "error", err)
		os.Exit(1)
	}

	broker, err := config.NewBroker(cfg.Broker, "media-service", logger)
	if err != nil {
		logger.Error("broker connect failed", "error", err)
		os.Exit(1)
	}
	defer func() { _ = broker.Close() }()

	store := media.NewMongoStore(mongoClient.Database(cfg.Mongo.Database))

	consumer := media.NewConsumer(store, objects, logger)
	if err := consumer.Subscribe(ctx, broker); err != nil {
		logger.Error("subscribe failed", "error", err)
		os.Exit(1)
	}

	logger.Info("media-service started", "broker", cfg.Broker.Backend)

	<-ctx.Done()

	logger.Info("shutting down")
}
