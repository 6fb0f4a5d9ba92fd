package database

import (
	"context"
	"fmt"
	"time"

	"go.mongodb.org/mongo-driver/v2/mongo"
	"go.mongodb.org/mongo-driver/v2/mongo/options"
	"go.mongodb.org/mongo-driver/v2/mongo/readpref"

	"dragnet/pkg/logging"
)

// MongoConn represents a MongoDB client connection
type MongoConn = *mongo.Client

// Config holds document-store configuration
type Config struct {
	URL            string
	ConnectTimeout time.Duration
	MaxPoolSize    uint64
}

// DefaultConfig returns default document-store configuration
func DefaultConfig() Config {
	return Config{
		ConnectTimeout: 10 * time.Second,
		MaxPoolSize:    100,
	}
}

// Connect establishes a MongoDB connection with the given configuration
func Connect(cfg Config, logger logging.Logger) (MongoConn, error) {
	if cfg.URL == "" {
		return nil, fmt.Errorf("mongo URL is required")
	}

	opts := options.Client().
		ApplyURI(cfg.URL).
		SetConnectTimeout(cfg.ConnectTimeout).
		SetMaxPoolSize(cfg.MaxPoolSize)

	client, err := mongo.Connect(opts)
	if err != nil {
		return nil, fmt.Errorf("failed to create mongo client: %w", err)
	}

	// Test connection
	ctx, cancel := context.WithTimeout(context.Background(), cfg.ConnectTimeout)
	defer cancel()
	if err := client.Ping(ctx, readpref.Primary()); err != nil {
		_ = client.Disconnect(context.Background())
		return nil, fmt.Errorf("failed to ping mongo: %w", err)
	}

	logger.WithFields(logging.Fields{
		"connect_timeout": cfg.ConnectTimeout,
		"max_pool_size":   cfg.MaxPoolSize,
	}).Info("Mongo connected")

	return client, nil
}

// MustConnect is like Connect but exits the process on error
func MustConnect(cfg Config, logger logging.Logger) MongoConn {
	client, err := Connect(cfg, logger)
	if err != nil {
		logger.WithError(err).Fatal("Failed to connect to mongo")
	}
	return client
}
