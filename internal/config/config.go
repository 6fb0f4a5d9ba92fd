// Package config loads per-service environment configuration. Defaults
// target a single-node local deployment; read and write store URLs fall
// back to the shared URL so a split only happens when the operator asks
// for one.
package config

import (
	"dragnet/pkg/config"
	"dragnet/pkg/version"
)

// Trawler stores environment configuration for the crawler service.
type Trawler struct {
	Port            string
	RedisURL        string
	MongoWriteURL   string
	MongoReadURL    string
	QdrantURL       string
	TEIURL          string
	VectorDim       int
	MessagingURL    string
	AMQPURL         string
	KafkaBrokers    string
	UserAgent       string
	CooldownSeconds int
}

// LoadTrawler loads the trawler configuration from environment variables.
func LoadTrawler() Trawler {
	mongoURL := config.GetEnv("MONGO_URL", "mongodb://localhost:27017")
	return Trawler{
		Port:            config.GetEnv("PORT", "18090"),
		RedisURL:        config.GetEnv("REDIS_URL", "redis://localhost:6379"),
		MongoWriteURL:   config.GetEnv("MONGO_WRITE_URL", mongoURL),
		MongoReadURL:    config.GetEnv("MONGO_READ_URL", mongoURL),
		QdrantURL:       config.GetEnv("QDRANT_WRITE_URL", config.GetEnv("QDRANT_URL", "localhost:6334")),
		TEIURL:          config.GetEnv("TEI_URL", "http://localhost:8080"),
		VectorDim:       config.GetEnvInt("VECTOR_DIM", 384),
		MessagingURL:    config.GetEnv("MESSAGING_URL", "http://localhost:18091"),
		AMQPURL:         config.GetEnv("AMQP_URL", ""),
		KafkaBrokers:    config.GetEnv("KAFKA_BROKERS", ""),
		UserAgent:       config.GetEnv("USER_AGENT", version.UserAgent()),
		CooldownSeconds: config.GetEnvInt("COOLDOWN_SECONDS", 5),
	}
}

// Bosun stores environment configuration for the messaging service.
type Bosun struct {
	Port            string
	RedisURL        string
	CooldownSeconds int
}

// LoadBosun loads the bosun configuration from environment variables.
func LoadBosun() Bosun {
	return Bosun{
		Port:            config.GetEnv("PORT", "18091"),
		RedisURL:        config.GetEnv("REDIS_URL", "redis://localhost:6379"),
		CooldownSeconds: config.GetEnvInt("COOLDOWN_SECONDS", 5),
	}
}

// Helmsman stores environment configuration for the selector service.
type Helmsman struct {
	Port            string
	RedisURL        string
	MessagingURL    string
	CrawlerURL      string
	Concurrent      int
	CooldownSeconds int

	// AMQP deployment. The selector drains RabbitMQ instead of the bosun
	// stream when both AMQPURL and RabbitMQAPIURL are set.
	AMQPURL        string
	RabbitMQAPIURL string
	AMQPUser       string
	AMQPPassword   string
}

// AMQPMode reports whether this selector drains RabbitMQ queues instead of
// the bosun subscribe stream.
func (h Helmsman) AMQPMode() bool {
	return h.AMQPURL != "" && h.RabbitMQAPIURL != ""
}

// LoadHelmsman loads the helmsman configuration from environment variables.
func LoadHelmsman() Helmsman {
	return Helmsman{
		Port:            config.GetEnv("PORT", "18092"),
		RedisURL:        config.GetEnv("REDIS_URL", "redis://localhost:6379"),
		MessagingURL:    config.GetEnv("MESSAGING_URL", "http://localhost:18091"),
		CrawlerURL:      config.GetEnv("CRAWLER_URL", "http://localhost:18090"),
		Concurrent:      config.GetEnvInt("SELECTOR_CONCURRENT", 1),
		CooldownSeconds: config.GetEnvInt("COOLDOWN_SECONDS", 5),
		AMQPURL:         config.GetEnv("AMQP_URL", ""),
		RabbitMQAPIURL:  config.GetEnv("RABBITMQ_API_URL", ""),
		AMQPUser:        config.GetEnv("AMQP_USER", ""),
		AMQPPassword:    config.GetEnv("AMQP_PASSWORD", ""),
	}
}

// Lookout stores environment configuration for the search service.
type Lookout struct {
	Port      string
	QdrantURL string
	TEIURL    string
	VectorDim int
}

// LoadLookout loads the lookout configuration from environment variables.
func LoadLookout() Lookout {
	return Lookout{
		Port:      config.GetEnv("PORT", "18093"),
		QdrantURL: config.GetEnv("QDRANT_READ_URL", config.GetEnv("QDRANT_URL", "localhost:6334")),
		TEIURL:    config.GetEnv("TEI_URL", "http://localhost:8080"),
		VectorDim: config.GetEnvInt("VECTOR_DIM", 384),
	}
}
