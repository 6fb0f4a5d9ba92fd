package main

import (
	"context"
	"strings"
	"time"

	trawlerconfig "dragnet/internal/config"
	"dragnet/internal/crawl"
	"dragnet/internal/frontier"
	"dragnet/internal/pages"
	"dragnet/internal/politeness"
	"dragnet/internal/vector"
	"dragnet/pkg/clients"
	bosunclient "dragnet/pkg/clients/bosun"
	"dragnet/pkg/clients/tei"
	"dragnet/pkg/config"
	"dragnet/pkg/database"
	"dragnet/pkg/kafka"
	"dragnet/pkg/logging"
	"dragnet/pkg/monitoring"
	"dragnet/pkg/redis"
	"dragnet/pkg/server"
	"dragnet/pkg/version"
)

func main() {
	// Setup logger
	logger := logging.NewLoggerWithService("trawler")

	// Load environment variables
	config.LoadEnv(logger)

	logger.Info("Starting Trawler (crawler service)")

	cfg := trawlerconfig.LoadTrawler()

	// Connect to redis (robots cache + cooldown markers)
	bootCtx, bootCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer bootCancel()

	kv, err := redis.NewClientFromURL(bootCtx, cfg.RedisURL)
	if err != nil {
		logger.WithError(err).Fatal("Failed to connect to redis")
	}
	defer func() { _ = kv.Close() }()

	// Connect to mongo; the recency read rides the write connection unless
	// MONGO_READ_URL points at a replica.
	mongoConfig := database.DefaultConfig()
	mongoConfig.URL = cfg.MongoWriteURL
	mongoWrite := database.MustConnect(mongoConfig, logger)
	defer func() { _ = mongoWrite.Disconnect(context.Background()) }()

	mongoRead := mongoWrite
	if cfg.MongoReadURL != cfg.MongoWriteURL {
		readConfig := database.DefaultConfig()
		readConfig.URL = cfg.MongoReadURL
		mongoRead = database.MustConnect(readConfig, logger)
		defer func() { _ = mongoRead.Disconnect(context.Background()) }()
	}

	// Setup monitoring
	healthChecker := monitoring.NewHealthChecker("trawler", version.Version)
	metricsCollector := monitoring.NewMetricsCollector("trawler", version.Version, version.GitCommit)

	crawls, crawlDuration, links := metricsCollector.CreateCrawlMetrics()
	storeOps, storeDuration := metricsCollector.CreateStoreMetrics()

	pagesStore := pages.NewStore(mongoWrite, mongoRead, logger, &pages.Metrics{
		Operations: storeOps,
		Duration:   storeDuration,
	})
	if err := pagesStore.EnsureIndexes(bootCtx); err != nil {
		logger.WithError(err).Fatal("Failed to ensure page indexes")
	}

	// The crawl hop carries no local retries; the queued message is the
	// retry unit.
	vectorStore, err := vector.NewStore(vector.Config{
		Addr:     cfg.QdrantURL,
		Dim:      cfg.VectorDim,
		Logger:   logger,
		Executor: &clients.GRPCExecutorConfig{MaxRetries: 0},
		Metrics:  &vector.Metrics{Operations: storeOps, Duration: storeDuration},
	})
	if err != nil {
		logger.WithError(err).Fatal("Failed to connect to vector index")
	}
	defer func() { _ = vectorStore.Close() }()
	if err := vectorStore.EnsureCollection(bootCtx); err != nil {
		logger.WithError(err).Fatal("Failed to ensure vector collection")
	}

	embedder := tei.NewClient(tei.Config{
		BaseURL: cfg.TEIURL,
		Dim:     cfg.VectorDim,
		Logger:  logger,
	})

	politenessService := politeness.NewService(politeness.Config{
		KV:        kv,
		UserAgent: cfg.UserAgent,
		Logger:    logger,
	})

	// Fan-out publisher: bosun HTTP by default, RabbitMQ when AMQP_URL is
	// set (the selector must then run in AMQP mode too).
	var publisher crawl.Publisher
	if cfg.AMQPURL != "" {
		amqpPublisher, err := frontier.NewAMQPPublisher(cfg.AMQPURL, logger)
		if err != nil {
			logger.WithError(err).Fatal("Failed to connect to amqp broker")
		}
		defer func() { _ = amqpPublisher.Close() }()
		publisher = amqpPublisher
		logger.Info("Publishing fan-out to amqp queues")
	} else {
		publisher = bosunclient.NewClient(bosunclient.Config{
			BaseURL: cfg.MessagingURL,
			Logger:  logger,
		})
		logger.WithField("messaging_url", cfg.MessagingURL).Info("Publishing fan-out to bosun")
	}

	// Crawl events are optional; without a broker the pipeline still runs,
	// it just leaves no audit trail.
	var events crawl.EventSink
	if cfg.KafkaBrokers != "" {
		producer, err := kafka.NewProducer(strings.Split(cfg.KafkaBrokers, ","), "trawler", logger)
		if err != nil {
			logger.WithError(err).Warn("Failed to create kafka producer - crawl events disabled")
		} else {
			defer func() { _ = producer.Close() }()
			events = producer
			healthChecker.AddCheck("kafka", monitoring.KafkaProducerHealthCheck(producer.GetClient()))
		}
	}

	crawlService, err := crawl.NewService(crawl.Config{
		Pages:           pagesStore,
		Vectors:         vectorStore,
		Embedder:        embedder,
		Publisher:       publisher,
		Politeness:      politenessService,
		Events:          events,
		UserAgent:       cfg.UserAgent,
		CooldownSeconds: cfg.CooldownSeconds,
		Metrics: &crawl.Metrics{
			Crawls:   crawls,
			Duration: crawlDuration,
			Links:    links,
		},
		Logger: logger,
	})
	if err != nil {
		logger.WithError(err).Fatal("Failed to create crawl service")
	}

	// Add health checks
	healthChecker.AddCheck("redis", monitoring.RedisHealthCheck(kv))
	healthChecker.AddCheck("mongo", monitoring.MongoHealthCheck(mongoWrite))
	healthChecker.AddCheck("embedder", monitoring.HTTPServiceHealthCheck("embedder", cfg.TEIURL+"/health"))
	healthChecker.AddCheck("config", monitoring.ConfigurationHealthCheck(map[string]string{
		"REDIS_URL":       cfg.RedisURL,
		"MONGO_WRITE_URL": cfg.MongoWriteURL,
		"TEI_URL":         cfg.TEIURL,
	}))

	// Setup router with unified monitoring
	router := server.SetupServiceRouter(logger, "trawler", healthChecker, metricsCollector)

	api, err := crawl.NewAPI(crawlService, logger)
	if err != nil {
		logger.WithError(err).Fatal("Failed to create crawl API")
	}
	api.RegisterRoutes(router)

	// Start HTTP server with graceful shutdown. A crawl holds its request
	// open for the whole fetch+index pipeline, so the write timeout must
	// outlast the 30s page fetch, not the usual API round trip.
	serverConfig := server.DefaultConfig("trawler", cfg.Port)
	serverConfig.WriteTimeout = 2 * time.Minute
	if err := server.Start(serverConfig, router, logger); err != nil {
		logger.WithError(err).Fatal("Server failed")
	}
}
