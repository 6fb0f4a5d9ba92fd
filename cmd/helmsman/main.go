package main

import (
	"context"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"

	helmsmanconfig "dragnet/internal/config"
	"dragnet/internal/selector"
	bosunclient "dragnet/pkg/clients/bosun"
	trawlerclient "dragnet/pkg/clients/trawler"
	"dragnet/pkg/config"
	"dragnet/pkg/logging"
	"dragnet/pkg/monitoring"
	"dragnet/pkg/redis"
	"dragnet/pkg/server"
	"dragnet/pkg/version"
)

func main() {
	// Setup logger
	logger := logging.NewLoggerWithService("helmsman")

	// Load environment variables
	config.LoadEnv(logger)

	logger.Info("Starting Helmsman (selector service)")

	cfg := helmsmanconfig.LoadHelmsman()

	// Setup monitoring
	healthChecker := monitoring.NewHealthChecker("helmsman", version.Version)
	metricsCollector := monitoring.NewMetricsCollector("helmsman", version.Version, version.GitCommit)

	dispatches, inFlight, dispatchDuration := metricsCollector.CreateDispatchMetrics()
	dispatchMetrics := &selector.Metrics{
		Dispatches: dispatches,
		InFlight:   inFlight,
		Duration:   dispatchDuration,
	}

	crawler := trawlerclient.NewClient(trawlerclient.Config{
		BaseURL: cfg.CrawlerURL,
		Logger:  logger,
	})

	healthChecker.AddCheck("crawler", monitoring.HTTPServiceHealthCheck("crawler", cfg.CrawlerURL+"/health"))

	// Dispatch loop. AMQP mode pulls straight from broker queues and paces
	// domains itself; stream mode rides bosun's pre-paced subscribe stream.
	// Must be launched BEFORE server.Start() which blocks
	runCtx, cancelRun := context.WithCancel(context.Background())
	defer cancelRun()

	if cfg.AMQPMode() {
		conn, err := amqp.Dial(cfg.AMQPURL)
		if err != nil {
			logger.WithError(err).Fatal("Failed to connect to amqp broker")
		}
		defer func() { _ = conn.Close() }()

		channel, err := conn.Channel()
		if err != nil {
			logger.WithError(err).Fatal("Failed to open amqp channel")
		}
		defer func() { _ = channel.Close() }()

		lister := selector.NewManagementClient(selector.ManagementConfig{
			BaseURL:  cfg.RabbitMQAPIURL,
			User:     cfg.AMQPUser,
			Password: cfg.AMQPPassword,
			Logger:   logger,
		})

		bootCtx, bootCancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer bootCancel()

		kv, err := redis.NewClientFromURL(bootCtx, cfg.RedisURL)
		if err != nil {
			logger.WithError(err).Fatal("Failed to connect to redis")
		}
		defer func() { _ = kv.Close() }()

		// Expiry notifications make cooldown wakeups prompt; without them
		// the runner still progresses on its poll sweep.
		if err := redis.EnsureKeyspaceEvents(bootCtx, kv); err != nil {
			logger.WithError(err).Warn("Failed to enable keyspace events - relying on poll sweep")
		}

		runner := selector.NewAMQPRunner(selector.AMQPConfig{
			Broker:          channel,
			Lister:          lister,
			Crawler:         crawler,
			KV:              kv,
			CooldownSeconds: cfg.CooldownSeconds,
			Concurrent:      cfg.Concurrent,
			Logger:          logger,
			Metrics:         dispatchMetrics,
		})
		go runner.Run(runCtx)

		healthChecker.AddCheck("redis", monitoring.RedisHealthCheck(kv))
		healthChecker.AddCheck("config", monitoring.ConfigurationHealthCheck(map[string]string{
			"CRAWLER_URL":      cfg.CrawlerURL,
			"AMQP_URL":         cfg.AMQPURL,
			"RABBITMQ_API_URL": cfg.RabbitMQAPIURL,
		}))
		logger.Info("Dispatching from amqp queues")
	} else {
		frontier := bosunclient.NewClient(bosunclient.Config{
			BaseURL: cfg.MessagingURL,
			Logger:  logger,
		})
		defer func() { _ = frontier.Close() }()

		runner := selector.NewStreamRunner(selector.StreamConfig{
			Stream:     frontier,
			Frontier:   frontier,
			Crawler:    crawler,
			Concurrent: cfg.Concurrent,
			Logger:     logger,
			Metrics:    dispatchMetrics,
		})
		go runner.Run(runCtx)

		healthChecker.AddCheck("frontier", monitoring.HTTPServiceHealthCheck("frontier", cfg.MessagingURL+"/health"))
		healthChecker.AddCheck("config", monitoring.ConfigurationHealthCheck(map[string]string{
			"CRAWLER_URL":   cfg.CrawlerURL,
			"MESSAGING_URL": cfg.MessagingURL,
		}))
		logger.WithField("messaging_url", cfg.MessagingURL).Info("Dispatching from frontier stream")
	}

	// Setup router with unified monitoring
	router := server.SetupServiceRouter(logger, "helmsman", healthChecker, metricsCollector)

	// Start HTTP server with graceful shutdown
	serverConfig := server.DefaultConfig("helmsman", cfg.Port)
	if err := server.Start(serverConfig, router, logger); err != nil {
		logger.WithError(err).Fatal("Server failed")
	}
}
