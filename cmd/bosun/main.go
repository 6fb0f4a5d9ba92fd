package main

import (
	"context"
	"time"

	bosunconfig "dragnet/internal/config"
	"dragnet/internal/frontier"
	"dragnet/pkg/config"
	"dragnet/pkg/logging"
	"dragnet/pkg/monitoring"
	"dragnet/pkg/redis"
	"dragnet/pkg/server"
	"dragnet/pkg/version"
)

func main() {
	// Setup logger
	logger := logging.NewLoggerWithService("bosun")

	// Load environment variables
	config.LoadEnv(logger)

	logger.Info("Starting Bosun (frontier service)")

	cfg := bosunconfig.LoadBosun()

	// Connect to redis (cooldown markers shared with trawler)
	bootCtx, bootCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer bootCancel()

	kv, err := redis.NewClientFromURL(bootCtx, cfg.RedisURL)
	if err != nil {
		logger.WithError(err).Fatal("Failed to connect to redis")
	}
	defer func() { _ = kv.Close() }()

	// Setup monitoring
	healthChecker := monitoring.NewHealthChecker("bosun", version.Version)
	metricsCollector := monitoring.NewMetricsCollector("bosun", version.Version, version.GitCommit)

	queueGauge, messageCounter := metricsCollector.CreateFrontierMetrics()
	frontierMetrics := &frontier.Metrics{
		Queues:   queueGauge,
		Messages: messageCounter,
	}

	queues := frontier.NewQueueSet()

	selector := frontier.NewSelector(frontier.SelectorConfig{
		Queues:          queues,
		KV:              kv,
		CooldownSeconds: cfg.CooldownSeconds,
		Logger:          logger,
		Metrics:         frontierMetrics,
	})

	// Add health checks
	healthChecker.AddCheck("redis", monitoring.RedisHealthCheck(kv))
	healthChecker.AddCheck("config", monitoring.ConfigurationHealthCheck(map[string]string{
		"REDIS_URL": cfg.RedisURL,
	}))

	// Setup router with unified monitoring
	router := server.SetupServiceRouter(logger, "bosun", healthChecker, metricsCollector)

	api, err := frontier.NewAPI(queues, selector, logger, frontierMetrics)
	if err != nil {
		logger.WithError(err).Fatal("Failed to create frontier API")
	}
	api.RegisterRoutes(router)

	// Selection loop feeding connected selector streams.
	// Must be launched BEFORE server.Start() which blocks
	runCtx, cancelRun := context.WithCancel(context.Background())
	defer cancelRun()
	go selector.Run(runCtx)

	// Start HTTP server with graceful shutdown
	serverConfig := server.DefaultConfig("bosun", cfg.Port)
	if err := server.Start(serverConfig, router, logger); err != nil {
		logger.WithError(err).Fatal("Server failed")
	}
}
