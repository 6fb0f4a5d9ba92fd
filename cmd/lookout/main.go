package main

import (
	lookoutconfig "dragnet/internal/config"
	"dragnet/internal/search"
	"dragnet/internal/vector"
	"dragnet/pkg/clients"
	"dragnet/pkg/clients/tei"
	"dragnet/pkg/config"
	"dragnet/pkg/logging"
	"dragnet/pkg/monitoring"
	"dragnet/pkg/server"
	"dragnet/pkg/version"
)

func main() {
	// Setup logger
	logger := logging.NewLoggerWithService("lookout")

	// Load environment variables
	config.LoadEnv(logger)

	logger.Info("Starting Lookout (search service)")

	cfg := lookoutconfig.LoadLookout()

	// Setup monitoring
	healthChecker := monitoring.NewHealthChecker("lookout", version.Version)
	metricsCollector := monitoring.NewMetricsCollector("lookout", version.Version, version.GitCommit)

	storeOps, storeDuration := metricsCollector.CreateStoreMetrics()

	// The read path retries; a query is cheap to repeat and nobody
	// requeues it on failure. The breaker keeps a dead embedder from
	// stalling every query for the full retry schedule.
	breaker := clients.DefaultCircuitBreakerConfig()
	breaker.Name = "embedder"
	breaker.Logger = logger

	httpExec := clients.DefaultHTTPExecutorConfig()
	httpExec.CircuitBreakerConfig = &breaker
	embedder := tei.NewClient(tei.Config{
		BaseURL:        cfg.TEIURL,
		Dim:            cfg.VectorDim,
		Logger:         logger,
		ExecutorConfig: &httpExec,
	})

	vectorBreaker := clients.DefaultCircuitBreakerConfig()
	vectorBreaker.Name = "vector-index"
	vectorBreaker.Logger = logger
	vectorExec := clients.DefaultGRPCExecutorConfig()
	vectorExec.CircuitBreakerConfig = &vectorBreaker

	index, err := vector.NewStore(vector.Config{
		Addr:     cfg.QdrantURL,
		Dim:      cfg.VectorDim,
		Logger:   logger,
		Executor: &vectorExec,
		Metrics:  &vector.Metrics{Operations: storeOps, Duration: storeDuration},
	})
	if err != nil {
		logger.WithError(err).Fatal("Failed to connect to vector index")
	}
	defer func() { _ = index.Close() }()

	// Add health checks
	healthChecker.AddCheck("embedder", monitoring.HTTPServiceHealthCheck("embedder", cfg.TEIURL+"/health"))
	healthChecker.AddCheck("config", monitoring.ConfigurationHealthCheck(map[string]string{
		"QDRANT_READ_URL": cfg.QdrantURL,
		"TEI_URL":         cfg.TEIURL,
	}))

	// Setup router with unified monitoring
	router := server.SetupServiceRouter(logger, "lookout", healthChecker, metricsCollector)

	api, err := search.NewAPI(embedder, index, logger)
	if err != nil {
		logger.WithError(err).Fatal("Failed to create search API")
	}
	api.RegisterRoutes(router)

	// Start HTTP server with graceful shutdown
	serverConfig := server.DefaultConfig("lookout", cfg.Port)
	if err := server.Start(serverConfig, router, logger); err != nil {
		logger.WithError(err).Fatal("Server failed")
	}
}
