package main

import (
	"context"
	"errors"
	"net"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/getkin/kin-openapi/openapi3"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"

	"loadlab/api"
	"loadlab/pkg/catalog"
	"loadlab/pkg/config"
	"loadlab/pkg/hoststats"
	"loadlab/pkg/loadtest"
	"loadlab/pkg/store"
)

const (
	defaultConfigPath = "loadlab.yaml"
	executorPoolSize  = 64
)

func main() {
	bootLogger := zerolog.New(os.Stdout).With().Timestamp().Logger()

	cfg, err := config.Load(getEnv("LOADLAB_CONFIG", defaultConfigPath))
	if err != nil {
		bootLogger.Fatal().Err(err).Msg("Failed to load configuration")
	}
	logger := cfg.Logger()

	backend, err := store.Open(cfg.Storage)
	if err != nil {
		logger.Fatal().Err(err).Str("driver", cfg.Storage.Driver).Msg("Failed to open storage")
	}
	defer backend.Close()

	endpoints, err := catalog.Load(cfg.Catalog)
	if err != nil {
		logger.Fatal().Err(err).Str("path", cfg.Catalog).Msg("Failed to load endpoint catalog")
	}

	doc, err := api.Load()
	if err != nil {
		logger.Fatal().Err(err).Msg("Failed to load API document")
	}

	registry := prometheus.NewRegistry()
	registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	executor := loadtest.NewHTTPExecutor(executorPoolSize)
	defer executor.CloseIdleConnections()

	coordinator := loadtest.NewCoordinator(backend, loadtest.NewGenerator(executor, logger), logger)
	coordinator.SetInstruments(loadtest.NewInstruments(registry))
	coordinator.SetHistoryLimit(cfg.Engine.HistoryLimit)
	if cfg.Engine.HostSampling {
		coordinator.SetHostSampler(hoststats.NewSampler(cfg.SampleInterval(), logger))
	}

	apiHandler := &APIHandler{
		coordinator:    coordinator,
		catalog:        endpoints,
		defaultTimeout: cfg.Engine.DefaultRequestTimeoutSec,
		startTime:      time.Now(),
		logger:         logger,
	}

	if os.Getenv(gin.EnvGinMode) == "" {
		gin.SetMode(gin.ReleaseMode)
	}

	router, err := newRouter(apiHandler, doc, registry)
	if err != nil {
		logger.Fatal().Err(err).Msg("Failed to build router")
	}

	// Cancelled on SIGINT/SIGTERM; request contexts derive from it so running
	// load tests stop and are recorded as failed
	rootCtx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	server := &http.Server{
		Addr:        ":" + cfg.Server.Port,
		Handler:     router,
		BaseContext: func(net.Listener) context.Context { return rootCtx },
	}

	go func() {
		logger.Info().
			Str("port", cfg.Server.Port).
			Str("storage_driver", cfg.Storage.Driver).
			Int("catalog_endpoints", len(endpoints.List())).
			Msg("Starting loadtest server")

		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Fatal().Err(err).Msg("Server failed to start")
		}
	}()

	<-rootCtx.Done()
	stop()

	logger.Info().Msg("Shutting down server...")
	shutdownServer(server, &apiHandler.inflight, cfg.ShutdownTimeout(), logger)
	logger.Info().Msg("Server exited")
}

// shutdownServer stops accepting connections and waits until every handler
// has returned, so no run is still writing when the store closes.
func shutdownServer(server *http.Server, inflight *sync.WaitGroup, timeout time.Duration, logger zerolog.Logger) {
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	if err := server.Shutdown(ctx); err != nil {
		logger.Error().Err(err).Msg("Server forced to shutdown")
	}
	inflight.Wait()
}

// newRouter wires the API routes behind request validation
func newRouter(h *APIHandler, doc *openapi3.T, gatherer prometheus.Gatherer) (*gin.Engine, error) {
	validator, err := openAPIValidator(doc)
	if err != nil {
		return nil, err
	}

	router := gin.New()
	router.Use(h.trackInflight, requestLogger(h.logger), gin.Recovery(), validator)

	router.GET("/health", h.HealthCheck)
	router.GET("/metrics", gin.WrapH(promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{})))

	v1 := router.Group("/api/v1")
	v1.GET("/endpoints", h.ListEndpoints)
	v1.POST("/load-tests", h.RunLoadTest)
	v1.GET("/load-tests/:id", h.GetLoadTest)
	v1.GET("/owners/:ownerId/load-tests", h.GetTestHistory)

	return router, nil
}

// trackInflight counts handlers still running for shutdownServer
func (h *APIHandler) trackInflight(c *gin.Context) {
	h.inflight.Add(1)
	defer h.inflight.Done()
	c.Next()
}

// requestLogger logs each request through zerolog
func requestLogger(logger zerolog.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		logger.Debug().
			Str("method", c.Request.Method).
			Str("path", c.Request.URL.Path).
			Int("status", c.Writer.Status()).
			Dur("latency", time.Since(start)).
			Msg("Request handled")
	}
}

// getEnv gets an environment variable or returns a default value
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}
