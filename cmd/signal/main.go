package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"studyroom/internal/core/ports"
	"studyroom/internal/core/services"
	httphandlers "studyroom/internal/handlers/http"
	"studyroom/internal/infrastructure/distributed"
	"studyroom/internal/infrastructure/middleware"
	"studyroom/internal/infrastructure/monitoring"
	"studyroom/internal/infrastructure/repositories"
	signalinfra "studyroom/internal/infrastructure/signal"
	"studyroom/pkg/cache"
	"studyroom/pkg/circuitbreaker"
	"studyroom/pkg/config"
	"studyroom/pkg/logger"
	"studyroom/pkg/tracing"
	"studyroom/pkg/utils"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

func loadConfig() (*config.Config, error) {
	configPaths := []string{
		"configs/config.yaml",
		"./configs/config.yaml",
		"/etc/studyroom/config.yaml",
		"config.yaml",
	}
	if path := os.Getenv("STUDYROOM_CONFIG"); path != "" {
		configPaths = []string{path}
	}

	var lastErr error
	for _, path := range configPaths {
		if _, err := os.Stat(path); err != nil {
			continue
		}
		cfg, err := config.Load(path)
		if err == nil {
			return cfg, nil
		}
		lastErr = err
	}
	if lastErr != nil {
		return nil, lastErr
	}
	// No file anywhere: defaults plus environment overrides.
	return config.Load("")
}

func main() {
	cfg, err := loadConfig()
	if err != nil {
		panic(err)
	}

	zapLogger := logger.Must(cfg.Logging.Level)
	defer zapLogger.Sync()
	log := zapLogger.Sugar()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	tracingCfg := tracing.DefaultConfig()
	tracingCfg.Enabled = cfg.Tracing.Enabled
	tracingCfg.JaegerURL = cfg.Tracing.JaegerEndpoint
	tracingCfg.SampleRate = cfg.Tracing.SampleRate
	tp, err := tracing.Init(tracingCfg)
	if err != nil {
		log.Fatalw("Failed to initialize tracing", "error", err)
	}

	collector := monitoring.NewPrometheusCollector(prometheus.DefaultRegisterer)

	repoFactory, err := repositories.NewRepositoryFactory(ctx, cfg, log)
	if err != nil {
		log.Fatalw("Failed to create repository factory", "error", err)
	}
	defer repoFactory.Close()

	authority, err := repoFactory.CreateMembership()
	if err != nil {
		log.Fatalw("Failed to create membership authority", "error", err)
	}
	breaker := circuitbreaker.New(circuitbreaker.Config{
		FailureThreshold: cfg.Membership.FailureLimit,
		OpenTimeout:      cfg.Membership.OpenTimeout,
		HalfOpenProbes:   1,
	})
	membership := services.NewMembershipService(
		authority,
		cache.New[string, bool](cfg.Membership.CacheTTL),
		breaker,
		log,
	)
	defer membership.Close()

	var (
		events   ports.EventPublisher
		eventBus *distributed.EventBus
	)
	if client := repoFactory.RedisClient(); client != nil {
		eventBus = distributed.NewEventBus(client, cfg.Redis.EventsChannel, utils.NewInstanceID(), collector, log)
		events = eventBus
		defer eventBus.Close()
	}

	hub := signalinfra.NewHub(collector, log)
	rooms := services.NewRoomService(collector.InstrumentMembership(membership), hub, events, log)
	relay := signalinfra.NewRelay(rooms, hub, collector, log)
	wsServer := signalinfra.NewWebSocketServer(rooms, relay, hub, signalinfra.ConfigFrom(cfg), collector, log)

	if eventBus != nil {
		go func() {
			err := eventBus.Subscribe(ctx, distributed.RevocationHandler(membership, rooms, log))
			if err != nil && ctx.Err() == nil {
				log.Errorw("Event bus subscription ended", "error", err)
			}
		}()
	}

	health := monitoring.NewHealthChecker(log)
	if client := repoFactory.RedisClient(); client != nil {
		health.AddRedisCheck(client, cfg.Membership.Backend == "redis", cfg.Monitoring.MetricsInterval, 2*time.Second)
	}
	health.AddBreakerCheck("membership", breaker, collector, cfg.Monitoring.MetricsInterval)
	health.StartBackgroundChecks(ctx)

	go func() {
		ticker := time.NewTicker(cfg.Monitoring.MetricsInterval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				collector.UpdateRoomStats(rooms.Stats(ctx))
				collector.SetBreakerState("membership", breaker.State())
			}
		}
	}()

	if cfg.Logging.Level != "debug" {
		gin.SetMode(gin.ReleaseMode)
	}
	router := gin.New()
	router.Use(
		middleware.RecoveryMiddleware(log),
		middleware.TracingMiddleware(logger.NewContextLogger(zapLogger)),
		middleware.ErrorHandlerMiddleware(log),
		middleware.NewHTTPRateLimitMiddleware(cfg),
	)

	router.GET(cfg.Signal.Path, gin.WrapF(wsServer.HandleWebSocket))
	httphandlers.NewHealthHandler(health).SetupRoutes(router)
	httphandlers.NewRoomHandler(rooms).SetupRoutes(router)
	if cfg.Monitoring.PrometheusEnabled {
		router.GET("/metrics", gin.WrapH(promhttp.Handler()))
		log.Info("Prometheus metrics enabled")
	}

	srv := &http.Server{
		Addr:         cfg.Server.Address,
		Handler:      router,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	}

	serverErr := make(chan error, 1)
	go func() {
		log.Infow("Starting studyroom signaling server",
			"address", cfg.Server.Address,
			"ws_path", cfg.Signal.Path,
			"membership", cfg.Membership.Backend,
			"event_bus", eventBus != nil,
		)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			serverErr <- err
		}
	}()

	select {
	case err := <-serverErr:
		log.Fatalw("Server failed", "error", err)
	case <-ctx.Done():
		log.Info("Received shutdown signal")
	}

	log.Info("Shutting down studyroom signaling server...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()

	// srv.Shutdown does not track hijacked connections; closing the hub
	// ends their write pumps.
	wsServer.Shutdown()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Errorw("Error during server shutdown", "error", err)
		if closeErr := srv.Close(); closeErr != nil {
			log.Errorw("Error force closing server", "error", closeErr)
		}
	} else {
		log.Info("Server shutdown gracefully")
	}

	if err := tp.Shutdown(shutdownCtx); err != nil {
		log.Errorw("Error flushing traces", "error", err)
	}

	log.Info("Studyroom signaling server stopped")
}
