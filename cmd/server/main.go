package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/multierr"
	"go.uber.org/zap"

	"lanlink/internal/core/domain"
	"lanlink/internal/core/services"
	httphandlers "lanlink/internal/handlers/http"
	"lanlink/internal/infrastructure/middleware"
	"lanlink/internal/infrastructure/monitoring"
	"lanlink/internal/infrastructure/repositories"
	realtime "lanlink/internal/infrastructure/signal"
	"lanlink/internal/infrastructure/storage"
	"lanlink/pkg/config"
	"lanlink/pkg/logger"
	"lanlink/pkg/tracing"
	"lanlink/pkg/utils"
)

func main() {
	startTime := time.Now()

	// A missing .env is fine.
	_ = godotenv.Load()

	configPath := os.Getenv("LANLINK_CONFIG")
	if configPath == "" {
		configPath = "configs/config.yaml"
	}
	cfg, err := config.Load(configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "lanlink: %v\n", err)
		os.Exit(1)
	}

	zapLogger := logger.New(cfg.Logging.Level, cfg.Logging.Format)
	defer zapLogger.Sync()
	log := zapLogger.Sugar()

	tp, err := tracing.Init(tracing.Config{
		Enabled:     cfg.Tracing.Enabled,
		ServiceName: cfg.Tracing.ServiceName,
		JaegerURL:   cfg.Tracing.JaegerURL,
		Environment: cfg.Server.Environment,
		SampleRate:  cfg.Tracing.SampleRate,
	})
	if err != nil {
		log.Fatalw("failed to initialize tracing", "error", err)
	}

	ctx := context.Background()
	repoFactory := repositories.NewRepositoryFactory(ctx, cfg, log)

	store, err := storage.NewFileChunkStore(cfg.Uploads.TempDir, cfg.Uploads.CompletedDir)
	if err != nil {
		log.Fatalw("failed to initialize upload storage", "error", err)
	}

	collector := monitoring.NewPrometheusCollector(nil)

	// The hub is the delivery channel every service notifies through.
	hub := realtime.NewHub(log)

	presence := services.NewPresenceService(
		repoFactory.CreatePeerRepository(),
		repoFactory.CreateRoomRepository(),
		hub, hub, collector,
		services.PresenceOptions{
			DedupeByAddress: cfg.Presence.DedupeByAddress,
			NamePrefix:      cfg.Presence.NamePrefix,
			MaxNameLength:   cfg.Presence.MaxNameLength,
		},
		log,
	)
	negotiation := services.NewNegotiationService(
		presence,
		repoFactory.CreateRequestRepository(),
		repoFactory.CreateCallRepository(),
		hub, collector, log,
	)
	relay := services.NewSignalingRelay(presence, hub, collector, log)

	uploadOpts := services.DefaultUploadOptions()
	uploadOpts.MaxFileSize = cfg.Uploads.MaxFileSize
	uploadOpts.MaxChunkSize = cfg.Uploads.MaxChunkSize
	uploadOpts.MergeWorkers = cfg.Uploads.MergeWorkers
	uploadOpts.DownloadPath = cfg.Uploads.DownloadPath
	uploadOpts.FileTypes = domain.NewFileTypes(allowedExtensions(cfg.Uploads.AllowedExtensions))
	uploads := services.NewUploadService(
		repoFactory.CreateUploadRepository(), store, presence, hub, collector, uploadOpts, log,
	)

	sweeper := services.NewExpirySweeper(negotiation, presence, uploads, collector, services.SweeperConfig{
		Schedule:   cfg.Expiry.Schedule,
		RequestTTL: cfg.Negotiation.RequestTTL,
		SessionTTL: cfg.Uploads.SessionTTL,
	}, log)
	if cfg.Expiry.Enabled {
		if err := sweeper.Start(); err != nil {
			log.Fatalw("failed to start expiry sweeper", "error", err)
		}
	}

	iceServers := httphandlers.ICEServers(cfg.WebRTC.ICEServers)

	wsConfig := realtime.ServerConfig{
		PingInterval:   cfg.Signal.PingInterval,
		PongTimeout:    cfg.Signal.PongTimeout,
		WriteTimeout:   cfg.Signal.WriteTimeout,
		MaxMessageSize: cfg.Signal.MaxMessageSize,
		SendBufferSize: cfg.Signal.SendBufferSize,
		AllowedOrigins: cfg.CORS.AllowedOrigins,
		ICEServers:     iceServers,
	}
	if cfg.RateLimiting.Enabled {
		wsConfig.MessagesPerSecond = cfg.RateLimiting.WebSocket.MessagesPerSecond
		wsConfig.Burst = cfg.RateLimiting.WebSocket.Burst
		wsConfig.MaxConnections = cfg.RateLimiting.WebSocket.MaxConcurrent
	}
	wsServer := realtime.NewWebSocketServer(hub, presence, negotiation, relay, collector, wsConfig, log)

	checker := monitoring.NewHealthChecker()
	checker.AddStorageCheck(store, 2*time.Second)
	if client := repoFactory.RedisClient(); client != nil {
		checker.AddRedisCheck(client, 2*time.Second)
	}
	checker.AddConnectionCheck(wsServer.HealthCheck, time.Second)

	if cfg.IsProduction() {
		gin.SetMode(gin.ReleaseMode)
	}
	router := gin.New()
	router.Use(
		middleware.RecoveryMiddleware(log),
		middleware.RequestIDMiddleware(),
		middleware.AccessLogMiddleware(logger.NewContextLogger(log), "/health", "/ready", "/metrics"),
		middleware.TracingMiddleware(),
		middleware.NewCORSMiddleware(cfg.CORS.AllowedOrigins),
	)

	api := router.Group("",
		middleware.NewHTTPRateLimitMiddleware(cfg),
		middleware.ErrorHandlerMiddleware(log, cfg.IsProduction()),
	)
	httphandlers.NewFileHandler(uploads, log).SetupRoutes(api)
	httphandlers.NewConfigHandler(iceServers, uploads, cfg.Signal.Path).SetupRoutes(api)

	router.GET(cfg.Signal.Path, wsServer.Handle)

	router.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{
			"status":      "healthy",
			"timestamp":   time.Now(),
			"uptime":      utils.FormatDuration(time.Since(startTime)),
			"peers":       presence.Count(c.Request.Context()),
			"connections": wsServer.ConnectionCount(),
		})
	})
	router.GET("/ready", func(c *gin.Context) {
		status := checker.CheckAll(c.Request.Context())
		code := http.StatusOK
		if status.Status != "healthy" {
			code = http.StatusServiceUnavailable
		}
		c.JSON(code, status)
	})

	if cfg.Monitoring.PrometheusEnabled {
		router.GET("/metrics", gin.WrapH(promhttp.Handler()))
		log.Info("Prometheus metrics enabled")
	}

	srv := &http.Server{
		Addr:              cfg.Server.Address,
		Handler:           router,
		ReadTimeout:       cfg.Server.ReadTimeout,
		ReadHeaderTimeout: 10 * time.Second,
		WriteTimeout:      cfg.Server.WriteTimeout,
	}

	serverErr := make(chan error, 1)
	go func() {
		log.Infow("starting lanlink server",
			"address", cfg.Server.Address,
			"environment", cfg.Server.Environment,
			"signal_path", cfg.Signal.Path,
		)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serverErr <- err
		}
	}()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	select {
	case err := <-serverErr:
		log.Errorw("server failed", "error", err)
	case sig := <-sigChan:
		log.Infow("received shutdown signal", "signal", sig)
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()

	if err := shutdown(shutdownCtx, log, srv, wsServer, sweeper, repoFactory, tp); err != nil {
		log.Errorw("shutdown finished with errors", "error", err)
		return
	}
	log.Info("lanlink server stopped")
}

// shutdown stops accepting requests, closes live connections so their
// cleanup runs, then releases the backends.
func shutdown(
	ctx context.Context,
	log *zap.SugaredLogger,
	srv *http.Server,
	ws *realtime.WebSocketServer,
	sweeper *services.ExpirySweeper,
	repos *repositories.RepositoryFactory,
	tp *tracing.TracerProvider,
) error {
	var err error

	if shutdownErr := srv.Shutdown(ctx); shutdownErr != nil {
		err = multierr.Append(err, fmt.Errorf("http server: %w", shutdownErr))
		if closeErr := srv.Close(); closeErr != nil {
			log.Errorw("error force closing server", "error", closeErr)
		}
	}
	err = multierr.Append(err, ws.Shutdown(ctx))
	sweeper.Stop(ctx)
	err = multierr.Append(err, repos.Close())
	err = multierr.Append(err, tp.Shutdown(ctx))
	return err
}

func allowedExtensions(raw map[string][]string) map[domain.FileCategory][]string {
	if len(raw) == 0 {
		return nil
	}
	out := make(map[domain.FileCategory][]string, len(raw))
	for category, exts := range raw {
		out[domain.FileCategory(category)] = exts
	}
	return out
}
