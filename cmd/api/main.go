package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/gin-gonic/gin"

	"github.com/therealutkarshpriyadarshi/mediagrab/internal/cache"
	"github.com/therealutkarshpriyadarshi/mediagrab/internal/config"
	"github.com/therealutkarshpriyadarshi/mediagrab/internal/extractor"
	"github.com/therealutkarshpriyadarshi/mediagrab/internal/logging"
	"github.com/therealutkarshpriyadarshi/mediagrab/internal/metrics"
	"github.com/therealutkarshpriyadarshi/mediagrab/internal/middleware"
	"github.com/therealutkarshpriyadarshi/mediagrab/internal/output"
	"github.com/therealutkarshpriyadarshi/mediagrab/internal/packager"
	"github.com/therealutkarshpriyadarshi/mediagrab/internal/progress"
	"github.com/therealutkarshpriyadarshi/mediagrab/internal/retry"
	"github.com/therealutkarshpriyadarshi/mediagrab/internal/service"
	"github.com/therealutkarshpriyadarshi/mediagrab/internal/storage"
	"github.com/therealutkarshpriyadarshi/mediagrab/internal/tracing"
	"github.com/therealutkarshpriyadarshi/mediagrab/internal/transcoder"
	"github.com/therealutkarshpriyadarshi/mediagrab/internal/webhook"
	"github.com/therealutkarshpriyadarshi/mediagrab/pkg/models"
)

func main() {
	configPath := os.Getenv("CONFIG_PATH")
	if configPath == "" {
		configPath = "config.yaml"
	}

	cfg, err := config.Load(configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load config: %v\n", err)
		os.Exit(1)
	}

	logger, err := logging.NewLogger(logging.Config{
		Level:  cfg.Logging.Level,
		Format: cfg.Logging.Format,
		Output: cfg.Logging.Output,
	})
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to initialize logger: %v\n", err)
		os.Exit(1)
	}

	if cfg.Tracing.Enabled {
		_, closer, err := tracing.InitTracer(cfg.Tracing.ServiceName, cfg.Tracing.JaegerEndpoint)
		if err != nil {
			logger.Fatalf("Failed to initialize tracing: %v", err)
		}
		defer closer.Close()
	}

	sweepCtx, stopSweepers := context.WithCancel(context.Background())
	defer stopSweepers()

	manager, err := output.New(cfg.Output, logger)
	if err != nil {
		logger.Fatalf("Failed to initialize output manager: %v", err)
	}
	manager.StartSweeper(sweepCtx)

	bus := progress.NewBus(cfg.Progress.TTL)
	bus.StartSweeper(sweepCtx, cfg.Progress.TTL/10)

	ffmpeg := transcoder.NewFFmpeg(cfg.Transcoder.FFmpegPath, cfg.Transcoder.FFprobePath)
	queue := transcoder.NewQueue(ffmpeg, bus, logger, cfg.Transcoder.WorkerCount, cfg.Transcoder.EncodeTimeout)

	extractors := extractor.NewRegistry()
	httpExtractor := extractor.NewHTTPExtractor(nil)
	for _, platform := range []models.Platform{
		models.PlatformYouTube,
		models.PlatformInstagram,
		models.PlatformFacebook,
		models.PlatformX,
	} {
		extractors.Register(platform, httpExtractor)
	}

	opts := service.Options{
		Config:     cfg,
		Logger:     logger,
		Bus:        bus,
		Registry:   service.NewRegistry(),
		Output:     manager,
		Queue:      queue,
		Extractors: extractors,
		Packager:   packager.New(logger),
		Policy:     retry.NewPolicy(cfg.Retry.MaxAttempts, cfg.Retry.BaseDelay),
	}

	if cfg.Cache.Enabled {
		mirror, err := cache.NewCache(cfg.Cache)
		if err != nil {
			logger.Fatalf("Failed to connect to Redis: %v", err)
		}
		defer mirror.Close()
		opts.Mirror = mirror
	}

	if cfg.Storage.Enabled {
		store, err := storage.New(cfg.Storage)
		if err != nil {
			logger.Fatalf("Failed to initialize object storage: %v", err)
		}
		opts.Store = store
	}

	if len(cfg.Webhook.Endpoints) > 0 {
		opts.Notifier = webhook.NewNotifier(cfg.Webhook, logger)
	}

	svc := service.NewDownloadService(opts)
	defer svc.Close()
	svc.StartJanitor(sweepCtx, cfg.Output.CleanupInterval)

	if cfg.Metrics.Enabled {
		metricsServer := metrics.NewServer(cfg.Metrics.Port)
		go func() {
			if err := metricsServer.Start(); err != nil && err != http.ErrServerClosed {
				logger.Errorf("Metrics server error: %v", err)
			}
		}()
		defer metricsServer.Shutdown(context.Background())
	}

	api := &API{svc: svc, bus: bus}
	router := setupRouter(api, cfg, logger)

	addr := fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port)
	srv := &http.Server{
		Addr:         addr,
		Handler:      router,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	}

	go func() {
		logger.Infof("Starting API server on %s", addr)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatalf("Failed to start server: %v", err)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, os.Interrupt, syscall.SIGTERM)
	<-quit

	logger.Info("Shutting down server...")

	ctx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()

	if err := srv.Shutdown(ctx); err != nil {
		logger.Fatalf("Server forced to shutdown: %v", err)
	}

	logger.Info("Server stopped")
}

func setupRouter(api *API, cfg *config.Config, logger *logging.Logger) *gin.Engine {
	if cfg.Logging.Level != "debug" {
		gin.SetMode(gin.ReleaseMode)
	}

	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(middleware.RequestLogger(logger))
	router.Use(middleware.RateLimit(middleware.NewRateLimiter(cfg.Server.RateLimitRPS, cfg.Server.RateLimitBurst)))

	router.GET("/health", api.healthCheck)

	v1 := router.Group("/api/v1")
	v1.Use(middleware.APIKeyAuth(cfg.Server.APIKey))
	{
		v1.POST("/downloads", api.createDownload)
		v1.GET("/downloads", api.listDownloads)
		v1.GET("/downloads/:id", api.getDownload)
		v1.GET("/downloads/:id/progress", api.getProgress)
		v1.GET("/downloads/:id/file", api.getFile)
		v1.POST("/downloads/:id/cancel", api.cancelDownload)
	}

	return router
}
