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
	"github.com/opentracing/opentracing-go"

	"github.com/therealutkarshpriyadarshi/clipexport/internal/autocrop"
	"github.com/therealutkarshpriyadarshi/clipexport/internal/cache"
	"github.com/therealutkarshpriyadarshi/clipexport/internal/config"
	"github.com/therealutkarshpriyadarshi/clipexport/internal/database"
	"github.com/therealutkarshpriyadarshi/clipexport/internal/events"
	"github.com/therealutkarshpriyadarshi/clipexport/internal/logging"
	"github.com/therealutkarshpriyadarshi/clipexport/internal/metrics"
	"github.com/therealutkarshpriyadarshi/clipexport/internal/middleware"
	"github.com/therealutkarshpriyadarshi/clipexport/internal/preset"
	"github.com/therealutkarshpriyadarshi/clipexport/internal/queue"
	"github.com/therealutkarshpriyadarshi/clipexport/internal/storage"
	"github.com/therealutkarshpriyadarshi/clipexport/internal/subtitle"
	"github.com/therealutkarshpriyadarshi/clipexport/internal/timeline"
	"github.com/therealutkarshpriyadarshi/clipexport/internal/tracing"
	"github.com/therealutkarshpriyadarshi/clipexport/internal/transcoder"
	"github.com/therealutkarshpriyadarshi/clipexport/internal/webhook"
	"github.com/therealutkarshpriyadarshi/clipexport/pkg/models"
)

func main() {
	// Load configuration
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
		fmt.Fprintf(os.Stderr, "Failed to create logger: %v\n", err)
		os.Exit(1)
	}

	if err := run(cfg, logger); err != nil {
		logger.ErrorWithErr("API server exited", err)
		os.Exit(1)
	}
}

func run(cfg *config.Config, logger *logging.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// Tracing
	tracer, closer, err := tracing.InitTracer(cfg.Tracing)
	if err != nil {
		return fmt.Errorf("failed to initialize tracer: %w", err)
	}
	defer closer.Close()
	opentracing.SetGlobalTracer(tracer)

	// Metrics
	if cfg.Metrics.Enabled {
		metricsServer := metrics.NewServer(cfg.Metrics.Port, logger)
		go func() {
			if err := metricsServer.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				logger.ErrorWithErr("Metrics server failed", err)
			}
		}()
		defer func() {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			_ = metricsServer.Shutdown(shutdownCtx)
		}()
	}

	// Database
	store, err := database.Open(ctx, cfg.Database)
	if err != nil {
		return fmt.Errorf("failed to open database: %w", err)
	}
	defer store.Close()

	presets, err := preset.NewRegistry(cfg.Presets...)
	if err != nil {
		return fmt.Errorf("failed to load presets: %w", err)
	}

	api, err := build(ctx, cfg, store, presets, logger)
	if err != nil {
		return err
	}
	defer api.close()

	if err := api.queue.Start(ctx); err != nil {
		return fmt.Errorf("failed to start export queue: %w", err)
	}

	router := setupRouter(ctx, api, cfg.RateLimit)

	addr := fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port)
	srv := &http.Server{
		Addr:         addr,
		Handler:      router,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	}

	errc := make(chan error, 1)
	go func() {
		logger.Infof("Starting API server on %s", addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errc <- err
		}
	}()

	select {
	case <-ctx.Done():
	case err := <-errc:
		return fmt.Errorf("failed to start server: %w", err)
	}

	logger.Info("Shutting down server...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.ErrorWithErr("Server forced to shutdown", err)
	}
	// running jobs stay processing and are picked up again on the next start
	if err := api.queue.Stop(shutdownCtx); err != nil {
		logger.ErrorWithErr("Export queue did not stop cleanly", err)
	}

	logger.Info("Server stopped")
	return nil
}

// build wires the export pipeline. Optional sinks (Redis, RabbitMQ, MinIO,
// webhooks) are only attached when configured.
func build(ctx context.Context, cfg *config.Config, store database.Store, presets *preset.Registry, logger *logging.Logger) (*API, error) {
	api := &API{
		store:     store,
		presets:   presets,
		timelines: timeline.NewService(store, logger),
		logger:    logger.WithComponent("api"),
	}

	ffmpeg := transcoder.NewFFmpeg(cfg.Transcoder.FFmpegPath, cfg.Transcoder.FFprobePath, logger).
		WithTempDir(cfg.Transcoder.TempDir)

	var detector autocrop.Detector = autocrop.NopDetector{}
	if cfg.AutoCrop.DetectorURL != "" {
		detector = autocrop.NewHTTPDetector(cfg.AutoCrop.DetectorURL, cfg.AutoCrop.DetectorTimeout)
	}
	cropper := autocrop.NewAnalyzer(autocrop.Config{
		SampleInterval:  cfg.AutoCrop.SampleInterval,
		BucketSize:      cfg.AutoCrop.BucketSize,
		MinConfidence:   cfg.AutoCrop.MinConfidence,
		SmoothingFactor: cfg.AutoCrop.SmoothingFactor,
		MaxMovement:     cfg.AutoCrop.MaxMovement,
		Concurrency:     cfg.AutoCrop.Concurrency,
	}, ffmpeg, detector, logger)

	captions := subtitle.NewGenerator(&subtitle.Optimizer{
		ReadingSpeed:   cfg.Subtitles.ReadingSpeed,
		MinDisplayTime: cfg.Subtitles.MinDisplayTime,
		MaxDisplayTime: cfg.Subtitles.MaxDisplayTime,
		MinGap:         cfg.Subtitles.MinGap,
	}, models.SubtitleStyle{
		MaxLineLength: cfg.Subtitles.MaxLineLength,
		MaxLines:      cfg.Subtitles.MaxLines,
		FontFile:      cfg.Transcoder.FontFile,
	})

	deps := transcoder.Deps{
		Presets:   presets,
		Prober:    ffmpeg,
		Runner:    ffmpeg,
		Cropper:   cropper,
		Captions:  captions,
		Timelines: api.timelines,
		Logger:    logger,
	}
	if cfg.Storage.Enabled {
		stor, err := storage.New(ctx, cfg.Storage, logger)
		if err != nil {
			return nil, fmt.Errorf("failed to initialize storage: %w", err)
		}
		deps.Store = stor
	}
	api.exports = transcoder.NewService(cfg.Transcoder, cfg.Export.OutputDir, deps)

	opts := []queue.Option{
		queue.WithValidator(api.exports.Validate),
		queue.WithLogger(logger),
	}
	if cfg.Redis.Enabled {
		c, err := cache.NewCache(cfg.Redis)
		if err != nil {
			return nil, fmt.Errorf("failed to connect to cache: %w", err)
		}
		api.cache = c
		api.closers = append(api.closers, c.Close)
		opts = append(opts, queue.WithProgressCache(c))
	}
	if cfg.Events.Enabled {
		pub, err := events.New(cfg.Events)
		if err != nil {
			api.close()
			return nil, fmt.Errorf("failed to connect to event broker: %w", err)
		}
		api.closers = append(api.closers, pub.Close)
		opts = append(opts, queue.WithPublisher(pub))
	}
	if len(cfg.Webhook.Endpoints) > 0 {
		hooks := webhook.NewService(cfg.Webhook, logger)
		api.closers = append(api.closers, func() error {
			closeCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
			defer cancel()
			return hooks.Close(closeCtx)
		})
		opts = append(opts, queue.WithNotifier(hooks))
	}

	api.queue = queue.New(store, queue.Handlers{
		models.JobKindExport:   queue.HandlerFunc(api.exports.HandleExport),
		models.JobKindCaptions: queue.HandlerFunc(api.exports.HandleCaptions),
	}, queue.ConfigFrom(cfg.Export), opts...)
	return api, nil
}

func setupRouter(ctx context.Context, api *API, rl config.RateLimitConfig) *gin.Engine {
	router := gin.New()
	router.Use(gin.Recovery(), middleware.RequestID(), middleware.Logger(api.logger))
	if rl.Enabled {
		limiter := middleware.NewRateLimiter(rl.RequestsPerSecond, rl.Burst)
		go limiter.Cleanup(ctx)
		router.Use(middleware.RateLimit(limiter))
	}

	// Health check
	router.GET("/health", api.healthCheck)

	v1 := router.Group("/api/v1")
	{
		// Exports
		v1.POST("/exports", api.createExport)
		v1.POST("/exports/batch", api.createBatch)
		v1.POST("/exports/plan", api.planExport)
		v1.GET("/exports", api.listExports)
		v1.GET("/exports/:id", api.getExport)
		v1.GET("/exports/:id/progress", api.getProgress)
		v1.GET("/exports/:id/events", api.streamEvents)
		v1.POST("/exports/:id/cancel", api.cancelExport)
		v1.POST("/exports/:id/retry", api.retryExport)

		// Queue control
		v1.GET("/queue/stats", api.queueStats)
		v1.POST("/queue/pause", api.pauseQueue)
		v1.POST("/queue/resume", api.resumeQueue)
		v1.DELETE("/queue", api.clearQueue)

		// Presets
		v1.GET("/presets", api.listPresets)
		v1.GET("/presets/:id", api.getPreset)
		v1.POST("/presets/:id/estimate", api.estimatePreset)

		// Timelines
		v1.POST("/timelines", api.createTimeline)
		v1.GET("/timelines/:id", api.getTimeline)
		v1.GET("/timelines/:id/edl", api.timelineEDL)
		v1.POST("/timelines/:id/tracks", api.addTrack)
		v1.PATCH("/timelines/:id/tracks/:track", api.updateTrack)
		v1.POST("/timelines/:id/tracks/:track/clips", api.addClip)
		v1.PATCH("/timelines/:id/tracks/:track/clips/:clip", api.updateClip)
		v1.DELETE("/timelines/:id/tracks/:track/clips/:clip", api.deleteClip)
		v1.POST("/timelines/:id/tracks/:track/clips/:clip/split", api.splitClip)
		v1.POST("/timelines/:id/tracks/:track/merge", api.mergeClips)
	}

	return router
}
