package main

import (
	"context"
	"errors"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/SergeiKhy/shortlink/internal/artifact"
	"github.com/SergeiKhy/shortlink/internal/broadcast"
	"github.com/SergeiKhy/shortlink/internal/config"
	"github.com/SergeiKhy/shortlink/internal/handler"
	"github.com/SergeiKhy/shortlink/internal/middleware"
	"github.com/SergeiKhy/shortlink/internal/repository"
	"github.com/SergeiKhy/shortlink/internal/service"
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

const (
	allocationQueueKey = "allocation_jobs"
	shutdownTimeout    = 10 * time.Second
)

func main() {
	// Загрузка конфига
	cfg, err := config.Load(".env")
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	// Инициализация логгера
	logger, err := newLogger(cfg.Log)
	if err != nil {
		log.Fatalf("Failed to init logger: %v", err)
	}
	defer logger.Sync()

	if !cfg.Log.Development {
		gin.SetMode(gin.ReleaseMode)
	}

	ctx := context.Background()

	// Миграции схемы
	if err := repository.Migrate(cfg.DB); err != nil {
		logger.Fatal("Failed to apply migrations", zap.Error(err))
	}

	// Подключение к БД (postgres)
	db, err := repository.NewPostgresDB(ctx, cfg.DB)
	if err != nil {
		logger.Fatal("Failed to connect to database", zap.Error(err))
	}
	defer db.Close()
	logger.Info("Connected to PostgreSQL")

	// Подключение к Redis
	redis, err := repository.NewRedisClient(ctx, cfg.Redis)
	if err != nil {
		logger.Fatal("Failed to connect to Redis", zap.Error(err))
	}
	defer redis.Close()
	logger.Info("Connected to Redis")

	// Инициализация репозиториев
	linkRepo := repository.NewLinkRepository(db)
	cacheRepo := repository.NewCacheRepository(redis)

	// Хранилище QR-кодов
	storage, mediaFs, err := artifact.NewDirStorage(cfg.App.MediaDir, cfg.App.BaseURL+"/media")
	if err != nil {
		logger.Fatal("Failed to init media storage", zap.Error(err))
	}

	// Рассылка событий
	var broadcaster broadcast.Broadcaster
	switch cfg.Broadcast.Backend {
	case "redis":
		broadcaster, err = broadcast.NewRedisBroadcaster(ctx, redis.Client, cfg.Broadcast.Channel, cfg.Broadcast.BufferSize, logger)
		if err != nil {
			logger.Fatal("Failed to subscribe to broadcast channel", zap.Error(err))
		}
	default:
		broadcaster = broadcast.NewHub(cfg.Broadcast.BufferSize, logger)
	}

	// Очередь задач аллокации
	var queue service.JobQueue
	switch cfg.Allocator.Queue {
	case "redis":
		queue = service.NewRedisQueue(redis.Client, allocationQueueKey)
	default:
		queue = service.NewMemoryQueue(cfg.Allocator.QueueSize)
	}

	// Аллокатор ключей (Worker Pool)
	allocator := service.NewAllocator(
		linkRepo,
		queue,
		artifact.NewQRGenerator(cfg.QR.Size),
		storage,
		broadcaster,
		logger,
		service.AllocatorConfig{
			Workers:    cfg.Allocator.Workers,
			JobTimeout: cfg.Allocator.JobTimeout,
			BaseURL:    cfg.App.BaseURL,
		},
	)
	allocator.Start()

	// Инициализация сервисов
	linkService := service.NewLinkService(linkRepo, cacheRepo, allocator, storage, logger)
	resolver := service.NewResolver(linkRepo, cacheRepo, cfg.Cache.TTL, logger)

	// Инициализация middleware
	rateLimiter := middleware.NewRateLimiter(middleware.RateLimiterConfig{
		RequestsPerSecond: cfg.RateLimit.RequestsPerSecond,
		BurstSize:         cfg.RateLimit.BurstSize,
		CleanupInterval:   time.Minute,
	})
	defer rateLimiter.Stop()

	auth := middleware.NewAuthenticator(middleware.AuthConfig{
		APIKeys:   cfg.Auth.APIKeys,
		JWTSecret: cfg.Auth.JWTSecret,
	})
	logger.Info("Authentication configured",
		zap.Int("api_keys", len(cfg.Auth.APIKeys)),
		zap.Bool("jwt", cfg.Auth.JWTSecret != ""),
	)

	events := handler.NewEventsHandler(broadcaster, nil, logger)

	// Настройка роутера
	router := handler.NewRouter(handler.RouterDeps{
		Links:  handler.NewLinkHandler(linkService, resolver, storage, cfg.App.BaseURL, logger),
		Events: events,
		Health: handler.NewHealthHandler(map[string]handler.Pinger{
			"postgres": db,
			"redis":    redis,
		}, logger),
		RateLimiter: rateLimiter,
		Auth:        auth.Middleware(),
		Media:       artifact.HTTPFileSystem(mediaFs),
		Logger:      logger,
	})

	// WriteTimeout снимается для SSE и WebSocket в обработчиках
	srv := &http.Server{
		Addr:              ":" + cfg.App.Port,
		Handler:           router,
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       15 * time.Second,
		WriteTimeout:      15 * time.Second,
		IdleTimeout:       60 * time.Second,
	}
	srv.RegisterOnShutdown(events.Close)

	// Запуск в горутине
	go func() {
		logger.Info("Server starting", zap.String("port", cfg.App.Port))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Fatal("Failed to start server", zap.Error(err))
		}
	}()

	// Graceful Shutdown
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info("Shutting down server...")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	// Порядок: HTTP, воркеры, рассылка; пулы закрываются в defer
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("Server forced to shutdown", zap.Error(err))
	}
	allocator.Stop()
	if err := queue.Close(); err != nil {
		logger.Warn("Failed to close job queue", zap.Error(err))
	}
	if err := broadcaster.Close(); err != nil {
		logger.Warn("Failed to close broadcaster", zap.Error(err))
	}

	logger.Info("Server exited")
}

// newLogger JSON в production, консоль в development
func newLogger(cfg config.LogConfig) (*zap.Logger, error) {
	level, err := zapcore.ParseLevel(cfg.Level)
	if err != nil {
		return nil, err
	}

	zapCfg := zap.NewProductionConfig()
	if cfg.Development {
		zapCfg = zap.NewDevelopmentConfig()
	}
	zapCfg.Level = zap.NewAtomicLevelAt(level)

	return zapCfg.Build()
}
