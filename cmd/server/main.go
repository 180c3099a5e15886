package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/ireporter/api/internal/cache"
	"github.com/ireporter/api/internal/config"
	"github.com/ireporter/api/internal/database"
	"github.com/ireporter/api/internal/handler"
	"github.com/ireporter/api/internal/log"
	"github.com/ireporter/api/internal/media"
	"github.com/ireporter/api/internal/middleware"
	"github.com/ireporter/api/internal/ratelimit"
	"github.com/ireporter/api/internal/record"
	"github.com/ireporter/api/internal/store"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

func main() {
	cfg := config.Load()

	log.Configure(log.Config{Level: cfg.LogLevel})
	logger := log.WithComponent("server")

	// Initialize database
	db, err := database.Connect(cfg)
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to connect to database")
	}

	if err := database.Migrate(db); err != nil {
		logger.Fatal().Err(err).Msg("failed to migrate database")
	}

	// Redis backs both the record cache and the rate limiter. Both are
	// optional; the API keeps working without them.
	var (
		recordCache record.Cache
		limiter     middleware.RateChecker
	)
	redisCache, err := cache.NewRedisCache(cfg.RedisURL, cfg.CacheTTL)
	if err != nil {
		logger.Warn().Err(err).Msg("redis unavailable, running without cache and rate limits")
	} else {
		defer redisCache.Close()
		recordCache = redisCache
		limiter = ratelimit.NewLimiter(
			ratelimit.NewRedisStorage(redisCache.Client()),
			ratelimit.DefaultLimits(cfg.RateLimitCreate, cfg.RateLimitWindow),
		)
	}

	var uploader media.Uploader
	cld, err := media.NewCloudinaryUploader(cfg.CloudinaryURL, cfg.CloudinaryFolder)
	if err != nil {
		logger.Warn().Err(err).Msg("media uploads disabled")
	} else {
		uploader = cld
	}

	recordService := record.NewService(
		store.NewRecordStore(db),
		store.NewUserStore(db),
		uploader,
		recordCache,
		log.WithComponent("records"),
	)
	recordHandler := handler.NewRecordHandler(recordService, log.WithComponent("http"))

	gin.SetMode(gin.ReleaseMode)
	r := gin.New()
	r.Use(
		gin.Recovery(),
		middleware.RequestID(),
		middleware.RequestLogger(log.WithComponent("http")),
		middleware.MetricsMiddleware(),
		middleware.CORS(),
	)

	r.GET("/health", func(c *gin.Context) {
		c.JSON(200, gin.H{"status": "ok"})
	})
	r.GET("/metrics", gin.WrapH(promhttp.Handler()))

	api := r.Group("/api", middleware.LimitBody(cfg.MaxUploadBytes))
	limitLogger := log.WithComponent("ratelimit")
	recordHandler.Register(
		api,
		middleware.AuthMiddleware(cfg.JWTSecret),
		middleware.RateLimit(limiter, ratelimit.ActionCreate, limitLogger),
		middleware.RateLimit(limiter, ratelimit.ActionUpdate, limitLogger),
	)

	srv := &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           r,
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		logger.Info().Str("port", cfg.Port).Msg("API server starting")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Fatal().Err(err).Msg("failed to start server")
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := srv.Shutdown(ctx); err != nil {
		logger.Error().Err(err).Msg("graceful shutdown failed")
	}
	logger.Info().Msg("server stopped")
}
