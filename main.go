package main

import (
	"context"
	"errors"
	"log"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"uploadsim/internal/api"
	"uploadsim/internal/config"
	"uploadsim/internal/db"
	"uploadsim/internal/middleware"
	"uploadsim/internal/upload"

	"github.com/gin-gonic/gin"
	"github.com/joho/godotenv"
	"github.com/mama165/sdk-go/logs"
)

func main() {
	_ = godotenv.Load()

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}
	logger := logs.GetLoggerFromString(cfg.LogLevel)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	machine := upload.New(upload.Options{
		Interval: cfg.Upload.TickInterval,
		Step:     cfg.Upload.ProgressStep,
		Outcome:  upload.RandomFailure(cfg.Upload.SimulatedFailureRate, nil),
		Logger:   logger,
	})
	defer machine.Close()

	maxMemory, err := cfg.Upload.MaxUploadMemoryBytes()
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}
	opts := api.Options{MaxUploadMemory: maxMemory}

	if cfg.RateLimitEnabled() {
		rdb, err := db.NewRedis(ctx, cfg.Redis)
		if err != nil {
			log.Fatalf("Failed to connect to Redis: %v", err)
		}
		defer rdb.Close()
		logger.Info("Connected to Redis", "addr", cfg.Redis.Addr)
		opts.Limiter = middleware.RateLimiter(db.NewRedisCounter(rdb),
			cfg.RateLimit.Limit, cfg.RateLimit.Window, middleware.ClientRateLimit{}, logger)
	} else {
		logger.Info("REDIS_ADDR not set, intake rate limiting disabled")
	}

	if cfg.Environment == "production" {
		gin.SetMode(gin.ReleaseMode)
	}

	r := gin.Default()
	server := api.NewServer(machine, logger, opts)
	api.SetupRoutes(r, server)
	broadcastDone := server.StartBroadcast(ctx)

	httpServer := &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           r,
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := httpServer.Shutdown(shutdownCtx); err != nil {
			logger.Error("Server shutdown failed", "err", err)
		}
	}()

	logger.Info("Starting Upload Simulator API server", "port", cfg.Port,
		"tick_interval", cfg.Upload.TickInterval, "failure_rate", cfg.Upload.SimulatedFailureRate)
	if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		log.Fatalf("Failed to start server: %v", err)
	}
	<-broadcastDone
}
