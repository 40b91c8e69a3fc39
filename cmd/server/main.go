package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"

	_ "whisper-api/docs"
	"whisper-api/internal/config"
	"whisper-api/internal/models"
	"whisper-api/internal/platform/logger"
	"whisper-api/internal/repository/postgresql"
	"whisper-api/internal/service"
	httptransport "whisper-api/internal/transport/http"
)

// @title Whisper Job Service API
// @version 1.0.0
// @description Asynchronous audio transcription jobs backed by whisper.cpp.
func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	cfg, err := config.Load()
	if err != nil {
		logger.Setup("info").Error("config", "error", err)
		os.Exit(1)
	}
	log := logger.Setup(cfg.Server.LogLevel)

	pool, err := postgresql.NewPool(ctx, cfg.Database.URL)
	if err != nil {
		log.Error("pg", "error", err)
		os.Exit(1)
	}
	defer pool.Close()

	rdb := redis.NewClient(&redis.Options{Addr: cfg.Redis.Addr})
	if err := rdb.Ping(ctx).Err(); err != nil {
		log.Error("redis", "error", err)
		os.Exit(1)
	}

	repo := postgresql.NewJobRepository(pool)
	queue := service.NewRedisQueue(rdb, cfg.Redis.QueueKey, cfg.Redis.ProcessingKey)
	resolver := models.NewResolver(cfg.Whisper.ModelsDir, cfg.Whisper.ExtraModelsDir)
	jobSvc := service.NewJobService(repo, queue, resolver, log, cfg.Whisper.DefaultModel, cfg.Store.ResultTTL)

	// Periodic rescan: a model downloaded after startup becomes
	// submittable without a restart.
	go func() {
		ticker := time.NewTicker(cfg.Whisper.ModelRefreshInterval)
		defer ticker.Stop()

		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				resolver.Refresh()
			}
		}
	}()

	handler := httptransport.NewHandler(jobSvc, resolver, cfg.Whisper.DefaultModel)
	srv := &http.Server{
		Addr:    ":" + strconv.Itoa(cfg.Server.Port),
		Handler: httptransport.Routes(handler, log),
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			log.Error("shutdown", "error", err)
		}
	}()

	log.Info("api server started", "port", cfg.Server.Port, "default_model", cfg.Whisper.DefaultModel)

	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		log.Error("listen", "error", err)
		os.Exit(1)
	}

	log.Info("api server stopped")
}
