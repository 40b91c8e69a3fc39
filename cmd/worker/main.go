package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"

	"whisper-api/internal/config"
	"whisper-api/internal/models"
	"whisper-api/internal/platform/logger"
	"whisper-api/internal/repository/postgresql"
	"whisper-api/internal/service"
	"whisper-api/internal/whispercpp"
	"whisper-api/internal/worker"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	cfg, err := config.Load()
	if err != nil {
		logger.Setup("info").Error("config", "error", err)
		os.Exit(1)
	}
	log := logger.Setup(cfg.Server.LogLevel)

	pgPool, err := postgresql.NewPool(ctx, cfg.Database.URL)
	if err != nil {
		log.Error("pg", "error", err)
		os.Exit(1)
	}
	defer pgPool.Close()

	rdb := redis.NewClient(&redis.Options{Addr: cfg.Redis.Addr})
	if err := rdb.Ping(ctx).Err(); err != nil {
		log.Error("redis", "error", err)
		os.Exit(1)
	}

	repo := postgresql.NewJobRepository(pgPool)
	queue := service.NewRedisQueue(rdb, cfg.Redis.QueueKey, cfg.Redis.ProcessingKey)
	resolver := models.NewResolver(cfg.Whisper.ModelsDir, cfg.Whisper.ExtraModelsDir)
	engine := whispercpp.NewEngine(cfg.Whisper.Binary, resolver, cfg.Whisper.Threads, log)

	// Periodic rescan: a model downloaded after startup resolves
	// without a restart.
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

	// Reaper: descriptors claimed by a crashed worker go back to the
	// queue. The processor's status pre-check makes the redelivery safe.
	go func() {
		ticker := time.NewTicker(cfg.Worker.RequeueInterval)
		defer ticker.Stop()

		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				n, err := queue.RequeueStale(ctx, 100)
				if err != nil {
					log.Error("requeue stale", "error", err)
					continue
				}
				if n > 0 {
					log.Info("requeued stale descriptors", "count", n)
				}
			}
		}
	}()

	// TTL sweep: records past their retention window are removed
	// regardless of status.
	go func() {
		ticker := time.NewTicker(cfg.Store.SweepInterval)
		defer ticker.Stop()

		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				n, err := repo.DeleteExpired(ctx)
				if err != nil {
					log.Error("expiry sweep", "error", err)
					continue
				}
				if n > 0 {
					log.Info("swept expired jobs", "count", n)
				}
			}
		}
	}()

	processor := worker.NewProcessor(repo, engine, log, cfg.Worker.JobTimeout)
	workers := worker.NewPool(queue, processor, cfg.Worker.Concurrency, log)

	log.Info("worker started",
		"concurrency", cfg.Worker.Concurrency,
		"job_timeout", cfg.Worker.JobTimeout,
		"result_ttl", cfg.Store.ResultTTL,
	)
	workers.Run(ctx)

	log.Info("worker stopped")
}
