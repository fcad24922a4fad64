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

	"github.com/redis/go-redis/v9"

	"video-lifecycle-service/internal/config"
	"video-lifecycle-service/internal/repository/postgresql"
	"video-lifecycle-service/internal/service"
	"video-lifecycle-service/internal/storage"
	"video-lifecycle-service/internal/sweep"
	httptransport "video-lifecycle-service/internal/transport/http"

	_ "video-lifecycle-service/docs"
)

// @title Video Lifecycle Service
// @version 1.0
// @description Conversion job lifecycle core: upload admission, worker leasing, storage lifecycle saga.
// @BasePath /
func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	cfg := config.Load()
	if cfg.WorkerToken == "" {
		log.Fatal("missing env: WORKER_TOKEN")
	}

	pool, err := postgresql.NewPool(ctx, cfg.DatabaseURL)
	if err != nil {
		log.Fatalf("pg: %v", err)
	}
	defer pool.Close()

	rdb := redis.NewClient(&redis.Options{
		Addr:     cfg.RedisAddr,
		Password: cfg.RedisPassword,
		DB:       cfg.RedisDB,
	})
	if err := rdb.Ping(ctx).Err(); err != nil {
		log.Fatalf("redis: %v", err)
	}
	defer rdb.Close()

	buckets := storage.Buckets{
		Raw:    cfg.RawBucket,
		Public: cfg.PublicBucket,
		Trash:  cfg.TrashBucket,
	}
	store := storage.NewS3Store(cfg)

	jobs := postgresql.NewJobRepository(pool)
	audit := postgresql.NewLifecycleLogRepository(pool)
	tokens := service.NewRedisTokenStore(rdb)
	beats := service.NewRedisHeartbeatStore(rdb)

	lease := service.NewLeaseService(jobs, store, buckets, beats, cfg.MaxRetries, cfg.StallAfter, cfg.ZombieAfter)
	lifecycle := service.NewLifecycleService(jobs, audit, store, buckets, cfg.BulkConcurrency)
	admission := service.NewAdmissionService(jobs, tokens, store, buckets, cfg.TokenTTL)

	go sweep.New(lease, admission, cfg.SweepInterval).Run(ctx)

	h := httptransport.NewHandler(admission, lifecycle, lease)
	wh := httptransport.NewWorkerHandler(lease)

	srv := &http.Server{
		Addr:    cfg.ListenAddr,
		Handler: httptransport.Routes(h, wh, cfg.WorkerToken),
	}

	go func() {
		log.Printf("listening on %s", cfg.ListenAddr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatalf("http: %v", err)
		}
	}()

	<-ctx.Done()
	log.Println("shutdown signal received")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Printf("shutdown: %v", err)
	}

	log.Println("server stopped")
}
