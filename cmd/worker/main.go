package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"

	"classkiosk/internal/attendance"
	"classkiosk/internal/config"
	"classkiosk/internal/queue"
	"classkiosk/internal/store"
)

// Worker consumes card reader events from redis and applies them to the
// roster in the shared redis session store.
func main() {
	cfg := config.Load()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Graceful shutdown
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigCh
		log.Println("shutdown signal received")
		cancel()
	}()

	if cfg.StoreBackend != "redis" || cfg.QueueBackend != "redis" {
		log.Fatalf("worker needs STORE_BACKEND=redis and QUEUE_BACKEND=redis (got %s/%s)", cfg.StoreBackend, cfg.QueueBackend)
	}

	redisClient := store.NewRedis(cfg.RedisAddr)
	defer redisClient.Close()
	if !redisClient.Healthy(ctx) {
		log.Printf("WARNING: redis at %s not reachable yet", cfg.RedisAddr)
	}

	kv := store.NewRedisStore(redisClient.Client, cfg.StorePrefix)
	q := queue.NewRedisQueue(redisClient.Client, cfg.QueueKey)
	roster := attendance.NewAggregator(kv, nil)

	log.Println("worker started, waiting for attendance events...")
	if err := attendance.Pump(ctx, q, roster); err != nil {
		log.Fatalf("queue consume init failed: %v", err)
	}
	log.Println("worker stopped")
}
