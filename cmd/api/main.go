package main

import (
	"context"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"classkiosk/internal/attendance"
	"classkiosk/internal/config"
	"classkiosk/internal/handler"
	"classkiosk/internal/httpmiddleware"
	"classkiosk/internal/metrics"
	"classkiosk/internal/queue"
	"classkiosk/internal/scheduler"
	"classkiosk/internal/session"
	"classkiosk/internal/store"
)

func main() {
	cfg := config.Load()

	// Set Gin mode based on environment
	if cfg.Env == "production" || cfg.Env == "prod" {
		gin.SetMode(gin.ReleaseMode)
	}

	if err := runHTTP(cfg); err != nil {
		log.Fatalf("http server failed: %v", err)
	}
}

func runHTTP(cfg config.App) error {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	m := metrics.New(prometheus.DefaultRegisterer)

	var redisClient *store.Redis
	if cfg.StoreBackend == "redis" || cfg.QueueBackend == "redis" {
		redisClient = store.NewRedis(cfg.RedisAddr)
		defer redisClient.Close()
	}

	var kv store.Store
	if cfg.StoreBackend == "redis" {
		kv = store.NewRedisStore(redisClient.Client, cfg.StorePrefix)
	} else {
		kv = store.NewMemory()
	}

	var q queue.Queue
	if cfg.QueueBackend == "redis" {
		q = queue.NewRedisQueue(redisClient.Client, cfg.QueueKey)
	} else {
		q = queue.NewInMemory(64)
	}

	db, repo, err := openArchive(ctx, cfg)
	if err != nil {
		log.Printf("warning: report archive disabled: %v", err)
	}
	defer func() {
		if db != nil {
			_ = db.Close()
		}
	}()

	roster := attendance.NewAggregator(kv, m)
	sched := scheduler.NewCron()
	defer sched.Stop()

	opts := []session.Option{
		session.WithMetrics(m),
		session.WithTickInterval(cfg.TickInterval),
		session.WithDefaultDuration(cfg.DefaultDuration),
	}
	var reports handler.ReportStore
	if repo != nil {
		opts = append(opts, session.WithArchiver(repo))
		reports = repo
	}
	ctl := session.New(kv, roster, sched, opts...)
	defer ctl.Close()
	if err := ctl.Restore(ctx); err != nil {
		log.Printf("warning: session restore failed: %v", err)
	}

	// with the in-memory queue there is no separate worker
	if cfg.QueueBackend != "redis" {
		go func() {
			if err := attendance.Pump(ctx, q, roster); err != nil {
				log.Printf("event pump stopped: %v", err)
			}
		}()
	}

	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(gin.LoggerWithConfig(gin.LoggerConfig{
		SkipPaths: []string{"/healthz", "/metrics"},
	}))
	r.Use(cors.New(cors.Config{
		AllowOrigins:     []string{"*"},
		AllowMethods:     []string{"GET", "POST", "PUT", "OPTIONS"},
		AllowHeaders:     []string{"Origin", "Content-Type", "Accept", "Authorization"},
		ExposeHeaders:    []string{"Content-Disposition"},
		AllowCredentials: false,
		MaxAge:           24 * time.Hour,
	}))
	r.Use(securityHeaders())
	r.Use(httpmiddleware.NewTokenBucket(cfg.RateLimitPerMin, cfg.RateLimitPerMin).GinMiddleware())

	r.GET("/metrics", gin.WrapH(promhttp.Handler()))

	r.GET("/healthz", func(c *gin.Context) {
		redisHealthy := redisClient == nil || redisClient.Healthy(c.Request.Context())
		status := http.StatusOK
		if !redisHealthy {
			status = http.StatusServiceUnavailable
		}
		c.JSON(status, gin.H{
			"status":  "ok",
			"redis":   redisHealthy,
			"archive": repo != nil,
			"phase":   ctl.State().Phase,
		})
	})

	handler.New(ctl, roster, q, reports, handler.Options{
		AdminPassword:  cfg.AdminPassword,
		JWTIssuer:      cfg.JWTIssuer,
		JWTSigningKey:  cfg.JWTSigningKey,
		AccessTTL:      cfg.AccessTTL,
		ReportLocation: cfg.ReportLocation,
	}).Register(r)

	// Graceful shutdown
	srv := &http.Server{
		Addr:         ":" + cfg.HTTPPort,
		Handler:      r,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		log.Printf("Starting server on :%s", cfg.HTTPPort)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("Server error: %v", err)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	log.Println("Shutting down server...")

	shutdownCtx, cancelShutdown := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancelShutdown()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Printf("Server forced shutdown: %v", err)
	}

	log.Println("Server exited")
	return nil
}

// openArchive connects the report archive selected by ARCHIVE_BACKEND.
func openArchive(ctx context.Context, cfg config.App) (*store.DB, *attendance.Repository, error) {
	var (
		db  *store.DB
		err error
	)
	switch cfg.ArchiveBackend {
	case "postgres":
		db, err = store.NewDB(cfg.DatabaseURL)
	case "sqlite":
		db, err = store.NewSQLite(cfg.SQLitePath)
	default:
		log.Println("Report archive not configured (ARCHIVE_BACKEND=none)")
		return nil, nil, nil
	}
	if err != nil {
		return db, nil, err
	}
	repo := attendance.NewRepository(db.Client, db.Dialect)
	if err := repo.Migrate(ctx); err != nil {
		return db, nil, err
	}
	log.Printf("Report archive: %s", cfg.ArchiveBackend)
	return db, repo, nil
}

// Security headers middleware
func securityHeaders() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Header("X-Content-Type-Options", "nosniff")
		c.Header("X-Frame-Options", "DENY")
		c.Header("Referrer-Policy", "strict-origin-when-cross-origin")

		// Only add HSTS in production
		if gin.Mode() == gin.ReleaseMode {
			c.Header("Strict-Transport-Security", "max-age=31536000; includeSubDomains")
		}

		c.Next()
	}
}
