package main

import (
	"context"
	"flag"
	"net/http"
	"os"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"

	"clipmill/internal/app"
	"clipmill/internal/config"
	"clipmill/internal/events"
	"clipmill/internal/httpapi"
	"clipmill/internal/httpapi/handlers"
	"clipmill/internal/intake"
	"clipmill/internal/intake/queue"
	"clipmill/internal/jobstore"
	"clipmill/internal/pkg/logger"
	"clipmill/internal/pkg/shutdown"
	"clipmill/internal/storage"
)

func main() {
	configPath := flag.String("config", os.Getenv("CLIPMILL_CONFIG"), "path to a TOML config file")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		logger.NewDefault().LogFatal("invalid configuration", err)
	}

	// Initialize logger
	log := logger.New(logger.Config{
		Level:       cfg.Log.Level,
		Format:      cfg.Log.Format,
		AddSource:   cfg.Log.Source,
		ServiceName: "clipmill-api",
	})

	log.Info("starting clipmill API",
		"version", "0.1.0",
		"storage", cfg.Storage.Provider,
		"transform", cfg.Transform.Backend,
	)

	ctx := context.Background()

	// Los handlers se corren en orden LIFO: lo primero registrado es lo último en cerrarse.
	shutdownMgr := shutdown.NewManager(log, cfg.Server.ShutdownTimeout.Duration)
	runCtx := shutdownMgr.Context()

	// Initialize storage provider
	sp, err := storage.NewProvider(ctx, cfg.Storage)
	if err != nil {
		log.LogFatal("failed to initialize storage provider", err)
	}
	log.Info("storage provider initialized", "provider", sp.Provider())

	engine, err := app.NewEngine(cfg, sp, log, app.Options{})
	if err != nil {
		log.LogFatal("failed to build batch engine", err)
	}
	if err := engine.Preflight(ctx, cfg); err != nil {
		// Jobs will fail at the transform stage until this is fixed.
		log.Warn("transformer preflight failed", "error", err.Error())
	}
	sched := engine.Scheduler

	hdeps := handlers.Deps{
		Batches:        sched,
		Capacity:       sched.Limiter(),
		SP:             sp,
		MaxUploadBytes: cfg.Server.MaxUploadMB << 20,
	}
	var sinks jobstore.Multi

	// PostgreSQL (optional job archive)
	if cfg.Postgres.URL != "" {
		log.Info("connecting to PostgreSQL")
		pool, err := pgxpool.New(ctx, cfg.Postgres.URL)
		if err != nil {
			log.LogFatal("failed to connect to PostgreSQL", err)
		}
		shutdownMgr.RegisterSimple("postgres", pool.Close)

		if err := pool.Ping(ctx); err != nil {
			log.LogFatal("failed to ping PostgreSQL", err)
		}
		pg := jobstore.NewPostgresSink(pool)
		if err := pg.EnsureSchema(ctx); err != nil {
			log.LogFatal("failed to ensure job schema", err)
		}
		log.Info("PostgreSQL connected")

		sinks = append(sinks, pg)
		hdeps.Pool = pool
	}

	// Redis (optional status mirror + intake)
	var rdb *redis.Client
	if cfg.Redis.Addr != "" {
		log.Info("connecting to Redis")
		rdb = redis.NewClient(queue.Options(cfg.Redis.Addr))
		shutdownMgr.Register("redis", func(ctx context.Context) error {
			return rdb.Close()
		})

		if err := rdb.Ping(ctx).Err(); err != nil {
			log.LogFatal("failed to ping Redis", err)
		}
		log.Info("Redis connected")

		sinks = append(sinks, jobstore.NewRedisSink(rdb, cfg.Redis.StatusPrefix, cfg.Scheduler.JobTTL.Duration))
		hdeps.RDB = rdb
	}

	if len(sinks) > 0 {
		sched.Observe(jobstore.Mirror(sinks, 5*time.Second, log))
	}

	// Kafka (optional completion events)
	if len(cfg.Kafka.Brokers) > 0 {
		pub := events.NewKafkaPublisher(cfg.Kafka.Brokers, cfg.Kafka.Topic)
		shutdownMgr.Register("kafka", func(ctx context.Context) error {
			return pub.Close()
		})
		sched.Observe(events.Hook(pub, 10*time.Second, log))
		log.Info("kafka events enabled", "topic", cfg.Kafka.Topic, "brokers", cfg.Kafka.Brokers)
	}

	// Drain running jobs after intake and HTTP have stopped.
	shutdownMgr.Register("scheduler", sched.Shutdown)

	go sched.Registry().RunJanitor(runCtx, cfg.Scheduler.SweepInterval.Duration, func(evicted int) {
		log.Info("registry sweep", "evicted", evicted, "remaining", sched.Registry().Len())
	})

	if cfg.Redis.IntakeEnabled && rdb != nil {
		intakeCtx, stopIntake := context.WithCancel(runCtx)
		intakeDone := make(chan struct{})
		go func() {
			defer close(intakeDone)
			_ = intake.Run(intakeCtx, intake.Deps{
				Queue:     queue.NewRedisQueue(rdb, cfg.Redis.IntakeQueue),
				Submitter: sched,
				Log:       log,
			})
		}()
		shutdownMgr.Register("intake", func(ctx context.Context) error {
			stopIntake()
			select {
			case <-intakeDone:
				return nil
			case <-ctx.Done():
				return ctx.Err()
			}
		})
		log.Info("redis intake enabled", "queue", cfg.Redis.IntakeQueue)
	}

	// Create HTTP router
	router := httpapi.NewRouter(httpapi.Deps{
		Handlers:       hdeps,
		Log:            log,
		AllowedOrigins: cfg.CORS.AllowedOrigins,
	})

	// Sync batches hold the request open until the job ends.
	server := &http.Server{
		Addr:         "0.0.0.0:" + cfg.Server.Port,
		Handler:      router,
		ReadTimeout:  5 * time.Minute,
		WriteTimeout: 60 * time.Minute,
		IdleTimeout:  120 * time.Second,
	}

	shutdownMgr.Register("http-server", func(ctx context.Context) error {
		log.Info("shutting down HTTP server")
		return server.Shutdown(ctx)
	})

	go func() {
		log.Info("HTTP server listening",
			"addr", server.Addr,
			"port", cfg.Server.Port,
		)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.LogFatal("HTTP server failed", err)
		}
	}()

	// Wait for shutdown signal
	shutdownMgr.Wait()
}
