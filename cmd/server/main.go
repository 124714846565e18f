package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/cors"
	"github.com/gofiber/fiber/v2/middleware/logger"
	"github.com/gofiber/fiber/v2/middleware/recover"
	"github.com/hibiken/asynq"
	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"

	"github.com/briefcast/api/internal/client"
	"github.com/briefcast/api/internal/config"
	"github.com/briefcast/api/internal/handler"
	"github.com/briefcast/api/internal/middleware"
	"github.com/briefcast/api/internal/model"
	"github.com/briefcast/api/internal/pipeline"
	"github.com/briefcast/api/internal/progress"
	"github.com/briefcast/api/internal/store"
	"github.com/briefcast/api/internal/sweeper"
	ws "github.com/briefcast/api/internal/websocket"
	"github.com/briefcast/api/internal/worker"
)

const (
	sweepBudget     = 5 * time.Minute
	drainTimeout    = 60 * time.Second
	shutdownTimeout = 10 * time.Second
)

func main() {
	// Load configuration
	cfg, err := config.Load()
	if err != nil {
		logrus.Fatalf("Failed to load config: %v", err)
	}
	log := config.NewLogger(cfg.Server.LogLevel, cfg.Server.LogFormat)

	// Initialize Redis client
	redisClient := redis.NewClient(&redis.Options{
		Addr:     cfg.Redis.Addr,
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
	})
	defer redisClient.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	if err := redisClient.Ping(ctx).Err(); err != nil {
		log.WithError(err).Warn("Redis not available")
	}
	redisOpt := asynq.RedisClientOpt{
		Addr:     cfg.Redis.Addr,
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
	}

	// Record store
	db, err := store.Init(cfg.Database.URL)
	if err != nil {
		log.WithError(err).Fatal("Failed to connect to database")
	}
	defer store.Close(db)
	if cfg.Database.RunMigrations {
		if err := store.RunMigrations(db, log); err != nil {
			log.WithError(err).Fatal("Failed to run migrations")
		}
	}
	briefStore := store.NewBriefStore(db)

	// Synthesis provider
	var synth pipeline.Synthesizer
	synthClient := client.NewSynthesisClient(&cfg.Synthesis, log)
	if synthClient.IsConfigured() {
		synth = synthClient
	} else {
		log.Warn("Synthesis API key not set, using mock synthesizer")
		synth = client.NewMockSynthesizer(cfg.Synthesis.MaxChars, 200*time.Millisecond)
	}

	// Object storage
	var objects pipeline.ObjectStore
	if client.R2Configured(&cfg.R2) {
		r2, err := client.NewR2Client(&cfg.R2)
		if err != nil {
			log.WithError(err).Fatal("Failed to create R2 client")
		}
		objects = r2
	} else {
		log.Warn("R2 not configured, using mock storage")
		objects = client.NewMockStorage("")
	}

	// Webhooks are posted inline unless routed through the task queue.
	webhooks := client.NewWebhookClient(cfg.Webhook.Secret, time.Duration(cfg.Webhook.Timeout)*time.Second)
	var notifier pipeline.Notifier = webhooks
	var asynqClient *asynq.Client
	if cfg.Webhook.Async {
		asynqClient = asynq.NewClient(redisOpt)
		defer asynqClient.Close()
		notifier = worker.NewAsyncNotifier(asynqClient)
	}

	// Pipeline
	bus := progress.NewBus(0, log)
	snapshots := store.NewSnapshotCache(redisClient, cfg.Pipeline.SnapshotTTL, log)
	snapshotsDone := make(chan struct{})
	go func() {
		defer close(snapshotsDone)
		snapshots.Run(ctx)
	}()

	runner := pipeline.NewRunner(briefStore, synth, objects, notifier, pipeline.RunnerConfig{
		MaxChars:       cfg.Synthesis.MaxChars,
		RetryBaseDelay: cfg.Pipeline.RetryBaseDelay,
		CallTimeout:    time.Duration(cfg.Synthesis.Timeout) * time.Second,
		UploadAttempts: cfg.Pipeline.UploadAttempts,
		BitrateKbps:    cfg.Pipeline.BitrateKbps,
		Visibility:     model.Visibility(cfg.Pipeline.Visibility),
		Model:          cfg.Synthesis.Model,
		ContentType:    "audio/mpeg",
	}, log)
	queue := pipeline.NewJobQueue(cfg.Pipeline.MaxConcurrent)
	dispatcher := pipeline.NewDispatcher(queue, runner, briefStore, cfg.Pipeline.MaxRetries, log, bus, snapshots)

	// Sweepers
	lock := store.NewSweepLock(redisClient, sweepBudget)
	sweeps := []worker.Sweep{
		{
			TaskType: worker.TaskSweepRecurrence,
			Interval: cfg.Sweeper.RecurrenceInterval,
			Sweeper:  sweeper.NewRecurrenceSweeper(briefStore, dispatcher, log),
		},
		{
			TaskType: worker.TaskSweepRetry,
			Interval: cfg.Sweeper.RetryInterval,
			Sweeper:  sweeper.NewRetrySweeper(briefStore, dispatcher, cfg.Sweeper.RetryCeiling, log),
		},
		{
			TaskType: worker.TaskSweepCleanup,
			Interval: cfg.Sweeper.CleanupInterval,
			Sweeper:  sweeper.NewCleanupSweeper(briefStore, dispatcher, cfg.Sweeper.JobRetention, cfg.Sweeper.StaleAfter, log),
		},
	}

	var stops []func()
	var loops []*sweeper.Loop
	workerOpts := worker.Options{Locker: lock, SweepBudget: sweepBudget}

	if cfg.Sweeper.Mode == "asynq" {
		stopScheduler, err := worker.StartScheduler(redisOpt, sweeps, log)
		if err != nil {
			log.WithError(err).Fatal("Failed to start scheduler")
		}
		stops = append(stops, stopScheduler)
		workerOpts.Sweeps = sweeps
	} else {
		for _, s := range sweeps {
			loop := sweeper.NewLoop(s.Sweeper, s.Interval, lock, log)
			loop.Start()
			loops = append(loops, loop)
		}
	}

	if cfg.Webhook.Async || len(workerOpts.Sweeps) > 0 {
		stopWorker, err := worker.Start(redisOpt, webhooks, workerOpts, log)
		if err != nil {
			log.WithError(err).Fatal("Failed to start worker")
		}
		stops = append(stops, stopWorker)
	}

	// Initialize validator
	validate := validator.New()

	rateLimiter := middleware.NewRateLimiter(redisClient, log)

	// Initialize Fiber app
	app := fiber.New(fiber.Config{
		ErrorHandler: handler.ErrorHandler,
		BodyLimit:    4 * 1024 * 1024,
	})

	// Global middleware
	app.Use(recover.New())
	app.Use(logger.New(logger.Config{
		Format: "[${time}] ${status} - ${latency} ${method} ${path}\n",
	}))
	app.Use(cors.New(cors.Config{
		AllowOrigins: "*",
		AllowMethods: "GET,POST,OPTIONS",
		AllowHeaders: "Origin,Content-Type,Accept",
	}))

	handler.Register(app, handler.Routes{
		Health: handler.NewHealthHandler(map[string]handler.Pinger{
			"database": briefStore.Ping,
			"redis":    func(ctx context.Context) error { return redisClient.Ping(ctx).Err() },
		}, fiber.Map{
			"synthesis": synthClient.IsConfigured(),
			"r2":        client.R2Configured(&cfg.R2),
			"sweeper":   cfg.Sweeper.Mode,
		}),
		Briefs:      handler.NewBriefHandler(briefStore, validate, model.TemplateKind(cfg.Pipeline.DefaultTemplate)),
		Jobs:        handler.NewJobHandler(dispatcher, snapshots, validate),
		Events:      handler.NewEventsHandler(bus, dispatcher, log),
		Schedule:    handler.NewScheduleHandler(validate),
		Hub:         ws.NewHub(bus, dispatcher, log),
		SubmitLimit: rateLimiter.SubmitLimit(cfg.RateLimit.SubmitPerHour),
	})

	// Graceful shutdown
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		<-quit
		log.Info("Shutting down server...")
		if err := app.ShutdownWithTimeout(shutdownTimeout); err != nil {
			log.WithError(err).Error("Server shutdown error")
		}
	}()

	// Start server
	addr := ":" + cfg.Server.Port
	log.WithFields(logrus.Fields{
		"addr":           addr,
		"max_concurrent": cfg.Pipeline.MaxConcurrent,
		"sweeper_mode":   cfg.Sweeper.Mode,
	}).Info("Server starting")
	if err := app.Listen(addr); err != nil {
		log.WithError(err).Error("Server error")
	}

	for _, loop := range loops {
		loop.Stop()
	}
	for _, stop := range stops {
		stop()
	}

	drainCtx, drainCancel := context.WithTimeout(context.Background(), drainTimeout)
	defer drainCancel()
	if err := dispatcher.Shutdown(drainCtx); err != nil {
		log.WithError(err).Warn("Jobs interrupted at shutdown")
	}

	// The snapshot writer flushes the final transitions before exiting.
	cancel()
	<-snapshotsDone
	log.Info("Server stopped")
}
