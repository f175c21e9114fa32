package main

import (
	"context"
	"io"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/gofiber/contrib/websocket"
	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/cors"
	"github.com/gofiber/fiber/v2/middleware/logger"
	"github.com/gofiber/fiber/v2/middleware/recover"
	"github.com/hibiken/asynq"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"github.com/voxpipe/api/internal/client"
	"github.com/voxpipe/api/internal/config"
	"github.com/voxpipe/api/internal/dashboard"
	"github.com/voxpipe/api/internal/handler"
	"github.com/voxpipe/api/internal/inference"
	"github.com/voxpipe/api/internal/middleware"
	"github.com/voxpipe/api/internal/model"
	"github.com/voxpipe/api/internal/scheduler"
	"github.com/voxpipe/api/internal/storage"
	"github.com/voxpipe/api/internal/transform"
	ws "github.com/voxpipe/api/internal/websocket"
)

func main() {
	// Load configuration
	cfg, err := config.Load()
	if err != nil {
		panic(err)
	}

	log, logPath := newLogger(cfg)

	// Initialize Redis client
	redisClient := redis.NewClient(&redis.Options{
		Addr:     cfg.Redis.Addr,
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
	})

	ctx := context.Background()
	redisUp := true
	if err := redisClient.Ping(ctx).Err(); err != nil {
		redisUp = false
		log.Warn().Err(err).Msg("redis not available, falling back to in-memory job store")
	}

	// Job store: Redis when reachable, memory otherwise
	var jobStore scheduler.Store
	retention := time.Duration(cfg.Storage.RetentionHours) * time.Hour
	if redisUp {
		jobStore = scheduler.NewRedisStore(redisClient, 24*time.Hour)
	} else {
		jobStore = scheduler.NewMemoryStore()
	}

	// Asynq client drives deferred blob purges
	var asynqClient *asynq.Client
	if redisUp {
		asynqClient = asynq.NewClient(asynq.RedisClientOpt{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		defer asynqClient.Close()
	}

	validate := validator.New()

	// Blob storage
	blobs, err := storage.NewLocalStore(cfg.Storage.DataDir, log)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to initialize blob storage")
	}

	// Artifact mirror (optional, continues without if not configured)
	var mirror client.ArtifactMirror
	if cfg.Mirror.AccessKeyID != "" && cfg.Mirror.SecretAccessKey != "" {
		m, err := client.NewS3Mirror(&cfg.Mirror)
		if err != nil {
			log.Warn().Err(err).Msg("artifact mirror not initialized")
		} else {
			mirror = m
		}
	} else {
		log.Info().Msg("artifact mirror not configured, results stay local")
	}

	// Inference engine: HTTP sidecar when configured, mock otherwise
	var engine inference.Engine
	httpEngine := inference.NewHTTPEngine(&cfg.Engine)
	if httpEngine.IsConfigured() {
		engine = httpEngine
	} else {
		log.Warn().Msg("engine endpoint not configured, using mock engine")
		engine = inference.NewMockEngine()
	}

	// Transform runner and inference stage
	runner := transform.NewRunner(cfg.FFmpeg.Bin, time.Duration(cfg.FFmpeg.TimeoutSec)*time.Second, blobs, log)
	stage := inference.NewStage(engine, runner, blobs, cfg.Pipeline.MinSegmentSec, log)

	// WebSocket hub
	hub := ws.NewHub(log)
	go hub.Run()

	// Scheduler
	sched := scheduler.New(
		runner,
		stage,
		jobStore,
		blobs,
		mirror,
		asynqClient,
		hub,
		scheduler.Options{
			GPUCount:    cfg.Pipeline.GPUCount,
			MaxAttempts: cfg.Pipeline.MaxAttempts,
			Lookahead:   cfg.Pipeline.Lookahead,
			BackoffBase: time.Duration(cfg.Pipeline.BackoffBaseMS) * time.Millisecond,
			BackoffMax:  time.Duration(cfg.Pipeline.BackoffMaxMS) * time.Millisecond,
			Retention:   retention,
			Clock:       scheduler.NewRealClock(),
		},
		log,
	)

	schedCtx, schedCancel := context.WithCancel(ctx)
	defer schedCancel()
	go sched.Run(schedCtx)

	transformSpec := model.TransformSpec{
		SampleRate:    cfg.Pipeline.SampleRate,
		Channels:      cfg.Pipeline.Channels,
		Format:        "wav",
		TrimLeadSec:   cfg.Pipeline.TrimLeadSec,
		RemoveSilence: cfg.Pipeline.RemoveSilence,
	}

	// Handlers
	processHandler := handler.NewProcessHandler(sched, blobs, validate, transformSpec, cfg.Pipeline.Language)
	healthHandler := handler.NewHealthHandler(stage, engine, redisClient, mirror != nil)

	// Auth middleware
	var apiAuthMiddleware fiber.Handler
	if cfg.Gateway.Enabled {
		log.Info().Msg("gateway mode enabled, using header-based auth")
		apiAuthMiddleware = middleware.GatewayAuthMiddleware()
	} else {
		apiAuthMiddleware = middleware.NewAuthMiddleware(cfg.JWT.Secret).Authenticate()
	}
	rateLimiter := middleware.NewRateLimiter(redisClient)

	app := fiber.New(fiber.Config{
		ErrorHandler: customErrorHandler,
		BodyLimit:    cfg.Server.BodyLimitMB * 1024 * 1024,
	})

	app.Use(recover.New())
	logFormat := "[${time}] ${status} - ${latency} ${method} ${path}\n"
	if strings.EqualFold(cfg.Server.LogLevel, "debug") {
		logFormat = "[${time}] ${status} - ${latency} ${method} ${path} ${queryParams}\n"
	}
	app.Use(logger.New(logger.Config{
		Format: logFormat,
	}))
	app.Use(cors.New(cors.Config{
		AllowOrigins: "*",
		AllowMethods: "GET,POST,OPTIONS",
		AllowHeaders: "Origin,Content-Type,Accept,Authorization",
	}))

	app.Get("/", healthHandler.Root)
	app.Get("/health", healthHandler.Check)

	api := app.Group("/api", apiAuthMiddleware)

	process := api.Group("/process")
	process.Post("/", rateLimiter.ProcessLimit(cfg.RateLimit.ProcessPerHour), processHandler.Start)
	process.Get("/status/:jobId", rateLimiter.StatusLimit(cfg.RateLimit.StatusPerMin), processHandler.Status)
	process.Get("/result/:jobId", processHandler.Result)
	process.Post("/cancel/:jobId", processHandler.Cancel)

	// WebSocket routes
	app.Use("/ws", func(c *fiber.Ctx) error {
		if websocket.IsWebSocketUpgrade(c) {
			return c.Next()
		}
		return fiber.ErrUpgradeRequired
	})
	app.Get("/ws/jobs/:jobId", websocket.New(func(c *websocket.Conn) {
		hub.HandleConnection(c, c.Params("jobId"))
	}))

	// Dashboard app on its own port
	dash := dashboard.NewServer(sched, jobStore, logPath, log)
	dashApp := dash.App()
	go func() {
		addr := ":" + cfg.Server.DashboardPort
		log.Info().Str("addr", addr).Msg("dashboard starting")
		if err := dashApp.Listen(addr); err != nil {
			log.Error().Err(err).Msg("dashboard server error")
		}
	}()

	// Asynq worker server for blob purges
	if redisUp {
		go startJanitorServer(cfg, blobs, log)
	}

	// Graceful shutdown
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-quit
		log.Info().Msg("shutting down")
		schedCancel()
		_ = dashApp.ShutdownWithTimeout(10 * time.Second)
		if err := app.ShutdownWithTimeout(10 * time.Second); err != nil {
			log.Error().Err(err).Msg("server shutdown error")
		}
	}()

	addr := ":" + cfg.Server.APIPort
	log.Info().Str("addr", addr).Msg("api starting")
	if err := app.Listen(addr); err != nil {
		log.Fatal().Err(err).Msg("server error")
	}
}

// newLogger writes console output to stderr and a JSON stream to the
// pipeline log file that the dashboard tails.
func newLogger(cfg *config.Config) (zerolog.Logger, string) {
	level, err := zerolog.ParseLevel(strings.ToLower(cfg.Server.LogLevel))
	if err != nil {
		level = zerolog.InfoLevel
	}

	console := zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.RFC3339}
	writers := []io.Writer{console}

	logDir := filepath.Join(cfg.Storage.DataDir, "logs")
	logPath := filepath.Join(logDir, "pipeline.log")
	if err := os.MkdirAll(logDir, 0o755); err == nil {
		f, err := os.OpenFile(logPath, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
		if err == nil {
			writers = append(writers, f)
		}
	}

	log := zerolog.New(zerolog.MultiLevelWriter(writers...)).Level(level).With().Timestamp().Logger()
	return log, logPath
}

func startJanitorServer(cfg *config.Config, blobs *storage.LocalStore, log zerolog.Logger) {
	asynqLogLevel := asynq.InfoLevel
	if strings.EqualFold(cfg.Server.LogLevel, "debug") {
		asynqLogLevel = asynq.DebugLevel
	} else if strings.EqualFold(cfg.Server.LogLevel, "warn") {
		asynqLogLevel = asynq.WarnLevel
	} else if strings.EqualFold(cfg.Server.LogLevel, "error") {
		asynqLogLevel = asynq.ErrorLevel
	}

	srv := asynq.NewServer(
		asynq.RedisClientOpt{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		},
		asynq.Config{
			Concurrency: 2,
			LogLevel:    asynqLogLevel,
		},
	)

	janitor := scheduler.NewJanitor(blobs, log)

	mux := asynq.NewServeMux()
	mux.HandleFunc(scheduler.TaskTypePurgeBlob, janitor.ProcessTask)

	if err := srv.Run(mux); err != nil {
		log.Error().Err(err).Msg("janitor worker error")
	}
}

func customErrorHandler(c *fiber.Ctx, err error) error {
	code := fiber.StatusInternalServerError
	message := "Internal Server Error"

	if e, ok := err.(*fiber.Error); ok {
		code = e.Code
		message = e.Message
	}

	return c.Status(code).JSON(fiber.Map{
		"error": fiber.Map{
			"code":    "SERVICE_ERROR",
			"message": message,
		},
	})
}
