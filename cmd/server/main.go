package main

import (
	"context"
	"errors"
	"log"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/adaptor"
	"github.com/gofiber/fiber/v2/middleware/cors"
	fiberlogger "github.com/gofiber/fiber/v2/middleware/logger"
	"github.com/gofiber/fiber/v2/middleware/recover"
	"github.com/hibiken/asynq"
	"github.com/jmoiron/sqlx"
	"github.com/joho/godotenv"
	config "github.com/maheshrc27/linkedin-scheduler/configs"
	"github.com/maheshrc27/linkedin-scheduler/internal/api/handlers"
	"github.com/maheshrc27/linkedin-scheduler/internal/api/middleware"
	"github.com/maheshrc27/linkedin-scheduler/internal/database"
	"github.com/maheshrc27/linkedin-scheduler/internal/generator"
	job "github.com/maheshrc27/linkedin-scheduler/internal/jobs"
	"github.com/maheshrc27/linkedin-scheduler/internal/logger"
	"github.com/maheshrc27/linkedin-scheduler/internal/metrics"
	"github.com/maheshrc27/linkedin-scheduler/internal/queue"
	"github.com/maheshrc27/linkedin-scheduler/internal/repository"
	"github.com/maheshrc27/linkedin-scheduler/internal/scheduler"
	"github.com/maheshrc27/linkedin-scheduler/internal/service"
	"github.com/maheshrc27/linkedin-scheduler/pkg/utils"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
)

const shutdownTimeout = 15 * time.Second

func main() {
	if err := godotenv.Load(); err != nil {
		log.Println("Warning: Failed to load environment variables", err)
	}

	cfg := config.LoadConfig()
	logger.SetupDefault(os.Stdout, cfg.LogLevel)

	if err := cfg.Validate(); err != nil {
		slog.Error("invalid configuration", slog.String("error", err.Error()))
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	posts, creds, db, err := openStorage(ctx, cfg)
	if err != nil {
		slog.Error("failed to open storage", slog.String("error", err.Error()))
		os.Exit(1)
	}
	if db != nil {
		defer closeDB(db)
	}

	registry := prometheus.NewRegistry()
	registry.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	collector := metrics.NewCollector(registry)

	linkedInService := service.NewLinkedInService(cfg.LinkedIn, collector)
	publisher := service.NewPublisher(creds, linkedInService, collector, slog.Default())
	accountService := service.NewAccountService(cfg.SecretKey, creds, linkedInService)

	loop := scheduler.NewLoop(posts, publisher, collector, slog.Default(), scheduler.Options{
		Interval:       cfg.Scheduler.Interval,
		Concurrency:    cfg.Scheduler.Concurrency,
		PublishTimeout: cfg.Scheduler.PublishTimeout,
	})

	// Wake-ups are optional; polling alone publishes every due post.
	var waker service.Waker
	var asynqServer *asynq.Server
	if cfg.RedisURI != "" {
		redisConn := redisOpt(cfg.RedisURI)
		client := asynq.NewClient(redisConn)
		defer client.Close()

		q := queue.NewQueue(client, loop, slog.Default())
		waker = q

		asynqServer = asynq.NewServer(redisConn, asynq.Config{
			Concurrency: 1,
			Logger:      asynqLogger{},
		})
		if err := asynqServer.Start(queue.NewServeMux(q)); err != nil {
			slog.Error("could not start asynq server", slog.String("error", err.Error()))
			os.Exit(1)
		}
		slog.Info("asynq server started")
	}

	postService := service.NewPostService(posts, publisher, waker, cfg.DefaultTimezone)

	var mediaService service.MediaService
	if cfg.R2.Enabled() {
		r2Service, err := service.NewR2Service(ctx, cfg.R2)
		if err != nil {
			slog.Error("failed to configure R2", slog.String("error", err.Error()))
			os.Exit(1)
		}
		mediaService = service.NewMediaService(r2Service, cfg.R2.PublicURL)
	}

	gen := generator.NewFromConfig(cfg.Generator, slog.Default())
	if gen.Len() == 0 {
		slog.Warn("no AI provider keys configured, post generation is disabled")
	}

	refreshJob := job.NewTokenRefreshJob(creds, publisher, cfg.Scheduler.RefreshLeeway, slog.Default())
	c, err := refreshJob.Schedule(cfg.Scheduler.RefreshSchedule)
	if err != nil {
		slog.Error("invalid TOKEN_REFRESH_SCHEDULE", slog.String("error", err.Error()))
		os.Exit(1)
	}
	c.Start()

	app := newApp(*cfg, registry, loop, postService, accountService, mediaService, gen)

	done := make(chan struct{})
	go func() {
		loop.Run(ctx)
		close(done)
	}()

	go func() {
		if err := app.Listen(cfg.ServerAddr); err != nil {
			slog.Error("failed to start server", slog.String("error", err.Error()))
			stop()
		}
	}()
	slog.Info("server is running", slog.String("addr", cfg.ServerAddr))

	<-ctx.Done()
	gracefulShutdown(app, asynqServer, c.Stop(), done)
}

func newApp(
	cfg config.Config,
	registry *prometheus.Registry,
	loop *scheduler.Loop,
	postService service.PostService,
	accountService service.AccountService,
	mediaService service.MediaService,
	gen generator.Generator) *fiber.App {
	app := fiber.New(fiber.Config{
		ReadTimeout:  time.Minute,
		WriteTimeout: 2 * time.Minute,
		BodyLimit:    service.MaxImageSize + 1<<20,
		ErrorHandler: func(c *fiber.Ctx, err error) error {
			code := fiber.StatusInternalServerError
			var fe *fiber.Error
			if errors.As(err, &fe) {
				code = fe.Code
			}
			if code == fiber.StatusInternalServerError {
				slog.Error(err.Error(), slog.String("path", c.Path()))
			}
			return c.Status(code).JSON(fiber.Map{"error": err.Error()})
		},
	})

	app.Use(recover.New())
	app.Use(fiberlogger.New())
	app.Use(cors.New(cors.Config{
		AllowOrigins:     cfg.FrontendURL,
		AllowMethods:     "GET,POST,PUT,DELETE,OPTIONS",
		AllowHeaders:     "Origin, Content-Type, Accept, Authorization",
		AllowCredentials: true,
		MaxAge:           3600,
	}))

	app.Get("/healthz", func(c *fiber.Ctx) error {
		resp := fiber.Map{"status": "ok"}
		if last, ok := loop.LastTick(); ok {
			resp["last_tick"] = last.StartedAt.Format(time.RFC3339)
			resp["last_tick_due"] = last.Due
		}
		return c.JSON(resp)
	})
	app.Get("/metrics", adaptor.HTTPHandler(metrics.Handler(registry)))

	platform := handlers.NewPlatformHandler(accountService, cfg)
	app.Get("/auth/linkedin", platform.AddLinkedInAccount)
	app.Get("/auth/linkedin/callback", platform.CallbackHandler)

	authMiddleware := middleware.NewAuthMiddleware(cfg)
	api := app.Group("/api")
	api.Use(authMiddleware.AuthMiddleware())

	api.Get("/linkedin", platform.LinkedInStatus)
	api.Delete("/linkedin", platform.DisconnectLinkedIn)

	post := handlers.NewPostHandler(postService, gen)
	api.Post("/posts/generate", post.GeneratePost)
	api.Post("/posts/linkedin", post.PublishNow)
	api.Post("/posts/scheduled", post.CreatePost)
	api.Get("/posts/scheduled", post.ListPosts)
	api.Get("/posts/scheduled/:id", post.GetPost)
	api.Put("/posts/scheduled/:id", post.UpdatePost)
	api.Delete("/posts/scheduled/:id", post.RemovePost)
	api.Get("/posts/scheduled/:id/engagement", post.Engagement)

	if mediaService != nil {
		media := handlers.NewMediaHandler(mediaService)
		api.Post("/media", media.UploadImage)
	}

	return app
}

func openStorage(ctx context.Context, cfg *config.Config) (repository.ScheduledPostRepository, repository.CredentialRepository, *sqlx.DB, error) {
	if cfg.StorageDriver == config.StorageDriverMemory {
		slog.Warn("using in-memory storage, data is lost on restart")
		return repository.NewMemoryScheduledPostRepository(), repository.NewMemoryCredentialRepository(), nil, nil
	}

	if err := database.RunMigrations(cfg.PostgresURI); err != nil {
		return nil, nil, nil, err
	}

	db, err := database.Open(cfg.PostgresURI)
	if err != nil {
		return nil, nil, nil, err
	}
	if err := database.Ping(ctx, db, 5*time.Second); err != nil {
		db.Close()
		return nil, nil, nil, err
	}

	cipher, err := utils.NewTokenCipher([]byte(cfg.SecretKey))
	if err != nil {
		db.Close()
		return nil, nil, nil, err
	}

	return repository.NewScheduledPostRepository(db), repository.NewCredentialRepository(db, cipher), db, nil
}

func redisOpt(uri string) asynq.RedisConnOpt {
	opt, err := asynq.ParseRedisURI(uri)
	if err != nil {
		return asynq.RedisClientOpt{Addr: uri}
	}
	return opt
}

func closeDB(db *sqlx.DB) {
	slog.Info("closing database connection")
	if err := db.Close(); err != nil {
		slog.Error("failed to close database", slog.String("error", err.Error()))
	}
}

func gracefulShutdown(app *fiber.App, asynqServer *asynq.Server, cronDone context.Context, loopDone <-chan struct{}) {
	slog.Info("shutting down server")

	if err := app.ShutdownWithTimeout(shutdownTimeout); err != nil {
		slog.Error("failed to shut down server", slog.String("error", err.Error()))
	}
	if asynqServer != nil {
		asynqServer.Shutdown()
	}

	timeout := time.After(shutdownTimeout)
	select {
	case <-loopDone:
	case <-timeout:
		slog.Warn("scheduler tick still running at shutdown")
	}
	select {
	case <-cronDone.Done():
	case <-timeout:
		slog.Warn("token refresh still running at shutdown")
	}

	slog.Info("server shutdown complete")
}

// asynqLogger routes asynq's internal logs through slog.
type asynqLogger struct{}

func (asynqLogger) Debug(args ...interface{}) { slog.Debug("asynq", slog.Any("msg", args)) }
func (asynqLogger) Info(args ...interface{}) { slog.Info("asynq", slog.Any("msg", args)) }
func (asynqLogger) Warn(args ...interface{}) { slog.Warn("asynq", slog.Any("msg", args)) }
func (asynqLogger) Error(args ...interface{}) { slog.Error("asynq", slog.Any("msg", args)) }
func (asynqLogger) Fatal(args ...interface{}) {
	slog.Error("asynq", slog.Any("msg", args))
	os.Exit(1)
}
