package main

import (
	"context"
	"database/sql"
	"fmt"
	"log"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/ansrivas/fiberprometheus/v2"
	"github.com/gofiber/fiber/v2"
	"github.com/hibiken/asynq"
	"github.com/joho/godotenv"
	_ "github.com/lib/pq"
	config "github.com/maheshrc27/postflow/configs"
	"github.com/maheshrc27/postflow/internal/api"
	job "github.com/maheshrc27/postflow/internal/jobs"
	"github.com/maheshrc27/postflow/internal/metrics"
	"github.com/maheshrc27/postflow/internal/publisher"
	"github.com/maheshrc27/postflow/internal/queue"
	"github.com/maheshrc27/postflow/internal/repository"
	"github.com/maheshrc27/postflow/internal/scheduler"
	"github.com/maheshrc27/postflow/internal/service"
	"github.com/maheshrc27/postflow/pkg/utils"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/robfig/cron"
	"golang.org/x/time/rate"
)

const (
	instagramPollInterval = 3 * time.Second
	shutdownTimeout       = 30 * time.Second
)

func main() {
	if err := godotenv.Load(); err != nil {
		log.Println("Warning: Failed to load environment variables", err)
	}

	cfg := config.LoadConfig()
	if err := cfg.Validate(); err != nil {
		log.Fatalf("Invalid configuration: %v", err)
	}

	ctx := context.Background()

	db, err := sql.Open("postgres", cfg.PostgresURI)
	if err != nil {
		log.Fatalf("Failed to connect to database: %v", err)
	}
	defer closeDB(db)

	if err := db.Ping(); err != nil {
		log.Fatalf("Database is unreachable: %v", err)
	}
	if err := repository.Migrate(ctx, db); err != nil {
		log.Fatalf("Failed to migrate database: %v", err)
	}

	redisConn := asynq.RedisClientOpt{Addr: cfg.RedisURI}
	client := asynq.NewClient(redisConn)
	defer client.Close()

	cipher, err := utils.NewTokenCipher([]byte(cfg.SecretKey))
	if err != nil {
		log.Fatalf("Failed to create token cipher: %v", err)
	}

	r2Service, err := service.NewR2Service(ctx, cfg.R2)
	if err != nil {
		log.Fatalf("Failed to create media store: %v", err)
	}

	postRepo := repository.NewPostRepository(db)
	postTargetRepo := repository.NewPostTargetRepository(db)
	platformAccountRepo := repository.NewPlatformAccountRepository(db)
	publishAttemptRepo := repository.NewPublishAttemptRepository(db)

	domainMetrics := metrics.New(prometheus.DefaultRegisterer)

	refreshers := service.NewTokenRefreshers(*cfg)
	credentialService := service.NewCredentialService(platformAccountRepo, cipher, refreshers, cfg.RefreshMargin,
		service.WithRefreshRecorder(domainMetrics))

	registry := publisher.NewRegistry(
		publisher.NewFacebook(),
		publisher.NewInstagram(instagramPollInterval),
		publisher.NewPinterest(),
		publisher.NewTumblr(cfg.Tumblr),
		publisher.NewX(),
		publisher.NewTiktok(),
		publisher.NewYoutube(),
	)
	if perSec := cfg.Scheduler.PublishRatePerSec; perSec > 0 {
		registry.Wrap(func(p publisher.Publisher) publisher.Publisher {
			return publisher.RateLimited(p, rate.NewLimiter(rate.Limit(perSec), 1))
		})
	}

	postService := service.NewPostService(db, postRepo, postTargetRepo, platformAccountRepo, publishAttemptRepo, r2Service, registry)
	platformService := service.NewPlatformService(platformAccountRepo, cipher, registry.Platforms())

	dispatcher := scheduler.New(
		scheduler.NewConfig(cfg.Scheduler),
		postRepo,
		publishAttemptRepo,
		credentialService,
		registry,
		r2Service,
		scheduler.WithNotifier(queue.NewNotifier(client)),
		scheduler.WithMetrics(domainMetrics),
	)

	app := api.NewApp(*cfg, api.Deps{
		Posts:      postService,
		Platforms:  platformService,
		DB:         db,
		Prometheus: fiberprometheus.New("postflow"),
	})

	// cron jobs
	refreshPlatforms := make([]string, 0, len(refreshers))
	for platform := range refreshers {
		refreshPlatforms = append(refreshPlatforms, platform)
	}
	refreshTokenJob := job.NewTokenRefreshJob(platformAccountRepo, credentialService, refreshPlatforms)

	c := cron.New()
	if err := c.AddFunc(cfg.TokenRefreshSchedule, refreshTokenJob.RefreshTokens); err != nil {
		log.Fatalf("Invalid TOKEN_REFRESH_SCHEDULE: %v", err)
	}
	c.Start()

	// queue
	queueW := queue.NewQueue(publishAttemptRepo, slog.Default())
	server := asynq.NewServer(redisConn, asynq.Config{
		Concurrency: 10,
	})
	go func() {
		mux := asynq.NewServeMux()
		mux.HandleFunc(queue.TaskTypePostFinalized, queueW.HandlePostFinalizedTask)

		log.Println("Starting the Asynq server...")
		if err := server.Run(mux); err != nil {
			log.Fatalf("Could not start Asynq server: %v", err)
		}
	}()

	dispatcher.Start(ctx)

	go func() {
		if err := app.Listen(":" + cfg.Port); err != nil {
			log.Fatalf("Failed to start server: %v", err)
		}
	}()
	log.Printf("Server is running on http://localhost:%s", cfg.Port)

	gracefulShutdown(app, dispatcher, c, server)
}

func closeDB(db *sql.DB) {
	fmt.Fprint(os.Stdout, "Closing database connection... ")
	if err := db.Close(); err != nil {
		fmt.Fprintf(os.Stderr, "Failed to close database: %v", err)
		return
	}
	fmt.Fprintln(os.Stdout, "Done")
}

// gracefulShutdown stops intake first, then lets the dispatcher finish its
// tick before the workers and the database go away.
func gracefulShutdown(app *fiber.App, dispatcher *scheduler.Scheduler, c *cron.Cron, server *asynq.Server) {
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, os.Interrupt, syscall.SIGTERM)

	<-quit
	log.Println("Shutting down server...")

	if err := app.ShutdownWithTimeout(shutdownTimeout); err != nil {
		log.Printf("Failed to shut down server: %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	dispatcher.Stop(ctx)

	c.Stop()
	server.Shutdown()

	log.Println("Server shutdown complete.")
}
