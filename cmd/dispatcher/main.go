// cmd/dispatcher/main.go
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"sync"
	"syscall"

	"github.com/joho/godotenv"
	"github.com/redis/go-redis/v9"
	"github.com/robfig/cron/v3"
	"github.com/rs/zerolog"

	"github.com/maildrip/maildrip-backend/internal/config"
	"github.com/maildrip/maildrip-backend/internal/db"
	"github.com/maildrip/maildrip-backend/internal/distlock"
	"github.com/maildrip/maildrip-backend/internal/queue"
	"github.com/maildrip/maildrip-backend/internal/repository"
	"github.com/maildrip/maildrip-backend/internal/service"
)

func main() {
	logger := zerolog.New(os.Stdout).With().Timestamp().Str("component", "dispatcher").Logger()

	if err := godotenv.Load(); err != nil {
		logger.Info().Msg("no .env file found, relying on OS environment variables")
	}

	cfg, err := config.Load()
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to load config")
	}

	conn, err := db.Open(cfg)
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to connect to database")
	}
	defer conn.Close()

	q, err := queue.NewAMQPQueue(cfg.AMQPURL)
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to connect to RabbitMQ")
	}
	defer q.Close()

	var redisClient *redis.Client
	if cfg.RedisURL != "" {
		opts, err := redis.ParseURL(cfg.RedisURL)
		if err != nil {
			logger.Fatal().Err(err).Msg("invalid REDIS_URL")
		}
		redisClient = redis.NewClient(opts)
		if err := redisClient.Ping(context.Background()).Err(); err != nil {
			logger.Fatal().Err(err).Msg("redis unreachable")
		}
		logger.Info().Msg("using redis tick locks")
	} else {
		logger.Info().Msg("no REDIS_URL set, using postgres advisory tick locks")
	}

	recipientRepo := &repository.RecipientRepository{DB: conn}
	contactRepo := &repository.ContactRepository{DB: conn}

	dispatch := &service.DispatchService{
		BroadcastRepo: &repository.BroadcastRepository{DB: conn},
		RecipientRepo: recipientRepo,
		TemplateRepo:  &repository.TemplateRepository{DB: conn},
		EventRepo:     &repository.EventRepository{DB: conn},
		Enrollment: &service.LazyEnrollment{
			ContactRepo:   contactRepo,
			RecipientRepo: recipientRepo,
		},
		Queue:  q,
		Locks:  distlock.NewFactory(redisClient, conn, 2*cfg.TickInterval),
		Config: cfg,
		Log:    logger.With().Str("service", "dispatch").Logger(),
	}

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	// One tick in flight at a time. A tick that outlives the cadence is
	// skipped, not stacked; the per-broadcast locks additionally guard
	// against a second dispatcher instance.
	var running sync.Mutex
	c := cron.New()
	_, err = c.AddFunc(fmt.Sprintf("@every %s", cfg.TickInterval), func() {
		if !running.TryLock() {
			logger.Warn().Msg("previous tick still running, skipping")
			return
		}
		defer running.Unlock()

		result, err := dispatch.Tick(ctx)
		if err != nil {
			logger.Error().Err(err).Msg("tick failed")
			return
		}
		logger.Info().
			Int("broadcasts", result.BroadcastsSeen).
			Int("promoted", result.Promoted).
			Int("enrolled", result.Enrolled).
			Int("stale_recovered", result.StaleRecovered).
			Int("queued", result.Queued).
			Int("completed", result.Completed).
			Int("skipped", result.Skipped).
			Msg("tick finished")
	})
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to schedule tick")
	}

	c.Start()
	logger.Info().Dur("interval", cfg.TickInterval).Msg("dispatcher running")

	<-ctx.Done()
	<-c.Stop().Done()
	logger.Info().Msg("dispatcher stopped")
}
