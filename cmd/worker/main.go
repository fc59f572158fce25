// cmd/worker/main.go
package main

import (
	"context"
	"encoding/json"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"
	"github.com/rs/zerolog"
	"github.com/streadway/amqp"

	"github.com/maildrip/maildrip-backend/internal/config"
	"github.com/maildrip/maildrip-backend/internal/db"
	"github.com/maildrip/maildrip-backend/internal/mailer"
	"github.com/maildrip/maildrip-backend/internal/queue"
	"github.com/maildrip/maildrip-backend/internal/repository"
	"github.com/maildrip/maildrip-backend/internal/service"
)

const maxInfraRetries = 3

func main() {
	logger := zerolog.New(os.Stdout).With().Timestamp().Str("component", "worker").Logger()

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

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	transport, err := buildTransport(ctx, cfg, logger)
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to build mail transport")
	}

	worker := &service.SendWorker{
		RecipientRepo: &repository.RecipientRepository{DB: conn},
		BroadcastRepo: &repository.BroadcastRepository{DB: conn},
		ContactRepo:   &repository.ContactRepository{DB: conn},
		TemplateRepo:  &repository.TemplateRepository{DB: conn},
		EventRepo:     &repository.EventRepository{DB: conn},
		Transport:     transport,
		Config:        cfg,
		Log:           logger.With().Str("service", "send_worker").Logger(),
	}

	amqpConn, err := amqp.Dial(cfg.AMQPURL)
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to connect to RabbitMQ")
	}
	defer amqpConn.Close()

	ch, err := amqpConn.Channel()
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to open a channel")
	}
	defer ch.Close()

	q, err := ch.QueueDeclare(
		queue.SendTopic,
		true,  // durable
		false, // delete when unused
		false, // exclusive
		false, // no-wait
		nil,   // arguments
	)
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to declare queue")
	}

	msgs, err := ch.Consume(
		q.Name,
		"",
		false, // autoAck = false for reliability
		false,
		false,
		false,
		nil,
	)
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to register consumer")
	}

	go func() {
		for d := range msgs {
			var task queue.SendTask
			if err := json.Unmarshal(d.Body, &task); err != nil {
				logger.Warn().Err(err).Msg("invalid task payload, dropping")
				d.Ack(false)
				continue
			}

			// Process returns nil for recorded outcomes (sent or failed);
			// only infrastructure errors trigger a retry, capped by the
			// retry-count header. A plain Nack would requeue with the
			// original headers, so the retry is republished instead.
			if err := worker.Process(ctx, task.RecipientID); err != nil {
				logger.Error().Err(err).Int("recipient_id", task.RecipientID).Msg("task processing error")

				retryCount := 0
				if v, ok := d.Headers["x-retry-count"].(int32); ok {
					retryCount = int(v)
				}
				if retryCount < maxInfraRetries {
					if err := republish(ch, q.Name, d.Body, int32(retryCount+1)); err != nil {
						logger.Error().Err(err).Msg("failed to republish task, leaving it queued")
						d.Nack(false, true)
						continue
					}
				} else {
					logger.Error().Int("recipient_id", task.RecipientID).Msg("task dropped after max retries; stale recovery will reclaim it")
				}
			}

			d.Ack(false)
		}
	}()

	logger.Info().Str("transport", cfg.MailTransport).Msg("worker running, waiting for tasks")
	<-ctx.Done()
	logger.Info().Msg("worker stopped")
}

func republish(ch *amqp.Channel, queueName string, body []byte, retryCount int32) error {
	return ch.Publish(
		"",
		queueName,
		false,
		false,
		amqp.Publishing{
			ContentType:  "application/json",
			DeliveryMode: amqp.Persistent,
			Body:         body,
			Headers:      amqp.Table{"x-retry-count": retryCount},
		},
	)
}

func buildTransport(ctx context.Context, cfg *config.Config, logger zerolog.Logger) (mailer.Transport, error) {
	var transport mailer.Transport
	switch cfg.MailTransport {
	case "ses":
		ses, err := mailer.NewSESTransport(ctx, cfg.AWSRegion, cfg.AWSAccessKey, cfg.AWSSecretKey)
		if err != nil {
			return nil, err
		}
		transport = ses
	default:
		logger.Info().Msg("using mock mail transport")
		transport = mailer.NewMockTransport(cfg.MockFailureRate)
	}
	return mailer.NewPaced(transport, cfg.SendRatePerSecond), nil
}
