package main

import (
	"context"
	"errors"
	"os/signal"
	"syscall"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/redis/go-redis/v9"

	"chat-digest-mailer/internal/adapters/mailer"
	"chat-digest-mailer/internal/adapters/repo"
	"chat-digest-mailer/internal/domain"
	"chat-digest-mailer/internal/infra/config"
	"chat-digest-mailer/internal/infra/db"
	"chat-digest-mailer/internal/infra/log"
	"chat-digest-mailer/internal/infra/metrics"
	"chat-digest-mailer/internal/infra/queue"
)

func main() {
	cfg := config.Load()
	logger := log.NewLogger(cfg.AppEnv)

	metrics.MustRegister(prometheus.DefaultRegisterer)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	pool, err := db.Connect(cfg.PGDSN)
	if err != nil {
		logger.Fatal().Err(err).Msg("mailer: нет подключения к БД")
	}
	defer pool.Close()

	repoAdapter := repo.NewPostgres(pool)

	var emails domain.EmailQueue
	if cfg.AMQPURL != "" {
		rabbit, err := queue.NewRabbit(cfg.AMQPURL)
		if err != nil {
			logger.Fatal().Err(err).Msg("mailer: нет подключения к RabbitMQ")
		}
		defer rabbit.Close()
		emails, err = queue.NewRabbitEmailQueue(rabbit, cfg.Queues.Email)
		if err != nil {
			logger.Fatal().Err(err).Msg("mailer: не удалось объявить очередь писем")
		}
	} else if cfg.RedisAddr != "" {
		redisClient := redis.NewClient(&redis.Options{Addr: cfg.RedisAddr})
		defer redisClient.Close()
		emails = queue.NewRedisEmailQueue(redisClient, cfg.Queues.Email)
	} else {
		logger.Fatal().Msg("mailer: не задан ни AMQP_URL, ни REDIS_ADDR")
	}

	sender := mailer.NewSMTPSender(mailer.SMTPConfig{
		Host:     cfg.SMTP.Host,
		Port:     cfg.SMTP.Port,
		Username: cfg.SMTP.Username,
		Password: cfg.SMTP.Password,
		From:     cfg.SMTP.From,
	}, repoAdapter, repoAdapter, logger)

	metrics.StartServer(ctx, logger.With().Str("component", "metrics").Logger(), ":9090")

	logger.Info().Msg("mailer: старт")
	for {
		email, err := emails.Pop(ctx)
		if err != nil {
			if errors.Is(err, context.Canceled) {
				logger.Info().Msg("mailer: остановка")
				return
			}
			logger.Error().Err(err).Msg("mailer: ошибка чтения очереди")
			continue
		}
		if err := sender.Send(ctx, email); err != nil {
			logger.Error().Err(err).Str("email", email.ID).Msg("mailer: не удалось отправить письмо")
		}
	}
}
