package main

import (
	"context"
	"errors"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/redis/go-redis/v9"

	"chat-digest-mailer/internal/adapters/repo"
	"chat-digest-mailer/internal/domain"
	"chat-digest-mailer/internal/infra/config"
	"chat-digest-mailer/internal/infra/db"
	"chat-digest-mailer/internal/infra/log"
	"chat-digest-mailer/internal/infra/metrics"
	"chat-digest-mailer/internal/infra/queue"
	"chat-digest-mailer/internal/usecase/digest"
)

func main() {
	cfg := config.Load()
	logger := log.NewLogger(cfg.AppEnv)

	metrics.MustRegister(prometheus.DefaultRegisterer)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	pool, err := db.Connect(cfg.PGDSN)
	if err != nil {
		logger.Fatal().Err(err).Msg("worker: нет подключения к БД")
	}
	defer pool.Close()

	repoAdapter := repo.NewPostgres(pool)

	var (
		jobs   domain.DigestQueue
		emails domain.EmailQueue
	)
	if cfg.AMQPURL != "" {
		rabbit, err := queue.NewRabbit(cfg.AMQPURL)
		if err != nil {
			logger.Fatal().Err(err).Msg("worker: нет подключения к RabbitMQ")
		}
		defer rabbit.Close()
		jobs, err = queue.NewRabbitDigestQueue(rabbit, cfg.Queues.Digest)
		if err != nil {
			logger.Fatal().Err(err).Msg("worker: не удалось объявить очередь задач")
		}
		emails, err = queue.NewRabbitEmailQueue(rabbit, cfg.Queues.Email)
		if err != nil {
			logger.Fatal().Err(err).Msg("worker: не удалось объявить очередь писем")
		}
	} else if cfg.RedisAddr != "" {
		redisClient := redis.NewClient(&redis.Options{Addr: cfg.RedisAddr})
		defer redisClient.Close()
		jobs = queue.NewRedisDigestQueue(redisClient, cfg.Queues.Digest)
		emails = queue.NewRedisEmailQueue(redisClient, cfg.Queues.Email)
	} else {
		logger.Fatal().Msg("worker: не задан ни AMQP_URL, ни REDIS_ADDR")
	}

	service := digest.NewService(repoAdapter, repoAdapter, repoAdapter, repoAdapter, repoAdapter, repoAdapter, repoAdapter, jobs, emails, nil, logger, digest.Config{
		Enabled:          cfg.Digest.Enabled,
		Weekday:          time.Weekday(cfg.Digest.Weekday),
		MaxConversations: cfg.Digest.MaxConversations,
		TeaserMessages:   cfg.Digest.TeaserMessages,
		ExternalScheme:   cfg.Digest.ExternalScheme,
	})

	metrics.StartServer(ctx, logger.With().Str("component", "metrics").Logger(), ":9090")

	logger.Info().Msg("worker: старт")
	for {
		job, err := jobs.Pop(ctx)
		if err != nil {
			if errors.Is(err, context.Canceled) {
				logger.Info().Msg("worker: остановка")
				return
			}
			logger.Error().Err(err).Msg("worker: ошибка чтения очереди")
			continue
		}
		if err := service.HandleDigest(ctx, job.UserID, job.Cutoff); err != nil {
			logger.Error().Err(err).Int64("user", job.UserID).Str("job", job.ID).Msg("worker: не удалось обработать дайджест")
		}
	}
}
