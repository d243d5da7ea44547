package main

import (
	"context"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/redis/go-redis/v9"

	"chat-digest-mailer/internal/adapters/repo"
	"chat-digest-mailer/internal/domain"
	"chat-digest-mailer/internal/infra/cache"
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
		logger.Fatal().Err(err).Msg("scheduler: нет подключения к БД")
	}
	defer pool.Close()

	repoAdapter := repo.NewPostgres(pool)

	var (
		jobs       domain.DigestQueue
		enqueueTTL domain.Cache
	)
	if cfg.AMQPURL != "" {
		rabbit, err := queue.NewRabbit(cfg.AMQPURL)
		if err != nil {
			logger.Fatal().Err(err).Msg("scheduler: нет подключения к RabbitMQ")
		}
		defer rabbit.Close()
		jobs, err = queue.NewRabbitDigestQueue(rabbit, cfg.Queues.Digest)
		if err != nil {
			logger.Fatal().Err(err).Msg("scheduler: не удалось объявить очередь")
		}
	}

	if cfg.RedisAddr != "" {
		redisClient := redis.NewClient(&redis.Options{Addr: cfg.RedisAddr})
		defer redisClient.Close()
		enqueueTTL = cache.NewRedis(redisClient)
		if jobs == nil {
			jobs = queue.NewRedisDigestQueue(redisClient, cfg.Queues.Digest)
		}
	}
	if jobs == nil {
		logger.Fatal().Msg("scheduler: не задан ни AMQP_URL, ни REDIS_ADDR")
	}

	service := digest.NewService(repoAdapter, repoAdapter, repoAdapter, repoAdapter, repoAdapter, repoAdapter, repoAdapter, jobs, nil, enqueueTTL, logger, digest.Config{
		Enabled:          cfg.Digest.Enabled,
		Weekday:          time.Weekday(cfg.Digest.Weekday),
		MaxConversations: cfg.Digest.MaxConversations,
		TeaserMessages:   cfg.Digest.TeaserMessages,
		ExternalScheme:   cfg.Digest.ExternalScheme,
	})

	metrics.StartServer(ctx, logger.With().Str("component", "metrics").Logger(), ":9090")

	ticker := time.NewTicker(time.Hour)
	defer ticker.Stop()

	logger.Info().Msg("scheduler: старт")
	for {
		cutoff := time.Now().UTC().Truncate(24 * time.Hour)
		enqueued, err := service.EnqueueDigests(ctx, cutoff)
		if err != nil {
			logger.Error().Err(err).Msg("scheduler: ошибка постановки задач")
		} else if enqueued > 0 {
			logger.Info().Int("enqueued", enqueued).Time("cutoff", cutoff).Msg("scheduler: задачи поставлены")
		}

		select {
		case <-ctx.Done():
			logger.Info().Msg("scheduler: остановка")
			return
		case <-ticker.C:
		}
	}
}
