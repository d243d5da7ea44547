package queue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"chat-digest-mailer/internal/domain"
)

// RedisDigestQueue реализует очередь задач дайджеста на базе Redis lists.
type RedisDigestQueue struct {
	client *redis.Client
	key    string
}

// NewRedisDigestQueue создаёт очередь по указанному ключу.
func NewRedisDigestQueue(client *redis.Client, key string) *RedisDigestQueue {
	return &RedisDigestQueue{client: client, key: key}
}

// Enqueue публикует задачу в очередь.
func (q *RedisDigestQueue) Enqueue(ctx context.Context, job domain.DigestJob) error {
	payload, err := json.Marshal(job)
	if err != nil {
		return fmt.Errorf("marshal job: %w", err)
	}
	if err := q.client.LPush(ctx, q.key, payload).Err(); err != nil {
		return fmt.Errorf("push job: %w", err)
	}
	return nil
}

// Pop блокирующе читает задачу из очереди.
func (q *RedisDigestQueue) Pop(ctx context.Context) (domain.DigestJob, error) {
	body, err := popRedis(ctx, q.client, q.key)
	if err != nil {
		return domain.DigestJob{}, err
	}
	var job domain.DigestJob
	if err := json.Unmarshal(body, &job); err != nil {
		return domain.DigestJob{}, fmt.Errorf("decode job: %w", err)
	}
	return job, nil
}

// RedisEmailQueue реализует очередь отложенных писем на базе Redis lists.
type RedisEmailQueue struct {
	client *redis.Client
	key    string
}

// NewRedisEmailQueue создаёт очередь по указанному ключу.
func NewRedisEmailQueue(client *redis.Client, key string) *RedisEmailQueue {
	return &RedisEmailQueue{client: client, key: key}
}

// Enqueue публикует письмо в очередь.
func (q *RedisEmailQueue) Enqueue(ctx context.Context, email domain.ScheduledEmail) error {
	payload, err := json.Marshal(email)
	if err != nil {
		return fmt.Errorf("marshal email: %w", err)
	}
	if err := q.client.LPush(ctx, q.key, payload).Err(); err != nil {
		return fmt.Errorf("push email: %w", err)
	}
	return nil
}

// Pop блокирующе читает письмо из очереди.
func (q *RedisEmailQueue) Pop(ctx context.Context) (domain.ScheduledEmail, error) {
	body, err := popRedis(ctx, q.client, q.key)
	if err != nil {
		return domain.ScheduledEmail{}, err
	}
	var email domain.ScheduledEmail
	if err := json.Unmarshal(body, &email); err != nil {
		return domain.ScheduledEmail{}, fmt.Errorf("decode email: %w", err)
	}
	return email, nil
}

func popRedis(ctx context.Context, client *redis.Client, key string) ([]byte, error) {
	for {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		res, err := client.BRPop(ctx, time.Second, key).Result()
		if err != nil {
			if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
				if ctx.Err() != nil {
					return nil, ctx.Err()
				}
				continue
			}
			if errors.Is(err, redis.Nil) {
				continue
			}
			return nil, err
		}
		if len(res) != 2 {
			return nil, errors.New("redis queue: unexpected response")
		}
		return []byte(res[1]), nil
	}
}
