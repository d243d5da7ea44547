package queue

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"

	"chat-digest-mailer/internal/domain"
	"chat-digest-mailer/internal/infra/metrics"
)

const defaultPollInterval = time.Second

// Rabbit держит соединение и канал AMQP, общие для очередей.
type Rabbit struct {
	conn *amqp.Connection
	ch   *amqp.Channel
}

// NewRabbit подключается к брокеру по AMQP URL.
func NewRabbit(url string) (*Rabbit, error) {
	conn, err := amqp.Dial(url)
	if err != nil {
		return nil, fmt.Errorf("amqp dial: %w", err)
	}
	ch, err := conn.Channel()
	if err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("amqp channel: %w", err)
	}
	return &Rabbit{conn: conn, ch: ch}, nil
}

// Close закрывает канал и соединение.
func (r *Rabbit) Close() error {
	if err := r.ch.Close(); err != nil {
		_ = r.conn.Close()
		return err
	}
	return r.conn.Close()
}

func (r *Rabbit) declare(queue string) error {
	_, err := r.ch.QueueDeclare(queue, true, false, false, false, nil)
	if err != nil {
		return fmt.Errorf("declare queue %s: %w", queue, err)
	}
	return nil
}

func (r *Rabbit) publish(ctx context.Context, queue string, payload []byte) error {
	start := time.Now()
	err := r.ch.PublishWithContext(ctx, "", queue, false, false, amqp.Publishing{
		ContentType:  "application/json",
		DeliveryMode: amqp.Persistent,
		Body:         payload,
	})
	metrics.ObserveNetworkRequest("rabbitmq", "publish", queue, start, err)
	if err != nil {
		return fmt.Errorf("publish: %w", err)
	}
	return nil
}

// pop блокирующе читает одно сообщение, опрашивая очередь с интервалом.
func (r *Rabbit) pop(ctx context.Context, queue string, pollInterval time.Duration) ([]byte, error) {
	if pollInterval <= 0 {
		pollInterval = defaultPollInterval
	}
	for {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		start := time.Now()
		msg, ok, err := r.ch.Get(queue, true)
		metrics.ObserveNetworkRequest("rabbitmq", "get", queue, start, err)
		if err != nil {
			return nil, fmt.Errorf("get: %w", err)
		}
		if !ok {
			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			case <-time.After(pollInterval):
			}
			continue
		}
		return msg.Body, nil
	}
}

// RabbitDigestQueue реализует очередь задач дайджеста поверх AMQP.
type RabbitDigestQueue struct {
	rabbit       *Rabbit
	queue        string
	pollInterval time.Duration
}

// NewRabbitDigestQueue объявляет очередь и возвращает адаптер.
func NewRabbitDigestQueue(rabbit *Rabbit, queue string) (*RabbitDigestQueue, error) {
	if err := rabbit.declare(queue); err != nil {
		return nil, err
	}
	return &RabbitDigestQueue{rabbit: rabbit, queue: queue, pollInterval: defaultPollInterval}, nil
}

// Enqueue публикует задачу в очередь.
func (q *RabbitDigestQueue) Enqueue(ctx context.Context, job domain.DigestJob) error {
	payload, err := json.Marshal(job)
	if err != nil {
		return fmt.Errorf("marshal job: %w", err)
	}
	return q.rabbit.publish(ctx, q.queue, payload)
}

// Pop блокирующе читает задачу из очереди.
func (q *RabbitDigestQueue) Pop(ctx context.Context) (domain.DigestJob, error) {
	body, err := q.rabbit.pop(ctx, q.queue, q.pollInterval)
	if err != nil {
		return domain.DigestJob{}, err
	}
	var job domain.DigestJob
	if err := json.Unmarshal(body, &job); err != nil {
		return domain.DigestJob{}, fmt.Errorf("decode job: %w", err)
	}
	return job, nil
}

// RabbitEmailQueue реализует очередь отложенных писем поверх AMQP.
type RabbitEmailQueue struct {
	rabbit       *Rabbit
	queue        string
	pollInterval time.Duration
}

// NewRabbitEmailQueue объявляет очередь и возвращает адаптер.
func NewRabbitEmailQueue(rabbit *Rabbit, queue string) (*RabbitEmailQueue, error) {
	if err := rabbit.declare(queue); err != nil {
		return nil, err
	}
	return &RabbitEmailQueue{rabbit: rabbit, queue: queue, pollInterval: defaultPollInterval}, nil
}

// Enqueue публикует письмо в очередь.
func (q *RabbitEmailQueue) Enqueue(ctx context.Context, email domain.ScheduledEmail) error {
	payload, err := json.Marshal(email)
	if err != nil {
		return fmt.Errorf("marshal email: %w", err)
	}
	return q.rabbit.publish(ctx, q.queue, payload)
}

// Pop блокирующе читает письмо из очереди.
func (q *RabbitEmailQueue) Pop(ctx context.Context) (domain.ScheduledEmail, error) {
	body, err := q.rabbit.pop(ctx, q.queue, q.pollInterval)
	if err != nil {
		return domain.ScheduledEmail{}, err
	}
	var email domain.ScheduledEmail
	if err := json.Unmarshal(body, &email); err != nil {
		return domain.ScheduledEmail{}, fmt.Errorf("decode email: %w", err)
	}
	return email, nil
}
