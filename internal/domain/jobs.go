package domain

import (
	"context"
	"time"
)

// DigestJob содержит информацию о задаче построения дайджеста одного пользователя.
type DigestJob struct {
	ID          string    `json:"job_id,omitempty"`
	UserID      int64     `json:"user_id"`
	RealmID     int64     `json:"realm_id"`
	Cutoff      time.Time `json:"cutoff"`
	RequestedAt time.Time `json:"requested_at"`
}

// DigestQueue описывает очередь задач на построение дайджестов.
type DigestQueue interface {
	Enqueue(ctx context.Context, job DigestJob) error
	Pop(ctx context.Context) (DigestJob, error)
}

// ScheduledEmail — отложенное письмо для внешней очереди отправки.
type ScheduledEmail struct {
	ID        string        `json:"email_id,omitempty"`
	Template  string        `json:"template"`
	RealmID   int64         `json:"realm_id"`
	ToUserIDs []int64       `json:"to_user_ids"`
	Context   DigestContext `json:"context"`
	Delay     time.Duration `json:"delay,omitempty"`
}

// EmailQueue описывает очередь отложенных писем.
type EmailQueue interface {
	Enqueue(ctx context.Context, email ScheduledEmail) error
	Pop(ctx context.Context) (ScheduledEmail, error)
}

// EmailSender доставляет отложенное письмо получателям.
type EmailSender interface {
	Send(ctx context.Context, email ScheduledEmail) error
}
