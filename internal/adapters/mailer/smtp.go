package mailer

import (
	"context"
	"errors"
	"fmt"
	"mime"
	"mime/multipart"
	"net/smtp"
	"net/textproto"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"chat-digest-mailer/internal/domain"
	"chat-digest-mailer/internal/infra/metrics"
	"chat-digest-mailer/internal/usecase/digest"
)

// ErrNoRecipients возвращается, если у письма нет ни одного адресата.
var ErrNoRecipients = errors.New("у письма нет получателей")

// SMTPConfig задаёт параметры SMTP-сервера.
type SMTPConfig struct {
	Host     string
	Port     int
	Username string
	Password string
	From     string
}

// SMTPSender доставляет письма-дайджесты по SMTP.
type SMTPSender struct {
	cfg    SMTPConfig
	users  domain.UserRepo
	realms domain.RealmRepo
	log    zerolog.Logger
}

var _ domain.EmailSender = (*SMTPSender)(nil)

// NewSMTPSender создаёт отправителя.
func NewSMTPSender(cfg SMTPConfig, users domain.UserRepo, realms domain.RealmRepo, logger zerolog.Logger) *SMTPSender {
	return &SMTPSender{cfg: cfg, users: users, realms: realms, log: logger}
}

// Send рендерит контекст дайджеста и доставляет письмо получателям.
// Задержка отложенного письма выдерживается перед отправкой.
func (s *SMTPSender) Send(ctx context.Context, email domain.ScheduledEmail) error {
	if email.Delay > 0 {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(email.Delay):
		}
	}

	recipients, err := s.users.ListRecipients(email.ToUserIDs)
	if err != nil {
		return fmt.Errorf("получатели письма: %w", err)
	}
	if len(recipients) == 0 {
		return ErrNoRecipients
	}

	realm, err := s.realms.GetRealm(email.RealmID)
	if err != nil {
		return fmt.Errorf("получение организации: %w", err)
	}

	subject := fmt.Sprintf("Итоги недели в %s", realm.Name)
	addrs := make([]string, 0, len(recipients))
	for _, user := range recipients {
		addrs = append(addrs, user.Email)
	}

	msg, err := buildMessage(s.cfg.From, addrs, subject, email.Context)
	if err != nil {
		return fmt.Errorf("сборка письма: %w", err)
	}

	var auth smtp.Auth
	if s.cfg.Username != "" {
		auth = smtp.PlainAuth("", s.cfg.Username, s.cfg.Password, s.cfg.Host)
	}
	addr := fmt.Sprintf("%s:%d", s.cfg.Host, s.cfg.Port)

	start := time.Now()
	err = smtp.SendMail(addr, auth, s.cfg.From, addrs, msg)
	metrics.ObserveNetworkRequest("smtp", "send", s.cfg.Host, start, err)
	if err != nil {
		metrics.IncEmailSendError()
		return fmt.Errorf("отправка письма: %w", err)
	}
	metrics.IncEmailSent()
	s.log.Info().Strs("to", addrs).Str("template", email.Template).Msg("mailer: письмо отправлено")
	return nil
}

// buildMessage собирает multipart/alternative письмо с текстовой и HTML версиями.
func buildMessage(from string, to []string, subject string, ctx domain.DigestContext) ([]byte, error) {
	var builder strings.Builder
	writer := multipart.NewWriter(&builder)

	headers := []string{
		"From: " + from,
		"To: " + strings.Join(to, ", "),
		"Subject: " + mime.QEncoding.Encode("utf-8", subject),
		"MIME-Version: 1.0",
		"Content-Type: multipart/alternative; boundary=" + writer.Boundary(),
	}
	head := strings.Join(headers, "\r\n") + "\r\n\r\n"

	plainPart, err := writer.CreatePart(textproto.MIMEHeader{"Content-Type": {"text/plain; charset=utf-8"}})
	if err != nil {
		return nil, err
	}
	if _, err := plainPart.Write([]byte(digest.FormatDigestPlain(ctx))); err != nil {
		return nil, err
	}

	htmlPart, err := writer.CreatePart(textproto.MIMEHeader{"Content-Type": {"text/html; charset=utf-8"}})
	if err != nil {
		return nil, err
	}
	if _, err := htmlPart.Write([]byte(digest.FormatDigestHTML(ctx))); err != nil {
		return nil, err
	}

	if err := writer.Close(); err != nil {
		return nil, err
	}
	return []byte(head + builder.String()), nil
}
