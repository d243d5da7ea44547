package config

import (
	"log"

	"github.com/kelseyhightower/envconfig"
)

// AppConfig описывает конфигурацию сервисов.
type AppConfig struct {
	AppEnv string `envconfig:"APP_ENV" default:"dev"`
	TZ     string `envconfig:"TZ" default:"UTC"`
	Port   int    `envconfig:"PORT" default:"8080"`

	PGDSN string `envconfig:"PG_DSN"`

	RedisAddr string `envconfig:"REDIS_ADDR"`
	AMQPURL   string `envconfig:"AMQP_URL"`

	Digest struct {
		Enabled bool `envconfig:"SEND_DIGEST_EMAILS" default:"false"`
		// Weekday — день недели отправки, 0 = воскресенье, 2 = вторник.
		Weekday          int    `envconfig:"DIGEST_WEEKDAY" default:"2"`
		MaxConversations int    `envconfig:"DIGEST_MAX_CONVERSATIONS" default:"4"`
		TeaserMessages   int    `envconfig:"DIGEST_TEASER_MESSAGES" default:"2"`
		ExternalScheme   string `envconfig:"EXTERNAL_URL_SCHEME" default:"https"`
	} `envconfig:""`

	SMTP struct {
		Host     string `envconfig:"SMTP_HOST" default:"localhost"`
		Port     int    `envconfig:"SMTP_PORT" default:"25"`
		Username string `envconfig:"SMTP_USERNAME"`
		Password string `envconfig:"SMTP_PASSWORD"`
		From     string `envconfig:"SMTP_FROM" default:"digest@localhost"`
	} `envconfig:""`

	Queues struct {
		Digest string `envconfig:"DIGEST_QUEUE_KEY" default:"digest_emails"`
		Email  string `envconfig:"EMAIL_QUEUE_KEY" default:"scheduled_emails"`
	} `envconfig:""`
}

// Load загружает конфиг из окружения.
func Load() AppConfig {
	var cfg AppConfig
	if err := envconfig.Process("", &cfg); err != nil {
		log.Fatalf("не удалось загрузить конфиг: %v", err)
	}
	return cfg
}
