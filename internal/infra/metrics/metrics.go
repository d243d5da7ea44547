package metrics

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"
)

var (
	DigestEnqueuedTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "digest_enqueued_total",
		Help: "Количество поставленных в очередь задач на дайджест",
	})
	DigestSuppressedTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "digest_suppressed_total",
		Help: "Дайджесты, не отправленные из-за недостатка трафика",
	})
	DigestBuildSeconds = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "digest_build_seconds",
		Help:    "Время сборки контекста дайджеста",
		Buckets: prometheus.DefBuckets,
	}, []string{"status"})
	EmailsSentTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "digest_emails_sent_total",
		Help: "Количество отправленных писем-дайджестов",
	})
	EmailSendErrors = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "digest_email_send_errors_total",
		Help: "Ошибки отправки писем",
	})

	NetworkRequestDuration = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "network_request_duration_seconds",
		Help:    "Длительность сетевых запросов",
		Buckets: prometheus.DefBuckets,
	}, []string{"component", "operation", "target", "status"})

	NetworkRequestTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "network_request_total",
		Help: "Количество сетевых запросов",
	}, []string{"component", "operation", "target", "status"})
)

// MustRegister регистрирует метрики.
func MustRegister(registerer prometheus.Registerer) {
	registerer.MustRegister(
		DigestEnqueuedTotal,
		DigestSuppressedTotal,
		DigestBuildSeconds,
		EmailsSentTotal,
		EmailSendErrors,
		NetworkRequestDuration,
		NetworkRequestTotal,
	)
}

// StartServer запускает HTTP сервер с эндпоинтом /metrics.
func StartServer(ctx context.Context, logger zerolog.Logger, addr string) {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	srv := &http.Server{
		Addr:         addr,
		Handler:      mux,
		ReadTimeout:  5 * time.Second,
		WriteTimeout: 5 * time.Second,
	}

	go func() {
		<-ctx.Done()
		shutdownTimeout, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownTimeout); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error().Err(err).Msg("metrics: graceful shutdown failed")
		}
	}()

	go func() {
		logger.Info().Str("addr", addr).Msg("metrics: server started")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error().Err(err).Msg("metrics: server stopped")
		}
	}()
}

// ObserveNetworkRequest записывает длительность и статус сетевого запроса.
func ObserveNetworkRequest(component, operation, target string, start time.Time, err error) {
	if component == "" {
		component = "unknown"
	}
	if operation == "" {
		operation = "unknown"
	}
	if target == "" {
		target = "unknown"
	}
	status := "success"
	if err != nil {
		status = "error"
	}
	duration := time.Since(start).Seconds()
	NetworkRequestDuration.WithLabelValues(component, operation, target, status).Observe(duration)
	NetworkRequestTotal.WithLabelValues(component, operation, target, status).Inc()
}

// IncDigestEnqueued увеличивает счётчик поставленных задач.
func IncDigestEnqueued() {
	DigestEnqueuedTotal.Inc()
}

// IncDigestSuppressed увеличивает счётчик подавленных дайджестов.
func IncDigestSuppressed() {
	DigestSuppressedTotal.Inc()
}

// ObserveDigestBuild записывает время сборки контекста.
func ObserveDigestBuild(start time.Time, err error) {
	status := "success"
	if err != nil {
		status = "error"
	}
	DigestBuildSeconds.WithLabelValues(status).Observe(time.Since(start).Seconds())
}

// IncEmailSent увеличивает счётчик отправленных писем.
func IncEmailSent() {
	EmailsSentTotal.Inc()
}

// IncEmailSendError увеличивает счётчик ошибок отправки.
func IncEmailSendError() {
	EmailSendErrors.Inc()
}
