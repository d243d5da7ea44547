package main

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"chat-digest-mailer/internal/adapters/repo"
	"chat-digest-mailer/internal/infra/config"
	"chat-digest-mailer/internal/infra/db"
	httpinfra "chat-digest-mailer/internal/infra/http"
	"chat-digest-mailer/internal/infra/log"
	"chat-digest-mailer/internal/infra/metrics"
	"chat-digest-mailer/internal/usecase/digest"
)

const previewWindow = 24 * time.Hour

func main() {
	cfg := config.Load()
	logger := log.NewLogger(cfg.AppEnv)

	metrics.MustRegister(prometheus.DefaultRegisterer)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	pool, err := db.Connect(cfg.PGDSN)
	if err != nil {
		logger.Fatal().Err(err).Msg("api: нет подключения к БД")
	}
	defer pool.Close()

	repoAdapter := repo.NewPostgres(pool)
	service := digest.NewService(repoAdapter, repoAdapter, repoAdapter, repoAdapter, repoAdapter, nil, repoAdapter, nil, nil, nil, logger, digest.Config{
		Enabled:          cfg.Digest.Enabled,
		Weekday:          time.Weekday(cfg.Digest.Weekday),
		MaxConversations: cfg.Digest.MaxConversations,
		TeaserMessages:   cfg.Digest.TeaserMessages,
		ExternalScheme:   cfg.Digest.ExternalScheme,
	})

	server := httpinfra.NewServer(logger)

	// Просмотр содержимого дайджеста в браузере.
	server.Router.Get("/digest", func(w http.ResponseWriter, r *http.Request) {
		userID, err := strconv.ParseInt(r.URL.Query().Get("user_id"), 10, 64)
		if err != nil {
			http.Error(w, "user_id обязателен", http.StatusBadRequest)
			return
		}
		digestCtx, _, err := service.BuildContext(userID, time.Now().UTC().Add(-previewWindow))
		if err != nil {
			logger.Error().Err(err).Int64("user", userID).Msg("api: не удалось собрать дайджест")
			http.Error(w, "не удалось собрать дайджест", http.StatusInternalServerError)
			return
		}
		body := digest.FormatDigestHTML(digestCtx)
		if body == "" {
			body = "Пока ничего нового — загляните позже."
		}
		w.Header().Set("Content-Type", "text/html; charset=utf-8")
		_, _ = fmt.Fprintf(w, "<html><body>%s</body></html>", body)
	})

	server.Router.Get("/api/v1/digest/preview", func(w http.ResponseWriter, r *http.Request) {
		userID, err := strconv.ParseInt(r.URL.Query().Get("user_id"), 10, 64)
		if err != nil {
			writeError(w, http.StatusBadRequest, "user_id обязателен")
			return
		}
		digestCtx, _, err := service.BuildContext(userID, time.Now().UTC().Add(-previewWindow))
		if err != nil {
			logger.Error().Err(err).Int64("user", userID).Msg("api: не удалось собрать дайджест")
			writeError(w, http.StatusInternalServerError, "не удалось собрать дайджест")
			return
		}
		writeJSON(w, digestCtx)
	})

	go func() {
		if err := server.Start(fmt.Sprintf(":%d", cfg.Port)); err != nil && err != http.ErrServerClosed {
			logger.Error().Err(err).Msg("api: сервер остановлен")
		}
	}()

	<-ctx.Done()
	logger.Info().Msg("api: остановка")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	_ = server.Shutdown(shutdownCtx)
}

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(map[string]any{"error": msg})
}
