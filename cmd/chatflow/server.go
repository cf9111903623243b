package main

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"chatflow/internal/constants"
	"chatflow/internal/httputil"
	"chatflow/internal/metrics"
	"chatflow/internal/middleware"
	"chatflow/internal/models"
	"chatflow/internal/service"
	"chatflow/internal/tracing"
	"chatflow/internal/validation"
	"chatflow/pkg/telegram"
	"chatflow/pkg/telegram/types"

	"github.com/gorilla/mux"
	"github.com/sirupsen/logrus"
)

const (
	webhookPath        = "/webhook/telegram"
	healthCheckTimeout = 2 * time.Second
	// Each chat may burst a handful of updates; sustained floods are dropped.
	chatUpdatesPerMinute = 30
	chatUpdateBurst      = 10
)

// EventHandler consumes normalized inbound events.
type EventHandler interface {
	HandleAsync(ev models.Event)
}

// HealthChecker reports whether the backing store is reachable.
type HealthChecker interface {
	Ping(ctx context.Context) error
}

type Server struct {
	router      *mux.Router
	server      *http.Server
	cfg         models.ServerConfig
	secret      string
	handler     EventHandler
	health      HealthChecker
	chatLimiter *middleware.KeyedLimiter
	logger      *logrus.Logger
	now         func() time.Time
}

func NewServer(cfg *models.Config, handler EventHandler, health HealthChecker, logger *logrus.Logger) *Server {
	s := &Server{
		router:      mux.NewRouter(),
		cfg:         cfg.Server,
		secret:      cfg.Telegram.WebhookSecret,
		handler:     handler,
		health:      health,
		chatLimiter: middleware.NewKeyedLimiter(chatUpdatesPerMinute, chatUpdateBurst, 0),
		logger:      logger,
		now:         time.Now,
	}
	if s.cfg.MaxRequestBodyByte <= 0 {
		s.cfg.MaxRequestBodyByte = constants.DefaultMaxRequestBodyBytes
	}

	clientLimiter := middleware.NewKeyedLimiter(cfg.RateLimit.RequestsPerMinute, cfg.RateLimit.Burst, 0)
	s.setupRoutes(clientLimiter)
	return s
}

func (s *Server) setupRoutes(clientLimiter *middleware.KeyedLimiter) {
	s.router.Use(middleware.ObservabilityMiddleware(s.logger, s.cfg.TrustProxy))

	s.router.HandleFunc("/health", s.handleHealth()).Methods(http.MethodGet)
	s.router.HandleFunc("/metrics", s.handleMetrics()).Methods(http.MethodGet)

	hook := s.router.PathPrefix(webhookPath).Subrouter()
	hook.Use(middleware.RateLimitMiddleware(clientLimiter, s.cfg.TrustProxy, s.logger))
	hook.Use(middleware.WebhookObservabilityMiddleware(s.logger, "telegram", s.cfg.TrustProxy))
	hook.Use(middleware.DetailedLoggingMiddleware(s.logger, middleware.DefaultDetailedLoggingConfig()))
	hook.HandleFunc("", s.handleTelegramWebhook()).Methods(http.MethodPost)
}

func (s *Server) Start() error {
	s.server = &http.Server{
		Addr:              fmt.Sprintf(":%d", s.cfg.Port),
		Handler:           s.router,
		ReadTimeout:       seconds(s.cfg.ReadTimeoutSec, constants.DefaultServerReadTimeoutSec),
		ReadHeaderTimeout: seconds(s.cfg.ReadTimeoutSec, constants.DefaultServerReadTimeoutSec),
		WriteTimeout:      seconds(s.cfg.WriteTimeoutSec, constants.DefaultServerWriteTimeoutSec),
		IdleTimeout:       seconds(s.cfg.IdleTimeoutSec, constants.DefaultServerIdleTimeoutSec),
	}

	s.logger.WithField("port", s.cfg.Port).Info("Starting HTTP server")
	if err := s.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return err
	}
	return nil
}

func (s *Server) Shutdown(ctx context.Context) error {
	if s.server == nil {
		return nil
	}
	return s.server.Shutdown(ctx)
}

func seconds(v, fallback int) time.Duration {
	if v <= 0 {
		v = fallback
	}
	return time.Duration(v) * time.Second
}

func (s *Server) handleHealth() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx, cancel := context.WithTimeout(r.Context(), healthCheckTimeout)
		defer cancel()

		status, body := http.StatusOK, map[string]string{"status": "ok"}
		if s.health != nil {
			if err := s.health.Ping(ctx); err != nil {
				s.logger.WithError(err).Warn("Health check failed")
				status, body = http.StatusServiceUnavailable, map[string]string{"status": "unhealthy", "database": "unreachable"}
			}
		}
		_ = httputil.WriteJSON(w, status, body)
	}
}

func (s *Server) handleMetrics() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Cache-Control", "no-cache, no-store, must-revalidate")
		w.Header().Set("Pragma", "no-cache")
		w.Header().Set("Expires", "0")

		if err := httputil.WriteJSON(w, http.StatusOK, metrics.GetSnapshot()); err != nil {
			info := tracing.GetRequestInfo(r.Context())
			s.logger.WithFields(logrus.Fields{
				service.LogFieldRequestID: info.RequestID,
				service.LogFieldTraceID:   info.TraceID,
			}).WithError(err).Error("Failed to encode metrics response")
		}
	}
}

// handleTelegramWebhook acknowledges every well-formed, authenticated update
// with 200 so Telegram does not redeliver it; processing is asynchronous.
func (s *Server) handleTelegramWebhook() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if err := verifyWebhookSecret(r, s.secret); err != nil {
			s.logger.WithError(err).Warn("Rejected webhook request")
			http.Error(w, "Unauthorized", http.StatusUnauthorized)
			return
		}

		if err := validation.ValidateHTTPRequestSize(r, s.cfg.MaxRequestBodyByte); err != nil {
			http.Error(w, "Request too large", http.StatusRequestEntityTooLarge)
			return
		}
		r.Body = http.MaxBytesReader(w, r.Body, s.cfg.MaxRequestBodyByte)

		var update types.Update
		if err := json.NewDecoder(r.Body).Decode(&update); err != nil {
			s.logger.WithError(err).Warn("Failed to decode Telegram update")
			http.Error(w, "Invalid update", http.StatusBadRequest)
			return
		}

		ev, ok := telegram.ToEvent(&update, s.now())
		if !ok {
			metrics.IncrementCounter("webhook_updates_ignored_total", nil, "Updates with nothing to handle")
			ack(w)
			return
		}

		if !s.chatLimiter.Allow(strconv.FormatInt(ev.ChatID, 10)) {
			metrics.IncrementCounter("rate_limited_total", map[string]string{"scope": "chat"}, "Requests rejected by the rate limiter")
			s.logger.WithFields(logrus.Fields{
				service.LogFieldChatID: service.SanitizeChatID(r.Context(), ev.ChatID),
				"update_id":            update.UpdateID,
			}).Warn("Dropping update from flooding chat")
			ack(w)
			return
		}

		s.handler.HandleAsync(ev)
		ack(w)
	}
}

func ack(w http.ResponseWriter) {
	_ = httputil.WriteJSON(w, http.StatusOK, map[string]bool{"ok": true})
}
