package api

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"

	"sanskrit-enrollment/internal/domain/ports/adapter"
	"sanskrit-enrollment/internal/usecase"
)

const maxBodyBytes = 1 << 20

type Options struct {
	Port            int
	ReadTimeout     time.Duration
	WriteTimeout    time.Duration
	RequestTimeout  time.Duration
	VerifyPerMinute int
}

// HealthCheck reports whether a dependency (database, redis) is reachable.
type HealthCheck func(ctx context.Context) error

type Server struct {
	opts     Options
	payments usecase.PaymentUseCase
	webhooks usecase.WebhookUseCase
	access   usecase.AccessUseCase
	subs     usecase.SubscriptionUseCase
	auth     *AuthManager
	limiter  adapter.RateLimiter
	checks   map[string]HealthCheck
	log      *zerolog.Logger

	server *http.Server
}

// NewServer wires the HTTP edge. limiter may be nil, which disables the
// verify rate limit.
func NewServer(
	opts Options,
	payments usecase.PaymentUseCase,
	webhooks usecase.WebhookUseCase,
	access usecase.AccessUseCase,
	subs usecase.SubscriptionUseCase,
	auth *AuthManager,
	limiter adapter.RateLimiter,
	checks map[string]HealthCheck,
	logger *zerolog.Logger,
) *Server {
	l := logger.With().Str("component", "http").Logger()
	return &Server{
		opts:     opts,
		payments: payments,
		webhooks: webhooks,
		access:   access,
		subs:     subs,
		auth:     auth,
		limiter:  limiter,
		checks:   checks,
		log:      &l,
	}
}

// Router builds the full route tree. It is exported so tests can drive it
// with httptest.
func (s *Server) Router() http.Handler {
	r := chi.NewRouter()
	r.Use(TraceID(s.log), RequestLog(s.log), Recover(s.log), Timeout(s.opts.RequestTimeout))

	r.Get("/health", s.handleHealth)
	r.Handle("/metrics", promhttp.Handler())

	r.Route("/api/v1", func(r chi.Router) {
		// authenticated by signature, not by bearer token
		r.Post("/payments/webhook", s.handleWebhook)

		r.Group(func(r chi.Router) {
			r.Use(Authenticate(s.auth, s.log))

			r.Post("/payments/create-order", s.handleCreateOrder)
			r.Post("/payments/verify", s.handleVerify)
			r.Get("/payments/{id}/status", s.handleStatus)
			r.Post("/payments/{id}/refund", s.handleRefund)

			r.Post("/enrollments/{courseId}/access", s.handleCheckAccess)
			r.Get("/enrollments/{courseId}/devices", s.handleListDevices)
			r.Post("/enrollments/{courseId}/devices", s.handleRegisterDevice)
			r.Delete("/enrollments/{courseId}/devices/{deviceId}", s.handleDeactivateDevice)
			r.Post("/enrollments/{courseId}/subscription/cancel", s.handleCancelSubscription)
		})
	})
	return r
}

func (s *Server) Start() error {
	s.server = &http.Server{
		Addr:              fmt.Sprintf(":%d", s.opts.Port),
		Handler:           s.Router(),
		ReadTimeout:       s.opts.ReadTimeout,
		ReadHeaderTimeout: 5 * time.Second,
		WriteTimeout:      s.opts.WriteTimeout,
	}

	s.log.Info().Int("port", s.opts.Port).Msg("HTTP server listening")
	if err := s.server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
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

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	status := http.StatusOK
	out := map[string]string{}
	for name, check := range s.checks {
		if err := check(r.Context()); err != nil {
			s.log.Warn().Err(err).Str("check", name).Msg("health check failed")
			out[name] = "down"
			status = http.StatusServiceUnavailable
			continue
		}
		out[name] = "ok"
	}
	writeJSON(w, status, map[string]any{"status": http.StatusText(status), "checks": out})
}
