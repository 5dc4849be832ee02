package api

import (
	"context"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/goinginblind/scribe/internal/config"
	"github.com/goinginblind/scribe/internal/domain"
	"github.com/goinginblind/scribe/internal/pkg/logger"
	"github.com/goinginblind/scribe/internal/service"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// SettingsAdmin is what the admin surface and the webhook need from the
// settings service.
type SettingsAdmin interface {
	Current(ctx context.Context) (domain.Settings, error)
	UpdateSection(ctx context.Context, name string, raw []byte) (domain.Settings, error)
	WebhookSecret(ctx context.Context) (string, error)
}

// EventVerifier authenticates and normalizes a payment webhook.
type EventVerifier interface {
	Verify(payload []byte, signatureHeader, secret string) (domain.PaymentEvent, error)
}

// HealthReporter reports whether the order store is reachable.
type HealthReporter interface {
	IsHealthy() bool
}

// Options are the server knobs that don't come from the services.
type Options struct {
	HTTP       config.HTTPServerConfig
	AdminToken string
	// WebhookSecret overrides the secret kept in settings when set.
	WebhookSecret string
}

// Server is the HTTP server.
type Server struct {
	orders     service.OrderService
	settings   SettingsAdmin
	verifier   EventVerifier
	health     HealthReporter
	logger     logger.Logger
	opts       Options
	httpServer *http.Server
}

// NewServer creates a new Server. health may be nil when no database
// backs the store.
func NewServer(orders service.OrderService, settings SettingsAdmin, verifier EventVerifier, health HealthReporter, logger logger.Logger, opts Options) *Server {
	srv := &Server{
		orders:   orders,
		settings: settings,
		verifier: verifier,
		health:   health,
		logger:   logger,
		opts:     opts,
	}
	if opts.AdminToken == "" {
		logger.Warnw("No admin token configured, admin routes will refuse every request")
	}

	srv.httpServer = &http.Server{
		Handler:      srv.routes(),
		ReadTimeout:  opts.HTTP.ReadTimeout,
		WriteTimeout: opts.HTTP.WriteTimeout,
		IdleTimeout:  opts.HTTP.IdleTimeout,
	}
	return srv
}

func (s *Server) routes() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID, middleware.RealIP)
	r.Use(recoveryMiddleware(s.logger), metricsMiddleware)
	if s.opts.HTTP.MaxBodyBytes > 0 {
		r.Use(middleware.RequestSize(s.opts.HTTP.MaxBodyBytes))
	}

	r.Get("/healthz", s.healthz)
	r.Handle("/metrics", promhttp.Handler())

	r.Post("/orders", s.createOrder)
	r.Get("/orders/{id}", s.orderView)
	r.Post("/webhooks/payment", s.paymentWebhook)

	r.Route("/admin", func(r chi.Router) {
		r.Use(adminAuth(s.opts.AdminToken))
		r.Get("/orders", s.listOrders)
		r.Get("/orders/export", s.exportOrders)
		r.Get("/orders/{id}", s.adminOrder)
		r.Post("/orders/{id}/process", s.processOrder)
		r.Get("/stats", s.stats)
		r.Get("/settings", s.getSettings)
		r.Put("/settings/{section}", s.updateSettings)
	})
	return r
}

// Handler exposes the router, mostly for tests.
func (s *Server) Handler() http.Handler {
	return s.httpServer.Handler
}

// Start the server
func (s *Server) Start(addr string) error {
	s.httpServer.Addr = addr
	s.logger.Infow("Server listening", "addr", addr)
	if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return err
	}
	return nil
}

// Shutdown gracefully shuts down the server.
func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Infow("Shutting down server...")
	return s.httpServer.Shutdown(ctx)
}

func (s *Server) healthz(w http.ResponseWriter, r *http.Request) {
	if s.health != nil && !s.health.IsHealthy() {
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{"status": "unhealthy"})
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}
