// Package server sets up the HTTP server, router, and all route definitions.
//
// This package is the composition root: New builds every dependency from a
// config.Config and wires handlers to routes, so main stays minimal.
//
// DEPENDENCY INJECTION FLOW:
//
//	config.Config → sqlite.DB → identity.Local / identity.AdminClient
//	              → referral.Generator / referral.Resolver
//	              → service.SignupService / LoginService / ResetService
//	              → handler.AccountHandler / ReferralHandler / AdminHandler
//	              → service.Reconciler (background, started by Start)
package server

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"

	"github.com/sakif/storefront-auth/internal/auth"
	"github.com/sakif/storefront-auth/internal/config"
	"github.com/sakif/storefront-auth/internal/guard"
	"github.com/sakif/storefront-auth/internal/handler"
	"github.com/sakif/storefront-auth/internal/identity"
	"github.com/sakif/storefront-auth/internal/metrics"
	"github.com/sakif/storefront-auth/internal/middleware"
	"github.com/sakif/storefront-auth/internal/referral"
	sqliteRepo "github.com/sakif/storefront-auth/internal/repository/sqlite"
	"github.com/sakif/storefront-auth/internal/service"
)

// serviceTokenTTL is the lifetime of the credentials AdminClient presents.
const serviceTokenTTL = 5 * time.Minute

// Server represents the HTTP server and all its dependencies.
//
// The Server owns the database connection and, when configured, the Redis
// client. Both are closed in Close.
type Server struct {
	router   *chi.Mux
	config   config.Config
	logger   *slog.Logger
	db       *sqliteRepo.DB
	redis    *redis.Client
	registry *prometheus.Registry

	reconciler *service.Reconciler
}

// New opens the database and wires every route.
func New(cfg config.Config, logger *slog.Logger) (*Server, error) {
	// === CREATE DATABASE ===
	db, err := sqliteRepo.New(cfg.DBPath)
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}

	s := &Server{
		router:   chi.NewRouter(),
		config:   cfg,
		logger:   logger,
		db:       db,
		registry: prometheus.NewRegistry(),
	}

	if err := s.setupRoutes(); err != nil {
		s.Close()
		return nil, fmt.Errorf("setting up routes: %w", err)
	}

	return s, nil
}

// Handler returns the root handler. Tests serve it with httptest.
func (s *Server) Handler() http.Handler {
	return s.router
}

// setupRoutes builds the dependency graph and registers routes.
//
// ROUTE STRUCTURE:
// POST   /api/signup                   → Signup saga
// POST   /api/login                    → Login
// POST   /api/password/forgot          → Start password reset
// POST   /api/password/reset           → Finish password reset
// GET    /api/referrals/{code}         → Check a referral code
// POST   /internal/accounts/rollback   → Delete a profile-less account (service token)
// GET    /healthz                      → Database ping
// GET    /metrics                      → Prometheus
func (s *Server) setupRoutes() error {
	// === Global Middleware ===
	s.router.Use(chimiddleware.RequestID)
	s.router.Use(chimiddleware.RealIP)
	s.router.Use(chimiddleware.Recoverer)
	s.router.Use(middleware.Logger(s.logger))

	// === Metrics ===
	s.registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	m := metrics.New(s.registry)

	// === Credentials ===
	tokens, err := auth.NewTokenService(s.config.TokenSecret)
	if err != nil {
		return fmt.Errorf("creating token service: %w", err)
	}
	passwords := auth.NewPasswordService()

	// === Identity ===
	local := identity.NewLocal(s.db, passwords)

	var admin identity.Admin = local
	if s.config.AdminEndpointURL != "" {
		creds := auth.NewServiceTokenSource(tokens, s.config.ServiceName, auth.AudienceAccountAdmin, serviceTokenTTL)
		admin = identity.NewAdminClient(identity.AdminClientConfig{
			BaseURL:    s.config.AdminEndpointURL,
			Timeout:    s.config.StepTimeout,
			MaxRetries: 3,
		}, creds)
		s.logger.Info("account rollbacks go to remote endpoint", slog.String("url", s.config.AdminEndpointURL))
	}

	// === Submission guard ===
	var submissions guard.Guard = guard.NewMemoryGuard()
	if s.config.RedisAddr != "" {
		s.redis = redis.NewClient(&redis.Options{
			Addr:     s.config.RedisAddr,
			Password: s.config.RedisPassword,
		})
		submissions = guard.NewRedisGuard(s.redis, s.logger)
		s.logger.Info("submission guard backed by redis", slog.String("addr", s.config.RedisAddr))
	}

	// === Services ===
	codes := referral.NewGenerator(s.db, referral.DefaultPolicy(), m, s.logger)
	referrals := referral.NewResolver(s.db, s.logger)

	signupCfg := service.DefaultSignupConfig()
	signupCfg.StepTimeout = s.config.StepTimeout
	signupCfg.RollbackTimeout = s.config.RollbackTimeout
	signupCfg.MinPasswordLength = s.config.MinPasswordLength
	signupCfg.DuplicatePrecheck = s.config.DuplicatePrecheck

	signupService := service.NewSignupService(service.SignupDeps{
		Profiles:  s.db,
		Orphans:   s.db,
		Identity:  local,
		Admin:     admin,
		Codes:     codes,
		Referrals: referrals,
		Guard:     submissions,
		Metrics:   m,
		Logger:    s.logger,
	}, signupCfg)
	loginService := service.NewLoginService(local, s.db, m, s.logger, s.config.StepTimeout)
	resetService := service.NewResetService(
		local,
		tokens,
		service.LogNotifier{Logger: s.logger},
		s.logger,
		s.config.MinPasswordLength,
		s.config.StepTimeout,
	)
	accountAdmin := service.NewAccountAdminService(s.db, local, s.logger)
	s.reconciler = service.NewReconciler(
		s.db,
		s.db,
		admin,
		m,
		s.logger,
		s.config.ReconcileInterval,
		s.config.RollbackTimeout,
	)

	// === Handlers ===
	accountHandler := handler.NewAccountHandler(signupService, loginService, resetService, s.logger)
	referralHandler := handler.NewReferralHandler(referrals, s.logger)
	adminHandler := handler.NewAdminHandler(accountAdmin, s.logger)
	healthHandler := handler.NewHealthHandler(s.db, s.logger)

	s.router.Route("/api", func(r chi.Router) {
		r.Post("/signup", accountHandler.HandleSignup)
		r.Post("/login", accountHandler.HandleLogin)
		r.Post("/password/forgot", accountHandler.HandleForgotPassword)
		r.Post("/password/reset", accountHandler.HandleResetPassword)
		r.Get("/referrals/{code}", referralHandler.HandleCheck)
	})

	s.router.Route("/internal", func(r chi.Router) {
		r.Use(auth.RequireServiceToken(tokens, auth.AudienceAccountAdmin))
		r.Post("/accounts/rollback", adminHandler.HandleRollback)
	})

	s.router.Get("/healthz", healthHandler.HandleHealth)
	s.router.Handle("/metrics", promhttp.HandlerFor(s.registry, promhttp.HandlerOpts{}))

	return nil
}

// Close releases the database and Redis connections.
func (s *Server) Close() error {
	if s.redis != nil {
		if err := s.redis.Close(); err != nil {
			s.logger.Warn("closing redis client", slog.String("error", err.Error()))
		}
	}
	return s.db.Close()
}

// Start serves until SIGINT or SIGTERM, then shuts down gracefully:
// stop accepting connections, wait up to 30s for in-flight requests (a
// signup may be mid-rollback), stop the reconciler, then close the database.
func (s *Server) Start() error {
	defer s.Close()

	s.reconciler.Start()
	defer s.reconciler.Stop()

	srv := &http.Server{
		Addr:         fmt.Sprintf(":%d", s.config.Port),
		Handler:      s.router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 60 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	serverErrors := make(chan error, 1)

	go func() {
		s.logger.Info("server starting",
			slog.Int("port", s.config.Port),
			slog.String("url", fmt.Sprintf("http://localhost:%d", s.config.Port)),
			slog.String("database", s.config.DBPath),
		)
		serverErrors <- srv.ListenAndServe()
	}()

	select {
	case err := <-serverErrors:
		if err != http.ErrServerClosed {
			return fmt.Errorf("server error: %w", err)
		}

	case sig := <-quit:
		s.logger.Info("shutdown signal received", slog.String("signal", sig.String()))

		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()

		if err := srv.Shutdown(ctx); err != nil {
			return fmt.Errorf("graceful shutdown failed: %w", err)
		}
		s.logger.Info("server stopped gracefully")
	}

	return nil
}
