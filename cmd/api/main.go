package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/josh-kwaku/supportdesk-payments/internal/app"
	"github.com/josh-kwaku/supportdesk-payments/internal/config"
	"github.com/josh-kwaku/supportdesk-payments/internal/handler"
	"github.com/josh-kwaku/supportdesk-payments/internal/logging"
	"github.com/josh-kwaku/supportdesk-payments/internal/middleware"
	"github.com/josh-kwaku/supportdesk-payments/internal/repository"
	"github.com/josh-kwaku/supportdesk-payments/migrations"
)

var version = "dev"

// idempotentBodyOverhead bounds what the idempotency middleware buffers. It sits
// above the proof limit so multipart uploads fit.
const idempotentBodyOverhead = 1 << 20

func main() {
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		slog.Warn("failed to load .env", "error", err)
	}

	cfg, err := config.Load()
	if err != nil {
		slog.Error("failed to load config", "error", err)
		os.Exit(1)
	}

	logger := logging.Init("payments-api", cfg.LogLevel, cfg.AppEnv)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	a, err := connect(ctx, cfg, logger)
	if err != nil {
		logger.Error("failed to build application", "error", err)
		os.Exit(1)
	}
	defer a.Close()

	if cfg.AutoMigrate {
		applied, err := repository.Migrate(ctx, a.DB, migrations.FS)
		if err != nil {
			logger.Error("failed to apply migrations", "error", err)
			os.Exit(1)
		}
		logger.Info("migrations applied", "count", len(applied))
	}

	var workers sync.WaitGroup
	workers.Add(2)
	go func() { defer workers.Done(); a.Sweeper.Start(ctx) }()
	go func() { defer workers.Done(); a.Retry.Start(ctx) }()

	addr := fmt.Sprintf(":%d", cfg.Port)
	srv := &http.Server{
		Addr:              addr,
		Handler:           routes(a, logger),
		ReadTimeout:       30 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       60 * time.Second,
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		logger.Info("server started", "addr", addr, "version", version)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("server error", "error", err)
			stop()
		}
	}()

	<-ctx.Done()

	logger.Info("shutting down server")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("server forced to shutdown", "error", err)
	}
	workers.Wait()
	logger.Info("server stopped")
}

// connect retries while the database comes up alongside the service.
func connect(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*app.App, error) {
	var err error
	for i := range 30 {
		var a *app.App
		if a, err = app.Build(ctx, cfg, logger); err == nil {
			return a, nil
		}
		logger.Info("waiting for dependencies", "attempt", i+1, "error", err)
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(time.Second):
		}
	}
	return nil, fmt.Errorf("connect: gave up after 30 attempts: %w", err)
}

func routes(a *app.App, logger *slog.Logger) http.Handler {
	cfg := a.Config

	payments := handler.NewPaymentHandler(a.Router, a.Approvals, a.Proofs, cfg.ProofMaxBytes)
	admin := handler.NewAdminHandler(a.Approvals, a.Records, a.Proofs)
	webhooks := handler.NewWebhookHandler(a.Confirmer)
	health := handler.NewHealthHandler(version, map[string]handler.Check{
		"dependencies": a.Ping,
	})

	authed := func(h http.HandlerFunc) http.Handler {
		return middleware.Chain(h, middleware.Auth(cfg.JWTSecret))
	}
	idempotent := func(h http.HandlerFunc) http.Handler {
		return middleware.Chain(h,
			middleware.Auth(cfg.JWTSecret),
			middleware.Idempotency(a.Idempotency, cfg.ProofMaxBytes+idempotentBodyOverhead),
		)
	}
	adminOnly := func(h http.HandlerFunc) http.Handler {
		return middleware.Chain(h, middleware.Auth(cfg.JWTSecret), middleware.RequireAdmin)
	}
	adminIdempotent := func(h http.HandlerFunc) http.Handler {
		return middleware.Chain(h,
			middleware.Auth(cfg.JWTSecret),
			middleware.RequireAdmin,
			middleware.Idempotency(a.Idempotency, idempotentBodyOverhead),
		)
	}

	mux := http.NewServeMux()
	mux.HandleFunc("GET /health", health.Liveness)
	mux.HandleFunc("GET /ready", health.Readiness)
	mux.Handle("GET /metrics", promhttp.Handler())

	mux.Handle("GET /api/v1/payment-instructions/{method}", authed(payments.Instructions))
	mux.Handle("POST /api/v1/payments", idempotent(payments.Create))
	mux.Handle("GET /api/v1/payments/{id}", authed(payments.Get))
	mux.Handle("POST /api/v1/payments/{id}/confirm", idempotent(payments.Confirm))

	mux.Handle("POST /api/v1/payments/{id}/approve", adminIdempotent(admin.Approve))
	mux.Handle("POST /api/v1/payments/{id}/reject", adminIdempotent(admin.Reject))
	mux.Handle("GET /api/v1/payments/{id}/events", adminOnly(admin.Events))
	mux.Handle("GET /api/v1/payments/{id}/proof", adminOnly(admin.Proof))

	mux.HandleFunc("POST /api/v1/webhooks/card", webhooks.ReceiveCardWebhook)

	return middleware.Chain(mux,
		middleware.Tracing,
		middleware.Logging(logger),
		middleware.Recovery,
	)
}
