package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/carreto/dispatch/internal/config"
	"github.com/carreto/dispatch/internal/handler"
	"github.com/carreto/dispatch/internal/middleware"
	"github.com/carreto/dispatch/internal/payments"
	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/newrelic/go-agent/v3/newrelic"
	"github.com/spf13/cobra"
)

func newServeCmd(rt *runtime) *cobra.Command {
	var seedDemo bool
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP API and the timeout supervisor",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()
			return serve(ctx, rt, seedDemo)
		},
	}
	cmd.Flags().BoolVar(&seedDemo, "seed", false, "seed demo data on start (memory store only)")
	return cmd
}

func serve(ctx context.Context, rt *runtime, seedDemo bool) error {
	cfg, logger := rt.cfg, rt.logger

	a, err := newApp(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer a.Close()

	if seedDemo {
		if cfg.StoreDriver != config.StoreDriverMemory {
			return errors.New("--seed only applies to the memory store; use `carreto seed` for postgres")
		}
		if err := seed(ctx, a, defaultSeedOptions()); err != nil {
			return err
		}
	}

	nrApp := newRelicApp(rt)
	if nrApp != nil {
		defer nrApp.Shutdown(10 * time.Second)
	}

	go a.supervisor.Run(ctx)

	srv := &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           newRouter(a, nrApp),
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       15 * time.Second,
		// No WriteTimeout: the SSE and WebSocket streams stay open.
		IdleTimeout: 60 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("server starting", "port", cfg.Port, "store", cfg.StoreDriver, "env", cfg.Env)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if !errors.Is(err, http.ErrServerClosed) {
			return err
		}
	case <-ctx.Done():
		logger.Info("shutting down server")
		shutdownCtx, cancel := shutdownContext()
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			logger.Error("server shutdown error", "error", err)
		}
	}

	logger.Info("server stopped gracefully")
	return nil
}

func newRouter(a *app, nrApp *newrelic.Application) http.Handler {
	cfg, logger := a.cfg, a.logger
	stripe := payments.NewStripeClient(cfg.StripeAPIKey, cfg.StripeWebhookSecret, cfg.StripeCurrency)

	var counter middleware.WindowCounter = middleware.NewMemoryCounter(nil)
	checks := map[string]handler.Pinger{}
	idempotency := middleware.NewIdempotencyMiddleware(nil, logger)
	if a.redis != nil {
		counter = middleware.NewRedisCounter(a.redis.Client)
		idempotency = middleware.NewIdempotencyMiddleware(a.redis.Client, logger)
		checks["redis"] = a.redis.Health
	}
	rateLimiter := middleware.NewRateLimiter(counter, cfg.RateLimitPerMinute, time.Minute, logger)

	r := chi.NewRouter()
	r.Use(chimw.RequestID)
	r.Use(middleware.Recovery(logger))
	r.Use(middleware.Logger(logger))
	r.Use(middleware.NewRelic(nrApp))
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   []string{"*"},
		AllowedMethods:   []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type", middleware.IdempotencyHeader},
		ExposedHeaders:   []string{"X-RateLimit-Limit", "X-RateLimit-Remaining", "Retry-After"},
		AllowCredentials: false,
		MaxAge:           300,
	}))

	handler.NewHealthHandler(a.store, checks).RegisterRoutes(r)
	handler.NewWebhookHandler(a.wallet, stripe, logger).RegisterRoutes(r)

	r.Route("/v1", func(r chi.Router) {
		r.Use(rateLimiter.Handler)
		r.Use(idempotency.Handler)

		handler.NewRideHandler(a.rides, a.dispatch).RegisterRoutes(r)
		handler.NewCounterHandler(a.negotiation).RegisterRoutes(r)
		handler.NewDriverHandler(a.drivers, a.rides).RegisterRoutes(r)
		handler.NewWalletHandler(a.wallet, a.drivers, stripe).RegisterRoutes(r)
		handler.NewSSEHandler(a.rides, a.sub, logger).RegisterRoutes(r)
		handler.NewFeedHandler(a.dispatch, a.sub, cfg.FeedInterval, logger).RegisterRoutes(r)
	})

	return r
}

// newRelicApp is optional: a missing key or a failed start only disables APM.
func newRelicApp(rt *runtime) *newrelic.Application {
	cfg, logger := rt.cfg, rt.logger
	if !cfg.NewRelicEnabled || cfg.NewRelicLicenseKey == "" {
		return nil
	}
	nrApp, err := newrelic.NewApplication(
		newrelic.ConfigAppName(cfg.NewRelicAppName),
		newrelic.ConfigLicense(cfg.NewRelicLicenseKey),
		newrelic.ConfigDistributedTracerEnabled(true),
		newrelic.ConfigAppLogForwardingEnabled(true),
		newrelic.ConfigInfoLogger(os.Stdout),
	)
	if err != nil {
		logger.Warn("new relic disabled", "error", err)
		return nil
	}
	if err := nrApp.WaitForConnection(10 * time.Second); err != nil {
		logger.Warn("new relic connection timeout", "error", err)
	}
	return nrApp
}
