package main

import (
	"context"
	"errors"
	"net"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/spf13/cobra"

	"acuity-passkit-bridge/internal/middleware"
)

const shutdownTimeout = 10 * time.Second

func serveCmd(configFile *string) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the webhook receiver and operator API",
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := newApp(*configFile)
			if err != nil {
				return err
			}
			return a.serve(cmd.Context())
		},
	}
}

func (a *app) serve(ctx context.Context) error {
	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	r := chi.NewRouter()

	// Middleware (order matters)
	r.Use(chimw.RequestID)
	r.Use(chimw.RealIP)
	r.Use(chimw.Recoverer)
	r.Use(middleware.TracingMiddleware(a.cfg.Tracing.ServiceName))
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   strings.Split(a.cfg.Server.AllowedOrigins, ","),
		AllowedMethods:   []string{"GET", "POST", "PUT", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type", "X-Acuity-Signature"},
		ExposedHeaders:   []string{"X-RateLimit-Limit", "X-RateLimit-Remaining"},
		AllowCredentials: false,
		MaxAge:           300,
	}))

	var apiMiddleware []func(http.Handler) http.Handler
	if a.cfg.RateLimit.Enabled {
		limiter := middleware.NewRateLimiter(a.cfg.RateLimit.Rate, time.Duration(a.cfg.RateLimit.Window)*time.Second)
		defer limiter.Stop()
		apiMiddleware = append(apiMiddleware, middleware.RateLimitMiddleware(limiter))
	}

	a.handler().RegisterRoutes(r, apiMiddleware...)

	server := &http.Server{
		Addr:              net.JoinHostPort(a.cfg.Server.Host, a.cfg.Server.Port),
		Handler:           r,
		ReadHeaderTimeout: 10 * time.Second,
	}

	a.logger.Info("starting server",
		"addr", server.Addr,
		"store", a.holder.Backend(),
		"acuity_configured", a.acuity.Configured(),
		"passkit_configured", a.passkit.Configured(),
		"webhooks_enabled", a.cfg.Webhooks.Enabled,
	)

	errCh := make(chan error, 1)
	go func() {
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		a.close(context.Background())
		return err
	case <-ctx.Done():
	}

	a.logger.Info("shutting down server")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	err := server.Shutdown(shutdownCtx)
	a.close(shutdownCtx)
	return err
}
