package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"

	"acuity-passkit-bridge/internal/activitylog"
	"acuity-passkit-bridge/internal/acuity"
	"acuity-passkit-bridge/internal/config"
	"acuity-passkit-bridge/internal/features"
	"acuity-passkit-bridge/internal/handler"
	"acuity-passkit-bridge/internal/httpx"
	"acuity-passkit-bridge/internal/mapping"
	"acuity-passkit-bridge/internal/passkit"
	"acuity-passkit-bridge/internal/reconcile"
	"acuity-passkit-bridge/internal/store"
	"acuity-passkit-bridge/internal/tracing"
)

// app is the fully wired process.
type app struct {
	cfg     *config.Config
	logger  *slog.Logger
	holder  *store.Holder
	flags   *features.Manager
	audit   *activitylog.Sink
	acuity  *acuity.Client
	passkit *passkit.Client
	engine  *reconcile.Engine
}

func newApp(configFile string) (*app, error) {
	cfg, err := config.LoadConfig(configFile)
	if err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	logger := config.NewLogger(cfg.Log, os.Stderr)
	slog.SetDefault(logger)

	tracer, err := tracing.InitTracing(cfg.Tracing)
	if err != nil {
		return nil, err
	}

	holder := store.FromConfig(cfg.Store, logger)
	audit := activitylog.New(holder, logger)

	acuityClient := acuity.NewClient(cfg.Acuity, httpx.Client())
	passkitClient := passkit.NewClient(cfg.PassKit, httpx.Client())
	resolver := passkit.NewResolver(passkitClient, cfg.PassKit.ProgramID, logger)

	engine := reconcile.NewEngine(acuityClient, passkitClient, resolver, mapping.New(holder), audit, reconcile.Options{
		ProgramID:     cfg.PassKit.ProgramID,
		ProductFilter: cfg.Membership.ProductFilter,
		Tracer:        tracer,
		Logger:        logger,
	})

	return &app{
		cfg:     cfg,
		logger:  logger,
		holder:  holder,
		flags:   features.NewDefaultManager(holder, logger, cfg.Webhooks.Enabled),
		audit:   audit,
		acuity:  acuityClient,
		passkit: passkitClient,
		engine:  engine,
	}, nil
}

func (a *app) handler() *handler.Handler {
	return handler.New(handler.Deps{
		Engine:  a.engine,
		Flags:   a.flags,
		Audit:   a.audit,
		Store:   a.holder,
		Acuity:  a.acuity,
		PassKit: a.passkit,
	}, handler.Options{
		MaxBodySize:     a.cfg.Server.MaxRequestBodySize,
		WebhookSecret:   a.cfg.WebhookSecret(),
		WebhooksDefault: a.cfg.Webhooks.Enabled,
		ProductFilter:   a.cfg.Membership.ProductFilter,
	})
}

func (a *app) close(ctx context.Context) {
	if err := tracing.Shutdown(ctx); err != nil {
		a.logger.Warn("tracer shutdown failed", "error", err)
	}
	if err := a.holder.Close(); err != nil {
		a.logger.Warn("store close failed", "error", err)
	}
}
