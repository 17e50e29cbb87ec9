package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"time"

	"akiba/internal/cli"
	apphttp "akiba/internal/http"
	"akiba/internal/log"
	"akiba/internal/services"
	"akiba/internal/worker"
)

func main() {
	// Load .env file for local development (ignore errors in production/docker)
	cli.LoadEnvFile()

	logger := cli.SetupLogger(log.ComponentApp)
	logger.Info("Starting akiba")

	cfg := cli.LoadAndValidateConfig(logger)

	ctx, cancel := cli.SignalContext(logger)
	defer cancel()

	backend := cli.OpenStore(ctx, logger, cfg)
	defer func() {
		if err := backend.Cleanup(); err != nil {
			logger.Error("Failed to close store", log.FieldError, err)
		}
	}()

	// Events are optional; a nil interface skips publishing.
	var events services.Events
	if broker := cli.OpenBroker(logger, cfg); broker != nil {
		defer broker.Close()
		events = broker
	}

	gateway, err := cli.NewGateway(cfg)
	if err != nil {
		logger.Error("Failed to initialize MoMo client", log.FieldError, err)
		os.Exit(1)
	}

	subscriber := cli.OpenSummarySubscriber(logger, cfg)
	if size := cli.ServerSummaryCacheSize(cfg, subscriber != nil); size != cfg.SummaryCacheSize {
		logger.Warn("Summary cache disabled, no saving event subscription", "backend", cfg.DataBackend)
		cfg.SummaryCacheSize = size
	}

	svc := cli.BuildServices(cfg, backend.Store, events, gateway)
	if svc.Janitor != nil {
		go svc.Janitor.Run(ctx, time.Minute)
	}
	if subscriber != nil {
		defer subscriber.Close()
		go func() {
			if err := subscriber.Consume(ctx, worker.NewSummaryInvalidator(svc.Insights)); err != nil && !errors.Is(err, context.Canceled) {
				logger.Error("Saving event subscription stopped", log.FieldError, err)
			}
		}()
	}

	srv, err := apphttp.NewServer(":"+cfg.Port, apphttp.Deps{
		TopUps:     svc.TopUps,
		Ledger:     svc.Ledger,
		Reconciler: svc.Reconciler,
		Insights:   svc.Insights,
		Store:      backend.Store,
	}, apphttp.Options{
		RateLimitPerMinute: cfg.RateLimitPerMinute,
		TrustedProxies:     cfg.TrustedProxies,
		CallbackTimeout:    cfg.GatewayTimeout + 5*time.Second,
		Logger:             logger.WithComponent(log.ComponentHTTP),
	})
	if err != nil {
		logger.Error("Failed to configure HTTP server", log.FieldError, err)
		os.Exit(1)
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer shutdownCancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			logger.Error("Server shutdown error", log.FieldError, err)
		}
	}()

	logger.Info("Starting akiba server", "port", cfg.Port, "backend", cfg.DataBackend, "events", events != nil)
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		logger.Error("Server error", log.FieldError, err, "port", cfg.Port)
		cancel()
		os.Exit(1)
	}

	logger.Info("Server stopped gracefully")
}
