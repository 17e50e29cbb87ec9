package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"time"

	"akiba/internal/cli"
	"akiba/internal/lock"
	"akiba/internal/log"
	"akiba/internal/notify"
	"akiba/internal/services"
	ports "akiba/internal/sheets"
	gsheet "akiba/internal/sheets/google"
	"akiba/internal/worker"

	"golang.org/x/sync/errgroup"
)

func main() {
	// Load .env file for local development (ignore errors in production/docker)
	cli.LoadEnvFile()

	logger := cli.SetupLogger(log.ComponentWorker)
	logger.Info("Starting akiba-worker")

	cfg := cli.LoadAndValidateConfig(logger)

	ctx, cancel := cli.SignalContext(logger)
	defer cancel()

	backend := cli.OpenStore(ctx, logger, cfg)
	defer func() {
		if err := backend.Cleanup(); err != nil {
			logger.Error("Failed to close store", log.FieldError, err)
		}
	}()
	if err := backend.Store.Ping(ctx); err != nil {
		logger.Error("Store is not reachable", log.FieldError, err)
		os.Exit(1)
	}

	broker := cli.OpenBroker(logger, cfg)
	var events services.Events
	if broker != nil {
		defer broker.Close()
		events = broker
	}

	gateway, err := cli.NewGateway(cfg)
	if err != nil {
		logger.Error("Failed to initialize MoMo client", log.FieldError, err)
		os.Exit(1)
	}
	svc := cli.BuildServices(cfg, backend.Store, events, gateway)

	// Several worker replicas share the pending list through Redis locks.
	var locker lock.Locker = lock.NoopLocker{}
	if cfg.RedisURL != "" {
		rl, err := lock.NewRedisLocker(ctx, cfg.RedisURL, "akiba:reconcile:")
		if err != nil {
			logger.Error("Failed to connect to Redis", log.FieldError, err)
			os.Exit(1)
		}
		defer rl.Close()
		locker = rl
		logger.Info("Redis locking enabled")
	}
	if cfg.DataBackend == "memory" {
		logger.Warn("Memory backend in a separate worker process sees no top-ups from the server")
	}

	processor := worker.NewReconcileProcessor(svc.TopUps, svc.Reconciler, locker, cli.ReconcileProcessorConfig(cfg))

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		if err := processor.Start(gctx); err != nil {
			return err
		}
		<-gctx.Done()
		stopCtx, stopCancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer stopCancel()
		return processor.Stop(stopCtx)
	})

	if broker != nil {
		handler := worker.NewEventWorker(newSMSSender(logger, cfg.SMSFunctionURL, cfg.SMSFunctionToken), newMirror(ctx, logger, cfg.GoogleSpreadsheetID, cfg.GoogleSheetName))
		g.Go(func() error {
			if err := broker.Consume(gctx, handler); err != nil && !errors.Is(err, context.Canceled) {
				return err
			}
			return nil
		})
	} else {
		logger.Info("Skipping event consumption, no broker available")
	}

	if err := g.Wait(); err != nil {
		logger.Error("Worker stopped with error", log.FieldError, err)
		os.Exit(1)
	}
	logger.Info("Worker shutdown complete")
}

// newSMSSender returns nil when SMS notifications are not configured.
func newSMSSender(logger *log.Logger, url, token string) notify.Sender {
	if url == "" {
		logger.Info("SMS notifications disabled, no SMS_FUNCTION_URL provided")
		return nil
	}
	c, err := notify.NewSMSClient(url, token, &http.Client{Timeout: 10 * time.Second})
	if err != nil {
		logger.Error("Failed to initialize SMS client", log.FieldError, err)
		os.Exit(1)
	}
	return c
}

// newMirror returns nil when the spreadsheet mirror is not configured.
func newMirror(ctx context.Context, logger *log.Logger, spreadsheetID, sheetName string) ports.LedgerMirror {
	if spreadsheetID == "" {
		logger.Info("Google Sheets mirror disabled, no GOOGLE_SPREADSHEET_ID provided")
		return nil
	}
	c, err := gsheet.New(ctx, gsheet.Config{SpreadsheetID: spreadsheetID, SheetName: sheetName})
	if err != nil {
		logger.Error("Failed to initialize Google Sheets client", log.FieldError, err)
		os.Exit(1)
	}
	logger.Info("Google Sheets mirror enabled", "spreadsheet_id", spreadsheetID)
	return c
}
