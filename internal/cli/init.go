// Package cli provides common initialization shared by cmd/akiba and
// cmd/akiba-worker.
package cli

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"akiba/internal/amqp"
	"akiba/internal/backend"
	"akiba/internal/cache"
	"akiba/internal/config"
	"akiba/internal/core"
	"akiba/internal/log"
	"akiba/internal/momo"
	"akiba/internal/services"
	"akiba/internal/store"
	"akiba/internal/worker"

	"github.com/joho/godotenv"
)

// LoadEnvFile loads the .env file for local development.
// Errors are ignored silently as this is optional in production.
func LoadEnvFile() {
	_ = godotenv.Load()
}

// SetupLogger initializes structured logging at LOG_LEVEL and installs it
// as the default logger.
func SetupLogger(component string) *log.Logger {
	logger := log.New(log.Config{
		Level:     log.ParseLevel(os.Getenv("LOG_LEVEL")),
		Component: component,
	})
	log.SetDefault(logger)
	return logger
}

// LoadAndValidateConfig loads configuration and validates it.
// Returns the config or exits the process on validation failure.
func LoadAndValidateConfig(logger *log.Logger) *config.Config {
	cfg := config.Load()
	if err := cfg.Validate(); err != nil {
		logger.Error("Configuration validation failed", log.FieldError, err)
		os.Exit(1)
	}
	return cfg
}

// OpenStore opens the configured backend or exits the process on failure.
func OpenStore(ctx context.Context, logger *log.Logger, cfg *config.Config) *backend.BackendResult {
	bcfg, err := backend.FromAppConfig(cfg)
	if err != nil {
		logger.Error("Invalid backend configuration", log.FieldError, err)
		os.Exit(1)
	}
	res, err := backend.NewFactory(logger).CreateBackend(ctx, bcfg)
	if err != nil {
		logger.Error("Failed to open store", log.FieldError, err, "backend", cfg.DataBackend)
		os.Exit(1)
	}
	return res
}

// OpenBroker connects to AMQP when AMQP_URL is set. It returns nil when
// the broker is not configured or unreachable; events are best-effort.
func OpenBroker(logger *log.Logger, cfg *config.Config) *amqp.Client {
	if cfg.AMQPURL == "" {
		logger.Info("AMQP disabled, no AMQP_URL provided")
		return nil
	}
	client, err := amqp.NewClient(cfg.AMQPURL, cfg.AMQPExchange, cfg.AMQPQueue)
	if err != nil {
		logger.Warn("Failed to initialize AMQP client, continuing without events", log.FieldError, err)
		return nil
	}
	logger.Info("Initialized AMQP client",
		"exchange", cfg.AMQPExchange,
		"queue", cfg.AMQPQueue)
	return client
}

// OpenSummarySubscriber binds a queue private to this process to the
// saving.recorded events, so savings written by the worker evict the API's
// cached summaries. It returns nil when the broker is not configured or
// unreachable.
func OpenSummarySubscriber(logger *log.Logger, cfg *config.Config) *amqp.Client {
	if cfg.AMQPURL == "" {
		return nil
	}
	client, err := amqp.NewSubscriber(cfg.AMQPURL, cfg.AMQPExchange, amqp.TypeSavingRecorded)
	if err != nil {
		logger.Warn("Failed to subscribe to saving events", log.FieldError, err)
		return nil
	}
	logger.Info("Subscribed to saving events", "exchange", cfg.AMQPExchange)
	return client
}

// ServerSummaryCacheSize is the summary cache size for the API process. A
// durable store is also written by the worker, so caching there needs the
// saving.recorded subscription to stay coherent.
func ServerSummaryCacheSize(cfg *config.Config, subscribed bool) int {
	if subscribed || cfg.DataBackend == "memory" {
		return cfg.SummaryCacheSize
	}
	return 0
}

// NewGateway builds the MoMo collection client with the gateway timeout
// applied to every HTTP call.
func NewGateway(cfg *config.Config) (*momo.Client, error) {
	return momo.NewClient(momo.Config{
		BaseURL:           cfg.MomoBaseURL,
		SubscriptionKey:   cfg.MomoSubscriptionKey,
		APIUser:           cfg.MomoAPIUser,
		APIKey:            cfg.MomoAPIKey,
		TargetEnvironment: cfg.MomoTargetEnvironment,
		HTTPClient:        &http.Client{Timeout: cfg.GatewayTimeout},
	})
}

// Services is the service graph shared by both binaries.
type Services struct {
	Ledger     *services.Ledger
	TopUps     *services.TopUps
	Reconciler *services.Reconciler
	Insights   *services.Insights

	// Janitor sweeps the summary cache; nil when caching is disabled.
	Janitor *cache.Janitor
}

// BuildServices wires the services over st. events and gateway may be nil.
func BuildServices(cfg *config.Config, st store.Repository, events services.Events, gateway services.Gateway) *Services {
	ledger := services.NewLedger(st, events)
	topups := services.NewTopUps(st, ledger, events, cfg.DefaultPhoneRegion)

	var (
		summaries cache.Cache[core.SavingsSummary]
		janitor   *cache.Janitor
	)
	if cfg.SummaryCacheSize > 0 {
		lru := cache.NewLRUCache[core.SavingsSummary](cfg.SummaryCacheSize, cfg.SummaryCacheTTL)
		summaries = lru
		janitor = cache.NewJanitor(lru)
	}

	svc := &Services{
		Ledger:   ledger,
		TopUps:   topups,
		Insights: services.NewInsights(ledger, summaries),
		Janitor:  janitor,
	}
	if gateway != nil {
		svc.Reconciler = services.NewReconciler(gateway, topups, ReconcilerConfig(cfg))
	}
	return svc
}

func ReconcilerConfig(cfg *config.Config) services.ReconcilerConfig {
	return services.ReconcilerConfig{
		Timeout:     cfg.GatewayTimeout,
		MaxAttempts: cfg.ReconcileMaxAttempts,
		BackoffBase: cfg.ReconcileBackoffBase,
		BackoffMax:  cfg.ReconcileBackoffMax,
	}
}

func ReconcileProcessorConfig(cfg *config.Config) worker.ReconcileProcessorConfig {
	c := worker.DefaultReconcileProcessorConfig()
	c.PollInterval = cfg.ReconcileInterval
	c.BatchSize = cfg.ReconcileBatchSize
	c.MinAge = cfg.ReconcileMinAge
	return c
}

// SignalContext returns a context cancelled on SIGINT or SIGTERM.
func SignalContext(logger *log.Logger) (context.Context, context.CancelFunc) {
	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		sigChan := make(chan os.Signal, 1)
		signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
		defer signal.Stop(sigChan)
		select {
		case sig := <-sigChan:
			logger.Info("Shutdown signal received", "signal", sig.String())
			cancel()
		case <-ctx.Done():
		}
	}()
	return ctx, cancel
}
