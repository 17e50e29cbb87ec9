package http

import (
	"context"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"akiba/internal/core"
	"akiba/internal/log"
	"akiba/internal/middleware/ratelimit"
	"akiba/internal/middleware/security"
	"akiba/internal/middleware/trace"
	"akiba/internal/services"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/shopspring/decimal"
)

// Collaborators of the handlers. *services.TopUps, *services.Ledger,
// *services.Reconciler and *services.Insights satisfy them.
type (
	TopUpService interface {
		Create(ctx context.Context, in services.NewTopUp) (core.TopUpRequest, error)
		Get(ctx context.Context, reference string) (core.TopUpRequest, error)
	}

	LedgerService interface {
		AppendManual(ctx context.Context, userID, goalID string, amount decimal.Decimal) (core.LedgerEntry, error)
		List(ctx context.Context, userID string, f core.SavingsFilter) ([]core.LedgerEntry, error)
	}

	StatusReconciler interface {
		Reconcile(ctx context.Context, reference string) (services.ReconcileResult, error)
	}

	InsightsService interface {
		Summary(ctx context.Context, userID string) (core.SavingsSummary, error)
		GoalProgress(ctx context.Context, userID string, goals []core.SavingsGoal) ([]core.GoalProgress, error)
	}

	Pinger interface {
		Ping(ctx context.Context) error
	}
)

// Deps are the services behind the routes.
type Deps struct {
	TopUps     TopUpService
	Ledger     LedgerService
	Reconciler StatusReconciler
	Insights   InsightsService
	Store      Pinger // readiness probe, optional
}

// Options tune the transport.
type Options struct {
	// RateLimitPerMinute caps write requests per client IP (default: 60)
	RateLimitPerMinute int

	// TrustedProxies may set X-Forwarded-For (default: loopback and private ranges)
	TrustedProxies []string

	// CallbackTimeout bounds the gateway re-query behind a callback (default: 15s)
	CallbackTimeout time.Duration

	Logger *log.Logger
}

type Server struct {
	http.Server
	deps            Deps
	clientIP        *security.ClientIP
	limiter         *ratelimit.Limiter
	callbackTimeout time.Duration
	shutdownOnce    sync.Once
}

// NewServer configures routes and middleware, returning a ready-to-run http.Server.
func NewServer(addr string, deps Deps, opts Options) (*Server, error) {
	clientIP, err := security.NewClientIP(opts.TrustedProxies)
	if err != nil {
		return nil, err
	}
	if opts.CallbackTimeout <= 0 {
		opts.CallbackTimeout = 15 * time.Second
	}
	logger := opts.Logger
	if logger == nil {
		logger = log.New(log.Config{Handler: slog.Default().Handler(), Component: log.ComponentHTTP})
	}

	s := &Server{
		deps:            deps,
		clientIP:        clientIP,
		limiter:         ratelimit.NewLimiter(ratelimit.Config{RequestsPerMinute: opts.RateLimitPerMinute}),
		callbackTimeout: opts.CallbackTimeout,
	}

	r := mux.NewRouter()
	r.Use(trace.NewMiddleware(clientIP.Extract).Middleware)
	r.Use(log.Middleware(logger, trace.RequestIDFromRequest))
	r.Use(security.NewHeadersMiddleware(security.DefaultHeadersConfig()).Middleware)
	r.NotFoundHandler = http.HandlerFunc(handleNotFound)
	r.MethodNotAllowedHandler = http.HandlerFunc(handleMethodNotAllowed)

	r.Handle("/metrics", promhttp.Handler()).Methods(http.MethodGet)
	r.HandleFunc("/health", handleHealth).Methods(http.MethodGet)
	r.HandleFunc("/ready", s.handleReady).Methods(http.MethodGet)

	api := r.PathPrefix("/api/v1").Subrouter()
	api.HandleFunc("/topups", s.limited(s.handleCreateTopUp)).Methods(http.MethodPost)
	api.HandleFunc("/topups/{reference}", s.handleGetTopUp).Methods(http.MethodGet)
	api.HandleFunc("/momo/callback/{reference}", s.limited(s.handleCallback)).Methods(http.MethodPost, http.MethodPut)
	api.HandleFunc("/users/{user_id}/savings", s.handleListSavings).Methods(http.MethodGet)
	api.HandleFunc("/users/{user_id}/savings", s.limited(s.handleCreateSaving)).Methods(http.MethodPost)
	api.HandleFunc("/users/{user_id}/savings/summary", s.handleSummary).Methods(http.MethodGet)
	api.HandleFunc("/users/{user_id}/savings/progress", s.limited(s.handleGoalProgress)).Methods(http.MethodPost)

	s.Server = http.Server{
		Addr:              addr,
		Handler:           r,
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       30 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       120 * time.Second,
	}
	return s, nil
}

// Shutdown gracefully shuts down the server and the rate limiter cleanup.
func (s *Server) Shutdown(ctx context.Context) error {
	var shutdownErr error
	s.shutdownOnce.Do(func() {
		s.limiter.Stop()
		shutdownErr = s.Server.Shutdown(ctx)
	})
	return shutdownErr
}

// limited applies the per-client write rate limit.
func (s *Server) limited(next http.HandlerFunc) http.HandlerFunc {
	return s.limiter.Middleware(s.clientIP.Extract, handleRateLimited)(next).ServeHTTP
}

func handleNotFound(w http.ResponseWriter, _ *http.Request) {
	NotFoundError("no such route").Write(w)
}

func handleMethodNotAllowed(w http.ResponseWriter, _ *http.Request) {
	ErrorResponse(http.StatusMethodNotAllowed, CodeMethodNotAllowed, "method not allowed").Write(w)
}

func handleRateLimited(w http.ResponseWriter, r *http.Request) {
	slog.WarnContext(r.Context(), "Rate limit exceeded", log.FieldMethod, r.Method, log.FieldPath, r.URL.Path)
	ErrorResponse(http.StatusTooManyRequests, CodeRateLimited, "rate limit exceeded, try again later").Write(w)
}
