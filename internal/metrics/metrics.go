// Package metrics declares the Prometheus collectors shared by both binaries.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	HTTPRequests = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "akiba_http_requests_total",
		Help: "Total HTTP requests",
	}, []string{"method", "endpoint", "status"})

	HTTPLatency = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "akiba_http_request_duration_seconds",
		Help:    "HTTP request latency",
		Buckets: []float64{0.005, 0.01, 0.05, 0.1, 0.5, 1},
	}, []string{"method", "endpoint"})

	Reconciliations = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "akiba_reconcile_total",
		Help: "Reconciliation attempts by outcome",
	}, []string{"outcome"})

	GatewayLatency = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "akiba_gateway_request_duration_seconds",
		Help:    "Payment gateway status query latency",
		Buckets: prometheus.DefBuckets,
	}, []string{"result"})

	LedgerAppends = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "akiba_ledger_appends_total",
		Help: "Ledger append attempts by source and result",
	}, []string{"source", "result"})

	EventsPublished = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "akiba_events_published_total",
		Help: "Domain events published to the broker",
	}, []string{"type", "result"})

	Notifications = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "akiba_notifications_total",
		Help: "SMS notifications by result",
	}, []string{"result"})
)

// Outcome label values.
const (
	ResultOK        = "ok"
	ResultError     = "error"
	ResultDuplicate = "duplicate"
	ResultTimeout   = "timeout"
)
