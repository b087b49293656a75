// Package metrics declares the Prometheus collectors exported on /metrics.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	HTTPRequestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "settlement_http_requests_total",
		Help: "Total HTTP requests processed, labeled by route and status code",
	}, []string{"method", "route", "status"})

	HTTPRequestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "settlement_http_request_duration_seconds",
		Help:    "Latency distribution of HTTP requests",
		Buckets: []float64{0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5},
	}, []string{"method", "route"})

	IntentsCreated = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "settlement_intents_created_total",
		Help: "Payment intents created, labeled by gateway, purpose and resulting status",
	}, []string{"gateway", "purpose", "status"})

	WebhooksReceived = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "settlement_webhooks_total",
		Help: "Inbound gateway callbacks, labeled by gateway, verification and outcome",
	}, []string{"gateway", "verification", "outcome"})

	Commits = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "settlement_commits_total",
		Help: "Ledger commit attempts, labeled by source and result",
	}, []string{"source", "result"})

	GatewayCallDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "settlement_gateway_call_duration_seconds",
		Help:    "Latency of provider API calls",
		Buckets: prometheus.DefBuckets,
	}, []string{"gateway", "op", "outcome"})

	SweepProcessed = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "settlement_sweep_intents_total",
		Help: "Intents examined by the stale sweep, labeled by result",
	}, []string{"result"})

	OutboxDispatched = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "settlement_outbox_dispatched_total",
		Help: "Outbox events handed to the task queue, labeled by event type and result",
	}, []string{"type", "result"})
)
