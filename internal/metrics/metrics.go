// Package metrics holds the gateway's Prometheus instruments.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// RequestsTotal counts API requests by route and outcome.
	RequestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "modelgate_requests_total",
		Help: "API requests by route and status code.",
	}, []string{"route", "status"})

	// UpstreamErrors counts normalized provider failures.
	UpstreamErrors = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "modelgate_upstream_errors_total",
		Help: "Provider errors by provider and retryability.",
	}, []string{"provider", "retryable"})

	// StreamsFinished counts streaming requests by terminal state.
	StreamsFinished = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "modelgate_streams_finished_total",
		Help: "Streaming requests by terminal state (completed, cancelled, errored).",
	}, []string{"state"})

	// RequestDuration observes end-to-end request latency.
	RequestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "modelgate_request_duration_seconds",
		Help:    "End-to-end request latency by route.",
		Buckets: prometheus.DefBuckets,
	}, []string{"route"})
)
