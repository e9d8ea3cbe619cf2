package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// RequestsTotal counts the number of requests served by the route
	// handlers.
	//
	// Example usage:
	// metrics.RequestsTotal.WithLabelValues("chat", "success", "OK").Inc()
	RequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "greenlens_requests_total",
			Help: "Number of requests served by the greenlens service.",
		},
		[]string{"type", "condition", "status"},
	)

	// AuthenticationsTotal counts authentication gate decisions by mode
	// (verified, fallback, none) and outcome (admitted or the rejection
	// reason).
	//
	// Example usage:
	// metrics.AuthenticationsTotal.WithLabelValues("fallback", "admitted").Inc()
	AuthenticationsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "greenlens_authentications_total",
			Help: "Number of authentication decisions made by the gate.",
		},
		[]string{"mode", "outcome"},
	)

	// FallbackAuthenticationsTotal counts every request authenticated without
	// cryptographic verification. Any increase means the credential verifier
	// is not configured.
	FallbackAuthenticationsTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "greenlens_fallback_authentications_total",
			Help: "Number of requests handled by the unverified fallback path.",
		},
	)

	// VerifierReady is 1 when the credential verifier initialized
	// successfully and 0 otherwise.
	VerifierReady = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "greenlens_verifier_ready",
			Help: "Whether the credential verifier is ready (1) or not (0).",
		},
	)

	// JWKSFetchTotal counts the number of signing key set downloads by status.
	JWKSFetchTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "greenlens_jwks_fetch_total",
			Help: "Number of JWKS downloads made by the credential verifier.",
		},
		[]string{"status"},
	)

	// UserStoreRequestDuration is a histogram that tracks the latency of
	// requests to the user store.
	UserStoreRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name: "greenlens_user_store_request_duration_seconds",
			Help: "A histogram of request latency to the user store.",
			Buckets: []float64{.001, .0025, .005, .01, .025, .05, .1, .25, .5, 1,
				2.5, 5, 10},
		},
		[]string{"type", "status"},
	)

	// ChatRequestDuration is a histogram that tracks the latency of requests
	// to the generative-AI API.
	ChatRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "greenlens_chat_request_duration_seconds",
			Help:    "A histogram of request latency to the generative-AI API.",
			Buckets: prometheus.ExponentialBuckets(0.1, 2, 10),
		},
		[]string{"status"},
	)

	// RequestHandlerDuration is a histogram that tracks the latency of each
	// request handler.
	RequestHandlerDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name: "greenlens_request_handler_duration_seconds",
			Help: "A histogram of latencies for each request handler.",
		},
		[]string{"path", "code"},
	)
)
